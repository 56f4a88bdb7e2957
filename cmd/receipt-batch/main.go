package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/poller"
)

// receipt-batch drives the HTTP API: it triggers every pending job for an
// owner and polls each one to a terminal state. Exits non-zero when any
// job ends failed, so it can anchor a cron or CI step.
func main() {
	var (
		baseURL  = flag.String("base-url", envOr("RECEIPTS_BATCH_URL", "http://localhost:8080"), "receiptd base URL")
		ownerRaw = flag.String("owner", os.Getenv("RECEIPTS_BATCH_OWNER"), "owner id (uuid)")
		timeout  = flag.Duration("timeout", 4*time.Minute, "poll budget per job")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	ownerID, err := uuid.Parse(*ownerRaw)
	if err != nil {
		logger.Fatal("owner must be a uuid", zap.String("owner", *ownerRaw))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &apiClient{baseURL: *baseURL, ownerID: ownerID, http: &http.Client{Timeout: 30 * time.Second}}

	pending, err := client.listJobs(ctx, "pending")
	if err != nil {
		logger.Fatal("list pending jobs", zap.Error(err))
	}
	if len(pending) == 0 {
		logger.Info("no pending jobs")
		return
	}
	logger.Info("dispatching", zap.Int("jobs", len(pending)))

	failures := 0
	for _, jobID := range pending {
		if err := client.process(ctx, jobID); err != nil {
			logger.Error("trigger failed", zap.String("job_id", jobID.String()), zap.Error(err))
			failures++
			continue
		}

		_, err := poller.Wait(ctx, jobID, client.status,
			poller.WithTimeout(*timeout),
		)
		switch {
		case err == nil:
			logger.Info("job processed", zap.String("job_id", jobID.String()))
		case errors.Is(err, poller.ErrPollTimeout):
			logger.Error("poll timed out", zap.String("job_id", jobID.String()))
			failures++
		default:
			var failed *poller.JobFailedError
			if errors.As(err, &failed) {
				logger.Error("job failed",
					zap.String("job_id", jobID.String()),
					zap.String("detail", failed.Detail),
				)
			} else {
				logger.Error("poll error", zap.String("job_id", jobID.String()), zap.Error(err))
			}
			failures++
		}
	}

	if failures > 0 {
		logger.Error("batch finished with failures", zap.Int("failed", failures), zap.Int("total", len(pending)))
		os.Exit(1)
	}
	logger.Info("batch complete", zap.Int("jobs", len(pending)))
}

type apiClient struct {
	baseURL string
	ownerID uuid.UUID
	http    *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Owner-ID", c.ownerID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) listJobs(ctx context.Context, state string) ([]uuid.UUID, error) {
	var out struct {
		Jobs []struct {
			JobID string `json:"job_id"`
		} `json:"jobs"`
	}
	if err := c.get(ctx, "/v1/jobs/?state="+state, &out); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		id, err := uuid.Parse(j.JobID)
		if err != nil {
			return nil, eris.Wrapf(err, "bad job id %q", j.JobID)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *apiClient) process(ctx context.Context, jobID uuid.UUID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/jobs/%s/process", c.baseURL, jobID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Owner-ID", c.ownerID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// 409 means the job is already running or terminal; polling will
	// still observe its outcome
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return eris.Errorf("process %s: status %d", jobID, resp.StatusCode)
	}
	return nil
}

func (c *apiClient) status(ctx context.Context, jobID uuid.UUID) (*poller.Status, error) {
	var out poller.Status
	if err := c.get(ctx, fmt.Sprintf("/v1/jobs/%s/status", jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
