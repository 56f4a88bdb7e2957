package poller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

const (
	defaultPollInitial       = 2 * time.Second
	defaultPollCap           = 10 * time.Second
	defaultPollTimeout       = 4 * time.Minute
	defaultMaxTransientFails = 3
)

// ErrPollTimeout is returned when the poll budget runs out before the job
// reaches a terminal state. It is distinct from a reported job failure.
var ErrPollTimeout = errors.New("poll budget exhausted")

// JobFailedError reports that the job itself ended in the failed state.
type JobFailedError struct {
	JobID  uuid.UUID
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Detail)
}

// Status is one observation of a job, as returned by the status endpoint.
type Status struct {
	JobID       uuid.UUID          `json:"job_id"`
	State       constants.JobState `json:"state"`
	Result      []entity.LineItem  `json:"result,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
}

// StatusFunc fetches the current status of a job. Implementations usually
// wrap an HTTP GET against the status endpoint.
type StatusFunc func(ctx context.Context, jobID uuid.UUID) (*Status, error)

// Option configures polling behavior.
type Option func(*config)

type config struct {
	initial           time.Duration
	cap               time.Duration
	timeout           time.Duration
	maxTransientFails int
}

func defaultConfig() config {
	return config{
		initial:           defaultPollInitial,
		cap:               defaultPollCap,
		timeout:           defaultPollTimeout,
		maxTransientFails: defaultMaxTransientFails,
	}
}

// WithInterval overrides the initial poll interval.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithIntervalCap overrides the maximum poll interval.
func WithIntervalCap(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cap = d
		}
	}
}

// WithTimeout overrides the total poll budget.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxTransientFailures sets how many consecutive failed status calls
// are tolerated before the poll loop gives up.
func WithMaxTransientFailures(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTransientFails = n
		}
	}
}

// Wait polls statusFn until the job terminates, the budget runs out, or
// too many consecutive status calls fail. Intervals double up to the cap
// with jitter. A processed job returns its final status; a failed job
// returns a *JobFailedError; an exhausted budget returns ErrPollTimeout.
func Wait(ctx context.Context, jobID uuid.UUID, statusFn StatusFunc, opts ...Option) (*Status, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	transientFails := 0
	for {
		status, err := statusFn(ctx, jobID)
		switch {
		case err == nil:
			transientFails = 0
			switch status.State {
			case constants.JobStateProcessed:
				return status, nil
			case constants.JobStateFailed:
				return status, &JobFailedError{JobID: jobID, Detail: status.ErrorDetail}
			}
		case ctx.Err() != nil:
			return nil, pollStopped(ctx)
		default:
			// tolerate transient network failures; a single blip must not
			// abandon the poll loop
			transientFails++
			if transientFails > cfg.maxTransientFails {
				return nil, eris.Wrapf(err, "poll job %s: %d consecutive status failures", jobID, transientFails)
			}
		}

		select {
		case <-ctx.Done():
			return nil, pollStopped(ctx)
		case <-time.After(interval):
		}

		// double, cap, then +/-20% jitter
		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
		jitter := time.Duration(rand.Int64N(int64(interval) / 5))
		if rand.IntN(2) == 0 {
			interval += jitter
		} else {
			interval -= jitter
		}
	}
}

// pollStopped maps a done context to the right error class. A caller
// cancellation is not a timeout and must not masquerade as one.
func pollStopped(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return eris.Wrap(context.Canceled, "poll cancelled")
	}
	return eris.Wrap(ErrPollTimeout, ctx.Err().Error())
}
