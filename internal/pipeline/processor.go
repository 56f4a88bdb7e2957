package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/blob"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/cache"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/extract"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pages"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
)

// errorDetail class prefixes. The status endpoint surfaces these short
// diagnostics; raw upstream payloads and credentials never reach them.
const (
	classUpstreamUnavailable = "upstream_unavailable"
	classUpstreamRateLimited = "upstream_rate_limited"
	classMalformedResponse   = "malformed_response"
	classStorageUnavailable  = "storage_unavailable"
	classInternal            = "internal"
)

// failureWriteBudget bounds the processing->failed write. It runs on its
// own context so an expired job context cannot strand the job.
const failureWriteBudget = 10 * time.Second

// Processor runs the asynchronous phase of one job: download, render,
// memoized extraction, terminal transition. Every failure path, panics
// included, funnels into a processing->failed write.
type Processor struct {
	jobs      repository.JobRepository
	blobs     blob.Store
	extractor extract.Extractor
	memo      cache.Store
	group     singleflight.Group
	log       *zap.Logger
}

func NewProcessor(jobs repository.JobRepository, blobs blob.Store, extractor extract.Extractor, memo cache.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		jobs:      jobs,
		blobs:     blobs,
		extractor: extractor,
		memo:      memo,
		log:       logger,
	}
}

// Process executes the asynchronous phase for a job already in the
// processing state. It never returns a job stuck in processing: any error
// or panic becomes a failed terminal write before Process returns.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline.process.panic",
				zap.String("job_id", jobID.String()),
				zap.Any("panic", r),
			)
			p.fail(jobID, classInternal, fmt.Sprintf("panic: %v", r))
			err = eris.Errorf("panic while processing job %s: %v", jobID, r)
		}
	}()

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		// The dispatcher already flipped the job to processing, so a load
		// error here would strand it. The guarded transition makes this a
		// no-op if another writer got there first.
		p.fail(jobID, classStorageUnavailable, "job load failed")
		return eris.Wrap(err, "load job")
	}
	if job.State != constants.JobStateProcessing {
		// stale enqueue, e.g. a crashed-and-restarted dispatcher
		p.log.Warn("pipeline.process.skip_wrong_state",
			zap.String("job_id", jobID.String()),
			zap.String("state", string(job.State)),
		)
		return nil
	}

	data, err := p.blobs.Get(job.SourceRef)
	if err != nil {
		p.fail(jobID, classStorageUnavailable, "blob download failed")
		return eris.Wrap(err, "download blob")
	}

	pgs, err := pages.Render(data, job.ContentType)
	if err != nil {
		p.fail(jobID, classInternal, "document could not be rendered")
		return eris.Wrap(err, "render pages")
	}

	items, err := p.extractMemoized(ctx, job, pgs)
	if err != nil {
		p.fail(jobID, classifyExtractError(err), shortDiagnostic(err))
		return eris.Wrap(err, "extract")
	}

	outcome := entity.TransitionOutcome{Result: items}
	if err := p.jobs.Transition(ctx, jobID, constants.JobStateProcessing, constants.JobStateProcessed, outcome); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			// a duplicate completion lost the race; the winner's write stands
			p.log.Warn("pipeline.process.duplicate_completion", zap.String("job_id", jobID.String()))
			return nil
		}
		p.fail(jobID, classStorageUnavailable, "result write failed")
		return eris.Wrap(err, "transition to processed")
	}

	p.log.Info("pipeline.process.ok",
		zap.String("job_id", jobID.String()),
		zap.Int("items", len(items)),
		zap.Int("pages", len(pgs)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// extractMemoized collapses concurrent identical extractions onto one
// upstream call and memoizes successes. Failures are never cached, so a
// transient upstream outage cannot poison future identical requests.
func (p *Processor) extractMemoized(ctx context.Context, job *entity.Job, pgs []pages.Page) ([]entity.LineItem, error) {
	fp := cache.Fingerprint(job.OwnerID, extract.PromptVersion, pgs)

	v, err, shared := p.group.Do(fp, func() (any, error) {
		if cached, ok, cErr := p.memo.Lookup(fp); cErr != nil {
			p.log.Warn("pipeline.cache.lookup_error", zap.Error(cErr))
		} else if ok {
			p.log.Info("pipeline.cache.hit",
				zap.String("job_id", job.ID.String()),
				zap.String("fingerprint", fp),
			)
			return cached, nil
		}

		res, xErr := p.extractor.Extract(ctx, extract.Request{OwnerID: job.OwnerID, Pages: pgs})
		if xErr != nil {
			return nil, xErr
		}
		if sErr := p.memo.Store(fp, res.Items); sErr != nil {
			p.log.Warn("pipeline.cache.store_error", zap.Error(sErr))
		}
		return res.Items, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.log.Info("pipeline.extract.shared_flight", zap.String("job_id", job.ID.String()))
	}
	return v.([]entity.LineItem), nil
}

// fail writes the processing->failed transition on a fresh context. A
// missed transition means another writer already terminated the job.
func (p *Processor) fail(jobID uuid.UUID, class, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), failureWriteBudget)
	defer cancel()

	detail := class + ": " + msg
	outcome := entity.TransitionOutcome{ErrorDetail: detail}
	err := p.jobs.Transition(ctx, jobID, constants.JobStateProcessing, constants.JobStateFailed, outcome)
	switch {
	case err == nil:
		p.log.Info("pipeline.process.failed",
			zap.String("job_id", jobID.String()),
			zap.String("detail", detail),
		)
	case errors.Is(err, common.ErrInvalidTransition):
		p.log.Warn("pipeline.process.fail_lost_race", zap.String("job_id", jobID.String()))
	default:
		// the job may be stranded in processing; loud log for operators
		p.log.Error("pipeline.process.fail_write_error",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func classifyExtractError(err error) string {
	switch {
	case errors.Is(err, extract.ErrUpstreamRateLimited):
		return classUpstreamRateLimited
	case errors.Is(err, extract.ErrUpstreamUnavailable):
		return classUpstreamUnavailable
	case errors.Is(err, extract.ErrMalformedResponse):
		return classMalformedResponse
	default:
		return classInternal
	}
}

// shortDiagnostic keeps errorDetail terse and free of payload dumps.
func shortDiagnostic(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
