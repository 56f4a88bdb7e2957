package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
)

// ErrAlreadyProcessing rejects a second trigger for a job whose extraction
// is already running or queued. Dispatch is single-flight per job.
var ErrAlreadyProcessing = errors.New("job is already processing")

// Dispatcher owns the fast synchronous prefix of a trigger call: validate,
// flip pending->processing, enqueue. The extraction itself runs on worker
// goroutines under context.Background, so it survives the client
// disconnecting or the triggering request being cancelled.
type Dispatcher struct {
	jobs    repository.JobRepository
	proc    *Processor
	log     *zap.Logger
	workers int
	timeout time.Duration

	ch   chan uuid.UUID
	wg   sync.WaitGroup
	once sync.Once

	// qmu guards closed and the channel send; mu guards only the
	// inflight set so blocked enqueues never stall a worker's release.
	qmu    sync.RWMutex
	closed bool

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan uuid.UUID, n)
		}
	}
}

func WithProcessTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(jobs repository.JobRepository, proc *Processor, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		jobs:     jobs,
		proc:     proc,
		log:      logger,
		workers:  4,
		timeout:  3 * time.Minute,
		ch:       make(chan uuid.UUID, 256),
		inflight: make(map[uuid.UUID]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go func(workerID int) {
				defer d.wg.Done()
				d.log.Info("pipeline.worker.started", zap.Int("worker_id", workerID))

				for jobID := range d.ch {
					// decoupled from the triggering request on purpose
					ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
					err := d.proc.Process(ctx, jobID)
					cancel()
					d.release(jobID)

					if err != nil {
						d.log.Error("pipeline.worker.job_failed",
							zap.Int("worker_id", workerID),
							zap.String("job_id", jobID.String()),
							zap.Error(err),
						)
					}
				}

				d.log.Info("pipeline.worker.stopped", zap.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

// Dispatch runs the synchronous prefix and returns as soon as the job is
// queued. Callers get success while the job is still in processing;
// completion is observed by polling.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.SourceRef == "" {
		return eris.Wrap(common.ErrInvalidInput, "job has no source ref")
	}

	switch {
	case job.State == constants.JobStateProcessing:
		return ErrAlreadyProcessing
	case job.State.IsTerminal():
		return eris.Wrapf(common.ErrInvalidTransition, "job already %s", job.State)
	}

	if !d.acquire(jobID) {
		return ErrAlreadyProcessing
	}

	if err := d.jobs.Transition(ctx, jobID, constants.JobStatePending, constants.JobStateProcessing, entity.TransitionOutcome{}); err != nil {
		d.release(jobID)
		if errors.Is(err, common.ErrInvalidTransition) {
			// a concurrent trigger won the guarded update
			return ErrAlreadyProcessing
		}
		return err
	}

	if !d.enqueue(jobID) {
		// shutting down; the job must not strand in processing
		d.proc.fail(jobID, classInternal, "dispatcher shutting down")
		d.release(jobID)
		return eris.Wrap(common.ErrInternal, "dispatcher is shutting down")
	}

	d.log.Info("pipeline.dispatch.queued", zap.String("job_id", jobID.String()))
	return nil
}

func (d *Dispatcher) acquire(jobID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[jobID]; ok {
		return false
	}
	d.inflight[jobID] = struct{}{}
	return true
}

func (d *Dispatcher) release(jobID uuid.UUID) {
	d.mu.Lock()
	delete(d.inflight, jobID)
	d.mu.Unlock()
}

func (d *Dispatcher) enqueue(jobID uuid.UUID) bool {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.ch <- jobID:
	default:
		d.log.Warn("pipeline.dispatch.queue_full", zap.String("job_id", jobID.String()))
		d.ch <- jobID
	}
	return true
}

// Shutdown stops accepting work and drains the queue until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.qmu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.log.Warn("pipeline.shutdown.interrupted")
	case <-done:
		d.log.Info("pipeline.shutdown.complete")
	}
}
