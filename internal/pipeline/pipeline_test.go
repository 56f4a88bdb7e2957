package pipeline

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/cache"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/extract"
)

// testPNG renders a tiny PNG whose pixels depend on seed, so distinct
// seeds produce distinct blob bytes and fingerprints.
func testPNG(t *testing.T, seed string) []byte {
	t.Helper()
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	v := uint8(h.Sum32())

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v ^ 0x55, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// memRepo is an in-memory JobRepository with the same transition
// semantics as the real stores.
type memRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*entity.Job
	loadErr error
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (r *memRepo) Create(_ context.Context, ownerID uuid.UUID, sourceRef, contentType string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		SourceRef:   sourceRef,
		ContentType: contentType,
		State:       constants.JobStatePending,
		CreatedAt:   time.Now().UTC(),
	}
	r.jobs[j.ID] = j
	copied := *j
	return &copied, nil
}

// failNextLoad arms a one-shot GetByID error, simulating a transient
// store outage.
func (r *memRepo) failNextLoad(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErr = err
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		err := r.loadErr
		r.loadErr = nil
		return nil, err
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, states ...constants.JobState) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Job
	for _, j := range r.jobs {
		if j.OwnerID != ownerID {
			continue
		}
		if len(states) > 0 {
			match := false
			for _, s := range states {
				if j.State == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		copied := *j
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memRepo) Transition(_ context.Context, id uuid.UUID, from, to constants.JobState, outcome entity.TransitionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if !constants.CanTransition(from, to) || j.State != from {
		return common.ErrInvalidTransition
	}
	j.State = to
	if to == constants.JobStateProcessed {
		if outcome.Result == nil {
			j.Result = []entity.LineItem{}
		} else {
			j.Result = outcome.Result
		}
	}
	if to == constants.JobStateFailed {
		detail := outcome.ErrorDetail
		j.ErrorDetail = &detail
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		j.TerminalAt = &now
	}
	return nil
}

// memBlobs is a map-backed blob store.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) Put(name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[name] = data
	return name, nil
}

func (b *memBlobs) Get(ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[ref]
	if !ok {
		return nil, eris.Errorf("blob not found: %s", ref)
	}
	return data, nil
}

func (b *memBlobs) Delete(ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, ref)
	return nil
}

// fakeExtractor counts calls and answers via fn.
type fakeExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req extract.Request) (*extract.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &extract.Result{Items: []entity.LineItem{sampleItem()}}, nil
}

func sampleItem() entity.LineItem {
	return entity.LineItem{
		Name:          "Buke",
		Category:      constants.Groceries,
		Amount:        1.2,
		Date:          "2025-03-15",
		TaxCode:       constants.TVSH18,
		TaxPercentage: 18,
		PageNumber:    1,
		Quantity:      1,
		Unit:          "cope",
	}
}

type fixture struct {
	repo  *memRepo
	blobs *memBlobs
	ext   *fakeExtractor
	memo  cache.Store
	disp  *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	memo, err := cache.NewBoltStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = memo.Close() })

	f := &fixture{
		repo:  newMemRepo(),
		blobs: newMemBlobs(),
		ext:   &fakeExtractor{},
		memo:  memo,
	}
	proc := NewProcessor(f.repo, f.blobs, f.ext, f.memo, nil)
	f.disp = NewDispatcher(f.repo, proc, nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.disp.Shutdown(ctx)
	})
	return f
}

func (f *fixture) newJob(t *testing.T, pngContent string) *entity.Job {
	t.Helper()
	ref, err := f.blobs.Put("receipt.png", testPNG(t, pngContent))
	require.NoError(t, err)
	job, err := f.repo.Create(context.Background(), uuid.New(), ref, "image/png")
	require.NoError(t, err)
	return job
}

func waitTerminal(t *testing.T, repo *memRepo, id uuid.UUID) *entity.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if job.State.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestDispatchReturnsBeforeCompletion(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		<-release
		return &extract.Result{Items: []entity.LineItem{sampleItem()}}, nil
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	// the state flip is synchronous; completion happens on a worker
	mid, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateProcessing, mid.State)

	close(release)
	final := waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, constants.JobStateProcessed, final.State)
	require.Len(t, final.Result, 1)
	assert.Nil(t, final.ErrorDetail)
}

func TestDispatchMissingSourceRef(t *testing.T) {
	f := newFixture(t)
	job, err := f.repo.Create(context.Background(), uuid.New(), "", "image/png")
	require.NoError(t, err)

	err = f.disp.Dispatch(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	// rejected synchronously; never entered the asynchronous phase
	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatePending, got.State)
	assert.Equal(t, int32(0), f.ext.calls.Load())
}

func TestDispatchUnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.disp.Dispatch(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestSecondDispatchRejected(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		<-release
		return &extract.Result{}, nil
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	err := f.disp.Dispatch(context.Background(), job.ID)
	assert.True(t, errors.Is(err, ErrAlreadyProcessing))

	close(release)
	waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, int32(1), f.ext.calls.Load())
}

func TestDispatchTerminalJobRejected(t *testing.T) {
	f := newFixture(t)

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))
	waitTerminal(t, f.repo, job.ID)

	err := f.disp.Dispatch(context.Background(), job.ID)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))
}

func TestUpstreamFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		return nil, eris.Wrap(extract.ErrUpstreamUnavailable, "connection refused")
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	final := waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, constants.JobStateFailed, final.State)
	require.NotNil(t, final.ErrorDetail)
	assert.Contains(t, *final.ErrorDetail, "upstream_unavailable:")
	assert.Nil(t, final.Result)
}

func TestRateLimitClassRecorded(t *testing.T) {
	f := newFixture(t)
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		return nil, extract.ErrUpstreamRateLimited
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	final := waitTerminal(t, f.repo, job.ID)
	require.NotNil(t, final.ErrorDetail)
	assert.Contains(t, *final.ErrorDetail, "upstream_rate_limited:")
}

func TestMissingBlobMarksStorageUnavailable(t *testing.T) {
	f := newFixture(t)

	job, err := f.repo.Create(context.Background(), uuid.New(), "nonexistent.png", "image/png")
	require.NoError(t, err)
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	final := waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, constants.JobStateFailed, final.State)
	require.NotNil(t, final.ErrorDetail)
	assert.Contains(t, *final.ErrorDetail, "storage_unavailable:")
	assert.Equal(t, int32(0), f.ext.calls.Load())
}

func TestJobLoadFailureStillWritesFailed(t *testing.T) {
	f := newFixture(t)

	job := f.newJob(t, "a")
	require.NoError(t, f.repo.Transition(context.Background(), job.ID,
		constants.JobStatePending, constants.JobStateProcessing, entity.TransitionOutcome{}))

	proc := NewProcessor(f.repo, f.blobs, f.ext, f.memo, nil)
	f.repo.failNextLoad(errors.New("store briefly down"))
	err := proc.Process(context.Background(), job.ID)
	require.Error(t, err)

	// the job must not stay stranded in processing
	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateFailed, got.State)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "storage_unavailable:")
	assert.Equal(t, int32(0), f.ext.calls.Load())
}

func TestEmptyDocumentIsProcessed(t *testing.T) {
	f := newFixture(t)
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		return &extract.Result{Items: []entity.LineItem{}}, nil
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	final := waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, constants.JobStateProcessed, final.State)
	assert.NotNil(t, final.Result)
	assert.Empty(t, final.Result)
	assert.Nil(t, final.ErrorDetail)
}

func TestPanicInExtractorMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		panic("boom")
	}

	job := f.newJob(t, "a")
	require.NoError(t, f.disp.Dispatch(context.Background(), job.ID))

	final := waitTerminal(t, f.repo, job.ID)
	assert.Equal(t, constants.JobStateFailed, final.State)
	require.NotNil(t, final.ErrorDetail)
	assert.Contains(t, *final.ErrorDetail, "internal:")
}

func TestIdenticalDocumentsHitCache(t *testing.T) {
	f := newFixture(t)

	owner := uuid.New()
	ref, err := f.blobs.Put("same.png", testPNG(t, "identical"))
	require.NoError(t, err)

	first, err := f.repo.Create(context.Background(), owner, ref, "image/png")
	require.NoError(t, err)
	require.NoError(t, f.disp.Dispatch(context.Background(), first.ID))
	waitTerminal(t, f.repo, first.ID)

	second, err := f.repo.Create(context.Background(), owner, ref, "image/png")
	require.NoError(t, err)
	require.NoError(t, f.disp.Dispatch(context.Background(), second.ID))
	got := waitTerminal(t, f.repo, second.ID)

	assert.Equal(t, constants.JobStateProcessed, got.State)
	assert.Equal(t, int32(1), f.ext.calls.Load(), "second job must be served from cache")
}

func TestFailedExtractionIsNotCached(t *testing.T) {
	f := newFixture(t)

	fail := atomic.Bool{}
	fail.Store(true)
	f.ext.fn = func(context.Context, extract.Request) (*extract.Result, error) {
		if fail.Load() {
			return nil, extract.ErrUpstreamUnavailable
		}
		return &extract.Result{Items: []entity.LineItem{sampleItem()}}, nil
	}

	owner := uuid.New()
	ref, err := f.blobs.Put("same.png", testPNG(t, "identical"))
	require.NoError(t, err)

	first, err := f.repo.Create(context.Background(), owner, ref, "image/png")
	require.NoError(t, err)
	require.NoError(t, f.disp.Dispatch(context.Background(), first.ID))
	failedJob := waitTerminal(t, f.repo, first.ID)
	require.Equal(t, constants.JobStateFailed, failedJob.State)

	// the transient failure must not poison the retry
	fail.Store(false)
	second, err := f.repo.Create(context.Background(), owner, ref, "image/png")
	require.NoError(t, err)
	require.NoError(t, f.disp.Dispatch(context.Background(), second.ID))
	got := waitTerminal(t, f.repo, second.ID)

	assert.Equal(t, constants.JobStateProcessed, got.State)
	require.Len(t, got.Result, 1)
	assert.Equal(t, int32(2), f.ext.calls.Load())
}

func TestDispatchAfterShutdownRejected(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.disp.Shutdown(ctx)

	job := f.newJob(t, "a")
	err := f.disp.Dispatch(context.Background(), job.ID)
	require.Error(t, err)

	// the job must not strand in processing
	got, gErr := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, gErr)
	assert.Equal(t, constants.JobStateFailed, got.State)
}
