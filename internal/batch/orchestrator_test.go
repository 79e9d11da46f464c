package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/jobstore"
)

// fakeProcessor delegates to processFn.
type fakeProcessor struct {
	processFn func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error)
}

func (f *fakeProcessor) Process(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	return f.processFn(ctx, req)
}

func succeed(_ context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	return domain.ItemResult{ProductID: req.ProductID, StoreID: req.StoreID}, nil
}

// recordingSink collects saved results.
type recordingSink struct {
	mu      sync.Mutex
	results []domain.ItemResult
}

func (s *recordingSink) Save(_ context.Context, r domain.ItemResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// flakyStore overrides RecordItem on a real store.
type flakyStore struct {
	*jobstore.Store
	recordFn func(item domain.JobItemStatus) error
}

func (f *flakyStore) RecordItem(ctx context.Context, jobID string, item domain.JobItemStatus) error {
	if err := f.recordFn(item); err != nil {
		return err
	}
	return f.Store.RecordItem(ctx, jobID, item)
}

// unavailableKV fails every operation a submission needs.
type unavailableKV struct {
	*jobstore.MemoryKV
}

func (unavailableKV) Ping(context.Context) error { return errors.New("connection refused") }

func newStore() *jobstore.Store {
	return jobstore.NewStore(jobstore.NewMemoryKV(), time.Hour, jobstore.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
	})
}

func items(n int) []domain.ItemRequest {
	out := make([]domain.ItemRequest, n)
	for i := range out {
		out[i] = domain.ItemRequest{ProductID: fmt.Sprintf("p%03d", i+1), StoreID: "s001"}
	}
	return out
}

func waitDone(t *testing.T, o *Orchestrator, jobID string) *domain.BatchJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	job, err := o.Status(ctx, jobID)
	require.NoError(t, err)
	return job
}

func TestSubmit_PartialFailure(t *testing.T) {
	sink := &recordingSink{}
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p002" {
			return domain.ItemResult{}, fmt.Errorf("%w: units_sold on 2024-01-03 out of range: -4", domain.ErrValidation)
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 2}, newStore(), proc, WithSink(sink))

	jobID, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	job := waitDone(t, o, jobID)
	assert.Equal(t, domain.JobPartiallyCompleted, job.State)
	assert.Equal(t, 2, job.SucceededCount)
	assert.Equal(t, 1, job.FailedCount)
	assert.Equal(t, 0, job.CancelledCount)
	assert.Equal(t, 1.0, job.Progress())

	require.Len(t, job.Items, 3)
	assert.Equal(t, "P001/S001", job.Items[0].ItemID)
	assert.Equal(t, domain.ItemSucceeded, job.Items[0].State)
	assert.NotNil(t, job.Items[0].Result)
	assert.Equal(t, domain.ItemFailed, job.Items[1].State)
	assert.Equal(t, domain.CodeValidation, job.Items[1].Reason)
	assert.Nil(t, job.Items[1].Result)
	assert.Equal(t, domain.ItemSucceeded, job.Items[2].State)

	assert.Len(t, sink.results, 2)
}

func TestSubmit_TerminalStates(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		o := NewOrchestrator(Config{Workers: 4}, newStore(), &fakeProcessor{processFn: succeed})
		id, err := o.Submit(context.Background(), "all-ok", items(10))
		require.NoError(t, err)
		job := waitDone(t, o, id)
		assert.Equal(t, domain.JobCompleted, job.State)
		assert.Equal(t, 10, job.SucceededCount)
	})

	t.Run("all fail", func(t *testing.T) {
		proc := &fakeProcessor{processFn: func(context.Context, domain.ItemRequest) (domain.ItemResult, error) {
			return domain.ItemResult{}, domain.ErrInsufficientHistory
		}}
		o := NewOrchestrator(Config{Workers: 4}, newStore(), proc)
		id, err := o.Submit(context.Background(), "all-bad", items(5))
		require.NoError(t, err)
		job := waitDone(t, o, id)
		assert.Equal(t, domain.JobFailed, job.State)
		assert.Equal(t, 5, job.FailedCount)
		for _, it := range job.Items {
			assert.Equal(t, domain.CodeInsufficientHistory, it.Reason)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		o := NewOrchestrator(Config{}, newStore(), &fakeProcessor{processFn: succeed})
		id, err := o.Submit(context.Background(), "empty", nil)
		require.NoError(t, err)
		job := waitDone(t, o, id)
		assert.Equal(t, domain.JobCompleted, job.State)
		assert.Equal(t, 1.0, job.Progress())
	})
}

func TestSubmit_RejectsActiveJobID(t *testing.T) {
	release := make(chan struct{})
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		<-release
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 1, ItemTimeout: 5 * time.Second}, newStore(), proc)

	_, err := o.Submit(context.Background(), "nightly", items(2))
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), "nightly", items(2))
	assert.ErrorIs(t, err, domain.ErrJobAlreadyRunning)

	close(release)
	waitDone(t, o, "nightly")

	// terminal ids can be reused
	_, err = o.Submit(context.Background(), "nightly", items(1))
	require.NoError(t, err)
	job := waitDone(t, o, "nightly")
	assert.Equal(t, 1, job.Total)
}

func TestSubmit_RejectsJobRunningElsewhere(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	other := &domain.BatchJob{JobID: "shared", State: domain.JobCreated, Total: 1}
	require.NoError(t, store.CreateJob(ctx, other))
	other.State = domain.JobRunning
	require.NoError(t, store.SaveMeta(ctx, other))

	o := NewOrchestrator(Config{}, store, &fakeProcessor{processFn: succeed})
	_, err := o.Submit(ctx, "shared", items(1))
	assert.ErrorIs(t, err, domain.ErrJobAlreadyRunning)
	assert.Equal(t, 0, o.Running())
}

func TestSubmit_StoreUnavailable(t *testing.T) {
	store := jobstore.NewStore(unavailableKV{jobstore.NewMemoryKV()}, time.Hour, jobstore.RetryConfig{})
	o := NewOrchestrator(Config{}, store, &fakeProcessor{processFn: succeed})

	_, err := o.Submit(context.Background(), "job", items(1))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 0, o.Running())
}

func TestSubmit_RejectsOversizedBatch(t *testing.T) {
	o := NewOrchestrator(Config{MaxItems: 2}, newStore(), &fakeProcessor{processFn: succeed})
	_, err := o.Submit(context.Background(), "", items(3))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestItemTimeout(t *testing.T) {
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p001" {
			time.Sleep(300 * time.Millisecond) // ignores ctx on purpose
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 2, ItemTimeout: 50 * time.Millisecond}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(2))
	require.NoError(t, err)

	job := waitDone(t, o, id)
	assert.Equal(t, domain.JobPartiallyCompleted, job.State)
	assert.Equal(t, domain.CodeTimeout, job.Items[0].Reason)
	assert.Equal(t, domain.ItemSucceeded, job.Items[1].State)
}

func TestProcessorPanicFailsOnlyThatItem(t *testing.T) {
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p002" {
			panic("boom")
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 2}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)

	job := waitDone(t, o, id)
	assert.Equal(t, 2, job.SucceededCount)
	assert.Equal(t, domain.CodeInternal, job.Items[1].Reason)
}

func TestCancel_StopsDispatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p001" {
			close(started)
			<-release
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 1, ItemTimeout: 5 * time.Second}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(5))
	require.NoError(t, err)

	<-started
	require.NoError(t, o.Cancel(id))
	close(release)

	job := waitDone(t, o, id)
	assert.Equal(t, domain.JobPartiallyCompleted, job.State)
	assert.Equal(t, 1, job.SucceededCount, "in-flight item runs to completion")
	assert.Equal(t, 4, job.FailedCount)
	assert.Equal(t, 4, job.CancelledCount)
	assert.Equal(t, 1.0, job.Progress())
	for _, it := range job.Items[1:] {
		assert.Equal(t, domain.CodeCancelled, it.Reason)
	}

	assert.ErrorIs(t, o.Cancel(id), domain.ErrJobNotFound)
}

func TestCancel_NothingSucceededIsFailed(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeProcessor{processFn: func(context.Context, domain.ItemRequest) (domain.ItemResult, error) {
		close(started)
		<-release
		return domain.ItemResult{}, domain.ErrSchema
	}}
	o := NewOrchestrator(Config{Workers: 1, ItemTimeout: 5 * time.Second}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)
	<-started
	require.NoError(t, o.Cancel(id))
	close(release)

	job := waitDone(t, o, id)
	assert.Equal(t, domain.JobFailed, job.State)
	assert.Equal(t, 2, job.CancelledCount)
}

func TestStoreWriteFailureFailsItem(t *testing.T) {
	store := &flakyStore{Store: newStore(), recordFn: func(item domain.JobItemStatus) error {
		if item.ItemID == "P002/S001" {
			return fmt.Errorf("%w: record item after 2 attempts", domain.ErrStoreWrite)
		}
		return nil
	}}
	sink := &recordingSink{}
	o := NewOrchestrator(Config{Workers: 3}, store, &fakeProcessor{processFn: succeed}, WithSink(sink))

	id, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)

	job := waitDone(t, o, id)
	assert.Equal(t, domain.JobPartiallyCompleted, job.State)
	assert.Equal(t, 2, job.SucceededCount)
	assert.Equal(t, 1, job.FailedCount)
	assert.Equal(t, domain.CodeStoreWrite, job.Items[1].Reason)
	assert.Len(t, sink.results, 2, "unrecorded results are not published")
}

func TestProgressIsMonotonic(t *testing.T) {
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		time.Sleep(time.Millisecond)
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 4}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(60))
	require.NoError(t, err)

	ctx := context.Background()
	last := 0.0
	for {
		job, err := o.Status(ctx, id)
		require.NoError(t, err)

		p := job.Progress()
		assert.GreaterOrEqual(t, p, last)
		if job.State.Terminal() {
			assert.Equal(t, 1.0, p)
			break
		}
		assert.Less(t, p, 1.0)
		last = p
		time.Sleep(500 * time.Microsecond)
	}
}

func TestPrometheusRecorder(t *testing.T) {
	rec := NewPrometheusRecorder()
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p001" {
			return domain.ItemResult{}, domain.ErrSchema
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 2}, newStore(), proc, WithRecorder(rec))

	id, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)
	waitDone(t, o, id)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)

	found := map[string]float64{}
	for _, mf := range families {
		switch mf.GetName() {
		case "forecast_batch_items_total":
			for _, m := range mf.GetMetric() {
				found["items:"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		case "forecast_batch_jobs_total":
			for _, m := range mf.GetMetric() {
				found["jobs:"+m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		case "forecast_batch_active_jobs":
			found["active"] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, found["items:SUCCEEDED"])
	assert.Equal(t, 1.0, found["items:SCHEMA_ERROR"])
	assert.Equal(t, 1.0, found["jobs:PARTIALLY_COMPLETED"])
	assert.Equal(t, 0.0, found["active"])
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeProcessor{processFn: func(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
		if req.ProductID == "p001" {
			close(started)
			<-release
		}
		return succeed(ctx, req)
	}}
	o := NewOrchestrator(Config{Workers: 1, ItemTimeout: 5 * time.Second}, newStore(), proc)

	id, err := o.Submit(context.Background(), "", items(3))
	require.NoError(t, err)
	<-started

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	job, err := o.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.State.Terminal())
	assert.Equal(t, 2, job.CancelledCount)
}
