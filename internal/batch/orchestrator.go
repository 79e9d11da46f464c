package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// Orchestrator runs batch forecast jobs on a bounded worker pool. It is the only
// writer of job and item state; pollers read through the JobStore.
type Orchestrator struct {
	cfg       Config
	store     JobStore
	processor Processor
	sink      ResultSink
	metrics   Recorder
	tracer    trace.Tracer

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	active map[string]*run
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSink hands successful results to sink.
func WithSink(sink ResultSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithRecorder publishes metrics to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// run is the in-process state of one job. job is guarded by mu.
type run struct {
	mu         sync.Mutex
	job        *domain.BatchJob
	reqs       []domain.ItemRequest
	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

// cancel closes cancelCh once and reports whether this call did it.
func (r *run) cancel() bool {
	first := false
	r.cancelOnce.Do(func() {
		close(r.cancelCh)
		first = true
	})
	return first
}

func (r *run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// NewOrchestrator creates an orchestrator. Call Shutdown to stop background work.
func NewOrchestrator(cfg Config, store JobStore, processor Processor, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		store:     store,
		processor: processor,
		sink:      noopSink{},
		metrics:   noopRecorder{},
		tracer:    otel.Tracer("github.com/andresuchdata/demandcast/internal/batch"),
		baseCtx:   ctx,
		stop:      cancel,
		active:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit creates a job with every item PENDING and starts processing it in the
// background. An empty jobID gets a generated one. The returned id is valid for
// polling as soon as Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, jobID string, items []domain.ItemRequest) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if o.cfg.MaxItems > 0 && len(items) > o.cfg.MaxItems {
		return "", fmt.Errorf("%w: batch has %d items, limit is %d", domain.ErrValidation, len(items), o.cfg.MaxItems)
	}

	now := time.Now().UTC()
	job := &domain.BatchJob{
		JobID:     jobID,
		State:     domain.JobCreated,
		Total:     len(items),
		Items:     make([]domain.JobItemStatus, len(items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, it := range items {
		key := it.Key()
		job.Items[i] = domain.JobItemStatus{
			Index:     i,
			ItemID:    key.String(),
			ProductID: key.ProductID,
			StoreID:   key.StoreID,
			State:     domain.ItemPending,
		}
	}
	r := &run{job: job, reqs: items, cancelCh: make(chan struct{}), done: make(chan struct{})}

	// 1. Reserve the id in this process
	o.mu.Lock()
	if _, busy := o.active[jobID]; busy {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", domain.ErrJobAlreadyRunning, jobID)
	}
	o.active[jobID] = r
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.active, jobID)
		o.mu.Unlock()
	}

	// 2. Another process may own the id
	state, found, err := o.store.State(ctx, jobID)
	if err != nil {
		release()
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if found && state.Active() {
		release()
		return "", fmt.Errorf("%w: %s is %s", domain.ErrJobAlreadyRunning, jobID, state)
	}

	// 3. Persist the CREATED job
	if err := o.store.CreateJob(ctx, job); err != nil {
		release()
		return "", err
	}

	log.Info().Str("job_id", jobID).Int("items", len(items)).Msg("Batch job submitted")

	go o.execute(r)

	return jobID, nil
}

// Cancel stops new dispatches for a running job. In-flight items finish normally.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	r, ok := o.active[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not running", domain.ErrJobNotFound, jobID)
	}

	if r.cancel() {
		log.Info().Str("job_id", jobID).Msg("Batch job cancellation requested")
	}
	return nil
}

// Wait blocks until the job settles or ctx is done. Jobs unknown to this process return immediately.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	r, ok := o.active[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the persisted view of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	return o.store.Get(ctx, jobID)
}

// Running reports how many jobs this process is executing.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown cancels every running job and waits for them to settle or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.active))
	for _, r := range o.active {
		r.cancel()
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			o.stop()
			return ctx.Err()
		}
	}
	o.stop()
	return nil
}

// execute drives one job to a terminal state.
func (o *Orchestrator) execute(r *run) {
	jobID := r.job.JobID
	ctx, span := o.tracer.Start(o.baseCtx, "batch.job",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.Int("job.items", r.job.Total)))
	defer span.End()

	started := time.Now()
	o.metrics.JobStarted()

	defer func() {
		o.mu.Lock()
		delete(o.active, jobID)
		o.mu.Unlock()
		close(r.done)
	}()

	// 1. Dispatch items to the pool until done or cancelled
	o.dispatch(ctx, r)

	// 2. Settle what was never dispatched and derive the terminal state
	r.mu.Lock()
	var succeeded, failed, cancelled int
	for i := range r.job.Items {
		it := &r.job.Items[i]
		if !it.State.Terminal() {
			it.State = domain.ItemFailed
			it.Reason = domain.CodeCancelled
			cancelled++
		}
		if it.State == domain.ItemSucceeded {
			succeeded++
		} else {
			failed++
		}
	}
	r.job.SucceededCount = succeeded
	r.job.FailedCount = failed
	r.job.CancelledCount = cancelled
	r.job.State = domain.SettledState(succeeded, failed)
	r.job.UpdatedAt = time.Now().UTC()
	final := cloneJob(r.job)
	r.mu.Unlock()

	// 3. Counters and terminal state land together
	if err := o.store.Finalize(ctx, final); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to finalize batch job")
	}

	elapsed := time.Since(started)
	o.metrics.JobFinished(final.State, elapsed)
	span.SetAttributes(
		attribute.String("job.state", string(final.State)),
		attribute.Int("job.succeeded", succeeded),
		attribute.Int("job.failed", failed),
		attribute.Int("job.cancelled", cancelled),
	)

	log.Info().
		Str("job_id", jobID).
		Str("state", string(final.State)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("cancelled", cancelled).
		Dur("elapsed", elapsed).
		Msg("Batch job finished")
}

// dispatch feeds item indexes to the worker pool. The channel is unbuffered so an
// item counts as dispatched only once a worker has taken it, and a cancellation
// arriving while every worker is busy stops the pending send.
func (o *Orchestrator) dispatch(ctx context.Context, r *run) {
	workerCount := o.cfg.Workers
	if n := len(r.reqs); n < workerCount {
		workerCount = n
	}

	jobChan := make(chan int)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				o.processItem(ctx, r, idx)
			}
		}()
	}

	// Enqueue items
	dispatched := 0
enqueue:
	for idx := range r.reqs {
		if r.cancelled() {
			break
		}
		if idx == 0 {
			o.markRunning(ctx, r)
		}
		select {
		case jobChan <- idx:
			dispatched++
		case <-r.cancelCh:
			break enqueue
		}
	}
	close(jobChan)

	if dispatched < len(r.reqs) {
		log.Info().Str("job_id", r.job.JobID).Int("dispatched", dispatched).Msg("Batch job cancelled, stopped dispatch")
	}

	wg.Wait()
}

func (o *Orchestrator) markRunning(ctx context.Context, r *run) {
	r.mu.Lock()
	r.job.State = domain.JobRunning
	r.job.UpdatedAt = time.Now().UTC()
	snapshot := cloneJob(r.job)
	r.mu.Unlock()

	if err := o.store.SaveMeta(ctx, snapshot); err != nil {
		log.Warn().Err(err).Str("job_id", r.job.JobID).Msg("Failed to persist RUNNING state")
	}
}

// processItem runs one item under the item timeout and records its outcome.
func (o *Orchestrator) processItem(ctx context.Context, r *run, idx int) {
	jobID := r.job.JobID
	req := r.reqs[idx]

	r.mu.Lock()
	r.job.Items[idx].State = domain.ItemProcessing
	status := r.job.Items[idx]
	r.mu.Unlock()

	itemCtx, span := o.tracer.Start(ctx, "batch.item", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("item.id", status.ItemID),
	))
	defer span.End()

	started := time.Now()
	var (
		result domain.ItemResult
		err    error
	)
	if req.Rejected != nil {
		err = req.Rejected
	} else {
		result, err = o.runWithTimeout(itemCtx, req)
	}

	if err != nil {
		status.State = domain.ItemFailed
		status.Reason = domain.ErrorCode(err)
	} else {
		status.State = domain.ItemSucceeded
		status.Result = &result
	}

	// a write that exhausts its retries fails the item instead of blocking the job
	if recErr := o.store.RecordItem(ctx, jobID, status); recErr != nil {
		log.Error().Err(recErr).Str("job_id", jobID).Str("item", status.ItemID).Msg("Failed to record item status")
		status.State = domain.ItemFailed
		status.Reason = domain.ErrorCode(recErr)
		status.Result = nil
		if err == nil {
			err = recErr
		}
	}

	r.mu.Lock()
	r.job.Items[idx] = status
	r.mu.Unlock()

	outcome := OutcomeSucceeded
	if status.State == domain.ItemFailed {
		outcome = status.Reason
		span.RecordError(err)
		span.SetStatus(codes.Error, status.Reason)
		log.Warn().Err(err).Str("job_id", jobID).Str("item", status.ItemID).Str("reason", status.Reason).Msg("Batch item failed")
	} else {
		o.sink.Save(ctx, result)
	}
	o.metrics.ItemFinished(outcome, time.Since(started))
}

// runWithTimeout bounds the processor call. A processor that ignores its context
// is abandoned when the deadline passes; its result is discarded.
func (o *Orchestrator) runWithTimeout(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout)
	defer cancel()

	type outcome struct {
		result domain.ItemResult
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("item processing panicked: %v", p)}
			}
		}()
		res, err := o.processor.Process(ctx, req)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(out.err, domain.ErrTimeout) {
			return domain.ItemResult{}, fmt.Errorf("%w: %v", domain.ErrTimeout, out.err)
		}
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ItemResult{}, fmt.Errorf("%w: exceeded %s", domain.ErrTimeout, o.cfg.ItemTimeout)
		}
		return domain.ItemResult{}, ctx.Err()
	}
}

func cloneJob(j *domain.BatchJob) *domain.BatchJob {
	cp := *j
	cp.Items = make([]domain.JobItemStatus, len(j.Items))
	copy(cp.Items, j.Items)
	return &cp
}
