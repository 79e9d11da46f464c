package batch

import (
	"context"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// Config holds configuration for the orchestrator.
type Config struct {
	Workers     int           // Number of concurrent workers per job
	ItemTimeout time.Duration // Upper bound on one item's pipeline run
	MaxItems    int           // Largest accepted batch; 0 means unlimited
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		ItemTimeout: 5 * time.Second,
		MaxItems:    10000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	return c
}

// Processor runs one item through the feature pipeline, the model and the optimizer.
type Processor interface {
	Process(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error)
}

// ResultSink receives successful item results. Failures are the sink's concern.
type ResultSink interface {
	Save(ctx context.Context, result domain.ItemResult)
}

// JobStore persists job state for pollers.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.BatchJob) error
	SaveMeta(ctx context.Context, job *domain.BatchJob) error
	RecordItem(ctx context.Context, jobID string, item domain.JobItemStatus) error
	Finalize(ctx context.Context, job *domain.BatchJob) error
	Get(ctx context.Context, jobID string) (*domain.BatchJob, error)
	State(ctx context.Context, jobID string) (domain.JobState, bool, error)
}

// Recorder receives orchestrator metrics.
type Recorder interface {
	JobStarted()
	JobFinished(state domain.JobState, d time.Duration)
	ItemFinished(outcome string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) JobStarted()                                 {}
func (noopRecorder) JobFinished(domain.JobState, time.Duration) {}
func (noopRecorder) ItemFinished(string, time.Duration)          {}

type noopSink struct{}

func (noopSink) Save(context.Context, domain.ItemResult) {}
