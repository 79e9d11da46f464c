package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchJob_Progress(t *testing.T) {
	tests := []struct {
		name string
		job  BatchJob
		want float64
	}{
		{"empty and running", BatchJob{State: JobRunning}, 0},
		{"empty and completed", BatchJob{State: JobCompleted}, 1},
		{"partway", BatchJob{State: JobRunning, Total: 4, SucceededCount: 1, FailedCount: 1}, 0.5},
		{"all counted before finalize", BatchJob{State: JobRunning, Total: 4, SucceededCount: 4}, 0.75},
		{"single item counted before finalize", BatchJob{State: JobRunning, Total: 1, FailedCount: 1}, 0},
		{"finalized", BatchJob{State: JobPartiallyCompleted, Total: 4, SucceededCount: 3, FailedCount: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.job.Progress(), 1e-9)
		})
	}
}

func TestSettledState(t *testing.T) {
	assert.Equal(t, JobCompleted, SettledState(0, 0))
	assert.Equal(t, JobCompleted, SettledState(3, 0))
	assert.Equal(t, JobFailed, SettledState(0, 2))
	assert.Equal(t, JobPartiallyCompleted, SettledState(2, 1))
}
