package domain

import "time"

// JobItemStatus is the state of one SKU within a batch job.
type JobItemStatus struct {
	Index     int         `json:"index"` // position in the submitted batch
	ItemID    string      `json:"item_id"`
	ProductID string      `json:"product_id"`
	StoreID   string      `json:"store_id"`
	State     ItemState   `json:"state"`
	Reason    string      `json:"reason,omitempty"`
	Result    *ItemResult `json:"result,omitempty"`
}

// BatchJob is the full view of a batch forecasting job.
type BatchJob struct {
	JobID          string          `json:"job_id"`
	State          JobState        `json:"state"`
	Total          int             `json:"total"`
	SucceededCount int             `json:"succeeded_count"`
	FailedCount    int             `json:"failed_count"`
	CancelledCount int             `json:"cancelled_count"`
	Items          []JobItemStatus `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Progress is the fraction of items that reached a terminal state.
func (j BatchJob) Progress() float64 {
	if j.Total == 0 {
		if j.State.Terminal() {
			return 1
		}
		return 0
	}
	p := float64(j.SucceededCount+j.FailedCount) / float64(j.Total)
	if p >= 1 && !j.State.Terminal() {
		// Held below 1 until Finalize writes the terminal state, so 1.0 always
		// means the job is settled. A single-item job reads 0 in that window.
		return float64(j.Total-1) / float64(j.Total)
	}
	return p
}

// SettledState derives the terminal state from final counters.
func SettledState(succeeded, failed int) JobState {
	switch {
	case failed == 0:
		return JobCompleted
	case succeeded == 0:
		return JobFailed
	default:
		return JobPartiallyCompleted
	}
}
