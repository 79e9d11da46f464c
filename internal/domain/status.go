package domain

import "strings"

// JobState is the lifecycle state of a batch job.
type JobState string

const (
	JobCreated            JobState = "CREATED"
	JobRunning            JobState = "RUNNING"
	JobCompleted          JobState = "COMPLETED"
	JobPartiallyCompleted JobState = "PARTIALLY_COMPLETED"
	JobFailed             JobState = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobPartiallyCompleted, JobFailed:
		return true
	}
	return false
}

// Active reports whether a job in this state blocks resubmission of its id.
func (s JobState) Active() bool {
	return s == JobCreated || s == JobRunning
}

// ItemState is the lifecycle state of a single item within a batch job.
type ItemState string

const (
	ItemPending    ItemState = "PENDING"
	ItemProcessing ItemState = "PROCESSING"
	ItemSucceeded  ItemState = "SUCCEEDED"
	ItemFailed     ItemState = "FAILED"
)

// Terminal reports whether the item has settled.
func (s ItemState) Terminal() bool {
	return s == ItemSucceeded || s == ItemFailed
}

// RiskLabel classifies the inventory position of a SKU.
type RiskLabel string

const (
	RiskOK        RiskLabel = "OK"
	RiskLow       RiskLabel = "LOW"
	RiskCritical  RiskLabel = "CRITICAL"
	RiskOverstock RiskLabel = "OVERSTOCK"
)

var riskLabelDescriptions = map[RiskLabel]string{
	RiskOK:        "Inventory covers expected demand",
	RiskLow:       "Inventory below reorder point",
	RiskCritical:  "Inventory will not cover tomorrow's demand",
	RiskOverstock: "Inventory well above 30-day demand",
}

// Description returns a human-readable explanation of the label.
func (l RiskLabel) Description() string {
	if d, ok := riskLabelDescriptions[l]; ok {
		return d
	}

	return "Unknown"
}

// Alerting reports whether the label should produce an alert event.
func (l RiskLabel) Alerting() bool {
	return l == RiskCritical || l == RiskLow || l == RiskOverstock
}

// ParseRiskLabel returns the label for a case-insensitive name.
func ParseRiskLabel(name string) (RiskLabel, bool) {
	l := RiskLabel(strings.ToUpper(strings.TrimSpace(name)))
	_, ok := riskLabelDescriptions[l]

	return l, ok
}
