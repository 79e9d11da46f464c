package jobstore

import "strconv"

const keyPrefix = "forecast_job:"

// MetaKey holds the JSON job metadata.
func MetaKey(jobID string) string { return keyPrefix + jobID + ":meta" }

// SucceededKey holds the succeeded item counter.
func SucceededKey(jobID string) string { return keyPrefix + jobID + ":succeeded" }

// FailedKey holds the failed item counter.
func FailedKey(jobID string) string { return keyPrefix + jobID + ":failed" }

// ItemsKey holds the list of settled item statuses.
func ItemsKey(jobID string) string { return keyPrefix + jobID + ":items" }

// RecordedKey marks the item at index as counted for the job.
func RecordedKey(jobID string, index int) string {
	return keyPrefix + jobID + ":recorded:" + strconv.Itoa(index)
}

func jobKeys(jobID string) []string {
	return []string{MetaKey(jobID), SucceededKey(jobID), FailedKey(jobID), ItemsKey(jobID)}
}
