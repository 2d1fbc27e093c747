package entity

import "time"

// ReferenceStatus is the operator view of one reference.
type ReferenceStatus struct {
	URL           string
	CurrentStatus string // "done", "failed", a pipeline state, or "not_found"
	Digest        string
	ObjectKey     string
	Attempts      int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	FailureReason string
}
