package entity

import "time"

// TerminalFailure mirrors the `ingestion_failures` PostgreSQL table schema.
// One row per reference that ended in failed_permanent.
type TerminalFailure struct {
	ReferenceURL  string    `json:"reference_url"`
	Host          string    `json:"host"`
	Source        string    `json:"source,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind"`
	LastError     string    `json:"last_error"`
	StatusCode    int       `json:"status_code,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}
