package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusCancelled = "CANCELLED"
)

// Event types recorded against a run.
const (
	EventRunStarted           = "RUN_STARTED"
	EventRunCompleted         = "RUN_COMPLETED"
	EventDocumentStored       = "DOCUMENT_STORED"
	EventDocumentDeduplicated = "DOCUMENT_DEDUPLICATED"
	EventDocumentFailed       = "DOCUMENT_FAILED"
)

// IngestionRun mirrors the `ingestion_runs` table.
type IngestionRun struct {
	ID               uuid.UUID  `json:"id"`
	Status           string     `json:"status"`
	Sources          []string   `json:"sources"`
	TotalDiscovered  int        `json:"total_discovered"`
	Downloaded       int        `json:"downloaded"`
	Failed           int        `json:"failed"`
	SkippedDuplicate int        `json:"skipped_duplicate"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// IngestionEvent mirrors the `ingestion_events` table.
type IngestionEvent struct {
	ID        int64     `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Type      string    `json:"event_type"`
	SourceURL string    `json:"source_url,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
