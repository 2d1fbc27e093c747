package response

import (
	"time"

	"github.com/user/document-ingestion/internal/entity"
)

type SubmitIngestResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ReferenceKey string `json:"reference_key"`
}

// ReferenceStatusResponse is a DTO for reference status, mirroring entity.ReferenceStatus.
type ReferenceStatusResponse struct {
	URL           string     `json:"url"`
	CurrentStatus string     `json:"current_status"` // "done", "failed", a pipeline state
	Digest        string     `json:"digest,omitempty"`
	ObjectKey     string     `json:"object_key,omitempty"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func NewReferenceStatus(s *entity.ReferenceStatus) ReferenceStatusResponse {
	return ReferenceStatusResponse{
		URL:           s.URL,
		CurrentStatus: s.CurrentStatus,
		Digest:        s.Digest,
		ObjectKey:     s.ObjectKey,
		Attempts:      s.Attempts,
		LastAttemptAt: s.LastAttemptAt,
		NextRetryAt:   s.NextRetryAt,
		FailureReason: s.FailureReason,
	}
}

type FailuresResponse struct {
	Failures []*entity.TerminalFailure `json:"failures"`
	Limit    int                       `json:"limit"`
	Offset   int                       `json:"offset"`
}

type RunsResponse struct {
	Runs []*entity.IngestionRun `json:"runs"`
}

type EventsResponse struct {
	Events []*entity.IngestionEvent `json:"events"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}
