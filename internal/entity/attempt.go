package entity

import (
	"time"

	"github.com/user/document-ingestion/pkg/digest"
)

// State is a reference's position in the ingestion state machine.
type State string

const (
	StatePending         State = "pending"
	StateFetching        State = "fetching"
	StateParsing         State = "parsing"
	StateUploading       State = "uploading"
	StateCommitting      State = "committing"
	StateDone            State = "done"
	StateFailedTransient State = "failed_transient"
	StateFailedPermanent State = "failed_permanent"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailedPermanent
}

// IngestionAttempt is the checkpointed progress of one reference.
type IngestionAttempt struct {
	Reference   DocumentReference `json:"reference"`
	State       State             `json:"state"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty"`
	NextRetryAt time.Time         `json:"next_retry_at,omitempty"`
	// Set once the upload is confirmed so a restart can resume at committing.
	Digest    digest.Digest   `json:"digest"`
	ObjectKey string          `json:"object_key,omitempty"`
	Fields    ExtractedFields `json:"fields"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanResumeCommit reports whether the attempt holds everything needed to
// commit without refetching or reuploading.
func (a *IngestionAttempt) CanResumeCommit() bool {
	return a != nil && a.ObjectKey != "" && !a.Digest.IsZero() &&
		(a.State == StateCommitting || (a.State == StateFailedTransient && a.ErrorKind == KindTransientCommit))
}
