package repository

import (
	"context"

	"github.com/user/document-ingestion/internal/entity"
)

// AttemptRepository checkpoints per-reference progress so a restart skips
// terminal references and resumes interrupted commits.
type AttemptRepository interface {
	// Load returns the checkpoint for a reference key, or nil if none exists.
	Load(ctx context.Context, key string) (*entity.IngestionAttempt, error)
	// Save overwrites the checkpoint for attempt.Reference.
	Save(ctx context.Context, attempt *entity.IngestionAttempt) error
}
