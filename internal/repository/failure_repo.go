package repository

import (
	"context"

	"github.com/user/document-ingestion/internal/entity"
)

// FailureRepository defines the interface for references that ended in a terminal failure.
type FailureRepository interface {
	// SaveOrUpdate creates or updates the failure record for a reference.
	SaveOrUpdate(ctx context.Context, failure *entity.TerminalFailure) error
	// List returns failures, most recent attempt first.
	List(ctx context.Context, limit, offset int) ([]*entity.TerminalFailure, error)
	// FindByURL returns entity.ErrNotFound if the reference has no failure record.
	FindByURL(ctx context.Context, url string) (*entity.TerminalFailure, error)
	// Delete removes a failure record, typically after a later successful ingestion.
	Delete(ctx context.Context, url string) error
}
