package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/user/document-ingestion/internal/entity"
)

// RunRepository stores ingestion runs and their event log.
type RunRepository interface {
	Create(ctx context.Context, run *entity.IngestionRun) error
	Update(ctx context.Context, run *entity.IngestionRun) error
	// Get returns entity.ErrNotFound if the run does not exist.
	Get(ctx context.Context, id uuid.UUID) (*entity.IngestionRun, error)
	List(ctx context.Context, limit int) ([]*entity.IngestionRun, error)
	AddEvent(ctx context.Context, event *entity.IngestionEvent) error
	ListEvents(ctx context.Context, runID uuid.UUID, limit, offset int) ([]*entity.IngestionEvent, error)
}
