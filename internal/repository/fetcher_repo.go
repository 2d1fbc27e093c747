package repository

import (
	"context"

	"github.com/user/document-ingestion/internal/entity"
)

// Fetcher retrieves the raw bytes behind a reference under the outbound rate budget.
type Fetcher interface {
	// Fetch issues one outbound request. Failures are *entity.Error of kind
	// transient_fetch or permanent_fetch.
	Fetch(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error)
}

// Parser extracts structured fields and follow-on references from a fetched payload.
// Implementations must be pure and never fail: malformed input yields Incomplete fields.
type Parser interface {
	Parse(result *entity.FetchResult) (entity.ExtractedFields, []entity.DocumentReference)
}
