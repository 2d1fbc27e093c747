package repository

import (
	"context"

	"github.com/user/document-ingestion/internal/entity"
)

// FrontierRepository is the durable side of the source catalog: a journal of
// references not yet terminal, and an overflow queue used when the in-memory
// queue is at capacity.
type FrontierRepository interface {
	// Track journals references until Untrack is called.
	Track(ctx context.Context, refs ...entity.DocumentReference) error
	// Untrack removes a reference from the journal.
	Untrack(ctx context.Context, key string) error
	// Pending returns every journaled reference.
	Pending(ctx context.Context) ([]entity.DocumentReference, error)
	// Spill appends a reference to the overflow queue.
	Spill(ctx context.Context, ref entity.DocumentReference) error
	// Unspill pops the oldest spilled reference; ok is false when the queue is empty.
	Unspill(ctx context.Context) (ref entity.DocumentReference, ok bool, err error)
	// SpillSize returns the current number of spilled references.
	SpillSize(ctx context.Context) (int64, error)
	// DropSpill empties the overflow queue. Spilled references are always
	// journaled too, so Pending still returns them.
	DropSpill(ctx context.Context) error
}
