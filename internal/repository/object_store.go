package repository

import "context"

// ObjectStore is the object-store boundary. Keys are derived from content digests.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns entity.ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectLister enumerates and removes objects; used only by the orphan sweep.
type ObjectLister interface {
	List(ctx context.Context, prefix string, fn func(key string) error) error
	Delete(ctx context.Context, key string) error
}
