package repository

import (
	"context"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/digest"
)

// DocumentRepository defines the interface for storing and retrieving document records.
type DocumentRepository interface {
	// Insert creates the canonical record and its first reference in one transaction.
	// It returns entity.ErrDigestExists if a record with the digest already exists.
	Insert(ctx context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error)
	// Merge appends the reference to an existing record and fills missing fields
	// in one transaction. Existing fields are left untouched.
	Merge(ctx context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error)
	// FindByDigest returns entity.ErrNotFound if no record exists.
	FindByDigest(ctx context.Context, d digest.Digest) (*entity.DocumentRecord, error)
	// FindByReference returns the most recent record a reference resolved to, or entity.ErrNotFound.
	FindByReference(ctx context.Context, url string) (*entity.DocumentRecord, error)
	// ObjectKeyExists reports whether any record points at the object key.
	ObjectKeyExists(ctx context.Context, objectKey string) (bool, error)
}
