package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/digest"
)

const uniqueViolation = "23505"

// DocumentRepoImpl provides a concrete implementation for the DocumentRepository interface using PostgreSQL.
type DocumentRepoImpl struct {
	db *pgxpool.Pool
}

// NewDocumentRepo creates a new instance of DocumentRepoImpl.
func NewDocumentRepo(db *pgxpool.Pool) *DocumentRepoImpl {
	return &DocumentRepoImpl{db: db}
}

// Insert creates the document and its first reference within a single transaction.
func (r *DocumentRepoImpl) Insert(ctx context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	f := req.Fields
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (digest, object_key, status, title, published_at, page_count, content_type,
			file_name, size_bytes, parse_incomplete, incomplete_reason, first_seen_at, last_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		req.Digest.String(), req.ObjectKey, entity.DocumentStatusStored,
		nullString(f.Title), f.PublishedAt, nullInt(f.PageCount), nullString(f.ContentType),
		nullString(f.FileName), f.SizeBytes, f.Incomplete, nullString(f.IncompleteReason), req.At,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, entity.ErrDigestExists
		}
		return nil, errors.Wrap(err, "insert document")
	}

	if err := insertReference(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit document")
	}

	return &entity.DocumentRecord{
		Digest:         req.Digest,
		ObjectKey:      req.ObjectKey,
		Status:         entity.DocumentStatusStored,
		Fields:         f,
		References:     []entity.SourceLink{req.Link()},
		FirstSeenAt:    req.At,
		LastVerifiedAt: req.At,
	}, nil
}

// Merge appends the reference to an existing document and fills fields that
// are still missing. Fields already set are never overwritten.
func (r *DocumentRepoImpl) Merge(ctx context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	f := req.Fields
	tag, err := tx.Exec(ctx, `
		UPDATE documents SET
			title = COALESCE(title, $2),
			published_at = COALESCE(published_at, $3),
			page_count = COALESCE(page_count, $4),
			content_type = COALESCE(content_type, $5),
			file_name = COALESCE(file_name, $6),
			parse_incomplete = parse_incomplete AND $7,
			incomplete_reason = CASE WHEN parse_incomplete AND $7 THEN incomplete_reason ELSE NULL END,
			last_verified_at = GREATEST(last_verified_at, $8)
		WHERE digest = $1`,
		req.Digest.String(), nullString(f.Title), f.PublishedAt, nullInt(f.PageCount),
		nullString(f.ContentType), nullString(f.FileName), f.Incomplete, req.At,
	)
	if err != nil {
		return nil, errors.Wrap(err, "merge document")
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.Wrapf(entity.ErrNotFound, "document %s", req.Digest)
	}

	if err := insertReference(ctx, tx, req); err != nil {
		return nil, err
	}

	record, err := findByDigest(ctx, tx, req.Digest)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit merge")
	}
	return record, nil
}

// FindByDigest retrieves a document and all its references.
func (r *DocumentRepoImpl) FindByDigest(ctx context.Context, d digest.Digest) (*entity.DocumentRecord, error) {
	return findByDigest(ctx, r.db, d)
}

// FindByReference returns the most recent document a reference resolved to.
func (r *DocumentRepoImpl) FindByReference(ctx context.Context, url string) (*entity.DocumentRecord, error) {
	var hex string
	err := r.db.QueryRow(ctx, `
		SELECT digest FROM document_references
		WHERE reference_url = $1
		ORDER BY discovered_at DESC
		LIMIT 1`, url).Scan(&hex)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(entity.ErrNotFound, "reference %s", url)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find reference")
	}
	d, err := digest.ParseHex(hex)
	if err != nil {
		return nil, err
	}
	return findByDigest(ctx, r.db, d)
}

// ObjectKeyExists reports whether any document points at objectKey.
func (r *DocumentRepoImpl) ObjectKeyExists(ctx context.Context, objectKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE object_key = $1)`, objectKey).Scan(&exists)
	return exists, errors.Wrap(err, "probe object key")
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func insertReference(ctx context.Context, tx pgx.Tx, req entity.CommitRequest) error {
	ref := req.Reference
	_, err := tx.Exec(ctx, `
		INSERT INTO document_references (digest, reference_url, host, parent_url, source, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (digest, reference_url) DO NOTHING`,
		req.Digest.String(), ref.URL, ref.Host, nullString(ref.Parent), nullString(ref.Source), req.At,
	)
	return errors.Wrap(err, "insert reference")
}

func findByDigest(ctx context.Context, q querier, d digest.Digest) (*entity.DocumentRecord, error) {
	record := entity.DocumentRecord{Digest: d}
	var (
		title, contentType, fileName, reason *string
		pageCount                            *int32
	)
	err := q.QueryRow(ctx, `
		SELECT object_key, status, title, published_at, page_count, content_type, file_name,
			size_bytes, parse_incomplete, incomplete_reason, first_seen_at, last_verified_at
		FROM documents WHERE digest = $1`, d.String()).Scan(
		&record.ObjectKey, &record.Status, &title, &record.Fields.PublishedAt, &pageCount,
		&contentType, &fileName, &record.Fields.SizeBytes, &record.Fields.Incomplete, &reason,
		&record.FirstSeenAt, &record.LastVerifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(entity.ErrNotFound, "document %s", d)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find document")
	}
	record.Fields.Title = deref(title)
	record.Fields.ContentType = deref(contentType)
	record.Fields.FileName = deref(fileName)
	record.Fields.IncompleteReason = deref(reason)
	if pageCount != nil {
		record.Fields.PageCount = int(*pageCount)
	}

	rows, err := q.Query(ctx, `
		SELECT reference_url, host, COALESCE(parent_url, ''), COALESCE(source, ''), discovered_at
		FROM document_references WHERE digest = $1
		ORDER BY discovered_at, id`, d.String())
	if err != nil {
		return nil, errors.Wrap(err, "list references")
	}
	defer rows.Close()

	for rows.Next() {
		var link entity.SourceLink
		if err := rows.Scan(&link.URL, &link.Host, &link.Parent, &link.Source, &link.DiscoveredAt); err != nil {
			return nil, err
		}
		record.References = append(record.References, link)
	}
	return &record, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
