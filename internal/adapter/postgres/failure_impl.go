package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/document-ingestion/internal/entity"
)

// FailureRepoImpl provides a concrete implementation for the FailureRepository interface using PostgreSQL.
type FailureRepoImpl struct {
	db *pgxpool.Pool
}

// NewFailureRepo creates a new instance of FailureRepoImpl.
func NewFailureRepo(db *pgxpool.Pool) *FailureRepoImpl {
	return &FailureRepoImpl{db: db}
}

// SaveOrUpdate creates or updates the record for a failed reference.
// first_failed_at is kept from the earliest failure.
func (r *FailureRepoImpl) SaveOrUpdate(ctx context.Context, f *entity.TerminalFailure) error {
	query := `
		INSERT INTO ingestion_failures (reference_url, host, source, error_kind, last_error, status_code,
			attempt_count, first_failed_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (reference_url) DO UPDATE SET
			error_kind = EXCLUDED.error_kind,
			last_error = EXCLUDED.last_error,
			status_code = EXCLUDED.status_code,
			attempt_count = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at;
	`
	_, err := r.db.Exec(ctx, query,
		f.ReferenceURL,
		f.Host,
		nullString(f.Source),
		string(f.ErrorKind),
		f.LastError,
		nullInt(f.StatusCode),
		f.AttemptCount,
		f.FirstFailedAt,
		f.LastAttemptAt,
	)
	return errors.Wrap(err, "save failure")
}

const failureColumns = `reference_url, host, COALESCE(source, ''), error_kind, last_error,
	COALESCE(status_code, 0), attempt_count, first_failed_at, last_attempt_at`

// List retrieves failures, most recent attempt first.
func (r *FailureRepoImpl) List(ctx context.Context, limit, offset int) ([]*entity.TerminalFailure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+failureColumns+`
		FROM ingestion_failures
		ORDER BY last_attempt_at DESC
		LIMIT $1 OFFSET $2;`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list failures")
	}
	defer rows.Close()

	var failures []*entity.TerminalFailure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// FindByURL retrieves the failure record for one reference.
func (r *FailureRepoImpl) FindByURL(ctx context.Context, url string) (*entity.TerminalFailure, error) {
	row := r.db.QueryRow(ctx, `SELECT `+failureColumns+` FROM ingestion_failures WHERE reference_url = $1;`, url)
	f, err := scanFailure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(entity.ErrNotFound, "failure %s", url)
	}
	return f, err
}

// Delete removes a failure record, typically after a later successful ingestion.
func (r *FailureRepoImpl) Delete(ctx context.Context, url string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM ingestion_failures WHERE reference_url = $1;`, url)
	return errors.Wrap(err, "delete failure")
}

func scanFailure(row pgx.Row) (*entity.TerminalFailure, error) {
	var (
		f    entity.TerminalFailure
		kind string
	)
	if err := row.Scan(
		&f.ReferenceURL,
		&f.Host,
		&f.Source,
		&kind,
		&f.LastError,
		&f.StatusCode,
		&f.AttemptCount,
		&f.FirstFailedAt,
		&f.LastAttemptAt,
	); err != nil {
		return nil, err
	}
	f.ErrorKind = entity.ErrorKind(kind)
	return &f, nil
}
