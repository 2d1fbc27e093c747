package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/document-ingestion/internal/entity"
)

// RunRepoImpl stores ingestion runs and their events in PostgreSQL.
type RunRepoImpl struct {
	db *pgxpool.Pool
}

// NewRunRepo creates a new instance of RunRepoImpl.
func NewRunRepo(db *pgxpool.Pool) *RunRepoImpl {
	return &RunRepoImpl{db: db}
}

func (r *RunRepoImpl) Create(ctx context.Context, run *entity.IngestionRun) error {
	sources := run.Sources
	if sources == nil {
		sources = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO ingestion_runs (id, status, sources, total_discovered, downloaded, failed,
			skipped_duplicate, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Status, sources, run.TotalDiscovered, run.Downloaded, run.Failed,
		run.SkippedDuplicate, run.StartedAt, run.CompletedAt,
	)
	return errors.Wrap(err, "create run")
}

func (r *RunRepoImpl) Update(ctx context.Context, run *entity.IngestionRun) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ingestion_runs SET
			status = $2, total_discovered = $3, downloaded = $4, failed = $5,
			skipped_duplicate = $6, completed_at = $7
		WHERE id = $1`,
		run.ID, run.Status, run.TotalDiscovered, run.Downloaded, run.Failed,
		run.SkippedDuplicate, run.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update run")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(entity.ErrNotFound, "run %s", run.ID)
	}
	return nil
}

const runColumns = `id, status, sources, total_discovered, downloaded, failed, skipped_duplicate, started_at, completed_at`

func (r *RunRepoImpl) Get(ctx context.Context, id uuid.UUID) (*entity.IngestionRun, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(entity.ErrNotFound, "run %s", id)
	}
	return run, err
}

func (r *RunRepoImpl) List(ctx context.Context, limit int) ([]*entity.IngestionRun, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []*entity.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *RunRepoImpl) AddEvent(ctx context.Context, ev *entity.IngestionEvent) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO ingestion_events (run_id, event_type, source_url, digest, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		ev.RunID, ev.Type, nullString(ev.SourceURL), nullString(ev.Digest), nullString(ev.Message), ev.CreatedAt,
	).Scan(&ev.ID)
	return errors.Wrap(err, "add event")
}

func (r *RunRepoImpl) ListEvents(ctx context.Context, runID uuid.UUID, limit, offset int) ([]*entity.IngestionEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, event_type, COALESCE(source_url, ''), COALESCE(digest, ''), COALESCE(message, ''), created_at
		FROM ingestion_events
		WHERE run_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, runID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var events []*entity.IngestionEvent
	for rows.Next() {
		var ev entity.IngestionEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.SourceURL, &ev.Digest, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanRun(row pgx.Row) (*entity.IngestionRun, error) {
	var run entity.IngestionRun
	err := row.Scan(&run.ID, &run.Status, &run.Sources, &run.TotalDiscovered, &run.Downloaded,
		&run.Failed, &run.SkippedDuplicate, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
