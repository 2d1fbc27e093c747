package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/usecase"
	"github.com/user/document-ingestion/pkg/digest"
)

func TestStatements(t *testing.T) {
	stmts := statements(Schema())
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, ";")
		assert.NotContains(t, s, "--")
	}
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS documents")
}

// newTestPool connects to INGEST_TEST_POSTGRES_URL and resets the schema, or skips.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("INGEST_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("INGEST_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS ingestion_events, ingestion_runs, ingestion_failures, document_references, documents`)
	require.NoError(t, err)
	require.NoError(t, ApplySchema(ctx, pool))
	require.NoError(t, ApplySchema(ctx, pool), "schema must be idempotent")
	return pool
}

func commitReq(t *testing.T, body, rawURL string, fields entity.ExtractedFields, at time.Time) entity.CommitRequest {
	t.Helper()
	ref, err := entity.NewReference(rawURL, "court-records", "")
	require.NoError(t, err)
	d := digest.Compute([]byte(body))
	return entity.CommitRequest{Digest: d, Reference: ref, Fields: fields, ObjectKey: "raw/sha256/" + d.String(), At: at}
}

func TestDocumentRepo_InsertThenMerge(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepo(newTestPool(t))
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	first := commitReq(t, "same bytes", "https://src/a.pdf", entity.ExtractedFields{PageCount: 2, SizeBytes: 10}, t0)
	rec, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusStored, rec.Status)

	second := commitReq(t, "same bytes", "https://src/b.pdf", entity.ExtractedFields{Title: "Filing", PageCount: 9, SizeBytes: 10}, t0.Add(time.Minute))
	_, err = repo.Insert(ctx, second)
	require.True(t, errors.Is(err, entity.ErrDigestExists))

	merged, err := repo.Merge(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "Filing", merged.Fields.Title, "missing field filled")
	assert.Equal(t, 2, merged.Fields.PageCount, "existing field kept")
	assert.True(t, merged.LastVerifiedAt.After(merged.FirstSeenAt))
	require.Len(t, merged.References, 2)

	// Merging the same reference again does not duplicate it.
	merged, err = repo.Merge(ctx, second)
	require.NoError(t, err)
	assert.Len(t, merged.References, 2)

	byRef, err := repo.FindByReference(ctx, "https://src/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, first.Digest, byRef.Digest)

	_, err = repo.FindByReference(ctx, "https://src/none.pdf")
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	ok, err := repo.ObjectKeyExists(ctx, first.ObjectKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDocumentRepo_ConcurrentCommitsForOneDigest(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepo(newTestPool(t))
	committer := usecase.NewCommitter(repo, 5, 5*time.Second, zaptest.NewLogger(t))
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	const n = 12
	reqs := make([]entity.CommitRequest, n)
	for i := range reqs {
		reqs[i] = commitReq(t, "released twice", fmt.Sprintf("https://src/dup-%02d.pdf", i), entity.ExtractedFields{SizeBytes: 14}, t0)
	}

	var created atomic.Int32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := committer.Commit(ctx, reqs[i])
			errs[i] = err
			if isNew {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), created.Load())

	rec, err := repo.FindByDigest(ctx, reqs[0].Digest)
	require.NoError(t, err)
	assert.Len(t, rec.References, n)

	var rows int
	require.NoError(t, repo.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestFailureRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewFailureRepo(newTestPool(t))
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	f := &entity.TerminalFailure{
		ReferenceURL: "https://src/404.pdf", Host: "src", ErrorKind: entity.KindPermanentFetch,
		LastError: "HTTP 404", StatusCode: 404, AttemptCount: 1, FirstFailedAt: t0, LastAttemptAt: t0,
	}
	require.NoError(t, repo.SaveOrUpdate(ctx, f))

	f.AttemptCount = 2
	f.FirstFailedAt = t0.Add(time.Hour)
	f.LastAttemptAt = t0.Add(time.Hour)
	require.NoError(t, repo.SaveOrUpdate(ctx, f))

	got, err := repo.FindByURL(ctx, f.ReferenceURL)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)
	assert.True(t, got.FirstFailedAt.Equal(t0), "first failure time is kept")

	list, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, f.ReferenceURL))
	_, err = repo.FindByURL(ctx, f.ReferenceURL)
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestRunRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(newTestPool(t))

	run := &entity.IngestionRun{ID: uuid.New(), Status: entity.RunStatusRunning, Sources: []string{"foia"}, StartedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, run))

	run.Downloaded = 3
	run.Status = entity.RunStatusCompleted
	done := time.Now().UTC()
	run.CompletedAt = &done
	require.NoError(t, repo.Update(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Downloaded)
	assert.Equal(t, []string{"foia"}, got.Sources)

	ev := &entity.IngestionEvent{RunID: run.ID, Type: entity.EventDocumentStored, SourceURL: "https://src/a.pdf", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.AddEvent(ctx, ev))
	assert.NotZero(t, ev.ID)

	events, err := repo.ListEvents(ctx, run.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.EventDocumentStored, events[0].Type)

	_, err = repo.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}
