package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/digest"
)

func commitRequest(t *testing.T, url, body string) entity.CommitRequest {
	t.Helper()
	ref, err := entity.NewReference(url, "test", "")
	require.NoError(t, err)
	d := digest.Compute([]byte(body))
	return entity.CommitRequest{Digest: d, Reference: ref, ObjectKey: ObjectKey("raw", d), At: time.Now()}
}

func TestCommitter_InsertThenMerge(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocuments()
	c := NewCommitter(docs, 3, time.Second, zaptest.NewLogger(t))

	rec, created, err := c.Commit(ctx, commitRequest(t, "https://src/a.pdf", "same"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, rec.References, 1)

	rec, created, err = c.Commit(ctx, commitRequest(t, "https://src/b.pdf", "same"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, rec.References, 2)
	assert.Equal(t, 1, docs.count())

	t.Run("recommitting the same reference is idempotent", func(t *testing.T) {
		rec, created, err := c.Commit(ctx, commitRequest(t, "https://src/b.pdf", "same"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Len(t, rec.References, 2)
	})
}

func TestCommitter_RetriesVanishedConflict(t *testing.T) {
	docs := newMemDocuments()
	docs.insertErrs = []error{entity.ErrDigestExists}
	docs.mergeErrs = []error{entity.ErrNotFound}
	c := NewCommitter(docs, 3, time.Second, zaptest.NewLogger(t))

	_, created, err := c.Commit(context.Background(), commitRequest(t, "https://src/a.pdf", "x"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCommitter_GivesUpAfterConflictRetries(t *testing.T) {
	docs := newMemDocuments()
	docs.insertErrs = []error{entity.ErrDigestExists, entity.ErrDigestExists}
	docs.mergeErrs = []error{entity.ErrNotFound, entity.ErrNotFound}
	c := NewCommitter(docs, 2, time.Second, zaptest.NewLogger(t))

	_, _, err := c.Commit(context.Background(), commitRequest(t, "https://src/a.pdf", "x"))
	require.Error(t, err)
	assert.True(t, entity.IsTransient(err))
}

func TestCommitter_DatabaseErrorIsTransient(t *testing.T) {
	docs := newMemDocuments()
	docs.insertErrs = []error{errors.New("connection refused")}
	c := NewCommitter(docs, 3, time.Second, zaptest.NewLogger(t))

	_, _, err := c.Commit(context.Background(), commitRequest(t, "https://src/a.pdf", "x"))
	e, ok := entity.AsError(err)
	require.True(t, ok)
	assert.Equal(t, entity.KindTransientCommit, e.Kind)
}

func TestCommitter_ConcurrentCommitsForOneDigest(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocuments()
	c := NewCommitter(docs, 3, time.Second, zaptest.NewLogger(t))

	const n = 16
	reqs := make([]entity.CommitRequest, n)
	for i := range reqs {
		reqs[i] = commitRequest(t, fmt.Sprintf("https://src/copy-%02d.pdf", i), "shared bytes")
	}

	var created atomic.Int32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := c.Commit(ctx, reqs[i])
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
	assert.Equal(t, int32(1), created.Load(), "exactly one commit creates the record")
	assert.Equal(t, 1, docs.count())

	rec, err := docs.FindByDigest(ctx, digest.Compute([]byte("shared bytes")))
	require.NoError(t, err)
	assert.Len(t, rec.References, n)
}
