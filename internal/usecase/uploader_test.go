package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/digest"
	"github.com/user/document-ingestion/pkg/metrics"
)

func TestObjectKey(t *testing.T) {
	d := digest.Compute([]byte("%PDF-1.4 court filing"))
	h := d.String()

	key := ObjectKey("raw", d)
	assert.Equal(t, "raw/sha256/"+h[0:2]+"/"+h[2:4]+"/"+h, key)
	assert.Equal(t, key, ObjectKey("raw", digest.Compute([]byte("%PDF-1.4 court filing"))), "same bytes, same key")
	assert.Equal(t, "sha256/"+h[0:2]+"/"+h[2:4]+"/"+h, ObjectKey("", d))
}

func TestUploader_Upload(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	store := newMemStore()
	u := NewUploader(store, "raw", time.Second, m, zaptest.NewLogger(t))
	body := []byte("%PDF body")
	d := digest.Compute(body)

	key, written, err := u.Upload(ctx, d, body, "application/pdf")
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, ObjectKey("raw", d), key)

	_, written, err = u.Upload(ctx, d, body, "application/pdf")
	require.NoError(t, err)
	assert.False(t, written, "existing object is not rewritten")
	assert.Equal(t, 1, store.putCount())
	assert.Equal(t, float64(len(body)), testutil.ToFloat64(m.BytesUploaded))
}

func TestUploader_ClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	u := NewUploader(store, "raw", time.Second, metrics.New(prometheus.NewRegistry()), zaptest.NewLogger(t))
	d := digest.Compute([]byte("x"))

	store.putErrs = []error{errors.New("connection reset")}
	_, _, err := u.Upload(ctx, d, []byte("x"), "")
	e, ok := entity.AsError(err)
	require.True(t, ok)
	assert.Equal(t, entity.KindTransientStorage, e.Kind, "unclassified errors are retryable")

	store.putErrs = []error{entity.PermanentStorageError("put", errors.New("access denied"))}
	_, _, err = u.Upload(ctx, d, []byte("x"), "")
	e, ok = entity.AsError(err)
	require.True(t, ok)
	assert.Equal(t, entity.KindPermanentStorage, e.Kind)
}

func TestUploader_ConcurrentUploadsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.existsDelay = 20 * time.Millisecond
	u := NewUploader(store, "raw", time.Second, metrics.New(prometheus.NewRegistry()), zaptest.NewLogger(t))
	body := []byte("%PDF-1.4 shared exhibit")
	d := digest.Compute(body)

	var wg sync.WaitGroup
	keys := make([]string, 8)
	errs := make([]error, 8)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], _, errs[i] = u.Upload(ctx, d, body, "application/pdf")
		}(i)
	}
	wg.Wait()

	for i := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, ObjectKey("raw", d), keys[i])
	}
	assert.Equal(t, 1, store.putCount())
}

func TestUploader_LostConditionalPutIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	u := NewUploader(store, "raw", time.Second, metrics.New(prometheus.NewRegistry()), zaptest.NewLogger(t))
	d := digest.Compute([]byte("x"))

	store.putErrs = []error{errors.Wrap(entity.ErrObjectExists, "written by another process")}
	key, written, err := u.Upload(ctx, d, []byte("x"), "")
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, ObjectKey("raw", d), key)
}
