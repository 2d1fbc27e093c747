package usecase

import (
	"context"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/repository"
	"github.com/user/document-ingestion/pkg/digest"
	"github.com/user/document-ingestion/pkg/metrics"
)

// ObjectKey derives the content-addressed key for d:
// <prefix>/sha256/<hex[0:2]>/<hex[2:4]>/<hex>.
func ObjectKey(prefix string, d digest.Digest) string {
	h := d.String()
	return path.Join(prefix, "sha256", h[0:2], h[2:4], h)
}

// Uploader writes raw document bytes to the object store exactly once per
// digest. Concurrent uploads of one digest share a single store call, and
// the store's conditional put settles races with other processes.
type Uploader struct {
	store   repository.ObjectStore
	prefix  string
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
	flight  singleflight.Group
}

func NewUploader(store repository.ObjectStore, prefix string, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Uploader {
	return &Uploader{store: store, prefix: prefix, timeout: timeout, metrics: m, log: log.Named("uploader")}
}

// Upload stores data under its content key. written is false when an object
// already existed at that key and the put was skipped; callers that joined
// an in-flight upload of the same digest share its result. Errors are
// classified storage errors.
func (u *Uploader) Upload(ctx context.Context, d digest.Digest, data []byte, contentType string) (key string, written bool, err error) {
	key = ObjectKey(u.prefix, d)
	v, err, _ := u.flight.Do(d.String(), func() (any, error) {
		return u.put(ctx, key, data, contentType)
	})
	if err != nil {
		return key, false, err
	}
	return key, v.(bool), nil
}

func (u *Uploader) put(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	exists, err := u.store.Exists(ctx, key)
	if err != nil {
		return false, classifyStorage("head", err)
	}
	if exists {
		u.log.Debug("object already present", zap.String("key", key))
		return false, nil
	}

	if err := u.store.Put(ctx, key, data, contentType); err != nil {
		if errors.Is(err, entity.ErrObjectExists) {
			u.log.Debug("object written concurrently", zap.String("key", key))
			return false, nil
		}
		return false, classifyStorage("put", err)
	}
	u.metrics.BytesUploaded.Add(float64(len(data)))
	u.log.Debug("object written", zap.String("key", key), zap.Int("bytes", len(data)))
	return true, nil
}

// classifyStorage keeps adapter classification and treats anything else as retryable.
func classifyStorage(op string, err error) error {
	if _, ok := entity.AsError(err); ok {
		return err
	}
	return entity.TransientStorageError(op, err)
}
