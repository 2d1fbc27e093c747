package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/repository"
)

// Committer records a stored document and its reference, converging
// concurrent commits of the same digest onto one record.
type Committer struct {
	docs    repository.DocumentRepository
	retries int
	timeout time.Duration
	log     *zap.Logger
}

func NewCommitter(docs repository.DocumentRepository, conflictRetries int, timeout time.Duration, log *zap.Logger) *Committer {
	if conflictRetries < 1 {
		conflictRetries = 1
	}
	return &Committer{docs: docs, retries: conflictRetries, timeout: timeout, log: log.Named("committer")}
}

// Commit inserts a record for req, or merges req's reference into the
// existing record with the same digest. created reports which happened.
// Failures are returned as transient commit errors.
func (c *Committer) Commit(ctx context.Context, req entity.CommitRequest) (rec *entity.DocumentRecord, created bool, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	for i := 0; i < c.retries; i++ {
		rec, err = c.docs.Insert(ctx, req)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, entity.ErrDigestExists) {
			return nil, false, entity.TransientCommitError(err)
		}

		rec, err = c.docs.Merge(ctx, req)
		if err == nil {
			return rec, false, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, false, entity.TransientCommitError(err)
		}
		// The conflicting row vanished between insert and merge; go again.
		c.log.Debug("digest conflict retry", zap.String("digest", req.Digest.String()), zap.Int("try", i+1))
	}
	return nil, false, entity.TransientCommitError(errors.Newf("digest %s: conflict unresolved after %d tries", req.Digest, c.retries))
}
