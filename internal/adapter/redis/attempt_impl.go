package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/utils"
)

const attemptKeyPrefix = "ingest:attempt:"

// AttemptRepoImpl checkpoints ingestion attempts as JSON values with a TTL.
type AttemptRepoImpl struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAttemptRepo creates a new instance of AttemptRepoImpl. A zero ttl keeps checkpoints forever.
func NewAttemptRepo(client *redis.Client, ttl time.Duration) *AttemptRepoImpl {
	return &AttemptRepoImpl{client: client, ttl: ttl}
}

// generateKey hashes the reference key so arbitrary URLs make safe Redis keys.
func (r *AttemptRepoImpl) generateKey(key string) string {
	return fmt.Sprintf("%s%s", attemptKeyPrefix, utils.HashURL(key))
}

// Load returns nil, nil when no checkpoint exists.
func (r *AttemptRepoImpl) Load(ctx context.Context, key string) (*entity.IngestionAttempt, error) {
	raw, err := r.client.Get(ctx, r.generateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}

	var attempt entity.IngestionAttempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return &attempt, nil
}

// Save overwrites the checkpoint and refreshes its TTL.
func (r *AttemptRepoImpl) Save(ctx context.Context, attempt *entity.IngestionAttempt) error {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	// SET with expiry is atomic.
	return errors.Wrap(r.client.Set(ctx, r.generateKey(attempt.Reference.Key()), raw, r.ttl).Err(), "save checkpoint")
}
