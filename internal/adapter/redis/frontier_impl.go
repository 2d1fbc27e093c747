package redis

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/user/document-ingestion/internal/entity"
)

const (
	frontierKey = "ingest:frontier"
	overflowKey = "ingest:overflow"
)

// FrontierRepoImpl journals outstanding references in a Redis hash and keeps
// the overflow queue in a Redis list.
type FrontierRepoImpl struct {
	client *redis.Client
}

// NewFrontierRepo creates a new instance of FrontierRepoImpl.
func NewFrontierRepo(client *redis.Client) *FrontierRepoImpl {
	return &FrontierRepoImpl{client: client}
}

func (r *FrontierRepoImpl) Track(ctx context.Context, refs ...entity.DocumentReference) error {
	if len(refs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, 2*len(refs))
	for _, ref := range refs {
		raw, err := json.Marshal(ref)
		if err != nil {
			return errors.Wrap(err, "encode reference")
		}
		values = append(values, ref.Key(), raw)
	}
	return r.client.HSet(ctx, frontierKey, values...).Err()
}

func (r *FrontierRepoImpl) Untrack(ctx context.Context, key string) error {
	return r.client.HDel(ctx, frontierKey, key).Err()
}

func (r *FrontierRepoImpl) Pending(ctx context.Context) ([]entity.DocumentReference, error) {
	all, err := r.client.HGetAll(ctx, frontierKey).Result()
	if err != nil {
		return nil, err
	}
	refs := make([]entity.DocumentReference, 0, len(all))
	for key, raw := range all {
		var ref entity.DocumentReference
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return nil, errors.Wrapf(err, "decode frontier entry %s", key)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Spill adds a reference to the left side of the overflow list.
func (r *FrontierRepoImpl) Spill(ctx context.Context, ref entity.DocumentReference) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return errors.Wrap(err, "encode reference")
	}
	return r.client.LPush(ctx, overflowKey, raw).Err()
}

// Unspill removes a reference from the right side of the overflow list.
// RPop returns redis.Nil when the list is empty.
func (r *FrontierRepoImpl) Unspill(ctx context.Context) (entity.DocumentReference, bool, error) {
	raw, err := r.client.RPop(ctx, overflowKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.DocumentReference{}, false, nil
	}
	if err != nil {
		return entity.DocumentReference{}, false, err
	}
	var ref entity.DocumentReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return entity.DocumentReference{}, false, errors.Wrap(err, "decode spilled reference")
	}
	return ref, true, nil
}

// SpillSize returns the current number of items in the overflow list.
func (r *FrontierRepoImpl) SpillSize(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, overflowKey).Result()
}

func (r *FrontierRepoImpl) DropSpill(ctx context.Context) error {
	return r.client.Del(ctx, overflowKey).Err()
}
