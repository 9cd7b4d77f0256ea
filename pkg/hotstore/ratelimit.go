package hotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/redis/go-redis/v9"
)

func bucketKey(service, modelName string) string {
	return fmt.Sprintf("forge:ratelimit:%s:%s", service, modelName)
}

// GetBucket loads the current bucket state for a {service,model} pair.
// Returns apperr.ErrNotFound if no bucket has been seeded yet, so
// callers can initialize one at full capacity.
func (c *Client) GetBucket(ctx context.Context, service, modelName string) (*model.RateLimitBucket, error) {
	raw, err := c.rdb.Get(ctx, bucketKey(service, modelName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit bucket: %w", err)
	}
	var bucket model.RateLimitBucket
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit bucket: %w", err)
	}
	return &bucket, nil
}

// CompareAndSwapBucket atomically replaces the bucket only if its
// UpdatedAt still matches expectedUpdatedAt (zero value means "absent"),
// giving pkg/ratelimit CAS semantics for concurrent refill/consume
// under a single hot-store value, per spec's "Updated atomically"
// invariant. Returns apperr.ErrConflict on a lost race so the caller
// can reload and retry.
func (c *Client) CompareAndSwapBucket(ctx context.Context, service, modelName string, expectedUpdatedAt time.Time, next model.RateLimitBucket) error {
	key := bucketKey(service, modelName)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if !expectedUpdatedAt.IsZero() {
				return apperr.ErrConflict
			}
		case err != nil:
			return fmt.Errorf("read bucket for cas: %w", err)
		default:
			var current model.RateLimitBucket
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("unmarshal bucket for cas: %w", err)
			}
			if !current.UpdatedAt.Equal(expectedUpdatedAt) {
				return apperr.ErrConflict
			}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal next bucket: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err := c.rdb.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.ErrConflict
	}
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return fmt.Errorf("cas rate limit bucket: %w", err)
	}
	return err
}
