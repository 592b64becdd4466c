package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisRepository struct {
	rdb *redis.Client
}

// NewRedisRepository stores blobs as plain redis strings under a "pai:" prefix.
func NewRedisRepository(rdb *redis.Client) Repository {
	return &redisRepository{rdb: rdb}
}

func (r *redisRepository) blobKey(key string) string { return fmt.Sprintf("pai:%s", key) }

func (r *redisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, r.blobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not read key %q: %w", key, err)
	}
	return value, nil
}

func (r *redisRepository) Put(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.blobKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("could not write key %q: %w", key, err)
	}
	return nil
}
