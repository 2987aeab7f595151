package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartstore/pkg/database"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

// Store implements blob.Store using Redis string values.
// Every Set refreshes the key's TTL, so an abandoned cart expires ttl after
// its last mutation. A zero ttl keeps values forever.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis-backed blob store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "GetBlob", "GET")
	defer func() { end(err) }()

	data, err = s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("blob", key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get blob: %w", err)
	}
	return data, nil
}

// Set overwrites the blob stored under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "SetBlob", "SET")
	defer func() { end(err) }()

	if err = s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set blob: %w", err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
