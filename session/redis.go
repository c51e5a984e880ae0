package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/groupmesh/core"
)

// DefaultKeyPrefix prefixes every key written by RedisStore.
const DefaultKeyPrefix = "groupmesh:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// KeyPrefix namespaces the keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// TTL expires archives after the given duration. Zero keeps them.
	TTL time.Duration
}

// RedisStore keeps each archive as a JSON array under one key and tracks
// the known IDs in a set.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. The client's lifetime stays with
// the caller unless Close is called.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	if client == nil {
		return nil, core.NewConfigError("session", "redis client is required")
	}
	opts := RedisOptions{KeyPrefix: DefaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix + "transcript:", ttl: opts.TTL}, nil
}

// NewRedisStoreFromURL connects using a redis:// URL and verifies the
// connection.
func NewRedisStoreFromURL(ctx context.Context, url string, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.NewConfigError("session", "invalid redis url: %v", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, optFns...)
}

func (s *RedisStore) key(id string) string { return s.prefix + "data:" + id }

func (s *RedisStore) indexKey() string { return s.prefix + "index" }

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, id string, records []core.Record) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := core.MarshalRecords(records)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save transcript %s: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) ([]core.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript %s: %w", id, err)
	}
	return core.UnmarshalRecords(data)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store. IDs whose archive expired are pruned from the
// index.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	live := make([]string, 0, len(ids))
	var expired []any
	for i, id := range ids {
		if exists[i].Val() == 0 {
			expired = append(expired, id)
			continue
		}
		live = append(live, id)
	}
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune transcript index: %w", err)
		}
	}
	sort.Strings(live)
	return live, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
