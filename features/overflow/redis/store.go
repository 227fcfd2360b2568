// Package redis implements overflow.Store on Redis so several processes can
// share externalized results. Values are JSON encoded and written once with
// SETNX under a configurable key prefix.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goa.design/clue/health"

	"goa.design/taskloop/runtime/agent/overflow"
)

// DefaultPrefix namespaces overflow keys.
const DefaultPrefix = "taskloop:overflow:"

// putAttempts bounds id regeneration when SETNX finds an existing key.
const putAttempts = 3

type (
	// Client is the subset of the go-redis client used by the store.
	Client interface {
		SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
		Get(ctx context.Context, key string) *redis.StringCmd
		Exists(ctx context.Context, keys ...string) *redis.IntCmd
		Ping(ctx context.Context) *redis.StatusCmd
	}

	// Options configures the store.
	Options struct {
		// Prefix is prepended to every key. Defaults to DefaultPrefix.
		Prefix string
		// TTL expires stored values. Zero keeps them forever.
		TTL time.Duration
	}

	// Store implements overflow.Store and health.Pinger.
	Store struct {
		rdb    Client
		prefix string
		ttl    time.Duration
		newID  func() string
	}
)

var (
	_ overflow.Store = (*Store)(nil)
	_ health.Pinger  = (*Store)(nil)
)

// New returns a store backed by rdb.
func New(rdb Client, opts Options) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: opts.TTL, newID: uuid.NewString}, nil
}

// Put implements overflow.Store.
func (s *Store) Put(ctx context.Context, value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode overflow value: %w", err)
	}
	for range putAttempts {
		id := s.newID()
		ok, err := s.rdb.SetNX(ctx, s.key(id), b, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store overflow value: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("store overflow value: no free id after %d attempts", putAttempts)
}

// Get implements overflow.Store. Values come back in their JSON-decoded form.
func (s *Store) Get(ctx context.Context, id string) (any, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, overflow.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load overflow value %q: %w", id, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode overflow value %q: %w", id, err)
	}
	return v, nil
}

// Has implements overflow.Store.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check overflow value %q: %w", id, err)
	}
	return n > 0, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "overflow-redis" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) key(id string) string { return s.prefix + id }
