package licensestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "mflow:license:"

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the Redis key prefix. Default: "mflow:license:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		s.prefix = prefix
	}
}

// Redis implements Store using Redis, one JSON document per email.
type Redis struct {
	client *redis.Client
	prefix string

	// watch runs an optimistic transaction; overridable in tests.
	watch func(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// NewRedis creates a new Redis-backed license store.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.watch = client.Watch
	return s
}

func (s *Redis) key(email string) string {
	return s.prefix + email
}

func (s *Redis) Get(ctx context.Context, email string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get license: %v", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode license: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *Redis) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode license: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.Email), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: put license: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: delete license: %v", ErrUnavailable, err)
	}
	return nil
}

// BindDevice performs the conditional first-activation write inside a
// WATCH transaction: if the document changes between the unbound check and
// the write, the transaction aborts and the binding is retried or reported
// as lost.
func (s *Redis) BindDevice(ctx context.Context, email, deviceID, licenseKey string) error {
	key := s.key(email)

	bind := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: bind device: %v", ErrUnavailable, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: decode license: %v", ErrUnavailable, err)
		}
		if rec.Bound() {
			return ErrAlreadyBound
		}
		rec.DeviceID = deviceID
		rec.LicenseKey = licenseKey
		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode license: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.watch(ctx, bind, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent write, re-check the binding
		}
		return err
	}
	// Retries exhausted without ever observing a bound record. This is
	// write contention, not a lost race: report it as retryable.
	return fmt.Errorf("%w: bind device: transaction contention", ErrUnavailable)
}

func (s *Redis) Close(_ context.Context) error {
	return nil // user manages the redis.Client lifecycle
}
