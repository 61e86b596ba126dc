// Package redis persists the mirror selection in Redis for deployments that
// run several mirrorswitch instances against shared state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	Addr           string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration // total time allowed for connection attempts
	RetryInterval  time.Duration // initial wait between retries, doubles up to MaxWait
	MaxWait        time.Duration
}

// Store is a string key/value store backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis, retrying with exponential backoff until
// ConnectTimeout elapses.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 250 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	s := &Store{client: client, prefix: opts.KeyPrefix, logger: logger}
	if err := s.connect(ctx, opts); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) connect(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	s.logger.Info("connecting to redis", "addr", opts.Addr, "timeout", opts.ConnectTimeout)
	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		err := s.client.Ping(ctx).Err()
		if err == nil {
			if attempt > 1 {
				s.logger.Warn("connected to redis after retry", "addr", opts.Addr, "attempts", attempt)
			} else {
				s.logger.Info("connected to redis", "addr", opts.Addr)
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			s.logger.Warn("redis connection failed, retrying", "addr", opts.Addr, "attempt", attempt, "next_retry_in", wait, "error", err)
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Save stores value under key without expiry.
func (s *Store) Save(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Load returns the value stored under key. ok is false on a miss.
func (s *Store) Load(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return v, true, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
