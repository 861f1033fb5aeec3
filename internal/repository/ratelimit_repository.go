package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and starts its window on the first hit in one
// atomic server-side step.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore keeps fixed-window request counters in Redis.
type RedisCounterStore struct {
	client redis.Scripter
}

// NewRedisCounterStore constructs a Redis backed counter store.
func NewRedisCounterStore(client redis.Scripter) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Increment atomically adds one to key and returns the new value. The window
// starts at the first increment and the key expires when it elapses.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return count, nil
}

// PostgresCounterStore keeps fixed-window request counters in ai_rate_limits.
type PostgresCounterStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresCounterStore constructs a Postgres backed counter store.
func NewPostgresCounterStore(db *sqlx.DB) *PostgresCounterStore {
	return &PostgresCounterStore{db: db, now: time.Now}
}

// A single upsert holds the row lock for the read-modify-write, so concurrent
// callers for the same key are serialised by Postgres.
const incrementCounterQuery = `INSERT INTO ai_rate_limits (key, count, window_started_at, updated_at) VALUES ($1, 1, $2, $2)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN ai_rate_limits.window_started_at <= $3 THEN 1 ELSE ai_rate_limits.count + 1 END,
	window_started_at = CASE WHEN ai_rate_limits.window_started_at <= $3 THEN EXCLUDED.window_started_at ELSE ai_rate_limits.window_started_at END,
	updated_at = EXCLUDED.updated_at
RETURNING count`

// Increment atomically adds one to key, resetting the window once it has elapsed.
func (s *PostgresCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.now().UTC()
	var count int64
	if err := s.db.GetContext(ctx, &count, incrementCounterQuery, key, now, now.Add(-window)); err != nil {
		return 0, fmt.Errorf("postgres increment %s: %w", key, err)
	}
	return count, nil
}
