package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterStore(client), srv
}

func TestRedisCounterStoreIncrementsAndExpires(t *testing.T) {
	store, srv := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "assistant:ratelimit:u1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, time.Hour, srv.TTL("assistant:ratelimit:u1"))

	srv.FastForward(time.Hour + time.Second)

	got, err := store.Increment(ctx, "assistant:ratelimit:u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRedisCounterStoreConcurrentIncrementsAreDistinct(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	const workers = 40
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.Increment(ctx, "assistant:ratelimit:u2", time.Minute)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers)
	for n := range results {
		assert.False(t, seen[n], "count %d handed out twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}

func TestRedisCounterStoreKeysAreIndependent(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "assistant:ratelimit:a", time.Hour)
	require.NoError(t, err)
	n, err := store.Increment(ctx, "assistant:ratelimit:b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresCounterStoreSingleUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	store := NewPostgresCounterStore(db)
	fixed := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	mock.ExpectQuery("INSERT INTO ai_rate_limits .* ON CONFLICT \\(key\\) DO UPDATE .* RETURNING count").
		WithArgs("assistant:ratelimit:u1", fixed, fixed.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(31))

	n, err := store.Increment(context.Background(), "assistant:ratelimit:u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(31), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
