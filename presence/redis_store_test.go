package presence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore connects to TCPSESSION_TEST_REDIS_ADDR (default
// localhost:6379) and skips when no server answers. Keys live under a
// per-test prefix that is removed afterwards.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("TCPSESSION_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	prefix := fmt.Sprintf("tcpsession-test:%s:%d:", t.Name(), time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})

	return NewRedisStore(client, prefix)
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 1, Server: "a", RemoteAddr: "127.0.0.1:1", ConnectedAt: at}, time.Minute))

	r, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.ConnID)
	assert.Equal(t, "127.0.0.1:1", r.RemoteAddr)
	assert.True(t, at.Equal(r.ConnectedAt))

	require.NoError(t, s.Delete(ctx, 42))
	_, err = s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_DeleteIf(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 2}, time.Minute))

	t.Run("predecessor connection leaves successor record", func(t *testing.T) {
		removed, err := s.DeleteIf(ctx, 42, 1)
		require.NoError(t, err)
		assert.False(t, removed)

		r, err := s.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), r.ConnID)
	})

	t.Run("owning connection removes record", func(t *testing.T) {
		removed, err := s.DeleteIf(ctx, 42, 2)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = s.Get(ctx, 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing record", func(t *testing.T) {
		removed, err := s.DeleteIf(ctx, 99, 1)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestRedisStore_List(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	for _, id := range []uint32{9, 3, 7} {
		require.NoError(t, s.Put(ctx, Record{ID: id, ConnID: id * 10}, time.Minute))
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := s.List(ctx)
			assert.NoError(t, err)
			if assert.Len(t, records, 3) {
				assert.Equal(t, []uint32{3, 7, 9}, []uint32{records[0].ID, records[1].ID, records[2].ID})
			}
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
