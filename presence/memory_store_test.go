package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 1, Server: "a", RemoteAddr: "127.0.0.1:1", ConnectedAt: at}, 0))

	r, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, Record{ID: 42, ConnID: 1, Server: "a", RemoteAddr: "127.0.0.1:1", ConnectedAt: at}, r)

	_, err = s.Get(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 1}, 0))
	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 2}, 0))

	r, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.ConnID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 1}, 0))
	require.NoError(t, s.Delete(ctx, 42))
	require.NoError(t, s.Delete(ctx, 42))

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteIf(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{ID: 42, ConnID: 2}, 0))

	t.Run("stale connection keeps record", func(t *testing.T) {
		removed, err := s.DeleteIf(ctx, 42, 1)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = s.Get(ctx, 42)
		assert.NoError(t, err)
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

func TestMemoryStore_ListSorted(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	for _, id := range []uint32{30, 10, 20} {
		require.NoError(t, s.Put(ctx, Record{ID: id}, 0))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{records[0].ID, records[1].ID, records[2].ID})
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{ID: 1}, 20*time.Millisecond))
	require.NoError(t, s.Put(ctx, Record{ID: 2}, 0))

	time.Sleep(50 * time.Millisecond)

	_, err := s.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := uint32(1); i <= 50; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			_ = s.Put(ctx, Record{ID: id, ConnID: id}, 0)
			_, _ = s.DeleteIf(ctx, id, id+1)
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
