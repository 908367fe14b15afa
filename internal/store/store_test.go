package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type article struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func TestPutAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "pillars", "edge-ai", article{Title: "Edge AI", Status: "published"}))

	var got article
	require.NoError(t, s.Get(ctx, "pillars", "edge-ai", &got))
	assert.Equal(t, article{Title: "Edge AI", Status: "published"}, got)
}

func TestPutOverwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "pillars", "edge-ai", article{Title: "v1", Status: "vetoed"}))
	require.NoError(t, s.Put(ctx, "pillars", "edge-ai", article{Title: "v2", Status: "published"}))

	var got article
	require.NoError(t, s.Get(ctx, "pillars", "edge-ai", &got))
	assert.Equal(t, "v2", got.Title)

	records, err := s.List(ctx, "pillars", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1, "overwrite must not create a second document")
	assert.False(t, records[0].UpdatedAt.Before(records[0].CreatedAt))
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)

	var got article
	err := s.Get(context.Background(), "pillars", "missing", &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "pillars", "k", article{Title: "pillar"}))
	require.NoError(t, s.Put(ctx, "protocols", "k", article{Title: "protocol"}))

	var got article
	require.NoError(t, s.Get(ctx, "protocols", "k", &got))
	assert.Equal(t, "protocol", got.Title)
}

func TestAppendPreservesOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	keys := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		key, err := s.Append(ctx, "phase_logs", map[string]any{"seq": i})
		require.NoError(t, err)
		keys = append(keys, key)
	}
	assert.Len(t, keys, 5)

	records, err := s.List(ctx, "phase_logs", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, keys[i], r.Key)
		var doc map[string]int
		require.NoError(t, r.Decode(&doc))
		assert.Equal(t, i, doc["seq"])
	}

	limited, err := s.List(ctx, "phase_logs", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestConcurrentAppend(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, "review_queue", map[string]string{"n": fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records, err := s.List(ctx, "review_queue", 0)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "pillars", "only-a", article{Title: "a"}))

	var got article
	assert.ErrorIs(t, b.Get(ctx, "pillars", "only-a", &got), ErrNotFound)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "agentchain.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "pillars", "edge-ai", article{Title: "Edge AI"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var got article
	require.NoError(t, s.Get(ctx, "pillars", "edge-ai", &got))
	assert.Equal(t, "Edge AI", got.Title)
}
