package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleMemory(id string) *types.Memory {
	return &types.Memory{
		ID:        id,
		Schema:    types.SchemaDecision,
		Tier:      types.TierWorking,
		Content:   "we decided to use sqlite for the default backend",
		Summary:   "Topic: storage backend",
		ProjectID: "infra",
		Timestamp: time.Now().UTC(),
	}
}

func TestStoreAndGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, mem.Schema, got.Schema)
	assert.Equal(t, mem.ProjectID, got.ProjectID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))

	mem.Content = "updated content"
	require.NoError(t, store.Store(ctx, mem))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
}

func TestListFiltersByProjectAndTier(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := sampleMemory("mem-a")
	a.ProjectID = "proj-a"
	b := sampleMemory("mem-b")
	b.ProjectID = "proj-b"
	require.NoError(t, store.Store(ctx, a))
	require.NoError(t, store.Store(ctx, b))

	result, err := store.List(ctx, storage.ListOptions{ProjectID: "proj-a"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "mem-a", result.Items[0].ID)
}

func TestTouchIncrementsAccessCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))

	now := time.Now().UTC()
	require.NoError(t, store.Touch(ctx, "mem-1", now))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessed)
}

func TestDeleteRemovesMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))
	require.NoError(t, store.Delete(ctx, "mem-1"))

	_, err := store.Get(ctx, "mem-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVectorSearchRanksByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))
	require.NoError(t, store.UpsertMetadataEntry(ctx, mem, []float32{1, 0, 0}))

	other := sampleMemory("mem-2")
	require.NoError(t, store.Store(ctx, other))
	require.NoError(t, store.UpsertMetadataEntry(ctx, other, []float32{0, 1, 0}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, storage.SearchFilter{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "mem-1-metadata", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestUpdateMetadataMergesFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))
	require.NoError(t, store.UpsertMetadataEntry(ctx, mem, []float32{1, 0}))

	require.NoError(t, store.UpdateMetadata(ctx, "mem-1", map[string]interface{}{"consolidated": true}))

	var raw string
	err := store.db.QueryRowContext(ctx, "SELECT metadata FROM vector_entries WHERE id = ?", "mem-1-metadata").Scan(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw, "consolidated")
}

func TestDeleteByMemoryIDRemovesChunksAndMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := sampleMemory("mem-1")
	require.NoError(t, store.Store(ctx, mem))
	require.NoError(t, store.UpsertMetadataEntry(ctx, mem, []float32{1, 0}))
	chunk := types.NewChunk(mem, 0, "chunk text")
	chunk.Embedding = []float32{1, 0}
	require.NoError(t, store.UpsertChunk(ctx, chunk))

	require.NoError(t, store.DeleteByMemoryID(ctx, "mem-1"))

	results, err := store.Search(ctx, []float32{1, 0}, storage.SearchFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEncodeDecodeEmbeddingRoundTrips(t *testing.T) {
	v := []float32{0.5, -0.25, 1.75, 0}
	assert.Equal(t, v, decodeEmbedding(encodeEmbedding(v)))
}
