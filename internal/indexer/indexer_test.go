package indexer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/internal/storage/sqlite"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

func newTestIndexer(t *testing.T) (*indexer.Indexer, *sqlite.MemoryStore) {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return indexer.New(store, sqlite.NewLexicalIndex(store)), store
}

func sampleMemory(id string) *types.Memory {
	return &types.Memory{
		ID:        id,
		Schema:    types.SchemaIncident,
		Tier:      types.TierWorking,
		Content:   "deploy broke on main, rolled back",
		Summary:   "Topic: deploy rollback",
		ProjectID: "infra",
		Timestamp: time.Now().UTC(),
	}
}

func sampleChunks(memoryID string) []types.Chunk {
	mem := sampleMemory(memoryID)
	return []types.Chunk{
		func() types.Chunk {
			c := types.NewChunk(mem, 0, "deploy broke on main")
			c.Embedding = []float32{0.1, 0.2, 0.3}
			return c
		}(),
		func() types.Chunk {
			c := types.NewChunk(mem, 1, "rolled back to previous release")
			c.Embedding = []float32{0.4, 0.5, 0.6}
			return c
		}(),
	}
}

func TestIndexWritesMetadataAndChunksToVectorAndLexical(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer(t)

	mem := sampleMemory("mem-1")
	chunks := sampleChunks("mem-1")

	require.NoError(t, ix.Index(ctx, mem, chunks, []float32{0.7, 0.8, 0.9}))

	results, err := store.Search(ctx, []float32{0.1, 0.2, 0.3}, storage.SearchFilter{}, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	lexical := sqlite.NewLexicalIndex(store)
	hits, err := lexical.Search(ctx, "rolled back", storage.SearchFilter{}, 10, false)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestDeleteByMemoryIDRemovesFromBothStores(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer(t)

	mem := sampleMemory("mem-2")
	chunks := sampleChunks("mem-2")
	require.NoError(t, ix.Index(ctx, mem, chunks, []float32{0.7, 0.8, 0.9}))

	require.NoError(t, ix.DeleteByMemoryID(ctx, "mem-2"))

	lexical := sqlite.NewLexicalIndex(store)
	hits, err := lexical.Search(ctx, "rolled back", storage.SearchFilter{}, 10, false)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteByMemoryIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndexer(t)

	require.NoError(t, ix.DeleteByMemoryID(ctx, "never-indexed"))
	require.NoError(t, ix.DeleteByMemoryID(ctx, "never-indexed"))
}

func TestUpdateMetadataDoesNotTouchChunks(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer(t)

	mem := sampleMemory("mem-3")
	chunks := sampleChunks("mem-3")
	require.NoError(t, ix.Index(ctx, mem, chunks, []float32{0.7, 0.8, 0.9}))

	require.NoError(t, ix.UpdateMetadata(ctx, "mem-3", map[string]interface{}{"reviewed": true}))

	lexical := sqlite.NewLexicalIndex(store)
	hits, err := lexical.Search(ctx, "rolled back", storage.SearchFilter{}, 10, false)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}
