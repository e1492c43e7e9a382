package consolidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/consolidation"
	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/storage/sqlite"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMemory(t *testing.T, ctx context.Context, store *sqlite.MemoryStore, ix *indexer.Indexer, mem *types.Memory, embedding []float32) {
	t.Helper()
	require.NoError(t, store.Store(ctx, mem))
	chunk := types.NewChunk(mem, 0, mem.Content)
	chunk.Embedding = embedding
	require.NoError(t, ix.Index(ctx, mem, []types.Chunk{chunk}, embedding))
}

func TestMigrateWorkingMemoryPromotesStaleEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)
	now := time.Now().UTC()

	stale := &types.Memory{
		ID: "mem-stale", Schema: types.SchemaSnippet, Tier: types.TierWorking,
		Content: "old working memory", Summary: "stale", Timestamp: now.Add(-9 * time.Hour),
	}
	fresh := &types.Memory{
		ID: "mem-fresh", Schema: types.SchemaSnippet, Tier: types.TierWorking,
		Content: "new working memory", Summary: "fresh", Timestamp: now.Add(-time.Hour),
	}
	seedMemory(t, ctx, store, ix, stale, []float32{1, 0, 0})
	seedMemory(t, ctx, store, ix, fresh, []float32{0, 1, 0})

	svc := consolidation.New(store, store, lexical, ix, consolidation.DefaultConfig())
	stats, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MigratedCount)

	got, err := store.Get(ctx, "mem-stale")
	require.NoError(t, err)
	assert.Equal(t, types.TierShortTerm, got.Tier)

	stillWorking, err := store.Get(ctx, "mem-fresh")
	require.NoError(t, err)
	assert.Equal(t, types.TierWorking, stillWorking.Tier)
}

func TestConsolidatePromotesImportantShortTermMemories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)
	now := time.Now().UTC()

	important := &types.Memory{
		ID: "mem-important", Schema: types.SchemaDecision, Tier: types.TierShortTerm,
		Content: "picked the consensus algorithm for the cluster", Summary: "consensus choice",
		Timestamp: now.Add(-3 * time.Hour), Importance: 0.9,
	}
	mundane := &types.Memory{
		ID: "mem-mundane", Schema: types.SchemaSnippet, Tier: types.TierShortTerm,
		Content: "renamed a variable", Summary: "rename",
		Timestamp: now.Add(-3 * time.Hour), Importance: 0.2,
	}
	seedMemory(t, ctx, store, ix, important, []float32{1, 0, 0})
	seedMemory(t, ctx, store, ix, mundane, []float32{0, 1, 0})

	svc := consolidation.New(store, store, lexical, ix, consolidation.DefaultConfig())
	stats, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PromotedCount)

	promoted, err := store.Get(ctx, "mem-important")
	require.NoError(t, err)
	assert.Equal(t, types.TierLongTerm, promoted.Tier)

	stillShortTerm, err := store.Get(ctx, "mem-mundane")
	require.NoError(t, err)
	assert.Equal(t, types.TierShortTerm, stillShortTerm.Tier)
}

func TestConsolidateClustersAndCompressesSimilarMemories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)
	now := time.Now().UTC()

	a := &types.Memory{
		ID: "mem-a", Schema: types.SchemaDecision, Tier: types.TierShortTerm,
		Content: "chose postgres for the new service", Summary: "db choice",
		Timestamp: now.Add(-2 * time.Hour), Importance: 0.6,
	}
	b := &types.Memory{
		ID: "mem-b", Schema: types.SchemaDecision, Tier: types.TierShortTerm,
		Content: "chose postgres for the new service, longer detail here",
		Summary: "db choice detail", Timestamp: now.Add(-time.Hour), Importance: 0.4,
	}
	unrelated := &types.Memory{
		ID: "mem-c", Schema: types.SchemaSnippet, Tier: types.TierShortTerm,
		Content: "unrelated snippet about caching", Summary: "cache snippet",
		Timestamp: now, Importance: 0.5,
	}
	seedMemory(t, ctx, store, ix, a, []float32{1, 0, 0})
	seedMemory(t, ctx, store, ix, b, []float32{1, 0, 0.001})
	seedMemory(t, ctx, store, ix, unrelated, []float32{0, 1, 0})

	svc := consolidation.New(store, store, lexical, ix, consolidation.DefaultConfig())
	stats, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RepresentativesSelected)
	assert.Equal(t, 1, stats.MemoriesCompressed)

	repMem, err := store.Get(ctx, "mem-a")
	require.NoError(t, err)
	assert.False(t, repMem.Compressed)
	assert.Equal(t, true, repMem.Metadata["is_representative"])

	compressedMem, err := store.Get(ctx, "mem-b")
	require.NoError(t, err)
	assert.True(t, compressedMem.Compressed)
	assert.Equal(t, "mem-a", compressedMem.RepresentsID)

	_, err = store.GetMetadataEmbedding(ctx, "mem-b")
	require.NoError(t, err, "compressed memory keeps its metadata entry")
}

func TestForgetOldMemoriesSkipsExemptAndLowImportance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)
	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)

	forgettable := &types.Memory{
		ID: "mem-old-low", Schema: types.SchemaSnippet, Tier: types.TierLongTerm,
		Content: "stale low value note", Summary: "stale", Timestamp: old, Importance: 0.1,
	}
	important := &types.Memory{
		ID: "mem-old-important", Schema: types.SchemaSnippet, Tier: types.TierLongTerm,
		Content: "stale but important note", Summary: "important", Timestamp: old, Importance: 0.9,
	}
	accessed := &types.Memory{
		ID: "mem-old-accessed", Schema: types.SchemaSnippet, Tier: types.TierLongTerm,
		Content: "stale but frequently used note", Summary: "accessed",
		Timestamp: old, Importance: 0.1, AccessCount: 50,
	}
	seedMemory(t, ctx, store, ix, forgettable, []float32{1, 0, 0})
	seedMemory(t, ctx, store, ix, important, []float32{0, 1, 0})
	seedMemory(t, ctx, store, ix, accessed, []float32{0, 0, 1})

	svc := consolidation.New(store, store, lexical, ix, consolidation.DefaultConfig())
	stats, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesDeleted)

	_, err = store.Get(ctx, "mem-old-low")
	assert.Error(t, err)

	_, err = store.Get(ctx, "mem-old-important")
	assert.NoError(t, err)

	_, err = store.Get(ctx, "mem-old-accessed")
	assert.NoError(t, err)
}

func TestConsolidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)

	mem := &types.Memory{
		ID: "mem-solo", Schema: types.SchemaProcess, Tier: types.TierShortTerm,
		Content: "a single unclustered memory", Summary: "solo",
		Timestamp: time.Now().UTC(), Importance: 0.7,
	}
	seedMemory(t, ctx, store, ix, mem, []float32{1, 0, 0})

	svc := consolidation.New(store, store, lexical, ix, consolidation.DefaultConfig())
	_, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	stats, err := svc.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MigratedCount)
	assert.Equal(t, 0, stats.ClustersCreated)
	assert.Equal(t, 0, stats.MemoriesDeleted)
}
