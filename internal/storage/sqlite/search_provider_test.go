package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

func indexChunk(t *testing.T, l *LexicalIndex, id, memoryID, content string) {
	t.Helper()
	require.NoError(t, l.IndexChunk(context.Background(), types.Chunk{
		ID:       id,
		MemoryID: memoryID,
		Content:  content,
		Metadata: map[string]interface{}{"project_id": "infra", "schema": "Decision", "tier": "Working"},
	}))
}

func TestLexicalSearchFindsMatchingChunk(t *testing.T) {
	store := newTestStore(t)
	l := NewLexicalIndex(store)

	indexChunk(t, l, "mem-1#0", "mem-1", "the deploy process uses make deploy from main")
	indexChunk(t, l, "mem-2#0", "mem-2", "unrelated content about something else entirely")

	results, err := l.Search(context.Background(), "deploy process", storage.SearchFilter{}, 10, false)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "mem-1#0", results[0].ID)
}

func TestLexicalSearchFiltersByProject(t *testing.T) {
	store := newTestStore(t)
	l := NewLexicalIndex(store)
	indexChunk(t, l, "mem-1#0", "mem-1", "deploy process notes")

	results, err := l.Search(context.Background(), "deploy", storage.SearchFilter{ProjectID: "other-project"}, 10, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalSearchFuzzyFallback(t *testing.T) {
	store := newTestStore(t)
	l := NewLexicalIndex(store)
	indexChunk(t, l, "mem-1#0", "mem-1", "deploy process runs on friday afternoons only")

	results, err := l.Search(context.Background(), "deploy zzznomatch", storage.SearchFilter{}, 10, true)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestDeleteByMemoryIDRemovesLexicalEntries(t *testing.T) {
	store := newTestStore(t)
	l := NewLexicalIndex(store)
	indexChunk(t, l, "mem-1#0", "mem-1", "deploy process notes")

	require.NoError(t, l.DeleteByMemoryID(context.Background(), "mem-1"))

	results, err := l.Search(context.Background(), "deploy", storage.SearchFilter{}, 10, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSanitiseFTSQueryDropsStopWordsAndSpecialChars(t *testing.T) {
	assert.Equal(t, "deploy* OR process*", sanitiseFTSQuery("What is the deploy process?"))
	assert.Equal(t, "", sanitiseFTSQuery("is the a"))
}
