package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/ingest"
	"github.com/myo-ojin/context-orchestrator/internal/router"
	"github.com/myo-ojin/context-orchestrator/internal/storage/sqlite"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

type fakeText struct {
	response string
	err      error
}

func (f *fakeText) Complete(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeText) GetModel() string { return "fake-local" }

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

func newTestService(t *testing.T, textResponse string) (*ingest.Service, *sqlite.MemoryStore) {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)
	r := router.New(&fakeText{response: textResponse}, &fakeEmbedder{}, nil, router.Config{})
	return ingest.New(r, ix, ingest.DefaultConfig()), store
}

const validSummary = `Topic: Chose Postgres
DocType: decision
Project: orchestrator
KeyActions:
- Provision the database
- Update the connection string`

func TestIngestStoresMemoryWithClassifiedSchema(t *testing.T) {
	svc, store := newTestService(t, validSummary)

	id, err := svc.Ingest(context.Background(), ingest.Input{
		User:      "what database should we use?",
		Assistant: "let's use postgres for the new service",
		Source:    "cli",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mem, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.TierWorking, mem.Tier)
	assert.Contains(t, mem.Summary, "Topic: Chose Postgres")
}

func TestIngestEmptyConversationIsInvalidRequest(t *testing.T) {
	svc, _ := newTestService(t, validSummary)

	_, err := svc.Ingest(context.Background(), ingest.Input{})
	require.Error(t, err)
	ke, ok := types.AsKindedError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidRequest, ke.Kind)
}

func TestIngestFallsBackToDeterministicSummaryOnMalformedOutput(t *testing.T) {
	svc, store := newTestService(t, "this is not the right shape at all")

	id, err := svc.Ingest(context.Background(), ingest.Input{
		User:      "note",
		Assistant: "some content that the fake model will not summarise correctly.",
	})
	require.NoError(t, err)

	mem, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, mem.Summary, "KeyActions:")
}
