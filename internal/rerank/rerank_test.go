package rerank_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/rerank"
	"github.com/myo-ojin/context-orchestrator/internal/router"
	"github.com/myo-ojin/context-orchestrator/internal/search"
)

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Route(ctx context.Context, task router.TaskType, prompt string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	return f.response, false, nil
}

type fakeEmbedder struct {
	byQuery map[string][]float32
	fixed   []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.byQuery != nil {
		if v, ok := f.byQuery[text]; ok {
			return v, nil
		}
	}
	return f.fixed, nil
}

func candidates(ids ...string) []search.CrossEncoderCandidate {
	out := make([]search.CrossEncoderCandidate, len(ids))
	for i, id := range ids {
		out[i] = search.CrossEncoderCandidate{MemoryID: id, Content: "answer about " + id, ProjectID: "proj-a"}
	}
	return out
}

func TestRerankCacheHitAvoidsSecondModelCall(t *testing.T) {
	gen := &fakeGenerator{response: "0.9"}
	cfg := rerank.DefaultConfig()
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, cfg)

	query := "how do I roll back a deploy"
	cands := candidates("mem-1")

	_, err := r.Rerank(context.Background(), query, cands)
	require.NoError(t, err)
	firstCalls := gen.calls

	_, err = r.Rerank(context.Background(), query, cands)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, gen.calls, "identical query+candidate should hit L1")

	metrics := r.GetMetrics()
	assert.GreaterOrEqual(t, metrics.CacheHits, int64(1))
	assert.Greater(t, metrics.CacheHitRate(), 0.0)
}

func TestRerankDisabledCacheForcesModelCallEveryTime(t *testing.T) {
	gen := &fakeGenerator{response: "0.3"}
	cfg := rerank.DefaultConfig()
	cfg.CacheSize = 0
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, cfg)

	_, err := r.Rerank(context.Background(), "need deployment checklist", candidates("mem-1"))
	require.NoError(t, err)

	metrics := r.GetMetrics()
	assert.Equal(t, int64(1), metrics.LLMCalls)
	assert.GreaterOrEqual(t, metrics.AvgLLMLatencyMs, 0.0)
}

func TestRerankCacheScopedByProject(t *testing.T) {
	gen := &fakeGenerator{response: "0.4"}
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, rerank.DefaultConfig())

	query := "status timeline"
	a := search.CrossEncoderCandidate{MemoryID: "mem-1", Content: "timeline guide", ProjectID: "proj-a"}
	b := search.CrossEncoderCandidate{MemoryID: "mem-1", Content: "timeline guide", ProjectID: "proj-b"}

	_, err := r.Rerank(context.Background(), query, []search.CrossEncoderCandidate{a})
	require.NoError(t, err)
	firstCalls := gen.calls

	_, err = r.Rerank(context.Background(), query, []search.CrossEncoderCandidate{b})
	require.NoError(t, err)
	assert.Equal(t, firstCalls+1, gen.calls, "different project should bypass L1/L2")
}

func TestRerankKeywordCacheHitsOnReorderedQuery(t *testing.T) {
	gen := &fakeGenerator{response: "0.75"}
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, rerank.DefaultConfig())

	cands := candidates("mem-1")
	_, err := r.Rerank(context.Background(), "change feed ingestion errors", cands)
	require.NoError(t, err)
	firstCalls := gen.calls

	_, err = r.Rerank(context.Background(), "ingestion errors in change feed", cands)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, gen.calls, "reordered same keywords should hit L2")

	metrics := r.GetMetrics()
	assert.GreaterOrEqual(t, metrics.KeywordCacheHits, int64(1))
}

func TestRerankSemanticCacheHitsOnSimilarEmbedding(t *testing.T) {
	gen := &fakeGenerator{response: "0.75"}
	embedder := &fakeEmbedder{byQuery: map[string][]float32{
		"change feed ingestion errors":              {1, 0, 0},
		"problems with change feed data consumption": {0.99, 0.01, 0},
	}}
	r := rerank.New(gen, embedder, rerank.DefaultConfig())

	cands := candidates("mem-1")
	_, err := r.Rerank(context.Background(), "change feed ingestion errors", cands)
	require.NoError(t, err)
	firstCalls := gen.calls

	// Different wording (so L2's keyword signature differs) but a near
	// identical embedding, so only L3 can resolve this.
	_, err = r.Rerank(context.Background(), "problems with change feed data consumption", cands)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, gen.calls, "near-identical embedding should hit L3")

	metrics := r.GetMetrics()
	assert.GreaterOrEqual(t, metrics.SemanticCacheHits, int64(1))
}

func TestRerankScoringFailureDegradesToZeroWithoutError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("cli unavailable")}
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, rerank.DefaultConfig())

	out, err := r.Rerank(context.Background(), "deploy checklist", candidates("mem-1"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	metrics := r.GetMetrics()
	assert.Equal(t, int64(1), metrics.LLMFailures)
}

func TestRerankEmptyQueryIsNoop(t *testing.T) {
	gen := &fakeGenerator{response: "0.5"}
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, rerank.DefaultConfig())

	in := candidates("mem-1")
	out, err := r.Rerank(context.Background(), "", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Zero(t, gen.calls)
}

func TestRerankBackpressureSkipsReorderingWhenQueueTooDeep(t *testing.T) {
	gen := &fakeGenerator{response: "0.5"}
	cfg := rerank.DefaultConfig()
	cfg.MaxParallel = 1
	cfg.QueueBackpressure = 2
	r := rerank.New(gen, &fakeEmbedder{fixed: []float32{1, 0, 0}}, cfg)

	in := candidates("mem-1", "mem-2", "mem-3", "mem-4", "mem-5")
	out, err := r.Rerank(context.Background(), "deploy checklist", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Zero(t, gen.calls)

	metrics := r.GetMetrics()
	assert.Equal(t, int64(1), metrics.BackpressureFallbacks)
}
