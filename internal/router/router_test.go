package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/router"
)

type fakeText struct {
	model    string
	response string
	err      error
	calls    int
}

func (f *fakeText) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeText) GetModel() string { return f.model }

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

func TestRouteLightweightTaskAlwaysUsesLocal(t *testing.T) {
	local := &fakeText{model: "local", response: "local answer"}
	r := router.New(local, &fakeEmbedder{}, nil, router.Config{})

	out, usedExternal, err := r.Route(context.Background(), router.TaskClassification, "classify this")
	require.NoError(t, err)
	assert.Equal(t, "local answer", out)
	assert.False(t, usedExternal)
	assert.Equal(t, 1, local.calls)
}

func TestRouteHeavyTaskWithNoExternalConfiguredUsesLocal(t *testing.T) {
	local := &fakeText{model: "local", response: "local answer"}
	r := router.New(local, &fakeEmbedder{}, nil, router.Config{})

	out, usedExternal, err := r.Route(context.Background(), router.TaskLongSummary, "summarize")
	require.NoError(t, err)
	assert.Equal(t, "local answer", out)
	assert.False(t, usedExternal)
}

func TestIsLightweightMatchesRoutingTable(t *testing.T) {
	r := router.New(&fakeText{}, &fakeEmbedder{}, nil, router.Config{})

	assert.True(t, r.IsLightweight(router.TaskEmbedding))
	assert.True(t, r.IsLightweight(router.TaskClassification))
	assert.True(t, r.IsLightweight(router.TaskShortSummary))
	assert.False(t, r.IsLightweight(router.TaskLongSummary))
	assert.False(t, r.IsLightweight(router.TaskReasoning))
	assert.False(t, r.IsLightweight(router.TaskConsolidation))
}

func TestEmbedAlwaysUsesLocalEmbedder(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	r := router.New(&fakeText{}, embedder, nil, router.Config{})

	vec, err := r.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestRouteReasoningWithNoExternalFallsBackToLocal(t *testing.T) {
	local := &fakeText{model: "local", response: "local fallback answer"}
	r := router.New(local, &fakeEmbedder{}, nil, router.Config{})

	out, usedExternal, err := r.Route(context.Background(), router.TaskReasoning, "reason about this")
	require.NoError(t, err)
	assert.Equal(t, "local fallback answer", out)
	assert.False(t, usedExternal)
}
