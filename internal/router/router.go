// Package router implements model routing between the local reasoner
// (R-local) and the external reasoner (R-ext), grounded on
// original_source/src/models/router.py's ModelRouter (§4.10).
package router

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/myo-ojin/context-orchestrator/internal/llm"
)

// TaskType mirrors ModelRouter.TASK_ROUTING's keys.
type TaskType string

const (
	TaskEmbedding      TaskType = "embedding"
	TaskClassification TaskType = "classification"
	TaskShortSummary   TaskType = "short_summary"
	TaskLongSummary    TaskType = "long_summary"
	TaskReasoning      TaskType = "reasoning"
	TaskConsolidation  TaskType = "consolidation"
)

// lightweight is the fixed routing table from router.py's TASK_ROUTING:
// true routes to R-local unconditionally, false routes to R-ext when
// available and enabled, falling back to R-local otherwise.
var lightweight = map[TaskType]bool{
	TaskEmbedding:      true,
	TaskClassification: true,
	TaskShortSummary:   true,
	TaskLongSummary:    false,
	TaskReasoning:      false,
	TaskConsolidation:  false,
}

// Config configures the Router. R-ext itself is passed to New as its
// external argument, which is nil when external.command (§6.3) is empty, in
// which case every task routes to R-local.
type Config struct {
	// ExternalRateLimit bounds calls/sec into R-ext; zero disables limiting
	// (unbounded, still serialised by the circuit breaker's own state).
	ExternalRateLimit rate.Limit
	ExternalBurst     int
}

// externalGenerator is the subset of *llm.CLIClient the Router depends on.
// Defined as an interface (rather than depending on the concrete type
// directly) so tests can substitute a fake R-ext without a real subprocess.
type externalGenerator interface {
	llm.TextGenerator
	Available() bool
}

// Router selects R-local or R-ext per task (§4.10). It never returns an
// error for an unavailable or disabled R-ext: that condition is absorbed as
// a routing decision, and a failed R-ext call falls back to R-local and is
// logged as KindRouterFallback by the caller, never surfaced to the client.
type Router struct {
	local    llm.TextGenerator
	embedder llm.EmbeddingGenerator
	external externalGenerator // nil interface when external.command is unset

	limiter *rate.Limiter
	logger  *log.Logger
}

// New builds a Router. external may be nil (external.command unset,
// disabling R-ext entirely).
func New(local llm.TextGenerator, embedder llm.EmbeddingGenerator, external *llm.CLIClient, cfg Config) *Router {
	var limiter *rate.Limiter
	if cfg.ExternalRateLimit > 0 {
		burst := cfg.ExternalBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.ExternalRateLimit, burst)
	}
	r := &Router{
		local:    local,
		embedder: embedder,
		limiter:  limiter,
		logger:   log.New(log.Writer(), "Router: ", log.Flags()),
	}
	// Avoid the typed-nil-in-interface trap: only assign external when the
	// caller actually passed a non-nil *llm.CLIClient.
	if external != nil {
		r.external = external
	}
	return r
}

// IsLightweight reports whether task routes to R-local unconditionally.
func (r *Router) IsLightweight(task TaskType) bool {
	return lightweight[task]
}

// externalEnabled reports whether R-ext is configured and reachable.
func (r *Router) externalEnabled() bool {
	return r.external != nil && r.external.Available()
}

// Embed always routes to R-local; embedding is privacy-critical and
// high-frequency, so it never considers R-ext (router.py's
// _generate_embedding).
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.embedder.Embed(ctx, text)
}

// Route generates text for task, choosing R-local or R-ext per the routing
// table. For heavy tasks, an R-ext failure falls back to R-local rather
// than propagating the error (§4.10); the caller should log the fallback
// under KindRouterFallback.
func (r *Router) Route(ctx context.Context, task TaskType, prompt string) (text string, usedExternal bool, err error) {
	if r.IsLightweight(task) || !r.externalEnabled() {
		out, err := r.local.Complete(ctx, prompt)
		return out, false, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			out, localErr := r.local.Complete(ctx, prompt)
			return out, false, localErr
		}
	}

	out, err := r.external.Complete(ctx, prompt)
	if err != nil {
		r.logger.Printf("R-ext call failed for task %q, falling back to R-local: %v", task, err)
		out, localErr := r.local.Complete(ctx, prompt)
		return out, false, localErr
	}
	return out, true, nil
}

// RouteWithDeadline wraps Route with a bounded timeout (§4.10: "each
// external call has a bounded timeout... and is cancelled cleanly on
// expiry"). The deadline applies to the whole call including any local
// fallback.
func (r *Router) RouteWithDeadline(ctx context.Context, task TaskType, prompt string, timeout time.Duration) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Route(ctx, task, prompt)
}
