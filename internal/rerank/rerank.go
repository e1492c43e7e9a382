// Package rerank implements the cross-encoder reranker and its three-level
// cache (§4.7): a paired relevance judgement from R-local/R-ext on the
// top-k hybrid-search candidates, blended with the upstream rule-based
// score, backed by L1 (exact), L2 (keyword) and L3 (semantic) caches so
// repeated or similar queries don't re-invoke the model.
//
// Grounded on original_source/src/services/rerankers.py's CrossEncoderReranker
// for the per-pair prompt-then-parse-float scoring contract and its
// never-propagate error handling (a scoring failure degrades that pair to
// 0.0 rather than failing the call), and on
// original_source/tests/unit/services/test_rerankers.py,
// test_keyword_cache.py and test_semantic_cache.py for the cache's exact
// layering (L1 -> L2 -> L3 -> miss) and metrics field shape.
package rerank

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/myo-ojin/context-orchestrator/internal/router"
	"github.com/myo-ojin/context-orchestrator/internal/search"
)

// Generator is the subset of router.Router used to score one (query,
// candidate) pair. task_type is always "short_summary" per rerankers.py's
// _score_pair, keeping the cross-encoder call on the lightweight routing
// path (§4.10) rather than escalating to R-ext's heavier reasoning lane.
type Generator interface {
	Route(ctx context.Context, task router.TaskType, prompt string) (response string, usedExternal bool, err error)
}

// Embedder embeds the query text for the L3 semantic cache key. Typically
// the same router.Router used for Generator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures cache sizing, parallelism and the rule-based/cross-
// encoder score blend (§6.3 reranker.* keys).
type Config struct {
	CacheSize            int           // reranker.cross_encoder_cache_size, default 256
	CacheTTL             time.Duration // reranker.cross_encoder_cache_ttl_seconds, default 8h
	SemanticHitThreshold float64       // reranker.semantic_hit_threshold, default 0.85
	MaxParallel          int           // reranker.cross_encoder_max_parallel, default 3
	QueueBackpressure    int           // wait-queue length that triggers the fallback, default MaxParallel*4
	BlendWeight          float64       // weight on the cross-encoder score when blending with the rule-based score, default 0.5
}

// DefaultConfig mirrors the documented §6.3 defaults and
// test_semantic_cache.py's Phase 3 settings (256 entries, 8h TTL, 0.85
// threshold).
func DefaultConfig() Config {
	return Config{
		CacheSize:            256,
		CacheTTL:             8 * time.Hour,
		SemanticHitThreshold: 0.85,
		MaxParallel:          3,
		QueueBackpressure:    12,
		BlendWeight:          0.5,
	}
}

// Metrics mirrors get_reranker_metrics' field set (§4.7, §6), translated
// from original_source's snake_case Python dict into idiomatic Go names.
type Metrics struct {
	CacheHits     int64
	CacheMisses   int64
	CacheEntries  int

	KeywordCacheHits    int64
	KeywordCacheMisses  int64
	KeywordCacheEntries int

	SemanticCacheHits       int64
	SemanticCacheMisses     int64
	SemanticCacheCandidates int
	SemanticCacheEmbeddings int

	PairsScored      int64
	LLMCalls         int64
	LLMFailures      int64
	AvgLLMLatencyMs  float64
	MaxLLMLatencyMs  float64

	ParallelQueueLength  int
	BackpressureFallbacks int64

	PrefetchRequests    int64
	PrefetchCacheHits   int64
	PrefetchCacheMisses int64
}

func (m Metrics) CacheHitRate() float64         { return rate(m.CacheHits, m.CacheHits+m.CacheMisses) }
func (m Metrics) KeywordCacheHitRate() float64   { return rate(m.KeywordCacheHits, m.KeywordCacheHits+m.KeywordCacheMisses) }
func (m Metrics) SemanticCacheHitRate() float64  { return rate(m.SemanticCacheHits, m.SemanticCacheHits+m.SemanticCacheMisses) }
func (m Metrics) TotalCacheHitRate() float64 {
	hits := m.CacheHits + m.KeywordCacheHits + m.SemanticCacheHits
	total := hits + m.CacheMisses + m.KeywordCacheMisses + m.SemanticCacheMisses
	return rate(hits, total)
}

func rate(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// Reranker implements search.CrossEncoderReranker.
type Reranker struct {
	gen      Generator
	embedder Embedder
	cfg      Config

	l1 *ttlCache[exactKey]
	l2 *ttlCache[keywordKey]
	l3 *semanticCache

	sem chan struct{} // bounds concurrent Generator calls to cfg.MaxParallel

	mu      sync.Mutex
	metrics Metrics

	logger *log.Logger
}

// New builds a Reranker. cfg.CacheSize<=0 disables the L1/L2 caches
// (matching test_cross_encoder_metrics_include_latency's "cache_max_entries=0
// to force LLM call" usage).
func New(gen Generator, embedder Embedder, cfg Config) *Reranker {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.QueueBackpressure <= 0 {
		cfg.QueueBackpressure = cfg.MaxParallel * 4
	}
	if cfg.SemanticHitThreshold <= 0 {
		cfg.SemanticHitThreshold = 0.85
	}
	return &Reranker{
		gen:      gen,
		embedder: embedder,
		cfg:      cfg,
		l1:       newTTLCache[exactKey](cfg.CacheSize, cfg.CacheTTL),
		l2:       newTTLCache[keywordKey](cfg.CacheSize, cfg.CacheTTL),
		l3:       newSemanticCache(cfg.CacheSize, cfg.CacheTTL, cfg.SemanticHitThreshold),
		sem:      make(chan struct{}, cfg.MaxParallel),
		logger:   log.New(log.Writer(), "Rerank: ", log.Flags()),
	}
}

// RecordPrefetch lets the project-pool warm-up workflow (§4.8) attribute
// its L3 pre-fill requests to the prefetch_requested/hit/miss counters
// get_reranker_metrics exposes, without the pool needing access to the
// cache internals.
func (r *Reranker) RecordPrefetch(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.PrefetchRequests++
	if hit {
		r.metrics.PrefetchCacheHits++
	} else {
		r.metrics.PrefetchCacheMisses++
	}
}

// WarmSemanticCache lets the project-pool warm-up workflow (§4.8) pre-fill
// L3 for a candidate whose score is already known from a prior rerank,
// without forcing another model call.
func (r *Reranker) WarmSemanticCache(projectID, candidateID string, queryEmbedding []float32, score float64) {
	r.l3.Put(projectID, candidateID, queryEmbedding, score)
}

// GetMetrics returns a snapshot of the cache/latency counters.
func (r *Reranker) GetMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	m.CacheEntries = r.l1.Len()
	m.KeywordCacheEntries = r.l2.Len()
	m.SemanticCacheCandidates = r.l3.CandidateCount()
	m.SemanticCacheEmbeddings = r.l3.EmbeddingCount()
	return m
}

// Rerank implements search.CrossEncoderReranker. Empty query or candidate
// list is a no-op, matching rerankers.py's rerank() guard clause.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []search.CrossEncoderCandidate) ([]search.CrossEncoderCandidate, error) {
	if query == "" || len(candidates) == 0 {
		return candidates, nil
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		// L3 degrades to unreachable rather than failing the whole call;
		// L1/L2 are unaffected.
		r.logger.Printf("query embedding for semantic cache failed: %v", err)
		queryEmbedding = nil
	}

	keywordSig := keywordSignature(query)

	type scored struct {
		idx   int
		score float64
	}
	results := make([]search.CrossEncoderCandidate, len(candidates))
	copy(results, candidates)

	queueLen := len(candidates)
	r.mu.Lock()
	r.metrics.ParallelQueueLength = queueLen
	backpressure := queueLen > r.cfg.QueueBackpressure
	if backpressure {
		r.metrics.BackpressureFallbacks++
	}
	r.mu.Unlock()

	if backpressure {
		r.logger.Printf("cross-encoder queue depth %d exceeds backpressure threshold %d, skipping rerank for this call", queueLen, r.cfg.QueueBackpressure)
		return results, nil
	}

	var wg sync.WaitGroup
	scoredCh := make(chan scored, len(candidates))

	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c search.CrossEncoderCandidate) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				scoredCh <- scored{idx: i, score: c.CombinedScore}
				return
			}
			defer func() { <-r.sem }()

			score := r.scoreCandidate(ctx, query, keywordSig, queryEmbedding, c)
			scoredCh <- scored{idx: i, score: score}
		}(i, c)
	}

	go func() {
		wg.Wait()
		close(scoredCh)
	}()

	for s := range scoredCh {
		blended := (1-r.cfg.BlendWeight)*candidates[s.idx].CombinedScore + r.cfg.BlendWeight*s.score
		results[s.idx].CombinedScore = blended
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})

	return results, nil
}

// scoreCandidate runs the L1 -> L2 -> L3 -> model lookup chain for one
// candidate and records the layer it resolved at.
func (r *Reranker) scoreCandidate(ctx context.Context, query, keywordSig string, queryEmbedding []float32, c search.CrossEncoderCandidate) float64 {
	ek := exactKey{query: query, projectID: c.ProjectID, candidateID: c.MemoryID}
	if score, ok := r.l1.Get(ek); ok {
		r.recordHit(&r.metrics.CacheHits)
		return score
	}
	r.recordHit(&r.metrics.CacheMisses)

	kk := keywordKey{signature: keywordSig, projectID: c.ProjectID, candidateID: c.MemoryID}
	if score, ok := r.l2.Get(kk); ok {
		r.recordHit(&r.metrics.KeywordCacheHits)
		r.l1.Put(ek, score)
		return score
	}
	r.recordHit(&r.metrics.KeywordCacheMisses)

	if score, ok := r.l3.Get(c.ProjectID, c.MemoryID, queryEmbedding); ok {
		r.recordHit(&r.metrics.SemanticCacheHits)
		r.l1.Put(ek, score)
		r.l2.Put(kk, score)
		return score
	}
	r.recordHit(&r.metrics.SemanticCacheMisses)

	score := r.scorePair(ctx, query, c.Content)

	r.l1.Put(ek, score)
	r.l2.Put(kk, score)
	r.l3.Put(c.ProjectID, c.MemoryID, queryEmbedding, score)

	return score
}

func (r *Reranker) recordHit(counter *int64) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}

// scorePair builds the 0.0-1.0 relevance prompt and invokes the Generator,
// grounded verbatim on rerankers.py's _score_pair prompt text. Any failure
// (routing error, empty or unparseable response, or a value outside
// [0.0, 1.5]) is counted as an LLM failure and scored 0.0 rather than
// propagated — a single bad pair must never fail the whole rerank call. A
// value between 1.0 and 1.5 is clamped to 1.0.
func (r *Reranker) scorePair(ctx context.Context, query, content string) float64 {
	if content == "" {
		return 0.0
	}

	start := time.Now()
	prompt := fmt.Sprintf(
		"You are a reranker that scores how well a retrieved passage answers a query.\n"+
			"Return only a floating-point number between 0.0 (irrelevant) and 1.0 (perfect match).\n"+
			"Query:\n%s\n\nCandidate Passage:\n%s\n\nScore (0.0-1.0):",
		query, truncate(content, 2000),
	)

	raw, _, err := r.gen.Route(ctx, router.TaskShortSummary, prompt)
	latency := time.Since(start)

	r.mu.Lock()
	r.metrics.PairsScored++
	r.metrics.LLMCalls++
	r.updateLatencyLocked(latency)
	r.mu.Unlock()

	if err != nil {
		r.logger.Printf("cross-encoder scoring failed: %v", err)
		r.recordHit(&r.metrics.LLMFailures)
		return 0.0
	}

	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		r.recordHit(&r.metrics.LLMFailures)
		return 0.0
	}
	score, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || score < 0.0 || score > 1.5 {
		r.logger.Printf("cross-encoder scoring failed: unparseable or out-of-range response %q", raw)
		r.recordHit(&r.metrics.LLMFailures)
		return 0.0
	}
	return math.Max(0.0, math.Min(1.0, score))
}

func (r *Reranker) updateLatencyLocked(latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0
	n := float64(r.metrics.LLMCalls)
	r.metrics.AvgLLMLatencyMs += (ms - r.metrics.AvgLLMLatencyMs) / n
	if ms > r.metrics.MaxLLMLatencyMs {
		r.metrics.MaxLLMLatencyMs = ms
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
