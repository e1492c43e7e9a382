// Package pool implements the project memory pool and degraded retrieval
// workflow (§4.8): a per-project cache of member memory ids and their
// embeddings, used both to warm the cross-encoder's caches ahead of time
// and to run a cheaper, project-scoped search pass before falling back to
// the full corpus.
//
// Grounded on original_source/src/services/project_memory_pool.py's
// ProjectMemoryPool: load-with-TTL-reuse, cap-to-most-recent-N,
// per-candidate embedding generation, and the base-memory-id-without-
// "-metadata"-suffix convention for get_memory_ids.
package pool

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/myo-ojin/context-orchestrator/internal/search"
	"github.com/myo-ojin/context-orchestrator/internal/storage"
)

// Entry is one pool member: a memory's own embedding, loaded once and
// reused both for §4.8's workflow and for L3 cache warm-up.
type Entry struct {
	MemoryID  string
	Embedding []float32
}

// Pool is one project's loaded memory set (§4.8: "the set of member
// memory_ids, normalised to their base form... and optionally their
// precomputed embeddings").
type Pool struct {
	ProjectID string
	LoadedAt  time.Time
	Entries   map[string]Entry // memory_id (base form) -> Entry
}

// Fresh reports whether the pool is still within ttl of LoadedAt.
func (p *Pool) Fresh(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(p.LoadedAt) <= ttl
}

// MemberIDs returns the set of base memory ids in the pool, used to
// restrict candidate filtering in the degraded workflow (§4.8 step 2).
func (p *Pool) MemberIDs() map[string]bool {
	out := make(map[string]bool, len(p.Entries))
	for id := range p.Entries {
		out[id] = true
	}
	return out
}

// Embedder is the subset of router.Router used to embed a memory's
// content when generating the pool's per-member embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticWarmer is the subset of rerank.Reranker used by warm-up to
// pre-fill L3 and attribute prefetch metrics.
type SemanticWarmer interface {
	WarmSemanticCache(projectID, candidateID string, queryEmbedding []float32, score float64)
	RecordPrefetch(hit bool)
}

// Searcher is the subset of search.Orchestrator used both by warm-up
// (running prefetch queries through the normal search path) and by the
// degraded workflow.
type Searcher interface {
	Search(ctx context.Context, opts search.Options) (results []search.Result, warning string, err error)
}

// Config configures pool sizing (§6.3 project.* keys).
type Config struct {
	MaxMemoriesPerProject int           // project.pool_size_cap, default 100
	TTL                   time.Duration // project.pool_ttl_seconds, default 8h
	MaxProjects           int           // LRU bound on concurrently loaded pools, default 64
	DegradedCandidateCap  int           // candidate cap for the project-scoped first pass, default 30
	SufficiencyThreshold  float64       // minimum score a result must clear to count toward "sufficient", default 0.3
}

// DefaultConfig mirrors §4.8's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoriesPerProject: 100,
		TTL:                   8 * time.Hour,
		MaxProjects:           64,
		DegradedCandidateCap:  30,
		SufficiencyThreshold:  0.3,
	}
}

// Manager loads, caches and warms project memory pools.
type Manager struct {
	memory   storage.MemoryStore
	embedder Embedder
	cfg      Config

	mu    sync.Mutex
	pools *lru.Cache[string, *Pool]

	logger *log.Logger
}

// New builds a Manager.
func New(memory storage.MemoryStore, embedder Embedder, cfg Config) *Manager {
	if cfg.MaxMemoriesPerProject <= 0 {
		cfg.MaxMemoriesPerProject = 100
	}
	if cfg.MaxProjects <= 0 {
		cfg.MaxProjects = 64
	}
	if cfg.DegradedCandidateCap <= 0 {
		cfg.DegradedCandidateCap = 30
	}
	pools, _ := lru.New[string, *Pool](cfg.MaxProjects)
	return &Manager{
		memory:   memory,
		embedder: embedder,
		cfg:      cfg,
		pools:    pools,
		logger:   log.New(log.Writer(), "Pool: ", log.Flags()),
	}
}

// Load returns the pool for projectID, reusing a fresh cached pool or
// loading it from the memory store otherwise (§4.8, load_project).
func (m *Manager) Load(ctx context.Context, projectID string) (*Pool, error) {
	now := time.Now()

	m.mu.Lock()
	if p, ok := m.pools.Get(projectID); ok && p.Fresh(m.cfg.TTL, now) {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	result, err := m.memory.List(ctx, storage.ListOptions{
		ProjectID: projectID,
		SortBy:    "timestamp",
		SortOrder: "desc",
		Limit:     m.cfg.MaxMemoriesPerProject,
	})
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Entry, len(result.Items))
	for i := range result.Items {
		mem := &result.Items[i]
		if mem.Content == "" {
			continue
		}
		// Embeds the structured summary, not raw content (unlike
		// project_memory_pool.py's load_project) — this matches the
		// convention the metadata-entry embedding already uses elsewhere
		// in this codebase (internal/indexer), so a pool embedding is
		// directly comparable to the metadata-entry embedding V stores for
		// the same memory.
		embedding, err := m.embedder.Embed(ctx, mem.Summary)
		if err != nil {
			m.logger.Printf("failed to embed memory %s while loading pool for project %s: %v", mem.ID, projectID, err)
			continue
		}
		entries[mem.ID] = Entry{MemoryID: mem.ID, Embedding: embedding}
	}

	p := &Pool{ProjectID: projectID, LoadedAt: now, Entries: entries}

	m.mu.Lock()
	m.pools.Add(projectID, p)
	m.mu.Unlock()

	return p, nil
}

// Clear evicts projectID's pool, if loaded.
func (m *Manager) Clear(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools.Remove(projectID)
}

// ClearAll evicts every loaded pool, returning the count removed.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.pools.Len()
	m.pools.Purge()
	return n
}

// WarmUpStats reports the outcome of one WarmUp call, mirroring
// project_memory_pool.py's warm_cache stats dict.
type WarmUpStats struct {
	ProjectID         string
	MemoriesLoaded    int
	CacheEntriesAdded int
	ElapsedMs         float64
}

// WarmUp loads projectID's pool, seeds the cross-encoder's L3 cache with
// each member's own summary embedding (a "self-query" proxy: a future
// query whose embedding resembles this memory's content is a plausible
// cache hit for it), and runs prefetchQueries through the normal search
// path to populate L1/L2 (and, transitively, L3) with real scores (§4.8
// Warm-up). Callers should invoke this from a goroutine: it is
// best-effort and must never block a user query.
func (m *Manager) WarmUp(ctx context.Context, projectID string, warmer SemanticWarmer, searcher Searcher, prefetchQueries []string) WarmUpStats {
	start := time.Now()
	stats := WarmUpStats{ProjectID: projectID}

	p, err := m.Load(ctx, projectID)
	if err != nil {
		m.logger.Printf("warm-up failed to load pool for project %s: %v", projectID, err)
		return stats
	}
	stats.MemoriesLoaded = len(p.Entries)
	if stats.MemoriesLoaded == 0 {
		return stats
	}

	const selfSimilarityScore = 1.0
	for _, entry := range p.Entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		warmer.WarmSemanticCache(projectID, entry.MemoryID, entry.Embedding, selfSimilarityScore)
		warmer.RecordPrefetch(true)
		stats.CacheEntriesAdded++
	}

	for _, q := range prefetchQueries {
		if q == "" {
			continue
		}
		_, _, err := searcher.Search(ctx, search.Options{
			Query:               q,
			ProjectID:           projectID,
			TopK:                10,
			CrossEncoderEnabled: true,
		})
		if err != nil {
			m.logger.Printf("warm-up prefetch query failed for project %s: %v", projectID, err)
		}
	}

	stats.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
	return stats
}

// DegradedResult reports one §4.8 degraded-workflow outcome alongside
// whether the full-corpus fallback pass ran.
type DegradedResult struct {
	Results        []search.Result
	UsedFallback   bool
	Warning        string
}

// DegradedSearch implements §4.8's two-pass workflow: a project-scoped
// pass with a tighter candidate cap first; if fewer than opts.TopK results
// clear the sufficiency threshold, a second full-corpus pass runs and its
// results are merged in.
//
// Pool-membership filtering is approximated by opts.ProjectID: the
// search.Orchestrator has no separate "restrict to this id set" filter
// hook, and project_id is the same scoping key the pool itself indexes
// by, so a project-scoped first pass already restricts candidates to (a
// superset of) the pool's members. The degraded workflow's real
// contribution on top of plain project-scoped search is the tighter
// candidate cap and the explicit sufficiency-check-then-fallback
// semantics.
func (m *Manager) DegradedSearch(ctx context.Context, searcher Searcher, opts search.Options) (DegradedResult, error) {
	if opts.TopK == 0 {
		return DegradedResult{Results: []search.Result{}}, nil
	}
	if opts.TopK < 0 {
		opts.TopK = 10
	}

	firstPass := opts
	firstPass.VectorCandidateCount = m.cfg.DegradedCandidateCap
	firstPass.LexicalCandidateCount = m.cfg.DegradedCandidateCap

	results, warning, err := searcher.Search(ctx, firstPass)
	if err != nil {
		return DegradedResult{}, err
	}

	if sufficientCount(results, m.cfg.SufficiencyThreshold) >= opts.TopK {
		return DegradedResult{Results: results, Warning: warning}, nil
	}

	fallbackOpts := opts
	fallbackOpts.ProjectID = ""
	fallbackResults, fallbackWarning, err := searcher.Search(ctx, fallbackOpts)
	if err != nil {
		return DegradedResult{Results: results, Warning: warning}, nil
	}

	merged := mergeResults(results, fallbackResults, opts.TopK)
	combinedWarning := warning
	if fallbackWarning != "" {
		combinedWarning = fallbackWarning
	}
	return DegradedResult{Results: merged, UsedFallback: true, Warning: combinedWarning}, nil
}

func sufficientCount(results []search.Result, threshold float64) int {
	n := 0
	for _, r := range results {
		if r.Score >= threshold {
			n++
		}
	}
	return n
}

// mergeResults combines the project-scoped and full-corpus passes,
// keeping the best-scoring entry per memory id, and returns the top n by
// descending score (ties broken by ascending id, matching §4.5's ordering
// guarantee).
func mergeResults(first, second []search.Result, n int) []search.Result {
	byID := make(map[string]search.Result, len(first)+len(second))
	for _, r := range first {
		byID[r.ID] = r
	}
	for _, r := range second {
		if cur, ok := byID[r.ID]; !ok || r.Score > cur.Score {
			byID[r.ID] = r
		}
	}
	out := make([]search.Result, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
