package rerank

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry is the value stored in L1/L2: a scored pair plus the time it
// was written, so Get can enforce the TTL on read.
type cacheEntry struct {
	score    float64
	storedAt time.Time
}

func (e cacheEntry) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.storedAt) > ttl
}

// exactKey is L1's key: the raw query string scoped to a project and
// candidate (§4.7: "(query_string, project_id, candidate_id)").
type exactKey struct {
	query       string
	projectID   string
	candidateID string
}

// keywordKey is L2's key: a sorted keyword signature scoped the same way.
type keywordKey struct {
	signature   string
	projectID   string
	candidateID string
}

// ttlCache wraps an LRU cache with a fixed TTL applied on read. size<=0
// disables the cache entirely (every Get misses, every Put is a no-op) —
// used by tests to force an R-local/R-ext call per §4.7's cache_max_entries
// knob.
type ttlCache[K comparable] struct {
	mu    sync.Mutex
	lru   *lru.Cache[K, cacheEntry]
	ttl   time.Duration
	clock func() time.Time
}

func newTTLCache[K comparable](size int, ttl time.Duration) *ttlCache[K] {
	c := &ttlCache[K]{ttl: ttl, clock: time.Now}
	if size > 0 {
		l, _ := lru.New[K, cacheEntry](size)
		c.lru = l
	}
	return c
}

func (c *ttlCache[K]) Get(key K) (float64, bool) {
	if c.lru == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return 0, false
	}
	if entry.expired(c.ttl, c.clock()) {
		c.lru.Remove(key)
		return 0, false
	}
	return entry.score, true
}

func (c *ttlCache[K]) Put(key K, score float64) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{score: score, storedAt: c.clock()})
}

func (c *ttlCache[K]) Len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// semanticEntry is one observed (query embedding, score) pair recorded
// against a candidate, per §4.7's L3: "stored candidate embedding... a hit
// requires cosine similarity >= semantic_hit_threshold".
//
// The spec's prose names the embedding side "candidate embedding", but
// original_source/test_semantic_cache.py's MockRouter only ever embeds the
// *query* text and varies it across test cases to probe L3 hits on a fixed
// candidate set — the behavior being tested is "semantically similar
// queries reuse a candidate's cached score", not "a query matches similar
// candidates". This implementation follows the test's observed behavior:
// semanticCache stores query embeddings keyed by candidate, and a lookup
// compares the new query embedding against those previously seen for the
// same candidate_id.
type semanticEntry struct {
	embedding []float32
	score     float64
	storedAt  time.Time
}

// semanticCache is L3: per-candidate bounded history of (query embedding,
// score) pairs, with a global LRU over candidate_ids bounding total
// embedding records (§4.7: "LRU-bounded by embedding-record count").
//
// Keyed by (project_id, candidate_id) rather than the spec prose's bare
// candidate_id: memory_ids are globally unique (§3), so this never changes
// behavior for real data, and it closes an unintended cross-project leak
// for any test or future caller that reuses a candidate_id across projects.
type semanticCache struct {
	mu          sync.Mutex
	lru         *lru.Cache[string, []semanticEntry]
	ttl         time.Duration
	threshold   float64
	perCandCap  int
	clock       func() time.Time
	embeddings  int // running count of stored entries, for metrics
}

func newSemanticCache(size int, ttl time.Duration, threshold float64) *semanticCache {
	c := &semanticCache{ttl: ttl, threshold: threshold, perCandCap: 8, clock: time.Now}
	if size > 0 {
		l, _ := lru.NewWithEvict[string, []semanticEntry](size, func(_ string, evicted []semanticEntry) {
			c.embeddings -= len(evicted)
		})
		c.lru = l
	}
	return c
}

func semanticCacheKey(projectID, candidateID string) string {
	return projectID + "\x00" + candidateID
}

func (c *semanticCache) Get(projectID, candidateID string, queryEmbedding []float32) (float64, bool) {
	if c.lru == nil || len(queryEmbedding) == 0 {
		return 0, false
	}
	key := semanticCacheKey(projectID, candidateID)
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.lru.Get(key)
	if !ok {
		return 0, false
	}
	now := c.clock()
	var kept []semanticEntry
	var bestScore float64
	found := false
	for _, e := range entries {
		if c.ttl > 0 && now.Sub(e.storedAt) > c.ttl {
			c.embeddings--
			continue
		}
		kept = append(kept, e)
		if !found && cosineSimilarity(queryEmbedding, e.embedding) >= c.threshold {
			bestScore = e.score
			found = true
		}
	}
	if len(kept) != len(entries) {
		c.lru.Add(key, kept)
	}
	return bestScore, found
}

func (c *semanticCache) Put(projectID, candidateID string, queryEmbedding []float32, score float64) {
	if c.lru == nil || len(queryEmbedding) == 0 {
		return
	}
	key := semanticCacheKey(projectID, candidateID)
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, _ := c.lru.Get(key)
	entries = append(entries, semanticEntry{embedding: queryEmbedding, score: score, storedAt: c.clock()})
	c.embeddings++
	if len(entries) > c.perCandCap {
		dropped := len(entries) - c.perCandCap
		entries = entries[dropped:]
		c.embeddings -= dropped
	}
	c.lru.Add(key, entries)
}

func (c *semanticCache) CandidateCount() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *semanticCache) EmbeddingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embeddings < 0 {
		return 0
	}
	return c.embeddings
}

// cosineSimilarity computes the standard cosine similarity of two vectors
// of matching dimensionality; mismatched or zero-magnitude vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
