// Package search implements the hybrid search service (§4.5): concurrent
// vector+lexical retrieval, merge-by-id, dedup-by-memory, rule-based rerank
// (§4.6), and an optional cross-encoder pass (§4.7, internal/rerank).
//
// Grounded on the teacher's internal/engine/search_orchestrator.go for its
// gather→score→sort→paginate shape and ScoreComponents-style breakdown, but
// the retrieval step is rewritten: the teacher has one FTS5-or-list-scan
// path, where the spec needs two independent stores fanned out
// concurrently and reconciled.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// neutralVectorSimilarity is substituted for a candidate that only matched
// lexically, per §4.5 step 3: "missing score defaults to 0 (lexical) or a
// neutral similarity (vector)".
const neutralVectorSimilarity = 0.5

// Embedder is the subset of llm.EmbeddingGenerator (or router.Router) the
// orchestrator depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CrossEncoderCandidate is what the optional cross-encoder stage (§4.7,
// internal/rerank) operates on: enough of a Result to build a prompt and
// return a blended score.
type CrossEncoderCandidate struct {
	MemoryID      string
	Content       string
	Metadata      map[string]interface{}
	ProjectID     string
	CombinedScore float64
}

// CrossEncoderReranker is implemented by internal/rerank.Reranker. It
// returns candidates with CombinedScore overwritten by the blended
// rule-based/cross-encoder score; order is not assumed significant, the
// orchestrator re-sorts afterward.
type CrossEncoderReranker interface {
	Rerank(ctx context.Context, query string, candidates []CrossEncoderCandidate) ([]CrossEncoderCandidate, error)
}

// Result is one hybrid-search hit, matching §4.5's output shape exactly:
// {id, content, metadata, score, vector_similarity, lexical_score,
// combined_score}.
type Result struct {
	ID               string
	Content          string
	Metadata         map[string]interface{}
	ProjectID        string
	Score            float64 // final score after any cross-encoder blend
	VectorSimilarity float64
	LexicalScore     float64
	CombinedScore    float64 // rule-based score, pre-cross-encoder (§4.6)
}

// TopKUnset is the Options.TopK sentinel meaning "caller didn't specify a
// limit, apply the default." A literal 0 is a distinct, deliberate value
// (§8: top_k=0 means "return nothing") and is never coerced to the
// default.
const TopKUnset = -1

// Options configures one Search call.
type Options struct {
	Query                   string
	TopK                    int // TopKUnset for "apply default"; 0 is explicit "return nothing"
	ProjectID               string
	Filters                 map[string]interface{} // open equality bag, §4.5; supports "$and": []map[string]interface{}
	IncludeSessionSummaries bool

	VectorCandidateCount  int // default 100
	LexicalCandidateCount int // default 30

	CrossEncoderEnabled bool
	CrossEncoderTopK    int // default 20
}

func (o *Options) applyDefaults() {
	if o.TopK < 0 {
		o.TopK = 10
	}
	if o.VectorCandidateCount <= 0 {
		o.VectorCandidateCount = 100
	}
	if o.LexicalCandidateCount <= 0 {
		o.LexicalCandidateCount = 30
	}
	if o.CrossEncoderTopK <= 0 {
		o.CrossEncoderTopK = 20
	}
}

// Orchestrator ties the storage layer, the embedder, the rule-based
// reranker, and an optional cross-encoder together into one Search call.
type Orchestrator struct {
	memory   storage.MemoryStore
	vector   storage.VectorStore
	lexical  storage.LexicalIndex
	embedder Embedder
	reranker *Reranker
	cross    CrossEncoderReranker // nil disables §4.7 entirely

	logger *log.Logger
}

// New builds an Orchestrator. cross may be nil (cross-encoder disabled).
func New(memory storage.MemoryStore, vector storage.VectorStore, lexical storage.LexicalIndex, embedder Embedder, reranker *Reranker, cross CrossEncoderReranker) *Orchestrator {
	return &Orchestrator{
		memory:   memory,
		vector:   vector,
		lexical:  lexical,
		embedder: embedder,
		reranker: reranker,
		cross:    cross,
		logger:   log.New(log.Writer(), "Search: ", log.Flags()),
	}
}

// mergedCandidate accumulates the per-id scores from V and L before dedup.
type mergedCandidate struct {
	id               string
	memoryID         string
	vectorSimilarity float64
	lexicalScore     float64
	sawVector        bool
	sawLexical       bool
}

// Search runs the full §4.5 algorithm. warning is non-empty only when the
// cross-encoder layer failed and results degraded to rule-based order
// (§7: SearchFailed{cause:rerank} does not surface as an error in that
// case).
func (o *Orchestrator) Search(ctx context.Context, opts Options) (results []Result, warning string, err error) {
	if opts.TopK == 0 {
		return []Result{}, "", nil
	}
	opts.applyDefaults()

	queryEmbedding, err := o.embedder.Embed(ctx, opts.Query)
	if err != nil {
		return nil, "", types.NewSearchFailed(types.SearchCauseEmbedding, err)
	}

	filter := storage.SearchFilter{ProjectID: opts.ProjectID}
	if schema, ok := opts.Filters["schema"].(string); ok {
		filter.Schema = schema
	}
	if tier, ok := opts.Filters["tier"].(string); ok {
		filter.Tier = tier
	}

	type vectorResult struct {
		candidates []storage.ScoredCandidate
		err        error
	}
	type lexicalResult struct {
		candidates []storage.ScoredCandidate
		err        error
	}
	vectorCh := make(chan vectorResult, 1)
	lexicalCh := make(chan lexicalResult, 1)

	go func() {
		c, err := o.vector.Search(ctx, queryEmbedding, filter, opts.VectorCandidateCount)
		vectorCh <- vectorResult{candidates: c, err: err}
	}()
	go func() {
		c, err := o.lexical.Search(ctx, opts.Query, filter, opts.LexicalCandidateCount, true)
		lexicalCh <- lexicalResult{candidates: c, err: err}
	}()

	vr := <-vectorCh
	lr := <-lexicalCh

	if vr.err != nil {
		return nil, "", types.NewSearchFailed(types.SearchCauseVector, vr.err)
	}
	if lr.err != nil {
		return nil, "", types.NewSearchFailed(types.SearchCauseLexical, lr.err)
	}

	merged := make(map[string]*mergedCandidate)
	for _, c := range vr.candidates {
		if !opts.IncludeSessionSummaries && types.IsMetadataEntryID(c.ID) {
			continue
		}
		merged[c.ID] = &mergedCandidate{id: c.ID, memoryID: c.MemoryID, vectorSimilarity: c.Score, sawVector: true}
	}
	for _, c := range lr.candidates {
		if m, ok := merged[c.ID]; ok {
			m.lexicalScore = c.Score
			m.sawLexical = true
		} else {
			merged[c.ID] = &mergedCandidate{id: c.ID, memoryID: c.MemoryID, vectorSimilarity: neutralVectorSimilarity, lexicalScore: c.Score, sawLexical: true}
		}
	}

	// Dedup by memory_id: keep the best-scoring representative across a
	// memory's chunks and its metadata entry (§4.5 step 4).
	bestByMemory := make(map[string]*mergedCandidate)
	for _, c := range merged {
		cur, ok := bestByMemory[c.memoryID]
		if !ok || (c.vectorSimilarity+c.lexicalScore) > (cur.vectorSimilarity+cur.lexicalScore) {
			bestByMemory[c.memoryID] = c
		}
	}

	now := time.Now()
	for memoryID, c := range bestByMemory {
		mem, err := o.memory.Get(ctx, memoryID)
		if err != nil {
			o.logger.Printf("skipping candidate for missing memory %s: %v", memoryID, err)
			continue
		}
		if !matchesFilters(mem, opts.Filters) {
			continue
		}

		combined := o.reranker.Score(mem, c.vectorSimilarity, c.lexicalScore, 0, now)
		results = append(results, Result{
			ID:               mem.ID,
			Content:          mem.Content,
			Metadata:         mem.Metadata,
			ProjectID:        mem.ProjectID,
			Score:            combined,
			VectorSimilarity: c.vectorSimilarity,
			LexicalScore:     c.lexicalScore,
			CombinedScore:    combined,
		})
	}

	sortResults(results)

	if opts.CrossEncoderEnabled && o.cross != nil && len(results) > 0 {
		k := opts.CrossEncoderTopK
		if k > len(results) {
			k = len(results)
		}
		reranked, err := o.rerankTop(ctx, opts.Query, results[:k])
		if err != nil {
			warning = fmt.Sprintf("cross-encoder rerank failed, results in rule-based order: %v", err)
			o.logger.Printf("%s", warning)
		} else {
			copy(results[:k], reranked)
			sortResults(results)
		}
	}

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	o.touchAsync(results)

	return results, warning, nil
}

func (o *Orchestrator) rerankTop(ctx context.Context, query string, top []Result) ([]Result, error) {
	candidates := make([]CrossEncoderCandidate, len(top))
	for i, r := range top {
		candidates[i] = CrossEncoderCandidate{
			MemoryID:      r.ID,
			Content:       r.Content,
			Metadata:      r.Metadata,
			ProjectID:     r.ProjectID,
			CombinedScore: r.CombinedScore,
		}
	}
	out, err := o.cross.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]CrossEncoderCandidate, len(out))
	for _, c := range out {
		byID[c.MemoryID] = c
	}
	result := make([]Result, len(top))
	for i, r := range top {
		if c, ok := byID[r.ID]; ok {
			r.Score = c.CombinedScore
		}
		result[i] = r
	}
	return result, nil
}

// sortResults orders strictly by descending Score, ties broken by ascending
// memory_id (§4.5: "Ordering guarantees").
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// matchesFilters applies the open metadata equality bag from Options.
// Filters against mem, with "$and" supporting conjunction of sub-bags.
// Reserved keys "schema"/"tier" are already applied at the storage layer
// via storage.SearchFilter and are skipped here to avoid redundant checks.
func matchesFilters(mem *types.Memory, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	if raw, ok := filters["$and"]; ok {
		for _, bag := range asFilterBags(raw) {
			if !matchesFilters(mem, bag) {
				return false
			}
		}
		return true
	}
	for key, want := range filters {
		switch key {
		case "$and", "schema", "tier":
			continue
		case "project_id":
			if mem.ProjectID != fmt.Sprintf("%v", want) {
				return false
			}
		default:
			got, ok := mem.Metadata[key]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				return false
			}
		}
	}
	return true
}

// asFilterBags normalizes "$and"'s value into a slice of equality bags. JSON
// decoding yields []interface{} of map[string]interface{}; direct
// in-process callers may already pass []map[string]interface{}.
func asFilterBags(raw interface{}) []map[string]interface{} {
	switch v := raw.(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			if bag, ok := item.(map[string]interface{}); ok {
				out = append(out, bag)
			}
		}
		return out
	default:
		return nil
	}
}

// touchAsync records the access-count/last-accessed side effect (§4.5:
// "failure to update is logged but non-fatal") without delaying the
// response to the caller.
func (o *Orchestrator) touchAsync(results []Result) {
	if len(results) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		now := time.Now()
		for _, r := range results {
			if err := o.memory.Touch(ctx, r.ID, now); err != nil {
				o.logger.Printf("touch failed for %s: %v", r.ID, err)
			}
		}
	}()
}
