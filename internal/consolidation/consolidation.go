// Package consolidation implements the nightly lifecycle pass (§4.9):
// migrating working memory to short-term, clustering and compressing
// near-duplicate short-term memories, forgetting old low-importance
// memories, and sweeping orphaned V/L records.
//
// Grounded on original_source/src/services/consolidation.py's
// migrate→cluster→process_clusters→forget→(orphan sweep added here, per the
// spec's step 5) pipeline, and on internal/engine/decay.go/decay_manager.go
// for the age/recency scoring shape reused by representative selection. The
// single exclusive lock for the whole pass generalises the
// started/shuttingDown guard pattern in internal/engine/memory_engine.go
// from a pair of booleans to one sync.Mutex held for the pass's duration.
package consolidation

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Config holds the tunable thresholds named in §4.9 and §6.3's
// consolidation.* keys.
type Config struct {
	WorkingRetention           time.Duration // consolidation.working_retention_hours, default 8h
	ClusterSimilarityThreshold float64       // consolidation.cluster_similarity_threshold, default 0.9
	MinClusterSize             int           // consolidation.min_cluster_size, default 2
	AgeThreshold               time.Duration // consolidation.age_threshold_days, default 30d
	ImportanceThreshold        float64       // consolidation.importance_threshold, default 0.3

	// HighAccessCountThreshold and RecentAccessWindow implement §4.9 step 4's
	// "memories with high access counts or recently referenced ones are
	// exempt" — the spec names the exemption but not its numbers. Resolved
	// here: an access count at or above the threshold, or any access within
	// the window, exempts a memory from forgetting regardless of age or
	// importance.
	HighAccessCountThreshold int
	RecentAccessWindow       time.Duration

	// LongTermImportanceThreshold gates the ShortTerm→LongTerm promotion
	// step (§4.9 step 1b): a ShortTerm memory whose importance is at or
	// above this value, and which is not compressed into another
	// representative, graduates to LongTerm; a memory migrated to ShortTerm
	// earlier in the same pass is eligible too. Named on the same pattern as HighAccessCountThreshold —
	// the spec names the working→short-term→long-term migration but not
	// its promotion numbers, resolved here as a threshold distinct from
	// (and higher than) ImportanceThreshold's forget-exemption bar.
	LongTermImportanceThreshold float64
}

// DefaultConfig mirrors ConsolidationService's documented defaults.
func DefaultConfig() Config {
	return Config{
		WorkingRetention:            8 * time.Hour,
		ClusterSimilarityThreshold:  0.9,
		MinClusterSize:              2,
		AgeThreshold:                30 * 24 * time.Hour,
		ImportanceThreshold:         0.3,
		HighAccessCountThreshold:    10,
		RecentAccessWindow:          30 * 24 * time.Hour,
		LongTermImportanceThreshold: 0.75,
	}
}

// Stats reports one Consolidate pass's outcome, mirroring consolidate()'s
// stats dict plus the orphan-sweep count §4.9 step 5 adds.
type Stats struct {
	MigratedCount           int
	PromotedCount           int
	ClustersCreated         int
	RepresentativesSelected int
	MemoriesCompressed      int
	MemoriesDeleted         int
	OrphansRemoved          int
	DurationSeconds         float64
}

// Service runs one ordered consolidation pass under an exclusive lock.
type Service struct {
	memory  storage.MemoryStore
	vector  storage.VectorStore
	lexical storage.LexicalIndex
	indexer *indexer.Indexer
	cfg     Config

	mu     sync.Mutex
	logger *log.Logger
}

// New builds a Service.
func New(memory storage.MemoryStore, vector storage.VectorStore, lexical storage.LexicalIndex, ix *indexer.Indexer, cfg Config) *Service {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 2
	}
	return &Service{
		memory:  memory,
		vector:  vector,
		lexical: lexical,
		indexer: ix,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "Consolidation: ", log.Flags()),
	}
}

// Consolidate runs the full §4.9 pipeline once, holding the exclusive lock
// for its whole duration so ingestion and deletion never observe
// half-migrated state (§5). Idempotent and safe to re-run.
func (s *Service) Consolidate(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var stats Stats

	migrated, err := s.migrateWorkingMemory(ctx, start)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("migrate working memory: %w", err))
	}
	stats.MigratedCount = migrated
	s.logger.Printf("migrated %d memories from working to short-term", migrated)

	promoted, err := s.promoteToLongTerm(ctx)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("promote to long-term: %w", err))
	}
	stats.PromotedCount = promoted
	s.logger.Printf("promoted %d memories from short-term to long-term", promoted)

	clusters, err := s.clusterShortTermMemories(ctx)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("cluster memories: %w", err))
	}
	stats.ClustersCreated = len(clusters)
	s.logger.Printf("created %d memory clusters", len(clusters))

	reps, compressed, err := s.processClusters(ctx, clusters, start)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("process clusters: %w", err))
	}
	stats.RepresentativesSelected = reps
	stats.MemoriesCompressed = compressed
	s.logger.Printf("selected %d representatives, compressed %d memories", reps, compressed)

	deleted, err := s.forgetOldMemories(ctx, start)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("forget old memories: %w", err))
	}
	stats.MemoriesDeleted = deleted
	s.logger.Printf("forgot %d old memories", deleted)

	orphans, err := s.sweepOrphans(ctx)
	if err != nil {
		return stats, types.NewConsolidationError(fmt.Errorf("sweep orphans: %w", err))
	}
	stats.OrphansRemoved = orphans
	s.logger.Printf("removed %d orphaned records", orphans)

	stats.DurationSeconds = time.Since(start).Seconds()
	s.logger.Printf("consolidation completed in %.1fs: %+v", stats.DurationSeconds, stats)
	return stats, nil
}

// migrateWorkingMemory promotes Working memories older than
// cfg.WorkingRetention to ShortTerm (§4.9 step 1).
func (s *Service) migrateWorkingMemory(ctx context.Context, now time.Time) (int, error) {
	memories, err := s.listAll(ctx, storage.ListOptions{Tier: string(types.TierWorking)})
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.cfg.WorkingRetention)
	migrated := 0
	for i := range memories {
		mem := &memories[i]
		if mem.Timestamp.After(cutoff) {
			continue
		}
		mem.Tier = types.TierShortTerm
		if err := s.memory.Update(ctx, mem); err != nil {
			s.logger.Printf("failed to migrate memory %s to short-term: %v", mem.ID, err)
			continue
		}
		if err := s.indexer.UpdateMetadata(ctx, mem.ID, map[string]interface{}{"tier": string(types.TierShortTerm)}); err != nil {
			s.logger.Printf("failed to sync migrated tier for %s: %v", mem.ID, err)
		}
		migrated++
	}
	return migrated, nil
}

// promoteToLongTerm graduates ShortTerm memories whose importance meets
// cfg.LongTermImportanceThreshold to LongTerm (§4.9 step 1b). Compressed
// memories are skipped — they already point at a representative and
// promoting a pointer record would strand it outside the cluster it was
// folded into.
func (s *Service) promoteToLongTerm(ctx context.Context) (int, error) {
	memories, err := s.listAll(ctx, storage.ListOptions{Tier: string(types.TierShortTerm)})
	if err != nil {
		return 0, err
	}

	promoted := 0
	for i := range memories {
		mem := &memories[i]
		if mem.Compressed {
			continue
		}
		if mem.Importance < s.cfg.LongTermImportanceThreshold {
			continue
		}
		mem.Tier = types.TierLongTerm
		if err := s.memory.Update(ctx, mem); err != nil {
			s.logger.Printf("failed to promote memory %s to long-term: %v", mem.ID, err)
			continue
		}
		if err := s.indexer.UpdateMetadata(ctx, mem.ID, map[string]interface{}{"tier": string(types.TierLongTerm)}); err != nil {
			s.logger.Printf("failed to sync promoted tier for %s: %v", mem.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

// clusterShortTermMemories groups ShortTerm memories whose summary
// embeddings are within cfg.ClusterSimilarityThreshold of each other, using
// the same greedy single-pass algorithm as _cluster_similar_memories: each
// unvisited memory seeds a cluster that absorbs every later unvisited
// memory similar enough to it (§4.9 step 2).
func (s *Service) clusterShortTermMemories(ctx context.Context) ([][]string, error) {
	memories, err := s.listAll(ctx, storage.ListOptions{Tier: string(types.TierShortTerm)})
	if err != nil {
		return nil, err
	}

	type embedded struct {
		id        string
		embedding []float32
	}
	candidates := make([]embedded, 0, len(memories))
	for _, mem := range memories {
		emb, err := s.vector.GetMetadataEmbedding(ctx, mem.ID)
		if err != nil {
			s.logger.Printf("skipping %s in clustering, no metadata embedding: %v", mem.ID, err)
			continue
		}
		candidates = append(candidates, embedded{id: mem.ID, embedding: emb})
	}

	visited := make(map[string]bool, len(candidates))
	var clusters [][]string
	for i, a := range candidates {
		if visited[a.id] {
			continue
		}
		cluster := []string{a.id}
		visited[a.id] = true
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if visited[b.id] {
				continue
			}
			if cosineSimilarity(a.embedding, b.embedding) >= s.cfg.ClusterSimilarityThreshold {
				cluster = append(cluster, b.id)
				visited[b.id] = true
			}
		}
		if len(cluster) >= s.cfg.MinClusterSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters, nil
}

// processClusters selects a representative per cluster and compresses the
// rest (§4.9 steps 2-3). clusterShortTermMemories has already dropped
// anything below cfg.MinClusterSize.
func (s *Service) processClusters(ctx context.Context, clusters [][]string, now time.Time) (representatives, compressed int, err error) {
	for _, cluster := range clusters {
		members, loadErr := s.loadMembers(ctx, cluster)
		if loadErr != nil {
			s.logger.Printf("failed to load cluster members: %v", loadErr)
			continue
		}
		if len(members) == 0 {
			continue
		}

		rep := selectRepresentative(members, now)
		clusterID := "cluster-" + rep.ID

		if err := s.markRepresentative(ctx, rep, clusterID, len(cluster)); err != nil {
			s.logger.Printf("failed to mark representative %s: %v", rep.ID, err)
		} else {
			representatives++
		}

		for i := range members {
			mem := members[i]
			if mem.ID == rep.ID {
				continue
			}
			if err := s.compressMember(ctx, mem, rep.ID, clusterID); err != nil {
				s.logger.Printf("failed to compress memory %s: %v", mem.ID, err)
				continue
			}
			compressed++
		}
	}
	return representatives, compressed, nil
}

func (s *Service) loadMembers(ctx context.Context, ids []string) ([]types.Memory, error) {
	out := make([]types.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := s.memory.Get(ctx, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *mem)
	}
	return out, nil
}

// selectRepresentative picks the member maximising detail, recency and
// importance (§4.9 step 2), breaking ties by newer timestamp then
// lexicographically smaller memory_id — the spec's explicit tie-break,
// which _select_representative_memory's plain max() does not resolve
// deterministically.
func selectRepresentative(members []types.Memory, now time.Time) *types.Memory {
	best := &members[0]
	bestScore := representativeScore(best, now)
	for i := 1; i < len(members); i++ {
		m := &members[i]
		score := representativeScore(m, now)
		if score > bestScore || (score == bestScore && higherPriority(m, best)) {
			best, bestScore = m, score
		}
	}
	return best
}

func higherPriority(a, b *types.Memory) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}

// representativeScore mirrors score_memory: a weighted sum of content
// length (0.5), recency (0.3), and importance (0.2), with recency and
// importance scaled by 1000 so they carry real weight against content
// lengths that are typically in the tens to low hundreds of characters.
func representativeScore(m *types.Memory, now time.Time) float64 {
	ageDays := m.Age(now).Hours() / 24.0
	recency := 1.0 / (1.0 + ageDays)
	return float64(len(m.Content))*0.5 + recency*1000*0.3 + m.Importance*1000*0.2
}

func (s *Service) markRepresentative(ctx context.Context, rep *types.Memory, clusterID string, size int) error {
	if rep.Metadata == nil {
		rep.Metadata = make(map[string]interface{})
	}
	rep.Metadata["cluster_id"] = clusterID
	rep.Metadata["is_representative"] = true
	rep.Metadata["cluster_size"] = size

	if err := s.memory.Update(ctx, rep); err != nil {
		return err
	}
	if err := s.indexer.UpdateMetadata(ctx, rep.ID, map[string]interface{}{
		"cluster_id": clusterID, "is_representative": true, "cluster_size": size,
	}); err != nil {
		s.logger.Printf("failed to sync representative metadata for %s: %v", rep.ID, err)
	}
	return nil
}

// compressMember marks a non-representative cluster member compressed,
// replaces its content with a pointer to the representative, and deletes
// its chunks from V and L while leaving its metadata entry in place (§4.9
// step 3).
func (s *Service) compressMember(ctx context.Context, mem types.Memory, representativeID, clusterID string) error {
	mem.Compressed = true
	mem.RepresentsID = representativeID
	mem.Content = fmt.Sprintf("[compressed into %s] %s", representativeID, mem.Summary)
	if mem.Metadata == nil {
		mem.Metadata = make(map[string]interface{})
	}
	mem.Metadata["cluster_id"] = clusterID
	mem.Metadata["is_compressed"] = true

	if err := s.memory.Update(ctx, &mem); err != nil {
		return err
	}
	if err := s.indexer.UpdateMetadata(ctx, mem.ID, map[string]interface{}{
		"cluster_id": clusterID, "is_compressed": true,
	}); err != nil {
		s.logger.Printf("failed to sync compressed metadata for %s: %v", mem.ID, err)
	}
	return s.indexer.CompressMemory(ctx, mem.ID)
}

// forgetOldMemories deletes memories past cfg.AgeThreshold with importance
// below cfg.ImportanceThreshold, unless exempted by access history (§4.9
// step 4).
func (s *Service) forgetOldMemories(ctx context.Context, now time.Time) (int, error) {
	memories, err := s.listAll(ctx, storage.ListOptions{})
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.cfg.AgeThreshold)
	deleted := 0
	for i := range memories {
		mem := &memories[i]
		if mem.Importance >= s.cfg.ImportanceThreshold {
			continue
		}
		if mem.Timestamp.After(cutoff) {
			continue
		}
		if s.isForgetExempt(mem, now) {
			continue
		}

		if err := s.indexer.DeleteByMemoryID(ctx, mem.ID); err != nil {
			s.logger.Printf("failed to delete memory %s from vector/lexical stores: %v", mem.ID, err)
			continue
		}
		if err := s.memory.Delete(ctx, mem.ID); err != nil && err != storage.ErrNotFound {
			s.logger.Printf("failed to delete canonical record for %s: %v", mem.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *Service) isForgetExempt(mem *types.Memory, now time.Time) bool {
	if mem.AccessCount >= s.cfg.HighAccessCountThreshold {
		return true
	}
	if mem.LastAccessed != nil && now.Sub(*mem.LastAccessed) < s.cfg.RecentAccessWindow {
		return true
	}
	return false
}

// sweepOrphans removes chunks in L with no matching metadata entry in V,
// and metadata entries in V with zero chunks unless compressed (§4.9 step
// 5).
func (s *Service) sweepOrphans(ctx context.Context) (int, error) {
	metaIDs, err := s.vector.ListMetadataMemoryIDs(ctx)
	if err != nil {
		return 0, err
	}
	chunkIDs, err := s.vector.ListChunkMemoryIDs(ctx)
	if err != nil {
		return 0, err
	}
	lexicalIDs, err := s.lexical.ListMemoryIDs(ctx)
	if err != nil {
		return 0, err
	}

	metaSet := toSet(metaIDs)
	chunkSet := toSet(chunkIDs)

	removed := 0
	for _, id := range lexicalIDs {
		if metaSet[id] {
			continue
		}
		if err := s.indexer.DeleteByMemoryID(ctx, id); err != nil {
			s.logger.Printf("failed to remove orphaned lexical chunks for %s: %v", id, err)
			continue
		}
		removed++
	}

	for _, id := range metaIDs {
		if chunkSet[id] {
			continue
		}
		mem, err := s.memory.Get(ctx, id)
		if err != nil && err != storage.ErrNotFound {
			s.logger.Printf("failed to check canonical record for %s during orphan sweep: %v", id, err)
			continue
		}
		if err == nil && mem.Compressed {
			continue
		}
		if err := s.indexer.DeleteByMemoryID(ctx, id); err != nil {
			s.logger.Printf("failed to remove orphaned metadata entry for %s: %v", id, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// listAll pages through MemoryStore.List, since ListOptions.Normalize caps
// a single page's Limit at 100.
func (s *Service) listAll(ctx context.Context, opts storage.ListOptions) ([]types.Memory, error) {
	opts.Page = 1
	opts.Limit = 100
	var out []types.Memory
	for {
		result, err := s.memory.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Items...)
		if !result.HasMore || len(result.Items) == 0 {
			break
		}
		opts.Page++
	}
	return out, nil
}

// cosineSimilarity is the standard cosine similarity of two equal-length
// vectors; mismatched or zero-magnitude vectors yield 0. Duplicated from
// internal/rerank's identical helper rather than shared, since both are
// small, self-contained, and belong to packages that should not otherwise
// depend on each other.
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
