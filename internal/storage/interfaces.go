// Package storage provides the V (vector) and L (lexical) storage
// abstractions behind hybrid search (§3, §4.4), plus the canonical memory
// record store. Interfaces stay small and composable: a backend package
// (sqlite, postgres) implements all three over one physical database.
package storage

import (
	"context"
	"time"

	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// MemoryStore owns the canonical Memory record: CRUD plus the access-count
// and timestamp bookkeeping that search and consolidation depend on.
type MemoryStore interface {
	// Store creates or updates a memory (upsert semantics).
	Store(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// List retrieves memories with pagination and filtering.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Memory], error)

	// Update overwrites an existing memory's mutable fields. Returns
	// ErrNotFound if the memory doesn't exist.
	Update(ctx context.Context, memory *types.Memory) error

	// Delete removes a memory record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Touch records an access: bumps access_count, refreshes last_accessed,
	// and boosts strength per types.Memory.Touch (§4.5 side effects).
	Touch(ctx context.Context, id string, now time.Time) error

	// Close releases any resources held by the store.
	Close() error
}

// VectorStore is V from §3: one metadata record per memory plus N chunk
// records, searchable by embedding similarity.
type VectorStore interface {
	// UpsertMetadataEntry writes the "{memory_id}-metadata" record, embedded
	// from the memory's structured summary, with is_memory_entry=true.
	UpsertMetadataEntry(ctx context.Context, mem *types.Memory, embedding []float32) error

	// UpsertChunk writes a "{memory_id}#{i}" chunk record with its own
	// embedding and is_memory_entry=false.
	UpsertChunk(ctx context.Context, chunk types.Chunk) error

	// DeleteByMemoryID removes the metadata entry and every chunk belonging
	// to memoryID (§4.4 delete_by_memory_id).
	DeleteByMemoryID(ctx context.Context, memoryID string) error

	// UpdateMetadata merges fields into the metadata entry's bag without
	// touching chunk records or re-embedding anything (§4.4 update_metadata).
	UpdateMetadata(ctx context.Context, memoryID string, fields map[string]interface{}) error

	// GetMetadataEmbedding returns the stored embedding of memoryID's
	// metadata entry (the summary embedding written by UpsertMetadataEntry),
	// used by consolidation's clustering pass (§4.9 step 2) so cluster
	// similarity is computed against the same vectors search ranks by.
	// Returns ErrNotFound if the metadata entry doesn't exist.
	GetMetadataEmbedding(ctx context.Context, memoryID string) ([]float32, error)

	// DeleteChunks removes every chunk belonging to memoryID but leaves its
	// metadata entry in place, used by consolidation's compress step (§4.9
	// step 3: "their chunks in L are deleted; their metadata entry remains").
	DeleteChunks(ctx context.Context, memoryID string) error

	// ListMetadataMemoryIDs returns the memory_id of every metadata entry
	// currently in V, used by consolidation's orphan sweep (§4.9 step 5).
	ListMetadataMemoryIDs(ctx context.Context) ([]string, error)

	// ListChunkMemoryIDs returns the distinct memory_id of every chunk
	// currently in V, used by consolidation's orphan sweep (§4.9 step 5).
	ListChunkMemoryIDs(ctx context.Context) ([]string, error)

	// Search returns the topK candidates (metadata entries and/or chunks)
	// closest to queryEmbedding under filter, scored by cosine similarity.
	Search(ctx context.Context, queryEmbedding []float32, filter SearchFilter, topK int) ([]ScoredCandidate, error)

	// Close releases any resources held by the store.
	Close() error
}

// LexicalIndex is L from §3: a BM25/FTS-style index over chunk text only
// (metadata entries are never lexically indexed).
type LexicalIndex interface {
	// IndexChunk adds or replaces a chunk's lexical entry.
	IndexChunk(ctx context.Context, chunk types.Chunk) error

	// DeleteByMemoryID removes every chunk belonging to memoryID from the
	// lexical index (§4.4 delete_by_memory_id).
	DeleteByMemoryID(ctx context.Context, memoryID string) error

	// ListMemoryIDs returns the distinct memory_id of every chunk currently
	// indexed, used by consolidation's orphan sweep (§4.9 step 5).
	ListMemoryIDs(ctx context.Context) ([]string, error)

	// Search returns the topK lexical candidates matching query under
	// filter. FuzzyFallback, when true, retries with relaxed OR semantics
	// if the strict query yields zero hits.
	Search(ctx context.Context, query string, filter SearchFilter, topK int, fuzzyFallback bool) ([]ScoredCandidate, error)

	// Close releases any resources held by the index.
	Close() error
}
