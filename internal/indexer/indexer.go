// Package indexer is the sole write path into V and L (§4.4). Nothing else
// in the service calls storage.VectorStore/LexicalIndex write methods
// directly; the ingestion service and the deletion handler both route
// through here.
package indexer

import (
	"context"
	"fmt"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Indexer implements §4.4's three operations over a single V+L backend
// pair. It is backend-agnostic: sqlite and postgres both satisfy
// storage.VectorStore/storage.LexicalIndex.
type Indexer struct {
	vector  storage.VectorStore
	lexical storage.LexicalIndex
}

// New builds an Indexer over the given V and L adapters.
func New(vector storage.VectorStore, lexical storage.LexicalIndex) *Indexer {
	return &Indexer{vector: vector, lexical: lexical}
}

// Index writes mem's metadata entry and chunks to V, then the chunks to L
// (§4.1 step 7: "writes to V first, then L"). On any L failure it
// compensates by deleting everything just written for mem.ID from V, so a
// failed Index call leaves no partial state. Returns only after both stores
// are durable.
//
// summaryEmbedding is the embedding of mem.Summary (the structured summary,
// §4.3), used for the metadata entry; chunks must already carry their own
// embeddings (internal/chunk + the embedder populate these upstream).
func (ix *Indexer) Index(ctx context.Context, mem *types.Memory, chunks []types.Chunk, summaryEmbedding []float32) error {
	if err := ix.vector.UpsertMetadataEntry(ctx, mem, summaryEmbedding); err != nil {
		return fmt.Errorf("indexer: write metadata entry for %s: %w", mem.ID, err)
	}

	for _, c := range chunks {
		if err := ix.vector.UpsertChunk(ctx, c); err != nil {
			ix.compensateVector(ctx, mem.ID)
			return fmt.Errorf("indexer: write chunk %s: %w", c.ID, err)
		}
	}

	for _, c := range chunks {
		if err := ix.lexical.IndexChunk(ctx, c); err != nil {
			ix.compensateVector(ctx, mem.ID)
			return fmt.Errorf("indexer: write lexical entry for chunk %s: %w", c.ID, err)
		}
	}

	return nil
}

// compensateVector removes everything Index wrote to V for memoryID after a
// mid-write failure. Best-effort: a crash or failure here leaves an orphan
// in V, which consolidation's orphan sweep (§4.9) removes later — the spec
// explicitly tolerates this rather than requiring true transactional
// rollback across two independent stores.
func (ix *Indexer) compensateVector(ctx context.Context, memoryID string) {
	_ = ix.vector.DeleteByMemoryID(ctx, memoryID)
}

// DeleteByMemoryID removes memoryID's metadata entry and chunks from V, and
// its chunks from L. Idempotent: deleting an already-absent memory is not an
// error. This is the only supported deletion path (§4.4 invariant).
func (ix *Indexer) DeleteByMemoryID(ctx context.Context, memoryID string) error {
	if err := ix.vector.DeleteByMemoryID(ctx, memoryID); err != nil {
		return fmt.Errorf("indexer: delete %s from vector store: %w", memoryID, err)
	}
	if err := ix.lexical.DeleteByMemoryID(ctx, memoryID); err != nil {
		return fmt.Errorf("indexer: delete %s from lexical index: %w", memoryID, err)
	}
	return nil
}

// CompressMemory removes memoryID's chunks from V and L while leaving its
// metadata entry in V untouched, so it can still surface as a search hit
// through its cluster representative (§4.9 step 3).
func (ix *Indexer) CompressMemory(ctx context.Context, memoryID string) error {
	if err := ix.vector.DeleteChunks(ctx, memoryID); err != nil {
		return fmt.Errorf("indexer: delete chunks for %s from vector store: %w", memoryID, err)
	}
	if err := ix.lexical.DeleteByMemoryID(ctx, memoryID); err != nil {
		return fmt.Errorf("indexer: delete chunks for %s from lexical index: %w", memoryID, err)
	}
	return nil
}

// UpdateMetadata merges fields into memoryID's metadata entry only; chunk
// metadata is never mirrored (§4.4).
func (ix *Indexer) UpdateMetadata(ctx context.Context, memoryID string, fields map[string]interface{}) error {
	if err := ix.vector.UpdateMetadata(ctx, memoryID, fields); err != nil {
		return fmt.Errorf("indexer: update metadata for %s: %w", memoryID, err)
	}
	return nil
}
