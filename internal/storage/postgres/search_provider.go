package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// LexicalIndex implements storage.LexicalIndex using PostgreSQL's built-in
// tsvector/ts_rank full-text search over vector_entries.content_tsv (kept in
// sync by the trg_vector_entries_tsv trigger defined in schema.go).
type LexicalIndex struct {
	db *sql.DB
}

// NewLexicalIndex wraps an already-open MemoryStore's database handle.
func NewLexicalIndex(store *MemoryStore) *LexicalIndex {
	return &LexicalIndex{db: store.db}
}

var _ storage.LexicalIndex = (*LexicalIndex)(nil)

// IndexChunk is a no-op for inserts already performed via UpsertChunk: the
// tsvector column is maintained by a database trigger, so indexing is
// implicit once the row exists. This method exists to satisfy
// storage.LexicalIndex and to support standalone re-indexing.
func (l *LexicalIndex) IndexChunk(ctx context.Context, chunk types.Chunk) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE vector_entries SET content = $1 WHERE id = $2",
		chunk.Content, chunk.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: lexical reindex chunk %q: %w", chunk.ID, err)
	}
	return nil
}

// DeleteByMemoryID removes memoryID's chunk rows only, since L and V share
// vector_entries here: deleting the metadata row too would break
// consolidation's compress step, which needs the chunks gone but the
// metadata entry kept (§4.9 step 3).
func (l *LexicalIndex) DeleteByMemoryID(ctx context.Context, memoryID string) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM vector_entries WHERE memory_id = $1 AND is_memory_entry = false", memoryID)
	if err != nil {
		return fmt.Errorf("postgres: lexical delete for %q: %w", memoryID, err)
	}
	return nil
}

// ListMemoryIDs returns the distinct memory_id of every chunk row indexed.
func (l *LexicalIndex) ListMemoryIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT DISTINCT memory_id FROM vector_entries WHERE is_memory_entry = false")
	if err != nil {
		return nil, fmt.Errorf("postgres: list lexical memory ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan lexical memory id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Search ranks chunks by ts_rank against a plainto_tsquery, retrying with
// looser OR-joined terms if fuzzyFallback is set and the strict query
// returns nothing.
func (l *LexicalIndex) Search(ctx context.Context, query string, filter storage.SearchFilter, topK int, fuzzyFallback bool) ([]storage.ScoredCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var where []string
	args := []interface{}{query}
	where = append(where, "content_tsv @@ plainto_tsquery('english', $1)", "is_memory_entry = false")
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = "+arg(filter.ProjectID))
	}
	if filter.Schema != "" {
		where = append(where, "schema = "+arg(filter.Schema))
	}
	if filter.Tier != "" {
		where = append(where, "tier = "+arg(filter.Tier))
	}
	limitArg := arg(topK)

	q := fmt.Sprintf(`
		SELECT id, memory_id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM vector_entries
		WHERE %s
		ORDER BY rank DESC
		LIMIT %s
	`, strings.Join(where, " AND "), limitArg)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: lexical search: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredCandidate
	for rows.Next() {
		var c storage.ScoredCandidate
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.Score); err != nil {
			return nil, fmt.Errorf("postgres: lexical search scan: %w", err)
		}
		out = append(out, c)
	}

	if len(out) == 0 && fuzzyFallback {
		terms := strings.Fields(query)
		if len(terms) > 1 {
			return l.Search(ctx, strings.Join(terms, " | "), filter, topK, false)
		}
	}

	return out, nil
}

// Close is a no-op: the database handle is owned by the MemoryStore this
// index was built from.
func (l *LexicalIndex) Close() error { return nil }
