package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// LexicalIndex implements storage.LexicalIndex over the same SQLite database
// as MemoryStore, via the chunks_fts FTS5 virtual table.
type LexicalIndex struct {
	db *sql.DB
}

// NewLexicalIndex wraps an already-open MemoryStore's database handle so L
// and V share one file (the §3 storage mapping keeps V and L as conceptually
// separate stores, but nothing requires them to be physically separate).
func NewLexicalIndex(store *MemoryStore) *LexicalIndex {
	return &LexicalIndex{db: store.db}
}

var _ storage.LexicalIndex = (*LexicalIndex)(nil)

// IndexChunk adds or replaces a chunk's lexical entry.
func (l *LexicalIndex) IndexChunk(ctx context.Context, chunk types.Chunk) error {
	schema, _ := chunk.Metadata["schema"].(string)
	tier, _ := chunk.Metadata["tier"].(string)
	projectID, _ := chunk.Metadata["project_id"].(string)

	if _, err := l.db.ExecContext(ctx, "DELETE FROM chunks_fts WHERE id = ?", chunk.ID); err != nil {
		return fmt.Errorf("sqlite: lexical delete before reindex %q: %w", chunk.ID, err)
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO chunks_fts (id, memory_id, project_id, schema, tier, content) VALUES (?,?,?,?,?,?)",
		chunk.ID, chunk.MemoryID, projectID, schema, tier, chunk.Content,
	)
	if err != nil {
		return fmt.Errorf("sqlite: lexical index chunk %q: %w", chunk.ID, err)
	}
	return nil
}

// DeleteByMemoryID removes every chunk belonging to memoryID.
func (l *LexicalIndex) DeleteByMemoryID(ctx context.Context, memoryID string) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM chunks_fts WHERE memory_id = ?", memoryID)
	if err != nil {
		return fmt.Errorf("sqlite: lexical delete for %q: %w", memoryID, err)
	}
	return nil
}

// ListMemoryIDs returns the distinct memory_id of every chunk indexed in L.
func (l *LexicalIndex) ListMemoryIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT DISTINCT memory_id FROM chunks_fts")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list lexical memory ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan lexical memory id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Search runs an FTS5 MATCH query built by sanitiseFTSQuery (prefix terms,
// already OR-joined). If fuzzyFallback is set and nothing matched, it
// retries once with the query's words explicitly OR-joined.
func (l *LexicalIndex) Search(ctx context.Context, query string, filter storage.SearchFilter, topK int, fuzzyFallback bool) ([]storage.ScoredCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	var where []string
	args := []interface{}{ftsQuery}
	where = append(where, "chunks_fts MATCH ?")
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Schema != "" {
		where = append(where, "schema = ?")
		args = append(args, filter.Schema)
	}
	if filter.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, filter.Tier)
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT id, memory_id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		WHERE %s
		ORDER BY rank
		LIMIT ?
	`, strings.Join(where, " AND "))

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lexical search MATCH %q: %w", query, err)
	}
	defer rows.Close()

	var out []storage.ScoredCandidate
	for rows.Next() {
		var id, memoryID string
		var rank float64
		if err := rows.Scan(&id, &memoryID, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: lexical search scan: %w", err)
		}
		// bm25() returns negative scores, more negative is a better match;
		// flip and normalise into a [0,1) range for the reranker, so a
		// better match scores higher.
		out = append(out, storage.ScoredCandidate{ID: id, MemoryID: memoryID, Score: -rank / (1.0 - rank)})
	}

	if len(out) == 0 && fuzzyFallback {
		terms := strings.Fields(query)
		if len(terms) > 1 {
			return l.Search(ctx, strings.Join(terms, " OR "), filter, topK, false)
		}
	}

	return out, nil
}

// Close is a no-op: the database handle is owned by the MemoryStore this
// index was built from.
func (l *LexicalIndex) Close() error { return nil }

// sanitiseFTSQuery converts a free-form user query into a safe FTS5 MATCH
// expression: strips FTS5-special characters, drops common stop words, and
// OR-joins prefix terms for recall.
//
// Example: "What is the deploy process?" → "deploy* OR process*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, " ", `'`, " ", `(`, " ", `)`, " ",
		`*`, " ", `-`, " ", `^`, " ", `?`, " ", `:`, " ",
	)
	cleaned := replacer.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	stopWords := map[string]bool{
		"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
		"were": true, "be": true, "been": true, "being": true, "have": true,
		"has": true, "had": true, "do": true, "does": true, "did": true,
		"will": true, "would": true, "could": true, "should": true, "may": true,
		"might": true, "shall": true, "can": true, "to": true, "of": true,
		"in": true, "on": true, "at": true, "by": true, "for": true,
		"with": true, "from": true, "as": true, "about": true, "into": true,
		"what": true, "how": true, "why": true,
	}

	var terms []string
	for _, w := range words {
		if stopWords[w] || len(w) < 2 {
			continue
		}
		terms = append(terms, w+"*")
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}
