// Package sqlite is the default backend for storage.MemoryStore,
// storage.VectorStore, and storage.LexicalIndex: a single WAL-mode SQLite
// database file, with cosine similarity for V computed in Go (no native
// vector extension) and FTS5 for L.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// MemoryStore implements storage.MemoryStore and storage.VectorStore over
// one SQLite database.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore creates a new SQLite-backed store with WAL self-healing.
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one concurrent writer; a single open connection
	// serialises writes and avoids SQLITE_BUSY. WAL mode lets readers
	// proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// ApplyFileMigrations runs any pending NNN_name.up.sql files in dir against
// this store's database, on top of the baseline Schema already applied at
// open. Safe to call with an empty dir (no-op callers should skip this).
func (s *MemoryStore) ApplyFileMigrations(dir string) error {
	mgr, err := storage.NewMigrationManager(s.db, dir)
	if err != nil {
		return fmt.Errorf("sqlite: init migrations: %w", err)
	}
	defer mgr.Close()
	return mgr.Up()
}

// Store creates or updates a memory (upsert semantics).
func (s *MemoryStore) Store(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	refsJSON, err := json.Marshal(m.Refs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal refs: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO memories (
			id, schema, tier, content, summary, refs, timestamp, last_accessed,
			access_count, importance, strength, project_id, language, metadata,
			compressed, represents_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			schema=excluded.schema, tier=excluded.tier, content=excluded.content,
			summary=excluded.summary, refs=excluded.refs, timestamp=excluded.timestamp,
			last_accessed=excluded.last_accessed, access_count=excluded.access_count,
			importance=excluded.importance, strength=excluded.strength,
			project_id=excluded.project_id, language=excluded.language,
			metadata=excluded.metadata, compressed=excluded.compressed,
			represents_id=excluded.represents_id
	`
	_, err = s.db.ExecContext(ctx, q,
		m.ID, string(m.Schema), string(m.Tier), m.Content, m.Summary, string(refsJSON),
		m.Timestamp, nullableTime(m.LastAccessed), m.AccessCount, m.Importance, m.Strength,
		m.ProjectID, m.Language, string(metaJSON), boolToInt(m.Compressed), m.RepresentsID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: store memory %q: %w", m.ID, err)
	}
	return nil
}

// Get retrieves a memory by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get memory %q: %w", id, err)
	}
	return m, nil
}

// List retrieves memories with pagination and filtering.
func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var where []string
	var args []interface{}
	if opts.Schema != "" {
		where = append(where, "schema = ?")
		args = append(args, opts.Schema)
	}
	if opts.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, opts.Tier)
	}
	if opts.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "timestamp > ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, opts.CreatedBefore)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countSQL := "SELECT COUNT(*) FROM memories " + whereClause
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: list count: %w", err)
	}

	listSQL := fmt.Sprintf("%s FROM memories %s ORDER BY %s %s LIMIT ? OFFSET ?",
		selectMemoryColumns, whereClause, opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list query: %w", err)
	}
	defer rows.Close()

	var items []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		items = append(items, *m)
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Update overwrites an existing memory's mutable fields.
func (s *MemoryStore) Update(ctx context.Context, m *types.Memory) error {
	if _, err := s.Get(ctx, m.ID); err != nil {
		return err
	}
	return s.Store(ctx, m)
}

// Delete removes a memory record (the canonical record only; callers use
// internal/indexer to also delete from V and L).
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete memory %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch bumps access_count and last_accessed, mirroring types.Memory.Touch.
func (s *MemoryStore) Touch(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			access_count = access_count + 1,
			last_accessed = ?,
			strength = MIN(1.0, strength + 0.1)
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("sqlite: touch memory %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close releases the underlying database handle.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// --- storage.VectorStore ---

var _ storage.VectorStore = (*MemoryStore)(nil)
var _ storage.MemoryStore = (*MemoryStore)(nil)

// UpsertMetadataEntry writes the "{memory_id}-metadata" vector record.
func (s *MemoryStore) UpsertMetadataEntry(ctx context.Context, mem *types.Memory, embedding []float32) error {
	fields := types.MetadataEntryFields(mem)
	metaJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata entry: %w", err)
	}
	id := types.MetadataEntryID(mem.ID)
	return s.upsertVectorEntry(ctx, id, mem.ID, true, -1, mem.Summary, embedding, mem.ProjectID, string(mem.Schema), string(mem.Tier), mem.Timestamp, string(metaJSON))
}

// UpsertChunk writes a "{memory_id}#{i}" vector record and its lexical twin
// is handled separately by the LexicalIndex implementation.
func (s *MemoryStore) UpsertChunk(ctx context.Context, chunk types.Chunk) error {
	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal chunk metadata: %w", err)
	}
	schema, _ := chunk.Metadata["schema"].(string)
	tier, _ := chunk.Metadata["tier"].(string)
	projectID, _ := chunk.Metadata["project_id"].(string)
	ts, _ := chunk.Metadata["timestamp"].(time.Time)

	return s.upsertVectorEntry(ctx, chunk.ID, chunk.MemoryID, false, chunk.ChunkIndex, chunk.Content, chunk.Embedding, projectID, schema, tier, ts, string(metaJSON))
}

func (s *MemoryStore) upsertVectorEntry(ctx context.Context, id, memoryID string, isMemoryEntry bool, chunkIndex int, content string, embedding []float32, projectID, schemaVal, tier string, ts time.Time, metaJSON string) error {
	const q = `
		INSERT INTO vector_entries (
			id, memory_id, is_memory_entry, chunk_index, content, embedding,
			project_id, schema, tier, timestamp, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, embedding=excluded.embedding,
			project_id=excluded.project_id, schema=excluded.schema, tier=excluded.tier,
			timestamp=excluded.timestamp, metadata=excluded.metadata
	`
	_, err := s.db.ExecContext(ctx, q, id, memoryID, boolToInt(isMemoryEntry), chunkIndex, content,
		encodeEmbedding(embedding), projectID, schemaVal, tier, ts, metaJSON)
	if err != nil {
		return fmt.Errorf("sqlite: upsert vector entry %q: %w", id, err)
	}
	return nil
}

// DeleteByMemoryID removes the metadata entry and every chunk for memoryID.
func (s *MemoryStore) DeleteByMemoryID(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vector_entries WHERE memory_id = ?", memoryID)
	if err != nil {
		return fmt.Errorf("sqlite: delete vector entries for %q: %w", memoryID, err)
	}
	return nil
}

// UpdateMetadata merges fields into the metadata entry's bag.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, memoryID string, fields map[string]interface{}) error {
	id := types.MetadataEntryID(memoryID)
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT metadata FROM vector_entries WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: update metadata read %q: %w", id, err)
	}

	var current map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("sqlite: update metadata unmarshal %q: %w", id, err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("sqlite: update metadata marshal %q: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, "UPDATE vector_entries SET metadata = ? WHERE id = ?", string(merged), id)
	if err != nil {
		return fmt.Errorf("sqlite: update metadata write %q: %w", id, err)
	}
	return nil
}

// GetMetadataEmbedding returns the embedding stored against memoryID's
// metadata entry.
func (s *MemoryStore) GetMetadataEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	id := types.MetadataEntryID(memoryID)
	var buf []byte
	err := s.db.QueryRowContext(ctx, "SELECT embedding FROM vector_entries WHERE id = ?", id).Scan(&buf)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get metadata embedding %q: %w", id, err)
	}
	return decodeEmbedding(buf), nil
}

// DeleteChunks removes every chunk row for memoryID, leaving its metadata
// entry untouched.
func (s *MemoryStore) DeleteChunks(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vector_entries WHERE memory_id = ? AND is_memory_entry = 0", memoryID)
	if err != nil {
		return fmt.Errorf("sqlite: delete chunks for %q: %w", memoryID, err)
	}
	return nil
}

// ListMetadataMemoryIDs returns the memory_id of every metadata entry in V.
func (s *MemoryStore) ListMetadataMemoryIDs(ctx context.Context) ([]string, error) {
	return s.listVectorMemoryIDs(ctx, "SELECT DISTINCT memory_id FROM vector_entries WHERE is_memory_entry = 1")
}

// ListChunkMemoryIDs returns the distinct memory_id of every chunk in V.
func (s *MemoryStore) ListChunkMemoryIDs(ctx context.Context) ([]string, error) {
	return s.listVectorMemoryIDs(ctx, "SELECT DISTINCT memory_id FROM vector_entries WHERE is_memory_entry = 0")
}

func (s *MemoryStore) listVectorMemoryIDs(ctx context.Context, q string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list vector memory ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan vector memory id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// vectorSearchMaxCandidates caps the number of embeddings loaded into Go
// memory during a search. Ranking is exact cosine similarity over whatever
// fits under the cap; beyond that, switch storage.backend to postgres for
// pgvector ivfflat ANN search (DESIGN.md).
const vectorSearchMaxCandidates = 10_000

// Search ranks vector_entries by cosine similarity to queryEmbedding.
func (s *MemoryStore) Search(ctx context.Context, queryEmbedding []float32, filter storage.SearchFilter, topK int) ([]storage.ScoredCandidate, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}

	var where []string
	var args []interface{}
	where = append(where, "embedding IS NOT NULL")
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

	q := fmt.Sprintf(`
		SELECT id, memory_id, embedding FROM vector_entries
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT %d
	`, strings.Join(where, " AND "), vectorSearchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search query: %w", err)
	}
	defer rows.Close()

	var candidates []storage.ScoredCandidate
	for rows.Next() {
		var id, memoryID string
		var blob []byte
		if err := rows.Scan(&id, &memoryID, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: vector search scan: %w", err)
		}
		emb := decodeEmbedding(blob)
		if len(emb) == 0 {
			continue
		}
		candidates = append(candidates, storage.ScoredCandidate{
			ID:       id,
			MemoryID: memoryID,
			Score:    cosineSimilarity(queryEmbedding, emb),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// --- scanning and small helpers ---

const selectMemoryColumns = `
	SELECT id, schema, tier, content, summary, refs, timestamp, last_accessed,
		access_count, importance, strength, project_id, language, metadata,
		compressed, represents_id
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var schemaVal, tierVal string
	var refsJSON, metaJSON string
	var lastAccessed sql.NullTime
	var compressed int

	err := row.Scan(
		&m.ID, &schemaVal, &tierVal, &m.Content, &m.Summary, &refsJSON, &m.Timestamp,
		&lastAccessed, &m.AccessCount, &m.Importance, &m.Strength, &m.ProjectID,
		&m.Language, &metaJSON, &compressed, &m.RepresentsID,
	)
	if err != nil {
		return nil, err
	}

	m.Schema = types.Schema(schemaVal)
	m.Tier = types.Tier(tierVal)
	m.Compressed = compressed != 0
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	_ = json.Unmarshal([]byte(refsJSON), &m.Refs)
	_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)

	return &m, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- WAL self-healing (kept verbatim: pure infra, no domain coupling) ---

func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database
// path AND no other process currently holds them open (via lsof). Returns
// false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	if err := cmd.Run(); err != nil {
		return true // lsof exits 1 when no files are open: stale.
	}
	return false
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
