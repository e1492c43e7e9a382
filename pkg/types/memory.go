package types

import (
	"fmt"
	"time"
)

// Memory is a durable record produced by ingesting one conversation. It is
// the unit the hybrid search service, the reranker, and consolidation all
// operate on. See the storage mapping: every Memory is persisted as one
// metadata entry plus N chunk records (Chunk).
type Memory struct {
	ID     string `json:"id"`
	Schema Schema `json:"schema"`
	Tier   Tier   `json:"tier"`

	Content string `json:"content"` // original concatenated conversation text
	Summary string `json:"summary"` // structured summary, grammar in internal/llm

	Refs []string `json:"refs,omitempty"` // URLs, file paths, commit ids, in ingestion order

	Timestamp    time.Time  `json:"timestamp"`               // creation time
	LastAccessed *time.Time `json:"last_accessed,omitempty"` // updated on read

	AccessCount int     `json:"access_count"`
	Importance  float64 `json:"importance"` // [0,1]
	Strength    float64 `json:"strength"`   // [0,1], decays over time, boosted by refs

	ProjectID string `json:"project_id,omitempty"`
	Language  string `json:"language,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Compressed is set by consolidation (§4.9 step 3) when this memory is a
	// non-representative cluster member whose content has been replaced by a
	// delta summary pointing at the representative.
	Compressed     bool   `json:"compressed,omitempty"`
	RepresentsID   string `json:"represents_id,omitempty"` // cluster representative, if Compressed
}

// MetadataEntryID returns the id of the vector-store metadata record for
// this memory: "{memory_id}-metadata" per the §3 storage mapping.
func MetadataEntryID(memoryID string) string {
	return memoryID + "-metadata"
}

// ChunkID returns the id of the i-th chunk of memoryID: "{memory_id}#{i}".
// The exact form is an internal storage convention; callers must treat chunk
// ids as opaque.
func ChunkID(memoryID string, index int) string {
	return fmt.Sprintf("%s#%d", memoryID, index)
}

// IsMetadataEntryID reports whether id names a metadata entry rather than a
// chunk, using the "-metadata" suffix convention.
func IsMetadataEntryID(id string) bool {
	const suffix = "-metadata"
	return len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix
}

// Chunk is a retrieval unit derived from a Memory: a token-bounded substring
// of its content, embedded and indexed independently so that fine-grained
// hits are possible without loading the whole memory.
type Chunk struct {
	ID         string `json:"id"`
	MemoryID   string `json:"memory_id"`
	ChunkIndex int    `json:"chunk_index"` // 0-based position within the memory

	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata inherits Schema, Tier, ProjectID, Timestamp from the parent
	// memory and always carries is_memory_entry=false.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewChunk builds a Chunk inheriting the parent memory's classification
// fields, per the §3 storage mapping.
func NewChunk(mem *Memory, index int, content string) Chunk {
	return Chunk{
		ID:         ChunkID(mem.ID, index),
		MemoryID:   mem.ID,
		ChunkIndex: index,
		Content:    content,
		Metadata: map[string]interface{}{
			"schema":          string(mem.Schema),
			"tier":            string(mem.Tier),
			"project_id":      mem.ProjectID,
			"timestamp":       mem.Timestamp,
			"is_memory_entry": false,
		},
	}
}

// MetadataEntryFields returns the metadata bag for the memory's vector-store
// metadata record, always carrying is_memory_entry=true per §3.
func MetadataEntryFields(mem *Memory) map[string]interface{} {
	out := map[string]interface{}{
		"is_memory_entry": true,
		"schema":          string(mem.Schema),
		"tier":            string(mem.Tier),
		"project_id":      mem.ProjectID,
		"timestamp":       mem.Timestamp,
	}
	for k, v := range mem.Metadata {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

// Touch records an access: refreshes LastAccessed, increments AccessCount,
// and boosts Strength (§4.5 side effects, §3 Lifecycle "mutated by readers").
func (m *Memory) Touch(now time.Time) {
	m.LastAccessed = &now
	m.AccessCount++
	m.Strength = min1(m.Strength + 0.1)
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Age returns the duration since Timestamp, the reference point used by
// recency scoring and the consolidation forget/migrate thresholds.
func (m *Memory) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}

// Session is the transient per-conversation-stream record the session
// manager maintains; it never persists to V or L.
type Session struct {
	SessionID   string       `json:"session_id"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ProjectHint *ProjectHint `json:"project_hint,omitempty"`
	Events      []SessionEvent `json:"events,omitempty"`
}

// ProjectHint is the session manager's best guess at the active project,
// carried with a confidence score that gates pool warm-up (§4.8).
type ProjectHint struct {
	ProjectID  string  `json:"project_id"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// Project is one entry of the persisted projects.json registry (§6.2). It
// scopes memories (via Memory.ProjectID) and feeds the memory pool of §4.8;
// MemoryCount and LastAccessed are derived from the store, not authoritative.
type Project struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	MemoryCount  int                    `json:"memory_count"`
	LastAccessed *time.Time             `json:"last_accessed,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Bookmark is one entry of the persisted bookmarks.json registry (§6.2): a
// saved search_memory call a client can replay by name instead of retyping
// the query and filters.
type Bookmark struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Query       string                 `json:"query"`
	Filters     map[string]interface{} `json:"filters,omitempty"`
	Description string                 `json:"description,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UsageCount  int                    `json:"usage_count"`
	LastUsed    time.Time              `json:"last_used"`
}

// SessionEvent is one entry in a session's append-only event log (command
// invocations, ingested memory ids, and similar).
type SessionEvent struct {
	At   time.Time `json:"at"`
	Type string    `json:"type"`
	Data string    `json:"data,omitempty"`
}
