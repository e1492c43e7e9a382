// Package bookmarks manages the bookmarks.json registry (§6.2): saved
// search_memory calls a client can replay by name instead of retyping a
// query and its filters.
//
// Grounded on original_source/src/storage/bookmark_storage.py (JSON
// persistence, find-by-name, usage tracking, most-used/recent ordering)
// and original_source/src/services/bookmark_manager.py (the create/list/
// delete/record-usage operations), translated into the same
// atomic-temp-file-then-rename save pattern internal/projects.Manager uses
// for projects.json.
package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// registry is the on-disk shape of bookmarks.json.
type registry struct {
	Bookmarks []types.Bookmark `json:"bookmarks"`
}

// Manager tracks the bookmarks.json registry.
type Manager struct {
	path string

	mu        sync.RWMutex
	bookmarks map[string]*types.Bookmark
}

// NewManager loads (or initializes) the registry at path. path may not yet
// exist; an empty registry is created in that case.
func NewManager(path string) (*Manager, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	m := &Manager{
		path:      absPath,
		bookmarks: make(map[string]*types.Bookmark),
	}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("bookmarks: load registry: %w", err)
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("parse %s: %w", m.path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range reg.Bookmarks {
		b := reg.Bookmarks[i]
		m.bookmarks[b.ID] = &b
	}
	return nil
}

func (m *Manager) save() error {
	m.mu.RLock()
	reg := registry{Bookmarks: make([]types.Bookmark, 0, len(m.bookmarks))}
	for _, b := range m.bookmarks {
		reg.Bookmarks = append(reg.Bookmarks, *b)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".bookmarks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, m.path, err)
	}
	return nil
}

// Create saves a new bookmark. Returns an error if name is already taken,
// matching bookmark_manager.py's create_bookmark uniqueness check.
func (m *Manager) Create(ctx context.Context, name, query string, filters map[string]interface{}, description string, now time.Time) (*types.Bookmark, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: bookmark name is required", storage.ErrInvalidInput)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: bookmark query is required", storage.ErrInvalidInput)
	}

	if existing, _ := m.FindByName(name); existing != nil {
		return nil, fmt.Errorf("bookmarks: name %q already in use (id %s)", name, existing.ID)
	}

	b := &types.Bookmark{
		ID:          "bm-" + uuid.New().String(),
		Name:        name,
		Query:       query,
		Filters:     filters,
		Description: description,
		CreatedAt:   now,
		LastUsed:    now,
	}

	m.mu.Lock()
	m.bookmarks[b.ID] = b
	m.mu.Unlock()

	if err := m.save(); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns the bookmark with id, or nil if not found.
func (m *Manager) Get(id string) *types.Bookmark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bookmarks[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

// FindByName returns the first bookmark matching name case-insensitively.
func (m *Manager) FindByName(name string) (*types.Bookmark, error) {
	lower := strings.ToLower(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookmarks {
		if strings.ToLower(b.Name) == lower {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

// List returns every bookmark ordered by usage count (descending), then
// last-used (descending), matching bookmark_storage.py's list_bookmarks.
func (m *Manager) List() []types.Bookmark {
	m.mu.RLock()
	out := make([]types.Bookmark, 0, len(m.bookmarks))
	for _, b := range m.bookmarks {
		out = append(out, *b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out
}

// MostUsed returns up to limit bookmarks sorted by usage count descending.
func (m *Manager) MostUsed(limit int) []types.Bookmark {
	out := m.List()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Recent returns up to limit bookmarks sorted by last-used descending.
func (m *Manager) Recent(limit int) []types.Bookmark {
	out := m.List()
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// RecordUsage increments usage_count and stamps last_used, called when a
// client replays the bookmarked search.
func (m *Manager) RecordUsage(id string, now time.Time) error {
	m.mu.Lock()
	b, ok := m.bookmarks[id]
	if ok {
		b.UsageCount++
		b.LastUsed = now
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: bookmark %q", storage.ErrNotFound, id)
	}
	return m.save()
}

// Delete removes a bookmark. Returns storage.ErrNotFound if it doesn't
// exist.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.bookmarks[id]
	if ok {
		delete(m.bookmarks, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: bookmark %q", storage.ErrNotFound, id)
	}
	return m.save()
}
