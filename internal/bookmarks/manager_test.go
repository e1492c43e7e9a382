package bookmarks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookmarks.json")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m
}

func TestCreateAndGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Now().UTC()

	b, err := m.Create(ctx, "React Errors", "react hooks error handling", map[string]interface{}{"schema_type": "Incident"}, "", now)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)

	got := m.Get(b.ID)
	require.NotNil(t, got)
	assert.Equal(t, "React Errors", got.Name)
	assert.Equal(t, 0, got.UsageCount)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Now().UTC()

	_, err := m.Create(ctx, "dup", "q1", nil, "", now)
	require.NoError(t, err)

	_, err = m.Create(ctx, "dup", "q2", nil, "", now)
	assert.Error(t, err)
}

func TestRecordUsageUpdatesCountAndLastUsed(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Now().UTC()

	b, err := m.Create(ctx, "dup", "q1", nil, "", now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, m.RecordUsage(b.ID, later))

	got := m.Get(b.ID)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, later, got.LastUsed)
}

func TestMostUsedOrdersByUsageCountDescending(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Now().UTC()

	low, _ := m.Create(ctx, "low", "q", nil, "", now)
	high, _ := m.Create(ctx, "high", "q", nil, "", now)
	require.NoError(t, m.RecordUsage(high.ID, now))
	require.NoError(t, m.RecordUsage(high.ID, now))
	require.NoError(t, m.RecordUsage(low.ID, now))

	top := m.MostUsed(1)
	require.Len(t, top, 1)
	assert.Equal(t, "high", top[0].Name)
}

func TestDeleteUnknownReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Delete("does-not-exist")
	assert.Error(t, err)
}

func TestPersistsAcrossManagerReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bookmarks.json")

	m1, err := NewManager(path)
	require.NoError(t, err)
	_, err = m1.Create(ctx, "saved", "q", nil, "desc", time.Now().UTC())
	require.NoError(t, err)

	m2, err := NewManager(path)
	require.NoError(t, err)
	reloaded, err := m2.FindByName("saved")
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, "desc", reloaded.Description)
}
