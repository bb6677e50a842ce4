package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
)

func TestMemoryStore_CreateThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	session := &domain.Session{SessionID: "s1", StudentRef: "student-1"}

	require.NoError(t, s.Create(ctx, session))

	loaded, version, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, "student-1", loaded.StudentRef)
}

func TestMemoryStore_CommitAtStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	session := &domain.Session{SessionID: "s1"}
	require.NoError(t, s.Create(ctx, session))

	loaded, version, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	loaded.Version = version + 1
	require.NoError(t, s.Commit(ctx, loaded, version))

	stale, _, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	stale.Version = version + 1
	err = s.Commit(ctx, stale, version)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestMemoryStore_LoadMissingSessionReturnsNotFound(t *testing.T) {
	s := NewMemory()
	_, _, err := s.Load(context.Background(), "nope")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestMemoryStore_DeleteRecordsAuditEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, &domain.Session{SessionID: "s1"}))
	require.NoError(t, s.Delete(ctx, "s1", "student-1"))

	entries, err := s.Audit(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "delete", entries[0].Action)

	_, _, err = s.Load(ctx, "s1")
	assert.True(t, errs.Is(err, errs.NotFound))
}
