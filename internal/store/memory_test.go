package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetOrCreateUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first, err := s.GetOrCreateUser(ctx, "g-1", "ana@example.cl", "Ana")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "g-1", first.GoogleID)

	again, err := s.GetOrCreateUser(ctx, "g-1", "other@example.cl", "Other")
	require.NoError(t, err)
	assert.Equal(t, first, again, "an existing user is returned unchanged")

	other, err := s.GetOrCreateUser(ctx, "g-2", "bea@example.cl", "Bea")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	got, err := s.UserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = s.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetOrCreateUser(ctx, "", "x@example.cl", "")
	assert.Error(t, err)
}

func TestMemory_GetOrCreateUserConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	ids := make([]string, 20)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.GetOrCreateUser(ctx, "g-1", "ana@example.cl", "Ana")
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestMemory_OfficialOwnedBy(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	s.AddDatabase("u-1", "db-1")
	s.AddDatabase("u-2", "db-2")
	s.AddOfficial("db-1", "off-1")
	s.AddOfficial("db-2", "off-2")

	tests := []struct {
		user, official string
		want           bool
	}{
		{"u-1", "off-1", true},
		{"u-1", "off-2", false},
		{"u-2", "off-2", true},
		{"u-1", "unknown", false},
		{"", "off-1", false},
	}
	for _, tt := range tests {
		got, err := s.OfficialOwnedBy(ctx, tt.user, tt.official)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s owns %s", tt.user, tt.official)
	}
}

func TestMemory_SentHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	history, err := s.SentHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotNil(t, history)

	require.NoError(t, s.MarkSent(ctx, "u-1", "off-b", base))
	require.NoError(t, s.MarkSent(ctx, "u-1", "off-a", base.Add(time.Minute)))
	require.NoError(t, s.MarkSent(ctx, "u-2", "off-c", base))

	history, err = s.SentHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"off-b", "off-a"}, history)

	// Marking again keeps one row and moves it.
	require.NoError(t, s.MarkSent(ctx, "u-1", "off-b", base.Add(2*time.Minute)))
	history, err = s.SentHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"off-a", "off-b"}, history)
}
