package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelCreationIdempotent(t *testing.T) {
	s := NewStore(nil)

	first := s.GetOrCreateChannel("chanA")
	second := s.GetOrCreateChannel("chanA")
	assert.Same(t, first, second, "get-or-create must return the same channel identity")

	s.Save("chanA", []any{"one", "two"}, false)
	s.GetOrCreateChannel("chanA")
	assert.Equal(t, 2, s.GetOrCreateChannel("chanA").Len(), "re-creation must never clear existing content")
}

func TestOverwriteVersusAppend(t *testing.T) {
	s := NewStore(nil)
	s.Save("chan", []any{"a", "b", "c"}, false)

	s.Save("chan", []any{"x", "y"}, true)
	result := s.Get("chan", false, -1)
	require.True(t, result.Found())
	assert.Equal(t, []any{"x", "y"}, result.Items)

	s.Save("chan", []any{"z"}, false)
	result = s.Get("chan", false, -1)
	assert.Equal(t, []any{"x", "y", "z"}, result.Items)
}

func TestEmptyChannelLookup(t *testing.T) {
	s := NewStore(nil)

	result := s.Get("missing", false, -1)
	assert.Equal(t, LookupEmpty, result.State)
	assert.False(t, result.Found())
	assert.Nil(t, result.Items)

	// pre-registered but empty
	s.GetOrCreateChannel("empty")
	result = s.Get("empty", true, -1)
	assert.Equal(t, LookupEmpty, result.State)

	// out of range index
	s.Save("chan", []any{"only"}, false)
	result = s.Get("chan", false, 5)
	assert.Equal(t, LookupEmpty, result.State)
}

func TestIndexedLookup(t *testing.T) {
	s := NewStore(nil)
	s.Save("chan", []any{"a", "b", "c"}, false)

	result := s.Get("chan", false, 1)
	require.True(t, result.Found())
	assert.Equal(t, []any{"b"}, result.Items)
}

func TestLatestOnlyReturnsLastBatch(t *testing.T) {
	s := NewStore(nil)
	s.Save("chan", []any{"a", "b"}, false)
	s.Save("chan", []any{"c"}, false)

	result := s.Get("chan", true, -1)
	require.True(t, result.Found())
	assert.Equal(t, []any{"c"}, result.Items)

	result = s.Get("chan", false, -1)
	assert.Equal(t, []any{"a", "b", "c"}, result.Items)
}

func TestRename(t *testing.T) {
	s := NewStore(nil)
	s.Save("A", []any{"from-a"}, false)
	s.Save("B", []any{"old-b-1", "old-b-2"}, false)

	require.True(t, s.Rename("A", "B"))

	result := s.Get("B", false, -1)
	assert.Equal(t, []any{"from-a"}, result.Items, "B must hold exactly A's former content")
	assert.Equal(t, LookupEmpty, s.Get("A", false, -1).State, "A must no longer be present")
	assert.NotContains(t, s.ListChannels(), "A")

	// renaming a nonexistent channel fails with zero mutation
	before := s.ListChannels()
	assert.False(t, s.Rename("nope", "C"))
	assert.Equal(t, before, s.ListChannels())
}

func TestListChannelsIncludesPreregistered(t *testing.T) {
	s := NewStore(nil)
	s.GetOrCreateChannel("empty_one")
	s.Save("with_data", []any{"x"}, false)

	assert.Equal(t, []string{"empty_one", "with_data"}, s.ListChannels())
}

func TestClearSingleChannel(t *testing.T) {
	s := NewStore(nil)
	s.Save("a", []any{"x"}, false)
	s.Save("b", []any{"y"}, false)

	s.Clear("a")
	assert.Equal(t, LookupEmpty, s.Get("a", false, -1).State)
	assert.True(t, s.Get("b", false, -1).Found())
}

func TestClearAllResetsSessionCounters(t *testing.T) {
	s := NewStore(nil)
	oldID := s.Stats().SessionID

	s.Save("chan", []any{"x"}, false)
	s.Get("chan", false, -1)

	stats := s.Stats()
	assert.Equal(t, 1, stats.SaveCount)
	assert.Equal(t, 1, stats.GetCount)
	assert.True(t, stats.HasSaved)
	assert.NotZero(t, stats.LastSaveAt)

	s.ClearAll()

	stats = s.Stats()
	assert.Zero(t, stats.SaveCount)
	assert.Zero(t, stats.GetCount)
	assert.False(t, stats.HasSaved)
	assert.NotEqual(t, oldID, stats.SessionID, "clear-all starts a new session")
	assert.Empty(t, s.ListChannels())
}

func TestConcurrentSaves(t *testing.T) {
	s := NewStore(&StoreOptions{LockWait: 2 * time.Second})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				s.Save("shared", []any{j}, false)
				s.Get("shared", true, -1)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8*50, s.GetOrCreateChannel("shared").Len())
}
