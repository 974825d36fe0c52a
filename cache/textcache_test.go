package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	events  []string
	targets []string
}

func (p *recordingPusher) Push(event string, payload any, target string) error {
	p.events = append(p.events, event)
	p.targets = append(p.targets, target)
	return nil
}

func TestTextSaveAndGet(t *testing.T) {
	m := NewTextCacheManager(NewStore(nil), nil)

	changed := m.Save("prompt", "a castle on a hill", map[string]any{"source": "editor"})
	assert.True(t, changed)

	result := m.Get("prompt")
	require.True(t, result.Found())
	assert.Equal(t, "a castle on a hill", result.Entry.Text)
	assert.NotZero(t, result.Entry.Timestamp)
	assert.Equal(t, "editor", result.Entry.Metadata["source"])
}

func TestTextIsCurrentValueNotALog(t *testing.T) {
	m := NewTextCacheManager(NewStore(nil), nil)
	m.Save("prompt", "first", nil)
	m.Save("prompt", "second", nil)

	assert.Equal(t, 1, m.Store().GetOrCreateChannel("prompt").Len())
	assert.Equal(t, "second", m.Get("prompt").Entry.Text)
}

func TestTextChangeDetectionNotifiesOnce(t *testing.T) {
	p := &recordingPusher{}
	m := NewTextCacheManager(NewStore(nil), p)

	assert.True(t, m.Save("chan", "hello", nil))
	require.Len(t, p.events, 1)
	assert.Equal(t, EventTextCacheUpdate, p.events[0])

	// identical re-write: no change, no notification
	assert.False(t, m.Save("chan", "hello", nil))
	assert.Len(t, p.events, 1)

	assert.True(t, m.Save("chan", "goodbye", nil))
	assert.Len(t, p.events, 2)
}

func TestTextGetOrDefault(t *testing.T) {
	m := NewTextCacheManager(NewStore(nil), nil)

	assert.Equal(t, "fallback", m.GetOrDefault("empty", "fallback"))

	m.Save("chan", "", nil)
	// an empty string that was actually saved is a value, not absence
	assert.Equal(t, "", m.GetOrDefault("chan", "fallback"))
}

func TestTextClearAndRename(t *testing.T) {
	m := NewTextCacheManager(NewStore(nil), nil)
	m.Save("a", "va", nil)
	m.Save("b", "vb", nil)

	require.True(t, m.Rename("a", "b"))
	assert.Equal(t, "va", m.Get("b").Entry.Text)
	assert.False(t, m.Get("a").Found())

	m.Clear("b")
	assert.False(t, m.Get("b").Found())
}
