package cache

import (
	"log/slog"
	"time"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// TextEntry is the single current text value of a channel. Unlike images,
// a text channel is not a log; each save replaces the previous value.
type TextEntry struct {
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TextLookupResult is the explicit result of a text get.
type TextLookupResult struct {
	State LookupState
	Entry TextEntry
}

// Found reports whether the channel held a value.
func (r TextLookupResult) Found() bool {
	return r.State == LookupFound
}

// TextCacheManager is the text facade over a channel Store. It performs
// content-change detection at write time: consumers are notified only
// when the stored string actually changed, not on re-writes of identical
// content.
type TextCacheManager struct {
	store  *Store
	pusher Pusher
}

// NewTextCacheManager creates a text cache over store. pusher may be nil
// to disable change notification.
func NewTextCacheManager(store *Store, pusher Pusher) *TextCacheManager {
	return &TextCacheManager{store: store, pusher: pusher}
}

// Store returns the underlying channel store.
func (m *TextCacheManager) Store() *Store {
	return m.store
}

// Save stores text as the channel's current value and reports whether the
// content changed. The change notification fires only on a true change.
func (m *TextCacheManager) Save(channel, text string, metadata map[string]any) bool {
	prev := m.Get(channel)
	changed := !prev.Found() || prev.Entry.Text != text

	entry := TextEntry{
		Text:      text,
		Timestamp: nowMillis(),
		Metadata:  metadata,
	}
	m.store.Save(channel, []any{entry}, true)
	m.store.SetMetadata(channel, metadata)

	if changed && m.pusher != nil {
		err := m.pusher.Push(EventTextCacheUpdate, map[string]any{
			"channel": channel,
			"text":    text,
		}, "")
		if err != nil {
			slog.Warn("text cache update notification failed", "channel", channel, "error", err)
		}
	}
	return changed
}

// Get returns the channel's current value, or the explicit empty result
// when nothing has been saved.
func (m *TextCacheManager) Get(channel string) TextLookupResult {
	result := m.store.Get(channel, true, -1)
	if !result.Found() {
		return TextLookupResult{State: LookupEmpty}
	}
	entry, ok := result.Items[len(result.Items)-1].(TextEntry)
	if !ok {
		slog.Warn("unexpected item type in text channel", "channel", channel)
		return TextLookupResult{State: LookupEmpty}
	}
	return TextLookupResult{State: LookupFound, Entry: entry}
}

// GetOrDefault returns the channel's current text, or def when the
// channel is empty. The default-value fallback belongs to the caller,
// which is why Get itself reports emptiness explicitly instead.
func (m *TextCacheManager) GetOrDefault(channel, def string) string {
	result := m.Get(channel)
	if !result.Found() {
		return def
	}
	return result.Entry.Text
}

// Clear drops one channel's value.
func (m *TextCacheManager) Clear(channel string) {
	m.store.Clear(channel)
}

// ClearAll drops every channel and resets the session counters.
func (m *TextCacheManager) ClearAll() {
	m.store.ClearAll()
}

// Rename moves a channel to a new name.
func (m *TextCacheManager) Rename(old, new string) bool {
	return m.store.Rename(old, new)
}

// ListChannels returns the known channel names.
func (m *TextCacheManager) ListChannels() []string {
	return m.store.ListChannels()
}
