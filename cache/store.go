package cache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockWait bounds how long a mutating operation will wait for the
// store mutex before proceeding anyway. Leaving a host-owned execution
// thread blocked forever would hang the entire UI, so liveness wins over
// strict exclusion here.
const DefaultLockWait = 5 * time.Second

// Channel is a named, insertion-ordered log of cached items. Producer
// node-groups write into a channel and consumer groups on a later
// scheduling pass read from it. All mutation goes through the owning
// Store; callers only ever see copies of the item log.
type Channel struct {
	Name      string
	items     []any
	lastBatch int
	LastWrite int64 // milliseconds
	Metadata  map[string]any
}

// Items returns a copy of the channel's ordered item log.
func (c *Channel) Items() []any {
	out := make([]any, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items currently in the channel.
func (c *Channel) Len() int {
	return len(c.items)
}

// LookupState discriminates the result of a channel read.
type LookupState string

const (
	LookupFound LookupState = "found"
	LookupEmpty LookupState = "empty"
)

// LookupResult is the explicit result of a Get. An empty channel yields
// LookupEmpty with a nil item slice; a read never fails and never returns
// an ambiguous nil.
type LookupResult struct {
	State LookupState
	Items []any
}

// Found reports whether the lookup produced at least one item.
func (r LookupResult) Found() bool {
	return r.State == LookupFound
}

// SessionStats are process-wide diagnostic counters for one Store. They
// carry no correctness requirement beyond monotonic non-decreasing counts
// between resets.
type SessionStats struct {
	SessionID    string `json:"session_id"`
	SessionStart int64  `json:"session_start"`
	SaveCount    int    `json:"save_count"`
	GetCount     int    `json:"get_count"`
	LastSaveAt   int64  `json:"last_save_at"`
	LastGetAt    int64  `json:"last_get_at"`
	HasSaved     bool   `json:"has_saved"`
}

// StoreOptions tunes a Store. Zero values select the defaults.
type StoreOptions struct {
	// LockWait bounds mutex acquisition in mutating operations.
	LockWait time.Duration
}

// Store is a multi-tenant, named, thread-safe key-value log store. One
// instance is shared per host process and passed by reference to every
// consumer; there is no ambient global.
type Store struct {
	mu       sync.Mutex
	lockWait time.Duration
	channels map[string]*Channel
	stats    SessionStats
}

// NewStore creates an empty channel store.
func NewStore(opts *StoreOptions) *Store {
	wait := DefaultLockWait
	if opts != nil && opts.LockWait > 0 {
		wait = opts.LockWait
	}
	return &Store{
		lockWait: wait,
		channels: make(map[string]*Channel),
		stats:    newSessionStats(),
	}
}

func newSessionStats() SessionStats {
	return SessionStats{
		SessionID:    uuid.New().String(),
		SessionStart: time.Now().UnixMilli(),
	}
}

// lock acquires the store mutex with a bounded wait. If the mutex is still
// contended after the deadline the operation proceeds without it and the
// returned unlock is a no-op.
func (s *Store) lock(op string) func() {
	deadline := time.Now().Add(s.lockWait)
	for !s.mu.TryLock() {
		if time.Now().After(deadline) {
			slog.Warn(fmt.Sprintf("cache store lock contended for %v, proceeding without it", s.lockWait), "op", op)
			return func() {}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return s.mu.Unlock
}

// GetOrCreateChannel returns the named channel, creating an empty one if
// it does not exist. Creation is idempotent and never clears existing
// content. Pre-registering an empty channel this way makes it visible to
// ListChannels for selection UIs.
func (s *Store) GetOrCreateChannel(name string) *Channel {
	unlock := s.lock("get_or_create_channel")
	defer unlock()
	return s.channel(name)
}

// channel is the lock-free inner get-or-create.
func (s *Store) channel(name string) *Channel {
	if ch, ok := s.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		Name:     name,
		Metadata: make(map[string]any),
	}
	s.channels[name] = ch
	return ch
}

// Save appends items to the named channel. With overwrite the channel is
// cleared first; clear-then-append happens under one lock acquisition so
// a concurrent read cannot observe a half-cleared channel. Returns the
// stored items.
func (s *Store) Save(name string, items []any, overwrite bool) []any {
	unlock := s.lock("save")
	defer unlock()

	ch := s.channel(name)
	if overwrite {
		ch.items = ch.items[:0]
	}
	ch.items = append(ch.items, items...)
	ch.lastBatch = len(items)
	ch.LastWrite = time.Now().UnixMilli()

	s.stats.SaveCount++
	s.stats.LastSaveAt = ch.LastWrite
	s.stats.HasSaved = true
	return items
}

// SetMetadata merges metadata into the named channel.
func (s *Store) SetMetadata(name string, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	unlock := s.lock("set_metadata")
	defer unlock()
	ch := s.channel(name)
	for k, v := range metadata {
		ch.Metadata[k] = v
	}
}

// Get reads from the named channel. index >= 0 selects a single entry;
// latestOnly restricts the read to the most recent save batch; otherwise
// the full ordered log is returned. A missing or empty channel (or an out
// of range index) yields the explicit empty result, never an error.
func (s *Store) Get(name string, latestOnly bool, index int) LookupResult {
	unlock := s.lock("get")
	defer unlock()

	s.stats.GetCount++
	s.stats.LastGetAt = time.Now().UnixMilli()

	ch, ok := s.channels[name]
	if !ok || len(ch.items) == 0 {
		return LookupResult{State: LookupEmpty}
	}

	if index >= 0 {
		if index >= len(ch.items) {
			return LookupResult{State: LookupEmpty}
		}
		return LookupResult{State: LookupFound, Items: []any{ch.items[index]}}
	}

	items := ch.items
	if latestOnly && ch.lastBatch > 0 && ch.lastBatch <= len(ch.items) {
		items = ch.items[len(ch.items)-ch.lastBatch:]
	}
	out := make([]any, len(items))
	copy(out, items)
	return LookupResult{State: LookupFound, Items: out}
}

// Clear empties one named channel. The channel key itself is removed; it
// reappears on the next write or explicit pre-registration.
func (s *Store) Clear(name string) {
	unlock := s.lock("clear")
	defer unlock()
	delete(s.channels, name)
}

// ClearAll empties every channel and resets the session counters in the
// same critical section.
func (s *Store) ClearAll() {
	unlock := s.lock("clear_all")
	defer unlock()
	s.channels = make(map[string]*Channel)
	s.stats = newSessionStats()
}

// Rename moves a channel's contents to a new key, overwriting any channel
// already at the destination. Returns false with zero mutation if the
// source does not exist.
func (s *Store) Rename(old, new string) bool {
	unlock := s.lock("rename")
	defer unlock()

	ch, ok := s.channels[old]
	if !ok {
		return false
	}
	delete(s.channels, old)
	ch.Name = new
	s.channels[new] = ch
	return true
}

// ListChannels returns all known channel names, sorted, including
// channels that were pre-registered and are still empty.
func (s *Store) ListChannels() []string {
	unlock := s.lock("list_channels")
	defer unlock()

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of the session counters.
func (s *Store) Stats() SessionStats {
	unlock := s.lock("stats")
	defer unlock()
	return s.stats
}
