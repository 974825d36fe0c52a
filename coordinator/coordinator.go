// Package coordinator implements the single admission-control gate for
// staged group execution. At most one execution may hold the gate at a
// time, and duplicate submissions of the same configuration within a
// short window are rejected rather than silently re-run.
package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of one execution record. No transitions
// are permitted out of a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Record is one ledger entry. Identity for dedup purposes is ConfigHash,
// not ExecutionID: the id embeds a per-call timestamp and differs on
// every generation even for identical configuration content.
type Record struct {
	ExecutionID string `json:"execution_id"`
	ConfigHash  string `json:"config_hash"`
	Timestamp   int64  `json:"timestamp"`
	Status      Status `json:"status"`
}

// Options tunes a Coordinator. The duplicate window and ledger bound are
// policy choices, not protocol requirements, so they are fields with
// defaults rather than constants.
type Options struct {
	// DuplicateWindow is how long a config hash is considered a duplicate
	// after submission. Default 5s.
	DuplicateWindow time.Duration
	// MaxLedger bounds the execution history; oldest entries are evicted
	// first. Default 1000.
	MaxLedger int
}

// Coordinator is the process-wide execution gate. Construct one per host
// process and pass it by reference; tests construct isolated instances.
type Coordinator struct {
	mu              sync.Mutex
	duplicateWindow time.Duration
	maxLedger       int

	current  string // execution id holding the gate, "" when free
	ledger   []*Record
	byID     map[string]*Record
	lastSeen map[string]int64 // config hash -> last submission, ms
}

// NewCoordinator creates a coordinator with the given options. opts may
// be nil for defaults.
func NewCoordinator(opts *Options) *Coordinator {
	window := 5 * time.Second
	maxLedger := 1000
	if opts != nil {
		if opts.DuplicateWindow > 0 {
			window = opts.DuplicateWindow
		}
		if opts.MaxLedger > 0 {
			maxLedger = opts.MaxLedger
		}
	}
	return &Coordinator{
		duplicateWindow: window,
		maxLedger:       maxLedger,
		byID:            make(map[string]*Record),
		lastSeen:        make(map[string]int64),
	}
}

// CanonicalHash serializes config with stable key ordering and returns
// the SHA-256 hex digest. The same configuration content always yields
// the same hash regardless of map iteration or struct declaration order.
func CanonicalHash(config any) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	// Round-trip through an untyped value so every object's keys are
	// re-emitted in sorted order.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateStableExecutionID produces a content-addressed execution id and
// the underlying config hash. The id embeds the submission timestamp and
// so differs per call; the hash is the stable identity used for dedup.
func (c *Coordinator) GenerateStableExecutionID(config any) (string, string, error) {
	hash, err := CanonicalHash(config)
	if err != nil {
		return "", "", err
	}
	now := time.Now().UnixMilli()
	id := fmt.Sprintf("exec_hash_%s_t_%d", hash[:16], now)

	c.mu.Lock()
	if _, ok := c.byID[id]; !ok {
		rec := &Record{
			ExecutionID: id,
			ConfigHash:  hash,
			Timestamp:   now,
			Status:      StatusPending,
		}
		c.ledger = append(c.ledger, rec)
		c.byID[id] = rec
		c.evict()
	}
	c.mu.Unlock()
	return id, hash, nil
}

// IsDuplicateRequest decides whether a submission should be rejected as a
// duplicate. The continuation check runs strictly before the
// duplicate-content check: a submission presenting the id that already
// holds the gate is a continuation, never a duplicate. On admission the
// (hash, timestamp) pair is recorded for future window checks.
func (c *Coordinator) IsDuplicateRequest(configHash, executionID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" && c.current == executionID {
		return false, "continuation of current execution"
	}
	if c.current != "" {
		return true, fmt.Sprintf("execution %s is already in progress", c.current)
	}
	now := time.Now().UnixMilli()
	if last, ok := c.lastSeen[configHash]; ok {
		if now-last < c.duplicateWindow.Milliseconds() {
			return true, fmt.Sprintf("identical configuration submitted %dms ago", now-last)
		}
	}
	for _, rec := range c.ledger {
		if rec.ConfigHash == configHash && rec.Status == StatusRunning {
			return true, fmt.Sprintf("configuration already running as %s", rec.ExecutionID)
		}
	}

	c.lastSeen[configHash] = now
	return false, ""
}

// AcquireExecutionPermission atomically claims the gate for executionID.
// It succeeds only when the gate is free or already held by the same id
// (idempotent re-acquire); any other holder makes it fail without side
// effects. On success a running ledger entry is recorded.
func (c *Coordinator) AcquireExecutionPermission(executionID, configHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" && c.current != executionID {
		return false
	}
	c.current = executionID

	if rec, ok := c.byID[executionID]; ok {
		if !rec.Status.Terminal() {
			rec.Status = StatusRunning
		}
		return true
	}
	rec := &Record{
		ExecutionID: executionID,
		ConfigHash:  configHash,
		Timestamp:   time.Now().UnixMilli(),
		Status:      StatusRunning,
	}
	c.ledger = append(c.ledger, rec)
	c.byID[executionID] = rec
	c.evict()
	return true
}

// ReleaseExecutionPermission frees the gate if executionID currently
// holds it. A mismatched release is a logged no-op, never an error. The
// ledger entry receives the given terminal status; non-terminal statuses
// are coerced to completed.
func (c *Coordinator) ReleaseExecutionPermission(executionID string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != executionID {
		slog.Warn("release for execution that does not hold the gate", "execution_id", executionID, "holder", c.current)
		return
	}
	c.current = ""

	if !status.Terminal() {
		status = StatusCompleted
	}
	if rec, ok := c.byID[executionID]; ok && !rec.Status.Terminal() {
		rec.Status = status
	}
}

// ForceReleaseAll unconditionally frees the gate and cancels every
// running ledger entry. Operator recovery only, not normal flow.
func (c *Coordinator) ForceReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" {
		slog.Warn("force releasing execution gate", "holder", c.current)
	}
	c.current = ""
	for _, rec := range c.ledger {
		if rec.Status == StatusRunning || rec.Status == StatusPending {
			rec.Status = StatusCancelled
		}
	}
}

// CurrentExecution returns the id holding the gate, or "" when free.
func (c *Coordinator) CurrentExecution() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// History returns a copy of the ledger, oldest first.
func (c *Coordinator) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.ledger))
	for i, rec := range c.ledger {
		out[i] = *rec
	}
	return out
}

// evict drops oldest-by-timestamp entries until the ledger is back under
// its bound. Caller holds the mutex.
func (c *Coordinator) evict() {
	for len(c.ledger) > c.maxLedger {
		oldest := 0
		for i, rec := range c.ledger {
			if rec.Timestamp < c.ledger[oldest].Timestamp {
				oldest = i
			}
		}
		evicted := c.ledger[oldest]
		c.ledger = append(c.ledger[:oldest], c.ledger[oldest+1:]...)
		delete(c.byID, evicted.ExecutionID)
	}
}
