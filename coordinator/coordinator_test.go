package coordinator

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableIDDeterminism(t *testing.T) {
	c := NewCoordinator(nil)
	config := []map[string]any{{"group_name": "g1"}, {"group_name": "g2"}}

	id1, hash1, err := c.GenerateStableExecutionID(config)
	require.NoError(t, err)
	id2, hash2, err := c.GenerateStableExecutionID(config)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2, "identical content must yield an identical config hash")
	assert.True(t, strings.HasPrefix(id1, "exec_hash_"+hash1[:16]+"_t_"))
	assert.True(t, strings.HasPrefix(id2, "exec_hash_"+hash2[:16]+"_t_"))
	assert.Len(t, hash1, 64)
}

func TestCanonicalHashKeyOrderIndependent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := CanonicalHash(map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestDuplicateRejectionWindow(t *testing.T) {
	c := NewCoordinator(&Options{DuplicateWindow: 100 * time.Millisecond})

	dup, _ := c.IsDuplicateRequest("hashA", "exec_1")
	assert.False(t, dup, "first submission must be admitted")

	dup, reason := c.IsDuplicateRequest("hashA", "exec_2")
	assert.True(t, dup, "same config hash inside the window must be rejected")
	assert.NotEmpty(t, reason)

	time.Sleep(150 * time.Millisecond)
	dup, _ = c.IsDuplicateRequest("hashA", "exec_3")
	assert.False(t, dup, "after the window elapses the config is admitted again")
}

func TestContinuationBeatsDuplicateWindow(t *testing.T) {
	c := NewCoordinator(nil)

	require.False(t, firstReturn(c.IsDuplicateRequest("hashA", "exec_1")))
	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))

	// same id as the current holder: continuation, checked before anything else
	dup, reason := c.IsDuplicateRequest("hashA", "exec_1")
	assert.False(t, dup)
	assert.Contains(t, reason, "continuation")

	// different id while the gate is held: duplicate
	dup, _ = c.IsDuplicateRequest("hashA", "exec_2")
	assert.True(t, dup)
}

func firstReturn(b bool, _ string) bool { return b }

func TestMutualExclusionAndContinuation(t *testing.T) {
	c := NewCoordinator(nil)

	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))
	assert.False(t, c.AcquireExecutionPermission("exec_2", "hashB"), "two different ids must never both hold the gate")
	assert.True(t, c.AcquireExecutionPermission("exec_1", "hashA"), "re-acquire by the holder is idempotent")
	assert.Equal(t, "exec_1", c.CurrentExecution())
}

func TestReleaseGuard(t *testing.T) {
	c := NewCoordinator(nil)
	require.True(t, c.AcquireExecutionPermission("right_id", "hash"))

	c.ReleaseExecutionPermission("wrong_id", StatusCompleted)
	assert.Equal(t, "right_id", c.CurrentExecution(), "a mismatched release must not clear the gate")

	c.ReleaseExecutionPermission("right_id", StatusCompleted)
	assert.Empty(t, c.CurrentExecution())
}

func TestAcquireReleaseAcquire(t *testing.T) {
	c := NewCoordinator(nil)

	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))
	assert.False(t, c.AcquireExecutionPermission("exec_2", "hashB"))

	c.ReleaseExecutionPermission("exec_1", StatusCompleted)
	assert.True(t, c.AcquireExecutionPermission("exec_2", "hashB"))
}

func TestTerminalStatusIsFinal(t *testing.T) {
	c := NewCoordinator(nil)
	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))
	c.ReleaseExecutionPermission("exec_1", StatusFailed)

	// a later force release must not rewrite the terminal status
	c.ForceReleaseAll()

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
}

func TestNonTerminalReleaseCoercedToCompleted(t *testing.T) {
	c := NewCoordinator(nil)
	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))
	c.ReleaseExecutionPermission("exec_1", StatusPending)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusCompleted, history[0].Status)
}

func TestForceReleaseAll(t *testing.T) {
	c := NewCoordinator(nil)
	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))

	c.ForceReleaseAll()
	assert.Empty(t, c.CurrentExecution())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusCancelled, history[0].Status)

	assert.True(t, c.AcquireExecutionPermission("exec_2", "hashB"))
}

func TestRunningHashRejectedEvenAfterWindow(t *testing.T) {
	c := NewCoordinator(&Options{DuplicateWindow: 10 * time.Millisecond})

	require.False(t, firstReturn(c.IsDuplicateRequest("hashA", "exec_1")))
	require.True(t, c.AcquireExecutionPermission("exec_1", "hashA"))
	c.ReleaseExecutionPermission("exec_1", StatusCompleted)

	// gate is free and the window has lapsed, but re-acquire the hash as running
	require.True(t, c.AcquireExecutionPermission("exec_1b", "hashA"))
	c.mu.Lock()
	c.current = "" // simulate a freed gate with the ledger entry still running
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	dup, reason := c.IsDuplicateRequest("hashA", "exec_2")
	assert.True(t, dup)
	assert.Contains(t, reason, "already running")
}

func TestLedgerEviction(t *testing.T) {
	c := NewCoordinator(&Options{MaxLedger: 3})

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("exec_%d", i)
		require.True(t, c.AcquireExecutionPermission(id, fmt.Sprintf("hash_%d", i)))
		c.ReleaseExecutionPermission(id, StatusCompleted)
		time.Sleep(2 * time.Millisecond) // distinct timestamps for eviction order
	}

	history := c.History()
	require.Len(t, history, 3)
	assert.Equal(t, "exec_2", history[0].ExecutionID, "oldest entries are evicted first")
	assert.Equal(t, "exec_4", history[2].ExecutionID)
}
