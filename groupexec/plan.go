// Package groupexec builds and consumes execution plans for staged
// node-group execution. A manager turns the live group configuration into
// a signed plan plus cache-control signal; a trigger validates that
// payload and forwards it to the front-end scheduler exactly once.
package groupexec

import "encoding/json"

// ExecutionMode orders the groups within one coordinated pass.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// CacheControlMode tells the front-end scheduler how to treat cached
// node results between groups.
type CacheControlMode string

const (
	CacheConditional       CacheControlMode = "conditional"
	CacheAlwaysAllow       CacheControlMode = "always_allow"
	CacheBlockUntilAllowed CacheControlMode = "block_until_allowed"
)

// Disabled-plan reason codes. Disabled plans are terminal, valid results,
// not errors; the reason string rides along for optional UI display.
const (
	ReasonEmptyGroups      = "empty_groups"
	ReasonDuplicateRequest = "duplicate_request"
	ReasonNoPermission     = "no_permission"
	ReasonInternalError    = "internal_error"
)

// GroupDescriptor names one node-group of the host graph, scheduled as a
// unit by the external front-end scheduler. Node references are opaque to
// this core.
type GroupDescriptor struct {
	GroupName     string         `json:"group_name"`
	Nodes         []string       `json:"nodes,omitempty"`
	CleanupConfig map[string]any `json:"cleanup_config,omitempty"`
}

// ExecutionPlan describes which node-groups to run, in what order, under
// what cache policy, for one coordinated pass. A plan is immutable once
// serialized; the next CreateExecutionPlan call supersedes it.
type ExecutionPlan struct {
	ExecutionID      string            `json:"execution_id"`
	Groups           []GroupDescriptor `json:"groups"`
	ExecutionMode    ExecutionMode     `json:"execution_mode"`
	CacheControlMode CacheControlMode  `json:"cache_control_mode"`
	Disabled         bool              `json:"disabled"`
	DisabledReason   string            `json:"disabled_reason,omitempty"`
	Message          string            `json:"message,omitempty"`
	Error            string            `json:"error,omitempty"`
	ClientID         string            `json:"client_id,omitempty"`
	Timestamp        int64             `json:"timestamp"`
}

// CacheControlSignal is the short-lived permission token bound one-to-one
// to a plan. Its execution id must exactly equal the plan's; a mismatch
// is a hard validation failure at the trigger.
type CacheControlSignal struct {
	ExecutionID  string `json:"execution_id"`
	Enabled      bool   `json:"enabled"`
	Timestamp    int64  `json:"timestamp"`
	CacheEnabled bool   `json:"cache_enabled"`
	ClearCache   bool   `json:"clear_cache,omitempty"`
}

// ExecutionData is the single opaque payload handed from the manager to
// the trigger: one plan and its matching signal.
type ExecutionData struct {
	ExecutionPlan      *ExecutionPlan      `json:"execution_plan"`
	CacheControlSignal *CacheControlSignal `json:"cache_control_signal"`
}

// Encode serializes the payload to its wire form.
func (d *ExecutionData) Encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseExecutionData decodes one wire payload.
func ParseExecutionData(payload string) (*ExecutionData, error) {
	data := &ExecutionData{}
	if err := json.Unmarshal([]byte(payload), data); err != nil {
		return nil, err
	}
	return data, nil
}

func validExecutionMode(m ExecutionMode) bool {
	return m == ModeSequential || m == ModeParallel
}

func validCacheControlMode(m CacheControlMode) bool {
	return m == CacheConditional || m == CacheAlwaysAllow || m == CacheBlockUntilAllowed
}
