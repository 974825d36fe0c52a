package groupexec

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/richinsley/comfycoord/coordinator"
)

// ManagerOptions tunes a Manager. Zero values select the defaults.
type ManagerOptions struct {
	// ExecutionMode for built plans. Default sequential.
	ExecutionMode ExecutionMode
	// CacheControlMode for built plans. Default conditional.
	CacheControlMode CacheControlMode
	// ClientID recorded as the owner of built plans. Optional; when set
	// the trigger enforces that only the owning connection receives the
	// forwarded bundle.
	ClientID string
}

// Manager translates the live group configuration into an ExecutionPlan
// plus CacheControlSignal pair, gated by the coordinator. It never raises
// past its public API; every failure mode is a plan-shaped payload.
type Manager struct {
	config *ConfigStore
	coord  *coordinator.Coordinator
	opts   ManagerOptions
}

// NewManager creates a manager over the shared configuration store and
// coordinator. opts may be nil for defaults.
func NewManager(config *ConfigStore, coord *coordinator.Coordinator, opts *ManagerOptions) *Manager {
	o := ManagerOptions{
		ExecutionMode:    ModeSequential,
		CacheControlMode: CacheConditional,
	}
	if opts != nil {
		if opts.ExecutionMode != "" {
			o.ExecutionMode = opts.ExecutionMode
		}
		if opts.CacheControlMode != "" {
			o.CacheControlMode = opts.CacheControlMode
		}
		o.ClientID = opts.ClientID
	}
	return &Manager{config: config, coord: coord, opts: o}
}

// CreateExecutionPlan builds a plan for the manager's own client id.
func (m *Manager) CreateExecutionPlan() string {
	return m.CreateExecutionPlanFor(m.opts.ClientID)
}

// CreateExecutionPlanFor reads the current configuration snapshot, asks
// the coordinator for an id and permission, and emits the plan + signal
// pair as one serialized payload. Empty configuration, duplicate
// submission and permission denial all produce disabled plans with a
// reason code; only a held permission produces an enabled plan.
func (m *Manager) CreateExecutionPlanFor(clientID string) (payload string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected panic building execution plan", "panic", r)
			payload = m.errorPayload(fmt.Sprintf("internal error: %v", r))
		}
	}()

	groups := m.config.GetGroupConfig()
	if len(groups) == 0 {
		return m.disabledPayload("", ReasonEmptyGroups, "configuration empty", clientID)
	}

	executionID, configHash, err := m.coord.GenerateStableExecutionID(groups)
	if err != nil {
		slog.Error("failed to derive execution id from configuration", "error", err)
		return m.errorPayload(err.Error())
	}

	if dup, reason := m.coord.IsDuplicateRequest(configHash, executionID); dup {
		slog.Info("rejecting duplicate execution request", "execution_id", executionID, "reason", reason)
		return m.disabledPayload(executionID, ReasonDuplicateRequest, reason, clientID)
	}

	if !m.coord.AcquireExecutionPermission(executionID, configHash) {
		slog.Info("execution permission denied", "execution_id", executionID)
		return m.disabledPayload(executionID, ReasonNoPermission, "another execution holds the gate", clientID)
	}

	now := time.Now().UnixMilli()
	data := &ExecutionData{
		ExecutionPlan: &ExecutionPlan{
			ExecutionID:      executionID,
			Groups:           groups,
			ExecutionMode:    m.opts.ExecutionMode,
			CacheControlMode: m.opts.CacheControlMode,
			ClientID:         clientID,
			Timestamp:        now,
		},
		CacheControlSignal: &CacheControlSignal{
			ExecutionID:  executionID,
			Enabled:      true,
			Timestamp:    now,
			CacheEnabled: true,
		},
	}
	encoded, err := data.Encode()
	if err != nil {
		// Undo the acquire so a serialization bug cannot wedge the gate.
		m.coord.ReleaseExecutionPermission(executionID, coordinator.StatusFailed)
		slog.Error("failed to encode execution plan", "execution_id", executionID, "error", err)
		return m.errorPayload(err.Error())
	}
	return encoded
}

// ReleaseExecution frees the coordinator gate when the whole group chain
// has finished. status must be terminal; anything else records completed.
func (m *Manager) ReleaseExecution(executionID string, status coordinator.Status) {
	m.coord.ReleaseExecutionPermission(executionID, status)
}

// ConfigHash exposes the content hash of the current configuration for
// host-side change detection.
func (m *Manager) ConfigHash() (string, error) {
	return m.config.Hash()
}

func (m *Manager) disabledPayload(executionID, reason, message, clientID string) string {
	data := &ExecutionData{
		ExecutionPlan: &ExecutionPlan{
			ExecutionID:      executionID,
			ExecutionMode:    m.opts.ExecutionMode,
			CacheControlMode: m.opts.CacheControlMode,
			Disabled:         true,
			DisabledReason:   reason,
			Message:          message,
			ClientID:         clientID,
			Timestamp:        time.Now().UnixMilli(),
		},
		CacheControlSignal: &CacheControlSignal{
			ExecutionID: executionID,
			Timestamp:   time.Now().UnixMilli(),
		},
	}
	encoded, err := data.Encode()
	if err != nil {
		return m.errorPayload(err.Error())
	}
	return encoded
}

// errorPayload is the last-resort shape for unexpected internal failures.
// The signal requests a cache clear so a consumer cannot act on state
// from a half-built plan.
func (m *Manager) errorPayload(message string) string {
	data := &ExecutionData{
		ExecutionPlan: &ExecutionPlan{
			Disabled:       true,
			DisabledReason: ReasonInternalError,
			Error:          message,
			Timestamp:      time.Now().UnixMilli(),
		},
		CacheControlSignal: &CacheControlSignal{
			Timestamp:  time.Now().UnixMilli(),
			ClearCache: true,
		},
	}
	encoded, err := data.Encode()
	if err != nil {
		// Static fallback; this cannot itself fail.
		return `{"execution_plan":{"disabled":true,"disabled_reason":"internal_error"},"cache_control_signal":{"clear_cache":true}}`
	}
	return encoded
}
