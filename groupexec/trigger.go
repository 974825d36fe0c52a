package groupexec

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pusher delivers the validated execution bundle to the UI layer over the
// push-notification channel. The trigger only writes; it never reads.
type Pusher interface {
	Push(event string, payload any, target string) error
}

// Clearer is anything whose channels should be purged before a plan is
// forwarded, giving the upcoming group sequence a fresh start.
type Clearer interface {
	ClearAll()
}

// EventExecutionPlan is the push event carrying a validated bundle.
const EventExecutionPlan = "groupexec_plan"

// TriggerOptions tunes a Trigger. The windows are policy choices carried
// over from hand-tuned defaults, not protocol requirements.
type TriggerOptions struct {
	// StalenessWindow rejects signals older than this. Default 10m.
	StalenessWindow time.Duration
	// ResubmitWindow suppresses re-forwarding the same execution id
	// within this window. Default 30s.
	ResubmitWindow time.Duration
}

// TriggerResult is the typed outcome of one trigger call. Validation
// failures are soft: Forwarded is false and Reason says why, but nothing
// is raised to the caller.
type TriggerResult struct {
	Forwarded   bool   `json:"forwarded"`
	ExecutionID string `json:"execution_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TriggerConfig travels with the forwarded bundle so the front-end
// scheduler knows which connection the forward was scoped to and when.
type TriggerConfig struct {
	ClientID    string `json:"client_id"`
	TriggeredAt int64  `json:"triggered_at"`
}

// Trigger consumes one execution payload and, if valid, forwards it for
// downstream scheduling exactly once. The host may invoke the trigger
// step more than once for the same plan due to re-render behavior
// upstream; the resubmission guard keeps that from double scheduling.
type Trigger struct {
	mu            sync.Mutex
	pusher        Pusher
	caches        []Clearer
	staleness     time.Duration
	resubmit      time.Duration
	lastForwarded map[string]time.Time
}

// NewTrigger creates a trigger that pushes through pusher and purges the
// given caches before each forward. opts may be nil for defaults.
func NewTrigger(pusher Pusher, caches []Clearer, opts *TriggerOptions) *Trigger {
	staleness := 10 * time.Minute
	resubmit := 30 * time.Second
	if opts != nil {
		if opts.StalenessWindow > 0 {
			staleness = opts.StalenessWindow
		}
		if opts.ResubmitWindow > 0 {
			resubmit = opts.ResubmitWindow
		}
	}
	return &Trigger{
		pusher:        pusher,
		caches:        caches,
		staleness:     staleness,
		resubmit:      resubmit,
		lastForwarded: make(map[string]time.Time),
	}
}

// Trigger validates one payload against the connection identified by
// clientID and forwards it when everything checks out. All validation
// failures are logged soft rejections; only truly unexpected internal
// errors surface, and then only as an error-shaped result.
func (t *Trigger) Trigger(executionData, clientID string) (result TriggerResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected panic in trigger", "panic", r)
			result = TriggerResult{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	data, err := ParseExecutionData(executionData)
	if err != nil {
		slog.Error("failed to parse execution payload", "error", err)
		return TriggerResult{Reason: "malformed payload"}
	}

	plan := data.ExecutionPlan
	signal := data.CacheControlSignal
	if plan == nil || signal == nil {
		return t.reject("", "payload missing plan or signal")
	}
	if plan.Disabled {
		// A disabled plan is an inert, valid outcome, not an error path.
		return TriggerResult{ExecutionID: plan.ExecutionID, Reason: plan.DisabledReason}
	}

	if plan.ExecutionID == "" {
		return t.reject("", "plan has no execution id")
	}
	if len(plan.Groups) == 0 {
		return t.reject(plan.ExecutionID, "plan has no groups")
	}
	if !validExecutionMode(plan.ExecutionMode) {
		return t.reject(plan.ExecutionID, fmt.Sprintf("invalid execution mode %q", plan.ExecutionMode))
	}
	if !validCacheControlMode(plan.CacheControlMode) {
		return t.reject(plan.ExecutionID, fmt.Sprintf("invalid cache control mode %q", plan.CacheControlMode))
	}
	if signal.ExecutionID != plan.ExecutionID {
		return t.reject(plan.ExecutionID, "signal execution id does not match plan")
	}
	if plan.ClientID != "" && plan.ClientID != clientID {
		// Prevents cross-session execution confusion in a multi-client host.
		return t.reject(plan.ExecutionID, "plan is owned by a different client")
	}

	if !signal.Enabled {
		return t.reject(plan.ExecutionID, "cache control signal not enabled")
	}
	age := time.Since(time.UnixMilli(signal.Timestamp))
	if age > t.staleness {
		return t.reject(plan.ExecutionID, fmt.Sprintf("signal is stale (%v old)", age.Truncate(time.Second)))
	}

	t.mu.Lock()
	if last, ok := t.lastForwarded[plan.ExecutionID]; ok && time.Since(last) < t.resubmit {
		t.mu.Unlock()
		return t.reject(plan.ExecutionID, "duplicate trigger for this execution")
	}
	t.lastForwarded[plan.ExecutionID] = time.Now()
	t.pruneForwarded()
	t.mu.Unlock()

	// Fresh start for the upcoming group sequence.
	for _, c := range t.caches {
		c.ClearAll()
	}

	bundle := map[string]any{
		"execution_plan":       plan,
		"cache_control_signal": signal,
		"trigger_config": TriggerConfig{
			ClientID:    clientID,
			TriggeredAt: time.Now().UnixMilli(),
		},
	}
	if t.pusher != nil {
		if err := t.pusher.Push(EventExecutionPlan, bundle, clientID); err != nil {
			slog.Error("failed to push execution plan", "execution_id", plan.ExecutionID, "error", err)
			return TriggerResult{ExecutionID: plan.ExecutionID, Error: err.Error()}
		}
	}

	slog.Info("execution plan forwarded", "execution_id", plan.ExecutionID, "groups", len(plan.Groups), "client_id", clientID)
	return TriggerResult{Forwarded: true, ExecutionID: plan.ExecutionID}
}

func (t *Trigger) reject(executionID, reason string) TriggerResult {
	slog.Warn("execution payload rejected", "execution_id", executionID, "reason", reason)
	return TriggerResult{ExecutionID: executionID, Reason: reason}
}

// pruneForwarded drops guard entries old enough to be irrelevant. Caller
// holds the mutex.
func (t *Trigger) pruneForwarded() {
	cutoff := time.Now().Add(-2 * t.resubmit)
	for id, at := range t.lastForwarded {
		if at.Before(cutoff) {
			delete(t.lastForwarded, id)
		}
	}
}
