package groupexec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfycoord/coordinator"
)

func newTestManager(t *testing.T, window time.Duration) (*Manager, *ConfigStore, *coordinator.Coordinator) {
	t.Helper()
	config := NewConfigStore()
	coord := coordinator.NewCoordinator(&coordinator.Options{DuplicateWindow: window})
	return NewManager(config, coord, nil), config, coord
}

func mustParse(t *testing.T, payload string) *ExecutionData {
	t.Helper()
	data, err := ParseExecutionData(payload)
	require.NoError(t, err, "every payload the manager emits must be parseable")
	require.NotNil(t, data.ExecutionPlan)
	require.NotNil(t, data.CacheControlSignal)
	return data
}

func TestEmptyConfigYieldsDisabledPlan(t *testing.T) {
	m, _, coord := newTestManager(t, 5*time.Second)

	data := mustParse(t, m.CreateExecutionPlan())
	assert.True(t, data.ExecutionPlan.Disabled)
	assert.Equal(t, ReasonEmptyGroups, data.ExecutionPlan.DisabledReason)
	assert.Empty(t, coord.CurrentExecution(), "an empty-config plan must not consume the gate")
}

func TestPlanBuildAndImmediateDuplicate(t *testing.T) {
	m, config, _ := newTestManager(t, 5*time.Second)
	config.SetGroupConfig([]GroupDescriptor{
		{GroupName: "g1"},
		{GroupName: "g2"},
	})

	data := mustParse(t, m.CreateExecutionPlan())
	plan := data.ExecutionPlan
	assert.False(t, plan.Disabled)
	assert.Len(t, plan.Groups, 2)
	assert.Equal(t, "g1", plan.Groups[0].GroupName)
	assert.Equal(t, ModeSequential, plan.ExecutionMode)
	assert.Equal(t, CacheConditional, plan.CacheControlMode)
	assert.NotEmpty(t, plan.ExecutionID)

	signal := data.CacheControlSignal
	assert.Equal(t, plan.ExecutionID, signal.ExecutionID, "signal and plan must share one execution id")
	assert.True(t, signal.Enabled)
	assert.True(t, signal.CacheEnabled)
	assert.NotZero(t, signal.Timestamp)

	// distinct millisecond so the second call cannot regenerate the same id
	time.Sleep(2 * time.Millisecond)

	second := mustParse(t, m.CreateExecutionPlan())
	assert.True(t, second.ExecutionPlan.Disabled)
	assert.Equal(t, ReasonDuplicateRequest, second.ExecutionPlan.DisabledReason)
	assert.NotEmpty(t, second.ExecutionPlan.Message, "the human-readable reason rides along")
}

func TestPlanAdmittedAfterReleaseAndWindow(t *testing.T) {
	m, config, _ := newTestManager(t, 50*time.Millisecond)
	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}})

	first := mustParse(t, m.CreateExecutionPlan())
	require.False(t, first.ExecutionPlan.Disabled)

	m.ReleaseExecution(first.ExecutionPlan.ExecutionID, coordinator.StatusCompleted)
	time.Sleep(80 * time.Millisecond)

	second := mustParse(t, m.CreateExecutionPlan())
	assert.False(t, second.ExecutionPlan.Disabled, "after release and window lapse the config runs again")
	assert.NotEqual(t, first.ExecutionPlan.ExecutionID, second.ExecutionPlan.ExecutionID)
}

func TestPlanWhileGateHeldIsDisabled(t *testing.T) {
	m, config, coord := newTestManager(t, time.Millisecond)
	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}})

	require.True(t, coord.AcquireExecutionPermission("someone_else", "other_hash"))
	time.Sleep(2 * time.Millisecond)

	data := mustParse(t, m.CreateExecutionPlan())
	assert.True(t, data.ExecutionPlan.Disabled)
	assert.Equal(t, ReasonDuplicateRequest, data.ExecutionPlan.DisabledReason)
}

func TestPlanCarriesClientID(t *testing.T) {
	m, config, _ := newTestManager(t, 5*time.Second)
	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}})

	data := mustParse(t, m.CreateExecutionPlanFor("client-42"))
	assert.Equal(t, "client-42", data.ExecutionPlan.ClientID)
}

func TestManagerOptionsApplied(t *testing.T) {
	config := NewConfigStore()
	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}})
	coord := coordinator.NewCoordinator(nil)
	m := NewManager(config, coord, &ManagerOptions{
		ExecutionMode:    ModeParallel,
		CacheControlMode: CacheAlwaysAllow,
	})

	data := mustParse(t, m.CreateExecutionPlan())
	assert.Equal(t, ModeParallel, data.ExecutionPlan.ExecutionMode)
	assert.Equal(t, CacheAlwaysAllow, data.ExecutionPlan.CacheControlMode)
}

func TestConfigHashChangeDetection(t *testing.T) {
	m, config, _ := newTestManager(t, 5*time.Second)
	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}})

	h1, err := m.ConfigHash()
	require.NoError(t, err)
	h2, err := m.ConfigHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "an unchanged configuration hashes identically")

	config.SetGroupConfig([]GroupDescriptor{{GroupName: "g1"}, {GroupName: "g2"}})
	h3, err := m.ConfigHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
