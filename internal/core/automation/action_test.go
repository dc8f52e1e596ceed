package automation

import (
	"context"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_DelayOrdering(t *testing.T) {
	ctrl := newRecordingController()
	exec := NewExecutor(context.Background(), ctrl, quietLogger())

	actions := []rules.SceneAction{
		{ID: "a", EntityID: "A", Type: rules.ActionTurnOn},
		{ID: "b", EntityID: "B", Type: rules.ActionTurnOn, Delay: 500},
		{ID: "c", EntityID: "C", Type: rules.ActionTurnOn},
	}

	outcomes := exec.Execute(actions, "test")
	require.Len(t, outcomes, 3)

	recs := ctrl.records()
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"A", "B", "C"}, ctrl.entities())

	gapAB := recs[1].startedAt.Sub(recs[0].completedAt)
	assert.GreaterOrEqual(t, gapAB, 500*time.Millisecond)

	gapBC := recs[2].startedAt.Sub(recs[1].completedAt)
	assert.Less(t, gapBC, 200*time.Millisecond)
}

func TestExecutor_FirstDelayIgnored(t *testing.T) {
	ctrl := newRecordingController()
	exec := NewExecutor(context.Background(), ctrl, quietLogger())

	start := time.Now()
	exec.Execute([]rules.SceneAction{{EntityID: "A", Type: rules.ActionTurnOn, Delay: 2000}}, "test")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_FailureDoesNotAbort(t *testing.T) {
	ctrl := newRecordingController()
	ctrl.failFor["B"] = true
	exec := NewExecutor(context.Background(), ctrl, quietLogger())

	outcomes := exec.Execute([]rules.SceneAction{
		{ID: "a", EntityID: "A", Type: rules.ActionTurnOn},
		{ID: "b", EntityID: "B", Type: rules.ActionSetBrightness, Value: rules.Brightness(30)},
		{ID: "c", EntityID: "C", Type: rules.ActionTurnOff},
	}, "test")

	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, OutcomeFailure, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Error, "device unreachable")
	assert.Equal(t, OutcomeSuccess, outcomes[2].Status)
	assert.Equal(t, []string{"A", "B", "C"}, ctrl.entities(), "each action dispatched exactly once")
	assert.Equal(t, 1, CountFailures(outcomes))
}

func TestExecutor_PassesValues(t *testing.T) {
	ctrl := newRecordingController()
	exec := NewExecutor(context.Background(), ctrl, quietLogger())

	exec.Execute([]rules.SceneAction{
		{EntityID: "light", Type: rules.ActionSetColor, Value: rules.Color("#00ff00")},
	}, "scene:s1")

	recs := ctrl.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "#00ff00", recs[0].cmd.RawValue())
	assert.Equal(t, "scene:s1", recs[0].cmd.Source)
	assert.NotEmpty(t, recs[0].cmd.CommandID)
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	exec := NewExecutor(context.Background(), DeviceControllerFunc(func(context.Context, Command) error {
		panic("boom")
	}), quietLogger())

	outcomes := exec.Execute([]rules.SceneAction{{EntityID: "x", Type: rules.ActionTurnOn}}, "test")
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailure, outcomes[0].Status)
}

func TestExecutor_ShutdownInterruptsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := newRecordingController()
	exec := NewExecutor(ctx, ctrl, quietLogger())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes := exec.Execute([]rules.SceneAction{
		{EntityID: "A", Type: rules.ActionTurnOn},
		{EntityID: "B", Type: rules.ActionTurnOn, Delay: 10000},
		{EntityID: "C", Type: rules.ActionTurnOn},
	}, "test")

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, OutcomeFailure, outcomes[1].Status)
	assert.Equal(t, OutcomeFailure, outcomes[2].Status)
	assert.Equal(t, []string{"A"}, ctrl.entities())
}
