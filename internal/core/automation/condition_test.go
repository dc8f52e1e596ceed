package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestEvaluateCondition_TimeBetween(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"inside daytime window", "08:00", "17:00", at(12, 0), true},
		{"start is inclusive", "08:00", "17:00", at(8, 0), true},
		{"end is exclusive", "08:00", "17:00", at(17, 0), false},
		{"before window", "08:00", "17:00", at(7, 59), false},
		{"wraparound late evening", "22:00", "06:00", at(23, 0), true},
		{"wraparound early morning", "22:00", "06:00", at(3, 0), true},
		{"wraparound end exclusive", "22:00", "06:00", at(6, 0), false},
		{"wraparound midday", "22:00", "06:00", at(12, 0), false},
		{"empty window", "10:00", "10:00", at(10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := rules.AutomationCondition{
				ID:     "c1",
				Type:   rules.ConditionTimeBetween,
				Config: rules.ConditionConfig{StartTime: tt.start, EndTime: tt.end},
			}
			got, err := EvaluateCondition(cond, EvalContext{Now: tt.now})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_DeviceStateAndPresence(t *testing.T) {
	states := staticStates{"lock.front": "locked"}

	tests := []struct {
		name string
		cond rules.AutomationCondition
		ctx  EvalContext
		want bool
	}{
		{
			name: "anyone home true",
			cond: rules.AutomationCondition{Type: rules.ConditionAnyoneHome},
			ctx:  EvalContext{AnyoneHome: true},
			want: true,
		},
		{
			name: "anyone home false",
			cond: rules.AutomationCondition{Type: rules.ConditionAnyoneHome},
			ctx:  EvalContext{},
			want: false,
		},
		{
			name: "device state matches",
			cond: rules.AutomationCondition{Type: rules.ConditionDeviceState, Config: rules.ConditionConfig{EntityID: "lock.front", State: strPtr("locked")}},
			ctx:  EvalContext{States: states},
			want: true,
		},
		{
			name: "device state differs",
			cond: rules.AutomationCondition{Type: rules.ConditionDeviceState, Config: rules.ConditionConfig{EntityID: "lock.front", State: strPtr("unlocked")}},
			ctx:  EvalContext{States: states},
			want: false,
		},
		{
			name: "unknown entity",
			cond: rules.AutomationCondition{Type: rules.ConditionDeviceState, Config: rules.ConditionConfig{EntityID: "lock.back", State: strPtr("locked")}},
			ctx:  EvalContext{States: states},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.cond, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditions_FailClosed(t *testing.T) {
	conds := []rules.AutomationCondition{
		{ID: "ok", Type: rules.ConditionAnyoneHome},
		{ID: "bad", Type: "moon_phase"},
	}

	got, err := EvaluateConditions(conds, EvalContext{AnyoneHome: true})
	assert.False(t, got)

	var evalErr *EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "bad", evalErr.ConditionID)

	malformed := []rules.AutomationCondition{
		{ID: "m", Type: rules.ConditionTimeBetween, Config: rules.ConditionConfig{StartTime: "25:00", EndTime: "06:00"}},
	}
	got, err = EvaluateConditions(malformed, EvalContext{Now: at(1, 0)})
	assert.False(t, got)
	assert.Error(t, err)
}

func TestEvaluateConditions_EmptyIsTrue(t *testing.T) {
	got, err := EvaluateConditions(nil, EvalContext{})
	assert.NoError(t, err)
	assert.True(t, got)
}
