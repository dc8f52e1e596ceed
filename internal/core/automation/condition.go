package automation

import (
	"errors"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
)

// StateReader gives read access to the latest known device states
type StateReader interface {
	CurrentState(entityID string) (string, bool)
}

// PresenceProvider reports whether anyone is home
type PresenceProvider interface {
	AnyoneHome() bool
}

// EvalContext is the world view conditions are evaluated against
type EvalContext struct {
	Now        time.Time
	AnyoneHome bool
	States     StateReader
}

// EvaluateConditions returns true when every condition holds. An empty list
// is satisfied. Unknown or malformed conditions count as false; their
// EvaluationErrors are joined into the returned error.
func EvaluateConditions(conditions []rules.AutomationCondition, ectx EvalContext) (bool, error) {
	result := true
	var errs []error
	for _, c := range conditions {
		ok, err := EvaluateCondition(c, ectx)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			result = false
			break
		}
	}
	return result, errors.Join(errs...)
}

// EvaluateCondition evaluates a single condition
func EvaluateCondition(c rules.AutomationCondition, ectx EvalContext) (bool, error) {
	switch c.Type {
	case rules.ConditionTimeBetween:
		start, err := rules.ParseClock(c.Config.StartTime)
		if err != nil {
			return false, &EvaluationError{ConditionID: c.ID, Type: c.Type, Reason: err.Error()}
		}
		end, err := rules.ParseClock(c.Config.EndTime)
		if err != nil {
			return false, &EvaluationError{ConditionID: c.ID, Type: c.Type, Reason: err.Error()}
		}
		return minuteInWindow(ectx.Now.Hour()*60+ectx.Now.Minute(), start, end), nil

	case rules.ConditionAnyoneHome:
		return ectx.AnyoneHome, nil

	case rules.ConditionDeviceState:
		if c.Config.EntityID == "" || c.Config.State == nil {
			return false, &EvaluationError{ConditionID: c.ID, Type: c.Type, Reason: "entity id and expected state are required"}
		}
		if ectx.States == nil {
			return false, nil
		}
		current, ok := ectx.States.CurrentState(c.Config.EntityID)
		return ok && current == *c.Config.State, nil
	}

	return false, &EvaluationError{ConditionID: c.ID, Type: c.Type, Reason: "unknown condition type"}
}

// minuteInWindow reports whether now lies in [start, end). When end is
// before start the window wraps past midnight. An empty window (start ==
// end) never matches.
func minuteInWindow(now, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}
