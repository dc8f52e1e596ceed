package automation

import (
	"errors"
	"fmt"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
)

var (
	// ErrEngineStopped is returned when an event is submitted after Stop
	ErrEngineStopped = errors.New("automation engine is stopped")
	// ErrNestingTooDeep is returned when activate_scene actions recurse past the limit
	ErrNestingTooDeep = errors.New("scene activation nested too deeply")
)

// DispatchError is a device command failure. It is recorded in the action
// outcome and never aborts a sequence.
type DispatchError struct {
	EntityID string
	Action   rules.ActionType
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.Action, e.EntityID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// EvaluationError is an unknown or malformed condition met at fire time.
// The condition evaluates to false.
type EvaluationError struct {
	ConditionID string
	Type        rules.ConditionType
	Reason      string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("condition %s (%s): %s", e.ConditionID, e.Type, e.Reason)
}
