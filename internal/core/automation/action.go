package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/sirupsen/logrus"
)

// Command is one device command handed to a DeviceController
type Command struct {
	CommandID string
	EntityID  string
	Action    rules.ActionType
	Value     rules.ActionValue
	Source    string
}

// RawValue returns the scalar payload or nil
func (c Command) RawValue() interface{} {
	if c.Value == nil {
		return nil
	}
	return c.Value.Raw()
}

// DeviceController delivers commands to devices. Dispatch must return
// within a bounded time; an error marks the action failed.
type DeviceController interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// DeviceControllerFunc adapts a function to DeviceController
type DeviceControllerFunc func(ctx context.Context, cmd Command) error

func (f DeviceControllerFunc) Dispatch(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// OutcomeStatus is the result of one action
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// ActionOutcome records what happened to one action of a sequence
type ActionOutcome struct {
	ActionID    string           `json:"actionId"`
	EntityID    string           `json:"entityId"`
	Type        rules.ActionType `json:"type"`
	Status      OutcomeStatus    `json:"status"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt time.Time        `json:"completedAt"`
}

// Executor runs action sequences strictly in order. The delay of action k
// starts after action k-1 completes; the delay of the first action is not
// applied. A failing action is recorded and the sequence continues. Delays
// are cut short only when the executor's lifetime context ends.
type Executor struct {
	controller      DeviceController
	lifetime        context.Context
	dispatchTimeout time.Duration
	idGen           rules.IDGenerator
	logger          *logrus.Logger
	metrics         *metrics.Collector
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithDispatchTimeout bounds every Dispatch call
func WithDispatchTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.dispatchTimeout = d }
}

// WithExecutorMetrics records outcomes on the collector
func WithExecutorMetrics(m *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor bound to lifetime
func NewExecutor(lifetime context.Context, controller DeviceController, logger *logrus.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Executor{
		controller:      controller,
		lifetime:        lifetime,
		dispatchTimeout: 10 * time.Second,
		idGen:           rules.UUIDGenerator{},
		logger:          logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs actions and returns one outcome per action, in order
func (e *Executor) Execute(actions []rules.SceneAction, source string) []ActionOutcome {
	return e.execute(e.lifetime, actions, source)
}

func (e *Executor) execute(ctx context.Context, actions []rules.SceneAction, source string) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(actions))

	for i, action := range actions {
		if i > 0 && action.Delay > 0 {
			if err := wait(e.lifetime, action.DelayDuration()); err != nil {
				for _, rest := range actions[i:] {
					now := time.Now()
					outcomes = append(outcomes, ActionOutcome{
						ActionID:    rest.ID,
						EntityID:    rest.EntityID,
						Type:        rest.Type,
						Status:      OutcomeFailure,
						Error:       "sequence interrupted by shutdown",
						StartedAt:   now,
						CompletedAt: now,
					})
				}
				e.logger.WithField("source", source).Warn("Action sequence interrupted by shutdown")
				return outcomes
			}
		}
		outcomes = append(outcomes, e.runAction(ctx, action, source))
	}
	return outcomes
}

func (e *Executor) runAction(ctx context.Context, action rules.SceneAction, source string) (outcome ActionOutcome) {
	outcome = ActionOutcome{
		ActionID:  action.ID,
		EntityID:  action.EntityID,
		Type:      action.Type,
		StartedAt: time.Now(),
	}

	cmd := Command{
		CommandID: e.idGen.NewID("cmd"),
		EntityID:  action.EntityID,
		Action:    action.Type,
		Value:     action.Value,
		Source:    source,
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = OutcomeFailure
			outcome.Error = (&DispatchError{EntityID: action.EntityID, Action: action.Type, Err: fmt.Errorf("panic: %v", r)}).Error()
			outcome.CompletedAt = time.Now()
			e.logger.WithField("entity_id", action.EntityID).Errorf("Device controller panicked: %v", r)
		}
		e.metrics.ActionExecuted(string(action.Type), outcome.Status == OutcomeSuccess, outcome.CompletedAt.Sub(outcome.StartedAt))
	}()

	// nested scenes carry their own delays, so only device commands get the timeout
	dctx := ctx
	if action.Type != rules.ActionActivateScene {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.dispatchTimeout)
		defer cancel()
	}

	err := e.controller.Dispatch(dctx, cmd)
	outcome.CompletedAt = time.Now()

	if err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			de = &DispatchError{EntityID: action.EntityID, Action: action.Type, Err: err}
		}
		outcome.Status = OutcomeFailure
		outcome.Error = de.Error()
		e.logger.WithFields(logrus.Fields{
			"entity_id": action.EntityID,
			"action":    action.Type,
			"source":    source,
		}).WithError(err).Warn("Action failed")
		return outcome
	}

	outcome.Status = OutcomeSuccess
	e.logger.WithFields(logrus.Fields{
		"entity_id": action.EntityID,
		"action":    action.Type,
		"source":    source,
	}).Debug("Action dispatched")
	return outcome
}

// wait sleeps for d or until ctx ends
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CountFailures returns the number of failed outcomes
func CountFailures(outcomes []ActionOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == OutcomeFailure {
			n++
		}
	}
	return n
}

// LoggingController logs commands instead of sending them. Used when no
// device transport is configured.
type LoggingController struct {
	Logger *logrus.Logger
}

func (c *LoggingController) Dispatch(_ context.Context, cmd Command) error {
	c.Logger.WithFields(logrus.Fields{
		"command_id": cmd.CommandID,
		"entity_id":  cmd.EntityID,
		"action":     cmd.Action,
		"value":      cmd.RawValue(),
		"source":     cmd.Source,
	}).Info("Dry-run device command")
	return nil
}
