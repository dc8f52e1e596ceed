package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/sirupsen/logrus"
)

// EngineConfig contains automation engine configuration
type EngineConfig struct {
	QueueSize          int            `json:"queue_size"`
	MaxConcurrentRuns  int            `json:"max_concurrent_runs"`
	DispatchTimeout    time.Duration  `json:"dispatch_timeout"`
	SingleFlightScenes bool           `json:"single_flight_scenes"`
	Location           *time.Location `json:"-"`
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueueSize:         1024,
		MaxConcurrentRuns: 32,
		DispatchTimeout:   10 * time.Second,
		Location:          time.Local,
	}
}

// EngineStatistics contains engine counters
type EngineStatistics struct {
	EventsReceived  int64 `json:"events_received"`
	Firings         int64 `json:"firings"`
	ConditionsFalse int64 `json:"conditions_false"`
	ActionFailures  int64 `json:"action_failures"`
	RunsInFlight    int64 `json:"runs_in_flight"`
	QueueLength     int   `json:"queue_length"`
	Running         bool  `json:"running"`
}

// RunResult describes one automation run
type RunResult struct {
	AutomationID string          `json:"automationId"`
	Executed     bool            `json:"executed"`
	Reason       string          `json:"reason,omitempty"`
	Outcomes     []ActionOutcome `json:"outcomes,omitempty"`
	Failures     int             `json:"failures"`
	FiredAt      time.Time       `json:"firedAt"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Engine consumes events, matches them against enabled automations,
// evaluates conditions and dispatches the action sequences of the
// automations that fire. Matching runs on a single loop goroutine; every
// firing runs its sequence on its own goroutine so slow sequences never
// hold up matching.
type Engine struct {
	store    *rules.Store
	matcher  *TriggerMatcher
	executor *Executor
	scenes   *SceneController
	states   StateReader
	presence PresenceProvider
	notifier Notifier
	metrics  *metrics.Collector
	logger   *logrus.Logger
	location *time.Location

	events   chan Event
	runSlots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
	loop   sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped atomic.Bool

	eventsReceived  atomic.Int64
	firings         atomic.Int64
	conditionsFalse atomic.Int64
	actionFailures  atomic.Int64
	inFlight        atomic.Int64
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithNotifier publishes engine events to live clients
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics records engine metrics
func WithMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires the matcher, executor and scene controller around store.
// controller delivers device commands; activate_scene actions are routed to
// the engine's own scene controller.
func NewEngine(cfg EngineConfig, store *rules.Store, controller DeviceController, states StateReader, presence PresenceProvider, logger *logrus.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 32
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		matcher:  NewTriggerMatcher(),
		states:   states,
		presence: presence,
		notifier: nopNotifier{},
		logger:   logger,
		location: cfg.Location,
		events:   make(chan Event, cfg.QueueSize),
		runSlots: make(chan struct{}, cfg.MaxConcurrentRuns),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	router := NewSceneRouter(controller)
	e.executor = NewExecutor(ctx, router, logger,
		WithDispatchTimeout(cfg.DispatchTimeout),
		WithExecutorMetrics(e.metrics),
	)
	e.scenes = NewSceneController(store, e.executor, logger,
		WithSingleFlight(cfg.SingleFlightScenes),
		WithSceneNotifier(e.notifier),
		WithSceneMetrics(e.metrics),
	)
	router.Bind(e.scenes)
	return e
}

// Scenes returns the scene activation controller
func (e *Engine) Scenes() *SceneController {
	return e.scenes
}

// Location returns the time zone wall clock conditions are evaluated in
func (e *Engine) Location() *time.Location {
	return e.location
}

// Start launches the event loop. The loop ends when ctx is cancelled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("automation engine is already running")
	}
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	e.running = true

	e.loop.Add(1)
	go e.processEvents(ctx)

	e.logger.WithField("location", e.location.String()).Info("Automation engine started")
	return nil
}

// Stop cancels pending delays, stops the loop and waits for in-flight
// sequences to return or ctx to end
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped.Swap(true) {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.loop.Wait()
		e.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Automation engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Automation engine stop timed out with runs still in flight")
		return ctx.Err()
	}
}

// Submit queues an event for matching. It blocks while the queue is full
// until ctx ends.
func (e *Engine) Submit(ctx context.Context, event Event) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	select {
	case e.events <- event:
		e.metrics.SetQueueLength(len(e.events))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineStopped
	}
}

func (e *Engine) processEvents(ctx context.Context) {
	defer e.loop.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case event := <-e.events:
			e.metrics.SetQueueLength(len(e.events))
			e.HandleEvent(event)
		}
	}
}

// HandleEvent matches one event synchronously and dispatches every
// automation whose conditions pass. It returns the automations dispatched.
func (e *Engine) HandleEvent(event Event) []string {
	event = inLocation(event, e.location)
	e.eventsReceived.Add(1)
	e.metrics.EventReceived(string(event.Type()))

	snap := e.store.Snapshot()
	matches := e.matcher.Match(event, snap.Automations)
	if len(matches) == 0 {
		return nil
	}

	ectx := e.evalContext(event.OccurredAt())
	var dispatched []string
	for _, m := range matches {
		log := e.logger.WithFields(logrus.Fields{
			"automation_id": m.Automation.ID,
			"automation":    m.Automation.Name,
			"trigger_id":    m.TriggerID,
			"event":         event.Type(),
		})

		ok, err := EvaluateConditions(m.Automation.Conditions, ectx)
		if err != nil {
			e.metrics.EvaluationFailed()
			log.WithError(err).Warn("Condition evaluation error")
		}
		if !ok {
			e.conditionsFalse.Add(1)
			log.Debug("Conditions not met")
			continue
		}

		if e.dispatch(m.Automation, ectx.Now, log) {
			dispatched = append(dispatched, m.Automation.ID)
		}
	}
	return dispatched
}

func (e *Engine) evalContext(at time.Time) EvalContext {
	if at.IsZero() {
		at = time.Now()
	}
	anyoneHome := false
	if e.presence != nil {
		anyoneHome = e.presence.AnyoneHome()
	}
	return EvalContext{
		Now:        at.In(e.location),
		AnyoneHome: anyoneHome,
		States:     e.states,
	}
}

// beginRun registers a run with the wait group unless the engine has
// stopped. Stop flips stopped under mu before it waits on runs.
func (e *Engine) beginRun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Load() {
		return false
	}
	e.runs.Add(1)
	return true
}

// dispatch runs the automation's sequence on its own goroutine
func (e *Engine) dispatch(a rules.Automation, firedAt time.Time, log *logrus.Entry) bool {
	if !e.beginRun() {
		log.Warn("Automation dropped during shutdown")
		return false
	}
	e.firings.Add(1)
	go func() {
		defer e.runs.Done()

		select {
		case e.runSlots <- struct{}{}:
		case <-e.ctx.Done():
			log.Warn("Automation dropped during shutdown")
			return
		}
		defer func() { <-e.runSlots }()

		e.run(a, firedAt, log)
	}()
	return true
}

func (e *Engine) run(a rules.Automation, firedAt time.Time, log *logrus.Entry) *RunResult {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	log.Info("Automation fired")
	e.metrics.AutomationFired()

	outcomes := e.executor.Execute(a.Actions, "automation:"+a.ID)
	failures := CountFailures(outcomes)
	e.actionFailures.Add(int64(failures))

	result := &RunResult{
		AutomationID: a.ID,
		Executed:     true,
		Outcomes:     outcomes,
		Failures:     failures,
		FiredAt:      firedAt,
	}

	if _, err := e.store.RecordAutomationFired(context.WithoutCancel(e.ctx), a.ID, firedAt); err != nil {
		switch {
		case rules.IsPersistenceWarning(err):
			result.Warnings = append(result.Warnings, err.Error())
		case rules.IsNotFound(err):
			log.Debug("Automation removed while running")
		default:
			log.WithError(err).Error("Failed to record automation run")
		}
	}

	log.WithFields(logrus.Fields{
		"actions":  len(outcomes),
		"failures": failures,
	}).Info("Automation completed")

	e.notifier.Publish("automation_triggered", map[string]interface{}{
		"automation_id": a.ID,
		"name":          a.Name,
		"failures":      failures,
		"outcomes":      outcomes,
		"fired_at":      firedAt,
	})
	return result
}

// RunAutomation runs an automation on demand and waits for its sequence.
// Disabled automations are rejected. Unless force is set, conditions are
// evaluated first and a false result skips the run.
func (e *Engine) RunAutomation(ctx context.Context, id string, force bool) (*RunResult, error) {
	if e.stopped.Load() {
		return nil, ErrEngineStopped
	}
	a, err := e.store.Automation(id)
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return nil, &rules.ValidationError{Errors: []rules.FieldError{{Field: "enabled", Message: "automation is disabled"}}}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ectx := e.evalContext(time.Now())
	log := e.logger.WithFields(logrus.Fields{"automation_id": a.ID, "automation": a.Name, "manual": true})

	if !force {
		ok, evalErr := EvaluateConditions(a.Conditions, ectx)
		if evalErr != nil {
			log.WithError(evalErr).Warn("Condition evaluation error")
		}
		if !ok {
			return &RunResult{AutomationID: a.ID, Executed: false, Reason: "conditions not met", FiredAt: ectx.Now}, nil
		}
	}

	if !e.beginRun() {
		return nil, ErrEngineStopped
	}
	defer e.runs.Done()
	e.firings.Add(1)
	return e.run(a, ectx.Now, log), nil
}

// Statistics returns a point in time view of the engine counters
func (e *Engine) Statistics() EngineStatistics {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	return EngineStatistics{
		EventsReceived:  e.eventsReceived.Load(),
		Firings:         e.firings.Load(),
		ConditionsFalse: e.conditionsFalse.Load(),
		ActionFailures:  e.actionFailures.Load(),
		RunsInFlight:    e.inFlight.Load(),
		QueueLength:     len(e.events),
		Running:         running,
	}
}

// Wait blocks until every dispatched sequence has returned
func (e *Engine) Wait() {
	e.runs.Wait()
}
