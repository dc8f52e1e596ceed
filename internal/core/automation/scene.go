package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// maxSceneDepth bounds activate_scene recursion
const maxSceneDepth = 4

type depthKey struct{}

func sceneDepth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// Notifier receives engine events for live clients
type Notifier interface {
	Publish(eventType string, data map[string]interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, map[string]interface{}) {}

// SceneState is the runtime lifecycle state of a scene
type SceneState string

const (
	SceneInactive   SceneState = "inactive"
	SceneActivating SceneState = "activating"
	SceneActive     SceneState = "active"
)

// ActivationResult is returned once a scene's sequence has run
type ActivationResult struct {
	SceneID     string          `json:"sceneId"`
	Outcomes    []ActionOutcome `json:"outcomes"`
	Failures    int             `json:"failures"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// SceneController activates and deactivates scenes
type SceneController struct {
	store        *rules.Store
	executor     *Executor
	notifier     Notifier
	logger       *logrus.Logger
	metrics      *metrics.Collector
	now          func() time.Time
	singleFlight bool
	group        singleflight.Group

	mu         sync.Mutex
	activating map[string]int
}

// SceneOption configures a SceneController
type SceneOption func(*SceneController)

// WithSingleFlight rejects an activation while the same scene is running
func WithSingleFlight(enabled bool) SceneOption {
	return func(c *SceneController) { c.singleFlight = enabled }
}

// WithSceneNotifier publishes activation events
func WithSceneNotifier(n Notifier) SceneOption {
	return func(c *SceneController) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithSceneMetrics records activations
func WithSceneMetrics(m *metrics.Collector) SceneOption {
	return func(c *SceneController) { c.metrics = m }
}

// NewSceneController creates a controller over store and executor
func NewSceneController(store *rules.Store, executor *Executor, logger *logrus.Logger, opts ...SceneOption) *SceneController {
	if logger == nil {
		logger = logrus.New()
	}
	c := &SceneController{
		store:      store,
		executor:   executor,
		notifier:   nopNotifier{},
		logger:     logger,
		now:        time.Now,
		activating: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate marks the scene active, runs its action sequence and returns the
// outcomes. The caller's ctx only bounds the lookup; once the scene is
// marked active its sequence runs to completion.
func (c *SceneController) Activate(ctx context.Context, sceneID string) (*ActivationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Nested activations run inside a shared sequence and would wait on themselves
	if !c.singleFlight || sceneDepth(ctx) > 0 {
		return c.activate(ctx, sceneID)
	}

	// Concurrent callers for the same scene share the running activation's result
	v, err, _ := c.group.Do(sceneID, func() (interface{}, error) {
		return c.activate(ctx, sceneID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ActivationResult), nil
}

func (c *SceneController) activate(ctx context.Context, sceneID string) (*ActivationResult, error) {
	depth := sceneDepth(ctx)
	if depth >= maxSceneDepth {
		return nil, fmt.Errorf("%w: %s", ErrNestingTooDeep, sceneID)
	}

	started := c.now()
	scene, err := c.store.MarkSceneActive(context.WithoutCancel(ctx), sceneID, started)
	var warnings []string
	if err != nil {
		if !rules.IsPersistenceWarning(err) {
			return nil, err
		}
		warnings = append(warnings, err.Error())
	}

	c.track(sceneID, 1)
	defer c.track(sceneID, -1)

	log := c.logger.WithFields(logrus.Fields{"scene_id": scene.ID, "scene": scene.Name, "depth": depth})
	log.Info("Activating scene")
	c.metrics.SceneActivated()

	runCtx := context.WithValue(c.executor.lifetime, depthKey{}, depth+1)
	outcomes := c.executor.execute(runCtx, scene.Actions, "scene:"+scene.ID)

	result := &ActivationResult{
		SceneID:     scene.ID,
		Outcomes:    outcomes,
		Failures:    CountFailures(outcomes),
		StartedAt:   started,
		CompletedAt: c.now(),
		Warnings:    warnings,
	}

	log.WithFields(logrus.Fields{
		"actions":  len(outcomes),
		"failures": result.Failures,
	}).Info("Scene activated")

	c.notifier.Publish("scene_activated", map[string]interface{}{
		"scene_id": scene.ID,
		"name":     scene.Name,
		"failures": result.Failures,
		"outcomes": outcomes,
	})
	return result, nil
}

// Deactivate clears the active flag. No device commands are sent.
func (c *SceneController) Deactivate(ctx context.Context, sceneID string) (rules.Snapshot, error) {
	snap, err := c.store.MarkSceneInactive(ctx, sceneID)
	if err != nil && !rules.IsPersistenceWarning(err) {
		return rules.Snapshot{}, err
	}
	c.logger.WithField("scene_id", sceneID).Info("Scene deactivated")
	c.notifier.Publish("scene_deactivated", map[string]interface{}{"scene_id": sceneID})
	return snap, err
}

// State returns the runtime state of a scene
func (c *SceneController) State(sceneID string) SceneState {
	c.mu.Lock()
	running := c.activating[sceneID] > 0
	c.mu.Unlock()
	if running {
		return SceneActivating
	}
	sc, err := c.store.Scene(sceneID)
	if err == nil && sc.IsActive {
		return SceneActive
	}
	return SceneInactive
}

func (c *SceneController) track(sceneID string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activating[sceneID] += delta
	if c.activating[sceneID] <= 0 {
		delete(c.activating, sceneID)
	}
}

// SceneRouter sends activate_scene actions to a SceneController and every
// other command to the wrapped device controller
type SceneRouter struct {
	next   DeviceController
	scenes *SceneController
}

// NewSceneRouter wraps next. Call Bind once the SceneController exists.
func NewSceneRouter(next DeviceController) *SceneRouter {
	return &SceneRouter{next: next}
}

// Bind attaches the scene controller
func (r *SceneRouter) Bind(scenes *SceneController) {
	r.scenes = scenes
}

func (r *SceneRouter) Dispatch(ctx context.Context, cmd Command) error {
	if cmd.Action != rules.ActionActivateScene {
		return r.next.Dispatch(ctx, cmd)
	}
	if r.scenes == nil {
		return fmt.Errorf("scene activation is not available")
	}
	result, err := r.scenes.activate(ctx, cmd.EntityID)
	if err != nil {
		return err
	}
	if result.Failures > 0 {
		return fmt.Errorf("nested scene %s: %d of %d actions failed", cmd.EntityID, result.Failures, len(result.Outcomes))
	}
	return nil
}
