package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSceneEngine(t *testing.T, ctrl DeviceController, cfg EngineConfig) (*Engine, *rules.Store) {
	t.Helper()
	store := newTestStore(t)
	engine := NewEngine(cfg, store, ctrl, staticStates{}, &staticPresence{}, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return engine, store
}

func TestSceneController_Activate(t *testing.T) {
	ctrl := newRecordingController()
	ctrl.failFor["light.broken"] = true
	engine, store := newSceneEngine(t, ctrl, DefaultEngineConfig())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name: "Evening",
		Actions: []rules.SceneAction{
			{EntityID: "light.a", Type: rules.ActionTurnOn},
			{EntityID: "light.broken", Type: rules.ActionTurnOn},
			{EntityID: "light.b", Type: rules.ActionSetBrightness, Value: rules.Brightness(50)},
		},
	})
	require.NoError(t, err)

	result, err := engine.Scenes().Activate(ctx, scene.ID)
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 3)
	assert.Equal(t, 1, result.Failures)

	got, err := store.Scene(scene.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.LastTriggered)
	assert.Equal(t, SceneActive, engine.Scenes().State(scene.ID))

	_, err = engine.Scenes().Deactivate(ctx, scene.ID)
	require.NoError(t, err)
	got, _ = store.Scene(scene.ID)
	assert.False(t, got.IsActive)
	assert.Len(t, ctrl.records(), 3, "deactivation sends no commands")
}

func TestSceneController_DeletedSceneNotFound(t *testing.T) {
	ctrl := newRecordingController()
	engine, store := newSceneEngine(t, ctrl, DefaultEngineConfig())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name:    "Gone",
		Actions: []rules.SceneAction{{EntityID: "light.a", Type: rules.ActionTurnOn}},
	})
	require.NoError(t, err)
	_, err = store.DeleteScene(ctx, scene.ID)
	require.NoError(t, err)

	_, err = engine.Scenes().Activate(ctx, scene.ID)
	var nf *rules.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, ctrl.records())
}

func TestSceneController_NestedActivation(t *testing.T) {
	ctrl := newRecordingController()
	engine, store := newSceneEngine(t, ctrl, DefaultEngineConfig())
	ctx := context.Background()

	inner, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name:    "Inner",
		Actions: []rules.SceneAction{{EntityID: "light.inner", Type: rules.ActionTurnOn}},
	})
	require.NoError(t, err)

	outer, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name: "Outer",
		Actions: []rules.SceneAction{
			{EntityID: "light.outer", Type: rules.ActionTurnOn},
			{EntityID: inner.ID, Type: rules.ActionActivateScene},
		},
	})
	require.NoError(t, err)

	result, err := engine.Scenes().Activate(ctx, outer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, []string{"light.outer", "light.inner"}, ctrl.entities())

	got, _ := store.Scene(inner.ID)
	assert.True(t, got.IsActive)
}

func TestSceneController_RecursionIsBounded(t *testing.T) {
	ctrl := newRecordingController()
	engine, store := newSceneEngine(t, ctrl, DefaultEngineConfig())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{Name: "Loop"})
	require.NoError(t, err)
	_, err = store.ReplaceSceneActions(ctx, scene.ID, []rules.SceneAction{
		{EntityID: "light.loop", Type: rules.ActionTurnOn},
		{EntityID: scene.ID, Type: rules.ActionActivateScene},
	})
	require.NoError(t, err)

	result, err := engine.Scenes().Activate(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failures)
	assert.Len(t, ctrl.records(), maxSceneDepth)
}

func TestSceneController_SingleFlight(t *testing.T) {
	ctrl := newRecordingController()
	ctrl.latency = 200 * time.Millisecond
	cfg := DefaultEngineConfig()
	cfg.SingleFlightScenes = true
	engine, store := newSceneEngine(t, ctrl, cfg)
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name:    "Slow",
		Actions: []rules.SceneAction{{EntityID: "light.slow", Type: rules.ActionTurnOn}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*ActivationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				time.Sleep(50 * time.Millisecond)
			}
			results[i], errs[i] = engine.Scenes().Activate(ctx, scene.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1], "second caller shares the running activation")
	assert.Len(t, results[1].Outcomes, 1)
	assert.Len(t, ctrl.records(), 1)

	// once the first run is over a new call runs again
	_, err = engine.Scenes().Activate(ctx, scene.ID)
	require.NoError(t, err)
	assert.Len(t, ctrl.records(), 2)
}

func TestSceneController_SingleFlightNestedSelfActivation(t *testing.T) {
	ctrl := newRecordingController()
	cfg := DefaultEngineConfig()
	cfg.SingleFlightScenes = true
	engine, store := newSceneEngine(t, ctrl, cfg)
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{Name: "Loop"})
	require.NoError(t, err)
	_, err = store.ReplaceSceneActions(ctx, scene.ID, []rules.SceneAction{
		{EntityID: "light.loop", Type: rules.ActionTurnOn},
		{EntityID: scene.ID, Type: rules.ActionActivateScene},
	})
	require.NoError(t, err)

	result, err := engine.Scenes().Activate(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failures)
	assert.Len(t, ctrl.records(), maxSceneDepth)
}

func TestSceneController_PermissiveByDefault(t *testing.T) {
	ctrl := newRecordingController()
	ctrl.latency = 50 * time.Millisecond
	engine, store := newSceneEngine(t, ctrl, DefaultEngineConfig())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, rules.SceneInput{
		Name:    "Twice",
		Actions: []rules.SceneAction{{EntityID: "light.x", Type: rules.ActionTurnOn}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Scenes().Activate(ctx, scene.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, ctrl.records(), 2)
}
