package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, g.n.Add(1))
}

func emptyDefaults(IDGenerator, time.Time) *Snapshot {
	return &Snapshot{Scenes: []Scene{}, Automations: []Automation{}}
}

func newTestStore(t *testing.T, backend Persistence) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(backend, logger,
		WithIDGenerator(&seqIDs{}),
		WithDefaults(emptyDefaults),
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func validAutomationInput() AutomationInput {
	return AutomationInput{
		Name:     "Evening",
		Triggers: []AutomationTrigger{{Type: TriggerTime, Config: TriggerConfig{Time: "19:00"}}},
		Actions:  []SceneAction{{EntityID: "light.a", Type: ActionTurnOn}},
	}
}

func TestStore_CreateSceneRoundTrip(t *testing.T) {
	backend := NewMemoryPersistence()
	store := newTestStore(t, backend)
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, SceneInput{
		Name: "Relax",
		Actions: []SceneAction{
			{EntityID: "light.a", Type: ActionSetBrightness, Value: Brightness(40)},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, scene.ID)
	assert.NotEmpty(t, scene.Actions[0].ID)
	assert.Equal(t, "user", scene.CreatedBy)

	// A fresh store over the same backend sees the same rule set
	reloaded := newTestStore(t, backend)
	require.NoError(t, reloaded.Load(ctx))

	got, err := reloaded.Scene(scene.ID)
	require.NoError(t, err)
	assert.Equal(t, "Relax", got.Name)
	assert.Equal(t, Brightness(40), got.Actions[0].Value)
}

func TestStore_ValidationLeavesRulesUnchanged(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()
	before := store.Version()

	tests := []struct {
		name  string
		input SceneInput
	}{
		{"blank name", SceneInput{Name: "  "}},
		{"brightness out of range", SceneInput{Name: "x", Actions: []SceneAction{{EntityID: "l", Type: ActionSetBrightness, Value: Brightness(101)}}}},
		{"missing value", SceneInput{Name: "x", Actions: []SceneAction{{EntityID: "l", Type: ActionSetColor}}}},
		{"unknown action", SceneInput{Name: "x", Actions: []SceneAction{{EntityID: "l", Type: "explode"}}}},
		{"missing entity", SceneInput{Name: "x", Actions: []SceneAction{{Type: ActionTurnOn}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := store.CreateScene(ctx, tt.input)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
		})
	}

	assert.Equal(t, before, store.Version())
	snap := store.Snapshot()
	assert.Empty(t, snap.Scenes)
}

func TestStore_AutomationRequiresTrigger(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	in := validAutomationInput()
	in.Triggers = nil

	_, _, err := store.CreateAutomation(context.Background(), in)
	assert.True(t, IsValidation(err))
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()

	_, err := store.DeleteScene(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = store.ToggleAutomation(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = store.MarkSceneActive(ctx, "missing", time.Now())
	assert.True(t, IsNotFound(err))
}

func TestStore_PersistenceFailureDoesNotRollBack(t *testing.T) {
	backend := NewMemoryPersistence()
	store := newTestStore(t, backend)
	ctx := context.Background()

	backend.SetPutError(errors.New("disk full"))
	scene, snap, err := store.CreateScene(ctx, SceneInput{Name: "Kept"})

	require.Error(t, err)
	assert.True(t, IsPersistenceWarning(err))
	_, ok := snap.Scene(scene.ID)
	assert.True(t, ok)

	_, err = store.Scene(scene.ID)
	assert.NoError(t, err)
}

// ctxPersistence fails writes whose context is already done, like a SQL driver
type ctxPersistence struct {
	*MemoryPersistence
}

func (p ctxPersistence) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.MemoryPersistence.Put(ctx, key, value)
}

func TestStore_CancelledCallerStillPersists(t *testing.T) {
	backend := ctxPersistence{NewMemoryPersistence()}
	store := newTestStore(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scene, _, err := store.CreateScene(ctx, SceneInput{Name: "Left behind"})
	require.NoError(t, err)

	data, err := backend.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	persisted, err := DecodeSnapshot(data)
	require.NoError(t, err)
	_, ok := persisted.Scene(scene.ID)
	assert.True(t, ok)
}

func TestStore_CorruptBlobFallsBackToDefaults(t *testing.T) {
	backend := NewMemoryPersistence()
	require.NoError(t, backend.Put(context.Background(), StorageKey, []byte("{not json")))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := NewStore(backend, logger)
	require.NoError(t, store.Load(context.Background()))

	snap := store.Snapshot()
	assert.NotEmpty(t, snap.Scenes)
	assert.NotEmpty(t, snap.Automations)
}

func TestStore_ReplaceActionsRegeneratesIDs(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, SceneInput{
		Name:    "S",
		Actions: []SceneAction{{EntityID: "a", Type: ActionTurnOn}},
	})
	require.NoError(t, err)
	oldID := scene.Actions[0].ID

	_, err = store.ReplaceSceneActions(ctx, scene.ID, []SceneAction{
		{ID: oldID, EntityID: "a", Type: ActionTurnOff},
		{EntityID: "b", Type: ActionTurnOff, Delay: 100},
	})
	require.NoError(t, err)

	got, err := store.Scene(scene.ID)
	require.NoError(t, err)
	require.Len(t, got.Actions, 2)
	assert.NotEqual(t, oldID, got.Actions[0].ID)
	assert.NotEqual(t, got.Actions[0].ID, got.Actions[1].ID)
}

func TestStore_UpdateAutomationPatch(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()

	a, _, err := store.CreateAutomation(ctx, validAutomationInput())
	require.NoError(t, err)
	assert.True(t, a.Enabled)

	name := "Renamed"
	disabled := false
	_, err = store.UpdateAutomation(ctx, a.ID, AutomationPatch{Name: &name, Enabled: &disabled})
	require.NoError(t, err)

	got, err := store.Automation(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.Enabled)
	assert.Equal(t, a.Triggers, got.Triggers)

	_, err = store.ToggleAutomation(ctx, a.ID)
	require.NoError(t, err)
	got, _ = store.Automation(a.ID)
	assert.True(t, got.Enabled)
}

func TestStore_RecordAutomationFiredIsAtomic(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()

	a, _, err := store.CreateAutomation(ctx, validAutomationInput())
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordAutomationFired(ctx, a.ID, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Automation(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TriggerCount)
	assert.NotNil(t, got.LastTriggered)
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	ctx := context.Background()

	scene, _, err := store.CreateScene(ctx, SceneInput{Name: "Original"})
	require.NoError(t, err)

	snap := store.Snapshot()
	snap.Scenes[0].Name = "Mutated"

	got, err := store.Scene(scene.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Name)
}

func TestStore_ChangeListener(t *testing.T) {
	store := newTestStore(t, NewMemoryPersistence())
	var kinds []ChangeKind
	store.OnChange(func(ch Change) { kinds = append(kinds, ch.Kind) })

	ctx := context.Background()
	scene, _, err := store.CreateScene(ctx, SceneInput{Name: "A"})
	require.NoError(t, err)
	_, err = store.MarkSceneActive(ctx, scene.ID, time.Now())
	require.NoError(t, err)
	_, err = store.MarkSceneInactive(ctx, scene.ID)
	require.NoError(t, err)

	assert.Equal(t, []ChangeKind{ChangeSceneCreated, ChangeSceneActivated, ChangeSceneDeactivated}, kinds)
}

func TestSceneAction_JSONValue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ActionValue
		wantErr bool
	}{
		{"brightness", `{"entityId":"l","type":"set_brightness","value":55}`, Brightness(55), false},
		{"color", `{"entityId":"l","type":"set_color","value":"#ff0000"}`, Color("#ff0000"), false},
		{"temperature", `{"entityId":"t","type":"set_temperature","value":21.5}`, Temperature(21.5), false},
		{"fan mode", `{"entityId":"f","type":"set_fan_mode","value":"auto"}`, FanMode("auto"), false},
		{"value ignored for turn_on", `{"entityId":"l","type":"turn_on","value":5}`, nil, false},
		{"fractional brightness", `{"entityId":"l","type":"set_brightness","value":5.5}`, nil, true},
		{"string brightness", `{"entityId":"l","type":"set_brightness","value":"bright"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a SceneAction
			err := json.Unmarshal([]byte(tt.input), &a)
			if tt.wantErr {
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Value)
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:30", 390, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"7:00", 0, true},
		{"07:60", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	snap := DefaultRules(&seqIDs{}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	out, err := EncodeYAML(snap)
	require.NoError(t, err)

	decoded, err := DecodeYAML(out)
	require.NoError(t, err)
	require.Len(t, decoded.Scenes, len(snap.Scenes))
	assert.Equal(t, snap.Scenes[0].Actions, decoded.Scenes[0].Actions)
	assert.Equal(t, snap.Automations[0].Triggers[0].Config.OffsetMinutes(), decoded.Automations[0].Triggers[0].Config.OffsetMinutes())
}

func TestUUIDGenerator_Ordered(t *testing.T) {
	gen := UUIDGenerator{}
	a := gen.NewID("scene")
	b := gen.NewID("scene")
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestLoadSeedFile(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	snap, err := LoadSeedFile("../../../configs/rules.example.yaml", &seqIDs{}, now)
	require.NoError(t, err)
	require.Len(t, snap.Scenes, 2)
	require.Len(t, snap.Automations, 4)

	night, ok := snap.Scene("scene_good_night")
	require.True(t, ok, "explicit ids are kept")
	assert.Equal(t, "seed", night.CreatedBy)
	assert.Equal(t, Temperature(18.5), night.Actions[1].Value)

	porch := snap.Automations[0]
	assert.True(t, porch.Enabled)
	assert.Equal(t, -15, porch.Triggers[0].Config.OffsetMinutes())
	assert.NotEmpty(t, porch.Triggers[0].ID)
	assert.False(t, snap.Automations[3].Enabled)

	bad := t.TempDir() + "/bad.yaml"
	require.NoError(t, os.WriteFile(bad, []byte("scenes:\n  - name: \"\"\n    actions: []\n"), 0o644))
	_, err = LoadSeedFile(bad, &seqIDs{}, now)
	assert.True(t, IsValidation(err))

	_, err = LoadSeedFile(t.TempDir()+"/missing.yaml", &seqIDs{}, now)
	assert.Error(t, err)
}
