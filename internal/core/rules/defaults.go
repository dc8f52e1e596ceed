package rules

import (
	"fmt"
	"os"
	"time"
)

// DefaultRules returns the built-in rule set used on first start and
// whenever the stored rules cannot be read
func DefaultRules(ids IDGenerator, now time.Time) *Snapshot {
	sunsetOffset := -15
	home := "home"

	scenes := []Scene{
		{
			Name:  "Good Morning",
			Icon:  "sunny",
			Color: "#f5a623",
			Actions: []SceneAction{
				{EntityID: "light.kitchen", Type: ActionTurnOn},
				{EntityID: "light.kitchen", Type: ActionSetBrightness, Value: Brightness(80), Delay: 500},
				{EntityID: "climate.living_room", Type: ActionSetTemperature, Value: Temperature(21)},
			},
		},
		{
			Name:  "Movie Night",
			Icon:  "movie",
			Color: "#4a4aff",
			Actions: []SceneAction{
				{EntityID: "light.living_room", Type: ActionSetBrightness, Value: Brightness(15)},
				{EntityID: "light.living_room", Type: ActionSetColor, Value: Color("warm_white"), Delay: 250},
				{EntityID: "light.hallway", Type: ActionTurnOff},
			},
		},
		{
			Name:  "Good Night",
			Icon:  "bedtime",
			Color: "#2c3e50",
			Actions: []SceneAction{
				{EntityID: "light.living_room", Type: ActionTurnOff},
				{EntityID: "light.kitchen", Type: ActionTurnOff},
				{EntityID: "climate.living_room", Type: ActionSetFanMode, Value: FanMode("auto"), Delay: 1000},
			},
		},
	}

	automations := []Automation{
		{
			Name:    "Lights at sunset",
			Icon:    "wb_twilight",
			Color:   "#e67e22",
			Enabled: true,
			Triggers: []AutomationTrigger{
				{Type: TriggerSunset, Config: TriggerConfig{Offset: &sunsetOffset}},
			},
			Conditions: []AutomationCondition{
				{Type: ConditionAnyoneHome},
			},
			Actions: []SceneAction{
				{EntityID: "light.living_room", Type: ActionTurnOn},
			},
		},
		{
			Name:    "Hallway motion at night",
			Icon:    "directions_walk",
			Color:   "#8e44ad",
			Enabled: false,
			Triggers: []AutomationTrigger{
				{Type: TriggerMotionDetected, Config: TriggerConfig{EntityID: "binary_sensor.hallway_motion"}},
			},
			Conditions: []AutomationCondition{
				{Type: ConditionTimeBetween, Config: ConditionConfig{StartTime: "22:00", EndTime: "06:00"}},
				{Type: ConditionDeviceState, Config: ConditionConfig{EntityID: "person.owner", State: &home}},
			},
			Actions: []SceneAction{
				{EntityID: "light.hallway", Type: ActionSetBrightness, Value: Brightness(20)},
			},
		},
	}

	snap := &Snapshot{Scenes: scenes, Automations: automations}
	normalize(snap, ids, now, "system")
	return snap
}

// LoadSeedFile reads a YAML rule set used in place of DefaultRules
func LoadSeedFile(path string, ids IDGenerator, now time.Time) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	snap, err := DecodeYAML(data)
	if err != nil {
		return nil, err
	}
	normalize(snap, ids, now, "seed")
	for i := range snap.Scenes {
		if err := ValidateScene(&snap.Scenes[i]); err != nil {
			return nil, fmt.Errorf("seed scene %q: %w", snap.Scenes[i].Name, err)
		}
	}
	for i := range snap.Automations {
		if err := ValidateAutomation(&snap.Automations[i]); err != nil {
			return nil, fmt.Errorf("seed automation %q: %w", snap.Automations[i].Name, err)
		}
	}
	return snap, nil
}

// normalize fills in ids, creation metadata and nil slices
func normalize(s *Snapshot, ids IDGenerator, now time.Time, createdBy string) {
	if s.Scenes == nil {
		s.Scenes = []Scene{}
	}
	if s.Automations == nil {
		s.Automations = []Automation{}
	}

	for i := range s.Scenes {
		sc := &s.Scenes[i]
		if sc.ID == "" {
			sc.ID = ids.NewID(prefixScene)
		}
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = now
		}
		if sc.CreatedBy == "" {
			sc.CreatedBy = createdBy
		}
		sc.Actions = assignActionIDs(ids, sc.Actions, false)
	}

	for i := range s.Automations {
		a := &s.Automations[i]
		if a.ID == "" {
			a.ID = ids.NewID(prefixAutomation)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.CreatedBy == "" {
			a.CreatedBy = createdBy
		}
		a.Actions = assignActionIDs(ids, a.Actions, false)
		a.Triggers = assignTriggerIDs(ids, a.Triggers, false)
		a.Conditions = assignConditionIDs(ids, a.Conditions, false)
	}
}

// The assign helpers copy the input and mint ids; with regenerate set every
// element gets a fresh id, otherwise only blank ones do.

func assignActionIDs(ids IDGenerator, in []SceneAction, regenerate bool) []SceneAction {
	out := make([]SceneAction, len(in))
	for i, a := range in {
		if regenerate || a.ID == "" {
			a.ID = ids.NewID(prefixAction)
		}
		if !a.Type.RequiresValue() {
			a.Value = nil
		}
		out[i] = a
	}
	return out
}

func assignTriggerIDs(ids IDGenerator, in []AutomationTrigger, regenerate bool) []AutomationTrigger {
	out := make([]AutomationTrigger, len(in))
	for i, t := range in {
		if regenerate || t.ID == "" {
			t.ID = ids.NewID(prefixTrigger)
		}
		out[i] = t
	}
	return out
}

func assignConditionIDs(ids IDGenerator, in []AutomationCondition, regenerate bool) []AutomationCondition {
	out := make([]AutomationCondition, len(in))
	for i, c := range in {
		if regenerate || c.ID == "" {
			c.ID = ids.NewID(prefixCondition)
		}
		out[i] = c
	}
	return out
}
