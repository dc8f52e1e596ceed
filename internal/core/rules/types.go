package rules

import (
	"time"
)

// ActionType identifies the device command a SceneAction issues
type ActionType string

const (
	ActionTurnOn         ActionType = "turn_on"
	ActionTurnOff        ActionType = "turn_off"
	ActionSetBrightness  ActionType = "set_brightness"
	ActionSetColor       ActionType = "set_color"
	ActionSetTemperature ActionType = "set_temperature"
	ActionSetFanMode     ActionType = "set_fan_mode"
	ActionActivateScene  ActionType = "activate_scene"
)

// AllActionTypes returns every supported action type
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionTurnOn,
		ActionTurnOff,
		ActionSetBrightness,
		ActionSetColor,
		ActionSetTemperature,
		ActionSetFanMode,
		ActionActivateScene,
	}
}

// RequiresValue reports whether the action type carries a payload
func (t ActionType) RequiresValue() bool {
	switch t {
	case ActionSetBrightness, ActionSetColor, ActionSetTemperature, ActionSetFanMode:
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known action type
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// TriggerType identifies what kind of inbound event fires a trigger
type TriggerType string

const (
	TriggerTime           TriggerType = "time"
	TriggerSunrise        TriggerType = "sunrise"
	TriggerSunset         TriggerType = "sunset"
	TriggerDeviceState    TriggerType = "device_state"
	TriggerMotionDetected TriggerType = "motion_detected"
)

// IsSolar reports whether the trigger follows the sun
func (t TriggerType) IsSolar() bool {
	return t == TriggerSunrise || t == TriggerSunset
}

// ConditionType identifies a condition gate
type ConditionType string

const (
	ConditionTimeBetween ConditionType = "time_between"
	ConditionAnyoneHome  ConditionType = "anyone_home"
	ConditionDeviceState ConditionType = "device_state"
)

// SceneAction is a single device command inside a scene or automation.
// Delay is the number of milliseconds to wait after the previous action
// in the sequence completes.
type SceneAction struct {
	ID       string      `json:"id"`
	EntityID string      `json:"entityId"`
	Type     ActionType  `json:"type"`
	Value    ActionValue `json:"value,omitempty"`
	Delay    int64       `json:"delay,omitempty"`
}

// DelayDuration returns Delay as a time.Duration
func (a SceneAction) DelayDuration() time.Duration {
	if a.Delay <= 0 {
		return 0
	}
	return time.Duration(a.Delay) * time.Millisecond
}

// TriggerConfig holds the type specific trigger settings.
//
//   - time:                   Time ("HH:MM")
//   - sunrise / sunset:       Offset in minutes, negative = before the event
//   - device_state / motion:  EntityID and optional State
type TriggerConfig struct {
	Time     string  `json:"time,omitempty"`
	Offset   *int    `json:"offset,omitempty"`
	EntityID string  `json:"entityId,omitempty"`
	State    *string `json:"state,omitempty"`
}

// OffsetMinutes returns the solar offset, 0 when unset
func (c TriggerConfig) OffsetMinutes() int {
	if c.Offset == nil {
		return 0
	}
	return *c.Offset
}

// AutomationTrigger fires an automation when a matching event arrives
type AutomationTrigger struct {
	ID     string        `json:"id"`
	Type   TriggerType   `json:"type"`
	Config TriggerConfig `json:"config"`
}

// ConditionConfig holds the type specific condition settings
type ConditionConfig struct {
	StartTime string  `json:"startTime,omitempty"`
	EndTime   string  `json:"endTime,omitempty"`
	EntityID  string  `json:"entityId,omitempty"`
	State     *string `json:"state,omitempty"`
}

// AutomationCondition gates an automation at fire time
type AutomationCondition struct {
	ID     string          `json:"id"`
	Type   ConditionType   `json:"type"`
	Config ConditionConfig `json:"config"`
}

// Scene is a named, user-triggered bundle of ordered device actions
type Scene struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Icon          string        `json:"icon"`
	Color         string        `json:"color"`
	Description   *string       `json:"description,omitempty"`
	RoomID        *string       `json:"roomId,omitempty"`
	Actions       []SceneAction `json:"actions"`
	IsActive      bool          `json:"isActive"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastTriggered *time.Time    `json:"lastTriggered,omitempty"`
}

// Automation is a rule of triggers (OR), conditions (AND) and ordered actions
type Automation struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   *string               `json:"description,omitempty"`
	Icon          string                `json:"icon"`
	Color         string                `json:"color"`
	Enabled       bool                  `json:"enabled"`
	Triggers      []AutomationTrigger   `json:"triggers"`
	Conditions    []AutomationCondition `json:"conditions"`
	Actions       []SceneAction         `json:"actions"`
	TriggerCount  int64                 `json:"triggerCount"`
	LastTriggered *time.Time            `json:"lastTriggered,omitempty"`
	CreatedBy     string                `json:"createdBy"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// SceneInput carries the caller supplied fields of a new scene
type SceneInput struct {
	Name        string        `json:"name"`
	Icon        string        `json:"icon"`
	Color       string        `json:"color"`
	Description *string       `json:"description,omitempty"`
	RoomID      *string       `json:"roomId,omitempty"`
	Actions     []SceneAction `json:"actions"`
	CreatedBy   string        `json:"createdBy"`
}

// ScenePatch is a partial scene update. Nil fields are left untouched.
// Setting Actions replaces the whole sequence and regenerates action ids.
type ScenePatch struct {
	Name        *string        `json:"name,omitempty"`
	Icon        *string        `json:"icon,omitempty"`
	Color       *string        `json:"color,omitempty"`
	Description *string        `json:"description,omitempty"`
	RoomID      *string        `json:"roomId,omitempty"`
	Actions     *[]SceneAction `json:"actions,omitempty"`
}

// AutomationInput carries the caller supplied fields of a new automation.
// Enabled defaults to true when omitted.
type AutomationInput struct {
	Name        string                `json:"name"`
	Description *string               `json:"description,omitempty"`
	Icon        string                `json:"icon"`
	Color       string                `json:"color"`
	Enabled     *bool                 `json:"enabled,omitempty"`
	Triggers    []AutomationTrigger   `json:"triggers"`
	Conditions  []AutomationCondition `json:"conditions"`
	Actions     []SceneAction         `json:"actions"`
	CreatedBy   string                `json:"createdBy"`
}

// AutomationPatch is a partial automation update. Replacing Triggers,
// Conditions or Actions regenerates the ids of the replaced elements.
type AutomationPatch struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Icon        *string                `json:"icon,omitempty"`
	Color       *string                `json:"color,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
	Triggers    *[]AutomationTrigger   `json:"triggers,omitempty"`
	Conditions  *[]AutomationCondition `json:"conditions,omitempty"`
	Actions     *[]SceneAction         `json:"actions,omitempty"`
}
