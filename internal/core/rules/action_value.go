package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ActionValue is the typed payload of a SceneAction. The concrete type is
// determined by the action type: Brightness for set_brightness, Color for
// set_color, Temperature for set_temperature and FanMode for set_fan_mode.
type ActionValue interface {
	// ForType returns the action type this value belongs to
	ForType() ActionType
	// Raw returns the scalar sent to devices
	Raw() interface{}
}

// Brightness is a percentage in 0..100
type Brightness int

// Color is a device color string, e.g. "#ffaa00" or "warm_white"
type Color string

// Temperature is a thermostat setpoint
type Temperature float64

// FanMode is a named fan mode, e.g. "auto"
type FanMode string

func (Brightness) ForType() ActionType  { return ActionSetBrightness }
func (Color) ForType() ActionType       { return ActionSetColor }
func (Temperature) ForType() ActionType { return ActionSetTemperature }
func (FanMode) ForType() ActionType     { return ActionSetFanMode }

func (b Brightness) Raw() interface{}  { return int(b) }
func (c Color) Raw() interface{}       { return string(c) }
func (t Temperature) Raw() interface{} { return float64(t) }
func (f FanMode) Raw() interface{}     { return string(f) }

// DecodeActionValue decodes a raw JSON scalar according to the action type.
// Action types without a payload yield a nil value whatever raw holds.
func DecodeActionValue(t ActionType, raw json.RawMessage) (ActionValue, error) {
	if !t.RequiresValue() {
		return nil, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch t {
	case ActionSetBrightness:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("brightness must be a number: %w", err)
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("brightness must be an integer, got %v", f)
		}
		return Brightness(int(f)), nil
	case ActionSetColor:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("color must be a string: %w", err)
		}
		return Color(s), nil
	case ActionSetTemperature:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("temperature must be a number: %w", err)
		}
		return Temperature(f), nil
	case ActionSetFanMode:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("fan mode must be a string: %w", err)
		}
		return FanMode(s), nil
	}

	return nil, fmt.Errorf("unsupported action type %q", t)
}

// validateActionValue checks that v is present and well formed for t
func validateActionValue(t ActionType, v ActionValue) error {
	if !t.RequiresValue() {
		return nil
	}
	if v == nil {
		return fmt.Errorf("value is required for %s", t)
	}
	if v.ForType() != t {
		return fmt.Errorf("value of kind %s does not match action type %s", v.ForType(), t)
	}

	switch val := v.(type) {
	case Brightness:
		if val < 0 || val > 100 {
			return fmt.Errorf("brightness must be between 0 and 100, got %d", int(val))
		}
	case Temperature:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return fmt.Errorf("temperature must be a finite number")
		}
	case FanMode:
		if strings.TrimSpace(string(val)) == "" {
			return fmt.Errorf("fan mode must not be empty")
		}
	case Color:
		if strings.TrimSpace(string(val)) == "" {
			return fmt.Errorf("color must not be empty")
		}
	}
	return nil
}

type sceneActionJSON struct {
	ID       string          `json:"id"`
	EntityID string          `json:"entityId"`
	Type     ActionType      `json:"type"`
	Value    json.RawMessage `json:"value,omitempty"`
	Delay    int64           `json:"delay,omitempty"`
}

// MarshalJSON writes the value as a flat scalar
func (a SceneAction) MarshalJSON() ([]byte, error) {
	out := sceneActionJSON{
		ID:       a.ID,
		EntityID: a.EntityID,
		Type:     a.Type,
		Delay:    a.Delay,
	}
	if a.Value != nil {
		raw, err := json.Marshal(a.Value.Raw())
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat scalar value into its typed form
func (a *SceneAction) UnmarshalJSON(data []byte) error {
	var in sceneActionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	value, err := DecodeActionValue(in.Type, in.Value)
	if err != nil {
		return &ValidationError{Errors: []FieldError{{Field: "value", Message: err.Error()}}}
	}

	*a = SceneAction{
		ID:       in.ID,
		EntityID: in.EntityID,
		Type:     in.Type,
		Value:    value,
		Delay:    in.Delay,
	}
	return nil
}
