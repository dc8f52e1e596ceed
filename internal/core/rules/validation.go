package rules

import (
	"fmt"
	"strings"
	"time"
)

// ParseClock parses a strict "HH:MM" wall clock time and returns the minute
// of the day
func ParseClock(s string) (int, error) {
	if len(s) != 5 {
		return 0, fmt.Errorf("time %q must be formatted as HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("time %q must be formatted as HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func validateActions(ve *ValidationError, field string, actions []SceneAction) {
	for i, a := range actions {
		f := fmt.Sprintf("%s[%d]", field, i)
		if !a.Type.Valid() {
			ve.add(f+".type", "unsupported action type %q", a.Type)
			continue
		}
		if strings.TrimSpace(a.EntityID) == "" {
			ve.add(f+".entityId", "entity id is required")
		}
		if a.Delay < 0 {
			ve.add(f+".delay", "delay must not be negative")
		}
		if err := validateActionValue(a.Type, a.Value); err != nil {
			ve.add(f+".value", "%s", err.Error())
		}
	}
}

func validateTriggers(ve *ValidationError, triggers []AutomationTrigger) {
	if len(triggers) == 0 {
		ve.add("triggers", "at least one trigger is required")
		return
	}
	for i, t := range triggers {
		f := fmt.Sprintf("triggers[%d]", i)
		switch t.Type {
		case TriggerTime:
			if _, err := ParseClock(t.Config.Time); err != nil {
				ve.add(f+".config.time", "%s", err.Error())
			}
		case TriggerSunrise, TriggerSunset:
			if off := t.Config.OffsetMinutes(); off < -720 || off > 720 {
				ve.add(f+".config.offset", "offset must be within +/-720 minutes")
			}
		case TriggerDeviceState, TriggerMotionDetected:
			if strings.TrimSpace(t.Config.EntityID) == "" {
				ve.add(f+".config.entityId", "entity id is required")
			}
		default:
			ve.add(f+".type", "unsupported trigger type %q", t.Type)
		}
	}
}

func validateConditions(ve *ValidationError, conditions []AutomationCondition) {
	for i, c := range conditions {
		f := fmt.Sprintf("conditions[%d]", i)
		switch c.Type {
		case ConditionTimeBetween:
			if _, err := ParseClock(c.Config.StartTime); err != nil {
				ve.add(f+".config.startTime", "%s", err.Error())
			}
			if _, err := ParseClock(c.Config.EndTime); err != nil {
				ve.add(f+".config.endTime", "%s", err.Error())
			}
		case ConditionAnyoneHome:
		case ConditionDeviceState:
			if strings.TrimSpace(c.Config.EntityID) == "" {
				ve.add(f+".config.entityId", "entity id is required")
			}
			if c.Config.State == nil {
				ve.add(f+".config.state", "expected state is required")
			}
		default:
			ve.add(f+".type", "unsupported condition type %q", c.Type)
		}
	}
}

// ValidateScene checks a fully assembled scene
func ValidateScene(s *Scene) error {
	ve := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		ve.add("name", "name is required")
	}
	validateActions(ve, "actions", s.Actions)
	return ve.orNil()
}

// ValidateAutomation checks a fully assembled automation
func ValidateAutomation(a *Automation) error {
	ve := &ValidationError{}
	if strings.TrimSpace(a.Name) == "" {
		ve.add("name", "name is required")
	}
	validateTriggers(ve, a.Triggers)
	validateConditions(ve, a.Conditions)
	validateActions(ve, "actions", a.Actions)
	return ve.orNil()
}

// ValidateActions checks a standalone action sequence
func ValidateActions(actions []SceneAction) error {
	ve := &ValidationError{}
	validateActions(ve, "actions", actions)
	return ve.orNil()
}
