package automation

import (
	"sync"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
)

// Match is an automation selected by an event, with the trigger that fired
type Match struct {
	Automation rules.Automation
	TriggerID  string
}

// TriggerMatcher selects the enabled automations an event fires. It
// remembers the last minute each time trigger fired so duplicate clock
// ticks within one minute fire it only once.
type TriggerMatcher struct {
	mu        sync.Mutex
	lastFired map[string]int64
}

// NewTriggerMatcher creates a matcher
func NewTriggerMatcher() *TriggerMatcher {
	return &TriggerMatcher{lastFired: make(map[string]int64)}
}

// Match returns the automations among candidates that the event fires.
// Disabled automations are skipped. Triggers of one automation are ORed;
// an automation appears at most once per event.
func (m *TriggerMatcher) Match(event Event, candidates []rules.Automation) []Match {
	var matches []Match

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := event.(ClockTick); ok {
		m.prune(candidates)
	}

	for _, a := range candidates {
		if !a.Enabled {
			continue
		}
		for _, t := range a.Triggers {
			if m.triggerMatches(t, event) {
				matches = append(matches, Match{Automation: a, TriggerID: t.ID})
				break
			}
		}
	}
	return matches
}

func (m *TriggerMatcher) triggerMatches(t rules.AutomationTrigger, event Event) bool {
	switch e := event.(type) {
	case ClockTick:
		if t.Type != rules.TriggerTime {
			return false
		}
		minute, err := rules.ParseClock(t.Config.Time)
		if err != nil {
			return false
		}
		if e.Time.Hour()*60+e.Time.Minute() != minute {
			return false
		}
		key := minuteKey(e.Time)
		if last, ok := m.lastFired[t.ID]; ok && last == key {
			return false
		}
		m.lastFired[t.ID] = key
		return true

	case SolarEvent:
		switch t.Type {
		case rules.TriggerSunrise:
			return e.Kind == Sunrise && t.Config.OffsetMinutes() == e.Offset
		case rules.TriggerSunset:
			return e.Kind == Sunset && t.Config.OffsetMinutes() == e.Offset
		}
		return false

	case StateChange:
		if t.Config.EntityID != e.EntityID {
			return false
		}
		switch t.Type {
		case rules.TriggerDeviceState:
			if t.Config.State == nil {
				return e.OldValue != e.NewValue
			}
			return e.NewValue == *t.Config.State
		case rules.TriggerMotionDetected:
			if e.OldValue == e.NewValue {
				return false
			}
			if t.Config.State != nil {
				return e.NewValue == *t.Config.State
			}
			return e.NewValue == "on" || e.NewValue == "detected"
		}
	}
	return false
}

// prune drops memory for triggers that no longer exist
func (m *TriggerMatcher) prune(candidates []rules.Automation) {
	if len(m.lastFired) == 0 {
		return
	}
	live := make(map[string]struct{})
	for _, a := range candidates {
		for _, t := range a.Triggers {
			live[t.ID] = struct{}{}
		}
	}
	for id := range m.lastFired {
		if _, ok := live[id]; !ok {
			delete(m.lastFired, id)
		}
	}
}

func minuteKey(t time.Time) int64 {
	return t.Unix() / 60
}
