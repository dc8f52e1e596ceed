package automation

import (
	"time"
)

// EventType names an inbound event kind
type EventType string

const (
	EventClockTick   EventType = "clock_tick"
	EventSolar       EventType = "solar_event"
	EventStateChange EventType = "state_change"
)

// Event is an inbound signal that may fire automations
type Event interface {
	Type() EventType
	OccurredAt() time.Time
}

// ClockTick is emitted once per wall clock minute
type ClockTick struct {
	Time time.Time
}

func (ClockTick) Type() EventType          { return EventClockTick }
func (e ClockTick) OccurredAt() time.Time { return e.Time }

// SolarKind is sunrise or sunset
type SolarKind string

const (
	Sunrise SolarKind = "sunrise"
	Sunset  SolarKind = "sunset"
)

// SolarEvent is emitted at a solar event shifted by Offset minutes. Time is
// the moment the event was emitted.
type SolarEvent struct {
	Kind   SolarKind
	Offset int
	Time   time.Time
}

func (SolarEvent) Type() EventType          { return EventSolar }
func (e SolarEvent) OccurredAt() time.Time { return e.Time }

// StateChange reports a device state transition
type StateChange struct {
	EntityID string
	OldValue string
	NewValue string
	Time     time.Time
}

func (StateChange) Type() EventType          { return EventStateChange }
func (e StateChange) OccurredAt() time.Time { return e.Time }

// inLocation returns event with its timestamp expressed in loc, so wall
// clock triggers compare against the configured zone
func inLocation(event Event, loc *time.Location) Event {
	if loc == nil {
		return event
	}
	switch e := event.(type) {
	case ClockTick:
		e.Time = e.Time.In(loc)
		return e
	case SolarEvent:
		e.Time = e.Time.In(loc)
		return e
	case StateChange:
		e.Time = e.Time.In(loc)
		return e
	}
	return event
}
