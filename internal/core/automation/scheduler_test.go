package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Submit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestSolarCalculator_DueSolarEvents(t *testing.T) {
	calc := NewSolarCalculator(52.52, 13.405, time.UTC)
	day := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
	_, sunset := calc.Times(day)
	require.False(t, sunset.IsZero())

	autos := []rules.Automation{
		automationWith("on-time", true, rules.AutomationTrigger{Type: rules.TriggerSunset}),
		automationWith("early", true, rules.AutomationTrigger{Type: rules.TriggerSunset, Config: rules.TriggerConfig{Offset: intPtr(-30)}}),
		automationWith("disabled", false, rules.AutomationTrigger{Type: rules.TriggerSunset, Config: rules.TriggerConfig{Offset: intPtr(10)}}),
	}

	atSunset := sunset.Truncate(time.Minute)
	due := calc.DueSolarEvents(atSunset, autos)
	require.Len(t, due, 1)
	assert.Equal(t, Sunset, due[0].Kind)
	assert.Equal(t, 0, due[0].Offset)

	due = calc.DueSolarEvents(sunset.Add(-30*time.Minute).Truncate(time.Minute), autos)
	require.Len(t, due, 1)
	assert.Equal(t, -30, due[0].Offset)

	assert.Empty(t, calc.DueSolarEvents(sunset.Add(10*time.Minute).Truncate(time.Minute), autos))
	assert.Empty(t, calc.DueSolarEvents(day.Add(-6*time.Hour), autos))
}

func TestSolarCalculator_PolarNight(t *testing.T) {
	calc := NewSolarCalculator(78.22, 15.65, time.UTC)
	rise, set := calc.Times(time.Date(2024, 12, 21, 12, 0, 0, 0, time.UTC))
	assert.True(t, rise.IsZero())
	assert.True(t, set.IsZero())

	autos := []rules.Automation{automationWith("a", true, rules.AutomationTrigger{Type: rules.TriggerSunrise})}
	assert.Empty(t, calc.DueSolarEvents(time.Date(2024, 12, 21, 12, 0, 0, 0, time.UTC), autos))
}

func TestScheduler_TickEmitsClockAndSolar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.CreateAutomation(ctx, rules.AutomationInput{
		Name:     "Sunset",
		Triggers: []rules.AutomationTrigger{{Type: rules.TriggerSunset}},
	})
	require.NoError(t, err)

	calc := NewSolarCalculator(52.52, 13.405, time.UTC)
	_, sunset := calc.Times(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))

	sink := &collectingSink{}
	sched := NewScheduler(sink, store, calc, time.UTC, quietLogger())
	sched.now = func() time.Time { return sunset.Add(15 * time.Second) }
	sched.Tick()

	require.Len(t, sink.events, 2)
	tick, ok := sink.events[0].(ClockTick)
	require.True(t, ok)
	assert.Equal(t, 0, tick.Time.Second())
	solar, ok := sink.events[1].(SolarEvent)
	require.True(t, ok)
	assert.Equal(t, Sunset, solar.Kind)
}

func TestScheduler_StartStop(t *testing.T) {
	sched := NewScheduler(&collectingSink{}, nil, nil, time.UTC, quietLogger())
	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
	sched.Stop()
}

func TestScheduler_TickUsesLocation(t *testing.T) {
	loc := time.FixedZone("CET", 60*60)
	sink := &collectingSink{}
	sched := NewScheduler(sink, nil, nil, loc, quietLogger())
	sched.Tick()

	require.Len(t, sink.events, 1)
	tick, ok := sink.events[0].(ClockTick)
	require.True(t, ok)
	assert.Equal(t, loc, tick.Time.Location())
}
