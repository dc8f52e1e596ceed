package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/nathan-osman/go-sunrise"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SolarCalculator computes daily sunrise and sunset times for a location
type SolarCalculator struct {
	latitude  float64
	longitude float64
	location  *time.Location

	mu    sync.Mutex
	cache map[string][2]time.Time
}

// NewSolarCalculator creates a calculator for the given coordinates
func NewSolarCalculator(latitude, longitude float64, location *time.Location) *SolarCalculator {
	if location == nil {
		location = time.Local
	}
	return &SolarCalculator{
		latitude:  latitude,
		longitude: longitude,
		location:  location,
		cache:     make(map[string][2]time.Time),
	}
}

// Times returns sunrise and sunset for the local day containing t. A zero
// time means the event does not happen that day (polar day or night).
func (s *SolarCalculator) Times(t time.Time) (time.Time, time.Time) {
	local := t.In(s.location)
	key := local.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if times, ok := s.cache[key]; ok {
		return times[0], times[1]
	}
	if len(s.cache) > 8 {
		s.cache = make(map[string][2]time.Time)
	}
	rise, set := sunrise.SunriseSunset(s.latitude, s.longitude, local.Year(), local.Month(), local.Day())
	s.cache[key] = [2]time.Time{rise, set}
	return rise, set
}

// solarOffset is one (kind, offset) pair some trigger listens for
type solarOffset struct {
	kind   SolarKind
	offset int
}

// DueSolarEvents returns the solar events whose shifted time falls in the
// same minute as now, one per distinct (kind, offset) among the enabled
// automations
func (s *SolarCalculator) DueSolarEvents(now time.Time, automations []rules.Automation) []SolarEvent {
	wanted := make(map[solarOffset]struct{})
	for _, a := range automations {
		if !a.Enabled {
			continue
		}
		for _, t := range a.Triggers {
			if !t.Type.IsSolar() {
				continue
			}
			kind := Sunrise
			if t.Type == rules.TriggerSunset {
				kind = Sunset
			}
			wanted[solarOffset{kind, t.Config.OffsetMinutes()}] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	nowMinute := minuteKey(now)
	var due []SolarEvent
	// Offsets may push the event into the previous or next day
	for _, dayShift := range []int{-1, 0, 1} {
		rise, set := s.Times(now.AddDate(0, 0, dayShift))
		for w := range wanted {
			base := rise
			if w.kind == Sunset {
				base = set
			}
			if base.IsZero() {
				continue
			}
			if minuteKey(base.Add(time.Duration(w.offset)*time.Minute)) == nowMinute {
				due = append(due, SolarEvent{Kind: w.kind, Offset: w.offset, Time: now})
			}
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Kind != due[j].Kind {
			return due[i].Kind < due[j].Kind
		}
		return due[i].Offset < due[j].Offset
	})
	return due
}

// EventSink accepts events produced by the scheduler
type EventSink interface {
	Submit(ctx context.Context, event Event) error
}

// Scheduler emits a ClockTick at the top of every minute and the solar
// events due in that minute
type Scheduler struct {
	cron   *cron.Cron
	sink   EventSink
	store  *rules.Store
	solar  *SolarCalculator
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
}

// NewScheduler creates a scheduler. solar may be nil to disable solar events.
func NewScheduler(sink EventSink, store *rules.Store, solar *SolarCalculator, location *time.Location, logger *logrus.Logger) *Scheduler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = logrus.New()
	}
	cronLogger := cron.VerbosePrintfLogger(logger.WithField("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
		sink:   sink,
		store:  store,
		solar:  solar,
		logger: logger,
		now:    func() time.Time { return time.Now().In(location) },
		ctx:    context.Background(),
	}
}

// Start begins emitting events
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx = ctx
	if _, err := s.cron.AddFunc("* * * * *", s.Tick); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started")
	return nil
}

// Stop halts the cron and waits for a running tick
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// a running Tick takes mu, so wait outside the lock
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Tick emits the events for the current minute
func (s *Scheduler) Tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	now := s.now().Truncate(time.Minute)
	for _, ev := range s.EventsAt(now) {
		if err := s.sink.Submit(ctx, ev); err != nil {
			s.logger.WithError(err).WithField("event", ev.Type()).Warn("Failed to submit scheduled event")
		}
	}
}

// EventsAt returns the events the scheduler emits for minute now
func (s *Scheduler) EventsAt(now time.Time) []Event {
	events := []Event{ClockTick{Time: now}}
	if s.solar == nil || s.store == nil {
		return events
	}
	for _, ev := range s.solar.DueSolarEvents(now, s.store.EnabledAutomations()) {
		s.logger.WithFields(logrus.Fields{"kind": ev.Kind, "offset": ev.Offset}).Info("Solar event")
		events = append(events, ev)
	}
	return events
}
