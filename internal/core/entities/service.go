package entities

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/database/models"
	"github.com/frostdev-ops/pma-rules/internal/database/repositories"
	"github.com/sirupsen/logrus"
)

// Change describes a state transition of one entity
type Change struct {
	EntityID string
	OldValue string
	NewValue string
	Source   string
	Time     time.Time
}

// PresenceConfig decides the anyone_home flag
type PresenceConfig struct {
	Entities   []string
	HomeStates []string
	// Override forces the flag when non-nil
	Override *bool
}

// Service holds the latest known state of every entity. States are kept in
// memory, mirrored to the repository when one is configured, and every
// change is fanned out to listeners.
type Service struct {
	repo    repositories.EntityStateRepository
	logger  *logrus.Logger
	metrics *metrics.Collector

	mu        sync.RWMutex
	states    map[string]*models.EntityState
	presence  PresenceConfig
	listeners []func(Change)
}

// NewService creates a new entity service. repo may be nil.
func NewService(repo repositories.EntityStateRepository, presence PresenceConfig, logger *logrus.Logger, m *metrics.Collector) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if len(presence.HomeStates) == 0 {
		presence.HomeStates = []string{"home", "on"}
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		metrics:  m,
		states:   make(map[string]*models.EntityState),
		presence: presence,
	}
}

// Restore loads mirrored states. Listeners are not notified.
func (s *Service) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	states, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore entity states: %w", err)
	}

	s.mu.Lock()
	for _, st := range states {
		s.states[st.EntityID] = st
	}
	s.mu.Unlock()

	s.logger.WithField("entities", len(states)).Info("Entity states restored")
	return nil
}

// OnChange registers a listener called for every state transition
func (s *Service) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// UpdateState records a reported state. It returns whether the state
// changed; listeners are only notified on change.
func (s *Service) UpdateState(ctx context.Context, entityID, state, source string) (bool, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return false, fmt.Errorf("entity id is required")
	}

	now := time.Now().UTC()

	s.mu.Lock()
	prev, existed := s.states[entityID]
	old := ""
	if existed {
		old = prev.State
	}
	changed := !existed || old != state
	next := &models.EntityState{EntityID: entityID, State: state, Source: source, LastUpdated: now}
	s.states[entityID] = next
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.metrics.DeviceStateUpdated(source, changed)

	if s.repo != nil {
		mirror := *next
		if err := s.repo.Upsert(ctx, &mirror); err != nil {
			s.logger.WithError(err).WithField("entity_id", entityID).Warn("Failed to mirror entity state")
		}
	}

	if !changed {
		return false, nil
	}

	s.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"old_state": old,
		"new_state": state,
		"source":    source,
	}).Debug("Entity state changed")

	ch := Change{EntityID: entityID, OldValue: old, NewValue: state, Source: source, Time: now}
	for _, fn := range listeners {
		fn(ch)
	}
	return true, nil
}

// CurrentState returns the latest state of an entity
func (s *Service) CurrentState(entityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[entityID]
	if !ok {
		return "", false
	}
	return st.State, true
}

// GetAll returns every known entity state ordered by id
func (s *Service) GetAll() []models.EntityState {
	s.mu.RLock()
	out := make([]models.EntityState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// AnyoneHome reports presence from the override or the presence entities
func (s *Service) AnyoneHome() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.presence.Override != nil {
		return *s.presence.Override
	}
	for _, id := range s.presence.Entities {
		st, ok := s.states[id]
		if !ok {
			continue
		}
		for _, home := range s.presence.HomeStates {
			if strings.EqualFold(st.State, home) {
				return true
			}
		}
	}
	return false
}

// SetPresenceOverride forces presence, or follows the entities again when
// override is nil
func (s *Service) SetPresenceOverride(override *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if override == nil {
		s.presence.Override = nil
		return
	}
	v := *override
	s.presence.Override = &v
}

// PresenceOverride returns the current override, nil when following entities
func (s *Service) PresenceOverride() *bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.presence.Override == nil {
		return nil
	}
	v := *s.presence.Override
	return &v
}
