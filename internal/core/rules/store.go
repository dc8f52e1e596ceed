package rules

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ChangeKind describes a committed rule set mutation
type ChangeKind string

const (
	ChangeLoaded            ChangeKind = "rules_loaded"
	ChangeSceneCreated      ChangeKind = "scene_created"
	ChangeSceneUpdated      ChangeKind = "scene_updated"
	ChangeSceneDeleted      ChangeKind = "scene_deleted"
	ChangeSceneActivated    ChangeKind = "scene_activated"
	ChangeSceneDeactivated  ChangeKind = "scene_deactivated"
	ChangeAutomationCreated ChangeKind = "automation_created"
	ChangeAutomationUpdated ChangeKind = "automation_updated"
	ChangeAutomationDeleted ChangeKind = "automation_deleted"
	ChangeAutomationToggled ChangeKind = "automation_toggled"
	ChangeAutomationFired   ChangeKind = "automation_fired"
)

// Change is delivered to listeners after every committed mutation
type Change struct {
	Kind    ChangeKind
	ID      string
	Version uint64
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithIDGenerator overrides the UUIDv7 generator
func WithIDGenerator(ids IDGenerator) StoreOption {
	return func(s *Store) { s.ids = ids }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithDefaults overrides the rule set used when nothing is stored
func WithDefaults(fn func(ids IDGenerator, now time.Time) *Snapshot) StoreOption {
	return func(s *Store) { s.defaults = fn }
}

// WriteObserver is invoked with the operation name and the persistence
// outcome of every committed write
type WriteObserver func(op string, persisted bool)

// WithWriteObserver sets a write observer
func WithWriteObserver(fn WriteObserver) StoreOption {
	return func(s *Store) { s.observer = fn }
}

// Store is the single source of truth for scenes and automations.
//
// Readers load the current snapshot without locking. Writers are serialized
// by mu, build a new snapshot from a copy of the current one, publish it
// atomically and then persist it. A failed persistence write does not roll
// back the published snapshot; the caller receives a *PersistenceError with
// the committed snapshot.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	backend   Persistence
	ids       IDGenerator
	now       func() time.Time
	defaults  func(ids IDGenerator, now time.Time) *Snapshot
	observer  WriteObserver
	logger    *logrus.Logger
	listeners []func(Change)
	lmu       sync.RWMutex
}

// NewStore creates a store seeded with the default rule set. Call Load to
// read the persisted rules.
func NewStore(backend Persistence, logger *logrus.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		backend:  backend,
		ids:      UUIDGenerator{},
		now:      time.Now,
		defaults: DefaultRules,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	initial := s.defaults(s.ids, s.now())
	initial.Version = 1
	s.current.Store(initial)
	return s
}

// Load replaces the rule set with the persisted one. A missing key or a blob
// that cannot be decoded falls back to the defaults; a read failure does too
// and is returned as a *PersistenceError.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	var (
		snap   *Snapshot
		result error
	)

	data, err := s.backend.Get(ctx, StorageKey)
	switch {
	case err != nil:
		s.logger.WithError(err).Warn("Failed to read stored rules, using defaults")
		result = &PersistenceError{Op: "read", Err: err}
		snap = s.defaults(s.ids, s.now())
	case len(data) == 0:
		s.logger.Info("No stored rules found, using defaults")
		snap = s.defaults(s.ids, s.now())
	default:
		decoded, decErr := DecodeSnapshot(data)
		if decErr != nil {
			s.logger.WithError(decErr).Warn("Stored rules are corrupt, using defaults")
			snap = s.defaults(s.ids, s.now())
		} else {
			normalize(decoded, s.ids, s.now(), "system")
			snap = decoded
		}
	}

	snap.Version = s.current.Load().Version + 1
	s.current.Store(snap)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"scenes":      len(snap.Scenes),
		"automations": len(snap.Automations),
	}).Info("Rules loaded")
	s.notify(Change{Kind: ChangeLoaded, Version: snap.Version})
	return result
}

// Snapshot returns a deep copy of the current rule set
func (s *Store) Snapshot() Snapshot {
	return s.current.Load().Clone()
}

// Version returns the version of the current snapshot
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}

// Scene returns a copy of one scene
func (s *Store) Scene(id string) (Scene, error) {
	sc, ok := s.current.Load().Scene(id)
	if !ok {
		return Scene{}, &NotFoundError{Kind: KindScene, ID: id}
	}
	return sc.DeepCopy(), nil
}

// Automation returns a copy of one automation
func (s *Store) Automation(id string) (Automation, error) {
	a, ok := s.current.Load().Automation(id)
	if !ok {
		return Automation{}, &NotFoundError{Kind: KindAutomation, ID: id}
	}
	return a.DeepCopy(), nil
}

// EnabledAutomations returns copies of all enabled automations
func (s *Store) EnabledAutomations() []Automation {
	snap := s.current.Load()
	out := snap.EnabledAutomations()
	for i := range out {
		out[i] = out[i].DeepCopy()
	}
	return out
}

// OnChange registers a listener called after every committed mutation.
// Listeners run synchronously on the writer goroutine and must not block.
func (s *Store) OnChange(fn func(Change)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(ch Change) {
	s.lmu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.lmu.RUnlock()

	for _, fn := range listeners {
		fn(ch)
	}
}

// mutate runs fn against a private copy of the current snapshot and commits
// the result when fn succeeds
func (s *Store) mutate(ctx context.Context, op string, kind ChangeKind, fn func(next *Snapshot) (string, error)) (Snapshot, error) {
	s.mu.Lock()

	cur := s.current.Load()
	next := cur.Clone()
	id, err := fn(&next)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	next.Version = cur.Version + 1
	committed := next
	s.current.Store(&committed)

	var result error
	data, encErr := EncodeSnapshot(&committed)
	if encErr == nil {
		// the change is already committed; a departing caller must not abort its write
		encErr = s.backend.Put(context.WithoutCancel(ctx), StorageKey, data)
	}
	if encErr != nil {
		result = &PersistenceError{Op: op, Err: encErr}
		s.logger.WithError(encErr).WithField("op", op).Warn("Rule change committed but not persisted")
	}
	if s.observer != nil {
		s.observer(op, encErr == nil)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: kind, ID: id, Version: committed.Version})
	return committed.Clone(), result
}

func findScene(snap *Snapshot, id string) (int, error) {
	for i := range snap.Scenes {
		if snap.Scenes[i].ID == id {
			return i, nil
		}
	}
	return -1, &NotFoundError{Kind: KindScene, ID: id}
}

func findAutomation(snap *Snapshot, id string) (int, error) {
	for i := range snap.Automations {
		if snap.Automations[i].ID == id {
			return i, nil
		}
	}
	return -1, &NotFoundError{Kind: KindAutomation, ID: id}
}

// CreateScene validates and adds a scene, returning it with its new id
func (s *Store) CreateScene(ctx context.Context, in SceneInput) (Scene, Snapshot, error) {
	var created Scene
	snap, err := s.mutate(ctx, "create_scene", ChangeSceneCreated, func(next *Snapshot) (string, error) {
		createdBy := strings.TrimSpace(in.CreatedBy)
		if createdBy == "" {
			createdBy = "user"
		}
		sc := Scene{
			ID:          s.ids.NewID(prefixScene),
			Name:        strings.TrimSpace(in.Name),
			Icon:        in.Icon,
			Color:       in.Color,
			Description: copyString(in.Description),
			RoomID:      copyString(in.RoomID),
			Actions:     assignActionIDs(s.ids, in.Actions, true),
			CreatedBy:   createdBy,
			CreatedAt:   s.now(),
		}
		if err := ValidateScene(&sc); err != nil {
			return "", err
		}
		next.Scenes = append(next.Scenes, sc)
		created = sc.DeepCopy()
		return sc.ID, nil
	})
	return created, snap, err
}

// UpdateScene applies a partial update
func (s *Store) UpdateScene(ctx context.Context, id string, patch ScenePatch) (Snapshot, error) {
	return s.mutate(ctx, "update_scene", ChangeSceneUpdated, func(next *Snapshot) (string, error) {
		i, err := findScene(next, id)
		if err != nil {
			return "", err
		}
		sc := next.Scenes[i]
		if patch.Name != nil {
			sc.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Icon != nil {
			sc.Icon = *patch.Icon
		}
		if patch.Color != nil {
			sc.Color = *patch.Color
		}
		if patch.Description != nil {
			sc.Description = copyString(patch.Description)
		}
		if patch.RoomID != nil {
			sc.RoomID = copyString(patch.RoomID)
		}
		if patch.Actions != nil {
			sc.Actions = assignActionIDs(s.ids, *patch.Actions, true)
		}
		if err := ValidateScene(&sc); err != nil {
			return "", err
		}
		next.Scenes[i] = sc
		return id, nil
	})
}

// ReplaceSceneActions swaps the whole action sequence of a scene. Every new
// action gets a fresh id.
func (s *Store) ReplaceSceneActions(ctx context.Context, id string, actions []SceneAction) (Snapshot, error) {
	return s.UpdateScene(ctx, id, ScenePatch{Actions: &actions})
}

// DeleteScene removes a scene
func (s *Store) DeleteScene(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "delete_scene", ChangeSceneDeleted, func(next *Snapshot) (string, error) {
		i, err := findScene(next, id)
		if err != nil {
			return "", err
		}
		next.Scenes = append(next.Scenes[:i], next.Scenes[i+1:]...)
		return id, nil
	})
}

// MarkSceneActive flags a scene active and stamps lastTriggered. It returns
// the scene as committed so callers run exactly the actions that were
// current at activation time.
func (s *Store) MarkSceneActive(ctx context.Context, id string, at time.Time) (Scene, error) {
	var scene Scene
	_, err := s.mutate(ctx, "activate_scene", ChangeSceneActivated, func(next *Snapshot) (string, error) {
		i, err := findScene(next, id)
		if err != nil {
			return "", err
		}
		ts := at
		next.Scenes[i].IsActive = true
		next.Scenes[i].LastTriggered = &ts
		scene = next.Scenes[i].DeepCopy()
		return id, nil
	})
	if err != nil && !IsPersistenceWarning(err) {
		return Scene{}, err
	}
	return scene, err
}

// MarkSceneInactive clears the active flag
func (s *Store) MarkSceneInactive(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "deactivate_scene", ChangeSceneDeactivated, func(next *Snapshot) (string, error) {
		i, err := findScene(next, id)
		if err != nil {
			return "", err
		}
		next.Scenes[i].IsActive = false
		return id, nil
	})
}

// CreateAutomation validates and adds an automation
func (s *Store) CreateAutomation(ctx context.Context, in AutomationInput) (Automation, Snapshot, error) {
	var created Automation
	snap, err := s.mutate(ctx, "create_automation", ChangeAutomationCreated, func(next *Snapshot) (string, error) {
		enabled := true
		if in.Enabled != nil {
			enabled = *in.Enabled
		}
		createdBy := strings.TrimSpace(in.CreatedBy)
		if createdBy == "" {
			createdBy = "user"
		}
		a := Automation{
			ID:          s.ids.NewID(prefixAutomation),
			Name:        strings.TrimSpace(in.Name),
			Description: copyString(in.Description),
			Icon:        in.Icon,
			Color:       in.Color,
			Enabled:     enabled,
			Triggers:    assignTriggerIDs(s.ids, in.Triggers, true),
			Conditions:  assignConditionIDs(s.ids, in.Conditions, true),
			Actions:     assignActionIDs(s.ids, in.Actions, true),
			CreatedBy:   createdBy,
			CreatedAt:   s.now(),
		}
		if err := ValidateAutomation(&a); err != nil {
			return "", err
		}
		next.Automations = append(next.Automations, a)
		created = a.DeepCopy()
		return a.ID, nil
	})
	return created, snap, err
}

// UpdateAutomation applies a partial update
func (s *Store) UpdateAutomation(ctx context.Context, id string, patch AutomationPatch) (Snapshot, error) {
	return s.mutate(ctx, "update_automation", ChangeAutomationUpdated, func(next *Snapshot) (string, error) {
		i, err := findAutomation(next, id)
		if err != nil {
			return "", err
		}
		a := next.Automations[i]
		if patch.Name != nil {
			a.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			a.Description = copyString(patch.Description)
		}
		if patch.Icon != nil {
			a.Icon = *patch.Icon
		}
		if patch.Color != nil {
			a.Color = *patch.Color
		}
		if patch.Enabled != nil {
			a.Enabled = *patch.Enabled
		}
		if patch.Triggers != nil {
			a.Triggers = assignTriggerIDs(s.ids, *patch.Triggers, true)
		}
		if patch.Conditions != nil {
			a.Conditions = assignConditionIDs(s.ids, *patch.Conditions, true)
		}
		if patch.Actions != nil {
			a.Actions = assignActionIDs(s.ids, *patch.Actions, true)
		}
		if err := ValidateAutomation(&a); err != nil {
			return "", err
		}
		next.Automations[i] = a
		return id, nil
	})
}

// DeleteAutomation removes an automation
func (s *Store) DeleteAutomation(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "delete_automation", ChangeAutomationDeleted, func(next *Snapshot) (string, error) {
		i, err := findAutomation(next, id)
		if err != nil {
			return "", err
		}
		next.Automations = append(next.Automations[:i], next.Automations[i+1:]...)
		return id, nil
	})
}

// ToggleAutomation flips the enabled flag
func (s *Store) ToggleAutomation(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "toggle_automation", ChangeAutomationToggled, func(next *Snapshot) (string, error) {
		i, err := findAutomation(next, id)
		if err != nil {
			return "", err
		}
		next.Automations[i].Enabled = !next.Automations[i].Enabled
		return id, nil
	})
}

// RecordAutomationFired increments triggerCount and stamps lastTriggered as
// one atomic update
func (s *Store) RecordAutomationFired(ctx context.Context, id string, at time.Time) (Snapshot, error) {
	return s.mutate(ctx, "record_fired", ChangeAutomationFired, func(next *Snapshot) (string, error) {
		i, err := findAutomation(next, id)
		if err != nil {
			return "", err
		}
		ts := at
		next.Automations[i].TriggerCount++
		next.Automations[i].LastTriggered = &ts
		return id, nil
	})
}
