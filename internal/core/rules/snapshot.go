package rules

// Snapshot is an immutable view of the whole rule set. Values handed out by
// the Store are deep copies and may be modified freely by the caller.
type Snapshot struct {
	Version     uint64       `json:"-" yaml:"-"`
	Scenes      []Scene      `json:"scenes"`
	Automations []Automation `json:"automations"`
}

// Scene looks up a scene by id
func (s *Snapshot) Scene(id string) (Scene, bool) {
	for _, sc := range s.Scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scene{}, false
}

// Automation looks up an automation by id
func (s *Snapshot) Automation(id string) (Automation, bool) {
	for _, a := range s.Automations {
		if a.ID == id {
			return a, true
		}
	}
	return Automation{}, false
}

// EnabledAutomations returns the automations that may fire
func (s *Snapshot) EnabledAutomations() []Automation {
	out := make([]Automation, 0, len(s.Automations))
	for _, a := range s.Automations {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() Snapshot {
	out := Snapshot{
		Version:     s.Version,
		Scenes:      make([]Scene, len(s.Scenes)),
		Automations: make([]Automation, len(s.Automations)),
	}
	for i := range s.Scenes {
		out.Scenes[i] = s.Scenes[i].DeepCopy()
	}
	for i := range s.Automations {
		out.Automations[i] = s.Automations[i].DeepCopy()
	}
	return out
}

// DeepCopy returns a copy sharing no mutable state with s
func (s Scene) DeepCopy() Scene {
	out := s
	out.Description = copyString(s.Description)
	out.RoomID = copyString(s.RoomID)
	out.Actions = copyActions(s.Actions)
	if s.LastTriggered != nil {
		t := *s.LastTriggered
		out.LastTriggered = &t
	}
	return out
}

// DeepCopy returns a copy sharing no mutable state with a
func (a Automation) DeepCopy() Automation {
	out := a
	out.Description = copyString(a.Description)
	out.Actions = copyActions(a.Actions)

	out.Triggers = make([]AutomationTrigger, len(a.Triggers))
	for i, t := range a.Triggers {
		t.Config.State = copyString(t.Config.State)
		if t.Config.Offset != nil {
			off := *t.Config.Offset
			t.Config.Offset = &off
		}
		out.Triggers[i] = t
	}

	out.Conditions = make([]AutomationCondition, len(a.Conditions))
	for i, c := range a.Conditions {
		c.Config.State = copyString(c.Config.State)
		out.Conditions[i] = c
	}

	if a.LastTriggered != nil {
		t := *a.LastTriggered
		out.LastTriggered = &t
	}
	return out
}

func copyActions(in []SceneAction) []SceneAction {
	out := make([]SceneAction, len(in))
	copy(out, in)
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
