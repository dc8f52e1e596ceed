package websocket

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message types for WebSocket communication
const (
	MessageTypeConnection        = "connection"
	MessageTypeHeartbeat         = "heartbeat"
	MessageTypePong              = "pong"
	MessageTypeSubscriptionState = "subscription_update"

	MessageTypeAutomationTriggered = "automation_triggered"
	MessageTypeSceneActivated      = "scene_activated"
	MessageTypeSceneDeactivated    = "scene_deactivated"
	MessageTypeRulesUpdated        = "rules_updated"
	MessageTypeEntityStateChanged  = "entity_state_changed"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// UnmarshalJSON accepts RFC3339 timestamps as well as unix seconds or
// milliseconds, as a number or a string. A missing timestamp becomes now.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data"`
		Timestamp json.RawMessage        `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.Data = raw.Data
	m.Timestamp = parseTimestamp(raw.Timestamp)
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 1e11 seconds is the year 5138, anything above is milliseconds
		if n > 1e11 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	return time.Now().UTC()
}

// EntityStateChangedMessage creates a message for entity state changes
func EntityStateChangedMessage(entityID, oldState, newState, source string) Message {
	return Message{
		Type: MessageTypeEntityStateChanged,
		Data: map[string]interface{}{
			"entity_id": entityID,
			"old_state": oldState,
			"new_state": newState,
			"source":    source,
		},
	}
}

// RulesUpdatedMessage creates a message for rule set changes
func RulesUpdatedMessage(kind, id string, version uint64) Message {
	return Message{
		Type: MessageTypeRulesUpdated,
		Data: map[string]interface{}{
			"kind":    kind,
			"id":      id,
			"version": version,
		},
	}
}
