package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/automation"
)

const (
	commandSegment = "command"
	stateSegment   = "state"
)

// CommandPayload is the JSON body published for every device command
type CommandPayload struct {
	CommandID string      `json:"command_id"`
	EntityID  string      `json:"entity_id"`
	Action    string      `json:"action"`
	Value     interface{} `json:"value,omitempty"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// CommandTopic returns the topic commands for entityID are published on
func CommandTopic(prefix, entityID string) string {
	return joinTopic(prefix, commandSegment, entityID)
}

// StateSubscription returns the wildcard topic device state is reported on
func StateSubscription(prefix string) string {
	return joinTopic(prefix, stateSegment, "+")
}

// EntityFromStateTopic extracts the entity id from a state topic
func EntityFromStateTopic(prefix, topic string) (string, bool) {
	base := joinTopic(prefix, stateSegment, "")
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	entityID := strings.TrimPrefix(topic, base)
	if entityID == "" || strings.Contains(entityID, "/") {
		return "", false
	}
	return entityID, true
}

func joinTopic(prefix string, parts ...string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// EncodeCommand builds the JSON payload for cmd
func EncodeCommand(cmd automation.Command, at time.Time) ([]byte, error) {
	return json.Marshal(CommandPayload{
		CommandID: cmd.CommandID,
		EntityID:  cmd.EntityID,
		Action:    string(cmd.Action),
		Value:     cmd.RawValue(),
		Source:    cmd.Source,
		Timestamp: at.UTC(),
	})
}

// ParseState reads a state report. Devices publish either the bare state
// ("on") or an object with a "state" field.
func ParseState(payload []byte) (string, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return "", fmt.Errorf("empty state payload")
	}
	if !strings.HasPrefix(raw, "{") {
		// JSON strings arrive quoted
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s, nil
		}
		return raw, nil
	}

	var obj struct {
		State interface{} `json:"state"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("invalid state payload: %w", err)
	}
	switch v := obj.State.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "on", nil
		}
		return "off", nil
	case float64:
		return fmt.Sprintf("%g", v), nil
	case nil:
		return "", fmt.Errorf("state payload has no state field")
	default:
		return "", fmt.Errorf("unsupported state value %T", v)
	}
}
