package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// StorageKey is the fixed key the rule set is stored under
const StorageKey = "pma.rules.v1"

// Persistence is a durable key/value backend. Get returns (nil, nil) when
// the key does not exist.
type Persistence interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

type storedRules struct {
	Scenes      []Scene      `json:"scenes"`
	Automations []Automation `json:"automations"`
}

// EncodeSnapshot serializes the rule set into the persisted JSON blob
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	blob := storedRules{Scenes: s.Scenes, Automations: s.Automations}
	if blob.Scenes == nil {
		blob.Scenes = []Scene{}
	}
	if blob.Automations == nil {
		blob.Automations = []Automation{}
	}
	return json.Marshal(blob)
}

// DecodeSnapshot parses a persisted JSON blob
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var blob storedRules
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &Snapshot{Scenes: blob.Scenes, Automations: blob.Automations}, nil
}

// DecodeYAML parses a rule set written in YAML with the same field names as
// the JSON blob. The document is converted to JSON first so both formats
// share one set of decoding rules.
func DecodeYAML(data []byte) (*Snapshot, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml rules: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml rules: %w", err)
	}
	return DecodeSnapshot(raw)
}

// EncodeYAML renders the rule set as YAML using the JSON field names
func EncodeYAML(s *Snapshot) ([]byte, error) {
	raw, err := EncodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// MemoryPersistence keeps blobs in process memory. Used in tests and when
// persistence is disabled.
type MemoryPersistence struct {
	mu   sync.RWMutex
	data map[string][]byte
	// PutErr, when set, is returned by every Put
	PutErr error
}

// NewMemoryPersistence creates an empty in-memory backend
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{data: make(map[string][]byte)}
}

func (m *MemoryPersistence) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryPersistence) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// SetPutError makes subsequent writes fail with err (nil to recover)
func (m *MemoryPersistence) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutErr = err
}
