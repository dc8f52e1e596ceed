package rules

import (
	"github.com/google/uuid"
)

// IDGenerator mints opaque identifiers for scenes, automations and their
// elements
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator produces time ordered UUIDv7 identifiers, so ids minted later
// in the same process sort after earlier ones
type UUIDGenerator struct{}

// NewID returns "<prefix>_<uuidv7>"
func (UUIDGenerator) NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}

const (
	prefixScene      = "scene"
	prefixAutomation = "auto"
	prefixAction     = "action"
	prefixTrigger    = "trigger"
	prefixCondition  = "cond"
)
