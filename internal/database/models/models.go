package models

import (
	"time"
)

// EntityState is the last known state of a device entity
type EntityState struct {
	EntityID    string    `json:"entity_id" db:"entity_id"`
	State       string    `json:"state" db:"state"`
	Source      string    `json:"source" db:"source"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}
