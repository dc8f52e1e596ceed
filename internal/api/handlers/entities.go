package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
)

// GetEntities returns the last known state of every entity
func (h *Handlers) GetEntities(c *gin.Context) {
	states := h.entities.GetAll()
	utils.SendSuccess(c, gin.H{
		"entities": states,
		"count":    len(states),
	})
}

// GetEntity returns the state of one entity
func (h *Handlers) GetEntity(c *gin.Context) {
	id := c.Param("id")
	state, ok := h.entities.CurrentState(id)
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Entity not found")
		return
	}
	utils.SendSuccess(c, gin.H{"entity_id": id, "state": state})
}

// UpdateEntityState reports a new entity state. A change feeds the
// automation engine as a state event.
func (h *Handlers) UpdateEntityState(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		State  string `json:"state" binding:"required"`
		Source string `json:"source"`
	}
	if !h.bindJSON(c, &body) {
		return
	}
	if body.Source == "" {
		body.Source = "api"
	}

	changed, err := h.entities.UpdateState(c.Request.Context(), id, body.State, body.Source)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{
		"entity_id": id,
		"state":     body.State,
		"changed":   changed,
	})
}

// GetPresence returns the anyone_home flag and the active override
func (h *Handlers) GetPresence(c *gin.Context) {
	utils.SendSuccess(c, gin.H{
		"anyone_home": h.entities.AnyoneHome(),
		"override":    h.entities.PresenceOverride(),
	})
}

// SetPresence sets or clears the presence override
func (h *Handlers) SetPresence(c *gin.Context) {
	var body struct {
		// Override is "home", "away" or empty to follow presence entities
		Override string `json:"override"`
	}
	if !h.bindJSON(c, &body) {
		return
	}

	var override *bool
	switch body.Override {
	case "":
	case "home":
		v := true
		override = &v
	case "away":
		v := false
		override = &v
	default:
		utils.SendError(c, http.StatusBadRequest, "override must be home, away or empty")
		return
	}

	h.entities.SetPresenceOverride(override)
	h.GetPresence(c)
}
