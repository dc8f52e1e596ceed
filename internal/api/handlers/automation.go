package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GetAutomations returns all automations. ?enabled=true limits the list
// to enabled ones.
func (h *Handlers) GetAutomations(c *gin.Context) {
	snap := h.store.Snapshot()
	automations := snap.Automations
	if c.Query("enabled") == "true" {
		automations = snap.EnabledAutomations()
	}

	utils.SendSuccess(c, gin.H{
		"automations": automations,
		"count":       len(automations),
		"version":     snap.Version,
	})
}

// GetAutomation returns a specific automation
func (h *Handlers) GetAutomation(c *gin.Context) {
	a, err := h.store.Automation(c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	utils.SendSuccess(c, a)
}

// CreateAutomation creates a new automation
func (h *Handlers) CreateAutomation(c *gin.Context) {
	var input rules.AutomationInput
	if !h.bindJSON(c, &input) {
		return
	}

	a, _, err := h.store.CreateAutomation(c.Request.Context(), input)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"automation_id": a.ID,
		"automation":    a.Name,
		"enabled":       a.Enabled,
	}).Info("Automation created")
	h.respond(c, http.StatusCreated, a, err)
}

// UpdateAutomation applies a partial update to an automation
func (h *Handlers) UpdateAutomation(c *gin.Context) {
	id := c.Param("id")
	var patch rules.AutomationPatch
	if !h.bindJSON(c, &patch) {
		return
	}

	snap, err := h.store.UpdateAutomation(c.Request.Context(), id, patch)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	a, _ := snap.Automation(id)
	h.respond(c, http.StatusOK, a, err)
}

// DeleteAutomation removes an automation
func (h *Handlers) DeleteAutomation(c *gin.Context) {
	id := c.Param("id")
	_, err := h.store.DeleteAutomation(c.Request.Context(), id)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	h.log.WithField("automation_id", id).Info("Automation deleted")
	h.respond(c, http.StatusOK, gin.H{"id": id, "deleted": true}, err)
}

// ToggleAutomation flips the enabled flag
func (h *Handlers) ToggleAutomation(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.store.ToggleAutomation(c.Request.Context(), id)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	a, _ := snap.Automation(id)
	h.log.WithFields(logrus.Fields{"automation_id": id, "enabled": a.Enabled}).Info("Automation toggled")
	h.respond(c, http.StatusOK, a, err)
}

// RunAutomation executes an automation now. ?force=true skips conditions.
func (h *Handlers) RunAutomation(c *gin.Context) {
	id := c.Param("id")
	force := c.Query("force") == "true"

	result, err := h.engine.RunAutomation(c.Request.Context(), id, force)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if len(result.Warnings) > 0 {
		utils.SendSuccessWithWarnings(c, http.StatusOK, result, result.Warnings)
		return
	}
	utils.SendSuccess(c, result)
}
