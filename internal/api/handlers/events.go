package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
)

type clockEventRequest struct {
	// Time defaults to now
	Time *time.Time `json:"time"`
}

type solarEventRequest struct {
	Kind   string     `json:"kind" binding:"required"`
	Offset int        `json:"offset"`
	Time   *time.Time `json:"time"`
}

// PostClockEvent injects a clock tick and matches it synchronously. Time
// triggers still fire at most once per minute.
func (h *Handlers) PostClockEvent(c *gin.Context) {
	var body clockEventRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &body) {
		return
	}
	at := time.Now()
	if body.Time != nil {
		at = *body.Time
	}

	dispatched := h.engine.HandleEvent(automation.ClockTick{Time: at})
	utils.SendSuccess(c, gin.H{
		"event":      automation.EventClockTick,
		"time":       at,
		"dispatched": nonNil(dispatched),
	})
}

// PostSolarEvent injects a sunrise or sunset event
func (h *Handlers) PostSolarEvent(c *gin.Context) {
	var body solarEventRequest
	if !h.bindJSON(c, &body) {
		return
	}

	kind := automation.SolarKind(body.Kind)
	if kind != automation.Sunrise && kind != automation.Sunset {
		utils.SendError(c, http.StatusBadRequest, "kind must be sunrise or sunset")
		return
	}
	at := time.Now()
	if body.Time != nil {
		at = *body.Time
	}

	dispatched := h.engine.HandleEvent(automation.SolarEvent{Kind: kind, Offset: body.Offset, Time: at})
	utils.SendSuccess(c, gin.H{
		"event":      automation.EventSolar,
		"kind":       kind,
		"offset":     body.Offset,
		"dispatched": nonNil(dispatched),
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
