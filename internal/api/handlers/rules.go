package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
)

// ExportRules returns the whole rule set as YAML. The output can be used
// as a seed file.
func (h *Handlers) ExportRules(c *gin.Context) {
	snap := h.store.Snapshot()
	data, err := rules.EncodeYAML(&snap)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode rule set")
		utils.SendError(c, http.StatusInternalServerError, "Failed to export rules")
		return
	}

	filename := fmt.Sprintf("pma-rules-%s.yaml", time.Now().UTC().Format("20060102-150405"))
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", "attachment; filename="+filename)
	}
	c.Header("X-Rules-Version", fmt.Sprintf("%d", snap.Version))
	c.Data(http.StatusOK, "application/x-yaml; charset=utf-8", data)
}
