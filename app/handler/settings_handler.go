package handler

import (
	"net/http"

	"drpactor/internal/engine"

	"github.com/gin-gonic/gin"
)

// SettingsHandler runtime toggles
type SettingsHandler struct {
	orchestrator Orchestrator
}

// NewSettingsHandler creates settings handler
func NewSettingsHandler(orchestrator Orchestrator) *SettingsHandler {
	return &SettingsHandler{orchestrator: orchestrator}
}

// Get returns the current toggles
// @Router /api/v1/settings [get]
func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Settings())
}

// Update applies toggle overrides, omitted toggles revert to their default
// @Router /api/v1/settings [put]
func (h *SettingsHandler) Update(c *gin.Context) {
	var o engine.SettingsOverride
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.SetSettings(o))
}
