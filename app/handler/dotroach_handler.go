package handler

import (
	"net/http"
	"strconv"

	"drpactor/internal/dotroach"
	"drpactor/internal/model"
	"drpactor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DotRoachHandler convergence loop commands
type DotRoachHandler struct {
	orchestrator Orchestrator
}

// NewDotRoachHandler creates dot-roach handler
func NewDotRoachHandler(orchestrator Orchestrator) *DotRoachHandler {
	return &DotRoachHandler{orchestrator: orchestrator}
}

// Start begins a run
// @Router /api/v1/dotroach/start [post]
func (h *DotRoachHandler) Start(c *gin.Context) {
	var req model.DotRoachStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.orchestrator.StartDotRoach(c.Request.Context(), req.Root, req.MaskFile, req.KeepMoving); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to start dot-roach: %v", err)
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "dot-roach started"})
}

// Stop finishes the run
// @Router /api/v1/dotroach/stop [post]
func (h *DotRoachHandler) Stop(c *gin.Context) {
	dst, err := h.orchestrator.StopDotRoach(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "dot-roach finished", "path": dst})
}

// Phase requests phase2 or phase3
// @Router /api/v1/dotroach/phase/{phase} [post]
func (h *DotRoachHandler) Phase(c *gin.Context) {
	phase := dotroach.ParsePhase(c.Param("phase"))
	if phase != dotroach.Phase2 && phase != dotroach.Phase3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phase must be phase2 or phase3"})
		return
	}
	if err := h.orchestrator.DotRoachPhase(c.Request.Context(), phase); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "phase requested", "phase": phase.String()})
}

// Status summary of the run
// @Router /api/v1/dotroach/status [get]
func (h *DotRoachHandler) Status(c *gin.Context) {
	s, err := h.orchestrator.DotRoachStatus(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

// Wait blocks until the snapshot of a round is published
// @Router /api/v1/dotroach/wait/{round} [get]
func (h *DotRoachHandler) Wait(c *gin.Context) {
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil || round < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round"})
		return
	}
	if err := h.orchestrator.WaitDotRoachResult(c.Request.Context(), round); err != nil {
		logger.ErrorCtx(c.Request.Context(), "dot-roach round %d: %v", round, err)
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round})
}
