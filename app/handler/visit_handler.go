package handler

import (
	"net/http"
	"strconv"

	"drpactor/internal/model"
	"drpactor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// VisitHandler channel notifications and visit table operations
type VisitHandler struct {
	orchestrator Orchestrator
}

// NewVisitHandler creates visit handler
func NewVisitHandler(orchestrator Orchestrator) *VisitHandler {
	return &VisitHandler{orchestrator: orchestrator}
}

func visitParam(c *gin.Context) (int, bool) {
	visit, err := strconv.Atoi(c.Param("visit"))
	if err != nil || visit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visit"})
		return 0, false
	}
	return visit, true
}

// NewExposure announces a raw file
// @Router /api/v1/exposures [post]
func (h *VisitHandler) NewExposure(c *gin.Context) {
	var req model.ExposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.Path != "":
		err = h.orchestrator.NewExposurePath(ctx, req.Path)
	case req.Filename != "":
		err = h.orchestrator.NewExposure(ctx, req.Root, req.Night, req.Filename)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "path or filename required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "exposure registered"})
}

// NewPfsConfig declares the configuration file of a visit
// @Router /api/v1/visits/{visit}/pfsconfig [post]
func (h *VisitHandler) NewPfsConfig(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	var req model.PfsConfigRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	if err := h.orchestrator.NewPfsConfig(c.Request.Context(), visit, req.Path); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pfsConfig registered"})
}

// CloseVisit signals that every channel has reported
// @Router /api/v1/visits/{visit}/close [post]
func (h *VisitHandler) CloseVisit(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	if err := h.orchestrator.NewVisit(c.Request.Context(), visit); err != nil {
		logger.WarnCtx(c.Request.Context(), "new visit %d: %v", visit, err)
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "visit accepted", "visit": visit})
}

// GetVisit returns one visit
// @Router /api/v1/visits/{visit} [get]
func (h *VisitHandler) GetVisit(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	v, err := h.orchestrator.Visit(c.Request.Context(), visit)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

// ListVisits returns every resident visit
// @Router /api/v1/visits [get]
func (h *VisitHandler) ListVisits(c *gin.Context) {
	visits, err := h.orchestrator.Visits(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": visits, "total": len(visits)})
}

// ForgetVisit evicts a visit
// @Router /api/v1/visits/{visit} [delete]
func (h *VisitHandler) ForgetVisit(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	if err := h.orchestrator.ForgetVisit(c.Request.Context(), visit); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "visit forgotten"})
}

// IngestStatus re-emits the ingest status of a visit
// @Router /api/v1/visits/{visit}/ingest-status [post]
func (h *VisitHandler) IngestStatus(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	line, err := h.orchestrator.GenIngestStatus(c.Request.Context(), visit)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": line, "keyword": line.Keyword()})
}

// DetrendStatus emits the detrend status of a visit
// @Router /api/v1/visits/{visit}/detrend-status [post]
func (h *VisitHandler) DetrendStatus(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	line, err := h.orchestrator.GenDetrendStatus(c.Request.Context(), visit)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": line, "keyword": line.Keyword()})
}
