package handler

import (
	"net/http"

	"drpactor/internal/model"
	"drpactor/pkg/drpparse"
	"drpactor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ReduceHandler reduction commands
type ReduceHandler struct {
	orchestrator Orchestrator
}

// NewReduceHandler creates reduce handler
func NewReduceHandler(orchestrator Orchestrator) *ReduceHandler {
	return &ReduceHandler{orchestrator: orchestrator}
}

// Reduce runs a pipeline on a where clause or a visit list
// @Router /api/v1/reduce [post]
func (h *ReduceHandler) Reduce(c *gin.Context) {
	var req model.ReduceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	where := req.Where
	if where == "" {
		if req.Visits == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "where or visits required"})
			return
		}
		visits, err := drpparse.VisitList(req.Visits)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		where = drpparse.WhereClause(visits)
	}

	id, err := h.orchestrator.RunReductionPipeline(c.Request.Context(), where, req.Pipeline)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to run reduction on %q: %v", where, err)
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, model.ReduceResponse{ItemID: id, Where: where})
}

// NewVisitGroup reduces a sequence of visits together
// @Router /api/v1/groups [post]
func (h *ReduceHandler) NewVisitGroup(c *gin.Context) {
	var req model.VisitGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	visits, err := drpparse.VisitList(req.Visits)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orchestrator.NewVisitGroup(c.Request.Context(), req.SequenceID, visits); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sequence_id": req.SequenceID, "visits": visits})
}

// InFlight lists outstanding work
// @Router /api/v1/inflight [get]
func (h *ReduceHandler) InFlight(c *gin.Context) {
	keys, err := h.orchestrator.InFlight(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inflight": keys})
}

// LeftOvers lists visits never processed or failed
// @Router /api/v1/leftovers [get]
func (h *ReduceHandler) LeftOvers(c *gin.Context) {
	visits, err := h.orchestrator.CheckLeftOvers(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": visits})
}
