package handler

import (
	"net/http"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var statusStages = []string{
	model.StageIngest,
	model.StageDetrend,
	model.StageReduce,
	model.StageDetectorMapQa,
	model.StageExtractionQa,
	model.StageDotRoach,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusHandler status history and live stream. Either store may be nil.
type StatusHandler struct {
	history interfaces.StatusHistory
	cache   interfaces.StatusCache
}

// NewStatusHandler creates status handler
func NewStatusHandler(history interfaces.StatusHistory, cache interfaces.StatusCache) *StatusHandler {
	return &StatusHandler{history: history, cache: cache}
}

// VisitStatus latest line per stage plus the recorded history
// @Router /api/v1/status/visit/{visit} [get]
func (h *StatusHandler) VisitStatus(c *gin.Context) {
	visit, ok := visitParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	resp := model.VisitStatusResponse{Visit: visit, Latest: []model.StatusLine{}, History: []model.StatusLine{}}

	if h.cache != nil {
		for _, stage := range statusStages {
			line, err := h.cache.GetLatest(ctx, stage, visit)
			if err != nil {
				logger.WarnCtx(ctx, "latest %s status of visit %d: %v", stage, visit, err)
				continue
			}
			if line != nil {
				resp.Latest = append(resp.Latest, *line)
			}
		}
	}
	if h.history != nil {
		lines, err := h.history.ListByVisit(ctx, visit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.History = lines
	}
	c.JSON(http.StatusOK, resp)
}

// Stream pushes every emitted status line over a websocket
// @Router /api/v1/status/stream [get]
func (h *StatusHandler) Stream(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status stream requires redis"})
		return
	}
	ctx := c.Request.Context()

	lines, unsubscribe, err := h.cache.Subscribe(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer unsubscribe()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	// reader detects client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := ws.WriteJSON(line); err != nil {
				logger.DebugCtx(ctx, "status stream closed: %v", err)
				return
			}
		}
	}
}
