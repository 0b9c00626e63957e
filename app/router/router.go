package router

import (
	"drpactor/app/handler"
	"drpactor/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	visitHandler    *handler.VisitHandler
	reduceHandler   *handler.ReduceHandler
	settingsHandler *handler.SettingsHandler
	dotRoachHandler *handler.DotRoachHandler
	statusHandler   *handler.StatusHandler
	apiKey          string
}

// NewRouter creates a new Router
func NewRouter(orchestrator handler.Orchestrator, statusHandler *handler.StatusHandler, apiKey string) *Router {
	return &Router{
		visitHandler:    handler.NewVisitHandler(orchestrator),
		reduceHandler:   handler.NewReduceHandler(orchestrator),
		settingsHandler: handler.NewSettingsHandler(orchestrator),
		dotRoachHandler: handler.NewDotRoachHandler(orchestrator),
		statusHandler:   statusHandler,
		apiKey:          apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(r.apiKey))
	{
		// Channel notifications
		api.POST("/exposures", r.visitHandler.NewExposure)

		visits := api.Group("/visits")
		{
			visits.GET("", r.visitHandler.ListVisits)
			visits.GET("/:visit", r.visitHandler.GetVisit)
			visits.DELETE("/:visit", r.visitHandler.ForgetVisit)
			visits.POST("/:visit/pfsconfig", r.visitHandler.NewPfsConfig)
			visits.POST("/:visit/close", r.visitHandler.CloseVisit)
			visits.POST("/:visit/ingest-status", r.visitHandler.IngestStatus)
			visits.POST("/:visit/detrend-status", r.visitHandler.DetrendStatus)
		}

		// Reduction
		api.POST("/groups", r.reduceHandler.NewVisitGroup)
		api.POST("/reduce", r.reduceHandler.Reduce)
		api.GET("/inflight", r.reduceHandler.InFlight)
		api.GET("/leftovers", r.reduceHandler.LeftOvers)

		api.GET("/settings", r.settingsHandler.Get)
		api.PUT("/settings", r.settingsHandler.Update)

		dotroach := api.Group("/dotroach")
		{
			dotroach.POST("/start", r.dotRoachHandler.Start)
			dotroach.POST("/stop", r.dotRoachHandler.Stop)
			dotroach.POST("/phase/:phase", r.dotRoachHandler.Phase)
			dotroach.GET("/status", r.dotRoachHandler.Status)
			dotroach.GET("/wait/:round", r.dotRoachHandler.Wait)
		}

		if r.statusHandler != nil {
			status := api.Group("/status")
			{
				status.GET("/visit/:visit", r.statusHandler.VisitStatus)
				status.GET("/stream", r.statusHandler.Stream) // WebSocket
			}
		}
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
