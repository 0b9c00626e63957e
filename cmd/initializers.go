package main

import (
	"fmt"
	"net/http"
	"time"

	"drpactor/app/handler"
	"drpactor/app/router"
	"drpactor/internal/engine"
	"drpactor/pkg/config"
	"drpactor/pkg/executor"
	"drpactor/pkg/logger"
	"drpactor/pkg/notification"
	"drpactor/pkg/queue"
	"drpactor/pkg/status"
	"drpactor/pkg/store/db"
	redisstore "drpactor/pkg/store/redis"
	"drpactor/pkg/watcher"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initDatastore opens the dataset registry and status history database
func (app *Application) initDatastore() error {
	ds, err := db.NewDatastore(app.config.Datastore)
	if err != nil {
		return err
	}

	app.datastore = ds
	app.statusHistory = db.NewStatusEventRepository(ds)
	app.registerCleanup(func() {
		ds.Close()
		logger.InfoCtx(app.ctx, "Datastore connection has been closed")
	})
	return nil
}

// initRedis initializes Redis. Without an address the status cache and the
// live stream are disabled and background jobs run unguarded.
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.WarnCtx(app.ctx, "redis not configured, status cache disabled")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.statusCache = redisstore.NewStatusRepository(client)
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initStatus builds the fan-out sink of status lines
func (app *Application) initStatus() error {
	notifier := notification.NewWebhookNotifier(app.config.Notification)
	if notifier.Enabled() {
		app.statusSink = status.NewEmitter(app.statusHistory, app.statusCache, notifier)
	} else {
		app.statusSink = status.NewEmitter(app.statusHistory, app.statusCache, nil)
	}
	return nil
}

// initExecutor builds the configured worker backend
func (app *Application) initExecutor() error {
	runner := executor.NewRunnerFromConfig(app.config, db.NewDatasetRepository(app.datastore))
	exec, err := queue.CreateExecutor(app.config, runner)
	if err != nil {
		return err
	}

	app.executor = exec
	app.registerCleanup(func() {
		if err := exec.Close(); err != nil {
			logger.WarnCtx(app.ctx, "executor close: %v", err)
		}
		logger.InfoCtx(app.ctx, "Executor has been closed")
	})
	logger.InfoCtx(app.ctx, "executor backend: %s", app.config.Executor.Backend)
	return nil
}

// initEngine creates the orchestrator
func (app *Application) initEngine() error {
	e, err := engine.New(app.config.Engine, app.config.Repo, engine.Deps{
		Datastore: db.NewDatasetRepository(app.datastore),
		Executor:  app.executor,
		Status:    app.statusSink,
		DotRoach:  &app.config.DotRoach,
	})
	if err != nil {
		return err
	}
	app.engine = e
	return nil
}

// initWatcher creates the optional raw file watcher
func (app *Application) initWatcher() error {
	if !app.config.Watcher.Enabled {
		return nil
	}

	w, err := watcher.New(app.config.Watcher, app.engine)
	if err != nil {
		return err
	}
	app.watcher = w
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	statusHandler := handler.NewStatusHandler(app.statusHistory, app.statusCache)
	r := router.NewRouter(app.engine, statusHandler, app.config.Server.APIKey)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
