package main

import (
	"time"

	"drpactor/internal/jobs"
	"drpactor/pkg/lock"

	"github.com/juju/clock"
)

const jobLockPrefix = "drp:jobs:"

// initJobs registers the leftover sweep and status history retention
func (app *Application) initJobs() error {
	var locks jobs.LockFactory
	if app.redisClient != nil {
		client := app.redisClient.GetClient()
		locks = func(name string) lock.DistributedLock {
			return lock.NewRedisDistributedLock(client, jobLockPrefix+name)
		}
	}

	app.jobsManager = jobs.NewManager(app.ctx, clock.WallClock, locks)

	sweep := time.Duration(app.config.Engine.LeftoverInterval) * time.Second
	app.jobsManager.Register(jobs.NewLeftoverJob(app.engine, sweep))

	retention := time.Duration(app.config.Engine.StatusRetention) * 24 * time.Hour
	app.jobsManager.Register(jobs.NewStatusRetentionJob(app.statusHistory, retention, clock.WallClock))
	return nil
}
