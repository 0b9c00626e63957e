package handler

import (
	"context"
	"errors"
	"net/http"

	"drpactor/internal/dotroach"
	"drpactor/internal/engine"
	"drpactor/internal/model"
	"drpactor/pkg/config"
)

// Orchestrator command surface of the engine
type Orchestrator interface {
	NewExposure(ctx context.Context, root, night, filename string) error
	NewExposurePath(ctx context.Context, path string) error
	NewPfsConfig(ctx context.Context, visit int, path string) error
	NewVisit(ctx context.Context, visit int) error
	NewVisitGroup(ctx context.Context, sequenceID int, visits []int) error
	RunReductionPipeline(ctx context.Context, where, pipeline string) (string, error)
	CheckLeftOvers(ctx context.Context) ([]int, error)
	ForgetVisit(ctx context.Context, visit int) error
	Visit(ctx context.Context, visit int) (*model.Visit, error)
	Visits(ctx context.Context) ([]*model.Visit, error)
	InFlight(ctx context.Context) ([]string, error)
	GenIngestStatus(ctx context.Context, visit int) (model.StatusLine, error)
	GenDetrendStatus(ctx context.Context, visit int) (model.StatusLine, error)

	Settings() config.SettingsConfig
	SetSettings(o engine.SettingsOverride) config.SettingsConfig

	StartDotRoach(ctx context.Context, root, maskFile string, keepMoving bool) error
	StopDotRoach(ctx context.Context) (string, error)
	DotRoachPhase(ctx context.Context, phase dotroach.Phase) error
	DotRoachStatus(ctx context.Context) (dotroach.Status, error)
	WaitDotRoachResult(ctx context.Context, round int) error
}

// httpStatus maps engine errors to response codes
func httpStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrVisitNotFound), errors.Is(err, engine.ErrNoActiveRun):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateWork),
		errors.Is(err, engine.ErrGroupIncomplete),
		errors.Is(err, engine.ErrDotRoachActive),
		errors.Is(err, dotroach.ErrPhase),
		errors.Is(err, dotroach.ErrEmptyRun):
		return http.StatusConflict
	case errors.Is(err, dotroach.ErrResultTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
