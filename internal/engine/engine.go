// Package engine aggregates raw exposures into visits and drives ingestion
// and reduction through an executor. All engine state lives on a single
// event loop; public methods post closures to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"drpactor/internal/dotroach"
	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"

	"github.com/juju/clock"
)

var (
	ErrVisitNotFound   = errors.New("visit not found")
	ErrDuplicateWork   = errors.New("work already in flight")
	ErrGroupIncomplete = errors.New("visit group incomplete")
)

// Deps external collaborators of the engine
type Deps struct {
	Datastore interfaces.Datastore
	Executor  interfaces.Executor
	Status    interfaces.StatusSink
	Clock     clock.Clock // defaults to the wall clock

	// DotRoach tuning, nil uses the defaults
	DotRoach *config.DotRoachConfig
}

// SettingsOverride per-toggle overrides, nil keeps the configured default
type SettingsOverride struct {
	DoAutoIngest               *bool `json:"doAutoIngest,omitempty"`
	DoAutoDetrend              *bool `json:"doAutoDetrend,omitempty"`
	DoAutoReduce               *bool `json:"doAutoReduce,omitempty"`
	DoDetectorMapQa            *bool `json:"doDetectorMapQa,omitempty"`
	DoExtractionQa             *bool `json:"doExtractionQa,omitempty"`
	DoCopyDesignToPfsConfigDir *bool `json:"doCopyDesignToPfsConfigDir,omitempty"`
}

// Engine visit-aggregation and reduction orchestrator
type Engine struct {
	cfg      atomic.Pointer[config.EngineConfig]
	defaults atomic.Pointer[config.SettingsConfig]
	repo     config.RepoConfig

	datastore interfaces.Datastore
	executor  interfaces.Executor
	status    interfaces.StatusSink
	clock     clock.Clock
	loop      *loop
	ctx       context.Context
	roachCfg  config.DotRoachConfig
	copies    sync.WaitGroup

	// owned by the loop
	visits   map[int]*model.Visit
	inflight map[string]*model.WorkItem
	calibs   *calibCache
	roach    *dotroach.Run
}

// New creates an engine. Run must be called for it to process anything.
func New(cfg config.EngineConfig, repo config.RepoConfig, deps Deps) (*Engine, error) {
	if deps.Datastore == nil {
		return nil, fmt.Errorf("engine requires a datastore")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("engine requires an executor")
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Status == nil {
		deps.Status = logSink{}
	}
	roachCfg := config.Default().DotRoach
	if deps.DotRoach != nil {
		roachCfg = *deps.DotRoach
	}

	e := &Engine{
		repo:      repo,
		datastore: deps.Datastore,
		executor:  deps.Executor,
		status:    deps.Status,
		clock:     deps.Clock,
		loop:      newLoop(deps.Clock),
		ctx:       context.Background(),
		roachCfg:  roachCfg,
		visits:    make(map[int]*model.Visit),
		inflight:  make(map[string]*model.WorkItem),
	}
	e.calibs = newCalibCache(deps.Datastore)
	e.Reconfigure(cfg)
	return e, nil
}

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	logger.InfoCtx(ctx, "engine loop started")
	err := e.loop.run(ctx)
	e.copies.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Started is closed once Run has started the loop.
func (e *Engine) Started() <-chan struct{} {
	return e.loop.started
}

func (e *Engine) current() *config.EngineConfig {
	return e.cfg.Load()
}

// Settings returns the current toggles
func (e *Engine) Settings() config.SettingsConfig {
	return e.current().Settings
}

// SetSettings applies overrides on top of the configured defaults
func (e *Engine) SetSettings(o SettingsOverride) config.SettingsConfig {
	s := *e.defaults.Load()
	pick := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	pick(&s.DoAutoIngest, o.DoAutoIngest)
	pick(&s.DoAutoDetrend, o.DoAutoDetrend)
	pick(&s.DoAutoReduce, o.DoAutoReduce)
	pick(&s.DoDetectorMapQa, o.DoDetectorMapQa)
	pick(&s.DoExtractionQa, o.DoExtractionQa)
	pick(&s.DoCopyDesignToPfsConfigDir, o.DoCopyDesignToPfsConfigDir)

	for {
		current := e.cfg.Load()
		next := *current
		next.Settings = s
		if e.cfg.CompareAndSwap(current, &next) {
			break
		}
	}
	logger.Infof("settings: %+v", s)
	return s
}

// Reconfigure swaps the whole engine configuration. In-flight work keeps the
// values it was dispatched with.
func (e *Engine) Reconfigure(cfg config.EngineConfig) {
	defaults := cfg.Settings
	e.defaults.Store(&defaults)
	e.cfg.Store(&cfg)
	logger.Infof("engine reconfigured: granularity=%s numProc=%d timeout=%s", cfg.Granularity, cfg.NumProc, cfg.ResultTimeout())
}

// NewExposure registers a raw file reported by a channel
func (e *Engine) NewExposure(ctx context.Context, root, night, filename string) error {
	exp, err := model.NewExposure(root, night, filename)
	if err != nil {
		logger.WarnCtx(ctx, "ignoring exposure %s/%s: %v", night, filename, err)
		return err
	}
	return e.loop.call(ctx, func() { e.addExposure(exp) })
}

// NewExposurePath registers a raw file given as root/night/sps/filename
func (e *Engine) NewExposurePath(ctx context.Context, path string) error {
	exp, err := model.ExposureFromPath(path)
	if err != nil {
		logger.WarnCtx(ctx, "ignoring exposure %s: %v", path, err)
		return err
	}
	return e.loop.call(ctx, func() { e.addExposure(exp) })
}

func (e *Engine) addExposure(exp *model.Exposure) {
	v, ok := e.visits[exp.Visit]
	if !ok {
		logger.WarnCtx(e.ctx, "exposure %s arrived before visit %d was declared", exp.Filename, exp.Visit)
		v = model.NewVisit(exp.Visit, nil)
		v.Config.Initialize(e.ctx, e.datastore)
		e.visits[exp.Visit] = v
	}
	if v.Exposure(exp.Arm, exp.Spectrograph) != nil {
		logger.DebugCtx(e.ctx, "exposure %s already known", exp.Key())
		return
	}

	exp.Initialize(e.ctx, e.datastore)
	if exp.Ingested {
		e.transition(&exp.Lifecycle, exp.Key(), model.StateIngested)
	}
	v.AddExposure(exp)
	logger.InfoCtx(e.ctx, "new exposure %s ingested=%v", exp.Key(), exp.Ingested)
}

// NewPfsConfig declares the configuration file of a visit. path may be empty.
func (e *Engine) NewPfsConfig(ctx context.Context, visit int, path string) error {
	return e.loop.call(ctx, func() { e.addPfsConfig(visit, path) })
}

func (e *Engine) addPfsConfig(visit int, path string) {
	v, ok := e.visits[visit]
	if !ok {
		v = model.NewVisit(visit, model.NewPfsConfig(visit, path))
		e.visits[visit] = v
	} else if !v.Config.Resolved() {
		v.Config.Filepath = path
	}
	v.Config.Initialize(e.ctx, e.datastore)

	if v.Config.Resolved() && e.Settings().DoCopyDesignToPfsConfigDir {
		e.copyDesign(v.Config)
	}
	logger.InfoCtx(e.ctx, "new pfsConfig visit=%d path=%q ingested=%v", visit, v.Config.Filepath, v.Config.Ingested)
}

// NewVisit signals that every channel of a visit has reported.
func (e *Engine) NewVisit(ctx context.Context, visit int) error {
	var err error
	callErr := e.loop.call(ctx, func() { err = e.newVisit(visit) })
	if callErr != nil {
		return callErr
	}
	return err
}

func (e *Engine) newVisit(visit int) error {
	v, ok := e.visits[visit]
	if !ok {
		logger.WarnCtx(e.ctx, "new visit %d has no exposures nor pfsConfig, ignoring", visit)
		return fmt.Errorf("%w: %d", ErrVisitNotFound, visit)
	}
	v.Closed = true

	v.Initialize(e.ctx, e.datastore)
	e.syncIngested(v)
	if v.IsIngested() {
		e.decideReduction(v)
		return nil
	}

	if !e.Settings().DoAutoIngest {
		logger.InfoCtx(e.ctx, "visit %d not ingested and auto-ingest disabled", visit)
		return nil
	}
	e.startIngest(v)
	return nil
}

// NewVisitGroup reduces a set of visits in one pipeline run. Every member
// must be resident and ingested, otherwise nothing runs.
func (e *Engine) NewVisitGroup(ctx context.Context, sequenceID int, visits []int) error {
	var err error
	callErr := e.loop.call(ctx, func() { err = e.newVisitGroup(sequenceID, visits) })
	if callErr != nil {
		return callErr
	}
	return err
}

// CheckLeftOvers lists resident visits that were never processed or whose
// reduction failed. It does not re-drive them.
func (e *Engine) CheckLeftOvers(ctx context.Context) ([]int, error) {
	var leftovers []int
	err := e.loop.call(ctx, func() {
		for id, v := range e.visits {
			failed := v.CurrentState() == model.StateIdle && v.Outcome == model.OutcomeFailed
			if v.Processed && !failed {
				continue
			}
			if e.busy(v) {
				continue
			}
			leftovers = append(leftovers, id)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(leftovers)
	for _, id := range leftovers {
		logger.WarnCtx(ctx, "leftover visit %d", id)
	}
	return leftovers, nil
}

// ForgetVisit evicts a visit from the table. Visits with work in flight are kept.
func (e *Engine) ForgetVisit(ctx context.Context, visit int) error {
	var err error
	callErr := e.loop.call(ctx, func() {
		v, ok := e.visits[visit]
		if !ok {
			err = fmt.Errorf("%w: %d", ErrVisitNotFound, visit)
			return
		}
		if e.busy(v) {
			err = fmt.Errorf("%w: visit %d", ErrDuplicateWork, visit)
			return
		}
		delete(e.visits, visit)
		logger.InfoCtx(e.ctx, "visit %d forgotten", visit)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Visit returns a copy of a visit
func (e *Engine) Visit(ctx context.Context, visit int) (*model.Visit, error) {
	var out *model.Visit
	err := e.loop.call(ctx, func() {
		if v, ok := e.visits[visit]; ok {
			out = snapshot(v)
		}
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %d", ErrVisitNotFound, visit)
	}
	return out, nil
}

// Visits returns copies of every resident visit ordered by id
func (e *Engine) Visits(ctx context.Context) ([]*model.Visit, error) {
	var out []*model.Visit
	err := e.loop.call(ctx, func() {
		for _, v := range e.visits {
			out = append(out, snapshot(v))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// InFlight returns the keys of outstanding work items
func (e *Engine) InFlight(ctx context.Context) ([]string, error) {
	var keys []string
	err := e.loop.call(ctx, func() {
		for k := range e.inflight {
			keys = append(keys, k)
		}
	})
	sort.Strings(keys)
	return keys, err
}

// GenIngestStatus refreshes a visit from the datastore and emits its ingest status
func (e *Engine) GenIngestStatus(ctx context.Context, visit int) (model.StatusLine, error) {
	var line model.StatusLine
	var err error
	callErr := e.loop.call(ctx, func() {
		v, ok := e.visits[visit]
		if !ok {
			err = fmt.Errorf("%w: %d", ErrVisitNotFound, visit)
			return
		}
		v.Initialize(e.ctx, e.datastore)
		e.syncIngested(v)
		line = e.statusLine(model.StageIngest, visit, 0, v.IsIngested(), 0)
		e.emit(line)
	})
	if callErr != nil {
		return line, callErr
	}
	return line, err
}

// GenDetrendStatus emits OK when every exposure of the visit has a calexp
func (e *Engine) GenDetrendStatus(ctx context.Context, visit int) (model.StatusLine, error) {
	var line model.StatusLine
	var err error
	callErr := e.loop.call(ctx, func() {
		v, ok := e.visits[visit]
		if !ok {
			err = fmt.Errorf("%w: %d", ErrVisitNotFound, visit)
			return
		}
		done := len(v.Exposures) > 0
		for _, exp := range v.Exposures {
			exists, qerr := e.datastore.Exists(e.ctx, model.DatasetCalexp, exp.DataID)
			if qerr != nil || !exists {
				done = false
				break
			}
		}
		line = e.statusLine(model.StageDetrend, visit, 0, done, 0)
		e.emit(line)
	})
	if callErr != nil {
		return line, callErr
	}
	return line, err
}

// busy reports whether any work item targets the visit or one of its exposures.
func (e *Engine) busy(v *model.Visit) bool {
	switch v.CurrentState() {
	case model.StateIngesting, model.StateReducing:
		return true
	}
	for _, exp := range v.Exposures {
		if exp.CurrentState() == model.StateReducing {
			return true
		}
	}
	return false
}

// transition applies a state change, logging and ignoring illegal ones.
func (e *Engine) transition(l *model.Lifecycle, key string, to model.RecordState) bool {
	if err := l.Transition(to); err != nil {
		logger.WarnCtx(e.ctx, "%s: %v", key, err)
		return false
	}
	return true
}

func (e *Engine) finish(l *model.Lifecycle, key string, outcome model.Outcome) {
	if err := l.Finish(outcome); err != nil {
		logger.WarnCtx(e.ctx, "%s: %v", key, err)
	}
}

func snapshot(v *model.Visit) *model.Visit {
	out := *v
	pfsConfig := *v.Config
	out.Config = &pfsConfig
	out.Exposures = make([]*model.Exposure, len(v.Exposures))
	for i, exp := range v.Exposures {
		cp := *exp
		out.Exposures[i] = &cp
	}
	return &out
}
