// Package dotroach runs the closed-loop convergence procedure that decides,
// round after round, which actuators keep moving toward their target.
package dotroach

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"drpactor/pkg/config"
	"drpactor/pkg/logger"
)

var (
	ErrPhase    = errors.New("invalid phase transition")
	ErrEmptyRun = errors.New("dot-roach run has no round")
)

const (
	historyFile = "allIterations.csv"
	maskDir     = "maskFiles"
)

// Status summary of a run
type Status struct {
	Path      string `json:"path"`
	Phase     string `json:"phase"`
	Rounds    int    `json:"rounds"`
	LastVisit int    `json:"last_visit"`
	NumMoving int    `json:"num_moving"`
}

// Run state of one dot-roach run. Not safe for concurrent use, the engine
// owns it on its loop.
type Run struct {
	root       string
	mask       *Mask
	history    *History
	thresholds Thresholds
	keepMoving bool

	phase        Phase
	pending      Phase
	phase1Rounds int
	overshoot    []bool

	normFactor        float64
	normSet           bool
	defaultMonitoring float64

	processTimeout time.Duration
	round0Overhead time.Duration
}

// Start creates the run directory under root. A directory left over by a
// previous run is archived first. keepMoving publishes every enabled
// actuator as moving while decisions are still recorded.
func Start(root, maskPath string, keepMoving bool, cfg config.DotRoachConfig) (*Run, error) {
	mask, err := LoadMask(maskPath)
	if err != nil {
		return nil, err
	}
	if err := archiveLeftover(root); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, maskDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	r := &Run{
		root:              root,
		mask:              mask,
		history:           &History{},
		thresholds:        ThresholdsFrom(cfg),
		keepMoving:        keepMoving,
		phase:             Phase1,
		overshoot:         make([]bool, mask.Len()),
		defaultMonitoring: cfg.DefaultMonitoring,
		processTimeout:    time.Duration(cfg.ProcessTimeout) * time.Second,
		round0Overhead:    time.Duration(cfg.Round0Overhead) * time.Second,
	}
	if err := r.history.Save(r.historyPath()); err != nil {
		return nil, err
	}
	logger.Infof("dot-roach started in %s with %d actuators (keepMoving=%v)", root, mask.Len(), keepMoving)
	return r, nil
}

func archiveLeftover(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	h, err := LoadHistory(filepath.Join(root, historyFile))
	if err != nil || h.Len() == 0 {
		logger.Warnf("discarding empty dot-roach directory %s", root)
		return os.RemoveAll(root)
	}
	dst, err := archive(root, h.MinVisit())
	if err != nil {
		return err
	}
	logger.Warnf("leftover dot-roach run archived to %s", dst)
	return nil
}

func archive(root string, minVisit int) (string, error) {
	dst := filepath.Join(filepath.Dir(filepath.Clean(root)), fmt.Sprintf("v%06d", minVisit))
	if err := os.Rename(root, dst); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", root, err)
	}
	return dst, nil
}

func (r *Run) historyPath() string {
	return filepath.Join(r.root, historyFile)
}

// SnapshotPath mask file published for round.
func (r *Run) SnapshotPath(round int) string {
	return filepath.Join(r.root, maskDir, fmt.Sprintf("iter%d.csv", round))
}

// Process records one round from the flux measured per fiber and publishes
// the resulting mask snapshot. Returns the round number.
func (r *Run) Process(visit int, fluxPerFiber map[int]float64) (int, error) {
	round := r.history.Len()
	entries := r.measure(visit, round, fluxPerFiber)

	var moving []bool
	if round == 0 {
		moving = r.mask.Enabled()
		for i := range entries {
			entries[i].Ratio = 1
			entries[i].Gradient = math.NaN()
		}
	} else {
		moving = r.decide(entries)
	}

	switch r.pending {
	case Phase2:
		r.phase1Rounds = round + 1
		r.phase = Phase2
		moving = append([]bool(nil), r.overshoot...)
	case Phase3:
		r.phase = Phase3
		moving = append([]bool(nil), r.overshoot...)
	}
	r.pending = 0

	for i := range entries {
		entries[i].KeepMoving = moving[i]
		entries[i].Overshoot = r.overshoot[i]
		entries[i].Phase = r.phase
	}
	r.history.Append(entries)
	if err := r.history.Save(r.historyPath()); err != nil {
		return round, err
	}

	published := moving
	if r.keepMoving {
		published = r.mask.Enabled()
	}
	if err := r.mask.WriteSnapshot(r.SnapshotPath(round), published); err != nil {
		return round, err
	}
	logger.Infof("dot-roach round %d visit=%d %s: %d actuators moving", round, visit, r.phase, count(moving))
	return round, nil
}

// measure maps fluxes to actuators and normalizes them by the lamp response
// seen through the monitoring fibers, relative to round 0.
func (r *Run) measure(visit, round int, fluxPerFiber map[int]float64) []Entry {
	monitoring := r.mask.MonitoringFibers()
	lamp := 0.0
	for fiber := range monitoring {
		if flux, ok := fluxPerFiber[fiber]; ok && !math.IsNaN(flux) {
			lamp += flux
		}
	}
	if lamp == 0 {
		lamp = r.defaultMonitoring
	}
	if !r.normSet {
		r.normFactor = lamp
		r.normSet = true
	}
	scale := r.normFactor / lamp

	entries := make([]Entry, r.mask.Len())
	for i, a := range r.mask.Actuators {
		flux, ok := fluxPerFiber[a.FiberID]
		if !ok {
			flux = math.NaN()
		}
		entries[i] = Entry{
			Round:    round,
			Visit:    visit,
			CobraID:  a.CobraID,
			FiberID:  a.FiberID,
			Flux:     flux,
			FluxNorm: flux * scale,
		}
	}
	return entries
}

// decide applies the stopping rule to every actuator still moving.
func (r *Run) decide(entries []Entry) []bool {
	prev := r.history.Last()
	moving := make([]bool, len(entries))
	for i := range entries {
		series := append(r.history.Series(i), entries[i].FluxNorm)
		ratios := make([]float64, len(series))
		for k, v := range series {
			ratios[k] = v / series[0]
		}
		n := len(ratios)
		entries[i].Ratio = ratios[n-1]
		entries[i].Gradient = ratios[n-1] - ratios[n-2]

		if !prev[i].KeepMoving {
			continue
		}
		flag := Decide(r.phase, ratios, r.phase1Rounds, r.thresholds)
		r.overshoot[i] = flag == Overshoot
		moving[i] = flag == Continue
	}
	return moving
}

// Phase2 requests the switch to phase 2, applied at the next round.
func (r *Run) Phase2() error {
	if r.phase != Phase1 {
		return fmt.Errorf("%w: %s -> %s", ErrPhase, r.phase, Phase2)
	}
	r.pending = Phase2
	return nil
}

// Phase3 requests the switch to phase 3, applied at the next round.
func (r *Run) Phase3() error {
	if r.phase != Phase2 {
		return fmt.Errorf("%w: %s -> %s", ErrPhase, r.phase, Phase3)
	}
	r.pending = Phase3
	return nil
}

// Phase current phase
func (r *Run) Phase() Phase {
	return r.phase
}

// Finish archives the run directory as v{minVisit} next to it.
func (r *Run) Finish() (string, error) {
	if r.history.Len() == 0 {
		return "", ErrEmptyRun
	}
	dst, err := archive(r.root, r.history.MinVisit())
	if err != nil {
		return "", err
	}
	logger.Infof("dot-roach run archived to %s after %d rounds", dst, r.history.Len())
	return dst, nil
}

func (r *Run) Status() Status {
	s := Status{
		Path:   r.historyPath(),
		Phase:  r.phase.String(),
		Rounds: r.history.Len(),
	}
	if last := r.history.Last(); len(last) > 0 {
		s.LastVisit = last[0].Visit
		for _, e := range last {
			if e.KeepMoving {
				s.NumMoving++
			}
		}
	}
	return s
}

func count(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
