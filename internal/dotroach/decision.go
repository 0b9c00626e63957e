package dotroach

import (
	"math"

	"drpactor/pkg/config"
)

// Phase of a dot-roach run. Phases only change on operator command.
type Phase int

const (
	Phase1 Phase = iota + 1
	Phase2
	Phase3
)

func (p Phase) String() string {
	switch p {
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	case Phase3:
		return "phase3"
	default:
		return "none"
	}
}

// ParsePhase is the inverse of String. Unknown names map to 0.
func ParsePhase(s string) Phase {
	for _, p := range []Phase{Phase1, Phase2, Phase3} {
		if p.String() == s {
			return p
		}
	}
	return 0
}

// Flag per-round decision for one actuator
type Flag int

const (
	Continue Flag = iota
	Stop
	Overshoot
)

// Thresholds stopping rule tuning
type Thresholds struct {
	Goal      float64 // phase 1 target ratio
	Gain      float64 // phase 2 minimal relative gain
	Overshoot float64 // ratio below which a rising signal means overshoot
}

// ThresholdsFrom reads the thresholds from configuration.
func ThresholdsFrom(cfg config.DotRoachConfig) Thresholds {
	return Thresholds{
		Goal:      cfg.GoalThreshold,
		Gain:      cfg.GainThreshold,
		Overshoot: cfg.OvershootRatio,
	}
}

// Decide applies the stopping rule to a ratio series (ratios[0] is the
// round 0 reference). phase1Rounds is the number of leading rounds recorded
// during phase 1; phase 2 only stops an actuator that beat all of them.
func Decide(phase Phase, ratios []float64, phase1Rounds int, th Thresholds) Flag {
	n := len(ratios)
	if n < 2 {
		return Continue
	}
	last := ratios[n-1]
	gradient := last - ratios[n-2]
	gain := gradient / last

	switch {
	case phase == Phase1 && last < th.Goal:
		return Stop
	case phase == Phase2 && gain < th.Gain && last < minRatio(ratios[:clamp(phase1Rounds, 1, n)]):
		return Stop
	case minRatio(ratios) < th.Overshoot && gradient > 0:
		return Overshoot
	}
	return Continue
}

// minRatio propagates NaN so an unmeasured round never triggers a stop.
func minRatio(values []float64) float64 {
	lowest := math.Inf(1)
	for _, v := range values {
		lowest = math.Min(lowest, v)
	}
	return lowest
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
