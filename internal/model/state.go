package model

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a record is asked to move to a state
// its current state cannot reach. Callers log it and carry on.
var ErrIllegalTransition = errors.New("illegal state transition")

// RecordState lifecycle state shared by exposures and visits
type RecordState string

const (
	StateUnknown   RecordState = "unknown"   // Pending, nothing attempted yet
	StateIngesting RecordState = "ingesting" // Ingest job outstanding
	StateIngested  RecordState = "ingested"  // Every member registered in the datastore
	StateReducing  RecordState = "reducing"  // Reduction job outstanding or products awaited
	StateIdle      RecordState = "idle"      // Terminal for the current pass, see Outcome
)

func (s RecordState) String() string {
	return string(s)
}

// Outcome qualifies StateIdle
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed" // products never materialized
)

// legalTransitions lists the states reachable from each state.
var legalTransitions = map[RecordState][]RecordState{
	StateUnknown:   {StateIngesting, StateIngested},
	StateIngesting: {StateIngested, StateUnknown},
	StateIngested:  {StateReducing},
	StateReducing:  {StateIdle},
	StateIdle:      {StateReducing},
}

// CanTransitionTo reports whether to is reachable from s.
func (s RecordState) CanTransitionTo(to RecordState) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Lifecycle is embedded by every tracked record.
type Lifecycle struct {
	State   RecordState `json:"state"`
	Outcome Outcome     `json:"outcome,omitempty"`
}

// CurrentState returns the state, treating the zero value as StateUnknown.
func (l *Lifecycle) CurrentState() RecordState {
	if l.State == "" {
		return StateUnknown
	}
	return l.State
}

// Transition moves the record to state to. Re-entering the current state is a
// no-op. Any other move outside the transition table leaves the record
// untouched and returns ErrIllegalTransition.
func (l *Lifecycle) Transition(to RecordState) error {
	from := l.CurrentState()
	if from == to {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	l.State = to
	if to != StateIdle {
		l.Outcome = OutcomeNone
	}
	return nil
}

// Finish moves the record to StateIdle with the given outcome.
func (l *Lifecycle) Finish(outcome Outcome) error {
	if err := l.Transition(StateIdle); err != nil {
		return err
	}
	l.Outcome = outcome
	return nil
}
