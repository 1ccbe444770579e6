package evo

import (
	"fmt"

	"melodist/internal/model"
)

// State is a phase of the controller's generational loop.
type State int

const (
	StateSeeding State = iota
	StateEvaluating
	StateRanking
	StateBreeding
	StateCancelling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSeeding:
		return "seeding"
	case StateEvaluating:
		return "evaluating"
	case StateRanking:
		return "ranking"
	case StateBreeding:
		return "breeding"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validTransitions lists the successors of each state. Cancelling is reachable
// from every state except Done.
var validTransitions = map[State][]State{
	StateSeeding:    {StateEvaluating, StateCancelling},
	StateEvaluating: {StateRanking, StateCancelling},
	StateRanking:    {StateBreeding, StateDone, StateCancelling},
	StateBreeding:   {StateEvaluating, StateCancelling},
	StateCancelling: {StateDone},
	StateDone:       nil,
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GenerationReport is emitted once per fully ranked generation.
type GenerationReport struct {
	Generation  int
	Best        model.ScoredChromosome
	Diagnostics model.GenerationDiagnostics
	Evaluations int
}

// Observer receives controller progress. Implementations must not block for
// long and have no way to influence the run.
type Observer interface {
	StateChanged(state State, generation int)
	GenerationRanked(report GenerationReport)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnState      func(state State, generation int)
	OnGeneration func(report GenerationReport)
}

func (o ObserverFuncs) StateChanged(state State, generation int) {
	if o.OnState != nil {
		o.OnState(state, generation)
	}
}

func (o ObserverFuncs) GenerationRanked(report GenerationReport) {
	if o.OnGeneration != nil {
		o.OnGeneration(report)
	}
}
