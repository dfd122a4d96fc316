package agent

import "fmt"

// Phase is the state of one turn in the conversation state machine.
//
//	Idle ──> AwaitingModel ──> Streaming ──> Done
//	  │            │               │
//	  │            └──> Done       └──> ExecutingTools ──> AwaitingModel
//	  └──> Done                                   └──> Done
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingModel
	PhaseStreaming
	PhaseExecutingTools
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhaseStreaming:
		return "streaming"
	case PhaseExecutingTools:
		return "executing_tools"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseAwaitingModel, PhaseDone},
	PhaseAwaitingModel:  {PhaseStreaming, PhaseDone},
	PhaseStreaming:      {PhaseExecutingTools, PhaseDone},
	PhaseExecutingTools: {PhaseAwaitingModel, PhaseDone},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PhaseObserver is notified of every phase change of a turn.
type PhaseObserver func(sessionID string, from, to Phase)
