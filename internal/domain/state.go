package domain

import "fmt"

// CycleState is the reasoning-loop state stored on a conversation.
type CycleState string

const (
	StateIdle          CycleState = "idle"
	StateAwaitingModel CycleState = "awaiting_model"
	StateExecutingTool CycleState = "executing_tool"
	StateHealing       CycleState = "healing"
	StateDone          CycleState = "done"
)

var cycleTransitions = map[CycleState][]CycleState{
	StateIdle:          {StateAwaitingModel, StateDone},
	StateAwaitingModel: {StateAwaitingModel, StateExecutingTool, StateDone},
	StateExecutingTool: {StateIdle, StateHealing, StateDone},
	StateHealing:       {StateIdle, StateDone},
	StateDone:          {StateAwaitingModel, StateIdle},
}

// CanTransition reports whether the loop may move from s to next.
// A new user message may restart a finished conversation, and a retried
// cycle job may re-enter AwaitingModel.
func (s CycleState) CanTransition(next CycleState) bool {
	if s == "" {
		s = StateIdle
	}
	for _, allowed := range cycleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next, or ErrInvalidTransition when the move is not allowed.
func (s CycleState) Transition(next CycleState) (CycleState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
