package pipeline

import (
	"errors"
	"fmt"
)

// State is a phase of one render.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StatePreparing  State = "preparing"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. Every path
// after Idle reaches Finalizing exactly once.
var validTransitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StatePreparing, StateFinalizing},
	StatePreparing:  {StateRunning, StateFinalizing},
	StateRunning:    {StateFinalizing},
	StateFinalizing: {StateCompleted, StateFailed},
	StateCompleted:  {},
	StateFailed:     {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends a render.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// stateMachine tracks the state of one render and notifies an observer.
type stateMachine struct {
	current  State
	history  []State
	observer func(State)
}

func newStateMachine(observer func(State)) *stateMachine {
	return &stateMachine{current: StateIdle, history: []State{StateIdle}, observer: observer}
}

// to moves to next. An invalid move is a programming error and panics.
func (m *stateMachine) to(next State) {
	if !canTransition(m.current, next) {
		panic(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next))
	}
	m.current = next
	m.history = append(m.history, next)
	if m.observer != nil {
		m.observer(next)
	}
}
