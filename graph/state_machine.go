package graph

import "time"

// ExecutionState is the machine-enforced lifecycle position of a Message.
// See spec.md §4.1.
type ExecutionState string

// The five states a Message can occupy.
const (
	StateReady     ExecutionState = "READY"
	StateRunning   ExecutionState = "RUNNING"
	StateWaiting   ExecutionState = "WAITING"
	StateCompleted ExecutionState = "COMPLETED"
	StateFailed    ExecutionState = "FAILED"
)

// IsTerminal reports whether s is a final state (COMPLETED or FAILED).
func (s ExecutionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// allowedTransitions encodes the table from spec.md §4.1. RUNNING→RUNNING
// is the self-transition a node performs "on advance" within a run.
var allowedTransitions = map[ExecutionState]map[ExecutionState]bool{
	StateReady: {
		StateRunning: true,
	},
	StateRunning: {
		StateWaiting:   true,
		StateCompleted: true,
		StateFailed:    true,
		StateRunning:   true,
	},
	StateWaiting: {
		StateRunning: true,
	},
	StateCompleted: {},
	StateFailed:    {},
}

// ExecutionStateMachine validates and performs state transitions on
// Messages. It is stateless: every method takes the Message it operates on
// and returns a new Message rather than holding its own state.
type ExecutionStateMachine struct{}

// NewExecutionStateMachine constructs a ready-to-use ExecutionStateMachine.
func NewExecutionStateMachine() *ExecutionStateMachine {
	return &ExecutionStateMachine{}
}

// CanTransition reports whether from→to is an allowed transition.
func (sm *ExecutionStateMachine) CanTransition(from, to ExecutionState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// ValidateHistory checks that m.StateHistory is internally consistent:
// each entry's From equals the previous entry's To, and the first entry's
// From equals the state the message started in (the caller passes the
// expected initial state; for a fresh Message this is StateReady).
func (sm *ExecutionStateMachine) ValidateHistory(m Message) error {
	for i, entry := range m.StateHistory {
		if i == 0 {
			continue
		}
		prev := m.StateHistory[i-1]
		if entry.From != prev.To {
			return &GraphError{
				Code:    CodeValidationError,
				Message: "stateHistory is not monotonic: entry " + itoa(i) + " From does not equal previous To",
				Context: map[string]interface{}{"index": i},
			}
		}
	}
	if len(m.StateHistory) > 0 {
		last := m.StateHistory[len(m.StateHistory)-1]
		if last.To != m.State {
			return &GraphError{
				Code:    CodeValidationError,
				Message: "message state does not match last stateHistory entry",
			}
		}
	}
	return nil
}

// TransitionTo validates and performs a state transition, appending a new
// StateTransition to the returned Message's history. It never mutates m.
func (sm *ExecutionStateMachine) TransitionTo(m Message, newState ExecutionState, reason, nodeID string) (Message, error) {
	if !sm.CanTransition(m.State, newState) {
		return Message{}, &GraphError{
			Code:    CodeValidationError,
			Message: "invalid state transition from " + string(m.State) + " to " + string(newState),
			Context: map[string]interface{}{
				"from": string(m.State),
				"to":   string(newState),
			},
		}
	}

	out := m.Clone()
	entry := StateTransition{
		From:      m.State,
		To:        newState,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		NodeID:    nodeID,
	}
	out.StateHistory = append(out.StateHistory, entry)
	out.State = newState
	return out, nil
}

// itoa avoids pulling in strconv just for this one error-message formatting
// call site; kept tiny and local to this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
