package graph

import "time"

// Role identifies the logical author of a Message.
type Role string

// Recognized Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleAgent     Role = "agent"
)

// MsgType classifies the payload a Message carries.
type MsgType string

// Recognized Message types.
const (
	TypeText       MsgType = "text"
	TypeSystem     MsgType = "system"
	TypeToolCall   MsgType = "tool_call"
	TypeToolResult MsgType = "tool_result"
	TypeError      MsgType = "error"
	TypeData      MsgType = "data"
	TypePrompt    MsgType = "prompt"
	TypeResult    MsgType = "result"
	TypeInterrupt MsgType = "interrupt"
	TypeResume    MsgType = "resume"
	TypeImage     MsgType = "media.image"
	TypeAudio     MsgType = "media.audio"
	TypeVideo     MsgType = "media.video"
)

// ToolCall represents a pending or attached tool invocation carried on a
// Message. Spec.md §3 invariant (e): a Message carrying ToolCalls may only
// be emitted by a node kind that supports tool calls.
type ToolCall struct {
	ID    string
	Name  string
	Input ValueMap
	Index int
}

// StateTransition is one entry in a Message's append-only stateHistory.
// Spec.md §3 invariant (b): stateHistory is monotonic — entry i's From
// equals entry i-1's To (or the message's initial state if i==0).
type StateTransition struct {
	From      ExecutionState
	To        ExecutionState
	Timestamp time.Time
	Reason    string
	NodeID    string
}

// Message is the immutable envelope routed through a Graph. Every mutation
// described in this package produces a new Message value rather than
// mutating the receiver in place (spec.md §3 invariant (c)).
type Message struct {
	ID      string
	Content string
	From    string
	To      string
	Role    Role
	Type    MsgType

	Timestamp time.Time

	ConversationID string
	Thread         string
	ParentID       string

	Data    ValueMap
	Context ValueMap

	GraphID string
	NodeID  string
	RunID   string

	State        ExecutionState
	StateHistory []StateTransition

	ToolCalls []ToolCall

	Priority  int
	TTL       time.Duration
	ExpiresAt *time.Time
	Encrypted bool
}

// Clone returns a deep copy of m. Nodes must treat incoming Messages as
// read-only (spec.md §4.2); Clone is how a Node builds the Message it
// returns without risking aliased map/slice mutation of the caller's copy.
func (m Message) Clone() Message {
	cp := m
	cp.Data = m.Data.Clone()
	cp.Context = m.Context.Clone()

	if m.StateHistory != nil {
		cp.StateHistory = make([]StateTransition, len(m.StateHistory))
		copy(cp.StateHistory, m.StateHistory)
	}
	if m.ToolCalls != nil {
		cp.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Input = tc.Input.Clone()
			cp.ToolCalls[i] = tc
		}
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	return cp
}

// WithContext returns a copy of m whose Context has delta merged in,
// additive per spec.md §3 invariant (d) and the HITL resume protocol in
// §4.10 step 3: caller-provided keys win on collision.
func (m Message) WithContext(delta ValueMap) Message {
	cp := m.Clone()
	cp.Context = m.Context.Merge(delta)
	return cp
}

// WithData returns a copy of m whose Data has delta merged in.
func (m Message) WithData(delta ValueMap) Message {
	cp := m.Clone()
	cp.Data = m.Data.Merge(delta)
	return cp
}

// IsTerminal reports whether m's current state is COMPLETED or FAILED.
func (m Message) IsTerminal() bool {
	return m.State.IsTerminal()
}
