package chat

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// State is the lifecycle state of one stream session.
type State stateless.State

// Session lifecycle states. Completed and Failed are terminal; a new
// submission always constructs a fresh session.
var (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type sessionTrigger stateless.Trigger

var (
	triggerSubmit       sessionTrigger = "Submit"
	triggerStreamOpened sessionTrigger = "StreamOpened"
	triggerCompleted    sessionTrigger = "Completed"
	triggerFailed       sessionTrigger = "Failed"
)

// FailReason distinguishes why a session ended in StateFailed.
type FailReason string

const (
	// FailReasonRejected covers a non-success status or network failure
	// before any bytes of the stream arrived.
	FailReasonRejected FailReason = "rejected"
	// FailReasonInterrupted covers a transport read failing after
	// streaming began.
	FailReasonInterrupted FailReason = "interrupted"
	// FailReasonCancelled covers an explicit cancel of the exchange.
	FailReasonCancelled FailReason = "cancelled"
)

// Session is the transient state of one request/response exchange. It is
// exclusively owned by the controller and never shared across concurrent
// sends.
type Session struct {
	mu             sync.Mutex
	conversationID string

	userMessageID string
	assistantID   string
	epoch         uint64

	fsm    *stateless.StateMachine
	cancel context.CancelFunc

	done       chan struct{}
	err        error
	failReason FailReason
}

func newSession(epoch uint64, conversationID, userMessageID, assistantID string) *Session {
	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(triggerSubmit, StateSending)
	fsm.Configure(StateSending).
		Permit(triggerStreamOpened, StateStreaming).
		Permit(triggerFailed, StateFailed)
	fsm.Configure(StateStreaming).
		Permit(triggerCompleted, StateCompleted).
		Permit(triggerFailed, StateFailed)

	return &Session{
		conversationID: conversationID,
		userMessageID:  userMessageID,
		assistantID:    assistantID,
		epoch:          epoch,
		fsm:            fsm,
		done:           make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.fsm.MustState())
}

// Active reports whether the exchange is still in flight.
func (s *Session) Active() bool {
	st := s.State()
	return st == StateSending || st == StateStreaming
}

// ConversationID returns the conversation id the session is bound to, or ""
// if the backend has not assigned one yet. The binding may arrive at any
// point while the session streams.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// bindConversation records the backend-assigned id. The first bind wins; it
// reports whether this call was the one that bound.
func (s *Session) bindConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != "" {
		return false
	}
	s.conversationID = id
	return true
}

// AssistantMessageID returns the id of the placeholder assistant message the
// session streams into.
func (s *Session) AssistantMessageID() string {
	return s.assistantID
}

// UserMessageID returns the id of the user message that triggered the
// exchange.
func (s *Session) UserMessageID() string {
	return s.userMessageID
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error of a failed session, nil otherwise. Only
// valid after Done is closed.
func (s *Session) Err() error {
	return s.err
}

// FailReason returns why the session failed. Only valid after Done is
// closed and State is StateFailed.
func (s *Session) FailReason() FailReason {
	return s.failReason
}

// Cancel aborts the underlying transport read. The session transitions to
// StateFailed with FailReasonCancelled once the read unwinds.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
