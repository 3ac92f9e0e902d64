package chat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

// ErrInvariantViolation is returned by Append when an entry would break the
// user→assistant pairing of the transcript. Under normal controller use this
// never fires.
var ErrInvariantViolation = errors.New("transcript pairing violated")

// Store holds the authoritative in-memory transcript for the open
// conversation. It is the only shared mutable state of the chat core; every
// mutation is serialized through its mutex so observers never see a torn
// update.
//
// Reset bumps an epoch counter. A stream session captures the epoch at
// submit time, and mutations guarded by a stale epoch or an unknown message
// id are silently dropped: a stream racing against a conversation switch
// must not corrupt the new transcript.
type Store struct {
	mu       sync.Mutex
	id       string
	messages []models.Message
	epoch    uint64
}

// NewStore returns an empty store for a fresh conversation.
func NewStore() *Store {
	return &Store{}
}

// ConversationID returns the bound conversation id, or "" when the open
// conversation has not been persisted yet.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Epoch returns the current transcript epoch. Sessions capture it at submit
// time to detect a Reset that happened underneath them.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Messages returns a snapshot of the transcript in causal order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Message returns the entry with the given id, if present.
func (s *Store) Message(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Append adds a message to the end of the transcript. A user entry may only
// follow an assistant entry (or start the transcript), and an assistant
// entry may only follow a user entry.
func (s *Store) Append(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Role {
	case models.RoleUser:
		if len(s.messages) > 0 && s.messages[len(s.messages)-1].Role != models.RoleAssistant {
			return fmt.Errorf("%w: user entry after %s", ErrInvariantViolation, s.messages[len(s.messages)-1].Role)
		}
	case models.RoleAssistant:
		if len(s.messages) == 0 || s.messages[len(s.messages)-1].Role != models.RoleUser {
			return fmt.Errorf("%w: assistant entry without preceding user entry", ErrInvariantViolation)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvariantViolation, msg.Role)
	}

	s.messages = append(s.messages, msg)
	return nil
}

// AppendContent appends a streamed fragment to the message with the given
// id. It reports whether the message was found; a miss is a no-op, not an
// error, since the transcript may have been reset mid-stream.
func (s *Store) AppendContent(msgID, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msgID {
			s.messages[i].Content += fragment
			return true
		}
	}
	return false
}

// SetContent replaces the content of the message with the given id. Like
// AppendContent, a miss is a silent no-op.
func (s *Store) SetContent(msgID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msgID {
			s.messages[i].Content = content
			return true
		}
	}
	return false
}

// Bind ties the open conversation to a backend-assigned id. The first bind
// wins; later binds, or binds from a session whose epoch predates a Reset,
// are dropped.
func (s *Store) Bind(epoch uint64, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.id != "" {
		return false
	}
	s.id = conversationID
	return true
}

// Reset replaces the whole transcript, hydrating it from a loaded
// conversation. Any stream session bound to the previous identity is
// invalidated.
func (s *Store) Reset(conversationID string, messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = conversationID
	s.messages = make([]models.Message, len(messages))
	copy(s.messages, messages)
	s.epoch++
}

// Clear empties the store for a new conversation.
func (s *Store) Clear() {
	s.Reset("", nil)
}
