package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prasannaarjun/graphrag-agent/internal/api"
	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

// Backend is the streaming surface the controller consumes. It is satisfied
// by api.Client.
type Backend interface {
	StreamQuery(ctx context.Context, req api.QueryRequest) (io.ReadCloser, error)
}

// Notifier receives transcript updates as they happen, so the UI layer can
// push them to the browser. Calls arrive in the order the mutations were
// applied.
type Notifier interface {
	MessageUpdated(msg models.Message)
	ConversationBound(conversationID string)
	SessionFinished(sess *Session)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// MessageUpdated implements Notifier.
func (NopNotifier) MessageUpdated(models.Message) {}

// ConversationBound implements Notifier.
func (NopNotifier) ConversationBound(string) {}

// SessionFinished implements Notifier.
func (NopNotifier) SessionFinished(*Session) {}

// Submit rejections.
var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrSessionActive = errors.New("an exchange is already in flight")
)

// Text shown in place of the assistant reply when an exchange fails.
// Partially accumulated content is discarded in favor of it.
const (
	failedReplyText    = "Sorry, something went wrong while answering. Please try again."
	cancelledReplyText = "Response cancelled."
)

// Controller orchestrates request/response exchanges against the backend
// and translates decoded stream events into transcript mutations. At most
// one exchange is in flight at a time; a second Submit while one is active
// is rejected, not queued.
type Controller struct {
	backend  Backend
	store    *Store
	notifier Notifier
	modelID  string

	logger *slog.Logger

	mu     sync.Mutex
	active *Session
}

// NewController creates a controller writing into store. modelID is the
// preferred model forwarded with each query; empty lets the backend choose.
func NewController(backend Backend, store *Store, notifier Notifier, modelID string, logger *slog.Logger) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Controller{
		backend:  backend,
		store:    store,
		notifier: notifier,
		modelID:  modelID,
		logger:   logger.With(slog.String("module", "chat")),
	}
}

// SetModel changes the preferred model for subsequent submissions. An
// exchange already in flight keeps the model it was submitted with.
func (c *Controller) SetModel(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelID = modelID
}

// Active returns the session currently in flight, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.Active() {
		return c.active
	}
	return nil
}

// Submit starts a new exchange for the given user input. It appends the
// user message and an empty placeholder assistant message to the transcript
// immediately (optimistic echo), then streams the reply into the
// placeholder from a background goroutine. It returns ErrEmptyMessage for
// blank input and ErrSessionActive while another exchange is in flight; in
// both cases the transcript is untouched.
func (c *Controller) Submit(ctx context.Context, text string) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.Active() {
		return nil, ErrSessionActive
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	if err := c.store.Append(userMsg); err != nil {
		return nil, err
	}
	placeholder := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	if err := c.store.Append(placeholder); err != nil {
		return nil, err
	}

	sess := newSession(c.store.Epoch(), c.store.ConversationID(), userMsg.ID, placeholder.ID)
	if err := sess.fsm.Fire(triggerSubmit); err != nil {
		return nil, err
	}
	c.active = sess

	c.notifier.MessageUpdated(userMsg)
	c.notifier.MessageUpdated(placeholder)

	// The exchange must survive the submitting request's lifetime; only an
	// explicit Cancel aborts it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel

	go c.run(runCtx, sess, text, c.modelID)

	return sess, nil
}

func (c *Controller) run(ctx context.Context, sess *Session, text, modelID string) {
	defer close(sess.done)
	defer sess.cancel()

	body, err := c.backend.StreamQuery(ctx, api.QueryRequest{
		Message:        text,
		ConversationID: sess.ConversationID(),
		ModelID:        modelID,
	})
	if err != nil {
		reason := FailReasonRejected
		if ctx.Err() != nil {
			reason = FailReasonCancelled
		}
		c.fail(sess, reason, err)
		return
	}
	defer body.Close()

	if err := sess.fsm.Fire(triggerStreamOpened); err != nil {
		c.fail(sess, FailReasonInterrupted, err)
		return
	}

	for ev, err := range api.Events(body) {
		if err != nil {
			reason := FailReasonInterrupted
			if ctx.Err() != nil {
				reason = FailReasonCancelled
			}
			c.fail(sess, reason, err)
			return
		}

		switch ev.Kind {
		case api.EventConversationID:
			// First occurrence wins; later ids are ignored.
			if sess.bindConversation(ev.ConversationID) {
				if c.store.Bind(sess.epoch, ev.ConversationID) {
					c.notifier.ConversationBound(ev.ConversationID)
				}
			}
		case api.EventFragment:
			if c.store.AppendContent(sess.assistantID, ev.Fragment) {
				if msg, ok := c.store.Message(sess.assistantID); ok {
					c.notifier.MessageUpdated(msg)
				}
			}
		}
	}

	if err := sess.fsm.Fire(triggerCompleted); err != nil {
		c.logger.Error("Session completion transition failed", slog.String("error", err.Error()))
	}
	c.notifier.SessionFinished(sess)
}

func (c *Controller) fail(sess *Session, reason FailReason, cause error) {
	sess.err = cause
	sess.failReason = reason
	if err := sess.fsm.Fire(triggerFailed); err != nil {
		c.logger.Error("Session failure transition failed", slog.String("error", err.Error()))
	}

	replyText := failedReplyText
	if reason == FailReasonCancelled {
		replyText = cancelledReplyText
	}
	if c.store.SetContent(sess.assistantID, replyText) {
		if msg, ok := c.store.Message(sess.assistantID); ok {
			c.notifier.MessageUpdated(msg)
		}
	}

	c.logger.Error("Exchange failed",
		slog.String("reason", string(reason)),
		slog.String("error", cause.Error()))
	c.notifier.SessionFinished(sess)
}
