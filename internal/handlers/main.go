package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	graphragagent "github.com/prasannaarjun/graphrag-agent"
	"github.com/prasannaarjun/graphrag-agent/internal/api"
	"github.com/prasannaarjun/graphrag-agent/internal/chat"
	"github.com/prasannaarjun/graphrag-agent/internal/models"
	"github.com/prasannaarjun/graphrag-agent/internal/services"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	highlighting "github.com/yuin/goldmark-highlighting"
)

// Backend defines the remote service surface the UI consumes. It is
// satisfied by api.Client; tests provide mocks.
type Backend interface {
	StreamQuery(ctx context.Context, req api.QueryRequest) (io.ReadCloser, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	Documents(ctx context.Context) ([]models.Document, error)
	UploadDocument(ctx context.Context, filename string, r io.Reader) (models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	Models(ctx context.Context) ([]models.ModelInfo, error)
	Health(ctx context.Context) (models.Health, error)
}

// Main handles the web interface: the dashboard, the document library and
// the chat surface. Streaming transcript updates are pushed to the browser
// through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	backend    Backend
	settings   services.BoltDB
	store      *chat.Store
	controller *chat.Controller
	loader     *chat.Loader

	logger *slog.Logger
}

const errLoggerKey = "error"

const conversationsSSETopic = "conversations"

// SSE event types for real-time updates.
var (
	messagesSSEType      = sse.Type("messages")
	conversationsSSEType = sse.Type("conversations")
	closeMessageSSEType  = sse.Type("closeMessage")
)

// NewMain creates the handler set. It parses the embedded HTML templates,
// configures the SSE server topics, and wires the chat core (store,
// controller, loader) against the backend.
func NewMain(backend Backend, settings services.BoltDB, logger *slog.Logger) (*Main, error) {
	tmpl, err := template.ParseFS(
		graphragagent.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	saved, err := settings.Settings()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	store := chat.NewStore()
	m := &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, conversationsSSETopic}

				// Clients streaming one assistant reply subscribe to the
				// topic of its placeholder message.
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
			),
		),
		backend:  backend,
		settings: settings,
		store:    store,
		logger:   logger.With(slog.String("module", "handlers")),
	}
	m.controller = chat.NewController(backend, store, m, saved.PreferredModel, logger)
	m.loader = chat.NewLoader(backend, store, logger)

	return m, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// HandleSSE serves the browser-facing event stream.
func (m *Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for
// connections to terminate.
func (m *Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// MessageUpdated implements chat.Notifier. It re-renders the updated
// message and publishes it to the message's SSE topic.
func (m *Main) MessageUpdated(msg models.Message) {
	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(string(m.renderMarkdown(msg.Content)))
	if err := m.sseSrv.Publish(e, messageIDTopic(msg.ID)); err != nil {
		m.logger.Error("Failed to publish message update",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// ConversationBound implements chat.Notifier. It informs the browser that
// the open conversation received its server-assigned id.
func (m *Main) ConversationBound(conversationID string) {
	e := &sse.Message{Type: conversationsSSEType}
	e.AppendData(conversationID)
	if err := m.sseSrv.Publish(e, conversationsSSETopic); err != nil {
		m.logger.Error("Failed to publish conversation id",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// SessionFinished implements chat.Notifier. It closes the per-message
// stream on the browser side.
func (m *Main) SessionFinished(sess *chat.Session) {
	e := &sse.Message{Type: closeMessageSSEType}
	e.AppendData("bye")
	if err := m.sseSrv.Publish(e, messageIDTopic(sess.AssistantMessageID())); err != nil {
		m.logger.Error("Failed to publish session finish",
			slog.String(errLoggerKey, err.Error()))
	}
}

// renderMarkdown converts assistant markdown into HTML for the templates.
// On conversion failure the raw content is escaped and returned as-is.
func (m *Main) renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(content), &buf); err != nil {
		m.logger.Error("Failed to render markdown", slog.String(errLoggerKey, err.Error()))
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(buf.String())
}

// redirectOnUnauthorized sends the browser to the settings page when the
// backend rejected the credential. It reports whether it handled the error.
func (m *Main) redirectOnUnauthorized(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	http.Redirect(w, r, "/settings?notice=credential", http.StatusSeeOther)
	return true
}
