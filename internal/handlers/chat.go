package handlers

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prasannaarjun/graphrag-agent/internal/chat"
	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

// message is the template view of one transcript entry.
type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

type chatPageData struct {
	Conversations []models.ConversationSummary
	ActiveID      string
	Messages      []message
	Notice        string
}

// HandleChatPage renders the chat surface. With a conversation_id query
// parameter it loads that persisted transcript first; a load failure keeps
// the currently open conversation and shows a notice instead. Without the
// parameter, a fresh visit resumes the last opened conversation.
func (m *Main) HandleChatPage(w http.ResponseWriter, r *http.Request) {
	notice := ""

	conversationID := r.URL.Query().Get("conversation_id")
	resuming := false
	if conversationID == "" && m.store.ConversationID() == "" && len(m.store.Messages()) == 0 {
		if settings, err := m.settings.Settings(); err == nil && settings.LastConversation != "" {
			conversationID = settings.LastConversation
			resuming = true
		}
	}
	if conversationID != "" && conversationID != m.store.ConversationID() {
		if _, err := m.loader.Load(r.Context(), conversationID); err != nil {
			if m.redirectOnUnauthorized(w, r, err) {
				return
			}
			if resuming {
				// The remembered conversation may have been deleted on the
				// backend; forget it and start fresh.
				m.rememberConversation("")
			} else {
				notice = "Could not load the conversation. Showing the previous one."
			}
		} else if !resuming {
			m.rememberConversation(conversationID)
		}
	}

	conversations, err := m.backend.Conversations(r.Context())
	if err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to list conversations", slog.String(errLoggerKey, err.Error()))
	}

	data := chatPageData{
		Conversations: conversations,
		ActiveID:      m.store.ConversationID(),
		Messages:      m.viewMessages(),
		Notice:        notice,
	}
	if err := m.templates.ExecuteTemplate(w, "chat.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChatMessage accepts a user message from the chat form, starts a new
// exchange, and renders the optimistic echo: the user message plus the
// streaming placeholder the browser then follows over SSE.
func (m *Main) HandleChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := m.controller.Submit(r.Context(), r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrSessionActive):
		http.Error(w, "A reply is still streaming", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userMsg, _ := m.store.Message(sess.UserMessageID())
	if err := m.templates.ExecuteTemplate(w, "user_message", m.viewMessage(userMsg, "ended")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	placeholder, _ := m.store.Message(sess.AssistantMessageID())
	if err := m.templates.ExecuteTemplate(w, "ai_message", m.viewMessage(placeholder, "loading")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleCancel aborts the exchange currently in flight, if any.
func (m *Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if sess := m.controller.Active(); sess != nil {
		sess.Cancel()
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleNewChat resets the open conversation. The next submission starts a
// fresh one; the backend assigns its id on the first response.
func (m *Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	m.store.Clear()
	m.rememberConversation("")
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// HandleDeleteConversation removes a stored conversation on the backend. If
// it is the open one, the local transcript is cleared too.
func (m *Main) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := m.backend.DeleteConversation(r.Context(), id); err != nil {
		if m.redirectOnUnauthorized(w, r, err) {
			return
		}
		m.logger.Error("Failed to delete conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if m.store.ConversationID() == id {
		m.store.Clear()
		m.rememberConversation("")
	}
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (m *Main) viewMessages() []message {
	msgs := m.store.Messages()
	out := make([]message, len(msgs))

	active := m.controller.Active()
	for i, msg := range msgs {
		state := "ended"
		if active != nil && msg.ID == active.AssistantMessageID() {
			state = "loading"
		}
		out[i] = m.viewMessage(msg, state)
	}
	return out
}

func (m *Main) viewMessage(msg models.Message, streamingState string) message {
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        m.renderMarkdown(msg.Content),
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}
}

// rememberConversation records the last opened conversation so the next
// visit can resume it.
func (m *Main) rememberConversation(id string) {
	settings, err := m.settings.Settings()
	if err != nil {
		m.logger.Error("Failed to read settings", slog.String(errLoggerKey, err.Error()))
		return
	}
	settings.LastConversation = id
	if err := m.settings.SaveSettings(settings); err != nil {
		m.logger.Error("Failed to save settings", slog.String(errLoggerKey, err.Error()))
	}
}
