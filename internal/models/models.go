package models

import "time"

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a reply produced by the remote assistant.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation transcript. The ID is assigned
// locally for entries that have not been persisted yet, and by the backend for
// entries loaded from a stored conversation. Role is fixed at creation;
// Content of an assistant message grows while its reply is streaming and is
// frozen once the exchange terminates.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the identity and transcript of one chat session. ID is
// empty until the backend assigns one on the first response.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// ConversationSummary is a list entry for the conversation sidebar and the
// dashboard recents card.
type ConversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
}

// Document describes an uploaded document as reported by the backend.
type Document struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Chunks     int    `json:"chunks"`
	Status     string `json:"status"`
	UploadedAt string `json:"uploaded_at"`
}

// ModelInfo describes one language model offered by the backend.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Health is the backend health report shown on the dashboard.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Settings holds the locally persisted UI preferences.
type Settings struct {
	APIToken         string `json:"api_token"`
	PreferredModel   string `json:"preferred_model"`
	LastConversation string `json:"last_conversation"`
}
