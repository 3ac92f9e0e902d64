package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

// TranscriptFetcher fetches a persisted conversation by id. It is satisfied
// by api.Client.
type TranscriptFetcher interface {
	Conversation(ctx context.Context, id string) (models.Conversation, error)
}

// Loader hydrates the store from a persisted conversation when the user
// reopens a past chat.
type Loader struct {
	backend TranscriptFetcher
	store   *Store

	logger *slog.Logger
}

// NewLoader creates a loader writing into store.
func NewLoader(backend TranscriptFetcher, store *Store, logger *slog.Logger) *Loader {
	return &Loader{
		backend: backend,
		store:   store,
		logger:  logger.With(slog.String("module", "loader")),
	}
}

// Load fetches the transcript for id and replaces the store's contents with
// it, invalidating any stream session bound to the previous conversation.
// On fetch failure the store is left in its prior state and the error is
// returned for display; there is no retry.
func (l *Loader) Load(ctx context.Context, id string) (models.Conversation, error) {
	conv, err := l.backend.Conversation(ctx, id)
	if err != nil {
		l.logger.Error("Failed to load conversation",
			slog.String("conversationID", id),
			slog.String("error", err.Error()))
		return models.Conversation{}, fmt.Errorf("load conversation %s: %w", id, err)
	}

	l.store.Reset(conv.ID, conv.Messages)
	return conv, nil
}
