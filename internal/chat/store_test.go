package chat

import (
	"testing"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(id, content string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Content: content}
}

func assistantMsg(id, content string) models.Message {
	return models.Message{ID: id, Role: models.RoleAssistant, Content: content}
}

func TestStoreAppendPairing(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.Append(userMsg("u1", "hi")))
	require.NoError(t, store.Append(assistantMsg("a1", "")))
	require.NoError(t, store.Append(userMsg("u2", "again")))

	// Two user entries in a row break the pairing.
	err := store.Append(userMsg("u3", "too soon"))
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// Assistant may not start a transcript.
	fresh := NewStore()
	err = fresh.Append(assistantMsg("a1", "orphan"))
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// Unknown roles are rejected outright.
	err = fresh.Append(models.Message{ID: "x", Role: "system"})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestStoreAppendContent(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Append(userMsg("u1", "hi")))
	require.NoError(t, store.Append(assistantMsg("a1", "")))

	assert.True(t, store.AppendContent("a1", "Hel"))
	assert.True(t, store.AppendContent("a1", "lo"))

	msg, ok := store.Message("a1")
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)

	// Unknown id is a silent no-op.
	assert.False(t, store.AppendContent("missing", "lost"))
	assert.Len(t, store.Messages(), 2)
}

func TestStoreBindFirstWins(t *testing.T) {
	store := NewStore()
	epoch := store.Epoch()

	assert.True(t, store.Bind(epoch, "c1"))
	assert.Equal(t, "c1", store.ConversationID())

	// A later bind never overwrites the identity.
	assert.False(t, store.Bind(epoch, "c2"))
	assert.Equal(t, "c1", store.ConversationID())
}

func TestStoreBindStaleEpoch(t *testing.T) {
	store := NewStore()
	epoch := store.Epoch()

	store.Reset("loaded", nil)

	assert.False(t, store.Bind(epoch, "c1"))
	assert.Equal(t, "loaded", store.ConversationID())
}

func TestStoreResetInvalidatesMutations(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Append(userMsg("u1", "hi")))
	require.NoError(t, store.Append(assistantMsg("a1", "partial")))

	store.Reset("c9", []models.Message{
		userMsg("m1", "earlier question"),
		assistantMsg("m2", "earlier answer"),
	})

	// Mutations keyed on the old placeholder id fall through.
	assert.False(t, store.AppendContent("a1", "late fragment"))
	assert.False(t, store.SetContent("a1", "late replace"))

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier question", msgs[0].Content)
	assert.Equal(t, "earlier answer", msgs[1].Content)
}

func TestStoreMessagesSnapshot(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Append(userMsg("u1", "hi")))

	snap := store.Messages()
	snap[0].Content = "mutated"

	msg, ok := store.Message("u1")
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Content)
}

func TestStoreClear(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Append(userMsg("u1", "hi")))
	store.Bind(store.Epoch(), "c1")

	epoch := store.Epoch()
	store.Clear()

	assert.Empty(t, store.ConversationID())
	assert.Empty(t, store.Messages())
	assert.NotEqual(t, epoch, store.Epoch())
}
