package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prasannaarjun/graphrag-agent/internal/api"
	"github.com/prasannaarjun/graphrag-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend satisfies Backend with a per-test stream function.
type scriptedBackend struct {
	stream func(ctx context.Context, req api.QueryRequest) (io.ReadCloser, error)
}

func (b *scriptedBackend) StreamQuery(ctx context.Context, req api.QueryRequest) (io.ReadCloser, error) {
	return b.stream(ctx, req)
}

func framesBackend(frames string) *scriptedBackend {
	return &scriptedBackend{
		stream: func(context.Context, api.QueryRequest) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(frames)), nil
		},
	}
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	updates  []models.Message
	bound    []string
	finished []*Session
}

func (n *recordingNotifier) MessageUpdated(msg models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, msg)
}

func (n *recordingNotifier) ConversationBound(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bound = append(n.bound, id)
}

func (n *recordingNotifier) SessionFinished(sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, sess)
}

func (n *recordingNotifier) boundIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.bound))
	copy(out, n.bound)
	return out
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// gatedBody blocks the first read until released, so a test can interleave
// store operations with the stream.
type gatedBody struct {
	gate   <-chan struct{}
	reader io.Reader
	once   sync.Once
}

func (b *gatedBody) Read(p []byte) (int, error) {
	b.once.Do(func() { <-b.gate })
	return b.reader.Read(p)
}

func (b *gatedBody) Close() error { return nil }

// blockingBody blocks reads until the request context is cancelled.
type blockingBody struct {
	ctx context.Context
}

func (b *blockingBody) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error { return nil }

func TestSubmitSimpleExchange(t *testing.T) {
	backend := framesBackend(
		"data: {\"type\":\"start\",\"conversation_id\":\"c1\"}\n" +
			"data: {\"type\":\"chunk\",\"content\":\"Hel\"}\n" +
			"data: {\"type\":\"chunk\",\"content\":\"lo\"}\n" +
			"data: {\"type\":\"end\",\"message_id\":\"m2\"}\n" +
			"data: [DONE]\n")
	store := NewStore()
	notifier := &recordingNotifier{}
	ctrl := NewController(backend, store, notifier, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)

	// The optimistic echo lands before the backend answers.
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	waitDone(t, sess)

	assert.Equal(t, StateCompleted, sess.State())
	assert.NoError(t, sess.Err())
	assert.Equal(t, "c1", store.ConversationID())
	assert.Equal(t, []string{"c1"}, notifier.boundIDs())

	reply, ok := store.Message(sess.AssistantMessageID())
	require.True(t, ok)
	assert.Equal(t, "Hello", reply.Content)
}

func TestSubmitEmptyMessage(t *testing.T) {
	store := NewStore()
	ctrl := NewController(framesBackend("data: [DONE]\n"), store, nil, "", testLogger())

	_, err := ctrl.Submit(context.Background(), "   \n")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, store.Messages())
}

func TestSubmitRejectedRequest(t *testing.T) {
	rejection := errors.New("status 500")
	backend := &scriptedBackend{
		stream: func(context.Context, api.QueryRequest) (io.ReadCloser, error) {
			return nil, rejection
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	assert.Equal(t, StateFailed, sess.State())
	assert.Equal(t, FailReasonRejected, sess.FailReason())
	assert.ErrorIs(t, sess.Err(), rejection)

	reply, ok := store.Message(sess.AssistantMessageID())
	require.True(t, ok)
	assert.Equal(t, failedReplyText, reply.Content)
}

func TestSubmitMidStreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	backend := &scriptedBackend{
		stream: func(context.Context, api.QueryRequest) (io.ReadCloser, error) {
			r := io.MultiReader(
				strings.NewReader("data: {\"content\":\"Par\"}\n"),
				&failingReader{err: boom},
			)
			return io.NopCloser(r), nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	assert.Equal(t, StateFailed, sess.State())
	assert.Equal(t, FailReasonInterrupted, sess.FailReason())

	// The partial "Par" is discarded in favor of the fixed text.
	reply, ok := store.Message(sess.AssistantMessageID())
	require.True(t, ok)
	assert.Equal(t, failedReplyText, reply.Content)
}

func TestSubmitBackendErrorFrame(t *testing.T) {
	backend := framesBackend("data: {\"type\":\"error\",\"error\":\"model overloaded\"}\n")
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	assert.Equal(t, StateFailed, sess.State())
	assert.Equal(t, FailReasonInterrupted, sess.FailReason())
	require.Error(t, sess.Err())
	assert.Contains(t, sess.Err().Error(), "model overloaded")
}

func TestSubmitRejectsConcurrentExchange(t *testing.T) {
	backend := &scriptedBackend{
		stream: func(ctx context.Context, _ api.QueryRequest) (io.ReadCloser, error) {
			return &blockingBody{ctx: ctx}, nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = ctrl.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Len(t, store.Messages(), 2)

	sess.Cancel()
	waitDone(t, sess)
}

func TestCancelActiveExchange(t *testing.T) {
	backend := &scriptedBackend{
		stream: func(ctx context.Context, _ api.QueryRequest) (io.ReadCloser, error) {
			return &blockingBody{ctx: ctx}, nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	require.NotNil(t, ctrl.Active())

	sess.Cancel()
	waitDone(t, sess)

	assert.Equal(t, StateFailed, sess.State())
	assert.Equal(t, FailReasonCancelled, sess.FailReason())
	assert.Nil(t, ctrl.Active())

	reply, ok := store.Message(sess.AssistantMessageID())
	require.True(t, ok)
	assert.Equal(t, cancelledReplyText, reply.Content)
}

func TestStaleSessionAfterReset(t *testing.T) {
	gate := make(chan struct{})
	backend := &scriptedBackend{
		stream: func(context.Context, api.QueryRequest) (io.ReadCloser, error) {
			return &gatedBody{
				gate: gate,
				reader: strings.NewReader(
					"data: {\"conversation_id\":\"late\"}\n" +
						"data: {\"content\":\"ghost\"}\n" +
						"data: [DONE]\n"),
			}, nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)

	loaded := []models.Message{
		userMsg("m1", "earlier question"),
		assistantMsg("m2", "earlier answer"),
	}
	store.Reset("other", loaded)

	close(gate)
	waitDone(t, sess)

	// The drained stream neither rebinds the conversation nor touches the
	// loaded transcript.
	assert.Equal(t, "other", store.ConversationID())
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier answer", msgs[1].Content)
}

func TestSubmitForwardsConversationAndModel(t *testing.T) {
	var got api.QueryRequest
	backend := &scriptedBackend{
		stream: func(_ context.Context, req api.QueryRequest) (io.ReadCloser, error) {
			got = req
			return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
		},
	}
	store := NewStore()
	store.Bind(store.Epoch(), "c7")
	ctrl := NewController(backend, store, nil, "gpt-4o", testLogger())

	sess, err := ctrl.Submit(context.Background(), "follow-up")
	require.NoError(t, err)
	waitDone(t, sess)

	assert.Equal(t, "follow-up", got.Message)
	assert.Equal(t, "c7", got.ConversationID)
	assert.Equal(t, "gpt-4o", got.ModelID)
}

func TestSetModelAppliesToNextExchange(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var sent []string
	backend := &scriptedBackend{
		stream: func(_ context.Context, req api.QueryRequest) (io.ReadCloser, error) {
			mu.Lock()
			sent = append(sent, req.ModelID)
			first := len(sent) == 1
			mu.Unlock()
			if first {
				return &gatedBody{gate: gate, reader: strings.NewReader("data: [DONE]\n")}, nil
			}
			return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "claude-3", testLogger())

	sess, err := ctrl.Submit(context.Background(), "first question")
	require.NoError(t, err)

	// A settings save mid-exchange changes the model for later submissions
	// only; the in-flight request keeps the one it was submitted with.
	ctrl.SetModel("gpt-4o")
	close(gate)
	waitDone(t, sess)

	sess, err = ctrl.Submit(context.Background(), "second question")
	require.NoError(t, err)
	waitDone(t, sess)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"claude-3", "gpt-4o"}, sent)
}

func TestConversationIDVisibleWhileStreaming(t *testing.T) {
	gate := make(chan struct{})
	backend := &scriptedBackend{
		stream: func(context.Context, api.QueryRequest) (io.ReadCloser, error) {
			return &gatedBody{
				gate:   gate,
				reader: strings.NewReader("data: {\"conversation_id\":\"c1\"}\ndata: [DONE]\n"),
			}, nil
		},
	}
	store := NewStore()
	ctrl := NewController(backend, store, nil, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)

	// Readable concurrently with the stream; empty until the backend binds.
	assert.Empty(t, sess.ConversationID())

	close(gate)
	waitDone(t, sess)
	assert.Equal(t, "c1", sess.ConversationID())
}

func TestDuplicateConversationIDIgnored(t *testing.T) {
	backend := framesBackend(
		"data: {\"conversation_id\":\"c1\"}\n" +
			"data: {\"conversation_id\":\"c2\"}\n" +
			"data: [DONE]\n")
	store := NewStore()
	notifier := &recordingNotifier{}
	ctrl := NewController(backend, store, notifier, "", testLogger())

	sess, err := ctrl.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	assert.Equal(t, "c1", store.ConversationID())
	assert.Equal(t, "c1", sess.ConversationID())
	assert.Equal(t, []string{"c1"}, notifier.boundIDs())
}

// failingReader returns err on its first read.
type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}
