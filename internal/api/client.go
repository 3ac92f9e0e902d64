package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
)

// CredentialProvider supplies the bearer credential attached to every
// backend request. Implementations may read it from configuration or from
// the local settings store.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialProvider returning a fixed token.
type StaticCredential string

// Token returns the fixed token.
func (s StaticCredential) Token(context.Context) (string, error) {
	return string(s), nil
}

// ErrUnauthorized is returned when the backend rejects the credential. The
// UI reacts to it by redirecting to the settings page.
var ErrUnauthorized = errors.New("backend rejected credential")

// Client talks to the GraphRAG Agent backend. Apart from the streaming chat
// endpoint, all calls are plain request/response with no ordering concerns.
type Client struct {
	baseURL string
	creds   CredentialProvider

	client *http.Client

	logger *slog.Logger
}

// QueryRequest is the body posted to the streaming chat endpoint.
// ConversationID is omitted for the first exchange of a new conversation;
// the backend assigns one and reports it in the stream.
type QueryRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	ModelID        string `json:"model_id,omitempty"`
}

// NewClient creates a backend client for the given base URL. The credential
// provider is consulted on every request.
func NewClient(baseURL string, creds CredentialProvider, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "api")),
	}
}

// StreamQuery posts a chat query and returns the framed response stream.
// The caller owns the returned body and decodes it with Events. A non-2xx
// status or a network failure before any bytes is returned as an error with
// no stream.
func (c *Client) StreamQuery(ctx context.Context, req QueryRequest) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// conversationResponse mirrors the backend transcript payload.
type conversationResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Messages []struct {
		ID        string `json:"id"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	} `json:"messages"`
}

// Conversation fetches a persisted transcript by id.
func (c *Client) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var res conversationResponse
	if err := c.getJSON(ctx, "/chat/conversations/"+id, &res); err != nil {
		return models.Conversation{}, err
	}

	conv := models.Conversation{
		ID:       res.ID,
		Title:    res.Title,
		Messages: make([]models.Message, len(res.Messages)),
	}
	for i, m := range res.Messages {
		conv.Messages[i] = models.Message{
			ID:        m.ID,
			Role:      models.Role(m.Role),
			Content:   m.Content,
			Timestamp: parseTimestamp(m.CreatedAt),
		}
	}
	return conv, nil
}

// Conversations lists the stored conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var res struct {
		Conversations []models.ConversationSummary `json:"conversations"`
		Total         int                          `json:"total"`
	}
	if err := c.getJSON(ctx, "/chat/conversations", &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

// DeleteConversation removes a stored conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/chat/conversations/"+id)
}

// Documents lists the uploaded documents of the current tenant.
func (c *Client) Documents(ctx context.Context) ([]models.Document, error) {
	var res struct {
		Documents []models.Document `json:"documents"`
		Total     int               `json:"total"`
	}
	if err := c.getJSON(ctx, "/documents", &res); err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// UploadDocument uploads a file for indexing and returns the backend's view
// of the stored document.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (models.Document, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return models.Document{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return models.Document{}, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.Document{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/documents/upload", &body)
	if err != nil {
		return models.Document{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Document{}, fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return models.Document{}, err
	}

	var doc models.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return models.Document{}, fmt.Errorf("decode upload response: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes an uploaded document and its index entries.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/documents/"+id)
}

// Models lists the language models the backend offers.
func (c *Client) Models(ctx context.Context) ([]models.ModelInfo, error) {
	var res struct {
		Models       []models.ModelInfo `json:"models"`
		DefaultModel string             `json:"default_model"`
	}
	if err := c.getJSON(ctx, "/models", &res); err != nil {
		return nil, err
	}
	return res.Models, nil
}

// Health reports the backend health status.
func (c *Client) Health(ctx context.Context) (models.Health, error) {
	var h models.Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return models.Health{}, err
	}
	return h, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) error {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
}

// parseTimestamp tolerates the timestamp formats the backend emits; a zero
// time is returned for anything unparseable.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
