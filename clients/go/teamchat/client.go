// Package teamchat provides a client for the teamchat messaging API.
package teamchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// Conversation addresses a team channel or a direct thread with a peer.
type Conversation struct {
	Kind models.ConversationKind
	ID   uuid.UUID // team id, or the peer's user id
}

// Team returns the conversation for a team channel.
func Team(id uuid.UUID) Conversation {
	return Conversation{Kind: models.KindTeam, ID: id}
}

// Direct returns the conversation with peer.
func Direct(peer uuid.UUID) Conversation {
	return Conversation{Kind: models.KindDirect, ID: peer}
}

func (c Conversation) path() string {
	if c.Kind == models.KindDirect {
		return "/api/direct-messages/" + c.ID.String()
	}
	return "/api/messages/" + c.ID.String()
}

func (c Conversation) String() string {
	return string(c.Kind) + ":" + c.ID.String()
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("teamchat error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a teamchat API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client authenticating with a bearer token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// MessagesResponse is one page of a conversation, oldest first.
type MessagesResponse struct {
	Success    bool                    `json:"success"`
	Messages   []models.DecodedMessage `json:"messages"`
	HasMore    bool                    `json:"hasMore"`
	NextBefore string                  `json:"nextBefore,omitempty"`
}

// ListMessages fetches the newest page of conv. before is a cursor from a
// previous page's NextBefore, or empty for the latest messages.
func (c *Client) ListMessages(ctx context.Context, conv Conversation, limit int, before string) (*MessagesResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := conv.path()
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Text string `json:"text"`
	File string `json:"file,omitempty"`
}

// SendMessage posts text to conv and returns the server's plaintext echo.
func (c *Client) SendMessage(ctx context.Context, conv Conversation, text, file string) (*models.DecodedMessage, error) {
	var resp struct {
		Message *models.DecodedMessage `json:"message"`
	}
	if err := c.doRequest(ctx, http.MethodPost, conv.path(), SendMessageRequest{Text: text, File: file}, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, fmt.Errorf("teamchat: empty send response")
	}
	return resp.Message, nil
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds,omitempty"`
	All        bool     `json:"all,omitempty"`
}

type markReadResponse struct {
	MarkedCount int64 `json:"markedCount"`
}

// MarkRead records the caller as a reader of ids and returns how many
// messages were newly marked.
func (c *Client) MarkRead(ctx context.Context, conv Conversation, ids []string) (int64, error) {
	var resp markReadResponse
	if err := c.doRequest(ctx, http.MethodPatch, conv.path()+"/read", markReadRequest{MessageIDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.MarkedCount, nil
}

// MarkAllRead marks every unread message from peer as read.
func (c *Client) MarkAllRead(ctx context.Context, peer uuid.UUID) (int64, error) {
	var resp markReadResponse
	if err := c.doRequest(ctx, http.MethodPatch, Direct(peer).path()+"/read", markReadRequest{All: true}, &resp); err != nil {
		return 0, err
	}
	return resp.MarkedCount, nil
}

// LastMessage describes the newest message of a conversation.
type LastMessage struct {
	SenderID   uuid.UUID `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats summarises a conversation for the caller.
type Stats struct {
	TotalMessages int64        `json:"totalMessages"`
	UnreadCount   int64        `json:"unreadCount"`
	LastMessage   *LastMessage `json:"lastMessage"`
}

// Stats returns message counts for conv.
func (c *Client) Stats(ctx context.Context, conv Conversation) (*Stats, error) {
	var resp struct {
		Stats *Stats `json:"stats"`
	}
	if err := c.doRequest(ctx, http.MethodGet, conv.path()+"/stats", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return &Stats{}, nil
	}
	return resp.Stats, nil
}

// DeleteMessage deletes a message the caller sent.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

// MessageableUsers lists everyone the caller can start a direct thread with.
func (c *Client) MessageableUsers(ctx context.Context) ([]models.User, error) {
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/direct-messages/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ConversationPreview is the newest message of a direct thread.
type ConversationPreview struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"fromMe"`
}

// ConversationSummary is one entry of the caller's direct inbox.
type ConversationSummary struct {
	User        models.User         `json:"user"`
	LastMessage ConversationPreview `json:"lastMessage"`
	UnreadCount int64               `json:"unreadCount"`
}

// Conversations lists the caller's direct threads, newest first.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var resp struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/direct-messages/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// UserProfile is the public label of a user.
type UserProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// GetUser looks up a user's profile.
func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*UserProfile, error) {
	var resp UserProfile
	if err := c.doRequest(ctx, http.MethodGet, "/api/users/"+id.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck is the result of one dependency check.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
