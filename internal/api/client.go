// Package api is the HTTP client for the chat server's request/response
// API: friend lists, friend requests, user search, message history and
// media upload. The server owns all of this state; the client only reads it
// and forwards user actions.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
)

// ErrStatus is wrapped by every error caused by a non-2xx response.
var ErrStatus = errors.New("api: unexpected status")

// StatusError describes a non-2xx response.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %s: status %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("api: %s: status %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Config holds API client settings.
type Config struct {
	BaseURL string        // e.g. http://localhost:3000
	Timeout time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3000",
		Timeout: 10 * time.Second,
	}
}

// User is a public user profile.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Friend is an entry of the friend list, with the conversation summary the
// server keeps for it.
type Friend struct {
	User
	Online      bool      `json:"online"`
	LastMessage string    `json:"lastMessage,omitempty"`
	LastAt      time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount int       `json:"unreadCount"`
}

// FriendRequest is a pending request addressed to the user.
type FriendRequest struct {
	ID        string    `json:"id"`
	From      User      `json:"from"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client talks to the chat server API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an API client.
func NewClient(config Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.Timeout},
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Friends fetches the friend list of userID.
func (c *Client) Friends(ctx context.Context, userID string) ([]Friend, error) {
	var out []Friend
	err := c.do(ctx, "friends", http.MethodGet, "/api/friends/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// PendingRequests fetches the friend requests waiting for userID's answer.
func (c *Client) PendingRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	var out []FriendRequest
	err := c.do(ctx, "pending_requests", http.MethodGet, "/api/friends/requests/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// History fetches the newest limit messages exchanged between userID and
// friendID.
func (c *Client) History(ctx context.Context, userID, friendID string, limit int) ([]protocol.MessagePayload, error) {
	path := fmt.Sprintf("/api/messages/%s/%s?limit=%s",
		url.PathEscape(userID), url.PathEscape(friendID), strconv.Itoa(limit))
	var out []protocol.MessagePayload
	err := c.do(ctx, "history", http.MethodGet, path, nil, &out)
	return out, err
}

// SearchUsers looks up users matching query on behalf of userID.
func (c *Client) SearchUsers(ctx context.Context, userID, query string) ([]User, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("userId", userID)
	var out []User
	err := c.do(ctx, "search", http.MethodGet, "/api/users/search?"+q.Encode(), nil, &out)
	return out, err
}

// SendFriendRequest asks toID to become fromID's friend.
func (c *Client) SendFriendRequest(ctx context.Context, fromID, toID string) error {
	body := map[string]string{"fromId": fromID, "toId": toID}
	return c.do(ctx, "send_request", http.MethodPost, "/api/friends/request", body, nil)
}

// RespondFriendRequest accepts or rejects a pending request.
func (c *Client) RespondFriendRequest(ctx context.Context, requestID string, accept bool) error {
	action := "reject"
	if accept {
		action = "accept"
	}
	body := map[string]string{"requestId": requestID, "action": action}
	return c.do(ctx, "respond_request", http.MethodPost, "/api/friends/respond", body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.send(op, req, out)
}

func (c *Client) send(op string, req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.APILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("Request failed")
		return fmt.Errorf("api: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().Str("op", op).Int("status", resp.StatusCode).Msg("Unexpected response status")
		return &StatusError{Op: op, Code: resp.StatusCode, Detail: errorDetail(detail)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s: decode response: %w", op, err)
	}
	c.log.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("Request done")
	return nil
}

// errorDetail extracts {"message": "..."} or {"error": "..."} from an error
// body, falling back to the raw text.
func errorDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
