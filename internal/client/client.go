// Package client talks to the chat backend over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/comigor/jarvis-chat/internal/message"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("client: unauthorized")

// StatusError is a non-2xx response other than an auth rejection.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("client: backend returned %d", e.Code)
	}
	return fmt.Sprintf("client: backend returned %d: %s", e.Code, e.Body)
}

// Client implements the generator and store the session controller needs.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Stream opens a streaming reply. The caller owns the returned body.
func (c *Client) Stream(ctx context.Context, req message.ChatRequest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/stream", req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete asks for a whole reply in one response.
func (c *Client) Complete(ctx context.Context, req message.ChatRequest) (string, error) {
	var out message.ChatResponse
	if err := c.call(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Append stores a message and returns it as persisted.
func (c *Client) Append(ctx context.Context, conversationID string, role message.Role, content string) (message.Message, error) {
	var rec message.Record
	body := message.AppendRequest{Role: role, Content: content}
	if err := c.call(ctx, http.MethodPost, messagesPath(conversationID), body, &rec); err != nil {
		return message.Message{}, err
	}
	return rec.Message(), nil
}

// List fetches the persisted messages of a conversation.
func (c *Client) List(ctx context.Context, conversationID string) ([]message.Message, error) {
	var recs []message.Record
	if err := c.call(ctx, http.MethodGet, messagesPath(conversationID), nil, &recs); err != nil {
		return nil, err
	}
	return message.FromRecords(recs), nil
}

func messagesPath(conversationID string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do sends the request and returns the response only when it is 2xx.
func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	serr := &StatusError{Code: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e message.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		serr.Body = e.Error
	} else {
		serr.Body = strings.TrimSpace(string(raw))
	}
	return nil, serr
}
