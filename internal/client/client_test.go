package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-chat/internal/message"
	"github.com/comigor/jarvis-chat/internal/stream"
)

func TestClient_AppendAndList(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/conversations/c%201/messages", r.URL.EscapedPath())
		switch r.Method {
		case http.MethodPost:
			var body message.AppendRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, message.RoleUser, body.Role)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(message.Record{ID: 7, ConversationID: "c 1", Role: body.Role, Content: body.Content, CreatedAt: created})
		case http.MethodGet:
			json.NewEncoder(w).Encode([]message.Record{{ID: 7, ConversationID: "c 1", Role: message.RoleUser, Content: "hi", CreatedAt: created}})
		}
	}))
	defer ts.Close()

	c := New(ts.URL+"/", "tok", nil)
	m, err := c.Append(context.Background(), "c 1", message.RoleUser, "hi")
	require.NoError(t, err)
	require.Equal(t, message.PersistedID(7), m.ID)
	require.True(t, created.Equal(m.CreatedAt))

	list, err := c.List(context.Background(), "c 1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, message.PersistedID(7), list[0].ID)
	require.False(t, list[0].IsProvisional())
}

func TestClient_Stream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req message.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c1", req.ConversationID)
		out := stream.NewWriter(w)
		out.Connected()
		out.Token("Hel")
		out.Token("lo")
		out.Done("Hello")
	}))
	defer ts.Close()

	body, err := New(ts.URL, "", ts.Client()).Stream(context.Background(), message.ChatRequest{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)
	defer body.Close()

	res, err := stream.Consume(context.Background(), body, nil)
	require.NoError(t, err)
	require.Equal(t, "Hello", res.Text)
}

func TestClient_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(message.ChatResponse{Response: "done"})
	}))
	defer ts.Close()

	got, err := New(ts.URL, "", nil).Complete(context.Background(), message.ChatRequest{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "done", got)
}

func TestClient_Errors(t *testing.T) {
	for name, tc := range map[string]struct {
		code  int
		body  string
		check func(t *testing.T, err error)
	}{
		"unauthorized": {http.StatusUnauthorized, `{"error":"invalid token"}`, func(t *testing.T, err error) {
			require.ErrorIs(t, err, ErrUnauthorized)
		}},
		"forbidden": {http.StatusForbidden, ``, func(t *testing.T, err error) {
			require.ErrorIs(t, err, ErrUnauthorized)
		}},
		"server error": {http.StatusBadGateway, `{"error":"failed to reach the AI provider"}`, func(t *testing.T, err error) {
			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			require.Equal(t, http.StatusBadGateway, serr.Code)
			require.Equal(t, "failed to reach the AI provider", serr.Body)
		}},
		"plain body": {http.StatusTooManyRequests, "slow down\n", func(t *testing.T, err error) {
			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			require.Equal(t, "slow down", serr.Body)
		}},
	} {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				io.WriteString(w, tc.body)
			}))
			defer ts.Close()

			_, err := New(ts.URL, "", nil).Stream(context.Background(), message.ChatRequest{ConversationID: "c1", Message: "hi"})
			tc.check(t, err)
		})
	}
}
