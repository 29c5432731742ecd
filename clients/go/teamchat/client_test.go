package teamchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientListMessages(t *testing.T) {
	team := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/messages/"+team.String(), r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "1714555800000.01HX", r.URL.Query().Get("before"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"messages":[{"id":"01HY","kind":"team","text":"hi","_encrypted":true}],"hasMore":true,"nextBefore":"1714555700000.01HY"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.ListMessages(context.Background(), Team(team), 20, "1714555800000.01HX")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi", page.Messages[0].Text)
	assert.True(t, page.Messages[0].Encrypted)
	assert.True(t, page.HasMore)
	assert.Equal(t, "1714555700000.01HY", page.NextBefore)
}

func TestClientSendAndMarkRead(t *testing.T) {
	peer := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/direct-messages/" + peer.String():
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "hello", body["text"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"success":true,"message":{"id":"01HZ","kind":"direct","text":"hello"}}`))
		case "/api/direct-messages/" + peer.String() + "/read":
			assert.Equal(t, http.MethodPatch, r.Method)
			if body["all"] == true {
				_, _ = w.Write([]byte(`{"success":true,"markedCount":7}`))
				return
			}
			assert.Equal(t, []any{"a", "b"}, body["messageIds"])
			_, _ = w.Write([]byte(`{"success":true,"markedCount":2}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	ctx := context.Background()

	msg, err := c.SendMessage(ctx, Direct(peer), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "01HZ", msg.ID)

	n, err := c.MarkRead(ctx, Direct(peer), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.MarkAllRead(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		message   string
		retryable bool
	}{
		{"forbidden", http.StatusForbidden, `{"success":false,"error":"access denied"}`, "access denied", false},
		{"not found", http.StatusNotFound, `{"success":false,"error":"team not found"}`, "team not found", false},
		{"rate limited", http.StatusTooManyRequests, `{"success":false,"error":"rate limit exceeded"}`, "rate limit exceeded", true},
		{"unavailable", http.StatusServiceUnavailable, `not json`, "Service Unavailable", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "tok").Stats(context.Background(), Team(uuid.New()))
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.retryable, apiErr.Retryable())
		})
	}
}
