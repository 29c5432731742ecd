package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/teamchat/internal/api"
	"github.com/eldtechnologies/teamchat/internal/api/middleware"
	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/crypto"
	"github.com/eldtechnologies/teamchat/internal/gate"
	"github.com/eldtechnologies/teamchat/internal/handlers"
	"github.com/eldtechnologies/teamchat/internal/models"
	"github.com/eldtechnologies/teamchat/internal/store"
)

var secret = []byte("handler-test-secret")

type server struct {
	t        *testing.T
	router   http.Handler
	team     models.Team
	manager  models.User
	member   models.User
	outsider models.User
}

func newServer(t *testing.T) *server {
	t.Helper()
	mem := store.NewMemoryStore()
	s := &server{
		t:        t,
		manager:  models.User{ID: uuid.New(), DisplayName: "Mara"},
		member:   models.User{ID: uuid.New(), DisplayName: "Bo"},
		outsider: models.User{ID: uuid.New(), DisplayName: "Zed"},
	}
	for _, u := range []models.User{s.manager, s.member, s.outsider} {
		mem.PutUser(u)
	}
	s.team = models.Team{ID: uuid.New(), Name: "Design", ManagerID: s.manager.ID, MemberIDs: []uuid.UUID{s.member.ID}}
	mem.PutTeam(s.team)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key, zerolog.Nop())
	require.NoError(t, err)

	svc := chat.New(mem, mem, gate.New(mem, zerolog.Nop()), codec, nil, zerolog.Nop(), chat.Options{})
	s.router = api.NewRouter(zerolog.Nop(), api.Options{
		Service:        svc,
		Store:          mem,
		JWTSecret:      secret,
		RequestTimeout: 5 * time.Second,
	})
	return s
}

func (s *server) do(method, path string, as *models.User, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		token, err := middleware.IssueToken(secret, as.ID, as.DisplayName, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func TestTeamMessageFlow(t *testing.T) {
	s := newServer(t)
	base := "/api/messages/" + s.team.ID.String()

	rec := s.do(http.MethodPost, base, &s.member, map[string]string{"text": "ship it"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[handlers.MessageResponse](t, rec)
	assert.True(t, sent.Success)
	assert.Equal(t, "ship it", sent.Message.Text)
	assert.Equal(t, "Bo", sent.Message.Sender.Name)

	rec = s.do(http.MethodGet, base+"?limit=10", &s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[handlers.MessagesResponse](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "ship it", page.Messages[0].Text)
	assert.False(t, page.HasMore)
	assert.NotEmpty(t, page.NextBefore)

	rec = s.do(http.MethodPatch, base+"/read", &s.manager, map[string]any{"messageIds": []string{sent.Message.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[handlers.MarkReadResponse](t, rec).MarkedCount)

	rec = s.do(http.MethodPatch, base+"/read", &s.manager, map[string]any{"messageIds": []string{sent.Message.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[handlers.MarkReadResponse](t, rec).MarkedCount)

	rec = s.do(http.MethodGet, base+"/stats", &s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[handlers.StatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.Stats.TotalMessages)
	assert.Zero(t, stats.Stats.UnreadCount)
	assert.Equal(t, "Bo", stats.Stats.LastMessage.SenderName)

	rec = s.do(http.MethodDelete, "/api/messages/"+sent.Message.ID, &s.manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/messages/"+sent.Message.ID, &s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sent.Message.ID, decode[handlers.DeleteResponse](t, rec).DeletedID)

	rec = s.do(http.MethodDelete, "/api/messages/"+sent.Message.ID, &s.member, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusMapping(t *testing.T) {
	s := newServer(t)
	team := "/api/messages/" + s.team.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		as     *models.User
		body   any
		want   int
	}{
		{"no token", http.MethodGet, team, nil, nil, http.StatusUnauthorized},
		{"outsider list", http.MethodGet, team, &s.outsider, nil, http.StatusForbidden},
		{"outsider send", http.MethodPost, team, &s.outsider, map[string]string{"text": "hi"}, http.StatusForbidden},
		{"unknown team", http.MethodGet, "/api/messages/" + uuid.NewString(), &s.member, nil, http.StatusNotFound},
		{"bad team id", http.MethodGet, "/api/messages/not-a-uuid", &s.member, nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, team + "?limit=abc", &s.member, nil, http.StatusBadRequest},
		{"bad before", http.MethodGet, team + "?before=yesterday", &s.member, nil, http.StatusBadRequest},
		{"empty text", http.MethodPost, team, &s.member, map[string]string{"text": "   "}, http.StatusBadRequest},
		{"empty mark read", http.MethodPatch, team + "/read", &s.member, map[string]any{"messageIds": []string{}}, http.StatusBadRequest},
		{"unknown peer", http.MethodGet, "/api/direct-messages/" + uuid.NewString(), &s.member, nil, http.StatusNotFound},
		{"self conversation", http.MethodPost, "/api/direct-messages/" + s.member.ID.String(), &s.member, map[string]string{"text": "me"}, http.StatusBadRequest},
		{"unknown user", http.MethodGet, "/api/users/" + uuid.NewString(), &s.member, nil, http.StatusNotFound},
		{"no route", http.MethodGet, "/api/nope", &s.member, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestDirectMessageFlow(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/direct-messages/"+s.manager.ID.String(), &s.member, map[string]string{"text": "got a minute?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[handlers.MessageResponse](t, rec)
	assert.Equal(t, []uuid.UUID{s.member.ID}, sent.Message.ReadBy)

	rec = s.do(http.MethodGet, "/api/direct-messages/"+s.member.ID.String(), &s.outsider, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "outsider talking to member is its own, empty conversation")
	assert.Empty(t, decode[handlers.MessagesResponse](t, rec).Messages)

	rec = s.do(http.MethodGet, "/api/direct-messages/conversations", &s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[handlers.ConversationsResponse](t, rec)
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, s.member.ID, convs.Conversations[0].User.ID)
	assert.Equal(t, "got a minute?", convs.Conversations[0].LastMessage.Text)
	assert.Equal(t, int64(1), convs.Conversations[0].UnreadCount)

	rec = s.do(http.MethodGet, "/api/direct-messages/"+s.member.ID.String()+"/stats", &s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[handlers.StatsResponse](t, rec).Stats.UnreadCount)

	rec = s.do(http.MethodPatch, "/api/direct-messages/"+s.member.ID.String()+"/read", &s.manager, map[string]bool{"all": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[handlers.MarkReadResponse](t, rec).MarkedCount)

	rec = s.do(http.MethodGet, "/api/direct-messages/users", &s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[handlers.UsersResponse](t, rec)
	assert.Len(t, users.Users, 2)

	rec = s.do(http.MethodDelete, "/api/direct-messages/"+sent.Message.ID, &s.manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/"+s.manager.ID.String(), &s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mara", decode[handlers.WhoResponse](t, rec).Name)
}

func TestPublicEndpoints(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[handlers.RootResponse](t, rec)
	assert.Equal(t, "teamchat", root.Name)
	assert.Contains(t, root.Pagination, "nextBefore")

	rec = s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["store"].Status)
	assert.Equal(t, "skip", health.Checks["redis"].Status)
}
