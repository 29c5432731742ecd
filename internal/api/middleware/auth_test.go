package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuth(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewAuthMiddleware(secret, zerolog.Nop())
	user := uuid.New()

	var seen uuid.UUID
	h := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid, err := IssueToken(secret, user, "Ada", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, user, "Ada", -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken([]byte("other"), user, "Ada", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/api/messages/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, user, seen)
			} else {
				assert.Equal(t, uuid.Nil, seen)
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/messages/:id", normalizePath("/api/messages/"+uuid.NewString()))
	assert.Equal(t, "/api/messages/:id/read", normalizePath("/api/messages/"+uuid.NewString()+"/read"))
	assert.Equal(t, "/api/direct-messages/users", normalizePath("/api/direct-messages/users"))
	assert.Equal(t, "/api/direct-messages/:id/stats", normalizePath("/api/direct-messages/"+uuid.NewString()+"/stats"))
	assert.Equal(t, "/health", normalizePath("/health"))
}
