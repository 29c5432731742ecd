package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr/99"},
	})

	assert.True(t, rl.isWhitelisted("10.20.30.40"))
	assert.True(t, rl.isWhitelisted("192.168.1.5"))
	assert.False(t, rl.isWhitelisted("192.168.1.6"))
	assert.False(t, rl.isWhitelisted("garbage"))
}

func TestFindLimit(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	post := httptest.NewRequest(http.MethodPost, "/api/messages/abc", nil)
	limit := rl.findLimit(post)
	require.NotNil(t, limit)
	assert.Equal(t, 30, limit.Requests)

	assert.Nil(t, rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil)))
}

func TestActorKey(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.Header.Set("Authorization", "Bearer token-a")
	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.Header.Set("Authorization", "Bearer token-b")
	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	anon.RemoteAddr = "203.0.113.9:5555"

	assert.NotEqual(t, actorKey(a), actorKey(b))
	assert.Equal(t, actorKey(a), actorKey(a))
	assert.Equal(t, "teamchat:ratelimit:ip:203.0.113.9", actorKey(anon))
}

func TestWhitelistedRequestsSkipRedis(t *testing.T) {
	// A nil client panics on use, so reaching the handler proves the
	// limiter never touched Redis.
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.0.0.0/8"}})

	called := false
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/messages/abc", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBlockDefaults(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	assert.Equal(t, int64(10), rl.blockThreshold)
	assert.Equal(t, 24*time.Hour, rl.blockDuration)

	rl = NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{BlockThreshold: 3, BlockDuration: time.Minute})
	assert.Equal(t, int64(3), rl.blockThreshold)
	assert.Equal(t, time.Minute, rl.blockDuration)
}
