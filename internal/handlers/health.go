package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass", "fail" or "skip"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Message store
	if h.store != nil {
		start := time.Now()
		if err := h.store.Ping(ctx); err != nil {
			checks["store"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["store"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["store"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Redis backs rate limiting only; without it the service still works.
	if h.redis != nil {
		redisStart := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(redisStart).String()}
		}
	} else {
		checks["redis"] = Check{Status: "skip", Message: "not configured"}
	}

	// Event broker
	if b, ok := h.events.(interface{ IsClosed() bool }); ok {
		if b.IsClosed() {
			checks["events"] = Check{Status: "fail", Message: "connection closed"}
			allHealthy = false
		} else {
			checks["events"] = Check{Status: "pass"}
		}
	} else {
		checks["events"] = Check{Status: "skip", Message: "not configured"}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Docs       string   `json:"docs"`
	Endpoints  []string `json:"endpoints"`
	Pagination string   `json:"pagination"`
}

const paginationNote = "pass nextBefore as before to fetch older messages without gaps; " +
	"a bare RFC 3339 or unix-ms before returns only messages strictly older than that millisecond"

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "teamchat",
		Version: version,
		Docs:    "/api",
		Endpoints: []string{
			"GET /api/messages/{teamId}?limit&before",
			"POST /api/messages/{teamId}",
			"PATCH /api/messages/{teamId}/read",
			"GET /api/messages/{teamId}/stats",
			"DELETE /api/messages/{messageId}",
			"GET /api/direct-messages/users",
			"GET /api/direct-messages/conversations",
			"GET /api/direct-messages/{userId}?limit&before",
			"POST /api/direct-messages/{userId}",
			"PATCH /api/direct-messages/{userId}/read",
			"GET /api/direct-messages/{userId}/stats",
			"DELETE /api/direct-messages/{messageId}",
			"GET /api/users/{id}",
		},
		Pagination: paginationNote,
	})
}
