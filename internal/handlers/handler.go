package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/teamchat/internal/api/middleware"
	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/events"
	"github.com/eldtechnologies/teamchat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *chat.Service
	store  store.DataStore
	redis  *store.RedisStore
	events events.Publisher
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis and pub may be nil.
func NewHandler(svc *chat.Service, ds store.DataStore, redis *store.RedisStore, pub events.Publisher, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, store: ds, redis: redis, events: pub, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]any{"success": false, "error": message})
}

// Fail maps a service error to its status. Server-side details stay in the
// log; the client gets a generic message.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	status := chat.HTTPStatus(err)
	message := err.Error()
	switch {
	case errors.Is(err, chat.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		message = chat.ErrUnavailable.Error()
	case errors.Is(err, chat.ErrCodec):
		message = "failed to encrypt message"
	case status >= 500:
		message = "internal server error"
	}
	h.Error(w, status, message)
}

// actor returns the authenticated user or writes 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	return actor, true
}

// uuidParam parses a path parameter or writes 400.
func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// listOptions reads limit and before from the query string.
func (h *Handler) listOptions(w http.ResponseWriter, r *http.Request) (chat.ListOptions, bool) {
	opts := chat.ListOptions{Before: r.URL.Query().Get("before")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return opts, false
		}
		opts.Limit = limit
	}
	return opts, true
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
