package handlers

import (
	"net/http"

	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/models"
)

// UsersResponse lists users the caller can message.
type UsersResponse struct {
	Success bool          `json:"success"`
	Users   []models.User `json:"users"`
}

// ConversationsResponse lists the caller's direct conversations.
type ConversationsResponse struct {
	Success       bool                       `json:"success"`
	Conversations []chat.ConversationSummary `json:"conversations"`
}

// directConversation resolves {id} as the peer's user id. PeerA of the
// result is the actor.
func (h *Handler) directConversation(w http.ResponseWriter, r *http.Request) (models.ConversationRef, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return models.ConversationRef{}, false
	}
	peer, ok := h.uuidParam(w, r, "id", "user")
	if !ok {
		return models.ConversationRef{}, false
	}
	return models.DirectConversation(actor, peer), true
}

// ListMessageableUsers handles GET /api/direct-messages/users.
func (h *Handler) ListMessageableUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	users, err := h.svc.ListMessageableUsers(r.Context(), actor)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, UsersResponse{Success: true, Users: users})
}

// ListConversations handles GET /api/direct-messages/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	convs, err := h.svc.ListDirectConversations(r.Context(), actor)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, ConversationsResponse{Success: true, Conversations: convs})
}

// GetDirectMessages handles GET /api/direct-messages/{id}.
func (h *Handler) GetDirectMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.directConversation(w, r)
	if !ok {
		return
	}
	h.listMessages(w, r, conv.PeerA, conv)
}

// SendDirectMessage handles POST /api/direct-messages/{id}.
func (h *Handler) SendDirectMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.directConversation(w, r)
	if !ok {
		return
	}
	h.sendMessage(w, r, conv.PeerA, conv)
}

// MarkDirectRead handles PATCH /api/direct-messages/{id}/read. The body is
// either {"messageIds": [...]} or {"all": true}.
func (h *Handler) MarkDirectRead(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.directConversation(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var n int64
	var err error
	if req.All {
		n, err = h.svc.MarkAllRead(r.Context(), conv.PeerA, conv)
	} else {
		n, err = h.svc.MarkRead(r.Context(), conv.PeerA, conv, req.MessageIDs)
	}
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MarkReadResponse{Success: true, MarkedCount: n})
}

// DirectStats handles GET /api/direct-messages/{id}/stats.
func (h *Handler) DirectStats(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.directConversation(w, r)
	if !ok {
		return
	}
	h.stats(w, r, conv.PeerA, conv)
}
