package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/models"
)

// SendMessageRequest is the body of a send.
type SendMessageRequest struct {
	Text string `json:"text"`
	File string `json:"file,omitempty"`
}

// MarkReadRequest is the body of a read receipt. All is only honoured on
// direct conversations.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
	All        bool     `json:"all,omitempty"`
}

// MessagesResponse is one page of a conversation.
type MessagesResponse struct {
	Success    bool                    `json:"success"`
	Messages   []models.DecodedMessage `json:"messages"`
	HasMore    bool                    `json:"hasMore"`
	NextBefore string                  `json:"nextBefore,omitempty"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Success bool                   `json:"success"`
	Message *models.DecodedMessage `json:"message"`
}

// MarkReadResponse reports newly marked messages.
type MarkReadResponse struct {
	Success     bool  `json:"success"`
	MarkedCount int64 `json:"markedCount"`
}

// StatsResponse wraps conversation stats.
type StatsResponse struct {
	Success bool        `json:"success"`
	Stats   *chat.Stats `json:"stats"`
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Success   bool   `json:"success"`
	DeletedID string `json:"deletedId"`
}

// teamConversation resolves {id} as a team id.
func (h *Handler) teamConversation(w http.ResponseWriter, r *http.Request) (models.ConversationRef, bool) {
	teamID, ok := h.uuidParam(w, r, "id", "team")
	if !ok {
		return models.ConversationRef{}, false
	}
	return models.TeamConversation(teamID), true
}

// GetTeamMessages handles GET /api/messages/{id}.
func (h *Handler) GetTeamMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	conv, ok := h.teamConversation(w, r)
	if !ok {
		return
	}
	h.listMessages(w, r, actor, conv)
}

// PostTeamMessage handles POST /api/messages/{id}.
func (h *Handler) PostTeamMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	conv, ok := h.teamConversation(w, r)
	if !ok {
		return
	}
	h.sendMessage(w, r, actor, conv)
}

// MarkTeamRead handles PATCH /api/messages/{id}/read.
func (h *Handler) MarkTeamRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	conv, ok := h.teamConversation(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := h.svc.MarkRead(r.Context(), actor, conv, req.MessageIDs)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MarkReadResponse{Success: true, MarkedCount: n})
}

// TeamStats handles GET /api/messages/{id}/stats.
func (h *Handler) TeamStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	conv, ok := h.teamConversation(w, r)
	if !ok {
		return
	}
	h.stats(w, r, actor, conv)
}

// DeleteMessage handles DELETE /api/messages/{id} and
// DELETE /api/direct-messages/{id}, where id is a message id.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := h.svc.DeleteMessage(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, DeleteResponse{Success: true, DeletedID: id})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, actor uuid.UUID, conv models.ConversationRef) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	page, err := h.svc.ListMessages(r.Context(), actor, conv, opts)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MessagesResponse{
		Success:    true,
		Messages:   page.Messages,
		HasMore:    page.HasMore,
		NextBefore: page.NextBefore,
	})
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request, actor uuid.UUID, conv models.ConversationRef) {
	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), actor, conv, req.Text, req.File)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, MessageResponse{Success: true, Message: msg})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, actor uuid.UUID, conv models.ConversationRef) {
	stats, err := h.svc.Stats(r.Context(), actor, conv)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, StatsResponse{Success: true, Stats: stats})
}
