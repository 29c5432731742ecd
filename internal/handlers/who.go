package handlers

import (
	"net/http"
	"time"
)

// WhoResponse is the label other clients show for a sender.
type WhoResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	Joined  string `json:"joined_at,omitempty"`
}

// Who handles GET /api/users/{id}.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := h.uuidParam(w, r, "id", "user")
	if !ok {
		return
	}

	user, err := h.svc.User(r.Context(), id)
	if err != nil {
		h.Fail(w, err)
		return
	}

	resp := WhoResponse{
		Success: true,
		ID:      user.ID.String(),
		Name:    user.DisplayName,
		Email:   user.Email,
		Role:    user.Role,
	}
	if !user.CreatedAt.IsZero() {
		resp.Joined = user.CreatedAt.UTC().Format(time.RFC3339)
	}
	h.JSON(w, http.StatusOK, resp)
}
