package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity record provided by the user collaborator.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DirectThread summarises a direct conversation from one user's point of view.
type DirectThread struct {
	PeerID      uuid.UUID
	LastMessage Message
	UnreadCount int64
}
