package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationKind identifies which kind of conversation a message belongs to.
type ConversationKind string

const (
	KindTeam   ConversationKind = "team"
	KindDirect ConversationKind = "direct"
)

// ErrInvalidMessage is returned when a message violates the team/direct invariant.
var ErrInvalidMessage = errors.New("invalid message")

// Message is the persisted form of a chat message. The body only ever exists
// here as Ciphertext.
type Message struct {
	ID          string           `json:"id"` // ULID
	Kind        ConversationKind `json:"kind"`
	TeamID      *uuid.UUID       `json:"team_id,omitempty"`
	RecipientID *uuid.UUID       `json:"recipient_id,omitempty"`
	SenderID    uuid.UUID        `json:"sender_id"`
	Ciphertext  string           `json:"-"`
	Attachment  string           `json:"attachment,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ReadBy      []uuid.UUID      `json:"read_by"`
	Edited      bool             `json:"edited"`
	EditedAt    *time.Time       `json:"edited_at,omitempty"`
}

// Validate checks that exactly one of TeamID and RecipientID is set and that
// it matches Kind.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.SenderID == uuid.Nil {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if m.Ciphertext == "" {
		return fmt.Errorf("%w: missing ciphertext", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindTeam:
		if m.TeamID == nil || m.RecipientID != nil {
			return fmt.Errorf("%w: team message needs team id only", ErrInvalidMessage)
		}
	case KindDirect:
		if m.RecipientID == nil || m.TeamID != nil {
			return fmt.Errorf("%w: direct message needs recipient id only", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// IsReadBy reports whether actor has read the message. Senders have always
// read their own messages.
func (m *Message) IsReadBy(actor uuid.UUID) bool {
	if m.SenderID == actor {
		return true
	}
	for _, id := range m.ReadBy {
		if id == actor {
			return true
		}
	}
	return false
}

// Conversation returns the reference of the conversation the message lives in.
func (m *Message) Conversation() ConversationRef {
	if m.Kind == KindTeam && m.TeamID != nil {
		return TeamConversation(*m.TeamID)
	}
	var recipient uuid.UUID
	if m.RecipientID != nil {
		recipient = *m.RecipientID
	}
	return DirectConversation(m.SenderID, recipient)
}

// Sender is the label attached to a decoded message.
type Sender struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DecodedMessage is a message as returned to API callers.
type DecodedMessage struct {
	ID          string           `json:"id"`
	Kind        ConversationKind `json:"kind"`
	TeamID      *uuid.UUID       `json:"teamId,omitempty"`
	RecipientID *uuid.UUID       `json:"recipientId,omitempty"`
	Sender      Sender           `json:"sender"`
	Text        string           `json:"text"`
	Attachment  string           `json:"file,omitempty"`
	CreatedAt   time.Time        `json:"timestamp"`
	ReadBy      []uuid.UUID      `json:"readBy"`
	Edited      bool             `json:"edited"`
	EditedAt    *time.Time       `json:"editedAt,omitempty"`
	Encrypted   bool             `json:"_encrypted"`
}
