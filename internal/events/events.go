// Package events announces message lifecycle changes to other subsystems
// (notifications, activity feeds) over a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys.
const (
	TypeMessageSent    = "message.sent"
	TypeMessageRead    = "message.read"
	TypeMessageDeleted = "message.deleted"
)

// Meta identifies one event.
type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurredAt"`
}

// MessageEvent is the payload of every message.* event. It never carries the
// message body.
type MessageEvent struct {
	MessageIDs   []string   `json:"messageIds"`
	Conversation string     `json:"conversation"`
	Kind         string     `json:"kind"`
	TeamID       *uuid.UUID `json:"teamId,omitempty"`
	RecipientID  *uuid.UUID `json:"recipientId,omitempty"`
	ActorID      uuid.UUID  `json:"actorId"`
	Count        int64      `json:"count,omitempty"`
}

// Envelope is what goes on the wire.
type Envelope struct {
	Meta Meta         `json:"meta"`
	Data MessageEvent `json:"data"`
}

// New wraps data in an envelope with a fresh id.
func New(eventType string, data MessageEvent) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			Source:     "teamchat",
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
}

// Publisher delivers envelopes. Publish is called after the change is
// committed; callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }
