package models

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ConversationRef addresses either a team channel or a direct conversation
// between two users.
type ConversationRef struct {
	Kind   ConversationKind
	TeamID uuid.UUID
	PeerA  uuid.UUID
	PeerB  uuid.UUID
}

// TeamConversation returns the reference for a team channel.
func TeamConversation(teamID uuid.UUID) ConversationRef {
	return ConversationRef{Kind: KindTeam, TeamID: teamID}
}

// DirectConversation returns the reference for the conversation between a and b.
// The pair is unordered.
func DirectConversation(a, b uuid.UUID) ConversationRef {
	return ConversationRef{Kind: KindDirect, PeerA: a, PeerB: b}
}

// Involves reports whether id is one of the two parties of a direct conversation.
func (c ConversationRef) Involves(id uuid.UUID) bool {
	return c.Kind == KindDirect && (c.PeerA == id || c.PeerB == id)
}

// Peer returns the party of a direct conversation that is not actor.
func (c ConversationRef) Peer(actor uuid.UUID) uuid.UUID {
	if c.PeerA == actor {
		return c.PeerB
	}
	return c.PeerA
}

// Contains reports whether msg belongs to this conversation.
func (c ConversationRef) Contains(msg *Message) bool {
	switch c.Kind {
	case KindTeam:
		return msg.Kind == KindTeam && msg.TeamID != nil && *msg.TeamID == c.TeamID
	case KindDirect:
		if msg.Kind != KindDirect || msg.RecipientID == nil {
			return false
		}
		return (msg.SenderID == c.PeerA && *msg.RecipientID == c.PeerB) ||
			(msg.SenderID == c.PeerB && *msg.RecipientID == c.PeerA)
	}
	return false
}

// String returns a stable label suitable for logs and metrics.
func (c ConversationRef) String() string {
	if c.Kind == KindTeam {
		return fmt.Sprintf("team:%s", c.TeamID)
	}
	lo, hi := c.PeerA, c.PeerB
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("direct:%s:%s", lo, hi)
}
