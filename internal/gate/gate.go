// Package gate decides whether a user may act on a conversation.
package gate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/metrics"
	"github.com/eldtechnologies/teamchat/internal/models"
	"github.com/eldtechnologies/teamchat/internal/store"
)

// Gate checks team membership and direct-conversation participation against
// the directory.
type Gate struct {
	dir    store.Directory
	logger zerolog.Logger
}

// New creates a gate backed by dir.
func New(dir store.Directory, logger zerolog.Logger) *Gate {
	return &Gate{
		dir:    dir,
		logger: logger.With().Str("component", "gate").Logger(),
	}
}

// CanAccess reports whether actor may read and write conv. A non-nil error
// means the decision could not be made: the team or peer does not exist, the
// reference is malformed, or the directory failed.
func (g *Gate) CanAccess(ctx context.Context, actor uuid.UUID, conv models.ConversationRef) (bool, error) {
	if actor == uuid.Nil {
		return false, nil
	}

	switch conv.Kind {
	case models.KindTeam:
		team, err := g.dir.GetTeam(ctx, conv.TeamID)
		if err != nil {
			return false, chat.StoreError("get team", err)
		}
		if team == nil {
			return false, fmt.Errorf("%w: %s", chat.ErrTeamNotFound, conv.TeamID)
		}
		return team.HasMember(actor), nil

	case models.KindDirect:
		if conv.PeerA == conv.PeerB {
			return false, fmt.Errorf("%w: cannot message yourself", chat.ErrValidation)
		}
		if !conv.Involves(actor) {
			return false, nil
		}
		peer, err := g.dir.GetUser(ctx, conv.Peer(actor))
		if err != nil {
			return false, chat.StoreError("get user", err)
		}
		if peer == nil {
			return false, fmt.Errorf("%w: %s", chat.ErrUserNotFound, conv.Peer(actor))
		}
		return true, nil
	}

	return false, fmt.Errorf("%w: unknown conversation kind %q", chat.ErrValidation, conv.Kind)
}

// Authorize is CanAccess that turns a refusal into chat.ErrForbidden and
// records it for audit.
func (g *Gate) Authorize(ctx context.Context, actor uuid.UUID, conv models.ConversationRef, op chat.Op) error {
	ok, err := g.CanAccess(ctx, actor, conv)
	if err != nil {
		return err
	}
	if !ok {
		metrics.AccessDenied.WithLabelValues(string(conv.Kind), string(op)).Inc()
		g.logger.Warn().
			Str("type", "security").
			Str("event", "access_denied").
			Str("actor", actor.String()).
			Str("conversation", conv.String()).
			Str("op", string(op)).
			Msg("conversation access denied")
		return chat.ErrForbidden
	}
	return nil
}
