package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/metrics"
	"github.com/eldtechnologies/teamchat/internal/models"
)

// ConversationPreview is the last message of a direct conversation.
type ConversationPreview struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"fromMe"`
	Encrypted bool      `json:"_encrypted"`
}

// ConversationSummary is one entry of a user's direct conversation list.
type ConversationSummary struct {
	User        models.User         `json:"user"`
	LastMessage ConversationPreview `json:"lastMessage"`
	UnreadCount int64               `json:"unreadCount"`
}

// ListMessageableUsers returns every user except actor, sorted by name.
func (s *Service) ListMessageableUsers(ctx context.Context, actor uuid.UUID) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.dir.ListUsers(ctx)
	if err != nil {
		return nil, s.failUser(actor, StoreError("list users", err))
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != actor {
			out = append(out, u)
		}
	}
	return out, nil
}

// ListDirectConversations returns one summary per peer actor has exchanged
// messages with, most recent first.
func (s *Service) ListDirectConversations(ctx context.Context, actor uuid.UUID) ([]ConversationSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	threads, err := s.store.ListDirectThreads(ctx, actor)
	if err != nil {
		return nil, s.failUser(actor, StoreError("list direct threads", err))
	}

	out := make([]ConversationSummary, 0, len(threads))
	for _, th := range threads {
		peer, err := s.dir.GetUser(ctx, th.PeerID)
		if err != nil {
			return nil, s.failUser(actor, StoreError("get user", err))
		}
		if peer == nil {
			peer = &models.User{ID: th.PeerID, DisplayName: unknownSender}
		}

		text, ok := s.codec.DecodeOrPlaceholder(th.LastMessage.ID, th.LastMessage.Ciphertext)
		if !ok {
			metrics.DecodeFailures.Inc()
		}
		out = append(out, ConversationSummary{
			User: *peer,
			LastMessage: ConversationPreview{
				ID:        th.LastMessage.ID,
				Text:      text,
				Timestamp: th.LastMessage.CreatedAt,
				FromMe:    th.LastMessage.SenderID == actor,
				Encrypted: ok,
			},
			UnreadCount: th.UnreadCount,
		})
	}
	return out, nil
}

// User returns a directory record for label lookups.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u, err := s.dir.GetUser(ctx, id)
	if err != nil {
		return nil, StoreError("get user", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) failUser(actor uuid.UUID, err error) error {
	s.logger.Error().Err(err).
		Str("actor", actor.String()).
		Msg("direct conversation lookup failed")
	return err
}
