// Package chat implements the conversation operations shared by team
// channels and direct conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/teamchat/internal/crypto"
	"github.com/eldtechnologies/teamchat/internal/events"
	"github.com/eldtechnologies/teamchat/internal/metrics"
	"github.com/eldtechnologies/teamchat/internal/models"
	"github.com/eldtechnologies/teamchat/internal/store"
)

// Op names an operation for authorization and audit logs.
type Op string

const (
	OpList     Op = "list"
	OpSend     Op = "send"
	OpMarkRead Op = "mark_read"
	OpStats    Op = "stats"
	OpDelete   Op = "delete"
)

const (
	DefaultLimit            = 50
	MaxLimit                = 200
	MaxTextLength           = 4096
	MaxAttachmentLength     = 2048
	MaxMarkReadIDs          = 500
	DefaultOperationTimeout = 5 * time.Second

	unknownSender = "Unknown"
)

// Authorizer decides whether actor may perform op on conv.
type Authorizer interface {
	Authorize(ctx context.Context, actor uuid.UUID, conv models.ConversationRef, op Op) error
}

// Codec seals and opens message bodies.
type Codec interface {
	Encode(plaintext string) (string, error)
	DecodeOrPlaceholder(messageID, blob string) (string, bool)
}

// Options tunes a Service.
type Options struct {
	OperationTimeout time.Duration
	Now              func() time.Time
}

// Service runs every conversation operation: gate first, then store and codec.
type Service struct {
	store   store.MessageStore
	dir     store.Directory
	gate    Authorizer
	codec   Codec
	events  events.Publisher
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

// New wires a Service. pub may be nil.
func New(ms store.MessageStore, dir store.Directory, gate Authorizer, codec Codec, pub events.Publisher, logger zerolog.Logger, opts Options) *Service {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:   ms,
		dir:     dir,
		gate:    gate,
		codec:   codec,
		events:  pub,
		logger:  logger.With().Str("component", "chat").Logger(),
		timeout: opts.OperationTimeout,
		now:     opts.Now,
	}
}

// ListOptions selects a page. Before is a cursor token, RFC 3339 timestamp or
// unix milliseconds; empty means now.
type ListOptions struct {
	Limit  int
	Before string
}

// MessagePage is one page of decoded messages, oldest first.
type MessagePage struct {
	Messages   []models.DecodedMessage `json:"messages"`
	HasMore    bool                    `json:"hasMore"`
	NextBefore string                  `json:"nextBefore,omitempty"`
}

// LastMessage describes the newest message of a conversation.
type LastMessage struct {
	SenderID   uuid.UUID `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats summarises a conversation for one reader.
type Stats struct {
	TotalMessages int64        `json:"totalMessages"`
	UnreadCount   int64        `json:"unreadCount"`
	LastMessage   *LastMessage `json:"lastMessage"`
}

// ListMessages returns a page of conv, newest page first, messages inside the
// page oldest first.
func (s *Service) ListMessages(ctx context.Context, actor uuid.UUID, conv models.ConversationRef, opts ListOptions) (*MessagePage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	cursor, err := ParseBefore(opts.Before, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.gate.Authorize(ctx, actor, conv, OpList); err != nil {
		return nil, s.fail(OpList, actor, conv, err)
	}

	start := time.Now()
	rows, err := s.store.ListMessages(ctx, conv, cursor, limit)
	metrics.StoreLatency.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.fail(OpList, actor, conv, StoreError("list messages", err))
	}

	names := s.senderNames(ctx)
	decoded := make([]models.DecodedMessage, len(rows))
	for i := range rows {
		// rows are newest first
		decoded[len(rows)-1-i] = s.decode(&rows[i], names)
	}

	page := &MessagePage{Messages: decoded, HasMore: len(rows) == limit}
	if len(rows) > 0 {
		oldest := rows[len(rows)-1]
		page.NextBefore = CursorToken(oldest.CreatedAt, oldest.ID)
	}
	return page, nil
}

// SendMessage encrypts and stores a new message and returns it in plaintext.
func (s *Service) SendMessage(ctx context.Context, actor uuid.UUID, conv models.ConversationRef, text, attachment string) (*models.DecodedMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text = strings.TrimSpace(text)
	attachment = strings.TrimSpace(attachment)
	if text == "" {
		return nil, validationError("message text is required")
	}
	if len(text) > MaxTextLength {
		return nil, validationError("message text exceeds %d bytes", MaxTextLength)
	}
	if len(attachment) > MaxAttachmentLength {
		return nil, validationError("attachment reference exceeds %d bytes", MaxAttachmentLength)
	}

	if err := s.gate.Authorize(ctx, actor, conv, OpSend); err != nil {
		return nil, s.fail(OpSend, actor, conv, err)
	}

	ciphertext, err := s.codec.Encode(text)
	if err != nil {
		return nil, s.fail(OpSend, actor, conv, fmt.Errorf("%w: %v", ErrCodec, err))
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	msg := &models.Message{
		ID:         crypto.NewMessageID(now),
		Kind:       conv.Kind,
		SenderID:   actor,
		Ciphertext: ciphertext,
		Attachment: attachment,
		CreatedAt:  now,
		ReadBy:     []uuid.UUID{},
	}
	switch conv.Kind {
	case models.KindTeam:
		teamID := conv.TeamID
		msg.TeamID = &teamID
	case models.KindDirect:
		recipient := conv.Peer(actor)
		msg.RecipientID = &recipient
		msg.ReadBy = []uuid.UUID{actor}
	}

	start := time.Now()
	err = s.store.InsertMessage(ctx, msg)
	metrics.StoreLatency.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.fail(OpSend, actor, conv, StoreError("insert message", err))
	}
	metrics.MessagesSent.WithLabelValues(string(conv.Kind)).Inc()

	s.publish(ctx, events.TypeMessageSent, msg.Conversation(), actor, []string{msg.ID}, 0)

	return &models.DecodedMessage{
		ID:          msg.ID,
		Kind:        msg.Kind,
		TeamID:      msg.TeamID,
		RecipientID: msg.RecipientID,
		Sender:      models.Sender{ID: actor, Name: s.senderNames(ctx).lookup(actor)},
		Text:        text,
		Attachment:  msg.Attachment,
		CreatedAt:   msg.CreatedAt,
		ReadBy:      msg.ReadBy,
		Encrypted:   true,
	}, nil
}

// MarkRead records that actor has read ids in conv. It returns how many
// messages were newly marked; repeating the call marks nothing.
func (s *Service) MarkRead(ctx context.Context, actor uuid.UUID, conv models.ConversationRef, ids []string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids = compactIDs(ids)
	if len(ids) == 0 {
		return 0, validationError("messageIds must be a non-empty list")
	}
	if len(ids) > MaxMarkReadIDs {
		return 0, validationError("at most %d messageIds per request", MaxMarkReadIDs)
	}

	if err := s.gate.Authorize(ctx, actor, conv, OpMarkRead); err != nil {
		return 0, s.fail(OpMarkRead, actor, conv, err)
	}

	start := time.Now()
	n, err := s.store.MarkRead(ctx, conv, actor, ids)
	metrics.StoreLatency.WithLabelValues("mark_read").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, s.fail(OpMarkRead, actor, conv, StoreError("mark read", err))
	}
	s.afterRead(ctx, conv, actor, ids, n)
	return n, nil
}

// MarkAllRead marks every message in conv that actor has not written or read.
func (s *Service) MarkAllRead(ctx context.Context, actor uuid.UUID, conv models.ConversationRef) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.gate.Authorize(ctx, actor, conv, OpMarkRead); err != nil {
		return 0, s.fail(OpMarkRead, actor, conv, err)
	}

	start := time.Now()
	n, err := s.store.MarkAllRead(ctx, conv, actor)
	metrics.StoreLatency.WithLabelValues("mark_all_read").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, s.fail(OpMarkRead, actor, conv, StoreError("mark all read", err))
	}
	s.afterRead(ctx, conv, actor, nil, n)
	return n, nil
}

func (s *Service) afterRead(ctx context.Context, conv models.ConversationRef, actor uuid.UUID, ids []string, n int64) {
	if n == 0 {
		return
	}
	metrics.MessagesRead.WithLabelValues(string(conv.Kind)).Add(float64(n))
	s.publish(ctx, events.TypeMessageRead, conv, actor, ids, n)
}

// Stats returns message and unread counts for actor in conv.
func (s *Service) Stats(ctx context.Context, actor uuid.UUID, conv models.ConversationRef) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.gate.Authorize(ctx, actor, conv, OpStats); err != nil {
		return nil, s.fail(OpStats, actor, conv, err)
	}

	total, err := s.store.CountMessages(ctx, conv)
	if err != nil {
		return nil, s.fail(OpStats, actor, conv, StoreError("count messages", err))
	}
	unread, err := s.store.CountUnread(ctx, conv, actor)
	if err != nil {
		return nil, s.fail(OpStats, actor, conv, StoreError("count unread", err))
	}
	last, err := s.store.LastMessage(ctx, conv)
	if err != nil {
		return nil, s.fail(OpStats, actor, conv, StoreError("last message", err))
	}

	stats := &Stats{TotalMessages: total, UnreadCount: unread}
	if last != nil {
		stats.LastMessage = &LastMessage{
			SenderID:   last.SenderID,
			SenderName: s.senderNames(ctx).lookup(last.SenderID),
			Timestamp:  last.CreatedAt,
		}
	}
	return stats, nil
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *Service) DeleteMessage(ctx context.Context, actor uuid.UUID, messageID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", validationError("message id is required")
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", s.failMessage(actor, messageID, StoreError("get message", err))
	}
	if msg == nil {
		return "", fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	conv := msg.Conversation()
	if msg.SenderID != actor {
		metrics.AccessDenied.WithLabelValues(string(msg.Kind), string(OpDelete)).Inc()
		s.logger.Warn().
			Str("type", "security").
			Str("event", "access_denied").
			Str("actor", actor.String()).
			Str("conversation", conv.String()).
			Str("message_id", messageID).
			Str("op", string(OpDelete)).
			Msg("delete by non-sender rejected")
		return "", fmt.Errorf("%w: only the sender can delete a message", ErrForbidden)
	}

	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return "", s.failMessage(actor, messageID, StoreError("delete message", err))
	}
	if !deleted {
		return "", fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	metrics.MessagesDeleted.Inc()

	s.publish(ctx, events.TypeMessageDeleted, conv, actor, []string{messageID}, 0)
	return messageID, nil
}

// decode turns a stored row into its API shape. A body that cannot be
// decrypted becomes the placeholder; the rest of the page is unaffected.
func (s *Service) decode(m *models.Message, names *senderCache) models.DecodedMessage {
	text, ok := s.codec.DecodeOrPlaceholder(m.ID, m.Ciphertext)
	if !ok {
		metrics.DecodeFailures.Inc()
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	return models.DecodedMessage{
		ID:          m.ID,
		Kind:        m.Kind,
		TeamID:      m.TeamID,
		RecipientID: m.RecipientID,
		Sender:      models.Sender{ID: m.SenderID, Name: names.lookup(m.SenderID)},
		Text:        text,
		Attachment:  m.Attachment,
		CreatedAt:   m.CreatedAt,
		ReadBy:      readBy,
		Edited:      m.Edited,
		EditedAt:    m.EditedAt,
		Encrypted:   ok,
	}
}

func (s *Service) publish(ctx context.Context, eventType string, conv models.ConversationRef, actor uuid.UUID, ids []string, count int64) {
	data := events.MessageEvent{
		MessageIDs:   ids,
		Conversation: conv.String(),
		Kind:         string(conv.Kind),
		ActorID:      actor,
		Count:        count,
	}
	switch conv.Kind {
	case models.KindTeam:
		teamID := conv.TeamID
		data.TeamID = &teamID
	case models.KindDirect:
		peer := conv.Peer(actor)
		data.RecipientID = &peer
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(pubCtx, events.New(eventType, data)); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("conversation", conv.String()).
			Msg("failed to publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
}

// fail logs err with its operation context and returns it unchanged.
func (s *Service) fail(op Op, actor uuid.UUID, conv models.ConversationRef, err error) error {
	var ev *zerolog.Event
	switch {
	case errors.Is(err, ErrForbidden):
		// already audited by the gate
		return err
	case HTTPStatus(err) >= 500:
		ev = s.logger.Error()
	default:
		ev = s.logger.Debug()
	}
	ev.Err(err).
		Str("op", string(op)).
		Str("actor", actor.String()).
		Str("conversation", conv.String()).
		Msg("conversation operation failed")
	return err
}

func (s *Service) failMessage(actor uuid.UUID, messageID string, err error) error {
	s.logger.Error().Err(err).
		Str("op", string(OpDelete)).
		Str("actor", actor.String()).
		Str("message_id", messageID).
		Msg("conversation operation failed")
	return err
}

func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
