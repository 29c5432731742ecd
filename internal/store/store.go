package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// ErrNotConfigured is returned by Open for an unknown backend name.
var ErrNotConfigured = errors.New("store backend not configured")

// Cursor bounds a backward page walk. Messages strictly older than
// (Before, BeforeID) are returned; with an empty BeforeID only Before is used.
type Cursor struct {
	Before   time.Time
	BeforeID string
}

// Precedes reports whether a message created at t with id sorts before the cursor.
func (c Cursor) Precedes(t time.Time, id string) bool {
	if t.Before(c.Before) {
		return true
	}
	return c.BeforeID != "" && t.Equal(c.Before) && id < c.BeforeID
}

// MessageStore persists messages. Lookups that find nothing return nil, nil.
// List results are ordered newest first by (created_at, id).
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conv models.ConversationRef, cursor Cursor, limit int) ([]models.Message, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)

	// MarkRead adds reader to read_by of the given messages in conv that reader
	// did not author and has not read yet. It returns how many were newly marked.
	MarkRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID, ids []string) (int64, error)
	// MarkAllRead marks every message in conv not authored by reader.
	MarkAllRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error)

	CountMessages(ctx context.Context, conv models.ConversationRef) (int64, error)
	CountUnread(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error)
	LastMessage(ctx context.Context, conv models.ConversationRef) (*models.Message, error)

	// ListDirectThreads returns one entry per peer user has exchanged direct
	// messages with, most recently active first.
	ListDirectThreads(ctx context.Context, user uuid.UUID) ([]models.DirectThread, error)
}

// Directory exposes the team and user collaborators. Lookups that find
// nothing return nil, nil.
type Directory interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// DataStore is implemented by every backend.
type DataStore interface {
	MessageStore
	Directory

	Ping(ctx context.Context) error
	Close()
}

func readByContains(readBy []uuid.UUID, id uuid.UUID) bool {
	for _, r := range readBy {
		if r == id {
			return true
		}
	}
	return false
}
