package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// MemoryStore keeps everything in process memory. It is used for tests and
// for single-process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	teams    map[uuid.UUID]models.Team
	users    map[uuid.UUID]models.User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		teams:    make(map[uuid.UUID]models.Team),
		users:    make(map[uuid.UUID]models.User),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

// PutTeam creates or replaces a team record.
func (s *MemoryStore) PutTeam(team models.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team.MemberIDs = append([]uuid.UUID(nil), team.MemberIDs...)
	s.teams[team.ID] = team
}

// PutUser creates or replaces a user record.
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// PutRaw stores msg without validation. Tests use it to plant corrupt rows.
func (s *MemoryStore) PutRaw(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneMessage(&msg)
	s.messages[msg.ID] = cp
}

func (s *MemoryStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, nil
	}
	t.MemberIDs = append([]uuid.UUID(nil), t.MemberIDs...)
	return &t, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conv models.ConversationRef, cursor Cursor, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.sortedLocked(conv) {
		if !cursor.Precedes(m.CreatedAt, m.ID) {
			continue
		}
		out = append(out, *cloneMessage(m))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return false, nil
	}
	delete(s.messages, id)
	return true, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var marked int64
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || !conv.Contains(m) {
			continue
		}
		if s.markLocked(m, reader) {
			marked++
		}
	}
	return marked, nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var marked int64
	for _, m := range s.messages {
		if conv.Contains(m) && s.markLocked(m, reader) {
			marked++
		}
	}
	return marked, nil
}

func (s *MemoryStore) markLocked(m *models.Message, reader uuid.UUID) bool {
	if m.SenderID == reader || readByContains(m.ReadBy, reader) {
		return false
	}
	m.ReadBy = append(m.ReadBy, reader)
	return true
}

func (s *MemoryStore) CountMessages(ctx context.Context, conv models.ConversationRef) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if conv.Contains(m) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if conv.Contains(m) && !m.IsReadBy(reader) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, conv models.ConversationRef) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.sortedLocked(conv)
	if len(sorted) == 0 {
		return nil, nil
	}
	return cloneMessage(sorted[0]), nil
}

func (s *MemoryStore) ListDirectThreads(ctx context.Context, user uuid.UUID) ([]models.DirectThread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPeer := make(map[uuid.UUID]*models.DirectThread)
	var order []uuid.UUID
	for _, m := range s.sortedLocked(models.ConversationRef{Kind: models.KindDirect}) {
		if m.RecipientID == nil {
			continue
		}
		var peer uuid.UUID
		switch user {
		case m.SenderID:
			peer = *m.RecipientID
		case *m.RecipientID:
			peer = m.SenderID
		default:
			continue
		}
		th, ok := byPeer[peer]
		if !ok {
			th = &models.DirectThread{PeerID: peer, LastMessage: *cloneMessage(m)}
			byPeer[peer] = th
			order = append(order, peer)
		}
		if m.SenderID == peer && !m.IsReadBy(user) {
			th.UnreadCount++
		}
	}

	threads := make([]models.DirectThread, 0, len(order))
	for _, peer := range order {
		threads = append(threads, *byPeer[peer])
	}
	return threads, nil
}

// sortedLocked returns the messages of conv newest first. A direct ref with
// nil peers selects every direct message.
func (s *MemoryStore) sortedLocked(conv models.ConversationRef) []*models.Message {
	allDirect := conv.Kind == models.KindDirect && conv.PeerA == uuid.Nil && conv.PeerB == uuid.Nil

	var out []*models.Message
	for _, m := range s.messages {
		if (allDirect && m.Kind == models.KindDirect) || conv.Contains(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.ReadBy = append([]uuid.UUID(nil), m.ReadBy...)
	if m.TeamID != nil {
		id := *m.TeamID
		cp.TeamID = &id
	}
	if m.RecipientID != nil {
		id := *m.RecipientID
		cp.RecipientID = &id
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}

// UpsertUser stores u.
func (s *MemoryStore) UpsertUser(ctx context.Context, u models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.PutUser(u)
	return nil
}

// UpsertTeam stores t.
func (s *MemoryStore) UpsertTeam(ctx context.Context, t models.Team) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.PutTeam(t)
	return nil
}
