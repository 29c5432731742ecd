package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eldtechnologies/teamchat/internal/models"
)

func teamMessage(id string, team, sender uuid.UUID, at time.Time) *models.Message {
	return &models.Message{
		ID:         id,
		Kind:       models.KindTeam,
		TeamID:     &team,
		SenderID:   sender,
		Ciphertext: "00:00",
		CreatedAt:  at,
	}
}

func directMessage(id string, from, to uuid.UUID, at time.Time) *models.Message {
	return &models.Message{
		ID:          id,
		Kind:        models.KindDirect,
		RecipientID: &to,
		SenderID:    from,
		Ciphertext:  "00:00",
		CreatedAt:   at,
		ReadBy:      []uuid.UUID{from},
	}
}

func TestMemoryStoreOrderingAndCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	team, sender := uuid.New(), uuid.New()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	// Five messages share one millisecond; ids break the tie.
	for i := 0; i < 10; i++ {
		at := base
		if i >= 5 {
			at = base.Add(time.Duration(i) * time.Millisecond)
		}
		require.NoError(t, s.InsertMessage(ctx, teamMessage(fmt.Sprintf("m%02d", i), team, sender, at)))
	}

	conv := models.TeamConversation(team)
	first, err := s.ListMessages(ctx, conv, Cursor{Before: base.Add(time.Hour)}, 4)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, []string{"m09", "m08", "m07", "m06"}, ids(first))

	last := first[len(first)-1]
	second, err := s.ListMessages(ctx, conv, Cursor{Before: last.CreatedAt, BeforeID: last.ID}, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"m05", "m04", "m03", "m02"}, ids(second))

	last = second[len(second)-1]
	third, err := s.ListMessages(ctx, conv, Cursor{Before: last.CreatedAt, BeforeID: last.ID}, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"m01", "m00"}, ids(third))
}

func TestMemoryStoreRejectsInvalidMessage(t *testing.T) {
	s := NewMemoryStore()
	team, recipient := uuid.New(), uuid.New()
	msg := teamMessage("bad", team, uuid.New(), time.Now())
	msg.RecipientID = &recipient

	err := s.InsertMessage(context.Background(), msg)
	assert.ErrorIs(t, err, models.ErrInvalidMessage)
}

func TestMemoryStoreMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	team, author, reader := uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()
	require.NoError(t, s.InsertMessage(ctx, teamMessage("a", team, author, now)))
	require.NoError(t, s.InsertMessage(ctx, teamMessage("b", team, reader, now.Add(time.Millisecond))))

	conv := models.TeamConversation(team)
	n, err := s.MarkRead(ctx, conv, reader, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "own message and unknown id are skipped")

	n, err = s.MarkRead(ctx, conv, reader, []string{"a"})
	require.NoError(t, err)
	assert.Zero(t, n)

	msg, err := s.GetMessage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{reader}, msg.ReadBy)

	unread, err := s.CountUnread(ctx, conv, reader)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMemoryStoreMarkReadIgnoresOtherConversations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	teamA, teamB, author, reader := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, s.InsertMessage(ctx, teamMessage("x", teamB, author, time.Now())))

	n, err := s.MarkRead(ctx, models.TeamConversation(teamA), reader, []string{"x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStoreDirectThreads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	me, bob, carol := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.InsertMessage(ctx, directMessage("1", bob, me, base)))
	require.NoError(t, s.InsertMessage(ctx, directMessage("2", bob, me, base.Add(time.Millisecond))))
	require.NoError(t, s.InsertMessage(ctx, directMessage("3", me, carol, base.Add(2*time.Millisecond))))
	require.NoError(t, s.InsertMessage(ctx, directMessage("4", carol, bob, base.Add(3*time.Millisecond))))

	threads, err := s.ListDirectThreads(ctx, me)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	assert.Equal(t, carol, threads[0].PeerID)
	assert.Equal(t, "3", threads[0].LastMessage.ID)
	assert.Zero(t, threads[0].UnreadCount)

	assert.Equal(t, bob, threads[1].PeerID)
	assert.Equal(t, "2", threads[1].LastMessage.ID)
	assert.Equal(t, int64(2), threads[1].UnreadCount)

	n, err := s.MarkAllRead(ctx, models.DirectConversation(me, bob), me)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStoreDeleteAndLast(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	team, author := uuid.New(), uuid.New()
	now := time.Now().UTC()
	require.NoError(t, s.InsertMessage(ctx, teamMessage("a", team, author, now)))
	require.NoError(t, s.InsertMessage(ctx, teamMessage("b", team, author, now.Add(time.Second))))

	conv := models.TeamConversation(team)
	last, err := s.LastMessage(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, "b", last.ID)

	ok, err := s.DeleteMessage(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteMessage(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	total, err := s.CountMessages(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	gone, err := s.GetMessage(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSeedApply(t *testing.T) {
	seed := &Seed{}
	require.NoError(t, yaml.Unmarshal([]byte(`
users:
  - id: 7d3c1d1e-7f64-4a53-a2b7-6c1f4f0f4d01
    name: Ada
  - id: 7d3c1d1e-7f64-4a53-a2b7-6c1f4f0f4d02
    name: Bob
teams:
  - id: 0b5e2a3c-1111-4c2d-9e8f-000000000001
    name: Platform
    manager: 7d3c1d1e-7f64-4a53-a2b7-6c1f4f0f4d01
    members: [7d3c1d1e-7f64-4a53-a2b7-6c1f4f0f4d02]
`), seed))

	s := NewMemoryStore()
	require.NoError(t, seed.Apply(context.Background(), s))

	team, err := s.GetTeam(context.Background(), uuid.MustParse("0b5e2a3c-1111-4c2d-9e8f-000000000001"))
	require.NoError(t, err)
	require.NotNil(t, team)
	assert.True(t, team.HasMember(uuid.MustParse("7d3c1d1e-7f64-4a53-a2b7-6c1f4f0f4d02")))

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
