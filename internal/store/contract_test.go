package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// writableStore is a backend that can also be seeded with directory records.
type writableStore interface {
	DataStore
	DirectoryWriter
}

// testBackend runs the behaviour every backend shares. Each subtest uses
// fresh ids, so s may be a database shared with other tests.
func testBackend(t *testing.T, s writableStore) {
	t.Run("directory", func(t *testing.T) { testDirectory(t, s) })
	t.Run("pagination", func(t *testing.T) { testPagination(t, s) })
	t.Run("mark read", func(t *testing.T) { testMarkRead(t, s) })
	t.Run("mark all read", func(t *testing.T) { testMarkAllRead(t, s) })
	t.Run("direct threads", func(t *testing.T) { testDirectThreads(t, s) })
	t.Run("delete", func(t *testing.T) { testDelete(t, s) })
}

func testDirectory(t *testing.T, s writableStore) {
	ctx := context.Background()
	manager := models.User{ID: uuid.New(), DisplayName: "Manager", Email: "m@example.com", Role: "manager"}
	member := models.User{ID: uuid.New(), DisplayName: "Member"}
	require.NoError(t, s.UpsertUser(ctx, manager))
	require.NoError(t, s.UpsertUser(ctx, member))

	team := models.Team{ID: uuid.New(), Name: "Ops", ManagerID: manager.ID, MemberIDs: []uuid.UUID{member.ID}}
	require.NoError(t, s.UpsertTeam(ctx, team))

	got, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ops", got.Name)
	assert.Equal(t, manager.ID, got.ManagerID)
	assert.True(t, got.HasMember(member.ID))
	assert.False(t, got.HasMember(uuid.New()))

	missing, err := s.GetTeam(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	user, err := s.GetUser(ctx, manager.ID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Manager", user.DisplayName)
	assert.Equal(t, "m@example.com", user.Email)

	// Upserting again renames rather than duplicating.
	member.DisplayName = "Renamed"
	require.NoError(t, s.UpsertUser(ctx, member))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	count := 0
	for _, u := range users {
		if u.ID == member.ID {
			count++
			assert.Equal(t, "Renamed", u.DisplayName)
		}
	}
	assert.Equal(t, 1, count)

	nobody, err := s.GetUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, nobody)
}

func testPagination(t *testing.T, s writableStore) {
	ctx := context.Background()
	team, sender := uuid.New(), uuid.New()
	at := time.Now().UTC().Truncate(time.Millisecond)

	// All 120 share one millisecond; only ids order them.
	for i := 0; i < 120; i++ {
		msg := teamMessage(fmt.Sprintf("%s-%03d", team, i), team, sender, at)
		require.NoError(t, s.InsertMessage(ctx, msg))
	}

	conv := models.TeamConversation(team)
	cursor := Cursor{Before: at.Add(time.Millisecond)}
	var sizes []int
	var seen []string
	for {
		page, err := s.ListMessages(ctx, conv, cursor, 50)
		require.NoError(t, err)
		sizes = append(sizes, len(page))
		seen = append(seen, ids(page)...)
		if len(page) < 50 {
			break
		}
		last := page[len(page)-1]
		assert.True(t, last.CreatedAt.Equal(at))
		cursor = Cursor{Before: last.CreatedAt, BeforeID: last.ID}
	}

	assert.Equal(t, []int{50, 50, 20}, sizes)
	require.Len(t, seen, 120)
	unique := make(map[string]bool)
	for i, id := range seen {
		assert.False(t, unique[id], "duplicate %s", id)
		unique[id] = true
		if i > 0 {
			assert.Greater(t, seen[i-1], id, "newest first")
		}
	}

	// Messages of the same millisecond but another team stay out.
	other := uuid.New()
	require.NoError(t, s.InsertMessage(ctx, teamMessage(other.String()+"-x", other, sender, at)))
	n, err := s.CountMessages(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)
}

func testMarkRead(t *testing.T, s writableStore) {
	ctx := context.Background()
	team, author, reader := uuid.New(), uuid.New(), uuid.New()
	conv := models.TeamConversation(team)
	at := time.Now().UTC().Truncate(time.Millisecond)

	var batch []string
	for i := 0; i < 10; i++ {
		msg := teamMessage(fmt.Sprintf("%s-%02d", team, i), team, author, at.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, s.InsertMessage(ctx, msg))
		batch = append(batch, msg.ID)
	}

	n, err := s.MarkRead(ctx, conv, reader, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = s.MarkRead(ctx, conv, reader, batch)
	require.NoError(t, err)
	assert.Zero(t, n, "second mark is a no-op")

	n, err = s.MarkRead(ctx, conv, author, batch)
	require.NoError(t, err)
	assert.Zero(t, n, "senders never mark their own messages")

	n, err = s.MarkRead(ctx, models.TeamConversation(uuid.New()), uuid.New(), batch)
	require.NoError(t, err)
	assert.Zero(t, n, "ids outside the conversation are ignored")

	got, err := s.GetMessage(ctx, batch[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []uuid.UUID{reader}, got.ReadBy)
}

func testMarkAllRead(t *testing.T, s writableStore) {
	ctx := context.Background()
	team, author, reader := uuid.New(), uuid.New(), uuid.New()
	conv := models.TeamConversation(team)
	at := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 120; i++ {
		from := author
		if i%12 == 0 {
			from = reader
		}
		require.NoError(t, s.InsertMessage(ctx, teamMessage(fmt.Sprintf("%s-%03d", team, i), team, from, at)))
	}

	unread, err := s.CountUnread(ctx, conv, reader)
	require.NoError(t, err)
	assert.Equal(t, int64(110), unread)

	n, err := s.MarkAllRead(ctx, conv, reader)
	require.NoError(t, err)
	assert.Equal(t, int64(110), n)

	n, err = s.MarkAllRead(ctx, conv, reader)
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err = s.CountUnread(ctx, conv, reader)
	require.NoError(t, err)
	assert.Zero(t, unread)

	unread, err = s.CountUnread(ctx, conv, author)
	require.NoError(t, err)
	assert.Equal(t, int64(10), unread)
}

func testDirectThreads(t *testing.T, s writableStore) {
	ctx := context.Background()
	me, chatty, quiet := uuid.New(), uuid.New(), uuid.New()
	at := time.Now().UTC().Truncate(time.Millisecond)

	first := directMessage(uuid.NewString(), chatty, me, at)
	second := directMessage(uuid.NewString(), chatty, me, at.Add(time.Millisecond))
	reply := directMessage(uuid.NewString(), me, chatty, at.Add(2*time.Millisecond))
	hello := directMessage(uuid.NewString(), quiet, me, at.Add(3*time.Millisecond))
	for _, m := range []*models.Message{first, second, reply, hello} {
		require.NoError(t, s.InsertMessage(ctx, m))
	}

	n, err := s.MarkRead(ctx, models.DirectConversation(me, chatty), me, []string{first.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	threads, err := s.ListDirectThreads(ctx, me)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	assert.Equal(t, quiet, threads[0].PeerID, "newest conversation first")
	assert.Equal(t, hello.ID, threads[0].LastMessage.ID)
	assert.Equal(t, int64(1), threads[0].UnreadCount)

	assert.Equal(t, chatty, threads[1].PeerID)
	assert.Equal(t, reply.ID, threads[1].LastMessage.ID)
	assert.Equal(t, int64(1), threads[1].UnreadCount)

	// The peer's view counts only what I sent.
	theirs, err := s.ListDirectThreads(ctx, chatty)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, me, theirs[0].PeerID)
	assert.Equal(t, int64(1), theirs[0].UnreadCount)

	unread, err := s.CountUnread(ctx, models.DirectConversation(me, chatty), me)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func testDelete(t *testing.T, s writableStore) {
	ctx := context.Background()
	team, sender := uuid.New(), uuid.New()
	conv := models.TeamConversation(team)
	at := time.Now().UTC().Truncate(time.Millisecond)

	older := teamMessage(team.String()+"-a", team, sender, at)
	newer := teamMessage(team.String()+"-b", team, sender, at.Add(time.Millisecond))
	require.NoError(t, s.InsertMessage(ctx, older))
	require.NoError(t, s.InsertMessage(ctx, newer))

	last, err := s.LastMessage(ctx, conv)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, newer.ID, last.ID)

	deleted, err := s.DeleteMessage(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteMessage(ctx, newer.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	gone, err := s.GetMessage(ctx, newer.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	last, err = s.LastMessage(ctx, conv)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, older.ID, last.ID)

	empty, err := s.LastMessage(ctx, models.TeamConversation(uuid.New()))
	require.NoError(t, err)
	assert.Nil(t, empty)
}
