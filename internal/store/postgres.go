package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const messageColumns = `id, kind, team_id, recipient_id, sender_id, ciphertext, attachment, created_at, read_by, edited, edited_at`

// pgConversation returns the WHERE fragment selecting conv, numbering its
// placeholders from next.
func pgConversation(conv models.ConversationRef, next int) (string, []any) {
	if conv.Kind == models.KindTeam {
		return fmt.Sprintf("kind = 'team' AND team_id = $%d", next), []any{conv.TeamID}
	}
	return fmt.Sprintf(
		"kind = 'direct' AND ((sender_id = $%d AND recipient_id = $%d) OR (sender_id = $%d AND recipient_id = $%d))",
		next, next+1, next+1, next,
	), []any{conv.PeerA, conv.PeerB}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var kind string
	err := row.Scan(
		&m.ID,
		&kind,
		&m.TeamID,
		&m.RecipientID,
		&m.SenderID,
		&m.Ciphertext,
		&m.Attachment,
		&m.CreatedAt,
		&m.ReadBy,
		&m.Edited,
		&m.EditedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Kind = models.ConversationKind(kind)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// InsertMessage persists a new message.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		msg.ID,
		string(msg.Kind),
		msg.TeamID,
		msg.RecipientID,
		msg.SenderID,
		msg.Ciphertext,
		msg.Attachment,
		msg.CreatedAt,
		readBy,
		msg.Edited,
		msg.EditedAt,
	)
	return err
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages older than cursor, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conv models.ConversationRef, cursor Cursor, limit int) ([]models.Message, error) {
	where, args := pgConversation(conv, 1)
	n := len(args)
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s
		  AND (created_at < $%d OR (created_at = $%d AND id < $%d))
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, messageColumns, where, n+1, n+1, n+2, n+3)
	args = append(args, cursor.Before, cursor.BeforeID, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRead appends reader to read_by. The NOT ANY guard makes the append a set union,
// so concurrent calls never add the same reader twice.
func (s *PostgresStore) MarkRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	where, args := pgConversation(conv, 1)
	n := len(args)
	query := fmt.Sprintf(`
		UPDATE messages SET read_by = array_append(read_by, $%d)
		WHERE %s
		  AND id = ANY($%d)
		  AND sender_id <> $%d
		  AND NOT ($%d = ANY(read_by))
	`, n+1, where, n+2, n+1, n+1)
	args = append(args, reader, ids)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkAllRead marks every message in conv not authored by reader.
func (s *PostgresStore) MarkAllRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	where, args := pgConversation(conv, 1)
	n := len(args)
	query := fmt.Sprintf(`
		UPDATE messages SET read_by = array_append(read_by, $%d)
		WHERE %s
		  AND sender_id <> $%d
		  AND NOT ($%d = ANY(read_by))
	`, n+1, where, n+1, n+1)
	args = append(args, reader)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountMessages counts the messages of a conversation.
func (s *PostgresStore) CountMessages(ctx context.Context, conv models.ConversationRef) (int64, error) {
	where, args := pgConversation(conv, 1)
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&count)
	return count, err
}

// CountUnread counts messages in conv that reader neither wrote nor read.
func (s *PostgresStore) CountUnread(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	where, args := pgConversation(conv, 1)
	n := len(args)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM messages
		WHERE %s AND sender_id <> $%d AND NOT ($%d = ANY(read_by))
	`, where, n+1, n+1)
	args = append(args, reader)

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// LastMessage returns the newest message of a conversation.
func (s *PostgresStore) LastMessage(ctx context.Context, conv models.ConversationRef) (*models.Message, error) {
	where, args := pgConversation(conv, 1)
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, args...)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListDirectThreads returns the latest message and unread count per peer.
func (s *PostgresStore) ListDirectThreads(ctx context.Context, user uuid.UUID) ([]models.DirectThread, error) {
	rows, err := s.pool.Query(ctx, `
		WITH mine AS (
			SELECT m.*,
			       CASE WHEN m.sender_id = $1 THEN m.recipient_id ELSE m.sender_id END AS peer_id
			FROM messages m
			WHERE m.kind = 'direct' AND (m.sender_id = $1 OR m.recipient_id = $1)
		),
		unread AS (
			SELECT peer_id, COUNT(*) AS n
			FROM mine
			WHERE sender_id = peer_id AND NOT ($1 = ANY(read_by))
			GROUP BY peer_id
		)
		SELECT DISTINCT ON (mine.peer_id)
		       mine.peer_id, COALESCE(unread.n, 0),
		       `+prefixed("mine", messageColumns)+`
		FROM mine
		LEFT JOIN unread ON unread.peer_id = mine.peer_id
		ORDER BY mine.peer_id, mine.created_at DESC, mine.id DESC
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.DirectThread
	for rows.Next() {
		var th models.DirectThread
		var kind string
		m := &th.LastMessage
		if err := rows.Scan(
			&th.PeerID,
			&th.UnreadCount,
			&m.ID,
			&kind,
			&m.TeamID,
			&m.RecipientID,
			&m.SenderID,
			&m.Ciphertext,
			&m.Attachment,
			&m.CreatedAt,
			&m.ReadBy,
			&m.Edited,
			&m.EditedAt,
		); err != nil {
			return nil, err
		}
		m.Kind = models.ConversationKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortThreads(threads)
	return threads, nil
}

// GetTeam retrieves a team and its member list.
func (s *PostgresStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team := &models.Team{}
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.name, t.manager_id,
		       COALESCE(ARRAY(SELECT tm.user_id FROM team_members tm WHERE tm.team_id = t.id), '{}')
		FROM teams t WHERE t.id = $1
	`, id).Scan(
		&team.ID,
		&team.Name,
		&team.ManagerID,
		&team.MemberIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return team, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user ordered by name.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertUser creates or updates a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role
	`, u.ID, u.DisplayName, u.Email, u.Role)
	return err
}

// UpsertTeam creates or updates a team and replaces its member list.
func (s *PostgresStore) UpsertTeam(ctx context.Context, t models.Team) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO teams (id, name, manager_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, manager_id = EXCLUDED.manager_id
	`, t.ID, t.Name, t.ManagerID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1`, t.ID); err != nil {
		return err
	}
	for _, member := range t.MemberIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, t.ID, member); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func prefixed(table, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = table + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func sortThreads(threads []models.DirectThread) {
	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i].LastMessage, threads[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
