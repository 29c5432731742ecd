package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as
// unix milliseconds and read_by as a JSON array of user ids.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/teamchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/teamchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT DEFAULT '',
		role TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		manager_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (team_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		team_id TEXT,
		recipient_id TEXT,
		sender_id TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		attachment TEXT DEFAULT '',
		created_at INTEGER NOT NULL,
		read_by TEXT NOT NULL DEFAULT '[]',
		edited INTEGER DEFAULT 0,
		edited_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_messages_team ON messages(team_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, recipient_id, created_at, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteMessageColumns = `id, kind, team_id, recipient_id, sender_id, ciphertext, attachment, created_at, read_by, edited, edited_at`

func sqliteConversation(conv models.ConversationRef) (string, []any) {
	if conv.Kind == models.KindTeam {
		return "kind = 'team' AND team_id = ?", []any{conv.TeamID.String()}
	}
	a, b := conv.PeerA.String(), conv.PeerB.String()
	return "kind = 'direct' AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
		[]any{a, b, b, a}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	var (
		m                   models.Message
		kind                string
		teamID, recipientID sql.NullString
		senderID            string
		createdAt           int64
		readBy              string
		edited              bool
		editedAt            sql.NullInt64
	)
	err := row.Scan(
		&m.ID,
		&kind,
		&teamID,
		&recipientID,
		&senderID,
		&m.Ciphertext,
		&m.Attachment,
		&createdAt,
		&readBy,
		&edited,
		&editedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Kind = models.ConversationKind(kind)
	if m.SenderID, err = uuid.Parse(senderID); err != nil {
		return nil, err
	}
	if teamID.Valid {
		id, err := uuid.Parse(teamID.String)
		if err != nil {
			return nil, err
		}
		m.TeamID = &id
	}
	if recipientID.Valid {
		id, err := uuid.Parse(recipientID.String)
		if err != nil {
			return nil, err
		}
		m.RecipientID = &id
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
		return nil, err
	}
	m.Edited = edited
	if editedAt.Valid {
		t := time.UnixMilli(editedAt.Int64).UTC()
		m.EditedAt = &t
	}
	return &m, nil
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

// InsertMessage persists a new message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	readByJSON, err := json.Marshal(readBy)
	if err != nil {
		return err
	}
	var editedAt sql.NullInt64
	if msg.EditedAt != nil {
		editedAt = sql.NullInt64{Int64: msg.EditedAt.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (`+sqliteMessageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		string(msg.Kind),
		nullUUID(msg.TeamID),
		nullUUID(msg.RecipientID),
		msg.SenderID.String(),
		msg.Ciphertext,
		msg.Attachment,
		msg.CreatedAt.UnixMilli(),
		string(readByJSON),
		msg.Edited,
		editedAt,
	)
	return err
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages older than cursor, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conv models.ConversationRef, cursor Cursor, limit int) ([]models.Message, error) {
	where, args := sqliteConversation(conv)
	before := cursor.Before.UnixMilli()
	args = append(args, before, before, cursor.BeforeID, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages
		WHERE `+where+`
		  AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const sqliteUnreadGuard = `sender_id <> ? AND NOT EXISTS (SELECT 1 FROM json_each(messages.read_by) WHERE json_each.value = ?)`

// MarkRead adds reader to read_by of unread messages among ids.
func (s *SQLiteStore) MarkRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	where, args := sqliteConversation(conv)
	r := reader.String()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `
		UPDATE messages SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE ` + where + `
		  AND id IN (` + placeholders + `)
		  AND ` + sqliteUnreadGuard

	full := append([]any{r}, args...)
	for _, id := range ids {
		full = append(full, id)
	}
	full = append(full, r, r)

	res, err := s.db.ExecContext(ctx, query, full...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkAllRead marks every message in conv not authored by reader.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	where, args := sqliteConversation(conv)
	r := reader.String()

	full := append([]any{r}, args...)
	full = append(full, r, r)

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE `+where+` AND `+sqliteUnreadGuard, full...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMessages counts the messages of a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conv models.ConversationRef) (int64, error) {
	where, args := sqliteConversation(conv)
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&count)
	return count, err
}

// CountUnread counts messages in conv that reader neither wrote nor read.
func (s *SQLiteStore) CountUnread(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	where, args := sqliteConversation(conv)
	r := reader.String()
	args = append(args, r, r)

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where+` AND `+sqliteUnreadGuard, args...).Scan(&count)
	return count, err
}

// LastMessage returns the newest message of a conversation.
func (s *SQLiteStore) LastMessage(ctx context.Context, conv models.ConversationRef) (*models.Message, error) {
	where, args := sqliteConversation(conv)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, args...)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListDirectThreads returns the latest message and unread count per peer.
func (s *SQLiteStore) ListDirectThreads(ctx context.Context, user uuid.UUID) ([]models.DirectThread, error) {
	u := user.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages
		WHERE kind = 'direct' AND (sender_id = ? OR recipient_id = ?)
		ORDER BY created_at DESC, id DESC
	`, u, u)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byPeer := make(map[uuid.UUID]int)
	var threads []models.DirectThread
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		peer := msg.SenderID
		if peer == user {
			peer = *msg.RecipientID
		}
		idx, ok := byPeer[peer]
		if !ok {
			idx = len(threads)
			byPeer[peer] = idx
			threads = append(threads, models.DirectThread{PeerID: peer, LastMessage: *msg})
		}
		if msg.SenderID == peer && !msg.IsReadBy(user) {
			threads[idx].UnreadCount++
		}
	}
	return threads, rows.Err()
}

// GetTeam retrieves a team and its member list.
func (s *SQLiteStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team := &models.Team{ID: id}
	var managerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, manager_id FROM teams WHERE id = ?
	`, id.String()).Scan(&team.Name, &managerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if team.ManagerID, err = uuid.Parse(managerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return nil, err
		}
		member, err := uuid.Parse(memberID)
		if err != nil {
			return nil, err
		}
		team.MemberIDs = append(team.MemberIDs, member)
	}
	return team, rows.Err()
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, email, role, created_at FROM users WHERE id = ?
	`, id.String()).Scan(&user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, role, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var idStr string
		if err := rows.Scan(&idStr, &u.DisplayName, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role
	`, u.ID.String(), u.DisplayName, u.Email, u.Role)
	return err
}

// UpsertTeam creates or updates a team and replaces its member list.
func (s *SQLiteStore) UpsertTeam(ctx context.Context, t models.Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, manager_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, manager_id = excluded.manager_id
	`, t.ID.String(), t.Name, t.ManagerID.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, t.ID.String()); err != nil {
		return err
	}
	for _, member := range t.MemberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO team_members (team_id, user_id) VALUES (?, ?)
		`, t.ID.String(), member.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
