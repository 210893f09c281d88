package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/ROMARIC12/chatfull/internal/models"
)

// SQLiteStore handles SQLite database operations.
// UUIDs are stored as text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
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
	// Single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
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
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'offline',
		last_seen DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		is_group INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		admin_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		direct_key TEXT UNIQUE,
		latest_message_id TEXT,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_members (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_media (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		url TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		storage_key TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user ON conversation_members(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_media_message ON message_media(message_id);
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

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scanSQLiteUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var id, status string
	var lastSeen sql.NullTime
	err := row.Scan(
		&id,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.AvatarURL,
		&status,
		&lastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	user.Status = models.Status(status)
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeen = &t
	}
	return user, nil
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash, avatarURL string) (*models.User, error) {
	id := uuid.Must(uuid.NewV7())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, avatar_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), name, email, passwordHash, avatarURL, string(models.StatusOffline), time.Now().UTC())
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUsersByIDs retrieves users in the order of ids. Unknown ids are skipped.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	users, err := collectSQLiteUsers(rows)
	if err != nil {
		return nil, err
	}
	return orderUsers(ids, users), nil
}

// ListUsers returns every user except one, ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context, exclude uuid.UUID) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id <> ? ORDER BY name`, exclude.String())
	if err != nil {
		return nil, err
	}
	return collectSQLiteUsers(rows)
}

func collectSQLiteUsers(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()
	users := []models.User{}
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetUserPresence updates the status and last-seen time of a user.
func (s *SQLiteStore) SetUserPresence(ctx context.Context, id uuid.UUID, status models.Status, lastSeen *time.Time) error {
	var seen any
	if lastSeen != nil {
		seen = lastSeen.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, last_seen = COALESCE(?, last_seen) WHERE id = ?
	`, string(status), seen, id.String())
	return err
}

// UpdateUserProfile replaces the display name and avatar URL.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, avatar_url = ? WHERE id = ?
	`, name, avatarURL, id.String())
	return err
}

func scanSQLiteConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var id string
	var admin, directKey, latest sql.NullString
	err := row.Scan(
		&id,
		&conv.IsGroup,
		&conv.Name,
		&conv.Description,
		&admin,
		&directKey,
		&latest,
		&conv.IsPinned,
		&conv.IsArchived,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if conv.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if admin.Valid {
		adminID, err := uuid.Parse(admin.String)
		if err != nil {
			return nil, err
		}
		conv.AdminID = &adminID
	}
	conv.DirectKey = directKey.String
	conv.LatestMessageID = latest.String
	return conv, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, conv *models.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY position
	`, conv.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	conv.MemberIDs = []uuid.UUID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return err
		}
		conv.MemberIDs = append(conv.MemberIDs, id)
	}
	return rows.Err()
}

func (s *SQLiteStore) collectConversations(ctx context.Context, rows *sql.Rows) ([]models.Conversation, error) {
	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanSQLiteConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, *conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		if err := s.loadMembers(ctx, &convs[i]); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts the conversation and its members. ID and timestamps are assigned.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, name, description, admin_id, direct_key, is_pinned, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID.String(), conv.IsGroup, conv.Name, conv.Description, nullUUID(conv.AdminID), nullText(conv.DirectKey),
		conv.IsPinned, conv.IsArchived, now, now)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicate
		}
		return err
	}

	for i, memberID := range conv.MemberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, position) VALUES (?, ?, ?)
		`, conv.ID.String(), memberID.String(), i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetConversation retrieves a conversation with its members.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadMembers(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindDirectConversation retrieves the one-to-one conversation between a and b.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE direct_key = ?
	`, models.DirectKey(a, b)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadMembers(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns the user's conversations, most recently updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		WHERE EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = ?)
		ORDER BY updated_at DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	return s.collectConversations(ctx, rows)
}

// ListGroups returns every group conversation, most recently updated first.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE is_group = 1 ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return s.collectConversations(ctx, rows)
}

// UpdateConversation persists name, description and flags. The admin is
// only changed through SetAdmin.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET name = ?, description = ?, is_pinned = ?, is_archived = ?, updated_at = ?
		WHERE id = ?
	`, conv.Name, conv.Description, conv.IsPinned, conv.IsArchived, conv.UpdatedAt, conv.ID.String())
	return err
}

// SetAdmin makes userID the admin if they are still a member.
func (s *SQLiteStore) SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET admin_id = ?, updated_at = ?
		WHERE id = ? AND EXISTS (
			SELECT 1 FROM conversation_members WHERE conversation_id = ? AND user_id = ?
		)
	`, userID.String(), time.Now().UTC(), conversationID.String(), conversationID.String(), userID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotMember
	}
	return nil
}

// AddMember appends a member. Adding an existing member is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_members (conversation_id, user_id, position)
		SELECT ?, ?, COALESCE(MAX(position), -1) + 1 FROM conversation_members WHERE conversation_id = ?
	`, conversationID.String(), userID.String(), conversationID.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), conversationID.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember deletes a member other than the current admin.
func (s *SQLiteStore) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
		AND NOT EXISTS (SELECT 1 FROM conversations WHERE id = ? AND admin_id = ?)
	`, conversationID.String(), userID.String(), conversationID.String(), userID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var admin sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT admin_id FROM conversations WHERE id = ?`, conversationID.String()).Scan(&admin)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if admin.Valid && admin.String == userID.String() {
			return ErrIsAdmin
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), conversationID.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteConversation deletes a conversation with its members and messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	return err
}

// SetLatestMessage moves the latest-message pointer and bumps the activity time.
func (s *SQLiteStore) SetLatestMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET latest_message_id = ?, updated_at = ? WHERE id = ?
	`, messageID, time.Now().UTC(), conversationID.String())
	return err
}

// CreateMessage inserts a message and its media. IDs and creation time are assigned when empty.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID.String(), msg.SenderID.String(), msg.Content, msg.CreatedAt); err != nil {
		return err
	}

	for i, m := range msg.Media {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_media (id, message_id, position, type, url, file_name, file_size, mime_type, storage_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, msg.ID, i, string(m.Type), m.URL, m.FileName, m.FileSize, m.MimeType, m.StorageKey); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var conversationID, senderID string
	if err := row.Scan(&msg.ID, &conversationID, &senderID, &msg.Content, &msg.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if msg.ConversationID, err = uuid.Parse(conversationID); err != nil {
		return nil, err
	}
	if msg.SenderID, err = uuid.Parse(senderID); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message with its media and readers.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	messages := []models.Message{*msg}
	if err := s.attachDetails(ctx, messages, `m.id = ?`, id); err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.listMessages(ctx, conversationID, false)
}

// ListMediaMessages returns a conversation's messages that carry media, in creation order.
func (s *SQLiteStore) ListMediaMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.listMessages(ctx, conversationID, true)
}

func (s *SQLiteStore) listMessages(ctx context.Context, conversationID uuid.UUID, mediaOnly bool) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE conversation_id = ?`
	if mediaOnly {
		query += ` AND EXISTS (SELECT 1 FROM message_media mm WHERE mm.message_id = m.id)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, err
	}
	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, *msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachDetails(ctx, messages, `m.conversation_id = ?`, conversationID.String()); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachDetails loads media and readers for the messages selected by filter.
func (s *SQLiteStore) attachDetails(ctx context.Context, messages []models.Message, filter string, arg any) error {
	media := make(map[string][]models.Media)
	rows, err := s.db.QueryContext(ctx, `
		SELECT mm.message_id, mm.id, mm.type, mm.url, mm.file_name, mm.file_size, mm.mime_type, mm.storage_key
		FROM message_media mm JOIN messages m ON m.id = mm.message_id
		WHERE `+filter+`
		ORDER BY mm.message_id, mm.position
	`, arg)
	if err != nil {
		return err
	}
	for rows.Next() {
		var messageID, mediaType string
		var m models.Media
		if err := rows.Scan(&messageID, &m.ID, &mediaType, &m.URL, &m.FileName, &m.FileSize, &m.MimeType, &m.StorageKey); err != nil {
			rows.Close()
			return err
		}
		m.Type = models.MediaType(mediaType)
		media[messageID] = append(media[messageID], m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	readers := make(map[string][]uuid.UUID)
	rows, err = s.db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id
		FROM message_reads r JOIN messages m ON m.id = r.message_id
		WHERE `+filter+`
		ORDER BY r.message_id, r.seq
	`, arg)
	if err != nil {
		return err
	}
	for rows.Next() {
		var messageID, raw string
		if err := rows.Scan(&messageID, &raw); err != nil {
			rows.Close()
			return err
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			rows.Close()
			return err
		}
		readers[messageID] = append(readers[messageID], userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	attach(messages, media, readers)
	return nil
}

// AddReader records that the user read the message. Returns false when already recorded.
func (s *SQLiteStore) AddReader(ctx context.Context, messageID string, userID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, seq)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1 FROM message_reads WHERE message_id = ?
	`, messageID, userID.String(), messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ DataStore = (*SQLiteStore)(nil)
