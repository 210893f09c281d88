package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ROMARIC12/chatfull/internal/models"
)

const (
	userColumns         = `id, name, email, password_hash, avatar_url, status, last_seen, created_at`
	conversationColumns = `id, is_group, name, description, admin_id, direct_key, latest_message_id, is_pinned, is_archived, created_at, updated_at`
	messageColumns      = `id, conversation_id, sender_id, content, created_at`
)

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var status string
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.AvatarURL,
		&status,
		&user.LastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Status = models.Status(status)
	return user, nil
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash, avatarURL string) (*models.User, error) {
	user, err := scanPgUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		uuid.Must(uuid.NewV7()), name, email, passwordHash, avatarURL,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUsersByIDs retrieves users in the order of ids. Unknown ids are skipped.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id::text = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	users, err := collectPgUsers(rows)
	if err != nil {
		return nil, err
	}
	return orderUsers(ids, users), nil
}

// ListUsers returns every user except one, ordered by name.
func (s *PostgresStore) ListUsers(ctx context.Context, exclude uuid.UUID) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id <> $1 ORDER BY name`, exclude)
	if err != nil {
		return nil, err
	}
	return collectPgUsers(rows)
}

func collectPgUsers(rows pgx.Rows) ([]models.User, error) {
	defer rows.Close()
	users := []models.User{}
	for rows.Next() {
		user, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetUserPresence updates the status and last-seen time of a user.
func (s *PostgresStore) SetUserPresence(ctx context.Context, id uuid.UUID, status models.Status, lastSeen *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $2, last_seen = COALESCE($3, last_seen) WHERE id = $1
	`, id, string(status), lastSeen)
	return err
}

// UpdateUserProfile replaces the display name and avatar URL.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET name = $2, avatar_url = $3 WHERE id = $1
	`, id, name, avatarURL)
	return err
}

func scanPgConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var admin pgtype.UUID
	var directKey, latest *string
	err := row.Scan(
		&conv.ID,
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
	if admin.Valid {
		id := uuid.UUID(admin.Bytes)
		conv.AdminID = &id
	}
	if directKey != nil {
		conv.DirectKey = *directKey
	}
	if latest != nil {
		conv.LatestMessageID = *latest
	}
	return conv, nil
}

func (s *PostgresStore) loadMembers(ctx context.Context, q pgQuerier, conv *models.Conversation) error {
	rows, err := q.Query(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation_id = $1 ORDER BY position
	`, conv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	conv.MemberIDs = []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		conv.MemberIDs = append(conv.MemberIDs, id)
	}
	return rows.Err()
}

func (s *PostgresStore) collectConversations(ctx context.Context, rows pgx.Rows) ([]models.Conversation, error) {
	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanPgConversation(rows)
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
		if err := s.loadMembers(ctx, s.pool, &convs[i]); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateConversation inserts the conversation and its members. ID and timestamps are assigned.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, is_group, name, description, admin_id, direct_key, is_pinned, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, conv.ID, conv.IsGroup, conv.Name, conv.Description, conv.AdminID, nullable(conv.DirectKey), conv.IsPinned, conv.IsArchived, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	for i, memberID := range conv.MemberIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, position) VALUES ($1, $2, $3)
		`, conv.ID, memberID, i); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetConversation retrieves a conversation with its members.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := scanPgConversation(s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadMembers(ctx, s.pool, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindDirectConversation retrieves the one-to-one conversation between a and b.
func (s *PostgresStore) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	conv, err := scanPgConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE direct_key = $1
	`, models.DirectKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadMembers(ctx, s.pool, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns the user's conversations, most recently updated first.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		WHERE EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = $1)
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return s.collectConversations(ctx, rows)
}

// ListGroups returns every group conversation, most recently updated first.
func (s *PostgresStore) ListGroups(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE is_group ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return s.collectConversations(ctx, rows)
}

// UpdateConversation persists name, description and flags. The admin is
// only changed through SetAdmin.
func (s *PostgresStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET name = $2, description = $3, is_pinned = $4, is_archived = $5, updated_at = $6
		WHERE id = $1
	`, conv.ID, conv.Name, conv.Description, conv.IsPinned, conv.IsArchived, conv.UpdatedAt)
	return err
}

// SetAdmin makes userID the admin if they are still a member.
func (s *PostgresStore) SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize with RemoveMember on the conversation row
	if _, err := tx.Exec(ctx, `SELECT 1 FROM conversations WHERE id = $1 FOR UPDATE`, conversationID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET admin_id = $2, updated_at = now()
		WHERE id = $1 AND EXISTS (
			SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return tx.Commit(ctx)
}

// AddMember appends a member. Adding an existing member is a no-op.
func (s *PostgresStore) AddMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, position)
		SELECT $1, $2, COALESCE(MAX(position), -1) + 1 FROM conversation_members WHERE conversation_id = $1
		ON CONFLICT DO NOTHING
	`, conversationID, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveMember deletes a member other than the current admin.
func (s *PostgresStore) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var admin pgtype.UUID
	err = tx.QueryRow(ctx, `SELECT admin_id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if admin.Valid && uuid.UUID(admin.Bytes) == userID {
		return ErrIsAdmin
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteConversation deletes a conversation with its members and messages.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// SetLatestMessage moves the latest-message pointer and bumps the activity time.
func (s *PostgresStore) SetLatestMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET latest_message_id = $2, updated_at = now() WHERE id = $1
	`, conversationID, messageID)
	return err
}

// CreateMessage inserts a message and its media. IDs and creation time are assigned when empty.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt); err != nil {
		return err
	}

	for i, m := range msg.Media {
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_media (id, message_id, position, type, url, file_name, file_size, mime_type, storage_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, m.ID, msg.ID, i, string(m.Type), m.URL, m.FileName, m.FileSize, m.MimeType, m.StorageKey); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// prepareMessage assigns ids and timestamps the caller left empty.
func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	for i := range msg.Media {
		if msg.Media[i].ID == "" {
			msg.Media[i].ID = ulid.Make().String()
		}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []uuid.UUID{}
	}
}

// GetMessage retrieves a message with its media and readers.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	messages := []models.Message{*msg}
	if err := s.attachDetails(ctx, messages, `m.id = $1`, id); err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.listMessages(ctx, conversationID, false)
}

// ListMediaMessages returns a conversation's messages that carry media, in creation order.
func (s *PostgresStore) ListMediaMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.listMessages(ctx, conversationID, true)
}

func (s *PostgresStore) listMessages(ctx context.Context, conversationID uuid.UUID, mediaOnly bool) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE conversation_id = $1`
	if mediaOnly {
		query += ` AND EXISTS (SELECT 1 FROM message_media mm WHERE mm.message_id = m.id)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachDetails(ctx, messages, `m.conversation_id = $1`, conversationID); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachDetails loads media and readers for the messages selected by filter.
func (s *PostgresStore) attachDetails(ctx context.Context, messages []models.Message, filter string, arg any) error {
	media := make(map[string][]models.Media)
	rows, err := s.pool.Query(ctx, `
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
	rows, err = s.pool.Query(ctx, `
		SELECT r.message_id, r.user_id
		FROM message_reads r JOIN messages m ON m.id = r.message_id
		WHERE `+filter+`
		ORDER BY r.message_id, r.read_at
	`, arg)
	if err != nil {
		return err
	}
	for rows.Next() {
		var messageID string
		var userID uuid.UUID
		if err := rows.Scan(&messageID, &userID); err != nil {
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
func (s *PostgresStore) AddReader(ctx context.Context, messageID string, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ DataStore = (*PostgresStore)(nil)
