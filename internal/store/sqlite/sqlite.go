package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// ApplySchema creates the tables if they do not exist yet.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; this also serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== UserStore implementation ====

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, created_at`

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

// SearchUsers searches users by username or email substring.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"
	q := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id != ?
		  AND (username LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')
		ORDER BY username ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, excludeID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ==== ConversationStore implementation ====

const conversationColumns = `id, name, is_group, direct_key, last_message, last_message_sender_id, last_message_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var conv store.Conversation
	var directKey sql.NullString
	var lastAt sql.NullTime
	err := row.Scan(
		&conv.ID,
		&conv.Name,
		&conv.IsGroup,
		&directKey,
		&conv.LastMessage,
		&conv.LastMessageSenderID,
		&lastAt,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if directKey.Valid {
		conv.DirectKey = directKey.String
	}
	if lastAt.Valid {
		t := lastAt.Time
		conv.LastMessageAt = &t
	}
	return &conv, nil
}

func nullableKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}

func insertParticipants(ctx context.Context, tx *sql.Tx, conversationID string, userIDs []string, at time.Time) error {
	query := `
		INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, query, conversationID, uid, at); err != nil {
			return fmt.Errorf("insert participant %s: %w", uid, err)
		}
	}
	return nil
}

// CreateConversation inserts a conversation together with its participants.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO conversations (id, name, is_group, direct_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, conv.ID, conv.Name, conv.IsGroup, nullableKey(conv.DirectKey), conv.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert conversation: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", err)
	}

	if err := insertParticipants(ctx, tx, conv.ID, conv.ParticipantIDs, conv.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FindOrCreateDirect returns the conversation owning conv.DirectKey, inserting conv
// if none exists. The UNIQUE index on direct_key makes concurrent callers converge
// on a single row.
func (s *SQLiteStore) FindOrCreateDirect(ctx context.Context, conv *store.Conversation) (*store.Conversation, error) {
	if conv.DirectKey == "" {
		return nil, fmt.Errorf("find or create direct: empty direct key")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO conversations (id, name, is_group, direct_key, created_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(direct_key) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, query, conv.ID, conv.Name, conv.DirectKey, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert direct conversation: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 1 {
		if err := insertParticipants(ctx, tx, conv.ID, conv.ParticipantIDs, conv.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.getConversationBy(ctx, "direct_key = ?", conv.DirectKey)
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.getConversationBy(ctx, "id = ?", id)
}

func (s *SQLiteStore) getConversationBy(ctx context.Context, where string, arg any) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` + where
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	participants, err := s.listParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.ParticipantIDs = participants
	return conv, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListConversations lists conversations for a user, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.seq DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	convs := make([]*store.Conversation, 0)
	byID := make(map[string]*store.Conversation)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
		byID[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The single pooled connection must be released before the next query.
	rows.Close()

	if len(convs) == 0 {
		return convs, nil
	}

	pquery := `
		SELECT conversation_id, user_id
		FROM conversation_participants
		WHERE conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		ORDER BY joined_at ASC, rowid ASC
	`
	prows, err := s.db.QueryContext(ctx, pquery, userID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var convID, uid string
		if err := prows.Scan(&convID, &uid); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if conv, ok := byID[convID]; ok {
			conv.ParticipantIDs = append(conv.ParticipantIDs, uid)
		}
	}
	return convs, prows.Err()
}

// AddParticipants appends members to a conversation.
func (s *SQLiteStore) AddParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}

	if err := insertParticipants(ctx, tx, conversationID, userIDs, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateLastMessage writes the conversation's last message summary.
func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, msg *store.Message) error {
	query := `
		UPDATE conversations
		SET last_message = ?, last_message_sender_id = ?, last_message_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, msg.Content, msg.SenderID, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert message: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages retrieves messages in ascending order. With limit > 0 only the
// newest limit messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		query := `
			SELECT id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, conversationID, limit)
	} else {
		query := `
			SELECT id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, seq ASC
		`
		rows, err = s.db.QueryContext(ctx, query, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}
