package store

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is either a direct (two-party) or a group conversation.
type Conversation struct {
	ID      string
	Name    string
	IsGroup bool
	// DirectKey is "dm:{minUserID}:{maxUserID}" for direct conversations, empty for groups.
	DirectKey           string
	ParticipantIDs      []string
	LastMessage         string
	LastMessageSenderID string
	LastMessageAt       *time.Time
	CreatedAt           time.Time
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return lo.Contains(c.ParticipantIDs, userID)
}

// DirectKey returns the storage key identifying the direct conversation
// between two users regardless of argument order.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return "dm:" + userA + ":" + userB
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrConflict on duplicate username or email.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SearchUsers matches username or email, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation inserts a group conversation with its participants.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// FindOrCreateDirect atomically returns the direct conversation for directKey,
	// creating it with the two participants if it does not exist yet.
	FindOrCreateDirect(ctx context.Context, conv *Conversation) (*Conversation, error)

	// GetConversation retrieves a conversation with its participants.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists conversations the user participates in,
	// most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// AddParticipants appends members to a conversation. Existing members are ignored.
	AddParticipants(ctx context.Context, conversationID string, userIDs []string) error

	// UpdateLastMessage writes the denormalized last message summary.
	UpdateLastMessage(ctx context.Context, msg *Message) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage appends a message.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns messages of a conversation in ascending order.
	// limit <= 0 returns all of them, otherwise the newest limit messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
