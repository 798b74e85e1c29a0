package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

const (
	defaultMaxContentLength = 4000
	defaultWriteTimeout     = 10 * time.Second
)

// MessageService appends messages durably and keeps the conversation summary
// in step.
type MessageService struct {
	store            store.Store
	log              *zerolog.Logger
	maxContentLength int
	writeTimeout     time.Duration
	now              func() time.Time
}

// NewMessageService creates a message service. Zero limits fall back to defaults.
func NewMessageService(st store.Store, maxContentLength int, writeTimeout time.Duration, logger *zerolog.Logger) *MessageService {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &MessageService{
		store:            st,
		log:              logger,
		maxContentLength: maxContentLength,
		writeTimeout:     writeTimeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a message from senderID and then updates the conversation
// summary. The writes are not bound to ctx cancellation: once accepted they
// finish within the write timeout even if the caller goes away.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	if err := s.validate(content); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fromStore("get conversation", "conversation not found", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, notAuthorized("not a participant of this conversation")
	}

	createdAt := s.now()
	if conv.LastMessageAt != nil && createdAt.Before(*conv.LastMessageAt) {
		createdAt = *conv.LastMessageAt
	}

	msg := &store.Message{
		ID:             utils.NewID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, storageError("save message", err)
	}

	if err := s.store.UpdateLastMessage(ctx, msg); err != nil {
		s.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("message_id", msg.ID).
			Msg("conversation summary update failed")
	}
	return msg, nil
}

// ListForConversation returns every message of a conversation, oldest first.
func (s *MessageService) ListForConversation(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return s.ListPage(ctx, conversationID, 0)
}

// ListPage returns the newest limit messages, oldest first. limit <= 0 means all.
func (s *MessageService) ListPage(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	return msgs, nil
}

func (s *MessageService) validate(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return invalidContent("message content is empty")
	}
	if utf8.RuneCountInString(content) > s.maxContentLength {
		return invalidContent("message content is too long")
	}
	return nil
}
