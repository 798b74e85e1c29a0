package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Options tunes the hub. Zero values fall back to defaults.
type Options struct {
	SendBuffer       int
	MaxContentLength int
	TypingTimeout    time.Duration
	WriteTimeout     time.Duration
}

// SendResult is the outcome of a durable send.
type SendResult struct {
	Message   *Message
	Delivered int
}

// Hub is the event boundary between connections and the relay components.
// Every command handled by the hub ends in exactly one ack or error event on
// the issuing connection.
type Hub struct {
	store    store.Store
	registry *Registry
	resolver *Resolver
	messages *MessageService
	router   *Router
	typing   *TypingTracker
	convLock *keyedMutex
	opts     Options
	log      *zerolog.Logger
}

// NewHub wires the relay components over st.
func NewHub(st store.Store, opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	presence := NewPresence(logger)
	registry := NewRegistry(presence.Hooks())
	return &Hub{
		store:    st,
		registry: registry,
		resolver: NewResolver(st),
		messages: NewMessageService(st, opts.MaxContentLength, opts.WriteTimeout, logger),
		router:   NewRouter(registry, logger),
		typing:   NewTypingTracker(opts.TypingTimeout),
		convLock: newKeyedMutex(),
		opts:     opts,
		log:      logger,
	}
}

// Connect registers a new connection for an authenticated user. The returned
// connection already holds the presence snapshot.
func (h *Hub) Connect(userID, name string) *Conn {
	conn := NewConn(userID, name, h.opts.SendBuffer)
	h.registry.Register(conn)
	h.log.Info().Str("conn_id", conn.ID).Str("user_id", userID).Msg("connection registered")
	return conn
}

// Disconnect clears the user's typing state and unregisters conn.
func (h *Hub) Disconnect(conn *Conn) {
	for _, stop := range h.typing.ClearUser(conn.UserID) {
		stop()
	}
	h.registry.Unregister(conn)
	conn.Close()
	h.log.Info().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Bool("kicked", conn.Overflowed()).Msg("connection closed")
}

// Handle executes cmd for conn and emits its outcome to conn only. Failures
// never reach other connections.
func (h *Hub) Handle(ctx context.Context, conn *Conn, cmd *Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = coreError(ErrCodeInternal, "internal error", fmt.Errorf("panic: %v", r))
			h.log.Error().Str("conn_id", conn.ID).Interface("panic", r).Msg("command handler panicked")
			h.Reject(conn, cmd.Ref, err)
		}
	}()

	ack := &Event{Kind: EventAck, Ref: cmd.Ref}
	switch cmd.Kind {
	case CommandSendMessage:
		var res *SendResult
		res, err = h.SendMessage(ctx, conn, cmd.Target, cmd.Content)
		if res != nil {
			ack.Message = res.Message
		}
	case CommandTypingStart, CommandTypingStop:
		err = h.Typing(ctx, conn, cmd.Kind, cmd.TargetID)
	default:
		err = badRequest("unknown command")
	}

	if err != nil {
		h.Reject(conn, cmd.Ref, err)
		return err
	}
	conn.deliver(ack)
	return nil
}

// Reject emits an error outcome for ref to conn.
func (h *Hub) Reject(conn *Conn, ref string, err error) {
	ce := AsCoreError(err)
	if ce.Code == ErrCodeNotAuthorized {
		h.log.Warn().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg(ce.Message)
	} else if ce.Code == ErrCodeStorage || ce.Code == ErrCodeInternal {
		h.log.Error().Err(ce.Err).Str("conn_id", conn.ID).Str("user_id", conn.UserID).Msg(ce.Message)
	}
	conn.deliver(&Event{Kind: EventError, Ref: ref, Error: ce})
}

// SendMessage resolves the target, appends the message and fans it out.
// Nothing is delivered unless the message was stored.
func (h *Hub) SendMessage(ctx context.Context, conn *Conn, target Target, content string) (*SendResult, error) {
	if err := h.messages.validate(content); err != nil {
		return nil, err
	}

	conv, err := h.resolver.ResolveTarget(ctx, conn.UserID, target)
	if err != nil {
		return nil, err
	}

	unlock := h.convLock.Lock(conv.ID)
	defer unlock()

	stored, err := h.messages.Append(ctx, conv.ID, conn.UserID, content)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             stored.ID,
		ConversationID: conv.ID,
		SenderID:       stored.SenderID,
		SenderName:     conn.Name,
		Content:        stored.Content,
		CreatedAt:      stored.CreatedAt,
	}
	if conv.IsGroup {
		msg.GroupID = conv.ID
	} else {
		msg.ReceiverID = otherParticipant(conv, conn.UserID)
	}

	delivered := h.router.RouteMessage(msg, conv, conn)
	h.log.Debug().
		Str("conversation_id", conv.ID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("message routed")
	return &SendResult{Message: msg, Delivered: delivered}, nil
}

// Typing starts or stops the typing indicator of conn's user for targetID,
// which names a user or a conversation.
func (h *Hub) Typing(ctx context.Context, conn *Conn, kind CommandKind, targetID string) error {
	if targetID == "" {
		return badRequest("targetId is required")
	}

	recipients, err := h.typingRecipients(ctx, conn.UserID, targetID)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	userID := conn.UserID
	stopEv := &Event{Kind: EventTypingStop, UserID: userID, Typing: &Typing{UserID: userID, TargetID: targetID}}
	routeStop := func() { h.router.RouteTyping(stopEv, userID, recipients) }

	switch kind {
	case CommandTypingStart:
		h.typing.Start(targetID, userID, routeStop)
		h.router.RouteTyping(&Event{
			Kind:   EventTypingStart,
			UserID: userID,
			Typing: &Typing{UserID: userID, Username: conn.Name, TargetID: targetID},
		}, userID, recipients)
	case CommandTypingStop:
		if h.typing.Stop(targetID, userID) {
			routeStop()
		}
	default:
		return badRequest("unknown typing command")
	}
	return nil
}

func (h *Hub) typingRecipients(ctx context.Context, userID, targetID string) ([]string, error) {
	conv, err := h.store.GetConversation(ctx, targetID)
	switch {
	case err == nil:
		if !conv.HasParticipant(userID) {
			return nil, notAuthorized("not a participant of this conversation")
		}
		return conv.ParticipantIDs, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, storageError("get conversation", err)
	}

	if targetID == userID {
		return nil, nil
	}
	if _, err := h.store.GetUserByID(ctx, targetID); err != nil {
		return nil, fromStore("get user", "target not found", err)
	}
	return []string{targetID}, nil
}

// Conversations lists the conversations of userID, most recent first.
func (h *Hub) Conversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	return h.resolver.ConversationsFor(ctx, userID)
}

// Messages returns the messages of a conversation userID participates in.
// limit <= 0 returns the full history.
func (h *Hub) Messages(ctx context.Context, userID, conversationID string, limit int) ([]*store.Message, error) {
	if _, err := h.resolver.Conversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return h.messages.ListPage(ctx, conversationID, limit)
}

// CreateGroup creates a group conversation owned by creatorID.
func (h *Hub) CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*store.Conversation, error) {
	return h.resolver.CreateGroup(ctx, creatorID, name, participantIDs)
}

// AddMembers appends users to a group.
func (h *Hub) AddMembers(ctx context.Context, actorID, groupID string, userIDs []string) (*store.Conversation, error) {
	return h.resolver.AddMembers(ctx, actorID, groupID, userIDs)
}

// OnlineUsers returns the sorted ids of online users.
func (h *Hub) OnlineUsers() []string {
	return h.registry.Snapshot()
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// Close releases timers held by the hub.
func (h *Hub) Close() {
	h.typing.Close()
}

func otherParticipant(conv *store.Conversation, userID string) string {
	for _, id := range conv.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}
