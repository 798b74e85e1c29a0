package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

const minGroupParticipants = 2

// Resolver determines the conversation a send targets and owns conversation
// creation.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveTarget returns the conversation addressed by target. A group id wins
// when both fields are set. A receiver id finds or creates the direct
// conversation between the two users.
func (r *Resolver) ResolveTarget(ctx context.Context, senderID string, target Target) (*store.Conversation, error) {
	switch {
	case target.GroupID != "":
		conv, err := r.store.GetConversation(ctx, target.GroupID)
		if err != nil {
			return nil, fromStore("get group", "group not found", err)
		}
		if !conv.IsGroup || !conv.HasParticipant(senderID) {
			return nil, notFound("group not found")
		}
		return conv, nil
	case target.ReceiverID != "":
		return r.findOrCreateDirect(ctx, senderID, target.ReceiverID)
	default:
		return nil, badRequest("receiverId or groupId is required")
	}
}

func (r *Resolver) findOrCreateDirect(ctx context.Context, senderID, receiverID string) (*store.Conversation, error) {
	if receiverID == senderID {
		return nil, badRequest("cannot message yourself")
	}
	if _, err := r.store.GetUserByID(ctx, receiverID); err != nil {
		return nil, fromStore("get receiver", "user not found", err)
	}

	conv, err := r.store.FindOrCreateDirect(ctx, &store.Conversation{
		ID:             utils.NewID(),
		DirectKey:      store.DirectKey(senderID, receiverID),
		ParticipantIDs: []string{senderID, receiverID},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, storageError("find or create direct conversation", err)
	}
	return conv, nil
}

// CreateGroup creates a group conversation. The creator is always a member.
func (r *Resolver) CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*store.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, badRequest("group name is required")
	}

	members := lo.Uniq(append([]string{creatorID}, lo.Compact(participantIDs)...))
	if len(members) < minGroupParticipants {
		return nil, badRequest("a group needs at least two participants")
	}
	if err := r.ensureUsersExist(ctx, members); err != nil {
		return nil, err
	}

	conv := &store.Conversation{
		ID:             utils.NewID(),
		Name:           name,
		IsGroup:        true,
		ParticipantIDs: members,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, storageError("create group", err)
	}
	return conv, nil
}

// AddMembers appends users to a group the actor belongs to.
func (r *Resolver) AddMembers(ctx context.Context, actorID, groupID string, userIDs []string) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, groupID)
	if err != nil {
		return nil, fromStore("get group", "group not found", err)
	}
	if !conv.IsGroup || !conv.HasParticipant(actorID) {
		return nil, notFound("group not found")
	}

	added := lo.Without(lo.Uniq(lo.Compact(userIDs)), conv.ParticipantIDs...)
	if len(added) == 0 {
		return conv, nil
	}
	if err := r.ensureUsersExist(ctx, added); err != nil {
		return nil, err
	}
	if err := r.store.AddParticipants(ctx, groupID, added); err != nil {
		return nil, fromStore("add participants", "group not found", err)
	}
	conv.ParticipantIDs = append(conv.ParticipantIDs, added...)
	return conv, nil
}

// ConversationsFor lists the conversations userID participates in.
func (r *Resolver) ConversationsFor(ctx context.Context, userID string) ([]*store.Conversation, error) {
	convs, err := r.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, storageError("list conversations", err)
	}
	return convs, nil
}

// Conversation loads a conversation userID participates in.
func (r *Resolver) Conversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fromStore("get conversation", "conversation not found", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, notAuthorized("not a participant of this conversation")
	}
	return conv, nil
}

func (r *Resolver) ensureUsersExist(ctx context.Context, userIDs []string) error {
	for _, id := range userIDs {
		if _, err := r.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("user " + id + " not found")
			}
			return storageError("get user", err)
		}
	}
	return nil
}
