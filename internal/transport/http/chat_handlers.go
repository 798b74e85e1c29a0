package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// ChatHandlers serves conversations and message history.
type ChatHandlers struct {
	hub   *core.Hub
	store store.Store
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(hub *core.Hub, st store.Store, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		hub:   hub,
		store: st,
		log:   logger,
	}
}

// CreateGroupRequest represents the create group request body.
type CreateGroupRequest struct {
	Name         string   `json:"name" binding:"required,min=1,max=64"`
	Participants []string `json:"participants"`
}

// AddMembersRequest represents the add members request body.
type AddMembersRequest struct {
	UserIDs []string `json:"userIds" binding:"required,min=1"`
}

// ParticipantResponse is a conversation member.
type ParticipantResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID                  string                `json:"id"`
	Name                string                `json:"name"`
	IsGroup             bool                  `json:"isGroup"`
	Participants        []ParticipantResponse `json:"participants"`
	LastMessage         string                `json:"lastMessage,omitempty"`
	LastMessageSenderID string                `json:"lastMessageSenderId,omitempty"`
	LastMessageAt       *time.Time            `json:"lastMessageAt,omitempty"`
	CreatedAt           time.Time             `json:"createdAt"`
}

// MessageResponse represents a stored message in API responses.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

// OnlineResponse lists online users.
type OnlineResponse struct {
	UserIDs []string `json:"userIds"`
}

// ListConversations handles listing the caller's conversations.
// GET /api/chat/conversations
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	convs, err := h.hub.Conversations(c.Request.Context(), uid)
	if err != nil {
		respondCoreError(c, h.log, err)
		return
	}

	names := h.newNameCache()
	response := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		response = append(response, h.conversationResponse(c.Request.Context(), conv, uid, names))
	}

	h.log.Debug().Str("user_id", uid).Int("conversation_count", len(convs)).Msg("conversations listed")
	c.JSON(http.StatusOK, response)
}

// ListMessages handles fetching a conversation's history.
// GET /api/chat/messages/:conversationId?limit=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	msgs, err := h.hub.Messages(c.Request.Context(), uid, c.Param("conversationId"), limit)
	if err != nil {
		respondCoreError(c, h.log, err)
		return
	}

	names := h.newNameCache()
	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, MessageResponse{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderName:     names.lookup(c.Request.Context(), m.SenderID),
			Content:        m.Content,
			Timestamp:      m.CreatedAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, response)
}

// CreateGroup handles group creation. The caller is always a member.
// POST /api/chat/groups
func (h *ChatHandlers) CreateGroup(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create group request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, err := h.hub.CreateGroup(c.Request.Context(), uid, req.Name, req.Participants)
	if err != nil {
		respondCoreError(c, h.log, err)
		return
	}

	h.log.Info().Str("conversation_id", conv.ID).Str("owner_id", uid).Int("members", len(conv.ParticipantIDs)).Msg("group created")
	c.JSON(http.StatusCreated, h.conversationResponse(c.Request.Context(), conv, uid, h.newNameCache()))
}

// AddMembers handles adding users to a group.
// POST /api/chat/groups/:id/members
func (h *ChatHandlers) AddMembers(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, err := h.hub.AddMembers(c.Request.Context(), uid, c.Param("id"), req.UserIDs)
	if err != nil {
		respondCoreError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, h.conversationResponse(c.Request.Context(), conv, uid, h.newNameCache()))
}

// OnlineUsers returns the presence snapshot.
// GET /api/chat/online
func (h *ChatHandlers) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, OnlineResponse{UserIDs: h.hub.OnlineUsers()})
}

func (h *ChatHandlers) conversationResponse(ctx context.Context, conv *store.Conversation, viewerID string, names *nameCache) ConversationResponse {
	resp := ConversationResponse{
		ID:                  conv.ID,
		Name:                conv.Name,
		IsGroup:             conv.IsGroup,
		Participants:        make([]ParticipantResponse, 0, len(conv.ParticipantIDs)),
		LastMessage:         conv.LastMessage,
		LastMessageSenderID: conv.LastMessageSenderID,
		LastMessageAt:       conv.LastMessageAt,
		CreatedAt:           conv.CreatedAt,
	}
	for _, id := range conv.ParticipantIDs {
		username := names.lookup(ctx, id)
		resp.Participants = append(resp.Participants, ParticipantResponse{
			ID:       id,
			Username: username,
			Online:   h.hub.IsOnline(id),
		})
		// A direct conversation is named after the other participant.
		if !conv.IsGroup && id != viewerID {
			resp.Name = username
		}
	}
	return resp
}

// nameCache resolves usernames once per request.
type nameCache struct {
	store store.UserStore
	log   *zerolog.Logger
	names map[string]string
}

func (h *ChatHandlers) newNameCache() *nameCache {
	return &nameCache{store: h.store, log: h.log, names: make(map[string]string)}
}

func (n *nameCache) lookup(ctx context.Context, userID string) string {
	if name, ok := n.names[userID]; ok {
		return name
	}
	name := userID
	if u, err := n.store.GetUserByID(ctx, userID); err == nil {
		name = u.Username
	} else {
		n.log.Debug().Err(err).Str("user_id", userID).Msg("username lookup failed")
	}
	n.names[userID] = name
	return name
}
