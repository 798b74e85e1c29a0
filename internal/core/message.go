package core

import "time"

// Message is a stored message as delivered to connections.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	CreatedAt      time.Time
	// GroupID is set for group conversations.
	GroupID string
	// ReceiverID is the other participant of a direct conversation.
	ReceiverID string
}
