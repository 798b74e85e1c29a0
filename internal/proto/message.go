package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSendMessage = "send_message"
	InboundTypeTypingStart = "typing_start"
	InboundTypeTypingStop  = "typing_stop"

	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"

	EventReceiveMessage = "receive_message"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventOnlineUsers    = "online_users"
)

// SendMessageData addresses a message to a user or a group.
type SendMessageData struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Content    string `json:"content"`
}

// TypingData names the user or conversation being typed to.
type TypingData struct {
	TargetID string `json:"targetId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ReceiveMessage is a stored message delivered to a connection.
type ReceiveMessage struct {
	ID             string `json:"id"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	ConversationID string `json:"conversationId"`
	GroupID        string `json:"groupId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
}

// TypingStart tells recipients that a user is typing.
type TypingStart struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	TargetID string `json:"targetId"`
}

// TypingStop tells recipients that a user stopped typing.
type TypingStop struct {
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
}

// Presence carries an online or offline transition.
type Presence struct {
	UserID string `json:"userId"`
}

// OnlineUsers is the presence snapshot sent once per connection.
type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

// Ack confirms a command. Message fields are set for durable sends.
type Ack struct {
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
