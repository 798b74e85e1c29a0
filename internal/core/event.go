package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage delivers a durably stored chat message.
	EventMessage EventKind = iota
	// EventTypingStart notifies that a user started typing to a target.
	EventTypingStart
	// EventTypingStop notifies that a user stopped typing to a target.
	EventTypingStop
	// EventUserOnline notifies that a user's first connection registered.
	EventUserOnline
	// EventUserOffline notifies that a user's last connection closed.
	EventUserOffline
	// EventOnlineUsers is the presence snapshot sent once per connection.
	EventOnlineUsers
	// EventAck confirms to the sender that a command succeeded.
	EventAck
	// EventError notifies the sender about a failed command.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "receive_message"
	case EventTypingStart:
		return "typing_start"
	case EventTypingStop:
		return "typing_stop"
	case EventUserOnline:
		return "user_online"
	case EventUserOffline:
		return "user_offline"
	case EventOnlineUsers:
		return "online_users"
	case EventAck:
		return "ack"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind EventKind
	// Ref echoes the client's command reference on acks and errors.
	Ref     string
	UserID  string
	Message *Message
	Typing  *Typing
	Online  []string
	Error   *CoreError
}

// Typing describes a typing indicator change.
type Typing struct {
	UserID   string
	Username string
	TargetID string
}
