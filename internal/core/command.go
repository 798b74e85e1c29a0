package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage stores a message and fans it out to the conversation.
	CommandSendMessage CommandKind = iota
	// CommandTypingStart announces that the user is typing to a target.
	CommandTypingStart
	// CommandTypingStop withdraws a typing announcement.
	CommandTypingStop
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	Ref  string
	// Target of a send: exactly one of ReceiverID or GroupID.
	Target Target
	// TargetID of a typing command: a user id or a group id.
	TargetID string
	Content  string
}

// Target addresses a send either to a user (direct) or to a group.
type Target struct {
	ReceiverID string
	GroupID    string
}
