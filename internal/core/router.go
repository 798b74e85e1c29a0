package core

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Router resolves recipient connections from a conversation's participants and
// the registry, and enqueues events to them.
type Router struct {
	registry *Registry
	log      *zerolog.Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, logger *zerolog.Logger) *Router {
	return &Router{registry: registry, log: logger}
}

// RouteMessage delivers msg to every connection of every participant of conv,
// plus origin, each exactly once. Offline participants are skipped silently.
// It returns the number of connections the event was enqueued to.
func (r *Router) RouteMessage(msg *Message, conv *store.Conversation, origin *Conn) int {
	ev := &Event{Kind: EventMessage, UserID: msg.SenderID, Message: msg}

	seen := make(map[string]struct{})
	delivered := 0
	send := func(c *Conn) {
		if _, ok := seen[c.ID]; ok {
			return
		}
		seen[c.ID] = struct{}{}
		if c.deliver(ev) {
			delivered++
		} else if c.Overflowed() {
			r.log.Warn().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("slow consumer disconnected")
		}
	}

	if origin != nil {
		send(origin)
	}
	for _, userID := range conv.ParticipantIDs {
		for _, c := range r.registry.ConnectionsFor(userID) {
			send(c)
		}
	}
	return delivered
}

// RouteTyping delivers a typing event to every connection of recipients,
// never to a connection of the typing user.
func (r *Router) RouteTyping(ev *Event, fromUserID string, recipients []string) int {
	delivered := 0
	for _, userID := range recipients {
		if userID == fromUserID {
			continue
		}
		for _, c := range r.registry.ConnectionsFor(userID) {
			if c.deliver(ev) {
				delivered++
			}
		}
	}
	return delivered
}
