package core

import "github.com/rs/zerolog"

// Presence broadcasts online/offline transitions and serves snapshots. Its
// methods only enqueue, so they are safe to call under the registry lock.
type Presence struct {
	log *zerolog.Logger
}

// NewPresence creates a presence broadcaster.
func NewPresence(logger *zerolog.Logger) *Presence {
	return &Presence{log: logger}
}

// Hooks wires the broadcaster into a Registry. The snapshot is enqueued to the
// new connection before any delta can be, and the new connection never sees a
// delta for its own registration.
func (p *Presence) Hooks() RegistryHooks {
	return RegistryHooks{
		OnRegister: func(conn *Conn, first bool, online []string, peers []*Conn) {
			p.InitialSnapshotFor(conn, online)
			if first {
				p.AnnounceOnline(conn.UserID, peers)
			}
		},
		OnUnregister: func(conn *Conn, last bool, peers []*Conn) {
			if last {
				p.AnnounceOffline(conn.UserID, peers)
			}
		},
	}
}

// AnnounceOnline tells every given connection that userID came online.
func (p *Presence) AnnounceOnline(userID string, conns []*Conn) {
	p.broadcast(&Event{Kind: EventUserOnline, UserID: userID}, conns)
	p.log.Debug().Str("user_id", userID).Int("recipients", len(conns)).Msg("user online")
}

// AnnounceOffline tells every given connection that userID went offline.
func (p *Presence) AnnounceOffline(userID string, conns []*Conn) {
	p.broadcast(&Event{Kind: EventUserOffline, UserID: userID}, conns)
	p.log.Debug().Str("user_id", userID).Int("recipients", len(conns)).Msg("user offline")
}

// InitialSnapshotFor sends the online user set to a newly registered connection.
func (p *Presence) InitialSnapshotFor(conn *Conn, online []string) {
	conn.deliver(&Event{Kind: EventOnlineUsers, Online: online})
}

func (p *Presence) broadcast(ev *Event, conns []*Conn) {
	for _, c := range conns {
		c.deliver(ev)
	}
}
