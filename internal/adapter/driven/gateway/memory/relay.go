// Package memory implements the signaling channel port in-process: channels
// created from one Relay see each other's traffic with the same fan-out
// semantics as the websocket relay, without any sockets. Used by tests and
// single-process embedding.
package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core/domain"
)

const eventBuffer = 256

type Relay struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[*Channel]struct{}
}

func NewRelay() *Relay {
	return &Relay{
		rooms: make(map[domain.RoomID]map[*Channel]struct{}),
	}
}

// NewChannel returns an endpoint connected to this relay.
func (r *Relay) NewChannel() *Channel {
	return &Channel{
		relay:  r,
		events: make(chan domain.ChannelEvent, eventBuffer),
	}
}

// broadcast delivers an event to every room member except the sender.
func (r *Relay) broadcast(roomID domain.RoomID, from *Channel, ev domain.ChannelEvent) {
	r.mu.Lock()
	members := make([]*Channel, 0, len(r.rooms[roomID]))
	for ch := range r.rooms[roomID] {
		if ch != from {
			members = append(members, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range members {
		ch.deliver(ev)
	}
}

func (r *Relay) join(roomID domain.RoomID, ch *Channel) []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[*Channel]struct{})
	}
	existing := make([]*Channel, 0, len(r.rooms[roomID]))
	for member := range r.rooms[roomID] {
		existing = append(existing, member)
	}
	r.rooms[roomID][ch] = struct{}{}
	return existing
}

func (r *Relay) leave(roomID domain.RoomID, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[roomID], ch)
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}

// Channel implements port.SignalingChannel against an in-process Relay.
type Channel struct {
	relay *Relay

	mu     sync.Mutex
	self   domain.Participant
	roomID domain.RoomID
	joined bool

	events    chan domain.ChannelEvent
	closed    bool
	closeOnce sync.Once
}

func (c *Channel) JoinRoom(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	c.self = p
	c.roomID = roomID
	c.joined = true
	c.mu.Unlock()

	existing := c.relay.join(roomID, c)
	// The newcomer learns who is already present; everyone else learns
	// about the newcomer.
	for _, member := range existing {
		member.mu.Lock()
		peer := member.self
		member.mu.Unlock()
		c.deliver(domain.MemberJoined{RoomID: roomID, Member: peer})
	}
	c.relay.broadcast(roomID, c, domain.MemberJoined{RoomID: roomID, Member: p})
	return nil
}

func (c *Channel) SendInvite(ctx context.Context, invite domain.CallInvite) error {
	c.relay.broadcast(c.room(), c, domain.InviteReceived{Invite: invite})
	return nil
}

func (c *Channel) SendResponse(ctx context.Context, resp domain.CallResponse) error {
	c.relay.broadcast(c.room(), c, domain.ResponseReceived{Response: resp})
	return nil
}

func (c *Channel) SendSignal(ctx context.Context, signal domain.SessionSignal) error {
	c.relay.broadcast(c.room(), c, domain.SignalReceived{Signal: signal})
	return nil
}

func (c *Channel) SendHangup(ctx context.Context, sessionID domain.SessionID) error {
	c.relay.broadcast(c.room(), c, domain.CallEnded{SessionID: sessionID, From: c.identity().ID})
	return nil
}

func (c *Channel) SendMessage(ctx context.Context, msg domain.Message) error {
	c.relay.broadcast(c.room(), c, domain.MessageReceived{Message: msg})
	return nil
}

func (c *Channel) Events() <-chan domain.ChannelEvent {
	return c.events
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		joined := c.joined
		roomID := c.roomID
		self := c.self
		c.joined = false
		c.mu.Unlock()

		if joined {
			c.relay.leave(roomID, c)
			c.relay.broadcast(roomID, c, domain.MemberLeft{RoomID: roomID, Member: self})
		}

		c.mu.Lock()
		c.enqueueLocked(domain.ChannelClosed{})
		c.closed = true
		c.mu.Unlock()
		close(c.events)
	})
	return nil
}

func (c *Channel) deliver(ev domain.ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.enqueueLocked(ev)
}

func (c *Channel) enqueueLocked(ev domain.ChannelEvent) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Msg("relay event buffer full, dropping event")
	}
}

func (c *Channel) room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Channel) identity() domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}
