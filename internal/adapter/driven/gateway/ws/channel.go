// Package ws implements the signaling channel port over a websocket
// connection to the relay server.
package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core/domain"
	"github.com/parleyhq/parley/internal/protocol"
)

const eventBuffer = 64

// Channel implements port.SignalingChannel over one websocket connection.
// Writes are serialized by a mutex; reads run on a single background
// goroutine feeding the event channel.
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan domain.ChannelEvent

	mu     sync.Mutex
	joined bool

	closeOnce sync.Once
}

// Dial connects to the relay at the given websocket URL.
func Dial(ctx context.Context, url string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &Channel{
		conn:   conn,
		events: make(chan domain.ChannelEvent, eventBuffer),
	}
	go c.readLoop()
	return c, nil
}

func (c *Channel) JoinRoom(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	c.mu.Unlock()

	if err := c.write(protocol.Envelope{
		Type:        protocol.TypeJoinRoom,
		RoomID:      roomID.String(),
		Participant: protocol.FromParticipant(p),
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) SendInvite(ctx context.Context, invite domain.CallInvite) error {
	return c.write(protocol.FromInvite(invite))
}

func (c *Channel) SendResponse(ctx context.Context, resp domain.CallResponse) error {
	return c.write(protocol.FromResponse(resp))
}

func (c *Channel) SendSignal(ctx context.Context, signal domain.SessionSignal) error {
	env, err := protocol.FromSignal(signal)
	if err != nil {
		return err
	}
	return c.write(env)
}

func (c *Channel) SendHangup(ctx context.Context, sessionID domain.SessionID) error {
	return c.write(protocol.Envelope{
		Type:      protocol.TypeCallEnd,
		SessionID: sessionID.String(),
	})
}

func (c *Channel) SendMessage(ctx context.Context, msg domain.Message) error {
	return c.write(protocol.FromMessage(msg))
}

func (c *Channel) Events() <-chan domain.ChannelEvent {
	return c.events
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) write(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// readLoop translates wire envelopes into channel events until the
// connection dies, then delivers ChannelClosed and closes the event stream.
func (c *Channel) readLoop() {
	defer close(c.events)
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("unexpected relay close")
			}
			c.deliver(domain.ChannelClosed{Err: err})
			return
		}

		ev, err := decodeEvent(env)
		if err != nil {
			log.Warn().Err(err).Str("type", string(env.Type)).Msg("bad envelope dropped")
			continue
		}
		if ev != nil {
			c.deliver(ev)
		}
	}
}

func (c *Channel) deliver(ev domain.ChannelEvent) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Msg("event buffer full, dropping channel event")
	}
}

func decodeEvent(env protocol.Envelope) (domain.ChannelEvent, error) {
	switch env.Type {
	case protocol.TypeUserJoined:
		if env.Participant == nil {
			return nil, fmt.Errorf("user-joined without participant")
		}
		return domain.MemberJoined{
			RoomID: domain.RoomID(env.RoomID),
			Member: env.Participant.ToDomain(),
		}, nil
	case protocol.TypeUserLeft:
		if env.Participant == nil {
			return nil, fmt.Errorf("user-left without participant")
		}
		return domain.MemberLeft{
			RoomID: domain.RoomID(env.RoomID),
			Member: env.Participant.ToDomain(),
		}, nil
	case protocol.TypeCallInvite:
		invite, err := env.ToInvite()
		if err != nil {
			return nil, err
		}
		return domain.InviteReceived{Invite: invite}, nil
	case protocol.TypeCallResponse:
		return domain.ResponseReceived{Response: env.ToResponse()}, nil
	case protocol.TypeWebRTCSignal:
		sig, err := env.ToSignal()
		if err != nil {
			return nil, err
		}
		return domain.SignalReceived{Signal: sig}, nil
	case protocol.TypeCallEnd:
		return domain.CallEnded{
			SessionID: domain.SessionID(env.SessionID),
			From:      domain.UserID(env.From),
		}, nil
	case protocol.TypeMessageReceived:
		msg, err := env.ToMessage()
		if err != nil {
			return nil, err
		}
		return domain.MessageReceived{Message: msg}, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}
