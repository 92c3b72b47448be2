package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core/domain"
	"github.com/parleyhq/parley/internal/core/port"
)

// RoomCoordinator maps one signaling channel onto room semantics: it tracks
// who else is present, arbitrates call intents and routes inbound signals to
// the session they belong to. Signals for unknown sessions are dropped with
// a stale-signal diagnostic; that is the expected fate of messages arriving
// after a session closed.
type RoomCoordinator struct {
	channel port.SignalingChannel
	media   port.MediaSource
	engines port.EngineFactory

	mu       sync.Mutex
	self     domain.Participant
	roomID   domain.RoomID
	joined   bool
	members  map[domain.UserID]domain.Participant
	sessions map[domain.SessionID]*CallSession
	active   *CallSession
	stale    uint64

	ringTimeout time.Duration
	observer    func(SessionUpdate)
	onMessage   func(domain.Message)
	onInvite    func(domain.CallInvite)
	log         zerolog.Logger
}

// Option configures a RoomCoordinator.
type Option func(*RoomCoordinator)

// WithSessionObserver registers a callback for session state changes. The
// callback must not block; it is invoked from event-processing goroutines.
func WithSessionObserver(fn func(SessionUpdate)) Option {
	return func(c *RoomCoordinator) { c.observer = fn }
}

// WithMessageHandler registers a callback for pass-through chat messages.
func WithMessageHandler(fn func(domain.Message)) Option {
	return func(c *RoomCoordinator) { c.onMessage = fn }
}

// WithInviteHandler registers a callback fired when an incoming invitation
// produced a ringing session, so the application can prompt the user.
func WithInviteHandler(fn func(domain.CallInvite)) Option {
	return func(c *RoomCoordinator) { c.onInvite = fn }
}

// WithRingTimeout overrides how long unanswered sessions ring before closing.
func WithRingTimeout(d time.Duration) Option {
	return func(c *RoomCoordinator) { c.ringTimeout = d }
}

func NewRoomCoordinator(channel port.SignalingChannel, media port.MediaSource,
	engines port.EngineFactory, self domain.Participant, opts ...Option) *RoomCoordinator {

	c := &RoomCoordinator{
		channel:     channel,
		media:       media,
		engines:     engines,
		self:        self,
		members:     make(map[domain.UserID]domain.Participant),
		sessions:    make(map[domain.SessionID]*CallSession),
		ringTimeout: defaultRingTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.With().Str("user_id", self.ID.String()).Logger()
	return c
}

// JoinRoom registers this participant as a member of the given room. A
// participant belongs to at most one room at a time.
func (c *RoomCoordinator) JoinRoom(ctx context.Context, roomID domain.RoomID) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	if c.active != nil && !c.active.State().Terminal() {
		c.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	c.mu.Unlock()

	if err := c.channel.JoinRoom(ctx, roomID, c.self); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	c.joined = true
	c.roomID = roomID
	c.mu.Unlock()
	c.log.Info().Str("room_id", roomID.String()).Msg("joined room")
	return nil
}

// Run consumes channel events until the context is cancelled or the channel
// is lost. Channel loss force-closes every session before returning.
func (c *RoomCoordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.CloseAll(ctx.Err())
			return ctx.Err()
		case ev, ok := <-c.channel.Events():
			if !ok {
				c.CloseAll(domain.ErrChannelClosed)
				return domain.ErrChannelClosed
			}
			if done := c.dispatch(ctx, ev); done {
				return domain.ErrChannelClosed
			}
		}
	}
}

func (c *RoomCoordinator) dispatch(ctx context.Context, ev domain.ChannelEvent) bool {
	switch e := ev.(type) {
	case domain.MemberJoined:
		c.onMemberJoined(e)
	case domain.MemberLeft:
		c.onMemberLeft(e)
	case domain.InviteReceived:
		c.onIncomingInvite(ctx, e.Invite)
	case domain.ResponseReceived:
		c.onResponse(e.Response)
	case domain.SignalReceived:
		c.RouteSignal(e.Signal)
	case domain.CallEnded:
		c.onCallEnded(e)
	case domain.MessageReceived:
		if c.onMessage != nil {
			c.onMessage(e.Message)
		}
	case domain.ChannelClosed:
		c.log.Warn().Err(e.Err).Msg("signaling channel lost")
		c.CloseAll(domain.ErrChannelClosed)
		return true
	default:
		c.log.Warn().Msg("unknown channel event dropped")
	}
	return false
}

// onMemberJoined updates the membership view only; no session is touched.
func (c *RoomCoordinator) onMemberJoined(e domain.MemberJoined) {
	if e.Member.ID == c.self.ID {
		return
	}
	c.mu.Lock()
	c.members[e.Member.ID] = e.Member
	count := len(c.members)
	c.mu.Unlock()
	c.log.Info().Str("member_id", e.Member.ID.String()).Int("count", count).Msg("member joined room")
}

// onMemberLeft drops the member and hangs up any session with them.
func (c *RoomCoordinator) onMemberLeft(e domain.MemberLeft) {
	c.mu.Lock()
	delete(c.members, e.Member.ID)
	session := c.active
	c.mu.Unlock()
	c.log.Info().Str("member_id", e.Member.ID.String()).Msg("member left room")

	if session != nil && session.Peer().ID == e.Member.ID {
		session.remoteHangup()
	}
}

// InitiateCall starts an outgoing call to the room's other participant.
// Fails with domain.ErrNoStream when local media cannot be acquired and
// domain.ErrAlreadyCalling when a non-terminal session already exists.
func (c *RoomCoordinator) InitiateCall(ctx context.Context) (*CallSession, error) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil, domain.ErrNotInRoom
	}
	if c.active != nil && !c.active.State().Terminal() {
		c.mu.Unlock()
		return nil, domain.ErrAlreadyCalling
	}
	roomID := c.roomID
	peer := c.anyMemberLocked()
	c.mu.Unlock()

	stream, err := c.media.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoStream, err)
	}

	id := domain.NewSessionID()
	session := c.newSession(id, roomID, domain.RoleInitiator, peer)

	c.mu.Lock()
	if c.active != nil && !c.active.State().Terminal() {
		c.mu.Unlock()
		return nil, domain.ErrAlreadyCalling
	}
	c.sessions[id] = session
	c.active = session
	c.mu.Unlock()

	if err := session.startCall(stream); err != nil {
		return nil, err
	}
	if err := c.channel.SendInvite(ctx, domain.CallInvite{
		SessionID: id,
		RoomID:    roomID,
		From:      c.self,
		At:        time.Now(),
	}); err != nil {
		session.fail(fmt.Errorf("send invite: %w", err))
		return nil, fmt.Errorf("send invite: %w", err)
	}
	c.log.Info().Str("session_id", id.String()).Msg("call initiated")
	return session, nil
}

// onIncomingInvite creates a ringing responder session. Negotiation starts
// only on explicit accept. An invite arriving while another session is live
// is declined outright.
func (c *RoomCoordinator) onIncomingInvite(ctx context.Context, invite domain.CallInvite) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		c.log.Warn().
			Str("session_id", invite.SessionID.String()).
			Msg("invite received outside any room dropped")
		return
	}
	busy := c.active != nil && !c.active.State().Terminal()
	if busy {
		c.mu.Unlock()
		c.log.Info().Str("session_id", invite.SessionID.String()).Msg("busy, declining invite")
		if err := c.channel.SendResponse(ctx, domain.CallResponse{
			SessionID: invite.SessionID,
			RoomID:    invite.RoomID,
			From:      c.self.ID,
			Accepted:  false,
		}); err != nil {
			c.log.Warn().Err(err).Msg("failed to decline invite")
		}
		return
	}
	session := c.newSession(invite.SessionID, invite.RoomID, domain.RoleResponder, invite.From)
	c.sessions[invite.SessionID] = session
	c.active = session
	c.mu.Unlock()

	session.receiveInvite()
	c.log.Info().
		Str("session_id", invite.SessionID.String()).
		Str("from", invite.From.ID.String()).
		Msg("incoming call")
	if c.onInvite != nil {
		c.onInvite(invite)
	}
}

// AcceptCall answers a ringing session after acquiring local media.
func (c *RoomCoordinator) AcceptCall(ctx context.Context, sessionID domain.SessionID) error {
	session := c.lookup(sessionID)
	if session == nil {
		return domain.ErrUnknownSession
	}
	stream, err := c.media.Capture(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNoStream, err)
	}
	return session.Accept(ctx, stream)
}

// RejectCall declines a ringing session.
func (c *RoomCoordinator) RejectCall(ctx context.Context, sessionID domain.SessionID) error {
	session := c.lookup(sessionID)
	if session == nil {
		return domain.ErrUnknownSession
	}
	return session.Reject(ctx)
}

// HangUp closes the active session, if any.
func (c *RoomCoordinator) HangUp(ctx context.Context) {
	c.mu.Lock()
	session := c.active
	c.mu.Unlock()
	if session != nil {
		session.HangUp(ctx)
	}
}

// RouteSignal hands an inbound signal to its session. Unknown or already
// terminal sessions swallow the signal as stale; that is not an error.
func (c *RoomCoordinator) RouteSignal(sig domain.SessionSignal) {
	session := c.lookup(sig.SessionID)
	if session == nil || session.State().Terminal() {
		c.mu.Lock()
		c.stale++
		c.mu.Unlock()
		c.log.Debug().
			Str("session_id", sig.SessionID.String()).
			Str("kind", string(sig.Kind)).
			Msg("stale signal dropped")
		return
	}
	session.ApplyRemoteSignal(sig)
}

func (c *RoomCoordinator) onResponse(resp domain.CallResponse) {
	session := c.lookup(resp.SessionID)
	if session == nil {
		c.mu.Lock()
		c.stale++
		c.mu.Unlock()
		c.log.Debug().Str("session_id", resp.SessionID.String()).Msg("stale call response dropped")
		return
	}
	session.handleResponse(resp)
}

func (c *RoomCoordinator) onCallEnded(e domain.CallEnded) {
	session := c.lookup(e.SessionID)
	if session == nil {
		c.mu.Lock()
		c.stale++
		c.mu.Unlock()
		c.log.Debug().Str("session_id", e.SessionID.String()).Msg("stale call-end dropped")
		return
	}
	session.remoteHangup()
}

// CloseAll force-closes every session, e.g. when the signaling channel is
// gone for good.
func (c *RoomCoordinator) CloseAll(reason error) {
	c.mu.Lock()
	sessions := make([]*CallSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.remoteHangup()
	}
	if len(sessions) > 0 {
		c.log.Info().Int("count", len(sessions)).Err(reason).Msg("closed all sessions")
	}
}

// ActiveSession returns the current session, terminal or not, nil when none
// was ever created.
func (c *RoomCoordinator) ActiveSession() *CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Members returns a snapshot of the other participants in the room.
func (c *RoomCoordinator) Members() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Participant, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// StaleSignals reports how many signals were dropped for unknown or closed
// sessions.
func (c *RoomCoordinator) StaleSignals() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Self returns this coordinator's participant identity.
func (c *RoomCoordinator) Self() domain.Participant { return c.self }

func (c *RoomCoordinator) newSession(id domain.SessionID, roomID domain.RoomID,
	role domain.CallRole, peer domain.Participant) *CallSession {

	detach := func() {
		c.mu.Lock()
		delete(c.sessions, id)
		c.mu.Unlock()
	}
	return newCallSession(id, roomID, role, c.self.ID, peer,
		c.channel, c.engines, c.ringTimeout, c.observer, detach)
}

func (c *RoomCoordinator) lookup(id domain.SessionID) *CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// anyMemberLocked picks the room's other participant. Two-party rooms have
// exactly one; an empty result leaves the peer unknown until they respond.
func (c *RoomCoordinator) anyMemberLocked() domain.Participant {
	for _, m := range c.members {
		return m
	}
	return domain.Participant{}
}
