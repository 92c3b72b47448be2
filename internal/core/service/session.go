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

// candidateBufferLimit bounds how many remote candidates a session will hold
// while waiting for the matching description. Exceeding it fails the session.
const candidateBufferLimit = 32

// defaultRingTimeout closes Calling and Ringing sessions that never got an
// answer from the other side or the local user.
const defaultRingTimeout = 30 * time.Second

// SessionUpdate notifies the application layer of a session state change.
type SessionUpdate struct {
	SessionID domain.SessionID
	RoomID    domain.RoomID
	State     domain.CallState
	Peer      domain.Participant
	Reason    error               // set when State is CallFailed
	Remote    domain.RemoteStream // set once the remote stream is available
}

// CallSession drives one negotiation attempt from invitation to teardown.
// All state mutation is serialized by the session mutex; asynchronous work
// (description generation, engine callbacks) re-checks the state under the
// lock before acting, so results that arrive after a terminal transition are
// discarded.
type CallSession struct {
	id     domain.SessionID
	roomID domain.RoomID
	role   domain.CallRole
	self   domain.UserID
	peer   domain.Participant

	channel port.SignalingChannel
	engines port.EngineFactory

	mu            sync.Mutex
	state         domain.CallState
	engine        port.NegotiationEngine
	local         domain.LocalStream
	remote        domain.RemoteStream
	localDesc     *domain.Description
	localDescSent bool
	remoteDesc    *domain.Description
	pending       []domain.Candidate
	outbound      []domain.Candidate
	seen          map[domain.Candidate]struct{}
	failure       error
	ringTimer     *time.Timer
	ringTimeout   time.Duration

	detach     func()
	detachOnce sync.Once
	notify     func(SessionUpdate)
	log        zerolog.Logger
}

func newCallSession(id domain.SessionID, roomID domain.RoomID, role domain.CallRole,
	self domain.UserID, peer domain.Participant,
	channel port.SignalingChannel, engines port.EngineFactory,
	ringTimeout time.Duration, notify func(SessionUpdate), detach func()) *CallSession {

	if ringTimeout <= 0 {
		ringTimeout = defaultRingTimeout
	}
	s := &CallSession{
		id:          id,
		roomID:      roomID,
		role:        role,
		self:        self,
		peer:        peer,
		channel:     channel,
		engines:     engines,
		state:       domain.CallIdle,
		seen:        make(map[domain.Candidate]struct{}),
		ringTimeout: ringTimeout,
		detach:      detach,
		notify:      notify,
	}
	s.log = log.With().
		Str("session_id", id.String()).
		Str("room_id", roomID.String()).
		Str("role", role.String()).
		Logger()
	return s
}

func (s *CallSession) ID() domain.SessionID { return s.id }
func (s *CallSession) RoomID() domain.RoomID { return s.roomID }

// Role is immutable once the session is created.
func (s *CallSession) Role() domain.CallRole { return s.role }

func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the participant on the other end of this session.
func (s *CallSession) Peer() domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// RemoteStream returns the remote media handle, nil until available.
func (s *CallSession) RemoteStream() domain.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// FailureReason returns the error that moved the session to CallFailed.
func (s *CallSession) FailureReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// startCall transitions Idle -> Calling: the engine is created with the
// initiator role and offer generation begins in the background. The offer is
// held back until the remote side accepts the invitation.
func (s *CallSession) startCall(local domain.LocalStream) error {
	s.mu.Lock()
	if s.state != domain.CallIdle {
		s.mu.Unlock()
		return fmt.Errorf("start call in state %s: %w", s.state, domain.ErrAlreadyCalling)
	}
	s.local = local
	if err := s.attachEngineLocked(); err != nil {
		upd := s.terminateLocked(domain.CallFailed, err)
		s.mu.Unlock()
		s.emit(upd)
		return err
	}
	s.state = domain.CallCalling
	s.armRingTimerLocked()
	upd := s.updateLocked()
	s.mu.Unlock()

	s.emit(upd)
	go s.generateDescription()
	return nil
}

// receiveInvite transitions Idle -> Ringing. Negotiation does not start
// until the user explicitly accepts, so no media is exchanged unsolicited.
func (s *CallSession) receiveInvite() {
	s.mu.Lock()
	if s.state != domain.CallIdle {
		s.mu.Unlock()
		return
	}
	s.state = domain.CallRinging
	s.armRingTimerLocked()
	upd := s.updateLocked()
	s.mu.Unlock()
	s.emit(upd)
}

// Accept answers an incoming invitation: Ringing -> Negotiating. The engine
// is created with the responder role and an accept signal goes back to the
// initiator, which then sends its offer.
func (s *CallSession) Accept(ctx context.Context, local domain.LocalStream) error {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("accept in state %s: %w", st, domain.ErrAlreadyCalling)
	}
	s.local = local
	if err := s.attachEngineLocked(); err != nil {
		upd := s.terminateLocked(domain.CallFailed, err)
		s.mu.Unlock()
		s.emit(upd)
		return err
	}
	s.state = domain.CallNegotiating
	s.stopRingTimerLocked()
	held := s.remoteDesc
	engine := s.engine
	upd := s.updateLocked()
	s.mu.Unlock()

	s.emit(upd)
	if err := s.channel.SendResponse(ctx, domain.CallResponse{
		SessionID: s.id,
		RoomID:    s.roomID,
		From:      s.self,
		Accepted:  true,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to send accept response")
		s.fail(fmt.Errorf("send accept: %w", err))
		return err
	}
	// A description that raced ahead of the accept was held while ringing;
	// apply it now that the engine exists.
	if held != nil {
		if err := engine.ApplyRemoteDescription(*held); err != nil {
			s.fail(fmt.Errorf("%w: %w", domain.ErrInvalidDescription, err))
			return nil
		}
		s.afterRemoteDescription()
	}
	return nil
}

// Reject declines an incoming invitation: Ringing -> Closed.
func (s *CallSession) Reject(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		return nil
	}
	upd := s.terminateLocked(domain.CallClosed, nil)
	s.mu.Unlock()

	// Best effort; local teardown already happened.
	if err := s.channel.SendResponse(ctx, domain.CallResponse{
		SessionID: s.id,
		RoomID:    s.roomID,
		From:      s.self,
		Accepted:  false,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to send decline response")
	}
	s.emit(upd)
	return nil
}

// handleResponse reacts to the remote answer to our invitation.
func (s *CallSession) handleResponse(resp domain.CallResponse) {
	s.mu.Lock()
	if s.state != domain.CallCalling {
		s.log.Debug().Bool("accepted", resp.Accepted).Msg("response ignored outside calling state")
		s.mu.Unlock()
		return
	}
	if !resp.Accepted {
		upd := s.terminateLocked(domain.CallClosed, nil)
		s.mu.Unlock()
		s.emit(upd)
		return
	}
	if s.peer.ID == "" {
		s.peer.ID = resp.From
	}
	s.state = domain.CallNegotiating
	s.stopRingTimerLocked()
	send := s.takeLocalDescriptionLocked()
	queued := s.outbound
	s.outbound = nil
	upd := s.updateLocked()
	s.mu.Unlock()

	s.emit(upd)
	if send != nil {
		s.sendDescription(*send)
	}
	for _, cand := range queued {
		s.sendCandidate(cand)
	}
}

// ApplyRemoteSignal consumes one description or candidate signal routed to
// this session. Duplicate signals are no-ops; candidates arriving ahead of
// the description are buffered (bounded) and replayed once it lands.
func (s *CallSession) ApplyRemoteSignal(sig domain.SessionSignal) {
	switch sig.Kind {
	case domain.SignalDescription:
		if sig.Description == nil {
			s.log.Warn().Msg("description signal without description")
			return
		}
		s.applyRemoteDescription(*sig.Description)
	case domain.SignalCandidate:
		if sig.Candidate == nil {
			s.log.Warn().Msg("candidate signal without candidate")
			return
		}
		s.applyRemoteCandidate(*sig.Candidate)
	default:
		s.log.Warn().Str("kind", string(sig.Kind)).Msg("unknown signal kind dropped")
	}
}

func (s *CallSession) applyRemoteDescription(desc domain.Description) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.remoteDesc != nil {
		dup := *s.remoteDesc == desc
		s.mu.Unlock()
		if !dup {
			s.log.Warn().Msg("conflicting second remote description dropped")
		}
		return
	}
	if s.engine == nil {
		// Still ringing: hold the description until the user accepts.
		s.remoteDesc = &desc
		s.mu.Unlock()
		return
	}
	s.remoteDesc = &desc
	engine := s.engine
	s.mu.Unlock()

	if err := engine.ApplyRemoteDescription(desc); err != nil {
		s.fail(fmt.Errorf("%w: %w", domain.ErrInvalidDescription, err))
		return
	}
	s.afterRemoteDescription()
}

// afterRemoteDescription replays buffered candidates in arrival order and,
// on the responder side, kicks off answer generation.
func (s *CallSession) afterRemoteDescription() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	buffered := s.pending
	s.pending = nil
	engine := s.engine
	s.mu.Unlock()

	for _, cand := range buffered {
		if err := engine.AddRemoteCandidate(cand); err != nil {
			s.log.Warn().Err(err).Msg("buffered candidate rejected by engine")
		}
	}
	if s.role == domain.RoleResponder {
		go s.generateDescription()
	}
}

func (s *CallSession) applyRemoteCandidate(cand domain.Candidate) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[cand]; dup {
		s.mu.Unlock()
		s.log.Debug().Msg("duplicate candidate ignored")
		return
	}
	s.seen[cand] = struct{}{}

	applied := s.remoteDesc != nil && s.engine != nil
	if !applied {
		if len(s.pending) >= candidateBufferLimit {
			upd := s.terminateLocked(domain.CallFailed, domain.ErrSignalOverflow)
			s.mu.Unlock()
			s.emit(upd)
			return
		}
		s.pending = append(s.pending, cand)
		s.mu.Unlock()
		return
	}
	engine := s.engine
	s.mu.Unlock()

	if err := engine.AddRemoteCandidate(cand); err != nil {
		s.log.Warn().Err(err).Msg("candidate rejected by engine")
	}
}

// HangUp closes the session from any non-terminal state. The remote side is
// notified best-effort; local teardown never depends on that emission.
func (s *CallSession) HangUp(ctx context.Context) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	upd := s.terminateLocked(domain.CallClosed, nil)
	s.mu.Unlock()

	if err := s.channel.SendHangup(ctx, s.id); err != nil {
		s.log.Warn().Err(err).Msg("failed to send call-end")
	}
	s.emit(upd)
}

// remoteHangup tears the session down without emitting anything: the other
// side already left.
func (s *CallSession) remoteHangup() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	upd := s.terminateLocked(domain.CallClosed, nil)
	s.mu.Unlock()
	s.emit(upd)
}

// fail moves the session to CallFailed with the given reason.
func (s *CallSession) fail(reason error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	upd := s.terminateLocked(domain.CallFailed, reason)
	s.mu.Unlock()
	s.log.Error().Err(reason).Msg("session failed")
	s.emit(upd)
}

// generateDescription runs off the event path. The result is discarded when
// the session reached a terminal state in the meantime.
func (s *CallSession) generateDescription() {
	s.mu.Lock()
	engine := s.engine
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal || engine == nil {
		return
	}

	desc, err := engine.CreateLocalDescription(context.Background(), s.role)
	if err != nil {
		s.mu.Lock()
		terminal := s.state.Terminal()
		s.mu.Unlock()
		if terminal {
			return // stale completion, the user already hung up
		}
		s.fail(fmt.Errorf("create local description: %w", err))
		return
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.localDesc = &desc
	send := s.takeLocalDescriptionLocked()
	s.mu.Unlock()

	if send != nil {
		s.sendDescription(*send)
	}
}

// takeLocalDescriptionLocked returns the local description when it is ready
// to go on the wire: generated, not yet sent, and the session is past the
// invitation phase. The initiator's offer waits here until remoteAccepted.
func (s *CallSession) takeLocalDescriptionLocked() *domain.Description {
	if s.localDesc == nil || s.localDescSent {
		return nil
	}
	if s.state != domain.CallNegotiating && s.state != domain.CallConnected {
		return nil
	}
	s.localDescSent = true
	return s.localDesc
}

func (s *CallSession) sendDescription(desc domain.Description) {
	sig := domain.NewDescriptionSignal(s.id, s.roomID, s.self, desc)
	if err := s.channel.SendSignal(context.Background(), sig); err != nil {
		s.fail(fmt.Errorf("send description: %w", err))
	}
}

func (s *CallSession) attachEngineLocked() error {
	engine, err := s.engines(s.local)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
	}
	s.engine = engine
	engine.OnLocalCandidate(s.onLocalCandidate)
	engine.OnConnectivityChange(s.onConnectivityChange)
	engine.OnRemoteStream(s.onRemoteStream)
	return nil
}

// onLocalCandidate puts an engine-discovered candidate on the wire. While
// the session is still Calling the invite may not have reached the peer yet,
// so candidates are held and flushed on the transition to Negotiating; a
// candidate sent before the peer has a session would be stale-dropped there
// with nothing to replay it.
func (s *CallSession) onLocalCandidate(cand domain.Candidate) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.state != domain.CallNegotiating && s.state != domain.CallConnected {
		s.outbound = append(s.outbound, cand)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.sendCandidate(cand)
}

func (s *CallSession) sendCandidate(cand domain.Candidate) {
	sig := domain.NewCandidateSignal(s.id, s.roomID, s.self, cand)
	if err := s.channel.SendSignal(context.Background(), sig); err != nil {
		s.log.Warn().Err(err).Msg("failed to send candidate")
	}
}

func (s *CallSession) onConnectivityChange(conn domain.Connectivity) {
	s.log.Debug().Str("connectivity", conn.String()).Msg("transport connectivity changed")
	switch conn {
	case domain.ConnectivityConnected:
		s.mu.Lock()
		if s.state != domain.CallNegotiating {
			s.mu.Unlock()
			return
		}
		s.state = domain.CallConnected
		s.stopRingTimerLocked()
		s.pending = nil
		s.seen = make(map[domain.Candidate]struct{})
		upd := s.updateLocked()
		s.mu.Unlock()
		s.emit(upd)
	case domain.ConnectivityFailed:
		s.fail(domain.ErrTransportFailed)
	case domain.ConnectivityClosed:
		s.remoteHangup()
	}
}

func (s *CallSession) onRemoteStream(stream domain.RemoteStream) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.remote = stream
	connected := s.state == domain.CallConnected
	upd := s.updateLocked()
	s.mu.Unlock()

	if connected {
		s.emit(upd)
	}
}

// ringTimeout fires when a Calling or Ringing session got no answer.
func (s *CallSession) onRingTimeout() {
	s.mu.Lock()
	if s.state != domain.CallCalling && s.state != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	wasRinging := s.state == domain.CallRinging
	upd := s.terminateLocked(domain.CallClosed, nil)
	s.mu.Unlock()

	s.log.Info().Bool("ringing", wasRinging).Msg("call timed out unanswered")
	ctx := context.Background()
	if wasRinging {
		if err := s.channel.SendResponse(ctx, domain.CallResponse{
			SessionID: s.id, RoomID: s.roomID, From: s.self, Accepted: false,
		}); err != nil {
			s.log.Warn().Err(err).Msg("failed to send timeout decline")
		}
	} else {
		if err := s.channel.SendHangup(ctx, s.id); err != nil {
			s.log.Warn().Err(err).Msg("failed to send timeout call-end")
		}
	}
	s.emit(upd)
}

func (s *CallSession) armRingTimerLocked() {
	s.ringTimer = time.AfterFunc(s.ringTimeout, s.onRingTimeout)
}

func (s *CallSession) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// terminateLocked performs the single terminal transition: releases the
// engine, drops buffers and revokes this session's routing subscription.
func (s *CallSession) terminateLocked(next domain.CallState, reason error) SessionUpdate {
	s.state = next
	s.failure = reason
	s.stopRingTimerLocked()
	s.pending = nil
	s.outbound = nil
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warn().Err(err).Msg("engine close failed")
		}
		s.engine = nil
	}
	// The local stream is owned by the media source; only drop the reference.
	s.local = nil
	if s.detach != nil {
		detach := s.detach
		s.detachOnce.Do(func() { go detach() })
	}
	return s.updateLocked()
}

func (s *CallSession) updateLocked() SessionUpdate {
	return SessionUpdate{
		SessionID: s.id,
		RoomID:    s.roomID,
		State:     s.state,
		Peer:      s.peer,
		Reason:    s.failure,
		Remote:    s.remote,
	}
}

func (s *CallSession) emit(upd SessionUpdate) {
	if s.notify != nil {
		s.notify(upd)
	}
}
