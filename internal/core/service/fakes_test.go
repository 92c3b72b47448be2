package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/core/domain"
	"github.com/parleyhq/parley/internal/core/port"
)

type fakeStream struct{ id string }

func (s *fakeStream) ID() string { return s.id }

type fakeRemoteStream struct{ id string }

func (s *fakeRemoteStream) ID() string { return s.id }

// fakeEngine implements port.NegotiationEngine in memory. When autopilot is
// set it behaves like a cooperative transport: creating a local description
// emits one candidate, and once both a local and a remote description exist
// it reports connectivity and a remote stream.
type fakeEngine struct {
	mu             sync.Mutex
	created        []domain.Description
	applied        []domain.Description
	candidates     []domain.Candidate
	closed         bool
	connected      bool
	autopilot      bool
	createErr      error
	applyErr       error
	candidateErr   error
	createGate     chan struct{} // when set, CreateLocalDescription blocks on it
	onCandidate    func(domain.Candidate)
	onConnectivity func(domain.Connectivity)
	onRemote       func(domain.RemoteStream)
}

func (e *fakeEngine) CreateLocalDescription(ctx context.Context, role domain.CallRole) (domain.Description, error) {
	e.mu.Lock()
	gate := e.createGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	if e.createErr != nil {
		err := e.createErr
		e.mu.Unlock()
		return domain.Description{}, err
	}
	kind := domain.DescriptionOffer
	if role == domain.RoleResponder {
		kind = domain.DescriptionAnswer
	}
	desc := domain.Description{Kind: kind, SDP: fmt.Sprintf("sdp-%s", kind)}
	e.created = append(e.created, desc)
	emitCandidate := e.onCandidate
	auto := e.autopilot
	e.mu.Unlock()

	if auto && emitCandidate != nil {
		emitCandidate(domain.Candidate{Payload: fmt.Sprintf(`{"candidate":"host-%s"}`, kind)})
	}
	e.maybeConnect()
	return desc, nil
}

func (e *fakeEngine) ApplyRemoteDescription(desc domain.Description) error {
	e.mu.Lock()
	if e.applyErr != nil {
		err := e.applyErr
		e.mu.Unlock()
		return err
	}
	e.applied = append(e.applied, desc)
	e.mu.Unlock()

	e.maybeConnect()
	return nil
}

func (e *fakeEngine) AddRemoteCandidate(cand domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.candidateErr != nil {
		return e.candidateErr
	}
	e.candidates = append(e.candidates, cand)
	return nil
}

func (e *fakeEngine) OnLocalCandidate(fn func(domain.Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

func (e *fakeEngine) OnConnectivityChange(fn func(domain.Connectivity)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnectivity = fn
}

func (e *fakeEngine) OnRemoteStream(fn func(domain.RemoteStream)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemote = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// maybeConnect fires connectivity and a remote stream once both sides of
// the description exchange happened.
func (e *fakeEngine) maybeConnect() {
	e.mu.Lock()
	ready := e.autopilot && !e.connected && len(e.created) > 0 && len(e.applied) > 0
	if ready {
		e.connected = true
	}
	connFn := e.onConnectivity
	remoteFn := e.onRemote
	e.mu.Unlock()

	if !ready {
		return
	}
	if remoteFn != nil {
		remoteFn(&fakeRemoteStream{id: "remote-stream"})
	}
	if connFn != nil {
		connFn(domain.ConnectivityConnected)
	}
}

func (e *fakeEngine) reportConnectivity(c domain.Connectivity) {
	e.mu.Lock()
	fn := e.onConnectivity
	e.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) remoteCandidates() []domain.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func (e *fakeEngine) appliedDescriptions() []domain.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Description, len(e.applied))
	copy(out, e.applied)
	return out
}

// fakeEngineFactory hands out prepared engines in order, or fails.
type fakeEngineFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	err     error
	handed  []*fakeEngine
}

func (f *fakeEngineFactory) factory() port.EngineFactory {
	return func(local domain.LocalStream) (port.NegotiationEngine, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		var e *fakeEngine
		if len(f.engines) > 0 {
			e = f.engines[0]
			f.engines = f.engines[1:]
		} else {
			e = &fakeEngine{autopilot: true}
		}
		f.handed = append(f.handed, e)
		return e, nil
	}
}

// fakeChannel records outbound traffic and lets tests inject events.
type fakeChannel struct {
	mu        sync.Mutex
	joined    []domain.RoomID
	invites   []domain.CallInvite
	responses []domain.CallResponse
	signals   []domain.SessionSignal
	hangups   []domain.SessionID
	messages  []domain.Message
	joinErr   error
	signalErr error
	hangupErr error
	events    chan domain.ChannelEvent
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan domain.ChannelEvent, 64)}
}

func (c *fakeChannel) JoinRoom(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined = append(c.joined, roomID)
	return nil
}

func (c *fakeChannel) SendInvite(ctx context.Context, invite domain.CallInvite) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invites = append(c.invites, invite)
	return nil
}

func (c *fakeChannel) SendResponse(ctx context.Context, resp domain.CallResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *fakeChannel) SendSignal(ctx context.Context, signal domain.SessionSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalErr != nil {
		return c.signalErr
	}
	c.signals = append(c.signals, signal)
	return nil
}

func (c *fakeChannel) SendHangup(ctx context.Context, sessionID domain.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups = append(c.hangups, sessionID)
	if c.hangupErr != nil {
		return c.hangupErr
	}
	return nil
}

func (c *fakeChannel) SendMessage(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeChannel) Events() <-chan domain.ChannelEvent { return c.events }

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) sentSignals() []domain.SessionSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SessionSignal, len(c.signals))
	copy(out, c.signals)
	return out
}

func (c *fakeChannel) sentResponses() []domain.CallResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CallResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

func (c *fakeChannel) sentInvites() []domain.CallInvite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CallInvite, len(c.invites))
	copy(out, c.invites)
	return out
}

func (c *fakeChannel) sentHangups() []domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SessionID, len(c.hangups))
	copy(out, c.hangups)
	return out
}

// fakeMedia implements port.MediaSource.
type fakeMedia struct {
	mu  sync.Mutex
	err error
	n   int
}

func (m *fakeMedia) Capture(ctx context.Context) (domain.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.n++
	return &fakeStream{id: fmt.Sprintf("local-%d", m.n)}, nil
}
