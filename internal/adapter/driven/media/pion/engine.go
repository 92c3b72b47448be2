// Package pion adapts pion/webrtc to the core media ports: a negotiation
// engine wrapping one PeerConnection per call attempt, and a static RTP
// media source.
package pion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core/domain"
	"github.com/parleyhq/parley/internal/core/port"
)

// Default STUN servers for candidate gathering. No TURN: the module targets
// direct connectivity and leaves relaying to deployment configuration.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// TrackProvider is implemented by local streams that can hand their pion
// tracks to the engine. Streams without tracks negotiate receive-only.
type TrackProvider interface {
	domain.LocalStream
	WebRTCTracks() []webrtc.TrackLocal
}

// EngineConfig tunes the underlying PeerConnection.
type EngineConfig struct {
	STUNServers []string
}

// Engine implements port.NegotiationEngine on a single PeerConnection.
type Engine struct {
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	onCandidate    func(domain.Candidate)
	onConnectivity func(domain.Connectivity)
	onRemote       func(domain.RemoteStream)
	streams        map[string]*remoteStream
}

// NewEngineFactory returns a port.EngineFactory producing one Engine per
// call attempt.
func NewEngineFactory(cfg EngineConfig) port.EngineFactory {
	return func(local domain.LocalStream) (port.NegotiationEngine, error) {
		return NewEngine(cfg, local)
	}
}

func NewEngine(cfg EngineConfig, local domain.LocalStream) (*Engine, error) {
	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = defaultSTUNServers
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		pc:      pc,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*remoteStream),
	}

	if err := e.attachLocal(local); err != nil {
		cancel()
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal candidate")
			return
		}
		e.mu.Lock()
		fn := e.onCandidate
		e.mu.Unlock()
		if fn != nil {
			fn(domain.Candidate{Payload: string(data)})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.mu.Lock()
		fn := e.onConnectivity
		e.mu.Unlock()
		if fn != nil {
			fn(mapConnectivity(state))
		}
	})

	pc.OnTrack(e.handleTrack)

	return e, nil
}

// attachLocal adds the local stream's tracks when it has any; otherwise the
// engine negotiates receive-only transceivers so the offer still carries
// audio and video sections.
func (e *Engine) attachLocal(local domain.LocalStream) error {
	if provider, ok := local.(TrackProvider); ok {
		tracks := provider.WebRTCTracks()
		if len(tracks) > 0 {
			for _, track := range tracks {
				if _, err := e.pc.AddTrack(track); err != nil {
					return fmt.Errorf("add local track: %w", err)
				}
			}
			return nil
		}
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add transceiver: %w", err)
		}
	}
	return nil
}

func (e *Engine) CreateLocalDescription(ctx context.Context, role domain.CallRole) (domain.Description, error) {
	var (
		sdp  webrtc.SessionDescription
		kind domain.DescriptionKind
		err  error
	)
	if role == domain.RoleInitiator {
		sdp, err = e.pc.CreateOffer(nil)
		kind = domain.DescriptionOffer
	} else {
		sdp, err = e.pc.CreateAnswer(nil)
		kind = domain.DescriptionAnswer
	}
	if err != nil {
		return domain.Description{}, fmt.Errorf("create %s: %w", kind, err)
	}
	if err := e.pc.SetLocalDescription(sdp); err != nil {
		return domain.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.Description{Kind: kind, SDP: sdp.SDP}, nil
}

func (e *Engine) ApplyRemoteDescription(desc domain.Description) error {
	var sdpType webrtc.SDPType
	switch desc.Kind {
	case domain.DescriptionOffer:
		sdpType = webrtc.SDPTypeOffer
	case domain.DescriptionAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("%w: kind %q", domain.ErrInvalidDescription, desc.Kind)
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  desc.SDP,
	}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidDescription, err)
	}
	return nil
}

func (e *Engine) AddRemoteCandidate(cand domain.Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(cand.Payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (e *Engine) OnLocalCandidate(fn func(domain.Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

func (e *Engine) OnConnectivityChange(fn func(domain.Connectivity)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnectivity = fn
}

func (e *Engine) OnRemoteStream(fn func(domain.RemoteStream)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemote = fn
}

func (e *Engine) Close() error {
	e.cancel()
	return e.pc.Close()
}

// handleTrack groups inbound tracks by their stream ID and announces each
// stream once, on its first track. Video tracks get a PLI keepalive so the
// sender refreshes keyframes.
func (e *Engine) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	log.Debug().
		Str("kind", track.Kind().String()).
		Str("stream_id", track.StreamID()).
		Msg("remote track received")

	e.mu.Lock()
	stream, known := e.streams[track.StreamID()]
	if !known {
		stream = &remoteStream{id: track.StreamID()}
		e.streams[track.StreamID()] = stream
	}
	stream.addTrack(track)
	fn := e.onRemote
	e.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go e.pliLoop(track)
	}
	if !known && fn != nil {
		fn(stream)
	}
}

// pliLoop requests a keyframe immediately and then every three seconds
// until the engine closes.
func (e *Engine) pliLoop(track *webrtc.TrackRemote) {
	sendPLI := func() {
		if err := e.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			// Benign on a closed connection.
			return
		}
	}
	sendPLI()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}

func mapConnectivity(state webrtc.PeerConnectionState) domain.Connectivity {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectivityNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectivityFailed
	default:
		return domain.ConnectivityClosed
	}
}

// remoteStream implements domain.RemoteStream over the tracks pion delivers
// for one remote media stream.
type remoteStream struct {
	id     string
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

// Tracks returns the remote tracks received so far.
func (s *remoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}
