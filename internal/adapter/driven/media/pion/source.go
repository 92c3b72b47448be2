package pion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley/internal/core/domain"
)

// MediaSource implements port.MediaSource with static RTP tracks the
// application feeds. The source owns the stream lifecycle; sessions only
// hold references.
type MediaSource struct {
	audio bool
	video bool
}

// NewMediaSource configures which kinds of tracks Capture produces.
func NewMediaSource(audio, video bool) *MediaSource {
	return &MediaSource{audio: audio, video: video}
}

func (s *MediaSource) Capture(ctx context.Context) (domain.LocalStream, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureCancelled, ctx.Err())
	default:
	}
	if !s.audio && !s.video {
		return nil, domain.ErrNoDevice
	}

	streamID := uuid.New().String()
	stream := &localStream{id: streamID}

	if s.audio {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		stream.audio = track
	}
	if s.video {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		stream.video = track
	}
	return stream, nil
}

// localStream implements domain.LocalStream and TrackProvider.
type localStream struct {
	id    string
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP
}

func (s *localStream) ID() string { return s.id }

func (s *localStream) WebRTCTracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

// AudioTrack returns the writable audio track, nil when audio is disabled.
func (s *localStream) AudioTrack() *webrtc.TrackLocalStaticRTP { return s.audio }

// VideoTrack returns the writable video track, nil when video is disabled.
func (s *localStream) VideoTrack() *webrtc.TrackLocalStaticRTP { return s.video }
