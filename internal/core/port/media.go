package port

import (
	"context"

	"github.com/parleyhq/parley/internal/core/domain"
)

// MediaSource produces the local media stream. The stream's lifecycle
// belongs to the source, not to any session holding a reference to it.
type MediaSource interface {
	// Capture acquires local media. Fails with domain.ErrPermissionDenied,
	// domain.ErrNoDevice or domain.ErrCaptureCancelled.
	Capture(ctx context.Context) (domain.LocalStream, error)
}

// NegotiationEngine wraps one underlying peer-connection transport. An
// engine is exclusively owned by a single session and destroyed with it.
// Engines never call back into the coordinator; all notifications flow
// through the owning session.
type NegotiationEngine interface {
	// CreateLocalDescription generates the offer (initiator) or answer
	// (responder). The responder may only call this after the remote
	// description has been applied.
	CreateLocalDescription(ctx context.Context, role domain.CallRole) (domain.Description, error)

	// ApplyRemoteDescription fails with domain.ErrInvalidDescription on
	// malformed input.
	ApplyRemoteDescription(desc domain.Description) error

	// AddRemoteCandidate feeds one remote network candidate to the
	// transport. Callers must apply the matching description first.
	AddRemoteCandidate(cand domain.Candidate) error

	OnLocalCandidate(fn func(domain.Candidate))
	OnConnectivityChange(fn func(domain.Connectivity))
	OnRemoteStream(fn func(domain.RemoteStream))

	Close() error
}

// EngineFactory builds a fresh engine for one call attempt, attached to the
// given local stream. Fails with domain.ErrEngineUnavailable when the
// underlying transport cannot be constructed.
type EngineFactory func(local domain.LocalStream) (NegotiationEngine, error)
