package domain

import "errors"

// User-recoverable: surfaced to the caller, no session is created.
var (
	ErrNoStream         = errors.New("no local stream available")
	ErrAlreadyCalling   = errors.New("another call is already in progress")
	ErrAlreadyInRoom    = errors.New("already joined a room")
	ErrNotInRoom        = errors.New("not joined to any room")
	ErrUnknownSession   = errors.New("unknown session")
	ErrPermissionDenied = errors.New("media capture permission denied")
	ErrNoDevice         = errors.New("no capture device available")
	ErrCaptureCancelled = errors.New("media capture cancelled")
)

// Session-fatal: force the owning session to the failed state. Other
// sessions and room membership are unaffected.
var (
	ErrInvalidDescription = errors.New("invalid session description")
	ErrSignalOverflow     = errors.New("signal buffer overflow")
	ErrEngineUnavailable  = errors.New("negotiation engine unavailable")
	ErrTransportFailed    = errors.New("media transport failed")
)

// ErrChannelClosed reports total loss of the signaling channel.
var ErrChannelClosed = errors.New("signaling channel closed")
