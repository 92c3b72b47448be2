package domain

import "time"

// CallState is the lifecycle state of a single negotiation attempt.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallRinging
	CallNegotiating
	CallConnected
	CallClosed
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallRinging:
		return "ringing"
	case CallNegotiating:
		return "negotiating"
	case CallConnected:
		return "connected"
	case CallClosed:
		return "closed"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can never leave this state again.
func (s CallState) Terminal() bool {
	return s == CallClosed || s == CallFailed
}

// CallRole is fixed for the lifetime of a session once assigned.
// Only the initiator ever generates the first description, which is
// what keeps both sides from offering at the same time.
type CallRole int

const (
	RoleInitiator CallRole = iota
	RoleResponder
)

func (r CallRole) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// CallInvite is a call invitation in flight before acceptance.
type CallInvite struct {
	SessionID SessionID
	RoomID    RoomID
	From      Participant
	At        time.Time
}

// CallResponse answers a CallInvite.
type CallResponse struct {
	SessionID SessionID
	RoomID    RoomID
	From      UserID
	Accepted  bool
}
