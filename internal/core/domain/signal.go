package domain

type SignalKind string

const (
	SignalDescription SignalKind = "description"
	SignalCandidate   SignalKind = "candidate"
)

type DescriptionKind string

const (
	DescriptionOffer  DescriptionKind = "offer"
	DescriptionAnswer DescriptionKind = "answer"
)

// Description is one side's proposed media/transport parameters.
// The SDP body is opaque to everything except the negotiation engine.
type Description struct {
	Kind DescriptionKind
	SDP  string
}

// Candidate is one discovered network path endpoint. The payload is a
// JSON-encoded ICE candidate, passed through verbatim.
type Candidate struct {
	Payload string
}

// SessionSignal is one negotiation message addressed to a session.
// Exactly one of Description or Candidate is set, per Kind.
type SessionSignal struct {
	SessionID   SessionID
	RoomID      RoomID
	From        UserID
	Kind        SignalKind
	Description *Description
	Candidate   *Candidate
}

func NewDescriptionSignal(sessionID SessionID, roomID RoomID, from UserID, desc Description) SessionSignal {
	return SessionSignal{
		SessionID:   sessionID,
		RoomID:      roomID,
		From:        from,
		Kind:        SignalDescription,
		Description: &desc,
	}
}

func NewCandidateSignal(sessionID SessionID, roomID RoomID, from UserID, cand Candidate) SessionSignal {
	return SessionSignal{
		SessionID: sessionID,
		RoomID:    roomID,
		From:      from,
		Kind:      SignalCandidate,
		Candidate: &cand,
	}
}
