// Package protocol defines the JSON envelopes exchanged with the signaling
// relay. The relay never inspects payloads beyond the envelope fields it
// needs for routing.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/core/domain"
)

type Type string

const (
	TypeJoinRoom        Type = "join-room"
	TypeUserJoined      Type = "user-joined"
	TypeUserLeft        Type = "user-left"
	TypeCallInvite      Type = "call-invite"
	TypeCallResponse    Type = "call-response"
	TypeWebRTCSignal    Type = "webrtc-signal"
	TypeCallEnd         Type = "call-end"
	TypeMessageSent     Type = "message-sent"
	TypeMessageReceived Type = "message-received"
)

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

// Envelope is the single wire structure for all signaling traffic. Fields
// are populated per Type; everything else stays empty.
type Envelope struct {
	Type        Type            `json:"type"`
	RoomID      string          `json:"roomId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Participant *Participant    `json:"participant,omitempty"`
	From        string          `json:"from,omitempty"`
	Accepted    *bool           `json:"accepted,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Message     *Message        `json:"message,omitempty"`
}

// descriptionPayload is the webrtc-signal payload for kind "description".
type descriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func FromParticipant(p domain.Participant) *Participant {
	return &Participant{ID: p.ID.String(), Name: p.DisplayName}
}

func (p *Participant) ToDomain() domain.Participant {
	return domain.Participant{ID: domain.UserID(p.ID), DisplayName: p.Name}
}

func FromInvite(inv domain.CallInvite) Envelope {
	return Envelope{
		Type:        TypeCallInvite,
		RoomID:      inv.RoomID.String(),
		SessionID:   inv.SessionID.String(),
		Participant: FromParticipant(inv.From),
	}
}

func (e Envelope) ToInvite() (domain.CallInvite, error) {
	if e.Participant == nil {
		return domain.CallInvite{}, fmt.Errorf("call-invite without participant")
	}
	return domain.CallInvite{
		SessionID: domain.SessionID(e.SessionID),
		RoomID:    domain.RoomID(e.RoomID),
		From:      e.Participant.ToDomain(),
		At:        time.Now(),
	}, nil
}

func FromResponse(resp domain.CallResponse) Envelope {
	accepted := resp.Accepted
	return Envelope{
		Type:      TypeCallResponse,
		RoomID:    resp.RoomID.String(),
		SessionID: resp.SessionID.String(),
		From:      resp.From.String(),
		Accepted:  &accepted,
	}
}

func (e Envelope) ToResponse() domain.CallResponse {
	return domain.CallResponse{
		SessionID: domain.SessionID(e.SessionID),
		RoomID:    domain.RoomID(e.RoomID),
		From:      domain.UserID(e.From),
		Accepted:  e.Accepted != nil && *e.Accepted,
	}
}

func FromSignal(sig domain.SessionSignal) (Envelope, error) {
	env := Envelope{
		Type:      TypeWebRTCSignal,
		RoomID:    sig.RoomID.String(),
		SessionID: sig.SessionID.String(),
		From:      sig.From.String(),
		Kind:      string(sig.Kind),
	}
	switch sig.Kind {
	case domain.SignalDescription:
		if sig.Description == nil {
			return Envelope{}, fmt.Errorf("description signal without description")
		}
		payload, err := json.Marshal(descriptionPayload{
			Type: string(sig.Description.Kind),
			SDP:  sig.Description.SDP,
		})
		if err != nil {
			return Envelope{}, fmt.Errorf("encode description: %w", err)
		}
		env.Payload = payload
	case domain.SignalCandidate:
		if sig.Candidate == nil {
			return Envelope{}, fmt.Errorf("candidate signal without candidate")
		}
		env.Payload = json.RawMessage(sig.Candidate.Payload)
	default:
		return Envelope{}, fmt.Errorf("unknown signal kind %q", sig.Kind)
	}
	return env, nil
}

func (e Envelope) ToSignal() (domain.SessionSignal, error) {
	sessionID := domain.SessionID(e.SessionID)
	roomID := domain.RoomID(e.RoomID)
	from := domain.UserID(e.From)
	switch domain.SignalKind(e.Kind) {
	case domain.SignalDescription:
		var payload descriptionPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return domain.SessionSignal{}, fmt.Errorf("decode description: %w", err)
		}
		return domain.NewDescriptionSignal(sessionID, roomID, from, domain.Description{
			Kind: domain.DescriptionKind(payload.Type),
			SDP:  payload.SDP,
		}), nil
	case domain.SignalCandidate:
		return domain.NewCandidateSignal(sessionID, roomID, from, domain.Candidate{
			Payload: string(e.Payload),
		}), nil
	default:
		return domain.SessionSignal{}, fmt.Errorf("unknown signal kind %q", e.Kind)
	}
}

func FromMessage(msg domain.Message) Envelope {
	return Envelope{
		Type:   TypeMessageSent,
		RoomID: msg.RoomID.String(),
		Message: &Message{
			ID:     msg.ID.String(),
			Sender: msg.SenderID.String(),
			Name:   msg.Name,
			Text:   msg.Content,
		},
	}
}

func (e Envelope) ToMessage() (domain.Message, error) {
	if e.Message == nil {
		return domain.Message{}, fmt.Errorf("message envelope without message")
	}
	id := domain.MessageID(e.Message.ID)
	if id == "" {
		id = domain.NewMessageID()
	}
	return domain.Message{
		ID:       id,
		RoomID:   domain.RoomID(e.RoomID),
		SenderID: domain.UserID(e.Message.Sender),
		Name:     e.Message.Name,
		Content:  e.Message.Text,
	}, nil
}
