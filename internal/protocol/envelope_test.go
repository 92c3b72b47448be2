package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/domain"
)

func TestDescriptionSignalRoundTrip(t *testing.T) {
	sig := domain.NewDescriptionSignal("s1", "r1", "alice", domain.Description{
		Kind: domain.DescriptionOffer,
		SDP:  "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n",
	})

	env, err := FromSignal(sig)
	require.NoError(t, err)
	assert.Equal(t, TypeWebRTCSignal, env.Type)
	assert.Equal(t, "description", env.Kind)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := decoded.ToSignal()
	require.NoError(t, err)
	assert.Equal(t, sig.SessionID, got.SessionID)
	require.NotNil(t, got.Description)
	assert.Equal(t, domain.DescriptionOffer, got.Description.Kind)
	assert.Equal(t, sig.Description.SDP, got.Description.SDP)
}

func TestCandidateSignalPayloadPassesThroughVerbatim(t *testing.T) {
	payload := `{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`
	sig := domain.NewCandidateSignal("s1", "r1", "alice", domain.Candidate{Payload: payload})

	env, err := FromSignal(sig)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(env.Payload))

	got, err := env.ToSignal()
	require.NoError(t, err)
	require.NotNil(t, got.Candidate)
	assert.Equal(t, payload, got.Candidate.Payload)
}

func TestSignalWithoutBodyFails(t *testing.T) {
	_, err := FromSignal(domain.SessionSignal{
		SessionID: "s1", RoomID: "r1", Kind: domain.SignalDescription,
	})
	assert.Error(t, err)

	_, err = Envelope{Type: TypeWebRTCSignal, Kind: "bogus"}.ToSignal()
	assert.Error(t, err)
}

func TestInviteRoundTrip(t *testing.T) {
	env := FromInvite(domain.CallInvite{
		SessionID: "s1",
		RoomID:    "r1",
		From:      domain.Participant{ID: "alice", DisplayName: "Alice"},
	})
	assert.Equal(t, TypeCallInvite, env.Type)

	inv, err := env.ToInvite()
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s1"), inv.SessionID)
	assert.Equal(t, domain.UserID("alice"), inv.From.ID)
	assert.Equal(t, "Alice", inv.From.DisplayName)

	_, err = Envelope{Type: TypeCallInvite}.ToInvite()
	assert.Error(t, err)
}

func TestResponseRoundTrip(t *testing.T) {
	env := FromResponse(domain.CallResponse{
		SessionID: "s1", RoomID: "r1", From: "bob", Accepted: true,
	})
	require.NotNil(t, env.Accepted)
	assert.True(t, *env.Accepted)

	resp := env.ToResponse()
	assert.True(t, resp.Accepted)
	assert.Equal(t, domain.UserID("bob"), resp.From)

	// Missing accepted field decodes as a decline.
	resp = Envelope{Type: TypeCallResponse, SessionID: "s1"}.ToResponse()
	assert.False(t, resp.Accepted)
}

func TestMessageRoundTripKeepsIdentityFields(t *testing.T) {
	msg := domain.Message{
		ID:       domain.NewMessageID(),
		RoomID:   "r1",
		SenderID: "alice",
		Name:     "Alice",
		Content:  "hello",
	}
	env := FromMessage(msg)
	require.NotNil(t, env.Message)
	assert.Equal(t, msg.ID.String(), env.Message.ID)
	assert.Equal(t, "alice", env.Message.Sender)

	got, err := env.ToMessage()
	require.NoError(t, err)
	// Message identity and sender identity survive the wire separately.
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.SenderID, got.SenderID)
	assert.Equal(t, msg.Content, got.Content)
}

func TestEnvelopeOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Envelope{Type: TypeCallEnd, SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"call-end","sessionId":"s1"}`, string(raw))
}
