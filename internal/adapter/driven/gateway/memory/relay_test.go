package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/domain"
)

func nextEvent(t *testing.T, ch *Channel) domain.ChannelEvent {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event arrived")
		return nil
	}
}

func TestJoinAnnouncesBothDirections(t *testing.T) {
	relay := NewRelay()
	a := relay.NewChannel()
	b := relay.NewChannel()

	require.NoError(t, a.JoinRoom(context.Background(), "r1",
		domain.Participant{ID: "a", DisplayName: "A"}))
	require.NoError(t, b.JoinRoom(context.Background(), "r1",
		domain.Participant{ID: "b", DisplayName: "B"}))

	// The newcomer learns about the existing member and vice versa.
	got := nextEvent(t, b)
	joined, ok := got.(domain.MemberJoined)
	require.True(t, ok, "expected MemberJoined, got %T", got)
	assert.Equal(t, domain.UserID("a"), joined.Member.ID)

	got = nextEvent(t, a)
	joined, ok = got.(domain.MemberJoined)
	require.True(t, ok, "expected MemberJoined, got %T", got)
	assert.Equal(t, domain.UserID("b"), joined.Member.ID)
}

func TestJoinTwiceFails(t *testing.T) {
	relay := NewRelay()
	a := relay.NewChannel()
	require.NoError(t, a.JoinRoom(context.Background(), "r1", domain.Participant{ID: "a"}))
	err := a.JoinRoom(context.Background(), "r2", domain.Participant{ID: "a"})
	assert.ErrorIs(t, err, domain.ErrAlreadyInRoom)
}

func TestBroadcastSkipsSenderAndOtherRooms(t *testing.T) {
	relay := NewRelay()
	a := relay.NewChannel()
	b := relay.NewChannel()
	c := relay.NewChannel()
	require.NoError(t, a.JoinRoom(context.Background(), "r1", domain.Participant{ID: "a"}))
	require.NoError(t, b.JoinRoom(context.Background(), "r1", domain.Participant{ID: "b"}))
	require.NoError(t, c.JoinRoom(context.Background(), "r2", domain.Participant{ID: "c"}))
	nextEvent(t, a) // b joined
	nextEvent(t, b) // a already present

	sig := domain.NewCandidateSignal("s1", "r1", "a",
		domain.Candidate{Payload: `{"candidate":"host"}`})
	require.NoError(t, a.SendSignal(context.Background(), sig))

	got := nextEvent(t, b)
	received, ok := got.(domain.SignalReceived)
	require.True(t, ok, "expected SignalReceived, got %T", got)
	assert.Equal(t, sig.SessionID, received.Signal.SessionID)

	select {
	case ev := <-a.Events():
		t.Fatalf("sender received its own signal: %T", ev)
	case ev := <-c.Events():
		t.Fatalf("other room received the signal: %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInviteResponseHangupRoundTrip(t *testing.T) {
	relay := NewRelay()
	a := relay.NewChannel()
	b := relay.NewChannel()
	require.NoError(t, a.JoinRoom(context.Background(), "r1", domain.Participant{ID: "a"}))
	require.NoError(t, b.JoinRoom(context.Background(), "r1", domain.Participant{ID: "b"}))
	nextEvent(t, a)
	nextEvent(t, b)

	invite := domain.CallInvite{SessionID: "s1", RoomID: "r1",
		From: domain.Participant{ID: "a"}, At: time.Now()}
	require.NoError(t, a.SendInvite(context.Background(), invite))
	got := nextEvent(t, b).(domain.InviteReceived)
	assert.Equal(t, invite.SessionID, got.Invite.SessionID)

	require.NoError(t, b.SendResponse(context.Background(), domain.CallResponse{
		SessionID: "s1", RoomID: "r1", From: "b", Accepted: true}))
	resp := nextEvent(t, a).(domain.ResponseReceived)
	assert.True(t, resp.Response.Accepted)

	require.NoError(t, a.SendHangup(context.Background(), "s1"))
	end := nextEvent(t, b).(domain.CallEnded)
	assert.Equal(t, domain.SessionID("s1"), end.SessionID)
	assert.Equal(t, domain.UserID("a"), end.From)
}

func TestCloseAnnouncesDepartureAndEndsStream(t *testing.T) {
	relay := NewRelay()
	a := relay.NewChannel()
	b := relay.NewChannel()
	require.NoError(t, a.JoinRoom(context.Background(), "r1", domain.Participant{ID: "a"}))
	require.NoError(t, b.JoinRoom(context.Background(), "r1", domain.Participant{ID: "b"}))
	nextEvent(t, a)
	nextEvent(t, b)

	require.NoError(t, b.Close())

	left, ok := nextEvent(t, a).(domain.MemberLeft)
	require.True(t, ok)
	assert.Equal(t, domain.UserID("b"), left.Member.ID)

	_, ok = nextEvent(t, b).(domain.ChannelClosed)
	require.True(t, ok)
	_, open := <-b.Events()
	assert.False(t, open, "event channel still open after close")

	// Closing twice is harmless.
	require.NoError(t, b.Close())
}
