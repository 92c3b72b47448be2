package port

import (
	"context"

	"github.com/parleyhq/parley/internal/core/domain"
)

// SignalingChannel delivers opaque signaling payloads and membership events
// between two room participants. Implementations own the transport; the
// coordinator only sees this surface. An instance is passed in explicitly at
// construction so multiple rooms can coexist in one process.
type SignalingChannel interface {
	JoinRoom(ctx context.Context, roomID domain.RoomID, p domain.Participant) error
	SendInvite(ctx context.Context, invite domain.CallInvite) error
	SendResponse(ctx context.Context, resp domain.CallResponse) error
	SendSignal(ctx context.Context, signal domain.SessionSignal) error
	SendHangup(ctx context.Context, sessionID domain.SessionID) error
	SendMessage(ctx context.Context, msg domain.Message) error

	// Events delivers inbound channel traffic. The channel is closed after a
	// ChannelClosed event has been delivered.
	Events() <-chan domain.ChannelEvent

	Close() error
}
