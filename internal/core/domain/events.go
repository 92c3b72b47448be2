package domain

// ChannelEvent is anything the signaling channel delivers to a room
// participant. Consumers type-switch on the concrete event.
type ChannelEvent interface {
	channelEvent()
}

// MemberJoined reports another participant entering the room.
type MemberJoined struct {
	RoomID RoomID
	Member Participant
}

// MemberLeft reports another participant leaving the room or losing its
// connection to the relay.
type MemberLeft struct {
	RoomID RoomID
	Member Participant
}

// InviteReceived carries an incoming call invitation.
type InviteReceived struct {
	Invite CallInvite
}

// ResponseReceived carries the remote answer to our invitation.
type ResponseReceived struct {
	Response CallResponse
}

// SignalReceived carries one negotiation message for a session.
type SignalReceived struct {
	Signal SessionSignal
}

// CallEnded reports the remote side hanging up a session.
type CallEnded struct {
	SessionID SessionID
	From      UserID
}

// MessageReceived carries a chat message. Pass-through only.
type MessageReceived struct {
	Message Message
}

// ChannelClosed reports that the channel is gone for good. Err carries the
// cause when known.
type ChannelClosed struct {
	Err error
}

func (MemberJoined) channelEvent()     {}
func (MemberLeft) channelEvent()       {}
func (InviteReceived) channelEvent()   {}
func (ResponseReceived) channelEvent() {}
func (SignalReceived) channelEvent()   {}
func (CallEnded) channelEvent()        {}
func (MessageReceived) channelEvent()  {}
func (ChannelClosed) channelEvent()    {}
