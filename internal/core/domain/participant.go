package domain

// Participant is one room member as seen through the signaling channel.
type Participant struct {
	ID          UserID
	DisplayName string
}

func NewParticipant(displayName string) Participant {
	return Participant{
		ID:          NewUserID(),
		DisplayName: displayName,
	}
}
