package domain

import (
	"errors"
)

// Message is a chat message passed through the signaling channel. Chat is
// unordered relative to call signals.
type Message struct {
	ID       MessageID
	RoomID   RoomID
	SenderID UserID
	Name     string
	Content  string
}

func NewMessage(senderID UserID, roomID RoomID, name, content string) (*Message, error) {
	if content == "" {
		return nil, errors.New("message content cannot be empty")
	}
	return &Message{
		ID:       NewMessageID(),
		RoomID:   roomID,
		SenderID: senderID,
		Name:     name,
		Content:  content,
	}, nil
}
