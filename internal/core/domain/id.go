package domain

import (
	"github.com/google/uuid"
)

type UserID string
type RoomID string
type SessionID string
type MessageID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func (id UserID) String() string    { return string(id) }
func (id RoomID) String() string    { return string(id) }
func (id SessionID) String() string { return string(id) }
func (id MessageID) String() string { return string(id) }
