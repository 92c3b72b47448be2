package service

import (
	"context"

	"github.com/parleyhq/parley/internal/core/domain"
	"github.com/parleyhq/parley/internal/core/port"
)

// ChatService persists and forwards chat messages. Chat is pass-through:
// delivery is unordered relative to call signals and never touches sessions.
type ChatService struct {
	repo    port.MessageRepository
	channel port.SignalingChannel
}

func NewChatService(repo port.MessageRepository, channel port.SignalingChannel) *ChatService {
	return &ChatService{
		repo:    repo,
		channel: channel,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, senderID domain.UserID, roomID domain.RoomID, name, content string) error {
	msg, err := domain.NewMessage(senderID, roomID, name, content)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, *msg); err != nil {
		return err
	}
	return s.channel.SendMessage(ctx, *msg)
}

func (s *ChatService) History(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	return s.repo.ListByRoom(ctx, roomID)
}
