package port

import (
	"context"

	"github.com/parleyhq/parley/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	ListByRoom(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error)
}
