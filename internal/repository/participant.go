package repository

import (
	"context"
	"time"

	"planning-poker/internal/domain"
)

// ParticipantRepository 参与者存储
type ParticipantRepository interface {
	// Create 创建参与者，(RoomID, UserID) 重复时返回 ErrDuplicateEntry。
	Create(ctx context.Context, p *domain.Participant) error
	// Save 按 ID 更新参与者除 LastSeenAt 外的全部字段，心跳只经 Touch 写入。
	Save(ctx context.Context, p *domain.Participant) error
	FindByID(ctx context.Context, id uint) (*domain.Participant, error)
	// FindByRoomAndUser 查找 (房间, 用户) 对应的参与者，包括已离开的。
	FindByRoomAndUser(ctx context.Context, roomID uint, userID string) (*domain.Participant, error)
	// ListLive 返回房间内 LeftAt 为空的参与者，按加入时间升序。
	ListLive(ctx context.Context, roomID uint) ([]domain.Participant, error)
	// Touch 只更新 LastSeenAt，不触碰 LeftAt。
	Touch(ctx context.Context, id uint, at time.Time) error
}
