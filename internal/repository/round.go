package repository

import (
	"context"
	"time"

	"planning-poker/internal/domain"
)

// RoundRepository 轮次存储
type RoundRepository interface {
	Create(ctx context.Context, round *domain.Round) error
	Save(ctx context.Context, round *domain.Round) error
	// FindLatest 返回房间最新的一轮 (按 StartedAt、ID 降序)，没有时返回 ErrRoundNotFound。
	FindLatest(ctx context.Context, roomID uint) (*domain.Round, error)
	// ListByRoom 返回房间的全部轮次，按开始时间升序。
	ListByRoom(ctx context.Context, roomID uint) ([]domain.Round, error)
	// ArchiveOpen 将房间内所有未归档的轮次置为 archived，EndedAt 为空的设为 at。
	ArchiveOpen(ctx context.Context, roomID uint, at time.Time) error
}
