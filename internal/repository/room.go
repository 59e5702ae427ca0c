package repository

import (
	"context"
	"time"

	"planning-poker/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// Create 创建房间。房间码冲突时返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// FindByCode 根据房间码查找房间，不存在时返回 ErrRoomNotFound。
	FindByCode(ctx context.Context, code string) (*domain.Room, error)

	// LockByCode 与 FindByCode 相同，但在事务内对房间行加排他锁 (SELECT ... FOR UPDATE)，
	// 同一房间的所有变更因此串行执行。只应在 WithTx 内调用。
	LockByCode(ctx context.Context, code string) (*domain.Room, error)

	// FindCodesWithPresenceLapsed 返回存在在场参与者 lastSeenAt 落在 (from, to] 区间内的房间码。
	FindCodesWithPresenceLapsed(ctx context.Context, from, to time.Time) ([]string, error)
}
