package gormpersistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// Create 创建房间，房间码唯一约束冲突时返回 repository.ErrDuplicateEntry
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Create(room).Error
	return translate(err, "create room (code: %s)", room.Code)
}

// FindByCode 根据房间码查找房间
func (r *GormRoomRepository) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		return nil, translate(err, "find room by code '%s'", code)
	}
	return &room, nil
}

// LockByCode 查找房间并加行级排他锁，直到事务结束
func (r *GormRoomRepository) LockByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&room).Error
	if err != nil {
		return nil, translate(err, "lock room by code '%s'", code)
	}
	return &room, nil
}

// FindCodesWithPresenceLapsed 查找有在场参与者心跳刚好越过宽限窗口的房间
func (r *GormRoomRepository) FindCodesWithPresenceLapsed(ctx context.Context, from, to time.Time) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&domain.Room{}).
		Distinct("rooms.code").
		Joins("JOIN participants ON participants.room_id = rooms.id").
		Where("participants.left_at IS NULL AND participants.last_seen_at > ? AND participants.last_seen_at <= ?", from, to).
		Pluck("rooms.code", &codes).Error
	if err != nil {
		return nil, translate(err, "find rooms with lapsed presence")
	}
	return codes, nil
}

var _ repository.RoomRepository = (*GormRoomRepository)(nil)
