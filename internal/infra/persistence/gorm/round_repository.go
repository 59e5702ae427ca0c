package gormpersistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// GormRoundRepository 是 RoundRepository 的 GORM 实现
type GormRoundRepository struct {
	db *gorm.DB
}

func NewGormRoundRepository(db *gorm.DB) *GormRoundRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoundRepository")
	}
	return &GormRoundRepository{db: db}
}

func (r *GormRoundRepository) Create(ctx context.Context, round *domain.Round) error {
	err := r.db.WithContext(ctx).Create(round).Error
	return translate(err, "create round (room: %d)", round.RoomID)
}

func (r *GormRoundRepository) Save(ctx context.Context, round *domain.Round) error {
	err := r.db.WithContext(ctx).Model(round).Select("*").Updates(round).Error
	return translate(err, "save round %d", round.ID)
}

func (r *GormRoundRepository) FindLatest(ctx context.Context, roomID uint) (*domain.Round, error) {
	var round domain.Round
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("started_at DESC").Order("id DESC").
		First(&round).Error
	if err != nil {
		return nil, translate(err, "find latest round of room %d", roomID)
	}
	return &round, nil
}

func (r *GormRoundRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("started_at ASC").Order("id ASC").
		Find(&rounds).Error
	if err != nil {
		return nil, translate(err, "list rounds of room %d", roomID)
	}
	return rounds, nil
}

// ArchiveOpen 归档房间内所有未归档的轮次，保留已有的 ended_at
func (r *GormRoundRepository) ArchiveOpen(ctx context.Context, roomID uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&domain.Round{}).
		Where("room_id = ? AND status <> ?", roomID, domain.RoundArchived).
		Updates(map[string]interface{}{
			"status":   domain.RoundArchived,
			"ended_at": gorm.Expr("COALESCE(ended_at, ?)", at),
		}).Error
	return translate(err, "archive open rounds of room %d", roomID)
}

var _ repository.RoundRepository = (*GormRoundRepository)(nil)
