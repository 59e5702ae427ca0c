package gormpersistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// GormParticipantRepository 是 ParticipantRepository 的 GORM 实现
type GormParticipantRepository struct {
	db *gorm.DB
}

func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

func (r *GormParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	err := r.db.WithContext(ctx).Create(p).Error
	return translate(err, "create participant (room: %d, user: %s)", p.RoomID, p.UserID)
}

// Save 使用 Select("*") 保证零值字段 (IsOwner=false, LeftAt=nil) 也被写回。
// last_seen_at 由 Touch 独占，读改写期间并发的心跳不会被旧值覆盖。
func (r *GormParticipantRepository) Save(ctx context.Context, p *domain.Participant) error {
	err := r.db.WithContext(ctx).Model(p).Select("*").Omit("last_seen_at").Updates(p).Error
	return translate(err, "save participant %d", p.ID)
}

func (r *GormParticipantRepository) FindByID(ctx context.Context, id uint) (*domain.Participant, error) {
	var p domain.Participant
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, "find participant by id %d", id)
	}
	return &p, nil
}

func (r *GormParticipantRepository) FindByRoomAndUser(ctx context.Context, roomID uint, userID string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&p).Error
	if err != nil {
		return nil, translate(err, "find participant (room: %d, user: %s)", roomID, userID)
	}
	return &p, nil
}

func (r *GormParticipantRepository) ListLive(ctx context.Context, roomID uint) ([]domain.Participant, error) {
	var ps []domain.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Order("joined_at ASC").Order("id ASC").
		Find(&ps).Error
	if err != nil {
		return nil, translate(err, "list live participants of room %d", roomID)
	}
	return ps, nil
}

func (r *GormParticipantRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Participant{}).Where("id = ?", id).Update("last_seen_at", at)
	if res.Error != nil {
		return translate(res.Error, "touch participant %d", id)
	}
	if res.RowsAffected == 0 {
		return repository.ErrParticipantNotFound
	}
	return nil
}

var _ repository.ParticipantRepository = (*GormParticipantRepository)(nil)
