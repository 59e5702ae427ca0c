package gormpersistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// GormVoteRepository 是 VoteRepository 的 GORM 实现
type GormVoteRepository struct {
	db *gorm.DB
}

func NewGormVoteRepository(db *gorm.DB) *GormVoteRepository {
	if db == nil {
		panic("database connection cannot be nil for GormVoteRepository")
	}
	return &GormVoteRepository{db: db}
}

// Upsert 依赖 (participant_id, round_id) 唯一索引，冲突时只覆盖票面和更新时间
func (r *GormVoteRepository) Upsert(ctx context.Context, vote *domain.Vote) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(vote).Error
	return translate(err, "upsert vote (participant: %d, round: %d)", vote.ParticipantID, vote.RoundID)
}

func (r *GormVoteRepository) ListByRound(ctx context.Context, roundID uint) ([]domain.Vote, error) {
	var votes []domain.Vote
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC").Order("id ASC").
		Find(&votes).Error
	if err != nil {
		return nil, translate(err, "list votes of round %d", roundID)
	}
	return votes, nil
}

var _ repository.VoteRepository = (*GormVoteRepository)(nil)
