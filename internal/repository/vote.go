package repository

import (
	"context"

	"planning-poker/internal/domain"
)

// VoteRepository 投票存储
type VoteRepository interface {
	// Upsert 按 (ParticipantID, RoundID) 插入或覆盖票面
	Upsert(ctx context.Context, vote *domain.Vote) error
	// ListByRound 返回某一轮的全部投票，按创建顺序。
	ListByRound(ctx context.Context, roundID uint) ([]domain.Vote, error)
}
