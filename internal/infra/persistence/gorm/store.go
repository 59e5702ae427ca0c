package gormpersistence

import (
	"context"

	"gorm.io/gorm"

	"planning-poker/internal/repository"
)

// GormStore 是 repository.Store 的 GORM 实现。事务内的 GormStore 包装的是事务句柄。
type GormStore struct {
	db           *gorm.DB
	rooms        *GormRoomRepository
	participants *GormParticipantRepository
	rounds       *GormRoundRepository
	votes        *GormVoteRepository
}

// NewGormStore 创建 GormStore 实例
func NewGormStore(db *gorm.DB) *GormStore {
	if db == nil {
		panic("database connection cannot be nil for GormStore")
	}
	return &GormStore{
		db:           db,
		rooms:        NewGormRoomRepository(db),
		participants: NewGormParticipantRepository(db),
		rounds:       NewGormRoundRepository(db),
		votes:        NewGormVoteRepository(db),
	}
}

func (s *GormStore) Rooms() repository.RoomRepository               { return s.rooms }
func (s *GormStore) Participants() repository.ParticipantRepository { return s.participants }
func (s *GormStore) Rounds() repository.RoundRepository             { return s.rounds }
func (s *GormStore) Votes() repository.VoteRepository               { return s.votes }

// WithTx 在一个数据库事务中执行 fn。fn 返回的错误原样返回，事务回滚。
func (s *GormStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
