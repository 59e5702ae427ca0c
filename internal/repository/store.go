package repository

import "context"

// Store 聚合所有仓库，并提供事务边界。
// WithTx 内 fn 收到的 tx 上的所有读写属于同一事务：fn 返回错误则全部回滚。
type Store interface {
	Rooms() RoomRepository
	Participants() ParticipantRepository
	Rounds() RoundRepository
	Votes() VoteRepository

	WithTx(ctx context.Context, fn func(tx Store) error) error
}
