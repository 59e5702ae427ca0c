// Package memory 提供进程内的事务型存储，用于测试和 DB_DRIVER=memory 的单机运行。
// 所有操作共用一把互斥锁；WithTx 在整个事务期间持有该锁，因此事务之间天然串行，
// 回滚时恢复事务开始前的数据副本。
package memory

import (
	"context"
	"sync"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

type tables struct {
	rooms        map[uint]domain.Room
	participants map[uint]domain.Participant
	rounds       map[uint]domain.Round
	votes        map[uint]domain.Vote
	nextID       map[string]uint
}

func newTables() *tables {
	return &tables{
		rooms:        make(map[uint]domain.Room),
		participants: make(map[uint]domain.Participant),
		rounds:       make(map[uint]domain.Round),
		votes:        make(map[uint]domain.Vote),
		nextID:       make(map[string]uint),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.rooms {
		c.rooms[k] = v
	}
	for k, v := range t.participants {
		c.participants[k] = v
	}
	for k, v := range t.rounds {
		c.rounds[k] = v
	}
	for k, v := range t.votes {
		c.votes[k] = v
	}
	for k, v := range t.nextID {
		c.nextID[k] = v
	}
	return c
}

func (t *tables) id(table string) uint {
	t.nextID[table]++
	return t.nextID[table]
}

type shared struct {
	mu   sync.Mutex
	data *tables
}

// Store 是 repository.Store 的内存实现
type Store struct {
	s    *shared
	inTx bool
}

// NewStore 创建空的内存存储
func NewStore() *Store {
	return &Store{s: &shared{data: newTables()}}
}

// lock 在非事务视图上加锁；事务视图已经持有锁
func (st *Store) lock() func() {
	if st.inTx {
		return func() {}
	}
	st.s.mu.Lock()
	return st.s.mu.Unlock
}

func (st *Store) Rooms() repository.RoomRepository               { return roomRepo{st} }
func (st *Store) Participants() repository.ParticipantRepository { return participantRepo{st} }
func (st *Store) Rounds() repository.RoundRepository             { return roundRepo{st} }
func (st *Store) Votes() repository.VoteRepository               { return voteRepo{st} }

// WithTx 串行执行 fn；fn 返回错误或 panic 时恢复事务前的数据
func (st *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if st.inTx {
		return fn(st)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	backup := st.s.data.clone()
	committed := false
	defer func() {
		if !committed {
			st.s.data = backup
		}
	}()

	if err := fn(&Store{s: st.s, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

var _ repository.Store = (*Store)(nil)
