package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

const (
	maxRoomNameLength    = 64
	maxDisplayNameLength = 32
	maxVoteValueLength   = 32
	maxStoryIDLength     = 128
)

// Option 调整服务的可选依赖
type Option func(*base)

// WithClock 替换时间源 (测试使用)
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithPresenceGrace 设置在线判定的宽限窗口
func WithPresenceGrace(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.grace = d
		}
	}
}

// WithCodeGenerator 替换房间码生成器
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(b *base) { b.newCode = gen }
}

// base 是各服务共享的依赖
type base struct {
	store    repository.Store
	notifier Notifier
	now      func() time.Time
	grace    time.Duration
	newCode  func() (string, error)
}

func newBase(store repository.Store, notifier Notifier, opts []Option) base {
	if store == nil {
		panic("Store cannot be nil for service")
	}
	if notifier == nil {
		panic("Notifier cannot be nil for service")
	}
	b := base{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		grace:    domain.DefaultPresenceGrace,
		newCode:  generateRoomCode,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// snapshot 读取房间的在场参与者与最新轮次并构建快照
func (b *base) snapshot(ctx context.Context, store repository.Store, room *domain.Room, now time.Time) (*domain.Snapshot, error) {
	participants, err := store.Participants().ListLive(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	round, err := store.Rounds().FindLatest(ctx, room.ID)
	if err != nil && !errors.Is(err, repository.ErrRoundNotFound) {
		return nil, fmt.Errorf("find latest round: %w", err)
	}
	var votes []domain.Vote
	if round != nil {
		if votes, err = store.Votes().ListByRound(ctx, round.ID); err != nil {
			return nil, fmt.Errorf("list votes: %w", err)
		}
	}
	return domain.NewSnapshot(room, participants, round, votes, now, b.grace), nil
}

// loadSnapshot 在只读事务中按房间码构建快照
func (b *base) loadSnapshot(ctx context.Context, code string) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := b.store.WithTx(ctx, func(tx repository.Store) error {
		room, err := tx.Rooms().FindByCode(ctx, code)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		snap, err = b.snapshot(ctx, tx, room, b.now())
		return err
	})
	return snap, err
}

// scope 是一次房间变更事务内的上下文：房间行已加锁
type scope struct {
	tx   repository.Store
	room *domain.Room
	now  time.Time
}

// actor 将身份解析为房间内的在场参与者
func (sc *scope) actor(ctx context.Context, who domain.Identity) (*domain.Participant, error) {
	p, err := sc.tx.Participants().FindByRoomAndUser(ctx, sc.room.ID, who.UserID)
	if err != nil {
		return nil, mapRepoError(err, ErrParticipantNotFound)
	}
	if !p.IsLive() {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}

// owner 要求身份是房间当前的在场房主
func (sc *scope) owner(ctx context.Context, who domain.Identity) (*domain.Participant, error) {
	p, err := sc.actor(ctx, who)
	if err != nil {
		return nil, err
	}
	if !p.IsOwner {
		return nil, ErrForbidden
	}
	return p, nil
}

// target 解析操作目标：必须是本房间另一位在场参与者
func (sc *scope) target(ctx context.Context, actor *domain.Participant, targetID uint) (*domain.Participant, error) {
	p, err := sc.tx.Participants().FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidTarget
		}
		return nil, err
	}
	if p.RoomID != sc.room.ID || !p.IsLive() || p.ID == actor.ID {
		return nil, ErrInvalidTarget
	}
	return p, nil
}

// mutate 锁定房间并在同一事务中执行 fn，提交前重建快照。
// 返回的快照反映提交后的状态，调用方随后负责广播。
func (b *base) mutate(ctx context.Context, code string, fn func(ctx context.Context, sc *scope) error) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := b.store.WithTx(ctx, func(tx repository.Store) error {
		room, err := tx.Rooms().LockByCode(ctx, code)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		sc := &scope{tx: tx, room: room, now: b.now()}
		if err := fn(ctx, sc); err != nil {
			return err
		}
		snap, err = b.snapshot(ctx, tx, room, sc.now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// mapRepoError 将 ErrNotFound 映射为指定的业务错误，其余错误原样返回
func mapRepoError(err error, notFound *Error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return err
}

// logFailure 业务错误记 warn，其余记 error
func logFailure(logCtx *logrus.Entry, err error, msg string) {
	if CodeOf(err) == CodeInternal {
		logCtx.WithError(err).Error(msg)
		return
	}
	logCtx.WithError(err).Warn(msg)
}

// normalizeCode 统一房间码大小写
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// cleanText 去除首尾空白并校验长度 (按字符计)
func cleanText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return "", invalidArgument("%s is required", field)
	}
	if n > max {
		return "", invalidArgument("%s must be at most %d characters", field, max)
	}
	return value, nil
}
