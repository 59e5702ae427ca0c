package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// PresenceService 维护心跳。在线状态由 lastSeenAt 与宽限窗口在查询时推导。
// 心跳更新不与轮次/投票操作线性化，也不会清除 LeftAt。
type PresenceService struct {
	base
}

// NewPresenceService 创建 PresenceService 实例。
func NewPresenceService(store repository.Store, notifier Notifier, opts ...Option) *PresenceService {
	return &PresenceService{base: newBase(store, notifier, opts)}
}

// Grace 返回在线宽限窗口
func (s *PresenceService) Grace() time.Duration { return s.grace }

// Touch 按身份刷新心跳
func (s *PresenceService) Touch(ctx context.Context, code string, who domain.Identity) error {
	code = normalizeCode(code)
	room, err := s.store.Rooms().FindByCode(ctx, code)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	p, err := s.store.Participants().FindByRoomAndUser(ctx, room.ID, who.UserID)
	if err != nil {
		return mapRepoError(err, ErrParticipantNotFound)
	}
	return s.touch(ctx, room, p, false)
}

// TouchParticipant 按已绑定的参与者 ID 刷新心跳 (实时连接上的每个事件都会调用)
func (s *PresenceService) TouchParticipant(ctx context.Context, code string, participantID uint) error {
	code = normalizeCode(code)
	room, p, err := s.resolve(ctx, code, participantID)
	if err != nil {
		return err
	}
	return s.touch(ctx, room, p, false)
}

// Dropped 在连接断开时调用：尽力刷新心跳并重新广播，不设置 LeftAt (对方可能重连)
func (s *PresenceService) Dropped(ctx context.Context, code string, participantID uint) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": participantID})
	room, p, err := s.resolve(ctx, code, participantID)
	if err != nil {
		logCtx.WithError(err).Debug("Skip presence update for dropped connection")
		return
	}
	if err := s.touch(ctx, room, p, true); err != nil {
		logCtx.WithError(err).Warn("Failed to update presence for dropped connection")
	}
}

// Sweep 重新广播在 (now-grace-window, now-grace] 内失去在线状态的参与者所在房间，
// 让观察者无需等待下一次变更就能看到下线。返回广播的房间数。
func (s *PresenceService) Sweep(ctx context.Context, window time.Duration) (int, error) {
	now := s.now()
	to := now.Add(-s.grace)
	codes, err := s.store.Rooms().FindCodesWithPresenceLapsed(ctx, to.Add(-window), to)
	if err != nil {
		return 0, fmt.Errorf("find rooms with lapsed presence: %w", err)
	}
	published := 0
	for _, code := range codes {
		snap, err := s.loadSnapshot(ctx, code)
		if err != nil {
			logrus.WithField("room_code", code).WithError(err).Warn("Presence sweep failed to build snapshot")
			continue
		}
		s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
		published++
	}
	return published, nil
}

func (s *PresenceService) resolve(ctx context.Context, code string, participantID uint) (*domain.Room, *domain.Participant, error) {
	room, err := s.store.Rooms().FindByCode(ctx, code)
	if err != nil {
		return nil, nil, mapRepoError(err, ErrRoomNotFound)
	}
	p, err := s.store.Participants().FindByID(ctx, participantID)
	if err != nil {
		return nil, nil, mapRepoError(err, ErrParticipantNotFound)
	}
	if p.RoomID != room.ID {
		return nil, nil, ErrParticipantNotFound
	}
	return room, p, nil
}

// touch 刷新 lastSeenAt；参与者由离线变为在线 (或 force) 时广播新快照
func (s *PresenceService) touch(ctx context.Context, room *domain.Room, p *domain.Participant, force bool) error {
	if !p.IsLive() {
		return ErrParticipantNotFound
	}
	now := s.now()
	wasOnline := p.IsOnline(now, s.grace)
	if err := s.store.Participants().Touch(ctx, p.ID, now); err != nil {
		return mapRepoError(err, ErrParticipantNotFound)
	}
	if wasOnline && !force {
		return nil
	}
	snap, err := s.loadSnapshot(ctx, room.Code)
	if err != nil {
		return err
	}
	s.notifier.Publish(ctx, room.Code, domain.RoomStateEvent(snap))
	return nil
}
