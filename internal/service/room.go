package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

const (
	roomCodeAlphabet    = "0123456789ABCDEF"
	roomCodeLength      = 6
	maxRoomCodeAttempts = 8
)

// RoomService 负责房间目录：创建房间、按房间码加入、读取快照。
type RoomService struct {
	base
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(store repository.Store, notifier Notifier, opts ...Option) *RoomService {
	return &RoomService{base: newBase(store, notifier, opts)}
}

// CreateRoomInput 创建房间的参数
type CreateRoomInput struct {
	Name        string
	DeckType    domain.DeckType
	DisplayName string // 为空时使用身份中的显示名
	Settings    map[string]interface{}
}

// Membership 是创建或加入房间的结果
type Membership struct {
	Room        domain.Room
	Participant domain.Participant
	Snapshot    *domain.Snapshot
}

// CreateRoom 创建房间并把调用者设为房主，两者在同一事务中写入。
// 房间码冲突时换码重试，超过次数返回 ErrCodeSpaceExhausted。
func (s *RoomService) CreateRoom(ctx context.Context, owner domain.Identity, in CreateRoomInput) (*Membership, error) {
	logCtx := logrus.WithField("user_id", owner.UserID)
	if owner.UserID == "" {
		return nil, ErrUnauthorized
	}
	name, err := cleanText("name", in.Name, maxRoomNameLength)
	if err != nil {
		return nil, err
	}
	if !in.DeckType.Valid() {
		return nil, invalidArgument("deckType must be one of fibonacci, tshirt")
	}
	displayName, err := s.displayName(owner, in.DisplayName)
	if err != nil {
		return nil, err
	}
	settings := in.Settings
	if settings == nil {
		settings = map[string]interface{}{}
	}

	for attempt := 1; attempt <= maxRoomCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate room code")
			return nil, ErrInternalServer
		}

		var result Membership
		err = s.store.WithTx(ctx, func(tx repository.Store) error {
			now := s.now()
			room := &domain.Room{Code: code, Name: name, DeckType: in.DeckType, Settings: settings, CreatedAt: now}
			if err := tx.Rooms().Create(ctx, room); err != nil {
				return err
			}
			p := &domain.Participant{
				RoomID:      room.ID,
				UserID:      owner.UserID,
				DisplayName: displayName,
				IsOwner:     true,
				JoinedAt:    now,
				LastSeenAt:  now,
			}
			if err := tx.Participants().Create(ctx, p); err != nil {
				return err
			}
			snap, err := s.snapshot(ctx, tx, room, now)
			if err != nil {
				return err
			}
			result = Membership{Room: *room, Participant: *p, Snapshot: snap}
			return nil
		})
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithFields(logrus.Fields{"room_code": code, "attempt": attempt}).Warn("Room code collision, retrying")
			continue
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to create room")
			return nil, err
		}

		logCtx.WithFields(logrus.Fields{"room_code": code, "room_id": result.Room.ID}).Info("Room created successfully")
		return &result, nil
	}

	logCtx.Errorf("Failed to allocate a unique room code after %d attempts", maxRoomCodeAttempts)
	return nil, ErrCodeSpaceExhausted
}

// JoinRoom 以身份加入房间。对同一身份幂等：已有参与者时更新显示名与心跳，
// 离开过的参与者重新变为在场。房间没有在场房主时加入者成为房主。
func (s *RoomService) JoinRoom(ctx context.Context, code string, who domain.Identity, displayName string) (*Membership, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": who.UserID})
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	name, err := s.displayName(who, displayName)
	if err != nil {
		return nil, err
	}

	var (
		p    *domain.Participant
		room domain.Room
	)
	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		room = *sc.room
		existing, err := sc.tx.Participants().FindByRoomAndUser(ctx, sc.room.ID, who.UserID)
		switch {
		case err == nil:
			p = existing
			p.DisplayName = name
			p.LastSeenAt = sc.now
			if !p.IsLive() {
				p.LeftAt = nil
				p.JoinedAt = sc.now
			}
			if err := sc.tx.Participants().Save(ctx, p); err != nil {
				return err
			}
			if err := sc.tx.Participants().Touch(ctx, p.ID, sc.now); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrNotFound):
			p = &domain.Participant{
				RoomID:      sc.room.ID,
				UserID:      who.UserID,
				DisplayName: name,
				JoinedAt:    sc.now,
				LastSeenAt:  sc.now,
			}
			if err := sc.tx.Participants().Create(ctx, p); err != nil {
				return err
			}
		default:
			return err
		}
		return ensureOwner(ctx, sc, p)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to join room")
		return nil, err
	}

	logCtx.WithField("participant_id", p.ID).Info("Participant joined room")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))

	return &Membership{Room: room, Participant: *p, Snapshot: snap}, nil
}

// GetSnapshot 返回房间与最新轮次的快照
func (s *RoomService) GetSnapshot(ctx context.Context, code string) (*domain.Snapshot, error) {
	snap, err := s.loadSnapshot(ctx, normalizeCode(code))
	if err != nil && CodeOf(err) == CodeInternal {
		logrus.WithField("room_code", code).WithError(err).Error("Failed to load room snapshot")
	}
	return snap, err
}

// ensureOwner 房间没有在场房主时提升 p
func ensureOwner(ctx context.Context, sc *scope, p *domain.Participant) error {
	live, err := sc.tx.Participants().ListLive(ctx, sc.room.ID)
	if err != nil {
		return err
	}
	for _, other := range live {
		if other.IsOwner {
			return nil
		}
	}
	p.IsOwner = true
	return sc.tx.Participants().Save(ctx, p)
}

func (s *RoomService) displayName(who domain.Identity, requested string) (string, error) {
	if requested == "" {
		requested = who.DisplayName
	}
	return cleanText("displayName", requested, maxDisplayNameLength)
}

// generateRoomCode 生成 6 位大写十六进制房间码
func generateRoomCode() (string, error) {
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b), nil
}
