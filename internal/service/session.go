package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// SessionService 是房间的会话状态机：轮次、投票与房主变更。
// 每个操作在单个事务中完成 (房间行加锁)，提交后才广播新快照。
type SessionService struct {
	base
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(store repository.Store, notifier Notifier, opts ...Option) *SessionService {
	return &SessionService{base: newBase(store, notifier, opts)}
}

// StartVoting 房主开启新一轮投票。需要至少 QuorumSize 名在线参与者；
// 已有的未归档轮次先归档，再创建 status=voting 的新轮次。
func (s *SessionService) StartVoting(ctx context.Context, code string, actor domain.Identity, storyID *string) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "operation": "StartVoting"})

	story, err := cleanStoryID(storyID)
	if err != nil {
		return nil, err
	}

	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		if _, err := sc.owner(ctx, actor); err != nil {
			return err
		}
		live, err := sc.tx.Participants().ListLive(ctx, sc.room.ID)
		if err != nil {
			return err
		}
		if domain.CountOnline(live, sc.now, s.grace) < domain.QuorumSize {
			return ErrQuorumNotMet
		}
		return openRound(ctx, sc, domain.RoundVoting, story)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to start voting")
		return nil, err
	}

	logCtx.WithField("round_id", snap.Round.Info().ID).Info("Voting started")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
	return snap, nil
}

// CastVote 在当前 voting 轮次中投票；同一轮再次投票覆盖原票面。
func (s *SessionService) CastVote(ctx context.Context, code string, actor domain.Identity, value string) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "operation": "CastVote"})

	value, err := cleanText("vote value", value, maxVoteValueLength)
	if err != nil {
		return nil, err
	}

	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		round, err := sc.tx.Rounds().FindLatest(ctx, sc.room.ID)
		if err != nil {
			return mapRepoError(err, ErrNoActiveRound)
		}
		if !round.CanAcceptVotes() {
			return ErrNoActiveRound
		}
		p, err := sc.actor(ctx, actor)
		if err != nil {
			return err
		}
		return sc.tx.Votes().Upsert(ctx, &domain.Vote{
			RoundID:       round.ID,
			ParticipantID: p.ID,
			Value:         value,
			CreatedAt:     sc.now,
			UpdatedAt:     sc.now,
		})
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to cast vote")
		return nil, err
	}

	logCtx.WithField("round_id", snap.Round.Info().ID).Debug("Vote cast")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
	return snap, nil
}

// Reveal 房主揭晓当前 voting 轮次。平均值只在构建快照时计算，不落库。
func (s *SessionService) Reveal(ctx context.Context, code string, actor domain.Identity) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "operation": "Reveal"})

	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		if _, err := sc.owner(ctx, actor); err != nil {
			return err
		}
		round, err := sc.tx.Rounds().FindLatest(ctx, sc.room.ID)
		if err != nil {
			return mapRepoError(err, ErrRoundNotVoting)
		}
		if !round.CanReveal() {
			return ErrRoundNotVoting
		}
		ended := sc.now
		round.Status = domain.RoundRevealed
		round.EndedAt = &ended
		return sc.tx.Rounds().Save(ctx, round)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to reveal round")
		return nil, err
	}

	logCtx.WithField("round_id", snap.Round.Info().ID).Info("Round revealed")
	events := make([]domain.Event, 0, 2)
	if ev, ok := domain.RevealedEvent(snap); ok {
		events = append(events, ev)
	}
	events = append(events, domain.RoomStateEvent(snap))
	s.notifier.Publish(ctx, code, events...)
	return snap, nil
}

// Reset 房主归档当前轮次 (无论状态)，开启沿用相同 storyId 的 pending 新轮次。
func (s *SessionService) Reset(ctx context.Context, code string, actor domain.Identity) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "operation": "Reset"})

	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		if _, err := sc.owner(ctx, actor); err != nil {
			return err
		}
		var story *string
		current, err := sc.tx.Rounds().FindLatest(ctx, sc.room.ID)
		switch {
		case err == nil:
			story = current.StoryID
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		return openRound(ctx, sc, domain.RoundPending, story)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to reset round")
		return nil, err
	}

	logCtx.WithField("round_id", snap.Round.Info().ID).Info("Round reset")
	s.notifier.Publish(ctx, code,
		domain.Event{Type: domain.EventResetDone, Payload: domain.RoundPayload{Round: snap.Round}},
		domain.RoomStateEvent(snap),
	)
	return snap, nil
}

// Leave 标记调用者离开 (LeftAt=now)。房主在仍有其他在场参与者时必须指定接任者，
// 房主交接与离开在同一事务内完成。
func (s *SessionService) Leave(ctx context.Context, code string, actor domain.Identity, transferTo *uint) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "operation": "Leave"})

	var leaver *domain.Participant
	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		p, err := sc.actor(ctx, actor)
		if err != nil {
			return err
		}
		leaver = p
		if p.IsOwner {
			live, err := sc.tx.Participants().ListLive(ctx, sc.room.ID)
			if err != nil {
				return err
			}
			if len(live) > 1 {
				if transferTo == nil {
					return ErrOwnerMustTransfer
				}
				heir, err := sc.target(ctx, p, *transferTo)
				if err != nil {
					return err
				}
				if err := transferOwnership(ctx, sc, p, heir); err != nil {
					return err
				}
			} else {
				p.IsOwner = false
			}
		}
		left := sc.now
		p.LeftAt = &left
		return sc.tx.Participants().Save(ctx, p)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to leave room")
		return nil, err
	}

	logCtx.WithField("participant_id", leaver.ID).Info("Participant left room")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
	s.notifier.Detach(ctx, code, leaver.ID)
	return snap, nil
}

// TransferOwner 房主把房主身份移交给另一位在场参与者
func (s *SessionService) TransferOwner(ctx context.Context, code string, actor domain.Identity, targetID uint) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "target_id": targetID, "operation": "TransferOwner"})

	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		owner, err := sc.owner(ctx, actor)
		if err != nil {
			return err
		}
		heir, err := sc.target(ctx, owner, targetID)
		if err != nil {
			return err
		}
		return transferOwnership(ctx, sc, owner, heir)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to transfer ownership")
		return nil, err
	}

	logCtx.Info("Ownership transferred")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
	return snap, nil
}

// KickParticipant 房主移除参与者：设置 LeftAt，广播新快照后强制断开其全部连接。
func (s *SessionService) KickParticipant(ctx context.Context, code string, actor domain.Identity, targetID uint) (*domain.Snapshot, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": actor.UserID, "target_id": targetID, "operation": "KickParticipant"})

	var kicked *domain.Participant
	snap, err := s.mutate(ctx, code, func(ctx context.Context, sc *scope) error {
		owner, err := sc.owner(ctx, actor)
		if err != nil {
			return err
		}
		target, err := sc.target(ctx, owner, targetID)
		if err != nil {
			return err
		}
		left := sc.now
		target.LeftAt = &left
		target.IsOwner = false
		kicked = target
		return sc.tx.Participants().Save(ctx, target)
	})
	if err != nil {
		logFailure(logCtx, err, "Failed to kick participant")
		return nil, err
	}

	logCtx.Info("Participant kicked")
	s.notifier.Publish(ctx, code, domain.RoomStateEvent(snap))
	s.notifier.Disconnect(ctx, code, kicked.ID, kicked.UserID)
	return snap, nil
}

// openRound 归档房间内所有未归档轮次并创建新轮次
func openRound(ctx context.Context, sc *scope, status domain.RoundStatus, storyID *string) error {
	if err := sc.tx.Rounds().ArchiveOpen(ctx, sc.room.ID, sc.now); err != nil {
		return err
	}
	return sc.tx.Rounds().Create(ctx, &domain.Round{
		RoomID:    sc.room.ID,
		StoryID:   storyID,
		Status:    status,
		StartedAt: sc.now,
	})
}

// transferOwnership 原子地把房主从 from 移交给 to，两次写入属于同一事务
func transferOwnership(ctx context.Context, sc *scope, from, to *domain.Participant) error {
	from.IsOwner = false
	to.IsOwner = true
	if err := sc.tx.Participants().Save(ctx, from); err != nil {
		return err
	}
	return sc.tx.Participants().Save(ctx, to)
}

func cleanStoryID(storyID *string) (*string, error) {
	if storyID == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*storyID)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > maxStoryIDLength {
		return nil, invalidArgument("storyId must be at most %d characters", maxStoryIDLength)
	}
	return &trimmed, nil
}
