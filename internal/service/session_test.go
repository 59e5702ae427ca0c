package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"planning-poker/internal/domain"
	"planning-poker/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSession_ScenarioA_QuorumGatesStartVoting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.createRoom(t, alice)
	assert.Regexp(t, `^[0-9A-F]{6}$`, created.Room.Code)
	assert.True(t, created.Participant.IsOwner)

	joined := h.join(t, created.Room.Code, bob)
	assert.False(t, joined.Participant.IsOwner)
	assert.NotEqual(t, created.Participant.ID, joined.Participant.ID)

	// bob 超过宽限窗口没有心跳，只有 alice 在线
	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.presence.Touch(ctx, created.Room.Code, alice))

	_, err := h.session.StartVoting(ctx, created.Room.Code, alice, nil)
	assert.True(t, errors.Is(err, service.ErrQuorumNotMet))
	assert.Equal(t, service.CodeQuorumNotMet, service.CodeOf(err))

	require.NoError(t, h.presence.Touch(ctx, created.Room.Code, bob))
	snap, err := h.session.StartVoting(ctx, created.Room.Code, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundVoting, snap.Round.Info().Status)
}

func TestSession_ScenarioB_RevealAverage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)

	_, err := h.session.CastVote(ctx, code, alice, "5")
	require.NoError(t, err)
	_, err = h.session.CastVote(ctx, code, bob, "8")
	require.NoError(t, err)

	snap, err := h.session.Reveal(ctx, code, alice)
	require.NoError(t, err)

	revealed, ok := snap.Round.(domain.RevealedRound)
	require.True(t, ok)
	assert.Len(t, revealed.Votes, 2)
	require.NotNil(t, revealed.Average)
	assert.Equal(t, 6.5, *revealed.Average)
	assert.NotNil(t, revealed.EndedAt)

	published := h.notifier.Published()
	require.GreaterOrEqual(t, len(published), 2)
	assert.Equal(t, domain.EventRevealed, published[len(published)-2].Type)
	assert.Equal(t, domain.EventRoomState, published[len(published)-1].Type)
}

func TestSession_RevealWithHugeVotesStaysSerializable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)

	_, err := h.session.CastVote(ctx, code, alice, "1e308")
	require.NoError(t, err)
	_, err = h.session.CastVote(ctx, code, bob, "1e308")
	require.NoError(t, err)

	snap, err := h.session.Reveal(ctx, code, alice)
	require.NoError(t, err)

	revealed, ok := snap.Round.(domain.RevealedRound)
	require.True(t, ok)
	require.NotNil(t, revealed.Average)
	assert.False(t, math.IsInf(*revealed.Average, 0))
	assert.Equal(t, 1e308, *revealed.Average)

	_, err = json.Marshal(domain.RoomStateEvent(snap))
	require.NoError(t, err)
	for _, ev := range h.notifier.Published() {
		_, err = json.Marshal(ev)
		require.NoError(t, err, "event %s must be serializable", ev.Type)
	}

	fresh, err := h.rooms.GetSnapshot(ctx, code)
	require.NoError(t, err)
	_, err = json.Marshal(domain.RoomStateEvent(fresh))
	assert.NoError(t, err)
}

func TestSession_ScenarioC_NonNumericOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)

	_, err := h.session.CastVote(ctx, code, alice, "?")
	require.NoError(t, err)
	snap, err := h.session.Reveal(ctx, code, alice)
	require.NoError(t, err)

	revealed := snap.Round.(domain.RevealedRound)
	assert.Nil(t, revealed.Average)
	require.Len(t, revealed.Votes, 1)
	assert.Equal(t, "?", revealed.Votes[0].Value)
}

func TestSession_ScenarioD_OwnerLeaveRequiresTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code
	b := h.join(t, code, bob)

	_, err := h.session.Leave(ctx, code, alice, nil)
	assert.True(t, errors.Is(err, service.ErrOwnerMustTransfer))
	assert.Equal(t, service.CodeInvalidState, service.CodeOf(err))
	assert.Equal(t, 1, h.liveOwners(t, created.Room.ID))

	bobID := b.Participant.ID
	snap, err := h.session.Leave(ctx, code, alice, &bobID)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, bobID, snap.Participants[0].ID)
	assert.True(t, snap.Participants[0].IsOwner)

	old, err := h.store.Participants().FindByID(ctx, created.Participant.ID)
	require.NoError(t, err)
	assert.NotNil(t, old.LeftAt)
	assert.False(t, old.IsOwner)
	h.notifier.AssertCalled(t, "Detach", mock.Anything, code, created.Participant.ID)
}

func TestSession_ScenarioE_NonOwnerRevealForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)
	before := h.publishCount()

	_, err := h.session.Reveal(ctx, code, bob)
	assert.True(t, errors.Is(err, service.ErrForbidden))
	assert.Equal(t, before, h.publishCount(), "失败的操作不应广播")

	snap, err := h.rooms.GetSnapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundVoting, snap.Round.Info().Status)
}

func TestSession_Revote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)

	_, err := h.session.CastVote(ctx, code, alice, "3")
	require.NoError(t, err)
	snap, err := h.session.CastVote(ctx, code, alice, "8")
	require.NoError(t, err)

	votes, err := h.store.Votes().ListByRound(ctx, snap.Round.Info().ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "8", votes[0].Value)
	assert.True(t, snap.Participants[0].HasVoted)
	assert.False(t, snap.Participants[1].HasVoted)
}

func TestSession_VoteRequiresVotingRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)

	_, err := h.session.CastVote(ctx, created.Room.Code, alice, "5")
	assert.True(t, errors.Is(err, service.ErrNoActiveRound), "没有轮次")

	h.join(t, created.Room.Code, bob)
	_, err = h.session.StartVoting(ctx, created.Room.Code, alice, nil)
	require.NoError(t, err)
	_, err = h.session.Reveal(ctx, created.Room.Code, alice)
	require.NoError(t, err)

	_, err = h.session.CastVote(ctx, created.Room.Code, bob, "5")
	assert.True(t, errors.Is(err, service.ErrNoActiveRound), "揭晓后不能投票")

	_, err = h.session.Reset(ctx, created.Room.Code, alice)
	require.NoError(t, err)
	_, err = h.session.CastVote(ctx, created.Room.Code, bob, "5")
	assert.True(t, errors.Is(err, service.ErrNoActiveRound), "pending 轮次不能投票")
}

func TestSession_RevealRequiresVoting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)

	_, err := h.session.Reveal(ctx, created.Room.Code, alice)
	assert.True(t, errors.Is(err, service.ErrRoundNotVoting))
	assert.Equal(t, service.CodeInvalidState, service.CodeOf(err))
}

func TestSession_VoteValidation(t *testing.T) {
	h := newHarness(t)
	code, _ := h.votingRoom(t)

	for _, value := range []string{"", "   ", "123456789012345678901234567890123"} {
		_, err := h.session.CastVote(context.Background(), code, alice, value)
		assert.True(t, errors.Is(err, service.ErrInvalidArgument), "value %q", value)
		assert.Equal(t, service.CodeInvalidArgument, service.CodeOf(err))
	}
}

func TestSession_NonMemberIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, _ := h.votingRoom(t)

	_, err := h.session.CastVote(ctx, code, carol, "5")
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))

	_, err = h.session.Reveal(ctx, code, carol)
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))

	_, err = h.session.Reveal(ctx, "NOPE00", alice)
	assert.True(t, errors.Is(err, service.ErrRoomNotFound))
	assert.Equal(t, service.CodeNotFound, service.CodeOf(err))
}

func TestSession_ResetCarriesStoryForward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code
	h.join(t, code, bob)

	story := "JIRA-42"
	first, err := h.session.StartVoting(ctx, code, alice, &story)
	require.NoError(t, err)
	h.clock.Advance(time.Second)

	snap, err := h.session.Reset(ctx, code, alice)
	require.NoError(t, err)

	info := snap.Round.Info()
	assert.Equal(t, domain.RoundPending, info.Status)
	require.NotNil(t, info.StoryID)
	assert.Equal(t, story, *info.StoryID)
	assert.NotEqual(t, first.Round.Info().ID, info.ID)

	rounds, err := h.store.Rounds().ListByRoom(ctx, created.Room.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, domain.RoundArchived, rounds[0].Status)
	assert.NotNil(t, rounds[0].EndedAt)
	assert.Equal(t, 1, h.openRounds(t, created.Room.ID))

	published := h.notifier.Published()
	assert.Equal(t, domain.EventResetDone, published[len(published)-2].Type)
}

func TestSession_ResetWithoutRound(t *testing.T) {
	h := newHarness(t)
	created := h.createRoom(t, alice)

	snap, err := h.session.Reset(context.Background(), created.Room.Code, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundPending, snap.Round.Info().Status)
	assert.Nil(t, snap.Round.Info().StoryID)
}

func TestSession_TransferOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code
	b := h.join(t, code, bob)

	_, err := h.session.TransferOwner(ctx, code, bob, created.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	_, err = h.session.TransferOwner(ctx, code, alice, created.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrInvalidTarget), "不能移交给自己")

	_, err = h.session.TransferOwner(ctx, code, alice, 9999)
	assert.True(t, errors.Is(err, service.ErrInvalidTarget))

	snap, err := h.session.TransferOwner(ctx, code, alice, b.Participant.ID)
	require.NoError(t, err)
	for _, p := range snap.Participants {
		assert.Equal(t, p.ID == b.Participant.ID, p.IsOwner)
	}
	assert.Equal(t, 1, h.liveOwners(t, created.Room.ID))

	_, err = h.session.Reveal(ctx, code, alice)
	assert.True(t, errors.Is(err, service.ErrForbidden), "原房主失去权限")
}

func TestSession_TransferToParticipantOfOtherRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.createRoom(t, alice)
	other := h.createRoom(t, bob)

	_, err := h.session.TransferOwner(ctx, first.Room.Code, alice, other.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrInvalidTarget))
}

func TestSession_KickParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code
	b := h.join(t, code, bob)

	_, err := h.session.KickParticipant(ctx, code, bob, created.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	_, err = h.session.KickParticipant(ctx, code, alice, created.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrInvalidTarget))

	snap, err := h.session.KickParticipant(ctx, code, alice, b.Participant.ID)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, created.Participant.ID, snap.Participants[0].ID)
	h.notifier.AssertCalled(t, "Disconnect", mock.Anything, code, b.Participant.ID, bob.UserID)

	// 被踢出的参与者可以重新加入，沿用同一行记录
	again := h.join(t, code, bob)
	assert.Equal(t, b.Participant.ID, again.Participant.ID)
	assert.Nil(t, again.Participant.LeftAt)
	assert.False(t, again.Participant.IsOwner)
}

func TestSession_KickedParticipantCannotVote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, bobID := h.votingRoom(t)

	_, err := h.session.KickParticipant(ctx, code, alice, bobID)
	require.NoError(t, err)

	_, err = h.session.CastVote(ctx, code, bob, "5")
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))
}

func TestSession_OwnerLeavesAloneThenJoinerPromoted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code

	snap, err := h.session.Leave(ctx, code, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Participants)

	joined := h.join(t, code, carol)
	assert.True(t, joined.Participant.IsOwner)
	assert.Equal(t, 1, h.liveOwners(t, created.Room.ID))
}

func TestSession_InvariantsHoldAcrossSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code
	b := h.join(t, code, bob)
	h.join(t, code, carol)

	steps := []func() error{
		func() error { _, err := h.session.StartVoting(ctx, code, alice, nil); return err },
		func() error { _, err := h.session.CastVote(ctx, code, bob, "3"); return err },
		func() error { _, err := h.session.StartVoting(ctx, code, alice, nil); return err },
		func() error { _, err := h.session.CastVote(ctx, code, carol, "13"); return err },
		func() error { _, err := h.session.Reveal(ctx, code, alice); return err },
		func() error { _, err := h.session.Reset(ctx, code, alice); return err },
		func() error { _, err := h.session.TransferOwner(ctx, code, alice, b.Participant.ID); return err },
		func() error { _, err := h.session.StartVoting(ctx, code, bob, nil); return err },
		func() error { _, err := h.session.CastVote(ctx, code, alice, "5"); return err },
		func() error { _, err := h.session.CastVote(ctx, code, alice, "8"); return err },
	}
	for i, step := range steps {
		h.clock.Advance(time.Second)
		require.NoError(t, step(), "step %d", i)
		assert.LessOrEqual(t, h.openRounds(t, created.Room.ID), 1, "step %d", i)
		assert.Equal(t, 1, h.liveOwners(t, created.Room.ID), "step %d", i)
	}

	rounds, err := h.store.Rounds().ListByRoom(ctx, created.Room.ID)
	require.NoError(t, err)
	for _, r := range rounds {
		votes, err := h.store.Votes().ListByRound(ctx, r.ID)
		require.NoError(t, err)
		seen := map[uint]bool{}
		for _, v := range votes {
			assert.False(t, seen[v.ParticipantID], "每人每轮至多一票")
			seen[v.ParticipantID] = true
		}
	}
}

func TestSession_ConcurrentStartVoting(t *testing.T) {
	h := newHarness(t)
	created := h.createRoom(t, alice)
	h.join(t, created.Room.Code, bob)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.session.StartVoting(context.Background(), created.Room.Code, alice, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.openRounds(t, created.Room.ID))
	rounds, err := h.store.Rounds().ListByRoom(context.Background(), created.Room.ID)
	require.NoError(t, err)
	assert.Len(t, rounds, 16)
}

func TestSession_RevealRacingVote(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("iteration-%d", i), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			code, bobID := h.votingRoom(t)

			var (
				wg        sync.WaitGroup
				voteErr   error
				revealErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, voteErr = h.session.CastVote(ctx, code, bob, "5")
			}()
			go func() {
				defer wg.Done()
				_, revealErr = h.session.Reveal(ctx, code, alice)
			}()
			wg.Wait()
			require.NoError(t, revealErr)

			snap, err := h.rooms.GetSnapshot(ctx, code)
			require.NoError(t, err)
			revealed := snap.Round.(domain.RevealedRound)
			if voteErr == nil {
				require.Len(t, revealed.Votes, 1, "先提交的投票必须出现在揭晓结果中")
				assert.Equal(t, bobID, revealed.Votes[0].ParticipantID)
			} else {
				assert.True(t, errors.Is(voteErr, service.ErrNoActiveRound))
				assert.Empty(t, revealed.Votes)
			}
		})
	}
}
