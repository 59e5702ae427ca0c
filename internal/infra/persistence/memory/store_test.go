package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planning-poker/internal/domain"
	"planning-poker/internal/infra/persistence/memory"
	"planning-poker/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoomCodeUnique(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Rooms().Create(ctx, &domain.Room{Code: "ABC123", Name: "a", DeckType: domain.DeckFibonacci}))
	err := store.Rooms().Create(ctx, &domain.Room{Code: "ABC123", Name: "b", DeckType: domain.DeckFibonacci})
	assert.True(t, errors.Is(err, repository.ErrDuplicateEntry))

	_, err = store.Rooms().FindByCode(ctx, "ZZZZZZ")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Rooms().Create(ctx, &domain.Room{Code: "ABC123", Name: "a", DeckType: domain.DeckTShirt}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Rooms().FindByCode(ctx, "ABC123")
	assert.True(t, errors.Is(err, repository.ErrNotFound), "回滚后房间不应存在")
}

func TestStore_VoteUpsert(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Votes().Upsert(ctx, &domain.Vote{RoundID: 1, ParticipantID: 2, Value: "3"}))
	require.NoError(t, store.Votes().Upsert(ctx, &domain.Vote{RoundID: 1, ParticipantID: 2, Value: "8"}))

	votes, err := store.Votes().ListByRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "8", votes[0].Value)
}

func TestStore_ArchiveOpenAndLatest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.Round{RoomID: 1, Status: domain.RoundRevealed, StartedAt: t0, EndedAt: &t0}
	second := &domain.Round{RoomID: 1, Status: domain.RoundVoting, StartedAt: t0.Add(time.Minute)}
	require.NoError(t, store.Rounds().Create(ctx, first))
	require.NoError(t, store.Rounds().Create(ctx, second))

	latest, err := store.Rounds().FindLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	archivedAt := t0.Add(2 * time.Minute)
	require.NoError(t, store.Rounds().ArchiveOpen(ctx, 1, archivedAt))

	rounds, err := store.Rounds().ListByRoom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	for _, r := range rounds {
		assert.Equal(t, domain.RoundArchived, r.Status)
		require.NotNil(t, r.EndedAt)
	}
	assert.True(t, rounds[0].EndedAt.Equal(t0), "已有的 EndedAt 不应被覆盖")
	assert.True(t, rounds[1].EndedAt.Equal(archivedAt))
}

func TestStore_PresenceLapsed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	room := &domain.Room{Code: "ABC123", Name: "a", DeckType: domain.DeckFibonacci}
	require.NoError(t, store.Rooms().Create(ctx, room))
	p := &domain.Participant{RoomID: room.ID, UserID: "u1", DisplayName: "alice", JoinedAt: now, LastSeenAt: now.Add(-40 * time.Second)}
	require.NoError(t, store.Participants().Create(ctx, p))

	codes, err := store.Rooms().FindCodesWithPresenceLapsed(ctx, now.Add(-45*time.Second), now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC123"}, codes)

	require.NoError(t, store.Participants().Touch(ctx, p.ID, now))
	codes, err = store.Rooms().FindCodesWithPresenceLapsed(ctx, now.Add(-45*time.Second), now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestStore_ParticipantSaveKeepsHeartbeat(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p := &domain.Participant{RoomID: 1, UserID: "u1", DisplayName: "alice", JoinedAt: t0, LastSeenAt: t0}
	require.NoError(t, store.Participants().Create(ctx, p))

	// 先读出参与者，期间心跳刷新了 LastSeenAt
	stale, err := store.Participants().FindByID(ctx, p.ID)
	require.NoError(t, err)
	beat := t0.Add(20 * time.Second)
	require.NoError(t, store.Participants().Touch(ctx, p.ID, beat))

	stale.IsOwner = true
	require.NoError(t, store.Participants().Save(ctx, stale))

	got, err := store.Participants().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOwner)
	assert.True(t, beat.Equal(got.LastSeenAt), "Save 不应回退心跳时间")

	err = store.Participants().Save(ctx, &domain.Participant{ID: 999})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
