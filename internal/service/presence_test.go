package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planning-poker/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresence_TouchPublishesOnlyWhenComingOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code

	before := h.publishCount()
	require.NoError(t, h.presence.Touch(ctx, code, alice))
	assert.Equal(t, before, h.publishCount(), "仍在线时心跳不广播")

	h.clock.Advance(45 * time.Second)
	require.NoError(t, h.presence.Touch(ctx, code, alice))
	assert.Equal(t, before+1, h.publishCount(), "离线转在线时广播")

	p, err := h.store.Participants().FindByID(ctx, created.Participant.ID)
	require.NoError(t, err)
	assert.True(t, p.LastSeenAt.Equal(h.clock.Now()))
}

func TestPresence_TouchNeverRevivesLeftParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)
	code := created.Room.Code

	_, err := h.session.Leave(ctx, code, alice, nil)
	require.NoError(t, err)

	err = h.presence.Touch(ctx, code, alice)
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))
	err = h.presence.TouchParticipant(ctx, code, created.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))

	p, err := h.store.Participants().FindByID(ctx, created.Participant.ID)
	require.NoError(t, err)
	assert.NotNil(t, p.LeftAt)
}

func TestPresence_DroppedRebroadcastsWithoutLeaving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createRoom(t, alice)

	before := h.publishCount()
	h.presence.Dropped(ctx, created.Room.Code, created.Participant.ID)
	assert.Equal(t, before+1, h.publishCount())

	p, err := h.store.Participants().FindByID(ctx, created.Participant.ID)
	require.NoError(t, err)
	assert.Nil(t, p.LeftAt, "断线不等于离开")
}

func TestPresence_TouchParticipantRejectsOtherRoom(t *testing.T) {
	h := newHarness(t)
	first := h.createRoom(t, alice)
	second := h.createRoom(t, bob)

	err := h.presence.TouchParticipant(context.Background(), first.Room.Code, second.Participant.ID)
	assert.True(t, errors.Is(err, service.ErrParticipantNotFound))
}

func TestPresence_SweepPublishesLapsedRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createRoom(t, alice)
	window := 15 * time.Second

	n, err := h.presence.Sweep(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "刚创建的房间仍在线")

	h.clock.Advance(h.presence.Grace() + 5*time.Second)
	before := h.publishCount()
	n, err = h.presence.Sweep(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before+1, h.publishCount())

	h.clock.Advance(window)
	n, err = h.presence.Sweep(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "只广播一次")
}
