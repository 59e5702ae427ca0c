package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"planning-poker/internal/domain"
	"planning-poker/internal/infra/persistence/memory"
	"planning-poker/internal/service"
	"planning-poker/internal/service/mocks"

	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Identity{UserID: "user-a", DisplayName: "alice"}
	bob   = domain.Identity{UserID: "user-b", DisplayName: "bob"}
	carol = domain.Identity{UserID: "user-c", DisplayName: "carol"}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store    *memory.Store
	notifier *mocks.Notifier
	clock    *fakeClock
	rooms    *service.RoomService
	session  *service.SessionService
	presence *service.PresenceService
}

func newHarness(t *testing.T, extra ...service.Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		notifier: new(mocks.Notifier).AllowAll(),
		clock:    &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts := append([]service.Option{service.WithClock(h.clock.Now)}, extra...)
	h.rooms = service.NewRoomService(h.store, h.notifier, opts...)
	h.session = service.NewSessionService(h.store, h.notifier, opts...)
	h.presence = service.NewPresenceService(h.store, h.notifier, opts...)
	return h
}

// createRoom 以 owner 创建斐波那契房间
func (h *harness) createRoom(t *testing.T, owner domain.Identity) *service.Membership {
	t.Helper()
	m, err := h.rooms.CreateRoom(context.Background(), owner, service.CreateRoomInput{Name: "Sprint 1", DeckType: domain.DeckFibonacci})
	require.NoError(t, err)
	return m
}

func (h *harness) join(t *testing.T, code string, who domain.Identity) *service.Membership {
	t.Helper()
	m, err := h.rooms.JoinRoom(context.Background(), code, who, "")
	require.NoError(t, err)
	return m
}

// votingRoom 创建 alice (房主) + bob 的房间并开始投票
func (h *harness) votingRoom(t *testing.T) (code string, bobID uint) {
	t.Helper()
	m := h.createRoom(t, alice)
	b := h.join(t, m.Room.Code, bob)
	_, err := h.session.StartVoting(context.Background(), m.Room.Code, alice, nil)
	require.NoError(t, err)
	return m.Room.Code, b.Participant.ID
}

// openRounds 统计房间中 pending/voting 的轮次数
func (h *harness) openRounds(t *testing.T, roomID uint) int {
	t.Helper()
	rounds, err := h.store.Rounds().ListByRoom(context.Background(), roomID)
	require.NoError(t, err)
	n := 0
	for _, r := range rounds {
		if r.Status.IsOpen() {
			n++
		}
	}
	return n
}

// liveOwners 统计房间内在场房主数
func (h *harness) liveOwners(t *testing.T, roomID uint) int {
	t.Helper()
	live, err := h.store.Participants().ListLive(context.Background(), roomID)
	require.NoError(t, err)
	n := 0
	for _, p := range live {
		if p.IsOwner {
			n++
		}
	}
	return n
}

func (h *harness) publishCount() int {
	n := 0
	for _, call := range h.notifier.Calls {
		if call.Method == "Publish" {
			n++
		}
	}
	return n
}
