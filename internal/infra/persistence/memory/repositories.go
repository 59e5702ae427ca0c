package memory

import (
	"context"
	"sort"
	"time"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

type roomRepo struct{ st *Store }

func (r roomRepo) Create(ctx context.Context, room *domain.Room) error {
	defer r.st.lock()()
	t := r.st.s.data
	for _, existing := range t.rooms {
		if existing.Code == room.Code {
			return repository.ErrRoomCodeTaken
		}
	}
	room.ID = t.id("rooms")
	t.rooms[room.ID] = *room
	return nil
}

func (r roomRepo) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	defer r.st.lock()()
	for _, room := range r.st.s.data.rooms {
		if room.Code == code {
			found := room
			return &found, nil
		}
	}
	return nil, repository.ErrRoomNotFound
}

// LockByCode 在内存实现中事务本身已经串行，行锁退化为普通查找
func (r roomRepo) LockByCode(ctx context.Context, code string) (*domain.Room, error) {
	return r.FindByCode(ctx, code)
}

func (r roomRepo) FindCodesWithPresenceLapsed(ctx context.Context, from, to time.Time) ([]string, error) {
	defer r.st.lock()()
	t := r.st.s.data
	seen := make(map[uint]struct{})
	for _, p := range t.participants {
		if p.LeftAt == nil && p.LastSeenAt.After(from) && !p.LastSeenAt.After(to) {
			seen[p.RoomID] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for id := range seen {
		if room, ok := t.rooms[id]; ok {
			codes = append(codes, room.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

type participantRepo struct{ st *Store }

func (r participantRepo) Create(ctx context.Context, p *domain.Participant) error {
	defer r.st.lock()()
	t := r.st.s.data
	for _, existing := range t.participants {
		if existing.RoomID == p.RoomID && existing.UserID == p.UserID {
			return repository.ErrDuplicateEntry
		}
	}
	p.ID = t.id("participants")
	t.participants[p.ID] = *p
	return nil
}

func (r participantRepo) Save(ctx context.Context, p *domain.Participant) error {
	defer r.st.lock()()
	t := r.st.s.data
	existing, ok := t.participants[p.ID]
	if !ok {
		return repository.ErrParticipantNotFound
	}
	updated := *p
	updated.LastSeenAt = existing.LastSeenAt
	t.participants[p.ID] = updated
	return nil
}

func (r participantRepo) FindByID(ctx context.Context, id uint) (*domain.Participant, error) {
	defer r.st.lock()()
	p, ok := r.st.s.data.participants[id]
	if !ok {
		return nil, repository.ErrParticipantNotFound
	}
	return &p, nil
}

func (r participantRepo) FindByRoomAndUser(ctx context.Context, roomID uint, userID string) (*domain.Participant, error) {
	defer r.st.lock()()
	for _, p := range r.st.s.data.participants {
		if p.RoomID == roomID && p.UserID == userID {
			found := p
			return &found, nil
		}
	}
	return nil, repository.ErrParticipantNotFound
}

func (r participantRepo) ListLive(ctx context.Context, roomID uint) ([]domain.Participant, error) {
	defer r.st.lock()()
	var out []domain.Participant
	for _, p := range r.st.s.data.participants {
		if p.RoomID == roomID && p.LeftAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r participantRepo) Touch(ctx context.Context, id uint, at time.Time) error {
	defer r.st.lock()()
	t := r.st.s.data
	p, ok := t.participants[id]
	if !ok {
		return repository.ErrParticipantNotFound
	}
	p.LastSeenAt = at
	t.participants[id] = p
	return nil
}

type roundRepo struct{ st *Store }

func (r roundRepo) Create(ctx context.Context, round *domain.Round) error {
	defer r.st.lock()()
	t := r.st.s.data
	round.ID = t.id("rounds")
	t.rounds[round.ID] = *round
	return nil
}

func (r roundRepo) Save(ctx context.Context, round *domain.Round) error {
	defer r.st.lock()()
	t := r.st.s.data
	if _, ok := t.rounds[round.ID]; !ok {
		return repository.ErrRoundNotFound
	}
	t.rounds[round.ID] = *round
	return nil
}

func (r roundRepo) FindLatest(ctx context.Context, roomID uint) (*domain.Round, error) {
	defer r.st.lock()()
	var latest *domain.Round
	for _, round := range r.st.s.data.rounds {
		if round.RoomID != roomID {
			continue
		}
		if latest == nil || round.StartedAt.After(latest.StartedAt) ||
			(round.StartedAt.Equal(latest.StartedAt) && round.ID > latest.ID) {
			candidate := round
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, repository.ErrRoundNotFound
	}
	return latest, nil
}

func (r roundRepo) ListByRoom(ctx context.Context, roomID uint) ([]domain.Round, error) {
	defer r.st.lock()()
	var out []domain.Round
	for _, round := range r.st.s.data.rounds {
		if round.RoomID == roomID {
			out = append(out, round)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r roundRepo) ArchiveOpen(ctx context.Context, roomID uint, at time.Time) error {
	defer r.st.lock()()
	t := r.st.s.data
	for id, round := range t.rounds {
		if round.RoomID != roomID || round.Status == domain.RoundArchived {
			continue
		}
		round.Status = domain.RoundArchived
		if round.EndedAt == nil {
			ended := at
			round.EndedAt = &ended
		}
		t.rounds[id] = round
	}
	return nil
}

type voteRepo struct{ st *Store }

func (r voteRepo) Upsert(ctx context.Context, vote *domain.Vote) error {
	defer r.st.lock()()
	t := r.st.s.data
	now := vote.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	for id, existing := range t.votes {
		if existing.ParticipantID == vote.ParticipantID && existing.RoundID == vote.RoundID {
			existing.Value = vote.Value
			existing.UpdatedAt = now
			t.votes[id] = existing
			*vote = existing
			return nil
		}
	}
	vote.ID = t.id("votes")
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = now
	}
	vote.UpdatedAt = now
	t.votes[vote.ID] = *vote
	return nil
}

func (r voteRepo) ListByRound(ctx context.Context, roundID uint) ([]domain.Vote, error) {
	defer r.st.lock()()
	var out []domain.Vote
	for _, v := range r.st.s.data.votes {
		if v.RoundID == roundID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
