package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Snapshot 是房间的完整规范化视图：在场参与者 + 当前轮次。
// 每次变更后整体重建并推送，接收方用它完全替换本地视图。
type Snapshot struct {
	Room         RoomView          `json:"room"`
	Participants []ParticipantView `json:"participants"`
	Round        RoundView         `json:"round"` // 房间尚无轮次时为 null
}

// HasParticipant 判断参与者是否在场
func (s *Snapshot) HasParticipant(id uint) bool {
	for _, p := range s.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// RoomView 房间信息
type RoomView struct {
	ID       uint                   `json:"id"`
	Code     string                 `json:"code"`
	Name     string                 `json:"name"`
	DeckType DeckType               `json:"deckType"`
	Cards    []string               `json:"cards"`
	Settings map[string]interface{} `json:"settings"`
}

// ParticipantView 参与者信息
type ParticipantView struct {
	ID          uint      `json:"id"`
	DisplayName string    `json:"displayName"`
	IsOwner     bool      `json:"isOwner"`
	IsOnline    bool      `json:"isOnline"`
	HasVoted    bool      `json:"hasVoted"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// RoundInfo 是所有轮次视图共有的字段
type RoundInfo struct {
	ID        uint        `json:"id"`
	Status    RoundStatus `json:"status"`
	StoryID   *string     `json:"storyId"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   *time.Time  `json:"endedAt"`
}

// RoundView 是当前轮次的标签联合：PendingRound | VotingRound | RevealedRound。
type RoundView interface {
	Info() RoundInfo
	isRoundView()
}

// PendingRound 等待开始投票的轮次
type PendingRound struct {
	RoundInfo
}

// VotingRound 投票进行中，只暴露已投票的参与者集合，不暴露票面
type VotingRound struct {
	RoundInfo
	Voted map[uint]struct{}
}

// RevealedRound 已揭晓，带全部投票及平均值 (无数值票时 Average 为 nil)
type RevealedRound struct {
	RoundInfo
	Votes   []VoteView
	Average *float64
}

// VoteView 揭晓后的单张投票
type VoteView struct {
	ParticipantID uint   `json:"participantId"`
	RoundID       uint   `json:"roundId"`
	Value         string `json:"value"`
}

func (r PendingRound) Info() RoundInfo  { return r.RoundInfo }
func (r VotingRound) Info() RoundInfo   { return r.RoundInfo }
func (r RevealedRound) Info() RoundInfo { return r.RoundInfo }

func (PendingRound) isRoundView()  {}
func (VotingRound) isRoundView()   {}
func (RevealedRound) isRoundView() {}

func (r PendingRound) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.RoundInfo)
}

func (r VotingRound) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RoundInfo
		VotedCount int `json:"votedCount"`
	}{r.RoundInfo, len(r.Voted)})
}

func (r RevealedRound) MarshalJSON() ([]byte, error) {
	votes := r.Votes
	if votes == nil {
		votes = []VoteView{}
	}
	return json.Marshal(struct {
		RoundInfo
		Votes   []VoteView `json:"votes"`
		Average *float64   `json:"average"`
	}{r.RoundInfo, votes, r.Average})
}

// NewSnapshot 由存储中读取的数据构建快照。
// participants 须为在场参与者并已按加入时间排序；round 为最新一轮 (可为 nil)，votes 为该轮的投票。
func NewSnapshot(room *Room, participants []Participant, round *Round, votes []Vote, now time.Time, grace time.Duration) *Snapshot {
	snap := &Snapshot{
		Room: RoomView{
			ID:       room.ID,
			Code:     room.Code,
			Name:     room.Name,
			DeckType: room.DeckType,
			Cards:    room.DeckType.Cards(),
			Settings: room.Settings,
		},
		Participants: make([]ParticipantView, 0, len(participants)),
	}
	if snap.Room.Settings == nil {
		snap.Room.Settings = map[string]interface{}{}
	}

	voted := make(map[uint]struct{}, len(votes))
	if round != nil && round.Status == RoundVoting {
		for _, v := range votes {
			voted[v.ParticipantID] = struct{}{}
		}
	}

	for i := range participants {
		p := &participants[i]
		_, hasVoted := voted[p.ID]
		snap.Participants = append(snap.Participants, ParticipantView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsOwner:     p.IsOwner,
			IsOnline:    p.IsOnline(now, grace),
			HasVoted:    hasVoted,
			JoinedAt:    p.JoinedAt,
		})
	}

	if round != nil {
		snap.Round = newRoundView(round, votes, voted)
	}
	return snap
}

func newRoundView(round *Round, votes []Vote, voted map[uint]struct{}) RoundView {
	info := RoundInfo{
		ID:        round.ID,
		Status:    round.Status,
		StoryID:   round.StoryID,
		StartedAt: round.StartedAt,
		EndedAt:   round.EndedAt,
	}
	switch round.Status {
	case RoundVoting:
		return VotingRound{RoundInfo: info, Voted: voted}
	case RoundRevealed:
		views := make([]VoteView, 0, len(votes))
		values := make([]string, 0, len(votes))
		for _, v := range votes {
			views = append(views, VoteView{ParticipantID: v.ParticipantID, RoundID: v.RoundID, Value: v.Value})
			values = append(values, v.Value)
		}
		return RevealedRound{RoundInfo: info, Votes: views, Average: Average(values)}
	default:
		return PendingRound{RoundInfo: info}
	}
}

// Average 计算可解析为有限数值的票面的平均值，保留两位小数。
// 非数值票 (如 "?") 不参与计算；没有任何数值票时返回 nil。
func Average(values []string) *float64 {
	// 逐步更新均值而不是先求和，极大票面不会溢出
	var mean float64
	var n int
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			continue
		}
		n++
		mean += f/float64(n) - mean/float64(n)
	}
	if n == 0 || math.IsInf(mean, 0) || math.IsNaN(mean) {
		return nil
	}
	avg := mean
	if scaled := mean * 100; !math.IsInf(scaled, 0) {
		avg = math.Round(scaled) / 100
	}
	return &avg
}
