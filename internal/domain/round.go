package domain

import "time"

// RoundStatus 表示一轮投票的状态
type RoundStatus string

const (
	RoundPending  RoundStatus = "pending"
	RoundVoting   RoundStatus = "voting"
	RoundRevealed RoundStatus = "revealed"
	RoundArchived RoundStatus = "archived"
)

// IsOpen 报告该状态是否占用房间的 "活动轮次" 名额
func (s RoundStatus) IsOpen() bool {
	return s == RoundPending || s == RoundVoting
}

// Round 是房间内的一轮投票。轮次只会前进或归档，不会被删除。
// pending -> voting -> revealed，新轮次开启时任何未归档的轮次都会变为 archived。
type Round struct {
	ID        uint        `gorm:"primaryKey"`
	RoomID    uint        `gorm:"index:idx_round_room_started;not null"`
	StoryID   *string     `gorm:"size:128"`
	Status    RoundStatus `gorm:"size:16;index;not null"`
	StartedAt time.Time   `gorm:"index:idx_round_room_started;not null"`
	EndedAt   *time.Time
}

// CanAcceptVotes 只有处于 voting 状态的轮次可以接收投票
func (r *Round) CanAcceptVotes() bool {
	return r.Status == RoundVoting
}

// CanReveal 只有处于 voting 状态的轮次可以揭晓
func (r *Round) CanReveal() bool {
	return r.Status == RoundVoting
}

// Vote 是参与者在某一轮中的投票，(ParticipantID, RoundID) 唯一。
type Vote struct {
	ID            uint      `gorm:"primaryKey"`
	RoundID       uint      `gorm:"uniqueIndex:idx_vote_participant_round;index;not null"`
	ParticipantID uint      `gorm:"uniqueIndex:idx_vote_participant_round;not null"`
	Value         string    `gorm:"size:32;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}
