package domain

import "time"

// DefaultPresenceGrace 是在线判定的默认宽限时间
const DefaultPresenceGrace = 30 * time.Second

// QuorumSize 是开始投票所需的最少在线参与者数
const QuorumSize = 2

// Participant 将外部身份绑定到房间。离开时只设置 LeftAt (软删除)，从不物理删除。
type Participant struct {
	ID          uint       `gorm:"primaryKey"`
	RoomID      uint       `gorm:"uniqueIndex:idx_participant_room_user;not null"`
	UserID      string     `gorm:"uniqueIndex:idx_participant_room_user;size:64;not null"`
	DisplayName string     `gorm:"size:32;not null"`
	IsOwner     bool       `gorm:"not null"`
	JoinedAt    time.Time  `gorm:"not null"`
	LastSeenAt  time.Time  `gorm:"index;not null"`
	LeftAt      *time.Time `gorm:"index"`
}

// IsLive 判断参与者是否仍在房间中
func (p *Participant) IsLive() bool {
	return p.LeftAt == nil
}

// IsOnline 判断参与者在 now 时刻是否在线。在线状态只在查询时推导，不做持久化。
func (p *Participant) IsOnline(now time.Time, grace time.Duration) bool {
	return p.IsLive() && now.Sub(p.LastSeenAt) <= grace
}

// CountOnline 统计列表中在线的参与者数量
func CountOnline(participants []Participant, now time.Time, grace time.Duration) int {
	n := 0
	for i := range participants {
		if participants[i].IsOnline(now, grace) {
			n++
		}
	}
	return n
}
