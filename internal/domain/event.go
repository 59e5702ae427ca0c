package domain

// 客户端 -> 服务端事件
const (
	EventJoinRoom        = "join_room"
	EventStartVoting     = "start_voting"
	EventVote            = "vote"
	EventReveal          = "reveal"
	EventReset           = "reset"
	EventLeaveRoom       = "leave_room"
	EventTransferOwner   = "transfer_owner"
	EventKickParticipant = "kick_participant"
	EventHeartbeat       = "heartbeat"
)

// 服务端 -> 客户端事件
const (
	EventRoomState       = "room_state"
	EventParticipantSelf = "participant_self"
	EventVotingStarted   = "voting_started"
	EventVoteCastAck     = "vote_cast_ack"
	EventRevealed        = "revealed"
	EventResetDone       = "reset_done"
	EventKicked          = "kicked"
	EventError           = "error"
)

// Event 是实时通道上的消息信封
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ParticipantSelfPayload 告知连接它绑定到了哪个参与者
type ParticipantSelfPayload struct {
	ParticipantID uint   `json:"participantId"`
	RoomCode      string `json:"roomCode"`
	IsOwner       bool   `json:"isOwner"`
}

// RevealedPayload 揭晓事件的便捷载荷
type RevealedPayload struct {
	Round   RoundInfo  `json:"round"`
	Votes   []VoteView `json:"votes"`
	Average *float64   `json:"average"`
}

// RoundPayload 携带单个轮次视图
type RoundPayload struct {
	Round RoundView `json:"round"`
}

// VoteCastAckPayload 投票确认
type VoteCastAckPayload struct {
	RoundID uint `json:"roundId"`
}

// KickedPayload 被踢出的通知
type KickedPayload struct {
	RoomCode string `json:"roomCode"`
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomStateEvent 包装完整快照
func RoomStateEvent(snap *Snapshot) Event {
	return Event{Type: EventRoomState, Payload: snap}
}

// RevealedEvent 从已揭晓的快照生成 revealed 事件；轮次未揭晓时 ok 为 false
func RevealedEvent(snap *Snapshot) (Event, bool) {
	r, ok := snap.Round.(RevealedRound)
	if !ok {
		return Event{}, false
	}
	votes := r.Votes
	if votes == nil {
		votes = []VoteView{}
	}
	return Event{Type: EventRevealed, Payload: RevealedPayload{Round: r.RoundInfo, Votes: votes, Average: r.Average}}, true
}

// ErrorEvent 构建错误事件
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}}
}
