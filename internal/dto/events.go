package dto

import "encoding/json"

// InboundEvent 表示从客户端 WebSocket 消息中接收的事件信封
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoomPayload join_room 事件载荷
type JoinRoomPayload struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName,omitempty"`
}

type StartVotingPayload struct {
	StoryID *string `json:"storyId,omitempty"`
}

type VotePayload struct {
	Value string `json:"value"`
}

type LeaveRoomPayload struct {
	TransferTo *uint `json:"transferTo,omitempty"`
}

// TargetPayload transfer_owner / kick_participant 事件载荷
type TargetPayload struct {
	TargetParticipantID uint `json:"targetParticipantId"`
}

// Decode 将载荷解析到 v；空载荷视为 {}
func (e InboundEvent) Decode(v interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
