package dto

// GuestLoginRequest 访客登录请求体
type GuestLoginRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// CreateRoomRequest 创建房间请求体
type CreateRoomRequest struct {
	Name        string                 `json:"name" binding:"required"`
	DeckType    string                 `json:"deckType" binding:"required"`
	DisplayName string                 `json:"displayName"`
	Settings    map[string]interface{} `json:"settings"`
}

type JoinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

type LeaveRoomRequest struct {
	TransferTo *uint `json:"transferTo"`
}

type TransferOwnerRequest struct {
	TargetParticipantID uint `json:"targetParticipantId" binding:"required"`
}
