package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/dto"
	"planning-poker/internal/middleware"
	"planning-poker/internal/service"
)

// RoomHandler 封装了房间与会话相关的 HTTP 处理逻辑
type RoomHandler struct {
	rooms    *service.RoomService
	session  *service.SessionService
	presence *service.PresenceService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(rooms *service.RoomService, session *service.SessionService, presence *service.PresenceService) *RoomHandler {
	return &RoomHandler{rooms: rooms, session: session, presence: presence}
}

// MembershipResponse 创建或加入房间的响应结构体
type MembershipResponse struct {
	Room        *domain.RoomView              `json:"room,omitempty"`
	Participant domain.ParticipantSelfPayload `json:"participant"`
	Snapshot    *domain.Snapshot              `json:"snapshot"`
}

func newMembershipResponse(m *service.Membership) MembershipResponse {
	return MembershipResponse{
		Participant: domain.ParticipantSelfPayload{
			ParticipantID: m.Participant.ID,
			RoomCode:      m.Room.Code,
			IsOwner:       m.Participant.IsOwner,
		},
		Snapshot: m.Snapshot,
	}
}

// identity 读取认证身份；缺失时写出 401 并返回 false
func identity(c *gin.Context) (domain.Identity, bool) {
	who, ok := middleware.CurrentIdentity(c)
	if !ok {
		logrus.WithField("path", c.FullPath()).Warn("Handler: Identity not found in context, middleware missing or failed?")
		HandleServiceError(c, service.ErrUnauthorized)
		return domain.Identity{}, false
	}
	return who, true
}

// CreateRoom 处理创建新房间的请求，调用者成为房主
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).WithField("user_id", who.UserID).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, string(service.CodeInvalidArgument), "name and deckType are required")
		return
	}

	m, err := h.rooms.CreateRoom(c.Request.Context(), who, service.CreateRoomInput{
		Name:        req.Name,
		DeckType:    domain.DeckType(req.DeckType),
		DisplayName: req.DisplayName,
		Settings:    req.Settings,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"user_id": who.UserID, "room_code": m.Room.Code}).Info("Handler.CreateRoom: Room created successfully")
	resp := newMembershipResponse(m)
	resp.Room = &m.Snapshot.Room
	SuccessResponse(c, http.StatusCreated, resp)
}

// JoinRoom 处理加入房间的请求 (幂等)
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req dto.JoinRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, string(service.CodeInvalidArgument), "invalid request body")
			return
		}
	}

	m, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("code"), who, req.DisplayName)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newMembershipResponse(m))
}

// GetRoom 返回房间当前快照
func (h *RoomHandler) GetRoom(c *gin.Context) {
	snap, err := h.rooms.GetSnapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, snap)
}

// LeaveRoom 处理离开房间；房主离开时可指定接任者
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req dto.LeaveRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, string(service.CodeInvalidArgument), "invalid request body")
			return
		}
	}

	snap, err := h.session.Leave(c.Request.Context(), c.Param("code"), who, req.TransferTo)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, snap)
}

// TransferOwner 处理房主转让
func (h *RoomHandler) TransferOwner(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var req dto.TransferOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, string(service.CodeInvalidArgument), "targetParticipantId is required")
		return
	}

	snap, err := h.session.TransferOwner(c.Request.Context(), c.Param("code"), who, req.TargetParticipantID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, snap)
}

// Heartbeat 刷新调用者在房间内的在线状态
func (h *RoomHandler) Heartbeat(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	if err := h.presence.Touch(c.Request.Context(), c.Param("code"), who); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes 在需要认证的路由组上注册房间路由
func (h *RoomHandler) RegisterRoutes(g *gin.RouterGroup) {
	rooms := g.Group("/rooms")
	rooms.POST("", h.CreateRoom)
	rooms.GET("/:code", h.GetRoom)
	rooms.POST("/:code/join", h.JoinRoom)
	rooms.POST("/:code/leave", h.LeaveRoom)
	rooms.POST("/:code/transfer", h.TransferOwner)
	rooms.POST("/:code/presence", h.Heartbeat)
}
