package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/dto"
	"planning-poker/internal/hub"
	"planning-poker/internal/middleware"
	"planning-poker/internal/service"
)

const defaultEventTimeout = 10 * time.Second

var (
	errNotJoined      = &service.Error{Code: service.CodeNotFound, Message: "join a room first"}
	errNoLongerInRoom = &service.Error{Code: service.CodeNotFound, Message: "participant is no longer in the room"}
)

// WebSocketHandler 负责 WebSocket 升级、连接认证以及上行事件分发
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	verifier middleware.TokenVerifier
	rooms    *service.RoomService
	session  *service.SessionService
	presence *service.PresenceService
	timeout  time.Duration
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空或 "*" 时允许所有来源。
func NewWebSocketHandler(h *hub.Hub, verifier middleware.TokenVerifier, rooms *service.RoomService,
	session *service.SessionService, presence *service.PresenceService, allowedOrigin string) *WebSocketHandler {
	if h == nil || verifier == nil || rooms == nil || session == nil || presence == nil {
		panic("all dependencies are required for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		verifier: verifier,
		rooms:    rooms,
		session:  session,
		presence: presence,
		timeout:  defaultEventTimeout,
	}
}

// HandleConnection 处理 WebSocket 连接请求。
// 令牌来自查询参数 token 或 Authorization 头；认证失败时发送 error 事件后关闭连接。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 方法会自动发送 HTTP 错误响应，所以这里只需要记录日志
		logrus.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}

	token := c.Query("token")
	if token == "" {
		token, _ = middleware.ExtractBearerToken(c.GetHeader("Authorization"))
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		logrus.WithError(err).Warn("WS Handler: Rejecting unauthenticated connection")
		code, msg := service.Describe(service.ErrUnauthorized)
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteJSON(domain.ErrorEvent(string(code), msg))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		conn.Close()
		return
	}

	client := hub.NewClient(h.hub, conn, identity, h)
	h.hub.Register(client)
	client.Run()
	logrus.WithFields(logrus.Fields{"user_id": identity.UserID, "client_id": client.ID()}).Info("WS Handler: Client connected")
}

// HandleMessage 解析并分发单条上行事件，失败时向该连接私发 error 事件
func (h *WebSocketHandler) HandleMessage(c *hub.Client, raw []byte) {
	var in dto.InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		c.Send(domain.ErrorEvent(string(service.CodeInvalidArgument), "malformed event envelope"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.dispatch(ctx, c, in); err != nil {
		code, msg := service.Describe(err)
		logCtx := logrus.WithFields(logrus.Fields{"user_id": c.Identity().UserID, "event": in.Type, "code": code})
		if code == service.CodeInternal {
			logCtx.WithError(err).Error("WS Handler: Event failed")
		} else {
			logCtx.WithError(err).Debug("WS Handler: Event rejected")
		}
		c.Send(domain.ErrorEvent(string(code), msg))
	}
}

// HandleClose 在读协程退出时调用：注销连接，并在其曾绑定房间时刷新在线状态
func (h *WebSocketHandler) HandleClose(c *hub.Client) {
	code, participantID := h.hub.Unregister(c)
	if code == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		h.presence.Dropped(ctx, code, participantID)
	}()
}

func (h *WebSocketHandler) dispatch(ctx context.Context, c *hub.Client, in dto.InboundEvent) error {
	if in.Type == domain.EventJoinRoom {
		return h.joinRoom(ctx, c, in)
	}

	code, participantID := c.Binding()
	if code == "" {
		if in.Type == domain.EventHeartbeat {
			return nil
		}
		return errNotJoined
	}
	if err := h.presence.TouchParticipant(ctx, code, participantID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_code": code, "participant_id": participantID}).Debug("WS Handler: Presence touch failed")
	}

	who := c.Identity()
	switch in.Type {
	case domain.EventHeartbeat:
		return nil

	case domain.EventStartVoting:
		var p dto.StartVotingPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		snap, err := h.session.StartVoting(ctx, code, who, p.StoryID)
		if err != nil {
			return err
		}
		c.Send(domain.Event{Type: domain.EventVotingStarted, Payload: domain.RoundPayload{Round: snap.Round}})
		return nil

	case domain.EventVote:
		var p dto.VotePayload
		if err := decode(in, &p); err != nil {
			return err
		}
		snap, err := h.session.CastVote(ctx, code, who, p.Value)
		if err != nil {
			return err
		}
		c.Send(domain.Event{Type: domain.EventVoteCastAck, Payload: domain.VoteCastAckPayload{RoundID: snap.Round.Info().ID}})
		return nil

	case domain.EventReveal:
		_, err := h.session.Reveal(ctx, code, who)
		return err

	case domain.EventReset:
		_, err := h.session.Reset(ctx, code, who)
		return err

	case domain.EventLeaveRoom:
		var p dto.LeaveRoomPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		if _, err := h.session.Leave(ctx, code, who, p.TransferTo); err != nil {
			return err
		}
		h.hub.Unbind(c)
		return nil

	case domain.EventTransferOwner:
		var p dto.TargetPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		_, err := h.session.TransferOwner(ctx, code, who, p.TargetParticipantID)
		return err

	case domain.EventKickParticipant:
		var p dto.TargetPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		_, err := h.session.KickParticipant(ctx, code, who, p.TargetParticipantID)
		return err

	default:
		return fmt.Errorf("%w: unknown event type %q", service.ErrInvalidArgument, in.Type)
	}
}

// joinRoom 加入房间并绑定连接，随后私发 participant_self 与当前快照
func (h *WebSocketHandler) joinRoom(ctx context.Context, c *hub.Client, in dto.InboundEvent) error {
	var p dto.JoinRoomPayload
	if err := decode(in, &p); err != nil {
		return err
	}
	m, err := h.rooms.JoinRoom(ctx, p.Code, c.Identity(), p.DisplayName)
	if err != nil {
		return err
	}
	if !h.hub.Bind(c, m.Room.Code, m.Participant.ID) {
		// 连接已关闭
		return nil
	}

	// JoinRoom 提交到 Bind 之间参与者可能已被踢出或离开，此时 Disconnect/Detach 找不到本连接。
	// 绑定后重新读取快照：之后提交的踢出一定能看到这条绑定。
	snap, err := h.rooms.GetSnapshot(ctx, m.Room.Code)
	if err != nil {
		h.hub.Unbind(c)
		return err
	}
	if !snap.HasParticipant(m.Participant.ID) {
		h.hub.Unbind(c)
		logrus.WithFields(logrus.Fields{
			"room_code":      m.Room.Code,
			"participant_id": m.Participant.ID,
		}).Warn("WS Handler: Participant left the room before binding completed")
		return errNoLongerInRoom
	}

	c.Send(domain.Event{Type: domain.EventParticipantSelf, Payload: domain.ParticipantSelfPayload{
		ParticipantID: m.Participant.ID,
		RoomCode:      m.Room.Code,
		IsOwner:       m.Participant.IsOwner,
	}})
	// 绑定前的广播不会到达本连接，这里补发最新快照
	c.Send(domain.RoomStateEvent(snap))
	return nil
}

func decode(in dto.InboundEvent, v interface{}) error {
	if err := in.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed %s payload", service.ErrInvalidArgument, in.Type)
	}
	return nil
}
