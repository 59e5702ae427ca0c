package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize  = 64
	relayBufferSize = 512
)

type participantKey struct {
	code          string
	participantID uint
}

type identityKey struct {
	code   string
	userID string
}

// relayMessage 在实例之间转发的房间信号
type relayMessage struct {
	Origin        string            `json:"origin"`
	Kind          string            `json:"kind"`
	Code          string            `json:"code"`
	ParticipantID uint              `json:"participantId,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	Frames        []json.RawMessage `json:"frames,omitempty"`
}

const (
	relayPublish    = "publish"
	relayDetach     = "detach"
	relayDisconnect = "disconnect"
)

// Hub 是广播协调器：维护连接注册表、每个房间的订阅集合，
// 以及 (房间, 参与者) 与 (房间, 用户) 到连接的反向索引，用于定向断开。
type Hub struct {
	mu            sync.RWMutex
	clients       map[*Client]struct{}
	rooms         map[string]map[*Client]struct{}
	byParticipant map[participantKey]map[*Client]struct{}
	byIdentity    map[identityKey]map[*Client]struct{}

	bus      repository.RoomBus // 可为 nil，此时只做本实例内广播
	origin   string
	relayIn  chan relayMessage
	stopOnce sync.Once
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(bus repository.RoomBus) *Hub {
	return &Hub{
		clients:       make(map[*Client]struct{}),
		rooms:         make(map[string]map[*Client]struct{}),
		byParticipant: make(map[participantKey]map[*Client]struct{}),
		byIdentity:    make(map[identityKey]map[*Client]struct{}),
		bus:           bus,
		origin:        uuid.NewString(),
		relayIn:       make(chan relayMessage, relayBufferSize),
	}
}

// Run 订阅跨实例频道并处理收到的信号，直到 ctx 结束。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run(ctx context.Context) {
	log := logrus.WithField("component", "hub")
	if h.bus == nil {
		log.Info("Hub running without relay")
		<-ctx.Done()
		return
	}

	go func() {
		err := h.bus.Subscribe(ctx, func(code string, payload []byte) {
			var msg relayMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.WithError(err).WithField("room_code", code).Warn("Dropping malformed relay message")
				return
			}
			if msg.Origin == h.origin {
				return
			}
			select {
			case h.relayIn <- msg:
			default:
				log.WithField("room_code", code).Warn("Relay channel full, dropping message")
			}
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Relay subscription stopped")
		}
	}()

	log.Info("Hub is running...")
	for {
		select {
		case <-ctx.Done():
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.relayIn:
			h.applyRelay(msg)
		}
	}
}

func (h *Hub) applyRelay(msg relayMessage) {
	switch msg.Kind {
	case relayPublish:
		frames := make([][]byte, len(msg.Frames))
		for i, f := range msg.Frames {
			frames[i] = f
		}
		h.deliver(msg.Code, frames)
	case relayDetach:
		h.detachLocal(msg.Code, msg.ParticipantID)
	case relayDisconnect:
		h.disconnectLocal(msg.Code, msg.ParticipantID, msg.UserID)
	default:
		logrus.WithField("kind", msg.Kind).Warn("Hub: Received unknown relay message kind")
	}
}

// Register 登记新连接 (尚未绑定房间)
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	c.logCtx().Info("Client registered to Hub")
}

// Unregister 注销连接并关闭其发送通道，返回注销前的绑定
func (h *Hub) Unregister(c *Client) (code string, participantID uint) {
	h.mu.Lock()
	delete(h.clients, c)
	code, participantID = c.roomCode, c.participantID
	h.unbindLocked(c)
	h.mu.Unlock()

	c.closeSend()
	c.logCtx().WithField("room_code", code).Info("Client unregistered from Hub")
	return code, participantID
}

// Bind 将连接绑定到房间中的参与者并订阅房间频道。已绑定的连接先解除旧绑定。
// 连接已注销时返回 false。
func (h *Hub) Bind(c *Client, code string, participantID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	h.unbindLocked(c)

	c.roomCode, c.participantID = code, participantID
	addTo(h.rooms, code, c)
	addTo(h.byParticipant, participantKey{code, participantID}, c)
	addTo(h.byIdentity, identityKey{code, c.identity.UserID}, c)

	c.logCtx().WithFields(logrus.Fields{"room_code": code, "participant_id": participantID}).Debug("Client bound to participant")
	return true
}

// Unbind 解除连接的房间绑定，连接保持打开
func (h *Hub) Unbind(c *Client) {
	h.mu.Lock()
	h.unbindLocked(c)
	h.mu.Unlock()
}

func (h *Hub) unbindLocked(c *Client) {
	if c.roomCode == "" {
		return
	}
	removeFrom(h.rooms, c.roomCode, c)
	removeFrom(h.byParticipant, participantKey{c.roomCode, c.participantID}, c)
	removeFrom(h.byIdentity, identityKey{c.roomCode, c.identity.UserID}, c)
	c.roomCode, c.participantID = "", 0
}

// Publish 把事件推送给房间内所有已绑定的连接，并转发给其他实例。
// 接收者集合在发布时刻确定；单个慢连接不会阻塞其他连接。
func (h *Hub) Publish(ctx context.Context, code string, events ...domain.Event) {
	frames := make([][]byte, 0, len(events))
	raw := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"room_code": code, "event": ev.Type}).Error("Failed to marshal event for broadcast")
			continue
		}
		frames = append(frames, data)
		raw = append(raw, data)
	}
	if len(frames) == 0 {
		return
	}
	h.deliver(code, frames)
	h.relay(ctx, relayMessage{Kind: relayPublish, Code: code, Frames: raw})
}

// Detach 解除参与者所有连接的房间绑定
func (h *Hub) Detach(ctx context.Context, code string, participantID uint) {
	h.detachLocal(code, participantID)
	h.relay(ctx, relayMessage{Kind: relayDetach, Code: code, ParticipantID: participantID})
}

// Disconnect 强制断开与参与者 ID 或用户身份匹配的全部连接。连接已不存在时什么也不做。
func (h *Hub) Disconnect(ctx context.Context, code string, participantID uint, userID string) {
	h.disconnectLocal(code, participantID, userID)
	h.relay(ctx, relayMessage{Kind: relayDisconnect, Code: code, ParticipantID: participantID, UserID: userID})
}

func (h *Hub) deliver(code string, frames [][]byte) {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[code]))
	for c := range h.rooms[code] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	if len(recipients) == 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"room_code":       code,
		"recipient_count": len(recipients),
		"frame_count":     len(frames),
	}).Debug("Broadcasting to room")

	for _, c := range recipients {
		for _, f := range frames {
			c.trySend(f)
		}
	}
}

func (h *Hub) detachLocal(code string, participantID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byParticipant[participantKey{code, participantID}] {
		h.unbindLocked(c)
	}
}

func (h *Hub) disconnectLocal(code string, participantID uint, userID string) {
	h.mu.Lock()
	targets := make(map[*Client]struct{})
	for c := range h.byParticipant[participantKey{code, participantID}] {
		targets[c] = struct{}{}
	}
	if userID != "" {
		for c := range h.byIdentity[identityKey{code, userID}] {
			targets[c] = struct{}{}
		}
	}
	for c := range targets {
		h.unbindLocked(c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	kicked, _ := encodeEvent(domain.Event{Type: domain.EventKicked, Payload: domain.KickedPayload{RoomCode: code}})
	for c := range targets {
		c.trySend(kicked)
		c.closeSend()
	}
	logrus.WithFields(logrus.Fields{
		"room_code":        code,
		"participant_id":   participantID,
		"connection_count": len(targets),
	}).Info("Disconnected kicked participant connections")
}

func (h *Hub) relay(ctx context.Context, msg relayMessage) {
	if h.bus == nil {
		return
	}
	msg.Origin = h.origin
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal relay message")
		return
	}
	if err := h.bus.Publish(ctx, msg.Code, data); err != nil {
		logrus.WithError(err).WithField("room_code", msg.Code).Warn("Failed to relay room message")
	}
}

// CloseAll 关闭所有连接的发送通道 (服务关闭时调用)
func (h *Hub) CloseAll() {
	h.stopOnce.Do(func() {
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()
		for _, c := range clients {
			c.closeSend()
		}
		logrus.WithField("client_count", len(clients)).Info("Hub closed all client connections")
	})
}

// RoomSize 返回房间内已绑定的连接数
func (h *Hub) RoomSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// ParticipantConnections 返回绑定到参与者的连接数
func (h *Hub) ParticipantConnections(code string, participantID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byParticipant[participantKey{code, participantID}])
}

func addTo[K comparable](index map[K]map[*Client]struct{}, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom[K comparable](index map[K]map[*Client]struct{}, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return json.Marshal(ev)
}
