package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
)

// Conn 是 Client 使用的 WebSocket 连接能力，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// MessageHandler 处理客户端上行消息。HandleMessage 在读协程中同步调用，
// 因此同一连接的事件按到达顺序处理。
type MessageHandler interface {
	HandleMessage(c *Client, raw []byte)
	HandleClose(c *Client)
}

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	id       string
	hub      *Hub
	conn     Conn
	identity domain.Identity
	handler  MessageHandler

	sendMu sync.Mutex
	send   chan []byte // 用于向此客户端发送消息的缓冲通道
	closed bool

	// 以下字段由 hub.mu 保护
	roomCode      string
	participantID uint
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn Conn, identity domain.Identity, handler MessageHandler) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		identity: identity,
		handler:  handler,
		send:     make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Identity() domain.Identity { return c.identity }

// Binding 返回连接当前绑定的房间码与参与者 ID，未绑定时 code 为空
func (c *Client) Binding() (code string, participantID uint) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.roomCode, c.participantID
}

// Send 序列化事件并放入发送队列 (非阻塞)
func (c *Client) Send(ev domain.Event) bool {
	data, err := encodeEvent(ev)
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to marshal event")
		return false
	}
	return c.trySend(data)
}

// trySend 非阻塞入队；通道已关闭或已满时丢弃
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logCtx().Warn("Client send channel full, dropping message")
		return false
	}
}

// closeSend 关闭发送通道，WritePump 写完剩余消息后发送关闭帧并退出。可重复调用。
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 从连接读取消息并交给 handler，退出时通知 handler 清理。
func (c *Client) ReadPump() {
	defer func() {
		c.handler.HandleClose(c)
		c.closeSend()
		c.conn.Close()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.handler.HandleMessage(c, message)
	}
}

// WritePump 将 send 通道中的消息写入连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被关闭 (注销或被踢出)
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Debug("Failed to send ping message")
				return
			}
		}
	}
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"client_id": c.id, "user_id": c.identity.UserID})
}
