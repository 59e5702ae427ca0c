package repository

import "context"

// RoomBus 在多个服务实例之间转发房间级消息 (例如 Redis Pub/Sub)。
type RoomBus interface {
	// Publish 向房间频道发布一条消息
	Publish(ctx context.Context, code string, payload []byte) error
	// Subscribe 订阅所有房间频道并对每条消息调用 handle，阻塞直到 ctx 结束。
	Subscribe(ctx context.Context, handle func(code string, payload []byte)) error
}
