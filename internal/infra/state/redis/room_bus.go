package redisstate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisRoomBus 是 repository.RoomBus 的 Redis Pub/Sub 实现，
// 用于在多个服务实例之间转发房间广播与断开信号。
type RedisRoomBus struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRoomBus 创建 RedisRoomBus 实例
func NewRedisRoomBus(client *redis.Client, keyPrefix string) *RedisRoomBus {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomBus")
	}
	if keyPrefix == "" {
		keyPrefix = "pp:"
	}
	return &RedisRoomBus{client: client, keyPrefix: keyPrefix}
}

func (b *RedisRoomBus) channelPrefix() string {
	return b.keyPrefix + "room:"
}

func (b *RedisRoomBus) roomChannel(code string) string {
	return b.channelPrefix() + code
}

// Publish 将消息发布到房间频道
func (b *RedisRoomBus) Publish(ctx context.Context, code string, payload []byte) error {
	channel := b.roomChannel(code)
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"room_code": code, "channel": channel}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe 按模式订阅所有房间频道，阻塞直到 ctx 结束或订阅被关闭
func (b *RedisRoomBus) Subscribe(ctx context.Context, handle func(code string, payload []byte)) error {
	pattern := b.channelPrefix() + "*"
	pubsub := b.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// 等待订阅确认，确保之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: failed to psubscribe %s: %w", pattern, err)
	}
	logrus.WithField("pattern", pattern).Info("Subscribed to room relay channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			code := strings.TrimPrefix(msg.Channel, b.channelPrefix())
			handle(code, []byte(msg.Payload))
		}
	}
}
