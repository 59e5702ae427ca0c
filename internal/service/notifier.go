package service

import (
	"context"

	"planning-poker/internal/domain"
)

// Notifier 是广播协调器的出口。服务层只在事务提交之后调用它。
type Notifier interface {
	// Publish 向房间内所有已绑定的连接推送事件 (按顺序)
	Publish(ctx context.Context, code string, events ...domain.Event)
	// Detach 解除参与者连接与房间的绑定，连接本身保持打开
	Detach(ctx context.Context, code string, participantID uint)
	// Disconnect 强制断开与参与者 ID 或用户身份匹配的全部连接，断开前发送 kicked
	Disconnect(ctx context.Context, code string, participantID uint, userID string)
}
