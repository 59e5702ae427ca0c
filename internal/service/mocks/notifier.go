// Package mocks 提供基于 testify/mock 的服务层依赖替身。
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"planning-poker/internal/domain"
)

// Notifier 是 service.Notifier 的 mock 实现
type Notifier struct {
	mock.Mock
}

func (m *Notifier) Publish(ctx context.Context, code string, events ...domain.Event) {
	m.Called(ctx, code, events)
}

func (m *Notifier) Detach(ctx context.Context, code string, participantID uint) {
	m.Called(ctx, code, participantID)
}

func (m *Notifier) Disconnect(ctx context.Context, code string, participantID uint, userID string) {
	m.Called(ctx, code, participantID, userID)
}

// AllowAll 放行所有调用，测试随后检查 Calls
func (m *Notifier) AllowAll() *Notifier {
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return()
	m.On("Detach", mock.Anything, mock.Anything, mock.Anything).Return()
	m.On("Disconnect", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	return m
}

// Published 返回按顺序记录的全部 Publish 事件
func (m *Notifier) Published() []domain.Event {
	var out []domain.Event
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(2).([]domain.Event)...)
		}
	}
	return out
}
