package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/tasks"
)

// PresenceSweeper 重新广播在线状态刚过期的房间，service.PresenceService 满足该接口
type PresenceSweeper interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// PresenceSweepHandler 处理在线状态巡检任务
type PresenceSweepHandler struct {
	sweeper PresenceSweeper
}

// NewPresenceSweepHandler 创建 Handler 实例
func NewPresenceSweepHandler(sweeper PresenceSweeper) *PresenceSweepHandler {
	return &PresenceSweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *PresenceSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

	payload, err := tasks.ParsePresenceSweepPayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Window <= 0 {
		return fmt.Errorf("invalid sweep window %s: %w", payload.Window, asynq.SkipRetry)
	}

	rooms, err := h.sweeper.Sweep(ctx, payload.Window)
	if err != nil {
		logCtx.WithError(err).Error("Presence sweep failed")
		return fmt.Errorf("presence sweep: %w", err)
	}
	if rooms > 0 {
		logCtx.WithField("room_count", rooms).Info("Presence sweep republished rooms")
	} else {
		logCtx.Debug("Presence sweep found nothing to republish")
	}
	return nil
}
