package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypePresenceSweep = "presence:sweep" // 在线状态巡检任务类型
)

// PresenceSweepPayload 在线状态巡检任务的数据结构
type PresenceSweepPayload struct {
	// Window 为巡检周期，覆盖上一次巡检以来越过宽限窗口的参与者
	Window time.Duration `json:"window"`
}

// NewPresenceSweepTask 创建一个新的在线状态巡检任务。
// 任务在一个周期内唯一，避免多个调度器实例重复入队。
func NewPresenceSweepTask(window time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(PresenceSweepPayload{Window: window})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePresenceSweep, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(window),
		asynq.Unique(window),
	), nil
}

// ParsePresenceSweepPayload 解析任务载荷
func ParsePresenceSweepPayload(data []byte) (PresenceSweepPayload, error) {
	var p PresenceSweepPayload
	err := json.Unmarshal(data, &p)
	return p, err
}
