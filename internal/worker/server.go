package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 与周期调度器的启动和关闭逻辑
type WorkerServer struct {
	server        *asynq.Server
	scheduler     *asynq.Scheduler
	log           *logrus.Entry
	sweeper       PresenceSweeper
	sweepInterval time.Duration
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, sweeper PresenceSweeper, sweepInterval time.Duration, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		EnqueueErrorHandler: func(task *asynq.Task, opts []asynq.Option, err error) {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				return
			}
			logEntry.WithError(err).WithField("task_type", task.Type()).Warn("Failed to enqueue scheduled task")
		},
	})

	return &WorkerServer{
		server:        server,
		scheduler:     scheduler,
		log:           logEntry,
		sweeper:       sweeper,
		sweepInterval: sweepInterval,
	}
}

// NewServeMux 注册任务处理器
func NewServeMux(sweeper PresenceSweeper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypePresenceSweep, NewPresenceSweepHandler(sweeper))
	return mux
}

// Start 注册周期任务并运行 Worker Server。
// 它应该在一个单独的 goroutine 中调用
func (ws *WorkerServer) Start() error {
	task, err := tasks.NewPresenceSweepTask(ws.sweepInterval)
	if err != nil {
		return fmt.Errorf("failed to build presence sweep task: %w", err)
	}
	schedule := fmt.Sprintf("@every %s", ws.sweepInterval)
	if _, err := ws.scheduler.Register(schedule, task); err != nil {
		return fmt.Errorf("failed to register presence sweep (%s): %w", schedule, err)
	}
	if err := ws.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	ws.log.WithField("interval", ws.sweepInterval.String()).Info("Presence sweep scheduled")

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(NewServeMux(ws.sweeper)); err != nil {
		if errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Info("Worker server stopped.")
			return nil
		}
		return fmt.Errorf("could not run worker server: %w", err)
	}
	return nil
}

// Shutdown 优雅地关闭调度器与 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
