package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

// TaskHandler runs one decoded task and returns a JSON-serializable result.
type TaskHandler interface {
	HandleTask(ctx context.Context, task *queue.Task) (interface{}, error)
}

// IngestWorker 从 asynq 拉取摄取任务
type IngestWorker struct {
	BaseWorker
	handler TaskHandler
}

func NewIngestWorker(cfg *Config, handler TaskHandler, log logger.Logger) *IngestWorker {
	server := asynq.NewServer(
		cfg.Redis,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
			Logger: asynqLogger{log.Named("asynq")},
		},
	)

	w := &IngestWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handler: handler,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w
}

func (w *IngestWorker) registerHandlers() {
	for _, t := range []string{
		queue.TaskTypeIngestFile,
		queue.TaskTypeIngestFolder,
		queue.TaskTypeReindex,
		queue.TaskTypeReembed,
		queue.TaskTypeCancel,
	} {
		w.mux.HandleFunc(t, w.ProcessTask)
	}
}

// ProcessTask decodes the queued envelope and hands it to the handler. The
// result is written back through the task's result writer.
func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	// 反序列化任务
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w: %w", err, asynq.SkipRetry)
	}
	if task.Type == "" {
		task.Type = t.Type()
	}

	w.logger.Info("Processing task",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
	)

	result, err := w.handler.HandleTask(ctx, &task)
	if rw := t.ResultWriter(); rw != nil && result != nil {
		if data, mErr := json.Marshal(result); mErr == nil {
			if _, wErr := rw.Write(data); wErr != nil {
				w.logger.Error("Failed to write task result", logger.Error(wErr))
			}
		}
	}
	if err != nil {
		w.logger.Error("Task failed",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}

// asynqLogger routes asynq's own logs through the service logger.
type asynqLogger struct {
	log logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
