// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/tender-ingest/config"
)

// TaskType 定义任务类型
const (
	TaskTypeIngestFile   = "ingest:file"
	TaskTypeIngestFolder = "ingest:folder"
	TaskTypeReindex      = "ingest:reindex"
	TaskTypeReembed      = "ingest:reembed"
	TaskTypeCancel       = "ingest:cancel"
)

// 优先级
const (
	PriorityCritical = 1
	PriorityDefault  = 2
	PriorityLow      = 3
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

var ErrTaskNotFound = errors.New("task not found")

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewTask marshals payload into a task with a fresh id.
func NewTask(taskType string, priority int, payload interface{}) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Priority:  priority,
		Payload:   data,
		Metadata:  map[string]string{},
		CreatedAt: time.Now(),
	}, nil
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Type, err)
	}
	return nil
}

// FilePayload asks a worker to ingest one stored object.
type FilePayload struct {
	ProjectID   string   `json:"projectId"`
	Filename    string   `json:"filename"`
	StoragePath string   `json:"storagePath"`
	Digest      string   `json:"digest"`
	Languages   []string `json:"languages,omitempty"`
	Force       bool     `json:"force,omitempty"`
}

// FolderPayload asks a worker to walk a folder it can reach on disk.
type FolderPayload struct {
	ProjectID string   `json:"projectId"`
	Root      string   `json:"root"`
	Languages []string `json:"languages,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

type DocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type ProjectPayload struct {
	ProjectID string `json:"projectId"`
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string          `json:"taskId"`
	Type       string          `json:"type,omitempty"`
	Status     string          `json:"status"`
	Progress   float64         `json:"progress"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	queues    []string
	maxRetry  int
	timeout   time.Duration
}

const statusTTL = 24 * time.Hour

// RedisOpt converts the redis section into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(rcfg config.RedisConfig, qcfg config.QueueConfig) *AsynqQueue {
	redisOpt := RedisOpt(rcfg)

	// 创建 Redis 客户端
	redisClient := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	queues := make([]string, 0, len(qcfg.Queues))
	for name := range qcfg.Queues {
		queues = append(queues, name)
	}
	sort.Slice(queues, func(i, j int) bool { return qcfg.Queues[queues[i]] > qcfg.Queues[queues[j]] })

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		queues:    queues,
		maxRetry:  qcfg.MaxRetry,
		timeout:   qcfg.Timeout,
	}
}

// Redis exposes the status client, shared with the progress publisher.
func (q *AsynqQueue) Redis() *redis.Client { return q.redis }

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID(task.ID),
		asynq.Queue(queueFor(task.Priority)),
		asynq.Retention(statusTTL),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID

	return q.SaveFinalStatus(ctx, &TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    "pending",
		StartedAt: task.CreatedAt,
	})
}

// 根据优先级选择队列
func queueFor(priority int) string {
	switch priority {
	case PriorityCritical:
		return "critical"
	case PriorityDefault:
		return "default"
	default:
		return "low"
	}
}

// GetTaskStatus 获取任务状态, Redis 优先, 其次是 asynq 检查器
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := q.redis.Get(ctx, statusKey(taskID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	if err == nil {
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	for _, name := range q.queues {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
}

// CancelTask 取消尚未运行的任务
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	var lastErr error
	for _, name := range q.queues {
		err := q.inspector.DeleteTask(name, taskID)
		if err == nil {
			return q.SaveFinalStatus(ctx, &TaskStatus{
				TaskID:     taskID,
				Status:     "cancelled",
				FinishedAt: time.Now(),
			})
		}
		lastErr = err
	}
	if err := q.inspector.CancelProcessing(taskID); err == nil {
		return nil
	}
	return fmt.Errorf("failed to cancel task: %w", lastErr)
}

// SaveFinalStatus 保存任务状态, 24 小时过期
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, statusKey(status.TaskID), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func statusKey(taskID string) string { return fmt.Sprintf("task_status:%s", taskID) }

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		Type:      info.Type,
		StartedAt: info.NextProcessAt,
		Result:    info.Result,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateAggregating:
		status.Status = "pending"
	case asynq.TaskStateActive:
		status.Status = "running"
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = "completed"
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry:
		status.Status = "retrying"
		status.Error = info.LastErr
	case asynq.TaskStateArchived:
		status.Status = "failed"
		status.Error = info.LastErr
		status.FinishedAt = info.LastFailedAt
	}
	if len(status.Result) > 0 && !json.Valid(status.Result) {
		status.Result = nil
	}
	return status
}
