package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/tender-ingest/pkg/queue"
)

// Queue keeps enqueued tasks and statuses in memory.
type Queue struct {
	mu       sync.Mutex
	tasks    []*queue.Task
	statuses map[string]*queue.TaskStatus
	// EnqueueErr, when set, fails every Enqueue.
	EnqueueErr error
}

var _ queue.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{statuses: make(map[string]*queue.TaskStatus)}
}

func (q *Queue) Enqueue(ctx context.Context, task *queue.Task) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	return q.SaveFinalStatus(ctx, &queue.TaskStatus{TaskID: task.ID, Type: task.Type, Status: "pending"})
}

func (q *Queue) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.statuses[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, queue.ErrTaskNotFound)
	}
	c := *s
	return &c, nil
}

func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	return q.SaveFinalStatus(ctx, &queue.TaskStatus{TaskID: taskID, Status: "cancelled"})
}

func (q *Queue) SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := *status
	q.statuses[status.TaskID] = &c
	return nil
}

// Tasks returns the enqueued tasks in order.
func (q *Queue) Tasks() []*queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Task(nil), q.tasks...)
}
