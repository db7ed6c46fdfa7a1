package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

type handlerFunc func(ctx context.Context, task *queue.Task) (interface{}, error)

func (f handlerFunc) HandleTask(ctx context.Context, task *queue.Task) (interface{}, error) {
	return f(ctx, task)
}

func newTestWorker(h TaskHandler) *IngestWorker {
	return &IngestWorker{
		BaseWorker: BaseWorker{logger: logger.NewNop(), stopChan: make(chan struct{})},
		handler:    h,
	}
}

func TestProcessTaskDecodesEnvelope(t *testing.T) {
	var got *queue.Task
	w := newTestWorker(handlerFunc(func(ctx context.Context, task *queue.Task) (interface{}, error) {
		got = task
		return map[string]int{"documents": 2}, nil
	}))

	task, err := queue.NewTask(queue.TaskTypeReembed, queue.PriorityLow, queue.ProjectPayload{ProjectID: "p1"})
	require.NoError(t, err)
	task.Type = ""
	data, err := json.Marshal(task)
	require.NoError(t, err)

	require.NoError(t, w.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeReembed, data)))
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, queue.TaskTypeReembed, got.Type, "type falls back to the asynq task type")

	var p queue.ProjectPayload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "p1", p.ProjectID)
}

func TestProcessTaskErrors(t *testing.T) {
	w := newTestWorker(handlerFunc(func(ctx context.Context, task *queue.Task) (interface{}, error) {
		return nil, errors.New("store unavailable")
	}))

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeIngestFile, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, _ := json.Marshal(queue.Task{ID: "t1", Type: queue.TaskTypeIngestFile, Payload: json.RawMessage(`{}`)})
	err = w.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeIngestFile, data))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestRegisteredTaskTypes(t *testing.T) {
	w := NewIngestWorker(&Config{
		Redis:       asynq.RedisClientOpt{Addr: "localhost:6379"},
		Concurrency: 1,
		Queues:      map[string]int{"default": 1},
	}, handlerFunc(func(context.Context, *queue.Task) (interface{}, error) { return nil, nil }), logger.NewNop())

	for _, typ := range []string{
		queue.TaskTypeIngestFile,
		queue.TaskTypeIngestFolder,
		queue.TaskTypeReindex,
		queue.TaskTypeReembed,
		queue.TaskTypeCancel,
	} {
		_, pattern := w.mux.Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
	_, pattern := w.mux.Handler(asynq.NewTask("email:send", nil))
	assert.Empty(t, pattern)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
