package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskRoundTripsPayload(t *testing.T) {
	task, err := NewTask(TaskTypeIngestFile, PriorityCritical, FilePayload{
		ProjectID:   "tender-042",
		Filename:    "specs/concrete.pdf",
		StoragePath: "projects/tender-042/abc/concrete.pdf",
		Digest:      "abc",
		Force:       true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskTypeIngestFile, task.Type)
	assert.False(t, task.CreatedAt.IsZero())

	var p FilePayload
	require.NoError(t, task.Decode(&p))
	assert.Equal(t, "specs/concrete.pdf", p.Filename)
	assert.True(t, p.Force)

	other, err := NewTask(TaskTypeIngestFile, PriorityCritical, p)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, other.ID)

	_, err = NewTask(TaskTypeReindex, PriorityLow, map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)

	bad := &Task{Type: TaskTypeReindex, Payload: json.RawMessage(`[1,2]`)}
	err = bad.Decode(&DocumentPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TaskTypeReindex)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, "critical", queueFor(PriorityCritical))
	assert.Equal(t, "default", queueFor(PriorityDefault))
	assert.Equal(t, "low", queueFor(PriorityLow))
	assert.Equal(t, "low", queueFor(42))
}

func TestConvertAsynqStatus(t *testing.T) {
	finished := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		info     asynq.TaskInfo
		status   string
		progress float64
		errMsg   string
	}{
		{asynq.TaskInfo{State: asynq.TaskStatePending}, "pending", 0, ""},
		{asynq.TaskInfo{State: asynq.TaskStateScheduled}, "pending", 0, ""},
		{asynq.TaskInfo{State: asynq.TaskStateActive}, "running", 0.5, ""},
		{asynq.TaskInfo{State: asynq.TaskStateCompleted, CompletedAt: finished}, "completed", 1, ""},
		{asynq.TaskInfo{State: asynq.TaskStateRetry, LastErr: "redis timeout"}, "retrying", 0, "redis timeout"},
		{asynq.TaskInfo{State: asynq.TaskStateArchived, LastErr: "giving up", LastFailedAt: finished}, "failed", 0, "giving up"},
	}
	for _, tt := range tests {
		info := tt.info
		info.ID = "t1"
		got := convertAsynqStatus(&info)
		assert.Equal(t, "t1", got.TaskID)
		assert.Equal(t, tt.status, got.Status)
		assert.Equal(t, tt.progress, got.Progress)
		assert.Equal(t, tt.errMsg, got.Error)
	}

	got := convertAsynqStatus(&asynq.TaskInfo{State: asynq.TaskStateCompleted, Result: []byte(`{"indexed":3}`)})
	assert.JSONEq(t, `{"indexed":3}`, string(got.Result))
	got = convertAsynqStatus(&asynq.TaskInfo{State: asynq.TaskStateCompleted, Result: []byte("not json")})
	assert.Nil(t, got.Result)
}
