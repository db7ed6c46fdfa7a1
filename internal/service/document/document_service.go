package document

import (
	"context"
	"errors"
	"mime/multipart"

	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/utils/validator"
	"github.com/feichai0017/tender-ingest/pkg/converters"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

// ErrInvalidRequest marks caller mistakes the API reports as 400.
var ErrInvalidRequest = errors.New("invalid request")

// DocumentProcessor is the API-facing side of ingestion: uploads become
// queued tasks and reads go straight to the store.
type DocumentProcessor interface {
	Upload(ctx context.Context, projectID string, header *multipart.FileHeader, opts UploadOptions) (*UploadResult, error)
	UploadBatch(ctx context.Context, projectID string, headers []*multipart.FileHeader, opts UploadOptions) ([]*UploadResult, error)
	EnqueueFolder(ctx context.Context, projectID, root string, opts UploadOptions) (*queue.Task, error)
	EnqueueReindex(ctx context.Context, documentID string) (*queue.Task, error)
	EnqueueReembed(ctx context.Context, projectID string) (*queue.Task, error)
	CancelProject(ctx context.Context, projectID string) (*queue.Task, error)

	ListDocuments(ctx context.Context, projectID string) ([]*converters.DocumentView, error)
	GetDocument(ctx context.Context, documentID string, opts converters.ViewOptions) (*converters.DocumentView, error)
	GetStatus(ctx context.Context, documentID string) (*converters.StatusView, error)
	Search(ctx context.Context, req ingest.SearchRequest) ([]converters.SearchResult, error)
	GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error)

	// HandleTask runs a dequeued task on the worker side.
	HandleTask(ctx context.Context, task *queue.Task) (interface{}, error)
	CleanupUploads(ctx context.Context) error
}

// UploadOptions 上传参数
type UploadOptions struct {
	Languages []string
	Force     bool
}

// UploadStatus 上传结果状态
type UploadStatus string

const (
	UploadQueued   UploadStatus = "queued"
	UploadExists   UploadStatus = "exists"
	UploadRejected UploadStatus = "rejected"
)

// UploadResult 单个上传的结果
type UploadResult struct {
	Filename string                      `json:"filename"`
	Status   UploadStatus                `json:"status"`
	Digest   string                      `json:"digest,omitempty"`
	TaskID   string                      `json:"taskId,omitempty"`
	Document *converters.DocumentView    `json:"document,omitempty"`
	Errors   []validator.ValidationError `json:"errors,omitempty"`
}
