package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/internal/utils/validator"
	"github.com/feichai0017/tender-ingest/pkg/converters"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/queue"
	"github.com/feichai0017/tender-ingest/pkg/storage"
)

type DocumentService struct {
	ingest    *ingest.Service
	queue     queue.Queue
	storage   storage.Storage
	validator *validator.DocumentValidator
	logger    logger.Logger
	config    *ServiceConfig
}

type ServiceConfig struct {
	MaxFileSize     int64
	MaxConcurrent   int
	RetentionPeriod time.Duration
}

func NewService(
	svc *ingest.Service,
	q queue.Queue,
	st storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) *DocumentService {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxFileSize:   200 * 1024 * 1024,
			MaxConcurrent: 5,
		}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}

	return &DocumentService{
		ingest:  svc,
		queue:   q,
		storage: st,
		validator: validator.NewDocumentValidator(log, svc.Detector(), &validator.ValidatorConfig{
			MaxFileSize: cfg.MaxFileSize,
		}),
		logger: log,
		config: cfg,
	}
}

var _ DocumentProcessor = (*DocumentService)(nil)

// Upload 验证、去重、存储并入队单个文件
func (s *DocumentService) Upload(
	ctx context.Context,
	projectID string,
	header *multipart.FileHeader,
	opts UploadOptions,
) (*UploadResult, error) {
	s.logger.Info("Starting file upload",
		logger.String("projectId", projectID),
		logger.String("filename", header.Filename),
		logger.Int64("size", header.Size),
	)

	// 验证文件
	validation, err := s.validator.ValidateFile(header)
	if err != nil {
		return nil, fmt.Errorf("failed to validate file: %w", err)
	}
	info := validation.FileInfo
	result := &UploadResult{Filename: info.Filename, Digest: info.Hash}
	if !validation.IsValid {
		s.logger.Warn("File validation failed",
			logger.String("filename", header.Filename),
			logger.Any("errors", validation.Errors),
		)
		result.Status = UploadRejected
		result.Errors = validation.Errors
		return result, nil
	}

	// 已有相同内容的文档则直接返回
	if !opts.Force {
		existing, err := s.ingest.Store().FindLive(ctx, projectID, info.Hash)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up digest: %w", err)
		}
		if existing != nil && existing.Status != models.StatusFailed {
			n, _ := s.ingest.Store().CountChunks(ctx, existing.ID)
			result.Status = UploadExists
			result.Document = converters.ToDocumentView(existing, n, converters.ViewOptions{})
			return result, nil
		}
	}

	// 存储文件
	key, err := s.storage.Store(ctx, bytes.NewReader(info.Data), storage.ObjectKey(projectID, info.Hash, info.Filename))
	if err != nil {
		s.logger.Error("Failed to store file",
			logger.String("filename", info.Filename),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	// 加入处理队列
	task, err := queue.NewTask(queue.TaskTypeIngestFile, queue.PriorityDefault, queue.FilePayload{
		ProjectID:   projectID,
		Filename:    info.Filename,
		StoragePath: key,
		Digest:      info.Hash,
		Languages:   opts.Languages,
		Force:       opts.Force,
	})
	if err != nil {
		return nil, err
	}
	task.Metadata["projectId"] = projectID
	task.Metadata["filename"] = info.Filename
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("Ingestion task created",
		logger.String("taskId", task.ID),
		logger.String("filename", info.Filename),
		logger.String("family", info.Family),
	)
	result.Status = UploadQueued
	result.TaskID = task.ID
	return result, nil
}

// UploadBatch 并发处理多个上传, 结果顺序与输入一致
func (s *DocumentService) UploadBatch(ctx context.Context, projectID string, headers []*multipart.FileHeader, opts UploadOptions) ([]*UploadResult, error) {
	results := make([]*UploadResult, len(headers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for i, header := range headers {
		g.Go(func() error {
			res, err := s.Upload(gctx, projectID, header, opts)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", header.Filename, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *DocumentService) EnqueueFolder(ctx context.Context, projectID, root string, opts UploadOptions) (*queue.Task, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: root is required", ErrInvalidRequest)
	}
	return s.enqueue(ctx, queue.TaskTypeIngestFolder, queue.PriorityLow, queue.FolderPayload{
		ProjectID: projectID,
		Root:      root,
		Languages: opts.Languages,
		Force:     opts.Force,
	})
}

func (s *DocumentService) EnqueueReindex(ctx context.Context, documentID string) (*queue.Task, error) {
	if _, err := s.ingest.Store().GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, queue.TaskTypeReindex, queue.PriorityDefault, queue.DocumentPayload{DocumentID: documentID})
}

func (s *DocumentService) EnqueueReembed(ctx context.Context, projectID string) (*queue.Task, error) {
	return s.enqueue(ctx, queue.TaskTypeReembed, queue.PriorityLow, queue.ProjectPayload{ProjectID: projectID})
}

// CancelProject 取消项目的摄取, 由 worker 停止调度
func (s *DocumentService) CancelProject(ctx context.Context, projectID string) (*queue.Task, error) {
	return s.enqueue(ctx, queue.TaskTypeCancel, queue.PriorityCritical, queue.ProjectPayload{ProjectID: projectID})
}

func (s *DocumentService) enqueue(ctx context.Context, taskType string, priority int, payload interface{}) (*queue.Task, error) {
	task, err := queue.NewTask(taskType, priority, payload)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	s.logger.Info("Task enqueued",
		logger.String("taskId", task.ID),
		logger.String("type", taskType),
	)
	return task, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, projectID string) ([]*converters.DocumentView, error) {
	docs, err := s.ingest.Store().ListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	out := make([]*converters.DocumentView, 0, len(docs))
	for _, doc := range docs {
		n, err := s.ingest.Store().CountChunks(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count chunks: %w", err)
		}
		out = append(out, converters.ToDocumentView(doc, n, converters.ViewOptions{}))
	}
	return out, nil
}

func (s *DocumentService) GetDocument(ctx context.Context, documentID string, opts converters.ViewOptions) (*converters.DocumentView, error) {
	doc, err := s.ingest.Store().GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	n, err := s.ingest.Store().CountChunks(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return converters.ToDocumentView(doc, n, opts), nil
}

func (s *DocumentService) GetStatus(ctx context.Context, documentID string) (*converters.StatusView, error) {
	doc, err := s.ingest.Store().GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return converters.ToStatusView(doc), nil
}

func (s *DocumentService) Search(ctx context.Context, req ingest.SearchRequest) ([]converters.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	hits, err := s.ingest.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return converters.ToSearchResults(hits), nil
}

// GetTaskStatus 获取队列任务状态
func (s *DocumentService) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	return status, nil
}

// HandleTask 在 worker 端执行任务
func (s *DocumentService) HandleTask(ctx context.Context, task *queue.Task) (interface{}, error) {
	if task == nil || len(task.Payload) == 0 {
		return nil, fmt.Errorf("invalid task: missing payload")
	}
	s.logger.Info("Handling task",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
	)

	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    "running",
		StartedAt: time.Now(),
	})

	result, err := s.dispatch(ctx, task)

	final := &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     "completed",
		Progress:   1.0,
		StartedAt:  task.CreatedAt,
		FinishedAt: time.Now(),
	}
	if err != nil {
		final.Status = "failed"
		final.Progress = 0
		final.Error = err.Error()
	}
	s.saveStatus(ctx, final)
	return result, err
}

func (s *DocumentService) dispatch(ctx context.Context, task *queue.Task) (interface{}, error) {
	switch task.Type {
	case queue.TaskTypeIngestFile:
		var p queue.FilePayload
		if err := task.Decode(&p); err != nil {
			return nil, err
		}
		return s.handleFile(ctx, p)

	case queue.TaskTypeIngestFolder:
		var p queue.FolderPayload
		if err := task.Decode(&p); err != nil {
			return nil, err
		}
		return s.ingest.IngestFolder(ctx, ingest.FolderRequest{
			ProjectID:     p.ProjectID,
			Root:          p.Root,
			LanguageHints: p.Languages,
			Force:         p.Force,
		})

	case queue.TaskTypeReindex:
		var p queue.DocumentPayload
		if err := task.Decode(&p); err != nil {
			return nil, err
		}
		if err := s.ingest.Reindex(ctx, p.DocumentID); err != nil {
			return nil, err
		}
		return map[string]string{"documentId": p.DocumentID}, nil

	case queue.TaskTypeReembed:
		var p queue.ProjectPayload
		if err := task.Decode(&p); err != nil {
			return nil, err
		}
		n, err := s.ingest.ReembedProject(ctx, p.ProjectID)
		return map[string]int{"documents": n}, err

	case queue.TaskTypeCancel:
		var p queue.ProjectPayload
		if err := task.Decode(&p); err != nil {
			return nil, err
		}
		return map[string]int{"runs": s.ingest.CancelProject(p.ProjectID)}, nil

	default:
		return nil, fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// handleFile fetches the stored upload and runs it through the pipeline. Per
// document failures are recorded on the document and do not fail the task;
// only infrastructure errors are returned so the queue retries them.
func (s *DocumentService) handleFile(ctx context.Context, p queue.FilePayload) (*ingest.Outcome, error) {
	reader, err := s.storage.Get(ctx, p.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	out := s.ingest.IngestFile(ctx, ingest.FileRequest{
		ProjectID:     p.ProjectID,
		Filename:      p.Filename,
		Data:          data,
		StoragePath:   p.StoragePath,
		LanguageHints: p.Languages,
		Force:         p.Force,
	})
	if out.Status == ingest.OutcomeFailed && out.Reason == models.ReasonNone {
		return &out, errors.New(out.Error)
	}
	return &out, nil
}

func (s *DocumentService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.Error(err),
		)
	}
}

// CleanupUploads 清理过期的上传文件
func (s *DocumentService) CleanupUploads(ctx context.Context) error {
	if s.config.RetentionPeriod <= 0 {
		return nil
	}
	threshold := time.Now().Add(-s.config.RetentionPeriod)
	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}
	s.logger.Info("Completed upload cleanup", logger.Time("threshold", threshold))
	return nil
}
