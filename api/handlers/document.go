package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/tender-ingest/internal/service/document"
	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/pkg/converters"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

type DocumentHandler struct {
	service document.DocumentProcessor
	logger  logger.Logger
}

// TaskResponse 定义入队响应结构
type TaskResponse struct {
	TaskID string `json:"taskId"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FolderRequest 文件夹摄取请求
type FolderRequest struct {
	Root      string   `json:"root" binding:"required"`
	Languages []string `json:"languages"`
	Force     bool     `json:"force"`
}

func NewDocumentHandler(service document.DocumentProcessor, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger,
	}
}

// UploadDocument 上传单个文档
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	result, err := h.service.Upload(c.Request.Context(), c.Param("projectId"), header, uploadOptions(c))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to upload file", err)
		return
	}

	switch result.Status {
	case document.UploadRejected:
		c.JSON(http.StatusBadRequest, result)
	case document.UploadExists:
		c.JSON(http.StatusOK, result)
	default:
		c.JSON(http.StatusAccepted, result)
	}
}

// UploadBatch 批量上传文档
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	results, err := h.service.UploadBatch(c.Request.Context(), c.Param("projectId"), files, uploadOptions(c))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to upload files", err)
		return
	}

	counts := map[document.UploadStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	c.JSON(http.StatusAccepted, gin.H{
		"total":    len(results),
		"queued":   counts[document.UploadQueued],
		"exists":   counts[document.UploadExists],
		"rejected": counts[document.UploadRejected],
		"results":  results,
	})
}

// IngestFolder 摄取服务器可访问的文件夹
func (h *DocumentHandler) IngestFolder(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid folder request", err)
		return
	}
	task, err := h.service.EnqueueFolder(c.Request.Context(), c.Param("projectId"), req.Root, document.UploadOptions{
		Languages: req.Languages,
		Force:     req.Force,
	})
	h.respondTask(c, task, err, "Failed to enqueue folder")
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.service.ListDocuments(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

// Search 相似度检索
func (h *DocumentHandler) Search(c *gin.Context) {
	k, _ := strconv.Atoi(c.DefaultQuery("k", "10"))
	req := ingest.SearchRequest{
		ProjectID:  c.Param("projectId"),
		DocumentID: c.Query("document"),
		Category:   c.Query("category"),
		Query:      c.Query("q"),
		K:          k,
	}
	results, err := h.service.Search(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, statusFor(err), "Search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "results": results})
}

// CancelIngestion 停止项目的摄取调度
func (h *DocumentHandler) CancelIngestion(c *gin.Context) {
	task, err := h.service.CancelProject(c.Request.Context(), c.Param("projectId"))
	h.respondTask(c, task, err, "Failed to cancel ingestion")
}

func (h *DocumentHandler) Reembed(c *gin.Context) {
	task, err := h.service.EnqueueReembed(c.Request.Context(), c.Param("projectId"))
	h.respondTask(c, task, err, "Failed to enqueue re-embed")
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	opts := converters.ViewOptions{
		IncludeText:   c.Query("text") == "true",
		IncludeTables: c.Query("tables") == "true",
	}
	view, err := h.service.GetDocument(c.Request.Context(), c.Param("documentId"), opts)
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	view, err := h.service.GetStatus(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *DocumentHandler) Reindex(c *gin.Context) {
	task, err := h.service.EnqueueReindex(c.Request.Context(), c.Param("documentId"))
	h.respondTask(c, task, err, "Failed to enqueue re-index")
}

// GetTaskStatus 获取队列任务状态
func (h *DocumentHandler) GetTaskStatus(c *gin.Context) {
	status, err := h.service.GetTaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get task status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *DocumentHandler) respondTask(c *gin.Context, task *queue.Task, err error, message string) {
	if err != nil {
		h.handleError(c, statusFor(err), message, err)
		return
	}
	c.JSON(http.StatusAccepted, TaskResponse{TaskID: task.ID, Type: task.Type, Status: "pending"})
}

func uploadOptions(c *gin.Context) document.UploadOptions {
	var langs []string
	for _, part := range strings.Split(c.PostForm("languages"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			langs = append(langs, part)
		}
	}
	force, _ := strconv.ParseBool(c.PostForm("force"))
	return document.UploadOptions{Languages: langs, Force: force}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	fields := []logger.Field{logger.String("path", c.Request.URL.Path)}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
