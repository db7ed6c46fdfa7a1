package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/api/handlers"
	"github.com/feichai0017/tender-ingest/api/middleware"
	"github.com/feichai0017/tender-ingest/api/routes"
	"github.com/feichai0017/tender-ingest/internal/service/document"
	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/pkg/converters"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/progress"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

type fakeProcessor struct {
	uploads  []string
	opts     document.UploadOptions
	search   ingest.SearchRequest
	enqueued []string
}

var _ document.DocumentProcessor = (*fakeProcessor)(nil)

func (f *fakeProcessor) Upload(ctx context.Context, projectID string, h *multipart.FileHeader, opts document.UploadOptions) (*document.UploadResult, error) {
	f.uploads = append(f.uploads, h.Filename)
	f.opts = opts
	switch h.Filename {
	case "empty.pdf":
		return &document.UploadResult{Filename: h.Filename, Status: document.UploadRejected}, nil
	case "dup.pdf":
		return &document.UploadResult{Filename: h.Filename, Status: document.UploadExists}, nil
	}
	return &document.UploadResult{Filename: h.Filename, Status: document.UploadQueued, TaskID: "t-" + h.Filename}, nil
}

func (f *fakeProcessor) UploadBatch(ctx context.Context, projectID string, hs []*multipart.FileHeader, opts document.UploadOptions) ([]*document.UploadResult, error) {
	var out []*document.UploadResult
	for _, h := range hs {
		r, _ := f.Upload(ctx, projectID, h, opts)
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeProcessor) task(typ string) *queue.Task {
	f.enqueued = append(f.enqueued, typ)
	return &queue.Task{ID: fmt.Sprintf("task-%d", len(f.enqueued)), Type: typ}
}

func (f *fakeProcessor) EnqueueFolder(ctx context.Context, projectID, root string, opts document.UploadOptions) (*queue.Task, error) {
	return f.task(queue.TaskTypeIngestFolder), nil
}

func (f *fakeProcessor) EnqueueReindex(ctx context.Context, documentID string) (*queue.Task, error) {
	if documentID == "missing" {
		return nil, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return f.task(queue.TaskTypeReindex), nil
}

func (f *fakeProcessor) EnqueueReembed(ctx context.Context, projectID string) (*queue.Task, error) {
	return f.task(queue.TaskTypeReembed), nil
}

func (f *fakeProcessor) CancelProject(ctx context.Context, projectID string) (*queue.Task, error) {
	return f.task(queue.TaskTypeCancel), nil
}

func (f *fakeProcessor) ListDocuments(ctx context.Context, projectID string) ([]*converters.DocumentView, error) {
	return []*converters.DocumentView{{ID: "d1", ProjectID: projectID, Status: "indexed"}}, nil
}

func (f *fakeProcessor) GetDocument(ctx context.Context, id string, opts converters.ViewOptions) (*converters.DocumentView, error) {
	if id == "missing" {
		return nil, store.ErrNotFound
	}
	v := &converters.DocumentView{ID: id, Status: "indexed"}
	if opts.IncludeText {
		v.Text = "full text"
	}
	return v, nil
}

func (f *fakeProcessor) GetStatus(ctx context.Context, id string) (*converters.StatusView, error) {
	return &converters.StatusView{DocumentID: id, Status: "failed", Reason: "conversion_failed", Live: true}, nil
}

func (f *fakeProcessor) Search(ctx context.Context, req ingest.SearchRequest) ([]converters.SearchResult, error) {
	f.search = req
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", document.ErrInvalidRequest)
	}
	return []converters.SearchResult{{DocumentID: "d1", Score: 0.9, Text: "concrete"}}, nil
}

func (f *fakeProcessor) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	if taskID == "boom" {
		return nil, errors.New("redis down")
	}
	return nil, fmt.Errorf("task %s: %w", taskID, queue.ErrTaskNotFound)
}

func (f *fakeProcessor) HandleTask(ctx context.Context, task *queue.Task) (interface{}, error) {
	return nil, nil
}

func (f *fakeProcessor) CleanupUploads(ctx context.Context) error { return nil }

type fakeProgress struct {
	updates []progress.Update
}

func (p *fakeProgress) Latest(ctx context.Context, projectID string) (map[string]progress.Update, error) {
	return map[string]progress.Update{"d1": {DocumentID: "d1", Status: "indexed"}}, nil
}

func (p *fakeProgress) Subscribe(ctx context.Context, projectID string) (<-chan progress.Update, error) {
	ch := make(chan progress.Update, len(p.updates))
	for _, u := range p.updates {
		ch <- u
	}
	close(ch)
	return ch, nil
}

func newRouter(proc *fakeProcessor, src handlers.ProgressSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	routes.SetupRoutes(r, handlers.NewHandlers(proc, src, logger.NewNop()), http.NotFoundHandler(), logger.NewNop())
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, url, field string, fields map[string]string, names ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, n := range names {
		part, err := w.CreateFormFile(field, n)
		require.NoError(t, err)
		_, _ = part.Write([]byte("content of " + n))
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthAndRequestID(t *testing.T) {
	r := newRouter(&fakeProcessor{}, nil)

	rec := do(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	rec = do(r, req)
	assert.Equal(t, "req-1", rec.Header().Get(middleware.RequestIDHeader))
}

func TestUploadDocumentStatusCodes(t *testing.T) {
	proc := &fakeProcessor{}
	r := newRouter(proc, nil)

	rec := do(r, multipartRequest(t, "/api/v1/projects/p1/documents", "file", map[string]string{"languages": "en, ar", "force": "true"}, "spec.pdf"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"taskId":"t-spec.pdf"`)
	assert.Equal(t, []string{"en", "ar"}, proc.opts.Languages)
	assert.True(t, proc.opts.Force)

	rec = do(r, multipartRequest(t, "/api/v1/projects/p1/documents", "file", nil, "dup.pdf"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, multipartRequest(t, "/api/v1/projects/p1/documents", "file", nil, "empty.pdf"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/documents", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadBatch(t *testing.T) {
	r := newRouter(&fakeProcessor{}, nil)

	rec := do(r, multipartRequest(t, "/api/v1/projects/p1/documents/batch", "files", nil, "a.pdf", "dup.pdf", "empty.pdf"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		Total    int `json:"total"`
		Queued   int `json:"queued"`
		Exists   int `json:"exists"`
		Rejected int `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 1, body.Queued)
	assert.Equal(t, 1, body.Exists)
	assert.Equal(t, 1, body.Rejected)

	rec = do(r, multipartRequest(t, "/api/v1/projects/p1/documents/batch", "other", nil, "a.pdf"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskRoutes(t *testing.T) {
	proc := &fakeProcessor{}
	r := newRouter(proc, nil)

	rec := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/folders", strings.NewReader(`{"root":"/srv/tender"}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"taskId":"task-1","type":"ingest:folder","status":"pending"}`, rec.Body.String())

	rec = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/folders", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusAccepted, do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/reembed", nil)).Code)
	assert.Equal(t, http.StatusAccepted, do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/projects/p1/ingestion", nil)).Code)
	assert.Equal(t, http.StatusAccepted, do(r, httptest.NewRequest(http.MethodPost, "/api/v1/documents/d1/reindex", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodPost, "/api/v1/documents/missing/reindex", nil)).Code)

	assert.Equal(t, []string{queue.TaskTypeIngestFolder, queue.TaskTypeReembed, queue.TaskTypeCancel, queue.TaskTypeReindex}, proc.enqueued)

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil)).Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/boom", nil)).Code)
}

func TestReadRoutes(t *testing.T) {
	proc := &fakeProcessor{}
	r := newRouter(proc, nil)

	rec := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/documents/d1?text=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"full text"`)

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/documents/missing", nil)).Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/documents/d1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"conversion_failed"`)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/search?q=concrete&k=3&category=specs&document=d1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingest.SearchRequest{ProjectID: "p1", DocumentID: "d1", Category: "specs", Query: "concrete", K: 3}, proc.search)

	assert.Equal(t, http.StatusBadRequest, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/search", nil)).Code)
}

func TestProgressRoutes(t *testing.T) {
	assert.Equal(t, http.StatusNotFound,
		do(newRouter(&fakeProcessor{}, nil), httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/progress", nil)).Code)

	src := &fakeProgress{updates: []progress.Update{
		{DocumentID: "d1", Filename: "spec.pdf", Status: "processing"},
		{DocumentID: "d1", Filename: "spec.pdf", Status: "indexed"},
	}}
	r := newRouter(&fakeProcessor{}, src)

	rec := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/progress", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"indexed"`)

	srv := httptest.NewServer(r)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/v1/projects/p1/progress/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Equal(t, 2, strings.Count(body, "event:update"))
	assert.Less(t, strings.Index(body, `"processing"`), strings.Index(body, `"indexed"`))
}
