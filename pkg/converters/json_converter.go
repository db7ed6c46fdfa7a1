package converters

import (
	"time"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
)

// DocumentView 定义返回给 API 的文档结构
type DocumentView struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"projectId"`
	Filename     string                 `json:"filename"`
	Family       string                 `json:"family"`
	FileType     string                 `json:"fileType"`
	FileSize     int64                  `json:"fileSize"`
	Digest       string                 `json:"digest"`
	Status       string                 `json:"status"`
	Reason       string                 `json:"reason,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Degraded     bool                   `json:"degraded"`
	Language     string                 `json:"language,omitempty"`
	Category     string                 `json:"category,omitempty"`
	PageCount    int                    `json:"pageCount"`
	ChunkCount   int                    `json:"chunkCount"`
	Version      int                    `json:"version"`
	Supersedes   string                 `json:"supersedes,omitempty"`
	SupersededBy string                 `json:"supersededBy,omitempty"`
	ParentID     string                 `json:"parentId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Tables       []models.Table         `json:"tables,omitempty"`
	Text         string                 `json:"text,omitempty"`
	ProcessingMs int64                  `json:"processingMs"`
	CreatedAt    time.Time              `json:"createdAt"`
	IndexedAt    *time.Time             `json:"indexedAt,omitempty"`
}

// StatusView 文档状态
type StatusView struct {
	DocumentID   string    `json:"documentId"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	Degraded     bool      `json:"degraded"`
	Live         bool      `json:"live"`
	SupersededBy string    `json:"supersededBy,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SearchResult 检索结果
type SearchResult struct {
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename"`
	Ordinal    int     `json:"ordinal"`
	PageNumber int     `json:"pageNumber,omitempty"`
	Category   string  `json:"category,omitempty"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// ViewOptions 控制返回哪些大字段
type ViewOptions struct {
	IncludeText   bool
	IncludeTables bool
}

// ToDocumentView converts a stored document. The failure reason is copied verbatim.
func ToDocumentView(doc *models.Document, chunkCount int, opts ViewOptions) *DocumentView {
	v := &DocumentView{
		ID:           doc.ID,
		ProjectID:    doc.ProjectID,
		Filename:     doc.Filename,
		Family:       string(doc.Family),
		FileType:     doc.FileType,
		FileSize:     doc.FileSize,
		Digest:       doc.Digest,
		Status:       string(doc.Status),
		Reason:       string(doc.FailureReason),
		Error:        doc.ErrorMessage,
		Degraded:     doc.Degraded(),
		Language:     doc.Language,
		Category:     doc.Category,
		PageCount:    doc.PageCount,
		ChunkCount:   chunkCount,
		Version:      doc.Version,
		Supersedes:   doc.Supersedes,
		SupersededBy: doc.SupersededBy,
		ParentID:     doc.ParentID,
		Metadata:     doc.Metadata,
		ProcessingMs: doc.ProcessingTime.Milliseconds(),
		CreatedAt:    doc.CreatedAt,
		IndexedAt:    doc.IndexedAt,
	}
	if opts.IncludeText {
		v.Text = doc.Text
	}
	if opts.IncludeTables {
		v.Tables = doc.Tables
	}
	return v
}

func ToStatusView(doc *models.Document) *StatusView {
	return &StatusView{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		Status:       string(doc.Status),
		Reason:       string(doc.FailureReason),
		Error:        doc.ErrorMessage,
		Degraded:     doc.Degraded(),
		Live:         doc.Live(),
		SupersededBy: doc.SupersededBy,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func ToSearchResults(hits []store.SearchHit) []SearchResult {
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{
			DocumentID: h.Chunk.DocumentID,
			Filename:   h.Chunk.Filename,
			Ordinal:    h.Chunk.Ordinal,
			PageNumber: h.Chunk.PageNumber,
			Category:   h.Chunk.Category,
			Score:      h.Score,
			Text:       h.Chunk.Text,
		})
	}
	return out
}
