package models

import (
	"time"
)

// FormatFamily 文件格式族
type FormatFamily string

const (
	FamilyPDF      FormatFamily = "pdf"
	FamilyWord     FormatFamily = "word"
	FamilySheet    FormatFamily = "spreadsheet"
	FamilySlides   FormatFamily = "presentation"
	FamilyLegacy   FormatFamily = "legacy_office"
	FamilyEmail    FormatFamily = "email"
	FamilyImage    FormatFamily = "image"
	FamilyCAD      FormatFamily = "cad"
	FamilyBIM      FormatFamily = "bim"
	FamilySchedule FormatFamily = "schedule"
	FamilyText     FormatFamily = "text"
	FamilyUnknown  FormatFamily = "unknown"
)

// Heavy reports whether parsing this family is memory hungry.
func (f FormatFamily) Heavy() bool {
	return f == FamilyCAD || f == FamilyBIM
}

// DocumentStatus 文档生命周期状态
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// FailureReason is stored with a failed document and surfaced verbatim.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonUnsupportedFormat FailureReason = "unsupported_format"
	ReasonCorruptInput      FailureReason = "corrupt_input"
	ReasonConversionFailed  FailureReason = "conversion_failed"
	ReasonOCRUnavailable    FailureReason = "ocr_unavailable"
	ReasonEmbeddingFailed   FailureReason = "embedding_failed"
)

// Metadata keys shared across parsers and consumers.
const (
	MetaDegraded = "degraded"
	MetaWarnings = "warnings"
	MetaParentID = "parent_document_id"
)

// Table 表格
type Table struct {
	Name string     `json:"name,omitempty"`
	Page int        `json:"page,omitempty"`
	Rows [][]string `json:"rows"`
}

// Document 一个被摄取的文件
type Document struct {
	ID             string                 `json:"id"`
	ProjectID      string                 `json:"projectId"`
	Filename       string                 `json:"filename"`
	StoragePath    string                 `json:"storagePath"`
	Family         FormatFamily           `json:"family"`
	FileType       string                 `json:"fileType"`
	FileSize       int64                  `json:"fileSize"`
	Digest         string                 `json:"digest"`
	Status         DocumentStatus         `json:"status"`
	FailureReason  FailureReason          `json:"failureReason,omitempty"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	Text           string                 `json:"text,omitempty"`
	Pages          []string               `json:"pages,omitempty"`
	Tables         []Table                `json:"tables,omitempty"`
	Metadata       map[string]interface{} `json:"metadata"`
	PageCount      int                    `json:"pageCount"`
	Language       string                 `json:"language,omitempty"`
	Category       string                 `json:"category,omitempty"`
	Version        int                    `json:"version"`
	Supersedes     string                 `json:"supersedes,omitempty"`
	SupersededBy   string                 `json:"supersededBy,omitempty"`
	ParentID       string                 `json:"parentId,omitempty"`
	ProcessingTime time.Duration          `json:"processingTime"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	IndexedAt      *time.Time             `json:"indexedAt,omitempty"`
}

// Live reports whether the document has not been superseded.
func (d *Document) Live() bool {
	return d.SupersededBy == ""
}

// Degraded reports the best-effort extraction flag.
func (d *Document) Degraded() bool {
	v, _ := d.Metadata[MetaDegraded].(bool)
	return v
}

// Clone returns a copy safe to mutate without touching d's maps and slices.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Metadata = CloneMetadata(d.Metadata)
	c.Pages = append([]string(nil), d.Pages...)
	c.Tables = append([]Table(nil), d.Tables...)
	if d.IndexedAt != nil {
		t := *d.IndexedAt
		c.IndexedAt = &t
	}
	return &c
}

// CloneMetadata makes a shallow copy of a metadata map.
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Chunk 文档中的一段连续文本
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	ProjectID  string    `json:"projectId"`
	Ordinal    int       `json:"ordinal"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Text       string    `json:"text"`
	PageNumber int       `json:"pageNumber,omitempty"`
	Filename   string    `json:"filename"`
	Category   string    `json:"category,omitempty"`
	Vector     []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Attachment is an embedded file lifted out of a container document.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParsedContent is the uniform parser result. It lives only for one ingestion call.
type ParsedContent struct {
	Text        string
	Metadata    map[string]interface{}
	Pages       []string
	Tables      []Table
	Attachments []Attachment
	Warnings    []string
}

// NewParsedContent returns an empty result with an initialized metadata map.
func NewParsedContent() *ParsedContent {
	return &ParsedContent{Metadata: make(map[string]interface{})}
}

// Degrade flags the content as best-effort and records why.
func (p *ParsedContent) Degrade(warning string) {
	p.Metadata[MetaDegraded] = true
	p.Warnings = append(p.Warnings, warning)
}

// PageCount returns the page count recorded by the parser, falling back to len(Pages).
func (p *ParsedContent) PageCount() int {
	for _, key := range []string{"page_count", "sheet_count", "slide_count"} {
		if n, ok := p.Metadata[key].(int); ok {
			return n
		}
	}
	return len(p.Pages)
}
