package ingest

import (
	"time"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// Config 编排器配置
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	Workers          int
	HeavyWorkers     int
	HeavyShare       float64
	ParseTimeout     time.Duration
	EmbedBatchSize   int
	DefaultLanguages []string
}

// DefaultConfig mirrors the ingest and embedding defaults of config.Default.
func DefaultConfig() *Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom picks the orchestrator settings out of the process configuration.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		ChunkSize:        cfg.Ingest.ChunkSize,
		ChunkOverlap:     cfg.Ingest.ChunkOverlap,
		Workers:          cfg.Ingest.Workers,
		HeavyWorkers:     cfg.Ingest.HeavyWorkers,
		HeavyShare:       cfg.Ingest.HeavyShare,
		ParseTimeout:     cfg.Ingest.ParseTimeout,
		EmbedBatchSize:   cfg.Embedding.BatchSize,
		DefaultLanguages: append([]string(nil), cfg.Ingest.DefaultLanguages...),
	}
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.HeavyWorkers <= 0 || c.HeavyWorkers > c.Workers {
		c.HeavyWorkers = max(1, c.Workers/2)
	}
	if c.HeavyShare <= 0 {
		c.HeavyShare = 0.5
	}
	if c.ParseTimeout <= 0 {
		c.ParseTimeout = 5 * time.Minute
	}
}

// FileRequest asks for one file to be ingested. Data wins over Path.
type FileRequest struct {
	ProjectID     string
	Filename      string
	Data          []byte
	Path          string
	StoragePath   string
	LanguageHints []string
	// Force re-chunks and re-embeds a document whose identical bytes are already indexed.
	Force bool

	parentID string
}

// OutcomeStatus is the per-file result of one ingestion call.
type OutcomeStatus string

const (
	OutcomeIndexed   OutcomeStatus = "indexed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome is the tagged result of one file. Error is set only when Status is failed.
type Outcome struct {
	Path        string               `json:"path"`
	DocumentID  string               `json:"documentId,omitempty"`
	Status      OutcomeStatus        `json:"status"`
	Reason      models.FailureReason `json:"reason,omitempty"`
	Degraded    bool                 `json:"degraded,omitempty"`
	Error       string               `json:"error,omitempty"`
	Attachments []Outcome            `json:"attachments,omitempty"`
}

// ProgressFunc is called once per finished file of a folder run.
type ProgressFunc func(current, total int, filename string, status OutcomeStatus)

type FolderRequest struct {
	ProjectID     string
	Root          string
	LanguageHints []string
	Force         bool
	OnProgress    ProgressFunc
}

// BatchResult 批量摄取结果
type BatchResult struct {
	ProjectID string        `json:"projectId"`
	Total     int           `json:"total"`
	Indexed   int           `json:"indexed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Workers   int           `json:"workers"`
	Outcomes  []Outcome     `json:"outcomes"`
	Duration  time.Duration `json:"duration"`
}

func (r *BatchResult) count(o Outcome) {
	switch o.Status {
	case OutcomeIndexed:
		r.Indexed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeCancelled:
		r.Cancelled++
	}
}

type SearchRequest struct {
	ProjectID  string
	DocumentID string
	Category   string
	Query      string
	K          int
}

const defaultSearchK = 10
