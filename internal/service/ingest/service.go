// Package ingest owns the document lifecycle: it runs the per-file stage chain
// from digest to index and fans folders out over a bounded worker pool.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/tender-ingest/internal/agent"
	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/chunker"
	"github.com/feichai0017/tender-ingest/internal/classifier"
	"github.com/feichai0017/tender-ingest/internal/dedup"
	"github.com/feichai0017/tender-ingest/internal/embedding"
	"github.com/feichai0017/tender-ingest/internal/language"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/metrics"
	"github.com/feichai0017/tender-ingest/pkg/progress"
	"github.com/feichai0017/tender-ingest/pkg/storage"
)

// Service 摄取编排器
type Service struct {
	store     store.Store
	detector  *agent.Detector
	dedup     *dedup.Deduplicator
	chunker   *chunker.Chunker
	embedder  embedding.Generator
	storage   storage.Storage
	publisher progress.Publisher
	metrics   *metrics.Metrics
	logger    logger.Logger
	config    *Config

	mu   sync.Mutex
	runs map[string]map[*run]struct{}
}

// Options carries the optional collaborators. Zero values are replaced by no-ops.
type Options struct {
	// Storage receives attachment bytes so child documents can be re-read later.
	Storage   storage.Storage
	Publisher progress.Publisher
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

func NewService(
	st store.Store,
	detector *agent.Detector,
	embedder embedding.Generator,
	cfg *Config,
	opts Options,
) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}
	if opts.Publisher == nil {
		opts.Publisher = progress.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	return &Service{
		store:     st,
		detector:  detector,
		dedup:     dedup.New(st),
		chunker:   ch,
		embedder:  embedder,
		storage:   opts.Storage,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		config:    cfg,
		runs:      make(map[string]map[*run]struct{}),
	}, nil
}

// Store exposes the document store the service writes to.
func (s *Service) Store() store.Store { return s.store }

// Embedder exposes the configured embedding provider.
func (s *Service) Embedder() embedding.Generator { return s.embedder }

// Detector exposes the format detector, used by upload validation.
func (s *Service) Detector() *agent.Detector { return s.detector }

// IngestFile runs the full stage chain for one file. It never returns an
// error: every failure is recorded on the document and reported in the Outcome.
func (s *Service) IngestFile(ctx context.Context, req FileRequest) Outcome {
	done := s.metrics.Begin()
	defer done()

	out := Outcome{Path: req.Filename}
	log := logger.FromContext(ctx, s.logger).With(
		logger.String("projectId", req.ProjectID),
		logger.String("filename", req.Filename),
	)

	data := req.Data
	if data == nil && req.Path != "" {
		var err error
		if data, err = os.ReadFile(req.Path); err != nil {
			log.Error("Failed to read file", logger.Error(err))
			out.Status, out.Reason, out.Error = OutcomeFailed, models.ReasonCorruptInput, err.Error()
			return out
		}
	}

	// 计算摘要并去重
	digest := dedup.Digest(data)
	existing, handled, err := s.dedup.Lookup(ctx, req.ProjectID, digest)
	if err != nil {
		log.Error("Dedup lookup failed", logger.Error(err))
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}
	if handled {
		out.DocumentID = existing.ID
		if req.Force && existing.Status == models.StatusIndexed {
			log.Info("Forcing re-index of unchanged document", logger.String("documentId", existing.ID))
			if err := s.Reindex(ctx, existing.ID); err != nil {
				out.Status, out.Reason, out.Error = OutcomeFailed, models.ReasonEmbeddingFailed, err.Error()
				return out
			}
			out.Status = OutcomeIndexed
			return out
		}
		log.Debug("Skipping unchanged document",
			logger.String("documentId", existing.ID),
			logger.String("status", string(existing.Status)),
		)
		out.Status = OutcomeSkipped
		return out
	}

	// 认领文档, 同名旧版本记为被替代
	claim := store.ClaimRequest{
		ProjectID:   req.ProjectID,
		Digest:      digest,
		Filename:    req.Filename,
		StoragePath: req.storagePath(),
		FileType:    strings.ToLower(filepath.Ext(req.Filename)),
		FileSize:    int64(len(data)),
		ParentID:    req.parentID,
		Version:     1,
	}
	if req.parentID != "" {
		claim.Metadata = map[string]interface{}{models.MetaParentID: req.parentID}
	}
	prior, err := s.store.FindLiveByFilename(ctx, req.ProjectID, req.Filename)
	switch {
	case err == nil && prior.Digest != digest:
		claim.Supersedes = prior.ID
		claim.Version = prior.Version + 1
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Error("Prior version lookup failed", logger.Error(err))
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}

	doc, outcome, err := s.store.Claim(ctx, claim)
	if err != nil {
		log.Error("Failed to claim document", logger.Error(err))
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}
	out.DocumentID = doc.ID
	if outcome == store.ClaimExists {
		// 并发摄取同一内容, 另一个调用已持有
		out.Status = OutcomeSkipped
		return out
	}
	s.publish(ctx, doc, "")

	file := &document.File{Name: req.Filename, Path: req.Path, Data: data}
	return s.process(ctx, doc, file, req, outcome == store.ClaimRetry, log)
}

func (r FileRequest) storagePath() string {
	if r.StoragePath != "" {
		return r.StoragePath
	}
	return r.Path
}

// process drives a claimed document to indexed or failed.
func (s *Service) process(ctx context.Context, doc *models.Document, file *document.File, req FileRequest, retry bool, log logger.Logger) Outcome {
	start := time.Now()
	log = log.With(logger.String("documentId", doc.ID))
	out := Outcome{Path: req.Filename, DocumentID: doc.ID}

	// embedding_failed 的重试直接从已保存的文本重新分块
	if retry && doc.FailureReason == models.ReasonEmbeddingFailed && doc.Text != "" {
		log.Info("Retrying embedding from stored text")
		doc.FailureReason, doc.ErrorMessage = models.ReasonNone, ""
		if err := s.transition(ctx, doc, models.StatusProcessing); err != nil {
			return s.storeFailure(out, err, log)
		}
		return s.finish(ctx, doc, nil, start, out, log)
	}
	doc.FailureReason, doc.ErrorMessage = models.ReasonNone, ""

	// 识别格式
	parser, family, err := s.detector.Detect(file.Name, file.Data)
	if err != nil {
		doc.Family = models.FamilyUnknown
		return s.fail(ctx, doc, models.ReasonUnsupportedFormat, err, start, out, log)
	}
	doc.Family = family

	if err := s.transition(ctx, doc, models.StatusProcessing); err != nil {
		return s.storeFailure(out, err, log)
	}

	// 解析
	parseStart := time.Now()
	content, err := s.parse(ocr.WithLanguages(ctx, req.LanguageHints...), parser, file)
	s.metrics.ObserveStage("parse", string(family), time.Since(parseStart))
	if file.Ext() == ".dwg" {
		if err != nil && document.ReasonOf(err) == models.ReasonConversionFailed {
			s.metrics.Conversion("failed")
		} else if err == nil {
			s.metrics.Conversion("ok")
		}
	}
	if err != nil {
		return s.fail(ctx, doc, document.ReasonOf(err), err, start, out, log)
	}
	if engine, ok := content.Metadata["ocr_engine"].(string); ok {
		pages, _ := content.Metadata["ocr_pages"].(int)
		s.metrics.OCRPages(engine, pages)
	}

	// 语言与分类
	if strings.TrimSpace(content.Text) == "" {
		content.Degrade("no text extracted")
	}
	hints := req.LanguageHints
	if len(hints) == 0 {
		hints = s.config.DefaultLanguages
	}
	doc.Language = language.Detect(content.Text, hints...)
	doc.Category = classifier.Classify(file.Name, content.Text, family)

	// 保存文本与元数据
	doc.Text = content.Text
	doc.Pages = content.Pages
	doc.Tables = content.Tables
	doc.PageCount = content.PageCount()
	meta := models.CloneMetadata(doc.Metadata)
	for k, v := range content.Metadata {
		meta[k] = v
	}
	if len(content.Warnings) > 0 {
		meta[models.MetaWarnings] = content.Warnings
	}
	doc.Metadata = meta
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return s.storeFailure(out, err, log)
	}

	return s.finish(ctx, doc, content.Attachments, start, out, log)
}

// finish indexes the chunks, claims attachments, marks the document indexed
// and then ingests the attachments.
func (s *Service) finish(ctx context.Context, doc *models.Document, attachments []models.Attachment, start time.Time, out Outcome, log logger.Logger) Outcome {
	indexStart := time.Now()
	n, err := s.index(ctx, doc, true)
	s.metrics.ObserveStage("index", string(doc.Family), time.Since(indexStart))
	if err != nil {
		return s.fail(ctx, doc, models.ReasonEmbeddingFailed, err, start, out, log)
	}

	children := s.claimAttachments(ctx, doc, attachments, log)
	if len(children) > 0 {
		refs := make([]map[string]interface{}, 0, len(children))
		for _, c := range children {
			refs = append(refs, map[string]interface{}{"filename": c.req.Filename, "document_id": c.doc.ID})
		}
		doc.Metadata["attachments"] = refs
	}

	now := time.Now()
	doc.IndexedAt = &now
	doc.ProcessingTime = time.Since(start)
	if err := s.transition(ctx, doc, models.StatusIndexed); err != nil {
		out = s.storeFailure(out, err, log)
		// 附件已认领为 pending, 仍需处理, 否则永远不会被重试
		out.Attachments = s.runChildren(ctx, children, log)
		return out
	}
	if doc.Supersedes != "" {
		s.supersedeOlder(ctx, doc, log)
	}
	s.metrics.DocumentDone(string(doc.Family), string(models.StatusIndexed), "")
	log.Info("Document indexed",
		logger.String("family", string(doc.Family)),
		logger.Int("chunks", n),
		logger.Bool("degraded", doc.Degraded()),
		logger.Duration("took", doc.ProcessingTime),
	)

	out.Status = OutcomeIndexed
	out.Degraded = doc.Degraded()
	out.Attachments = s.runChildren(ctx, children, log)
	return out
}

func (s *Service) runChildren(ctx context.Context, children []child, log logger.Logger) []Outcome {
	var outs []Outcome
	for _, c := range children {
		outs = append(outs, c.run(ctx, s, log))
	}
	return outs
}

// supersedeOlder retires every earlier live version of the filename. A
// version that failed in between never superseded its predecessor, so the
// whole chain is walked rather than just doc.Supersedes.
func (s *Service) supersedeOlder(ctx context.Context, doc *models.Document, log logger.Logger) {
	docs, err := s.store.ListDocuments(ctx, doc.ProjectID)
	if err != nil {
		log.Error("Failed to list prior versions", logger.Error(err))
		return
	}
	for _, d := range docs {
		if d.ID == doc.ID || d.Filename != doc.Filename || !d.Live() || d.Version >= doc.Version {
			continue
		}
		if err := s.store.Supersede(ctx, d.ID, doc.ID); err != nil {
			log.Error("Failed to supersede prior version",
				logger.String("priorId", d.ID),
				logger.Error(err),
			)
		}
	}
}

// index chunks and embeds doc.Text and swaps the document's chunk set.
// checkDim rejects vectors whose length differs from what the project already holds.
func (s *Service) index(ctx context.Context, doc *models.Document, checkDim bool) (int, error) {
	if checkDim {
		dim, err := s.store.ProjectDimension(ctx, doc.ProjectID)
		if err != nil {
			return 0, fmt.Errorf("failed to read project dimension: %w", err)
		}
		if dim != 0 && dim != s.embedder.Dimension() {
			return 0, fmt.Errorf("%w: project holds %d-dimension vectors but %s produces %d, re-embed the project",
				embedding.ErrDimensionMismatch, dim, s.embedder.Name(), s.embedder.Dimension())
		}
	}

	spans := s.chunker.Split(doc.Text)
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Text
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = embedding.EmbedBatched(ctx, s.embedder, texts, s.config.EmbedBatchSize)
		s.metrics.EmbeddingRequest(s.embedder.Name(), err)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
	}

	offsets := pageOffsets(doc.Text, doc.Pages)
	now := time.Now()
	chunks := make([]models.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = models.Chunk{
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Ordinal:    sp.Ordinal,
			Start:      sp.Start,
			End:        sp.End,
			Text:       sp.Text,
			PageNumber: pageAt(offsets, sp.Start),
			Filename:   doc.Filename,
			Category:   doc.Category,
			Vector:     vectors[i],
			CreatedAt:  now,
		}
	}
	if err := s.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("failed to write chunks: %w", err)
	}
	return len(chunks), nil
}

// parse runs the parser under the per-invocation timeout. A panic inside the
// parser becomes corrupt_input.
func (s *Service) parse(ctx context.Context, p document.Parser, file *document.File) (*models.ParsedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ParseTimeout)
	defer cancel()

	type result struct {
		content *models.ParsedContent
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: document.Failf(models.ReasonCorruptInput, "parser panic: %v", r)}
			}
		}()
		content, err := p.Parse(ctx, file)
		if err == nil && content == nil {
			err = document.Failf(models.ReasonCorruptInput, "parser returned no content")
		}
		if content != nil && content.Metadata == nil {
			content.Metadata = make(map[string]interface{})
		}
		ch <- result{content: content, err: err}
	}()

	select {
	case r := <-ch:
		return r.content, r.err
	case <-ctx.Done():
		reason := models.ReasonCorruptInput
		if p.Family() == models.FamilyCAD && file.Ext() == ".dwg" {
			reason = models.ReasonConversionFailed
		}
		return nil, document.Failf(reason, "parse timed out after %s", s.config.ParseTimeout)
	}
}

func (s *Service) transition(ctx context.Context, doc *models.Document, status models.DocumentStatus) error {
	doc.Status = status
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to mark document %s: %w", status, err)
	}
	s.publish(ctx, doc, "")
	return nil
}

// fail records a per-document failure. The error never leaves the document.
func (s *Service) fail(ctx context.Context, doc *models.Document, reason models.FailureReason, cause error, start time.Time, out Outcome, log logger.Logger) Outcome {
	doc.Status = models.StatusFailed
	doc.FailureReason = reason
	doc.ErrorMessage = cause.Error()
	doc.ProcessingTime = time.Since(start)
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		log.Error("Failed to record failure", logger.Error(err))
	}
	s.publish(ctx, doc, cause.Error())
	s.metrics.DocumentDone(string(doc.Family), string(models.StatusFailed), string(reason))
	log.Warn("Document failed",
		logger.String("reason", string(reason)),
		logger.Error(cause),
	)

	out.Status = OutcomeFailed
	out.Reason = reason
	out.Error = cause.Error()
	return out
}

// storeFailure reports a store error that left the document where it was.
func (s *Service) storeFailure(out Outcome, err error, log logger.Logger) Outcome {
	log.Error("Store update failed", logger.Error(err))
	out.Status = OutcomeFailed
	out.Error = err.Error()
	return out
}

func (s *Service) publish(ctx context.Context, doc *models.Document, message string) {
	u := progress.Update{
		ProjectID:  doc.ProjectID,
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     string(doc.Status),
		Reason:     string(doc.FailureReason),
		Message:    message,
		Degraded:   doc.Degraded(),
		At:         time.Now(),
	}
	if err := s.publisher.Publish(ctx, u); err != nil {
		s.logger.Warn("Failed to publish progress",
			logger.String("documentId", doc.ID),
			logger.Error(err),
		)
	}
}

// child is an attachment already claimed as a pending document.
type child struct {
	doc     *models.Document
	req     FileRequest
	claimed bool
}

func (c child) run(ctx context.Context, s *Service, log logger.Logger) Outcome {
	if !c.claimed {
		return Outcome{Path: c.req.Filename, DocumentID: c.doc.ID, Status: OutcomeSkipped}
	}
	file := &document.File{Name: c.req.Filename, Data: c.req.Data}
	return s.process(ctx, c.doc, file, c.req, false, log.With(logger.String("attachment", c.req.Filename)))
}

// claimAttachments creates a pending child document per attachment before the
// parent is sealed, so the parent can record their ids.
func (s *Service) claimAttachments(ctx context.Context, parent *models.Document, attachments []models.Attachment, log logger.Logger) []child {
	var out []child
	for i, att := range attachments {
		name := att.Filename
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		req := FileRequest{
			ProjectID: parent.ProjectID,
			Filename:  path.Join(parent.Filename, name),
			Data:      att.Data,
			parentID:  parent.ID,
		}
		digest := dedup.Digest(att.Data)
		if s.storage != nil {
			key := storage.ObjectKey(parent.ProjectID, digest, name)
			if stored, err := s.storage.Store(ctx, bytes.NewReader(att.Data), key); err != nil {
				log.Warn("Failed to store attachment", logger.String("attachment", name), logger.Error(err))
			} else {
				req.StoragePath = stored
			}
		}
		doc, outcome, err := s.store.Claim(ctx, store.ClaimRequest{
			ProjectID:   parent.ProjectID,
			Digest:      digest,
			Filename:    req.Filename,
			StoragePath: req.StoragePath,
			FileType:    strings.ToLower(filepath.Ext(name)),
			FileSize:    int64(len(att.Data)),
			ParentID:    parent.ID,
			Version:     1,
			Metadata: map[string]interface{}{
				models.MetaParentID: parent.ID,
				"content_type":      att.ContentType,
			},
		})
		if err != nil {
			log.Error("Failed to claim attachment", logger.String("attachment", name), logger.Error(err))
			continue
		}
		if outcome != store.ClaimExists {
			s.publish(ctx, doc, "")
		}
		out = append(out, child{doc: doc, req: req, claimed: outcome != store.ClaimExists})
	}
	return out
}

// pageOffsets locates each page's text inside the full text, in runes.
// Pages that cannot be found get -1.
func pageOffsets(text string, pages []string) []int {
	if len(pages) == 0 {
		return nil
	}
	offsets := make([]int, len(pages))
	byteFrom, runeFrom := 0, 0
	for i, p := range pages {
		p = strings.TrimSpace(p)
		idx := -1
		if p != "" {
			idx = strings.Index(text[byteFrom:], p)
		}
		if idx < 0 {
			offsets[i] = -1
			continue
		}
		runeFrom += len([]rune(text[byteFrom : byteFrom+idx]))
		byteFrom += idx
		offsets[i] = runeFrom
	}
	return offsets
}

// pageAt returns the 1-based page holding rune offset pos, or 0.
func pageAt(offsets []int, pos int) int {
	page := 0
	for i, off := range offsets {
		if off >= 0 && off <= pos {
			page = i + 1
		}
	}
	return page
}
