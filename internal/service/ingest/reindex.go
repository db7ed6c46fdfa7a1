package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// Reindex re-chunks and re-embeds a document from its stored text and swaps
// the chunk set in one step. An indexed document keeps its record untouched.
// A document that failed at the embedding stage is completed to indexed.
func (s *Service) Reindex(ctx context.Context, documentID string) error {
	return s.reindex(ctx, documentID, true)
}

func (s *Service) reindex(ctx context.Context, documentID string, checkDim bool) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if !doc.Live() {
		return fmt.Errorf("document %s is superseded by %s", doc.ID, doc.SupersededBy)
	}
	log := s.logger.With(
		logger.String("projectId", doc.ProjectID),
		logger.String("documentId", doc.ID),
	)

	switch {
	case doc.Status == models.StatusIndexed:
		start := time.Now()
		n, err := s.index(ctx, doc, checkDim)
		if err != nil {
			return err
		}
		s.metrics.ObserveStage("index", string(doc.Family), time.Since(start))
		log.Info("Document re-indexed", logger.Int("chunks", n))
		return nil
	case doc.Status == models.StatusFailed && doc.FailureReason == models.ReasonEmbeddingFailed && doc.Text != "":
		out := s.process(ctx, doc, nil, FileRequest{ProjectID: doc.ProjectID, Filename: doc.Filename}, true, log)
		if out.Status != OutcomeIndexed {
			return fmt.Errorf("failed to re-index document %s: %s", doc.ID, out.Error)
		}
		return nil
	default:
		return fmt.Errorf("document %s is %s and has no indexable text", doc.ID, doc.Status)
	}
}

// ReembedProject re-embeds every live indexed document of the project, one
// document at a time. It is the way to move a project to a provider with a
// different vector dimension.
func (s *Service) ReembedProject(ctx context.Context, projectID string) (int, error) {
	docs, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	var (
		done   int
		failed []string
	)
	for _, doc := range docs {
		if !doc.Live() || doc.Status != models.StatusIndexed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := s.reindex(ctx, doc.ID, false); err != nil {
			s.logger.Error("Failed to re-embed document",
				logger.String("documentId", doc.ID),
				logger.Error(err),
			)
			failed = append(failed, doc.ID)
			continue
		}
		done++
	}
	s.logger.Info("Project re-embedded",
		logger.String("projectId", projectID),
		logger.Int("documents", done),
		logger.Int("failed", len(failed)),
	)
	if len(failed) > 0 {
		return done, fmt.Errorf("failed to re-embed %d documents: %s", len(failed), strings.Join(failed, ", "))
	}
	return done, nil
}

// Search embeds the query and returns the k most similar chunks.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]store.SearchHit, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	k := req.K
	if k <= 0 {
		k = defaultSearchK
	}
	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	s.metrics.EmbeddingRequest(s.embedder.Name(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for one query", len(vectors))
	}
	hits, err := s.store.Search(ctx, vectors[0], store.SearchFilter{
		ProjectID:  req.ProjectID,
		DocumentID: req.DocumentID,
		Category:   req.Category,
	}, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return hits, nil
}
