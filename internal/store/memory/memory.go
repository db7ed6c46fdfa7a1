// Package memory is an in-process Store used by tests and by ingestctl when
// no database is configured.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	chunks    map[string][]models.Chunk
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		documents: make(map[string]*models.Document),
		chunks:    make(map[string][]models.Chunk),
		now:       time.Now,
	}
}

func (s *Store) Claim(ctx context.Context, req store.ClaimRequest) (*models.Document, store.ClaimOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc := s.findLive(req.ProjectID, req.Digest); doc != nil {
		if doc.Status != models.StatusFailed {
			return doc.Clone(), store.ClaimExists, nil
		}
		doc.Status = models.StatusPending
		doc.UpdatedAt = s.now()
		return doc.Clone(), store.ClaimRetry, nil
	}

	version := req.Version
	if version < 1 {
		version = 1
	}
	now := s.now()
	doc := &models.Document{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Filename:    req.Filename,
		StoragePath: req.StoragePath,
		FileType:    req.FileType,
		FileSize:    req.FileSize,
		Digest:      req.Digest,
		Status:      models.StatusPending,
		Family:      models.FamilyUnknown,
		Metadata:    models.CloneMetadata(req.Metadata),
		Version:     version,
		Supersedes:  req.Supersedes,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.documents[doc.ID] = doc
	return doc.Clone(), store.ClaimCreated, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Document
	for _, doc := range s.documents {
		if doc.ProjectID == projectID {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Filename < out[j].Filename
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) FindLive(ctx context.Context, projectID, digest string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc := s.findLive(projectID, digest); doc != nil {
		return doc.Clone(), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindLiveByFilename(ctx context.Context, projectID, filename string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Document
	for _, doc := range s.documents {
		if doc.ProjectID != projectID || doc.Filename != filename || !doc.Live() {
			continue
		}
		if best == nil || doc.Version > best.Version {
			best = doc
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best.Clone(), nil
}

func (s *Store) UpdateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.documents[doc.ID]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.ID, store.ErrNotFound)
	}
	if cur.Status == models.StatusIndexed {
		return fmt.Errorf("document %s: %w", doc.ID, store.ErrImmutable)
	}
	next := doc.Clone()
	next.SupersededBy = cur.SupersededBy
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	s.documents[doc.ID] = next
	return nil
}

func (s *Store) Supersede(ctx context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.documents[oldID]
	if !ok {
		return fmt.Errorf("document %s: %w", oldID, store.ErrNotFound)
	}
	old.SupersededBy = newID
	old.UpdatedAt = s.now()
	delete(s.chunks, oldID)
	return nil
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	next := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		if c.Ordinal != i {
			return fmt.Errorf("chunk ordinals must be contiguous: position %d has ordinal %d", i, c.Ordinal)
		}
		c.Vector = append([]float32(nil), c.Vector...)
		next[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	if len(next) == 0 {
		delete(s.chunks, documentID)
		return nil
	}
	s.chunks[documentID] = next
	return nil
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Chunk(nil), s.chunks[documentID]...), nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

func (s *Store) Search(ctx context.Context, vector []float32, filter store.SearchFilter, k int) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []store.SearchHit
	for docID, chunks := range s.chunks {
		if filter.DocumentID != "" && filter.DocumentID != docID {
			continue
		}
		for _, c := range chunks {
			if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
				continue
			}
			if filter.Category != "" && c.Category != filter.Category {
				continue
			}
			if len(c.Vector) != len(vector) {
				continue
			}
			hits = append(hits, store.SearchHit{Chunk: c, Score: cosine(vector, c.Vector)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			if hits[i].Chunk.DocumentID == hits[j].Chunk.DocumentID {
				return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
			}
			return hits[i].Chunk.DocumentID < hits[j].Chunk.DocumentID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) ProjectDimension(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chunks := range s.chunks {
		for _, c := range chunks {
			if c.ProjectID == projectID && len(c.Vector) > 0 {
				return len(c.Vector), nil
			}
		}
	}
	return 0, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) findLive(projectID, digest string) *models.Document {
	for _, doc := range s.documents {
		if doc.ProjectID == projectID && doc.Digest == digest && doc.Live() {
			return doc
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
