// Package store defines the authoritative Document/Chunk store and its
// vector search surface. memory and postgres hold the implementations.
package store

import (
	"context"
	"errors"

	"github.com/feichai0017/tender-ingest/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrImmutable is returned when an indexed document would be rewritten.
	ErrImmutable = errors.New("indexed document is immutable")
)

// ClaimOutcome tells the caller what Claim did.
type ClaimOutcome int

const (
	// ClaimCreated means a new pending document was created.
	ClaimCreated ClaimOutcome = iota
	// ClaimRetry means a failed live document was reopened as pending.
	ClaimRetry
	// ClaimExists means a live pending, processing or indexed document already holds the digest.
	ClaimExists
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimCreated:
		return "created"
	case ClaimRetry:
		return "retry"
	default:
		return "exists"
	}
}

// ClaimRequest describes a document about to be ingested.
type ClaimRequest struct {
	ProjectID   string
	Digest      string
	Filename    string
	StoragePath string
	FileType    string
	FileSize    int64
	Supersedes  string
	Version     int
	ParentID    string
	Metadata    map[string]interface{}
}

// SearchFilter narrows a similarity search. Empty fields do not filter.
type SearchFilter struct {
	ProjectID  string
	DocumentID string
	Category   string
}

// SearchHit is one chunk returned by Search, best first.
type SearchHit struct {
	Chunk models.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

type DocumentStore interface {
	// Claim atomically creates or reopens the live document for (project, digest).
	Claim(ctx context.Context, req ClaimRequest) (*models.Document, ClaimOutcome, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error)
	FindLive(ctx context.Context, projectID, digest string) (*models.Document, error)
	FindLiveByFilename(ctx context.Context, projectID, filename string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// Supersede marks oldID as replaced by newID and drops oldID's chunks in one step.
	Supersede(ctx context.Context, oldID, newID string) error
}

type ChunkIndex interface {
	// ReplaceChunks deletes every chunk of documentID and inserts chunks, atomically.
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	Search(ctx context.Context, vector []float32, filter SearchFilter, k int) ([]SearchHit, error)
	// ProjectDimension returns the vector length already indexed for the project, or 0.
	ProjectDimension(ctx context.Context, projectID string) (int, error)
}

type Store interface {
	DocumentStore
	ChunkIndex
	Close() error
}
