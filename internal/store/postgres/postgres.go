// Package postgres implements store.Store on PostgreSQL with pgvector.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, maxConns int32, log logger.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info("Connected to postgres", logger.Int("maxConns", int(poolCfg.MaxConns)))
	return &Store{pool: pool, logger: log}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const documentColumns = `id, project_id, filename, storage_path, family, file_type, file_size,
	content_digest, status, failure_reason, error_message, full_text, pages, tables, metadata,
	page_count, language, category, version, COALESCE(supersedes, ''), COALESCE(superseded_by, ''),
	COALESCE(parent_id, ''), processing_ms, created_at, updated_at, indexed_at`

func (s *Store) Claim(ctx context.Context, req store.ClaimRequest) (*models.Document, store.ClaimOutcome, error) {
	meta, err := json.Marshal(nonNilMeta(req.Metadata))
	if err != nil {
		return nil, store.ClaimExists, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	version := req.Version
	if version < 1 {
		version = 1
	}

	id := uuid.New().String()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, project_id, filename, storage_path, family, file_type, file_size,
			content_digest, status, metadata, version, supersedes, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), NULLIF($13, ''))
		ON CONFLICT (project_id, content_digest) WHERE superseded_by IS NULL DO NOTHING`,
		id, req.ProjectID, req.Filename, req.StoragePath, string(models.FamilyUnknown), req.FileType,
		req.FileSize, req.Digest, string(models.StatusPending), meta, version, req.Supersedes, req.ParentID)
	if err != nil {
		return nil, store.ClaimExists, fmt.Errorf("failed to insert document: %w", err)
	}
	if tag.RowsAffected() == 1 {
		doc, err := s.GetDocument(ctx, id)
		return doc, store.ClaimCreated, err
	}

	existing, err := s.FindLive(ctx, req.ProjectID, req.Digest)
	if err != nil {
		return nil, store.ClaimExists, err
	}
	if existing.Status != models.StatusFailed {
		return existing, store.ClaimExists, nil
	}
	// reopen only if nobody else got there first
	tag, err = s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		existing.ID, string(models.StatusPending), string(models.StatusFailed))
	if err != nil {
		return nil, store.ClaimExists, fmt.Errorf("failed to reopen document: %w", err)
	}
	doc, err := s.GetDocument(ctx, existing.ID)
	if err != nil {
		return nil, store.ClaimExists, err
	}
	if tag.RowsAffected() == 1 {
		return doc, store.ClaimRetry, nil
	}
	return doc, store.ClaimExists, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE project_id = $1 ORDER BY created_at, filename`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) FindLive(ctx context.Context, projectID, digest string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE project_id = $1 AND content_digest = $2 AND superseded_by IS NULL`, projectID, digest)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}

func (s *Store) FindLiveByFilename(ctx context.Context, projectID, filename string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE project_id = $1 AND filename = $2 AND superseded_by IS NULL
		ORDER BY version DESC LIMIT 1`, projectID, filename)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}

func (s *Store) UpdateDocument(ctx context.Context, doc *models.Document) error {
	pages, err := json.Marshal(nonNilPages(doc.Pages))
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}
	tables, err := json.Marshal(nonNilTables(doc.Tables))
	if err != nil {
		return fmt.Errorf("failed to marshal tables: %w", err)
	}
	meta, err := json.Marshal(nonNilMeta(doc.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET
			storage_path = $2, family = $3, file_type = $4, file_size = $5, status = $6,
			failure_reason = $7, error_message = $8, full_text = $9, pages = $10, tables = $11,
			metadata = $12, page_count = $13, language = $14, category = $15,
			processing_ms = $16, indexed_at = $17, updated_at = now()
		WHERE id = $1 AND status <> $18`,
		doc.ID, doc.StoragePath, string(doc.Family), doc.FileType, doc.FileSize, string(doc.Status),
		string(doc.FailureReason), doc.ErrorMessage, doc.Text, pages, tables, meta, doc.PageCount,
		doc.Language, doc.Category, doc.ProcessingTime.Milliseconds(), doc.IndexedAt,
		string(models.StatusIndexed))
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetDocument(ctx, doc.ID); err != nil {
		return err
	}
	return fmt.Errorf("document %s: %w", doc.ID, store.ErrImmutable)
}

func (s *Store) Supersede(ctx context.Context, oldID, newID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE documents SET superseded_by = $2, updated_at = now() WHERE id = $1`, oldID, newID)
		if err != nil {
			return fmt.Errorf("failed to mark superseded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("document %s: %w", oldID, store.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, oldID); err != nil {
			return fmt.Errorf("failed to delete superseded chunks: %w", err)
		}
		return nil
	})
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	for i, c := range chunks {
		if c.Ordinal != i {
			return fmt.Errorf("chunk ordinals must be contiguous: position %d has ordinal %d", i, c.Ordinal)
		}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.New().String()
			}
			batch.Queue(`
				INSERT INTO document_chunks (id, document_id, project_id, ordinal, char_start, char_end,
					content, page_number, filename, category, dimension, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				id, documentID, c.ProjectID, c.Ordinal, c.Start, c.End, c.Text, c.PageNumber,
				c.Filename, c.Category, len(c.Vector), pgvector.NewVector(c.Vector))
		}
		results := tx.SendBatch(ctx, batch)
		for range chunks {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
		}
		return results.Close()
	})
}

const chunkColumns = `id, document_id, project_id, ordinal, char_start, char_end, content,
	page_number, filename, category, embedding, created_at`

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *Store) Search(ctx context.Context, vector []float32, filter store.SearchFilter, k int) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`, 1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE dimension = $2
			AND ($3 = '' OR project_id = $3)
			AND ($4 = '' OR document_id = $4)
			AND ($5 = '' OR category = $5)
		ORDER BY embedding <=> $1
		LIMIT $6`,
		pgvector.NewVector(vector), len(vector), filter.ProjectID, filter.DocumentID, filter.Category, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var hits []store.SearchHit
	for rows.Next() {
		var (
			c     models.Chunk
			emb   pgvector.Vector
			score float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Ordinal, &c.Start, &c.End, &c.Text,
			&c.PageNumber, &c.Filename, &c.Category, &emb, &c.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		c.Vector = emb.Slice()
		hits = append(hits, store.SearchHit{Chunk: c, Score: score})
	}
	return hits, rows.Err()
}

func (s *Store) ProjectDimension(ctx context.Context, projectID string) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM document_chunks WHERE project_id = $1 LIMIT 1`, projectID).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read project dimension: %w", err)
	}
	return dim, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc                 models.Document
		family, status, why string
		pages, tables, meta []byte
		processingMS        int64
	)
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.StoragePath, &family, &doc.FileType,
		&doc.FileSize, &doc.Digest, &status, &why, &doc.ErrorMessage, &doc.Text, &pages, &tables, &meta,
		&doc.PageCount, &doc.Language, &doc.Category, &doc.Version, &doc.Supersedes, &doc.SupersededBy,
		&doc.ParentID, &processingMS, &doc.CreatedAt, &doc.UpdatedAt, &doc.IndexedAt)
	if err != nil {
		return nil, err
	}
	doc.Family = models.FormatFamily(family)
	doc.Status = models.DocumentStatus(status)
	doc.FailureReason = models.FailureReason(why)
	doc.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	if err := json.Unmarshal(pages, &doc.Pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	if err := json.Unmarshal(tables, &doc.Tables); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{})
	}
	return &doc, nil
}

func scanChunk(row pgx.Row) (models.Chunk, error) {
	var (
		c   models.Chunk
		emb pgvector.Vector
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Ordinal, &c.Start, &c.End, &c.Text,
		&c.PageNumber, &c.Filename, &c.Category, &emb, &c.CreatedAt); err != nil {
		return c, fmt.Errorf("failed to scan chunk: %w", err)
	}
	c.Vector = emb.Slice()
	return c, nil
}

func nonNilMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nonNilPages(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

func nonNilTables(t []models.Table) []models.Table {
	if t == nil {
		return []models.Table{}
	}
	return t
}
