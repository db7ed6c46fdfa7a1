// Package dedup computes content digests and answers whether a project
// already holds a live document with the same bytes.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
)

// Digest returns the lower-case hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through sha256.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Finder is the slice of the document store the deduplicator needs.
type Finder interface {
	FindLive(ctx context.Context, projectID, digest string) (*models.Document, error)
}

type Deduplicator struct {
	finder Finder
}

func New(finder Finder) *Deduplicator {
	return &Deduplicator{finder: finder}
}

// Lookup returns the live document holding digest in the project, if any.
// handled is true when that document is pending, processing or indexed; a
// failed document is returned with handled=false so the caller may retry it.
func (d *Deduplicator) Lookup(ctx context.Context, projectID, digest string) (doc *models.Document, handled bool, err error) {
	doc, err = d.finder.FindLive(ctx, projectID, digest)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up digest: %w", err)
	}
	return doc, doc.Status != models.StatusFailed, nil
}
