package testutil

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/feichai0017/tender-ingest/internal/agent/document/pdf"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/embedding"
)

// OCR is a scripted engine. It returns Text for every image, or Err.
type OCR struct {
	Text       string
	Confidence float64
	Err        error

	calls atomic.Int32
	mu    sync.Mutex
	langs [][]string
}

func (o *OCR) Name() string { return "fake-ocr" }

func (o *OCR) Recognize(ctx context.Context, img image.Image) (ocr.Result, error) {
	o.calls.Add(1)
	o.mu.Lock()
	o.langs = append(o.langs, ocr.Languages(ctx))
	o.mu.Unlock()
	if o.Err != nil {
		return ocr.Result{}, o.Err
	}
	conf := o.Confidence
	if conf == 0 {
		conf = 91
	}
	return ocr.Result{Text: o.Text, Confidence: conf}, nil
}

// Calls returns how many images were recognized.
func (o *OCR) Calls() int { return int(o.calls.Load()) }

// Languages returns the language hints seen by each call.
func (o *OCR) Languages() [][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.langs)
}

// Rasterizer returns one blank image per page in Pages.
type Rasterizer struct {
	Pages []int
	Err   error

	calls atomic.Int32
}

func (r *Rasterizer) Rasterize(ctx context.Context, data []byte) ([]pdf.PageImage, error) {
	r.calls.Add(1)
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]pdf.PageImage, 0, len(r.Pages))
	for _, p := range r.Pages {
		out = append(out, pdf.PageImage{Page: p, Image: image.NewGray(image.Rect(0, 0, 8, 8))})
	}
	return out, nil
}

func (r *Rasterizer) Calls() int { return int(r.calls.Load()) }

// Converter stands in for the DWG converter.
type Converter struct {
	DXF string
	Err error
	// Block, when set, makes Convert wait until the context ends.
	Block bool
}

func (c *Converter) Convert(ctx context.Context, name string, data []byte) ([]byte, error) {
	if c.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return []byte(c.DXF), nil
}

// ErrEmbedding is what Embedder returns while failing.
var ErrEmbedding = errors.New("embedding provider unavailable")

// Embedder wraps the hash embedder. It can be switched to fail, and it
// records the size of every batch.
type Embedder struct {
	*embedding.Hash

	mu      sync.Mutex
	failing bool
	batches []int
}

var _ embedding.Generator = (*Embedder)(nil)

func NewEmbedder(dim int) *Embedder {
	return &Embedder{Hash: embedding.NewHash(dim)}
}

func (e *Embedder) Name() string { return "fake" }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	failing := e.failing
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	if failing {
		return nil, ErrEmbedding
	}
	return e.Hash.Embed(ctx, texts)
}

// SetFailing makes every following Embed call fail, or succeed again.
func (e *Embedder) SetFailing(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing = v
}

// Batches returns the number of texts of every Embed call so far.
func (e *Embedder) Batches() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batches...)
}

// ShortEmbedder answers with vectors one value shorter than it declares.
type ShortEmbedder struct {
	*embedding.Hash
}

func (e ShortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Hash.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = vecs[i][:len(vecs[i])-1]
	}
	return vecs, nil
}
