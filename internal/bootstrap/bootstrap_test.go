package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/store/memory"
	"github.com/feichai0017/tender-ingest/internal/testutil"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

func TestNewOCREngine(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()
	fake := &testutil.OCR{Text: "x"}
	factory := func(cfg config.OCRConfig, log logger.Logger) (ocr.Engine, error) { return fake, nil }
	broken := func(cfg config.OCRConfig, log logger.Logger) (ocr.Engine, error) {
		return nil, errors.New("ara.traineddata missing")
	}

	assert.Same(t, fake, NewOCREngine(ctx, config.OCRConfig{Engine: config.OCREngineTesseract}, log, factory))
	assert.Same(t, fake, NewOCREngine(ctx, config.OCRConfig{}, log, factory))

	for name, engine := range map[string]ocr.Engine{
		"none":         NewOCREngine(ctx, config.OCRConfig{Engine: config.OCREngineNone}, log, factory),
		"not linked":   NewOCREngine(ctx, config.OCRConfig{Engine: config.OCREngineTesseract}, log, nil),
		"broken":       NewOCREngine(ctx, config.OCRConfig{Engine: config.OCREngineTesseract}, log, broken),
		"unknown kind": NewOCREngine(ctx, config.OCRConfig{Engine: "abbyy"}, log, factory),
	} {
		_, err := engine.Recognize(ctx, nil)
		assert.ErrorIs(t, err, ocr.ErrUnavailable, name)
	}
}

func TestNewPipelineWithDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Local.Root = t.TempDir()
	cfg.Embedding.Dimension = 32
	cfg.OCR.Engine = config.OCREngineNone

	p, err := NewPipeline(context.Background(), cfg, logger.NewNop(), Options{})
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &memory.Store{}, p.Store)
	assert.Equal(t, "hash", p.Embedder.Name())
	assert.Equal(t, 32, p.Embedder.Dimension())

	out := p.Ingest.IngestFile(context.Background(), ingest.FileRequest{
		ProjectID: "p1",
		Filename:  "minutes.txt",
		Data:      []byte("Site visit minutes. " + testutil.Words(40)),
	})
	assert.Equal(t, ingest.OutcomeIndexed, out.Status, out.Error)
	assert.NoError(t, p.Close())
}

func TestNewPipelineRejectsUnknownProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Local.Root = t.TempDir()
	cfg.Embedding.Provider = "word2vec"
	_, err := NewPipeline(context.Background(), cfg, logger.NewNop(), Options{})
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Storage.Type = "ftp"
	_, err = NewPipeline(context.Background(), cfg, logger.NewNop(), Options{})
	assert.Error(t, err)
}
