// Package bootstrap turns a config.Config into a wired ingestion pipeline.
// The server, the worker and ingestctl all start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent"
	"github.com/feichai0017/tender-ingest/internal/agent/document/cad"
	"github.com/feichai0017/tender-ingest/internal/agent/document/pdf"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/embedding"
	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/internal/store/memory"
	"github.com/feichai0017/tender-ingest/internal/store/postgres"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/metrics"
	"github.com/feichai0017/tender-ingest/pkg/progress"
	"github.com/feichai0017/tender-ingest/pkg/storage"
)

// EngineFactory builds a local OCR engine. The binaries pass the Tesseract
// constructor so this package stays free of cgo.
type EngineFactory func(cfg config.OCRConfig, log logger.Logger) (ocr.Engine, error)

type Options struct {
	Tesseract EngineFactory
	Publisher progress.Publisher
	Metrics   *metrics.Metrics
}

// Pipeline holds everything the orchestrator was built from.
type Pipeline struct {
	Config   *config.Config
	Logger   logger.Logger
	Store    store.Store
	Storage  storage.Storage
	Embedder embedding.Generator
	Detector *agent.Detector
	Ingest   *ingest.Service

	closers []func() error
}

// NewLogger builds the zap logger described by the log section.
func NewLogger(cfg config.LogConfig) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithOutputPaths(cfg.OutputPaths),
	)
}

// OpenStore uses Postgres when a DSN is configured and the in-memory store otherwise.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (store.Store, error) {
	if cfg.DSN == "" {
		log.Warn("No database configured, documents are kept in memory")
		return memory.New(), nil
	}
	st, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns, log.Named("postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// NewOCREngine never fails: an engine that cannot start is replaced by
// ocr.Unavailable so scanned inputs fail with ocr_unavailable instead of
// stopping the process.
func NewOCREngine(ctx context.Context, cfg config.OCRConfig, log logger.Logger, tesseract EngineFactory) ocr.Engine {
	var (
		engine ocr.Engine
		err    error
	)
	switch cfg.Engine {
	case config.OCREngineTextract:
		engine, err = ocr.NewTextract(ctx, cfg.Textract, log.Named("textract"))
	case config.OCREngineTesseract, "":
		if tesseract == nil {
			err = errors.New("tesseract support not linked")
			break
		}
		engine, err = tesseract(cfg, log.Named("tesseract"))
	case config.OCREngineNone:
		return ocr.Unavailable{}
	default:
		err = fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
	if err != nil {
		log.Warn("OCR engine unavailable, scanned inputs will fail",
			logger.String("engine", cfg.Engine),
			logger.Error(err),
		)
		return ocr.Unavailable{Cause: err}
	}
	return engine
}

// NewPipeline wires store, storage, parsers, embedder and orchestrator.
func NewPipeline(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*Pipeline, error) {
	p := &Pipeline{Config: cfg, Logger: log}

	st, err := OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	p.Store = st
	p.closers = append(p.closers, st.Close)

	objects, err := storage.NewStorage(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	p.Storage = objects

	embedder, err := embedding.New(ctx, cfg.Embedding, log.Named("embedding"))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	p.Embedder = embedder
	if c, ok := embedder.(interface{ Close() error }); ok {
		p.closers = append(p.closers, c.Close)
	}

	p.Detector = agent.NewDefaultDetector(agent.Dependencies{
		OCR:          NewOCREngine(ctx, cfg.OCR, log, opts.Tesseract),
		Rasterizer:   pdf.NewPdfcpuRasterizer(pdf.NewPopplerRenderer(cfg.OCR.Render, log.Named("pdf"))),
		Converter:    cad.NewODAConverter(cfg.CAD, log.Named("cad")),
		OCRThreshold: cfg.OCR.Threshold,
		Logger:       log,
	})

	svc, err := ingest.NewService(st, p.Detector, embedder, ingest.ConfigFrom(cfg), ingest.Options{
		Storage:   objects,
		Publisher: opts.Publisher,
		Metrics:   opts.Metrics,
		Logger:    log.Named("ingest"),
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Ingest = svc
	return p, nil
}

// Close releases the store and provider clients in reverse order.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}
