package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr/tesseract"
	"github.com/feichai0017/tender-ingest/internal/bootstrap"
	"github.com/feichai0017/tender-ingest/internal/service/document"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/metrics"
	"github.com/feichai0017/tender-ingest/pkg/progress"
	"github.com/feichai0017/tender-ingest/pkg/queue"
	"github.com/feichai0017/tender-ingest/pkg/worker"
)

func main() {
	cfg := config.Get()

	// 初始化日志
	log, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.NewAsynqQueue(cfg.Redis, cfg.Queue)
	defer q.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go serveMetrics(ctx, cfg.Metrics.Addr, m, log)
	}

	// 创建摄取流水线
	pipeline, err := bootstrap.NewPipeline(ctx, cfg, log, bootstrap.Options{
		Tesseract: tesseract.NewEngine,
		Publisher: progress.NewRedisPublisher(q.Redis()),
		Metrics:   m,
	})
	if err != nil {
		log.Error("Failed to build pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer pipeline.Close()

	docService := document.NewService(pipeline.Ingest, q, pipeline.Storage, log.Named("document"), &document.ServiceConfig{
		MaxFileSize:     cfg.Ingest.MaxFileSize,
		MaxConcurrent:   cfg.Queue.Concurrency,
		RetentionPeriod: cfg.Storage.Retention,
	})

	// 创建 worker
	ingestWorker := worker.NewIngestWorker(&worker.Config{
		Redis:       queue.RedisOpt(cfg.Redis),
		Concurrency: cfg.Queue.Concurrency,
		Queues:      cfg.Queue.Queues,
	}, docService, log.Named("worker"))

	// 启动 worker
	if err := ingestWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	if cfg.Storage.Retention > 0 {
		go cleanupLoop(ctx, docService, cfg.Storage.Retention, log)
	}

	<-ctx.Done()

	// 优雅关闭
	log.Info("Shutting down worker...")
	ingestWorker.Stop()
	log.Info("Worker stopped")
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("Metrics listening", logger.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server error", logger.Error(err))
	}
}

// cleanupLoop 定期清理过期上传
func cleanupLoop(ctx context.Context, svc document.DocumentProcessor, every time.Duration, log logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.CleanupUploads(ctx); err != nil {
				log.Error("Upload cleanup failed", logger.Error(err))
			}
		}
	}
}
