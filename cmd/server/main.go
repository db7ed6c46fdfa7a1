package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/tender-ingest/api/handlers"
	"github.com/feichai0017/tender-ingest/api/routes"
	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/bootstrap"
	"github.com/feichai0017/tender-ingest/internal/service/document"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/metrics"
	"github.com/feichai0017/tender-ingest/pkg/progress"
	"github.com/feichai0017/tender-ingest/pkg/queue"
)

func main() {
	cfg := config.Get()

	// init logger
	log, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the API never parses, so no OCR engine is started here
	apiCfg := *cfg
	apiCfg.OCR.Engine = config.OCREngineNone

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	pipeline, err := bootstrap.NewPipeline(ctx, &apiCfg, log, bootstrap.Options{Metrics: m})
	if err != nil {
		log.Fatal("Failed to build pipeline", logger.Error(err))
	}
	defer pipeline.Close()

	q := queue.NewAsynqQueue(cfg.Redis, cfg.Queue)
	defer q.Close()

	// init document service
	docService := document.NewService(pipeline.Ingest, q, pipeline.Storage, log.Named("document"), &document.ServiceConfig{
		MaxFileSize:     cfg.Ingest.MaxFileSize,
		MaxConcurrent:   cfg.Queue.Concurrency,
		RetentionPeriod: cfg.Storage.Retention,
	})

	// init handlers
	h := handlers.NewHandlers(docService, progress.NewRedisPublisher(q.Redis()), log)
	r := gin.New()
	r.Use(gin.Recovery())
	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}
	routes.SetupRoutes(r, h, metricsHandler, log, cfg.Server.AllowOrigins...)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		os.Exit(1)
	}
}
