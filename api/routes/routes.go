package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/tender-ingest/api/handlers"
	"github.com/feichai0017/tender-ingest/api/middleware"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// SetupRoutes 配置所有路由. metrics may be nil; no origins means any origin.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, metrics http.Handler, log logger.Logger, origins ...string) {
	// 全局中间件
	r.Use(middleware.CORS(origins...))
	r.Use(middleware.RequestLogger(log))

	// 健康检查
	r.GET("/healthz", handlers.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	// API 版本组
	v1 := r.Group("/api/v1")

	// 项目路由组
	projects := v1.Group("/projects/:projectId")
	{
		projects.POST("/documents", h.Document.UploadDocument)
		projects.POST("/documents/batch", h.Document.UploadBatch)
		projects.GET("/documents", h.Document.ListDocuments)
		projects.POST("/folders", h.Document.IngestFolder)
		projects.GET("/search", h.Document.Search)
		projects.DELETE("/ingestion", h.Document.CancelIngestion)
		projects.POST("/reembed", h.Document.Reembed)
		if h.Progress != nil {
			projects.GET("/progress", h.Progress.Latest)
			projects.GET("/progress/stream", h.Progress.Stream)
		}
	}

	// 文档路由组
	docs := v1.Group("/documents/:documentId")
	{
		docs.GET("", h.Document.GetDocument)
		docs.GET("/status", h.Document.GetDocumentStatus)
		docs.POST("/reindex", h.Document.Reindex)
	}

	v1.GET("/tasks/:taskId", h.Document.GetTaskStatus)
}
