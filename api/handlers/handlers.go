package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/tender-ingest/internal/service/document"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	// Progress is nil when no Redis status stream is configured.
	Progress *ProgressHandler
}

func NewHandlers(
	documentService document.DocumentProcessor,
	progress ProgressSource,
	logger logger.Logger,
) *Handlers {
	h := &Handlers{
		Document: NewDocumentHandler(documentService, logger),
	}
	if progress != nil {
		h.Progress = NewProgressHandler(progress, logger)
	}
	return h
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
