package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/progress"
)

// ProgressSource is satisfied by progress.RedisPublisher.
type ProgressSource interface {
	Latest(ctx context.Context, projectID string) (map[string]progress.Update, error)
	Subscribe(ctx context.Context, projectID string) (<-chan progress.Update, error)
}

type ProgressHandler struct {
	source ProgressSource
	logger logger.Logger
}

func NewProgressHandler(source ProgressSource, log logger.Logger) *ProgressHandler {
	return &ProgressHandler{source: source, logger: log}
}

// Latest 返回项目内每个文档的最新状态
func (h *ProgressHandler) Latest(c *gin.Context) {
	updates, err := h.source.Latest(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.logger.Error("Failed to read progress", logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Failed to read progress", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": updates})
}

// Stream pushes updates as server-sent events until the client goes away.
func (h *ProgressHandler) Stream(c *gin.Context) {
	ch, err := h.source.Subscribe(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.logger.Error("Failed to subscribe to progress", logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Failed to subscribe", Error: err.Error()})
		return
	}
	c.Stream(func(w io.Writer) bool {
		u, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("update", u)
		return true
	})
}
