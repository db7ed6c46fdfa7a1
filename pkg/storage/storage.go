package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/storage/local"
	"github.com/feichai0017/tender-ingest/pkg/storage/minio"
	"github.com/feichai0017/tender-ingest/pkg/storage/objkey"
	"github.com/feichai0017/tender-ingest/pkg/storage/s3"
)

// Storage 原始文件存储接口
type Storage interface {
	// Store 存储文件, 返回对象 key
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case config.StorageS3:
		return s3.NewS3Storage(ctx, cfg.S3, log)
	case config.StorageMinio:
		return minio.NewMinioStorage(ctx, cfg.MinIO, log)
	case config.StorageLocal, "":
		return local.New(cfg.Local.Root, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ObjectKey places an upload under its project and digest so re-uploads of
// identical bytes land on the same key.
func ObjectKey(projectID, digest, filename string) string {
	return objkey.Build(projectID, digest, filename)
}
