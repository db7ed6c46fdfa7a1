package config

import "time"

// StorageType 定义存储类型
type StorageType string

const (
	StorageS3    StorageType = "s3"
	StorageMinio StorageType = "minio"
	StorageLocal StorageType = "local"
)

type StorageConfig struct {
	Type  StorageType `yaml:"type"`
	MinIO MinioConfig `yaml:"minio"`
	S3    S3Config    `yaml:"s3"`
	Local LocalConfig `yaml:"local"`
	// Retention 上传文件保留时长, 0 表示永久保留
	Retention time.Duration `yaml:"retention"`
}

type LocalConfig struct {
	Root string `yaml:"root"`
}

func applyStorageEnv(c *StorageConfig) {
	c.Type = StorageType(getEnv("STORAGE_TYPE", string(c.Type)))
	c.Local.Root = getEnv("LOCAL_STORAGE_ROOT", c.Local.Root)
	c.Retention = getEnvDuration("STORAGE_RETENTION", c.Retention)
	applyMinioEnv(&c.MinIO)
	applyS3Env(&c.S3)
}
