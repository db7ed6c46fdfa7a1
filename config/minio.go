package config

type MinioConfig struct {
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"use_ssl"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucket"`
}

func applyMinioEnv(c *MinioConfig) {
	c.AccessKey = getEnv("MINIO_ACCESS_KEY", c.AccessKey)
	c.SecretKey = getEnv("MINIO_SECRET_KEY", c.SecretKey)
	c.Endpoint = getEnv("MINIO_ENDPOINT", c.Endpoint)
	c.UseSSL = getEnvBool("MINIO_USE_SSL", c.UseSSL)
	c.Region = getEnv("MINIO_REGION", c.Region)
	c.BucketName = getEnv("MINIO_BUCKET_NAME", c.BucketName)
}
