package config

type S3Config struct {
	BucketName string `yaml:"bucket"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

func applyS3Env(c *S3Config) {
	c.BucketName = getEnv("AWS_S3_BUCKET_NAME", c.BucketName)
	c.Region = getEnv("AWS_REGION", c.Region)
	c.Endpoint = getEnv("AWS_ENDPOINT", c.Endpoint)
	c.AccessKey = getEnv("AWS_ACCESS_KEY", c.AccessKey)
	c.SecretKey = getEnv("AWS_SECRET_KEY", c.SecretKey)
}
