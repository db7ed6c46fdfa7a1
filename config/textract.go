package config

// TextractConfig is used when ocr.engine is "textract".
type TextractConfig struct {
	Region        string  `yaml:"region"`
	Endpoint      string  `yaml:"endpoint"`
	AccessKey     string  `yaml:"access_key"`
	SecretKey     string  `yaml:"secret_key"`
	MinConfidence float32 `yaml:"min_confidence"`
}

func applyTextractEnv(c *TextractConfig) {
	c.Region = getEnv("AWS_REGION", c.Region)
	c.Endpoint = getEnv("AWS_ENDPOINT", c.Endpoint)
	c.AccessKey = getEnv("AWS_ACCESS_KEY", c.AccessKey)
	c.SecretKey = getEnv("AWS_SECRET_KEY", c.SecretKey)
}
