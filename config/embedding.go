package config

import "time"

const (
	EmbeddingHash   = "hash"
	EmbeddingOllama = "ollama"
	EmbeddingGemini = "gemini"
)

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

func applyEmbeddingEnv(c *EmbeddingConfig) {
	c.Provider = getEnv("EMBEDDING_PROVIDER", c.Provider)
	c.Model = getEnv("EMBEDDING_MODEL", c.Model)
	c.Endpoint = getEnv("EMBEDDING_ENDPOINT", c.Endpoint)
	c.APIKey = getEnv("GEMINI_API_KEY", c.APIKey)
	c.Dimension = getEnvInt("EMBEDDING_DIMENSION", c.Dimension)
	c.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", c.BatchSize)
	c.Timeout = getEnvDuration("EMBEDDING_TIMEOUT", c.Timeout)
}
