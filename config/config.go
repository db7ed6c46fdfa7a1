package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	once   sync.Once
	global *Config
)

// Config is the root configuration shared by the server, the worker and the CLI.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	OCR       OCRConfig       `yaml:"ocr"`
	CAD       CADConfig       `yaml:"cad"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type IngestConfig struct {
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	Workers          int           `yaml:"workers"`
	HeavyWorkers     int           `yaml:"heavy_workers"`
	HeavyShare       float64       `yaml:"heavy_share"`
	ParseTimeout     time.Duration `yaml:"parse_timeout"`
	MaxFileSize      int64         `yaml:"max_file_size"`
	DefaultLanguages []string      `yaml:"default_languages"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Concurrency int            `yaml:"concurrency"`
	MaxRetry    int            `yaml:"max_retry"`
	Timeout     time.Duration  `yaml:"timeout"`
	Queues      map[string]int `yaml:"queues"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowOrigins 为空时允许所有来源
	AllowOrigins []string `yaml:"allow_origins"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// Default returns the built-in configuration.
func Default() *Config {
	workers := runtime.NumCPU()
	heavy := workers / 2
	if heavy < 1 {
		heavy = 1
	}
	return &Config{
		Ingest: IngestConfig{
			ChunkSize:        1000,
			ChunkOverlap:     200,
			Workers:          workers,
			HeavyWorkers:     heavy,
			HeavyShare:       0.5,
			ParseTimeout:     5 * time.Minute,
			MaxFileSize:      200 * 1024 * 1024,
			DefaultLanguages: []string{"en", "ar"},
		},
		OCR: OCRConfig{
			Engine:        OCREngineTesseract,
			Languages:     []string{"eng", "ara"},
			Threshold:     100,
			MinConfidence: 60,
			Preprocess:    true,
			Render: RenderConfig{
				PdftoppmPath: "pdftoppm",
				DPI:          300,
				Timeout:      60 * time.Second,
			},
		},
		CAD: CADConfig{
			ConverterPath: "ODAFileConverter",
			TargetVersion: "ACAD2018",
			Timeout:       120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  EmbeddingHash,
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			Dimension: 768,
			BatchSize: 32,
			Timeout:   60 * time.Second,
		},
		Storage: StorageConfig{
			Type:  StorageLocal,
			Local: LocalConfig{Root: "data/uploads"},
		},
		Database: DatabaseConfig{MaxConns: 10},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			Concurrency: 4,
			MaxRetry:    3,
			Timeout:     2 * time.Hour,
			Queues:      map[string]int{"critical": 6, "default": 3, "low": 1},
		},
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Get returns the process-wide configuration, loading it on first use from
// CONFIG_FILE (if set) and the repository .env file.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load(os.Getenv("CONFIG_FILE"))
		if err != nil {
			log.Printf("Warning: failed to load config, using defaults: %v", err)
			cfg = Default()
			applyEnv(cfg)
		}
		global = cfg
	})
	return global
}

// Load builds a configuration from defaults, an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	loadDotEnv()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk_size must be positive"))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive"))
	}
	if c.Ingest.HeavyWorkers <= 0 || c.Ingest.HeavyWorkers > c.Ingest.Workers {
		c.Ingest.HeavyWorkers = max(1, c.Ingest.Workers/2)
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive"))
	}
	if c.CAD.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("cad.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func loadDotEnv() {
	// 获取当前文件的目录, 构建到项目根目录的路径
	_, filename, _, _ := runtime.Caller(0)
	envPath := filepath.Join(filepath.Dir(filepath.Dir(filename)), ".env")

	if err := godotenv.Load(envPath); err != nil {
		// a .env in the working directory is the fallback for installed binaries
		_ = godotenv.Load()
	}
}

func applyEnv(c *Config) {
	c.Ingest.ChunkSize = getEnvInt("INGEST_CHUNK_SIZE", c.Ingest.ChunkSize)
	c.Ingest.ChunkOverlap = getEnvInt("INGEST_CHUNK_OVERLAP", c.Ingest.ChunkOverlap)
	c.Ingest.Workers = getEnvInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.HeavyWorkers = getEnvInt("INGEST_HEAVY_WORKERS", c.Ingest.HeavyWorkers)
	c.Ingest.ParseTimeout = getEnvDuration("INGEST_PARSE_TIMEOUT", c.Ingest.ParseTimeout)
	c.Ingest.DefaultLanguages = getEnvList("INGEST_LANGUAGES", c.Ingest.DefaultLanguages)

	applyOCREnv(&c.OCR)
	applyCADEnv(&c.CAD)
	applyEmbeddingEnv(&c.Embedding)
	applyStorageEnv(&c.Storage)

	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Queue.Concurrency = getEnvInt("QUEUE_CONCURRENCY", c.Queue.Concurrency)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.AllowOrigins = getEnvList("SERVER_ALLOW_ORIGINS", c.Server.AllowOrigins)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("LOG_ENCODING", c.Log.Encoding)
	c.Log.OutputPaths = getEnvList("LOG_OUTPUTS", c.Log.OutputPaths)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
