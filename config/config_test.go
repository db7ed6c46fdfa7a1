package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, StorageLocal, cfg.Storage.Type)
	assert.Equal(t, OCREngineTesseract, cfg.OCR.Engine)
	assert.LessOrEqual(t, cfg.Ingest.HeavyWorkers, cfg.Ingest.Workers)
}

func TestLoadYAMLThenEnvironment(t *testing.T) {
	path := writeYAML(t, `
ingest:
  chunk_size: 800
  chunk_overlap: 100
  workers: 6
  heavy_workers: 2
  default_languages: [en]
ocr:
  engine: textract
  textract:
    region: me-central-1
embedding:
  provider: ollama
  dimension: 1024
storage:
  type: minio
  retention: 720h
`)
	t.Setenv("INGEST_CHUNK_OVERLAP", "120")
	t.Setenv("INGEST_LANGUAGES", "en, ar ,")
	t.Setenv("ODA_TIMEOUT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 120, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 6, cfg.Ingest.Workers)
	assert.Equal(t, 2, cfg.Ingest.HeavyWorkers)
	assert.Equal(t, []string{"en", "ar"}, cfg.Ingest.DefaultLanguages)
	assert.Equal(t, OCREngineTextract, cfg.OCR.Engine)
	assert.Equal(t, "me-central-1", cfg.OCR.Textract.Region)
	assert.Equal(t, EmbeddingOllama, cfg.Embedding.Provider)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, StorageMinio, cfg.Storage.Type)
	assert.Equal(t, 720*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, 30*time.Second, cfg.CAD.Timeout)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeYAML(t, "ingest:\n  chunk_size: 100\n  chunk_overlap: 100\nembedding:\n  dimension: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
	assert.Contains(t, err.Error(), "embedding.dimension")

	_, err = Load(writeYAML(t, "ingest: [not, a, map"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateClampsHeavyWorkers(t *testing.T) {
	cfg := Default()
	cfg.Ingest.Workers = 4
	cfg.Ingest.HeavyWorkers = 9
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Ingest.HeavyWorkers)

	cfg.Ingest.Workers = 1
	cfg.Ingest.HeavyWorkers = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Ingest.HeavyWorkers)
}

func TestEnvHelpersIgnoreBadValues(t *testing.T) {
	t.Setenv("TEST_INT", "many")
	t.Setenv("TEST_DURATION", "soon")
	t.Setenv("TEST_BOOL", "yes please")
	t.Setenv("TEST_LIST", "  ")

	assert.Equal(t, 3, getEnvInt("TEST_INT", 3))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.True(t, getEnvBool("TEST_BOOL", true))
	assert.Equal(t, []string{"x"}, getEnvList("TEST_LIST", []string{"x"}))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))
}
