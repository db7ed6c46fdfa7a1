package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.DocumentDone("pdf", "indexed", "")
	m.DocumentDone("pdf", "indexed", "")
	m.DocumentDone("cad", "failed", "conversion_failed")
	m.OCRPages("tesseract", 3)
	m.OCRPages("tesseract", 0)
	m.Conversion("ok")
	m.EmbeddingRequest("hash", nil)
	m.EmbeddingRequest("hash", errors.New("timeout"))
	m.ObserveStage("parse", "pdf", 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents.WithLabelValues("pdf", "indexed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("cad", "failed", "conversion_failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ocrPages.WithLabelValues("tesseract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddings.WithLabelValues("hash", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))

	done := m.Begin()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocumentDone("pdf", "indexed", "")
		m.ObserveStage("parse", "pdf", time.Second)
		m.OCRPages("tesseract", 1)
		m.Conversion("ok")
		m.EmbeddingRequest("hash", nil)
		m.Begin()()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesIngestMetrics(t *testing.T) {
	m := New()
	m.DocumentDone("sheet", "indexed", "")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `ingest_documents_total{family="sheet",reason="",status="indexed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
