package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/agent"
	"github.com/feichai0017/tender-ingest/internal/embedding"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/internal/store/memory"
	"github.com/feichai0017/tender-ingest/internal/testutil"
	"github.com/feichai0017/tender-ingest/pkg/logger"
	"github.com/feichai0017/tender-ingest/pkg/progress"
)

const project = "tender-042"

type fixture struct {
	svc        *Service
	store      store.Store
	embedder   *testutil.Embedder
	ocr        *testutil.OCR
	rasterizer *testutil.Rasterizer
	recorder   *progress.Recorder
	log        *logger.TestLogger
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	store     store.Store
	converter *testutil.Converter
	embedder  embedding.Generator
	config    *Config
	options   Options
}

func withConverter(c *testutil.Converter) fixtureOption {
	return func(fc *fixtureConfig) { fc.converter = c }
}

func withStore(st store.Store) fixtureOption {
	return func(fc *fixtureConfig) { fc.store = st }
}

func withEmbedder(g embedding.Generator) fixtureOption {
	return func(fc *fixtureConfig) { fc.embedder = g }
}

func withConfig(mutate func(*Config)) fixtureOption {
	return func(fc *fixtureConfig) { mutate(fc.config) }
}

func withOptions(mutate func(*Options)) fixtureOption {
	return func(fc *fixtureConfig) { mutate(&fc.options) }
}

func testConfig() *Config {
	return &Config{
		ChunkSize:        200,
		ChunkOverlap:     40,
		Workers:          4,
		HeavyWorkers:     2,
		HeavyShare:       0.5,
		ParseTimeout:     10 * time.Second,
		EmbedBatchSize:   8,
		DefaultLanguages: []string{"en"},
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := &fixtureConfig{config: testConfig()}
	for _, o := range opts {
		o(fc)
	}
	if fc.store == nil {
		fc.store = memory.New()
	}

	f := &fixture{
		store:      fc.store,
		ocr:        &testutil.OCR{Text: "BOREHOLE LOG BH-01 made ground to 1.2m over stiff clay, groundwater at 3.4m"},
		rasterizer: &testutil.Rasterizer{Pages: []int{1}},
		recorder:   &progress.Recorder{},
		log:        logger.NewTestLogger(),
	}
	deps := agent.Dependencies{
		OCR:        f.ocr,
		Rasterizer: f.rasterizer,
		Logger:     f.log,
	}
	if fc.converter != nil {
		deps.Converter = fc.converter
	}

	embedder := fc.embedder
	if embedder == nil {
		f.embedder = testutil.NewEmbedder(64)
		embedder = f.embedder
	}

	options := fc.options
	if options.Publisher == nil {
		options.Publisher = f.recorder
	}
	options.Logger = f.log

	svc, err := NewService(fc.store, agent.NewDefaultDetector(deps), embedder, fc.config, options)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) ingest(t *testing.T, name string, data []byte) Outcome {
	t.Helper()
	return f.svc.IngestFile(context.Background(), FileRequest{ProjectID: project, Filename: name, Data: data})
}

func (f *fixture) document(t *testing.T, id string) *models.Document {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) chunks(t *testing.T, id string) []models.Chunk {
	t.Helper()
	chunks, err := f.store.ListChunks(context.Background(), id)
	require.NoError(t, err)
	return chunks
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func specificationPDF() []byte {
	return testutil.NativePDF("Technical Specification",
		"Section 03 30 00 Cast-in-place concrete.",
		"Concrete grade C40 with a maximum water cement ratio of 0.45.",
		"Reinforcement to BS 4449 grade B500B, cover 50mm to buried faces.",
	)
}

func boqWorkbook(t *testing.T) []byte {
	return testutil.Xlsx(t, "Bill of Quantities",
		testutil.Sheet{Name: "BOQ", Rows: [][]string{
			{"Item", "Description", "Unit", "Qty", "Rate"},
			{"2.1", "Excavate foundation trenches", "m3", "420", ""},
			{"2.2", "Blinding concrete 50mm", "m2", "860", ""},
			{"2.3", "Reinforced concrete C40 in raft", "m3", "1250", ""},
		}},
		testutil.Sheet{Name: "Summary", Rows: [][]string{
			{"Bill", "Total"},
			{"BOQ", ""},
		}},
	)
}
