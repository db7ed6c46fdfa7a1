package pdf_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/document/pdf"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/testutil"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

func parse(t *testing.T, p *pdf.Processor, data []byte) (*models.ParsedContent, error) {
	t.Helper()
	return p.Parse(context.Background(), &document.File{Name: "doc.pdf", Data: data})
}

func TestParseNativeText(t *testing.T) {
	engine := &testutil.OCR{Text: "should not be used"}
	p := pdf.NewProcessor(engine, &testutil.Rasterizer{Pages: []int{1}}, 0, logger.NewNop())

	data := testutil.NativePDF("Conditions of Contract", "Clause 14 Contract Price and Payment.", "Interim payment certificates are issued monthly.")
	content, err := parse(t, p, data)
	require.NoError(t, err)

	assert.Contains(t, content.Text, "Clause 14 Contract Price and Payment.")
	assert.Equal(t, "Conditions of Contract", content.Metadata["title"])
	assert.Equal(t, "testutil", content.Metadata["producer"])
	assert.Equal(t, 1, content.Metadata["page_count"])
	assert.Len(t, content.Pages, 1)
	assert.NotContains(t, content.Metadata, "ocr")
	assert.Zero(t, engine.Calls())
}

func TestParseScannedRunsOCR(t *testing.T) {
	engine := &testutil.OCR{Text: "  GROUND INVESTIGATION REPORT  ", Confidence: 80}
	raster := &testutil.Rasterizer{Pages: []int{2, 1}}
	p := pdf.NewProcessor(engine, raster, 0, logger.NewNop())

	content, err := parse(t, p, testutil.ScannedPDF(2))
	require.NoError(t, err)

	assert.Equal(t, "[Page 2]\nGROUND INVESTIGATION REPORT\n\n[Page 1]\nGROUND INVESTIGATION REPORT", content.Text)
	assert.Equal(t, true, content.Metadata["ocr"])
	assert.Equal(t, "fake-ocr", content.Metadata["ocr_engine"])
	assert.Equal(t, 2, content.Metadata["ocr_pages"])
	assert.InDelta(t, 80.0, content.Metadata["ocr_confidence"], 1e-9)
	assert.Equal(t, []string{"GROUND INVESTIGATION REPORT", "GROUND INVESTIGATION REPORT"}, content.Pages)
	assert.Equal(t, 2, engine.Calls())
}

func TestParseScannedWithoutEngine(t *testing.T) {
	p := pdf.NewProcessor(nil, &testutil.Rasterizer{Pages: []int{1}}, 0, logger.NewNop())

	_, err := parse(t, p, testutil.ScannedPDF(1))
	require.Error(t, err)
	assert.Equal(t, models.ReasonOCRUnavailable, document.ReasonOf(err))
	assert.ErrorIs(t, err, ocr.ErrUnavailable)
}

func TestParseShortNativeTextFallsBackWhenOCRFails(t *testing.T) {
	engine := &testutil.OCR{Err: fmt.Errorf("no eng.traineddata: %w", ocr.ErrUnavailable)}
	p := pdf.NewProcessor(engine, &testutil.Rasterizer{Pages: []int{1}}, 0, logger.NewNop())

	content, err := parse(t, p, testutil.PDF("cover", []string{"Volume 2"}))
	require.NoError(t, err)
	assert.Contains(t, content.Text, "Volume 2")
	assert.Equal(t, true, content.Metadata[models.MetaDegraded])
	require.Len(t, content.Warnings, 1)
	assert.Contains(t, content.Warnings[0], "ocr skipped")
}

func TestParseScannedOCRErrorIsCorrupt(t *testing.T) {
	engine := &testutil.OCR{Err: errors.New("image too small")}
	p := pdf.NewProcessor(engine, &testutil.Rasterizer{Pages: []int{1}}, 0, logger.NewNop())

	_, err := parse(t, p, testutil.ScannedPDF(1))
	require.Error(t, err)
	assert.Equal(t, models.ReasonCorruptInput, document.ReasonOf(err))
}

func TestParseScannedWithoutImagesFails(t *testing.T) {
	engine := &testutil.OCR{}
	p := pdf.NewProcessor(engine, &testutil.Rasterizer{}, 0, logger.NewNop())

	_, err := parse(t, p, testutil.ScannedPDF(1))
	require.Error(t, err)
	assert.Equal(t, models.ReasonOCRUnavailable, document.ReasonOf(err))
	assert.Zero(t, engine.Calls())
}

func TestParseShortTextWithoutImagesIsDegraded(t *testing.T) {
	p := pdf.NewProcessor(&testutil.OCR{}, &testutil.Rasterizer{}, 0, logger.NewNop())

	content, err := parse(t, p, testutil.PDF("short", []string{"Drawing register, issue 3"}))
	require.NoError(t, err)
	assert.Contains(t, content.Text, "Drawing register")
	assert.Equal(t, true, content.Metadata[models.MetaDegraded])
}

func TestParseRendererMissingIsOCRUnavailable(t *testing.T) {
	raster := &testutil.Rasterizer{Err: fmt.Errorf("extract: %w", pdf.ErrRendererMissing)}
	p := pdf.NewProcessor(&testutil.OCR{}, raster, 0, logger.NewNop())

	_, err := parse(t, p, testutil.ScannedPDF(1))
	require.Error(t, err)
	assert.Equal(t, models.ReasonOCRUnavailable, document.ReasonOf(err))
}

func TestParseThreshold(t *testing.T) {
	engine := &testutil.OCR{Text: "ocr text"}
	data := testutil.PDF("short", []string{"Drawing register, issue 3"})

	low := pdf.NewProcessor(engine, &testutil.Rasterizer{Pages: []int{1}}, 5, logger.NewNop())
	content, err := parse(t, low, data)
	require.NoError(t, err)
	assert.NotContains(t, content.Metadata, "ocr")

	high := pdf.NewProcessor(engine, &testutil.Rasterizer{Pages: []int{1}}, pdf.DefaultOCRThreshold, logger.NewNop())
	content, err = parse(t, high, data)
	require.NoError(t, err)
	assert.Equal(t, true, content.Metadata["ocr"])
	assert.Contains(t, content.Text, "Drawing register")
	assert.Contains(t, content.Text, "[Page 1]\nocr text")
}

func TestParseCorruptPDF(t *testing.T) {
	p := pdf.NewProcessor(nil, &testutil.Rasterizer{}, 0, logger.NewNop())

	_, err := parse(t, p, []byte("%PDF-1.4\nthis is not a pdf"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonCorruptInput, document.ReasonOf(err))

	_, err = p.ExtractMetadata(context.Background(), &document.File{Name: "x.pdf", Data: []byte("garbage")})
	assert.Equal(t, models.ReasonCorruptInput, document.ReasonOf(err))
}

func TestRasterizerErrorOnScan(t *testing.T) {
	p := pdf.NewProcessor(&testutil.OCR{}, &testutil.Rasterizer{Err: errors.New("broken xref")}, 0, logger.NewNop())

	_, err := parse(t, p, testutil.ScannedPDF(1))
	require.Error(t, err)
	assert.Equal(t, models.ReasonCorruptInput, document.ReasonOf(err))
}
