// Package pdf extracts native PDF text and falls back to OCR for scans.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// DefaultOCRThreshold is the minimum trimmed native text length, in runes,
// below which a PDF is treated as scanned.
const DefaultOCRThreshold = 100

var errNoPageImages = errors.New("no page images could be produced for ocr")

type Processor struct {
	engine     ocr.Engine
	rasterizer Rasterizer
	threshold  int
	logger     logger.Logger
}

var _ document.Parser = (*Processor)(nil)

// NewProcessor builds the pdf parser. A nil engine behaves like an engine
// that is not installed.
func NewProcessor(engine ocr.Engine, rasterizer Rasterizer, threshold int, log logger.Logger) *Processor {
	if engine == nil {
		engine = ocr.Unavailable{}
	}
	if rasterizer == nil {
		rasterizer = NewPdfcpuRasterizer(NewPopplerRenderer(config.RenderConfig{}, log))
	}
	if threshold <= 0 {
		threshold = DefaultOCRThreshold
	}
	return &Processor{engine: engine, rasterizer: rasterizer, threshold: threshold, logger: log}
}

func (p *Processor) Family() models.FormatFamily { return models.FamilyPDF }

func (p *Processor) Extensions() []string { return []string{".pdf"} }

func (p *Processor) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	native, err := extractNative(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	return native.Metadata, nil
}

func (p *Processor) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	native, err := extractNative(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}

	content := models.NewParsedContent()
	for k, v := range native.Metadata {
		content.Metadata[k] = v
	}
	content.Pages = native.Pages

	if native.trimmedLen() >= p.threshold {
		content.Text = joinPages(native.Pages)
		return content, nil
	}

	p.logger.Info("Native text below threshold, running OCR",
		logger.String("file", file.Name),
		logger.Int("nativeRunes", native.trimmedLen()),
		logger.Int("threshold", p.threshold),
	)
	return p.ocr(ctx, file, data, native, content)
}

func (p *Processor) ocr(ctx context.Context, file *document.File, data []byte, native *nativeText, content *models.ParsedContent) (*models.ParsedContent, error) {
	hasNative := native.trimmedLen() > 0
	fallback := func(reason models.FailureReason, err error) (*models.ParsedContent, error) {
		if !hasNative {
			return nil, document.Fail(reason, err)
		}
		content.Text = joinPages(native.Pages)
		content.Degrade(fmt.Sprintf("ocr skipped: %v", err))
		return content, nil
	}

	images, err := p.rasterizer.Rasterize(ctx, data)
	if err != nil {
		if errors.Is(err, ErrRendererMissing) {
			return fallback(models.ReasonOCRUnavailable, err)
		}
		return fallback(models.ReasonCorruptInput, err)
	}
	if len(images) == 0 {
		return fallback(models.ReasonOCRUnavailable, errNoPageImages)
	}

	byPage := make(map[int][]string)
	var order []int
	var confSum float64
	for _, img := range images {
		res, err := p.engine.Recognize(ctx, img.Image)
		if err != nil {
			if errors.Is(err, ocr.ErrUnavailable) {
				return fallback(models.ReasonOCRUnavailable, err)
			}
			return fallback(models.ReasonCorruptInput, fmt.Errorf("ocr page %d: %w", img.Page, err))
		}
		if _, seen := byPage[img.Page]; !seen {
			order = append(order, img.Page)
		}
		byPage[img.Page] = append(byPage[img.Page], strings.TrimSpace(res.Text))
		confSum += res.Confidence
		for _, t := range res.Tables {
			t.Page = img.Page
			content.Tables = append(content.Tables, t)
		}
	}

	var sections []string
	for _, page := range order {
		text := strings.Join(byPage[page], "\n")
		sections = append(sections, fmt.Sprintf("[Page %d]\n%s", page, text))
		if page >= 1 && page <= len(content.Pages) && strings.TrimSpace(content.Pages[page-1]) == "" {
			content.Pages[page-1] = text
		}
	}

	content.Text = strings.Join(sections, "\n\n")
	if hasNative {
		content.Text = joinPages(native.Pages) + "\n\n" + content.Text
	}
	content.Metadata["ocr"] = true
	content.Metadata["ocr_engine"] = p.engine.Name()
	content.Metadata["ocr_pages"] = len(order)
	content.Metadata["ocr_confidence"] = confSum / float64(len(images))
	return content, nil
}

func joinPages(pages []string) string {
	var parts []string
	for _, p := range pages {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
