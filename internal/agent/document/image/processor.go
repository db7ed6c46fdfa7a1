// Package image OCRs standalone raster images: scanned letters, site photos
// of signed forms, stamped drawings exported as PNG.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

type Processor struct {
	engine ocr.Engine
	logger logger.Logger
}

var _ document.Parser = (*Processor)(nil)

func NewProcessor(engine ocr.Engine, log logger.Logger) *Processor {
	if engine == nil {
		engine = ocr.Unavailable{}
	}
	return &Processor{engine: engine, logger: log}
}

func (p *Processor) Family() models.FormatFamily { return models.FamilyImage }

func (p *Processor) Extensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif"}
}

func (p *Processor) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("failed to decode image: %w", err))
	}
	return map[string]interface{}{
		"width":      cfg.Width,
		"height":     cfg.Height,
		"format":     format,
		"page_count": 1,
	}, nil
}

func (p *Processor) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}

	// 解码图像
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("failed to decode image: %w", err))
	}

	res, err := p.engine.Recognize(ctx, img)
	if err != nil {
		if errors.Is(err, ocr.ErrUnavailable) {
			return nil, document.Fail(models.ReasonOCRUnavailable, err)
		}
		return nil, fmt.Errorf("failed to recognize image: %w", err)
	}

	bounds := img.Bounds()
	content := models.NewParsedContent()
	content.Text = strings.TrimSpace(res.Text)
	content.Pages = []string{content.Text}
	content.Tables = res.Tables
	content.Metadata["width"] = bounds.Dx()
	content.Metadata["height"] = bounds.Dy()
	content.Metadata["format"] = format
	content.Metadata["page_count"] = 1
	content.Metadata["ocr"] = true
	content.Metadata["ocr_engine"] = p.engine.Name()
	content.Metadata["ocr_pages"] = 1
	content.Metadata["ocr_confidence"] = res.Confidence
	if content.Text == "" {
		content.Degrade("no text recognized")
	}
	return content, nil
}
