// Package cad parses drawings. DXF is read directly; DWG goes through an
// external converter to DXF first.
package cad

import (
	"context"
	"fmt"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/document/text"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// ExchangeParser reads DXF, the open exchange format.
type ExchangeParser struct{}

var _ document.Parser = (*ExchangeParser)(nil)

func NewExchangeParser() *ExchangeParser { return &ExchangeParser{} }

func (p *ExchangeParser) Family() models.FormatFamily { return models.FamilyCAD }

func (p *ExchangeParser) Extensions() []string { return []string{".dxf"} }

func (p *ExchangeParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

func (p *ExchangeParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	return parseExchange(data)
}

func parseExchange(data []byte) (*models.ParsedContent, error) {
	raw, _ := text.Decode(data)
	drawing, err := ParseDXF(raw)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}

	content := models.NewParsedContent()
	content.Text = drawing.Text()
	content.Pages = []string{content.Text}

	meta := content.Metadata
	meta["page_count"] = 1
	meta["acad_version"] = drawing.Version
	meta["layers"] = drawing.Layers
	meta["layer_count"] = len(drawing.Layers)
	meta["entity_counts"] = drawing.EntityCounts
	meta["blocks"] = drawing.Inserts
	meta["dimensions"] = drawing.Dimensions
	if len(drawing.TitleBlock) > 0 {
		meta["title_block"] = drawing.TitleBlock
	}
	if v := drawing.DrawingNumber(); v != "" {
		meta["drawing_number"] = v
	}
	if v := drawing.Revision(); v != "" {
		meta["revision"] = v
	}
	if drawing.Truncated != nil {
		content.Degrade(fmt.Sprintf("dxf truncated: %v", drawing.Truncated))
	}
	return content, nil
}

// DWGParser converts with Converter then reads the DXF output. Any
// conversion failure is final; the exchange stage never sees partial output.
type DWGParser struct {
	converter Converter
	logger    logger.Logger
}

var _ document.Parser = (*DWGParser)(nil)

func NewDWGParser(converter Converter, log logger.Logger) *DWGParser {
	return &DWGParser{converter: converter, logger: log}
}

func (p *DWGParser) Family() models.FormatFamily { return models.FamilyCAD }

func (p *DWGParser) Extensions() []string { return []string{".dwg"} }

func (p *DWGParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

func (p *DWGParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	if p.converter == nil {
		return nil, document.Fail(models.ReasonConversionFailed, ErrConverterMissing)
	}

	dxf, err := p.converter.Convert(ctx, file.Name, data)
	if err != nil {
		p.logger.Warn("Drawing conversion failed", logger.String("file", file.Name), logger.Error(err))
		return nil, document.Fail(models.ReasonConversionFailed, err)
	}

	content, err := parseExchange(dxf)
	if err != nil {
		return nil, err
	}
	content.Metadata["converted_from"] = "dwg"
	return content, nil
}
