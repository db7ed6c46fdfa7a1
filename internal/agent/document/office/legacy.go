package office

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

var legacyMIME = map[string]string{
	".doc": "application/msword",
	".rtf": "application/rtf",
	".odt": "application/vnd.oasis.opendocument.text",
}

// LegacyParser handles pre-OOXML word processing formats through docconv,
// which shells out to wv and unrtf for .doc and .rtf.
type LegacyParser struct {
	convert func(data []byte, mimeType string) (*docconv.Response, error)
}

var _ document.Parser = (*LegacyParser)(nil)

func NewLegacyParser() *LegacyParser {
	return &LegacyParser{convert: func(data []byte, mimeType string) (*docconv.Response, error) {
		return docconv.Convert(bytes.NewReader(data), mimeType, false)
	}}
}

func (p *LegacyParser) Family() models.FormatFamily { return models.FamilyLegacy }

func (p *LegacyParser) Extensions() []string { return []string{".doc", ".rtf", ".odt"} }

func (p *LegacyParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

func (p *LegacyParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	mimeType, ok := legacyMIME[file.Ext()]
	if !ok {
		return nil, document.Failf(models.ReasonUnsupportedFormat, "no legacy converter for %s", file.Ext())
	}

	res, err := p.convert(data, mimeType)
	if err != nil {
		return nil, document.Fail(models.ReasonConversionFailed, fmt.Errorf("docconv: %w", err))
	}

	content := models.NewParsedContent()
	content.Text = strings.TrimSpace(res.Body)
	content.Metadata["converter"] = "docconv"
	for k, v := range res.Meta {
		if v = strings.TrimSpace(v); v != "" {
			content.Metadata[strings.ToLower(k)] = v
		}
	}
	if res.Error != "" {
		content.Degrade(res.Error)
	}
	return content, nil
}
