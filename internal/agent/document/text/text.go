// Package text handles plain-text formats and the shared byte decoding used by
// other line-oriented parsers.
package text

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns data as a string. Input that is not valid UTF-8 is decoded as
// Windows-1252, and the second result reports that the fallback was used.
func Decode(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), false
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�"), true
	}
	return string(out), true
}

type Parser struct{}

var _ document.Parser = (*Parser)(nil)

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Family() models.FormatFamily { return models.FamilyText }

func (p *Parser) Extensions() []string {
	return []string{".txt", ".md", ".csv", ".json", ".xml", ".yaml", ".yml", ".log"}
}

func (p *Parser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

func (p *Parser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	text, fallback := Decode(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	content := models.NewParsedContent()
	content.Text = text
	content.Metadata["encoding"] = "utf-8"
	if fallback {
		content.Metadata["encoding"] = "windows-1252"
	}
	content.Metadata["line_count"] = strings.Count(text, "\n") + 1
	return content, nil
}
