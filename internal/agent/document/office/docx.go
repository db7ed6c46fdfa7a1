package office

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// DocxParser extracts paragraphs, headings and tables from word/document.xml.
type DocxParser struct{}

var _ document.Parser = (*DocxParser)(nil)

func NewDocxParser() *DocxParser { return &DocxParser{} }

func (p *DocxParser) Family() models.FormatFamily { return models.FamilyWord }

func (p *DocxParser) Extensions() []string { return []string{".docx", ".docm"} }

func (p *DocxParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	pkg, err := openPackage(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	return pkg.coreMetadata(), nil
}

func (p *DocxParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	pkg, err := openPackage(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	body, err := pkg.read("word/document.xml")
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}

	content := models.NewParsedContent()
	for k, v := range pkg.coreMetadata() {
		content.Metadata[k] = v
	}

	blocks, tables, paragraphs, walkErr := walkDocx(body)
	content.Text = strings.Join(blocks, "\n")
	content.Tables = tables
	content.Metadata["paragraph_count"] = paragraphs
	content.Metadata["table_count"] = len(tables)

	if walkErr != nil {
		if len(blocks) == 0 && len(tables) == 0 {
			return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("malformed document.xml: %w", walkErr))
		}
		content.Degrade(fmt.Sprintf("malformed document.xml: %v", walkErr))
	}
	return content, nil
}

// walkDocx streams the document body. Text outside tables becomes one block
// per paragraph; each top-level table becomes one rendered block.
func walkDocx(body []byte) (blocks []string, tables []models.Table, paragraphs int, err error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		para      strings.Builder
		heading   int
		inText    bool
		tblDepth  int
		tbl       *tableBuilder
		cellDepth int
	)

	flushParagraph := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			heading = 0
			return
		}
		paragraphs++
		switch {
		case tbl != nil && cellDepth > 0:
			if tbl.cell.Len() > 0 {
				tbl.cell.WriteString(" ")
			}
			tbl.cell.WriteString(text)
		case heading > 0:
			blocks = append(blocks, strings.Repeat("#", heading)+" "+text)
		default:
			blocks = append(blocks, text)
		}
		heading = 0
	}

	for {
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			flushParagraph()
			return blocks, tables, paragraphs, tokErr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pStyle":
				heading = headingLevel(attr(t, "val"))
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString(" ")
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					tbl = &tableBuilder{}
				}
			case "tr":
				if tblDepth == 1 {
					tbl.startRow()
				}
			case "tc":
				if tblDepth == 1 {
					cellDepth++
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flushParagraph()
			case "tc":
				if tblDepth == 1 {
					cellDepth--
					tbl.endCell()
				}
			case "tr":
				if tblDepth == 1 {
					tbl.endRow()
				}
			case "tbl":
				if tblDepth == 1 && tbl != nil {
					if len(tbl.rows) > 0 {
						tables = append(tables, models.Table{
							Name: fmt.Sprintf("table_%d", len(tables)+1),
							Rows: tbl.rows,
						})
						blocks = append(blocks, renderRows(tbl.rows))
					}
					tbl = nil
				}
				tblDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	if tblDepth != 0 {
		return blocks, tables, paragraphs, errors.New("unterminated table")
	}
	return blocks, tables, paragraphs, nil
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel maps "Heading2" style ids to 2. Title maps to 1.
func headingLevel(style string) int {
	switch {
	case strings.EqualFold(style, "Title"):
		return 1
	case strings.HasPrefix(strings.ToLower(style), "heading"):
		n, err := strconv.Atoi(strings.TrimSpace(style[len("heading"):]))
		if err != nil || n < 1 {
			return 1
		}
		return min(n, 6)
	}
	return 0
}
