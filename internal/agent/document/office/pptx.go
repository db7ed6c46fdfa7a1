package office

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PptxParser returns one page per slide, in presentation order.
type PptxParser struct{}

var _ document.Parser = (*PptxParser)(nil)

func NewPptxParser() *PptxParser { return &PptxParser{} }

func (p *PptxParser) Family() models.FormatFamily { return models.FamilySlides }

func (p *PptxParser) Extensions() []string { return []string{".pptx", ".pptm"} }

func (p *PptxParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	pkg, err := openPackage(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	meta := pkg.coreMetadata()
	meta["slide_count"] = len(slideOrder(pkg))
	return meta, nil
}

func (p *PptxParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	pkg, err := openPackage(data)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	slides := slideOrder(pkg)
	if len(slides) == 0 {
		return nil, document.Failf(models.ReasonCorruptInput, "presentation has no slides")
	}

	content := models.NewParsedContent()
	for k, v := range pkg.coreMetadata() {
		content.Metadata[k] = v
	}

	var sections []string
	for i, part := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		num := i + 1
		raw, err := pkg.read(part)
		if err != nil {
			content.Degrade(fmt.Sprintf("slide %d: %v", num, err))
			content.Pages = append(content.Pages, "")
			continue
		}
		paras, tables, err := walkDrawingML(raw)
		if err != nil {
			content.Degrade(fmt.Sprintf("slide %d: %v", num, err))
		}
		for _, t := range tables {
			t.Name = fmt.Sprintf("slide_%d_table_%d", num, len(content.Tables)+1)
			t.Page = num
			content.Tables = append(content.Tables, t)
			paras = append(paras, renderRows(t.Rows))
		}

		if notes := slideNotes(pkg, part); notes != "" {
			paras = append(paras, fmt.Sprintf("slide %d notes: %s", num, notes))
		}

		page := strings.Join(paras, "\n")
		content.Pages = append(content.Pages, page)
		if page != "" {
			sections = append(sections, fmt.Sprintf("[Slide %d]\n%s", num, page))
		}
	}

	content.Text = strings.Join(sections, "\n\n")
	content.Metadata["slide_count"] = len(slides)
	return content, nil
}

// slideOrder follows p:sldIdLst through the presentation relationships and
// falls back to numeric part order when that chain is broken.
func slideOrder(pkg *ooxmlPackage) []string {
	type sldIDList struct {
		IDs []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}

	if raw, err := pkg.read("ppt/presentation.xml"); err == nil {
		var list sldIDList
		if xml.Unmarshal(raw, &list) == nil && len(list.IDs) > 0 {
			byID, _ := pkg.rels("ppt/presentation.xml")
			var ordered []string
			for _, id := range list.IDs {
				if target, ok := byID[id.RID]; ok && pkg.has(target) {
					ordered = append(ordered, target)
				}
			}
			if len(ordered) == len(list.IDs) {
				return ordered
			}
		}
	}

	type numbered struct {
		n    int
		part string
	}
	var parts []numbered
	for name := range pkg.files {
		if m := slidePart.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			parts = append(parts, numbered{n, name})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.part
	}
	return out
}

func slideNotes(pkg *ooxmlPackage, slide string) string {
	_, byType := pkg.rels(slide)
	target, ok := byType["notesSlide"]
	if !ok {
		return ""
	}
	raw, err := pkg.read(target)
	if err != nil {
		return ""
	}
	paras, _, _ := walkDrawingML(raw)
	var kept []string
	for _, p := range paras {
		// the notes page repeats the slide number as its own paragraph
		if _, err := strconv.Atoi(p); err == nil {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, " ")
}

// walkDrawingML collects a:p paragraphs outside tables and a:tbl grids.
func walkDrawingML(raw []byte) (paras []string, tables []models.Table, err error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var (
		para     strings.Builder
		inText   bool
		tblDepth int
		tbl      *tableBuilder
	)
	for {
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			return paras, tables, nil
		}
		if tokErr != nil {
			return paras, tables, tokErr
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br":
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
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				if text == "" {
					continue
				}
				if tbl != nil {
					if tbl.cell.Len() > 0 {
						tbl.cell.WriteString(" ")
					}
					tbl.cell.WriteString(text)
				} else {
					paras = append(paras, text)
				}
			case "tc":
				if tblDepth == 1 {
					tbl.endCell()
				}
			case "tr":
				if tblDepth == 1 {
					tbl.endRow()
				}
			case "tbl":
				if tblDepth == 1 && tbl != nil && len(tbl.rows) > 0 {
					tables = append(tables, models.Table{Rows: tbl.rows})
				}
				if tblDepth == 1 {
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
}
