package office

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// XlsxParser turns every sheet into a table and a text section.
type XlsxParser struct{}

var _ document.Parser = (*XlsxParser)(nil)

func NewXlsxParser() *XlsxParser { return &XlsxParser{} }

func (p *XlsxParser) Family() models.FormatFamily { return models.FamilySheet }

func (p *XlsxParser) Extensions() []string { return []string{".xlsx", ".xlsm"} }

func (p *XlsxParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.metadata(f), nil
}

func (p *XlsxParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content := models.NewParsedContent()
	for k, v := range p.metadata(f) {
		content.Metadata[k] = v
	}

	var sections []string
	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			content.Degrade(fmt.Sprintf("sheet %s: %v", sheet, err))
			content.Pages = append(content.Pages, "")
			continue
		}
		rows = dropEmptyRows(rows)
		body := renderRows(rows)
		content.Pages = append(content.Pages, body)
		content.Tables = append(content.Tables, models.Table{Name: sheet, Page: i + 1, Rows: rows})
		sections = append(sections, fmt.Sprintf("[Sheet: %s]\n%s", sheet, body))
	}
	content.Text = strings.Join(sections, "\n\n")
	return content, nil
}

func (p *XlsxParser) open(file *document.File) (*excelize.File, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("failed to open workbook: %w", err))
	}
	return f, nil
}

func (p *XlsxParser) metadata(f *excelize.File) map[string]interface{} {
	sheets := f.GetSheetList()
	sheetMap := make(map[string]string, len(sheets))
	for _, sheet := range sheets {
		if ref := usedRange(f, sheet); ref != "" {
			sheetMap[sheet] = ref
		}
	}
	meta := map[string]interface{}{
		"sheet_names": sheets,
		"sheet_count": len(sheets),
		"sheet_map":   sheetMap,
	}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		set := func(key, v string) {
			if v = strings.TrimSpace(v); v != "" {
				meta[key] = v
			}
		}
		set("title", props.Title)
		set("creator", props.Creator)
		set("subject", props.Subject)
		set("keywords", props.Keywords)
		set("description", props.Description)
		set("last_modified_by", props.LastModifiedBy)
		set("revision", props.Revision)
		set("created", props.Created)
		set("modified", props.Modified)
	}
	return meta
}

// usedRange is A1 through the last populated row and widest row. The stored
// <dimension> element is not kept current by every writer, so rows decide.
func usedRange(f *excelize.File, sheet string) string {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ""
	}
	lastRow, lastCol := 0, 0
	for i, row := range rows {
		if n := len(trimRow(row)); n > 0 {
			lastRow = i + 1
			lastCol = max(lastCol, n)
		}
	}
	if lastRow == 0 {
		return ""
	}
	end, err := excelize.CoordinatesToCellName(lastCol, lastRow)
	if err != nil {
		return ""
	}
	return "A1:" + end
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if len(trimRow(row)) > 0 {
			out = append(out, row)
		}
	}
	return out
}
