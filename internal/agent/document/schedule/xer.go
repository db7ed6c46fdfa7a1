// Package schedule reads Primavera P6 XER exports.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/document/text"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// Table is one %T block: the %F header and its %R rows as records.
type Table struct {
	Name    string
	Fields  []string
	Records []map[string]string
}

type Activity struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Start    string `json:"start,omitempty"`
	Finish   string `json:"finish,omitempty"`
	Duration string `json:"durationHours,omitempty"`
	Status   string `json:"status,omitempty"`
	WBSID    string `json:"wbsId,omitempty"`
}

// Line renders "A1000 Excavation | 2024-01-01 → 2024-01-10 | 80h | TK_NotStart".
func (a Activity) Line() string {
	parts := []string{strings.TrimSpace(a.Code + " " + a.Name)}
	if a.Start != "" || a.Finish != "" {
		parts = append(parts, a.Start+" → "+a.Finish)
	}
	if a.Duration != "" {
		parts = append(parts, a.Duration+"h")
	}
	if a.Status != "" {
		parts = append(parts, a.Status)
	}
	return strings.Join(parts, " | ")
}

type Project struct {
	ID        string `json:"id"`
	ShortName string `json:"shortName"`
	Name      string `json:"name,omitempty"`
	Start     string `json:"start,omitempty"`
	Finish    string `json:"finish,omitempty"`
}

type WBS struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Export is a parsed XER file.
type Export struct {
	Version    string
	ExportDate string
	Tables     map[string]*Table
	TableOrder []string
}

// ParseXER groups %T/%F/%R lines by table.
func ParseXER(raw string) (*Export, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "ERMHDR") {
		return nil, fmt.Errorf("missing ERMHDR header")
	}
	hdr := strings.Split(lines[0], "\t")
	x := &Export{Tables: make(map[string]*Table)}
	if len(hdr) > 1 {
		x.Version = strings.TrimSpace(hdr[1])
	}
	if len(hdr) > 2 {
		x.ExportDate = strings.TrimSpace(hdr[2])
	}

	var cur *Table
	for n, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "%T"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "%T"))
			cur = &Table{Name: name}
			if _, dup := x.Tables[name]; !dup {
				x.TableOrder = append(x.TableOrder, name)
			}
			x.Tables[name] = cur
		case strings.HasPrefix(line, "%F"):
			if cur == nil {
				return x, fmt.Errorf("line %d: field list outside a table", n+2)
			}
			cur.Fields = splitFields(line)
		case strings.HasPrefix(line, "%R"):
			if cur == nil || cur.Fields == nil {
				return x, fmt.Errorf("line %d: row outside a table", n+2)
			}
			values := splitFields(line)
			rec := make(map[string]string, len(cur.Fields))
			for i, f := range cur.Fields {
				if i < len(values) {
					rec[f] = strings.TrimSpace(values[i])
				}
			}
			cur.Records = append(cur.Records, rec)
		case strings.HasPrefix(line, "%E"):
			return x, nil
		}
	}
	return x, nil
}

func splitFields(line string) []string {
	if i := strings.IndexByte(line, '\t'); i >= 0 {
		return strings.Split(line[i+1:], "\t")
	}
	return nil
}

func (x *Export) records(table string) []map[string]string {
	if t, ok := x.Tables[table]; ok {
		return t.Records
	}
	return nil
}

func (x *Export) Projects() []Project {
	names := make(map[string]string)
	for _, r := range x.records("PROJWBS") {
		if r["proj_node_flag"] == "Y" {
			names[r["proj_id"]] = r["wbs_name"]
		}
	}
	var out []Project
	for _, r := range x.records("PROJECT") {
		name := r["proj_name"]
		if name == "" {
			name = names[r["proj_id"]]
		}
		out = append(out, Project{
			ID:        r["proj_id"],
			ShortName: r["proj_short_name"],
			Name:      name,
			Start:     datePart(firstOf(r, "plan_start_date", "scd_start_date")),
			Finish:    datePart(firstOf(r, "plan_end_date", "scd_end_date")),
		})
	}
	return out
}

func (x *Export) Activities() []Activity {
	var out []Activity
	for _, r := range x.records("TASK") {
		out = append(out, Activity{
			ID:       r["task_id"],
			Code:     r["task_code"],
			Name:     r["task_name"],
			Start:    datePart(firstOf(r, "act_start_date", "target_start_date", "early_start_date")),
			Finish:   datePart(firstOf(r, "act_end_date", "target_end_date", "early_end_date")),
			Duration: hours(r["target_drtn_hr_cnt"]),
			Status:   r["status_code"],
			WBSID:    r["wbs_id"],
		})
	}
	return out
}

func (x *Export) WBS() []WBS {
	var out []WBS
	for _, r := range x.records("PROJWBS") {
		out = append(out, WBS{
			ID:       r["wbs_id"],
			Code:     r["wbs_short_name"],
			Name:     r["wbs_name"],
			ParentID: r["parent_wbs_id"],
		})
	}
	return out
}

func (x *Export) Resources() []Resource {
	var out []Resource
	for _, r := range x.records("RSRC") {
		out = append(out, Resource{ID: r["rsrc_id"], Name: r["rsrc_name"], Type: r["rsrc_type"]})
	}
	return out
}

func firstOf(r map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := r[k]; v != "" {
			return v
		}
	}
	return ""
}

// datePart keeps the date of "2024-01-01 08:00".
func datePart(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

func hours(s string) string {
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}

type Parser struct{}

var _ document.Parser = (*Parser)(nil)

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Family() models.FormatFamily { return models.FamilySchedule }

func (p *Parser) Extensions() []string { return []string{".xer"} }

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
	raw, fallback := text.Decode(data)
	export, parseErr := ParseXER(raw)
	if export == nil {
		return nil, document.Fail(models.ReasonCorruptInput, parseErr)
	}

	projects := export.Projects()
	activities := export.Activities()
	wbs := export.WBS()
	resources := export.Resources()

	var lines []string
	for _, pr := range projects {
		line := "Project: " + pr.ShortName
		if pr.Name != "" && pr.Name != pr.ShortName {
			line += " " + pr.Name
		}
		if pr.Start != "" || pr.Finish != "" {
			line += fmt.Sprintf(" (%s → %s)", pr.Start, pr.Finish)
		}
		lines = append(lines, line)
	}
	for _, w := range wbs {
		lines = append(lines, fmt.Sprintf("WBS: %s %s", w.Code, w.Name))
	}
	rows := [][]string{{"code", "name", "start", "finish", "duration_hours", "status"}}
	for _, a := range activities {
		lines = append(lines, a.Line())
		rows = append(rows, []string{a.Code, a.Name, a.Start, a.Finish, a.Duration, a.Status})
	}

	content := models.NewParsedContent()
	content.Text = strings.Join(lines, "\n")
	if len(activities) > 0 {
		content.Tables = []models.Table{{Name: "TASK", Rows: rows}}
	}
	meta := content.Metadata
	meta["xer_version"] = export.Version
	meta["export_date"] = export.ExportDate
	meta["tables"] = export.TableOrder
	meta["projects"] = projects
	meta["activities"] = activities
	meta["wbs"] = wbs
	meta["resources"] = resources
	meta["activity_count"] = len(activities)
	meta["wbs_count"] = len(wbs)
	meta["resource_count"] = len(resources)
	meta["page_count"] = 1
	if fallback {
		meta["encoding"] = "windows-1252"
	}
	if parseErr != nil {
		content.Degrade(parseErr.Error())
	}
	return content, nil
}
