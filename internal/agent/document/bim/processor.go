// Package bim reads IFC models in the STEP physical file encoding.
package bim

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/document/text"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// elementTypes is the allow-list of physical elements worth indexing.
var elementTypes = map[string]string{
	"IFCWALL":             "IfcWall",
	"IFCWALLSTANDARDCASE": "IfcWallStandardCase",
	"IFCSLAB":             "IfcSlab",
	"IFCBEAM":             "IfcBeam",
	"IFCCOLUMN":           "IfcColumn",
	"IFCDOOR":             "IfcDoor",
	"IFCWINDOW":           "IfcWindow",
	"IFCDUCTSEGMENT":      "IfcDuctSegment",
	"IFCPIPESEGMENT":      "IfcPipeSegment",
}

var quantityTypes = map[string]bool{
	"IFCQUANTITYLENGTH": true,
	"IFCQUANTITYAREA":   true,
	"IFCQUANTITYVOLUME": true,
	"IFCQUANTITYCOUNT":  true,
	"IFCQUANTITYWEIGHT": true,
}

// Element is one allow-listed building element.
type Element struct {
	Type       string            `json:"type"`
	GlobalID   string            `json:"globalId"`
	Name       string            `json:"name,omitempty"`
	Tag        string            `json:"tag,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Quantities map[string]string `json:"quantities,omitempty"`
	Materials  []string          `json:"materials,omitempty"`
}

// Line renders the element as one searchable line.
func (e *Element) Line() string {
	var sb strings.Builder
	sb.WriteString(e.Type)
	if e.Name != "" {
		sb.WriteString(" " + e.Name)
	}
	sb.WriteString(" [" + e.GlobalID + "]")

	var attrs []string
	attrs = append(attrs, sortedPairs(e.Properties)...)
	attrs = append(attrs, sortedPairs(e.Quantities)...)
	if len(e.Materials) > 0 {
		attrs = append(attrs, "Material="+strings.Join(e.Materials, "/"))
	}
	if len(attrs) > 0 {
		sb.WriteString(" " + strings.Join(attrs, "; "))
	}
	return sb.String()
}

type Parser struct{}

var _ document.Parser = (*Parser)(nil)

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Family() models.FormatFamily { return models.FamilyBIM }

func (p *Parser) Extensions() []string { return []string{".ifc"} }

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
	raw, _ := text.Decode(data)
	step, err := parseStep(raw)
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := buildModel(step)
	content := models.NewParsedContent()

	var lines []string
	if model.ProjectName != "" {
		line := "Project: " + model.ProjectName
		if model.ProjectDescription != "" {
			line += " - " + model.ProjectDescription
		}
		lines = append(lines, line)
	}
	rows := [][]string{{"type", "name", "global_id", "materials"}}
	for i := range model.Elements {
		el := &model.Elements[i]
		lines = append(lines, el.Line())
		rows = append(rows, []string{el.Type, el.Name, el.GlobalID, strings.Join(el.Materials, "/")})
	}
	if len(model.Materials) > 0 {
		lines = append(lines, "Materials: "+strings.Join(model.Materials, ", "))
	}
	content.Text = strings.Join(lines, "\n")
	if len(model.Elements) > 0 {
		content.Tables = []models.Table{{Name: "elements", Rows: rows}}
	}

	meta := content.Metadata
	meta["schema"] = strings.Join(step.header.Schemas, ",")
	meta["file_name"] = step.header.FileName
	meta["originating_system"] = step.header.OriginatingApp
	meta["timestamp"] = step.header.Timestamp
	meta["project_name"] = model.ProjectName
	meta["project_description"] = model.ProjectDescription
	meta["element_counts"] = model.Counts
	meta["element_count"] = len(model.Elements)
	meta["materials"] = model.Materials
	meta["page_count"] = 1
	if step.skipped > 0 {
		content.Degrade(fmt.Sprintf("skipped %d malformed instances: %v", step.skipped, step.firstErr))
	}
	return content, nil
}

type bimModel struct {
	ProjectName        string
	ProjectDescription string
	Elements           []Element
	Counts             map[string]int
	Materials          []string
}

func buildModel(f *stepFile) *bimModel {
	m := &bimModel{Counts: make(map[string]int)}
	var ids []int

	for _, id := range f.order {
		in := f.instances[id]
		if in.typ == "IFCPROJECT" && m.ProjectName == "" {
			m.ProjectName = in.stringParam(2)
			m.ProjectDescription = in.stringParam(3)
			if m.ProjectName == "" {
				m.ProjectName = in.stringParam(4)
			}
		}
		canonical, ok := elementTypes[in.typ]
		if !ok {
			continue
		}
		m.Elements = append(m.Elements, Element{
			Type:       canonical,
			GlobalID:   in.stringParam(0),
			Name:       in.stringParam(2),
			Tag:        in.stringParam(7),
			Properties: make(map[string]string),
			Quantities: make(map[string]string),
		})
		m.Counts[canonical]++
		ids = append(ids, id)
	}
	byID := make(map[int]*Element, len(ids))
	for i, id := range ids {
		byID[id] = &m.Elements[i]
	}

	materials := make(map[string]bool)
	for _, id := range f.order {
		in := f.instances[id]
		switch in.typ {
		case "IFCRELDEFINESBYPROPERTIES":
			def := f.instances[firstRef(in.param(5))]
			if def == nil {
				continue
			}
			for _, target := range in.param(4).refs() {
				el := byID[target]
				if el == nil {
					continue
				}
				applyDefinition(f, def, el)
			}
		case "IFCRELASSOCIATESMATERIAL":
			names := materialNames(f, firstRef(in.param(5)), 0)
			for _, n := range names {
				materials[n] = true
			}
			for _, target := range in.param(4).refs() {
				if el := byID[target]; el != nil {
					el.Materials = appendUnique(el.Materials, names...)
				}
			}
		case "IFCMATERIAL":
			if n := in.stringParam(0); n != "" {
				materials[n] = true
			}
		}
	}
	for n := range materials {
		m.Materials = append(m.Materials, n)
	}
	sort.Strings(m.Materials)
	return m
}

func applyDefinition(f *stepFile, def *instance, el *Element) {
	switch def.typ {
	case "IFCPROPERTYSET":
		set := def.stringParam(2)
		for _, pid := range def.param(4).refs() {
			prop := f.instances[pid]
			if prop == nil || prop.typ != "IFCPROPERTYSINGLEVALUE" {
				continue
			}
			name := prop.stringParam(0)
			if name == "" {
				continue
			}
			el.Properties[set+"."+name] = prop.param(2).render()
		}
	case "IFCELEMENTQUANTITY":
		for _, qid := range def.param(5).refs() {
			q := f.instances[qid]
			if q == nil || !quantityTypes[q.typ] {
				continue
			}
			if name := q.stringParam(0); name != "" {
				el.Quantities[name] = q.param(3).render()
			}
		}
	}
}

// materialNames resolves the material select: a single material, a list,
// a layer set, or a layer set usage.
func materialNames(f *stepFile, id int, depth int) []string {
	in := f.instances[id]
	if in == nil || depth > 4 {
		return nil
	}
	switch in.typ {
	case "IFCMATERIAL":
		if n := in.stringParam(0); n != "" {
			return []string{n}
		}
	case "IFCMATERIALLIST":
		var out []string
		for _, ref := range in.param(0).refs() {
			out = appendUnique(out, materialNames(f, ref, depth+1)...)
		}
		return out
	case "IFCMATERIALLAYERSETUSAGE":
		return materialNames(f, firstRef(in.param(0)), depth+1)
	case "IFCMATERIALLAYERSET":
		var out []string
		for _, ref := range in.param(0).refs() {
			out = appendUnique(out, materialNames(f, ref, depth+1)...)
		}
		return out
	case "IFCMATERIALLAYER":
		return materialNames(f, firstRef(in.param(0)), depth+1)
	}
	return nil
}

func firstRef(v value) int {
	if refs := v.refs(); len(refs) > 0 {
		return refs[0]
	}
	return -1
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, d := range dst {
			if d == it {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, it)
		}
	}
	return dst
}

func sortedPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + m[k]
	}
	return out
}
