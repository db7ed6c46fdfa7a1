// Package office parses Office Open XML documents, spreadsheets and
// presentations plus legacy formats handled by docconv.
package office

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

type ooxmlPackage struct {
	files map[string]*zip.File
}

func openPackage(data []byte) (*ooxmlPackage, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	pkg := &ooxmlPackage{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		pkg.files[f.Name] = f
	}
	return pkg, nil
}

func (p *ooxmlPackage) has(name string) bool {
	_, ok := p.files[name]
	return ok
}

func (p *ooxmlPackage) read(name string) ([]byte, error) {
	f, ok := p.files[name]
	if !ok {
		return nil, fmt.Errorf("part %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open part %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type coreProperties struct {
	Title          string `xml:"title"`
	Creator        string `xml:"creator"`
	Subject        string `xml:"subject"`
	Keywords       string `xml:"keywords"`
	Description    string `xml:"description"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Revision       string `xml:"revision"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
}

// coreMetadata reads docProps/core.xml. Missing or malformed parts yield no
// entries; core properties are never worth failing a document over.
func (p *ooxmlPackage) coreMetadata() map[string]interface{} {
	out := make(map[string]interface{})
	data, err := p.read("docProps/core.xml")
	if err != nil {
		return out
	}
	var cp coreProperties
	if err := xml.Unmarshal(data, &cp); err != nil {
		return out
	}
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[key] = v
		}
	}
	set("title", cp.Title)
	set("creator", cp.Creator)
	set("subject", cp.Subject)
	set("keywords", cp.Keywords)
	set("description", cp.Description)
	set("last_modified_by", cp.LastModifiedBy)
	set("revision", cp.Revision)
	set("created", cp.Created)
	set("modified", cp.Modified)
	return out
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// rels maps relationship ids of part to package paths.
func (p *ooxmlPackage) rels(part string) (map[string]string, map[string]string) {
	byID := make(map[string]string)
	byType := make(map[string]string)
	dir, file := path.Split(part)
	data, err := p.read(path.Join(dir, "_rels", file+".rels"))
	if err != nil {
		return byID, byType
	}
	var r relationships
	if err := xml.Unmarshal(data, &r); err != nil {
		return byID, byType
	}
	for _, item := range r.Items {
		target := item.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Clean(path.Join(dir, target))
		}
		byID[item.ID] = target
		byType[path.Base(item.Type)] = target
	}
	return byID, byType
}

// tableBuilder accumulates w:tbl / a:tbl grids while streaming tokens.
type tableBuilder struct {
	rows [][]string
	row  []string
	cell strings.Builder
}

func (t *tableBuilder) startRow() { t.row = nil }

func (t *tableBuilder) endCell() {
	t.row = append(t.row, strings.TrimSpace(t.cell.String()))
	t.cell.Reset()
}

func (t *tableBuilder) endRow() {
	if t.row != nil {
		t.rows = append(t.rows, t.row)
	}
	t.row = nil
}

func renderRows(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(trimRow(row), " | "))
	}
	return strings.Join(lines, "\n")
}

// trimRow drops trailing empty cells.
func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
