package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	nsWord     = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsDrawing  = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsPresent  = "http://schemas.openxmlformats.org/presentationml/2006/main"
	nsRel      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsPkgRel   = "http://schemas.openxmlformats.org/package/2006/relationships"
	relSlide   = nsRel + "/slide"
	relNotes   = nsRel + "/notesSlide"
	coreHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`
)

// Zip packs parts, in the given name order, into an archive.
func Zip(t testing.TB, parts ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.Create(p[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(p[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// DocxBlock is one body element of a Word document: a paragraph, optionally
// styled as a heading, or a table when Rows is set.
type DocxBlock struct {
	Text    string
	Heading int
	Rows    [][]string
}

// Docx builds a minimal word document.
func Docx(t testing.TB, title string, blocks ...DocxBlock) []byte {
	t.Helper()
	var body strings.Builder
	for _, b := range blocks {
		if b.Rows != nil {
			body.WriteString("<w:tbl>")
			for _, row := range b.Rows {
				body.WriteString("<w:tr>")
				for _, cell := range row {
					fmt.Fprintf(&body, "<w:tc><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:tc>", esc(cell))
				}
				body.WriteString("</w:tr>")
			}
			body.WriteString("</w:tbl>")
			continue
		}
		body.WriteString("<w:p>")
		if b.Heading > 0 {
			fmt.Fprintf(&body, `<w:pPr><w:pStyle w:val="Heading%d"/></w:pPr>`, b.Heading)
		}
		fmt.Fprintf(&body, "<w:r><w:t>%s</w:t></w:r></w:p>", esc(b.Text))
	}
	doc := fmt.Sprintf(`%s<w:document xmlns:w="%s"><w:body>%s</w:body></w:document>`, coreHeader, nsWord, body.String())

	return Zip(t,
		[2]string{"[Content_Types].xml", contentTypes("word/document.xml", "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml")},
		[2]string{"word/document.xml", doc},
		[2]string{"docProps/core.xml", coreProps(title)},
	)
}

// Slide is one slide of a presentation. Number is the part number used in
// ppt/slides/slideN.xml, which need not match the presentation order.
type Slide struct {
	Number int
	Paras  []string
	Table  [][]string
	Notes  string
}

// Pptx builds a presentation whose sldIdLst lists slides in the given order.
func Pptx(t testing.TB, title string, slides ...Slide) []byte {
	t.Helper()
	parts := [][2]string{
		{"[Content_Types].xml", contentTypes("ppt/presentation.xml", "application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml")},
		{"docProps/core.xml", coreProps(title)},
	}

	var ids, rels strings.Builder
	for i, s := range slides {
		rid := fmt.Sprintf("rId%d", i+10)
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="%s"/>`, 256+i, rid)
		fmt.Fprintf(&rels, `<Relationship Id="%s" Type="%s" Target="slides/slide%d.xml"/>`, rid, relSlide, s.Number)

		var tree strings.Builder
		for _, p := range s.Paras {
			fmt.Fprintf(&tree, "<p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>", esc(p))
		}
		if s.Table != nil {
			tree.WriteString("<p:graphicFrame><a:graphic><a:graphicData><a:tbl>")
			for _, row := range s.Table {
				tree.WriteString("<a:tr>")
				for _, cell := range row {
					fmt.Fprintf(&tree, "<a:tc><a:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></a:txBody></a:tc>", esc(cell))
				}
				tree.WriteString("</a:tr>")
			}
			tree.WriteString("</a:tbl></a:graphicData></a:graphic></p:graphicFrame>")
		}
		slide := fmt.Sprintf(`%s<p:sld xmlns:a="%s" xmlns:p="%s"><p:cSld><p:spTree>%s</p:spTree></p:cSld></p:sld>`,
			coreHeader, nsDrawing, nsPresent, tree.String())
		parts = append(parts, [2]string{fmt.Sprintf("ppt/slides/slide%d.xml", s.Number), slide})

		if s.Notes != "" {
			notesPart := fmt.Sprintf("notesSlide%d.xml", s.Number)
			parts = append(parts,
				[2]string{fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", s.Number),
					fmt.Sprintf(`%s<Relationships xmlns="%s"><Relationship Id="rId1" Type="%s" Target="../notesSlides/%s"/></Relationships>`,
						coreHeader, nsPkgRel, relNotes, notesPart)},
				[2]string{"ppt/notesSlides/" + notesPart,
					fmt.Sprintf(`%s<p:notes xmlns:a="%s" xmlns:p="%s"><p:cSld><p:spTree>`+
						`<p:sp><p:txBody><a:p><a:r><a:t>%d</a:t></a:r></a:p></p:txBody></p:sp>`+
						`<p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`+
						`</p:spTree></p:cSld></p:notes>`,
						coreHeader, nsDrawing, nsPresent, s.Number, esc(s.Notes))},
			)
		}
	}

	parts = append(parts,
		[2]string{"ppt/presentation.xml", fmt.Sprintf(`%s<p:presentation xmlns:p="%s" xmlns:r="%s"><p:sldIdLst>%s</p:sldIdLst></p:presentation>`,
			coreHeader, nsPresent, nsRel, ids.String())},
		[2]string{"ppt/_rels/presentation.xml.rels", fmt.Sprintf(`%s<Relationships xmlns="%s">%s</Relationships>`,
			coreHeader, nsPkgRel, rels.String())},
	)
	return Zip(t, parts...)
}

// Sheet is one worksheet of a workbook.
type Sheet struct {
	Name string
	Rows [][]string
}

// Xlsx writes a workbook with excelize. The default Sheet1 is replaced by
// the first sheet given.
func Xlsx(t testing.TB, title string, sheets ...Sheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", sh.Name))
		} else {
			_, err := f.NewSheet(sh.Name)
			require.NoError(t, err)
		}
		for r, row := range sh.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			values := make([]interface{}, len(row))
			for c, v := range row {
				values[c] = v
			}
			require.NoError(t, f.SetSheetRow(sh.Name, cell, &values))
		}
	}
	require.NoError(t, f.SetDocProps(&excelize.DocProperties{Title: title, Creator: "testutil"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func contentTypes(part, typ string) string {
	return fmt.Sprintf(`%s<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`+
		`<Default Extension="xml" ContentType="application/xml"/>`+
		`<Override PartName="/%s" ContentType="%s"/></Types>`, coreHeader, part, typ)
}

func coreProps(title string) string {
	return fmt.Sprintf(`%s<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" `+
		`xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>%s</dc:title><dc:creator>testutil</dc:creator></cp:coreProperties>`,
		coreHeader, esc(title))
}

func esc(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
