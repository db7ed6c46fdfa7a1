// Package testutil builds small but well-formed tender inputs and test
// doubles for the parsers and the orchestrator.
package testutil

import (
	"bytes"
	"fmt"
	"strings"
)

// PDF builds a PDF with one page per entry of pages. Each page entry is a
// list of text lines drawn in Helvetica; an empty entry gives a page without
// a text layer, which is how a scanned page looks to the text extractor.
func PDF(title string, pages ...[]string) []byte {
	var objects []string
	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	catalog := add("")
	pagesObj := add("")
	font := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	info := add(fmt.Sprintf("<< /Title (%s) /Producer (testutil) >>", escapePDF(title)))

	var kids []string
	for _, lines := range pages {
		var content strings.Builder
		if len(lines) > 0 {
			content.WriteString("BT\n/F1 11 Tf\n14 TL\n72 760 Td\n")
			for _, line := range lines {
				fmt.Fprintf(&content, "(%s ) Tj\nT*\n", escapePDF(line))
			}
			content.WriteString("ET")
		}
		stream := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pagesObj, font, stream))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	objects[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objects[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, catalog, info, xref)
	return buf.Bytes()
}

// NativePDF returns a one-page PDF whose text layer holds lines, repeated
// until it is comfortably above the OCR threshold.
func NativePDF(title string, lines ...string) []byte {
	page := append([]string(nil), lines...)
	for runeCount(lines) > 0 && runeCount(page) < 400 {
		page = append(page, lines...)
	}
	return PDF(title, page)
}

// ScannedPDF returns a PDF of n pages without any text layer.
func ScannedPDF(n int) []byte {
	pages := make([][]string, n)
	return PDF("scan", pages...)
}

func runeCount(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len([]rune(l))
	}
	return n
}

func escapePDF(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
