package agent

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/agent/document/bim"
	"github.com/feichai0017/tender-ingest/internal/agent/document/cad"
	"github.com/feichai0017/tender-ingest/internal/agent/document/email"
	"github.com/feichai0017/tender-ingest/internal/agent/document/image"
	"github.com/feichai0017/tender-ingest/internal/agent/document/office"
	"github.com/feichai0017/tender-ingest/internal/agent/document/pdf"
	"github.com/feichai0017/tender-ingest/internal/agent/document/schedule"
	"github.com/feichai0017/tender-ingest/internal/agent/document/text"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// ErrUnsupportedFormat is returned when neither the extension nor the content
// identifies a known format.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Dependencies are the external collaborators the parsers need.
type Dependencies struct {
	OCR          ocr.Engine
	Rasterizer   pdf.Rasterizer
	Converter    cad.Converter
	OCRThreshold int
	Logger       logger.Logger
}

// Detector maps a file to its parser by declared extension, falling back to
// content sniffing.
type Detector struct {
	byExt  map[string]document.Parser
	logger logger.Logger
}

// NewDetector registers parsers by their extensions. A later parser wins
// when two claim the same extension.
func NewDetector(log logger.Logger, parsers ...document.Parser) *Detector {
	d := &Detector{byExt: make(map[string]document.Parser), logger: log}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			d.byExt[strings.ToLower(ext)] = p
		}
	}
	return d
}

// NewDefaultDetector wires every built-in parser.
func NewDefaultDetector(deps Dependencies) *Detector {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return NewDetector(log,
		pdf.NewProcessor(deps.OCR, deps.Rasterizer, deps.OCRThreshold, log.Named("pdf")),
		office.NewDocxParser(),
		office.NewXlsxParser(),
		office.NewPptxParser(),
		office.NewLegacyParser(),
		email.NewEMLParser(),
		email.NewMSGParser(),
		image.NewProcessor(deps.OCR, log.Named("image")),
		cad.NewExchangeParser(),
		cad.NewDWGParser(deps.Converter, log.Named("cad")),
		bim.NewParser(),
		schedule.NewParser(),
		text.NewParser(),
	)
}

// FamilyForExtension reports the family implied by the name alone, without
// reading any bytes. Unknown extensions map to FamilyUnknown.
func (d *Detector) FamilyForExtension(name string) models.FormatFamily {
	if p, ok := d.byExt[strings.ToLower(filepath.Ext(name))]; ok {
		return p.Family()
	}
	return models.FamilyUnknown
}

// SniffLen is how many leading bytes content sniffing looks at. Zip
// containers are the exception: their entry list is read from the whole file.
const SniffLen = 8192

// Detect picks the parser for filename, sniffing data when the extension is
// missing or unknown.
func (d *Detector) Detect(filename string, data []byte) (document.Parser, models.FormatFamily, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if p, ok := d.byExt[ext]; ok {
		return p, p.Family(), nil
	}

	sniffed := sniff(data)
	if sniffed != "" {
		if p, ok := d.byExt[sniffed]; ok {
			d.logger.Debug("Format detected by content",
				logger.String("file", filename),
				logger.String("declared", ext),
				logger.String("sniffed", sniffed),
			)
			return p, p.Family(), nil
		}
	}
	return nil, models.FamilyUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	tiffLE    = []byte("II*\x00")
	tiffBE    = []byte("MM\x00*")
	zipMagic  = []byte("PK\x03\x04")
	oleMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

	dxfStart    = regexp.MustCompile(`^\s*0\s*\r?\n\s*SECTION`)
	headerLine  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*:[ \t]`)
	mailHeaders = []string{"from:", "to:", "subject:", "date:", "received:", "message-id:", "mime-version:", "return-path:"}
)

// sniff returns the extension whose parser should read data, or "".
func sniff(data []byte) string {
	prefix := data[:min(len(data), SniffLen)]
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(prefix, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("%PDF-")):
		return ".pdf"
	case bytes.HasPrefix(prefix, pngMagic):
		return ".png"
	case bytes.HasPrefix(prefix, jpegMagic):
		return ".jpg"
	case bytes.HasPrefix(prefix, tiffLE), bytes.HasPrefix(prefix, tiffBE):
		return ".tiff"
	case bytes.HasPrefix(prefix, []byte("GIF87a")), bytes.HasPrefix(prefix, []byte("GIF89a")):
		return ".gif"
	case bytes.HasPrefix(prefix, zipMagic):
		return sniffZip(data)
	case bytes.HasPrefix(prefix, oleMagic):
		return sniffOLE(prefix)
	case bytes.HasPrefix(prefix, []byte("AC10")):
		return ".dwg"
	case bytes.HasPrefix(trimmed, []byte("ISO-10303-21")):
		return ".ifc"
	case bytes.HasPrefix(trimmed, []byte("ERMHDR")):
		return ".xer"
	case dxfStart.Match(trimmed[:min(len(trimmed), 64)]) || dxfStart.Match(prefix[:min(len(prefix), 64)]):
		return ".dxf"
	case isBMP(prefix):
		return ".bmp"
	case looksLikeMail(trimmed):
		return ".eml"
	case len(prefix) > 0 && utf8.Valid(prefix) && !bytes.ContainsRune(prefix, 0):
		return ".txt"
	}
	return ""
}

// isBMP checks the BM magic plus a known DIB header size.
func isBMP(data []byte) bool {
	if len(data) < 18 || !bytes.HasPrefix(data, []byte("BM")) {
		return false
	}
	switch data[14] {
	case 12, 40, 52, 56, 108, 124:
		return data[15] == 0 && data[16] == 0 && data[17] == 0
	}
	return false
}

var ooxmlParts = []struct{ dir, ext string }{
	{"word/", ".docx"},
	{"xl/", ".xlsx"},
	{"ppt/", ".pptx"},
}

// sniffZip lists the archive entries. A truncated archive has no readable
// central directory, so the local headers in the leading bytes decide.
func sniffZip(data []byte) string {
	if zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err == nil {
		for _, f := range zr.File {
			for _, part := range ooxmlParts {
				if strings.HasPrefix(f.Name, part.dir) {
					return part.ext
				}
			}
		}
		return ""
	}
	head := data[:min(len(data), SniffLen)]
	for _, part := range ooxmlParts {
		if bytes.Contains(head, []byte(part.dir)) {
			return part.ext
		}
	}
	return ""
}

// sniffOLE separates Outlook messages from Word 97 files by their stream
// names, stored as UTF-16LE in the directory.
func sniffOLE(data []byte) string {
	if bytes.Contains(data, utf16le("WordDocument")) {
		return ".doc"
	}
	return ".msg"
}

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out
}

// looksLikeMail wants at least two RFC 5322 header lines, one of them a
// well-known mail header, before the first blank line.
func looksLikeMail(data []byte) bool {
	head := data[:min(len(data), 4096)]
	if !utf8.Valid(head) && !utf8.Valid(head[:max(0, len(head)-3)]) {
		return false
	}
	var headers, known int
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if !headerLine.MatchString(line) {
			return false
		}
		headers++
		lower := strings.ToLower(line)
		for _, h := range mailHeaders {
			if strings.HasPrefix(lower, h) {
				known++
				break
			}
		}
	}
	return headers >= 2 && known >= 1
}
