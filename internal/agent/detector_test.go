package agent

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/testutil"
)

func TestDetectByExtension(t *testing.T) {
	d := NewDefaultDetector(Dependencies{})

	tests := map[string]models.FormatFamily{
		"spec.PDF":       models.FamilyPDF,
		"ITT.docx":       models.FamilyWord,
		"BOQ.xlsm":       models.FamilySheet,
		"briefing.pptx":  models.FamilySlides,
		"form.doc":       models.FamilyLegacy,
		"letter.rtf":     models.FamilyLegacy,
		"rfi.eml":        models.FamilyEmail,
		"rfi.msg":        models.FamilyEmail,
		"site.jpeg":      models.FamilyImage,
		"scan.tif":       models.FamilyImage,
		"A-101.dwg":      models.FamilyCAD,
		"A-101.dxf":      models.FamilyCAD,
		"tower.ifc":      models.FamilyBIM,
		"programme.xer":  models.FamilySchedule,
		"notes.md":       models.FamilyText,
		"register.csv":   models.FamilyText,
	}
	for name, want := range tests {
		_, family, err := d.Detect(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, want, family, name)
		assert.Equal(t, want, d.FamilyForExtension(name), name)
	}
	assert.Equal(t, models.FamilyUnknown, d.FamilyForExtension("data.bin"))
}

func TestDetectBySniffing(t *testing.T) {
	d := NewDefaultDetector(Dependencies{})

	tests := []struct {
		name   string
		prefix []byte
		want   models.FormatFamily
	}{
		{"pdf", testutil.ScannedPDF(1), models.FamilyPDF},
		{"pdf after bom", append([]byte("\xEF\xBB\xBF  "), testutil.ScannedPDF(1)...), models.FamilyPDF},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00"), models.FamilyImage},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, models.FamilyImage},
		{"tiff", []byte("II*\x00\x08\x00"), models.FamilyImage},
		{"docx", testutil.Docx(t, "x", testutil.DocxBlock{Text: "y"}), models.FamilyWord},
		{"xlsx", testutil.Xlsx(t, "x", testutil.Sheet{Name: "S", Rows: [][]string{{"a"}}}), models.FamilySheet},
		{"pptx", testutil.Pptx(t, "x", testutil.Slide{Number: 1, Paras: []string{"a"}}), models.FamilySlides},
		{"dwg", []byte("AC1032\x00\x00\x00"), models.FamilyCAD},
		{"dxf", []byte(testutil.DXF), models.FamilyCAD},
		{"ifc", []byte(testutil.IFC), models.FamilyBIM},
		{"xer", []byte(testutil.XER), models.FamilySchedule},
		{"eml", testutil.EML("Subject line", "body"), models.FamilyEmail},
		{"text", []byte("Minutes of the pre-bid meeting\nAttendees: ..."), models.FamilyText},
		{"ole word", append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, utf16le("WordDocument")...), models.FamilyLegacy},
		{"ole msg", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0}, models.FamilyEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, family, err := d.Detect("upload", tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, family)
		})
	}
}

func TestDetectZipListsEntriesPastSniffWindow(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	pad, err := zw.CreateHeader(&zip.FileHeader{Name: "docProps/thumbnail.bin", Method: zip.Store})
	require.NoError(t, err)
	_, err = pad.Write([]byte(strings.Repeat("a", 2*SniffLen)))
	require.NoError(t, err)
	doc, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte("<w:document/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data := buf.Bytes()
	require.False(t, bytes.Contains(data[:SniffLen], []byte("word/")))

	_, family, err := NewDefaultDetector(Dependencies{}).Detect("tender-upload", data)
	require.NoError(t, err)
	assert.Equal(t, models.FamilyWord, family)
}

func TestDetectUnsupported(t *testing.T) {
	d := NewDefaultDetector(Dependencies{})

	for name, prefix := range map[string][]byte{
		"binary":      {0x00, 0x01, 0x02, 0xFE},
		"empty":       nil,
		"unknown zip": []byte("PK\x03\x04somethingelse"),
	} {
		_, family, err := d.Detect("file.bin", prefix)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
		assert.Equal(t, models.FamilyUnknown, family, name)
	}
}

func TestLooksLikeMail(t *testing.T) {
	assert.True(t, looksLikeMail([]byte("Received: from mx\r\n\tby host\r\nFrom: a@b.c\r\n\r\nbody")))
	assert.False(t, looksLikeMail([]byte("From: a@b.c\r\n\r\nbody")), "one header is not enough")
	assert.False(t, looksLikeMail([]byte("Title: x\nAuthor: y\n\nbody")), "no known mail header")
	assert.False(t, looksLikeMail([]byte("Dear tenderer,\nFrom: us\n")))
}

func TestIsBMP(t *testing.T) {
	header := make([]byte, 18)
	copy(header, "BM")
	header[14] = 40
	assert.True(t, isBMP(header))

	header[14] = 41
	assert.False(t, isBMP(header))
	assert.False(t, isBMP([]byte("BM")))
}
