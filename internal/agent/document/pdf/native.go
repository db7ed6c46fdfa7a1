package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// nativeText is what the text layer of a PDF yields without OCR.
type nativeText struct {
	Pages    []string
	Metadata map[string]interface{}
}

func (n *nativeText) trimmedLen() int {
	total := 0
	for _, p := range n.Pages {
		total += len([]rune(strings.TrimSpace(p)))
	}
	return total
}

var infoKeys = map[string]string{
	"Title":        "title",
	"Author":       "author",
	"Subject":      "subject",
	"Creator":      "creator",
	"Producer":     "producer",
	"Keywords":     "keywords",
	"CreationDate": "creation_date",
	"ModDate":      "mod_date",
}

// extractNative reads the text layer page by page. ledongthuc/pdf panics on
// some malformed streams, so panics are turned into errors.
func extractNative(data []byte) (out *nativeText, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	out = &nativeText{
		Pages:    make([]string, numPages),
		Metadata: map[string]interface{}{"page_count": numPages},
	}
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get text from page %d: %w", i, err)
		}
		out.Pages[i-1] = text
	}

	// 尝试从 Info 字典读取元数据
	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		for key, name := range infoKeys {
			if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
				out.Metadata[name] = v
			}
		}
	}
	return out, nil
}
