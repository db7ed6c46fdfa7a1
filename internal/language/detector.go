// Package language tags extracted text with an ISO 639-1 code.
package language

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

const (
	Undetermined = "und"
	Mixed        = "mixed"
	Arabic       = "ar"
	English      = "en"
)

const (
	sampleRunes = 10000
	// each script must hold this share of letters for the text to count as mixed
	mixedShare = 0.2
)

// Detect returns a best-guess language for text. hints are used only when the
// text gives no signal.
func Detect(text string, hints ...string) string {
	sample := sampleOf(text)
	arabic, latin, letters := countScripts(sample)
	if letters == 0 {
		return fallback(hints)
	}

	arShare := float64(arabic) / float64(letters)
	laShare := float64(latin) / float64(letters)
	if arShare >= mixedShare && laShare >= mixedShare {
		return Mixed
	}

	info := whatlanggo.Detect(sample)
	if info.IsReliable() {
		if code := info.Lang.Iso6391(); code != "" {
			return code
		}
	}

	switch {
	case arabic > latin:
		return Arabic
	case latin > 0:
		return English
	}
	return fallback(hints)
}

func sampleOf(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= sampleRunes {
		return text
	}
	runes := []rune(text)
	if len(runes) > sampleRunes {
		runes = runes[:sampleRunes]
	}
	return string(runes)
}

func countScripts(text string) (arabic, latin, letters int) {
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	return arabic, latin, letters
}

func fallback(hints []string) string {
	for _, h := range hints {
		if h = strings.TrimSpace(h); h != "" {
			return h
		}
	}
	return Undetermined
}
