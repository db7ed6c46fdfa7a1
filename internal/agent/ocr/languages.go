package ocr

import "slices"

// traineddata maps ISO 639-1 codes to Tesseract language pack names.
var traineddata = map[string]string{
	"ar": "ara",
	"en": "eng",
	"fr": "fra",
	"de": "deu",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"ru": "rus",
	"tr": "tur",
	"fa": "fas",
	"ur": "urd",
	"hi": "hin",
	"zh": "chi_sim",
}

// PackNames resolves hints to installed Tesseract language packs in hint
// order. Hints that are already pack names pass through. It returns fallback
// when no hint resolves to an installed pack.
func PackNames(hints, installed, fallback []string) []string {
	var out []string
	for _, h := range hints {
		name := h
		if mapped, ok := traineddata[h]; ok {
			name = mapped
		}
		if slices.Contains(installed, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
