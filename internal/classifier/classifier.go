// Package classifier assigns a tender document category from its filename
// and opening text.
package classifier

import (
	"strings"
	"unicode"

	"github.com/feichai0017/tender-ingest/internal/models"
)

const (
	ITT       = "itt"
	Specs     = "specs"
	BOQ       = "boq"
	Drawings  = "drawings"
	Contract  = "contract"
	Addendum  = "addendum"
	HSE       = "hse"
	Schedule  = "schedule"
	General   = "general"
	textSample = 2000
)

// rules are checked in order; the first category with a keyword hit wins.
var rules = []struct {
	category string
	keywords []string
}{
	{Addendum, []string{"addendum", "addenda", "clarification", "clarifications", "ملحق"}},
	{BOQ, []string{"boq", "bill of quantities", "bill of quantity", "pricing schedule", "جدول الكميات"}},
	{ITT, []string{"itt", "invitation to tender", "instructions to tenderers", "instructions to bidders", "rfp", "request for proposal"}},
	{Specs, []string{"specification", "specifications", "specs", "spec", "technical requirements", "المواصفات"}},
	{Drawings, []string{"drawing", "drawings", "dwg", "layout", "elevation", "elevations"}},
	{Contract, []string{"contract", "contracts", "conditions of contract", "agreement", "fidic", "العقد"}},
	{HSE, []string{"hse", "health and safety", "safety plan", "environmental"}},
	{Schedule, []string{"programme", "program", "schedule", "baseline", "primavera", "gantt"}},
}

// Classify returns the category for a document.
func Classify(filename, text string, family models.FormatFamily) string {
	name := normalize(filename)
	for _, r := range rules {
		if containsAny(name, r.keywords) {
			return r.category
		}
	}

	switch family {
	case models.FamilyCAD, models.FamilyBIM:
		return Drawings
	case models.FamilySchedule:
		return Schedule
	}

	sample := text
	if len(sample) > textSample {
		sample = sample[:textSample]
	}
	sample = normalize(sample)
	for _, r := range rules {
		if containsAny(sample, r.keywords) {
			return r.category
		}
	}
	return General
}

// containsAny matches whole words only; s must come from normalize.
func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, " "+k+" ") {
			return true
		}
	}
	return false
}

// normalize lower-cases s, turns every non letter/digit run into a single
// space and pads both ends.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
