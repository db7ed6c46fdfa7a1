package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feichai0017/tender-ingest/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		text     string
		family   models.FormatFamily
		want     string
	}{
		{"itt by name", "01 ITT/Instructions to Tenderers.pdf", "", models.FamilyPDF, ITT},
		{"boq by name", "Pricing/BOQ_rev3.xlsx", "", models.FamilySheet, BOQ},
		{"specs by name", "Volume 3 - Specifications.docx", "", models.FamilyWord, Specs},
		{"addendum wins over boq", "Addendum 2 - revised BOQ.pdf", "", models.FamilyPDF, Addendum},
		{"drawing by name", "GA-Elevations.pdf", "", models.FamilyPDF, Drawings},
		{"contract by name", "Conditions of Contract.docx", "", models.FamilyWord, Contract},
		{"hse by name", "HSE Plan.docx", "", models.FamilyWord, HSE},
		{"schedule by name", "Baseline Programme.xer", "", models.FamilySchedule, Schedule},
		{"arabic boq", "جدول الكميات.xlsx", "", models.FamilySheet, BOQ},
		{"cad family", "A-101.dxf", "", models.FamilyCAD, Drawings},
		{"bim family", "tower.ifc", "", models.FamilyBIM, Drawings},
		{"schedule family", "export.xer", "", models.FamilySchedule, Schedule},
		{"text fallback", "doc-0042.pdf", "This agreement is made between the Employer and the Contractor", models.FamilyPDF, Contract},
		{"general", "photo.jpg", "site photo", models.FamilyImage, General},
		{"whole words only", "inspection-report.pdf", "", models.FamilyPDF, General},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.filename, tt.text, tt.family))
		})
	}
}
