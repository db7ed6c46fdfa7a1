package schedule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/testutil"
)

func TestParseXER(t *testing.T) {
	content, err := NewParser().Parse(context.Background(), &document.File{Name: "programme.xer", Data: []byte(testutil.XER)})
	require.NoError(t, err)

	assert.Equal(t,
		"Project: TWR-A Tower A Construction (2024-03-01 → 2025-06-30)\n"+
			"WBS: TWR-A Tower A Construction\n"+
			"WBS: SUB Substructure\n"+
			"A1000 Excavation | 2024-03-01 → 2024-03-20 | 120h | TK_NotStart\n"+
			"A1010 Piling | 2024-03-21 → 2024-04-30 | 240h | TK_NotStart\n"+
			"A1020 Raft foundation | 2024-05-01 → 2024-05-31 | 176h | TK_NotStart",
		content.Text)

	meta := content.Metadata
	assert.Equal(t, "19.12", meta["xer_version"])
	assert.Equal(t, "2024-02-01", meta["export_date"])
	assert.Equal(t, []string{"PROJECT", "PROJWBS", "TASK", "RSRC"}, meta["tables"])
	assert.Equal(t, 3, meta["activity_count"])
	assert.Equal(t, 2, meta["wbs_count"])
	assert.Equal(t, 1, meta["resource_count"])
	assert.Equal(t, []Resource{{ID: "7", Name: "Excavator", Type: "RT_Equip"}}, meta["resources"])
	assert.NotContains(t, meta, models.MetaDegraded)

	require.Len(t, content.Tables, 1)
	assert.Equal(t, "TASK", content.Tables[0].Name)
	assert.Len(t, content.Tables[0].Rows, 4)
}

func TestParseXERRowOutsideTableDegrades(t *testing.T) {
	raw := "ERMHDR\t20.12\t2024-01-01\n" +
		"%T\tTASK\n" +
		"%F\ttask_id\ttask_code\ttask_name\n" +
		"%R\t1\tA10\tMobilisation\n" +
		"%T\tTASKPRED\n" +
		"%R\t5\t6\n"

	content, err := NewParser().Parse(context.Background(), &document.File{Name: "p.xer", Data: []byte(raw)})
	require.NoError(t, err)
	assert.Equal(t, "A10 Mobilisation", content.Text)
	assert.Equal(t, true, content.Metadata[models.MetaDegraded])
	require.Len(t, content.Warnings, 1)
	assert.Contains(t, content.Warnings[0], "row outside a table")
}

func TestParseXERRejectsMissingHeader(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), &document.File{Name: "p.xer", Data: []byte("%T\tTASK\n")})
	require.Error(t, err)
	assert.Equal(t, models.ReasonCorruptInput, document.ReasonOf(err))
}

func TestProjectNameFallsBackToProjectNode(t *testing.T) {
	x, err := ParseXER(testutil.XER)
	require.NoError(t, err)
	projects := x.Projects()
	require.Len(t, projects, 1)
	assert.Equal(t, Project{ID: "100", ShortName: "TWR-A", Name: "Tower A Construction", Start: "2024-03-01", Finish: "2025-06-30"}, projects[0])
}

func TestActivityLine(t *testing.T) {
	assert.Equal(t, "A1 Survey", Activity{Code: "A1", Name: "Survey"}.Line())
	assert.Equal(t, "A2 Piling | 2024-01-01 →  | 8h", Activity{Code: "A2", Name: "Piling", Start: "2024-01-01", Duration: "8"}.Line())
	assert.Equal(t, "240", hours("240.0"))
	assert.Equal(t, "n/a", hours("n/a"))
	assert.Equal(t, "2024-03-01", datePart("2024-03-01 08:00"))
}
