package converters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
)

func TestToDocumentView(t *testing.T) {
	doc := &models.Document{
		ID:             "d1",
		ProjectID:      "p1",
		Filename:       "specs/concrete.pdf",
		Family:         models.FamilyPDF,
		Status:         models.StatusFailed,
		FailureReason:  models.ReasonEmbeddingFailed,
		ErrorMessage:   "provider unavailable",
		Text:           "Concrete grade C40",
		Tables:         []models.Table{{Rows: [][]string{{"a"}}}},
		Metadata:       map[string]interface{}{models.MetaDegraded: true},
		Version:        2,
		Supersedes:     "d0",
		ProcessingTime: 1500 * time.Millisecond,
	}

	v := ToDocumentView(doc, 4, ViewOptions{})
	assert.Equal(t, "embedding_failed", v.Reason)
	assert.Equal(t, "provider unavailable", v.Error)
	assert.Equal(t, "pdf", v.Family)
	assert.True(t, v.Degraded)
	assert.Equal(t, 4, v.ChunkCount)
	assert.Equal(t, int64(1500), v.ProcessingMs)
	assert.Equal(t, "d0", v.Supersedes)
	assert.Empty(t, v.Text)
	assert.Nil(t, v.Tables)

	v = ToDocumentView(doc, 4, ViewOptions{IncludeText: true, IncludeTables: true})
	assert.Equal(t, "Concrete grade C40", v.Text)
	assert.Len(t, v.Tables, 1)
}

func TestToStatusView(t *testing.T) {
	s := ToStatusView(&models.Document{ID: "d1", Status: models.StatusIndexed, SupersededBy: "d2"})
	assert.False(t, s.Live)
	assert.False(t, s.Degraded)
	assert.Equal(t, "indexed", s.Status)
	assert.Equal(t, "d2", s.SupersededBy)
}

func TestToSearchResults(t *testing.T) {
	assert.Empty(t, ToSearchResults(nil))
	assert.NotNil(t, ToSearchResults(nil))

	out := ToSearchResults([]store.SearchHit{{
		Chunk: models.Chunk{DocumentID: "d1", Filename: "BOQ.xlsx", Ordinal: 3, Category: "boq", Text: "Reinforced concrete"},
		Score: 0.82,
	}})
	assert.Equal(t, []SearchResult{{DocumentID: "d1", Filename: "BOQ.xlsx", Ordinal: 3, Category: "boq", Score: 0.82, Text: "Reinforced concrete"}}, out)
}
