package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/classifier"
	"github.com/feichai0017/tender-ingest/internal/embedding"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store/memory"
	"github.com/feichai0017/tender-ingest/internal/testutil"
)

func TestReindexReplacesChunkSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.ingest(t, "spec.pdf", specificationPDF())
	require.Equal(t, OutcomeIndexed, out.Status)
	before := f.chunks(t, out.DocumentID)
	indexedAt := f.document(t, out.DocumentID).IndexedAt

	require.NoError(t, f.svc.Reindex(ctx, out.DocumentID))

	after := f.chunks(t, out.DocumentID)
	require.Len(t, after, len(before), "no orphaned chunks survive a re-index")
	for i := range after {
		assert.Equal(t, i, after[i].Ordinal)
		assert.Equal(t, before[i].Text, after[i].Text)
		assert.Equal(t, before[i].Vector, after[i].Vector)
	}

	doc := f.document(t, out.DocumentID)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, indexedAt, doc.IndexedAt)
}

func TestReindexRejectsUnknownAndSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Error(t, f.svc.Reindex(ctx, "00000000-0000-0000-0000-000000000000"))

	v1 := f.ingest(t, "minutes.txt", []byte("Clarification meeting one. "+testutil.Words(30)))
	v2 := f.ingest(t, "minutes.txt", []byte("Clarification meeting two. "+testutil.Words(30)))
	require.Equal(t, OutcomeIndexed, v2.Status)

	err := f.svc.Reindex(ctx, v1.DocumentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "superseded")
	assert.Empty(t, f.chunks(t, v1.DocumentID))
}

func TestReindexCompletesEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.embedder.SetFailing(true)
	out := f.ingest(t, "boq.xlsx", boqWorkbook(t))
	require.Equal(t, OutcomeFailed, out.Status)
	require.Equal(t, models.ReasonEmbeddingFailed, out.Reason)

	// still failing: the document stays failed with its text
	require.Error(t, f.svc.Reindex(ctx, out.DocumentID))
	assert.Equal(t, models.StatusFailed, f.document(t, out.DocumentID).Status)

	f.embedder.SetFailing(false)
	require.NoError(t, f.svc.Reindex(ctx, out.DocumentID))
	doc := f.document(t, out.DocumentID)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, classifier.BOQ, doc.Category)
	assert.NotEmpty(t, f.chunks(t, doc.ID))
}

func TestReindexRejectsDocumentWithoutText(t *testing.T) {
	f := newFixture(t)

	out := f.ingest(t, "unknown.bin", []byte{0x00, 0xFF, 0x00, 0xFE})
	require.Equal(t, OutcomeFailed, out.Status)
	assert.Error(t, f.svc.Reindex(context.Background(), out.DocumentID))
}

func TestDimensionMismatchThenReembedProject(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	old := newFixture(t, withStore(st))
	first := old.ingest(t, "spec.pdf", specificationPDF())
	require.Equal(t, OutcomeIndexed, first.Status)
	dim, err := st.ProjectDimension(ctx, project)
	require.NoError(t, err)
	require.Equal(t, 64, dim)

	cur := newFixture(t, withStore(st), withEmbedder(embedding.NewHash(32)))
	boq := boqWorkbook(t)
	second := cur.ingest(t, "boq.xlsx", boq)
	require.Equal(t, OutcomeFailed, second.Status)
	assert.Equal(t, models.ReasonEmbeddingFailed, second.Reason)
	assert.Contains(t, second.Error, embedding.ErrDimensionMismatch.Error())
	assert.Contains(t, second.Error, "re-embed the project")

	n, err := cur.svc.ReembedProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only indexed documents are re-embedded")

	dim, err = st.ProjectDimension(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 32, dim)
	for _, c := range cur.chunks(t, first.DocumentID) {
		assert.Len(t, c.Vector, 32)
	}

	retried := cur.ingest(t, "boq.xlsx", boq)
	require.Equal(t, OutcomeIndexed, retried.Status, retried.Error)
	assert.Equal(t, second.DocumentID, retried.DocumentID)
}

func TestShortVectorsFailEmbedding(t *testing.T) {
	f := newFixture(t, withEmbedder(testutil.ShortEmbedder{Hash: embedding.NewHash(16)}))

	out := f.ingest(t, "spec.pdf", specificationPDF())
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, models.ReasonEmbeddingFailed, out.Reason)
	assert.Contains(t, out.Error, embedding.ErrDimensionMismatch.Error())
}

func TestSearchFiltersByCategoryAndDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := f.ingest(t, "specs/concrete.pdf", specificationPDF())
	boq := f.ingest(t, "pricing/BOQ.xlsx", boqWorkbook(t))
	require.Equal(t, OutcomeIndexed, spec.Status)
	require.Equal(t, OutcomeIndexed, boq.Status)

	hits, err := f.svc.Search(ctx, SearchRequest{ProjectID: project, Query: "reinforced concrete C40", K: 20})
	require.NoError(t, err)
	docs := map[string]bool{}
	for i, h := range hits {
		docs[h.Chunk.DocumentID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
	assert.True(t, docs[spec.DocumentID])
	assert.True(t, docs[boq.DocumentID])

	hits, err = f.svc.Search(ctx, SearchRequest{ProjectID: project, Category: classifier.BOQ, Query: "reinforced concrete C40", K: 20})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, boq.DocumentID, h.Chunk.DocumentID)
		assert.Equal(t, classifier.BOQ, h.Chunk.Category)
	}

	hits, err = f.svc.Search(ctx, SearchRequest{ProjectID: project, DocumentID: spec.DocumentID, Query: "concrete", K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, spec.DocumentID, hits[0].Chunk.DocumentID)

	hits, err = f.svc.Search(ctx, SearchRequest{ProjectID: "another-project", Query: "concrete"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = f.svc.Search(ctx, SearchRequest{ProjectID: project, Query: "  "})
	assert.Error(t, err)
}
