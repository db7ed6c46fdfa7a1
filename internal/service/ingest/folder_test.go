package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/classifier"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/testutil"
)

func TestIngestFolderMixedPackage(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeFile(t, root, "specs/technical-specification.pdf", specificationPDF())
	writeFile(t, root, "scans/site-survey.pdf", testutil.ScannedPDF(1))
	writeFile(t, root, "pricing/BOQ.xlsx", boqWorkbook(t))
	writeFile(t, root, "drawings/A-101.dwg", []byte("AC1032\x00\x00binary drawing"))
	writeFile(t, root, ".DS_Store", []byte{0, 0, 0, 1})
	writeFile(t, root, ".git/config", []byte("[core]"))

	var (
		mu    sync.Mutex
		calls []int
	)
	result, err := f.svc.IngestFolder(context.Background(), FolderRequest{
		ProjectID: project,
		Root:      root,
		OnProgress: func(current, total int, filename string, status OutcomeStatus) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 4, total)
			calls = append(calls, current)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Cancelled)
	assert.Equal(t, 4, result.Workers)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, calls)

	require.Len(t, result.Outcomes, 4)
	paths := make([]string, len(result.Outcomes))
	for i, o := range result.Outcomes {
		paths[i] = o.Path
	}
	assert.Equal(t, []string{
		"drawings/A-101.dwg",
		"pricing/BOQ.xlsx",
		"scans/site-survey.pdf",
		"specs/technical-specification.pdf",
	}, paths)

	dwg := result.Outcomes[0]
	assert.Equal(t, OutcomeFailed, dwg.Status)
	assert.Equal(t, models.ReasonConversionFailed, dwg.Reason)
	assert.Empty(t, f.chunks(t, dwg.DocumentID))

	boq := f.document(t, result.Outcomes[1].DocumentID)
	assert.Equal(t, classifier.BOQ, boq.Category)
	assert.Equal(t, models.FamilySheet, boq.Family)
	assert.Contains(t, boq.Text, "[Sheet: BOQ]")
	require.IsType(t, map[string]string{}, boq.Metadata["sheet_map"])
	assert.Equal(t, "A1:E4", boq.Metadata["sheet_map"].(map[string]string)["BOQ"])
	assert.NotEmpty(t, boq.Tables)

	scan := f.document(t, result.Outcomes[2].DocumentID)
	assert.Equal(t, true, scan.Metadata["ocr"])

	spec := f.document(t, result.Outcomes[3].DocumentID)
	assert.Equal(t, classifier.Specs, spec.Category)

	for _, o := range result.Outcomes[1:] {
		assert.Equal(t, OutcomeIndexed, o.Status, o.Error)
		assert.NotEmpty(t, f.chunks(t, o.DocumentID), o.Path)
	}

	docs, err := f.store.ListDocuments(context.Background(), project)
	require.NoError(t, err)
	assert.Len(t, docs, 4, "hidden files are never claimed")
}

func TestIngestFolderSecondRunSkipsEverything(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeFile(t, root, "a/notes.txt", []byte("Pre-tender meeting minutes. "+testutil.Words(40)))
	writeFile(t, root, "b/spec.pdf", specificationPDF())

	first, err := f.svc.IngestFolder(context.Background(), FolderRequest{ProjectID: project, Root: root})
	require.NoError(t, err)
	require.Equal(t, 2, first.Indexed)

	second, err := f.svc.IngestFolder(context.Background(), FolderRequest{ProjectID: project, Root: root})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Skipped)
	for i := range second.Outcomes {
		assert.Equal(t, first.Outcomes[i].DocumentID, second.Outcomes[i].DocumentID)
	}
}

func TestIngestFolderEmpty(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.IngestFolder(context.Background(), FolderRequest{ProjectID: project, Root: t.TempDir()})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Outcomes)
}

func TestIngestFolderMissingRoot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IngestFolder(context.Background(), FolderRequest{ProjectID: project, Root: t.TempDir() + "/nope"})
	assert.Error(t, err)
}

func TestCancelProjectStopsScheduling(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.Workers = 1 }))
	root := t.TempDir()
	const n = 5
	for i := 0; i < n; i++ {
		writeFile(t, root, string(rune('a'+i))+".txt", []byte(testutil.Words(30+i)))
	}

	var once sync.Once
	result, err := f.svc.IngestFolder(context.Background(), FolderRequest{
		ProjectID: project,
		Root:      root,
		OnProgress: func(current, total int, filename string, status OutcomeStatus) {
			once.Do(func() {
				assert.Equal(t, 1, f.svc.CancelProject(project))
			})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, n, result.Total)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, n-1, result.Cancelled)
	assert.Equal(t, n, result.Indexed+result.Cancelled)
	assert.Equal(t, OutcomeIndexed, result.Outcomes[0].Status)
	for _, o := range result.Outcomes[1:] {
		assert.Equal(t, OutcomeCancelled, o.Status)
		assert.Empty(t, o.DocumentID)
	}

	assert.Zero(t, f.svc.CancelProject(project), "finished runs are unregistered")
}

func TestCancelProjectWithoutRuns(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.svc.CancelProject("other"))
}

func TestPoolSizeFavoursHeavyWorkers(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) {
		c.Workers = 8
		c.HeavyWorkers = 2
		c.HeavyShare = 0.5
	}))

	light := []walkedFile{{rel: "a.pdf"}, {rel: "b.docx"}, {rel: "c.dwg"}}
	assert.Equal(t, 8, f.svc.poolSize(light))

	heavy := []walkedFile{{rel: "a.pdf"}, {rel: "b.ifc"}, {rel: "c.dwg"}, {rel: "d.DXF"}}
	assert.Equal(t, 2, f.svc.poolSize(heavy))

	assert.Equal(t, 8, f.svc.poolSize(nil))
}

func TestWalkSkipsHiddenEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", []byte("b"))
	writeFile(t, root, "a/c.txt", []byte("c"))
	writeFile(t, root, ".hidden/d.txt", []byte("d"))
	writeFile(t, root, "a/.e.txt", []byte("e"))

	files, err := walk(root)
	require.NoError(t, err)
	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.rel
	}
	assert.Equal(t, []string{"a/c.txt", "b.txt"}, rels)
}
