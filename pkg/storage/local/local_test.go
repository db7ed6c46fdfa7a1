package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/pkg/logger"
)

func TestStoreGetDelete(t *testing.T) {
	ctx := context.Background()
	st, err := New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	key, err := st.Store(ctx, strings.NewReader("BOQ rev B"), "projects/p1/abc/BOQ.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1/abc/BOQ.xlsx", key)

	rc, err := st.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "BOQ rev B", string(data))

	// overwrite is atomic and leaves no temp files behind
	_, err = st.Store(ctx, strings.NewReader("BOQ rev C"), key)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(st.root, "projects/p1/abc"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, st.Delete(ctx, key))
	require.NoError(t, st.Delete(ctx, key))
	_, err = st.Get(ctx, key)
	assert.Error(t, err)
}

func TestRejectsEscapingKeys(t *testing.T) {
	st, err := New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	_, err = st.Store(context.Background(), strings.NewReader("x"), "../outside.txt")
	assert.Error(t, err)
	_, err = st.Get(context.Background(), "a/../../etc/passwd")
	assert.Error(t, err)

	_, err = New("", logger.NewNop())
	assert.Error(t, err)
}

func TestCleanupBefore(t *testing.T) {
	ctx := context.Background()
	st, err := New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	_, err = st.Store(ctx, strings.NewReader("old"), "p/old.pdf")
	require.NoError(t, err)
	_, err = st.Store(ctx, strings.NewReader("new"), "p/new.pdf")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(st.root, "p/old.pdf"), past, past))

	require.NoError(t, st.CleanupBefore(ctx, time.Now().Add(-24*time.Hour)))

	_, err = os.Stat(filepath.Join(st.root, "p/old.pdf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(st.root, "p/new.pdf"))
	assert.NoError(t, err)
}
