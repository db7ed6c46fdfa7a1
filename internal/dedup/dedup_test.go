package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/internal/store"
	"github.com/feichai0017/tender-ingest/internal/store/memory"
)

func TestDigest(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Digest([]byte("abc")))

	fromReader, err := DigestReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte("abc")), fromReader)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := New(st)
	digest := Digest([]byte("tender drawing"))

	doc, handled, err := d.Lookup(ctx, "p1", digest)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.False(t, handled)

	claimed, _, err := st.Claim(ctx, store.ClaimRequest{ProjectID: "p1", Digest: digest, Filename: "A-101.dxf"})
	require.NoError(t, err)

	doc, handled, err = d.Lookup(ctx, "p1", digest)
	require.NoError(t, err)
	assert.True(t, handled, "a pending document is already handled")
	assert.Equal(t, claimed.ID, doc.ID)

	_, handled, err = d.Lookup(ctx, "p2", digest)
	require.NoError(t, err)
	assert.False(t, handled, "digests are scoped to a project")

	claimed.Status = models.StatusFailed
	claimed.FailureReason = models.ReasonCorruptInput
	require.NoError(t, st.UpdateDocument(ctx, claimed))

	doc, handled, err = d.Lookup(ctx, "p1", digest)
	require.NoError(t, err)
	assert.False(t, handled, "failed documents may be retried")
	assert.Equal(t, claimed.ID, doc.ID)
}

type brokenFinder struct{}

func (brokenFinder) FindLive(context.Context, string, string) (*models.Document, error) {
	return nil, errors.New("connection refused")
}

func TestLookupPropagatesStoreErrors(t *testing.T) {
	_, handled, err := New(brokenFinder{}).Lookup(context.Background(), "p1", "x")
	require.Error(t, err)
	assert.False(t, handled)
	assert.Contains(t, err.Error(), "connection refused")
}
