package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadParameters(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)
	_, err = New(100, 100)
	assert.Error(t, err)
	_, err = New(100, -1)
	assert.Error(t, err)

	c, err := New(DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, c.Size())
	assert.Equal(t, DefaultOverlap, c.Overlap())
}

func TestSplitBlankText(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split(" \n\t "))
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	c, err := New(100, 20)
	require.NoError(t, err)

	spans := c.Split("Bill 2 Substructure")
	require.Len(t, spans, 1)
	assert.Equal(t, Span{Ordinal: 0, Start: 0, End: 19, Text: "Bill 2 Substructure"}, spans[0])
}

func TestSplitCoversTextWithOverlap(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)
	text := strings.Repeat("concrete rebar formwork ", 20)
	runes := []rune(text)

	spans := c.Split(text)
	require.Greater(t, len(spans), 1)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(runes), spans[len(spans)-1].End)

	for i, s := range spans {
		assert.Equal(t, i, s.Ordinal)
		assert.LessOrEqual(t, s.End-s.Start, 50)
		assert.Equal(t, string(runes[s.Start:s.End]), s.Text)
		if i == 0 {
			continue
		}
		prev := spans[i-1]
		assert.Greater(t, s.Start, prev.Start, "windows always advance")
		assert.Equal(t, prev.End-10, s.Start, "consecutive windows share the overlap")
	}
}

func TestSplitSnapsToWhitespace(t *testing.T) {
	c, err := New(20, 4)
	require.NoError(t, err)

	spans := c.Split("aaaa bbbb cccc dddd eeee ffff")
	require.NotEmpty(t, spans)
	assert.Equal(t, "aaaa bbbb cccc dddd ", spans[0].Text)
}

func TestSplitUsesRuneOffsets(t *testing.T) {
	c, err := New(8, 2)
	require.NoError(t, err)
	text := "المواصفات الفنية للخرسانة"

	spans := c.Split(text)
	require.NotEmpty(t, spans)
	for _, s := range spans {
		assert.True(t, utf8.ValidString(s.Text))
		assert.Equal(t, s.End-s.Start, utf8.RuneCountInString(s.Text))
	}
	assert.Equal(t, utf8.RuneCountInString(text), spans[len(spans)-1].End)
}

func TestChunksIsRestartable(t *testing.T) {
	c, err := New(30, 5)
	require.NoError(t, err)
	seq := c.Chunks(strings.Repeat("piling ", 30))

	var first, second []Span
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	assert.Equal(t, first, second)

	var stopped []Span
	for s := range seq {
		stopped = append(stopped, s)
		if len(stopped) == 2 {
			break
		}
	}
	assert.Equal(t, first[:2], stopped)
}
