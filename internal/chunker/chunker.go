// Package chunker splits text into overlapping fixed-size windows.
package chunker

import (
	"fmt"
	"iter"
	"unicode"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Span is one window. Start and End are rune offsets into the source text.
type Span struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks yields the windows of text in order. Each range over the result
// recomputes the same boundaries.
func (c *Chunker) Chunks(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		runes := []rune(text)
		if isBlank(runes) {
			return
		}
		n := len(runes)
		start, ordinal := 0, 0
		for {
			end := start + c.size
			if end >= n {
				end = n
			} else {
				end = c.snap(runes, start, end)
			}
			if !yield(Span{Ordinal: ordinal, Start: start, End: end, Text: string(runes[start:end])}) {
				return
			}
			if end == n {
				return
			}
			next := end - c.overlap
			if next <= start {
				next = end
			}
			start = next
			ordinal++
		}
	}
}

// Split materializes Chunks.
func (c *Chunker) Split(text string) []Span {
	var out []Span
	for s := range c.Chunks(text) {
		out = append(out, s)
	}
	return out
}

// snap moves end back to just after the last whitespace in the final fifth
// of the window so words are not cut. The window never shrinks past overlap.
func (c *Chunker) snap(runes []rune, start, end int) int {
	floor := end - c.size/5
	if lo := start + c.overlap + 1; floor < lo {
		floor = lo
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
