// Package chunk splits extracted text into overlapping pieces sized for
// embedding.
//
// The default policy is a sliding window of maxSize characters with a
// configured overlap, snapped to the nearest sentence or line boundary
// within a small lookback window. Content-type-aware strategies refine
// the split points: code prefers blank-line and top-level declaration
// boundaries, tabular data is grouped into record blocks that each carry
// the header line. Sizes and offsets count runes, so multi-byte text is
// never cut inside a character.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Piece is one chunk of a document's text with its rune offsets in the
// original.
type Piece struct {
	Index int
	Text  string
	Start int
	End   int
}

// ContentType mirrors source.ContentType without importing it; the
// chunker only needs the tag values.
type ContentType string

const (
	Prose   ContentType = "prose"
	Code    ContentType = "code"
	Tabular ContentType = "tabular"
	Other   ContentType = "other"
)

// boundaryLookback is how far back from a hard cut the chunker searches
// for a sentence or line boundary before giving up and cutting hard.
const boundaryLookback = 120

// Chunker splits text according to the configured window size and
// overlap, both measured in runes. Safe for concurrent use; it holds no
// mutable state.
type Chunker struct {
	maxSize int
	overlap int
}

// New creates a Chunker. The overlap must be non-negative and strictly
// less than maxSize; the configuration is rejected otherwise.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunk max size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// MaxSize returns the configured window size.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text using the strategy for the given content type.
// Empty text yields no pieces; text no longer than the window yields
// exactly one piece with no overlap applied.
func (c *Chunker) Split(text string, ct ContentType) []Piece {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.maxSize {
		return []Piece{{Index: 0, Text: text, Start: 0, End: len(runes)}}
	}

	switch ct {
	case Code:
		return c.splitAt(runes, codeBoundary)
	case Tabular:
		return c.splitTabular(text)
	default:
		return c.splitAt(runes, proseBoundary)
	}
}

// boundaryFunc returns the preferred cut position within text[lo:hi],
// or -1 when no boundary exists in that range.
type boundaryFunc func(text []rune, lo, hi int) int

// splitAt implements the sliding window. Each window ends at hard
// position start+maxSize, pulled back to the nearest boundary within
// boundaryLookback runes when one exists.
func (c *Chunker) splitAt(text []rune, boundary boundaryFunc) []Piece {
	var pieces []Piece
	start := 0
	index := 0

	for start < len(text) {
		end := start + c.maxSize
		if end >= len(text) {
			end = len(text)
		} else {
			lo := end - boundaryLookback
			if lo <= start {
				lo = start + 1
			}
			if b := boundary(text, lo, end); b > start {
				end = b
			}
		}

		pieces = append(pieces, Piece{
			Index: index,
			Text:  string(text[start:end]),
			Start: start,
			End:   end,
		})
		index++

		if end == len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// Overlap would stall the window; step forward instead.
			next = start + 1
		}
		start = next
	}

	return pieces
}

// proseBoundary prefers a sentence end, falling back to a newline, then
// a space.
func proseBoundary(text []rune, lo, hi int) int {
	for i := hi - 1; i >= lo; i-- {
		switch text[i] {
		case '.', '!', '?':
			// Treat as sentence end only when followed by whitespace
			// or text end so "3.14" does not split.
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				return i + 1
			}
		case '。', '！', '？', '．':
			// Fullwidth terminators are not followed by a space.
			return i + 1
		case '\n':
			return i + 1
		}
	}
	for i := hi - 1; i >= lo; i-- {
		if text[i] == ' ' {
			return i + 1
		}
	}
	return -1
}

// codeBoundary prefers a blank line, then a line that opens a new
// top-level declaration (column-zero non-whitespace after a newline),
// then any newline.
func codeBoundary(text []rune, lo, hi int) int {
	for i := hi - 2; i >= lo; i-- {
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			return i + 2
		}
	}
	for i := hi - 1; i >= lo; i-- {
		if text[i] == '\n' && i+1 < len(text) {
			ch := text[i+1]
			if ch != ' ' && ch != '\t' && ch != '\n' && ch != '}' {
				return i + 1
			}
		}
	}
	for i := hi - 1; i >= lo; i-- {
		if text[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

// splitTabular groups lines into record blocks of at most maxSize
// runes. The first line is treated as a header and repeated at the top
// of every block so each chunk stays interpretable on its own. Offsets
// refer to each block's first data line in the original text.
func (c *Chunker) splitTabular(text string) []Piece {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) == 0 {
		return nil
	}

	header := lines[0]
	headerLen := utf8.RuneCountInString(header)
	if headerLen >= c.maxSize {
		// Degenerate header; fall back to the default policy.
		return c.splitAt([]rune(text), proseBoundary)
	}

	var pieces []Piece
	index := 0
	offset := headerLen

	var b strings.Builder
	blockLen := 0
	blockStart := offset
	flush := func(end int) {
		if blockLen == 0 {
			return
		}
		pieces = append(pieces, Piece{
			Index: index,
			Text:  header + b.String(),
			Start: blockStart,
			End:   end,
		})
		index++
		b.Reset()
		blockLen = 0
	}

	for _, line := range lines[1:] {
		n := utf8.RuneCountInString(line)
		if blockLen > 0 && headerLen+blockLen+n > c.maxSize {
			flush(offset)
			blockStart = offset
		}
		b.WriteString(line)
		blockLen += n
		offset += n
	}
	flush(offset)

	if len(pieces) == 0 {
		return []Piece{{Index: 0, Text: text, Start: 0, End: utf8.RuneCountInString(text)}}
	}
	return pieces
}
