package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Error("zero max size must be rejected")
	}
	if _, err := New(100, -1); err == nil {
		t.Error("negative overlap must be rejected")
	}
	if _, err := New(100, 100); err == nil {
		t.Error("overlap equal to max size must be rejected")
	}
	if _, err := New(100, 20); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}
}

func TestSplit_Empty(t *testing.T) {
	c, _ := New(100, 20)
	if got := c.Split("", Prose); got != nil {
		t.Errorf("empty text must yield no pieces, got %d", len(got))
	}
}

func TestSplit_ShortTextSinglePiece(t *testing.T) {
	c, _ := New(100, 20)
	text := "A short paragraph."
	pieces := c.Split(text, Prose)
	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}
	p := pieces[0]
	if p.Text != text || p.Start != 0 || p.End != len(text) || p.Index != 0 {
		t.Errorf("unexpected piece: %+v", p)
	}
}

// checkInvariants verifies that pieces cover the text without gaps,
// that rune offsets address the original text, that every piece is
// valid UTF-8, and that no piece exceeds the window.
func checkInvariants(t *testing.T, text string, pieces []Piece, maxSize int) {
	t.Helper()
	runes := []rune(text)
	if len(pieces) == 0 {
		t.Fatal("no pieces")
	}
	if pieces[0].Start != 0 {
		t.Errorf("first piece starts at %d, want 0", pieces[0].Start)
	}
	if last := pieces[len(pieces)-1]; last.End != len(runes) {
		t.Errorf("last piece ends at %d, want %d", last.End, len(runes))
	}
	for i, p := range pieces {
		if p.Index != i {
			t.Errorf("piece %d carries index %d", i, p.Index)
		}
		if !utf8.ValidString(p.Text) {
			t.Errorf("piece %d is not valid UTF-8: %q", i, p.Text)
		}
		if p.Text != string(runes[p.Start:p.End]) {
			t.Errorf("piece %d text does not match its offsets", i)
		}
		if n := utf8.RuneCountInString(p.Text); n > maxSize {
			t.Errorf("piece %d length %d exceeds max %d", i, n, maxSize)
		}
		if i > 0 && p.Start > pieces[i-1].End {
			t.Errorf("gap between piece %d (end %d) and piece %d (start %d)",
				i-1, pieces[i-1].End, i, p.Start)
		}
	}
}

func TestSplit_ProseCoverageAndOverlap(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 40)

	c, _ := New(200, 40)
	pieces := c.Split(text, Prose)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	checkInvariants(t, text, pieces, 200)

	for i := 1; i < len(pieces); i++ {
		overlap := pieces[i-1].End - pieces[i].Start
		if overlap <= 0 {
			t.Errorf("pieces %d and %d share no text", i-1, i)
		}
	}
}

func TestSplit_ProsePrefersSentenceBoundary(t *testing.T) {
	sentence := "Alpha beta gamma delta epsilon zeta eta theta iota kappa. "
	text := strings.Repeat(sentence, 20)

	c, _ := New(150, 30)
	pieces := c.Split(text, Prose)
	checkInvariants(t, text, pieces, 150)

	// Every non-final cut should land just after sentence punctuation
	// or whitespace, never mid-word.
	for i, p := range pieces[:len(pieces)-1] {
		switch text[p.End-1] {
		case '.', '!', '?', ' ', '\n':
		default:
			t.Errorf("piece %d cut mid-word at %d: %q", i, p.End, text[p.End-1])
		}
	}
}

func TestSplit_MultiByteProse(t *testing.T) {
	text := strings.Repeat("知識は力なり。", 40)
	c, _ := New(100, 20)
	pieces := c.Split(text, Prose)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	checkInvariants(t, text, pieces, 100)

	// Fullwidth terminators count as sentence ends.
	runes := []rune(text)
	for i, p := range pieces[:len(pieces)-1] {
		if runes[p.End-1] != '。' {
			t.Errorf("piece %d ends at %q, want a sentence terminator", i, runes[p.End-1])
		}
	}
}

func TestSplit_MultiByteHardCut(t *testing.T) {
	text := strings.Repeat("永", 500)
	c, _ := New(150, 30)
	pieces := c.Split(text, Prose)
	checkInvariants(t, text, pieces, 150)
	for i, p := range pieces {
		if !utf8.ValidString(p.Text) {
			t.Fatalf("piece %d cut inside a rune: %q", i, p.Text)
		}
	}
}

func TestSplit_NoBoundaryFallsBackToHardCut(t *testing.T) {
	text := strings.Repeat("x", 950)
	c, _ := New(300, 50)
	pieces := c.Split(text, Prose)
	checkInvariants(t, text, pieces, 300)
}

func TestSplit_CodePrefersBlankLines(t *testing.T) {
	fn := "func handler(w http.ResponseWriter, r *http.Request) {\n\tw.WriteHeader(200)\n}\n\n"
	text := strings.Repeat(fn, 20)

	c, _ := New(300, 60)
	pieces := c.Split(text, Code)
	checkInvariants(t, text, pieces, 300)

	blankCuts := 0
	for _, p := range pieces[:len(pieces)-1] {
		if p.End >= 2 && text[p.End-2:p.End] == "\n\n" {
			blankCuts++
		}
	}
	if blankCuts == 0 {
		t.Error("no cut landed on a blank line")
	}
}

func TestSplit_TabularRepeatsHeader(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,name,score\n")
	for i := 0; i < 100; i++ {
		b.WriteString("42,example-row-with-some-content,0.95\n")
	}
	text := b.String()

	c, _ := New(400, 0)
	pieces := c.Split(text, Tabular)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple blocks, got %d", len(pieces))
	}
	for i, p := range pieces {
		if !strings.HasPrefix(p.Text, "id,name,score\n") {
			t.Errorf("block %d missing header", i)
		}
		if len(p.Text) > 400 {
			t.Errorf("block %d length %d exceeds max", i, len(p.Text))
		}
	}

	// Offsets cover all data lines contiguously.
	if pieces[0].Start != len("id,name,score\n") {
		t.Errorf("first block starts at %d", pieces[0].Start)
	}
	for i := 1; i < len(pieces); i++ {
		if pieces[i].Start != pieces[i-1].End {
			t.Errorf("block %d not contiguous with block %d", i, i-1)
		}
	}
	if pieces[len(pieces)-1].End != len(text) {
		t.Error("blocks do not cover all data lines")
	}
}

func TestSplit_TabularDegenerateHeader(t *testing.T) {
	text := strings.Repeat("a", 500) + "\n" + strings.Repeat("b,c\n", 100)
	c, _ := New(200, 40)
	pieces := c.Split(text, Tabular)
	checkInvariants(t, text, pieces, 200)
}

func TestSplit_ZeroOverlap(t *testing.T) {
	text := strings.Repeat("word ", 200)
	c, _ := New(100, 0)
	pieces := c.Split(text, Prose)
	checkInvariants(t, text, pieces, 100)
	for i := 1; i < len(pieces); i++ {
		if pieces[i].Start != pieces[i-1].End {
			t.Errorf("zero overlap expected contiguous pieces, got %d vs %d",
				pieces[i].Start, pieces[i-1].End)
		}
	}
}
