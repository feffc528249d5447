package rag

import (
	"strings"
	"testing"
)

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 100)
	chunks := c.Split("Cats are mammals. Dogs are mammals too.")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "Cats are mammals. Dogs are mammals too." {
		t.Errorf("chunk text: got %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 || chunks[0].Start != 0 {
		t.Errorf("chunk position: index=%d start=%d", chunks[0].Index, chunks[0].Start)
	}
}

func TestChunker_WhitespaceOnlyYieldsNothing(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 100)
	for _, in := range []string{"", "   ", "\n\t\n"} {
		if chunks := c.Split(in); chunks != nil {
			t.Errorf("Split(%q): expected nil, got %d chunks", in, len(chunks))
		}
	}
}

func TestChunker_OffsetsMatchText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	c := NewChunker(250, 50)
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d: Index = %d", i, ch.Index)
		}
		if ch.Text != text[ch.Start:ch.End] {
			t.Errorf("chunk %d: Text does not match text[%d:%d]", i, ch.Start, ch.End)
		}
	}
}

func TestChunker_OverlapAndCoverage(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdefghij", 100) // 1000 bytes
	size, overlap := 300, 60
	c := NewChunker(size, overlap)
	chunks := c.Split(text)

	if chunks[0].Start != 0 {
		t.Errorf("first chunk starts at %d", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != len(text) {
		t.Errorf("last chunk ends at %d, want %d", chunks[len(chunks)-1].End, len(text))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Start >= prev.End {
			t.Errorf("chunks %d and %d do not overlap: prev end %d, cur start %d", i-1, i, prev.End, cur.Start)
		}
		if got := prev.End - cur.Start; got != overlap && prev.End-prev.Start == size {
			t.Errorf("chunks %d and %d: overlap = %d, want %d", i-1, i, got, overlap)
		}
	}
}

func TestChunker_Deterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Stable input must give stable output. ", 80)
	c := NewChunker(400, 80)

	a := c.Split(text)
	b := c.Split(text)

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestNewChunker_Clamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		size, overlap int
		wantSize      int
		wantOverlap   int
	}{
		{"defaults on zero size", 0, 50, DefaultChunkSize, 50},
		{"negative overlap clamped", 500, -1, 500, 0},
		{"overlap >= size clamped", 100, 100, 100, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewChunker(tt.size, tt.overlap)
			if c.size != tt.wantSize || c.overlap != tt.wantOverlap {
				t.Errorf("NewChunker(%d, %d) = {size: %d, overlap: %d}, want {%d, %d}",
					tt.size, tt.overlap, c.size, c.overlap, tt.wantSize, tt.wantOverlap)
			}
		})
	}
}

func TestTexts(t *testing.T) {
	t.Parallel()

	chunks := []Chunk{
		{Index: 0, Text: "one"},
		{Index: 1, Text: "two"},
	}
	got := Texts(chunks)
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Texts = %v", got)
	}
}
