package chunker

import (
	"strings"
	"testing"
)

func TestChunk_EmptyInput(t *testing.T) {
	if got := Chunk("   ", DefaultOptions()); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	got := Chunk("  We went to the park.  ", DefaultOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0].Text != "We went to the park." {
		t.Errorf("unexpected text %q", got[0].Text)
	}
}

func TestChunk_SplitsOnSentences(t *testing.T) {
	opts := Options{TargetSize: 40, MaxSize: 60}
	text := "The user greeted me warmly today. They asked about the weather in Paris. Then we talked about dinner plans."

	got := Chunk(text, opts)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(got), got)
	}
	if got[1].Text != "They asked about the weather in Paris." {
		t.Errorf("unexpected second chunk %q", got[1].Text)
	}
	for i, c := range got {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
	}
}

func TestChunk_MergesSmallPieces(t *testing.T) {
	opts := Options{TargetSize: 50, MaxSize: 50}
	text := "One.\n\nTwo.\n\nThree.\n\n" + strings.Repeat("x", 45)

	got := Chunk(text, opts)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(got), got)
	}
	if got[0].Text != "One. Two. Three." {
		t.Errorf("small paragraphs should merge, got %q", got[0].Text)
	}
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 100, MaxSize: 150}
	text := strings.Repeat("word ", 200)

	got := Chunk(text, opts)
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for _, c := range got {
		if len(c.Text) > opts.MaxSize {
			t.Errorf("chunk exceeds max size: %d", len(c.Text))
		}
	}
}
