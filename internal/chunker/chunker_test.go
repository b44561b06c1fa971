package chunker_test

import (
	"strings"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/chunker"
)

func TestChunkText_ShortTextIsOneChunk(t *testing.T) {
	cfg := chunker.DefaultChunkerConfig()
	chunks := chunker.ChunkText("a short document", cfg)
	if len(chunks) != 1 {
		t.Fatalf("ChunkText() = %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "a short document" {
		t.Errorf("ChunkText()[0].Text = %q, want unchanged input", chunks[0].Text)
	}
}

func TestChunkText_Passthrough(t *testing.T) {
	cfg := chunker.ChunkerConfig{Passthrough: true, ChunkSize: 5}
	text := strings.Repeat("word ", 100)
	chunks := chunker.ChunkText(text, cfg)
	if len(chunks) != 1 || chunks[0].Text != text {
		t.Fatalf("ChunkText() with Passthrough = %d chunks, want exactly 1 chunk equal to the input", len(chunks))
	}
}

func TestChunkText_CharSplitter(t *testing.T) {
	cfg := chunker.ChunkerConfig{Splitter: chunker.SplitterChar, ChunkSize: 10, ChunkOverlap: 2}
	text := strings.Repeat("x", 35)
	chunks := chunker.ChunkText(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("ChunkText() char split of %d runes at size 10 = %d chunks, want > 1", len(text), len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index = %d, want %d", i, c.Index, i)
		}
		if len([]rune(c.Text)) > 10 {
			t.Errorf("chunk %d has %d runes, want <= 10", i, len([]rune(c.Text)))
		}
	}
	// Reassembling with overlap removed should still cover the whole input.
	var total strings.Builder
	total.WriteString(chunks[0].Text)
	for _, c := range chunks[1:] {
		total.WriteString(c.Text[2:])
	}
	if total.String() != text {
		t.Errorf("reassembled chunks = %q, want the original input", total.String())
	}
}

func TestChunkText_RecursiveSplitterRespectsParagraphs(t *testing.T) {
	cfg := chunker.DefaultChunkerConfig()
	cfg.ChunkSize = 20
	cfg.ChunkOverlap = 0
	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	chunks := chunker.ChunkText(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("ChunkText() recursive split over 3 paragraphs = %d chunks, want > 1", len(chunks))
	}
}

func TestChunkText_DefaultsAppliedOnInvalidConfig(t *testing.T) {
	cfg := chunker.ChunkerConfig{ChunkSize: 0, ChunkOverlap: -5}
	chunks := chunker.ChunkText("some text that is not empty", cfg)
	if len(chunks) == 0 {
		t.Fatal("ChunkText() with zero ChunkSize and negative overlap returned no chunks, want fallback defaults applied")
	}
}

func TestChunkText_TokenSplitter(t *testing.T) {
	cfg := chunker.ChunkerConfig{Splitter: chunker.SplitterToken, ChunkSize: 5, ChunkOverlap: 1}
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10)
	chunks := chunker.ChunkText(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("ChunkText() token split of a long repeated sentence = %d chunks, want > 1", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index = %d, want %d", i, c.Index, i)
		}
		if c.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}
