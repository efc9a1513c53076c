package ingest

import (
	"strings"
	"testing"
)

func TestChunkTextShortInputIsSingleChunk(t *testing.T) {
	t.Parallel()

	text := "One paragraph.\n\nAnother paragraph."
	chunks := ChunkText(text, 1000)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk = %q", chunks[0])
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	t.Parallel()

	if chunks := ChunkText("   \n  ", 100); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
}

func TestChunkTextRespectsParagraphBoundaries(t *testing.T) {
	t.Parallel()

	paras := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
		strings.Repeat("d", 40),
	}
	text := strings.Join(paras, "\n\n")

	chunks := ChunkText(text, 90)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	for i, c := range chunks {
		if len(c) > 90 {
			t.Errorf("chunk %d length %d exceeds max", i, len(c))
		}
	}
	// No paragraph may be split across chunks.
	for _, p := range paras {
		found := 0
		for _, c := range chunks {
			if strings.Contains(c, p) {
				found++
			}
		}
		if found != 1 {
			t.Errorf("paragraph %q found in %d chunks", p[:4], found)
		}
	}
}

func TestChunkTextOversizedParagraphKeptWhole(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 300)
	text := "intro\n\n" + big + "\n\noutro"

	chunks := ChunkText(text, 100)
	var foundWhole bool
	for _, c := range chunks {
		if c == big {
			foundWhole = true
		}
	}
	if !foundWhole {
		t.Errorf("oversized paragraph was split: %q", chunks)
	}
}

func TestChunkTextNormalizesBlankRuns(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("p", 60) + "\r\n\r\n\r\n\r\n" + strings.Repeat("q", 60)
	chunks := ChunkText(text, 70)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
}

func TestChunkTextReconstructsAllContent(t *testing.T) {
	t.Parallel()

	paras := make([]string, 20)
	for i := range paras {
		paras[i] = strings.Repeat(string(rune('a'+i)), 30+i)
	}
	text := strings.Join(paras, "\n\n")

	chunks := ChunkText(text, 120)
	joined := strings.Join(chunks, "\n\n")
	for _, p := range paras {
		if !strings.Contains(joined, p) {
			t.Errorf("paragraph %q missing from output", p[:4])
		}
	}
}

func TestChunkPageTracksSectionHeaders(t *testing.T) {
	t.Parallel()

	content := "# Setup\n\n" + strings.Repeat("s", 80) + "\n\n## Install\n\n" + strings.Repeat("i", 80) + "\n\n" + strings.Repeat("j", 80)
	chunks := ChunkPage("page-1", "Guide", content, 100)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	if chunks[0].SectionHeader != "Setup" {
		t.Errorf("chunks[0].SectionHeader = %q", chunks[0].SectionHeader)
	}
	last := chunks[len(chunks)-1]
	if last.SectionHeader != "Install" {
		t.Errorf("last chunk header = %q, want carried Install", last.SectionHeader)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunks[%d].Index = %d", i, c.Index)
		}
		if c.PageID != "page-1" {
			t.Errorf("chunks[%d].PageID = %q", i, c.PageID)
		}
		if c.ChunkType != ChunkTypeContent {
			t.Errorf("chunks[%d].ChunkType = %q", i, c.ChunkType)
		}
	}
}

func TestChunkPageHeaderFallsBackToTitle(t *testing.T) {
	t.Parallel()

	chunks := ChunkPage("page-1", "Pricing", "no headers here at all", 1000)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0].SectionHeader != "Pricing" {
		t.Errorf("header = %q, want page title", chunks[0].SectionHeader)
	}
}
