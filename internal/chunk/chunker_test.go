package chunk

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplit_EmptyDocument(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty string", text: ""},
		{name: "whitespace only", text: "  \n\t\n  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Split(tt.text, DefaultMaxChars); got != nil {
				t.Errorf("Split(%q) = %v, want nil", tt.text, got)
			}
		})
	}
}

func TestSplit_SingleShortDocument(t *testing.T) {
	text := "Just a short note with no headings at all."

	chunks := Split(text, DefaultMaxChars)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Section != SectionIntro {
		t.Errorf("Section = %q, want %q", chunks[0].Section, SectionIntro)
	}
	if chunks[0].Text != text {
		t.Errorf("Text = %q, want %q", chunks[0].Text, text)
	}
}

func TestSplit_TitleAndSection(t *testing.T) {
	text := "# Guide\n\nIntro paragraph.\n\n## Install\n\nRun the installer."

	chunks := Split(text, DefaultMaxChars)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}

	if chunks[0].Section != SectionIntro {
		t.Errorf("chunks[0].Section = %q, want %q", chunks[0].Section, SectionIntro)
	}
	if !strings.HasPrefix(chunks[0].Text, "# Guide") {
		t.Errorf("preamble chunk should start with the title, got %q", chunks[0].Text)
	}
	if strings.Count(chunks[0].Text, "# Guide") != 1 {
		t.Errorf("title repeated in preamble chunk: %q", chunks[0].Text)
	}

	if chunks[1].Section != "Install" {
		t.Errorf("chunks[1].Section = %q, want %q", chunks[1].Section, "Install")
	}
	want := "# Guide\n\n## Install\n\nRun the installer."
	if chunks[1].Text != want {
		t.Errorf("chunks[1].Text = %q, want %q", chunks[1].Text, want)
	}
}

func TestSplit_TitleOnlyDocument(t *testing.T) {
	chunks := Split("# Lonely Title", DefaultMaxChars)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Section != SectionIntro {
		t.Errorf("Section = %q, want %q", chunks[0].Section, SectionIntro)
	}
	if chunks[0].Text != "# Lonely Title" {
		t.Errorf("Text = %q, want %q", chunks[0].Text, "# Lonely Title")
	}
}

func TestSplit_AdjacentSubheadings(t *testing.T) {
	text := "## First\n\n## Second\n\nBody."

	chunks := Split(text, DefaultMaxChars)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	// A heading with no body still yields a chunk carrying the heading.
	if chunks[0].Text != "## First" {
		t.Errorf("chunks[0].Text = %q, want %q", chunks[0].Text, "## First")
	}
	if chunks[0].Section != "First" {
		t.Errorf("chunks[0].Section = %q, want %q", chunks[0].Section, "First")
	}
}

func TestSplit_DeepHeadingsStayInBody(t *testing.T) {
	text := "## Config\n\n### Keys\n\nThe keys."

	chunks := Split(text, DefaultMaxChars)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1: ###-level headings must not split", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "### Keys") {
		t.Errorf("### heading missing from body: %q", chunks[0].Text)
	}
}

func TestSplit_OnlyFirstTitleCounts(t *testing.T) {
	text := "# Real Title\n\n# Second Hash Line\n\n## Part\n\nBody."

	chunks := Split(text, DefaultMaxChars)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "# Second Hash Line") {
		t.Errorf("later #-line should remain as content, got %q", chunks[0].Text)
	}
	if !strings.HasPrefix(chunks[1].Text, "# Real Title\n\n## Part") {
		t.Errorf("section prefix should use the first title, got %q", chunks[1].Text)
	}
}

func TestSplit_OversizedSectionPacksParagraphs(t *testing.T) {
	const maxChars = 200

	var paras []string
	for i := range 8 {
		paras = append(paras, fmt.Sprintf("Paragraph %d %s.", i, strings.Repeat("x", 60)))
	}
	text := "## Big\n\n" + strings.Join(paras, "\n\n")

	chunks := Split(text, maxChars)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > maxChars {
			t.Errorf("chunks[%d] has %d chars, over the %d limit", i, len(c.Text), maxChars)
		}
		if c.Section != "Big" {
			t.Errorf("chunks[%d].Section = %q, want %q", i, c.Section, "Big")
		}
		if !strings.HasPrefix(c.Text, "## Big") {
			t.Errorf("chunks[%d] missing heading prefix: %q", i, c.Text)
		}
	}

	// Every paragraph survives, in order.
	joined := strings.Join(textsOf(chunks), "\n\n")
	last := -1
	for i, p := range paras {
		idx := strings.Index(joined, p)
		if idx < 0 {
			t.Fatalf("paragraph %d missing after split", i)
		}
		if idx < last {
			t.Fatalf("paragraph %d out of order", i)
		}
		last = idx
	}
}

func TestSplit_OversizedParagraphEmittedWhole(t *testing.T) {
	const maxChars = 100

	big := strings.Repeat("word ", 60) // ~300 chars, no blank lines
	text := "Small one.\n\n" + big + "\n\nSmall two."

	chunks := Split(text, maxChars)
	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Text, strings.TrimSpace(big)) {
			found = true
			if len(c.Text) <= maxChars {
				t.Errorf("oversized paragraph unexpectedly fits: %d chars", len(c.Text))
			}
		}
	}
	if !found {
		t.Fatal("oversized paragraph was truncated or dropped")
	}
}

func TestSplit_ChunksNeverEmpty(t *testing.T) {
	docs := []string{
		"# T\n\n## A\n\n## B\n\ntext",
		"## A\n\n\n\n## B",
		"\n\n## Only\n\nbody\n\n",
	}
	for _, doc := range docs {
		for _, c := range Split(doc, DefaultMaxChars) {
			if strings.TrimSpace(c.Text) == "" {
				t.Errorf("empty chunk from %q", doc)
			}
		}
	}
}

func TestSplit_ZeroMaxCharsFallsBack(t *testing.T) {
	chunks := Split("hello world", 0)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func textsOf(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
