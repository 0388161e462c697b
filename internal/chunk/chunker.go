// Package chunk splits markdown documents into retrieval-sized chunks.
//
// The splitter is markdown-aware: a document is divided on its `##`
// subheadings, and every chunk produced from a titled section is prefixed
// with the document title and the section heading so that the chunk stays
// self-describing when read in isolation by the language model.
//
// Split is a pure function. It performs no I/O and holds no state, which
// keeps re-ingestion deterministic: the same document always yields the
// same chunk sequence, and therefore the same chunk IDs.
package chunk

import (
	"regexp"
	"strings"
)

// DefaultMaxChars is the chunk size ceiling used when callers pass no
// explicit limit. Sized for embedding models with a few thousand tokens of
// context.
const DefaultMaxChars = 1500

// SectionIntro is the section name reported for content that appears before
// the first subheading.
const SectionIntro = "(intro)"

// Chunk is one contiguous span of a document, sized for embedding.
type Chunk struct {
	// Text is the chunk content, including the title/heading prefix when
	// the chunk comes from a titled section. Never empty after trimming.
	Text string

	// Section is the human-readable section name: the subheading text with
	// markup stripped, or SectionIntro for the preamble.
	Section string
}

// section is an intermediate unit: a `##` heading (possibly empty for the
// preamble) and the body text that follows it.
type section struct {
	heading string
	body    string
}

var (
	titleRe      = regexp.MustCompile(`^#[ \t]+\S`)
	subheadingRe = regexp.MustCompile(`^##[ \t]+\S`)
	paragraphRe  = regexp.MustCompile(`\n[ \t]*\n`)
)

// Split divides markdown text into ordered chunks no longer than maxChars.
//
// The only exception to the size limit is a single paragraph that alone
// exceeds maxChars: it is emitted as one oversized chunk rather than being
// cut mid-word. That is a deliberate escape valve — truncating inside a
// paragraph destroys the semantic coherence retrieval depends on.
//
// An empty document produces no chunks. maxChars <= 0 falls back to
// DefaultMaxChars.
func Split(text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	title := extractTitle(text)
	sections := splitSections(text)

	var chunks []Chunk
	for _, sec := range sections {
		chunks = append(chunks, chunkSection(sec, title, maxChars)...)
	}
	return chunks
}

// extractTitle returns the first `#`-level heading line in the document, or
// "" when none exists. Only the first such line counts; later `#` lines are
// ordinary content.
func extractTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if isTitleLine(line) {
			return strings.TrimRight(line, " \t\r")
		}
	}
	return ""
}

func isTitleLine(line string) bool {
	return titleRe.MatchString(line)
}

func isSubheadingLine(line string) bool {
	return subheadingRe.MatchString(line)
}

// splitSections divides the document on `##` subheading lines. Content
// before the first subheading becomes the preamble section with an empty
// heading; each subheading starts a new section running to the next
// subheading or end of document. `###` and deeper headings stay inside the
// enclosing section body.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	cur := section{}
	var buf []string

	flush := func() {
		cur.body = strings.Join(buf, "\n")
		sections = append(sections, cur)
		buf = buf[:0]
	}

	for _, line := range lines {
		if isSubheadingLine(line) {
			flush()
			cur = section{heading: strings.TrimRight(line, " \t\r")}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	return sections
}

// sectionName strips the `##` markup from a heading, mapping the preamble's
// empty heading to SectionIntro.
func sectionName(heading string) string {
	if heading == "" {
		return SectionIntro
	}
	return strings.TrimSpace(strings.TrimLeft(heading, "#"))
}

// chunkSection emits the chunks for one section.
//
// The prefix joined ahead of every chunk's body is the document title plus
// the section heading (blank-line separated) for titled sections, and the
// title alone for the preamble. The preamble body has the title line
// removed first so the title never appears twice.
func chunkSection(sec section, title string, maxChars int) []Chunk {
	name := sectionName(sec.heading)

	var prefixParts []string
	body := sec.body
	if sec.heading == "" {
		body = stripTitleLine(body, title)
		if title != "" {
			prefixParts = append(prefixParts, title)
		}
	} else {
		if title != "" {
			prefixParts = append(prefixParts, title)
		}
		prefixParts = append(prefixParts, sec.heading)
	}

	body = strings.TrimSpace(body)

	whole := joinParts(prefixParts, body)
	if strings.TrimSpace(whole) == "" {
		return nil
	}
	if len(whole) <= maxChars {
		return []Chunk{{Text: whole, Section: name}}
	}

	// Section too large: greedily pack blank-line-delimited paragraphs,
	// starting a new chunk when the next paragraph would overflow.
	paragraphs := splitParagraphs(body)

	var chunks []Chunk
	var group []string
	flush := func() {
		if len(group) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:    joinParts(prefixParts, strings.Join(group, "\n\n")),
			Section: name,
		})
		group = nil
	}

	for _, para := range paragraphs {
		candidate := joinParts(prefixParts, strings.Join(append(group, para), "\n\n"))
		if len(candidate) > maxChars && len(group) > 0 {
			flush()
		}
		group = append(group, para)
		// An oversized single paragraph goes out as-is (escape valve).
		if len(group) == 1 && len(joinParts(prefixParts, para)) > maxChars {
			flush()
		}
	}
	flush()

	return chunks
}

// stripTitleLine removes the document title line (and the blank lines that
// follow it) from the preamble body.
func stripTitleLine(body, title string) string {
	if title == "" {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, " \t\r") == title {
			return strings.Join(append(lines[:i:i], lines[i+1:]...), "\n")
		}
	}
	return body
}

// splitParagraphs divides text on blank lines, dropping empty fragments.
func splitParagraphs(text string) []string {
	parts := paragraphRe.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// joinParts joins the prefix parts and the body with blank lines, skipping
// an empty body so prefix-only chunks carry no trailing separator.
func joinParts(prefix []string, body string) string {
	parts := make([]string, 0, len(prefix)+1)
	parts = append(parts, prefix...)
	if body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n")
}
