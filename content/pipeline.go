package content

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/vrwarp/versicle/playback"
)

// minItemRunes is the threshold below which a sentence fragment is merged
// into its neighbor instead of becoming its own queue item.
const minItemRunes = 20

var (
	inlineCodeRe = regexp.MustCompile("`[^`]+`")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	strongRe     = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	emphasisRe   = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	codeBlockRe  = regexp.MustCompile("(?s)```[^`]*```")
	spacesRe     = regexp.MustCompile(`\s+`)
)

// Section is one heading-delimited chunk of a book.
type Section struct {
	Title string
	Body  string
}

// TextPipeline implements playback.ContentPipeline over a plain-text or
// markdown book. Headings delimit sections; each section's sentences
// become queue items, with a synthetic announcement item carrying the
// section title ahead of them.
type TextPipeline struct {
	splitter *Splitter
	sections []Section
}

// NewTextPipeline loads the book at path.
func NewTextPipeline(fs afero.Fs, path string) (*TextPipeline, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	return NewTextPipelineFromString(string(data)), nil
}

// NewTextPipelineFromString builds a pipeline from in-memory text.
func NewTextPipelineFromString(text string) *TextPipeline {
	return &TextPipeline{
		splitter: NewSplitter(),
		sections: splitSections(text),
	}
}

// SectionCount returns how many sections the book has.
func (p *TextPipeline) SectionCount() int { return len(p.sections) }

// SectionTitle returns the title of section i, or empty.
func (p *TextPipeline) SectionTitle(i int) string {
	if i < 0 || i >= len(p.sections) {
		return ""
	}
	return p.sections[i].Title
}

// LoadNarratableQueue builds the queue for one section. Raw segment
// indices count the section's sentences in order; fragments shorter than
// minItemRunes are merged into the preceding item, whose SourceIndices
// then cover every merged segment. The announcement item carries no
// source indices and is never skippable.
func (p *TextPipeline) LoadNarratableQueue(ctx context.Context, sectionIndex int) ([]playback.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sectionIndex < 0 || sectionIndex >= len(p.sections) {
		return nil, fmt.Errorf("section %d out of range (have %d)", sectionIndex, len(p.sections))
	}
	sec := p.sections[sectionIndex]

	var items []playback.QueueItem
	if sec.Title != "" {
		items = append(items, playback.QueueItem{
			Text:           sec.Title,
			IsAnnouncement: true,
		})
	}

	sentences := p.splitter.Split(stripMarkup(sec.Body))
	raw := 0
	for _, sent := range sentences {
		short := len([]rune(sent)) < minItemRunes
		if short && len(items) > 0 && !items[len(items)-1].IsAnnouncement {
			prev := &items[len(items)-1]
			prev.Text = prev.Text + " " + sent
			prev.SourceIndices = append(prev.SourceIndices, raw)
		} else {
			items = append(items, playback.QueueItem{
				Text:          sent,
				LocationID:    fmt.Sprintf("s%d.%d", sectionIndex, raw),
				SourceIndices: []int{raw},
			})
		}
		raw++
	}
	return items, nil
}

// splitSections divides text on markdown headings. Text before the first
// heading becomes an untitled leading section.
func splitSections(text string) []Section {
	text = codeBlockRe.ReplaceAllString(text, " ")

	var sections []Section
	var current Section
	var body strings.Builder

	flush := func() {
		current.Body = strings.TrimSpace(body.String())
		if current.Title != "" || current.Body != "" {
			sections = append(sections, current)
		}
		current = Section{}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current.Title = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, Section{})
	}
	return sections
}

// stripMarkup removes inline markdown so the synthesizer never reads
// formatting characters aloud.
func stripMarkup(text string) string {
	text = htmlTagRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "$1")
	text = strongRe.ReplaceAllString(text, "$1$2")
	text = emphasisRe.ReplaceAllString(text, "$1$2")
	text = spacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
