// Package content turns book text into the narratable queue the playback
// engine consumes.
package content

import (
	"strings"
	"unicode"
)

// Splitter breaks a raw text segment into sentences. It is deliberately
// conservative: abbreviations, decimal numbers and ellipses do not end a
// sentence.
type Splitter struct {
	abbreviations map[string]struct{}
}

// NewSplitter returns a splitter primed with common English
// abbreviations.
func NewSplitter() *Splitter {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"i.e", "e.g", "etc", "vs", "cf", "al", "inc", "ltd", "co", "corp",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"no", "vol", "pp", "ed", "fig", "ch",
	}
	m := make(map[string]struct{}, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = struct{}{}
		m[a+"."] = struct{}{}
	}
	return &Splitter{abbreviations: m}
}

// Split returns the sentences of text in order, trimmed. Text with no
// terminal punctuation comes back as a single sentence.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	var out []string
	last := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')' || runes[end] == ']') {
			end++
		}
		if !s.endsSentence(runes, i, end) {
			i = end - 1
			continue
		}
		if sent := strings.TrimSpace(string(runes[last:end])); sent != "" {
			out = append(out, sent)
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		last = end
		i = end - 1
	}

	if tail := strings.TrimSpace(string(runes[last:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

// endsSentence decides whether the punctuation at pos genuinely closes a
// sentence.
func (s *Splitter) endsSentence(runes []rune, pos, after int) bool {
	if runes[pos] == '.' {
		// Word immediately before the period.
		start := pos
		for start > 0 && !unicode.IsSpace(runes[start-1]) {
			start--
		}
		word := strings.ToLower(string(runes[start : pos+1]))
		if _, ok := s.abbreviations[strings.TrimSuffix(word, ".")]; ok {
			return false
		}
		if _, ok := s.abbreviations[word]; ok {
			return false
		}
		// Multi-dot words like "Ph.D." or "U.S." stay intact.
		if strings.Count(word, ".") > 1 {
			return false
		}
		// Decimal numbers.
		if pos > 0 && pos+1 < len(runes) && unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
		// Ellipsis.
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
	}

	if after >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[after]) {
		return false
	}
	if runes[pos] == '!' || runes[pos] == '?' {
		return true
	}
	for after < len(runes) && unicode.IsSpace(runes[after]) {
		after++
	}
	return after >= len(runes) || unicode.IsUpper(runes[after])
}
