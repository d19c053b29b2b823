// Package lexicon rewrites text before synthesis so that names, acronyms
// and irregular words are pronounced the way the user expects.
package lexicon

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Rule maps a written form to the spoken form handed to the synthesizer.
// Plain rules match on word boundaries, case-insensitively. A rule with
// Pattern set is treated as a raw regular expression instead.
type Rule struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Pattern string `yaml:"pattern,omitempty"`
}

type compiledRule struct {
	re *regexp.Regexp
	to string
}

// Lexicon applies an ordered set of substitution rules. Longer plain
// rules run first so "Dr. Smith" wins over "Dr.".
type Lexicon struct {
	mu    sync.RWMutex
	rules []compiledRule
}

// New compiles the given rules.
func New(rules []Rule) (*Lexicon, error) {
	l := &Lexicon{}
	if err := l.Replace(rules); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads rules from a YAML file. A missing file yields an empty
// lexicon, not an error.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil)
		}
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	return New(doc.Rules)
}

// Replace swaps the active rule set.
func (l *Lexicon) Replace(rules []Rule) error {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].From) > len(sorted[j].From)
	})

	compiled := make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		re, err := compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledRule{re: re, to: r.To})
	}

	l.mu.Lock()
	l.rules = compiled
	l.mu.Unlock()
	return nil
}

func compileRule(r Rule) (*regexp.Regexp, error) {
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("lexicon pattern %q: %w", r.Pattern, err)
		}
		return re, nil
	}
	if r.From == "" {
		return nil, fmt.Errorf("lexicon rule has neither from nor pattern")
	}
	// Anchor on word boundaries only where the rule itself starts or
	// ends with a word character. A \b next to punctuation ("Dr.",
	// "C++") would never match.
	expr := regexp.QuoteMeta(r.From)
	runes := []rune(r.From)
	if isWordRune(runes[0]) {
		expr = `\b` + expr
	}
	if isWordRune(runes[len(runes)-1]) {
		expr += `\b`
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return nil, fmt.Errorf("lexicon rule %q: %w", r.From, err)
	}
	return re, nil
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Apply runs every rule over text in order.
func (l *Lexicon) Apply(text string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.rules {
		text = r.re.ReplaceAllString(text, r.to)
	}
	return text
}

// Len returns the number of active rules.
func (l *Lexicon) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rules)
}
