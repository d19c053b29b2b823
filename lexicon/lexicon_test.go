package lexicon

import (
	"os"
	"path/filepath"
	"testing"
)

func mustNew(t *testing.T, rules []Rule) *Lexicon {
	t.Helper()
	l, err := New(rules)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
		in    string
		want  string
	}{
		{
			name:  "no rules",
			in:    "unchanged text",
			want:  "unchanged text",
		},
		{
			name:  "simple substitution",
			rules: []Rule{{From: "SQL", To: "sequel"}},
			in:    "the SQL database",
			want:  "the sequel database",
		},
		{
			name:  "case insensitive",
			rules: []Rule{{From: "gif", To: "jif"}},
			in:    "a GIF and a Gif",
			want:  "a jif and a jif",
		},
		{
			name:  "word boundary respected",
			rules: []Rule{{From: "cat", To: "feline"}},
			in:    "the cat in the catalog",
			want:  "the feline in the catalog",
		},
		{
			name:  "regex metacharacters escaped",
			rules: []Rule{{From: "C++", To: "see plus plus"}},
			in:    "written in C++",
			want:  "written in see plus plus",
		},
		{
			name: "longest rule wins",
			rules: []Rule{
				{From: "Dr.", To: "Doctor"},
				{From: "Dr. Who", To: "Doctor Who"},
			},
			in:   "Dr. Who met Dr. Smith",
			want: "Doctor Who met Doctor Smith",
		},
		{
			name:  "raw pattern rule",
			rules: []Rule{{Pattern: `\b(\d+)km\b`, To: "$1 kilometers"}},
			in:    "a 5km run",
			want:  "a 5 kilometers run",
		},
		{
			name: "rules apply in sequence",
			rules: []Rule{
				{From: "USA", To: "United States"},
				{From: "etc.", To: "et cetera"},
			},
			in:   "the USA, etc.",
			want: "the United States, et cetera",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := mustNew(t, tt.rules)
			if got := l.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	if _, err := New([]Rule{{To: "nothing to match"}}); err == nil {
		t.Error("New accepted a rule with neither from nor pattern")
	}
	if _, err := New([]Rule{{Pattern: "(unclosed", To: "x"}}); err == nil {
		t.Error("New accepted an invalid pattern")
	}
}

func TestReplaceSwapsRules(t *testing.T) {
	l := mustNew(t, []Rule{{From: "old", To: "previous"}})
	if got := l.Apply("the old way"); got != "the previous way" {
		t.Fatalf("Apply = %q", got)
	}

	if err := l.Replace([]Rule{{From: "new", To: "fresh"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := l.Apply("the old way is new"); got != "the old way is fresh" {
		t.Errorf("Apply after Replace = %q", got)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want empty lexicon", l.Len())
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	doc := `rules:
  - from: TTS
    to: text to speech
  - pattern: '\bNo\. (\d+)'
    to: Number $1
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := l.Apply("TTS demo No. 4"); got != "text to speech demo Number 4" {
		t.Errorf("Apply = %q", got)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	if err := os.WriteFile(path, []byte("rules: [not: {valid"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}
