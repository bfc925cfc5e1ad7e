// Package manifest parses the Markdown suite manifest: a hand-maintained
// document declaring per-unit scheduling overrides that do not belong in the
// test sources themselves.
//
// A manifest is a Markdown file with optional YAML frontmatter holding
// suite-wide defaults, followed by one level-2 heading per unit path and a
// bullet list of overrides beneath it:
//
//	---
//	defaults:
//	  tags: [regression]
//	---
//
//	## tests/banking/transfers.test.ts
//
//	- tags: critical, database
//	- requires: tests/setup/seed.test.ts
//	- conflicts: tests/banking/goals.test.ts
//	- isolation: database
//
// Recognized bullet keys are tags, requires, conflicts, and isolation; other
// bullets are prose and ignored, so entries can carry commentary. Headings at
// any other level end the current entry, which keeps notes sections from
// leaking into overrides.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

const unitHeadingLevel = 2

// Entry holds the overrides declared for one unit path (or the suite-wide
// defaults from the frontmatter).
type Entry struct {
	Tags          []string
	Prerequisites []string
	Conflicts     []string
	Isolation     models.IsolationType // "" when the entry does not override isolation
}

// Manifest is a parsed suite manifest.
type Manifest struct {
	Defaults Entry
	entries  map[string]Entry
}

// Entry returns the overrides declared for path, without defaults applied.
func (m *Manifest) Entry(path string) (Entry, bool) {
	entry, ok := m.entries[path]
	return entry, ok
}

// Merged returns the effective overrides for path: the suite defaults with
// the per-path entry layered on top. List fields concatenate; a per-path
// isolation declaration replaces the default.
func (m *Manifest) Merged(path string) Entry {
	merged := Entry{
		Tags:          append([]string(nil), m.Defaults.Tags...),
		Prerequisites: append([]string(nil), m.Defaults.Prerequisites...),
		Conflicts:     append([]string(nil), m.Defaults.Conflicts...),
		Isolation:     m.Defaults.Isolation,
	}
	entry, ok := m.entries[path]
	if !ok {
		return merged
	}
	merged.Tags = append(merged.Tags, entry.Tags...)
	merged.Prerequisites = append(merged.Prerequisites, entry.Prerequisites...)
	merged.Conflicts = append(merged.Conflicts, entry.Conflicts...)
	if entry.Isolation != "" {
		merged.Isolation = entry.Isolation
	}
	return merged
}

// Paths returns the unit paths with explicit entries, sorted.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of explicit entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Parser parses suite manifests.
type Parser struct {
	markdown goldmark.Markdown
}

func NewParser() *Parser {
	return &Parser{markdown: goldmark.New()}
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := NewParser().Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse parses manifest source.
func (p *Parser) Parse(source []byte) (*Manifest, error) {
	manifest := &Manifest{entries: make(map[string]Entry)}

	body, frontmatter := splitFrontmatter(source)
	if frontmatter != nil {
		defaults, err := parseDefaults(frontmatter)
		if err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		manifest.Defaults = defaults
	}

	doc := p.markdown.Parser().Parse(text.NewReader(body))
	if err := collectEntries(manifest, doc, body); err != nil {
		return nil, err
	}
	return manifest, nil
}

// collectEntries walks the document: a level-2 heading opens an entry keyed
// by its text, and list items inside that section add overrides to it.
func collectEntries(manifest *Manifest, doc ast.Node, source []byte) error {
	var current string

	return ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level != unitHeadingLevel {
				current = ""
				return ast.WalkSkipChildren, nil
			}
			current = strings.TrimSpace(nodeText(node, source))
			if current == "" {
				return ast.WalkSkipChildren, nil
			}
			if _, dup := manifest.entries[current]; dup {
				return ast.WalkStop, fmt.Errorf("duplicate manifest entry for %s", current)
			}
			manifest.entries[current] = Entry{}
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			if current == "" {
				return ast.WalkSkipChildren, nil
			}
			entry := manifest.entries[current]
			if err := applyItem(&entry, nodeText(node, source)); err != nil {
				return ast.WalkStop, fmt.Errorf("entry %s: %w", current, err)
			}
			manifest.entries[current] = entry
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
}

// applyItem folds one bullet into the entry. Bullets without a recognized
// key are prose and skipped; only an invalid isolation value is an error,
// because a typo there would silently weaken scheduling guarantees.
func applyItem(entry *Entry, item string) error {
	key, value, found := strings.Cut(item, ":")
	if !found {
		return nil
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(strings.TrimSpace(key)) {
	case "tags":
		for _, tag := range splitList(value) {
			entry.Tags = append(entry.Tags, strings.ToLower(tag))
		}
	case "requires":
		entry.Prerequisites = append(entry.Prerequisites, splitList(value)...)
	case "conflicts":
		entry.Conflicts = append(entry.Conflicts, splitList(value)...)
	case "isolation":
		t, err := models.ParseIsolationType(strings.ToLower(value))
		if err != nil {
			return err
		}
		entry.Isolation = t
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// nodeText collects the plain text under a node, descending through inline
// wrappers so code-span paths in headings read the same as bare ones.
func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	var collect func(ast.Node)
	collect = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
				continue
			}
			collect(c)
		}
	}
	collect(n)
	return buf.String()
}

type defaultsDoc struct {
	Defaults struct {
		Tags      []string `yaml:"tags"`
		Requires  []string `yaml:"requires"`
		Conflicts []string `yaml:"conflicts"`
		Isolation string   `yaml:"isolation"`
	} `yaml:"defaults"`
}

func parseDefaults(frontmatter []byte) (Entry, error) {
	var doc defaultsDoc
	if err := yaml.Unmarshal(frontmatter, &doc); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Prerequisites: doc.Defaults.Requires,
		Conflicts:     doc.Defaults.Conflicts,
	}
	for _, tag := range doc.Defaults.Tags {
		entry.Tags = append(entry.Tags, strings.ToLower(tag))
	}
	if doc.Defaults.Isolation != "" {
		t, err := models.ParseIsolationType(strings.ToLower(doc.Defaults.Isolation))
		if err != nil {
			return Entry{}, err
		}
		entry.Isolation = t
	}
	return entry, nil
}

// splitFrontmatter separates a leading ----delimited YAML block from the
// Markdown body. Without one, the whole input is body.
func splitFrontmatter(source []byte) (body, frontmatter []byte) {
	lines := bytes.Split(source, []byte("\n"))
	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return source, nil
	}
	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			return bytes.Join(lines[i+1:], []byte("\n")), bytes.Join(lines[1:i], []byte("\n"))
		}
	}
	return source, nil
}
