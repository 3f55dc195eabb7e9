// Package toc resolves, classifies, and persists a book's table of contents.
//
// The TOC serves two purposes: it gives the capture engine a content
// boundary (stop before end matter) and gives the document assembler chapter
// headings. Both are optimizations; a book with no reachable TOC still
// captures and compiles, just without them.
package toc

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/nav"
)

// Entry kinds.
const (
	KindContent   = "content"
	KindEndMatter = "end_matter"
)

// Entry is one classified table-of-contents entry.
type Entry struct {
	Index int     `json:"index"`
	Title string  `json:"title"`
	Key   nav.Key `json:"key"`
	Kind  string  `json:"kind"`
}

// Summary aggregates classification results for a TOC document.
type Summary struct {
	EntryCount          int      `json:"entry_count"`
	ContentCount        int      `json:"content_count"`
	EndMatterCount      int      `json:"end_matter_count"`
	FirstEndMatterTitle string   `json:"first_end_matter_title,omitempty"`
	FirstEndMatterKey   *nav.Key `json:"first_end_matter_key,omitempty"`
	// ContentBoundary is the last view considered book content. Nil when end
	// matter was not identified or was explicitly included.
	ContentBoundary  *nav.Key `json:"content_boundary,omitempty"`
	IncludeEndMatter bool     `json:"include_end_matter"`
}

// Document is the persisted toc.json payload.
type Document struct {
	BookID     string    `json:"book_id"`
	CapturedAt time.Time `json:"captured_at"`
	Entries    []Entry   `json:"entries"`
	Summary    Summary   `json:"summary"`
}

// Boundary returns the content boundary key, or a zero key when none exists.
func (d *Document) Boundary() nav.Key {
	if d == nil || d.Summary.ContentBoundary == nil {
		return nav.Key{}
	}
	return *d.Summary.ContentBoundary
}

// Classifier decides whether a TOC title at a given position is end matter.
type Classifier struct {
	patterns []*regexp.Regexp
	minRatio float64
}

// NewClassifier compiles the end-matter title patterns. Patterns are matched
// case-insensitively. minRatio is how far through the book (current/total) an
// entry must sit before a title match is trusted.
func NewClassifier(patterns []string, minRatio float64) (*Classifier, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid end matter pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Classifier{patterns: compiled, minRatio: minRatio}, nil
}

// MatchesTitle reports whether a title looks like end matter, ignoring
// position.
func (c *Classifier) MatchesTitle(title string) bool {
	if title == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// isEndMatter applies both the title and the position heuristic. A title
// match near the front of the book (a foreword titled "About the Author"
// teaser, say) is not trusted.
func (c *Classifier) isEndMatter(title string, key nav.Key) bool {
	if key.Zero() || !c.MatchesTitle(title) {
		return false
	}
	return float64(key.Current)/float64(key.Total) >= c.minRatio
}

// RawEntry is an unclassified TOC observation.
type RawEntry struct {
	Title string
	Key   nav.Key
}

// Build classifies raw entries and assembles the persisted document. All
// entries from the first end-matter match onward are end matter.
func Build(bookID string, raw []RawEntry, includeEndMatter bool, c *Classifier) *Document {
	firstEndMatter := -1
	for i, entry := range raw {
		if c.isEndMatter(entry.Title, entry.Key) {
			firstEndMatter = i
			break
		}
	}

	doc := &Document{
		BookID:     bookID,
		CapturedAt: time.Now().UTC(),
		Entries:    make([]Entry, 0, len(raw)),
	}
	for i, entry := range raw {
		kind := KindContent
		if firstEndMatter >= 0 && i >= firstEndMatter {
			kind = KindEndMatter
		}
		doc.Entries = append(doc.Entries, Entry{
			Index: i,
			Title: entry.Title,
			Key:   entry.Key,
			Kind:  kind,
		})
	}

	summary := Summary{
		EntryCount:       len(doc.Entries),
		IncludeEndMatter: includeEndMatter,
	}
	for _, entry := range doc.Entries {
		if entry.Kind == KindEndMatter {
			summary.EndMatterCount++
		} else {
			summary.ContentCount++
		}
	}
	if firstEndMatter >= 0 {
		first := doc.Entries[firstEndMatter]
		summary.FirstEndMatterTitle = first.Title
		key := first.Key
		summary.FirstEndMatterKey = &key

		if !includeEndMatter && key.Current > 1 {
			boundary := nav.Key{Kind: key.Kind, Current: key.Current - 1, Total: key.Total}
			summary.ContentBoundary = &boundary
		}
	}
	doc.Summary = summary
	return doc
}

// Save writes the document with stable indentation.
func Save(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal toc: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write toc: %w", err)
	}
	return nil
}

// Load reads a previously saved document. Unusable files return an error;
// callers treat that as "rebuild", not as fatal.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse toc: %w", err)
	}

	// Drop entries with no usable navigation key or title.
	usable := doc.Entries[:0]
	for _, entry := range doc.Entries {
		entry.Title = strings.Join(strings.Fields(entry.Title), " ")
		if entry.Title == "" || entry.Key.Zero() {
			continue
		}
		usable = append(usable, entry)
	}
	doc.Entries = usable
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("toc file has no usable entries")
	}
	return &doc, nil
}
