package assemble

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/toc"
	"github.com/jackzampolin/folio/internal/transcribe"
)

const bookID = "B000TEST"

func pageKey(current, total int) nav.Key {
	return nav.Key{Kind: nav.KindPage, Current: current, Total: total}
}

// setupBook builds a book with three captured pages, where pages 1 and 2
// share image content, a TOC, metadata, and canonical results: the shared
// hash transcribed, the last page failed.
func setupBook(t *testing.T) (*home.Dir, *transcribe.Store, []ledger.Record) {
	t.Helper()
	dir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := dir.EnsurePagesDir(bookID); err != nil {
		t.Fatal(err)
	}
	if err := dir.EnsureTranscriptsDir(bookID); err != nil {
		t.Fatal(err)
	}

	pages := map[string]string{
		"page-0001-of-0003.png": "shared",
		"page-0002-of-0003.png": "shared",
		"page-0003-of-0003.png": "unique",
	}
	for name, content := range pages {
		if err := os.WriteFile(dir.PagePath(bookID, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	records, _, err := ledger.Scan(dir.PagesDir(bookID))
	if err != nil {
		t.Fatal(err)
	}

	store := transcribe.NewStore(dir.CanonicalDir(bookID))
	now := time.Now().UTC()

	done := &transcribe.Result{
		CanonicalID: transcribe.CanonicalID(records[0].SHA256),
		SHA256:      records[0].SHA256,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      transcribe.StatusDone,
		Stage:       transcribe.StagePass2,
		Final:       &providers.OCRResult{Text: "It was a pleasure to burn.", Confidence: 0.96},
	}
	if err := store.Put(done); err != nil {
		t.Fatal(err)
	}

	failed := &transcribe.Result{
		CanonicalID: transcribe.CanonicalID(records[2].SHA256),
		SHA256:      records[2].SHA256,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      transcribe.StatusFailed,
		Error:       &transcribe.ResultError{Message: "endpoint exploded", FailedAt: now},
	}
	if err := store.Put(failed); err != nil {
		t.Fatal(err)
	}

	classifier, err := toc.NewClassifier(nil, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	doc := toc.Build(bookID, []toc.RawEntry{
		{Title: "Chapter One", Key: pageKey(1, 3)},
		{Title: "Chapter Two", Key: pageKey(3, 3)},
	}, false, classifier)
	if err := toc.Save(dir.TOCPath(bookID), doc); err != nil {
		t.Fatal(err)
	}

	book := &metadata.Book{ID: bookID, Title: "Fahrenheit 451", Authors: []string{"Ray Bradbury"}}
	if err := metadata.Save(dir.MetadataPath(bookID), book); err != nil {
		t.Fatal(err)
	}

	return dir, store, records
}

func TestCompileWritesDocumentAndManifest(t *testing.T) {
	dir, store, records := setupBook(t)
	assembler := New(dir, store, slog.Default())

	manifest, err := assembler.Compile(bookID, records, nil, Models{OCR: "gpt-5", QA: "gpt-5"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if manifest.Status != "partial" {
		t.Errorf("status = %q, want partial", manifest.Status)
	}
	if manifest.Counts.Sections != 3 || manifest.Counts.DistinctHashes != 2 || manifest.Counts.Placeholders != 1 {
		t.Errorf("counts = %+v", manifest.Counts)
	}

	raw, err := os.ReadFile(dir.BookMarkdownPath(bookID))
	if err != nil {
		t.Fatalf("book.md not written: %v", err)
	}
	markdown := string(raw)

	for _, want := range []string{
		"# Fahrenheit 451",
		"- Authors: Ray Bradbury",
		"## Chapter One",
		"## Chapter Two",
		"### Page 1 of 3",
		"### Page 2 of 3",
		"### Page 3 of 3",
		"It was a pleasure to burn.",
		"[transcription error] endpoint exploded",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("book.md missing %q", want)
		}
	}
	// The shared text appears once per capture that references it.
	if got := strings.Count(markdown, "It was a pleasure to burn."); got != 2 {
		t.Errorf("shared section text appears %d times, want 2", got)
	}
	if strings.Count(markdown, "## Chapter One") != 1 {
		t.Error("chapter heading repeated for consecutive pages")
	}
}

func TestCompileWritesCaptureLog(t *testing.T) {
	dir, store, records := setupBook(t)
	assembler := New(dir, store, slog.Default())
	if _, err := assembler.Compile(bookID, records, nil, Models{}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(dir.CapturesLogPath(bookID))
	if err != nil {
		t.Fatalf("captures.jsonl not written: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		line := scanner.Text()
		if !strings.Contains(line, `"canonical_id":"img-`) {
			t.Errorf("capture log line missing canonical id: %s", line)
		}
	}
	if lines != 3 {
		t.Errorf("capture log has %d lines, want 3", lines)
	}
}

func TestCompilePreservesManifestCreatedAt(t *testing.T) {
	dir, store, records := setupBook(t)
	assembler := New(dir, store, slog.Default())

	first, err := assembler.Compile(bookID, records, nil, Models{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := assembler.Compile(bookID, records, nil, Models{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed across compiles: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestInferHeading(t *testing.T) {
	entries := []toc.Entry{
		{Title: "Front Matter", Key: nav.Key{Kind: nav.KindLocation, Current: 1, Total: 14}},
		{Title: "Chapter One", Key: pageKey(1, 100)},
		{Title: "Chapter Two", Key: pageKey(40, 100)},
	}

	tests := []struct {
		name string
		key  nav.Key
		want string
	}{
		{"first chapter", pageKey(5, 100), "Chapter One"},
		{"exactly at entry", pageKey(40, 100), "Chapter Two"},
		{"after second", pageKey(90, 100), "Chapter Two"},
		{"location kind matches location entry", nav.Key{Kind: nav.KindLocation, Current: 5, Total: 14}, "Front Matter"},
		{"zero key", nav.Key{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferHeading(tt.key, entries); got != tt.want {
				t.Errorf("inferHeading = %q, want %q", got, tt.want)
			}
		})
	}

	if got := inferHeading(pageKey(5, 100), nil); got != "" {
		t.Errorf("inferHeading with no entries = %q, want empty", got)
	}
}
