package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/folio/internal/nav"
)

func writePage(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanOrdersAndIgnores(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "page-0012-of-0340.png")
	writePage(t, dir, "page-0002-of-0340.png")
	writePage(t, dir, "loc-0014-of-0340.png")
	writePage(t, dir, "cover.png")
	writePage(t, dir, "notes.txt")

	records, ignored, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if ignored != 1 {
		t.Errorf("ignored = %d, want 1 (cover.png)", ignored)
	}

	wantOrder := []string{
		"loc-0014-of-0340.png",
		"page-0002-of-0340.png",
		"page-0012-of-0340.png",
	}
	if len(records) != len(wantOrder) {
		t.Fatalf("got %d records, want %d", len(records), len(wantOrder))
	}
	for i, want := range wantOrder {
		if records[i].File != want {
			t.Errorf("records[%d].File = %q, want %q", i, records[i].File, want)
		}
		if records[i].Index != i {
			t.Errorf("records[%d].Index = %d, want %d", i, records[i].Index, i)
		}
	}
	if records[0].Path != "pages/loc-0014-of-0340.png" {
		t.Errorf("Path = %q", records[0].Path)
	}
}

func TestScanHashesContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page-0001-of-0340.png"), []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "page-0002-of-0340.png"), []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "page-0003-of-0340.png"), []byte("different"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, _, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].SHA256 == "" {
		t.Fatal("record has no hash")
	}
	if records[0].SHA256 != records[1].SHA256 {
		t.Error("identical content produced different hashes")
	}
	if records[0].SHA256 == records[2].SHA256 {
		t.Error("different content produced the same hash")
	}
	if records[0].CapturedAt.IsZero() {
		t.Error("record has no captured_at timestamp")
	}
}

func TestScanMissingDirectory(t *testing.T) {
	records, ignored, err := Scan(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(records) != 0 || ignored != 0 {
		t.Errorf("got %d records, %d ignored from a missing directory", len(records), ignored)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	bookDir := t.TempDir()
	pagesDir := filepath.Join(bookDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writePage(t, pagesDir, "page-0001-of-0340.png")
	writePage(t, pagesDir, "loc-0003-of-0340.png")

	manifestPath := filepath.Join(bookDir, "pages.json")
	stats := Stats{New: 2, SkippedExisting: 1}

	m, err := Snapshot("B000TEST", pagesDir, manifestPath, stats)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.Summary.CaptureCount != 2 || m.Summary.PageNavCount != 1 || m.Summary.LocationNavCount != 1 {
		t.Errorf("summary = %+v", m.Summary)
	}
	if m.Summary.New != 2 || m.Summary.SkippedExisting != 1 {
		t.Errorf("stats not carried into summary: %+v", m.Summary.Stats)
	}

	loaded, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.BookID != "B000TEST" || len(loaded.Pages) != 2 {
		t.Errorf("loaded manifest = %+v", loaded)
	}
	if loaded.Pages[0].Key.Kind != nav.KindLocation {
		t.Errorf("first record kind = %v, want location first", loaded.Pages[0].Key.Kind)
	}

	if _, err := os.Stat(manifestPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestImagePath(t *testing.T) {
	r := Record{Path: "pages/page-0001-of-0340.png"}
	got := r.ImagePath(filepath.Join("home", "books", "b1"))
	want := filepath.Join("home", "books", "b1", "pages", "page-0001-of-0340.png")
	if got != want {
		t.Errorf("ImagePath = %q, want %q", got, want)
	}
}
