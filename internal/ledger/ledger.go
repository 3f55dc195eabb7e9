// Package ledger maintains pages.json, the durable record of which views
// have been captured for a book.
//
// The pages directory itself is the source of truth: the ledger is rebuilt
// by scanning canonical filenames, so a run interrupted before the manifest
// was written loses nothing.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/nav"
)

// Record is one captured view. SHA256 identifies the image content; two
// records with the same hash share one transcription result.
type Record struct {
	Index      int       `json:"index"`
	File       string    `json:"file"`
	Path       string    `json:"path"`
	Key        nav.Key   `json:"key"`
	SHA256     string    `json:"sha256"`
	CapturedAt time.Time `json:"captured_at"`
}

// Stats counts capture outcomes for one run.
type Stats struct {
	New             int `json:"new_count"`
	Overwritten     int `json:"overwritten_count"`
	SkippedExisting int `json:"skipped_existing_count"`
	SkippedUnknown  int `json:"skipped_unknown_count"`
}

// Summary aggregates the ledger contents plus the run's capture stats.
type Summary struct {
	CaptureCount             int `json:"capture_count"`
	PageNavCount             int `json:"page_nav_count"`
	LocationNavCount         int `json:"location_nav_count"`
	IgnoredNoncanonicalCount int `json:"ignored_noncanonical_count"`
	Stats
}

// Manifest is the persisted pages.json payload.
type Manifest struct {
	BookID     string    `json:"book_id"`
	CapturedAt time.Time `json:"captured_at"`
	Pages      []Record  `json:"pages"`
	Summary    Summary   `json:"summary"`
}

// Scan reads the pages directory and returns records for every canonical
// capture file, in reading order, plus the count of ignored non-canonical
// files. A missing directory yields an empty ledger.
func Scan(pagesDir string) ([]Record, int, error) {
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read pages directory: %w", err)
	}

	var records []Record
	ignored := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		key, ok := nav.ParseFilename(entry.Name())
		if !ok {
			ignored++
			continue
		}

		fullPath := filepath.Join(pagesDir, entry.Name())
		sum, err := hashFile(fullPath)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to hash %s: %w", entry.Name(), err)
		}
		info, err := entry.Info()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		records = append(records, Record{
			File:       entry.Name(),
			Path:       path.Join("pages", entry.Name()),
			Key:        key,
			SHA256:     sum,
			CapturedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if c := nav.Compare(records[i].Key, records[j].Key); c != 0 {
			return c < 0
		}
		return records[i].File < records[j].File
	})
	for i := range records {
		records[i].Index = i
	}
	return records, ignored, nil
}

// BuildManifest assembles a manifest snapshot from scanned records.
func BuildManifest(bookID string, records []Record, stats Stats, ignored int) *Manifest {
	summary := Summary{
		CaptureCount:             len(records),
		IgnoredNoncanonicalCount: ignored,
		Stats:                    stats,
	}
	for _, record := range records {
		switch record.Key.Kind {
		case nav.KindPage:
			summary.PageNavCount++
		case nav.KindLocation:
			summary.LocationNavCount++
		}
	}
	return &Manifest{
		BookID:     bookID,
		CapturedAt: time.Now().UTC(),
		Pages:      records,
		Summary:    summary,
	}
}

// Save writes the manifest atomically so a crash mid-write never leaves a
// truncated pages.json.
func Save(manifestPath string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pages manifest: %w", err)
	}

	tmp := manifestPath + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write pages manifest: %w", err)
	}
	if err := os.Rename(tmp, manifestPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace pages manifest: %w", err)
	}
	return nil
}

// Load reads a previously saved manifest.
func Load(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse pages manifest: %w", err)
	}
	return &m, nil
}

// Snapshot rescans the pages directory and writes a fresh manifest. Used
// after captures and on every exit path, including interrupts.
func Snapshot(bookID, pagesDir, manifestPath string, stats Stats) (*Manifest, error) {
	records, ignored, err := Scan(pagesDir)
	if err != nil {
		return nil, err
	}
	m := BuildManifest(bookID, records, stats, ignored)
	if err := Save(manifestPath, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ImagePath resolves a record's image file against the book directory.
func (r Record) ImagePath(bookDir string) string {
	return filepath.Join(bookDir, filepath.FromSlash(r.Path))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
