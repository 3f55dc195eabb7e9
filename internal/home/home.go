// Package home manages the folio home directory and per-book layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultDirName is the default name for the folio home directory.
	DefaultDirName = ".folio"

	// BooksDirName is the subdirectory holding per-book capture data.
	BooksDirName = "books"

	// ProfileDirName is the persistent browser profile used to keep the
	// reader session logged in across runs.
	ProfileDirName = "profile"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Slug converts a book identifier into a filesystem-safe directory name.
func Slug(id string) string {
	s := strings.Trim(slugPattern.ReplaceAllString(id, "-"), "-")
	if s == "" {
		return "book"
	}
	return s
}

// Dir represents the folio home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.folio).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ProfilePath returns the persistent browser profile directory.
func (d *Dir) ProfilePath() string {
	return filepath.Join(d.path, ProfileDirName)
}

// EnsureExists creates the home directory tree if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(filepath.Join(d.path, BooksDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create books directory: %w", err)
	}
	return nil
}

// BookDir returns the directory for a book.
func (d *Dir) BookDir(bookID string) string {
	return filepath.Join(d.path, BooksDirName, Slug(bookID))
}

// PagesDir returns the capture image directory for a book.
func (d *Dir) PagesDir(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "pages")
}

// PagePath returns the path of a capture image file inside the pages dir.
func (d *Dir) PagePath(bookID, filename string) string {
	return filepath.Join(d.PagesDir(bookID), filename)
}

// MetadataPath returns the normalized book metadata file.
func (d *Dir) MetadataPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "metadata.json")
}

// TOCPath returns the persisted table-of-contents file.
func (d *Dir) TOCPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "toc.json")
}

// LedgerPath returns the capture ledger file.
func (d *Dir) LedgerPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "pages.json")
}

// TranscriptsDir returns the transcription output directory for a book.
func (d *Dir) TranscriptsDir(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "transcripts")
}

// CanonicalDir returns the per-hash canonical result directory.
func (d *Dir) CanonicalDir(bookID string) string {
	return filepath.Join(d.TranscriptsDir(bookID), "canonical")
}

// CanonicalPath returns the canonical result file for a content hash ID.
func (d *Dir) CanonicalPath(bookID, canonicalID string) string {
	return filepath.Join(d.CanonicalDir(bookID), canonicalID+".json")
}

// ManifestPath returns the transcription run manifest file.
func (d *Dir) ManifestPath(bookID string) string {
	return filepath.Join(d.TranscriptsDir(bookID), "manifest.json")
}

// CapturesLogPath returns the per-capture transcription log (JSONL).
func (d *Dir) CapturesLogPath(bookID string) string {
	return filepath.Join(d.TranscriptsDir(bookID), "captures.jsonl")
}

// BookMarkdownPath returns the compiled reading-order document.
func (d *Dir) BookMarkdownPath(bookID string) string {
	return filepath.Join(d.TranscriptsDir(bookID), "book.md")
}

// EnsurePagesDir creates the pages directory for a book.
func (d *Dir) EnsurePagesDir(bookID string) error {
	return os.MkdirAll(d.PagesDir(bookID), 0o755)
}

// EnsureTranscriptsDir creates the transcripts and canonical directories.
func (d *Dir) EnsureTranscriptsDir(bookID string) error {
	return os.MkdirAll(d.CanonicalDir(bookID), 0o755)
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}
