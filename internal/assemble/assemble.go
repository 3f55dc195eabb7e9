// Package assemble compiles canonical transcription results into the final
// reading-order document and run manifest.
//
// The assembler only reads: the capture ledger provides order, the canonical
// store provides text. Every capture contributes a section even when its
// text is shared with a neighbor, so the document stays faithful to the
// source pagination. Missing or failed results become visible placeholders,
// never silent gaps.
package assemble

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
	"github.com/jackzampolin/folio/internal/toc"
	"github.com/jackzampolin/folio/internal/transcribe"
)

// CaptureRecord is one row of captures.jsonl: a capture joined with its
// canonical result.
type CaptureRecord struct {
	Index            int     `json:"index"`
	File             string  `json:"file"`
	Path             string  `json:"path"`
	Key              nav.Key `json:"key"`
	SHA256           string  `json:"sha256"`
	CanonicalID      string  `json:"canonical_id"`
	TranscriptRef    string  `json:"transcript_ref"`
	Status           string  `json:"status"`
	Stage            string  `json:"stage,omitempty"`
	Confidence       float64 `json:"confidence"`
	UncertaintyCount int     `json:"uncertainty_count"`
}

// Counts summarizes the assembled document.
type Counts struct {
	Sections       int `json:"sections"`
	DistinctHashes int `json:"distinct_hashes"`
	Placeholders   int `json:"placeholders"`
	Degraded       int `json:"degraded"`
}

// Models records which models produced the transcripts.
type Models struct {
	OCR string `json:"ocr"`
	QA  string `json:"qa"`
}

// Manifest is the persisted transcripts/manifest.json payload.
type Manifest struct {
	BookID    string    `json:"book_id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    string    `json:"status"`
	Models    Models    `json:"models,omitempty"`
	Counts    Counts    `json:"counts"`
	// Run carries the counts of the transcription run that preceded this
	// assembly, when there was one.
	Run   *transcribe.Counts `json:"run_counts,omitempty"`
	Files map[string]string  `json:"files"`
}

// Assembler compiles one book's transcripts.
type Assembler struct {
	dir    *home.Dir
	store  *transcribe.Store
	logger *slog.Logger
}

// New creates an Assembler over a canonical result store.
func New(dir *home.Dir, store *transcribe.Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{dir: dir, store: store, logger: logger}
}

// Compile joins captures with canonical results and writes book.md,
// captures.jsonl, and manifest.json. Returns the manifest it wrote.
func (a *Assembler) Compile(bookID string, captures []ledger.Record, run *transcribe.RunResult, models Models) (*Manifest, error) {
	if len(captures) == 0 {
		return nil, fmt.Errorf("no captures to assemble")
	}
	if err := a.dir.EnsureTranscriptsDir(bookID); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	records, results, counts, err := a.join(captures)
	if err != nil {
		return nil, err
	}

	markdown := a.buildMarkdown(bookID, records, results)
	if err := os.WriteFile(a.dir.BookMarkdownPath(bookID), []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write compiled document: %w", err)
	}
	if err := writeJSONL(a.dir.CapturesLogPath(bookID), records); err != nil {
		return nil, err
	}

	manifest := a.buildManifest(bookID, counts, run, models)
	if err := writeJSON(a.dir.ManifestPath(bookID), manifest); err != nil {
		return nil, err
	}

	a.logger.Info("assembled transcripts",
		"sections", counts.Sections,
		"distinct_hashes", counts.DistinctHashes,
		"placeholders", counts.Placeholders)
	return manifest, nil
}

// join resolves each capture's canonical result.
func (a *Assembler) join(captures []ledger.Record) ([]CaptureRecord, map[string]*transcribe.Result, Counts, error) {
	records := make([]CaptureRecord, 0, len(captures))
	results := make(map[string]*transcribe.Result)
	counts := Counts{Sections: len(captures)}

	seen := make(map[string]bool)
	for _, capture := range captures {
		id := transcribe.CanonicalID(capture.SHA256)
		if !seen[id] {
			seen[id] = true
			counts.DistinctHashes++

			result, err := a.store.Get(id)
			if err != nil {
				return nil, nil, counts, err
			}
			results[id] = result
		}

		result := results[id]
		record := CaptureRecord{
			Index:         capture.Index,
			File:          capture.File,
			Path:          capture.Path,
			Key:           capture.Key,
			SHA256:        capture.SHA256,
			CanonicalID:   id,
			TranscriptRef: "canonical/" + id + ".json",
			Status:        transcribe.StatusPending,
		}
		if result != nil {
			record.Status = result.Status
			record.Stage = result.Stage
			if result.Final != nil {
				record.Confidence = result.Final.Confidence
				record.UncertaintyCount = len(result.Final.Uncertainties)
			}
		}
		if !result.Usable() {
			counts.Placeholders++
		} else if result.Degraded() {
			counts.Degraded++
		}
		records = append(records, record)
	}
	return records, results, counts, nil
}

// buildMarkdown renders the compiled reading-order document. Chapter
// headings are inferred from the persisted TOC when one exists.
func (a *Assembler) buildMarkdown(bookID string, records []CaptureRecord, results map[string]*transcribe.Result) string {
	title := "Transcript for " + bookID
	var authors []string
	if book, err := metadata.Load(a.dir.MetadataPath(bookID)); err == nil {
		if book.Title != "" {
			title = book.Title
		}
		authors = book.Authors
	}

	var entries []toc.Entry
	if doc, err := toc.Load(a.dir.TOCPath(bookID)); err == nil {
		entries = doc.Entries
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Book ID: `%s`\n", bookID)
	if len(authors) > 0 {
		fmt.Fprintf(&b, "- Authors: %s\n", strings.Join(authors, ", "))
	}
	fmt.Fprintf(&b, "- Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	previousHeading := ""
	for _, record := range records {
		if heading := inferHeading(record.Key, entries); heading != "" && heading != previousHeading {
			fmt.Fprintf(&b, "## %s\n\n", heading)
			previousHeading = heading
		}

		fmt.Fprintf(&b, "### %s\n\n", sectionLabel(record.Key))

		result := results[record.CanonicalID]
		if result.Usable() {
			text := strings.TrimSpace(result.Final.Text)
			if text == "" {
				text = "[no text returned]"
			}
			b.WriteString(text)
		} else {
			message := "OCR failed for this page."
			if result != nil && result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
				message = result.Error.Message
			}
			fmt.Fprintf(&b, "[transcription error] %s", message)
		}
		b.WriteString("\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func (a *Assembler) buildManifest(bookID string, counts Counts, run *transcribe.RunResult, models Models) *Manifest {
	now := time.Now().UTC()
	createdAt := now
	if existing, err := loadManifest(a.dir.ManifestPath(bookID)); err == nil && !existing.CreatedAt.IsZero() {
		createdAt = existing.CreatedAt
	}

	status := "completed"
	switch {
	case counts.Placeholders == counts.Sections:
		status = "failed"
	case counts.Placeholders > 0:
		status = "partial"
	}

	manifest := &Manifest{
		BookID:    bookID,
		RunID:     uuid.NewString(),
		CreatedAt: createdAt,
		UpdatedAt: now,
		Status:    status,
		Models:    models,
		Counts:    counts,
		Files: map[string]string{
			"captures":      "captures.jsonl",
			"canonical_dir": "canonical",
			"book_markdown": "book.md",
		},
	}
	if run != nil {
		runCounts := run.Counts
		manifest.Run = &runCounts
	}
	return manifest
}

// inferHeading picks the TOC title whose position most closely precedes the
// capture. Entries of a different navigation kind never match.
func inferHeading(key nav.Key, entries []toc.Entry) string {
	if key.Zero() {
		return ""
	}
	best := ""
	bestDistance := -1
	for _, entry := range entries {
		if entry.Key.Kind != key.Kind || entry.Key.Current > key.Current {
			continue
		}
		distance := key.Current - entry.Key.Current
		if bestDistance == -1 || distance < bestDistance {
			best = entry.Title
			bestDistance = distance
		}
	}
	return best
}

func sectionLabel(key nav.Key) string {
	if key.Zero() {
		return "Capture"
	}
	return key.String()
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSON(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeJSONL(path string, records []CaptureRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("failed to write capture log: %w", err)
		}
	}
	return nil
}
