// Package transcribe turns captured page images into text with a two-pass
// OCR pipeline, one canonical result per unique image content.
package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/folio/internal/nav"
	"github.com/jackzampolin/folio/internal/providers"
)

// Canonical result status values.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Pass stage names recorded on a result.
const (
	StagePass1 = "pass1"
	StagePass2 = "pass2"
)

// CanonicalID derives the result key for an image content hash.
func CanonicalID(sha256 string) string {
	return "img-" + sha256
}

// Fingerprint identifies the source file a result was computed from. A
// mismatch on re-run invalidates the cached result.
type Fingerprint struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// FingerprintFile reads the current fingerprint of an image file.
func FingerprintFile(path, relPath string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:    relPath,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, nil
}

// CaptureRef ties a canonical result back to the captures that share it.
type CaptureRef struct {
	Index int     `json:"index"`
	Path  string  `json:"path"`
	Key   nav.Key `json:"key"`
}

// PassOutput records one completed model pass.
type PassOutput struct {
	Model      string               `json:"model"`
	Attempts   int                  `json:"attempts"`
	DurationMS int64                `json:"duration_ms"`
	Result     *providers.OCRResult `json:"result"`
}

// ResultError records why a result failed or degraded.
type ResultError struct {
	Message  string    `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

// Result is the persisted canonical transcription for one unique image.
// Stage names the last pass that succeeded: a done result with stage pass1
// carries pass-1 text as a degraded fallback after pass 2 failed.
type Result struct {
	CanonicalID string       `json:"canonical_id"`
	SHA256      string       `json:"image_sha256"`
	Fingerprint Fingerprint  `json:"fingerprint"`
	Captures    []CaptureRef `json:"captures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`

	Pass1 *PassOutput          `json:"pass1,omitempty"`
	Pass2 *PassOutput          `json:"pass2,omitempty"`
	Final *providers.OCRResult `json:"final,omitempty"`
	Error *ResultError         `json:"error,omitempty"`
}

// Usable reports whether the result carries text an assembler can use.
func (r *Result) Usable() bool {
	return r != nil && r.Status == StatusDone && r.Final != nil && r.Final.Text != ""
}

// Degraded reports whether the result fell back to pass-1 text.
func (r *Result) Degraded() bool {
	return r.Usable() && r.Stage == StagePass1
}

// Store persists one JSON file per canonical result.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the canonical results directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(canonicalID string) string {
	return filepath.Join(s.dir, canonicalID+".json")
}

// Get loads a result, or nil when none is persisted.
func (s *Store) Get(canonicalID string) (*Result, error) {
	data, err := os.ReadFile(s.path(canonicalID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		// Corrupt result files are recomputed, not fatal.
		return nil, nil
	}
	return &result, nil
}

// Put persists a result immediately. Called after every hash completes so
// interrupted runs resume cleanly.
func (s *Store) Put(result *Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal canonical result: %w", err)
	}
	if err := os.WriteFile(s.path(result.CanonicalID), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write canonical result: %w", err)
	}
	return nil
}

// Reusable reports whether a cached result can satisfy the current file
// without recomputation: it must be usable and the source fingerprint must
// still match.
func (r *Result) Reusable(current Fingerprint) bool {
	if !r.Usable() {
		return false
	}
	return r.Fingerprint.Size == current.Size && r.Fingerprint.ModTime.Equal(current.ModTime)
}
