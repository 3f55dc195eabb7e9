// Package metadata holds normalized book metadata captured from the reader.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Book is the normalized metadata written to metadata.json.
type Book struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	Authors    []string        `json:"authors,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Sources    Sources         `json:"sources"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Sources records which reader payloads contributed to the metadata.
type Sources struct {
	StartReading bool `json:"start_reading"`
	YJMetadata   bool `json:"yj_metadata"`
}

// NormalizeAuthors flattens the reader's author payload (strings or objects
// with name fields) into a list of trimmed names.
func NormalizeAuthors(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var authors []string
	for _, item := range items {
		var name string
		switch v := item.(type) {
		case string:
			name = v
		case map[string]any:
			if s, ok := v["name"].(string); ok {
				name = s
			} else if s, ok := v["authorName"].(string); ok {
				name = s
			}
		}
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			authors = append(authors, trimmed)
		}
	}
	return authors
}

// Save writes the metadata file with stable indentation.
func Save(path string, b *Book) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Load reads a previously saved metadata file.
func Load(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &b, nil
}
