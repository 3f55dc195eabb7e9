package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/assemble"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/toc"
)

// bookStatus summarizes one book's capture and transcription state.
type bookStatus struct {
	BookID       string          `json:"book_id"`
	Title        string          `json:"title,omitempty"`
	Authors      []string        `json:"authors,omitempty"`
	Pages        int             `json:"captured_pages"`
	Ledger       *ledger.Summary `json:"ledger,omitempty"`
	TOC          *toc.Summary    `json:"toc,omitempty"`
	Transcripts  string          `json:"transcripts,omitempty"`
	Placeholders int             `json:"placeholders,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status [book-id]",
	Short: "Show capture and transcription progress",
	Long: `Status summarizes a book: captured page counts, TOC classification,
and transcription state. Without a book ID it lists every book under
the home directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := newHomeDir()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			return api.Output(bookStatusFor(dir, args[0]))
		}

		entries, err := os.ReadDir(filepath.Join(dir.Path(), home.BooksDirName))
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no books captured yet")
				return nil
			}
			return err
		}
		statuses := make([]*bookStatus, 0, len(entries))
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			statuses = append(statuses, bookStatusFor(dir, entry.Name()))
		}
		if len(statuses) == 0 {
			fmt.Println("no books captured yet")
			return nil
		}
		return api.Output(statuses)
	},
}

func bookStatusFor(dir *home.Dir, bookID string) *bookStatus {
	status := &bookStatus{BookID: bookID}

	if book, err := metadata.Load(dir.MetadataPath(bookID)); err == nil {
		status.Title = book.Title
		status.Authors = book.Authors
	}

	if manifest, err := ledger.Load(dir.LedgerPath(bookID)); err == nil {
		status.Pages = len(manifest.Pages)
		summary := manifest.Summary
		status.Ledger = &summary
	} else if records, _, err := ledger.Scan(dir.PagesDir(bookID)); err == nil {
		status.Pages = len(records)
	}

	if doc, err := toc.Load(dir.TOCPath(bookID)); err == nil {
		summary := doc.Summary
		status.TOC = &summary
	}

	if raw, err := os.ReadFile(dir.ManifestPath(bookID)); err == nil {
		var manifest assemble.Manifest
		if json.Unmarshal(raw, &manifest) == nil {
			status.Transcripts = manifest.Status
			status.Placeholders = manifest.Counts.Placeholders
		}
	}

	return status
}
