package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/assemble"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/transcribe"
)

var compileCmd = &cobra.Command{
	Use:   "compile <book-id>",
	Short: "Rebuild the document from existing transcripts",
	Long: `Compile joins the capture ledger with the canonical transcripts already
on disk and rewrites book.md, captures.jsonl, and manifest.json. No
model calls are made; pages without a usable transcript become visible
placeholders.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID := args[0]

		dir, err := newHomeDir()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		captures, err := loadBookCaptures(dir.LedgerPath(bookID), dir.PagesDir(bookID))
		if err != nil {
			return err
		}
		if len(captures) == 0 {
			return fmt.Errorf("no captured pages for %s", bookID)
		}

		store := transcribe.NewStore(dir.CanonicalDir(bookID))
		assembler := assemble.New(dir, store, slog.Default())
		manifest, err := assembler.Compile(bookID, captures, nil, assemble.Models{OCR: cfg.OCR.Model, QA: cfg.OCR.QAModel})
		if err != nil {
			return err
		}
		return api.Output(manifest)
	},
}

// loadBookCaptures prefers the persisted ledger and falls back to scanning
// the pages directory when the ledger is missing or predates content hashes.
func loadBookCaptures(ledgerPath, pagesDir string) ([]ledger.Record, error) {
	if manifest, err := ledger.Load(ledgerPath); err == nil && len(manifest.Pages) > 0 && manifest.Pages[0].SHA256 != "" {
		return manifest.Pages, nil
	}
	records, _, err := ledger.Scan(pagesDir)
	if err != nil {
		return nil, err
	}
	return records, nil
}
