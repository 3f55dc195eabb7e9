package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/reader"
	"github.com/jackzampolin/folio/internal/toc"
)

var (
	tocRefresh          bool
	tocIncludeEndMatter bool
)

var tocCmd = &cobra.Command{
	Use:   "toc <book-id>",
	Short: "Show the resolved table of contents",
	Long: `Toc prints the persisted table of contents with its end-matter
classification and content boundary. With --refresh the book is opened
in the web reader and the TOC is re-resolved by traversing the panel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID := args[0]
		ctx := cmd.Context()

		dir, err := newHomeDir()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		classifier, err := toc.NewClassifier(cfg.Capture.EndMatterPatterns, cfg.Capture.EndMatterMinRatio)
		if err != nil {
			return fmt.Errorf("invalid end-matter patterns: %w", err)
		}
		resolver := toc.NewResolver(classifier, slog.Default())

		var session reader.Session
		if tocRefresh {
			chrome, err := reader.NewChrome(ctx, reader.ChromeConfig{
				ProfileDir:    dir.ProfilePath(),
				BaseURL:       cfg.Reader.BaseURL,
				Headless:      cfg.Reader.Headless,
				SettleTimeout: time.Duration(cfg.Reader.SettleTimeoutSeconds) * time.Second,
				LoginTimeout:  time.Duration(cfg.Reader.LoginTimeoutSeconds) * time.Second,
				Logger:        slog.Default(),
			})
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer chrome.Close()
			if err := chrome.Open(ctx, bookID); err != nil {
				return fmt.Errorf("failed to open book: %w", err)
			}
			session = chrome
		}

		doc, err := resolver.Resolve(ctx, session, bookID, dir.TOCPath(bookID), tocRefresh, tocIncludeEndMatter)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("no table of contents for %s (try --refresh)", bookID)
		}
		return api.Output(doc)
	},
}

func init() {
	tocCmd.Flags().BoolVar(&tocRefresh, "refresh", false, "re-resolve the TOC from the web reader")
	tocCmd.Flags().BoolVar(&tocIncludeEndMatter, "include-end-matter", false, "classify end matter but keep the boundary open")
}
