package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/capture"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/reader"
	"github.com/jackzampolin/folio/internal/toc"
)

var (
	captureInterval         float64
	capturePages            int
	captureStartPage        int
	captureNoRestart        bool
	captureIncludeEndMatter bool
	captureRefreshTOC       bool
	captureNoRestore        bool
	captureOverwrite        bool
	captureNoMetadata       bool
	captureHeadless         bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <book-id>",
	Short: "Capture one image per page from the web reader",
	Long: `Capture opens the book in the web reader and walks it page by page,
saving one screenshot per navigation position under pages/.

Runs are idempotent: pages already on disk are skipped unless --overwrite
is set. By default the run restarts from the cover, stops before end
matter using the table of contents, and restores the reader position on
exit (including interrupts).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID := args[0]
		ctx := cmd.Context()

		if captureStartPage < 0 {
			return fmt.Errorf("start page must be >= 1")
		}
		if captureStartPage > 0 && !captureNoRestart {
			// An explicit start page implies no restart.
			captureNoRestart = true
		}

		dir, err := newHomeDir()
		if err != nil {
			return err
		}
		manager, err := loadConfigManager()
		if err != nil {
			return err
		}
		cfg := manager.Get()

		interval := cfg.Capture.IntervalSeconds
		if cmd.Flags().Changed("interval") {
			interval = captureInterval
		}
		headless := cfg.Reader.Headless
		if cmd.Flags().Changed("headless") {
			headless = captureHeadless
		}

		session, err := reader.NewChrome(ctx, reader.ChromeConfig{
			ProfileDir:    dir.ProfilePath(),
			BaseURL:       cfg.Reader.BaseURL,
			Headless:      headless,
			SettleTimeout: time.Duration(cfg.Reader.SettleTimeoutSeconds) * time.Second,
			LoginTimeout:  time.Duration(cfg.Reader.LoginTimeoutSeconds) * time.Second,
			Logger:        slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		defer session.Close()

		if err := session.Open(ctx, bookID); err != nil {
			return fmt.Errorf("failed to open book: %w", err)
		}

		classifier, err := toc.NewClassifier(cfg.Capture.EndMatterPatterns, cfg.Capture.EndMatterMinRatio)
		if err != nil {
			return fmt.Errorf("invalid end-matter patterns: %w", err)
		}
		resolver := toc.NewResolver(classifier, slog.Default())

		engine, err := capture.New(session, resolver, dir, capture.Options{
			BookID:           bookID,
			Interval:         time.Duration(interval * float64(time.Second)),
			TurnTimeout:      time.Duration(cfg.Capture.TurnTimeoutSeconds) * time.Second,
			TurnRetries:      cfg.Capture.TurnRetries,
			PageBudget:       capturePages,
			StartPage:        captureStartPage,
			Restart:          !captureNoRestart,
			Overwrite:        captureOverwrite,
			IncludeEndMatter: captureIncludeEndMatter,
			RefreshTOC:       captureRefreshTOC,
			RestorePosition:  !captureNoRestore,
			CaptureMetadata:  !captureNoMetadata,
		}, slog.Default())
		if err != nil {
			return err
		}

		// Capture runs can take hours; pick up pacing edits to config.yaml
		// without restarting. Explicit flags keep precedence.
		manager.OnChange(func(updated *config.Config) {
			liveInterval := interval
			if !cmd.Flags().Changed("interval") {
				liveInterval = updated.Capture.IntervalSeconds
			}
			engine.SetPacing(
				time.Duration(liveInterval*float64(time.Second)),
				time.Duration(updated.Capture.TurnTimeoutSeconds)*time.Second,
				updated.Capture.TurnRetries,
			)
		})
		manager.WatchConfig()

		result, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		return api.Output(result)
	},
}

func init() {
	captureCmd.Flags().Float64Var(&captureInterval, "interval", 1.0, "settle wait after each page turn, in seconds")
	captureCmd.Flags().IntVar(&capturePages, "pages", 0, "maximum page turns this run (0 = until the end)")
	captureCmd.Flags().IntVar(&captureStartPage, "start-page", 0, "jump to this page before capturing (implies --no-restart)")
	captureCmd.Flags().BoolVar(&captureNoRestart, "no-restart", false, "capture from the current position instead of the cover")
	captureCmd.Flags().BoolVar(&captureIncludeEndMatter, "include-end-matter", false, "capture past the end-matter boundary")
	captureCmd.Flags().BoolVar(&captureRefreshTOC, "refresh-toc", false, "re-resolve the table of contents even when one is persisted")
	captureCmd.Flags().BoolVar(&captureNoRestore, "no-restore-position", false, "leave the reader where capture finished")
	captureCmd.Flags().BoolVar(&captureOverwrite, "overwrite", false, "recapture pages that already exist on disk")
	captureCmd.Flags().BoolVar(&captureNoMetadata, "no-metadata", false, "skip saving book metadata")
	captureCmd.Flags().BoolVar(&captureHeadless, "headless", false, "run the browser without a window")
}
