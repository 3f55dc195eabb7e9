package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	debug        bool
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Capture and transcribe books from the Kindle web reader",
	Long: `Folio drives the Kindle Cloud Reader page by page, captures one image
per page, and turns the captures into clean text with a two-pass
OCR pipeline.

The pipeline includes:
  - TOC-aware capture that stops before end matter
  - Idempotent, resumable page capture keyed by navigation position
  - Content-hash deduplication with one canonical transcript per image
  - OCR + QA correction passes with structured model output
  - A compiled reading-order markdown document`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.folio/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "folio home directory (default: ~/.folio)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(tocCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// newHomeDir resolves and creates the folio home directory.
func newHomeDir() (*home.Dir, error) {
	dir, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}
	return dir, nil
}

// loadConfigManager loads configuration from file, environment, and
// defaults. Long-running commands use the manager to watch for changes.
func loadConfigManager() (*config.Manager, error) {
	return config.NewManager(cfgFile)
}

// loadConfig is the one-shot form for commands that never reload.
func loadConfig() (*config.Config, error) {
	manager, err := loadConfigManager()
	if err != nil {
		return nil, err
	}
	return manager.Get(), nil
}
