package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/assemble"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/transcribe"
)

var (
	transcribeStartAt   int
	transcribeMaxPages  int
	transcribeForce     bool
	transcribeDryRun    bool
	transcribeModel     string
	transcribeQAModel   string
	transcribeRetries   uint
	transcribeMaxTokens int
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <book-id>",
	Short: "Run two-pass OCR over captured pages and compile the document",
	Long: `Transcribe deduplicates captured pages by content hash and runs each
unique image through two model passes: a literal transcription, then a
QA pass that corrects the draft against the image.

Results are persisted per image hash as soon as they arrive, so an
interrupted run resumes where it left off. A QA failure keeps the
pass-1 draft rather than losing the page. After the run the compiled
book.md, captures.jsonl, and manifest.json are written.`,
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

		model := cfg.OCR.Model
		if cmd.Flags().Changed("model") {
			model = transcribeModel
		}
		qaModel := cfg.OCR.QAModel
		if cmd.Flags().Changed("qa-model") {
			qaModel = transcribeQAModel
		}
		maxTokens := cfg.OCR.MaxOutputTokens
		if cmd.Flags().Changed("max-output-tokens") {
			maxTokens = transcribeMaxTokens
		}
		retries := uint(cfg.OCR.MaxRetries)
		if cmd.Flags().Changed("max-retries") {
			retries = transcribeRetries
		}

		opts := transcribe.Options{
			BookID:     bookID,
			StartAt:    transcribeStartAt,
			MaxPages:   transcribeMaxPages,
			Force:      transcribeForce,
			Model:      model,
			QAModel:    qaModel,
			MaxRetries: retries,
		}

		if transcribeDryRun {
			// Dry runs never touch the endpoint, so no client or key needed.
			pipeline := transcribe.New(nil, dir, opts, slog.Default())
			plan, err := pipeline.DryRun()
			if err != nil {
				return err
			}
			return api.Output(plan)
		}

		apiKey := config.ResolveEnvVars(cfg.OCR.APIKey)
		if apiKey == "" {
			return fmt.Errorf("no OCR API key configured (set ocr.api_key or OPENAI_API_KEY)")
		}

		client := providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:          apiKey,
			BaseURL:         cfg.OCR.BaseURL,
			Timeout:         time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
			RateLimit:       cfg.OCR.RateLimit,
			MaxOutputTokens: maxTokens,
			Logger:          slog.Default(),
		})

		pipeline := transcribe.New(client, dir, opts, slog.Default())
		result, err := pipeline.Run(ctx)
		if err != nil {
			return err
		}

		assembler := assemble.New(dir, pipeline.Store(), slog.Default())
		if _, err := assembler.Compile(bookID, result.Captures, result, assemble.Models{OCR: model, QA: qaModel}); err != nil {
			return fmt.Errorf("transcription finished but assembly failed: %w", err)
		}

		if err := api.Output(result); err != nil {
			return err
		}
		if result.Status == transcribe.RunFailed {
			return fmt.Errorf("transcription failed for all %d unique images", result.Counts.UniqueImages)
		}
		if result.Counts.FailureRatio > cfg.Transcribe.MaxFailureRatio {
			return fmt.Errorf("failure ratio %.2f exceeds maximum %.2f",
				result.Counts.FailureRatio, cfg.Transcribe.MaxFailureRatio)
		}
		return nil
	},
}

func init() {
	transcribeCmd.Flags().IntVar(&transcribeStartAt, "start-at", 0, "first capture index to transcribe")
	transcribeCmd.Flags().IntVar(&transcribeMaxPages, "max-pages", 0, "maximum captures to transcribe (0 = all)")
	transcribeCmd.Flags().BoolVar(&transcribeForce, "force", false, "recompute images that already have usable results")
	transcribeCmd.Flags().BoolVar(&transcribeDryRun, "dry-run", false, "report what a run would do without calling the endpoint")
	transcribeCmd.Flags().StringVar(&transcribeModel, "model", "", "model for the transcription pass (default from config)")
	transcribeCmd.Flags().StringVar(&transcribeQAModel, "qa-model", "", "model for the QA pass (default from config)")
	transcribeCmd.Flags().UintVar(&transcribeRetries, "max-retries", 3, "attempts per model pass for transient errors (default from config)")
	transcribeCmd.Flags().IntVar(&transcribeMaxTokens, "max-output-tokens", 0, "output token cap per model call (default from config)")
}
