package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/providers"
)

// VisionClient is the endpoint capability the pipeline needs.
type VisionClient interface {
	// Transcribe runs the literal OCR pass.
	Transcribe(ctx context.Context, model string, image []byte) (*providers.OCRResult, error)
	// Review runs the QA correction pass over a draft.
	Review(ctx context.Context, model string, image []byte, draft string) (*providers.OCRResult, error)
}

// Options configures one transcription run.
type Options struct {
	BookID string

	// StartAt is the first capture index in the ordered ledger; MaxPages
	// bounds how many captures after it are considered (0 = all).
	StartAt  int
	MaxPages int

	// Force recomputes hashes that already have usable cached results.
	Force bool

	Model      string
	QAModel    string
	MaxRetries uint
	RetryDelay time.Duration
}

// Counts summarizes a run over unique images.
type Counts struct {
	SelectedCaptures int     `json:"selected_captures"`
	UniqueImages     int     `json:"unique_images"`
	Completed        int     `json:"completed_unique_images"`
	Degraded         int     `json:"degraded_unique_images"`
	Failed           int     `json:"failed_unique_images"`
	Resumed          int     `json:"resumed_unique_images"`
	FailureRatio     float64 `json:"failure_ratio"`
}

// Run status values.
const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// RunResult is the outcome of a transcription run.
type RunResult struct {
	Status   string          `json:"status"`
	Source   string          `json:"source"`
	Counts   Counts          `json:"counts"`
	Captures []ledger.Record `json:"-"`
}

// Plan is the dry-run projection of a run: the same decisions, no calls.
type Plan struct {
	Source           string `json:"source"`
	SelectedCaptures int    `json:"selected_captures"`
	UniqueImages     int    `json:"unique_images"`
	Reusable         int    `json:"reusable"`
	NeedWork         int    `json:"need_work"`
	EstimatedCalls   int    `json:"estimated_calls"`
}

// Pipeline runs two-pass OCR over a book's captured pages.
type Pipeline struct {
	client VisionClient
	dir    *home.Dir
	store  *Store
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline.
func New(client VisionClient, dir *home.Dir, opts Options, logger *slog.Logger) *Pipeline {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	if opts.QAModel == "" {
		opts.QAModel = opts.Model
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client: client,
		dir:    dir,
		store:  NewStore(dir.CanonicalDir(opts.BookID)),
		opts:   opts,
		logger: logger,
	}
}

// group collects the captures that share one image content hash. The first
// capture in ledger order is the representative image submitted to the
// endpoints.
type group struct {
	id       string
	sha      string
	rep      ledger.Record
	captures []ledger.Record
}

// loadCaptures reads the ordered capture list, preferring pages.json and
// falling back to a directory scan.
func (p *Pipeline) loadCaptures() ([]ledger.Record, string, error) {
	manifest, err := ledger.Load(p.dir.LedgerPath(p.opts.BookID))
	if err == nil && len(manifest.Pages) > 0 && manifest.Pages[0].SHA256 != "" {
		return manifest.Pages, "pages.json", nil
	}

	records, _, err := ledger.Scan(p.dir.PagesDir(p.opts.BookID))
	if err != nil {
		return nil, "", err
	}
	return records, "scan", nil
}

// selectWindow applies the StartAt/MaxPages window to the ordered captures.
func (p *Pipeline) selectWindow(records []ledger.Record) ([]ledger.Record, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no captures found to transcribe")
	}
	if p.opts.StartAt >= len(records) {
		return nil, fmt.Errorf("start index %d is out of range for %d captures", p.opts.StartAt, len(records))
	}
	end := len(records)
	if p.opts.MaxPages > 0 && p.opts.StartAt+p.opts.MaxPages < end {
		end = p.opts.StartAt + p.opts.MaxPages
	}
	return records[p.opts.StartAt:end], nil
}

func groupByHash(records []ledger.Record) []group {
	index := make(map[string]int)
	var groups []group
	for _, record := range records {
		id := CanonicalID(record.SHA256)
		if i, ok := index[id]; ok {
			groups[i].captures = append(groups[i].captures, record)
			continue
		}
		index[id] = len(groups)
		groups = append(groups, group{
			id:       id,
			sha:      record.SHA256,
			rep:      record,
			captures: []ledger.Record{record},
		})
	}
	return groups
}

// DryRun reports the planned workload without touching either endpoint.
func (p *Pipeline) DryRun() (*Plan, error) {
	records, source, err := p.loadCaptures()
	if err != nil {
		return nil, err
	}
	selected, err := p.selectWindow(records)
	if err != nil {
		return nil, err
	}
	groups := groupByHash(selected)

	plan := &Plan{
		Source:           source,
		SelectedCaptures: len(selected),
		UniqueImages:     len(groups),
	}
	bookDir := p.dir.BookDir(p.opts.BookID)
	for _, g := range groups {
		if !p.opts.Force {
			fp, fpErr := FingerprintFile(g.rep.ImagePath(bookDir), g.rep.Path)
			if fpErr == nil {
				existing, getErr := p.store.Get(g.id)
				if getErr == nil && existing.Reusable(fp) {
					plan.Reusable++
					continue
				}
			}
		}
		plan.NeedWork++
	}
	plan.EstimatedCalls = plan.NeedWork * 2
	return plan, nil
}

// Run transcribes every unique image in the selected window. Per-hash
// failures are recorded and skipped; only context cancellation or a broken
// store aborts the run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	records, source, err := p.loadCaptures()
	if err != nil {
		return nil, err
	}
	selected, err := p.selectWindow(records)
	if err != nil {
		return nil, err
	}
	if err := p.dir.EnsureTranscriptsDir(p.opts.BookID); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	groups := groupByHash(selected)
	result := &RunResult{
		Source:   source,
		Captures: selected,
		Counts: Counts{
			SelectedCaptures: len(selected),
			UniqueImages:     len(groups),
		},
	}
	p.logger.Info("transcription workload",
		"selected", len(selected),
		"unique_images", len(groups),
		"source", source)

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := p.processGroup(ctx, g)
		if err != nil {
			return nil, err
		}
		switch {
		case outcome.resumed:
			result.Counts.Resumed++
			result.Counts.Completed++
		case outcome.result.Usable():
			result.Counts.Completed++
			if outcome.result.Degraded() {
				result.Counts.Degraded++
			}
		default:
			result.Counts.Failed++
		}
	}

	if result.Counts.UniqueImages > 0 {
		result.Counts.FailureRatio = float64(result.Counts.Failed) / float64(result.Counts.UniqueImages)
	}
	switch {
	case result.Counts.Completed == 0:
		result.Status = RunFailed
	case result.Counts.Failed == 0:
		result.Status = RunCompleted
	default:
		result.Status = RunPartial
	}
	p.logger.Info("transcription finished",
		"status", result.Status,
		"completed", result.Counts.Completed,
		"degraded", result.Counts.Degraded,
		"failed", result.Counts.Failed,
		"resumed", result.Counts.Resumed)
	return result, nil
}

// Store exposes the canonical result store for the assembler.
func (p *Pipeline) Store() *Store {
	return p.store
}

type groupOutcome struct {
	result  *Result
	resumed bool
}

func (p *Pipeline) processGroup(ctx context.Context, g group) (*groupOutcome, error) {
	bookDir := p.dir.BookDir(p.opts.BookID)
	imagePath := g.rep.ImagePath(bookDir)

	fp, err := FingerprintFile(imagePath, g.rep.Path)
	if err != nil {
		return nil, fmt.Errorf("capture file unreadable: %w", err)
	}

	existing, err := p.store.Get(g.id)
	if err != nil {
		return nil, err
	}
	if !p.opts.Force && existing.Reusable(fp) {
		p.logger.Info("reusing cached transcript", "canonical_id", g.id)
		return &groupOutcome{result: existing, resumed: true}, nil
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture image: %w", err)
	}

	now := time.Now().UTC()
	result := &Result{
		CanonicalID: g.id,
		SHA256:      g.sha,
		Fingerprint: fp,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusPending,
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		result.CreatedAt = existing.CreatedAt
	}
	for _, capture := range g.captures {
		result.Captures = append(result.Captures, CaptureRef{
			Index: capture.Index,
			Path:  capture.Path,
			Key:   capture.Key,
		})
	}

	p.logger.Info("transcribing", "canonical_id", g.id, "image", g.rep.Path)

	pass1, attempts, elapsed, err := p.runPass(ctx, g.id+" pass1", func() (*providers.OCRResult, error) {
		return p.client.Transcribe(ctx, p.opts.Model, image)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Status = StatusFailed
		result.Error = &ResultError{Message: err.Error(), FailedAt: time.Now().UTC()}
		result.UpdatedAt = time.Now().UTC()
		if putErr := p.store.Put(result); putErr != nil {
			return nil, putErr
		}
		p.logger.Warn("pass 1 failed", "canonical_id", g.id, "error", err)
		return &groupOutcome{result: result}, nil
	}
	result.Pass1 = &PassOutput{Model: p.opts.Model, Attempts: attempts, DurationMS: elapsed.Milliseconds(), Result: pass1}

	pass2, attempts, elapsed, err := p.runPass(ctx, g.id+" pass2", func() (*providers.OCRResult, error) {
		return p.client.Review(ctx, p.opts.QAModel, image, pass1.Text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Pass-1 text is better than nothing: keep it as a degraded final.
		result.Status = StatusDone
		result.Stage = StagePass1
		result.Final = pass1
		result.Error = &ResultError{Message: err.Error(), FailedAt: time.Now().UTC()}
		result.UpdatedAt = time.Now().UTC()
		if putErr := p.store.Put(result); putErr != nil {
			return nil, putErr
		}
		p.logger.Warn("pass 2 failed; keeping pass 1 text", "canonical_id", g.id, "error", err)
		return &groupOutcome{result: result}, nil
	}
	result.Pass2 = &PassOutput{Model: p.opts.QAModel, Attempts: attempts, DurationMS: elapsed.Milliseconds(), Result: pass2}

	result.Status = StatusDone
	result.Stage = StagePass2
	result.Final = pass2
	result.UpdatedAt = time.Now().UTC()
	if err := p.store.Put(result); err != nil {
		return nil, err
	}
	p.logger.Info("transcribed",
		"canonical_id", g.id,
		"confidence", pass2.Confidence,
		"uncertainties", len(pass2.Uncertainties))
	return &groupOutcome{result: result}, nil
}

// runPass executes one model pass with bounded retries and backoff. This is
// the only retry layer: the client performs a single attempt per call, and
// only errors it classifies as transient consume the ceiling. Fatal errors
// (auth, malformed requests, unparseable output) surface immediately.
func (p *Pipeline) runPass(ctx context.Context, label string, fn func() (*providers.OCRResult, error)) (*providers.OCRResult, int, time.Duration, error) {
	start := time.Now()
	attempts := 0
	var out *providers.OCRResult

	err := retry.Do(
		func() error {
			attempts++
			var callErr error
			out, callErr = fn()
			if callErr != nil && !providers.IsTransient(callErr) {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(p.opts.MaxRetries),
		retry.Delay(p.opts.RetryDelay),
		retry.MaxJitter(500*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("pass attempt failed",
				"label", label,
				"attempt", n+1,
				"max", p.opts.MaxRetries,
				"error", err)
		}),
	)
	return out, attempts, time.Since(start), err
}
