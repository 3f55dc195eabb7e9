// Package capture drives the reader page-by-page and persists one image per
// navigation key.
//
// The loop is strictly sequential: each step depends on the reader settling
// after the previous one. All reader access goes through the reader.Session
// interface, so the engine is tested against a fake session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
	"github.com/jackzampolin/folio/internal/reader"
	"github.com/jackzampolin/folio/internal/toc"
)

// Stop reasons reported in the capture result.
const (
	StopBudget      = "budget"
	StopBoundary    = "boundary"
	StopEndOfBook   = "end_of_book"
	StopNoAdvance   = "no_advance"
	StopInterrupted = "interrupted"
)

// Options configures one capture run.
type Options struct {
	BookID string

	// Interval is the settle wait after each page turn. Correctness, not
	// rate limiting: the reader renders asynchronously.
	Interval    time.Duration
	TurnTimeout time.Duration
	TurnRetries int

	// PageBudget limits advances; 0 means unlimited.
	PageBudget int
	// StartPage jumps to an explicit page before capture; 0 means none.
	// Mutually exclusive with Restart.
	StartPage int
	// Restart navigates to the cover before capture.
	Restart bool

	Overwrite        bool
	IncludeEndMatter bool
	RefreshTOC       bool
	RestorePosition  bool
	CaptureMetadata  bool
}

// Result summarizes a finished capture run.
type Result struct {
	StopReason  string       `json:"stop_reason"`
	PagesTurned int          `json:"pages_turned"`
	Stats       ledger.Stats `json:"stats"`
	Boundary    *nav.Key     `json:"boundary,omitempty"`
	FinalKey    *nav.Key     `json:"final_key,omitempty"`
}

// Engine runs capture for one book.
type Engine struct {
	session  reader.Session
	resolver *toc.Resolver
	dir      *home.Dir
	opts     Options
	logger   *slog.Logger

	// pacing is read each step and may be updated mid-run by config reload.
	mu     sync.Mutex
	pacing pacing

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// pacing holds the timing knobs a running capture can pick up live.
type pacing struct {
	interval    time.Duration
	turnTimeout time.Duration
	turnRetries int
}

// New creates an Engine.
func New(session reader.Session, resolver *toc.Resolver, dir *home.Dir, opts Options, logger *slog.Logger) (*Engine, error) {
	if opts.StartPage > 0 && opts.Restart {
		return nil, fmt.Errorf("start page and restart are mutually exclusive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		session:  session,
		resolver: resolver,
		dir:      dir,
		opts:     opts,
		logger:   logger,
		pacing: pacing{
			interval:    opts.Interval,
			turnTimeout: opts.TurnTimeout,
			turnRetries: opts.TurnRetries,
		},
		sleep: sleepCtx,
	}, nil
}

// SetPacing updates the timing knobs of a running capture. Safe to call from
// a config reload callback while the loop is executing.
func (e *Engine) SetPacing(interval, turnTimeout time.Duration, turnRetries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	updated := pacing{interval: interval, turnTimeout: turnTimeout, turnRetries: turnRetries}
	if updated != e.pacing {
		e.logger.Info("capture pacing updated",
			"interval", interval,
			"turn_timeout", turnTimeout,
			"turn_retries", turnRetries)
	}
	e.pacing = updated
}

func (e *Engine) currentPacing() pacing {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pacing
}

// Run executes the capture loop. Context cancellation is a normal stop, not
// an error: the run restores position, flushes the ledger, and reports
// StopInterrupted.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.dir.EnsurePagesDir(e.opts.BookID); err != nil {
		return nil, fmt.Errorf("failed to create pages directory: %w", err)
	}

	if _, err := e.session.DismissAlert(ctx); err != nil {
		return nil, err
	}
	if err := e.session.ApplySettings(ctx); err != nil {
		e.logger.Warn("could not fully apply reader settings", "error", err)
	}

	startKey, err := e.session.Position(ctx)
	if err != nil && !errors.Is(err, reader.ErrPositionUnknown) {
		return nil, err
	}
	if startKey.Zero() {
		e.logger.Warn("could not determine starting position; restore disabled for this run")
	} else {
		e.logger.Info("saved start position", "position", startKey.String())
	}

	// Restore the start position on every exit path, including interrupts.
	// The run's own context may already be cancelled by then.
	defer func() {
		if !e.opts.RestorePosition || startKey.Zero() {
			return
		}
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		e.restorePosition(restoreCtx, startKey)
	}()

	boundary, err := e.resolveBoundary(ctx, startKey)
	if err != nil {
		return nil, err
	}

	if e.opts.CaptureMetadata {
		e.saveMetadata(ctx)
	}

	if err := e.navigateToStart(ctx); err != nil {
		return nil, err
	}

	return e.loop(ctx, boundary)
}

// resolveBoundary resolves the TOC and returns the content boundary key.
// When resolution required a fresh traversal, the reader position is put
// back where it was.
func (e *Engine) resolveBoundary(ctx context.Context, startKey nav.Key) (nav.Key, error) {
	if e.resolver == nil {
		return nav.Key{}, nil
	}

	tocPath := e.dir.TOCPath(e.opts.BookID)
	_, statErr := os.Stat(tocPath)
	cached := statErr == nil && !e.opts.RefreshTOC

	doc, err := e.resolver.Resolve(ctx, e.session, e.opts.BookID, tocPath, e.opts.RefreshTOC, e.opts.IncludeEndMatter)
	if err != nil {
		return nav.Key{}, err
	}

	// A fresh traversal moved the reader around. Put it back unless an
	// explicit start navigation is about to happen anyway.
	if !cached && e.opts.StartPage == 0 && !e.opts.Restart {
		e.restorePosition(ctx, startKey)
	}

	boundary := doc.Boundary()
	if boundary.Zero() {
		e.logger.Info("no content boundary; capturing until the reader ends")
	} else {
		e.logger.Info("content boundary set", "boundary", boundary.String())
	}
	return boundary, nil
}

func (e *Engine) saveMetadata(ctx context.Context) {
	// Give the intercepted responses a moment to land.
	_ = e.sleep(ctx, time.Second)

	book := e.session.Metadata()
	if book == nil {
		e.logger.Warn("no book metadata was intercepted")
		return
	}
	if !book.Sources.StartReading {
		e.logger.Warn("startReading metadata response was not captured")
	}
	if !book.Sources.YJMetadata {
		e.logger.Warn("YJmetadata response was not captured")
	}
	path := e.dir.MetadataPath(e.opts.BookID)
	if err := metadata.Save(path, book); err != nil {
		e.logger.Warn("failed to save metadata", "path", path, "error", err)
		return
	}
	e.logger.Info("saved metadata", "path", path, "title", book.Title)
}

func (e *Engine) navigateToStart(ctx context.Context) error {
	switch {
	case e.opts.StartPage > 0:
		if err := e.session.JumpToPage(ctx, e.opts.StartPage); err != nil {
			return fmt.Errorf("could not navigate to start page %d: %w", e.opts.StartPage, err)
		}
		e.logger.Info("jumped to start page", "page", e.opts.StartPage)
	case e.opts.Restart:
		found, err := e.session.GoToCover(ctx)
		if err != nil {
			return err
		}
		if found {
			e.logger.Info("starting from the cover")
		} else {
			e.logger.Warn("no cover entry found; starting from the current position")
		}
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, boundary nav.Key) (*Result, error) {
	result := &Result{}
	if !boundary.Zero() {
		b := boundary
		result.Boundary = &b
	}

	defer func() {
		e.snapshotLedger(result.Stats)
		e.logger.Info("capture finished",
			"reason", result.StopReason,
			"pages_turned", result.PagesTurned,
			"new", result.Stats.New,
			"overwritten", result.Stats.Overwritten,
			"skipped_existing", result.Stats.SkippedExisting,
			"skipped_unknown", result.Stats.SkippedUnknown)
	}()

	// Capture the view currently on screen before any turns.
	if err := e.captureCurrent(ctx, &result.Stats); err != nil {
		if interrupted(err) {
			result.StopReason = StopInterrupted
			return result, nil
		}
		return result, err
	}
	e.snapshotLedger(result.Stats)

	for {
		if e.opts.PageBudget > 0 && result.PagesTurned >= e.opts.PageBudget {
			result.StopReason = StopBudget
			return result, nil
		}

		key, err := e.session.Position(ctx)
		if err != nil && !errors.Is(err, reader.ErrPositionUnknown) {
			if interrupted(err) {
				result.StopReason = StopInterrupted
				return result, nil
			}
			return result, err
		}
		if !key.Zero() {
			k := key
			result.FinalKey = &k
		}

		if key.Reaches(boundary) {
			e.logger.Info("reached content boundary", "boundary", boundary.String())
			result.StopReason = StopBoundary
			return result, nil
		}
		if key.AtEnd() {
			e.logger.Info("reached the end of the book", "position", key.String())
			result.StopReason = StopEndOfBook
			return result, nil
		}

		if dismissed, err := e.session.DismissAlert(ctx); err == nil && dismissed {
			e.logger.Info("dismissed blocking alert")
		}

		prevSig, _ := e.session.ContentSignature(ctx)

		if err := e.sleep(ctx, e.currentPacing().interval); err != nil {
			result.StopReason = StopInterrupted
			return result, nil
		}

		if err := e.session.Advance(ctx); err != nil {
			if errors.Is(err, reader.ErrEndOfBook) {
				e.logger.Info("no next-page control; at the end of the book")
				result.StopReason = StopNoAdvance
				return result, nil
			}
			if interrupted(err) {
				result.StopReason = StopInterrupted
				return result, nil
			}
			return result, err
		}

		turned, err := e.confirmTurn(ctx, key, prevSig)
		if err != nil {
			if interrupted(err) {
				result.StopReason = StopInterrupted
				return result, nil
			}
			return result, err
		}
		if turned {
			result.PagesTurned++
		}

		if err := e.captureCurrent(ctx, &result.Stats); err != nil {
			if interrupted(err) {
				result.StopReason = StopInterrupted
				return result, nil
			}
			return result, err
		}
		e.snapshotLedger(result.Stats)
	}
}

// confirmTurn waits for the content identity to change after a next click,
// retrying the click a bounded number of times. The footer value is the
// fallback confirmation when no signature is available.
func (e *Engine) confirmTurn(ctx context.Context, prevKey nav.Key, prevSig string) (bool, error) {
	p := e.currentPacing()
	deadline := time.Now().Add(p.turnTimeout)
	retries := 0
	nextRetry := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		sig, err := e.session.ContentSignature(ctx)
		if err != nil {
			return false, err
		}
		if prevSig != "" && sig != "" && sig != prevSig {
			return true, nil
		}

		if retries < p.turnRetries && time.Now().After(nextRetry) {
			if err := e.session.Advance(ctx); err == nil {
				retries++
				e.logger.Info("retrying next click", "attempt", retries, "max", p.turnRetries)
			} else if !errors.Is(err, reader.ErrEndOfBook) {
				return false, err
			}
			nextRetry = time.Now().Add(time.Second)
		}
		if err := e.sleep(ctx, 100*time.Millisecond); err != nil {
			return false, err
		}
	}

	key, err := e.session.Position(ctx)
	if err != nil && !errors.Is(err, reader.ErrPositionUnknown) {
		return false, err
	}
	if !key.Zero() && !prevKey.Zero() && key != prevKey {
		e.logger.Info("footer fallback confirmed page turn")
		return true, nil
	}
	e.logger.Warn("page content did not confirm change; continuing")
	return false, nil
}

// captureCurrent persists the view on screen under its canonical filename.
// An unknown position is skipped without counting as a failure.
func (e *Engine) captureCurrent(ctx context.Context, stats *ledger.Stats) error {
	key, err := e.session.Position(ctx)
	if err != nil && !errors.Is(err, reader.ErrPositionUnknown) {
		return err
	}
	if key.Zero() {
		e.logger.Info("skipping capture: position unknown")
		stats.SkippedUnknown++
		return nil
	}

	path := e.dir.PagePath(e.opts.BookID, key.Filename())
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if exists && !e.opts.Overwrite {
		e.logger.Info("skipping existing capture", "file", key.Filename())
		stats.SkippedExisting++
		return nil
	}

	img, err := e.session.Screenshot(ctx)
	if err != nil {
		return err
	}

	// Write through a temp file so an interrupted capture is never a
	// truncated image on disk.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img, 0o644); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to place capture: %w", err)
	}

	if exists {
		e.logger.Info("overwrote capture", "file", key.Filename())
		stats.Overwritten++
	} else {
		e.logger.Info("saved capture", "file", key.Filename())
		stats.New++
	}
	return nil
}

// snapshotLedger rewrites pages.json from the pages directory. Best effort:
// the directory remains the source of truth.
func (e *Engine) snapshotLedger(stats ledger.Stats) {
	_, err := ledger.Snapshot(
		e.opts.BookID,
		e.dir.PagesDir(e.opts.BookID),
		e.dir.LedgerPath(e.opts.BookID),
		stats,
	)
	if err != nil {
		e.logger.Warn("failed to write pages manifest", "error", err)
	}
}

func (e *Engine) restorePosition(ctx context.Context, startKey nav.Key) {
	if startKey.Zero() {
		return
	}
	if startKey.Kind != nav.KindPage {
		e.logger.Warn("start position uses location values; restore is unavailable")
		return
	}
	if err := e.session.JumpToPage(ctx, startKey.Current); err != nil {
		e.logger.Warn("could not restore start position", "page", startKey.Current, "error", err)
		return
	}
	e.logger.Info("restored start position", "page", startKey.Current)
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
