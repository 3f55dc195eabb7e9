package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/ledger"
	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
	"github.com/jackzampolin/folio/internal/reader"
	"github.com/jackzampolin/folio/internal/toc"
)

// fakeSession simulates a reader on a small paged book.
type fakeSession struct {
	current int
	total   int

	tocItems  []reader.TOCItem
	jumps     []int
	onAdvance func()
}

func (f *fakeSession) Position(ctx context.Context) (nav.Key, error) {
	if err := ctx.Err(); err != nil {
		return nav.Key{}, err
	}
	return nav.Key{Kind: nav.KindPage, Current: f.current, Total: f.total}, nil
}

func (f *fakeSession) Advance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.current >= f.total {
		return reader.ErrEndOfBook
	}
	f.current++
	if f.onAdvance != nil {
		f.onAdvance()
	}
	return nil
}

func (f *fakeSession) ContentSignature(ctx context.Context) (string, error) {
	return fmt.Sprintf("sig-%d", f.current), nil
}

func (f *fakeSession) JumpToPage(ctx context.Context, page int) error {
	f.jumps = append(f.jumps, page)
	f.current = page
	return nil
}

func (f *fakeSession) GoToCover(ctx context.Context) (bool, error) {
	f.current = 1
	return true, nil
}

func (f *fakeSession) TOCItems(ctx context.Context) ([]reader.TOCItem, error) {
	if f.tocItems == nil {
		return nil, reader.ErrTOCUnavailable
	}
	return f.tocItems, nil
}

func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte(fmt.Sprintf("img-%d", f.current)), nil
}

func (f *fakeSession) ApplySettings(ctx context.Context) error { return nil }

func (f *fakeSession) DismissAlert(ctx context.Context) (bool, error) { return false, nil }

func (f *fakeSession) Metadata() *metadata.Book { return nil }

func (f *fakeSession) Close() error { return nil }

func testEngine(t *testing.T, session reader.Session, resolver *toc.Resolver, opts Options) (*Engine, *home.Dir) {
	t.Helper()
	dir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	if opts.TurnTimeout == 0 {
		opts.TurnTimeout = 50 * time.Millisecond
	}
	engine, err := New(session, resolver, dir, opts, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	engine.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return engine, dir
}

func testResolver(t *testing.T) *toc.Resolver {
	t.Helper()
	classifier, err := toc.NewClassifier(config.DefaultEndMatterPatterns, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	return toc.NewResolver(classifier, slog.Default())
}

func countPages(t *testing.T, dir *home.Dir, bookID string) int {
	t.Helper()
	entries, err := os.ReadDir(dir.PagesDir(bookID))
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestRunCapturesToEnd(t *testing.T) {
	session := &fakeSession{current: 1, total: 3}
	engine, dir := testEngine(t, session, nil, Options{BookID: "B000TEST"})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.StopReason != StopEndOfBook {
		t.Errorf("stop reason = %q, want %q", result.StopReason, StopEndOfBook)
	}
	if result.Stats.New != 3 {
		t.Errorf("new captures = %d, want 3", result.Stats.New)
	}
	if result.PagesTurned != 2 {
		t.Errorf("pages turned = %d, want 2", result.PagesTurned)
	}
	if got := countPages(t, dir, "B000TEST"); got != 3 {
		t.Errorf("pages on disk = %d, want 3", got)
	}

	m, err := ledger.Load(dir.LedgerPath("B000TEST"))
	if err != nil {
		t.Fatalf("ledger not written: %v", err)
	}
	if m.Summary.CaptureCount != 3 || m.Summary.New != 3 {
		t.Errorf("ledger summary = %+v", m.Summary)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	session := &fakeSession{current: 1, total: 3}
	engine, dir := testEngine(t, session, nil, Options{BookID: "B000TEST"})
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	session.current = 1
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Stats.New != 0 {
		t.Errorf("second run wrote %d new captures, want 0", result.Stats.New)
	}
	if result.Stats.SkippedExisting != 3 {
		t.Errorf("skipped existing = %d, want 3", result.Stats.SkippedExisting)
	}
	if got := countPages(t, dir, "B000TEST"); got != 3 {
		t.Errorf("pages on disk = %d, want 3", got)
	}
}

func TestOverwriteReplacesExisting(t *testing.T) {
	session := &fakeSession{current: 1, total: 2}
	engine, _ := testEngine(t, session, nil, Options{BookID: "B000TEST"})
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	session.current = 1
	engine.opts.Overwrite = true
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Overwritten != 2 {
		t.Errorf("overwritten = %d, want 2", result.Stats.Overwritten)
	}
}

func TestPageBudgetStops(t *testing.T) {
	session := &fakeSession{current: 1, total: 100}
	engine, dir := testEngine(t, session, nil, Options{BookID: "B000TEST", PageBudget: 2})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.StopReason != StopBudget {
		t.Errorf("stop reason = %q, want %q", result.StopReason, StopBudget)
	}
	if result.PagesTurned != 2 {
		t.Errorf("pages turned = %d, want 2", result.PagesTurned)
	}
	if got := countPages(t, dir, "B000TEST"); got != 3 {
		t.Errorf("pages on disk = %d, want 3 (start view plus two turns)", got)
	}
}

func TestBoundaryStopsBeforeEndMatter(t *testing.T) {
	session := &fakeSession{
		current: 1,
		total:   10,
		tocItems: []reader.TOCItem{
			{Title: "Cover", Key: nav.Key{Kind: nav.KindPage, Current: 1, Total: 10}},
			{Title: "Chapter One", Key: nav.Key{Kind: nav.KindPage, Current: 2, Total: 10}},
			{Title: "Acknowledgments", Key: nav.Key{Kind: nav.KindPage, Current: 10, Total: 10}},
		},
	}
	engine, dir := testEngine(t, session, testResolver(t), Options{
		BookID:     "B000TEST",
		RefreshTOC: true,
	})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.StopReason != StopBoundary {
		t.Fatalf("stop reason = %q, want %q", result.StopReason, StopBoundary)
	}
	// Boundary is page 9; capture holds pages up to and including 9.
	if got := countPages(t, dir, "B000TEST"); got != 9 {
		t.Errorf("pages on disk = %d, want 9", got)
	}
	if _, err := os.Stat(dir.TOCPath("B000TEST")); err != nil {
		t.Errorf("toc.json not persisted: %v", err)
	}
}

func TestIncludeEndMatterIgnoresBoundary(t *testing.T) {
	session := &fakeSession{
		current: 1,
		total:   5,
		tocItems: []reader.TOCItem{
			{Title: "Chapter One", Key: nav.Key{Kind: nav.KindPage, Current: 1, Total: 5}},
			{Title: "Acknowledgments", Key: nav.Key{Kind: nav.KindPage, Current: 5, Total: 5}},
		},
	}
	engine, dir := testEngine(t, session, testResolver(t), Options{
		BookID:           "B000TEST",
		RefreshTOC:       true,
		IncludeEndMatter: true,
	})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.StopReason != StopEndOfBook {
		t.Errorf("stop reason = %q, want %q", result.StopReason, StopEndOfBook)
	}
	if got := countPages(t, dir, "B000TEST"); got != 5 {
		t.Errorf("pages on disk = %d, want 5", got)
	}
}

func TestRestartAndRestorePosition(t *testing.T) {
	session := &fakeSession{current: 4, total: 5}
	engine, _ := testEngine(t, session, nil, Options{
		BookID:          "B000TEST",
		Restart:         true,
		RestorePosition: true,
	})

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(session.jumps) == 0 || session.jumps[len(session.jumps)-1] != 4 {
		t.Errorf("start position not restored; jumps = %v", session.jumps)
	}
	if session.current != 4 {
		t.Errorf("final position = %d, want 4", session.current)
	}
}

func TestInterruptRestoresAndFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{current: 2, total: 100}
	session.onAdvance = func() {
		if session.current >= 4 {
			cancel()
		}
	}
	engine, dir := testEngine(t, session, nil, Options{
		BookID:          "B000TEST",
		RestorePosition: true,
	})

	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error on interrupt: %v", err)
	}
	if result.StopReason != StopInterrupted {
		t.Errorf("stop reason = %q, want %q", result.StopReason, StopInterrupted)
	}
	if session.current != 2 {
		t.Errorf("position not restored after interrupt; at %d", session.current)
	}
	if _, err := ledger.Load(dir.LedgerPath("B000TEST")); err != nil {
		t.Errorf("ledger not flushed on interrupt: %v", err)
	}
}

func TestSetPacingTakesEffectMidRun(t *testing.T) {
	session := &fakeSession{current: 1, total: 4}
	engine, _ := testEngine(t, session, nil, Options{
		BookID:   "B000TEST",
		Interval: 5 * time.Millisecond,
	})

	var waits []time.Duration
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	// Simulates a config reload callback firing while the loop runs.
	session.onAdvance = func() {
		engine.SetPacing(9*time.Millisecond, 50*time.Millisecond, 1)
	}

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(waits) < 2 {
		t.Fatalf("recorded %d interval waits, want at least 2", len(waits))
	}
	if waits[0] != 5*time.Millisecond {
		t.Errorf("first interval = %v, want 5ms", waits[0])
	}
	if last := waits[len(waits)-1]; last != 9*time.Millisecond {
		t.Errorf("interval after pacing update = %v, want 9ms", last)
	}
}

func TestStartPageAndRestartAreExclusive(t *testing.T) {
	dir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(&fakeSession{}, nil, dir, Options{StartPage: 3, Restart: true}, slog.Default())
	if err == nil {
		t.Fatal("expected error for start page + restart")
	}
}
