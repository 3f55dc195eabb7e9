package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
)

const (
	positionAttempts   = 8
	positionRetryWait  = 120 * time.Millisecond
	tocMaxScrollPasses = 160
	tocStagnantLimit   = 3
)

// ChromeConfig holds configuration for the Chrome-backed session.
type ChromeConfig struct {
	// ProfileDir is the persistent user-data dir that preserves the reader
	// login across runs.
	ProfileDir string
	// BaseURL is the reader entry point.
	BaseURL string
	// Headless runs without a window. Login flows need a window.
	Headless bool
	// SettleTimeout bounds individual UI waits.
	SettleTimeout time.Duration
	// LoginTimeout bounds the manual login wait on first run.
	LoginTimeout time.Duration
	Logger       *slog.Logger
}

// Chrome implements Session by driving a Chrome instance over CDP.
type Chrome struct {
	cfg    ChromeConfig
	logger *slog.Logger

	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	bookID string

	mu          sync.Mutex
	infoPayload json.RawMessage // startReading response
	metaPayload map[string]any  // YJmetadata payload
}

// NewChrome launches a browser with a persistent profile and returns an
// unopened session. Call Open to load a book.
func NewChrome(parent context.Context, cfg ChromeConfig) (*Chrome, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://read.amazon.com/"
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 8 * time.Second
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.WindowSize(1280, 900),
		chromedp.Flag("headless", cfg.Headless),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	c := &Chrome{
		cfg:         cfg,
		logger:      cfg.Logger,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// Start the browser now so a broken Chrome install fails fast.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return c, nil
}

// Open loads the book and waits for the reader to become interactive,
// including the manual login flow on first use.
func (c *Chrome) Open(ctx context.Context, bookID string) error {
	c.bookID = bookID
	c.listenForMetadata()

	target := c.cfg.BaseURL
	if !strings.Contains(target, "asin=") {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + "asin=" + url.QueryEscape(bookID)
	}

	if err := c.run(ctx, c.cfg.SettleTimeout*2, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("failed to open reader: %w", err)
	}

	if err := c.awaitLogin(ctx); err != nil {
		return err
	}

	// Wait for the next-page control so the reader is known interactive.
	deadline := time.Now().Add(30 * time.Second)
	for {
		var visible bool
		if err := c.eval(ctx, nextControlVisibleJS, &visible); err != nil {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		if visible {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: reader controls not visible", ErrSessionLost)
		}
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}

	if dismissed, _ := c.DismissAlert(ctx); dismissed {
		c.logger.Info("dismissed blocking alert")
	}
	var ok bool
	_ = c.eval(ctx, revealChromeJS, &ok)
	return nil
}

// awaitLogin blocks while the reader shows the sign-in flow.
func (c *Chrome) awaitLogin(ctx context.Context) error {
	var loc string
	if err := c.run(ctx, c.cfg.SettleTimeout, chromedp.Location(&loc)); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if !strings.Contains(loc, "signin") {
		return nil
	}

	c.logger.Info("login required; waiting for you to sign in in the browser window")
	deadline := time.Now().Add(c.cfg.LoginTimeout)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
		if err := c.run(ctx, c.cfg.SettleTimeout, chromedp.Location(&loc)); err != nil {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		if !strings.Contains(loc, "signin") {
			c.logger.Info("login detected")
			return nil
		}
	}
	return fmt.Errorf("%w: login not completed in time", ErrSessionLost)
}

// Position reads the footer navigation value, retrying briefly while the
// reader UI settles after a navigation.
func (c *Chrome) Position(ctx context.Context) (nav.Key, error) {
	for attempt := 0; attempt < positionAttempts; attempt++ {
		var text string
		if err := c.eval(ctx, footerTextJS, &text); err != nil {
			return nav.Key{}, fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		if key := nav.ParseFooter(text); !key.Zero() {
			return key, nil
		}
		if err := sleepCtx(ctx, positionRetryWait); err != nil {
			return nav.Key{}, err
		}
	}
	return nav.Key{}, ErrPositionUnknown
}

// Advance clicks the next-page control once.
func (c *Chrome) Advance(ctx context.Context) error {
	var clicked bool
	if err := c.eval(ctx, clickNextJS, &clicked); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if !clicked {
		return ErrEndOfBook
	}
	return nil
}

// ContentSignature returns the current content identity.
func (c *Chrome) ContentSignature(ctx context.Context) (string, error) {
	var sig string
	if err := c.eval(ctx, contentSignatureJS, &sig); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return sig, nil
}

// Screenshot captures the content region, falling back to the viewport.
func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var sel string
	if err := c.eval(ctx, contentRegionJS, &sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}

	var buf []byte
	if sel != "" {
		err := c.run(ctx, c.cfg.SettleTimeout, chromedp.Screenshot(sel, &buf, chromedp.ByQuery))
		if err == nil && len(buf) > 0 {
			return buf, nil
		}
		c.logger.Warn("content region capture failed; using viewport screenshot", "selector", sel)
	} else {
		c.logger.Warn("content region not found; using viewport screenshot")
	}

	if err := c.run(ctx, c.cfg.SettleTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("viewport screenshot failed: %w", err)
	}
	return buf, nil
}

// JumpToPage navigates to an explicit page number via the reader menu.
func (c *Chrome) JumpToPage(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: page %d", ErrJumpFailed, page)
	}

	var ok bool
	_ = c.eval(ctx, revealChromeJS, &ok)
	if err := c.clickTestID(ctx, testIDNavMenu); err != nil {
		return fmt.Errorf("%w: reader menu not available", ErrJumpFailed)
	}
	if err := sleepCtx(ctx, 600*time.Millisecond); err != nil {
		return err
	}

	if err := c.eval(ctx, goToPageMenuItemJS, &ok); err != nil || !ok {
		return fmt.Errorf("%w: go-to-page item not found", ErrJumpFailed)
	}
	if err := sleepCtx(ctx, 250*time.Millisecond); err != nil {
		return err
	}

	err := c.run(ctx, c.cfg.SettleTimeout,
		chromedp.SendKeys(selGoToPageInput, fmt.Sprintf("%d", page), chromedp.ByQuery),
		chromedp.Click(selGoToPageButton, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJumpFailed, err)
	}
	return sleepCtx(ctx, 900*time.Millisecond)
}

// GoToCover navigates to the cover entry of the table of contents.
func (c *Chrome) GoToCover(ctx context.Context) (bool, error) {
	if err := c.openTOC(ctx); err != nil {
		return false, err
	}
	defer c.closeTOC(ctx)

	clicked := false
	js := `(() => {
		const el = document.querySelector(` + "`" + selCoverButton + "`" + `);
		if (el) { el.click(); return true; }
		return false;
	})()`
	if err := c.eval(ctx, js, &clicked); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if clicked {
		if err := sleepCtx(ctx, time.Second); err != nil {
			return false, err
		}
	}
	return clicked, nil
}

type tocRow struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

type tocScroll struct {
	Moved    bool `json:"moved"`
	AtBottom bool `json:"atBottom"`
}

// TOCItems traverses the virtualized TOC list in reader order, clicking each
// entry to observe the navigation key it lands on.
func (c *Chrome) TOCItems(ctx context.Context) ([]TOCItem, error) {
	if err := c.openTOC(ctx); err != nil {
		return nil, err
	}
	defer c.closeTOC(ctx)

	var items []TOCItem
	seen := make(map[string]bool)
	stagnant := 0

	for pass := 0; pass < tocMaxScrollPasses; pass++ {
		var rows []tocRow
		if err := c.eval(ctx, tocVisibleItemsJS, &rows); err != nil {
			return items, fmt.Errorf("%w: %v", ErrSessionLost, err)
		}

		added := 0
		for _, row := range rows {
			if row.Key == "" || seen[row.Key] {
				continue
			}

			var clicked bool
			if err := c.eval(ctx, fmt.Sprintf(tocClickEntryJS, row.Key), &clicked); err != nil {
				return items, fmt.Errorf("%w: %v", ErrSessionLost, err)
			}
			if !clicked {
				continue
			}
			if err := sleepCtx(ctx, 180*time.Millisecond); err != nil {
				return items, err
			}

			key, err := c.Position(ctx)
			if err != nil && !isTransient(err) {
				return items, err
			}

			seen[row.Key] = true
			added++
			items = append(items, TOCItem{Title: row.Title, Key: key})
		}

		var scroll tocScroll
		if err := c.eval(ctx, tocScrollJS, &scroll); err != nil {
			return items, fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		if scroll.AtBottom && added == 0 {
			break
		}
		if !scroll.Moved {
			stagnant++
		} else {
			stagnant = 0
		}
		if stagnant >= tocStagnantLimit {
			break
		}
		if err := sleepCtx(ctx, 180*time.Millisecond); err != nil {
			return items, err
		}
	}

	return items, nil
}

// ApplySettings applies single-column layout and a stable font. Best effort:
// a partially applied result is reported, not fatal.
func (c *Chrome) ApplySettings(ctx context.Context) error {
	var ok bool
	_ = c.eval(ctx, revealChromeJS, &ok)
	if err := c.clickTestID(ctx, testIDSettings); err != nil {
		return fmt.Errorf("settings menu not available: %w", err)
	}
	if err := sleepCtx(ctx, 700*time.Millisecond); err != nil {
		return err
	}

	applied := false
	js := `(() => {
		const el = document.querySelector('` + selFontOption + `');
		if (el && el.offsetParent !== null) { el.click(); return true; }
		return false;
	})()`
	if err := c.eval(ctx, js, &ok); err == nil && ok {
		applied = true
	}
	if err := c.eval(ctx, singleColumnJS, &ok); err == nil && ok {
		applied = true
	}

	// Close the settings panel again.
	_ = c.eval(ctx, revealChromeJS, &ok)
	_ = c.clickTestID(ctx, testIDSettings)

	if !applied {
		return fmt.Errorf("no display settings could be applied")
	}
	return nil
}

// DismissAlert closes a blocking reader dialog if one is present.
func (c *Chrome) DismissAlert(ctx context.Context) (bool, error) {
	var dismissed bool
	if err := c.eval(ctx, dismissAlertJS, &dismissed); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if dismissed {
		if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
			return dismissed, err
		}
	}
	return dismissed, nil
}

// Metadata returns book metadata intercepted from the reader's network
// traffic while the book loaded, or nil when nothing was captured.
func (c *Chrome) Metadata() *metadata.Book {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.infoPayload == nil && c.metaPayload == nil {
		return nil
	}

	book := &metadata.Book{
		ID:         c.bookID,
		CapturedAt: time.Now().UTC(),
		Sources: metadata.Sources{
			StartReading: c.infoPayload != nil,
			YJMetadata:   c.metaPayload != nil,
		},
		Raw: c.infoPayload,
	}
	if c.metaPayload != nil {
		if id, ok := c.metaPayload["asin"].(string); ok && id != "" {
			book.ID = id
		}
		if title, ok := c.metaPayload["title"].(string); ok {
			book.Title = title
		}
		authors := c.metaPayload["authorsList"]
		if authors == nil {
			authors = c.metaPayload["authorList"]
		}
		book.Authors = metadata.NormalizeAuthors(authors)
	}
	return book
}

// Close releases the browser.
func (c *Chrome) Close() error {
	c.cancelTab()
	c.cancelAlloc()
	return nil
}

// listenForMetadata intercepts the reader's metadata responses. Interception
// is best effort; parse failures never affect the capture run.
func (c *Chrome) listenForMetadata() {
	target := strings.ToLower(c.bookID)

	chromedp.ListenTarget(c.ctx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil || resp.Response.Status != 200 {
			return
		}
		u, err := url.Parse(resp.Response.URL)
		if err != nil {
			return
		}

		switch {
		case u.Host == "read.amazon.com" && u.Path == "/service/mobile/reader/startReading":
			if q := u.Query().Get("asin"); q == "" || strings.ToLower(q) != target {
				return
			}
			go c.captureBody(resp.RequestID, false)
		case strings.HasSuffix(u.Path, "YJmetadata.jsonp"):
			go c.captureBody(resp.RequestID, true)
		}
	})
}

// captureBody fetches a response body off the event loop and stores it.
func (c *Chrome) captureBody(id network.RequestID, jsonp bool) {
	// Body is not always available the instant the response event fires.
	time.Sleep(200 * time.Millisecond)

	tc := chromedp.FromContext(c.ctx)
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(c.ctx, tc.Target))
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !jsonp {
		if json.Valid(body) {
			c.infoPayload = body
		}
		return
	}

	payload, err := parseJSONP(string(body))
	if err != nil {
		return
	}
	if id, ok := payload["asin"].(string); ok && id != "" && !strings.EqualFold(id, c.bookID) {
		return
	}
	c.metaPayload = payload
}

// parseJSONP extracts the JSON object from a JSONP response body.
func parseJSONP(body string) (map[string]any, error) {
	start := strings.Index(body, "(")
	end := strings.LastIndex(body, ")")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("invalid JSONP response")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(body[start+1:end]), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// openTOC opens the TOC side panel.
func (c *Chrome) openTOC(ctx context.Context) error {
	var open bool
	if err := c.eval(ctx, tocPanelOpenJS, &open); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if open {
		return nil
	}

	var ok bool
	_ = c.eval(ctx, revealChromeJS, &ok)
	if err := sleepCtx(ctx, 150*time.Millisecond); err != nil {
		return err
	}
	if err := c.clickTestID(ctx, testIDTOCButton); err != nil {
		return ErrTOCUnavailable
	}
	if err := sleepCtx(ctx, 600*time.Millisecond); err != nil {
		return err
	}

	if err := c.eval(ctx, tocPanelOpenJS, &open); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if !open {
		return ErrTOCUnavailable
	}
	return nil
}

// closeTOC closes the TOC side panel, falling back to Escape.
func (c *Chrome) closeTOC(ctx context.Context) {
	for attempt := 0; attempt < 2; attempt++ {
		var open bool
		if err := c.eval(ctx, tocPanelOpenJS, &open); err != nil || !open {
			return
		}

		var clicked bool
		js := `(() => {
			const el = document.querySelector('` + selSideMenuClose + `');
			if (el && el.offsetParent !== null) { el.click(); return true; }
			return false;
		})()`
		if err := c.eval(ctx, js, &clicked); err == nil && clicked {
			_ = sleepCtx(ctx, 250*time.Millisecond)
			continue
		}

		_ = c.run(ctx, c.cfg.SettleTimeout, chromedp.KeyEvent(kb.Escape))
		_ = sleepCtx(ctx, 200*time.Millisecond)
	}
}

func (c *Chrome) clickTestID(ctx context.Context, id string) error {
	var clicked bool
	if err := c.eval(ctx, fmt.Sprintf(clickTestIDJS, id), &clicked); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if !clicked {
		return fmt.Errorf("control %q not visible", id)
	}
	return nil
}

// eval runs a JS expression on the page and unmarshals the result.
func (c *Chrome) eval(ctx context.Context, js string, out any) error {
	return c.run(ctx, c.cfg.SettleTimeout, chromedp.Evaluate(js, out))
}

// run executes chromedp actions on the session tab, honoring both the
// caller's context and a per-action timeout.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// isTransient reports whether an error is a retryable reader condition.
func isTransient(err error) bool {
	return err == ErrPositionUnknown
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
