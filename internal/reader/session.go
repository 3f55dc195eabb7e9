// Package reader defines the capability interface over a live reader
// session, plus the Chrome-backed implementation.
//
// The capture engine and TOC resolver depend only on the Session interface,
// so they can be tested against fakes without a browser.
package reader

import (
	"context"
	"errors"

	"github.com/jackzampolin/folio/internal/metadata"
	"github.com/jackzampolin/folio/internal/nav"
)

var (
	// ErrPositionUnknown means the reader footer has not settled into a
	// parseable navigation value. Transient; callers retry after a delay.
	ErrPositionUnknown = errors.New("reader: position not settled")

	// ErrEndOfBook means no next-page control is available.
	ErrEndOfBook = errors.New("reader: no further advance possible")

	// ErrTOCUnavailable means the table of contents panel could not be
	// opened or read. TOC is an optimization; callers degrade, not abort.
	ErrTOCUnavailable = errors.New("reader: table of contents unavailable")

	// ErrJumpFailed means an explicit page jump did not complete.
	ErrJumpFailed = errors.New("reader: page jump failed")

	// ErrSessionLost means the underlying browser session died. This is the
	// one unrecoverable failure class.
	ErrSessionLost = errors.New("reader: session lost")
)

// TOCItem is a raw table-of-contents entry observed during traversal:
// the entry title and the navigation key the reader landed on after
// following it.
type TOCItem struct {
	Title string
	Key   nav.Key
}

// Session is the capability surface the pipeline needs from a reader.
type Session interface {
	// Position reads the current navigation key from the reader footer.
	// Returns ErrPositionUnknown while the UI has not settled.
	Position(ctx context.Context) (nav.Key, error)

	// Advance turns one page forward. Returns ErrEndOfBook when no
	// next-page control exists.
	Advance(ctx context.Context) error

	// ContentSignature returns an identity for the currently rendered
	// content, used to confirm that a page turn actually happened.
	// Empty string when no signature is available.
	ContentSignature(ctx context.Context) (string, error)

	// JumpToPage navigates to an explicit page number via the reader menu.
	JumpToPage(ctx context.Context, page int) error

	// GoToCover navigates to the cover entry of the table of contents.
	// Returns false when no cover entry exists.
	GoToCover(ctx context.Context) (bool, error)

	// TOCItems traverses the table of contents in reader order.
	TOCItems(ctx context.Context) ([]TOCItem, error)

	// Screenshot captures the content region, falling back to the full
	// viewport when the content region is not locatable.
	Screenshot(ctx context.Context) ([]byte, error)

	// ApplySettings applies stable display settings (single column, fixed
	// font) for capture consistency. Best effort.
	ApplySettings(ctx context.Context) error

	// DismissAlert closes a blocking reader dialog if one is present.
	DismissAlert(ctx context.Context) (bool, error)

	// Metadata returns book metadata observed on the wire while the book
	// loaded, or nil when none was captured.
	Metadata() *metadata.Book

	// Close releases the session.
	Close() error
}
