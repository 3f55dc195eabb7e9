package toc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackzampolin/folio/internal/reader"
)

// Resolver produces a classified TOC document for a book, preferring a
// previously persisted one over a fresh traversal.
type Resolver struct {
	classifier *Classifier
	logger     *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(classifier *Classifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{classifier: classifier, logger: logger}
}

// Resolve returns the TOC document for a book. Unless refresh is set, a
// usable persisted document at path is reused as-is. When traversal fails
// because the TOC panel is unavailable, Resolve degrades to (nil, nil): the
// capture run proceeds without a boundary or headings.
func (r *Resolver) Resolve(ctx context.Context, session reader.Session, bookID, path string, refresh, includeEndMatter bool) (*Document, error) {
	if !refresh {
		doc, err := Load(path)
		if err == nil {
			// Classification policy may have changed since the file was
			// written, so reclassify the loaded entries.
			raw := make([]RawEntry, 0, len(doc.Entries))
			for _, entry := range doc.Entries {
				raw = append(raw, RawEntry{Title: entry.Title, Key: entry.Key})
			}
			rebuilt := Build(bookID, raw, includeEndMatter, r.classifier)
			rebuilt.CapturedAt = doc.CapturedAt
			r.logger.Info("using persisted table of contents",
				"path", path,
				"entries", rebuilt.Summary.EntryCount,
				"end_matter", rebuilt.Summary.EndMatterCount)
			return rebuilt, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("persisted toc unusable; re-extracting", "path", path, "error", err)
		}
	}

	if session == nil {
		return nil, fmt.Errorf("no usable toc at %s and no reader session to traverse", path)
	}

	items, err := session.TOCItems(ctx)
	if err != nil {
		if errors.Is(err, reader.ErrTOCUnavailable) {
			r.logger.Warn("table of contents unavailable; continuing without boundary or headings")
			return nil, nil
		}
		return nil, fmt.Errorf("toc traversal failed: %w", err)
	}

	raw := make([]RawEntry, 0, len(items))
	for _, item := range items {
		if item.Title == "" || item.Key.Zero() {
			continue
		}
		raw = append(raw, RawEntry{Title: item.Title, Key: item.Key})
	}
	if len(raw) == 0 {
		r.logger.Warn("toc traversal produced no entries with navigation keys")
		return nil, nil
	}

	doc := Build(bookID, raw, includeEndMatter, r.classifier)
	if err := Save(path, doc); err != nil {
		r.logger.Warn("failed to persist toc", "path", path, "error", err)
	} else {
		r.logger.Info("extracted table of contents",
			"entries", doc.Summary.EntryCount,
			"end_matter", doc.Summary.EndMatterCount)
	}
	return doc, nil
}
