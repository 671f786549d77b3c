// Package selection tracks the editor's live selection and performs
// range-scoped replacement against a previously captured selection.
package selection

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/editor"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/logging"
)

// Publisher receives every captured selection.
type Publisher interface {
	SetSelection(sel *document.Selection)
}

// Tracker captures selection changes from an editor.
type Tracker struct {
	editor    editor.Component
	publisher Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	current *document.Selection
}

// New creates a tracker and subscribes it to ed's selection changes.
// publisher may be nil.
func New(ed editor.Component, publisher Publisher, logger *zap.Logger) *Tracker {
	t := &Tracker{
		editor:    ed,
		publisher: publisher,
		logger:    logging.OrNop(logger).Named("selection"),
	}
	ed.OnSelectionChange(t.HandleSelectionChange)
	return t
}

// HandleSelectionChange captures {text, range}, or nil when the selection
// is collapsed, and publishes it.
func (t *Tracker) HandleSelectionChange(text string, from, to int) {
	var sel *document.Selection
	if to > from {
		sel = &document.Selection{
			Text:          text,
			Range:         document.Range{From: from, To: to},
			ContentLength: t.editor.Len(),
		}
	}

	t.mu.Lock()
	t.current = sel
	t.mu.Unlock()

	if t.publisher != nil {
		t.publisher.SetSelection(sel)
	}
}

// Current returns a copy of the last captured selection, or nil.
func (t *Tracker) Current() *document.Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	sel := *t.current
	return &sel
}

// Validate reports SELECTION_STALE unless sel still spans the same text of
// the same-length content.
func (t *Tracker) Validate(sel *document.Selection) error {
	if sel == nil || sel.Range.Empty() {
		return errors.NewInvalidRequest("selection is empty")
	}

	content := []rune(t.editor.Content())
	from, to := sel.Range.From, sel.Range.To

	if from < 0 || to > len(content) {
		return errors.NewSelectionStale(from, to, "range out of bounds")
	}
	if len(content) != sel.ContentLength {
		return errors.NewSelectionStale(from, to, "content length changed")
	}
	if string(content[from:to]) != sel.Text {
		return errors.NewSelectionStale(from, to, "selected text changed")
	}
	return nil
}

// ReplaceSelection replaces the captured range with newContent through the
// editor's selection model. A stale selection is refused with
// SELECTION_STALE and the content is left untouched.
func (t *Tracker) ReplaceSelection(sel *document.Selection, newContent string) error {
	if err := t.Validate(sel); err != nil {
		if errors.Is(err, errors.ErrSelectionStale) {
			t.logger.Info("stale selection; result not applied",
				zap.Int("from", sel.Range.From),
				zap.Int("to", sel.Range.To),
				zap.Error(err),
			)
		}
		return err
	}

	if err := t.editor.Select(sel.Range.From, sel.Range.To); err != nil {
		return errors.NewSelectionStale(sel.Range.From, sel.Range.To, err.Error())
	}
	t.editor.DeleteSelection()
	t.editor.InsertText(newContent)
	return nil
}
