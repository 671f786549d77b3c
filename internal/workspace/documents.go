package workspace

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/gateway"
)

// CreateDocument saves a new document and makes it active.
func (w *Workspace) CreateDocument(ctx context.Context, title, content string) (*document.Document, gateway.Result, error) {
	if !w.hydration.IsHydrated() {
		return nil, gateway.Result{Location: gateway.LocationFailed}, errors.NewNotHydrated()
	}
	ctx = w.Context(ctx)
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if err := w.leaveActive(ctx); err != nil {
		return nil, gateway.Result{Location: gateway.LocationFailed}, err
	}

	d, err := document.New("", title, content, w.now())
	if err != nil {
		return nil, gateway.Result{Location: gateway.LocationFailed}, errors.NewInternal(err)
	}
	res, err := w.gw.SaveDocument(ctx, d)
	w.observe(res, err)
	if err != nil {
		return nil, res, err
	}

	if err := w.activate(ctx, d, nil); err != nil {
		return nil, res, err
	}
	w.logger.Info("document created", zap.String("document_id", d.ID), zap.String("location", string(res.Location)))
	return d, res, nil
}

// OpenDocument loads document id and makes it active. Unsaved changes of
// the previous document are written first.
func (w *Workspace) OpenDocument(ctx context.Context, id string) (*document.Document, error) {
	ctx = w.Context(ctx)
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if active, err := w.session.ActiveDocument(); err != nil {
		return nil, err
	} else if active != nil && active.ID == id {
		return w.withEditorContent(active), nil
	}

	d, err := w.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	p, _, err := w.gw.LoadProgress(ctx, id)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if err := w.leaveActive(ctx); err != nil {
		return nil, err
	}
	if err := w.activate(ctx, d, p); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDocument returns document id. The active document reflects unsaved
// editor content.
func (w *Workspace) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	active, err := w.session.ActiveDocument()
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID == id {
		return w.withEditorContent(active), nil
	}
	return w.loadDocument(w.Context(ctx), id)
}

// ActiveDocument returns the active document with unsaved editor content,
// or nil when there is none.
func (w *Workspace) ActiveDocument() (*document.Document, error) {
	active, err := w.session.ActiveDocument()
	if err != nil || active == nil {
		return nil, err
	}
	return w.withEditorContent(active), nil
}

// ListDocuments returns the locally cached documents, newest first.
func (w *Workspace) ListDocuments(ctx context.Context) ([]*document.Document, error) {
	if !w.hydration.IsHydrated() {
		return nil, errors.NewNotHydrated()
	}
	recs, err := w.gw.ListLocal(w.Context(ctx), document.CollectionDocuments)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(recs))
	for _, rec := range recs {
		var d document.Document
		if err := rec.Decode(&d); err != nil {
			w.logger.Warn("skipping unreadable document", zap.String("document_id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, &d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateDocumentContent replaces the content of document id through the
// editor, activating it first when needed. The write is debounced.
func (w *Workspace) UpdateDocumentContent(ctx context.Context, id, content string) error {
	active, err := w.session.ActiveDocument()
	if err != nil {
		return err
	}
	if active == nil || active.ID != id {
		if _, err := w.OpenDocument(ctx, id); err != nil {
			return err
		}
	}
	w.editor.SetContent(content)
	return nil
}

// DeleteDocument removes document id and its generation progress. Deleting
// the active document leaves no document active.
func (w *Workspace) DeleteDocument(ctx context.Context, id string) (gateway.Result, error) {
	ctx = w.Context(ctx)
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	active, err := w.session.ActiveDocument()
	if err != nil {
		return gateway.Result{Location: gateway.LocationFailed}, err
	}
	isActive := active != nil && active.ID == id
	if isActive {
		w.autosave.Discard()
	}

	res, err := w.gw.DeleteDocument(ctx, id)
	if err != nil {
		return res, err
	}
	if res.Location == gateway.LocationLocalFallback {
		w.session.SetPendingSync(true)
	}

	if isActive {
		if err := w.activate(ctx, nil, nil); err != nil {
			return res, err
		}
	}
	w.logger.Info("document deleted", zap.String("document_id", id), zap.String("location", string(res.Location)))
	return res, nil
}

// SetSelection selects [from, to) in the editor. The selection tracker
// captures it.
func (w *Workspace) SetSelection(from, to int) (*document.Selection, error) {
	if err := w.editor.Select(from, to); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return w.tracker.Current(), nil
}

func (w *Workspace) loadDocument(ctx context.Context, id string) (*document.Document, error) {
	d, res, err := w.gw.LoadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		w.logger.Warn("document unreadable", zap.String("document_id", id), zap.Bool("corrupt", res.Corrupt))
		return nil, errors.NewNotFound("document", id)
	}
	return d, nil
}

// leaveActive writes unsaved changes of the active document.
func (w *Workspace) leaveActive(ctx context.Context) error {
	err := w.autosave.Flush(ctx)
	if errors.Is(err, errors.ErrInvalidRequest) {
		// Edits made with no active document have nowhere to go.
		w.autosave.Discard()
		return nil
	}
	return err
}

// activate installs d as the active document, loads the editor and saves prefs.
func (w *Workspace) activate(ctx context.Context, d *document.Document, p *document.GenerationProgress) error {
	if err := w.session.SetActiveDocument(d, p); err != nil {
		return err
	}
	content := ""
	if d != nil {
		content = d.Content
	}
	w.loadEditor(content)
	return w.savePrefs(ctx)
}

func (w *Workspace) savePrefs(ctx context.Context) error {
	prefs, err := w.session.Prefs()
	if err != nil {
		return err
	}
	res, err := w.gw.SavePrefs(ctx, prefs)
	w.observe(res, err)
	if err != nil {
		w.logger.Warn("session prefs not saved", zap.Error(err))
	}
	return nil
}

func (w *Workspace) withEditorContent(d *document.Document) *document.Document {
	if content := w.editor.Content(); content != d.Content {
		d.SetContent(content, d.UpdatedAt)
	}
	return d
}
