package web

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/workspace"
)

// Handlers contains HTTP route handlers for the viewer.
type Handlers struct {
	ws       *workspace.Workspace
	renderer *Renderer
	logger   *zap.Logger
}

// HandleReady handles GET /readyz. It answers 503 until hydration finishes.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	state := h.ws.Hydration().State()
	body := map[string]any{"state": state}
	if err := h.ws.Hydration().Err(); err != nil {
		body["error"] = err.Error()
	}
	if !state.Done() {
		renderJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	renderJSON(w, http.StatusOK, body)
}

// HandleSession handles GET /session: the session status as JSON.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.ws.Status(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

// HandleSync handles POST /sync: one reconcile pass.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.ws.Reconcile(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, report)
}

// HandleList handles GET /documents.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.ws.ListDocuments(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"items": docs})
		return
	}

	var activeID string
	if active, err := h.ws.ActiveDocument(); err == nil && active != nil {
		activeID = active.ID
	}
	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: h.renderer.page("Documents", "documents"),
		Items:    docs,
		ActiveID: activeID,
	})
}

// HandleDetail handles GET /documents/{id}: the document rendered as HTML,
// or the document itself as JSON.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("document ID is required"))
		return
	}

	d, err := h.ws.GetDocument(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, d)
		return
	}

	active, _ := h.ws.ActiveDocument()
	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:     h.renderer.page(displayTitle(d.Title), "documents"),
		Document:     d,
		RenderedHTML: h.renderer.renderMarkdown(d.Content),
		Active:       active != nil && active.ID == d.ID,
	})
}

// HandleDelete handles DELETE /documents/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("document ID is required"))
		return
	}

	res, err := h.ws.DeleteDocument(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/documents")
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"deleted":  true,
			"id":       id,
			"location": res.Location,
		})
		return
	}

	http.Redirect(w, r, "/documents", http.StatusFound)
}
