package workspace

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/generation"
	"github.com/hpungsan/inkwell/internal/progress"
)

// ToolResult is the outcome of a rewrite tool. When Applied is false the
// output was not written into the document and Reason says why.
type ToolResult struct {
	ToolID    string              `json:"tool_id"`
	Output    string              `json:"output"`
	Applied   bool                `json:"applied"`
	Reason    string              `json:"reason,omitempty"`
	Selection *document.Selection `json:"selection"`
}

// RunTool rewrites the captured selection with tool toolID. A selection
// that went stale while the tool ran is not touched; the output is returned
// for manual insertion.
func (w *Workspace) RunTool(ctx context.Context, toolID string) (*ToolResult, error) {
	tool, err := w.catalog.Tool(toolID)
	if err != nil {
		return nil, err
	}
	sel := w.tracker.Current()
	if sel == nil {
		return nil, errors.NewInvalidRequest("select text before running a tool")
	}
	token, err := w.session.ActiveToken()
	if err != nil {
		return nil, err
	}
	if token.DocumentID == "" {
		return nil, errors.NewInvalidRequest("no active document")
	}
	if err := w.session.SetActiveTool(toolID); err == nil {
		_ = w.savePrefs(w.Context(ctx))
	}

	genCtx, cancel := context.WithTimeout(ctx, w.cfg.GenerationTimeout())
	defer cancel()
	output, err := w.gen.Generate(genCtx, generation.Request{
		Kind:   generation.KindTool,
		ToolID: tool.ID,
		Prompt: tool.Prompt,
		Input:  sel.Text,
	})
	if err != nil {
		w.logger.Warn("tool failed", zap.String("tool_id", toolID), zap.Error(err))
		return nil, err
	}

	res := &ToolResult{ToolID: tool.ID, Output: output, Selection: sel}
	if !w.session.IsCurrent(token) {
		res.Reason = "active document changed"
		return res, nil
	}
	if err := w.tracker.ReplaceSelection(sel, output); err != nil {
		if ink, ok := errors.As(err); ok && ink.Code == errors.ErrSelectionStale {
			res.Reason = ink.Message
			return res, nil
		}
		return nil, err
	}
	res.Applied = true
	return res, nil
}

// StartGeneration begins a template workflow for the active document.
func (w *Workspace) StartGeneration(ctx context.Context, templateID string) (*document.GenerationProgress, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Start(w.Context(ctx), id, templateID)
}

// SaveDraft stores form data for a section without generating.
func (w *Workspace) SaveDraft(ctx context.Context, idx int, formData map[string]string) (*document.GenerationProgress, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.SaveDraft(w.Context(ctx), id, idx, formData)
}

// AdvanceSection generates section idx and appends the output to the end
// of the document through the editor.
func (w *Workspace) AdvanceSection(ctx context.Context, idx int, formData map[string]string) (*progress.AdvanceResult, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	res, err := w.machine.Advance(w.Context(ctx), id, idx, formData)
	if err != nil {
		return nil, err
	}
	w.appendToEditor(res.Content)
	return res, nil
}

// RegenerateSection re-runs section idx from its stored form data. The
// document text is not changed; the caller decides where the new output goes.
func (w *Workspace) RegenerateSection(ctx context.Context, idx int) (*progress.AdvanceResult, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Regenerate(w.Context(ctx), id, idx)
}

// SkipSection marks section idx complete without generating.
func (w *Workspace) SkipSection(ctx context.Context, idx int) (*document.GenerationProgress, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Skip(w.Context(ctx), id, idx)
}

// ResumeGeneration restores the active document's current section form.
func (w *Workspace) ResumeGeneration(ctx context.Context) (*progress.Form, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Resume(w.Context(ctx), id)
}

// NavigateSection returns the form for section idx.
func (w *Workspace) NavigateSection(ctx context.Context, idx int) (*progress.Form, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Navigate(w.Context(ctx), id, idx)
}

// MarkSectionModified records a user edit of section idx's output.
func (w *Workspace) MarkSectionModified(ctx context.Context, idx int) (*document.GenerationProgress, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.MarkModified(w.Context(ctx), id, idx)
}

// AbandonGeneration ends the active document's workflow.
func (w *Workspace) AbandonGeneration(ctx context.Context) (*document.GenerationProgress, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Abandon(w.Context(ctx), id)
}

// GenerationStatus reports the active document's workflow.
func (w *Workspace) GenerationStatus(ctx context.Context) (*progress.Overview, error) {
	id, err := w.activeID()
	if err != nil {
		return nil, err
	}
	return w.machine.Status(w.Context(ctx), id)
}

func (w *Workspace) activeID() (string, error) {
	token, err := w.session.ActiveToken()
	if err != nil {
		return "", err
	}
	if token.DocumentID == "" {
		return "", errors.NewInvalidRequest("no active document")
	}
	return token.DocumentID, nil
}

func (w *Workspace) appendToEditor(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.TrimSpace(w.editor.Content()) != "" {
		text = "\n\n" + text
	}
	w.editor.Type(text)
}
