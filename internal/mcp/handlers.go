package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/template"
	"github.com/hpungsan/inkwell/internal/workspace"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	ws *workspace.Workspace
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ws *workspace.Workspace) *Handlers {
	return &Handlers{ws: ws}
}

// decode round-trips the request arguments through JSON into T. Tools
// called without arguments decode to T's zero value.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	args := req.GetArguments()
	if len(args) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("arguments: %w", err)
	}
	return out, nil
}

// Request types for each tool

// DocumentCreateRequest represents the arguments for document_create.
type DocumentCreateRequest struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// DocumentRequest identifies a document.
type DocumentRequest struct {
	ID string `json:"id,omitempty"`
}

// DocumentUpdateRequest represents the arguments for document_update.
type DocumentUpdateRequest struct {
	ID      string  `json:"id"`
	Content *string `json:"content"`
}

// SelectionSetRequest represents the arguments for selection_set.
type SelectionSetRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ToolRunRequest represents the arguments for tool_run.
type ToolRunRequest struct {
	ToolID string `json:"tool_id"`
}

// GenerationStartRequest represents the arguments for generation_start.
type GenerationStartRequest struct {
	TemplateID string `json:"template_id"`
}

// SectionRequest addresses one section of the active workflow.
type SectionRequest struct {
	SectionIndex *int              `json:"section_index"`
	FormData     map[string]string `json:"form_data,omitempty"`
}

// Responses

// DocumentResult is a document with where it was written.
type DocumentResult struct {
	Document *document.Document `json:"document"`
	Location string             `json:"location,omitempty"`
}

// DocumentSummary is a document without content.
type DocumentSummary struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Metadata  document.Metadata `json:"metadata"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DeleteResult reports a deletion.
type DeleteResult struct {
	ID       string `json:"id"`
	Deleted  bool   `json:"deleted"`
	Location string `json:"location"`
}

// CatalogResult lists templates and tools.
type CatalogResult struct {
	Templates []*template.Template `json:"templates"`
	Tools     []*template.Tool     `json:"tools"`
}

// Handler implementations

// HandleDocumentCreate handles the document_create tool call.
func (h *Handlers) HandleDocumentCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	d, res, err := h.ws.CreateDocument(ctx, input.Title, input.Content)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(DocumentResult{Document: d, Location: string(res.Location)})
}

// HandleDocumentGet handles the document_get tool call.
func (h *Handlers) HandleDocumentGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var d *document.Document
	if input.ID == "" {
		d, err = h.ws.ActiveDocument()
		if err == nil && d == nil {
			err = errors.NewNotFound("document", "active")
		}
	} else {
		d, err = h.ws.GetDocument(ctx, input.ID)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(DocumentResult{Document: d})
}

// HandleDocumentList handles the document_list tool call.
func (h *Handlers) HandleDocumentList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := h.ws.ListDocuments(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	items := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		items = append(items, DocumentSummary{ID: d.ID, Title: d.Title, Metadata: d.Metadata, UpdatedAt: d.UpdatedAt})
	}
	return successResult(map[string]any{"items": items})
}

// HandleDocumentUpdate handles the document_update tool call. The content
// is written immediately rather than after the autosave delay.
func (h *Handlers) HandleDocumentUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" || input.Content == nil {
		return errorResult(errors.NewInvalidRequest("id and content are required")), nil
	}

	if err := h.ws.UpdateDocumentContent(ctx, input.ID, *input.Content); err != nil {
		return errorResult(err), nil
	}
	if err := h.ws.Flush(ctx); err != nil {
		return errorResult(err), nil
	}
	d, err := h.ws.GetDocument(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"document":     d,
		"pending_sync": h.ws.Session().PendingSync(),
	})
}

// HandleDocumentDelete handles the document_delete tool call.
func (h *Handlers) HandleDocumentDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	res, err := h.ws.DeleteDocument(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(DeleteResult{ID: input.ID, Deleted: true, Location: string(res.Location)})
}

// HandleSelectionSet handles the selection_set tool call.
func (h *Handlers) HandleSelectionSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SelectionSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	sel, err := h.ws.SetSelection(input.From, input.To)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"selection": sel})
}

// HandleToolRun handles the tool_run tool call.
func (h *Handlers) HandleToolRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ToolRunRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	res, err := h.ws.RunTool(ctx, input.ToolID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleTemplateList handles the template_list tool call.
func (h *Handlers) HandleTemplateList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c := h.ws.Catalog()
	return successResult(CatalogResult{Templates: c.Templates, Tools: c.Tools})
}

// HandleGenerationStart handles the generation_start tool call.
func (h *Handlers) HandleGenerationStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GenerationStartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	p, err := h.ws.StartGeneration(ctx, input.TemplateID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"progress": p})
}

// HandleGenerationDraft handles the generation_draft tool call.
func (h *Handlers) HandleGenerationDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, idx, err := decodeSection(req)
	if err != nil {
		return errorResult(err), nil
	}

	p, err := h.ws.SaveDraft(ctx, idx, input.FormData)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"progress": p})
}

// HandleGenerationAdvance handles the generation_advance tool call.
func (h *Handlers) HandleGenerationAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, idx, err := decodeSection(req)
	if err != nil {
		return errorResult(err), nil
	}

	res, err := h.ws.AdvanceSection(ctx, idx, input.FormData)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleGenerationRegenerate handles the generation_regenerate tool call.
func (h *Handlers) HandleGenerationRegenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, idx, err := decodeSection(req)
	if err != nil {
		return errorResult(err), nil
	}

	res, err := h.ws.RegenerateSection(ctx, idx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleGenerationSkip handles the generation_skip tool call.
func (h *Handlers) HandleGenerationSkip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, idx, err := decodeSection(req)
	if err != nil {
		return errorResult(err), nil
	}

	p, err := h.ws.SkipSection(ctx, idx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"progress": p})
}

// HandleGenerationMarkModified handles the generation_mark_modified tool call.
func (h *Handlers) HandleGenerationMarkModified(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, idx, err := decodeSection(req)
	if err != nil {
		return errorResult(err), nil
	}

	p, err := h.ws.MarkSectionModified(ctx, idx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"progress": p})
}

// HandleGenerationAbandon handles the generation_abandon tool call.
func (h *Handlers) HandleGenerationAbandon(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := h.ws.AbandonGeneration(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"progress": p})
}

// HandleGenerationResume handles the generation_resume tool call.
func (h *Handlers) HandleGenerationResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SectionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.SectionIndex != nil {
		form, err := h.ws.NavigateSection(ctx, *input.SectionIndex)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(form)
	}
	form, err := h.ws.ResumeGeneration(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(form)
}

// HandleGenerationStatus handles the generation_status tool call.
func (h *Handlers) HandleGenerationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ov, err := h.ws.GenerationStatus(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(ov)
}

// HandleSessionStatus handles the session_status tool call.
func (h *Handlers) HandleSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.ws.Status(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(st)
}

// HandleSyncReconcile handles the sync_reconcile tool call.
func (h *Handlers) HandleSyncReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := h.ws.Reconcile(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(report)
}

func decodeSection(req mcp.CallToolRequest) (SectionRequest, int, error) {
	input, err := decode[SectionRequest](req)
	if err != nil {
		return input, 0, errors.NewInvalidRequest(err.Error())
	}
	if input.SectionIndex == nil {
		return input, 0, errors.NewInvalidRequest("section_index is required")
	}
	return input, *input.SectionIndex, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if inkErr, ok := errors.As(err); ok {
		message := inkErr.Message
		if err != error(inkErr) {
			// Keep the wrapping context.
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":      inkErr.Code,
			"message":   message,
			"status":    inkErr.Status,
			"retryable": errors.Retryable(inkErr),
		}
		if inkErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if inkErr.Details != nil {
			errorObj["details"] = inkErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
