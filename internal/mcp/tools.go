package mcp

import "github.com/mark3labs/mcp-go/mcp"

func sectionIndexOpt() mcp.ToolOption {
	return mcp.WithNumber("section_index",
		mcp.Required(),
		mcp.Description("Zero-based section position in the template"),
	)
}

func formDataOpt(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description("Section form values keyed by field id"),
		mcp.AdditionalProperties(map[string]any{"type": "string"}),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithObject("form_data", opts...)
}

var documentCreateToolDef = mcp.NewTool("document_create",
	mcp.WithDescription("Create a document and make it the active document."),
	mcp.WithString("title", mcp.Description("Document title")),
	mcp.WithString("content", mcp.Description("Initial markdown content")),
)

var documentGetToolDef = mcp.NewTool("document_get",
	mcp.WithDescription("Get a document by id, or the active document when id is omitted."),
	mcp.WithString("id", mcp.Description("Document id")),
)

var documentListToolDef = mcp.NewTool("document_list",
	mcp.WithDescription("List locally cached documents, newest first, without content."),
)

var documentUpdateToolDef = mcp.NewTool("document_update",
	mcp.WithDescription("Replace a document's content. The document becomes active."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithString("content", mcp.Required(), mcp.Description("New markdown content")),
)

var documentDeleteToolDef = mcp.NewTool("document_delete",
	mcp.WithDescription("Delete a document and its generation progress."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
)

var selectionSetToolDef = mcp.NewTool("selection_set",
	mcp.WithDescription("Select the character range [from, to) of the active document."),
	mcp.WithNumber("from", mcp.Required(), mcp.Description("Start offset in characters")),
	mcp.WithNumber("to", mcp.Required(), mcp.Description("End offset in characters (exclusive)")),
)

var toolRunToolDef = mcp.NewTool("tool_run",
	mcp.WithDescription("Rewrite the selected text with a tool. If the document changed meanwhile the output is returned unapplied."),
	mcp.WithString("tool_id", mcp.Required(), mcp.Description("Tool id, e.g. shorten")),
)

var templateListToolDef = mcp.NewTool("template_list",
	mcp.WithDescription("List generation templates and rewrite tools."),
)

var generationStartToolDef = mcp.NewTool("generation_start",
	mcp.WithDescription("Start a template-driven generation for the active document."),
	mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id, e.g. blog_post")),
)

var generationDraftToolDef = mcp.NewTool("generation_draft",
	mcp.WithDescription("Save form values for a section without generating."),
	sectionIndexOpt(),
	formDataOpt(true),
)

var generationAdvanceToolDef = mcp.NewTool("generation_advance",
	mcp.WithDescription("Generate a section from its form values, append it to the document and move to the next section."),
	sectionIndexOpt(),
	formDataOpt(true),
)

var generationRegenerateToolDef = mcp.NewTool("generation_regenerate",
	mcp.WithDescription("Generate a section again from its stored form values. Other sections are untouched."),
	sectionIndexOpt(),
)

var generationSkipToolDef = mcp.NewTool("generation_skip",
	mcp.WithDescription("Mark a section complete without generating and move on."),
	sectionIndexOpt(),
)

var generationMarkModifiedToolDef = mcp.NewTool("generation_mark_modified",
	mcp.WithDescription("Record that the user edited a generated section's output."),
	sectionIndexOpt(),
)

var generationAbandonToolDef = mcp.NewTool("generation_abandon",
	mcp.WithDescription("End the active document's generation workflow. Stored sections are kept."),
)

var generationResumeToolDef = mcp.NewTool("generation_resume",
	mcp.WithDescription("Return the current section form of the active document, pre-filled with stored values."),
	mcp.WithNumber("section_index", mcp.Description("Section to show instead of the current one")),
)

var generationStatusToolDef = mcp.NewTool("generation_status",
	mcp.WithDescription("Show every section's state for the active document."),
)

var sessionStatusToolDef = mcp.NewTool("session_status",
	mcp.WithDescription("Show hydration, active document, sync and storage state."),
)

var syncReconcileToolDef = mcp.NewTool("sync_reconcile",
	mcp.WithDescription("Check the remote store and push writes saved while offline."),
)
