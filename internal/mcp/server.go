package mcp

import (
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/workspace"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"document_create": {
		def:     documentCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentCreate },
	},
	"document_get": {
		def:     documentGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentGet },
	},
	"document_list": {
		def:     documentListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentList },
	},
	"document_update": {
		def:     documentUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentUpdate },
	},
	"document_delete": {
		def:     documentDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentDelete },
	},
	"selection_set": {
		def:     selectionSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSelectionSet },
	},
	"tool_run": {
		def:     toolRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleToolRun },
	},
	"template_list": {
		def:     templateListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTemplateList },
	},
	"generation_start": {
		def:     generationStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationStart },
	},
	"generation_draft": {
		def:     generationDraftToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationDraft },
	},
	"generation_advance": {
		def:     generationAdvanceToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationAdvance },
	},
	"generation_regenerate": {
		def:     generationRegenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationRegenerate },
	},
	"generation_skip": {
		def:     generationSkipToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationSkip },
	},
	"generation_resume": {
		def:     generationResumeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationResume },
	},
	"generation_status": {
		def:     generationStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationStatus },
	},
	"generation_mark_modified": {
		def:     generationMarkModifiedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationMarkModified },
	},
	"generation_abandon": {
		def:     generationAbandonToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGenerationAbandon },
	},
	"session_status": {
		def:     sessionStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionStatus },
	},
	"sync_reconcile": {
		def:     syncReconcileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncReconcile },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server exposing ws. Tools listed in
// cfg.DisabledTools are not registered.
func NewServer(ws *workspace.Workspace, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"inkwell",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(ws)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves ws over stdio until the client disconnects.
func Run(ws *workspace.Workspace, cfg *config.Config, version string) error {
	s := NewServer(ws, cfg, version)
	return server.ServeStdio(s)
}
