package mcp

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/folio/internal/session"
)

// KnownTypes are the tool name prefixes accepted in disabled_types.
var KnownTypes = []string{"workspace", "node", "folder", "file", "link", "prompt"}

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry is keyed by tool name.
var toolRegistry = map[string]toolEntry{
	"workspace_tree": {
		def:     treeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTree },
	},
	"workspace_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"workspace_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"node_add": {
		def:     nodeAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNodeAdd },
	},
	"node_delete": {
		def:     nodeDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNodeDelete },
	},
	"node_rename": {
		def:     nodeRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNodeRename },
	},
	"node_move": {
		def:     nodeMoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNodeMove },
	},
	"folder_toggle": {
		def:     folderToggleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFolderToggle },
	},
	"file_select": {
		def:     fileSelectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileSelect },
	},
	"file_read": {
		def:     fileReadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileRead },
	},
	"file_write": {
		def:     fileWriteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileWrite },
	},
	"link_add": {
		def:     linkAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLinkAdd },
	},
	"link_update": {
		def:     linkUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLinkUpdate },
	},
	"link_delete": {
		def:     linkDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLinkDelete },
	},
	"prompt_add": {
		def:     promptAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptAdd },
	},
	"prompt_update": {
		def:     promptUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptUpdate },
	},
	"prompt_delete": {
		def:     promptDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptDelete },
	},
	"prompt_run": {
		def:     promptRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptRun },
	},
}

// AllToolNames returns every registered tool name in sorted order.
func AllToolNames() []string {
	return slices.Sorted(maps.Keys(toolRegistry))
}

// ValidateDisabledTools returns the names that match no tool.
func ValidateDisabledTools(names []string) []string {
	return unknownNames(names, func(name string) bool {
		_, ok := toolRegistry[name]
		return ok
	})
}

// ValidateDisabledTypes returns the names that are not in KnownTypes.
func ValidateDisabledTypes(names []string) []string {
	return unknownNames(names, func(name string) bool {
		return slices.Contains(KnownTypes, name)
	})
}

func unknownNames(names []string, known func(string) bool) []string {
	unknown := []string{}
	for _, name := range names {
		if !known(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the prefix of a "type_action" tool name, or "" when
// there is none.
func GetTypeForTool(toolName string) string {
	typ, _, ok := strings.Cut(toolName, "_")
	if !ok || typ == "" {
		return ""
	}
	return typ
}

// ExpandTypesToTools returns the sorted tool names whose type is in types.
func ExpandTypesToTools(types []string) []string {
	var tools []string
	for _, name := range AllToolNames() {
		if slices.Contains(types, GetTypeForTool(name)) {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer builds an MCP server exposing the session's workspace. Tools in
// DisabledTools, or of a type in DisabledTypes, are left out; unknown names in
// either list are logged and otherwise ignored.
func NewServer(s *session.Session, version string) *server.MCPServer {
	cfg := s.Config
	log := s.Log()
	if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.WithField("tools", unknown).Warn("ignoring unknown disabled_tools entries")
	}
	if unknown := ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.WithField("types", unknown).Warn("ignoring unknown disabled_types entries")
	}
	skip := append(ExpandTypesToTools(cfg.DisabledTypes), cfg.DisabledTools...)

	srv := server.NewMCPServer("folio", version, server.WithToolCapabilities(true))
	h := NewHandlers(s)
	for _, name := range AllToolNames() {
		if slices.Contains(skip, name) {
			continue
		}
		entry := toolRegistry[name]
		srv.AddTool(entry.def, entry.handler(h))
	}
	return srv
}

// Run serves the session over stdio until the client disconnects.
func Run(s *session.Session, version string) error {
	return server.ServeStdio(NewServer(s, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
