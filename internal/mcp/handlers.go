package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/folio/internal/content"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/session"
	"github.com/hpungsan/folio/internal/tree"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	s *session.Session
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(s *session.Session) *Handlers {
	return &Handlers{s: s}
}

// Request types for each tool

// SearchRequest represents the arguments for workspace_search.
type SearchRequest struct {
	Query string `json:"query"`
}

// NodeAddRequest represents the arguments for node_add.
type NodeAddRequest struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// IDRequest represents the arguments of tools that only take an id.
type IDRequest struct {
	ID string `json:"id"`
}

// NodeRenameRequest represents the arguments for node_rename.
type NodeRenameRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NodeMoveRequest represents the arguments for node_move.
type NodeMoveRequest struct {
	ID             string `json:"id"`
	TargetParentID string `json:"target_parent_id,omitempty"`
}

// FileReadRequest represents the arguments for file_read.
type FileReadRequest struct {
	ID    string `json:"id,omitempty"`
	Plain bool   `json:"plain,omitempty"`
}

// FileWriteRequest represents the arguments for file_write.
type FileWriteRequest struct {
	ID       string  `json:"id,omitempty"`
	Content  *string `json:"content"`
	Markdown bool    `json:"markdown,omitempty"`
}

// LinkRequest represents the arguments for link_add and link_update.
type LinkRequest struct {
	ID          string  `json:"id,omitempty"`
	Title       *string `json:"title,omitempty"`
	URL         *string `json:"url,omitempty"`
	Description *string `json:"description,omitempty"`
}

// PromptRequest represents the arguments for prompt_add and prompt_update.
type PromptRequest struct {
	ID          string  `json:"id,omitempty"`
	Title       *string `json:"title,omitempty"`
	PromptText  *string `json:"prompt_text,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Output types

// TreeOutput is the result of workspace_tree and workspace_search.
type TreeOutput struct {
	Files        tree.Forest `json:"files"`
	ActiveFileID string      `json:"active_file_id,omitempty"`
	Revision     uint64      `json:"revision"`
}

// NodeOutput describes a created node.
type NodeOutput struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     tree.Kind `json:"type"`
	ParentID string    `json:"parent_id,omitempty"`
	Active   bool      `json:"active"`
}

// MutationOutput acknowledges a mutation.
type MutationOutput struct {
	ID           string `json:"id,omitempty"`
	ActiveFileID string `json:"active_file_id,omitempty"`
	Revision     uint64 `json:"revision"`
}

// FileOutput is the result of file_read.
type FileOutput struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Content string            `json:"content"`
	Text    string            `json:"text,omitempty"`
	Links   []tree.LinkItem   `json:"links"`
	Prompts []tree.PromptItem `json:"prompts"`
	Stats   content.Stats     `json:"stats"`
}

// PromptRunOutput is the result of prompt_run.
type PromptRunOutput struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// Handler implementations

// HandleTree handles the workspace_tree tool call.
func (h *Handlers) HandleTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := h.s.Workspace.Snapshot()
	return successResult(TreeOutput{Files: snap.Files, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
}

// HandleSearch handles the workspace_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	snap := h.s.Workspace.Snapshot()
	return successResult(TreeOutput{
		Files:        tree.Filter(snap.Files, input.Query),
		ActiveFileID: snap.ActiveFileID,
		Revision:     snap.Revision,
	})
}

// HandleStatus handles the workspace_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.s.Status())
}

// HandleNodeAdd handles the node_add tool call.
func (h *Handlers) HandleNodeAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NodeAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	n, err := h.s.Workspace.AddNode(input.ParentID, tree.Kind(input.Type), input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(NodeOutput{
		ID:       n.ID,
		Name:     n.Name,
		Type:     n.Type,
		ParentID: input.ParentID,
		Active:   h.s.Workspace.Snapshot().ActiveFileID == n.ID,
	})
}

// HandleNodeDelete handles the node_delete tool call.
func (h *Handlers) HandleNodeDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.DeleteNode(input.ID))
}

// HandleNodeRename handles the node_rename tool call.
func (h *Handlers) HandleNodeRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NodeRenameRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.RenameNode(input.ID, input.Name))
}

// HandleNodeMove handles the node_move tool call.
func (h *Handlers) HandleNodeMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NodeMoveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.MoveNode(input.ID, input.TargetParentID))
}

// HandleFolderToggle handles the folder_toggle tool call.
func (h *Handlers) HandleFolderToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.ToggleFolder(input.ID))
}

// HandleFileSelect handles the file_select tool call.
func (h *Handlers) HandleFileSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.SetActive(input.ID))
}

// HandleFileRead handles the file_read tool call.
func (h *Handlers) HandleFileRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileReadRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	n, err := h.resolveFile(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	out := FileOutput{
		ID:      n.ID,
		Name:    n.Name,
		Content: n.Content,
		Links:   n.Links,
		Prompts: n.Prompts,
		Stats:   content.Measure(n.Content),
	}
	if input.Plain {
		out.Text = content.PlainText(n.Content)
	}
	return successResult(out)
}

// HandleFileWrite handles the file_write tool call.
func (h *Handlers) HandleFileWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileWriteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Content == nil {
		return errorResult(errors.NewInvalidRequest("content is required")), nil
	}

	n, err := h.resolveFile(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	body := *input.Content
	if input.Markdown {
		body, err = content.FromMarkdown(body)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}
	return h.mutation(n.ID, h.s.Workspace.UpdateFileContent(n.ID, body))
}

// HandleLinkAdd handles the link_add tool call.
func (h *Handlers) HandleLinkAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LinkRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var link tree.LinkItem
	applyLink(&link, input)
	added, err := h.s.Workspace.AddLink(link)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(added)
}

// HandleLinkUpdate handles the link_update tool call.
func (h *Handlers) HandleLinkUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LinkRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	active, ok := h.s.Workspace.ActiveNode()
	if !ok {
		return errorResult(errors.NewNoActiveFile()), nil
	}
	link, ok := findLink(active.Links, input.ID)
	if !ok {
		return errorResult(errors.NewNotFound(input.ID)), nil
	}
	applyLink(&link, input)
	if err := h.s.Workspace.UpdateLink(link); err != nil {
		return errorResult(err), nil
	}
	return successResult(link)
}

// HandleLinkDelete handles the link_delete tool call.
func (h *Handlers) HandleLinkDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.DeleteLink(input.ID))
}

// HandlePromptAdd handles the prompt_add tool call.
func (h *Handlers) HandlePromptAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var p tree.PromptItem
	applyPrompt(&p, input)
	added, err := h.s.Workspace.AddPrompt(p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(added)
}

// HandlePromptUpdate handles the prompt_update tool call.
func (h *Handlers) HandlePromptUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	p, err := h.s.Workspace.FindPrompt(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	applyPrompt(&p, input)
	if err := h.s.Workspace.UpdatePrompt(p); err != nil {
		return errorResult(err), nil
	}
	return successResult(p)
}

// HandlePromptDelete handles the prompt_delete tool call.
func (h *Handlers) HandlePromptDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return h.mutation(input.ID, h.s.Workspace.DeletePrompt(input.ID))
}

// HandlePromptRun handles the prompt_run tool call.
func (h *Handlers) HandlePromptRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := h.s.RunPrompt(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(PromptRunOutput{ID: input.ID, Result: out})
}

// mutation reports the outcome of a manager call.
func (h *Handlers) mutation(id string, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	snap := h.s.Workspace.Snapshot()
	return successResult(MutationOutput{ID: id, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
}

// resolveFile returns the file with id, or the active file when id is empty.
func (h *Handlers) resolveFile(id string) (tree.Node, error) {
	if id == "" {
		n, ok := h.s.Workspace.ActiveNode()
		if !ok {
			return tree.Node{}, errors.NewNoActiveFile()
		}
		return n, nil
	}
	n, ok := h.s.Workspace.Find(id)
	if !ok {
		return tree.Node{}, errors.NewNotFound(id)
	}
	if !n.IsFile() {
		return tree.Node{}, errors.NewNotAFile(id)
	}
	return n, nil
}

func applyLink(l *tree.LinkItem, in LinkRequest) {
	if in.Title != nil {
		l.Title = *in.Title
	}
	if in.URL != nil {
		l.URL = *in.URL
	}
	if in.Description != nil {
		l.Description = *in.Description
	}
}

func applyPrompt(p *tree.PromptItem, in PromptRequest) {
	if in.Title != nil {
		p.Title = *in.Title
	}
	if in.PromptText != nil {
		p.PromptText = *in.PromptText
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
}

func findLink(links []tree.LinkItem, id string) (tree.LinkItem, bool) {
	for _, l := range links {
		if l.ID == id {
			return l, true
		}
	}
	return tree.LinkItem{}, false
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var fErr *errors.FolioError
	if stderrors.As(err, &fErr) {
		message := fErr.Message
		if err != error(fErr) {
			// keep wrapper context
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    fErr.Code,
			"message": message,
			"status":  fErr.Status,
		}
		if fErr.Code != errors.ErrInternal && fErr.Details != nil {
			errorObj["details"] = fErr.Details
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
