package mcp

import "github.com/mark3labs/mcp-go/mcp"

var treeToolDef = mcp.NewTool("workspace_tree",
	mcp.WithDescription("Return the whole workspace forest and the active file id."),
)

var searchToolDef = mcp.NewTool("workspace_search",
	mcp.WithDescription("Filter the workspace by a case-insensitive name query. Ancestors of matches are kept."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Substring to look for in node names")),
)

var statusToolDef = mcp.NewTool("workspace_status",
	mcp.WithDescription("Report the sync mode and the save indicator (saved, saving, error, synced-cloud, local-only)."),
)

var nodeAddToolDef = mcp.NewTool("node_add",
	mcp.WithDescription("Create a folder or file. New files become the active file."),
	mcp.WithString("type", mcp.Required(), mcp.Enum("folder", "file"), mcp.Description("Node type")),
	mcp.WithString("name", mcp.Required(), mcp.Description("Display name, must not be blank")),
	mcp.WithString("parent_id", mcp.Description("Folder to create the node in; omit for the root level")),
)

var nodeDeleteToolDef = mcp.NewTool("node_delete",
	mcp.WithDescription("Delete a node and everything below it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
)

var nodeRenameToolDef = mcp.NewTool("node_rename",
	mcp.WithDescription("Rename a node."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	mcp.WithString("name", mcp.Required(), mcp.Description("New name, must not be blank")),
)

var nodeMoveToolDef = mcp.NewTool("node_move",
	mcp.WithDescription("Move a node to the end of another folder, or to the root level."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	mcp.WithString("target_parent_id", mcp.Description("Destination folder; omit for the root level")),
)

var folderToggleToolDef = mcp.NewTool("folder_toggle",
	mcp.WithDescription("Open or close a folder."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Folder id")),
)

var fileSelectToolDef = mcp.NewTool("file_select",
	mcp.WithDescription("Make a file the active file. An empty id clears the selection."),
	mcp.WithString("id", mcp.Description("File id")),
)

var fileReadToolDef = mcp.NewTool("file_read",
	mcp.WithDescription("Read a file's content, links and prompts. Defaults to the active file."),
	mcp.WithString("id", mcp.Description("File id; omit for the active file")),
	mcp.WithBoolean("plain", mcp.Description("Also return the content as plain text")),
)

var fileWriteToolDef = mcp.NewTool("file_write",
	mcp.WithDescription("Replace a file's content. Defaults to the active file."),
	mcp.WithString("content", mcp.Required(), mcp.Description("New content (HTML, or markdown with markdown=true)")),
	mcp.WithString("id", mcp.Description("File id; omit for the active file")),
	mcp.WithBoolean("markdown", mcp.Description("Convert content from markdown to HTML first")),
)

var linkAddToolDef = mcp.NewTool("link_add",
	mcp.WithDescription("Add a link to the active file."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Link title")),
	mcp.WithString("url", mcp.Required(), mcp.Description("Link target")),
	mcp.WithString("description", mcp.Description("Optional description")),
)

var linkUpdateToolDef = mcp.NewTool("link_update",
	mcp.WithDescription("Change fields of a link on the active file. Omitted fields keep their value."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Link id")),
	mcp.WithString("title", mcp.Description("Link title")),
	mcp.WithString("url", mcp.Description("Link target")),
	mcp.WithString("description", mcp.Description("Description")),
)

var linkDeleteToolDef = mcp.NewTool("link_delete",
	mcp.WithDescription("Remove a link from the active file."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Link id")),
)

var promptAddToolDef = mcp.NewTool("prompt_add",
	mcp.WithDescription("Save a prompt on the active file."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Prompt title")),
	mcp.WithString("prompt_text", mcp.Required(), mcp.Description("Instruction sent to the model")),
	mcp.WithString("description", mcp.Description("Optional description")),
)

var promptUpdateToolDef = mcp.NewTool("prompt_update",
	mcp.WithDescription("Change fields of a prompt on the active file. Omitted fields keep their value."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Prompt id")),
	mcp.WithString("title", mcp.Description("Prompt title")),
	mcp.WithString("prompt_text", mcp.Description("Instruction sent to the model")),
	mcp.WithString("description", mcp.Description("Description")),
)

var promptDeleteToolDef = mcp.NewTool("prompt_delete",
	mcp.WithDescription("Remove a prompt from the active file."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Prompt id")),
)

var promptRunToolDef = mcp.NewTool("prompt_run",
	mcp.WithDescription("Run one of the active file's prompts with the file's text as context."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Prompt id")),
)
