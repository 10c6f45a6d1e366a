package workspace

import "github.com/hpungsan/folio/internal/tree"

// SeedForest builds the workspace shown on first run and returns it with the
// id of the file to select.
func SeedForest(newID func() string) (tree.Forest, string) {
	welcome := tree.NewFile(newID(), "Welcome")
	welcome.Content = "<h1>Welcome to Folio</h1>" +
		"<p>Folio keeps your notes in folders and files. Each file can also hold " +
		"links and reusable AI prompts.</p>" +
		"<p>Create a file, start writing, and your work is saved locally as you type.</p>"
	welcome.Links = []tree.LinkItem{{
		ID:          newID(),
		Title:       "Markdown guide",
		URL:         "https://commonmark.org/help/",
		Description: "Quick reference for the markdown import syntax.",
	}}
	welcome.Prompts = []tree.PromptItem{{
		ID:          newID(),
		Title:       "Summarize",
		Description: "Summarize the current file in a few bullet points.",
		PromptText:  "Summarize the following document in three to five bullet points.",
	}}

	started := tree.NewFolder(newID(), "Getting Started")
	started.Children = []tree.Node{welcome}

	ideas := tree.NewFile(newID(), "Ideas")
	ideas.Content = "<p>Jot down anything worth coming back to.</p>"
	ideas.Prompts = []tree.PromptItem{{
		ID:          newID(),
		Title:       "Expand",
		Description: "Turn rough notes into a short plan.",
		PromptText:  "Expand these rough notes into a short, ordered plan.",
	}}

	projects := tree.NewFolder(newID(), "Projects")
	projects.IsOpen = false
	projects.Children = []tree.Node{ideas}

	return tree.Forest{started, projects}, welcome.ID
}
