package web

import (
	"net/http"

	"github.com/hpungsan/folio/internal/content"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/session"
	"github.com/hpungsan/folio/internal/tree"
)

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	s *session.Session
}

type treeResponse struct {
	Files        tree.Forest `json:"files"`
	ActiveFileID string      `json:"active_file_id,omitempty"`
	Revision     uint64      `json:"revision"`
}

type mutationResponse struct {
	ID           string `json:"id,omitempty"`
	ActiveFileID string `json:"active_file_id,omitempty"`
	Revision     uint64 `json:"revision"`
}

type fileResponse struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Content string            `json:"content"`
	Text    string            `json:"text,omitempty"`
	Links   []tree.LinkItem   `json:"links"`
	Prompts []tree.PromptItem `json:"prompts"`
	Stats   content.Stats     `json:"stats"`
}

type addNodeBody struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type renameBody struct {
	Name string `json:"name"`
}

type moveBody struct {
	TargetParentID string `json:"target_parent_id"`
}

type activeBody struct {
	ID string `json:"id"`
}

type contentBody struct {
	Content  *string `json:"content"`
	Markdown bool    `json:"markdown"`
}

type linkBody struct {
	Title       *string `json:"title"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
}

type promptBody struct {
	Title       *string `json:"title"`
	PromptText  *string `json:"prompt_text"`
	Description *string `json:"description"`
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the sync status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.s.Status())
}

// HandleTree returns the whole workspace.
func (h *Handlers) HandleTree(w http.ResponseWriter, r *http.Request) {
	snap := h.s.Workspace.Snapshot()
	renderJSON(w, http.StatusOK, treeResponse{Files: snap.Files, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
}

// HandleSearch returns the tree filtered by the q parameter.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	snap := h.s.Workspace.Snapshot()
	renderJSON(w, http.StatusOK, treeResponse{
		Files:        tree.Filter(snap.Files, r.URL.Query().Get("q")),
		ActiveFileID: snap.ActiveFileID,
		Revision:     snap.Revision,
	})
}

// HandleAddNode creates a file or folder.
func (h *Handlers) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[addNodeBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	n, err := h.s.Workspace.AddNode(body.ParentID, tree.Kind(body.Type), body.Name)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, n)
}

// HandleRenameNode renames a node.
func (h *Handlers) HandleRenameNode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[renameBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.RenameNode(id, body.Name))
}

// HandleDeleteNode deletes a node and its subtree.
func (h *Handlers) HandleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.DeleteNode(id))
}

// HandleMoveNode reparents a node. An empty target moves it to the root.
func (h *Handlers) HandleMoveNode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[moveBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.MoveNode(id, body.TargetParentID))
}

// HandleToggleFolder flips a folder's open state.
func (h *Handlers) HandleToggleFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.ToggleFolder(id))
}

// HandleSetActive selects the active file.
func (h *Handlers) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[activeBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	if body.ID == "" {
		renderError(w, errors.NewInvalidRequest("id is required"))
		return
	}
	h.mutation(w, body.ID, h.s.Workspace.SetActive(body.ID))
}

// HandleGetFile returns a file's content and items. With plain=true the
// plain text rendering is included.
func (h *Handlers) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, ok := h.s.Workspace.Find(id)
	if !ok {
		renderError(w, errors.NewNotFound(id))
		return
	}
	if !n.IsFile() {
		renderError(w, errors.NewNotAFile(id))
		return
	}
	resp := fileResponse{
		ID:      n.ID,
		Name:    n.Name,
		Content: n.Content,
		Links:   n.Links,
		Prompts: n.Prompts,
		Stats:   content.Measure(n.Content),
	}
	if r.URL.Query().Get("plain") == "true" {
		resp.Text = content.PlainText(n.Content)
	}
	renderJSON(w, http.StatusOK, resp)
}

// HandlePutContent replaces a file's body, converting from markdown when
// requested.
func (h *Handlers) HandlePutContent(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[contentBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	if body.Content == nil {
		renderError(w, errors.NewInvalidRequest("content is required"))
		return
	}
	text := *body.Content
	if body.Markdown {
		text, err = content.FromMarkdown(text)
		if err != nil {
			renderError(w, errors.NewInvalidRequest(err.Error()))
			return
		}
	}
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.UpdateFileContent(id, text))
}

// HandleAddLink adds a link to the active file.
func (h *Handlers) HandleAddLink(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[linkBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	var link tree.LinkItem
	body.apply(&link)
	added, err := h.s.Workspace.AddLink(link)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, added)
}

// HandleUpdateLink updates fields of a link on the active file. Omitted
// fields keep their value.
func (h *Handlers) HandleUpdateLink(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[linkBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	active, ok := h.s.Workspace.ActiveNode()
	if !ok {
		renderError(w, errors.NewNoActiveFile())
		return
	}
	id := r.PathValue("id")
	var link tree.LinkItem
	found := false
	for _, l := range active.Links {
		if l.ID == id {
			link, found = l, true
			break
		}
	}
	if !found {
		renderError(w, errors.NewNotFound(id))
		return
	}
	body.apply(&link)
	if err := h.s.Workspace.UpdateLink(link); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, link)
}

// HandleDeleteLink removes a link from the active file.
func (h *Handlers) HandleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.DeleteLink(id))
}

// HandleAddPrompt adds a prompt to the active file.
func (h *Handlers) HandleAddPrompt(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[promptBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	var p tree.PromptItem
	body.apply(&p)
	added, err := h.s.Workspace.AddPrompt(p)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, added)
}

// HandleUpdatePrompt updates fields of a prompt on the active file.
func (h *Handlers) HandleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[promptBody](r)
	if err != nil {
		renderError(w, err)
		return
	}
	p, err := h.s.Workspace.FindPrompt(r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	body.apply(&p)
	if err := h.s.Workspace.UpdatePrompt(p); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, p)
}

// HandleDeletePrompt removes a prompt from the active file.
func (h *Handlers) HandleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mutation(w, id, h.s.Workspace.DeletePrompt(id))
}

// HandleRunPrompt executes a prompt against the active file.
func (h *Handlers) HandleRunPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := h.s.RunPrompt(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"id": id, "result": out})
}

func (h *Handlers) mutation(w http.ResponseWriter, id string, err error) {
	if err != nil {
		renderError(w, err)
		return
	}
	snap := h.s.Workspace.Snapshot()
	renderJSON(w, http.StatusOK, mutationResponse{ID: id, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
}

func (b linkBody) apply(l *tree.LinkItem) {
	if b.Title != nil {
		l.Title = *b.Title
	}
	if b.URL != nil {
		l.URL = *b.URL
	}
	if b.Description != nil {
		l.Description = *b.Description
	}
}

func (b promptBody) apply(p *tree.PromptItem) {
	if b.Title != nil {
		p.Title = *b.Title
	}
	if b.PromptText != nil {
		p.PromptText = *b.PromptText
	}
	if b.Description != nil {
		p.Description = *b.Description
	}
}
