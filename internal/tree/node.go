// Package tree implements the workspace forest and the pure functions that
// transform it. Nothing in this package performs I/O or mutates its inputs.
package tree

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the Node tagged union.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	return k == KindFolder || k == KindFile
}

// LinkItem is a bookmark owned by exactly one file node.
type LinkItem struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description" yaml:"description"`
}

// PromptItem is a saved AI prompt owned by exactly one file node.
type PromptItem struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	PromptText  string `json:"promptText" yaml:"promptText"`
}

// Node is a folder or a file. Folder nodes only use IsOpen and Children;
// file nodes only use Content, Links and Prompts. Marshalling enforces this.
type Node struct {
	ID   string
	Name string
	Type Kind

	// folder variant
	IsOpen   bool
	Children []Node

	// file variant
	Content string
	Links   []LinkItem
	Prompts []PromptItem
}

// Forest is the ordered list of root-level nodes.
type Forest []Node

// NewFolder returns an open, empty folder.
func NewFolder(id, name string) Node {
	return Node{ID: id, Name: name, Type: KindFolder, IsOpen: true, Children: []Node{}}
}

// NewFile returns an empty file.
func NewFile(id, name string) Node {
	return Node{ID: id, Name: name, Type: KindFile, Links: []LinkItem{}, Prompts: []PromptItem{}}
}

// IsFolder reports whether n is a folder.
func (n Node) IsFolder() bool { return n.Type == KindFolder }

// IsFile reports whether n is a file.
func (n Node) IsFile() bool { return n.Type == KindFile }

// normalized strips the fields that do not belong to the node's variant and
// replaces nil collections with empty ones, recursively.
func (n Node) normalized() Node {
	switch n.Type {
	case KindFolder:
		children := make([]Node, len(n.Children))
		for i, c := range n.Children {
			children[i] = c.normalized()
		}
		return Node{ID: n.ID, Name: n.Name, Type: KindFolder, IsOpen: n.IsOpen, Children: children}
	default:
		links := make([]LinkItem, len(n.Links))
		copy(links, n.Links)
		prompts := make([]PromptItem, len(n.Prompts))
		copy(prompts, n.Prompts)
		return Node{ID: n.ID, Name: n.Name, Type: n.Type, Content: n.Content, Links: links, Prompts: prompts}
	}
}

type folderWire struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     Kind   `json:"type" yaml:"type"`
	IsOpen   bool   `json:"isOpen" yaml:"isOpen"`
	Children []Node `json:"children" yaml:"children"`
}

type fileWire struct {
	ID      string       `json:"id" yaml:"id"`
	Name    string       `json:"name" yaml:"name"`
	Type    Kind         `json:"type" yaml:"type"`
	Content string       `json:"content" yaml:"content"`
	Links   []LinkItem   `json:"links" yaml:"links"`
	Prompts []PromptItem `json:"prompts" yaml:"prompts"`
}

// anyWire accepts every field so decoding can tolerate documents written by
// older clients that attached the wrong variant's fields.
type anyWire struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name" yaml:"name"`
	Type     Kind         `json:"type" yaml:"type"`
	IsOpen   bool         `json:"isOpen" yaml:"isOpen"`
	Children []Node       `json:"children" yaml:"children"`
	Content  string       `json:"content" yaml:"content"`
	Links    []LinkItem   `json:"links" yaml:"links"`
	Prompts  []PromptItem `json:"prompts" yaml:"prompts"`
}

func (n Node) wire() any {
	n = n.normalized()
	if n.IsFolder() {
		return folderWire{ID: n.ID, Name: n.Name, Type: n.Type, IsOpen: n.IsOpen, Children: n.Children}
	}
	return fileWire{ID: n.ID, Name: n.Name, Type: n.Type, Content: n.Content, Links: n.Links, Prompts: n.Prompts}
}

func (w anyWire) node() (Node, error) {
	if !w.Type.Valid() {
		return Node{}, fmt.Errorf("node %q: unknown type %q", w.ID, w.Type)
	}
	n := Node{
		ID:       w.ID,
		Name:     w.Name,
		Type:     w.Type,
		IsOpen:   w.IsOpen,
		Children: w.Children,
		Content:  w.Content,
		Links:    w.Links,
		Prompts:  w.Prompts,
	}
	return n.normalized(), nil
}

// MarshalJSON writes only the fields of the node's variant.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.wire())
}

// UnmarshalJSON reads a node and drops fields of the other variant.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w anyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.node()
	if err != nil {
		return err
	}
	*n = decoded
	return nil
}

// MarshalYAML mirrors the JSON wire format.
func (n Node) MarshalYAML() (any, error) {
	return n.wire(), nil
}

// UnmarshalYAML mirrors UnmarshalJSON.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var w anyWire
	if err := value.Decode(&w); err != nil {
		return err
	}
	decoded, err := w.node()
	if err != nil {
		return err
	}
	*n = decoded
	return nil
}
