// Package remote talks to the shared document store that mirrors the
// workspace across sessions.
//
// The store holds named JSON documents. Writes merge at the top level: fields
// present in the write replace the stored ones and everything else is kept.
// Subscribers are told about every committed write, including their own.
package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hpungsan/folio/internal/tree"
)

var (
	// ErrDocumentNotFound is returned by Get when the document was never written.
	ErrDocumentNotFound = stderrors.New("remote document not found")
	// ErrNotAuthenticated is returned by reads and writes before Authenticate.
	ErrNotAuthenticated = stderrors.New("remote store: not authenticated")
)

// Origin tags a write with the session that made it. Version increases
// monotonically within a session.
type Origin struct {
	Session string `json:"session"`
	Version uint64 `json:"version"`
}

// Document is the shared workspace document.
type Document struct {
	Files       tree.Forest `json:"files"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Origin      *Origin     `json:"origin"`
}

// UpdateFunc receives every committed version of a subscribed document.
type UpdateFunc func(Document)

// ErrorFunc receives a terminal subscription failure. No further updates
// follow it.
type ErrorFunc func(error)

// Subscription is a live feed of document updates.
type Subscription interface {
	Unsubscribe()
}

// Store is a remote document store.
type Store interface {
	// Authenticate establishes the credential every read and write needs.
	// It is idempotent once it has succeeded.
	Authenticate(ctx context.Context) error
	Get(ctx context.Context, name string) (Document, error)
	// Merge overlays doc's top-level fields onto the stored document,
	// creating it if needed. The forest is always replaced wholesale.
	Merge(ctx context.Context, name string, doc Document) error
	Subscribe(ctx context.Context, name string, onUpdate UpdateFunc, onError ErrorFunc) (Subscription, error)
	Close() error
}

// EncodeDocument serializes doc with a non-nil forest.
func EncodeDocument(doc Document) ([]byte, error) {
	if doc.Files == nil {
		doc.Files = tree.Forest{}
	}
	return json.Marshal(doc)
}

// DecodeDocument parses a stored document and validates its forest. A
// document without a files field decodes to an empty forest.
func DecodeDocument(data []byte) (Document, error) {
	var raw struct {
		Files       json.RawMessage `json:"files"`
		LastUpdated time.Time       `json:"lastUpdated"`
		Origin      *Origin         `json:"origin"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc := Document{LastUpdated: raw.LastUpdated, Origin: raw.Origin, Files: tree.Forest{}}
	if len(raw.Files) > 0 && string(raw.Files) != "null" {
		files, err := tree.DecodeForest(raw.Files)
		if err != nil {
			return Document{}, err
		}
		doc.Files = files
	}
	return doc, nil
}

// MergeJSON overlays the top-level fields of patch onto base. Both must be
// JSON objects; a nil base is treated as empty.
func MergeJSON(base, patch []byte) ([]byte, error) {
	merged := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}
