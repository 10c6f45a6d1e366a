package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const forestSchemaURL = "https://folio.local/schema/forest.json"

const forestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {"$ref": "#/$defs/node"},
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "name", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "type": {"enum": ["folder", "file"]},
        "isOpen": {"type": "boolean"},
        "children": {"type": "array", "items": {"$ref": "#/$defs/node"}},
        "content": {"type": "string"},
        "links": {"type": "array", "items": {"$ref": "#/$defs/link"}},
        "prompts": {"type": "array", "items": {"$ref": "#/$defs/prompt"}}
      }
    },
    "link": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string"},
        "title": {"type": "string"},
        "url": {"type": "string"},
        "description": {"type": "string"}
      }
    },
    "prompt": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string"},
        "title": {"type": "string"},
        "description": {"type": "string"},
        "promptText": {"type": "string"}
      }
    }
  }
}`

var compiledForestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(forestSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(forestSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(forestSchemaURL)
})

// DecodeForest validates data against the forest schema, decodes it and
// checks the forest invariants. Any failure means the data is unusable.
func DecodeForest(data []byte) (Forest, error) {
	schema, err := compiledForestSchema()
	if err != nil {
		return nil, fmt.Errorf("compile forest schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse forest: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid forest: %w", err)
	}

	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	if f == nil {
		f = Forest{}
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeForest is the inverse of DecodeForest.
func EncodeForest(f Forest) ([]byte, error) {
	if f == nil {
		f = Forest{}
	}
	return json.Marshal(f)
}
