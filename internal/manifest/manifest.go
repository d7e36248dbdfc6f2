// Package manifest answers whether an action is fully declared in a static
// manifest document. It is independent of the ledger.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusNotFound  Status = "NOT_FOUND"
)

const (
	documentSchemaURL = "https://canon.schemas.local/manifest.schema.json"
	actionSchemaURL   = "https://canon.schemas.local/manifest-action.schema.json"
)

const documentSchema = `{
  "type": "object",
  "required": ["actions"],
  "properties": {
    "actions": {"type": "object"}
  }
}`

// An action is declared when it carries all three keys. Their values are not
// interpreted.
const actionSchema = `{
  "type": "object",
  "required": ["intent", "trace", "liability"]
}`

var (
	compileOnce    sync.Once
	compiledDoc    *jsonschema.Schema
	compiledAction *jsonschema.Schema
	compileErr     error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledDoc, compileErr = compile(documentSchemaURL, documentSchema)
		if compileErr != nil {
			return
		}
		compiledAction, compileErr = compile(actionSchemaURL, actionSchema)
	})
	return compiledDoc, compiledAction, compileErr
}

func compile(url, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("manifest schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("manifest schema compile failed: %w", err)
	}
	return compiled, nil
}

type Manifest struct {
	actions map[string]any
}

func Load(path string) (*Manifest, error) {
	// #nosec G304 -- path is operator-provided manifest path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Manifest, error) {
	docSchema, _, err := schemas()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := docSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	actions, _ := doc.(map[string]any)["actions"].(map[string]any)
	return &Manifest{actions: actions}, nil
}

// Check reports CONFIRMED only when action exists and declares intent, trace
// and liability.
func (m *Manifest) Check(action string) Status {
	if m == nil {
		return StatusNotFound
	}
	entry, ok := m.actions[action]
	if !ok {
		return StatusNotFound
	}
	_, schema, err := schemas()
	if err != nil {
		return StatusNotFound
	}
	if err := schema.Validate(entry); err != nil {
		return StatusNotFound
	}
	return StatusConfirmed
}

// Len returns the number of actions listed, declared or not.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.actions)
}
