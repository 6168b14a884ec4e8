// Package appconfig loads and validates the JSON document declaring the
// application's modules and backends.
package appconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/xeipuuv/gojsonschema"
)

// Document is the parsed application declaration.
type Document struct {
	Modules  []modules.Config `json:"modules"`
	Backends []backend.Config `json:"backends"`
}

// schema rejects malformed documents before any defaulting runs, so error
// messages point at the document rather than at downstream configuration.
const schema = `{
	"type": "object",
	"properties": {
		"modules": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"version": {"type": "string"},
					"scaling": {"enum": ["automatic", "manual", "basic"]},
					"instances": {"type": "integer", "minimum": 0},
					"maxConcurrentRequests": {"type": "integer", "minimum": 0}
				},
				"required": ["name"],
				"additionalProperties": false
			}
		},
		"backends": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"instances": {"type": "integer", "minimum": 0},
					"maxConcurrentRequests": {"type": "integer", "minimum": 0},
					"failFast": {"type": "boolean"},
					"maxPendingQueueSize": {"type": "integer", "minimum": 0}
				},
				"required": ["name"],
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

// Parse validates and decodes a declaration document.
func Parse(payload []byte) (*Document, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid app configuration: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("invalid app configuration: %s", strings.Join(details, "; "))
	}

	doc := &Document{}
	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("invalid app configuration: %w", err)
	}
	return doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read app configuration: %w", err)
	}
	return Parse(payload)
}
