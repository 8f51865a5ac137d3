// Package workflow loads the description documents a monitored run starts from.
package workflow

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var documentSchema []byte

var ErrInvalidDocument = errors.New("invalid run document")

// Document is a workflow description with the profile binding its steps and
// the root input values to push.
type Document struct {
	Workflow *models.Workflow `json:"workflow"`
	Profile  *models.Profile  `json:"profile,omitempty"`
	Inputs   refs.Ports       `json:"inputs,omitempty"`
}

// SchemaError lists the schema violations of a document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "JSON schema validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidDocument
}

// IsSchemaError reports whether err carries schema violations.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError

	return errors.As(err, &schemaErr)
}

// Parse validates data against the document schema and decodes it.
func Parse(data []byte) (*Document, error) {
	schemaLoader := gojsonschema.NewBytesLoader(documentSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, violation := range result.Errors() {
			violations = append(violations, violation.String())
		}

		return nil, &SchemaError{Violations: violations}
	}

	var doc Document

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if doc.Profile == nil {
		doc.Profile = &models.Profile{}
	}

	return &doc, nil
}

func Load(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read run document: %w", err)
	}

	return Parse(data)
}

// ParseYAML converts a YAML document to JSON and parses it.
func ParseYAML(data []byte) (*Document, error) {
	var raw any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidDocument, err)
	}

	converted, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return Parse(converted)
}

// LoadFile reads a JSON document, or a YAML one for .yaml and .yml paths.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run document %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}
