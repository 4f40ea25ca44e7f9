// Package apispec embeds the OpenAPI description of the stickyapp service
// and validates payloads against it.
package apispec

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Errors returned by the apispec package.
var (
	// ErrInvalidSpec is returned when the embedded document does not validate.
	ErrInvalidSpec = errors.New("apispec: invalid OpenAPI specification")
	// ErrUnknownOperation is returned for a method and path the API does not define.
	ErrUnknownOperation = errors.New("apispec: unknown operation")
	// ErrUnknownSchema is returned for a component schema the API does not define.
	ErrUnknownSchema = errors.New("apispec: unknown schema")
)

// Component schema names.
const (
	SchemaEnvelope         = "Envelope"
	SchemaServerEnvelope   = "ServerEnvelope"
	SchemaSessionList      = "SessionList"
	SchemaCommand          = "Command"
	SchemaReply            = "Reply"
	SchemaEncryptionParams = "EncryptionParams"
)

//go:embed stickyapp.yaml
var document []byte

// Raw returns the embedded YAML document.
func Raw() []byte {
	return document
}

// Endpoint is one operation of the API.
type Endpoint struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
}

// String renders the endpoint as "METHOD /path".
func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// Spec is a loaded and validated API description.
type Spec struct {
	doc *openapi3.T
}

// Load parses and validates the embedded document.
func Load(ctx context.Context) (*Spec, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return &Spec{doc: doc}, nil
}

// Title returns the API title.
func (s *Spec) Title() string {
	return s.doc.Info.Title
}

// Version returns the API version.
func (s *Spec) Version() string {
	return s.doc.Info.Version
}

// Endpoints returns every operation sorted by path then method.
func (s *Spec) Endpoints() []Endpoint {
	var endpoints []Endpoint
	for path, item := range s.doc.Paths.Map() {
		for method, op := range item.Operations() {
			endpoints = append(endpoints, Endpoint{
				Method:      strings.ToUpper(method),
				Path:        path,
				OperationID: op.OperationID,
				Summary:     op.Summary,
			})
		}
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})
	return endpoints
}

func (s *Spec) operation(method, path string) (*openapi3.Operation, error) {
	item := s.doc.Paths.Find(path)
	if item == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownOperation, method, path)
	}
	op := item.GetOperation(strings.ToUpper(method))
	if op == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownOperation, method, path)
	}
	return op, nil
}

// ValidateRequestBody checks a JSON request body against the operation at
// method and path. Path is the route template, e.g. "/sessions/{sid}".
func (s *Spec) ValidateRequestBody(method, path string, body []byte) error {
	op, err := s.operation(method, path)
	if err != nil {
		return err
	}
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	if err := media.Schema.Value.VisitJSON(value); err != nil {
		return fmt.Errorf("request body for %s %s: %w", strings.ToUpper(method), path, err)
	}
	return nil
}

// ValidateSchema checks a decoded JSON value against a component schema.
func (s *Spec) ValidateSchema(name string, value any) error {
	ref, ok := s.doc.Components.Schemas[name]
	if !ok || ref.Value == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// ValidateJSON decodes data and checks it against a component schema.
func (s *Spec) ValidateJSON(name string, data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return s.ValidateSchema(name, value)
}
