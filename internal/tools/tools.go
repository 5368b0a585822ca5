// Package tools exposes the query engine to agents as a fixed catalogue of
// named operations, each with its own JSON Schema.
//
// Arguments are checked against the tool's schema, then semantically, before
// the engine touches the store. Every call yields a Response whose status
// separates a failed call from an empty or truncated result.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/runlog/internal/query"
	"github.com/roach88/runlog/internal/store"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error codes.
const (
	CodeUnknownTool   = "unknown_tool"
	CodeInvalidParams = "invalid_params"
	CodeTimeout       = "timeout"
	CodeNotFound      = "not_found"
	CodeNotQueryable  = "not_queryable"
	CodeInternal      = "internal"
)

// Response is the outcome of one tool call.
type Response struct {
	Tool   string     `json:"tool"`
	Status string     `json:"status"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed call. Field names the offending parameter for
// invalid_params.
type ErrorInfo struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Definition is the published description of one tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type handler func(ctx context.Context, e *query.Engine, args json.RawMessage) (any, error)

type tool struct {
	def    Definition
	schema *jsonschema.Schema
	call   handler
}

// Surface dispatches tool calls to a query engine.
type Surface struct {
	engine      *query.Engine
	logger      *slog.Logger
	maxPageSize int
	tools       map[string]*tool
	order       []string
}

// Option configures a Surface.
type Option func(*Surface)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Surface) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxPageSize sets the page_size maximum published in the schemas. It
// should match the engine's own limit.
func WithMaxPageSize(n int) Option {
	return func(s *Surface) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

// New compiles the tool catalogue for engine.
func New(engine *query.Engine, opts ...Option) (*Surface, error) {
	s := &Surface{
		engine:      engine,
		logger:      slog.Default(),
		maxPageSize: query.DefaultMaxPageSize,
		tools:       make(map[string]*tool),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, spec := range catalogue(s.maxPageSize) {
		raw, err := json.Marshal(spec.schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema %s: %w", spec.name, err)
		}
		compiled, err := compileSchema(spec.name, raw)
		if err != nil {
			return nil, err
		}
		s.tools[spec.name] = &tool{
			def:    Definition{Name: spec.name, Description: spec.description, InputSchema: raw},
			schema: compiled,
			call:   spec.call,
		}
		s.order = append(s.order, spec.name)
	}
	return s, nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	url := name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return compiled, nil
}

// Definitions returns the catalogue in publication order.
func (s *Surface) Definitions() []Definition {
	defs := make([]Definition, len(s.order))
	for i, name := range s.order {
		defs[i] = s.tools[name].def
	}
	return defs
}

// Call validates args against the named tool's schema and runs it.
// Empty args are treated as an empty object.
func (s *Surface) Call(ctx context.Context, name string, args json.RawMessage) Response {
	start := time.Now()
	resp := s.call(ctx, name, args)
	s.logger.Debug("tool call", "tool", name, "status", resp.Status, "elapsed", time.Since(start))
	return resp
}

func (s *Surface) call(ctx context.Context, name string, args json.RawMessage) Response {
	t, ok := s.tools[name]
	if !ok {
		return failure(name, &ErrorInfo{Code: CodeUnknownTool, Message: fmt.Sprintf("no tool named %q", name)})
	}

	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return failure(name, &ErrorInfo{Code: CodeInvalidParams, Message: "arguments are not valid JSON"})
	}
	if err := t.schema.Validate(inst); err != nil {
		return failure(name, schemaError(err))
	}

	result, err := t.call(ctx, s.engine, args)
	if err != nil {
		info := classify(err)
		if info.Code == CodeInternal {
			s.logger.Error("tool failed", "tool", name, "error", err)
		}
		return failure(name, info)
	}
	return Response{Tool: name, Status: StatusOK, Result: result}
}

func failure(name string, info *ErrorInfo) Response {
	return Response{Tool: name, Status: StatusError, Error: info}
}

// classify maps an engine error onto a response code.
func classify(err error) *ErrorInfo {
	var pe *query.ParamError
	switch {
	case errors.As(err, &pe):
		return &ErrorInfo{Code: CodeInvalidParams, Field: pe.Field, Message: pe.Message}
	case errors.Is(err, query.ErrQueryTimeout):
		return &ErrorInfo{Code: CodeTimeout, Message: err.Error()}
	case query.IsNotFound(err):
		return &ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, store.ErrRunOpen):
		return &ErrorInfo{Code: CodeNotQueryable, Message: err.Error()}
	default:
		return &ErrorInfo{Code: CodeInternal, Message: err.Error()}
	}
}

// schemaError reports the first leaf violation with the parameter it names.
func schemaError(err error) *ErrorInfo {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ErrorInfo{Code: CodeInvalidParams, Message: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, ".")
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			field = joinField(field, k.Missing[0])
		}
	case *kind.AdditionalProperties:
		if len(k.Properties) > 0 {
			field = joinField(field, k.Properties[0])
		}
	}
	return &ErrorInfo{Code: CodeInvalidParams, Field: field, Message: leafMessage(leaf)}
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

var printer = message.NewPrinter(language.English)

// leafMessage renders a leaf violation without its schema location.
func leafMessage(ve *jsonschema.ValidationError) string {
	return ve.ErrorKind.LocalizedString(printer)
}
