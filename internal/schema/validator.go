package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/runlog/internal/event"
)

// DefaultMaxPayloadBytes caps the compacted payload size.
const DefaultMaxPayloadBytes = 1 << 20

// ErrRejected matches every RejectError via errors.Is.
var ErrRejected = errors.New("candidate rejected")

// RejectError reports a candidate that cannot be written.
type RejectError struct {
	Field  string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("candidate rejected: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) true for any RejectError.
func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

// Validator checks candidates for a single run.
//
// It remembers the ids it has accepted so parent references can be checked
// without a store round trip. A Validator is not safe for concurrent use;
// the write phase has a single producer.
type Validator struct {
	run        event.Run
	contracts  *Contracts
	ids        event.IDGenerator
	maxPayload int
	seen       map[string]struct{}
}

// Option configures a Validator.
type Option func(*Validator)

// WithIDGenerator sets the generator used for candidates without an id.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(v *Validator) {
		v.ids = g
	}
}

// WithMaxPayloadBytes overrides DefaultMaxPayloadBytes.
func WithMaxPayloadBytes(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPayload = n
		}
	}
}

// NewValidator creates a validator for run using the given contracts.
func NewValidator(run event.Run, contracts *Contracts, opts ...Option) *Validator {
	v := &Validator{
		run:        run,
		contracts:  contracts,
		ids:        event.UUIDv7Generator{},
		maxPayload: DefaultMaxPayloadBytes,
		seen:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate turns a candidate into an event.
//
// The returned diagnostics are also attached to the event. A non-nil error is
// always a *RejectError and means nothing should be written.
func (v *Validator) Validate(c event.Candidate) (event.Event, []event.Diagnostic, error) {
	var diags diagnostics

	if c.RunID != v.run.ID {
		return event.Event{}, nil, &RejectError{Field: "run_id", Reason: fmt.Sprintf("unknown run %q", c.RunID)}
	}

	id := c.ID
	if id == "" {
		id = v.ids.Generate()
	} else if !event.ValidID(id) {
		return event.Event{}, nil, &RejectError{Field: "id", Reason: "must be a UUID"}
	}
	if _, dup := v.seen[id]; dup {
		return event.Event{}, nil, &RejectError{Field: "id", Reason: "duplicate event id " + id}
	}

	typ := event.Type(c.Type)
	if !typ.Valid() {
		diags.add("type", event.SeverityError, "unknown event type %q", c.Type)
	}
	severity := event.Severity(c.Severity)
	if !severity.Valid() {
		diags.add("severity", event.SeverityError, "unknown severity %q", c.Severity)
	}
	category := event.Category(c.Category)
	if !category.Valid() {
		diags.add("category", event.SeverityError, "unknown category %q", c.Category)
	}

	ts, err := event.ParseTime(c.Timestamp)
	if err != nil {
		return event.Event{}, nil, &RejectError{Field: "timestamp", Reason: "must be an RFC 3339 timestamp"}
	}
	if !v.run.Contains(ts) {
		diags.add("timestamp", event.SeverityError, "timestamp %s outside run bounds", event.FormatTime(ts))
	}

	payload, obj, err := v.parsePayload(c.Payload)
	if err != nil {
		return event.Event{}, nil, err
	}
	if typ.Valid() {
		v.checkContract(typ, obj, &diags)
	}

	if c.ParentID != "" {
		switch {
		case !event.ValidID(c.ParentID):
			diags.add("parent_id", event.SeverityWarning, "parent reference %q is not a UUID", c.ParentID)
		case c.ParentID == id:
			diags.add("parent_id", event.SeverityWarning, "event cannot be its own parent")
		default:
			if _, ok := v.seen[c.ParentID]; !ok {
				diags.add("parent_id", event.SeverityWarning, "unresolved parent %s", c.ParentID)
			}
		}
	}

	v.seen[id] = struct{}{}

	ev := event.Event{
		ID:          id,
		RunID:       c.RunID,
		Timestamp:   ts,
		Type:        typ,
		Severity:    severity,
		Category:    category,
		Payload:     payload,
		ParentID:    c.ParentID,
		Diagnostics: diags.list,
	}
	return ev, diags.list, nil
}

// Admit marks id as taken without validating a candidate. It is used for
// events that were validated once and are re-emitted after a failed flush.
func (v *Validator) Admit(id string) error {
	if !event.ValidID(id) {
		return &RejectError{Field: "id", Reason: "must be a UUID"}
	}
	if _, dup := v.seen[id]; dup {
		return &RejectError{Field: "id", Reason: "duplicate event id " + id}
	}
	v.seen[id] = struct{}{}
	return nil
}

// Forget releases ids of events that were never committed, so they can be
// re-emitted.
func (v *Validator) Forget(ids ...string) {
	for _, id := range ids {
		delete(v.seen, id)
	}
}

// parsePayload checks the payload is one JSON object under the cap and
// returns its compact form plus the decoded object.
func (v *Validator) parsePayload(raw json.RawMessage) (json.RawMessage, map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &RejectError{Field: "payload", Reason: "payload is required"}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, nil, &RejectError{Field: "payload", Reason: "payload is not valid JSON"}
	}
	if compact.Len() > v.maxPayload {
		return nil, nil, &RejectError{
			Field:  "payload",
			Reason: fmt.Sprintf("payload is %d bytes, limit is %d", compact.Len(), v.maxPayload),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(compact.Bytes()))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, nil, &RejectError{Field: "payload", Reason: "payload is not valid JSON"}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, &RejectError{Field: "payload", Reason: "payload must be a single JSON value"}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, nil, &RejectError{Field: "payload", Reason: "payload must be a JSON object"}
	}

	return json.RawMessage(compact.Bytes()), obj, nil
}

// checkContract diagnoses missing and mistyped required fields.
func (v *Validator) checkContract(typ event.Type, obj map[string]any, diags *diagnostics) {
	for _, field := range v.contracts.Required(typ) {
		path := "payload." + field.Name
		value, ok := obj[field.Name]
		if !ok {
			diags.add(path, event.SeverityWarning, "required field %s missing for %s", field.Name, typ)
			continue
		}
		if kindOf(value)&field.Kind == 0 {
			diags.add(path, event.SeverityWarning, "field %s must be %s", field.Name, kindName(field.Kind))
		}
	}
}

type diagnostics struct {
	list []event.Diagnostic
}

func (d *diagnostics) add(field string, severity event.Severity, format string, args ...any) {
	d.list = append(d.list, event.Diagnostic{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	})
}
