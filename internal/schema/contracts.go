package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/runlog/internal/event"
)

//go:embed payloads.cue
var payloadsCUE string

// FieldContract is one required payload field and the CUE kinds it accepts.
type FieldContract struct {
	Name string
	Kind cue.Kind
}

// Contracts maps each event type to its required payload fields, in
// declaration order.
type Contracts struct {
	fields map[event.Type][]FieldContract
}

// LoadContracts compiles the embedded CUE payload contracts.
// Every member of event.Types must have a definition.
func LoadContracts() (*Contracts, error) {
	return compileContracts(payloadsCUE)
}

func compileContracts(src string) (*Contracts, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename("payloads.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload contracts: %w", err)
	}

	c := &Contracts{fields: make(map[event.Type][]FieldContract, len(event.Types))}
	for _, typ := range event.Types {
		def := root.LookupPath(cue.ParsePath("#" + string(typ)))
		if !def.Exists() {
			return nil, fmt.Errorf("compile payload contracts: no definition for %s", typ)
		}

		iter, err := def.Fields()
		if err != nil {
			return nil, fmt.Errorf("compile payload contracts: %s: %w", typ, err)
		}

		var fields []FieldContract
		for iter.Next() {
			fields = append(fields, FieldContract{
				Name: iter.Selector().String(),
				Kind: iter.Value().IncompleteKind(),
			})
		}
		c.fields[typ] = fields
	}
	return c, nil
}

// Required returns the required fields for typ, or nil for an unknown type.
func (c *Contracts) Required(typ event.Type) []FieldContract {
	return c.fields[typ]
}

// kindOf maps a decoded JSON value to its CUE kind.
func kindOf(v any) cue.Kind {
	switch v.(type) {
	case nil:
		return cue.NullKind
	case bool:
		return cue.BoolKind
	case string:
		return cue.StringKind
	case map[string]any:
		return cue.StructKind
	case []any:
		return cue.ListKind
	default:
		return cue.NumberKind
	}
}

// kindName renders the kinds accepted by a contract field for diagnostics.
func kindName(k cue.Kind) string {
	switch {
	case k == cue.TopKind:
		return "any value"
	case k&cue.NumberKind == k:
		return "number"
	case k == cue.StringKind:
		return "string"
	case k == cue.StructKind:
		return "object"
	case k == cue.ListKind:
		return "array"
	case k == cue.BoolKind:
		return "boolean"
	default:
		return k.String()
	}
}
