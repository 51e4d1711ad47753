package job

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/jobhub"
)

// Parameter is one named, JSON-encoded job argument.
type Parameter struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Parameters is an ordered set of parameters. Names are unique.
type Parameters []Parameter

// NewParameter encodes v as the value of a parameter.
func NewParameter(name string, v any) (Parameter, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Parameter{}, fmt.Errorf("encode parameter %q: %w", name, err)
	}
	return Parameter{Name: name, Value: data}, nil
}

// With returns a copy of ps where p replaces any parameter of the same
// name, keeping its position; otherwise p is appended.
func (ps Parameters) With(p Parameter) Parameters {
	out := ps.Clone()
	for i := range out {
		if out[i].Name == p.Name {
			out[i] = p
			return out
		}
	}
	return append(out, p)
}

// Lookup returns the raw value of the named parameter.
func (ps Parameters) Lookup(name string) (json.RawMessage, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Names returns parameter names in order.
func (ps Parameters) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Clone returns a deep copy.
func (ps Parameters) Clone() Parameters {
	if ps == nil {
		return nil
	}
	out := make(Parameters, len(ps))
	for i, p := range ps {
		out[i] = Parameter{Name: p.Name, Value: append(json.RawMessage(nil), p.Value...)}
	}
	return out
}

// Required decodes the named parameter into T. A missing or null value
// yields jobhub.ErrParameterMissing, an undecodable one
// jobhub.ErrParameterInvalid.
func Required[T any](ps Parameters, name string) (T, error) {
	var v T
	raw, ok := ps.Lookup(name)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return v, fmt.Errorf("%w: %q", jobhub.ErrParameterMissing, name)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %q: %w", jobhub.ErrParameterInvalid, name, err)
	}
	return v, nil
}

// Optional is like Required but returns def when the parameter is absent.
func Optional[T any](ps Parameters, name string, def T) (T, error) {
	raw, ok := ps.Lookup(name)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("%w: %q: %w", jobhub.ErrParameterInvalid, name, err)
	}
	return v, nil
}
