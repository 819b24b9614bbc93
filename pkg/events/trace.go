// Package events models the "why was this requested" trace chain and the
// named event surface the core dispatches to external listeners (§6
// EXTERNAL INTERFACES: "event listener surfaces ... only their interfaces
// to the core are specified").
package events

import "github.com/google/uuid"

// RequestTrace is a minimal linked record of why a request was made —
// e.g. "collected transitively from artifact X's descriptor" — attached to
// every CollectRequest/ArtifactRequest/MetadataRequest and threaded onto
// emitted events so a listener can reconstruct the causal chain (spec.md §6:
// event payloads "carry trace"; spec.md assumes the type without defining
// it).
type RequestTrace struct {
	ID     string
	parent *RequestTrace
	data   map[string]any
}

// NewRequestTrace starts a new root trace with no parent, stamped with a
// fresh correlation ID a listener can use to group every event it causes.
func NewRequestTrace() *RequestTrace {
	return &RequestTrace{ID: uuid.NewString()}
}

// Child derives a new trace nested under t, carrying t as its parent and
// its own fresh correlation ID.
func (t *RequestTrace) Child() *RequestTrace {
	return &RequestTrace{ID: uuid.NewString(), parent: t}
}

// Parent returns the trace this one was derived from, or nil at the root.
func (t *RequestTrace) Parent() *RequestTrace {
	if t == nil {
		return nil
	}
	return t.parent
}

// WithData returns a copy of t with key/value recorded in its data map,
// leaving t and any trace sharing its parent untouched.
func (t *RequestTrace) WithData(key string, value any) *RequestTrace {
	data := make(map[string]any, len(t.data)+1)
	for k, v := range t.data {
		data[k] = v
	}
	data[key] = value
	return &RequestTrace{ID: t.ID, parent: t.parent, data: data}
}

// Data returns the value recorded for key on this trace node only (it does
// not search ancestors).
func (t *RequestTrace) Data(key string) (any, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.data[key]
	return v, ok
}

// Chain returns the trace and its ancestors, root first.
func (t *RequestTrace) Chain() []*RequestTrace {
	var chain []*RequestTrace
	for n := t; n != nil; n = n.parent {
		chain = append([]*RequestTrace{n}, chain...)
	}
	return chain
}
