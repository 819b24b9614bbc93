// Package registry implements the Prioritized-Component Registry (§4.9):
// the ordering mechanism used for connector factories, transporter
// factories, layout factories, metadata generators, and local-repository-
// manager factories — anywhere the core must pick among several registered
// implementations of one interface.
package registry

import (
	"cmp"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/rancher/repo-resolver/pkg/session"
)

// Component is one registered implementation, identified by a
// fully-qualified and simple type name so a session priority override can
// target either (§4.9 "effective priority ... first non-null configuration
// value found under keys").
type Component[T any] struct {
	Value          T
	FQTypeName     string
	SimpleTypeName string
	NominalPriority float64

	insertIndex int
}

// Registry orders registered components of type T by effective priority.
type Registry[T any] struct {
	prefix     string
	components []Component[T]
}

// New returns a Registry. prefix (e.g. "aether.priority.") is stored but not
// used for lookups: session priority overrides are looked up in
// Session.Priorities by bare type name, without the prefix.
func New[T any](prefix string) *Registry[T] {
	return &Registry[T]{prefix: prefix}
}

// Register adds a component with its nominal (compile-time default)
// priority. Insertion order is preserved for tie-breaking and for the
// "implicit priorities" mode.
func (r *Registry[T]) Register(value T, fqTypeName, simpleTypeName string, nominalPriority float64) {
	r.components = append(r.components, Component[T]{
		Value:           value,
		FQTypeName:      fqTypeName,
		SimpleTypeName:  simpleTypeName,
		NominalPriority: nominalPriority,
		insertIndex:     len(r.components),
	})
}

// effectivePriority resolves c's priority: a session override if one is
// configured for its fully-qualified name, its simple name, or its simple
// name with a trailing "Factory" stripped (§4.9); failing that, insertion
// order if implicit priorities are enabled; failing that, its nominal
// priority.
func (r *Registry[T]) effectivePriority(sess *session.Session, c Component[T]) float64 {
	if sess != nil {
		candidates := []string{
			c.FQTypeName,
			c.SimpleTypeName,
			strings.TrimSuffix(c.SimpleTypeName, "Factory"),
		}
		for _, name := range candidates {
			if name == "" {
				continue
			}
			if v, ok := sess.Priority(name); ok {
				return v
			}
		}
		if sess.ImplicitPriority {
			return float64(len(r.components) - c.insertIndex)
		}
	}
	return c.NominalPriority
}

// isDisabled reports whether p is NaN, the §4.9 "disabled" sentinel.
func isDisabled(p float64) bool {
	return math.IsNaN(p)
}

// All returns every registered component's value, ordered by descending
// effective priority (higher priority first), disabled components last,
// ties broken by ascending insertion index (stable).
func (r *Registry[T]) All(sess *session.Session) []T {
	sorted := r.sorted(sess)
	out := make([]T, len(sorted))
	for i, c := range sorted {
		out[i] = c.Value
	}
	return out
}

// Enabled returns every registered component's value excluding disabled
// (NaN-priority) ones, in priority order (§4.9 "excluded from getEnabled()").
func (r *Registry[T]) Enabled(sess *session.Session) []T {
	var out []T
	for _, c := range r.sorted(sess) {
		if isDisabled(r.effectivePriority(sess, c)) {
			continue
		}
		out = append(out, c.Value)
	}
	return out
}

func (r *Registry[T]) sorted(sess *session.Session) []Component[T] {
	sorted := append([]Component[T](nil), r.components...)
	priorities := make([]float64, len(sorted))
	for i, c := range sorted {
		priorities[i] = r.effectivePriority(sess, c)
	}
	slices.SortStableFunc(sorted, func(a, b Component[T]) int {
		pi, pj := priorities[a.insertIndex], priorities[b.insertIndex]
		di, dj := isDisabled(pi), isDisabled(pj)
		if di != dj {
			if dj {
				return -1 // a (enabled) sorts first
			}
			return 1
		}
		if di && dj {
			return cmp.Compare(a.insertIndex, b.insertIndex)
		}
		return cmp.Compare(pj, pi) // descending priority
	})
	return sorted
}

// List renders a diagnostic listing of every registered component and its
// effective priority, in sorted order (§4.9 "list(StringBuilder)").
func (r *Registry[T]) List(sess *session.Session) string {
	var b strings.Builder
	for _, c := range r.sorted(sess) {
		p := r.effectivePriority(sess, c)
		b.WriteString(c.SimpleTypeName)
		b.WriteString(" (")
		if isDisabled(p) {
			b.WriteString("disabled")
		} else {
			b.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
		}
		b.WriteString(")\n")
	}
	return b.String()
}
