// Package module implements the module registry: the catalog of
// host-implemented, typed functions a compiled pipeline calls into. A
// module's signature never changes after registration; the registry is
// read-mostly, serializing writers behind a single lock while readers see
// a consistent snapshot.
package module

import (
	"context"
	"fmt"
	"sort"

	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/value"
)

// Version is a module's (major, minor) version pair.
type Version struct {
	Major, Minor int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Impl is the opaque host-language function a module wraps. It runs inside
// the runtime's scheduling context and receives already-subtype-checked
// arguments.
type Impl func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error)

// Example documents a sample input for a module's input slot.
type Example struct {
	Slot  string
	Value value.Value
}

// Module is an immutable, registered, typed function.
type Module struct {
	// Qualified is the globally unique, case-sensitive fully-qualified
	// name, e.g. "stdlib.math.add".
	Qualified string
	Version   Version
	Consumes  map[string]semtype.SemType
	Produces  map[string]semtype.SemType
	Implementation Impl
	Tags           []string
	Description    string
	Documentation  string
	Examples       []Example
}

// ConsumesOrder returns Consumes' keys in a stable order (sorted), useful
// for structural hashing and diagnostics.
func (m *Module) ConsumesOrder() []string {
	return sortedKeys(m.Consumes)
}

// ProducesOrder returns Produces' keys in a stable order.
func (m *Module) ProducesOrder() []string {
	return sortedKeys(m.Produces)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
