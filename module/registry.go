package module

import (
	"fmt"
	"sort"
	"sync"
)

// AmbiguousReferenceError reports an unqualified lookup that resolves to
// more than one candidate through active namespace imports.
type AmbiguousReferenceError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("module: %q is ambiguous among %v", e.Name, e.Candidates)
}

// InUseError is returned by Unregister when an in-flight execution still
// references the module.
type InUseError struct{ Qualified string }

func (e *InUseError) Error() string {
	return fmt.Sprintf("module: %q cannot be unregistered while in-flight executions reference it", e.Qualified)
}

// Registry is the read-mostly catalog of registered modules, keyed by
// fully-qualified name. A single writer lock serializes Register/Unregister;
// Lookup and Resolve only ever take the read lock.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	inUse   map[string]int
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		inUse:   make(map[string]int),
	}
}

// Register adds a module. Re-registering an existing qualified name is
// rejected — signatures never change after registration.
func (r *Registry) Register(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.Qualified]; exists {
		return fmt.Errorf("module: %q already registered", m.Qualified)
	}
	r.modules[m.Qualified] = m
	return nil
}

// Unregister removes a module by qualified name. It is rejected while any
// in-flight execution still references it.
func (r *Registry) Unregister(qualified string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse[qualified] > 0 {
		return &InUseError{Qualified: qualified}
	}
	delete(r.modules, qualified)
	return nil
}

// Acquire/Release bracket an in-flight execution's reference to a module so
// Unregister can refuse to remove modules still in use.
func (r *Registry) Acquire(qualified string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse[qualified]++
}

func (r *Registry) Release(qualified string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse[qualified] > 0 {
		r.inUse[qualified]--
	}
}

// Lookup resolves a fully-qualified name directly.
func (r *Registry) Lookup(qualified string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[qualified]
	return m, ok
}

// NamespaceImport is a `use QualifiedName (as Ident)?` declaration, in the
// order it appeared in source.
type NamespaceImport struct {
	Namespace string // e.g. "stdlib.math"
	Alias     string // "" if not aliased
}

// Resolve looks up an unqualified or partially-qualified reference against
// the active namespace imports, in declaration order. A name that matches
// more than one import's namespace is AmbiguousReference.
func (r *Registry) Resolve(name string, imports []NamespaceImport) (*Module, error) {
	if m, ok := r.Lookup(name); ok {
		return m, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []string
	for _, imp := range imports {
		prefix := imp.Namespace
		if imp.Alias != "" {
			if imp.Alias != firstSegment(name) {
				continue
			}
			prefix = imp.Namespace
			name = dropFirstSegment(name)
		}
		qualified := prefix + "." + name
		if m, ok := r.modules[qualified]; ok {
			candidates = append(candidates, m.Qualified)
		}
	}

	unique := dedupe(candidates)
	switch len(unique) {
	case 0:
		return nil, fmt.Errorf("module: %q not found", name)
	case 1:
		return r.modules[unique[0]], nil
	default:
		sort.Strings(unique)
		return nil, &AmbiguousReferenceError{Name: name, Candidates: unique}
	}
}

// List returns all registered qualified names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstSegment(name string) string {
	for i, c := range name {
		if c == '.' {
			return name[:i]
		}
	}
	return name
}

func dropFirstSegment(name string) string {
	for i, c := range name {
		if c == '.' {
			return name[i+1:]
		}
	}
	return name
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
