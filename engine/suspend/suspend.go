// Package suspend persists and resumes paused executions: a pipeline run
// that is missing an input (or is waiting on an external event) is
// snapshotted to storage.Storage and later rehydrated into a fresh
// exec.Execution, the same per-execution-id state dag.Session keeps in
// memory, made durable.
package suspend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/flowforge/compile"
	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/engine/exec"
	"github.com/kbukum/flowforge/storage"
	"github.com/kbukum/flowforge/value"
)

// encodedValue is a YAML-safe (type, value) pair, mirroring
// engine/cache's Redis envelope: a value.Value alone cannot round-trip
// through YAML without also carrying its value.Type.
type encodedValue struct {
	Type  any `yaml:"type"`
	Value any `yaml:"value"`
}

// Snapshot is the durable, serializable form of an exec.Execution.
type Snapshot struct {
	ExecutionID     string                  `yaml:"execution_id"`
	GraphHash       string                  `yaml:"graph_hash"`
	Values          map[string]encodedValue `yaml:"values"`
	Statuses        map[string]string       `yaml:"statuses"`
	MissingInputs   []string                `yaml:"missing_inputs"`
	ResumptionCount int                     `yaml:"resumption_count"`
}

const pathPrefix = "suspensions/"

func pathFor(executionID string) string {
	return pathPrefix + executionID + ".yaml"
}

// Store persists and retrieves Snapshots via a storage.Storage backend.
type Store struct {
	backend storage.Storage
}

// New wraps an already-constructed storage.Storage for suspension
// persistence. Callers build the Storage with storage.New the same way
// any other component in this tree does (see storage/factory.go).
func New(backend storage.Storage) *Store {
	return &Store{backend: backend}
}

// Suspend serializes ex's current state (values produced so far, node
// statuses, what's still missing) against graphHash — the compiled
// graph's compile.StructuralHash, checked on Resume so a suspended
// execution is never replayed against a pipeline whose wiring changed
// underneath it — and writes it to storage.
func (s *Store) Suspend(ctx context.Context, ex *exec.Execution, g *compile.Graph, graphHash string) error {
	snap := Snapshot{
		ExecutionID:     ex.ID,
		GraphHash:       graphHash,
		Values:          make(map[string]encodedValue),
		Statuses:        make(map[string]string),
		MissingInputs:   ex.MissingInputs(),
		ResumptionCount: ex.ResumptionCount(),
	}

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		snap.Statuses[name] = string(ex.Status(name))
		if v, ok := ex.Value(name); ok {
			enc, err := value.EncodeJSON(v)
			if err != nil {
				return fmt.Errorf("suspend: encoding %q: %w", name, err)
			}
			snap.Values[name] = encodedValue{Type: cache.EncodeType(v.Type()), Value: enc}
		}
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("suspend: marshal: %w", err)
	}
	return s.backend.Upload(ctx, pathFor(ex.ID), bytes.NewReader(data))
}

// Resume loads a Snapshot and rehydrates it into a fresh exec.Execution
// seeded with every previously-computed value, ready to re-enter
// Engine.Run for the still-pending nodes. It returns an error if the
// snapshot's graph hash no longer matches g's.
func (s *Store) Resume(ctx context.Context, executionID string, g *compile.Graph, graphHash string) (*exec.Execution, error) {
	snap, err := s.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if snap.GraphHash != graphHash {
		return nil, fmt.Errorf("suspend: execution %q was suspended against a different graph (have %s, want %s)", executionID, graphHash, snap.GraphHash)
	}

	ex := exec.NewExecution(executionID, g)
	for name, enc := range snap.Values {
		t, err := cache.DecodeType(enc.Type)
		if err != nil {
			return nil, fmt.Errorf("suspend: decoding type for %q: %w", name, err)
		}
		v, err := value.DecodeJSON(enc.Value, t, name)
		if err != nil {
			return nil, fmt.Errorf("suspend: decoding value for %q: %w", name, err)
		}
		ex.Restore(name, v, exec.Status(snap.Statuses[name]))
	}
	return ex, nil
}

// Discard removes a suspended execution's snapshot, once it has run to
// completion or been abandoned.
func (s *Store) Discard(ctx context.Context, executionID string) error {
	return s.backend.Delete(ctx, pathFor(executionID))
}

func (s *Store) load(ctx context.Context, executionID string) (*Snapshot, error) {
	r, err := s.backend.Download(ctx, pathFor(executionID))
	if err != nil {
		return nil, fmt.Errorf("suspend: loading %q: %w", executionID, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("suspend: reading %q: %w", executionID, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("suspend: unmarshal %q: %w", executionID, err)
	}
	return &snap, nil
}
