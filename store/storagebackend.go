package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/flowforge/pipeline"
	"github.com/kbukum/flowforge/storage"
)

// storageBackend persists images and the alias table through a
// storage.Storage implementation, one file per image plus a single
// alias-table file — the same per-entity-file layout storage/local and
// engine/suspend both use. It backs both the "local" and "s3" store
// providers; only the underlying storage.Storage differs.
//
// storage.Storage has no rename primitive, so true atomic-replace of the
// alias table (the one file mutated repeatedly, unlike content-addressed
// image files which are written once) is not available through this
// interface. Writes to the alias table are instead serialized by mu,
// which is sufficient within one process; a multi-process deployment
// sharing one bucket would need either a storage.Storage extension or an
// external lock, noted here rather than silently assumed away.
type storageBackend struct {
	backend storage.Storage
	prefix  string
	mu      sync.Mutex
}

func newStorageBackend(backend storage.Storage, prefix string) *storageBackend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &storageBackend{backend: backend, prefix: prefix}
}

func (b *storageBackend) imagePath(hash string) string {
	return b.prefix + "images/" + hash + ".yaml"
}

func (b *storageBackend) aliasTablePath() string {
	return b.prefix + "aliases.yaml"
}

func (b *storageBackend) Put(ctx context.Context, img Image) error {
	exists, err := b.backend.Exists(ctx, b.imagePath(img.StructuralHash))
	if err != nil {
		return fmt.Errorf("store: checking %s: %w", img.StructuralHash, err)
	}
	if exists {
		return nil
	}
	env, err := encodeImage(img)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("store: marshal image %s: %w", img.StructuralHash, err)
	}
	return b.backend.Upload(ctx, b.imagePath(img.StructuralHash), bytes.NewReader(data))
}

func (b *storageBackend) Get(ctx context.Context, ref string) (Image, error) {
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return Image{}, err
	}
	hash, err := resolveRef(table, ref)
	if err != nil {
		return Image{}, err
	}
	img, err := b.loadImage(ctx, hash)
	if err != nil {
		return Image{}, err
	}
	img.Aliases = aliasesFor(table, hash)
	return img, nil
}

// listWorkers bounds how many image files List loads from the backend at
// once; each load is its own GET/read call against the configured storage
// provider, so this caps outstanding requests rather than goroutines.
const listWorkers = 8

func (b *storageBackend) List(ctx context.Context) ([]Image, error) {
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return nil, err
	}
	files, err := b.backend.List(ctx, b.prefix+"images/")
	if err != nil {
		return nil, fmt.Errorf("store: listing images: %w", err)
	}

	hashes := make([]string, 0, len(files))
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".yaml") {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(strings.TrimPrefix(f.Path, b.prefix+"images/"), ".yaml"))
	}

	loaded := pipeline.Parallel(pipeline.FromSlice(hashes), listWorkers, b.loadImage)
	out, err := pipeline.Collect(ctx, loaded)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Aliases = aliasesFor(table, out[i].StructuralHash)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StructuralHash < out[j].StructuralHash })
	return out, nil
}

func (b *storageBackend) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return err
	}
	hash, err := resolveRef(table, ref)
	if err != nil {
		return err
	}
	if len(aliasesFor(table, hash)) > 0 {
		return fmt.Errorf("%w: %s", ErrAliasInUse, hash)
	}
	return b.backend.Delete(ctx, b.imagePath(hash))
}

func (b *storageBackend) AliasPut(ctx context.Context, name, structuralHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	exists, err := b.backend.Exists(ctx, b.imagePath(structuralHash))
	if err != nil {
		return fmt.Errorf("store: checking %s: %w", structuralHash, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, structuralHash)
	}
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return err
	}
	history := table[name]
	table[name] = append(history, VersionEntry{
		Version:        len(history) + 1,
		StructuralHash: structuralHash,
		Timestamp:      time.Now(),
		Active:         true,
	})
	return b.saveAliasTable(ctx, table)
}

func (b *storageBackend) Versions(ctx context.Context, name string) ([]VersionEntry, error) {
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return nil, err
	}
	history, ok := table[name]
	if !ok || len(history) == 0 {
		return nil, fmt.Errorf("%w: alias %s", ErrNotFound, name)
	}
	out := make([]VersionEntry, len(history))
	for i, v := range history {
		v.Active = i == len(history)-1
		out[i] = v
	}
	return out, nil
}

func (b *storageBackend) Rollback(ctx context.Context, name string, version int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, err := b.loadAliasTable(ctx)
	if err != nil {
		return err
	}
	history := table[name]
	if len(history) == 0 {
		return fmt.Errorf("%w: alias %s", ErrNotFound, name)
	}

	var target VersionEntry
	if version == 0 {
		if len(history) < 2 {
			return fmt.Errorf("store: alias %s has no prior version to roll back to", name)
		}
		target = history[len(history)-2]
	} else {
		found := false
		for _, v := range history {
			if v.Version == version {
				target, found = v, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: version %d of alias %s", ErrNotFound, version, name)
		}
	}

	table[name] = append(history, VersionEntry{
		Version:        len(history) + 1,
		StructuralHash: target.StructuralHash,
		Timestamp:      time.Now(),
		Active:         true,
	})
	return b.saveAliasTable(ctx, table)
}

func (b *storageBackend) Close() error { return nil }

func (b *storageBackend) loadImage(ctx context.Context, hash string) (Image, error) {
	r, err := b.backend.Download(ctx, b.imagePath(hash))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, fmt.Errorf("store: reading image %s: %w", hash, err)
	}
	var env imageEnvelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return Image{}, fmt.Errorf("store: unmarshal image %s: %w", hash, err)
	}
	return decodeImage(env)
}

func (b *storageBackend) loadAliasTable(ctx context.Context) (map[string][]VersionEntry, error) {
	exists, err := b.backend.Exists(ctx, b.aliasTablePath())
	if err != nil {
		return nil, fmt.Errorf("store: checking alias table: %w", err)
	}
	if !exists {
		return make(map[string][]VersionEntry), nil
	}
	r, err := b.backend.Download(ctx, b.aliasTablePath())
	if err != nil {
		return nil, fmt.Errorf("store: loading alias table: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: reading alias table: %w", err)
	}
	table := make(map[string][]VersionEntry)
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("store: unmarshal alias table: %w", err)
	}
	return table, nil
}

func (b *storageBackend) saveAliasTable(ctx context.Context, table map[string][]VersionEntry) error {
	data, err := yaml.Marshal(table)
	if err != nil {
		return fmt.Errorf("store: marshal alias table: %w", err)
	}
	return b.backend.Upload(ctx, b.aliasTablePath(), bytes.NewReader(data))
}

func resolveRef(table map[string][]VersionEntry, ref string) (string, error) {
	if hash, ok := isHashRef(ref); ok {
		return hash, nil
	}
	history, ok := table[ref]
	if !ok || len(history) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return history[len(history)-1].StructuralHash, nil
}

func aliasesFor(table map[string][]VersionEntry, hash string) []string {
	var names []string
	for name, history := range table {
		if len(history) == 0 {
			continue
		}
		if history[len(history)-1].StructuralHash == hash {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
