package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/flowforge/logger"
)

func init() {
	RegisterFactory("memory", newMemoryBackend)
}

// memoryBackend is the default, process-local store backend: a map of
// images keyed by structural hash plus a map of alias histories, both
// guarded by a single mutex. There is no persistence across restarts.
type memoryBackend struct {
	mu     sync.Mutex
	images map[string]Image
	// aliases maps an alias name to its version history, newest last. The
	// last entry is always the active one.
	aliases map[string][]VersionEntry
	log     *logger.Logger
}

func newMemoryBackend(_ Config, log *logger.Logger) (Backend, error) {
	return &memoryBackend{
		images:  make(map[string]Image),
		aliases: make(map[string][]VersionEntry),
		log:     log,
	}, nil
}

func (b *memoryBackend) Put(_ context.Context, img Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.images[img.StructuralHash]; exists {
		return nil
	}
	b.images[img.StructuralHash] = img
	return nil
}

func (b *memoryBackend) Get(_ context.Context, ref string) (Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash, err := b.resolveLocked(ref)
	if err != nil {
		return Image{}, err
	}
	img, ok := b.images[hash]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	img.Aliases = b.aliasesForLocked(hash)
	return img, nil
}

func (b *memoryBackend) List(_ context.Context) ([]Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Image, 0, len(b.images))
	for hash, img := range b.images {
		img.Aliases = b.aliasesForLocked(hash)
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StructuralHash < out[j].StructuralHash })
	return out, nil
}

func (b *memoryBackend) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash, err := b.resolveLocked(ref)
	if err != nil {
		return err
	}
	if len(b.aliasesForLocked(hash)) > 0 {
		return fmt.Errorf("%w: %s", ErrAliasInUse, hash)
	}
	delete(b.images, hash)
	return nil
}

func (b *memoryBackend) AliasPut(_ context.Context, name, structuralHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.images[structuralHash]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, structuralHash)
	}
	history := b.aliases[name]
	version := len(history) + 1
	b.aliases[name] = append(history, VersionEntry{
		Version:        version,
		StructuralHash: structuralHash,
		Timestamp:      time.Now(),
		Active:         true,
	})
	return nil
}

func (b *memoryBackend) Versions(_ context.Context, name string) ([]VersionEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := b.aliases[name]
	if history == nil {
		return nil, fmt.Errorf("%w: alias %s", ErrNotFound, name)
	}
	out := make([]VersionEntry, len(history))
	for i, v := range history {
		v.Active = i == len(history)-1
		out[i] = v
	}
	return out, nil
}

func (b *memoryBackend) Rollback(_ context.Context, name string, version int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := b.aliases[name]
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

	next := len(history) + 1
	b.aliases[name] = append(history, VersionEntry{
		Version:        next,
		StructuralHash: target.StructuralHash,
		Timestamp:      time.Now(),
		Active:         true,
	})
	return nil
}

func (b *memoryBackend) Close() error { return nil }

// resolveLocked resolves ref to a structural hash. Must hold b.mu.
func (b *memoryBackend) resolveLocked(ref string) (string, error) {
	if hash, ok := isHashRef(ref); ok {
		return hash, nil
	}
	history, ok := b.aliases[ref]
	if !ok || len(history) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return history[len(history)-1].StructuralHash, nil
}

// aliasesForLocked returns every alias name currently active and pointing
// at hash. Must hold b.mu.
func (b *memoryBackend) aliasesForLocked(hash string) []string {
	var names []string
	for name, history := range b.aliases {
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
