package store

import (
	"fmt"
	"time"

	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/semtype"
)

// imageEnvelope is the on-disk YAML form of an Image. Schemas are encoded
// through cache.EncodeType/DecodeType by first lowering each semtype.SemType
// to its runtime value.Type — the same envelope shape engine/cache uses for
// out-of-process values, reused here because the same problem applies: a
// stored image is read back with no compile-time knowledge of its schema.
type imageEnvelope struct {
	StructuralHash string         `yaml:"structural_hash"`
	SyntacticHash  string         `yaml:"syntactic_hash"`
	Source         string         `yaml:"source"`
	CompiledAt     time.Time      `yaml:"compiled_at"`
	InputSchema    map[string]any `yaml:"input_schema"`
	OutputSchema   map[string]any `yaml:"output_schema"`
	ModuleRefs     []string       `yaml:"module_refs"`
}

func encodeImage(img Image) (imageEnvelope, error) {
	inSchema, err := encodeSchema(img.InputSchema)
	if err != nil {
		return imageEnvelope{}, fmt.Errorf("store: encode input schema: %w", err)
	}
	outSchema, err := encodeSchema(img.OutputSchema)
	if err != nil {
		return imageEnvelope{}, fmt.Errorf("store: encode output schema: %w", err)
	}
	return imageEnvelope{
		StructuralHash: img.StructuralHash,
		SyntacticHash:  img.SyntacticHash,
		Source:         img.Source,
		CompiledAt:     img.CompiledAt,
		InputSchema:    inSchema,
		OutputSchema:   outSchema,
		ModuleRefs:     img.ModuleRefs,
	}, nil
}

func decodeImage(env imageEnvelope) (Image, error) {
	inSchema, err := decodeSchema(env.InputSchema)
	if err != nil {
		return Image{}, fmt.Errorf("store: decode input schema: %w", err)
	}
	outSchema, err := decodeSchema(env.OutputSchema)
	if err != nil {
		return Image{}, fmt.Errorf("store: decode output schema: %w", err)
	}
	return Image{
		StructuralHash: env.StructuralHash,
		SyntacticHash:  env.SyntacticHash,
		Source:         env.Source,
		CompiledAt:     env.CompiledAt,
		InputSchema:    inSchema,
		OutputSchema:   outSchema,
		ModuleRefs:     env.ModuleRefs,
	}, nil
}

func encodeSchema(schema map[string]semtype.SemType) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for name, st := range schema {
		rt, err := semtype.Lower(st)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = cache.EncodeType(rt)
	}
	return out, nil
}

func decodeSchema(raw map[string]any) (map[string]semtype.SemType, error) {
	out := make(map[string]semtype.SemType, len(raw))
	for name, enc := range raw {
		rt, err := cache.DecodeType(enc)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = semtype.FromRuntime(rt)
	}
	return out, nil
}
