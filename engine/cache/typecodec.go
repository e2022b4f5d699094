package cache

import (
	"fmt"

	"github.com/kbukum/flowforge/value"
)

// EncodeType renders a runtime value.Type as a JSON-safe shape, mirroring
// value.EncodeJSON's tagged-variant approach. Backends that serialize
// cached entries out of process (redis) need this: value.DecodeJSON
// requires the expected Type up front, and a cache entry written by one
// process may be read back by another with no compile-time knowledge of
// what it holds.
func EncodeType(t value.Type) any {
	switch tt := t.(type) {
	case value.TString:
		return map[string]any{"kind": "string"}
	case value.TInt:
		return map[string]any{"kind": "int"}
	case value.TFloat:
		return map[string]any{"kind": "float"}
	case value.TBool:
		return map[string]any{"kind": "bool"}
	case value.TList:
		return map[string]any{"kind": "list", "elem": EncodeType(tt.Elem)}
	case value.TMap:
		return map[string]any{"kind": "map", "key": EncodeType(tt.Key), "val": EncodeType(tt.Val)}
	case value.TOptional:
		return map[string]any{"kind": "optional", "inner": EncodeType(tt.Inner)}
	case value.TProduct:
		fields := make(map[string]any, len(tt.Fields))
		for name, ft := range tt.Fields {
			fields[name] = EncodeType(ft)
		}
		return map[string]any{"kind": "product", "order": tt.Order, "fields": fields}
	case value.TUnion:
		members := make(map[string]any, len(tt.Members))
		for tag, mt := range tt.Members {
			members[tag] = EncodeType(mt)
		}
		return map[string]any{"kind": "union", "order": tt.Order, "members": members}
	}
	return map[string]any{"kind": "unknown"}
}

func DecodeType(raw any) (value.Type, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cache: malformed type descriptor %v", raw)
	}
	kind, _ := obj["kind"].(string)
	switch kind {
	case "string":
		return value.TString{}, nil
	case "int":
		return value.TInt{}, nil
	case "float":
		return value.TFloat{}, nil
	case "bool":
		return value.TBool{}, nil
	case "list":
		elem, err := DecodeType(obj["elem"])
		if err != nil {
			return nil, err
		}
		return value.TList{Elem: elem}, nil
	case "map":
		key, err := DecodeType(obj["key"])
		if err != nil {
			return nil, err
		}
		val, err := DecodeType(obj["val"])
		if err != nil {
			return nil, err
		}
		return value.TMap{Key: key, Val: val}, nil
	case "optional":
		inner, err := DecodeType(obj["inner"])
		if err != nil {
			return nil, err
		}
		return value.TOptional{Inner: inner}, nil
	case "product":
		order := toStringSlice(obj["order"])
		fieldsRaw, _ := obj["fields"].(map[string]any)
		fields := make(map[string]value.Type, len(fieldsRaw))
		for name, raw := range fieldsRaw {
			ft, err := DecodeType(raw)
			if err != nil {
				return nil, err
			}
			fields[name] = ft
		}
		return value.NewProduct(order, fields), nil
	case "union":
		order := toStringSlice(obj["order"])
		membersRaw, _ := obj["members"].(map[string]any)
		members := make(map[string]value.Type, len(membersRaw))
		for tag, raw := range membersRaw {
			mt, err := DecodeType(raw)
			if err != nil {
				return nil, err
			}
			members[tag] = mt
		}
		return value.NewUnion(order, members), nil
	default:
		return nil, fmt.Errorf("cache: unknown type kind %q", kind)
	}
}

func toStringSlice(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
