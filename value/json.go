package value

import (
	"fmt"

	"github.com/kbukum/flowforge/validation"
)

// EncodeJSON renders a Value into the boundary JSON model described by the
// engine's external interfaces: Int/Float/Bool/String map directly, List
// becomes a JSON array, Map becomes an array of [key, value] pairs (to
// support non-string keys), Record becomes an object, Optional erases to
// either the inner encoding or nil, and Union becomes {"tag":..,"value":..}.
func EncodeJSON(v Value) (any, error) {
	switch vv := v.(type) {
	case VString:
		return vv.V, nil
	case VInt:
		return vv.V, nil
	case VFloat:
		return vv.V, nil
	case VBool:
		return vv.V, nil
	case VList:
		out := make([]any, len(vv.Elements))
		for i, e := range vv.Elements {
			enc, err := EncodeJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case VMap:
		out := make([][2]any, len(vv.Entries))
		for i, e := range vv.Entries {
			k, err := EncodeJSON(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := EncodeJSON(e.Val)
			if err != nil {
				return nil, err
			}
			out[i] = [2]any{k, val}
		}
		return out, nil
	case VRecord:
		out := make(map[string]any, len(vv.Fields))
		for name, fv := range vv.Fields {
			enc, err := EncodeJSON(fv)
			if err != nil {
				return nil, err
			}
			out[name] = enc
		}
		return out, nil
	case VUnion:
		payload, err := EncodeJSON(vv.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tag": vv.Tag, "value": payload}, nil
	case VSome:
		return EncodeJSON(vv.Inner)
	case VNone:
		return nil, nil
	}
	return nil, fmt.Errorf("value: cannot encode %T", v)
}

// DecodeError reports a strict boundary-decode failure, carrying the
// offending JSON path per the InputValidationError contract.
type DecodeError struct {
	Path     string
	Expected Type
	Actual   any
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("input validation: at %q expected %s, got %v", e.Path, e.Expected, e.Actual)
}

// DecodeJSON parses a boundary JSON value against an expected Type. Decoding
// is strict: a number for an Int slot must have no fractional part, and an
// object missing a required field raises a DecodeError pointing at the
// offending path.
func DecodeJSON(raw any, t Type, path string) (Value, error) {
	if raw == nil {
		if opt, ok := t.(TOptional); ok {
			return VNone{InnerType: opt.Inner}, nil
		}
		return nil, &DecodeError{Path: path, Expected: t, Actual: raw}
	}

	if opt, ok := t.(TOptional); ok {
		inner, err := DecodeJSON(raw, opt.Inner, path)
		if err != nil {
			return nil, err
		}
		return VSome{Inner: inner, InnerType: opt.Inner}, nil
	}

	switch tt := t.(type) {
	case TString:
		s, ok := raw.(string)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		return VString{V: s}, nil
	case TBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		return VBool{V: b}, nil
	case TInt:
		f, ok := raw.(float64)
		if !ok {
			if i, ok := raw.(int64); ok {
				return VInt{V: i}, nil
			}
			return nil, &DecodeError{path, t, raw}
		}
		if f != float64(int64(f)) {
			return nil, &DecodeError{path, t, raw}
		}
		return VInt{V: int64(f)}, nil
	case TFloat:
		switch n := raw.(type) {
		case float64:
			return VFloat{V: n}, nil
		case int64:
			return VFloat{V: float64(n)}, nil
		default:
			return nil, &DecodeError{path, t, raw}
		}
	case TList:
		arr, ok := raw.([]any)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		elems := make([]Value, len(arr))
		for i, e := range arr {
			dv, err := DecodeJSON(e, tt.Elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			elems[i] = dv
		}
		return VList{Elements: elems, ElemType: tt.Elem}, nil
	case TMap:
		arr, ok := raw.([]any)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		entries := make([]MapEntry, len(arr))
		for i, pairRaw := range arr {
			pair, ok := pairRaw.([]any)
			if !ok || len(pair) != 2 {
				return nil, &DecodeError{fmt.Sprintf("%s[%d]", path, i), t, raw}
			}
			k, err := DecodeJSON(pair[0], tt.Key, fmt.Sprintf("%s[%d][0]", path, i))
			if err != nil {
				return nil, err
			}
			vv, err := DecodeJSON(pair[1], tt.Val, fmt.Sprintf("%s[%d][1]", path, i))
			if err != nil {
				return nil, err
			}
			entries[i] = MapEntry{Key: k, Val: vv}
		}
		return VMap{Entries: entries, KeyType: tt.Key, ValType: tt.Val}, nil
	case TProduct:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		fields := make(map[string]Value, len(tt.Fields))
		for _, name := range tt.Order {
			fv, present := obj[name]
			if !present {
				return nil, &DecodeError{Path: path + "." + name, Expected: tt.Fields[name], Actual: nil}
			}
			dv, err := DecodeJSON(fv, tt.Fields[name], path+"."+name)
			if err != nil {
				return nil, err
			}
			fields[name] = dv
		}
		return VRecord{Fields: fields, Shape: tt}, nil
	case TUnion:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, &DecodeError{path, t, raw}
		}
		tag, ok := obj["tag"].(string)
		if !ok {
			return nil, &DecodeError{path + ".tag", t, raw}
		}
		memberType, ok := tt.Members[tag]
		if !ok {
			return nil, &DecodeError{Path: path + ".tag", Expected: t, Actual: tag}
		}
		payload, err := DecodeJSON(obj["value"], memberType, path+".value")
		if err != nil {
			return nil, err
		}
		return VUnion{Tag: tag, Payload: payload, Shape: tt}, nil
	}
	return nil, &DecodeError{path, t, raw}
}

// DecodeInputs runs the full boundary pipeline for a pipeline's declared
// inputs: a shape-level pre-check via validation.ValidateShape (every
// declared input present and non-nil; in strict mode, no keys beyond the
// declared inputs), then a per-key typed decode through DecodeJSON. The
// shape check catches malformed requests with one combined error instead
// of failing on whichever input DecodeJSON happens to reach first.
func DecodeInputs(raw map[string]any, schema map[string]Type, strict bool) (map[string]Value, error) {
	known := make([]string, 0, len(schema))
	var required []string
	for name, t := range schema {
		known = append(known, name)
		if _, optional := t.(TOptional); !optional {
			required = append(required, name)
		}
	}
	if err := validation.ValidateShape(raw, required, known, strict); err != nil {
		return nil, err
	}

	out := make(map[string]Value, len(schema))
	for name, t := range schema {
		v, err := DecodeJSON(raw[name], t, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
