package value

import "testing"

func TestDecodeJSONPrimitives(t *testing.T) {
	v, err := DecodeJSON("hello", TString{}, "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(VString).V != "hello" {
		t.Errorf("expected %q, got %v", "hello", v)
	}

	if _, err := DecodeJSON(42, TString{}, "s"); err == nil {
		t.Error("expected error decoding int as string")
	}
}

func TestDecodeJSONOptionalMissing(t *testing.T) {
	v, err := DecodeJSON(nil, TOptional{Inner: TInt{}}, "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.(VNone); !ok {
		t.Errorf("expected VNone for nil optional, got %T", v)
	}
}

func TestEncodeDecodeJSONRoundTrip(t *testing.T) {
	orig := VList{Elements: []Value{VInt{V: 1}, VInt{V: 2}}, ElemType: TInt{}}
	enc, err := EncodeJSON(orig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	dec, err := DecodeJSON(enc, TList{Elem: TInt{}}, "xs")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !Equal(orig, dec) {
		t.Errorf("round-trip mismatch: %v != %v", orig, dec)
	}
}

func TestDecodeInputsRequiresDeclaredFields(t *testing.T) {
	schema := map[string]Type{"name": TString{}}

	if _, err := DecodeInputs(map[string]any{}, schema, false); err == nil {
		t.Error("expected error for missing required input")
	}

	out, err := DecodeInputs(map[string]any{"name": "alice"}, schema, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["name"].(VString).V != "alice" {
		t.Errorf("expected alice, got %v", out["name"])
	}
}

func TestDecodeInputsOptionalFieldMayBeAbsent(t *testing.T) {
	schema := map[string]Type{"note": TOptional{Inner: TString{}}}

	out, err := DecodeInputs(map[string]any{}, schema, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["note"].(VNone); !ok {
		t.Errorf("expected VNone for absent optional input, got %v", out["note"])
	}
}

func TestDecodeInputsStrictRejectsUnknownKeys(t *testing.T) {
	schema := map[string]Type{"name": TString{}}
	raw := map[string]any{"name": "alice", "extra": "nope"}

	if _, err := DecodeInputs(raw, schema, true); err == nil {
		t.Error("expected error for unknown field in strict mode")
	}
	if _, err := DecodeInputs(raw, schema, false); err != nil {
		t.Errorf("expected no error for unknown field outside strict mode, got %v", err)
	}
}
