package value

import "fmt"

// Value is a runtime value: the tagged-sum described by the data model.
// Every Value carries enough type information (Type()) to reconstruct its
// declared shape even for empty lists, maps, and optionals.
type Value interface {
	Type() Type
	isValue()
}

type (
	VString struct{ V string }
	VInt    struct{ V int64 }
	VFloat  struct{ V float64 }
	VBool   struct{ V bool }

	VList struct {
		Elements []Value
		ElemType Type
	}

	MapEntry struct{ Key, Val Value }

	VMap struct {
		Entries  []MapEntry
		KeyType  Type
		ValType  Type
	}

	// VRecord holds fields by name; Order is the declared field order and
	// Shape is the record's declared type. Insertion order of Fields does
	// not affect equality.
	VRecord struct {
		Fields map[string]Value
		Shape  TProduct
	}

	// VUnion carries the full union shape alongside the active tag and
	// payload, per the invariant that payload's runtime type equals
	// Shape.Members[Tag].
	VUnion struct {
		Tag     string
		Payload Value
		Shape   TUnion
	}

	VSome struct {
		Inner     Value
		InnerType Type
	}

	VNone struct {
		InnerType Type
	}
)

func (VString) isValue() {}
func (VInt) isValue()    {}
func (VFloat) isValue()  {}
func (VBool) isValue()   {}
func (VList) isValue()   {}
func (VMap) isValue()    {}
func (VRecord) isValue() {}
func (VUnion) isValue()  {}
func (VSome) isValue()   {}
func (VNone) isValue()   {}

func (VString) Type() Type { return TString{} }
func (VInt) Type() Type    { return TInt{} }
func (VFloat) Type() Type  { return TFloat{} }
func (VBool) Type() Type   { return TBool{} }
func (v VList) Type() Type { return TList{Elem: v.ElemType} }
func (v VMap) Type() Type  { return TMap{Key: v.KeyType, Val: v.ValType} }
func (v VRecord) Type() Type { return v.Shape }
func (v VUnion) Type() Type  { return v.Shape }
func (v VSome) Type() Type   { return TOptional{Inner: v.InnerType} }
func (v VNone) Type() Type   { return TOptional{Inner: v.InnerType} }

// Equal performs structural equality: records compare by field set and
// per-field value, lists elementwise, maps as sets of pairs.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case VString:
		bv, ok := b.(VString)
		return ok && av.V == bv.V
	case VInt:
		bv, ok := b.(VInt)
		return ok && av.V == bv.V
	case VFloat:
		bv, ok := b.(VFloat)
		return ok && av.V == bv.V
	case VBool:
		bv, ok := b.(VBool)
		return ok && av.V == bv.V
	case VList:
		bv, ok := b.(VList)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case VMap:
		bv, ok := b.(VMap)
		if !ok || len(av.Entries) != len(bv.Entries) {
			return false
		}
		used := make([]bool, len(bv.Entries))
		for _, ae := range av.Entries {
			found := false
			for i, be := range bv.Entries {
				if used[i] {
					continue
				}
				if Equal(ae.Key, be.Key) && Equal(ae.Val, be.Val) {
					used[i] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case VRecord:
		bv, ok := b.(VRecord)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for name, fv := range av.Fields {
			ov, ok := bv.Fields[name]
			if !ok || !Equal(fv, ov) {
				return false
			}
		}
		return true
	case VUnion:
		bv, ok := b.(VUnion)
		return ok && av.Tag == bv.Tag && Equal(av.Payload, bv.Payload)
	case VSome:
		bv, ok := b.(VSome)
		return ok && Equal(av.Inner, bv.Inner)
	case VNone:
		_, ok := b.(VNone)
		return ok
	}
	return false
}

// Zero returns the canonical empty value for t, used by the runtime's
// skip/log on_error strategies.
func Zero(t Type) Value {
	switch tt := t.(type) {
	case TString:
		return VString{}
	case TInt:
		return VInt{}
	case TFloat:
		return VFloat{}
	case TBool:
		return VBool{}
	case TList:
		return VList{ElemType: tt.Elem}
	case TMap:
		return VMap{KeyType: tt.Key, ValType: tt.Val}
	case TOptional:
		return VNone{InnerType: tt.Inner}
	case TProduct:
		fields := make(map[string]Value, len(tt.Fields))
		for name, ft := range tt.Fields {
			fields[name] = Zero(ft)
		}
		return VRecord{Fields: fields, Shape: tt}
	case TUnion:
		if len(tt.Order) == 0 {
			panic("value: zero of empty union")
		}
		tag := tt.Order[0]
		return VUnion{Tag: tag, Payload: Zero(tt.Members[tag]), Shape: tt}
	}
	panic(fmt.Sprintf("value: zero of unknown type %T", t))
}

// FieldOrder returns v's declared field order, as recorded on its shape.
func (v VRecord) FieldOrder() []string {
	return v.Shape.Order
}
