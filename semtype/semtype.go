// Package semtype implements the compile-time-only extension of the
// runtime type model: a bottom type (Nothing), function types, row
// variables, and open records, together with the bidirectional checker's
// subtyping and join algorithms. A SemType must be closed (no row
// variables, no function types) before it can lower into a value.Type for
// use at runtime; the lowering pass in Lower enforces that.
package semtype

import (
	"fmt"
	"strings"

	"github.com/kbukum/flowforge/value"
)

// SemType is a compile-time type: every runtime value.Type shape, plus
// Nothing, Func, and open Product rows.
type SemType interface {
	fmt.Stringer
	isSemType()
}

type (
	Nothing struct{}
	String  struct{}
	Int     struct{}
	Float   struct{}
	Bool    struct{}

	List struct{ Elem SemType }
	Map  struct{ Key, Val SemType }

	// Product is a record type. When Row is non-nil the record is open:
	// it may carry additional fields unified against Row at a later call
	// site. A closed Product has Row == nil.
	Product struct {
		Order  []string
		Fields map[string]SemType
		Row    *RowVar
	}

	Union struct {
		Order   []string
		Members map[string]SemType
	}

	Optional struct{ Inner SemType }

	// Func is a module's or lambda's signature. Functions never survive
	// lowering to a runtime value.Type.
	Func struct {
		Params []SemType
		Result SemType
	}

	// RowVar names an unresolved record tail. Row variables are allocated
	// fresh per call site by the checker and bound by unification.
	RowVar struct {
		Name string
	}
)

func (Nothing) isSemType()  {}
func (String) isSemType()   {}
func (Int) isSemType()      {}
func (Float) isSemType()    {}
func (Bool) isSemType()     {}
func (List) isSemType()     {}
func (Map) isSemType()      {}
func (Product) isSemType()  {}
func (Union) isSemType()    {}
func (Optional) isSemType() {}
func (Func) isSemType()     {}
func (*RowVar) isSemType()  {}

func (r *RowVar) String() string { return r.Name }

func (Nothing) String() string { return "Nothing" }
func (String) String() string  { return "String" }
func (Int) String() string     { return "Int" }
func (Float) String() string   { return "Float" }
func (Bool) String() string    { return "Boolean" }

func (t List) String() string { return fmt.Sprintf("List<%s>", t.Elem) }
func (t Map) String() string  { return fmt.Sprintf("Map<%s,%s>", t.Key, t.Val) }

func (t Product) String() string {
	parts := make([]string, 0, len(t.Order))
	for _, n := range t.Order {
		parts = append(parts, fmt.Sprintf("%s: %s", n, t.Fields[n]))
	}
	body := strings.Join(parts, ", ")
	if t.Row != nil {
		if body != "" {
			body += " | " + t.Row.Name
		} else {
			body = t.Row.Name
		}
	}
	return "{" + body + "}"
}

func (t Union) String() string {
	parts := make([]string, len(t.Order))
	for i, tag := range t.Order {
		parts[i] = fmt.Sprintf("%s: %s", tag, t.Members[tag])
	}
	return strings.Join(parts, " | ")
}

func (t Optional) String() string { return fmt.Sprintf("Optional<%s>", t.Inner) }

func (t Func) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), t.Result)
}

// IsOpen reports whether t is a record with an unresolved row tail.
func IsOpen(t SemType) bool {
	p, ok := t.(Product)
	return ok && p.Row != nil
}

// FromRuntime lifts a closed runtime value.Type into the SemType lattice,
// used when describing a module's declared consumes/produces signature.
func FromRuntime(t value.Type) SemType {
	switch tt := t.(type) {
	case value.TString:
		return String{}
	case value.TInt:
		return Int{}
	case value.TFloat:
		return Float{}
	case value.TBool:
		return Bool{}
	case value.TList:
		return List{Elem: FromRuntime(tt.Elem)}
	case value.TMap:
		return Map{Key: FromRuntime(tt.Key), Val: FromRuntime(tt.Val)}
	case value.TOptional:
		return Optional{Inner: FromRuntime(tt.Inner)}
	case value.TProduct:
		fields := make(map[string]SemType, len(tt.Fields))
		for k, v := range tt.Fields {
			fields[k] = FromRuntime(v)
		}
		return Product{Order: tt.Order, Fields: fields}
	case value.TUnion:
		members := make(map[string]SemType, len(tt.Members))
		for k, v := range tt.Members {
			members[k] = FromRuntime(v)
		}
		return Union{Order: tt.Order, Members: members}
	}
	panic(fmt.Sprintf("semtype: unknown runtime type %T", t))
}

// Lower converts a closed SemType into its runtime value.Type. It fails if
// t still contains a function type or an open row — the lowering pass's
// job is exactly to reject those before code reaches the DAG compiler.
func Lower(t SemType) (value.Type, error) {
	switch tt := t.(type) {
	case Nothing:
		return nil, fmt.Errorf("semtype: Nothing has no runtime representation")
	case String:
		return value.TString{}, nil
	case Int:
		return value.TInt{}, nil
	case Float:
		return value.TFloat{}, nil
	case Bool:
		return value.TBool{}, nil
	case List:
		elem, err := Lower(tt.Elem)
		if err != nil {
			return nil, err
		}
		return value.TList{Elem: elem}, nil
	case Map:
		k, err := Lower(tt.Key)
		if err != nil {
			return nil, err
		}
		v, err := Lower(tt.Val)
		if err != nil {
			return nil, err
		}
		return value.TMap{Key: k, Val: v}, nil
	case Optional:
		inner, err := Lower(tt.Inner)
		if err != nil {
			return nil, err
		}
		return value.TOptional{Inner: inner}, nil
	case Product:
		if tt.Row != nil {
			return nil, fmt.Errorf("semtype: open record %s escaped to runtime", tt)
		}
		fields := make(map[string]value.Type, len(tt.Fields))
		for name, ft := range tt.Fields {
			lf, err := Lower(ft)
			if err != nil {
				return nil, err
			}
			fields[name] = lf
		}
		return value.NewProduct(tt.Order, fields), nil
	case Union:
		members := make(map[string]value.Type, len(tt.Members))
		for tag, mt := range tt.Members {
			lm, err := Lower(mt)
			if err != nil {
				return nil, err
			}
			members[tag] = lm
		}
		return value.NewUnion(tt.Order, members), nil
	case Func:
		return nil, fmt.Errorf("semtype: function type %s escaped to runtime", tt)
	case *RowVar:
		return nil, fmt.Errorf("semtype: unresolved row variable %s escaped to runtime", tt.Name)
	}
	return nil, fmt.Errorf("semtype: cannot lower %T", t)
}
