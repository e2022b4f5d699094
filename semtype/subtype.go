package semtype

// Sub reports whether s is a subtype of t, per the engine's structural
// subtyping rules: Nothing is bottom, primitives only match themselves,
// lists/optionals are covariant, maps are key-invariant and value-
// covariant, records use width+depth subtyping (more fields is a
// subtype of fewer), unions are bidirectional over their members, and
// function types are contravariant in parameters and covariant in
// result.
func Sub(s, t SemType) bool {
	if _, ok := s.(Nothing); ok {
		return true
	}

	switch tt := t.(type) {
	case Union:
		// s <: union iff s is a subtype of some member (tag matches for
		// a union s, otherwise structural match against any member).
		if su, ok := s.(Union); ok {
			for _, mt := range su.Members {
				if !subAnyMember(mt, tt) {
					return false
				}
			}
			return true
		}
		return subAnyMember(s, tt)
	}

	switch st := s.(type) {
	case String:
		_, ok := t.(String)
		return ok
	case Int:
		_, ok := t.(Int)
		return ok
	case Float:
		_, ok := t.(Float)
		return ok
	case Bool:
		_, ok := t.(Bool)
		return ok
	case List:
		tt, ok := t.(List)
		return ok && Sub(st.Elem, tt.Elem)
	case Map:
		tt, ok := t.(Map)
		return ok && Equal(st.Key, tt.Key) && Sub(st.Val, tt.Val)
	case Optional:
		tt, ok := t.(Optional)
		return ok && Sub(st.Inner, tt.Inner)
	case Product:
		tt, ok := t.(Product)
		if !ok {
			return false
		}
		for _, name := range tt.Order {
			tf, want := tt.Fields[name]
			if !want {
				continue
			}
			sf, have := st.Fields[name]
			if !have || !Sub(sf, tf) {
				return false
			}
		}
		return true
	case Union:
		// union s <: t iff every member is <: t
		for _, mt := range st.Members {
			if !Sub(mt, t) {
				return false
			}
		}
		return true
	case Func:
		tt, ok := t.(Func)
		if !ok || len(st.Params) != len(tt.Params) {
			return false
		}
		for i := range st.Params {
			// contravariant in parameters
			if !Sub(tt.Params[i], st.Params[i]) {
				return false
			}
		}
		return Sub(st.Result, tt.Result)
	}
	return false
}

func subAnyMember(s SemType, u Union) bool {
	for _, mt := range u.Members {
		if Sub(s, mt) {
			return true
		}
	}
	return false
}

// Equal reports structural identity (both directions of Sub hold), used
// for map key types which are invariant.
func Equal(a, b SemType) bool {
	return Sub(a, b) && Sub(b, a) && sameShape(a, b)
}

// sameShape guards against Nothing being considered equal to everything
// through the bottom-type short circuit in Sub.
func sameShape(a, b SemType) bool {
	switch a.(type) {
	case Nothing:
		_, ok := b.(Nothing)
		return ok
	}
	return true
}

// Join computes the least upper bound of two types, used for mixed-type
// list literals and the two arms of a conditional. Joining two records
// yields the intersection of their fields; joining disjoint primitives
// yields a union.
func Join(a, b SemType) SemType {
	if _, ok := a.(Nothing); ok {
		return b
	}
	if _, ok := b.(Nothing); ok {
		return a
	}
	if Equal(a, b) {
		return a
	}

	if ap, ok := a.(Product); ok {
		if bp, ok := b.(Product); ok {
			return joinProducts(ap, bp)
		}
	}

	if al, ok := a.(List); ok {
		if bl, ok := b.(List); ok {
			return List{Elem: Join(al.Elem, bl.Elem)}
		}
	}

	if ao, ok := a.(Optional); ok {
		if bo, ok := b.(Optional); ok {
			return Optional{Inner: Join(ao.Inner, bo.Inner)}
		}
		return Optional{Inner: Join(ao.Inner, b)}
	}
	if bo, ok := b.(Optional); ok {
		return Optional{Inner: Join(a, bo.Inner)}
	}

	order := []string{}
	members := map[string]SemType{}
	addUnionMember(&order, members, a)
	addUnionMember(&order, members, b)
	return Union{Order: order, Members: members}
}

func joinProducts(a, b Product) SemType {
	order := []string{}
	fields := map[string]SemType{}
	for _, name := range a.Order {
		if bt, ok := b.Fields[name]; ok {
			order = append(order, name)
			fields[name] = Join(a.Fields[name], bt)
		}
	}
	return Product{Order: order, Fields: fields}
}

func addUnionMember(order *[]string, members map[string]SemType, t SemType) {
	if u, ok := t.(Union); ok {
		for _, tag := range u.Order {
			if _, exists := members[tag]; !exists {
				*order = append(*order, tag)
			}
			members[tag] = u.Members[tag]
		}
		return
	}
	tag := t.String()
	if _, exists := members[tag]; !exists {
		*order = append(*order, tag)
	}
	members[tag] = t
}
