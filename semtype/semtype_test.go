package semtype

import "testing"

func TestSubReflexiveForEveryShape(t *testing.T) {
	types := []SemType{
		Nothing{},
		String{},
		Int{},
		Float{},
		Bool{},
		List{Elem: Int{}},
		Map{Key: String{}, Val: Int{}},
		Optional{Inner: String{}},
		Product{Order: []string{"x"}, Fields: map[string]SemType{"x": Int{}}},
		Union{Order: []string{"a", "b"}, Members: map[string]SemType{"a": Int{}, "b": String{}}},
	}
	for _, ty := range types {
		if !Sub(ty, ty) {
			t.Errorf("expected %s <: %s (reflexivity)", ty, ty)
		}
	}
}

func TestSubTransitiveAcrossWidthSubtyping(t *testing.T) {
	narrow := Product{Order: []string{"x", "y", "z"}, Fields: map[string]SemType{
		"x": Int{}, "y": String{}, "z": Bool{},
	}}
	mid := Product{Order: []string{"x", "y"}, Fields: map[string]SemType{
		"x": Int{}, "y": String{},
	}}
	wide := Product{Order: []string{"x"}, Fields: map[string]SemType{"x": Int{}}}

	if !Sub(narrow, mid) {
		t.Fatal("expected the 3-field record to be a subtype of the 2-field record")
	}
	if !Sub(mid, wide) {
		t.Fatal("expected the 2-field record to be a subtype of the 1-field record")
	}
	if !Sub(narrow, wide) {
		t.Fatal("expected subtyping to be transitive: narrow <: wide via mid")
	}
}

func TestSubNothingIsBottom(t *testing.T) {
	if !Sub(Nothing{}, String{}) {
		t.Error("expected Nothing <: String")
	}
	if !Sub(Nothing{}, Product{Order: []string{"a"}, Fields: map[string]SemType{"a": Int{}}}) {
		t.Error("expected Nothing <: any record")
	}
}

func TestSubPrimitivesOnlyMatchThemselves(t *testing.T) {
	if Sub(Int{}, String{}) {
		t.Error("expected Int not <: String")
	}
	if Sub(String{}, Float{}) {
		t.Error("expected String not <: Float")
	}
}

func TestSubListCovariant(t *testing.T) {
	a := Product{Order: []string{"x", "y"}, Fields: map[string]SemType{"x": Int{}, "y": Bool{}}}
	b := Product{Order: []string{"x"}, Fields: map[string]SemType{"x": Int{}}}
	if !Sub(List{Elem: a}, List{Elem: b}) {
		t.Error("expected List<a> <: List<b> since a <: b")
	}
}

func TestSubMapKeyInvariantValueCovariant(t *testing.T) {
	a := Product{Order: []string{"x", "y"}, Fields: map[string]SemType{"x": Int{}, "y": Bool{}}}
	b := Product{Order: []string{"x"}, Fields: map[string]SemType{"x": Int{}}}
	if !Sub(Map{Key: String{}, Val: a}, Map{Key: String{}, Val: b}) {
		t.Error("expected value covariance to hold")
	}
	if Sub(Map{Key: Int{}, Val: a}, Map{Key: String{}, Val: b}) {
		t.Error("expected key invariance: Int key must not subtype String key")
	}
}

func TestLowerRejectsOpenRecordAndFunc(t *testing.T) {
	open := Product{Order: []string{"x"}, Fields: map[string]SemType{"x": Int{}}, Row: &RowVar{Name: "r0"}}
	if _, err := Lower(open); err == nil {
		t.Error("expected Lower to reject an open record")
	}
	fn := Func{Params: []SemType{Int{}}, Result: Bool{}}
	if _, err := Lower(fn); err == nil {
		t.Error("expected Lower to reject a function type")
	}
}

func TestLowerClosedProductRoundTripsShape(t *testing.T) {
	st := Product{Order: []string{"name", "age"}, Fields: map[string]SemType{
		"name": String{}, "age": Int{},
	}}
	rt, err := Lower(st)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	back := FromRuntime(rt)
	if !Equal(st, back) {
		t.Errorf("expected FromRuntime(Lower(st)) to equal st, got %s vs %s", back, st)
	}
}

func TestJoinDisjointPrimitivesYieldsUnion(t *testing.T) {
	j := Join(Int{}, String{})
	u, ok := j.(Union)
	if !ok {
		t.Fatalf("expected a Union, got %T", j)
	}
	if len(u.Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(u.Members))
	}
}

func TestJoinWithNothingYieldsOtherOperand(t *testing.T) {
	if j := Join(Nothing{}, Int{}); !Equal(j, Int{}) {
		t.Errorf("expected Join(Nothing, Int) == Int, got %s", j)
	}
	if j := Join(Int{}, Nothing{}); !Equal(j, Int{}) {
		t.Errorf("expected Join(Int, Nothing) == Int, got %s", j)
	}
}
