package types

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
)

// fixture builds: struct POD {int a;}; class Poly {virtual f;};
// class Derived : Poly {}; enum Color.
func traitFixture(t *testing.T) (*Registry, Specifier, Specifier, Specifier, Specifier) {
	t.Helper()
	r, tab := newReg()

	pod := r.DeclareStruct(tab.Intern("POD"), ast.Nil, false)
	r.Get(pod).Struct.Members = append(r.Get(pod).Struct.Members,
		Member{Name: tab.Intern("a"), Spec: Spec(r.Primitive(PrimInt))})
	r.Layout(pod)

	poly := r.DeclareStruct(tab.Intern("Poly"), ast.Nil, false)
	r.Get(poly).Struct.Methods = append(r.Get(poly).Struct.Methods,
		Method{Name: tab.Intern("f"), Virtual: true})
	r.AssignVTableSlots(poly)
	r.Layout(poly)

	derived := r.DeclareStruct(tab.Intern("Derived"), ast.Nil, false)
	r.Get(derived).Struct.Bases = append(r.Get(derived).Struct.Bases, Base{Type: poly})
	r.Get(derived).Struct.Polymorphic = true
	r.Layout(derived)

	color := r.DeclareEnum(tab.Intern("Color"), ast.Nil, Invalid, false)

	return r, Spec(pod), Spec(poly), Spec(derived), Spec(color)
}

func TestClassEnumUnionTraits(t *testing.T) {
	r, pod, poly, _, color := traitFixture(t)
	if !r.IsClass(pod) || !r.IsClass(poly) {
		t.Error("struct types must classify as classes")
	}
	if r.IsClass(color) || !r.IsEnum(color) {
		t.Error("enums are not classes")
	}
	if r.IsEnum(pod) {
		t.Error("classes are not enums")
	}
	if r.IsClass(pod.AddPointer()) {
		t.Error("a pointer to class is not a class")
	}
}

func TestPolymorphismTraits(t *testing.T) {
	r, pod, poly, derived, _ := traitFixture(t)
	if r.IsPolymorphic(pod) {
		t.Error("plain struct is not polymorphic")
	}
	if !r.IsPolymorphic(poly) || !r.IsPolymorphic(derived) {
		t.Error("virtual classes and their children are polymorphic")
	}
}

func TestBaseOfTrait(t *testing.T) {
	r, pod, poly, derived, _ := traitFixture(t)
	if !r.IsBaseOf(poly, derived) {
		t.Error("Poly is a base of Derived")
	}
	if r.IsBaseOf(derived, poly) {
		t.Error("base-of must not hold in reverse")
	}
	if !r.IsBaseOf(pod, pod) {
		t.Error("a class is its own base for __is_base_of")
	}
}

func TestArithmeticTraits(t *testing.T) {
	r, pod, _, _, color := traitFixture(t)
	i := Spec(r.Primitive(PrimInt))
	d := Spec(r.Primitive(PrimDouble))
	u := Spec(r.Primitive(PrimUInt))
	if !r.IsArithmetic(i) || !r.IsArithmetic(d) {
		t.Error("int and double are arithmetic")
	}
	if r.IsArithmetic(pod) || r.IsArithmetic(color) {
		t.Error("classes and enums are not arithmetic")
	}
	if !r.IsSigned(i) || r.IsSigned(u) {
		t.Error("signedness misclassified")
	}
	if !r.IsUnsigned(u) || r.IsUnsigned(i) {
		t.Error("unsignedness misclassified")
	}
}

func TestArrayTraits(t *testing.T) {
	r, _, _, _, _ := traitFixture(t)
	bounded := Spec(r.Primitive(PrimInt))
	bounded.Arrays = []ArrayDim{{Count: 3}}
	unbounded := Spec(r.Primitive(PrimInt))
	unbounded.Arrays = []ArrayDim{{Count: -1}}
	if !r.IsBoundedArray(bounded) || r.IsBoundedArray(unbounded) {
		t.Error("bounded-array trait misclassified")
	}
	if !r.IsUnboundedArray(unbounded) || r.IsUnboundedArray(bounded) {
		t.Error("unbounded-array trait misclassified")
	}
}

func TestConvertibleTraits(t *testing.T) {
	r, pod, poly, derived, color := traitFixture(t)
	i := Spec(r.Primitive(PrimInt))
	d := Spec(r.Primitive(PrimDouble))
	if !r.IsConvertible(i, d) || !r.IsConvertible(d, i) {
		t.Error("arithmetic conversions must hold")
	}
	if !r.IsConvertible(color, i) {
		t.Error("unscoped enum converts to int")
	}
	if r.IsConvertible(pod, i) {
		t.Error("class does not convert to int")
	}
	if !r.IsConvertible(derived.AddPointer(), poly.AddPointer()) {
		t.Error("derived* converts to base*")
	}
	if r.IsConvertible(poly.AddPointer(), derived.AddPointer()) {
		t.Error("base* must not convert to derived*")
	}
}

func TestEvalTraitDispatch(t *testing.T) {
	r, pod, poly, _, _ := traitFixture(t)
	cases := []struct {
		name string
		args []Specifier
		want bool
	}{
		{"__is_class", []Specifier{pod}, true},
		{"__is_polymorphic", []Specifier{poly}, true},
		{"__is_polymorphic", []Specifier{pod}, false},
		{"__is_trivially_copyable", []Specifier{pod}, true},
		{"__is_trivially_copyable", []Specifier{poly}, false},
		{"__is_standard_layout", []Specifier{pod}, true},
		{"__is_pod", []Specifier{pod}, true},
		{"__is_same", []Specifier{pod, pod}, true},
		{"__is_same", []Specifier{pod, poly}, false},
		{"__is_destructible", []Specifier{pod}, true},
	}
	for _, c := range cases {
		got, known := r.EvalTrait(c.name, c.args)
		if !known {
			t.Errorf("%s: not implemented", c.name)
			continue
		}
		if got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if _, known := r.EvalTrait("__is_made_up", nil); known {
		t.Error("unknown intrinsics must report unknown")
	}
}

// Constraint evaluation is pure: the same query twice yields the same
// answer.
func TestTraitPurity(t *testing.T) {
	r, pod, _, _, _ := traitFixture(t)
	a1, _ := r.EvalTrait("__is_class", []Specifier{pod})
	a2, _ := r.EvalTrait("__is_class", []Specifier{pod})
	if a1 != a2 {
		t.Error("trait evaluation must be pure")
	}
}
