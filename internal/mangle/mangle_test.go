package mangle

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/types"
)

func newReg() (*types.Registry, *intern.Table) {
	tab := intern.NewTable()
	return types.NewRegistry(tab, ast.NewArena()), tab
}

func TestItaniumFreeFunction(t *testing.T) {
	r, _ := newReg()
	e := &Entity{
		Name:   "add",
		Params: []types.Specifier{types.Spec(r.Primitive(types.PrimInt)), types.Spec(r.Primitive(types.PrimInt))},
		Return: types.Spec(r.Primitive(types.PrimInt)),
	}
	if got := Itanium(r, e); got != "_Z3addii" {
		t.Errorf("mangled = %q, want _Z3addii", got)
	}
}

func TestItaniumNoParams(t *testing.T) {
	r, _ := newReg()
	e := &Entity{Name: "f", Return: types.Spec(r.Primitive(types.PrimVoid))}
	if got := Itanium(r, e); got != "_Z1fv" {
		t.Errorf("mangled = %q, want _Z1fv", got)
	}
}

func TestItaniumNamespaced(t *testing.T) {
	r, _ := newReg()
	e := &Entity{
		Namespace: []string{"util"},
		Name:      "size",
		Params:    []types.Specifier{types.Spec(r.Primitive(types.PrimInt))},
	}
	if got := Itanium(r, e); got != "_ZN4util4sizeEi" {
		t.Errorf("mangled = %q, want _ZN4util4sizeEi", got)
	}
}

func TestItaniumPointerAndConst(t *testing.T) {
	r, _ := newReg()
	cp := types.Spec(r.Primitive(types.PrimChar))
	cp.Const = true
	cp = cp.AddPointer()
	e := &Entity{Name: "puts", Params: []types.Specifier{cp}}
	if got := Itanium(r, e); got != "_Z4putsPKc" {
		t.Errorf("mangled = %q, want _Z4putsPKc", got)
	}
}

func TestItaniumSubstitution(t *testing.T) {
	r, tab := newReg()
	idx := r.DeclareStruct(tab.Intern("Widget"), ast.Nil, false)
	wp := types.Spec(idx).AddPointer()
	e := &Entity{Name: "swap", Params: []types.Specifier{wp, wp}}
	got := Itanium(r, e)
	// Second occurrence of Widget* must be the substitution S_.
	if got != "_Z4swapP6WidgetS_" {
		t.Errorf("mangled = %q, want _Z4swapP6WidgetS_", got)
	}
}

func TestItaniumTemplateArgs(t *testing.T) {
	r, _ := newReg()
	e := &Entity{
		Name:         "biggest",
		TemplateArgs: []types.TemplateArg{{IsType: true, Type: types.Spec(r.Primitive(types.PrimInt))}},
		Params:       []types.Specifier{types.Spec(r.Primitive(types.PrimInt))},
		Return:       types.Spec(r.Primitive(types.PrimInt)),
	}
	if got := Itanium(r, e); got != "_Z7biggestIiEi" {
		t.Errorf("mangled = %q, want _Z7biggestIiEi", got)
	}
}

func TestMSVCFreeFunction(t *testing.T) {
	r, _ := newReg()
	e := &Entity{
		Name:   "add",
		Params: []types.Specifier{types.Spec(r.Primitive(types.PrimInt)), types.Spec(r.Primitive(types.PrimInt))},
		Return: types.Spec(r.Primitive(types.PrimInt)),
	}
	if got := MSVC(r, e); got != "?add@@YAHHH@Z" {
		t.Errorf("mangled = %q, want ?add@@YAHHH@Z", got)
	}
}

func TestMSVCNoParams(t *testing.T) {
	r, _ := newReg()
	e := &Entity{Name: "f", Return: types.Spec(r.Primitive(types.PrimVoid))}
	if got := MSVC(r, e); got != "?f@@YAXXZ" {
		t.Errorf("mangled = %q, want ?f@@YAXXZ", got)
	}
}

func TestMSVCMemberFunction(t *testing.T) {
	r, tab := newReg()
	r.DeclareStruct(tab.Intern("Counter"), ast.Nil, false)
	e := &Entity{
		Class:  "Counter",
		Name:   "get",
		Return: types.Spec(r.Primitive(types.PrimInt)),
		Const:  true,
		Access: ast.Public,
	}
	got := MSVC(r, e)
	if got != "?get@Counter@@QEBAHXZ" {
		t.Errorf("mangled = %q, want ?get@Counter@@QEBAHXZ", got)
	}
}

func TestMangleDeterministic(t *testing.T) {
	r, _ := newReg()
	e := &Entity{Name: "f", Params: []types.Specifier{types.Spec(r.Primitive(types.PrimDouble))}}
	if Itanium(r, e) != Itanium(r, e) {
		t.Error("itanium mangling must be deterministic")
	}
	if MSVC(r, e) != MSVC(r, e) {
		t.Error("msvc mangling must be deterministic")
	}
}

// Mangle -> demangle -> mangle is the identity on the compiler's own
// output alphabet.
func TestRoundTripItanium(t *testing.T) {
	r, tab := newReg()
	r.DeclareStruct(tab.Intern("Widget"), ast.Nil, false)
	wp := types.Spec(r.ByNameString("Widget")).AddPointer()
	ref := types.Spec(r.Primitive(types.PrimInt))
	ref.Ref = types.LValueRef

	entities := []*Entity{
		{Name: "f"},
		{Name: "add", Params: []types.Specifier{types.Spec(r.Primitive(types.PrimInt)), types.Spec(r.Primitive(types.PrimInt))}},
		{Namespace: []string{"a", "b"}, Name: "g", Params: []types.Specifier{types.Spec(r.Primitive(types.PrimDouble))}},
		{Name: "swap", Params: []types.Specifier{wp, wp}},
		{Name: "inc", Params: []types.Specifier{ref}},
		{Name: "vararg", Params: []types.Specifier{types.Spec(r.Primitive(types.PrimInt))}, Variadic: true},
	}
	for _, e := range entities {
		m1 := Itanium(r, e)
		parsed, err := DemangleItanium(r, m1)
		if err != nil {
			t.Errorf("%s: demangle failed: %v", m1, err)
			continue
		}
		if m2 := Itanium(r, parsed); m2 != m1 {
			t.Errorf("round trip %q -> %q", m1, m2)
		}
	}
}

func TestRoundTripMSVC(t *testing.T) {
	r, tab := newReg()
	r.DeclareStruct(tab.Intern("Counter"), ast.Nil, false)

	entities := []*Entity{
		{Name: "f", Return: types.Spec(r.Primitive(types.PrimVoid))},
		{Name: "add", Return: types.Spec(r.Primitive(types.PrimInt)),
			Params: []types.Specifier{types.Spec(r.Primitive(types.PrimInt)), types.Spec(r.Primitive(types.PrimInt))}},
		{Class: "Counter", Name: "get", Return: types.Spec(r.Primitive(types.PrimInt)), Const: true},
	}
	for _, e := range entities {
		m1 := MSVC(r, e)
		parsed, err := DemangleMSVC(r, m1)
		if err != nil {
			t.Errorf("%s: demangle failed: %v", m1, err)
			continue
		}
		if m2 := MSVC(r, parsed); m2 != m1 {
			t.Errorf("round trip %q -> %q", m1, m2)
		}
	}
}
