package types

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
)

func newReg() (*Registry, *intern.Table) {
	tab := intern.NewTable()
	return NewRegistry(tab, ast.NewArena()), tab
}

func TestPrimitiveSizes(t *testing.T) {
	r, _ := newReg()
	cases := []struct {
		prim Prim
		bits uint32
	}{
		{PrimBool, 8}, {PrimChar, 8}, {PrimShort, 16}, {PrimInt, 32},
		{PrimLongLong, 64}, {PrimFloat, 32}, {PrimDouble, 64},
	}
	for _, c := range cases {
		if got := r.Get(r.Primitive(c.prim)).SizeBits; got != c.bits {
			t.Errorf("prim %d size = %d, want %d", c.prim, got, c.bits)
		}
	}
}

func TestTypeIndexNeverReassigned(t *testing.T) {
	r, tab := newReg()
	a := r.DeclareStruct(tab.Intern("A"), ast.Nil, false)
	b := r.DeclareStruct(tab.Intern("B"), ast.Nil, false)
	if a == b {
		t.Fatal("indices must be distinct")
	}
	if r.ByName(tab.Intern("A")) != a {
		t.Error("name lookup changed after second declaration")
	}
}

func TestStructLayout(t *testing.T) {
	r, tab := newReg()
	idx := r.DeclareStruct(tab.Intern("Pair"), ast.Nil, false)
	si := r.Get(idx).Struct
	si.Members = append(si.Members,
		Member{Name: tab.Intern("a"), Spec: Spec(r.Primitive(PrimChar))},
		Member{Name: tab.Intern("b"), Spec: Spec(r.Primitive(PrimInt))},
	)
	r.Layout(idx)
	if si.Phase != PhaseLayout {
		t.Fatal("layout phase not advanced")
	}
	if si.Members[0].OffsetBits != 0 {
		t.Errorf("first member offset = %d", si.Members[0].OffsetBits)
	}
	if si.Members[1].OffsetBits != 32 {
		t.Errorf("int member must align to 32 bits, got %d", si.Members[1].OffsetBits)
	}
	if r.Get(idx).SizeBits != 64 {
		t.Errorf("struct size = %d bits, want 64", r.Get(idx).SizeBits)
	}
}

func TestUnionLayout(t *testing.T) {
	r, tab := newReg()
	idx := r.DeclareStruct(tab.Intern("U"), ast.Nil, true)
	si := r.Get(idx).Struct
	si.Members = append(si.Members,
		Member{Name: tab.Intern("i"), Spec: Spec(r.Primitive(PrimInt))},
		Member{Name: tab.Intern("d"), Spec: Spec(r.Primitive(PrimDouble))},
	)
	r.Layout(idx)
	if si.Members[1].OffsetBits != 0 {
		t.Error("union members all live at offset 0")
	}
	if r.Get(idx).SizeBits != 64 {
		t.Errorf("union size = %d bits, want 64", r.Get(idx).SizeBits)
	}
}

func TestBaseClassLayout(t *testing.T) {
	r, tab := newReg()
	base := r.DeclareStruct(tab.Intern("Base"), ast.Nil, false)
	r.Get(base).Struct.Members = append(r.Get(base).Struct.Members,
		Member{Name: tab.Intern("x"), Spec: Spec(r.Primitive(PrimInt))})
	derived := r.DeclareStruct(tab.Intern("Derived"), ast.Nil, false)
	si := r.Get(derived).Struct
	si.Bases = append(si.Bases, Base{Type: base})
	si.Members = append(si.Members,
		Member{Name: tab.Intern("y"), Spec: Spec(r.Primitive(PrimInt))})
	r.Layout(derived)
	if si.Members[0].OffsetBits != 32 {
		t.Errorf("derived member must follow the base, offset %d", si.Members[0].OffsetBits)
	}
}

func TestVTableSlots(t *testing.T) {
	r, tab := newReg()
	base := r.DeclareStruct(tab.Intern("Shape"), ast.Nil, false)
	bsi := r.Get(base).Struct
	bsi.Methods = append(bsi.Methods,
		Method{Name: tab.Intern("area"), Virtual: true},
		Method{Name: tab.Intern("name"), Virtual: true},
	)
	r.AssignVTableSlots(base)
	if len(bsi.VTable) != 2 {
		t.Fatalf("base vtable has %d slots, want 2", len(bsi.VTable))
	}
	if !bsi.Polymorphic {
		t.Error("class with virtuals must be polymorphic")
	}

	derived := r.DeclareStruct(tab.Intern("Circle"), ast.Nil, false)
	dsi := r.Get(derived).Struct
	dsi.Bases = append(dsi.Bases, Base{Type: base})
	dsi.Methods = append(dsi.Methods,
		Method{Name: tab.Intern("area"), Virtual: true}, // override in place
		Method{Name: tab.Intern("perimeter"), Virtual: true},
	)
	r.AssignVTableSlots(derived)
	if len(dsi.VTable) != 3 {
		t.Fatalf("derived vtable has %d slots, want 3", len(dsi.VTable))
	}
	if dsi.Methods[0].Slot != 0 {
		t.Errorf("override must reuse the base slot, got %d", dsi.Methods[0].Slot)
	}
	if dsi.Methods[1].Slot != 2 {
		t.Errorf("new virtual must append, got slot %d", dsi.Methods[1].Slot)
	}
}

func TestSpecifierNormalize(t *testing.T) {
	r, _ := newReg()
	s := Spec(r.Primitive(PrimInt))
	s.Ref = LValueRef
	n := s.Normalize()
	if n.Ref != NoRef {
		t.Error("normalization must collapse references")
	}
	c := Spec(r.Primitive(PrimInt))
	c.Const = true
	if c.Normalize().Const {
		t.Error("normalization must drop top-level cv")
	}
	p := Spec(r.Primitive(PrimInt)).AddPointer()
	p.Pointers[0].Const = true
	// The top-level cv of a pointer type is the outermost level's cv.
	if p.Normalize().Pointers[0].Const {
		t.Error("pointer top-level const must drop under normalization")
	}
}

func TestSpecifierEqual(t *testing.T) {
	r, _ := newReg()
	a := Spec(r.Primitive(PrimInt)).AddPointer()
	b := Spec(r.Primitive(PrimInt)).AddPointer()
	if !a.Equal(b) {
		t.Error("identical specifiers must compare equal")
	}
	b.Pointers[0].Const = true
	if a.Equal(b) {
		t.Error("cv difference must break equality")
	}
}
