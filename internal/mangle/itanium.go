package mangle

import (
	"bytes"
	"fmt"

	"github.com/cwbudde/go-cxx/internal/types"
)

// Itanium returns the entity mangled per the Itanium C++ ABI.
//
// See: https://itanium-cxx-abi.github.io/cxx-abi/abi.html#mangling
func Itanium(reg *types.Registry, e *Entity) string {
	m := itaniumMangler{reg: reg, subs: map[string]int{}}
	m.WriteString("_Z")
	m.encoding(e)
	return m.String()
}

type itaniumMangler struct {
	bytes.Buffer
	reg  *types.Registry
	subs map[string]int
}

func (m *itaniumMangler) encoding(e *Entity) {
	m.name(e)
	m.bareFunctionType(e)
}

func (m *itaniumMangler) name(e *Entity) {
	scoped := len(e.Namespace) > 0 || e.Class != "" || e.Const || e.Volatile || e.Ref != types.NoRef
	if !scoped {
		m.unqualified(e)
		return
	}
	m.WriteByte('N')
	if e.Const {
		m.WriteByte('K')
	}
	if e.Volatile {
		m.WriteByte('V')
	}
	switch e.Ref {
	case types.LValueRef:
		m.WriteByte('R')
	case types.RValueRef:
		m.WriteByte('O')
	}
	for _, ns := range e.Namespace {
		m.source(ns)
	}
	if e.Class != "" {
		m.source(e.Class)
	}
	m.unqualifiedTerminal(e)
	m.WriteByte('E')
}

func (m *itaniumMangler) unqualified(e *Entity) {
	m.unqualifiedTerminal(e)
}

func (m *itaniumMangler) unqualifiedTerminal(e *Entity) {
	switch {
	case e.IsCtor:
		m.WriteString("C1")
	case e.IsDtor:
		m.WriteString("D1")
	default:
		m.source(e.Name)
	}
	if len(e.TemplateArgs) > 0 {
		m.WriteByte('I')
		for _, a := range e.TemplateArgs {
			m.templateArg(a)
		}
		m.WriteByte('E')
	}
}

func (m *itaniumMangler) source(s string) {
	fmt.Fprintf(m, "%d%s", len(s), s)
}

func (m *itaniumMangler) templateArg(a types.TemplateArg) {
	if a.IsType {
		m.typeOf(a.Type)
		return
	}
	// <expr-primary> ::= L <type> <value> E
	m.WriteByte('L')
	vt := a.ValueType
	if vt == types.Invalid {
		vt = m.reg.Primitive(types.PrimInt)
	}
	m.typeOf(types.Spec(vt))
	if a.Value < 0 {
		fmt.Fprintf(m, "n%d", -a.Value)
	} else {
		fmt.Fprintf(m, "%d", a.Value)
	}
	m.WriteByte('E')
}

// bareFunctionType mangles parameter types only; the return type is part
// of the encoding only for template functions, which this subset encodes
// through TemplateArgs on the name instead.
func (m *itaniumMangler) bareFunctionType(e *Entity) {
	if len(e.Params) == 0 && !e.Variadic {
		m.WriteByte('v')
		return
	}
	for _, p := range e.Params {
		m.typeOf(p)
	}
	if e.Variadic {
		m.WriteByte('z')
	}
}

var itaniumPrim = map[types.Prim]string{
	types.PrimVoid:       "v",
	types.PrimBool:       "b",
	types.PrimChar:       "c",
	types.PrimSChar:      "a",
	types.PrimUChar:      "h",
	types.PrimChar8:      "Du",
	types.PrimChar16:     "Ds",
	types.PrimChar32:     "Di",
	types.PrimWChar:      "w",
	types.PrimShort:      "s",
	types.PrimUShort:     "t",
	types.PrimInt:        "i",
	types.PrimUInt:       "j",
	types.PrimLong:       "l",
	types.PrimULong:      "m",
	types.PrimLongLong:   "x",
	types.PrimULongLong:  "y",
	types.PrimFloat:      "f",
	types.PrimDouble:     "d",
	types.PrimLongDouble: "e",
	types.PrimNullptr:    "Dn",
}

// typeOf mangles a specifier, maintaining the substitution table for
// compound types.
func (m *itaniumMangler) typeOf(s types.Specifier) {
	text := m.renderType(s)
	if len(text) > 1 {
		if idx, ok := m.subs[text]; ok {
			m.writeSub(idx)
			return
		}
		m.subs[text] = len(m.subs)
	}
	m.WriteString(text)
}

func (m *itaniumMangler) writeSub(idx int) {
	if idx == 0 {
		m.WriteString("S_")
		return
	}
	fmt.Fprintf(m, "S%d_", idx-1)
}

// renderType produces the unsubstituted spelling of a specifier.
// Qualifiers nest right-to-left: `const int*` is PKi.
func (m *itaniumMangler) renderType(s types.Specifier) string {
	var b bytes.Buffer

	switch s.Ref {
	case types.LValueRef:
		b.WriteByte('R')
	case types.RValueRef:
		b.WriteByte('O')
	}
	for i := len(s.Pointers) - 1; i >= 0; i-- {
		b.WriteByte('P')
		if s.Pointers[i].Const {
			b.WriteByte('K')
		}
		if s.Pointers[i].Volatile {
			b.WriteByte('V')
		}
	}
	for _, d := range s.Arrays {
		if d.Count >= 0 {
			fmt.Fprintf(&b, "A%d_", d.Count)
		} else {
			b.WriteString("A_")
		}
	}
	if s.Const {
		b.WriteByte('K')
	}
	if s.Volatile {
		b.WriteByte('V')
	}

	if s.Func != nil {
		b.WriteByte('F')
		b.WriteString(m.renderType(s.Func.Return))
		if len(s.Func.Params) == 0 {
			b.WriteByte('v')
		}
		for _, p := range s.Func.Params {
			b.WriteString(m.renderType(p))
		}
		b.WriteByte('E')
		return b.String()
	}

	info := m.reg.Get(s.Base)
	switch info.Kind {
	case types.KindPrimitive:
		b.WriteString(itaniumPrim[info.Prim])
	case types.KindFunctionPtr:
		b.WriteString("PF")
		b.WriteString(m.renderType(info.Fn.Return))
		if len(info.Fn.Params) == 0 {
			b.WriteByte('v')
		}
		for _, p := range info.Fn.Params {
			b.WriteString(m.renderType(p))
		}
		b.WriteByte('E')
	default:
		name := m.reg.Table().Lookup(info.Name)
		fmt.Fprintf(&b, "%d%s", len(name), name)
	}
	return b.String()
}

// ItaniumTypeDescriptorName returns the `_ZTI...` symbol of a type's RTTI
// descriptor on ELF targets.
func ItaniumTypeDescriptorName(reg *types.Registry, s types.Specifier) string {
	m := itaniumMangler{reg: reg, subs: map[string]int{}}
	return "_ZTI" + m.renderType(s.Normalize())
}

// ItaniumVTableName returns the `_ZTV...` symbol of a class vtable.
func ItaniumVTableName(reg *types.Registry, s types.Specifier) string {
	m := itaniumMangler{reg: reg, subs: map[string]int{}}
	return "_ZTV" + m.renderType(s.Normalize())
}

// ItaniumTypeName mangles just a type spelling (used in LSDA tables).
func ItaniumTypeName(reg *types.Registry, s types.Specifier) string {
	m := itaniumMangler{reg: reg, subs: map[string]int{}}
	return m.renderType(s)
}
