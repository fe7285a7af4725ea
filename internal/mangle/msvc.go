package mangle

import (
	"bytes"
	"fmt"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/types"
)

// MSVC returns the entity mangled per the Microsoft Visual C++ scheme as
// the platform demangler (undname) accepts it for x64.
//
// Layout: ? <name> @ <scope path, innermost first> @@ <kind> <qualifiers>
// <return type> <parameter types> @ Z
func MSVC(reg *types.Registry, e *Entity) string {
	m := msvcMangler{reg: reg}
	m.WriteByte('?')
	switch {
	case e.IsCtor:
		m.WriteString("?0")
	case e.IsDtor:
		m.WriteString("?1")
	case len(e.TemplateArgs) > 0:
		// Template instance names embed their argument list.
		m.WriteString("?$")
		m.WriteString(e.Name)
		m.WriteByte('@')
		for _, a := range e.TemplateArgs {
			m.templateArg(a)
		}
		m.WriteByte('@')
	default:
		m.WriteString(e.Name)
		m.WriteByte('@')
	}
	// Scope path, innermost first.
	if e.Class != "" {
		m.WriteString(e.Class)
		m.WriteByte('@')
	}
	for i := len(e.Namespace) - 1; i >= 0; i-- {
		m.WriteString(e.Namespace[i])
		m.WriteByte('@')
	}
	m.WriteByte('@')

	if e.Class != "" && !e.Static {
		// Member function: access code + __ptr64 + calling convention.
		m.WriteByte(msvcMemberCode(e.Access))
		m.WriteByte('E')
		if e.Const {
			m.WriteByte('B')
		} else {
			m.WriteByte('A')
		}
		m.WriteByte('A')
	} else {
		// Free or static member function, __cdecl.
		if e.Class != "" {
			m.WriteByte(msvcStaticCode(e.Access))
		} else {
			m.WriteByte('Y')
		}
		m.WriteByte('A')
	}

	if e.IsCtor || e.IsDtor {
		m.WriteByte('@') // no return type slot
	} else {
		m.typeOf(e.Return)
	}
	if len(e.Params) == 0 {
		m.WriteByte('X')
	} else {
		for _, p := range e.Params {
			m.typeOf(p)
		}
		if e.Variadic {
			m.WriteByte('Z')
		} else {
			m.WriteByte('@')
		}
	}
	m.WriteByte('Z')
	return m.String()
}

type msvcMangler struct {
	bytes.Buffer
	reg *types.Registry
}

func msvcMemberCode(a ast.Access) byte {
	switch a {
	case ast.Private:
		return 'A'
	case ast.Protected:
		return 'I'
	}
	return 'Q'
}

func msvcStaticCode(a ast.Access) byte {
	switch a {
	case ast.Private:
		return 'C'
	case ast.Protected:
		return 'K'
	}
	return 'S'
}

var msvcPrim = map[types.Prim]string{
	types.PrimVoid:       "X",
	types.PrimBool:       "_N",
	types.PrimChar:       "D",
	types.PrimSChar:      "C",
	types.PrimUChar:      "E",
	types.PrimChar8:      "_Q",
	types.PrimChar16:     "_S",
	types.PrimChar32:     "_U",
	types.PrimWChar:      "_W",
	types.PrimShort:      "F",
	types.PrimUShort:     "G",
	types.PrimInt:        "H",
	types.PrimUInt:       "I",
	types.PrimLong:       "J",
	types.PrimULong:      "K",
	types.PrimLongLong:   "_J",
	types.PrimULongLong:  "_K",
	types.PrimFloat:      "M",
	types.PrimDouble:     "N",
	types.PrimLongDouble: "O",
	types.PrimNullptr:    "$$T",
}

func (m *msvcMangler) typeOf(s types.Specifier) {
	m.WriteString(m.renderType(s))
}

func (m *msvcMangler) renderType(s types.Specifier) string {
	var b bytes.Buffer

	switch s.Ref {
	case types.LValueRef:
		b.WriteString("AEA")
	case types.RValueRef:
		b.WriteString("$$QEA")
	}
	for i := len(s.Pointers) - 1; i >= 0; i-- {
		b.WriteString("PE")
		switch {
		case s.Pointers[i].Const && s.Pointers[i].Volatile:
			b.WriteByte('D')
		case s.Pointers[i].Const:
			b.WriteByte('B')
		case s.Pointers[i].Volatile:
			b.WriteByte('C')
		default:
			b.WriteByte('A')
		}
	}
	if s.Const && (s.IsPointer() || s.IsReference()) {
		// const on the pointee rides on the base spelling below via $$C.
		b.WriteString("$$C")
		b.WriteByte('B')
	}

	info := m.reg.Get(s.Base)
	switch info.Kind {
	case types.KindPrimitive:
		b.WriteString(msvcPrim[info.Prim])
	case types.KindEnum:
		b.WriteString("W4")
		b.WriteString(m.reg.Table().Lookup(info.Name))
		b.WriteString("@@")
	case types.KindFunctionPtr:
		b.WriteString("P6A")
		b.WriteString(m.renderType(info.Fn.Return))
		if len(info.Fn.Params) == 0 {
			b.WriteByte('X')
		} else {
			for _, p := range info.Fn.Params {
				b.WriteString(m.renderType(p))
			}
			b.WriteByte('@')
		}
		b.WriteByte('Z')
	default:
		switch {
		case info.Struct != nil && info.Struct.IsUnion:
			b.WriteString("T")
		case m.reg.NodeFlags(info.Node)&ast.FlagStruct != 0:
			b.WriteString("U")
		default:
			b.WriteString("V")
		}
		b.WriteString(m.reg.Table().Lookup(info.Name))
		b.WriteString("@@")
	}
	return b.String()
}

func (m *msvcMangler) templateArg(a types.TemplateArg) {
	if a.IsType {
		m.WriteString(m.renderType(a.Type))
		return
	}
	fmt.Fprintf(m, "$0%s", encodeMSVCNumber(a.Value))
}

// encodeMSVCNumber is the scheme's number encoding: 1..10 are literal
// digits 0..9; larger values use hex letters A..P terminated by @.
func encodeMSVCNumber(v int64) string {
	if v >= 1 && v <= 10 {
		return string([]byte{byte('0' + v - 1)})
	}
	var b bytes.Buffer
	if v < 0 {
		b.WriteByte('?')
		v = -v
	}
	if v == 0 {
		b.WriteString("A@")
		return b.String()
	}
	var digits []byte
	for v > 0 {
		digits = append(digits, byte('A'+v&0xF))
		v >>= 4
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
	b.WriteByte('@')
	return b.String()
}

// MSVCTypeDescriptorName returns the `??_R0?AV<name>@@@8` symbol of a
// type descriptor on COFF targets.
func MSVCTypeDescriptorName(reg *types.Registry, s types.Specifier) string {
	m := msvcMangler{reg: reg}
	return "??_R0?A" + m.renderType(s.Normalize()) + "@8"
}

// MSVCRawTypeName returns the `.?AV<name>@@` string stored inside a type
// descriptor.
func MSVCRawTypeName(reg *types.Registry, s types.Specifier) string {
	m := msvcMangler{reg: reg}
	return ".?A" + m.renderType(s.Normalize())
}

// MSVCVTableName returns the `??_7<name>@@6B@` vftable symbol.
func MSVCVTableName(reg *types.Registry, s types.Specifier) string {
	name := reg.Table().Lookup(reg.Get(s.Base).Name)
	return "??_7" + name + "@@6B@"
}

// MSVCThrowInfoName returns the `_TI`-style throw-info symbol for a thrown
// type.
func MSVCThrowInfoName(reg *types.Registry, s types.Specifier) string {
	m := msvcMangler{reg: reg}
	return "_TI1?A" + m.renderType(s.Normalize())
}

// MSVCCatchableArrayName returns the catchable-type-array symbol.
func MSVCCatchableArrayName(reg *types.Registry, s types.Specifier) string {
	m := msvcMangler{reg: reg}
	return "_CTA1" + m.renderType(s.Normalize())
}

// MSVCCatchableTypeName returns the catchable-type symbol.
func MSVCCatchableTypeName(reg *types.Registry, s types.Specifier) string {
	m := msvcMangler{reg: reg}
	return "_CT??" + m.renderType(s.Normalize())
}
