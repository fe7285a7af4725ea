package types

import (
	"strings"

	"github.com/cwbudde/go-cxx/internal/ast"
)

// RefKind is the reference qualifier of a Specifier.
type RefKind uint8

const (
	NoRef RefKind = iota
	LValueRef
	RValueRef
)

// PtrLevel is one level of pointer indirection with its own cv-qualifiers.
type PtrLevel struct {
	Const    bool
	Volatile bool
}

// ArrayDim records one array extent. Count < 0 means unknown bound.
type ArrayDim struct {
	Count int64
}

// Signature is a function type: return, parameters, variadic flag.
type Signature struct {
	Return   Specifier
	Params   []Specifier
	Variadic bool
}

// Specifier is the as-written type on a declaration: a base type plus
// pointer levels, reference qualifier, cv on the base, declared bit width,
// array extents, and an optional function signature.
type Specifier struct {
	Base     TypeIndex
	Pointers []PtrLevel
	Arrays   []ArrayDim
	Ref      RefKind
	Const    bool
	Volatile bool
	BitWidth uint16
	Func     *Signature
}

// Spec is shorthand for a plain value specifier of a base type.
func Spec(base TypeIndex) Specifier { return Specifier{Base: base} }

// IsPointer reports whether the outermost level is a pointer.
func (s Specifier) IsPointer() bool { return len(s.Pointers) > 0 && len(s.Arrays) == 0 }

// IsReference reports whether the specifier is reference-qualified.
func (s Specifier) IsReference() bool { return s.Ref != NoRef }

// IsArray reports whether the specifier carries array extents.
func (s Specifier) IsArray() bool { return len(s.Arrays) > 0 }

// IsBoundedArray reports an array of known bound at the outermost extent.
func (s Specifier) IsBoundedArray() bool {
	return len(s.Arrays) > 0 && s.Arrays[0].Count >= 0
}

// IsUnboundedArray reports an array of unknown bound.
func (s Specifier) IsUnboundedArray() bool {
	return len(s.Arrays) > 0 && s.Arrays[0].Count < 0
}

// Deref returns the specifier with one pointer level removed.
func (s Specifier) Deref() Specifier {
	if len(s.Pointers) == 0 {
		return s
	}
	out := s
	out.Pointers = s.Pointers[:len(s.Pointers)-1]
	out.Ref = NoRef
	return out
}

// AddPointer returns the specifier with one pointer level added.
func (s Specifier) AddPointer() Specifier {
	out := s
	out.Pointers = append(append([]PtrLevel(nil), s.Pointers...), PtrLevel{})
	out.Ref = NoRef
	return out
}

// StripRef returns the specifier with any reference qualifier removed.
func (s Specifier) StripRef() Specifier {
	out := s
	out.Ref = NoRef
	return out
}

// StripCV returns the specifier with top-level cv removed. For pointer
// types the top level is the outermost pointer's cv.
func (s Specifier) StripCV() Specifier {
	out := s
	if n := len(out.Pointers); n > 0 {
		ptrs := append([]PtrLevel(nil), out.Pointers...)
		ptrs[n-1] = PtrLevel{}
		out.Pointers = ptrs
	} else {
		out.Const = false
		out.Volatile = false
	}
	return out
}

// Decay returns the specifier after array-to-pointer decay.
func (s Specifier) Decay() Specifier {
	if !s.IsArray() {
		return s.StripRef()
	}
	out := s
	out.Arrays = s.Arrays[1:]
	return out.AddPointer()
}

// Normalize collapses references and drops top-level cv on value
// parameters; instantiation-cache keys and overload comparison use the
// normalized form.
func (s Specifier) Normalize() Specifier {
	out := s
	if out.Ref != NoRef {
		out.Ref = NoRef
		return out
	}
	return out.StripCV()
}

// Equal reports structural equality of two specifiers.
func (s Specifier) Equal(o Specifier) bool {
	if s.Base != o.Base || s.Ref != o.Ref || s.Const != o.Const ||
		s.Volatile != o.Volatile || s.BitWidth != o.BitWidth ||
		len(s.Pointers) != len(o.Pointers) || len(s.Arrays) != len(o.Arrays) {
		return false
	}
	for i := range s.Pointers {
		if s.Pointers[i] != o.Pointers[i] {
			return false
		}
	}
	for i := range s.Arrays {
		if s.Arrays[i] != o.Arrays[i] {
			return false
		}
	}
	if (s.Func == nil) != (o.Func == nil) {
		return false
	}
	if s.Func != nil {
		if !s.Func.Return.Equal(o.Func.Return) || s.Func.Variadic != o.Func.Variadic ||
			len(s.Func.Params) != len(o.Func.Params) {
			return false
		}
		for i := range s.Func.Params {
			if !s.Func.Params[i].Equal(o.Func.Params[i]) {
				return false
			}
		}
	}
	return true
}

// SizeBits returns the value size of s in bits. Sizes do not vary by
// target.
func (r *Registry) SizeBits(s Specifier) uint32 {
	if s.IsReference() || s.IsPointer() || s.Func != nil {
		return 64
	}
	if s.IsArray() {
		if s.Arrays[0].Count < 0 {
			return 0
		}
		elem := s
		elem.Arrays = s.Arrays[1:]
		return uint32(s.Arrays[0].Count) * r.SizeBits(elem)
	}
	if s.BitWidth != 0 {
		return uint32(s.BitWidth)
	}
	return r.Get(s.Base).SizeBits
}

// AlignBits returns the alignment of s in bits.
func (r *Registry) AlignBits(s Specifier) uint32 {
	if s.IsReference() || s.IsPointer() || s.Func != nil {
		return 64
	}
	if s.IsArray() {
		elem := s
		elem.Arrays = nil
		return r.AlignBits(elem)
	}
	a := r.Get(s.Base).AlignBits
	if a == 0 {
		a = 8
	}
	return a
}

// String renders the specifier for diagnostics, suffix-style cv.
func (r *Registry) String(s Specifier) string {
	var sb strings.Builder
	if s.Const {
		sb.WriteString("const ")
	}
	if s.Volatile {
		sb.WriteString("volatile ")
	}
	sb.WriteString(r.table.Lookup(r.Get(s.Base).Name))
	for _, p := range s.Pointers {
		sb.WriteByte('*')
		if p.Const {
			sb.WriteString(" const")
		}
		if p.Volatile {
			sb.WriteString(" volatile")
		}
	}
	switch s.Ref {
	case LValueRef:
		sb.WriteByte('&')
	case RValueRef:
		sb.WriteString("&&")
	}
	for _, d := range s.Arrays {
		if d.Count < 0 {
			sb.WriteString("[]")
		} else {
			sb.WriteByte('[')
			sb.WriteString(itoa(d.Count))
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NodeForBase returns the AST declaration behind the base type.
func (r *Registry) NodeForBase(s Specifier) ast.NodeRef {
	return r.Get(s.Base).Node
}
