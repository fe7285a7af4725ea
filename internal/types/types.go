// Package types implements the global type registry.
//
// TypeInfo entries live in an append-only vector keyed by TypeIndex; an
// index is never reassigned and instantiations only append. The registry
// also owns the expression-type side table the IR builder reads, and
// answers every `__is_*` trait query the template engine evaluates.
package types

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
)

// TypeIndex keys the global TypeInfo vector. 0 is invalid.
type TypeIndex uint32

// Invalid is the reserved zero index.
const Invalid TypeIndex = 0

// Kind is the coarse classification of a TypeInfo entry.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindPrimitive
	KindStruct // struct, class, union, closure
	KindEnum
	KindFunctionPtr
	KindInstantiation
	KindTemplateParam // deduction placeholder injected while a template parses
)

// Prim identifies a primitive type.
type Prim uint8

const (
	PrimNone Prim = iota
	PrimVoid
	PrimBool
	PrimChar
	PrimSChar
	PrimUChar
	PrimChar8
	PrimChar16
	PrimChar32
	PrimWChar
	PrimShort
	PrimUShort
	PrimInt
	PrimUInt
	PrimLong
	PrimULong
	PrimLongLong
	PrimULongLong
	PrimFloat
	PrimDouble
	PrimLongDouble
	PrimNullptr
)

// Phase is the class-template instantiation phase of a struct entry.
type Phase uint8

const (
	PhaseNone    Phase = iota
	PhaseForward       // the type exists; size and alignment unknown
	PhaseLayout        // data members and bases laid out; size fixed
	PhaseFull          // member function signatures instantiated
)

// TemplateArg is one element of a concrete template argument vector: a type
// or an integral constant (int, bool, enum).
type TemplateArg struct {
	IsType bool
	Type   Specifier
	Value  int64
	// ValueType gives the declared type of a non-type argument so equal
	// values of different enums stay distinct.
	ValueType TypeIndex
}

// TypeInfo is one entry of the global type vector.
type TypeInfo struct {
	Kind      Kind
	Prim      Prim
	Name      intern.Handle
	SizeBits  uint32
	AlignBits uint32
	Node      ast.NodeRef // originating AST declaration
	Struct    *StructInfo
	Enum      *EnumInfo
	Fn        *Signature // KindFunctionPtr

	// Instantiation back-link.
	BaseTemplate intern.Handle // qualified template name
	Args         []TemplateArg
}

// EnumInfo carries enumerators and the underlying type.
type EnumInfo struct {
	Underlying TypeIndex
	Scoped     bool
	Names      []intern.Handle
	Values     []int64
}

// Registry is the append-only type table for one translation unit.
type Registry struct {
	infos  []TypeInfo
	byName map[intern.Handle]TypeIndex
	table  *intern.Table
	arena  *ast.Arena

	// ExprTypes records the computed type of each typed expression node.
	// It is the forward hand-off from the semantic front end to the IR
	// builder.
	ExprTypes map[ast.NodeRef]Specifier

	prims map[Prim]TypeIndex
}

// NewRegistry creates a registry pre-seeded with the primitive types. The
// arena is consulted read-only for declaration flags behind trait queries.
func NewRegistry(table *intern.Table, arena *ast.Arena) *Registry {
	r := &Registry{
		infos:     make([]TypeInfo, 1, 128), // slot 0 stays invalid
		byName:    make(map[intern.Handle]TypeIndex, 128),
		table:     table,
		arena:     arena,
		ExprTypes: make(map[ast.NodeRef]Specifier, 256),
		prims:     make(map[Prim]TypeIndex, 32),
	}
	for _, p := range []struct {
		prim Prim
		name string
		bits uint32
	}{
		{PrimVoid, "void", 0},
		{PrimBool, "bool", 8},
		{PrimChar, "char", 8},
		{PrimSChar, "signed char", 8},
		{PrimUChar, "unsigned char", 8},
		{PrimChar8, "char8_t", 8},
		{PrimChar16, "char16_t", 16},
		{PrimChar32, "char32_t", 32},
		{PrimWChar, "wchar_t", 16},
		{PrimShort, "short", 16},
		{PrimUShort, "unsigned short", 16},
		{PrimInt, "int", 32},
		{PrimUInt, "unsigned int", 32},
		{PrimLong, "long", 32},
		{PrimULong, "unsigned long", 32},
		{PrimLongLong, "long long", 64},
		{PrimULongLong, "unsigned long long", 64},
		{PrimFloat, "float", 32},
		{PrimDouble, "double", 64},
		{PrimLongDouble, "long double", 64},
		{PrimNullptr, "decltype(nullptr)", 64},
	} {
		idx := r.append(TypeInfo{
			Kind:      KindPrimitive,
			Prim:      p.prim,
			Name:      table.Intern(p.name),
			SizeBits:  p.bits,
			AlignBits: p.bits,
		})
		r.prims[p.prim] = idx
	}
	return r
}

func (r *Registry) append(info TypeInfo) TypeIndex {
	idx := TypeIndex(len(r.infos))
	r.infos = append(r.infos, info)
	// Deduction placeholders are scoped to their template; they never enter
	// the global name map.
	if info.Name != intern.Invalid && info.Kind != KindTemplateParam {
		if _, exists := r.byName[info.Name]; !exists {
			r.byName[info.Name] = idx
		}
	}
	return idx
}

// Get returns the TypeInfo for idx. The pointer is only guaranteed valid
// until the next append; persistent references must hold the TypeIndex.
func (r *Registry) Get(idx TypeIndex) *TypeInfo {
	if idx == Invalid || int(idx) >= len(r.infos) {
		return &r.infos[0]
	}
	return &r.infos[idx]
}

// Table returns the intern table the registry resolves names against.
func (r *Registry) Table() *intern.Table { return r.table }

// Len returns the number of entries including the invalid slot.
func (r *Registry) Len() int { return len(r.infos) }

// Primitive returns the index of a primitive type.
func (r *Registry) Primitive(p Prim) TypeIndex { return r.prims[p] }

// ByName resolves a type name handle to its index, or Invalid.
func (r *Registry) ByName(name intern.Handle) TypeIndex {
	return r.byName[name]
}

// AliasName registers an additional spelling for an existing type, such
// as the qualified `Outer::Inner` form of a nested class. First writer
// wins, matching declaration order.
func (r *Registry) AliasName(name intern.Handle, idx TypeIndex) {
	if name == intern.Invalid || idx == Invalid {
		return
	}
	if _, exists := r.byName[name]; !exists {
		r.byName[name] = idx
	}
}

// ByNameString resolves a spelled type name.
func (r *Registry) ByNameString(name string) TypeIndex {
	if !r.table.Has(name) {
		return Invalid
	}
	return r.byName[r.table.Intern(name)]
}

// DeclareStruct appends a struct/class entry in the Forward phase and
// returns its index. Size and alignment stay unknown until Layout runs.
func (r *Registry) DeclareStruct(name intern.Handle, node ast.NodeRef, isUnion bool) TypeIndex {
	return r.append(TypeInfo{
		Kind: KindStruct,
		Name: name,
		Node: node,
		Struct: &StructInfo{
			Phase:   PhaseForward,
			IsUnion: isUnion,
		},
	})
}

// DeclareEnum appends an enum entry.
func (r *Registry) DeclareEnum(name intern.Handle, node ast.NodeRef, underlying TypeIndex, scoped bool) TypeIndex {
	if underlying == Invalid {
		underlying = r.Primitive(PrimInt)
	}
	u := r.Get(underlying)
	return r.append(TypeInfo{
		Kind:      KindEnum,
		Name:      name,
		Node:      node,
		SizeBits:  u.SizeBits,
		AlignBits: u.AlignBits,
		Enum:      &EnumInfo{Underlying: underlying, Scoped: scoped},
	})
}

// DeclareFunctionPtr appends a function-pointer entry for sig.
func (r *Registry) DeclareFunctionPtr(name intern.Handle, sig *Signature) TypeIndex {
	return r.append(TypeInfo{
		Kind:      KindFunctionPtr,
		Name:      name,
		SizeBits:  64,
		AlignBits: 64,
		Fn:        sig,
	})
}

// DeclareInstantiation appends an entry for a concrete template
// instantiation. The entry starts in the Forward phase.
func (r *Registry) DeclareInstantiation(name intern.Handle, node ast.NodeRef, base intern.Handle, args []TemplateArg) TypeIndex {
	return r.append(TypeInfo{
		Kind:         KindInstantiation,
		Name:         name,
		Node:         node,
		BaseTemplate: base,
		Args:         args,
		Struct: &StructInfo{
			Phase: PhaseForward,
		},
	})
}

// DeclareTemplateParam appends a deduction placeholder for a template type
// parameter. Deduction maps the placeholder index to a concrete specifier.
func (r *Registry) DeclareTemplateParam(name intern.Handle) TypeIndex {
	return r.append(TypeInfo{
		Kind:      KindTemplateParam,
		Name:      name,
		SizeBits:  0,
		AlignBits: 0,
	})
}

// IsTemplateParam reports a deduction placeholder.
func (r *Registry) IsTemplateParam(idx TypeIndex) bool {
	return r.Get(idx).Kind == KindTemplateParam
}

// SetExprType records the computed type of a typed expression node.
func (r *Registry) SetExprType(n ast.NodeRef, s Specifier) { r.ExprTypes[n] = s }

// ExprType returns the recorded type of n.
func (r *Registry) ExprType(n ast.NodeRef) (Specifier, bool) {
	s, ok := r.ExprTypes[n]
	return s, ok
}
