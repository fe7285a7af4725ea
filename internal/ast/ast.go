// Package ast defines the compiler's abstract syntax tree.
//
// Nodes live in a chunked, monotonically growing arena; a NodeRef is a
// stable index into it and the thin *Node pointers handed out by Get stay
// valid for the whole run. Back-edges between nodes (member function to its
// class, instantiation to its base template) are always NodeRefs, never
// pointers. Nodes are structurally immutable after creation except through
// the narrow mutation points at the bottom of this file.
package ast

import (
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
)

// NodeRef is a stable index of a node in its arena. 0 is the invalid ref.
type NodeRef uint32

// Nil is the invalid node reference.
const Nil NodeRef = 0

// NodeKind discriminates the tagged Node variant.
type NodeKind uint8

const (
	Invalid NodeKind = iota

	// Expressions.
	IntLit
	FloatLit
	CharLit
	StringLit
	BoolLit
	NullptrLit
	Ident
	QualifiedIdent
	BinaryExpr
	UnaryExpr
	AssignExpr
	CompoundAssignExpr
	IncDecExpr
	ConditionalExpr
	CommaExpr
	CallExpr
	MemberCallExpr
	MemberExpr
	ArrowExpr
	IndexExpr
	StaticCastExpr
	DynamicCastExpr
	ReinterpretCastExpr
	ConstCastExpr
	CStyleCastExpr
	FunctionalCastExpr
	NewExpr
	NewArrayExpr
	PlacementNewExpr
	DeleteExpr
	DeleteArrayExpr
	ThrowExpr
	TypeidExpr
	SizeofExpr
	AlignofExpr
	LambdaExpr
	LambdaCapture
	RequiresExpr
	RequirementClause
	TraitExpr
	PackExpansionExpr
	InitListExpr
	ThisExpr

	// Declarations.
	TranslationUnit
	NamespaceDecl
	VarDecl
	ParamDecl
	FunctionDecl
	ClassDecl
	UnionDecl
	EnumDecl
	EnumeratorDecl
	FieldDecl
	BaseSpecifier
	AccessSpecifier
	TypedefDecl
	AliasDecl
	UsingDecl
	TemplateDecl
	TypeParamDecl
	NonTypeParamDecl
	TemplateTemplateParamDecl
	PartialSpecializationDecl
	ExplicitSpecializationDecl
	FriendDecl
	StaticAssertDecl
	LinkageSpecDecl

	// Statements.
	CompoundStmt
	ExprStmt
	DeclStmt
	IfStmt
	SwitchStmt
	CaseStmt
	DefaultStmt
	WhileStmt
	DoStmt
	ForStmt
	RangeForStmt
	BreakStmt
	ContinueStmt
	ReturnStmt
	GotoStmt
	LabelStmt
	TryStmt
	CatchClause
	SehTryStmt
	SehExceptClause
	SehFinallyClause
	SehLeaveStmt
	EmptyStmt

	// Type specifiers (the as-written form on declarations).
	TypeSpec
	PointerSpec
	ReferenceSpec
	FunctionSpec
	ArraySpec
	TemplateIdSpec
	DecltypeSpec
	AutoSpec

	numNodeKinds
)

var kindNames = [...]string{
	Invalid:                    "Invalid",
	IntLit:                     "IntLit",
	FloatLit:                   "FloatLit",
	CharLit:                    "CharLit",
	StringLit:                  "StringLit",
	BoolLit:                    "BoolLit",
	NullptrLit:                 "NullptrLit",
	Ident:                      "Ident",
	QualifiedIdent:             "QualifiedIdent",
	BinaryExpr:                 "BinaryExpr",
	UnaryExpr:                  "UnaryExpr",
	AssignExpr:                 "AssignExpr",
	CompoundAssignExpr:         "CompoundAssignExpr",
	IncDecExpr:                 "IncDecExpr",
	ConditionalExpr:            "ConditionalExpr",
	CommaExpr:                  "CommaExpr",
	CallExpr:                   "CallExpr",
	MemberCallExpr:             "MemberCallExpr",
	MemberExpr:                 "MemberExpr",
	ArrowExpr:                  "ArrowExpr",
	IndexExpr:                  "IndexExpr",
	StaticCastExpr:             "StaticCastExpr",
	DynamicCastExpr:            "DynamicCastExpr",
	ReinterpretCastExpr:        "ReinterpretCastExpr",
	ConstCastExpr:              "ConstCastExpr",
	CStyleCastExpr:             "CStyleCastExpr",
	FunctionalCastExpr:         "FunctionalCastExpr",
	NewExpr:                    "NewExpr",
	NewArrayExpr:               "NewArrayExpr",
	PlacementNewExpr:           "PlacementNewExpr",
	DeleteExpr:                 "DeleteExpr",
	DeleteArrayExpr:            "DeleteArrayExpr",
	ThrowExpr:                  "ThrowExpr",
	TypeidExpr:                 "TypeidExpr",
	SizeofExpr:                 "SizeofExpr",
	AlignofExpr:                "AlignofExpr",
	LambdaExpr:                 "LambdaExpr",
	LambdaCapture:              "LambdaCapture",
	RequiresExpr:               "RequiresExpr",
	RequirementClause:          "RequirementClause",
	TraitExpr:                  "TraitExpr",
	PackExpansionExpr:          "PackExpansionExpr",
	InitListExpr:               "InitListExpr",
	ThisExpr:                   "ThisExpr",
	TranslationUnit:            "TranslationUnit",
	NamespaceDecl:              "NamespaceDecl",
	VarDecl:                    "VarDecl",
	ParamDecl:                  "ParamDecl",
	FunctionDecl:               "FunctionDecl",
	ClassDecl:                  "ClassDecl",
	UnionDecl:                  "UnionDecl",
	EnumDecl:                   "EnumDecl",
	EnumeratorDecl:             "EnumeratorDecl",
	FieldDecl:                  "FieldDecl",
	BaseSpecifier:              "BaseSpecifier",
	AccessSpecifier:            "AccessSpecifier",
	TypedefDecl:                "TypedefDecl",
	AliasDecl:                  "AliasDecl",
	UsingDecl:                  "UsingDecl",
	TemplateDecl:               "TemplateDecl",
	TypeParamDecl:              "TypeParamDecl",
	NonTypeParamDecl:           "NonTypeParamDecl",
	TemplateTemplateParamDecl:  "TemplateTemplateParamDecl",
	PartialSpecializationDecl:  "PartialSpecializationDecl",
	ExplicitSpecializationDecl: "ExplicitSpecializationDecl",
	FriendDecl:                 "FriendDecl",
	StaticAssertDecl:           "StaticAssertDecl",
	LinkageSpecDecl:            "LinkageSpecDecl",
	CompoundStmt:               "CompoundStmt",
	ExprStmt:                   "ExprStmt",
	DeclStmt:                   "DeclStmt",
	IfStmt:                     "IfStmt",
	SwitchStmt:                 "SwitchStmt",
	CaseStmt:                   "CaseStmt",
	DefaultStmt:                "DefaultStmt",
	WhileStmt:                  "WhileStmt",
	DoStmt:                     "DoStmt",
	ForStmt:                    "ForStmt",
	RangeForStmt:               "RangeForStmt",
	BreakStmt:                  "BreakStmt",
	ContinueStmt:               "ContinueStmt",
	ReturnStmt:                 "ReturnStmt",
	GotoStmt:                   "GotoStmt",
	LabelStmt:                  "LabelStmt",
	TryStmt:                    "TryStmt",
	CatchClause:                "CatchClause",
	SehTryStmt:                 "SehTryStmt",
	SehExceptClause:            "SehExceptClause",
	SehFinallyClause:           "SehFinallyClause",
	SehLeaveStmt:               "SehLeaveStmt",
	EmptyStmt:                  "EmptyStmt",
	TypeSpec:                   "TypeSpec",
	PointerSpec:                "PointerSpec",
	ReferenceSpec:              "ReferenceSpec",
	FunctionSpec:               "FunctionSpec",
	ArraySpec:                  "ArraySpec",
	TemplateIdSpec:             "TemplateIdSpec",
	DecltypeSpec:               "DecltypeSpec",
	AutoSpec:                   "AutoSpec",
}

func (k NodeKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "NodeKind?"
}

// Flags carry the boolean properties of a node. Which bits are meaningful
// depends on the kind.
type Flags uint32

const (
	FlagVirtual Flags = 1 << iota
	FlagPureVirtual
	FlagOverride
	FlagFinal
	FlagStatic
	FlagConst
	FlagVolatile
	FlagConstexpr
	FlagConsteval
	FlagInline
	FlagExplicit
	FlagDeleted
	FlagDefaulted
	FlagNoexcept
	FlagVariadic
	FlagMutable
	FlagPrefix     // IncDecExpr: ++x rather than x++
	FlagByRef      // LambdaCapture: captured by reference
	FlagUnion      // ClassDecl parsed from `union`
	FlagStruct     // ClassDecl parsed from `struct` (default public)
	FlagScopedEnum // EnumDecl: `enum class`
	FlagDllExport
	FlagPack // ParamDecl / TypeParamDecl: parameter pack
	FlagLValueRef
	FlagRValueRef
	FlagDefinition // declaration carries a body/definition
	FlagCtor
	FlagDtor
)

// Access is a member access level.
type Access uint8

const (
	Public Access = iota
	Protected
	Private
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Protected:
		return "protected"
	}
	return "private"
}

// Node is the tagged variant for every AST alternative. The meaning of the
// generic slots per kind is documented next to the kind's builder in the
// parser; by convention A/B/C are operand-ish children (condition, lhs,
// body) and Kids is the variable-length child list (statements, arguments,
// members, parameters).
type Node struct {
	Kind    NodeKind
	Access  Access
	Flags   Flags
	Tok     token.Token
	Name    intern.Handle
	Mangled intern.Handle
	A, B, C NodeRef
	Kids    []NodeRef
	IVal    int64
	FVal    float64
}

// Is reports whether f is set.
func (n *Node) Is(f Flags) bool { return n.Flags&f != 0 }

const chunkShift = 9 // 512 nodes per chunk

// Arena is the monotonic node allocator. Chunked backing keeps *Node
// pointers stable across growth; entries are never moved or freed.
type Arena struct {
	chunks [][]Node
	n      uint32
}

// NewArena creates an arena whose slot 0 is a permanently Invalid node, so
// NodeRef 0 never names real content.
func NewArena() *Arena {
	a := &Arena{}
	a.New(Invalid, token.Token{})
	return a
}

// New allocates a node of the given kind and returns its reference.
func (a *Arena) New(kind NodeKind, tok token.Token) NodeRef {
	ci := int(a.n >> chunkShift)
	if ci == len(a.chunks) {
		a.chunks = append(a.chunks, make([]Node, 0, 1<<chunkShift))
	}
	a.chunks[ci] = append(a.chunks[ci], Node{Kind: kind, Tok: tok})
	r := NodeRef(a.n)
	a.n++
	return r
}

// Get returns the node for r. The pointer stays valid for the process
// lifetime. Get(Nil) returns the arena's invalid node.
func (a *Arena) Get(r NodeRef) *Node {
	return &a.chunks[r>>chunkShift][r&(1<<chunkShift-1)]
}

// Kind returns the kind of r without exposing the node.
func (a *Arena) Kind(r NodeRef) NodeKind { return a.Get(r).Kind }

// Len returns the number of allocated nodes including the invalid slot.
func (a *Arena) Len() int { return int(a.n) }

// Mutation points. Everything else about a node is frozen at creation.

// AttachBody records a definition body on a function or template
// declaration. Attaching twice is an internal error and panics.
func (a *Arena) AttachBody(decl, body NodeRef) {
	n := a.Get(decl)
	if n.B != Nil {
		panic("ast: body attached twice")
	}
	n.B = body
	n.Flags |= FlagDefinition
}

// AttachMangledName records the canonical mangled name of a function. The
// name is computed once and never recomputed.
func (a *Arena) AttachMangledName(decl NodeRef, mangled intern.Handle) {
	n := a.Get(decl)
	if n.Mangled == intern.Invalid {
		n.Mangled = mangled
	}
}

// MarkDeleted flags a function as `= delete`.
func (a *Arena) MarkDeleted(decl NodeRef) { a.Get(decl).Flags |= FlagDeleted }

// MarkDefaulted flags a function as `= default`.
func (a *Arena) MarkDefaulted(decl NodeRef) { a.Get(decl).Flags |= FlagDefaulted }

// AppendMemberFunction records a member function onto its class node.
func (a *Arena) AppendMemberFunction(class, fn NodeRef) {
	n := a.Get(class)
	n.Kids = append(n.Kids, fn)
}
