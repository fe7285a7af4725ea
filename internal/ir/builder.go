package ir

import (
	"fmt"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

type tokenType = token.Token

var tokenOfNone = token.Token{}

// Target selects platform-dependent lowering rules.
type Target uint8

const (
	TargetWindows Target = iota
	TargetLinux
)

// SmallStructBits is the largest by-value struct return that stays in
// registers; anything larger returns through a hidden slot.
func (t Target) SmallStructBits() uint32 {
	if t == TargetWindows {
		return 64
	}
	return 128
}

// StringData is one literal destined for .rdata/.rodata.
type StringData struct {
	Label intern.Handle
	Text  intern.Handle
}

// Module is the IR of one translation unit: functions in the order their
// definitions completed, plus globals and string literals.
type Module struct {
	Functions []*Function
	Globals   []GlobalOp
	Strings   []StringData
	// Exported lists the mangled names of dllexport functions for the
	// linker-directive section.
	Exported []intern.Handle
	// ThrownTypes lists each distinct type a Throw references, in first
	// throw order; the writer builds one throw-info image per entry.
	ThrownTypes []types.Specifier
}

// Builder lowers concrete AST to IR, one function at a time.
type Builder struct {
	arena  *ast.Arena
	reg    *types.Registry
	table  *intern.Table
	target Target

	mod *Module
	fn  *Function

	scopes   []scopeFrame
	loops    []loopFrame
	sehDepth int

	// Funclet labels of enclosing __finally regions, innermost last.
	finallyStack []int

	strSeq   int
	tmpSeq   int
	declSeen map[intern.Handle]bool
	globals  map[intern.Handle]bool

	err *errors.CompilerError
}

type scopeFrame struct {
	// Pending destructor calls, emitted in reverse construction order on
	// scope exit. Deferred across an SehFinallyBegin boundary.
	dtors    []DtorOp
	deferred bool
}

type loopFrame struct {
	start, end, cont int
	sehDepth         int
}

// NewBuilder creates a builder over the front end's output.
func NewBuilder(arena *ast.Arena, reg *types.Registry, table *intern.Table, target Target) *Builder {
	return &Builder{
		arena:    arena,
		reg:      reg,
		table:    table,
		target:   target,
		mod:      &Module{},
		declSeen: map[intern.Handle]bool{},
		globals:  map[intern.Handle]bool{},
	}
}

func (b *Builder) node(r ast.NodeRef) *ast.Node { return b.arena.Get(r) }

// Build walks the translation unit plus any template-instantiation roots
// and returns the module IR. Function emissions appear in the order their
// definitions completed.
func (b *Builder) Build(roots ...ast.NodeRef) (*Module, *errors.CompilerError) {
	for _, r := range roots {
		b.walkDecls(r)
	}
	return b.mod, b.err
}

func (b *Builder) walkDecls(r ast.NodeRef) {
	if r == ast.Nil || b.err != nil {
		return
	}
	n := b.node(r)
	switch n.Kind {
	case ast.TranslationUnit, ast.NamespaceDecl, ast.LinkageSpecDecl:
		for _, k := range n.Kids {
			b.walkDecls(k)
		}
	case ast.ClassDecl, ast.UnionDecl:
		for _, k := range n.Kids {
			kn := b.node(k)
			if kn.Kind == ast.FunctionDecl && kn.Is(ast.FlagDefinition) {
				b.buildFunction(k)
			}
			if kn.Kind == ast.ClassDecl || kn.Kind == ast.UnionDecl {
				b.walkDecls(k)
			}
		}
	case ast.FunctionDecl:
		if n.Is(ast.FlagDefinition) {
			b.buildFunction(r)
		}
	case ast.VarDecl:
		b.buildGlobal(r)
	case ast.TemplateDecl, ast.EnumDecl, ast.TypedefDecl, ast.AliasDecl,
		ast.UsingDecl, ast.StaticAssertDecl:
		// No code of their own.
	}
}

func (b *Builder) buildGlobal(r ast.NodeRef) {
	n := b.node(r)
	spec, _ := b.reg.ExprType(r)
	g := GlobalOp{
		Name: n.Name,
		Type: spec,
		Bits: b.reg.SizeBits(spec),
	}
	if n.C != ast.Nil {
		init := b.node(n.C)
		if init.Kind == ast.IntLit || init.Kind == ast.BoolLit || init.Kind == ast.CharLit {
			g.Initialized = true
			g.Init = init.IVal
		}
	}
	b.mod.Globals = append(b.mod.Globals, g)
	b.globals[n.Name] = true
}

// buildFunction produces the IR for one function definition. The IR per
// function is produced exactly once; re-encounters are skipped through the
// mangled name.
func (b *Builder) buildFunction(r ast.NodeRef) {
	n := b.node(r)
	if n.Mangled != intern.Invalid && b.declSeen[n.Mangled] {
		return
	}
	b.declSeen[n.Mangled] = true

	f := &Function{Name: n.Name, Mangled: n.Mangled}
	decl := FuncDeclOp{Name: n.Name, Mangled: n.Mangled}
	spec, _ := b.reg.ExprType(r)
	if spec.Func != nil {
		decl.Return = spec.Func.Return
		decl.RetBits = b.reg.SizeBits(spec.Func.Return)
		if b.isLargeStruct(spec.Func.Return) {
			decl.RetHidden = true
		}
	}
	// Member functions receive `this` first.
	if n.C != ast.Nil && (b.node(n.C).Kind == ast.ClassDecl || b.node(n.C).Kind == ast.UnionDecl || b.node(n.C).Kind == ast.LambdaExpr) {
		clsIdx := types.TypeIndex(b.node(n.C).IVal)
		decl.Params = append(decl.Params, ParamSlot{
			Name: b.table.Intern("this"),
			Type: types.Spec(clsIdx).AddPointer(),
			Bits: 64,
		})
	}
	for _, k := range n.Kids {
		kn := b.node(k)
		if kn.Kind != ast.ParamDecl {
			continue
		}
		ps, _ := b.reg.ExprType(k)
		decl.Params = append(decl.Params, ParamSlot{
			Name: kn.Name,
			Type: ps,
			Bits: b.paramBits(ps),
		})
	}
	decl.HasEH = b.bodyHasEH(n.B)
	f.Decl = decl

	b.fn = f
	f.Emit(FunctionDecl, &f.Decl, n.Tok)
	b.pushScope()
	b.buildStmt(n.B)
	b.popScope(n.Tok)
	if len(f.Instrs) == 0 || f.Instrs[len(f.Instrs)-1].Op != Return {
		f.Emit(Return, &ReturnOp{}, n.Tok)
	}
	b.mod.Functions = append(b.mod.Functions, f)

	// Lambdas declared in this body contribute their call operators as
	// functions of their own, in encounter order.
	b.emitLambdas(n.B)
	if n.Is(ast.FlagDllExport) {
		b.mod.Exported = append(b.mod.Exported, n.Mangled)
	}
	b.fn = nil
}

// emitLambdas walks a body for LambdaExpr nodes and builds their call
// operators.
func (b *Builder) emitLambdas(r ast.NodeRef) {
	if r == ast.Nil || b.err != nil {
		return
	}
	n := b.node(r)
	if n.Kind == ast.LambdaExpr && n.A != ast.Nil {
		fn := b.node(n.A)
		if fn.Kind == ast.FunctionDecl && fn.Is(ast.FlagDefinition) {
			b.buildFunction(n.A)
		}
		return
	}
	if n.Kind == ast.FunctionDecl || n.Kind == ast.ClassDecl || n.Kind == ast.UnionDecl {
		return
	}
	for _, c := range []ast.NodeRef{n.A, n.B, n.C} {
		b.emitLambdas(c)
	}
	for _, c := range n.Kids {
		b.emitLambdas(c)
	}
}

func (b *Builder) isLargeStruct(s types.Specifier) bool {
	if s.IsPointer() || s.IsReference() || !b.reg.IsClass(s) && !b.reg.IsUnion(s) {
		return false
	}
	return b.reg.SizeBits(s) > b.target.SmallStructBits()
}

func (b *Builder) paramBits(s types.Specifier) uint32 {
	if s.IsReference() || s.IsPointer() {
		return 64
	}
	bits := b.reg.SizeBits(s)
	if bits == 0 || bits > 64 {
		return 64
	}
	return bits
}

func (b *Builder) bodyHasEH(r ast.NodeRef) bool {
	if r == ast.Nil {
		return false
	}
	n := b.node(r)
	switch n.Kind {
	case ast.TryStmt, ast.ThrowExpr, ast.SehTryStmt:
		return true
	case ast.FunctionDecl, ast.ClassDecl, ast.UnionDecl:
		// Declarations reached through resolved-call links are not part
		// of this body.
		return false
	}
	for _, c := range []ast.NodeRef{n.A, n.B, n.C} {
		if b.bodyHasEH(c) {
			return true
		}
	}
	for _, c := range n.Kids {
		if b.bodyHasEH(c) {
			return true
		}
	}
	return false
}

// --- scope and destructor bookkeeping ---

func (b *Builder) pushScope() {
	b.scopes = append(b.scopes, scopeFrame{})
	b.fn.Emit(ScopeBegin, &ScopeOp{Depth: len(b.scopes)}, tokenOfNone)
}

// popScope emits pending destructor calls in reverse construction order,
// then closes the scope.
func (b *Builder) popScope(tok tokenType) {
	top := &b.scopes[len(b.scopes)-1]
	if !top.deferred {
		b.emitDtors(top, tok)
	}
	b.fn.Emit(ScopeEnd, &ScopeOp{Depth: len(b.scopes)}, tok)
	b.scopes = b.scopes[:len(b.scopes)-1]
}

func (b *Builder) emitDtors(frame *scopeFrame, tok tokenType) {
	for i := len(frame.dtors) - 1; i >= 0; i-- {
		d := frame.dtors[i]
		b.fn.Emit(DestructorCall, &d, tok)
	}
	frame.dtors = nil
}

// emitAllDtors flushes every open scope's destructors (for Return).
func (b *Builder) emitAllDtors(tok tokenType) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		frame := b.scopes[i]
		for j := len(frame.dtors) - 1; j >= 0; j-- {
			d := frame.dtors[j]
			b.fn.Emit(DestructorCall, &d, tok)
		}
	}
}

// registerDtor queues a destructor for the innermost scope. Across an
// SehFinallyBegin boundary emission defers to the funclet.
func (b *Builder) registerDtor(obj Value, spec types.Specifier, tok tokenType) {
	si := b.reg.Get(spec.Base).Struct
	if si == nil || spec.IsPointer() || spec.IsReference() {
		return
	}
	for i := range si.Methods {
		m := &si.Methods[i]
		if m.IsDtor {
			b.scopes[len(b.scopes)-1].dtors = append(b.scopes[len(b.scopes)-1].dtors,
				DtorOp{Object: obj, Mangled: m.Mangled})
			return
		}
	}
}

func (b *Builder) fail(kind errors.Kind, tok tokenType, format string, args ...any) {
	if b.err == nil {
		b.err = errors.New(kind, tok, format, args...)
	}
}

func (b *Builder) newString(text intern.Handle) intern.Handle {
	b.strSeq++
	label := b.table.Intern(fmt.Sprintf(".Lstr%d", b.strSeq))
	b.mod.Strings = append(b.mod.Strings, StringData{Label: label, Text: text})
	return label
}
