// Package parser implements the C++ parser and semantic front end using
// Pratt parsing for expressions.
//
// Key patterns:
//   - Token cursor save/restore: template bodies are recorded as saved
//     stream positions and re-parsed on instantiation (the pipeline's only
//     backward edge)
//   - Lookahead: peek(n) over the token stream
//   - Deferred work: member function bodies parse when their class scope
//     closes; template bodies parse on instantiation
//   - Expression typing: every typed expression records its specifier in
//     the type registry's side table as it parses
package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/templates"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Precedence levels for binary operators, lowest to highest.
const (
	_ int = iota
	LOWEST
	COMMA
	ASSIGN
	CONDITIONAL
	LOGOR
	LOGAND
	BITOR
	BITXOR
	BITAND
	EQUALITY
	RELATIONAL
	SPACESHIP
	SHIFT
	SUM
	PRODUCT
	PREFIX
	POSTFIX
)

// MaxDepth bounds re-entrant parsing; exceeding it is a RecursionLimit.
const MaxDepth = 256

type templatesHandle = templates.Handle

// Parser owns the front-end state for one translation unit.
type Parser struct {
	stream *token.Stream
	table  *intern.Table
	arena  *ast.Arena
	reg    *types.Registry
	syms   *symtab.Table
	engine *templates.Engine

	errs errors.ErrorList

	// Source text per file index, for caret diagnostics.
	sources map[uint16]string

	kw keywords

	// Substitution stack for template-body re-parsing.
	subst *templates.Subst

	// Enclosing class while parsing members, for access control and the
	// implicit object parameter.
	classStack []classCtx

	// Pending member bodies, parsed when the class scope closes.
	deferred []deferredBody

	aliasMap map[intern.Handle]types.Specifier
	binOpMap map[intern.Handle]binOp
	target   mangle.Target

	// Template parameter scopes while signatures and patterns parse, and
	// the argument vector of the instantiation being re-parsed.
	tmplParams   []map[intern.Handle]types.TypeIndex
	tmplValues   []map[intern.Handle]types.Specifier
	instanceArgs []types.TemplateArg
	genericCalls map[string]ast.NodeRef

	depth      int
	lambdaSeq  int
	stringSeq  int
	probeDepth int // >0 while parsing speculatively (requires-clauses, lookahead, template signatures); errors are not recorded
}

type classCtx struct {
	decl  ast.NodeRef
	index types.TypeIndex
	scope *symtab.Scope
}

type deferredBody struct {
	fn    ast.NodeRef
	class ast.NodeRef
	body  token.SaveHandle
	scope *symtab.Scope
}

// keywords caches the intern handles the parser compares against.
type keywords struct {
	namespaceKw, classKw, structKw, unionKw, enumKw             intern.Handle
	templateKw, typenameKw, requiresKw, usingKw, typedefKw      intern.Handle
	publicKw, protectedKw, privateKw, virtualKw, overrideKw     intern.Handle
	finalKw, staticKw, constKw, volatileKw, constexprKw         intern.Handle
	constevalKw, inlineKw, explicitKw, friendKw, operatorKw     intern.Handle
	ifKw, elseKw, whileKw, doKw, forKw, switchKw, caseKw        intern.Handle
	defaultKw, breakKw, continueKw, returnKw, gotoKw            intern.Handle
	tryKw, catchKw, throwKw, newKw, deleteKw, thisKw            intern.Handle
	sizeofKw, alignofKw, typeidKw, decltypeKw, autoKw           intern.Handle
	trueKw, falseKw, nullptrKw, staticAssertKw, externKw        intern.Handle
	staticCastKw, dynamicCastKw, reinterpretCastKw, constCastKw intern.Handle
	sehTryKw, sehExceptKw, sehFinallyKw, sehLeaveKw             intern.Handle
	unsignedKw, signedKw, mutableKw, noexceptKw, conceptKw      intern.Handle
	dllexportKw, declspecKw, voidKw                             intern.Handle

	lparen, rparen, lbrace, rbrace, lbrack, rbrack intern.Handle
	semi, comma, colon, coloncolon, dot, arrow     intern.Handle
	lt, gt, assign, amp, ampamp, star, ellipsis    intern.Handle
	question, tilde, not                           intern.Handle
}

// New creates a parser over a token stream and the shared front-end
// arenas.
func New(stream *token.Stream, arena *ast.Arena, reg *types.Registry, syms *symtab.Table, engine *templates.Engine) *Parser {
	p := &Parser{
		stream:  stream,
		table:   stream.Table(),
		arena:   arena,
		reg:     reg,
		syms:    syms,
		engine:  engine,
		sources: map[uint16]string{},
	}
	t := p.table
	p.kw = keywords{
		namespaceKw: t.Intern("namespace"), classKw: t.Intern("class"),
		structKw: t.Intern("struct"), unionKw: t.Intern("union"),
		enumKw: t.Intern("enum"), templateKw: t.Intern("template"),
		typenameKw: t.Intern("typename"), requiresKw: t.Intern("requires"),
		usingKw: t.Intern("using"), typedefKw: t.Intern("typedef"),
		publicKw: t.Intern("public"), protectedKw: t.Intern("protected"),
		privateKw: t.Intern("private"), virtualKw: t.Intern("virtual"),
		overrideKw: t.Intern("override"), finalKw: t.Intern("final"),
		staticKw: t.Intern("static"), constKw: t.Intern("const"),
		volatileKw: t.Intern("volatile"), constexprKw: t.Intern("constexpr"),
		constevalKw: t.Intern("consteval"), inlineKw: t.Intern("inline"),
		explicitKw: t.Intern("explicit"), friendKw: t.Intern("friend"),
		operatorKw: t.Intern("operator"), ifKw: t.Intern("if"),
		elseKw: t.Intern("else"), whileKw: t.Intern("while"),
		doKw: t.Intern("do"), forKw: t.Intern("for"),
		switchKw: t.Intern("switch"), caseKw: t.Intern("case"),
		defaultKw: t.Intern("default"), breakKw: t.Intern("break"),
		continueKw: t.Intern("continue"), returnKw: t.Intern("return"),
		gotoKw: t.Intern("goto"), tryKw: t.Intern("try"),
		catchKw: t.Intern("catch"), throwKw: t.Intern("throw"),
		newKw: t.Intern("new"), deleteKw: t.Intern("delete"),
		thisKw: t.Intern("this"), sizeofKw: t.Intern("sizeof"),
		alignofKw: t.Intern("alignof"), typeidKw: t.Intern("typeid"),
		decltypeKw: t.Intern("decltype"), autoKw: t.Intern("auto"),
		trueKw: t.Intern("true"), falseKw: t.Intern("false"),
		nullptrKw: t.Intern("nullptr"), staticAssertKw: t.Intern("static_assert"),
		externKw: t.Intern("extern"), staticCastKw: t.Intern("static_cast"),
		dynamicCastKw: t.Intern("dynamic_cast"),
		reinterpretCastKw: t.Intern("reinterpret_cast"),
		constCastKw: t.Intern("const_cast"), sehTryKw: t.Intern("__try"),
		sehExceptKw: t.Intern("__except"), sehFinallyKw: t.Intern("__finally"),
		sehLeaveKw: t.Intern("__leave"), unsignedKw: t.Intern("unsigned"),
		signedKw: t.Intern("signed"), mutableKw: t.Intern("mutable"),
		noexceptKw: t.Intern("noexcept"), conceptKw: t.Intern("concept"),
		dllexportKw: t.Intern("dllexport"), declspecKw: t.Intern("__declspec"),
		voidKw: t.Intern("void"),

		lparen: t.Intern("("), rparen: t.Intern(")"),
		lbrace: t.Intern("{"), rbrace: t.Intern("}"),
		lbrack: t.Intern("["), rbrack: t.Intern("]"),
		semi: t.Intern(";"), comma: t.Intern(","),
		colon: t.Intern(":"), coloncolon: t.Intern("::"),
		dot: t.Intern("."), arrow: t.Intern("->"),
		lt: t.Intern("<"), gt: t.Intern(">"),
		assign: t.Intern("="), amp: t.Intern("&"),
		ampamp: t.Intern("&&"), star: t.Intern("*"),
		ellipsis: t.Intern("..."), question: t.Intern("?"),
		tilde: t.Intern("~"), not: t.Intern("!"),
	}
	engine.Reparse = p
	return p
}

// SetSource records the original text of a file index for diagnostics.
func (p *Parser) SetSource(file uint16, src string) { p.sources[file] = src }

// Errors returns the accumulated error list.
func (p *Parser) Errors() *errors.ErrorList { return &p.errs }

// --- token helpers ---

func (p *Parser) cur() token.Token     { return p.stream.Cur() }
func (p *Parser) peek(n int) token.Token { return p.stream.Peek(n) }
func (p *Parser) next() token.Token    { return p.stream.Next() }
func (p *Parser) text(t token.Token) string { return p.table.Lookup(t.Lexeme) }

// at reports whether the current token spells h.
func (p *Parser) at(h intern.Handle) bool { return p.cur().Lexeme == h }

// atAhead reports whether the token n ahead spells h.
func (p *Parser) atAhead(n int, h intern.Handle) bool { return p.peek(n).Lexeme == h }

// accept consumes the current token when it spells h.
func (p *Parser) accept(h intern.Handle) bool {
	if p.at(h) {
		p.next()
		return true
	}
	return false
}

// expect consumes h or records a parse error.
func (p *Parser) expect(h intern.Handle, what string) bool {
	if p.accept(h) {
		return true
	}
	p.errorAt(errors.ParseError, p.cur(), "expected %q %s, found %q",
		p.table.Lookup(h), what, p.text(p.cur()))
	return false
}

func (p *Parser) atEOF() bool { return p.cur().Kind == token.EOF }

func (p *Parser) errorAt(kind errors.Kind, tok token.Token, format string, args ...any) *errors.CompilerError {
	e := errors.New(kind, tok, format, args...)
	e.Source = p.sources[tok.File]
	if p.probeDepth == 0 {
		p.errs.Add(e)
	}
	return e
}

// newNode allocates a node.
func (p *Parser) newNode(kind ast.NodeKind, tok token.Token) ast.NodeRef {
	return p.arena.New(kind, tok)
}

func (p *Parser) node(r ast.NodeRef) *ast.Node { return p.arena.Get(r) }

// --- entry point ---

// ParseTranslationUnit parses the whole token stream and returns the root
// node. Any hard error ends the unit; the caller checks Errors().
func (p *Parser) ParseTranslationUnit() ast.NodeRef {
	root := p.newNode(ast.TranslationUnit, p.cur())
	for !p.atEOF() && !p.errs.HasErrors() {
		d := p.parseTopLevelDecl()
		if d != ast.Nil {
			p.node(root).Kids = append(p.node(root).Kids, d)
		}
	}
	return root
}

// parseTopLevelDecl dispatches one namespace-scope declaration.
func (p *Parser) parseTopLevelDecl() ast.NodeRef {
	switch {
	case p.accept(p.kw.semi):
		return ast.Nil
	case p.at(p.kw.namespaceKw):
		return p.parseNamespace()
	case p.at(p.kw.templateKw):
		return p.parseTemplateDecl()
	case p.at(p.kw.classKw) || p.at(p.kw.structKw) || p.at(p.kw.unionKw):
		return p.parseClassOrInstantiableDecl()
	case p.at(p.kw.enumKw):
		return p.parseEnumDecl()
	case p.at(p.kw.usingKw):
		return p.parseUsing()
	case p.at(p.kw.typedefKw):
		return p.parseTypedef()
	case p.at(p.kw.staticAssertKw):
		return p.parseStaticAssert()
	case p.at(p.kw.externKw):
		return p.parseLinkageSpec()
	default:
		return p.parseVarOrFunction(ast.Public)
	}
}

// parseClassOrInstantiableDecl handles `class X { ... };` and also
// `struct X;` forward declarations at namespace scope.
func (p *Parser) parseClassOrInstantiableDecl() ast.NodeRef {
	d := p.parseClassDecl()
	p.accept(p.kw.semi)
	return d
}

func (p *Parser) parseLinkageSpec() ast.NodeRef {
	tok := p.next() // extern
	n := p.newNode(ast.LinkageSpecDecl, tok)
	if p.cur().Kind == token.Literal {
		p.next() // "C" / "C++"
	}
	if p.accept(p.kw.lbrace) {
		for !p.at(p.kw.rbrace) && !p.atEOF() {
			d := p.parseTopLevelDecl()
			if d != ast.Nil {
				p.node(n).Kids = append(p.node(n).Kids, d)
			}
		}
		p.expect(p.kw.rbrace, "after extern block")
	} else {
		d := p.parseTopLevelDecl()
		if d != ast.Nil {
			p.node(n).Kids = append(p.node(n).Kids, d)
		}
	}
	return n
}

func (p *Parser) parseNamespace() ast.NodeRef {
	tok := p.next() // namespace
	n := p.newNode(ast.NamespaceDecl, tok)
	name := intern.Invalid
	if p.cur().Kind == token.Identifier {
		name = p.next().Lexeme
	}
	p.node(n).Name = name
	p.syms.Push(symtab.NamespaceScope, name, n)
	p.expect(p.kw.lbrace, "to open namespace")
	for !p.at(p.kw.rbrace) && !p.atEOF() && !p.errs.HasErrors() {
		d := p.parseTopLevelDecl()
		if d != ast.Nil {
			p.node(n).Kids = append(p.node(n).Kids, d)
		}
	}
	p.expect(p.kw.rbrace, "to close namespace")
	p.syms.Pop()
	return n
}

func (p *Parser) parseStaticAssert() ast.NodeRef {
	tok := p.next() // static_assert
	n := p.newNode(ast.StaticAssertDecl, tok)
	p.expect(p.kw.lparen, "after static_assert")
	p.node(n).A = p.parseExpr(ASSIGN)
	if p.accept(p.kw.comma) {
		p.next() // message literal
	}
	p.expect(p.kw.rparen, "to close static_assert")
	p.expect(p.kw.semi, "after static_assert")
	if v, ok := p.constFold(p.node(n).A); ok && v == 0 {
		p.errorAt(errors.ParseError, tok, "static assertion failed")
	}
	return n
}

func (p *Parser) parseUsing() ast.NodeRef {
	tok := p.next() // using
	// using alias = type;
	if p.cur().Kind == token.Identifier && p.atAhead(1, p.kw.assign) {
		n := p.newNode(ast.AliasDecl, tok)
		p.node(n).Name = p.next().Lexeme
		p.next() // =
		spec, specNode := p.parseTypeSpecifier()
		p.node(n).A = specNode
		p.reg.SetExprType(n, spec)
		p.declareAlias(p.node(n).Name, spec, n)
		p.expect(p.kw.semi, "after alias declaration")
		return n
	}
	// using namespace path; / using a::b;
	n := p.newNode(ast.UsingDecl, tok)
	p.accept(p.kw.namespaceKw)
	for p.cur().Kind == token.Identifier || p.at(p.kw.coloncolon) {
		p.next()
	}
	p.expect(p.kw.semi, "after using declaration")
	return n
}

func (p *Parser) parseTypedef() ast.NodeRef {
	tok := p.next() // typedef
	n := p.newNode(ast.TypedefDecl, tok)
	spec, specNode := p.parseTypeSpecifier()
	p.node(n).A = specNode
	if p.cur().Kind == token.Identifier {
		p.node(n).Name = p.next().Lexeme
		p.reg.SetExprType(n, spec)
		p.declareAlias(p.node(n).Name, spec, n)
	}
	p.expect(p.kw.semi, "after typedef")
	return n
}

// declareAlias registers a type alias both in the symbol table and as a
// named type so later spellings resolve.
func (p *Parser) declareAlias(name intern.Handle, spec types.Specifier, n ast.NodeRef) {
	p.syms.Define(name, n)
	p.aliases()[name] = spec
}

// aliases is the per-unit alias map, lazily created.
func (p *Parser) aliases() map[intern.Handle]types.Specifier {
	if p.aliasMap == nil {
		p.aliasMap = make(map[intern.Handle]types.Specifier, 8)
	}
	return p.aliasMap
}
