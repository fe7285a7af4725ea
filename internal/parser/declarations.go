package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Declarations outside classes: variables and functions, their parameter
// lists, and the function bodies. Each function receives its canonical
// mangled name as soon as its signature is known.

// SetTarget selects the mangling schema (ELF/Itanium or COFF/MSVC).
func (p *Parser) SetTarget(t mangle.Target) { p.target = t }

// declSpecs are the leading specifiers shared by variable and function
// declarations.
type declSpecs struct {
	flags ast.Flags
}

func (p *Parser) parseDeclSpecs() declSpecs {
	var ds declSpecs
	for {
		switch {
		case p.accept(p.kw.staticKw):
			ds.flags |= ast.FlagStatic
		case p.accept(p.kw.constexprKw):
			ds.flags |= ast.FlagConstexpr | ast.FlagConst
		case p.accept(p.kw.constevalKw):
			ds.flags |= ast.FlagConsteval | ast.FlagConst
		case p.accept(p.kw.inlineKw):
			ds.flags |= ast.FlagInline
		case p.accept(p.kw.virtualKw):
			ds.flags |= ast.FlagVirtual
		case p.accept(p.kw.explicitKw):
			ds.flags |= ast.FlagExplicit
		case p.accept(p.kw.mutableKw):
			ds.flags |= ast.FlagMutable
		case p.at(p.kw.declspecKw):
			p.next()
			p.expect(p.kw.lparen, "after __declspec")
			if p.accept(p.kw.dllexportKw) {
				ds.flags |= ast.FlagDllExport
			} else if !p.at(p.kw.rparen) {
				p.next()
			}
			p.expect(p.kw.rparen, "to close __declspec")
		default:
			return ds
		}
	}
}

// parseVarOrFunction parses one namespace- or class-scope declaration that
// begins with a type.
func (p *Parser) parseVarOrFunction(access ast.Access) ast.NodeRef {
	start := p.cur()
	ds := p.parseDeclSpecs()

	if !p.startsType() {
		p.errorAt(errors.ParseError, start, "expected a declaration, found %q", p.text(start))
		p.next()
		return ast.Nil
	}
	spec, specNode := p.parseTypeSpecifier()

	// Operator overload spelling: `T operator+(...)`.
	var name intern.Handle
	nameTok := p.cur()
	if p.at(p.kw.operatorKw) {
		name = p.parseOperatorName()
	} else if p.cur().Kind == token.Identifier {
		name = p.next().Lexeme
	} else {
		p.errorAt(errors.ParseError, nameTok, "expected a declarator, found %q", p.text(nameTok))
		p.next()
		return ast.Nil
	}

	if p.at(p.kw.lparen) {
		return p.parseFunctionRest(start, ds, spec, specNode, name, access, nameTok)
	}
	return p.parseVarRest(start, ds, spec, specNode, name, access)
}

func (p *Parser) parseOperatorName() intern.Handle {
	p.next() // operator
	sym := ""
	for !p.at(p.kw.lparen) && !p.atEOF() {
		sym += p.text(p.cur())
		p.next()
		// operator() and operator[] close immediately after their pair.
		if sym == "()" || sym == "[]" {
			break
		}
		if sym == "(" && p.at(p.kw.rparen) {
			continue
		}
		if sym == "[" && p.at(p.kw.rbrack) {
			continue
		}
		if p.at(p.kw.lparen) {
			break
		}
	}
	return p.table.Intern("operator" + sym)
}

func (p *Parser) parseVarRest(start token.Token, ds declSpecs, spec types.Specifier, specNode ast.NodeRef, name intern.Handle, access ast.Access) ast.NodeRef {
	n := p.newNode(ast.VarDecl, start)
	p.node(n).Name = name
	p.node(n).A = specNode
	p.node(n).Flags |= ds.flags
	p.node(n).Access = access
	spec.Const = spec.Const || ds.flags&ast.FlagConst != 0

	spec = p.parseArrayExtents(spec)
	if p.subst != nil {
		spec = p.engine.SubstituteSpec(spec, p.subst)
	}
	p.reg.SetExprType(n, spec)

	switch {
	case p.accept(p.kw.assign):
		if p.at(p.kw.lbrace) {
			p.node(n).C = p.parseInitList()
		} else {
			p.node(n).C = p.parseExpr(ASSIGN)
		}
	case p.at(p.kw.lbrace):
		p.node(n).C = p.parseInitList()
	case p.accept(p.kw.lparen):
		// Direct initialization T x(args) lowers like a constructor call.
		init := p.newNode(ast.CallExpr, p.cur())
		p.parseCallArgs(init)
		p.node(init).IVal = int64(spec.Base)
		p.reg.SetExprType(init, spec)
		p.node(n).C = init
	}
	p.expect(p.kw.semi, "after declaration")
	p.syms.Define(name, n)
	return n
}

// parseDeclStatement parses a block-scope declaration statement with one
// or more comma-separated declarators.
func (p *Parser) parseDeclStatement() ast.NodeRef {
	start := p.cur()
	ds := p.parseDeclSpecs()
	baseSpec, specNode := p.parseTypeSpecifier()

	stmt := p.newNode(ast.DeclStmt, start)
	for {
		spec := baseSpec
		// Each declarator may add its own pointer levels.
		for {
			if p.accept(p.kw.star) {
				spec.Pointers = append(spec.Pointers, types.PtrLevel{})
				continue
			}
			break
		}
		if p.cur().Kind != token.Identifier {
			p.errorAt(errors.ParseError, p.cur(), "expected a name in declaration")
			break
		}
		nameTok := p.next()
		n := p.newNode(ast.VarDecl, nameTok)
		p.node(n).Name = nameTok.Lexeme
		p.node(n).A = specNode
		p.node(n).Flags |= ds.flags
		spec = p.parseArrayExtents(spec)
		spec.Const = spec.Const || ds.flags&ast.FlagConst != 0
		if p.subst != nil {
			spec = p.engine.SubstituteSpec(spec, p.subst)
		}

		switch {
		case p.accept(p.kw.assign):
			if p.at(p.kw.lbrace) {
				p.node(n).C = p.parseInitList()
			} else {
				p.node(n).C = p.parseExpr(ASSIGN)
			}
		case p.at(p.kw.lbrace):
			p.node(n).C = p.parseInitList()
		case p.at(p.kw.lparen):
			p.next()
			init := p.newNode(ast.CallExpr, nameTok)
			p.parseCallArgs(init)
			p.node(init).IVal = int64(spec.Base)
			p.reg.SetExprType(init, spec)
			p.node(n).C = init
		}

		// `auto` refines from the initializer.
		if p.node(specNode).Kind == ast.AutoSpec && p.node(n).C != ast.Nil {
			if s, ok := p.reg.ExprType(p.node(n).C); ok {
				ref := spec.Ref
				spec = s.StripRef()
				spec.Ref = ref
			}
		}
		p.reg.SetExprType(n, spec)
		p.syms.Define(p.node(n).Name, n)
		p.node(stmt).Kids = append(p.node(stmt).Kids, n)

		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.semi, "after declaration")
	return stmt
}

// parseParamList parses `(T a, U b = d, ...)` into ParamDecl kids on fn
// and returns the signature parameter specifiers.
func (p *Parser) parseParamList(fn ast.NodeRef) ([]types.Specifier, bool) {
	p.expect(p.kw.lparen, "to open parameter list")
	var params []types.Specifier
	variadic := false
	for !p.at(p.kw.rparen) && !p.atEOF() {
		if p.at(p.kw.ellipsis) {
			p.next()
			variadic = true
			break
		}
		spec, sn := p.parseTypeSpecifier()
		prm := p.newNode(ast.ParamDecl, p.cur())
		p.node(prm).A = sn
		if p.at(p.kw.ellipsis) {
			p.next()
			p.node(prm).Flags |= ast.FlagPack
		}
		if p.cur().Kind == token.Identifier {
			p.node(prm).Name = p.next().Lexeme
		}
		spec = p.parseArrayExtents(spec)
		if p.accept(p.kw.assign) {
			p.node(prm).C = p.parseExpr(ASSIGN)
		}
		if p.subst != nil {
			spec = p.engine.SubstituteSpec(spec, p.subst)
		}
		p.reg.SetExprType(prm, spec)
		p.node(fn).Kids = append(p.node(fn).Kids, prm)
		params = append(params, spec)
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.rparen, "to close parameter list")
	return params, variadic
}

// parseFunctionRest parses everything after the function name: parameters,
// qualifiers, and the body. The mangled name is computed and attached once
// the signature is complete.
func (p *Parser) parseFunctionRest(start token.Token, ds declSpecs, ret types.Specifier, retNode ast.NodeRef, name intern.Handle, access ast.Access, nameTok token.Token) ast.NodeRef {
	fn := p.newNode(ast.FunctionDecl, nameTok)
	p.node(fn).Name = name
	p.node(fn).Flags |= ds.flags
	p.node(fn).Access = access
	p.node(fn).A = retNode

	params, variadic := p.parseParamList(fn)

	// Trailing qualifiers.
	isConst := false
	for {
		switch {
		case p.accept(p.kw.constKw):
			isConst = true
			p.node(fn).Flags |= ast.FlagConst
		case p.accept(p.kw.noexceptKw):
			p.node(fn).Flags |= ast.FlagNoexcept
			if p.accept(p.kw.lparen) {
				p.parseExpr(COMMA)
				p.expect(p.kw.rparen, "to close noexcept")
			}
		case p.accept(p.kw.overrideKw):
			p.node(fn).Flags |= ast.FlagOverride
		case p.accept(p.kw.finalKw):
			p.node(fn).Flags |= ast.FlagFinal
		default:
			goto qualsDone
		}
	}
qualsDone:

	sig := &types.Signature{Return: ret, Params: params, Variadic: variadic}
	fnSpec := types.Specifier{Base: p.reg.Primitive(types.PrimVoid), Func: sig}
	p.reg.SetExprType(fn, fnSpec)

	// Mangled name: namespace path + class context + signature.
	p.attachMangledName(fn, name, sig, isConst, access)
	p.syms.Define(name, fn)

	switch {
	case p.accept(p.kw.assign):
		switch {
		case p.accept(p.kw.deleteKw):
			p.arena.MarkDeleted(fn)
		case p.accept(p.kw.defaultKw):
			p.arena.MarkDefaulted(fn)
		case p.cur().Kind == token.Literal: // = 0
			if p.text(p.cur()) == "0" {
				p.node(fn).Flags |= ast.FlagPureVirtual
			}
			p.next()
		}
		p.expect(p.kw.semi, "after special function form")
	case p.at(p.kw.lbrace):
		p.parseFunctionBody(fn)
	default:
		p.expect(p.kw.semi, "after function declaration")
	}
	return fn
}

// parseFunctionBody parses a body in a fresh function scope with the
// parameters defined.
func (p *Parser) parseFunctionBody(fn ast.NodeRef) {
	p.syms.Push(symtab.FunctionScope, p.node(fn).Name, fn)
	for _, k := range p.node(fn).Kids {
		if p.node(k).Kind == ast.ParamDecl && p.node(k).Name != intern.Invalid {
			p.syms.Define(p.node(k).Name, k)
		}
	}
	body := p.parseCompound()
	p.arena.AttachBody(fn, body)
	p.syms.Pop()
}

// attachMangledName computes and attaches the canonical linker name.
func (p *Parser) attachMangledName(fn ast.NodeRef, name intern.Handle, sig *types.Signature, isConst bool, access ast.Access) {
	spelled := p.table.Lookup(name)
	if spelled == "main" {
		p.arena.AttachMangledName(fn, p.table.Intern("main"))
		return
	}
	ent := &mangle.Entity{
		Name:         spelled,
		Params:       sig.Params,
		Return:       sig.Return,
		Variadic:     sig.Variadic,
		Const:        isConst,
		Access:       access,
		Static:       p.node(fn).Is(ast.FlagStatic),
		IsCtor:       p.node(fn).Is(ast.FlagCtor),
		IsDtor:       p.node(fn).Is(ast.FlagDtor),
		TemplateArgs: p.instanceArgs,
	}
	for _, h := range p.syms.EnclosingNamespace().Path() {
		ent.Namespace = append(ent.Namespace, p.table.Lookup(h))
	}
	// Nested classes contribute their whole enclosing chain so same-named
	// inner classes of different outers keep distinct symbols.
	for i, cls := range p.classStack {
		clsName := p.table.Lookup(p.reg.Get(cls.index).Name)
		if i == len(p.classStack)-1 {
			ent.Class = clsName
		} else {
			ent.Namespace = append(ent.Namespace, clsName)
		}
	}
	mangled := mangle.For(p.target, p.reg, ent)
	p.arena.AttachMangledName(fn, p.table.Intern(mangled))
}
