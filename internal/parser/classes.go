package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Class parsing. The type is declared Forward before the body so members
// can name it; fields and bases accumulate on the StructInfo; method
// bodies are deferred and parsed when the class scope closes, matching the
// emission order guarantee. Layout and vtable slots are fixed as the body
// ends.

func (p *Parser) parseClassDecl() ast.NodeRef {
	tok := p.next() // class/struct/union
	isUnion := tok.Lexeme == p.kw.unionKw
	isStruct := tok.Lexeme == p.kw.structKw

	n := p.newNode(ast.ClassDecl, tok)
	if isUnion {
		p.node(n).Kind = ast.UnionDecl
		p.node(n).Flags |= ast.FlagUnion
	}
	if isStruct {
		p.node(n).Flags |= ast.FlagStruct
	}

	var name intern.Handle
	if p.cur().Kind == token.Identifier {
		name = p.next().Lexeme
		p.node(n).Name = name
	}

	// Forward declaration.
	if p.at(p.kw.semi) {
		if name != intern.Invalid && p.reg.ByName(name) == types.Invalid {
			idx := p.reg.DeclareStruct(name, n, isUnion)
			p.node(n).IVal = int64(idx)
		}
		p.syms.Define(name, n)
		return n
	}

	final := false
	if p.at(p.kw.finalKw) {
		p.next()
		final = true
		p.node(n).Flags |= ast.FlagFinal
	}

	// The type exists from here on, size unknown.
	idx := p.reg.ByName(name)
	if idx == types.Invalid || p.reg.Get(idx).Struct == nil || p.reg.Get(idx).Struct.Phase > types.PhaseForward {
		idx = p.reg.DeclareStruct(name, n, isUnion)
	} else {
		p.reg.Get(idx).Node = n
	}
	p.node(n).IVal = int64(idx)
	si := p.reg.Get(idx).Struct
	si.Final = final
	p.syms.Define(name, n)
	// Nested and namespaced classes also resolve by their qualified
	// spelling; unqualified collisions keep declaration order.
	if qname := p.qualify(name); qname != name {
		p.reg.AliasName(qname, idx)
	}

	// Base clause.
	if p.accept(p.kw.colon) {
		for {
			access := ast.Private
			if isStruct {
				access = ast.Public
			}
			virtual := false
			for {
				switch {
				case p.accept(p.kw.publicKw):
					access = ast.Public
					continue
				case p.accept(p.kw.protectedKw):
					access = ast.Protected
					continue
				case p.accept(p.kw.privateKw):
					access = ast.Private
					continue
				case p.accept(p.kw.virtualKw):
					virtual = true
					continue
				}
				break
			}
			bspec, bnode := p.parseTypeSpecifier()
			b := p.newNode(ast.BaseSpecifier, p.node(bnode).Tok)
			p.node(b).A = bnode
			p.node(b).Access = access
			if virtual {
				p.node(b).Flags |= ast.FlagVirtual
			}
			p.node(b).IVal = int64(bspec.Base)
			p.node(n).Kids = append(p.node(n).Kids, b)
			base := types.Base{Type: bspec.Base, Access: access, Virtual: virtual}
			si.Bases = append(si.Bases, base)
			if bi := p.reg.Get(bspec.Base); bi.Struct != nil && bi.Struct.Polymorphic {
				si.Polymorphic = true
			}
			if !p.accept(p.kw.comma) {
				break
			}
		}
	}

	p.expect(p.kw.lbrace, "to open class body")
	scope := p.syms.Push(symtab.ClassScope, name, n)
	p.classStack = append(p.classStack, classCtx{decl: n, index: idx, scope: scope})
	deferStart := len(p.deferred)

	access := ast.Private
	if isStruct || isUnion {
		access = ast.Public
	}
	p.parseClassBodyMembers(n, idx, access)

	// Size, offsets, vtable slots.
	p.reg.AssignVTableSlots(idx)
	p.reg.Layout(idx)
	p.reg.MarkFull(idx)

	// Deferred member bodies parse now, inside the class scope.
	p.parseDeferredBodies(deferStart)

	p.classStack = p.classStack[:len(p.classStack)-1]
	p.syms.Pop()
	return n
}

// parseClassBodyMembers parses members until the closing brace. The caller
// has already pushed the class scope and context.
func (p *Parser) parseClassBodyMembers(n ast.NodeRef, idx types.TypeIndex, access ast.Access) {
	for !p.at(p.kw.rbrace) && !p.atEOF() && !p.errs.HasErrors() {
		switch {
		case p.accept(p.kw.publicKw):
			p.expect(p.kw.colon, "after access specifier")
			access = ast.Public
		case p.accept(p.kw.protectedKw):
			p.expect(p.kw.colon, "after access specifier")
			access = ast.Protected
		case p.accept(p.kw.privateKw):
			p.expect(p.kw.colon, "after access specifier")
			access = ast.Private
		case p.accept(p.kw.friendKw):
			// Friend declarations are skipped; they are not recorded.
			for !p.at(p.kw.semi) && !p.atEOF() {
				p.next()
			}
			p.accept(p.kw.semi)
		default:
			m := p.parseMember(n, idx, access)
			if m != ast.Nil {
				p.node(n).Kids = append(p.node(n).Kids, m)
			}
		}
	}
	p.expect(p.kw.rbrace, "to close class body")
}

// parseMember dispatches one member declaration.
func (p *Parser) parseMember(class ast.NodeRef, idx types.TypeIndex, access ast.Access) ast.NodeRef {
	switch {
	case p.accept(p.kw.semi):
		return ast.Nil
	case p.at(p.kw.classKw) || p.at(p.kw.structKw) || p.at(p.kw.unionKw):
		nested := p.parseClassDecl()
		p.accept(p.kw.semi)
		p.node(nested).Access = access
		return nested
	case p.at(p.kw.enumKw):
		return p.parseEnumDecl()
	case p.at(p.kw.templateKw):
		return p.parseMemberTemplate(class, idx, access)
	case p.at(p.kw.usingKw):
		return p.parseUsing()
	case p.at(p.kw.typedefKw):
		return p.parseTypedef()
	case p.at(p.kw.staticAssertKw):
		return p.parseStaticAssert()
	}

	className := p.reg.Get(idx).Name

	// Constructor: ClassName(...)
	if p.cur().Lexeme == className && p.atAhead(1, p.kw.lparen) {
		return p.parseCtorOrDtor(class, idx, access, false)
	}
	// Destructor: ~ClassName(...)
	if p.at(p.kw.tilde) && p.peek(1).Lexeme == className {
		return p.parseCtorOrDtor(class, idx, access, true)
	}

	return p.parseMemberVarOrFunction(class, idx, access)
}

func (p *Parser) parseCtorOrDtor(class ast.NodeRef, idx types.TypeIndex, access ast.Access, dtor bool) ast.NodeRef {
	tok := p.cur()
	if dtor {
		p.next() // ~
	}
	nameTok := p.next() // class name
	fn := p.newNode(ast.FunctionDecl, tok)
	p.node(fn).Name = nameTok.Lexeme
	p.node(fn).Access = access
	if dtor {
		p.node(fn).Flags |= ast.FlagDtor
		p.node(fn).Name = p.table.Intern("~" + p.text(nameTok))
	} else {
		p.node(fn).Flags |= ast.FlagCtor
	}
	params, variadic := p.parseParamList(fn)
	for p.accept(p.kw.noexceptKw) || p.accept(p.kw.virtualKw) || p.accept(p.kw.overrideKw) {
	}

	sig := &types.Signature{
		Return:   types.Spec(p.reg.Primitive(types.PrimVoid)),
		Params:   params,
		Variadic: variadic,
	}
	p.reg.SetExprType(fn, types.Specifier{Base: p.reg.Primitive(types.PrimVoid), Func: sig})
	p.attachMangledName(fn, p.node(fn).Name, sig, false, access)
	p.registerMethod(idx, fn, sig, access, false, dtor, !dtor)

	// Member initializer list.
	if p.accept(p.kw.colon) {
		// Parameters are visible in the initializer arguments.
		p.syms.Push(symtab.FunctionScope, p.node(fn).Name, fn)
		for _, k := range p.node(fn).Kids {
			if p.node(k).Kind == ast.ParamDecl && p.node(k).Name != intern.Invalid {
				p.syms.Define(p.node(k).Name, k)
			}
		}
		for {
			if p.cur().Kind != token.Identifier {
				break
			}
			init := p.newNode(ast.CallExpr, p.cur())
			p.node(init).Name = p.next().Lexeme
			if p.accept(p.kw.lparen) {
				p.parseCallArgs(init)
			} else if p.at(p.kw.lbrace) {
				p.next()
				for !p.at(p.kw.rbrace) && !p.atEOF() {
					p.node(init).Kids = append(p.node(init).Kids, p.parseExpr(ASSIGN))
					if !p.accept(p.kw.comma) {
						break
					}
				}
				p.expect(p.kw.rbrace, "to close member initializer")
			}
			p.node(fn).Kids = append(p.node(fn).Kids, init)
			if !p.accept(p.kw.comma) {
				break
			}
		}
		p.syms.Pop()
	}

	p.finishMemberFunction(class, fn)
	return fn
}

// parseMemberVarOrFunction parses a data member or a method.
func (p *Parser) parseMemberVarOrFunction(class ast.NodeRef, idx types.TypeIndex, access ast.Access) ast.NodeRef {
	start := p.cur()
	ds := p.parseDeclSpecs()
	if !p.startsType() {
		p.errorAt(errors.ParseError, start, "expected a member declaration, found %q", p.text(start))
		p.next()
		return ast.Nil
	}
	spec, specNode := p.parseTypeSpecifier()

	var name intern.Handle
	nameTok := p.cur()
	if p.at(p.kw.operatorKw) {
		name = p.parseOperatorName()
	} else if nameTok.Kind == token.Identifier {
		name = p.next().Lexeme
	} else {
		p.errorAt(errors.ParseError, nameTok, "expected a member name")
		p.next()
		return ast.Nil
	}

	if p.at(p.kw.lparen) {
		return p.parseMethodRest(class, idx, ds, spec, specNode, name, access, nameTok)
	}

	// Field.
	f := p.newNode(ast.FieldDecl, nameTok)
	p.node(f).Name = name
	p.node(f).A = specNode
	p.node(f).Access = access
	p.node(f).Flags |= ds.flags
	spec = p.parseArrayExtents(spec)
	bitWidth := uint16(0)
	if p.accept(p.kw.colon) {
		if v, ok := p.constFold(p.parseExpr(COMMA)); ok {
			bitWidth = uint16(v)
		}
	}
	if p.accept(p.kw.assign) {
		p.node(f).C = p.parseExpr(ASSIGN)
	} else if p.at(p.kw.lbrace) {
		p.node(f).C = p.parseInitList()
	}
	p.expect(p.kw.semi, "after member declaration")
	p.reg.SetExprType(f, spec)

	si := p.reg.Get(idx).Struct
	p.syms.Define(name, f)
	if ds.flags&ast.FlagStatic != 0 {
		// Static data members are globals named through the class.
		return f
	}
	si.Members = append(si.Members, types.Member{
		Name: name, Spec: spec, Access: access, BitWidth: bitWidth, Node: f,
	})
	return f
}

func (p *Parser) parseMethodRest(class ast.NodeRef, idx types.TypeIndex, ds declSpecs, ret types.Specifier, retNode ast.NodeRef, name intern.Handle, access ast.Access, nameTok token.Token) ast.NodeRef {
	fn := p.newNode(ast.FunctionDecl, nameTok)
	p.node(fn).Name = name
	p.node(fn).Flags |= ds.flags
	p.node(fn).Access = access
	p.node(fn).A = retNode

	params, variadic := p.parseParamList(fn)

	isConst := false
	pure := false
	for {
		switch {
		case p.accept(p.kw.constKw):
			isConst = true
			p.node(fn).Flags |= ast.FlagConst
		case p.accept(p.kw.noexceptKw):
			p.node(fn).Flags |= ast.FlagNoexcept
		case p.accept(p.kw.overrideKw):
			p.node(fn).Flags |= ast.FlagOverride
		case p.accept(p.kw.finalKw):
			p.node(fn).Flags |= ast.FlagFinal
		default:
			goto done
		}
	}
done:

	sig := &types.Signature{Return: ret, Params: params, Variadic: variadic}
	p.reg.SetExprType(fn, types.Specifier{Base: p.reg.Primitive(types.PrimVoid), Func: sig})
	p.attachMangledName(fn, name, sig, isConst, access)

	if p.accept(p.kw.assign) {
		switch {
		case p.accept(p.kw.deleteKw):
			p.arena.MarkDeleted(fn)
			p.expect(p.kw.semi, "after = delete")
		case p.accept(p.kw.defaultKw):
			p.arena.MarkDefaulted(fn)
			p.expect(p.kw.semi, "after = default")
		default:
			if p.text(p.cur()) == "0" {
				p.next()
				pure = true
				p.node(fn).Flags |= ast.FlagPureVirtual
			}
			p.expect(p.kw.semi, "after pure-virtual marker")
		}
	}

	virtual := p.node(fn).Is(ast.FlagVirtual) || p.node(fn).Is(ast.FlagOverride) || p.overridesBaseVirtual(idx, name)
	if virtual {
		p.node(fn).Flags |= ast.FlagVirtual
	}
	p.registerMethod(idx, fn, sig, access, virtual, false, false)
	if pure {
		si := p.reg.Get(idx).Struct
		si.Abstract = true
	}

	p.finishMemberFunction(class, fn)
	return fn
}

// overridesBaseVirtual reports whether a base declares a virtual function
// of the same name, which makes the override implicitly virtual.
func (p *Parser) overridesBaseVirtual(idx types.TypeIndex, name intern.Handle) bool {
	si := p.reg.Get(idx).Struct
	for _, b := range si.Bases {
		bi := p.reg.Get(b.Type)
		if bi.Struct == nil {
			continue
		}
		for _, m := range bi.Struct.FindMethod(name) {
			if m.Virtual {
				return true
			}
		}
		if p.overridesBaseVirtual(b.Type, name) {
			return true
		}
	}
	return false
}

func (p *Parser) registerMethod(idx types.TypeIndex, fn ast.NodeRef, sig *types.Signature, access ast.Access, virtual, dtor, ctor bool) {
	si := p.reg.Get(idx).Struct
	si.Methods = append(si.Methods, types.Method{
		Name:    p.node(fn).Name,
		Node:    fn,
		Mangled: p.node(fn).Mangled,
		Access:  access,
		Virtual: virtual || (dtor && p.baseHasVirtualDtor(idx)),
		Pure:    p.node(fn).Is(ast.FlagPureVirtual),
		Static:  p.node(fn).Is(ast.FlagStatic),
		Slot:    -1,
		Sig:     sig,
		IsCtor:  ctor,
		IsDtor:  dtor,
	})
	if virtual {
		si.Polymorphic = true
	}
}

func (p *Parser) baseHasVirtualDtor(idx types.TypeIndex) bool {
	si := p.reg.Get(idx).Struct
	for _, b := range si.Bases {
		bi := p.reg.Get(b.Type)
		if bi.Struct == nil {
			continue
		}
		for i := range bi.Struct.Methods {
			if bi.Struct.Methods[i].IsDtor && bi.Struct.Methods[i].Virtual {
				return true
			}
		}
	}
	return false
}

// finishMemberFunction either records a deferred body (parsed at class
// close) or consumes the terminating semicolon.
func (p *Parser) finishMemberFunction(class ast.NodeRef, fn ast.NodeRef) {
	p.node(fn).C = class
	if p.at(p.kw.lbrace) {
		// Skip the body now, balancing braces; re-parse at class close.
		start := p.stream.Save()
		depth := 0
		for !p.atEOF() {
			if p.at(p.kw.lbrace) {
				depth++
			} else if p.at(p.kw.rbrace) {
				depth--
				if depth == 0 {
					p.next()
					break
				}
			}
			p.next()
		}
		p.deferred = append(p.deferred, deferredBody{
			fn:    fn,
			class: class,
			body:  start,
			scope: p.syms.Current(),
		})
		return
	}
	p.accept(p.kw.semi)
}

// parseDeferredBodies parses the member bodies recorded since start, in
// declaration order, inside their class scope.
func (p *Parser) parseDeferredBodies(start int) {
	pending := p.deferred[start:]
	p.deferred = p.deferred[:start]
	for _, d := range pending {
		save := p.stream.Save()
		p.stream.Restore(d.body)
		mark := p.syms.Save()
		p.syms.SetCurrent(d.scope)
		p.parseFunctionBody(d.fn)
		p.syms.Restore(mark)
		p.stream.Restore(save)
	}
}

// parseEnumDecl parses plain and scoped enums with optional underlying
// type.
func (p *Parser) parseEnumDecl() ast.NodeRef {
	tok := p.next() // enum
	scoped := false
	if p.accept(p.kw.classKw) || p.accept(p.kw.structKw) {
		scoped = true
	}
	n := p.newNode(ast.EnumDecl, tok)
	if scoped {
		p.node(n).Flags |= ast.FlagScopedEnum
	}
	var name intern.Handle
	if p.cur().Kind == token.Identifier {
		name = p.next().Lexeme
		p.node(n).Name = name
	}
	underlying := types.Invalid
	if p.accept(p.kw.colon) {
		us, _ := p.parseTypeSpecifier()
		underlying = us.Base
	}
	idx := p.reg.DeclareEnum(name, n, underlying, scoped)
	p.node(n).IVal = int64(idx)
	p.syms.Define(name, n)

	if !p.at(p.kw.lbrace) {
		p.expect(p.kw.semi, "after enum declaration")
		return n
	}
	p.next() // {
	info := p.reg.Get(idx)
	next := int64(0)
	for !p.at(p.kw.rbrace) && !p.atEOF() {
		if p.cur().Kind != token.Identifier {
			p.errorAt(errors.ParseError, p.cur(), "expected an enumerator name")
			break
		}
		etok := p.next()
		e := p.newNode(ast.EnumeratorDecl, etok)
		p.node(e).Name = etok.Lexeme
		if p.accept(p.kw.assign) {
			ex := p.parseExpr(ASSIGN)
			if v, ok := p.constFold(ex); ok {
				next = v
			}
		}
		p.node(e).IVal = next
		p.reg.SetExprType(e, types.Spec(idx))
		info.Enum.Names = append(info.Enum.Names, p.node(e).Name)
		info.Enum.Values = append(info.Enum.Values, next)
		next++
		p.node(n).Kids = append(p.node(n).Kids, e)
		if !scoped {
			p.syms.Define(p.node(e).Name, e)
		}
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.rbrace, "to close enum body")
	p.accept(p.kw.semi)
	return n
}
