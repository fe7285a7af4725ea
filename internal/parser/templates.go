package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/templates"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Template declarations. When a template body is first encountered only
// its parameter list, signature, and saved body range are stored; the
// engine re-enters the parser here on instantiation.

// parseTemplateDecl parses `template <params> [requires c] decl` at
// namespace scope, including partial and full specializations.
func (p *Parser) parseTemplateDecl() ast.NodeRef {
	tok := p.next() // template
	n := p.newNode(ast.TemplateDecl, tok)

	params := p.parseTemplateParams(n)
	p.pushTemplateParams(params)
	defer p.popTemplateParams()

	var constraint ast.NodeRef
	if p.accept(p.kw.requiresKw) {
		constraint = p.parseExpr(LOGOR)
		p.node(n).C = constraint
	}

	switch {
	case p.at(p.kw.classKw) || p.at(p.kw.structKw):
		return p.parseClassTemplateRest(n, params, constraint)
	case p.at(p.kw.usingKw):
		return p.parseAliasTemplateRest(n, params, constraint)
	default:
		return p.parseFunctionTemplateRest(n, params, constraint)
	}
}

// parseTemplateParams parses `<class T, int N = 4, class... Ts>` and
// allocates a deduction placeholder for every parameter.
func (p *Parser) parseTemplateParams(n ast.NodeRef) []templates.Param {
	p.expect(p.kw.lt, "after template")
	var params []templates.Param
	for !p.at(p.kw.gt) && !p.atEOF() {
		var prm templates.Param
		switch {
		case p.accept(p.kw.classKw) || p.accept(p.kw.typenameKw):
			prm.Kind = templates.TypeParam
			if p.accept(p.kw.ellipsis) {
				prm.Pack = true
			}
			if p.cur().Kind == token.Identifier {
				prm.Name = p.next().Lexeme
			}
			prm.Placeholder = p.reg.DeclareTemplateParam(prm.Name)
			pd := p.newNode(ast.TypeParamDecl, p.cur())
			p.node(pd).Name = prm.Name
			if prm.Pack {
				p.node(pd).Flags |= ast.FlagPack
			}
			if p.accept(p.kw.assign) {
				_, sn := p.parseTypeSpecifier()
				prm.Default = sn
				p.node(pd).C = sn
			}
			p.node(n).Kids = append(p.node(n).Kids, pd)
		case p.at(p.kw.templateKw):
			// template-template parameter: template <class> class C
			p.next()
			p.expect(p.kw.lt, "in template-template parameter")
			depth := 1
			for depth > 0 && !p.atEOF() {
				if p.at(p.kw.lt) {
					depth++
				}
				if p.at(p.kw.gt) {
					depth--
				}
				p.next()
			}
			p.accept(p.kw.classKw)
			prm.Kind = templates.TemplateTemplateParam
			if p.cur().Kind == token.Identifier {
				prm.Name = p.next().Lexeme
			}
			prm.Placeholder = p.reg.DeclareTemplateParam(prm.Name)
		default:
			// Non-type parameter: `int N`, `bool B = true`.
			prm.Kind = templates.NonTypeParam
			spec, _ := p.parseTypeSpecifier()
			prm.Declared = spec
			if p.accept(p.kw.ellipsis) {
				prm.Pack = true
			}
			if p.cur().Kind == token.Identifier {
				prm.Name = p.next().Lexeme
			}
			prm.Placeholder = p.reg.DeclareTemplateParam(prm.Name)
			pd := p.newNode(ast.NonTypeParamDecl, p.cur())
			p.node(pd).Name = prm.Name
			if p.accept(p.kw.assign) {
				d := p.parseExpr(SHIFT)
				prm.Default = d
				p.node(pd).C = d
			}
			p.node(n).Kids = append(p.node(n).Kids, pd)
		}
		params = append(params, prm)
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.gt, "to close template parameters")
	return params
}

// Template parameter names resolve through a scoped stack while the
// template's own signature and patterns parse.
func (p *Parser) pushTemplateParams(params []templates.Param) {
	m := make(map[intern.Handle]types.TypeIndex, len(params))
	nt := make(map[intern.Handle]types.Specifier, 2)
	for _, prm := range params {
		if prm.Kind == templates.NonTypeParam {
			nt[prm.Name] = prm.Declared
			continue
		}
		m[prm.Name] = prm.Placeholder
	}
	p.tmplParams = append(p.tmplParams, m)
	p.tmplValues = append(p.tmplValues, nt)
}

func (p *Parser) popTemplateParams() {
	p.tmplParams = p.tmplParams[:len(p.tmplParams)-1]
	p.tmplValues = p.tmplValues[:len(p.tmplValues)-1]
}

// lookupTemplateParam resolves a spelled name to its placeholder.
func (p *Parser) lookupTemplateParam(name intern.Handle) (types.TypeIndex, bool) {
	for i := len(p.tmplParams) - 1; i >= 0; i-- {
		if idx, ok := p.tmplParams[i][name]; ok {
			return idx, true
		}
	}
	return types.Invalid, false
}

func (p *Parser) lookupTemplateValue(name intern.Handle) (types.Specifier, bool) {
	for i := len(p.tmplValues) - 1; i >= 0; i-- {
		if s, ok := p.tmplValues[i][name]; ok {
			return s, true
		}
	}
	return types.Specifier{}, false
}

// parseClassTemplateRest handles primary class templates plus partial and
// full specializations, which are recognized by `<` after the name.
func (p *Parser) parseClassTemplateRest(n ast.NodeRef, params []templates.Param, constraint ast.NodeRef) ast.NodeRef {
	p.next() // class/struct
	if p.cur().Kind != token.Identifier {
		p.errorAt(errors.ParseError, p.cur(), "expected a class template name")
		return n
	}
	nameTok := p.next()
	name := nameTok.Lexeme
	p.node(n).Name = name
	qname := p.qualify(name)

	if p.at(p.kw.lt) {
		// Specialization of an existing template.
		h := p.engine.ByName(qname)
		if h == 0 {
			h = p.engine.ByName(name)
		}
		if h == 0 {
			p.errorAt(errors.SymbolError, nameTok, "specialization of unknown template %q", p.text(nameTok))
			p.skipBalancedBody()
			return n
		}
		pattern := p.parseSpecializationPattern(params)
		body := p.saveClassBody()
		d := p.engine.Get(h)
		if len(params) == 0 {
			args := make([]types.TemplateArg, len(pattern))
			for i, el := range pattern {
				if el.IsType {
					args[i] = types.TemplateArg{IsType: true, Type: el.Spec}
				} else {
					args[i] = types.TemplateArg{Value: el.Value, ValueType: el.ValueType}
				}
			}
			d.Fulls = append(d.Fulls, templates.Full{Args: templates.NormalizeArgs(args), Body: body, Node: n})
		} else {
			d.Partials = append(d.Partials, templates.Partial{
				Params:  params,
				Pattern: pattern,
				Body:    body,
				Node:    n,
				Scope:   p.syms.Current(),
			})
		}
		return n
	}

	body := p.saveClassBody()
	h := p.engine.Register(templates.Descriptor{
		Name:       qname,
		Params:     params,
		Constraint: constraint,
		Form:       templates.ClassTemplate,
		Body:       body,
		Scope:      p.syms.Current(),
		Node:       n,
	})
	if qname != name {
		// Also reachable by its unqualified spelling inside this scope.
		p.engine.Register(templates.Descriptor{
			Name: name, Params: params, Constraint: constraint,
			Form: templates.ClassTemplate, Body: body,
			Scope: p.syms.Current(), Node: n,
		})
	}
	_ = h
	p.syms.Define(name, n)
	return n
}

// parseSpecializationPattern parses `<elem, ...>` after the name of a
// specialization, each element a type pattern or constant.
func (p *Parser) parseSpecializationPattern(params []templates.Param) []templates.PatternElem {
	p.expect(p.kw.lt, "to open specialization arguments")
	var out []templates.PatternElem
	for !p.at(p.kw.gt) && !p.atEOF() {
		if p.startsType() {
			spec, _ := p.parseTypeSpecifier()
			out = append(out, templates.PatternElem{IsType: true, Spec: spec, ParamRef: -1})
		} else {
			tok := p.cur()
			if tok.Kind == token.Identifier {
				// A bare parameter name is a pattern variable.
				ref := -1
				for i, prm := range params {
					if prm.Name == tok.Lexeme {
						ref = i
						break
					}
				}
				if ref >= 0 {
					p.next()
					out = append(out, templates.PatternElem{ParamRef: ref})
					if !p.accept(p.kw.comma) {
						break
					}
					continue
				}
			}
			ex := p.parseExpr(SHIFT)
			v, _ := p.constFold(ex)
			out = append(out, templates.PatternElem{Value: v, ParamRef: -1, ValueType: p.reg.Primitive(types.PrimInt)})
		}
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.gt, "to close specialization arguments")
	return out
}

// saveClassBody records the position of the `{` and skips the balanced
// body plus the trailing semicolon.
func (p *Parser) saveClassBody() token.SaveHandle {
	// Skip optional base clause before the brace.
	for !p.at(p.kw.lbrace) && !p.at(p.kw.semi) && !p.atEOF() {
		p.next()
	}
	save := p.stream.Save()
	p.skipBalancedBody()
	return save
}

func (p *Parser) skipBalancedBody() {
	if !p.at(p.kw.lbrace) {
		p.accept(p.kw.semi)
		return
	}
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
	p.accept(p.kw.semi)
}

// parseFunctionTemplateRest records a function template: signature parsed
// with placeholders, body skipped and saved.
func (p *Parser) parseFunctionTemplateRest(n ast.NodeRef, params []templates.Param, constraint ast.NodeRef) ast.NodeRef {
	if !p.startsType() {
		p.errorAt(errors.ParseError, p.cur(), "expected a function template declaration")
		p.skipBalancedBody()
		return n
	}
	bodyStart := p.stream.Save()
	ret, _ := p.parseTypeSpecifier()
	if p.cur().Kind != token.Identifier && !p.at(p.kw.operatorKw) {
		p.errorAt(errors.ParseError, p.cur(), "expected a function template name")
		p.skipBalancedBody()
		return n
	}
	var name intern.Handle
	if p.at(p.kw.operatorKw) {
		name = p.parseOperatorName()
	} else {
		name = p.next().Lexeme
	}
	p.node(n).Name = name

	// Trailing requires-clause may follow the signature; the parameter
	// list parse records the deduction pattern.
	fnProbe := p.newNode(ast.FunctionDecl, p.cur())
	p.probeDepth++
	fnParams, variadic := p.parseParamList(fnProbe)
	if p.accept(p.kw.requiresKw) {
		constraint = p.parseExpr(LOGOR)
		p.node(n).C = constraint
	}
	p.probeDepth--

	// Skip qualifiers and the body; instantiation re-parses from bodyStart.
	for !p.at(p.kw.lbrace) && !p.at(p.kw.semi) && !p.atEOF() {
		p.next()
	}
	p.skipBalancedBody()

	p.engine.Register(templates.Descriptor{
		Name:       name,
		Params:     params,
		Constraint: constraint,
		Form:       templates.FunctionTemplate,
		Body:       bodyStart,
		Scope:      p.syms.Current(),
		Node:       n,
		FnParams:   fnParams,
		FnReturn:   ret,
		Variadic:   variadic,
	})
	p.syms.Define(name, n)
	return n
}

func (p *Parser) parseAliasTemplateRest(n ast.NodeRef, params []templates.Param, constraint ast.NodeRef) ast.NodeRef {
	p.next() // using
	if p.cur().Kind == token.Identifier {
		p.node(n).Name = p.next().Lexeme
	}
	bodyStart := token.SaveHandle(-1)
	if p.accept(p.kw.assign) {
		bodyStart = p.stream.Save()
		p.probeDepth++
		p.parseTypeSpecifier()
		p.probeDepth--
	}
	p.expect(p.kw.semi, "after alias template")
	p.engine.Register(templates.Descriptor{
		Name:       p.node(n).Name,
		Params:     params,
		Constraint: constraint,
		Form:       templates.AliasTemplate,
		Body:       bodyStart,
		Scope:      p.syms.Current(),
		Node:       n,
	})
	return n
}

// parseMemberTemplate registers a member template of the enclosing class
// as a lazy entry instantiated on first use.
func (p *Parser) parseMemberTemplate(class ast.NodeRef, idx types.TypeIndex, access ast.Access) ast.NodeRef {
	tok := p.next() // template
	n := p.newNode(ast.TemplateDecl, tok)
	params := p.parseTemplateParams(n)
	p.pushTemplateParams(params)
	defer p.popTemplateParams()

	bodyStart := p.stream.Save()
	// Skip the whole declaration; the saved position replays it on use.
	for !p.at(p.kw.lbrace) && !p.at(p.kw.semi) && !p.atEOF() {
		p.next()
	}
	nameTok := p.findMemberTemplateName(bodyStart)
	p.skipBalancedBody()

	p.node(n).Name = nameTok
	p.node(n).IVal = int64(bodyStart)
	p.node(n).Access = access
	si := p.reg.Get(idx).Struct
	si.AddLazy(nameTok, n)
	return n
}

// findMemberTemplateName scans the saved range for the declarator name
// (the identifier before the parameter list).
func (p *Parser) findMemberTemplateName(start token.SaveHandle) intern.Handle {
	save := p.stream.Save()
	defer p.stream.Restore(save)
	p.stream.Restore(start)
	prev := intern.Invalid
	for !p.atEOF() && !p.at(p.kw.lbrace) && !p.at(p.kw.semi) {
		if p.at(p.kw.lparen) {
			return prev
		}
		if p.cur().Kind == token.Identifier {
			prev = p.cur().Lexeme
		}
		p.next()
	}
	return prev
}

// instantiateClass instantiates a class template reference and returns the
// concrete TypeIndex.
func (p *Parser) instantiateClass(h templatesHandle, args []types.TemplateArg, tok token.Token) (types.TypeIndex, *errors.CompilerError) {
	if _, err := p.engine.Instantiate(h, args); err != nil {
		return types.Invalid, err
	}
	idx := p.engine.InstanceType(h, args)
	if idx == types.Invalid {
		return types.Invalid, errors.New(errors.SymbolError, tok, "instantiation produced no type")
	}
	return idx, nil
}

// --- templates.ReParser implementation ---

// ParseSubstituted re-enters the parser at a saved position with env
// pushed; the token cursor and scope depth are restored on return. A depth
// guard surfaces RecursionLimit past 256 frames.
func (p *Parser) ParseSubstituted(req *templates.ReParseRequest) (ast.NodeRef, *errors.CompilerError) {
	if p.depth >= MaxDepth {
		return ast.Nil, errors.New(errors.RecursionLimit, p.cur(),
			"template instantiation depth exceeds %d", MaxDepth)
	}
	p.depth++
	defer func() { p.depth-- }()

	cursor := p.stream.Save()
	mark := p.syms.Save()
	prevSubst := p.subst
	prevErrs := len(p.errs.Errors)
	p.stream.Restore(req.Body)
	if req.Scope != nil {
		p.syms.SetCurrent(req.Scope)
	}
	if req.Env != nil {
		req.Env.Parent = prevSubst
		p.subst = req.Env
	}

	defer func() {
		p.stream.Restore(cursor)
		p.syms.Restore(mark)
		p.subst = prevSubst
	}()

	var ref ast.NodeRef
	switch req.Form {
	case templates.ClassTemplate:
		ref = p.reparseClassBody(req)
	case templates.AliasTemplate:
		spec, sn := p.parseTypeSpecifier()
		p.reg.SetExprType(sn, p.engine.SubstituteSpec(spec, p.subst))
		ref = sn
	default:
		ref = p.reparseFunction(req)
	}

	if len(p.errs.Errors) > prevErrs {
		err := p.errs.Errors[len(p.errs.Errors)-1]
		p.errs.Errors = p.errs.Errors[:prevErrs]
		out := *err
		out.Kind = errors.ParseErrorInBody
		return ast.Nil, &out
	}
	return ref, nil
}

// reparseClassBody populates req.Instance from the saved `{`.
func (p *Parser) reparseClassBody(req *templates.ReParseRequest) ast.NodeRef {
	n := p.newNode(ast.ClassDecl, p.cur())
	p.node(n).Name = req.Name
	p.node(n).IVal = int64(req.Instance)
	p.reg.Get(req.Instance).Node = n

	if !p.expect(p.kw.lbrace, "to open template class body") {
		return n
	}
	scope := p.syms.Push(symtab.ClassScope, req.Name, n)
	p.classStack = append(p.classStack, classCtx{decl: n, index: req.Instance, scope: scope})
	deferStart := len(p.deferred)

	p.parseClassBodyMembers(n, req.Instance, ast.Private)

	p.reg.AssignVTableSlots(req.Instance)
	p.reg.Layout(req.Instance)
	p.parseDeferredBodies(deferStart)

	p.classStack = p.classStack[:len(p.classStack)-1]
	p.syms.Pop()
	return n
}

// reparseFunction parses a complete function definition under the
// substitution; the mangled name embeds the argument vector.
func (p *Parser) reparseFunction(req *templates.ReParseRequest) ast.NodeRef {
	p.instanceArgs = req.Args
	defer func() { p.instanceArgs = nil }()
	return p.parseVarOrFunction(ast.Public)
}

// CheckExpr type-checks an expression under env by re-walking it; it
// reports well-formedness without emitting anything.
func (p *Parser) CheckExpr(expr ast.NodeRef, env *templates.Subst) bool {
	if expr == ast.Nil {
		return false
	}
	prev := p.subst
	p.subst = env
	p.probeDepth++
	defer func() {
		p.subst = prev
		p.probeDepth--
	}()
	return p.checkExprWellFormed(expr)
}

func (p *Parser) checkExprWellFormed(expr ast.NodeRef) bool {
	n := p.node(expr)
	switch n.Kind {
	case ast.Ident:
		if p.subst != nil {
			if _, ok := p.subst.LookupName(n.Name); ok {
				return true
			}
		}
		if refs := p.syms.Lookup(n.Name); len(refs) > 0 {
			return true
		}
		_, _, ok := p.lookupEnumerator(n.Name)
		return ok
	case ast.BinaryExpr:
		if !p.checkExprWellFormed(n.A) || !p.checkExprWellFormed(n.B) {
			return false
		}
		// Class operands require a matching operator overload.
		if s, ok := p.reg.ExprType(n.A); ok {
			s = p.engine.SubstituteSpec(s, p.subst)
			if p.reg.IsClass(s.StripRef()) {
				return p.findOperatorMethod(s.StripRef().Base, "operator"+ast.Op(n.IVal).String()) != ast.Nil
			}
		}
		return true
	case ast.UnaryExpr, ast.IncDecExpr:
		return p.checkExprWellFormed(n.A)
	case ast.CallExpr:
		return true
	case ast.MemberCallExpr, ast.MemberExpr, ast.ArrowExpr:
		if !p.checkExprWellFormed(n.A) {
			return false
		}
		if s, ok := p.reg.ExprType(n.A); ok {
			s = p.engine.SubstituteSpec(s.StripRef(), p.subst)
			if n.Kind == ast.ArrowExpr || n.Kind == ast.MemberCallExpr && n.Is(ast.FlagByRef) {
				if !s.IsPointer() {
					return false
				}
				s = s.Deref()
			}
			info := p.reg.Get(s.Base)
			if info.Struct == nil {
				return false
			}
			if n.Kind == ast.MemberCallExpr {
				ms, _ := p.findMethodIn(s.Base, n.Name)
				return len(ms) > 0
			}
			m, _ := p.findMemberIn(s.Base, n.Name)
			return m != nil
		}
		return true
	}
	return true
}
