package parser

import (
	"fmt"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Lambdas lower to a closure struct: captured values (or reference
// pointers) become members, the call operator becomes a member function.
// Generic lambdas mark their auto parameters; each distinct argument-type
// vector at a call site is recorded once, keyed by the deduced vector. All
// vectors share the single parsed operator() body; it is not re-typed per
// vector.

func (p *Parser) parseLambda() ast.NodeRef {
	tok := p.next() // [
	n := p.newNode(ast.LambdaExpr, tok)

	p.lambdaSeq++
	closureName := p.table.Intern(fmt.Sprintf("__lambda_%d", p.lambdaSeq))
	p.node(n).Name = closureName
	idx := p.reg.DeclareStruct(closureName, n, false)
	p.node(n).IVal = int64(idx)
	si := p.reg.Get(idx).Struct

	// Capture list.
	defaultByRef := false
	defaultByValue := false
	for !p.at(p.kw.rbrack) && !p.atEOF() {
		ct := p.cur()
		switch {
		case p.at(p.kw.amp) && (p.atAhead(1, p.kw.comma) || p.atAhead(1, p.kw.rbrack)):
			p.next()
			defaultByRef = true
		case p.at(p.kw.assign):
			p.next()
			defaultByValue = true
		case p.at(p.kw.amp):
			p.next()
			c := p.newNode(ast.LambdaCapture, ct)
			p.node(c).Name = p.next().Lexeme
			p.node(c).Flags |= ast.FlagByRef
			p.node(n).Kids = append(p.node(n).Kids, c)
		case p.at(p.kw.thisKw):
			p.next()
			c := p.newNode(ast.LambdaCapture, ct)
			p.node(c).Name = p.kw.thisKw
			p.node(c).Flags |= ast.FlagByRef
			p.node(n).Kids = append(p.node(n).Kids, c)
		case ct.Kind == token.Identifier:
			p.next()
			c := p.newNode(ast.LambdaCapture, ct)
			p.node(c).Name = ct.Lexeme
			if p.accept(p.kw.assign) {
				p.node(c).A = p.parseExpr(ASSIGN) // init capture
			}
			p.node(n).Kids = append(p.node(n).Kids, c)
		default:
			p.next()
		}
		p.accept(p.kw.comma)
	}
	p.expect(p.kw.rbrack, "to close capture list")
	if defaultByRef {
		p.node(n).Flags |= ast.FlagByRef
	}
	if defaultByValue {
		p.node(n).Flags |= ast.FlagMutable // marker reused: capture-default =
	}

	// Captured names become closure members; by-reference captures store a
	// pointer to the enclosing frame's slot.
	for _, k := range p.node(n).Kids {
		c := p.node(k)
		if c.Kind != ast.LambdaCapture {
			continue
		}
		spec := types.Spec(p.reg.Primitive(types.PrimLongLong))
		if refs := p.syms.Lookup(c.Name); len(refs) > 0 {
			if s, ok := p.reg.ExprType(refs[0]); ok {
				spec = s.StripRef()
			}
		} else if c.A != ast.Nil {
			if s, ok := p.reg.ExprType(c.A); ok {
				spec = s.StripRef()
			}
		}
		if c.Is(ast.FlagByRef) {
			spec = spec.AddPointer()
		}
		si.Members = append(si.Members, types.Member{
			Name: c.Name, Spec: spec, Access: ast.Public, Node: k,
		})
	}

	// C++20 template lambdas introduce named parameters before the
	// parameter list; they resolve like auto parameters.
	genericCount := 0
	if p.at(p.kw.lt) {
		tn := p.newNode(ast.TemplateDecl, p.cur())
		tparams := p.parseTemplateParams(tn)
		p.pushTemplateParams(tparams)
		defer p.popTemplateParams()
		genericCount += len(tparams)
		p.node(n).C = tn
	}

	// Parameter list; `auto` parameters make the lambda generic.
	fn := p.newNode(ast.FunctionDecl, p.cur())
	p.node(fn).Name = p.table.Intern("operator()")
	var params []types.Specifier
	variadic := false
	if p.at(p.kw.lparen) {
		params, variadic = p.parseParamList(fn)
		for _, k := range p.node(fn).Kids {
			pn := p.node(k)
			if pn.Kind == ast.ParamDecl && pn.A != ast.Nil && p.node(pn.A).Kind == ast.AutoSpec {
				pn.Flags |= ast.FlagPack // marks an auto parameter
				genericCount++
			}
		}
	}
	p.node(n).FVal = float64(genericCount)

	// Specifiers may precede the trailing return type.
	for p.accept(p.kw.mutableKw) || p.accept(p.kw.noexceptKw) {
	}
	ret := types.Spec(p.reg.Primitive(types.PrimInt))
	if p.accept(p.kw.arrow) {
		ret, _ = p.parseTypeSpecifier()
	}
	for p.accept(p.kw.mutableKw) || p.accept(p.kw.noexceptKw) {
	}

	// The closure context is entered before the call operator is mangled
	// so each lambda's operator() carries its own class and stays a
	// distinct symbol.
	scope := p.syms.Push(symtab.ClassScope, closureName, n)
	p.classStack = append(p.classStack, classCtx{decl: n, index: idx, scope: scope})

	sig := &types.Signature{Return: ret, Params: params, Variadic: variadic}
	p.reg.SetExprType(fn, types.Specifier{Base: p.reg.Primitive(types.PrimVoid), Func: sig})
	p.attachMangledName(fn, p.node(fn).Name, sig, false, ast.Public)
	si.Methods = append(si.Methods, types.Method{
		Name: p.node(fn).Name, Node: fn, Mangled: p.node(fn).Mangled,
		Access: ast.Public, Slot: -1, Sig: sig,
	})
	for _, k := range p.node(n).Kids {
		c := p.node(k)
		if c.Kind == ast.LambdaCapture {
			p.syms.Define(c.Name, k)
			if m := si.FindMember(c.Name); m != nil {
				p.reg.SetExprType(k, m.Spec)
			}
		}
	}
	if p.at(p.kw.lbrace) {
		bodyStart := p.stream.Save()
		p.node(n).IVal = int64(idx)
		p.node(fn).IVal = int64(bodyStart)
		p.parseFunctionBody(fn)
		p.node(n).B = p.node(fn).B
	}
	p.classStack = p.classStack[:len(p.classStack)-1]
	p.syms.Pop()

	p.node(n).A = fn
	p.node(fn).C = n // closure context supplies the implicit object
	p.reg.Layout(idx)
	p.reg.MarkFull(idx)
	p.reg.SetExprType(n, types.Spec(idx))
	return n
}

// genericLambdaKey builds the memo key of a generic-lambda call from the
// closure type and the deduced argument-type vector.
func (p *Parser) genericLambdaKey(closure types.TypeIndex, argTypes []types.Specifier) string {
	key := fmt.Sprintf("%d(", closure)
	for i, a := range argTypes {
		if i > 0 {
			key += ","
		}
		key += p.reg.String(a.Normalize())
	}
	return key + ")"
}

// InstantiateGenericCall records one entry per distinct argument-type
// vector observed at a call site and returns the closure's operator()
// body, which every entry shares.
func (p *Parser) InstantiateGenericCall(closure types.TypeIndex, argTypes []types.Specifier) ast.NodeRef {
	if p.genericCalls == nil {
		p.genericCalls = make(map[string]ast.NodeRef, 8)
	}
	key := p.genericLambdaKey(closure, argTypes)
	if ref, ok := p.genericCalls[key]; ok {
		return ref
	}
	info := p.reg.Get(closure)
	var body ast.NodeRef
	if info.Struct != nil {
		for i := range info.Struct.Methods {
			if p.table.Lookup(info.Struct.Methods[i].Name) == "operator()" {
				body = p.node(info.Struct.Methods[i].Node).B
				break
			}
		}
	}
	p.genericCalls[key] = body
	return body
}

// GenericInstantiationCount reports the number of distinct generic
// operator() instantiations observed (tests).
func (p *Parser) GenericInstantiationCount() int { return len(p.genericCalls) }
