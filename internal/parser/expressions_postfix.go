package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Postfix forms: calls, member access, indexing, post-increment. Member
// lookups enforce access control here; overload resolution routes through
// the template engine.

func (p *Parser) parsePostfix(left ast.NodeRef) ast.NodeRef {
	for {
		tok := p.cur()
		switch {
		case p.at(p.kw.lparen):
			left = p.parseCall(left)
		case p.at(p.kw.lbrack):
			p.next()
			idx := p.parseExpr(COMMA)
			p.expect(p.kw.rbrack, "to close subscript")
			n := p.newNode(ast.IndexExpr, tok)
			p.node(n).A, p.node(n).B = left, idx
			if s, ok := p.reg.ExprType(left); ok {
				elem := s.StripRef()
				switch {
				case elem.IsArray():
					elem.Arrays = elem.Arrays[1:]
				case elem.IsPointer():
					elem = elem.Deref()
				case p.reg.IsClass(elem):
					if m := p.findOperatorMethod(elem.Base, "operator[]"); m != ast.Nil {
						p.node(n).C = m
						if ms, ok := p.reg.ExprType(m); ok && ms.Func != nil {
							elem = ms.Func.Return
						}
					}
				}
				elem.Ref = types.LValueRef
				p.reg.SetExprType(n, elem)
			}
			left = n
		case p.at(p.kw.dot) || p.at(p.kw.arrow):
			arrow := p.at(p.kw.arrow)
			p.next()
			p.accept(p.kw.tilde) // destructor call spelling
			name := p.next().Lexeme
			if p.at(p.kw.lparen) {
				left = p.parseMemberCall(tok, left, name, arrow)
			} else {
				left = p.parseMemberAccess(tok, left, name, arrow)
			}
		case p.text(tok) == "++" || p.text(tok) == "--":
			p.next()
			n := p.newNode(ast.IncDecExpr, tok)
			p.node(n).A = left
			if p.text(tok) == "++" {
				p.node(n).IVal = int64(ast.OpInc)
			} else {
				p.node(n).IVal = int64(ast.OpDec)
			}
			if s, ok := p.reg.ExprType(left); ok {
				p.reg.SetExprType(n, s.StripRef())
			}
			left = n
		default:
			return left
		}
	}
}


// objectType returns the class behind an object expression, looking
// through references and one pointer level for `->`.
func (p *Parser) objectType(obj ast.NodeRef, arrow bool) (types.TypeIndex, bool) {
	s, ok := p.reg.ExprType(obj)
	if !ok {
		return types.Invalid, false
	}
	s = s.StripRef()
	if arrow {
		if !s.IsPointer() {
			return types.Invalid, false
		}
		s = s.Deref()
	}
	if p.subst != nil {
		s = p.engine.SubstituteSpec(s, p.subst)
	}
	info := p.reg.Get(s.Base)
	if info.Struct == nil {
		return types.Invalid, false
	}
	return s.Base, true
}

// checkMemberAccess enforces access control at the lookup site. Private
// members resolve inside their class and inside classes nested in it (the
// whole class stack is consulted); protected members also resolve inside
// derived classes.
func (p *Parser) checkMemberAccess(tok tokenT, class types.TypeIndex, access ast.Access, what string, name intern.Handle) bool {
	if access == ast.Public {
		return true
	}
	for i := len(p.classStack) - 1; i >= 0; i-- {
		cur := p.classStack[i].index
		if cur == class {
			return true
		}
		if access == ast.Protected && p.reg.IsBaseOf(types.Spec(class), types.Spec(cur)) {
			return true
		}
	}
	p.errorAt(errors.AccessViolation, tok, "%s %q of %q is %s here",
		what, p.table.Lookup(name), p.table.Lookup(p.reg.Get(class).Name), access)
	return false
}

type tokenT = token.Token

func (p *Parser) parseMemberAccess(tok tokenT, obj ast.NodeRef, name intern.Handle, arrow bool) ast.NodeRef {
	kind := ast.MemberExpr
	if arrow {
		kind = ast.ArrowExpr
	}
	n := p.newNode(kind, tok)
	p.node(n).A = obj
	p.node(n).Name = name

	cls, ok := p.objectType(obj, arrow)
	if !ok {
		return n
	}
	member, owner := p.findMemberIn(cls, name)
	if member == nil {
		p.errorAt(errors.SymbolError, tok, "no member %q in %q",
			p.table.Lookup(name), p.table.Lookup(p.reg.Get(cls).Name))
		return n
	}
	p.checkMemberAccess(tok, owner, member.Access, "member", name)
	s := member.Spec
	if p.subst != nil {
		s = p.engine.SubstituteSpec(s, p.subst)
	}
	s.Ref = types.LValueRef
	p.reg.SetExprType(n, s)
	p.node(n).IVal = int64(owner) // defining class, for base-offset lowering
	return n
}

// findMemberIn locates a data member in a class or its bases, returning
// the member and the class that defines it.
func (p *Parser) findMemberIn(cls types.TypeIndex, name intern.Handle) (*types.Member, types.TypeIndex) {
	info := p.reg.Get(cls)
	if info.Struct == nil {
		return nil, types.Invalid
	}
	if m := info.Struct.FindMember(name); m != nil {
		return m, cls
	}
	for _, b := range info.Struct.Bases {
		if m, owner := p.findMemberIn(b.Type, name); m != nil {
			return m, owner
		}
	}
	return nil, types.Invalid
}

func (p *Parser) findMethodIn(cls types.TypeIndex, name intern.Handle) ([]*types.Method, types.TypeIndex) {
	info := p.reg.Get(cls)
	if info.Struct == nil {
		return nil, types.Invalid
	}
	if ms := info.Struct.FindMethod(name); len(ms) > 0 {
		return ms, cls
	}
	for _, b := range info.Struct.Bases {
		if ms, owner := p.findMethodIn(b.Type, name); len(ms) > 0 {
			return ms, owner
		}
	}
	return nil, types.Invalid
}

func (p *Parser) findOperatorMethod(cls types.TypeIndex, spelling string) ast.NodeRef {
	ms, _ := p.findMethodIn(cls, p.table.Intern(spelling))
	if len(ms) == 0 {
		return ast.Nil
	}
	return ms[0].Node
}

func (p *Parser) parseMemberCall(tok tokenT, obj ast.NodeRef, name intern.Handle, arrow bool) ast.NodeRef {
	n := p.newNode(ast.MemberCallExpr, tok)
	p.node(n).A = obj
	p.node(n).Name = name
	if arrow {
		p.node(n).Flags |= ast.FlagByRef // object is a pointer
	}
	p.expect(p.kw.lparen, "to open call")
	p.parseCallArgs(n)

	cls, ok := p.objectType(obj, arrow)
	if !ok {
		return n
	}
	// Lazy member of a class-template instantiation?
	info := p.reg.Get(cls)
	if info.Struct != nil && info.Struct.Lazy != nil {
		if _, isLazy := info.Struct.Lazy[name]; isLazy {
			if _, err := p.engine.LazyMember(cls, name); err != nil {
				p.errs.Add(err)
			}
		}
	}
	ms, owner := p.findMethodIn(cls, name)
	if len(ms) == 0 {
		p.errorAt(errors.SymbolError, tok, "no member function %q in %q",
			p.table.Lookup(name), p.table.Lookup(p.reg.Get(cls).Name))
		return n
	}
	m := p.pickMethodOverload(ms, n)
	p.checkMemberAccess(tok, owner, m.Access, "member function", name)
	p.node(n).C = m.Node
	p.node(n).IVal = int64(owner)
	if m.Virtual {
		p.node(n).Flags |= ast.FlagVirtual
	}
	if m.Sig != nil {
		ret := m.Sig.Return
		if p.subst != nil {
			ret = p.engine.SubstituteSpec(ret, p.subst)
		}
		p.reg.SetExprType(n, ret)
	}
	return n
}

// pickMethodOverload ranks member-function overloads by argument count and
// convertibility, insertion order breaking ties.
func (p *Parser) pickMethodOverload(ms []*types.Method, call ast.NodeRef) *types.Method {
	args := p.node(call).Kids
	var fallback *types.Method
	for _, m := range ms {
		if m.Sig == nil {
			continue
		}
		if fallback == nil {
			fallback = m
		}
		if len(m.Sig.Params) != len(args) {
			continue
		}
		ok := true
		for i, a := range args {
			as, has := p.reg.ExprType(a)
			if !has {
				continue
			}
			if !p.reg.IsConvertible(as, m.Sig.Params[i]) {
				ok = false
				break
			}
		}
		if ok {
			return m
		}
	}
	if fallback != nil {
		return fallback
	}
	return ms[0]
}

func (p *Parser) parseCall(callee ast.NodeRef) ast.NodeRef {
	tok := p.cur()
	p.next() // (
	n := p.newNode(ast.CallExpr, tok)
	p.node(n).A = callee
	p.parseCallArgs(n)
	p.resolveCall(n)
	return n
}

// parseCallArgs fills Kids with the already-open argument list.
func (p *Parser) parseCallArgs(call ast.NodeRef) {
	for !p.at(p.kw.rparen) && !p.atEOF() {
		arg := p.parseExpr(ASSIGN)
		p.node(call).Kids = append(p.node(call).Kids, arg)
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.rparen, "to close call")
}

// resolveCall types a free-function call, running overload selection when
// the callee is a plain or qualified name.
func (p *Parser) resolveCall(call ast.NodeRef) {
	callee := p.node(call).A
	cn := p.node(callee)

	// Calling a value (function pointer or closure).
	if cn.Kind != ast.Ident && cn.Kind != ast.QualifiedIdent {
		if s, ok := p.reg.ExprType(callee); ok {
			if s.Func != nil {
				p.reg.SetExprType(call, s.Func.Return)
			} else if info := p.reg.Get(s.StripRef().Base); info.Kind == types.KindFunctionPtr {
				p.reg.SetExprType(call, info.Fn.Return)
			} else if p.reg.IsClass(s.StripRef()) {
				if m := p.findOperatorMethod(s.StripRef().Base, "operator()"); m != ast.Nil {
					p.node(call).C = m
					if ms, ok := p.reg.ExprType(m); ok && ms.Func != nil {
						p.reg.SetExprType(call, ms.Func.Return)
					}
				}
			}
		}
		return
	}

	// A qualified name resolved its declaration during lookup.
	if cn.Kind == ast.QualifiedIdent && cn.C != ast.Nil && p.node(cn.C).Kind == ast.FunctionDecl {
		p.node(call).C = cn.C
		if s, ok := p.reg.ExprType(cn.C); ok && s.Func != nil {
			p.reg.SetExprType(call, s.Func.Return)
		}
		return
	}

	name := cn.Name

	// Calling a named value: a closure invokes operator(), a function
	// pointer calls indirectly. Locals shadow class methods, so value
	// calls resolve first.
	if s, ok := p.reg.ExprType(callee); ok {
		base := s.StripRef()
		if p.reg.IsClass(base) {
			if m := p.findOperatorMethod(base.Base, "operator()"); m != ast.Nil {
				p.node(call).C = m
				if ms, ok := p.reg.ExprType(m); ok && ms.Func != nil {
					p.reg.SetExprType(call, ms.Func.Return)
				}
				// Generic lambdas instantiate one call operator per
				// distinct argument-type vector.
				if info := p.reg.Get(base.Base); info.Node != ast.Nil {
					ln := p.node(info.Node)
					if ln.Kind == ast.LambdaExpr && ln.FVal > 0 {
						p.InstantiateGenericCall(base.Base, p.callArgTypes(call))
					}
				}
				return
			}
		}
		if info := p.reg.Get(base.Base); info.Kind == types.KindFunctionPtr {
			p.reg.SetExprType(call, info.Fn.Return)
			return
		}
	}
	if cn.Kind == ast.Ident {
		if refs := p.syms.Lookup(name); len(refs) > 0 {
			switch p.node(refs[0]).Kind {
			case ast.VarDecl, ast.ParamDecl, ast.LambdaCapture:
				// A deduced closure result or forwarded callable: an
				// indirect call, typed best-effort.
				if s, ok := p.reg.ExprType(callee); ok && s.Func != nil {
					p.reg.SetExprType(call, s.Func.Return)
				} else {
					p.reg.SetExprType(call, types.Spec(p.reg.Primitive(types.PrimInt)))
				}
				return
			}
		}
	}

	// Implicit member call: a bare name naming a method of an enclosing
	// class (or a base) calls through `this`.
	for i := len(p.classStack) - 1; i >= 0; i-- {
		cls := p.classStack[i].index
		if ms, owner := p.findMethodIn(cls, name); len(ms) > 0 {
			m := p.pickMethodOverload(ms, call)
			p.checkMemberAccess(cn.Tok, owner, m.Access, "member function", name)
			thisN := p.newNode(ast.ThisExpr, cn.Tok)
			p.reg.SetExprType(thisN, types.Spec(cls).AddPointer())
			nc := p.node(call)
			nc.Kind = ast.MemberCallExpr
			nc.A = thisN
			nc.Name = name
			nc.C = m.Node
			nc.IVal = int64(owner)
			nc.Flags |= ast.FlagByRef
			if m.Virtual {
				nc.Flags |= ast.FlagVirtual
			}
			if m.Sig != nil {
				p.reg.SetExprType(call, m.Sig.Return)
			}
			return
		}
	}

	argTypes := p.callArgTypes(call)

	// Functional cast: `int(x)` or `T(x)` where T names a type.
	if p.namesType(name) && p.engine.ByName(name) == 0 {
		if idx := p.resolveTypeName(name); idx != types.Invalid {
			p.node(call).Kind = ast.FunctionalCastExpr
			p.reg.SetExprType(call, types.Spec(idx))
			return
		}
	}

	var explicit []types.TemplateArg
	if len(cn.Kids) > 0 {
		// The name carried explicit template arguments.
		explicit = p.explicitArgsOf(cn)
	}

	cand, err := p.engine.SelectOverload(name, argTypes, explicit, cn.Tok)
	if err != nil {
		if err.Kind == errors.NoMatchingOverload || !err.Kind.Soft() {
			if p.probeDepth == 0 {
				err.Source = p.sources[cn.Tok.File]
				p.errs.Add(err)
			}
		}
		return
	}
	p.node(call).C = cand.Node
	if cand.IsTemplate() {
		// Instantiate the function template body now.
		ref, ierr := p.engine.Instantiate(cand.Template, cand.Args)
		if ierr != nil {
			if p.probeDepth == 0 {
				p.errs.Add(ierr)
			}
		} else if ref != ast.Nil {
			p.node(call).C = ref
		}
	}
	if cand.Sig != nil {
		p.reg.SetExprType(call, cand.Sig.Return)
	}
}

func (p *Parser) callArgTypes(call ast.NodeRef) []types.Specifier {
	kids := p.node(call).Kids
	out := make([]types.Specifier, 0, len(kids))
	for _, a := range kids {
		s, ok := p.reg.ExprType(a)
		if !ok {
			s = types.Spec(p.reg.Primitive(types.PrimInt))
		}
		if p.subst != nil {
			s = p.engine.SubstituteSpec(s, p.subst)
		}
		// Value category feeds deduction: named things are lvalues.
		if p.isLValueNode(a) && s.Ref == types.NoRef {
			s.Ref = types.LValueRef
		}
		out = append(out, s)
	}
	return out
}

func (p *Parser) isLValueNode(n ast.NodeRef) bool {
	switch p.node(n).Kind {
	case ast.Ident, ast.QualifiedIdent, ast.MemberExpr, ast.ArrowExpr, ast.IndexExpr:
		return true
	case ast.UnaryExpr:
		return ast.Op(p.node(n).IVal) == ast.OpDeref
	}
	return false
}

func (p *Parser) explicitArgsOf(cn *ast.Node) []types.TemplateArg {
	out := make([]types.TemplateArg, 0, len(cn.Kids))
	for _, k := range cn.Kids {
		if s, ok := p.reg.ExprType(k); ok {
			kn := p.node(k)
			switch kn.Kind {
			case ast.TypeSpec, ast.TemplateIdSpec, ast.AutoSpec, ast.DecltypeSpec:
				out = append(out, types.TemplateArg{IsType: true, Type: s})
				continue
			}
		}
		v, _ := p.constFold(k)
		out = append(out, types.TemplateArg{Value: v, ValueType: p.reg.Primitive(types.PrimInt)})
	}
	return out
}

// parseNameExpr parses an identifier, optionally qualified and optionally
// carrying explicit template arguments, and resolves its type.
func (p *Parser) parseNameExpr() ast.NodeRef {
	tok := p.next()
	name := tok.Lexeme
	n := p.newNode(ast.Ident, tok)
	p.node(n).Name = name

	// Qualified path a::b::c.
	var path []intern.Handle
	for p.at(p.kw.coloncolon) && p.peek(1).Kind == token.Identifier {
		p.next()
		path = append(path, name)
		name = p.next().Lexeme
		p.node(n).Kind = ast.QualifiedIdent
		p.node(n).Name = name
	}
	if len(path) > 0 {
		p.node(n).IVal = int64(p.qualifyIn(path, intern.Invalid))
		// Enum value? scoped-enum path: Enum::Value
		if len(path) == 1 {
			if idx := p.reg.ByName(path[0]); idx != types.Invalid {
				if info := p.reg.Get(idx); info.Kind == types.KindEnum {
					for i, h := range info.Enum.Names {
						if h == name {
							p.node(n).Kind = ast.IntLit
							p.node(n).IVal = info.Enum.Values[i]
							p.reg.SetExprType(n, types.Spec(idx))
							return n
						}
					}
				}
			}
		}
		if refs := p.syms.LookupQualified(path, name); len(refs) > 0 {
			p.typeFromDecl(n, refs[0])
			if p.node(refs[0]).Kind == ast.FunctionDecl {
				p.node(n).C = refs[0]
			}
			return n
		}
	}

	// Explicit template arguments on a function name: f<int>(...)
	if p.at(p.kw.lt) && p.engine.ByName(name) != 0 {
		save := p.stream.Save()
		p.probeDepth++
		args := p.parseTemplateArgList(n)
		p.probeDepth--
		if !p.at(p.kw.lparen) {
			p.stream.Restore(save)
			p.node(n).Kids = nil
		} else {
			_ = args
		}
	}

	// Substituted non-type template parameter becomes a constant.
	if p.subst != nil {
		if arg, ok := p.subst.LookupName(name); ok && !arg.IsType {
			p.node(n).Kind = ast.IntLit
			p.node(n).IVal = arg.Value
			vt := arg.ValueType
			if vt == types.Invalid {
				vt = p.reg.Primitive(types.PrimInt)
			}
			p.reg.SetExprType(n, types.Spec(vt))
			return n
		}
	}

	if refs := p.syms.Lookup(name); len(refs) > 0 {
		p.typeFromDecl(n, refs[0])
		return n
	}

	// Implicit member of an enclosing class: base-class fields and
	// methods are reachable without `this->`, with access checked at the
	// use site. Lambda closures are walked through to the class behind
	// them.
	for i := len(p.classStack) - 1; i >= 0; i-- {
		cls := p.classStack[i].index
		if m, owner := p.findMemberIn(cls, name); m != nil {
			p.checkMemberAccess(tok, owner, m.Access, "member", name)
			s := m.Spec
			if p.subst != nil {
				s = p.engine.SubstituteSpec(s, p.subst)
			}
			s.Ref = types.LValueRef
			p.reg.SetExprType(n, s)
			p.node(n).IVal = int64(owner)
			return n
		}
		if ms, _ := p.findMethodIn(cls, name); len(ms) > 0 {
			// The call conversion happens in resolveCall; typing the
			// name is enough here.
			if s, ok := p.reg.ExprType(ms[0].Node); ok {
				p.reg.SetExprType(n, s)
			}
			return n
		}
	}

	// Unscoped enumerator.
	if v, idx, ok := p.lookupEnumerator(name); ok {
		p.node(n).Kind = ast.IntLit
		p.node(n).IVal = v
		p.reg.SetExprType(n, types.Spec(idx))
		return n
	}

	if !p.namesType(name) && p.probeDepth == 0 && p.engine.ByName(name) == 0 {
		p.errorAt(errors.SymbolError, tok, "undefined name %q", p.table.Lookup(name))
	}
	return n
}

func (p *Parser) lookupEnumerator(name intern.Handle) (int64, types.TypeIndex, bool) {
	for i := 1; i < p.reg.Len(); i++ {
		info := p.reg.Get(types.TypeIndex(i))
		if info.Kind != types.KindEnum || info.Enum.Scoped {
			continue
		}
		for j, h := range info.Enum.Names {
			if h == name {
				return info.Enum.Values[j], types.TypeIndex(i), true
			}
		}
	}
	return 0, types.Invalid, false
}

// typeFromDecl types a name node from its declaration.
func (p *Parser) typeFromDecl(n ast.NodeRef, decl ast.NodeRef) {
	d := p.node(decl)
	switch d.Kind {
	case ast.VarDecl, ast.ParamDecl, ast.FieldDecl:
		if s, ok := p.reg.ExprType(decl); ok {
			if p.subst != nil {
				s = p.engine.SubstituteSpec(s, p.subst)
			}
			// The declared type is carried as-is; lvalue-ness is a value
			// category, marked at call sites for deduction, not a
			// reference qualifier on the type.
			p.reg.SetExprType(n, s)
		}
	case ast.FunctionDecl:
		if s, ok := p.reg.ExprType(decl); ok {
			p.reg.SetExprType(n, s)
		}
	case ast.EnumeratorDecl:
		p.node(n).Kind = ast.IntLit
		p.node(n).IVal = d.IVal
		if s, ok := p.reg.ExprType(decl); ok {
			p.reg.SetExprType(n, s)
		}
	}
}

// constFold evaluates an integral constant expression, or reports failure.
func (p *Parser) constFold(n ast.NodeRef) (int64, bool) {
	if n == ast.Nil {
		return 0, false
	}
	node := p.node(n)
	switch node.Kind {
	case ast.IntLit, ast.BoolLit, ast.CharLit, ast.SizeofExpr, ast.AlignofExpr:
		return node.IVal, true
	case ast.TraitExpr:
		return node.IVal, true
	case ast.UnaryExpr:
		v, ok := p.constFold(node.A)
		if !ok {
			return 0, false
		}
		switch ast.Op(node.IVal) {
		case ast.OpNeg:
			return -v, true
		case ast.OpLogNot:
			if v == 0 {
				return 1, true
			}
			return 0, true
		case ast.OpBitNot:
			return ^v, true
		case ast.OpPlus:
			return v, true
		}
	case ast.BinaryExpr:
		l, lok := p.constFold(node.A)
		r, rok := p.constFold(node.B)
		if !lok || !rok {
			return 0, false
		}
		return foldBinary(ast.Op(node.IVal), l, r)
	case ast.ConditionalExpr:
		c, ok := p.constFold(node.A)
		if !ok {
			return 0, false
		}
		if c != 0 {
			return p.constFold(node.B)
		}
		return p.constFold(node.C)
	case ast.Ident:
		if p.subst != nil {
			if arg, ok := p.subst.LookupName(node.Name); ok && !arg.IsType {
				return arg.Value, true
			}
		}
		if refs := p.syms.Lookup(node.Name); len(refs) > 0 {
			d := p.node(refs[0])
			if d.Kind == ast.VarDecl && d.Is(ast.FlagConstexpr|ast.FlagConst) && d.C != ast.Nil {
				return p.constFold(d.C)
			}
			if d.Kind == ast.EnumeratorDecl {
				return d.IVal, true
			}
		}
	}
	return 0, false
}

func foldBinary(op ast.Op, l, r int64) (int64, bool) {
	switch op {
	case ast.OpAdd:
		return l + r, true
	case ast.OpSub:
		return l - r, true
	case ast.OpMul:
		return l * r, true
	case ast.OpDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case ast.OpMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	case ast.OpShl:
		return l << uint(r), true
	case ast.OpShr:
		return l >> uint(r), true
	case ast.OpBitAnd:
		return l & r, true
	case ast.OpBitOr:
		return l | r, true
	case ast.OpBitXor:
		return l ^ r, true
	case ast.OpLogAnd:
		return b2i(l != 0 && r != 0), true
	case ast.OpLogOr:
		return b2i(l != 0 || r != 0), true
	case ast.OpEq:
		return b2i(l == r), true
	case ast.OpNe:
		return b2i(l != r), true
	case ast.OpLt:
		return b2i(l < r), true
	case ast.OpLe:
		return b2i(l <= r), true
	case ast.OpGt:
		return b2i(l > r), true
	case ast.OpGe:
		return b2i(l >= r), true
	}
	return 0, false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
