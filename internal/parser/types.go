package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Type-specifier parsing: decl-specifier-seq plus the pointer/reference
// part of a declarator. Array extents belong to the declarator and are
// parsed by the declaration code after the name.

// startsType reports whether the cursor could begin a type specifier.
func (p *Parser) startsType() bool {
	t := p.cur()
	switch t.Lexeme {
	case p.kw.constKw, p.kw.volatileKw, p.kw.unsignedKw, p.kw.signedKw,
		p.kw.autoKw, p.kw.decltypeKw, p.kw.typenameKw,
		p.kw.classKw, p.kw.structKw, p.kw.unionKw, p.kw.enumKw, p.kw.voidKw:
		return true
	}
	if t.Kind != token.Identifier && t.Kind != token.Keyword {
		return false
	}
	return p.namesType(t.Lexeme)
}

// namesType reports whether a name currently resolves to a type.
func (p *Parser) namesType(name intern.Handle) bool {
	if p.subst != nil {
		if arg, ok := p.subst.LookupName(name); ok {
			return arg.IsType
		}
	}
	if _, ok := p.lookupTemplateParam(name); ok {
		return true
	}
	if _, ok := p.aliases()[name]; ok {
		return true
	}
	if p.reg.ByName(name) != types.Invalid {
		return true
	}
	if p.engine.ByName(p.qualify(name)) != 0 || p.engine.ByName(name) != 0 {
		return true
	}
	return false
}

// parseTypeSpecifier parses a full type spelling and returns the resolved
// specifier plus its AST node (a TypeSpec or TemplateIdSpec with the
// specifier recorded in the registry's side table).
func (p *Parser) parseTypeSpecifier() (types.Specifier, ast.NodeRef) {
	start := p.cur()
	var spec types.Specifier

	// Leading cv and sign.
	unsigned, signed := false, false
	for {
		switch {
		case p.accept(p.kw.constKw):
			spec.Const = true
		case p.accept(p.kw.volatileKw):
			spec.Volatile = true
		case p.accept(p.kw.unsignedKw):
			unsigned = true
		case p.accept(p.kw.signedKw):
			signed = true
		case p.accept(p.kw.typenameKw):
			// elaboration only
		case p.at(p.kw.classKw) || p.at(p.kw.structKw) || p.at(p.kw.unionKw) || p.at(p.kw.enumKw):
			p.next()
		default:
			goto base
		}
	}

base:
	node := p.newNode(ast.TypeSpec, start)
	switch {
	case p.at(p.kw.autoKw):
		p.next()
		p.node(node).Kind = ast.AutoSpec
		spec.Base = p.reg.Primitive(types.PrimInt) // refined by deduction
	case p.at(p.kw.decltypeKw):
		p.next()
		p.node(node).Kind = ast.DecltypeSpec
		p.expect(p.kw.lparen, "after decltype")
		ex := p.parseExpr(COMMA)
		p.expect(p.kw.rparen, "to close decltype")
		p.node(node).A = ex
		if s, ok := p.reg.ExprType(ex); ok {
			base := spec
			spec = s
			spec.Const = spec.Const || base.Const
			spec.Volatile = spec.Volatile || base.Volatile
		}
	default:
		spec.Base = p.parseBaseTypeName(node, unsigned, signed)
	}

	// Pointer and reference declarator part.
	for {
		switch {
		case p.accept(p.kw.star):
			lvl := types.PtrLevel{}
			for {
				if p.accept(p.kw.constKw) {
					lvl.Const = true
					continue
				}
				if p.accept(p.kw.volatileKw) {
					lvl.Volatile = true
					continue
				}
				break
			}
			spec.Pointers = append(spec.Pointers, lvl)
		case p.at(p.kw.amp):
			p.next()
			spec.Ref = types.LValueRef
		case p.at(p.kw.ampamp):
			p.next()
			spec.Ref = types.RValueRef
		default:
			p.reg.SetExprType(node, spec)
			return spec, node
		}
	}
}

// parseBaseTypeName resolves the base-type part: a builtin spelling, a
// substituted template parameter, an alias, a class/enum name, or a
// template-id which is instantiated on the spot.
func (p *Parser) parseBaseTypeName(node ast.NodeRef, unsigned, signed bool) types.TypeIndex {
	t := p.cur()
	name := t.Lexeme
	ntext := p.text(t)

	// Builtin multi-word spellings.
	if prim, n := p.matchBuiltin(ntext, unsigned, signed); prim != types.PrimNone {
		for i := 0; i < n; i++ {
			p.next()
		}
		p.node(node).Name = p.reg.Get(p.reg.Primitive(prim)).Name
		return p.reg.Primitive(prim)
	}
	if unsigned {
		return p.reg.Primitive(types.PrimUInt)
	}
	if signed {
		return p.reg.Primitive(types.PrimInt)
	}

	if t.Kind != token.Identifier && t.Kind != token.Keyword {
		p.errorAt(errors.ParseError, t, "expected a type name, found %q", ntext)
		return p.reg.Primitive(types.PrimInt)
	}
	p.next()
	p.node(node).Name = name

	// Qualified name path.
	var path []intern.Handle
	for p.at(p.kw.coloncolon) && p.peek(1).Kind == token.Identifier {
		p.next()
		path = append(path, name)
		name = p.next().Lexeme
		p.node(node).Name = name
	}

	// Substituted template parameter.
	if p.subst != nil {
		if arg, ok := p.subst.LookupName(name); ok && arg.IsType {
			p.reg.SetExprType(node, arg.Type)
			return arg.Type.Base
		}
	}

	// Template parameter placeholder while a signature or pattern parses.
	if idx, ok := p.lookupTemplateParam(name); ok {
		return idx
	}

	// Alias.
	if s, ok := p.aliases()[name]; ok {
		return s.Base
	}

	// Template-id: instantiate the class template now.
	if p.at(p.kw.lt) && p.templateNamed(name, path) != 0 {
		p.node(node).Kind = ast.TemplateIdSpec
		return p.parseTemplateIdType(node, p.templateNamed(name, path))
	}

	// An explicit path resolves the qualified spelling first, so same-named
	// nested classes of different outers stay distinct.
	if len(path) > 0 {
		if idx := p.reg.ByName(p.qualifyIn(path, name)); idx != types.Invalid {
			return idx
		}
	}
	if idx := p.resolveTypeName(name); idx != types.Invalid {
		return idx
	}
	p.errorAt(errors.SymbolError, t, "unknown type %q", p.table.Lookup(name))
	return p.reg.Primitive(types.PrimInt)
}

// resolveTypeName resolves an unqualified type spelling: nested types of
// the enclosing classes win over same-named globals.
func (p *Parser) resolveTypeName(name intern.Handle) types.TypeIndex {
	for i := len(p.classStack) - 1; i >= 0; i-- {
		owner := p.table.Lookup(p.reg.Get(p.classStack[i].index).Name)
		qual := p.table.Intern(owner + "::" + p.table.Lookup(name))
		if idx := p.reg.ByName(qual); idx != types.Invalid {
			return idx
		}
	}
	return p.reg.ByName(name)
}

func (p *Parser) templateNamed(name intern.Handle, path []intern.Handle) templatesHandle {
	if h := p.engine.ByName(name); h != 0 {
		return h
	}
	return p.engine.ByName(p.qualifyIn(path, name))
}

// matchBuiltin recognizes builtin type spellings at the cursor, returning
// the primitive and the token count consumed.
func (p *Parser) matchBuiltin(text string, unsigned, signed bool) (types.Prim, int) {
	two := ""
	if p.peek(1).Kind == token.Identifier || p.peek(1).Kind == token.Keyword {
		two = p.text(p.peek(1))
	}
	switch text {
	case "void":
		return types.PrimVoid, 1
	case "bool":
		return types.PrimBool, 1
	case "char":
		if unsigned {
			return types.PrimUChar, 1
		}
		if signed {
			return types.PrimSChar, 1
		}
		return types.PrimChar, 1
	case "char8_t":
		return types.PrimChar8, 1
	case "char16_t":
		return types.PrimChar16, 1
	case "char32_t":
		return types.PrimChar32, 1
	case "wchar_t":
		return types.PrimWChar, 1
	case "short":
		if unsigned {
			return types.PrimUShort, 1
		}
		return types.PrimShort, 1
	case "int":
		if unsigned {
			return types.PrimUInt, 1
		}
		return types.PrimInt, 1
	case "long":
		if two == "long" {
			n := 2
			if p.peek(2).Kind != token.EOF && p.text(p.peek(2)) == "int" {
				n = 3
			}
			if unsigned {
				return types.PrimULongLong, n
			}
			return types.PrimLongLong, n
		}
		if two == "double" {
			return types.PrimLongDouble, 2
		}
		n := 1
		if two == "int" {
			n = 2
		}
		if unsigned {
			return types.PrimULong, n
		}
		return types.PrimLong, n
	case "float":
		return types.PrimFloat, 1
	case "double":
		return types.PrimDouble, 1
	}
	return types.PrimNone, 0
}

// parseTemplateIdType parses `<args>` after a class-template name and
// instantiates it, yielding the concrete TypeIndex.
func (p *Parser) parseTemplateIdType(node ast.NodeRef, h templatesHandle) types.TypeIndex {
	args := p.parseTemplateArgList(node)
	idx, err := p.instantiateClass(h, args, p.node(node).Tok)
	if err != nil {
		if p.probeDepth == 0 {
			p.errs.Add(err)
		}
		return p.reg.Primitive(types.PrimInt)
	}
	p.reg.SetExprType(node, types.Spec(idx))
	return idx
}

// parseTemplateArgList parses `<arg, ...>`; each argument is a type or a
// constant expression.
func (p *Parser) parseTemplateArgList(node ast.NodeRef) []types.TemplateArg {
	p.expect(p.kw.lt, "to open template arguments")
	var args []types.TemplateArg
	for !p.at(p.kw.gt) && !p.atEOF() {
		if p.startsType() {
			spec, sn := p.parseTypeSpecifier()
			if p.subst != nil {
				spec = p.engine.SubstituteSpec(spec, p.subst)
			}
			p.node(node).Kids = append(p.node(node).Kids, sn)
			args = append(args, types.TemplateArg{IsType: true, Type: spec})
		} else {
			ex := p.parseExpr(SHIFT) // stop before '>'
			p.node(node).Kids = append(p.node(node).Kids, ex)
			v, _ := p.constFold(ex)
			vt := p.reg.Primitive(types.PrimInt)
			if s, ok := p.reg.ExprType(ex); ok {
				vt = s.Base
			}
			args = append(args, types.TemplateArg{Value: v, ValueType: vt})
		}
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.gt, "to close template arguments")
	return args
}

// parseArrayExtents parses trailing `[N]` declarator parts.
func (p *Parser) parseArrayExtents(spec types.Specifier) types.Specifier {
	for p.at(p.kw.lbrack) {
		p.next()
		count := int64(-1)
		if !p.at(p.kw.rbrack) {
			ex := p.parseExpr(COMMA)
			if v, ok := p.constFold(ex); ok {
				count = v
			}
		}
		p.expect(p.kw.rbrack, "to close array bound")
		spec.Arrays = append(spec.Arrays, types.ArrayDim{Count: count})
	}
	return spec
}

// qualify prefixes a name with the current scope path; qualifyIn uses an
// explicit path instead.
func (p *Parser) qualify(name intern.Handle) intern.Handle {
	path := p.syms.Current().Path()
	return p.qualifyIn(path, name)
}

func (p *Parser) qualifyIn(path []intern.Handle, name intern.Handle) intern.Handle {
	if len(path) == 0 {
		return name
	}
	full := ""
	for _, h := range path {
		full += p.table.Lookup(h) + "::"
	}
	full += p.table.Lookup(name)
	return p.table.Intern(full)
}
