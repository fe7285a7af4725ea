package parser

import (
	"strconv"
	"strings"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Pratt expression parsing. Prefix forms dispatch on the current token;
// infix operators carry a precedence and left associativity. Every parsed
// expression records its computed specifier in the registry side table as
// it is built, so the IR builder reads a fully typed tree.

type binOp struct {
	prec int
	op   ast.Op
}

func (p *Parser) binaryOps() map[intern.Handle]binOp {
	if p.binOpMap != nil {
		return p.binOpMap
	}
	t := p.table
	p.binOpMap = map[intern.Handle]binOp{
		t.Intern("||"): {LOGOR, ast.OpLogOr},
		t.Intern("&&"): {LOGAND, ast.OpLogAnd},
		t.Intern("|"):  {BITOR, ast.OpBitOr},
		t.Intern("^"):  {BITXOR, ast.OpBitXor},
		t.Intern("&"):  {BITAND, ast.OpBitAnd},
		t.Intern("=="): {EQUALITY, ast.OpEq},
		t.Intern("!="): {EQUALITY, ast.OpNe},
		t.Intern("<"):  {RELATIONAL, ast.OpLt},
		t.Intern("<="): {RELATIONAL, ast.OpLe},
		t.Intern(">"):  {RELATIONAL, ast.OpGt},
		t.Intern(">="): {RELATIONAL, ast.OpGe},
		t.Intern("<=>"): {SPACESHIP, ast.OpSpaceship},
		t.Intern("<<"): {SHIFT, ast.OpShl},
		t.Intern(">>"): {SHIFT, ast.OpShr},
		t.Intern("+"):  {SUM, ast.OpAdd},
		t.Intern("-"):  {SUM, ast.OpSub},
		t.Intern("*"):  {PRODUCT, ast.OpMul},
		t.Intern("/"):  {PRODUCT, ast.OpDiv},
		t.Intern("%"):  {PRODUCT, ast.OpMod},
	}
	return p.binOpMap
}

var assignOps = map[string]ast.Op{
	"=": ast.OpAssign, "+=": ast.OpAddAssign, "-=": ast.OpSubAssign,
	"*=": ast.OpMulAssign, "/=": ast.OpDivAssign, "%=": ast.OpModAssign,
	"&=": ast.OpAndAssign, "|=": ast.OpOrAssign, "^=": ast.OpXorAssign,
	"<<=": ast.OpShlAssign, ">>=": ast.OpShrAssign,
}

// parseExpr parses an expression with operators of precedence >= minPrec.
func (p *Parser) parseExpr(minPrec int) ast.NodeRef {
	if p.depth >= MaxDepth {
		p.errorAt(errors.RecursionLimit, p.cur(), "expression nesting exceeds %d", MaxDepth)
		return ast.Nil
	}
	p.depth++
	defer func() { p.depth-- }()

	left := p.parsePrefix()
	if left == ast.Nil {
		return ast.Nil
	}
	left = p.parsePostfix(left)

	for {
		tok := p.cur()
		if op, ok := assignOps[p.text(tok)]; ok && minPrec <= ASSIGN {
			p.next()
			rhs := p.parseExpr(ASSIGN) // right associative
			n := p.newNode(ast.AssignExpr, tok)
			if op != ast.OpAssign {
				p.node(n).Kind = ast.CompoundAssignExpr
			}
			p.node(n).A, p.node(n).B = left, rhs
			p.node(n).IVal = int64(op)
			if s, ok := p.reg.ExprType(left); ok {
				p.reg.SetExprType(n, s.StripRef())
			}
			left = n
			continue
		}
		if p.at(p.kw.question) && minPrec <= CONDITIONAL {
			p.next()
			thenE := p.parseExpr(ASSIGN)
			p.expect(p.kw.colon, "in conditional expression")
			elseE := p.parseExpr(CONDITIONAL)
			n := p.newNode(ast.ConditionalExpr, tok)
			p.node(n).A, p.node(n).B, p.node(n).C = left, thenE, elseE
			if s, ok := p.reg.ExprType(thenE); ok {
				p.reg.SetExprType(n, s.StripRef())
			}
			left = n
			continue
		}
		if p.at(p.kw.comma) && minPrec <= COMMA {
			p.next()
			rhs := p.parseExpr(ASSIGN)
			n := p.newNode(ast.CommaExpr, tok)
			p.node(n).A, p.node(n).B = left, rhs
			p.node(n).IVal = int64(ast.OpComma)
			if s, ok := p.reg.ExprType(rhs); ok {
				p.reg.SetExprType(n, s)
			}
			left = n
			continue
		}
		info, ok := p.binaryOps()[tok.Lexeme]
		if !ok || info.prec < minPrec {
			return left
		}
		p.next()
		rhs := p.parseExpr(info.prec + 1)
		left = p.makeBinary(tok, info.op, left, rhs)
	}
}

// makeBinary builds a typed binary node, routing class operands through
// operator overloads.
func (p *Parser) makeBinary(tok token.Token, op ast.Op, lhs, rhs ast.NodeRef) ast.NodeRef {
	n := p.newNode(ast.BinaryExpr, tok)
	p.node(n).A, p.node(n).B = lhs, rhs
	p.node(n).IVal = int64(op)

	ls, lok := p.reg.ExprType(lhs)
	rs, _ := p.reg.ExprType(rhs)

	if lok && p.reg.IsClass(ls.StripRef()) {
		if m := p.findOperatorMethod(ls.StripRef().Base, "operator"+op.String()); m != ast.Nil {
			p.node(n).C = m
			if s, ok := p.reg.ExprType(m); ok && s.Func != nil {
				p.reg.SetExprType(n, s.Func.Return)
			}
			return n
		}
	}

	switch op {
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe,
		ast.OpLogAnd, ast.OpLogOr:
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimBool)))
	case ast.OpSpaceship:
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimInt)))
	default:
		p.reg.SetExprType(n, p.usualArithmetic(ls, rs))
	}
	return n
}

// usualArithmetic applies the usual arithmetic conversions to pick the
// result type of a built-in binary operator.
func (p *Parser) usualArithmetic(a, b types.Specifier) types.Specifier {
	a, b = a.StripRef().StripCV(), b.StripRef().StripCV()
	if a.IsPointer() {
		return a
	}
	if b.IsPointer() {
		return b
	}
	ra, rb := p.arithRank(a), p.arithRank(b)
	if ra >= rb {
		return a
	}
	return b
}

func (p *Parser) arithRank(s types.Specifier) int {
	switch p.reg.Get(s.Base).Prim {
	case types.PrimLongDouble:
		return 10
	case types.PrimDouble:
		return 9
	case types.PrimFloat:
		return 8
	case types.PrimULongLong:
		return 7
	case types.PrimLongLong:
		return 6
	case types.PrimULong:
		return 5
	case types.PrimLong:
		return 4
	case types.PrimUInt:
		return 3
	}
	return 2
}

// parsePrefix parses literals, names, unary operators, casts, new/delete,
// lambdas, and the other primary forms.
func (p *Parser) parsePrefix() ast.NodeRef {
	tok := p.cur()
	text := p.text(tok)

	switch tok.Kind {
	case token.Literal:
		return p.parseLiteral()
	case token.EOF:
		p.errorAt(errors.ParseError, tok, "unexpected end of input in expression")
		return ast.Nil
	}

	switch text {
	case "-", "+", "!", "~", "*", "&":
		p.next()
		operand := p.parseExpr(PREFIX)
		return p.makeUnary(tok, prefixOp(text), operand)
	case "++", "--":
		p.next()
		operand := p.parseExpr(PREFIX)
		n := p.newNode(ast.IncDecExpr, tok)
		p.node(n).A = operand
		p.node(n).Flags |= ast.FlagPrefix
		if text == "++" {
			p.node(n).IVal = int64(ast.OpInc)
		} else {
			p.node(n).IVal = int64(ast.OpDec)
		}
		if s, ok := p.reg.ExprType(operand); ok {
			p.reg.SetExprType(n, s)
		}
		return n
	case "(":
		// Cast or grouping: `(type)expr` vs `(expr)`.
		if p.castAhead() {
			p.next()
			spec, sn := p.parseTypeSpecifier()
			p.expect(p.kw.rparen, "to close cast")
			operand := p.parseExpr(PREFIX)
			n := p.newNode(ast.CStyleCastExpr, tok)
			p.node(n).A, p.node(n).B = sn, operand
			p.reg.SetExprType(n, spec)
			return n
		}
		p.next()
		inner := p.parseExpr(COMMA)
		p.expect(p.kw.rparen, "to close grouping")
		return inner
	case "[":
		return p.parseLambda()
	case "{":
		return p.parseInitList()
	}

	switch tok.Lexeme {
	case p.kw.trueKw, p.kw.falseKw:
		p.next()
		n := p.newNode(ast.BoolLit, tok)
		if tok.Lexeme == p.kw.trueKw {
			p.node(n).IVal = 1
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimBool)))
		return n
	case p.kw.nullptrKw:
		p.next()
		n := p.newNode(ast.NullptrLit, tok)
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimNullptr)))
		return n
	case p.kw.thisKw:
		p.next()
		n := p.newNode(ast.ThisExpr, tok)
		// Inside a lambda, `this` is the enclosing class, not the closure.
		for i := len(p.classStack) - 1; i >= 0; i-- {
			cls := p.classStack[i]
			if p.node(cls.decl).Kind == ast.LambdaExpr {
				continue
			}
			p.reg.SetExprType(n, types.Spec(cls.index).AddPointer())
			break
		}
		return n
	case p.kw.sizeofKw, p.kw.alignofKw:
		p.next()
		n := p.newNode(ast.SizeofExpr, tok)
		if tok.Lexeme == p.kw.alignofKw {
			p.node(n).Kind = ast.AlignofExpr
		}
		p.expect(p.kw.lparen, "after sizeof")
		var spec types.Specifier
		if p.startsType() {
			var sn ast.NodeRef
			spec, sn = p.parseTypeSpecifier()
			spec = p.parseArrayExtents(spec)
			p.node(n).A = sn
		} else {
			ex := p.parseExpr(COMMA)
			p.node(n).A = ex
			spec, _ = p.reg.ExprType(ex)
		}
		p.expect(p.kw.rparen, "to close sizeof")
		if p.subst != nil {
			spec = p.engine.SubstituteSpec(spec, p.subst)
		}
		if p.node(n).Kind == ast.SizeofExpr {
			p.node(n).IVal = int64(p.reg.SizeBits(spec) / 8)
		} else {
			p.node(n).IVal = int64(p.reg.AlignBits(spec) / 8)
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimULongLong)))
		return n
	case p.kw.typeidKw:
		p.next()
		n := p.newNode(ast.TypeidExpr, tok)
		p.expect(p.kw.lparen, "after typeid")
		if p.startsType() {
			_, sn := p.parseTypeSpecifier()
			p.node(n).A = sn
		} else {
			p.node(n).A = p.parseExpr(COMMA)
		}
		p.expect(p.kw.rparen, "to close typeid")
		// Result is a reference to the runtime's type_info.
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimVoid)).AddPointer())
		return n
	case p.kw.staticCastKw, p.kw.dynamicCastKw, p.kw.reinterpretCastKw, p.kw.constCastKw:
		return p.parseNamedCast()
	case p.kw.newKw:
		return p.parseNew()
	case p.kw.deleteKw:
		return p.parseDelete()
	case p.kw.throwKw:
		p.next()
		n := p.newNode(ast.ThrowExpr, tok)
		if !p.at(p.kw.semi) && !p.at(p.kw.rparen) {
			p.node(n).A = p.parseExpr(ASSIGN)
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimVoid)))
		return n
	case p.kw.requiresKw:
		return p.parseRequiresExpr()
	}

	if strings.HasPrefix(text, "__is_") || strings.HasPrefix(text, "__has_") {
		return p.parseTraitExpr()
	}

	if tok.Kind == token.Identifier || tok.Kind == token.Keyword {
		return p.parseNameExpr()
	}

	p.errorAt(errors.ParseError, tok, "unexpected token %q in expression", text)
	p.next()
	return ast.Nil
}

func prefixOp(text string) ast.Op {
	switch text {
	case "-":
		return ast.OpNeg
	case "+":
		return ast.OpPlus
	case "!":
		return ast.OpLogNot
	case "~":
		return ast.OpBitNot
	case "*":
		return ast.OpDeref
	case "&":
		return ast.OpAddr
	}
	return ast.OpNone
}

func (p *Parser) makeUnary(tok token.Token, op ast.Op, operand ast.NodeRef) ast.NodeRef {
	n := p.newNode(ast.UnaryExpr, tok)
	p.node(n).A = operand
	p.node(n).IVal = int64(op)
	if s, ok := p.reg.ExprType(operand); ok {
		switch op {
		case ast.OpDeref:
			d := s.StripRef().Deref()
			d.Ref = types.LValueRef
			p.reg.SetExprType(n, d)
		case ast.OpAddr:
			p.reg.SetExprType(n, s.StripRef().AddPointer())
		case ast.OpLogNot:
			p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimBool)))
		default:
			p.reg.SetExprType(n, s.StripRef())
		}
	}
	return n
}

// castAhead distinguishes `(type)` casts from parenthesized expressions.
func (p *Parser) castAhead() bool {
	if p.peek(1).Kind != token.Identifier && p.peek(1).Kind != token.Keyword {
		return false
	}
	save := p.stream.Save()
	defer p.stream.Restore(save)
	p.next() // (
	if !p.startsType() {
		return false
	}
	p.probeDepth++
	_, _ = p.parseTypeSpecifier()
	p.probeDepth--
	return p.at(p.kw.rparen)
}

func (p *Parser) parseLiteral() ast.NodeRef {
	tok := p.next()
	text := p.text(tok)
	switch {
	case strings.HasPrefix(text, "\""):
		n := p.newNode(ast.StringLit, tok)
		p.node(n).Name = tok.Lexeme
		s := types.Spec(p.reg.Primitive(types.PrimChar))
		s.Const = true
		p.reg.SetExprType(n, s.AddPointer())
		return n
	case strings.HasPrefix(text, "'"):
		n := p.newNode(ast.CharLit, tok)
		if len(text) >= 3 {
			p.node(n).IVal = int64(text[1])
			if text[1] == '\\' && len(text) >= 4 {
				p.node(n).IVal = int64(unescapeChar(text[2]))
			}
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimChar)))
		return n
	case strings.ContainsAny(text, ".eE") && !strings.HasPrefix(text, "0x"):
		n := p.newNode(ast.FloatLit, tok)
		v, _ := strconv.ParseFloat(strings.TrimRight(text, "fFlL"), 64)
		p.node(n).FVal = v
		prim := types.PrimDouble
		if strings.HasSuffix(text, "f") || strings.HasSuffix(text, "F") {
			prim = types.PrimFloat
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(prim)))
		return n
	default:
		n := p.newNode(ast.IntLit, tok)
		clean := strings.TrimRight(text, "uUlL")
		v, err := strconv.ParseInt(clean, 0, 64)
		if err != nil {
			u, _ := strconv.ParseUint(clean, 0, 64)
			v = int64(u)
		}
		p.node(n).IVal = v
		prim := types.PrimInt
		lower := strings.ToLower(text)
		if strings.Contains(lower, "ull") || strings.Contains(lower, "llu") {
			prim = types.PrimULongLong
		} else if strings.Contains(lower, "ll") {
			prim = types.PrimLongLong
		} else if strings.HasSuffix(lower, "u") {
			prim = types.PrimUInt
		}
		p.reg.SetExprType(n, types.Spec(p.reg.Primitive(prim)))
		return n
	}
}

func unescapeChar(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	case '\\':
		return '\\'
	case '\'':
		return '\''
	}
	return c
}

func (p *Parser) parseNamedCast() ast.NodeRef {
	tok := p.next()
	kind := ast.StaticCastExpr
	switch tok.Lexeme {
	case p.kw.dynamicCastKw:
		kind = ast.DynamicCastExpr
	case p.kw.reinterpretCastKw:
		kind = ast.ReinterpretCastExpr
	case p.kw.constCastKw:
		kind = ast.ConstCastExpr
	}
	n := p.newNode(kind, tok)
	p.expect(p.kw.lt, "after cast keyword")
	spec, sn := p.parseTypeSpecifier()
	p.expect(p.kw.gt, "to close cast type")
	p.expect(p.kw.lparen, "to open cast operand")
	p.node(n).A = sn
	p.node(n).B = p.parseExpr(COMMA)
	p.expect(p.kw.rparen, "to close cast operand")
	if p.subst != nil {
		spec = p.engine.SubstituteSpec(spec, p.subst)
	}
	p.reg.SetExprType(n, spec)
	return n
}

func (p *Parser) parseNew() ast.NodeRef {
	tok := p.next() // new
	var placement ast.NodeRef
	if p.at(p.kw.lparen) && !p.startsTypeAfterLParen() {
		p.next()
		placement = p.parseExpr(COMMA)
		p.expect(p.kw.rparen, "to close placement argument")
	}
	spec, sn := p.parseTypeSpecifier()
	switch {
	case p.at(p.kw.lbrack):
		p.next()
		size := p.parseExpr(COMMA)
		p.expect(p.kw.rbrack, "to close array new bound")
		n := p.newNode(ast.NewArrayExpr, tok)
		p.node(n).A, p.node(n).B = sn, size
		p.reg.SetExprType(n, spec.AddPointer())
		return n
	case placement != ast.Nil:
		n := p.newNode(ast.PlacementNewExpr, tok)
		p.node(n).A, p.node(n).C = sn, placement
		if p.accept(p.kw.lparen) {
			p.parseCallArgs(n)
		}
		p.reg.SetExprType(n, spec.AddPointer())
		return n
	default:
		n := p.newNode(ast.NewExpr, tok)
		p.node(n).A = sn
		if p.accept(p.kw.lparen) {
			p.parseCallArgs(n)
		} else if p.at(p.kw.lbrace) {
			p.next()
			for !p.at(p.kw.rbrace) && !p.atEOF() {
				p.node(n).Kids = append(p.node(n).Kids, p.parseExpr(ASSIGN))
				if !p.accept(p.kw.comma) {
					break
				}
			}
			p.expect(p.kw.rbrace, "to close braced initializer")
		}
		p.reg.SetExprType(n, spec.AddPointer())
		return n
	}
}

func (p *Parser) startsTypeAfterLParen() bool {
	save := p.stream.Save()
	defer p.stream.Restore(save)
	p.next()
	return p.startsType()
}

func (p *Parser) parseDelete() ast.NodeRef {
	tok := p.next() // delete
	kind := ast.DeleteExpr
	if p.accept(p.kw.lbrack) {
		p.expect(p.kw.rbrack, "in delete[]")
		kind = ast.DeleteArrayExpr
	}
	n := p.newNode(kind, tok)
	p.node(n).A = p.parseExpr(PREFIX)
	p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimVoid)))
	return n
}

func (p *Parser) parseInitList() ast.NodeRef {
	tok := p.next() // {
	n := p.newNode(ast.InitListExpr, tok)
	for !p.at(p.kw.rbrace) && !p.atEOF() {
		p.node(n).Kids = append(p.node(n).Kids, p.parseExpr(ASSIGN))
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.rbrace, "to close initializer list")
	return n
}

func (p *Parser) parseTraitExpr() ast.NodeRef {
	tok := p.next()
	n := p.newNode(ast.TraitExpr, tok)
	p.node(n).Name = tok.Lexeme
	p.expect(p.kw.lparen, "after type trait")
	for !p.at(p.kw.rparen) && !p.atEOF() {
		_, sn := p.parseTypeSpecifierWithArrays()
		p.node(n).Kids = append(p.node(n).Kids, sn)
		if !p.accept(p.kw.comma) {
			break
		}
	}
	p.expect(p.kw.rparen, "to close type trait")
	p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimBool)))

	// Outside a template, the trait folds immediately.
	if v, ok := p.evalTraitNow(n); ok {
		p.node(n).IVal = v
	}
	return n
}

// parseTypeSpecifierWithArrays also consumes trailing array extents, which
// trait operands may carry (`__is_bounded_array(int[3])`).
func (p *Parser) parseTypeSpecifierWithArrays() (types.Specifier, ast.NodeRef) {
	spec, sn := p.parseTypeSpecifier()
	if p.at(p.kw.lbrack) {
		spec = p.parseArrayExtents(spec)
		p.reg.SetExprType(sn, spec)
	}
	return spec, sn
}

func (p *Parser) evalTraitNow(n ast.NodeRef) (int64, bool) {
	node := p.node(n)
	name := p.text(node.Tok)
	operands := make([]types.Specifier, 0, len(node.Kids))
	for _, k := range node.Kids {
		s, ok := p.reg.ExprType(k)
		if !ok {
			return 0, false
		}
		if p.subst != nil {
			s = p.engine.SubstituteSpec(s, p.subst)
		} else if p.reg.IsTemplateParam(s.Base) {
			return 0, false
		}
		operands = append(operands, s)
	}
	v, known := p.reg.EvalTrait(name, operands)
	if !known {
		p.errorAt(errors.SymbolError, node.Tok, "unknown intrinsic %q", name)
		return 0, true
	}
	if v {
		return 1, true
	}
	return 0, true
}

func (p *Parser) parseRequiresExpr() ast.NodeRef {
	tok := p.next() // requires
	n := p.newNode(ast.RequiresExpr, tok)
	if p.accept(p.kw.lparen) {
		// Optional parameter list introduces local names for the clauses.
		for !p.at(p.kw.rparen) && !p.atEOF() {
			p.parseTypeSpecifier()
			if p.cur().Kind == token.Identifier {
				p.next()
			}
			if !p.accept(p.kw.comma) {
				break
			}
		}
		p.expect(p.kw.rparen, "to close requires parameters")
	}
	p.expect(p.kw.lbrace, "to open requires body")
	for !p.at(p.kw.rbrace) && !p.atEOF() {
		c := p.newNode(ast.RequirementClause, p.cur())
		if p.accept(p.kw.lbrace) {
			// Compound requirement: { expr } [-> type-constraint]
			p.probeDepth++
			p.node(c).A = p.parseExpr(COMMA)
			p.probeDepth--
			p.expect(p.kw.rbrace, "to close compound requirement")
			if p.accept(p.table.Intern("->")) {
				_, sn := p.parseTypeSpecifier()
				p.node(c).C = sn
			}
		} else if p.at(p.kw.typenameKw) {
			p.next()
			_, sn := p.parseTypeSpecifier()
			p.node(c).A = sn
		} else {
			p.probeDepth++
			p.node(c).A = p.parseExpr(COMMA)
			p.probeDepth--
		}
		p.expect(p.kw.semi, "after requirement")
		p.node(n).Kids = append(p.node(n).Kids, c)
	}
	p.expect(p.kw.rbrace, "to close requires body")
	p.reg.SetExprType(n, types.Spec(p.reg.Primitive(types.PrimBool)))
	return n
}
