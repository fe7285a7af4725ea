package parser

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
)

// Statement parsing. Lexical blocks push symbol-table scopes; exception
// statements keep their handler clauses as child nodes for the IR builder
// to pair up.

func (p *Parser) parseStatement() ast.NodeRef {
	tok := p.cur()
	switch {
	case p.at(p.kw.lbrace):
		return p.parseCompound()
	case p.accept(p.kw.semi):
		return p.newNode(ast.EmptyStmt, tok)
	case p.at(p.kw.ifKw):
		return p.parseIf()
	case p.at(p.kw.whileKw):
		return p.parseWhile()
	case p.at(p.kw.doKw):
		return p.parseDo()
	case p.at(p.kw.forKw):
		return p.parseFor()
	case p.at(p.kw.switchKw):
		return p.parseSwitch()
	case p.at(p.kw.breakKw):
		p.next()
		p.expect(p.kw.semi, "after break")
		return p.newNode(ast.BreakStmt, tok)
	case p.at(p.kw.continueKw):
		p.next()
		p.expect(p.kw.semi, "after continue")
		return p.newNode(ast.ContinueStmt, tok)
	case p.at(p.kw.returnKw):
		p.next()
		n := p.newNode(ast.ReturnStmt, tok)
		if !p.at(p.kw.semi) {
			p.node(n).A = p.parseExpr(COMMA)
		}
		p.expect(p.kw.semi, "after return")
		return n
	case p.at(p.kw.gotoKw):
		p.next()
		n := p.newNode(ast.GotoStmt, tok)
		if p.cur().Kind == token.Identifier {
			p.node(n).Name = p.next().Lexeme
		}
		p.expect(p.kw.semi, "after goto")
		return n
	case p.at(p.kw.tryKw):
		return p.parseTry()
	case p.at(p.kw.sehTryKw):
		return p.parseSehTry()
	case p.at(p.kw.sehLeaveKw):
		p.next()
		p.expect(p.kw.semi, "after __leave")
		return p.newNode(ast.SehLeaveStmt, tok)
	case p.at(p.kw.staticAssertKw):
		return p.parseStaticAssert()
	case p.at(p.kw.usingKw):
		return p.parseUsing()
	case p.at(p.kw.typedefKw):
		return p.parseTypedef()
	case p.cur().Kind == token.Identifier && p.atAhead(1, p.kw.colon) && !p.atAhead(1, p.kw.coloncolon):
		// label:
		n := p.newNode(ast.LabelStmt, tok)
		p.node(n).Name = p.next().Lexeme
		p.next() // :
		p.node(n).A = p.parseStatement()
		return n
	default:
		if p.startsDecl() {
			return p.parseDeclStatement()
		}
		n := p.newNode(ast.ExprStmt, tok)
		p.node(n).A = p.parseExpr(COMMA)
		p.expect(p.kw.semi, "after expression")
		return n
	}
}

// startsDecl decides declaration-statement vs expression-statement: a type
// spelling followed by a declarator introduces a declaration.
func (p *Parser) startsDecl() bool {
	if p.at(p.kw.staticKw) || p.at(p.kw.constexprKw) {
		return true
	}
	if !p.startsType() {
		return false
	}
	// `x * y;` could be a multiply on known names; a type start token that
	// is an identifier needs a following declarator-ish token.
	save := p.stream.Save()
	defer p.stream.Restore(save)
	p.probeDepth++
	_, _ = p.parseTypeSpecifier()
	p.probeDepth--
	return p.cur().Kind == token.Identifier
}

func (p *Parser) parseCompound() ast.NodeRef {
	tok := p.cur()
	p.expect(p.kw.lbrace, "to open block")
	n := p.newNode(ast.CompoundStmt, tok)
	p.syms.Push(symtab.BlockScope, intern.Invalid, n)
	for !p.at(p.kw.rbrace) && !p.atEOF() && !p.errs.HasErrors() {
		s := p.parseStatement()
		if s != ast.Nil {
			p.node(n).Kids = append(p.node(n).Kids, s)
		}
	}
	p.expect(p.kw.rbrace, "to close block")
	p.syms.Pop()
	return n
}

func (p *Parser) parseIf() ast.NodeRef {
	tok := p.next() // if
	p.accept(p.table.Intern("constexpr"))
	n := p.newNode(ast.IfStmt, tok)
	p.expect(p.kw.lparen, "after if")
	p.node(n).A = p.parseExpr(COMMA)
	p.expect(p.kw.rparen, "to close condition")
	p.node(n).B = p.parseStatement()
	if p.accept(p.kw.elseKw) {
		p.node(n).C = p.parseStatement()
	}
	return n
}

func (p *Parser) parseWhile() ast.NodeRef {
	tok := p.next() // while
	n := p.newNode(ast.WhileStmt, tok)
	p.expect(p.kw.lparen, "after while")
	p.node(n).A = p.parseExpr(COMMA)
	p.expect(p.kw.rparen, "to close condition")
	p.node(n).B = p.parseStatement()
	return n
}

func (p *Parser) parseDo() ast.NodeRef {
	tok := p.next() // do
	n := p.newNode(ast.DoStmt, tok)
	p.node(n).B = p.parseStatement()
	p.expect(p.kw.whileKw, "after do body")
	p.expect(p.kw.lparen, "after while")
	p.node(n).A = p.parseExpr(COMMA)
	p.expect(p.kw.rparen, "to close condition")
	p.expect(p.kw.semi, "after do-while")
	return n
}

// parseFor handles the classic three-clause form and the C++20 range-for
// with optional init statement.
func (p *Parser) parseFor() ast.NodeRef {
	tok := p.next() // for
	p.expect(p.kw.lparen, "after for")
	p.syms.Push(symtab.BlockScope, intern.Invalid, ast.Nil)
	defer p.syms.Pop()

	// Range-for detection: [init;] decl : range.
	if p.rangeForAhead() {
		n := p.newNode(ast.RangeForStmt, tok)
		if p.initStatementAhead() {
			init := p.parseDeclStatement()
			p.node(n).Kids = append(p.node(n).Kids, init)
		}
		_, sn := p.parseTypeSpecifier()
		p.node(n).A = sn
		if p.cur().Kind == token.Identifier {
			decl := p.newNode(ast.VarDecl, p.cur())
			p.node(decl).Name = p.next().Lexeme
			p.node(decl).A = sn
			p.node(n).Name = p.node(decl).Name
			p.syms.Define(p.node(decl).Name, decl)
			if s, ok := p.reg.ExprType(sn); ok {
				p.reg.SetExprType(decl, s)
			}
		}
		p.expect(p.kw.colon, "in range-for")
		p.node(n).B = p.parseExpr(COMMA)
		p.expect(p.kw.rparen, "to close range-for header")
		p.node(n).C = p.parseStatement()
		return n
	}

	n := p.newNode(ast.ForStmt, tok)
	if !p.accept(p.kw.semi) {
		if p.startsDecl() {
			p.node(n).A = p.parseDeclStatement()
		} else {
			init := p.newNode(ast.ExprStmt, p.cur())
			p.node(init).A = p.parseExpr(COMMA)
			p.node(n).A = init
			p.expect(p.kw.semi, "after for initializer")
		}
	}
	if !p.at(p.kw.semi) {
		p.node(n).B = p.parseExpr(COMMA)
	}
	p.expect(p.kw.semi, "after for condition")
	if !p.at(p.kw.rparen) {
		p.node(n).C = p.parseExpr(COMMA)
	}
	p.expect(p.kw.rparen, "to close for header")
	body := p.parseStatement()
	p.node(n).Kids = append(p.node(n).Kids, body)
	return n
}

// rangeForAhead scans for a `:` before the closing `)` at depth 0 that is
// not part of `::`.
func (p *Parser) rangeForAhead() bool {
	depth := 0
	for i := 0; i < 64; i++ {
		t := p.peek(i)
		switch {
		case t.Kind == token.EOF:
			return false
		case t.Lexeme == p.kw.lparen || t.Lexeme == p.kw.lbrace || t.Lexeme == p.kw.lbrack:
			depth++
		case t.Lexeme == p.kw.rparen || t.Lexeme == p.kw.rbrace || t.Lexeme == p.kw.rbrack:
			if depth == 0 {
				return false
			}
			depth--
		case t.Lexeme == p.kw.semi && depth == 0:
			// An init-statement may still precede a range clause; keep
			// scanning past the first semicolon only if a ':' follows
			// before the second.
			return p.rangeColonAfter(i + 1)
		case t.Lexeme == p.kw.colon && depth == 0:
			return true
		}
	}
	return false
}

func (p *Parser) rangeColonAfter(start int) bool {
	depth := 0
	for i := start; i < start+64; i++ {
		t := p.peek(i)
		switch {
		case t.Kind == token.EOF:
			return false
		case t.Lexeme == p.kw.lparen:
			depth++
		case t.Lexeme == p.kw.rparen:
			if depth == 0 {
				return false
			}
			depth--
		case t.Lexeme == p.kw.semi && depth == 0:
			return false
		case t.Lexeme == p.kw.colon && depth == 0:
			return true
		}
	}
	return false
}

func (p *Parser) initStatementAhead() bool {
	depth := 0
	for i := 0; i < 64; i++ {
		t := p.peek(i)
		switch {
		case t.Kind == token.EOF:
			return false
		case t.Lexeme == p.kw.lparen:
			depth++
		case t.Lexeme == p.kw.rparen:
			if depth == 0 {
				return false
			}
			depth--
		case t.Lexeme == p.kw.colon && depth == 0:
			return false
		case t.Lexeme == p.kw.semi && depth == 0:
			return true
		}
	}
	return false
}

func (p *Parser) parseSwitch() ast.NodeRef {
	tok := p.next() // switch
	n := p.newNode(ast.SwitchStmt, tok)
	p.expect(p.kw.lparen, "after switch")
	p.node(n).A = p.parseExpr(COMMA)
	p.expect(p.kw.rparen, "to close switch condition")
	p.expect(p.kw.lbrace, "to open switch body")
	p.syms.Push(symtab.BlockScope, intern.Invalid, n)
	var current ast.NodeRef
	for !p.at(p.kw.rbrace) && !p.atEOF() && !p.errs.HasErrors() {
		switch {
		case p.at(p.kw.caseKw):
			ct := p.next()
			c := p.newNode(ast.CaseStmt, ct)
			p.node(c).A = p.parseExpr(COMMA)
			if v, ok := p.constFold(p.node(c).A); ok {
				p.node(c).IVal = v
			}
			p.expect(p.kw.colon, "after case value")
			p.node(n).Kids = append(p.node(n).Kids, c)
			current = c
		case p.at(p.kw.defaultKw):
			dt := p.next()
			c := p.newNode(ast.DefaultStmt, dt)
			p.expect(p.kw.colon, "after default")
			p.node(n).Kids = append(p.node(n).Kids, c)
			current = c
		default:
			s := p.parseStatement()
			if current != ast.Nil && s != ast.Nil {
				p.node(current).Kids = append(p.node(current).Kids, s)
			}
		}
	}
	p.expect(p.kw.rbrace, "to close switch body")
	p.syms.Pop()
	return n
}

func (p *Parser) parseTry() ast.NodeRef {
	tok := p.next() // try
	n := p.newNode(ast.TryStmt, tok)
	p.node(n).A = p.parseCompound()
	for p.at(p.kw.catchKw) {
		ct := p.next()
		c := p.newNode(ast.CatchClause, ct)
		p.expect(p.kw.lparen, "after catch")
		if p.at(p.kw.ellipsis) {
			p.next()
			p.node(c).Flags |= ast.FlagVariadic // catch-all
		} else {
			spec, sn := p.parseTypeSpecifier()
			p.node(c).A = sn
			if p.cur().Kind == token.Identifier {
				p.node(c).Name = p.cur().Lexeme
				decl := p.newNode(ast.VarDecl, p.cur())
				p.next()
				p.node(decl).Name = p.node(c).Name
				p.node(decl).A = sn
				p.reg.SetExprType(decl, spec)
				p.node(c).C = decl
			}
		}
		p.expect(p.kw.rparen, "to close catch parameter")
		p.syms.Push(symtab.BlockScope, intern.Invalid, c)
		if p.node(c).C != ast.Nil {
			p.syms.Define(p.node(c).Name, p.node(c).C)
		}
		p.node(c).B = p.parseCompound()
		p.syms.Pop()
		p.node(n).Kids = append(p.node(n).Kids, c)
	}
	return n
}

func (p *Parser) parseSehTry() ast.NodeRef {
	tok := p.next() // __try
	n := p.newNode(ast.SehTryStmt, tok)
	p.node(n).A = p.parseCompound()
	switch {
	case p.at(p.kw.sehExceptKw):
		et := p.next()
		c := p.newNode(ast.SehExceptClause, et)
		p.expect(p.kw.lparen, "after __except")
		p.node(c).A = p.parseExpr(COMMA)
		p.expect(p.kw.rparen, "to close filter")
		p.node(c).B = p.parseCompound()
		p.node(n).B = c
	case p.at(p.kw.sehFinallyKw):
		ft := p.next()
		c := p.newNode(ast.SehFinallyClause, ft)
		p.node(c).B = p.parseCompound()
		p.node(n).B = c
	default:
		p.errorAt(errors.ParseError, p.cur(), "__try requires __except or __finally")
	}
	return n
}
