// Package driver owns the compilation session: one value holding the
// intern table, AST arena, type registry, template registry, and IR
// buffers, threaded through every stage. One session compiles one
// translation unit; a long-running driver spawns a fresh session per
// unit.
package driver

import (
	"fmt"
	"strings"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/cpplex"
	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/parser"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/templates"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Options selects the target and debug emission.
type Options struct {
	// Target tuple, e.g. "x86_64-pc-windows-msvc" or "x86_64-linux-gnu".
	Target string
	Debug  bool
}

// IsWindows reports a COFF target tuple.
func (o Options) IsWindows() bool {
	return strings.Contains(o.Target, "windows") || strings.Contains(o.Target, "msvc")
}

// Session is the per-translation-unit compilation state.
type Session struct {
	Opts   Options
	Table  *intern.Table
	Arena  *ast.Arena
	Reg    *types.Registry
	Syms   *symtab.Table
	Engine *templates.Engine
	Parser *parser.Parser

	Module *ir.Module
	Funcs  []*encoder.Encoded
}

// NewSession creates a fresh session.
func NewSession(opts Options) *Session {
	table := intern.NewTable()
	arena := ast.NewArena()
	reg := types.NewRegistry(table, arena)
	syms := symtab.New()
	engine := templates.NewEngine(arena, reg, syms, table)
	return &Session{
		Opts:   opts,
		Table:  table,
		Arena:  arena,
		Reg:    reg,
		Syms:   syms,
		Engine: engine,
	}
}

// CompileSource lexes and compiles one source text to object bytes.
func (s *Session) CompileSource(src, path string) ([]byte, error) {
	toks := cpplex.Lex(s.Table, src, 0)
	return s.CompileTokens(toks, src, path)
}

// CompileTokens compiles a token stream to object bytes. Any hard error
// ends the unit; no partial object is produced.
func (s *Session) CompileTokens(toks []token.Token, src, path string) ([]byte, error) {
	stream := token.NewStream(s.Table, toks)
	p := parser.New(stream, s.Arena, s.Reg, s.Syms, s.Engine)
	if s.Opts.IsWindows() {
		p.SetTarget(mangle.COFF)
	} else {
		p.SetTarget(mangle.ELF)
	}
	p.SetSource(0, src)
	s.Parser = p

	root := p.ParseTranslationUnit()
	if p.Errors().HasErrors() {
		return nil, fmt.Errorf("%s", p.Errors().Format(false))
	}

	irTarget := ir.TargetLinux
	encTarget := encoder.SysV
	if s.Opts.IsWindows() {
		irTarget = ir.TargetWindows
		encTarget = encoder.Win64
	}
	builder := ir.NewBuilder(s.Arena, s.Reg, s.Table, irTarget)
	roots := append([]ast.NodeRef{root}, s.Engine.Instantiated()...)
	mod, berr := builder.Build(roots...)
	if berr != nil {
		return nil, berr
	}
	s.Module = mod

	enc := encoder.New(encTarget, s.Table)
	var encoded []*encoder.Encoded
	for _, f := range mod.Functions {
		e, eerr := enc.Encode(f)
		if eerr != nil {
			return nil, eerr
		}
		encoded = append(encoded, e)
	}
	s.Funcs = encoded

	if s.Opts.IsWindows() {
		return s.writeCOFF(encoded, mod, path)
	}
	return s.writeELF(encoded, mod, path)
}

// Errors exposes the parser error list (diagnostic formatting).
func (s *Session) Errors() *errors.ErrorList {
	if s.Parser == nil {
		return &errors.ErrorList{}
	}
	return s.Parser.Errors()
}
