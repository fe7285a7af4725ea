// Package templates implements the template and overload engine: argument
// deduction, constraint evaluation, partial-specialization matching, the
// instantiation cache, phased class instantiation, and overload selection.
//
// The engine owns no parsing. When a body must be instantiated it re-enters
// the parser through the ReParser interface at the body's saved token
// position, with an explicit substitution map; this is the only backward
// edge in the pipeline.
package templates

import (
	"fmt"
	"strings"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Handle identifies a template descriptor. 0 is invalid.
type Handle uint32

// BodyForm classifies what a template declares.
type BodyForm uint8

const (
	FunctionTemplate BodyForm = iota
	ClassTemplate
	VariableTemplate
	AliasTemplate
)

// ParamKind classifies a template parameter.
type ParamKind uint8

const (
	TypeParam ParamKind = iota
	NonTypeParam
	TemplateTemplateParam
)

// Param is one template parameter.
type Param struct {
	Kind        ParamKind
	Name        intern.Handle
	Placeholder types.TypeIndex // deduction placeholder for type params
	Declared    types.Specifier // declared type of a non-type param
	Default     ast.NodeRef     // default argument, if any
	Pack        bool
}

// PatternElem is one element of a partial-specialization argument pattern:
// a type pattern over the partial's placeholders, a literal value, or a
// reference to one of the partial's non-type parameters.
type PatternElem struct {
	IsType    bool
	Spec      types.Specifier
	Value     int64
	ValueType types.TypeIndex
	ParamRef  int // index into the partial's params, -1 for literals
}

// Partial is a partial specialization: its own parameter list plus the
// argument pattern it matches.
type Partial struct {
	Params  []Param
	Pattern []PatternElem
	Body    token.SaveHandle
	Node    ast.NodeRef
	Scope   *symtab.Scope
}

// Full is an explicit full specialization.
type Full struct {
	Args []types.TemplateArg
	Body token.SaveHandle
	Node ast.NodeRef
}

// Descriptor records everything known about a template when its
// declaration is first encountered: the parameter list, the signature, the
// saved token range of the body, and its context. The body itself stays
// unparsed until instantiation.
type Descriptor struct {
	Name       intern.Handle // qualified name
	Params     []Param
	Constraint ast.NodeRef // requires-clause expression, if any
	Form       BodyForm
	Body       token.SaveHandle
	BodyEnd    token.SaveHandle
	Scope      *symtab.Scope // declaration scope the body re-parses in
	Node       ast.NodeRef
	Partials   []Partial
	Fulls      []Full

	// Function-template signature for deduction at call sites.
	FnParams []types.Specifier
	FnReturn types.Specifier
	Variadic bool
}

// Subst is a substitution map from template parameters to concrete
// arguments, stacked for nested instantiation.
type Subst struct {
	Parent  *Subst
	byName  map[intern.Handle]types.TemplateArg
	byIndex map[types.TypeIndex]types.TemplateArg
}

// NewSubst creates an empty substitution frame on top of parent.
func NewSubst(parent *Subst) *Subst {
	return &Subst{
		Parent:  parent,
		byName:  make(map[intern.Handle]types.TemplateArg, 4),
		byIndex: make(map[types.TypeIndex]types.TemplateArg, 4),
	}
}

// Bind records a parameter binding.
func (s *Subst) Bind(p Param, arg types.TemplateArg) {
	s.byName[p.Name] = arg
	if p.Placeholder != types.Invalid {
		s.byIndex[p.Placeholder] = arg
	}
}

// LookupName resolves a parameter by name through the stack.
func (s *Subst) LookupName(name intern.Handle) (types.TemplateArg, bool) {
	for f := s; f != nil; f = f.Parent {
		if a, ok := f.byName[name]; ok {
			return a, true
		}
	}
	return types.TemplateArg{}, false
}

// LookupIndex resolves a placeholder type index through the stack.
func (s *Subst) LookupIndex(idx types.TypeIndex) (types.TemplateArg, bool) {
	for f := s; f != nil; f = f.Parent {
		if a, ok := f.byIndex[idx]; ok {
			return a, true
		}
	}
	return types.TemplateArg{}, false
}

// ReParseRequest carries everything the parser needs to re-enter at a
// saved token position: the substitution environment, the scope the body
// was declared in, and — for class templates — the instantiation entry to
// populate.
type ReParseRequest struct {
	Body     token.SaveHandle
	Scope    *symtab.Scope
	Env      *Subst
	Form     BodyForm
	Instance types.TypeIndex // class instance to populate
	Name     intern.Handle   // spelled instance name, e.g. "Box<int>"
	Args     []types.TemplateArg
	Decl     ast.NodeRef // originating template declaration
}

// ReParser is the parser-side interface for deferred body parsing. The
// implementation must restore its token cursor and scope depth afterwards.
type ReParser interface {
	// ParseSubstituted re-enters the parser per the request, returning
	// the instantiated AST subtree.
	ParseSubstituted(req *ReParseRequest) (ast.NodeRef, *errors.CompilerError)

	// CheckExpr type-checks an expression under env without emitting IR,
	// for compound requirements inside requires blocks.
	CheckExpr(expr ast.NodeRef, env *Subst) bool
}

// MaxDepth bounds re-entrant instantiation.
const MaxDepth = 256

// Engine is the template and overload engine for one translation unit.
type Engine struct {
	Arena   *ast.Arena
	Types   *types.Registry
	Syms    *symtab.Table
	Table   *intern.Table
	Reparse ReParser

	descs  []Descriptor
	byName map[intern.Handle]Handle
	cache  map[string]ast.NodeRef
	// instantiated lists every cache fill in creation order so the IR
	// builder can walk instantiation bodies after the translation unit.
	instantiated []ast.NodeRef
	depth        int

	// Lazy member instantiation bookkeeping, keyed (class, member).
	lazyDone map[[2]uint32]ast.NodeRef
}

// NewEngine creates an engine over the shared front-end state.
func NewEngine(arena *ast.Arena, reg *types.Registry, syms *symtab.Table, table *intern.Table) *Engine {
	return &Engine{
		Arena:    arena,
		Types:    reg,
		Syms:     syms,
		Table:    table,
		descs:    make([]Descriptor, 1), // slot 0 invalid
		byName:   make(map[intern.Handle]Handle, 16),
		cache:    make(map[string]ast.NodeRef, 32),
		lazyDone: make(map[[2]uint32]ast.NodeRef, 16),
	}
}

// Register records a template descriptor and returns its handle.
func (e *Engine) Register(d Descriptor) Handle {
	h := Handle(len(e.descs))
	e.descs = append(e.descs, d)
	if _, taken := e.byName[d.Name]; !taken {
		e.byName[d.Name] = h
	}
	return h
}

// Get returns the descriptor for h.
func (e *Engine) Get(h Handle) *Descriptor {
	if h == 0 || int(h) >= len(e.descs) {
		return nil
	}
	return &e.descs[h]
}

// ByName resolves a qualified template name.
func (e *Engine) ByName(name intern.Handle) Handle { return e.byName[name] }

// NormalizeArgs collapses references and strips top-level cv on each
// argument; the normalized vector is what cache keys and comparisons use.
func NormalizeArgs(args []types.TemplateArg) []types.TemplateArg {
	out := make([]types.TemplateArg, len(args))
	for i, a := range args {
		if a.IsType {
			a.Type = a.Type.Normalize()
		}
		out[i] = a
	}
	return out
}

// cacheKey builds the memoization key for (template, argument-vector).
func (e *Engine) cacheKey(h Handle, args []types.TemplateArg) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d(", h)
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(',')
		}
		if a.IsType {
			sb.WriteString(e.Types.String(a.Type))
		} else {
			fmt.Fprintf(&sb, "#%d:%d", a.ValueType, a.Value)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// InstanceName renders the user-visible spelling `Name<args...>`.
func (e *Engine) InstanceName(h Handle, args []types.TemplateArg) string {
	var sb strings.Builder
	sb.WriteString(e.Table.Lookup(e.Get(h).Name))
	sb.WriteByte('<')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.IsType {
			sb.WriteString(e.Types.String(a.Type))
		} else {
			sb.WriteString(itoa(a.Value))
		}
	}
	sb.WriteByte('>')
	return sb.String()
}

func itoa(v int64) string { return fmt.Sprintf("%d", v) }

// Instantiate produces the memoized AST for (tmpl, args). The argument
// vector is normalized first; a second call with an element-wise equal
// vector returns the cached reference without re-entering the parser.
func (e *Engine) Instantiate(h Handle, args []types.TemplateArg) (ast.NodeRef, *errors.CompilerError) {
	d := e.Get(h)
	if d == nil {
		return ast.Nil, errors.New(errors.SymbolError, token.Token{}, "unknown template handle %d", h)
	}
	args = NormalizeArgs(args)
	args, err := e.applyDefaults(d, args)
	if err != nil {
		return ast.Nil, err
	}
	key := e.cacheKey(h, args)
	if ref, ok := e.cache[key]; ok {
		return ref, nil
	}

	if e.depth >= MaxDepth {
		return ast.Nil, errors.New(errors.RecursionLimit, e.Arena.Get(d.Node).Tok,
			"template instantiation depth exceeds %d", MaxDepth)
	}
	e.depth++
	defer func() { e.depth-- }()

	// Full specializations win outright.
	body, scope, params, patArgs := d.Body, d.Scope, d.Params, args
	if full := e.matchFull(d, args); full != nil {
		body, params = full.Body, nil
	} else if len(d.Partials) > 0 {
		p, perr := e.SelectPartial(d, args)
		if perr != nil {
			return ast.Nil, perr
		}
		if p != nil {
			env, ok := e.deducePartial(p, args)
			if !ok {
				return ast.Nil, errors.New(errors.DeductionFailure, e.Arena.Get(d.Node).Tok,
					"partial specialization pattern does not bind")
			}
			body, params, patArgs, scope = p.Body, p.Params, env, p.Scope
		}
	}

	if d.Constraint != ast.Nil {
		env := e.bind(params, patArgs)
		ok, reason := e.EvaluateConstraint(d.Constraint, env)
		if !ok {
			return ast.Nil, errors.New(errors.ConstraintFailure, e.Arena.Get(d.Constraint).Tok,
				"constraint not satisfied for %s", e.InstanceName(h, args)).
				WithDetail("%s", reason)
		}
	}

	env := e.bind(params, patArgs)
	req := &ReParseRequest{
		Body:  body,
		Scope: scope,
		Env:   env,
		Form:  d.Form,
		Args:  args,
		Decl:  d.Node,
		Name:  e.Table.Intern(e.InstanceName(h, args)),
	}
	if d.Form == ClassTemplate {
		idx := e.Types.ByName(req.Name)
		if idx == types.Invalid {
			idx = e.Types.DeclareInstantiation(req.Name, d.Node, d.Name, args)
		}
		e.Types.Get(idx).Struct.SubstEnv = env
		req.Instance = idx
	}
	ref, perr := e.Reparse.ParseSubstituted(req)
	if perr != nil {
		if perr.Kind == errors.ParseError {
			perr.Kind = errors.ParseErrorInBody
		}
		return ast.Nil, perr
	}
	if d.Form == ClassTemplate {
		e.PhaseClass(req.Instance, types.PhaseFull)
	}
	e.cache[key] = ref
	e.instantiated = append(e.instantiated, ref)
	return ref, nil
}

// Instantiated returns every instantiation result in creation order.
func (e *Engine) Instantiated() []ast.NodeRef { return e.instantiated }

// InstanceType returns the TypeIndex of an instantiated class template.
func (e *Engine) InstanceType(h Handle, args []types.TemplateArg) types.TypeIndex {
	args = NormalizeArgs(args)
	return e.Types.ByName(e.Table.Intern(e.InstanceName(h, args)))
}

// Cached returns the cached instantiation without instantiating.
func (e *Engine) Cached(h Handle, args []types.TemplateArg) (ast.NodeRef, bool) {
	ref, ok := e.cache[e.cacheKey(h, NormalizeArgs(args))]
	return ref, ok
}

func (e *Engine) bind(params []Param, args []types.TemplateArg) *Subst {
	env := NewSubst(nil)
	for i, p := range params {
		if i < len(args) {
			env.Bind(p, args[i])
		}
	}
	return env
}

func (e *Engine) applyDefaults(d *Descriptor, args []types.TemplateArg) ([]types.TemplateArg, *errors.CompilerError) {
	if len(args) >= len(d.Params) {
		return args, nil
	}
	out := append([]types.TemplateArg(nil), args...)
	for i := len(args); i < len(d.Params); i++ {
		p := d.Params[i]
		if p.Pack {
			break // empty pack is fine
		}
		if p.Default == ast.Nil {
			return nil, errors.New(errors.DeductionFailure, e.Arena.Get(d.Node).Tok,
				"missing argument for template parameter %q", e.Table.Lookup(p.Name))
		}
		arg, ok := e.evalDefault(p, out)
		if !ok {
			return nil, errors.New(errors.DeductionFailure, e.Arena.Get(p.Default).Tok,
				"cannot evaluate default template argument")
		}
		out = append(out, arg)
	}
	return out, nil
}

// evalDefault resolves a default argument node against the bindings made so
// far. Defaults in this subset are a type spelling or an integral constant.
func (e *Engine) evalDefault(p Param, bound []types.TemplateArg) (types.TemplateArg, bool) {
	n := e.Arena.Get(p.Default)
	switch n.Kind {
	case ast.IntLit, ast.BoolLit:
		return types.TemplateArg{Value: n.IVal, ValueType: p.Declared.Base}, true
	case ast.TypeSpec, ast.TemplateIdSpec:
		if idx := e.Types.ByName(n.Name); idx != types.Invalid {
			return types.TemplateArg{IsType: true, Type: types.Spec(idx)}, true
		}
	}
	return types.TemplateArg{}, false
}

func (e *Engine) matchFull(d *Descriptor, args []types.TemplateArg) *Full {
	for i := range d.Fulls {
		f := &d.Fulls[i]
		if argsEqual(f.Args, args) {
			return f
		}
	}
	return nil
}

func argsEqual(a, b []types.TemplateArg) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].IsType != b[i].IsType {
			return false
		}
		if a[i].IsType {
			if !a[i].Type.Equal(b[i].Type) {
				return false
			}
		} else if a[i].Value != b[i].Value || a[i].ValueType != b[i].ValueType {
			return false
		}
	}
	return true
}

// PhaseClass advances a class instantiation through its phases. Forward
// entries exist as soon as the instantiation is named; Layout fixes size
// and alignment; Full signature-instantiates the non-template members.
func (e *Engine) PhaseClass(idx types.TypeIndex, target types.Phase) {
	info := e.Types.Get(idx)
	if info.Struct == nil {
		return
	}
	if target >= types.PhaseLayout && info.Struct.Phase < types.PhaseLayout {
		e.Types.Layout(idx)
	}
	if target >= types.PhaseFull && info.Struct.Phase < types.PhaseFull {
		e.Types.AssignVTableSlots(idx)
		e.Types.MarkFull(idx)
	}
}

// LazyMember instantiates Class<Args>::member on first use: the class is
// phased to Full, the lazy entry located, and its body parsed under the
// class's substitution only; the member's own template parameters are not
// bound.
func (e *Engine) LazyMember(class types.TypeIndex, member intern.Handle) (ast.NodeRef, *errors.CompilerError) {
	key := [2]uint32{uint32(class), uint32(member)}
	if ref, ok := e.lazyDone[key]; ok {
		return ref, nil
	}
	e.PhaseClass(class, types.PhaseFull)
	info := e.Types.Get(class)
	if info.Struct == nil || info.Struct.Lazy == nil {
		return ast.Nil, errors.New(errors.SymbolError, token.Token{},
			"no lazy member %q", e.Table.Lookup(member))
	}
	lm, ok := info.Struct.Lazy[member]
	if !ok {
		return ast.Nil, errors.New(errors.SymbolError, token.Token{},
			"no lazy member %q on %q", e.Table.Lookup(member), e.Table.Lookup(info.Name))
	}
	if lm.Instantiated {
		e.lazyDone[key] = lm.Result
		return lm.Result, nil
	}
	env, _ := info.Struct.SubstEnv.(*Subst)
	decl := e.Arena.Get(lm.Node)
	ref, perr := e.Reparse.ParseSubstituted(&ReParseRequest{
		Body:     token.SaveHandle(decl.IVal),
		Scope:    e.Syms.Global,
		Env:      env,
		Form:     FunctionTemplate,
		Instance: class,
		Decl:     lm.Node,
	})
	if perr != nil {
		return ast.Nil, perr
	}
	lm.Instantiated = true
	lm.Result = ref
	e.lazyDone[key] = ref
	return ref, nil
}

// Depth returns the current instantiation depth (tests).
func (e *Engine) Depth() int { return e.depth }
