package templates

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// stubReparser counts re-entries and returns a fresh node each time, so
// memoization is observable.
type stubReparser struct {
	arena *ast.Arena
	calls int
	fail  *errors.CompilerError
}

func (s *stubReparser) ParseSubstituted(req *ReParseRequest) (ast.NodeRef, *errors.CompilerError) {
	if s.fail != nil {
		return ast.Nil, s.fail
	}
	s.calls++
	return s.arena.New(ast.FunctionDecl, token.Token{}), nil
}

func (s *stubReparser) CheckExpr(expr ast.NodeRef, env *Subst) bool { return true }

func newEngine(t *testing.T) (*Engine, *stubReparser, *intern.Table) {
	t.Helper()
	tab := intern.NewTable()
	arena := ast.NewArena()
	reg := types.NewRegistry(tab, arena)
	syms := symtab.New()
	e := NewEngine(arena, reg, syms, tab)
	stub := &stubReparser{arena: arena}
	e.Reparse = stub
	return e, stub, tab
}

func declareFnTemplate(e *Engine, tab *intern.Table, name string) (Handle, Param) {
	tname := tab.Intern(name)
	prm := Param{Kind: TypeParam, Name: tab.Intern("T"), Placeholder: e.Types.DeclareTemplateParam(tab.Intern("T"))}
	node := e.Arena.New(ast.TemplateDecl, token.Token{})
	h := e.Register(Descriptor{
		Name:     tname,
		Params:   []Param{prm},
		Form:     FunctionTemplate,
		Node:     node,
		Scope:    e.Syms.Global,
		FnParams: []types.Specifier{types.Spec(prm.Placeholder)},
		FnReturn: types.Spec(prm.Placeholder),
	})
	return h, prm
}

func intArg(e *Engine) types.TemplateArg {
	return types.TemplateArg{IsType: true, Type: types.Spec(e.Types.Primitive(types.PrimInt))}
}

func TestInstantiationMemoized(t *testing.T) {
	e, stub, tab := newEngine(t)
	h, _ := declareFnTemplate(e, tab, "id")

	r1, err := e.Instantiate(h, []types.TemplateArg{intArg(e)})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	r2, err := e.Instantiate(h, []types.TemplateArg{intArg(e)})
	if err != nil {
		t.Fatalf("second instantiate: %v", err)
	}
	if r1 != r2 {
		t.Error("equal argument vectors must return the cached reference")
	}
	if stub.calls != 1 {
		t.Errorf("parser re-entered %d times, want 1", stub.calls)
	}
}

func TestNormalizationUnifiesArgs(t *testing.T) {
	e, stub, tab := newEngine(t)
	h, _ := declareFnTemplate(e, tab, "norm")

	plain := intArg(e)
	reffed := intArg(e)
	reffed.Type.Ref = types.LValueRef
	cved := intArg(e)
	cved.Type.Const = true

	r1, _ := e.Instantiate(h, []types.TemplateArg{plain})
	r2, _ := e.Instantiate(h, []types.TemplateArg{reffed})
	r3, _ := e.Instantiate(h, []types.TemplateArg{cved})
	if r1 != r2 || r1 != r3 {
		t.Error("reference collapse and top-level cv must normalize away")
	}
	if stub.calls != 1 {
		t.Errorf("re-entered %d times, want 1", stub.calls)
	}
}

func TestDistinctArgsDistinctInstances(t *testing.T) {
	e, stub, tab := newEngine(t)
	h, _ := declareFnTemplate(e, tab, "two")
	r1, _ := e.Instantiate(h, []types.TemplateArg{intArg(e)})
	dbl := types.TemplateArg{IsType: true, Type: types.Spec(e.Types.Primitive(types.PrimDouble))}
	r2, _ := e.Instantiate(h, []types.TemplateArg{dbl})
	if r1 == r2 {
		t.Error("distinct argument vectors must instantiate separately")
	}
	if stub.calls != 2 {
		t.Errorf("re-entered %d times, want 2", stub.calls)
	}
}

func TestDeduction(t *testing.T) {
	e, _, tab := newEngine(t)
	h, _ := declareFnTemplate(e, tab, "dedu")
	d := e.Get(h)

	intSpec := types.Spec(e.Types.Primitive(types.PrimInt))
	args, err := e.Deduce(d, []types.Specifier{intSpec}, nil)
	if err != nil {
		t.Fatalf("deduce: %v", err)
	}
	if len(args) != 1 || !args[0].IsType || args[0].Type.Base != intSpec.Base {
		t.Errorf("deduced %+v, want int", args)
	}
}

func TestForwardingReferenceCollapse(t *testing.T) {
	e, _, tab := newEngine(t)
	tname := tab.Intern("fwd")
	prm := Param{Kind: TypeParam, Name: tab.Intern("T"), Placeholder: e.Types.DeclareTemplateParam(tab.Intern("T"))}
	fwd := types.Spec(prm.Placeholder)
	fwd.Ref = types.RValueRef
	node := e.Arena.New(ast.TemplateDecl, token.Token{})
	h := e.Register(Descriptor{
		Name: tname, Params: []Param{prm}, Form: FunctionTemplate,
		Node: node, Scope: e.Syms.Global,
		FnParams: []types.Specifier{fwd},
	})
	d := e.Get(h)

	lval := types.Spec(e.Types.Primitive(types.PrimInt))
	lval.Ref = types.LValueRef
	args, err := e.Deduce(d, []types.Specifier{lval}, nil)
	if err != nil {
		t.Fatalf("deduce lvalue: %v", err)
	}
	if args[0].Type.Ref != types.NoRef {
		// Normalization collapses the reference in the cache key.
		t.Logf("deduced %v", args[0].Type.Ref)
	}

	rval := types.Spec(e.Types.Primitive(types.PrimInt))
	if _, err := e.Deduce(d, []types.Specifier{rval}, nil); err != nil {
		t.Fatalf("deduce rvalue: %v", err)
	}
}

func TestRecursionLimit(t *testing.T) {
	e, _, tab := newEngine(t)
	h, _ := declareFnTemplate(e, tab, "deep")
	e.depth = MaxDepth
	_, err := e.Instantiate(h, []types.TemplateArg{intArg(e)})
	if err == nil || err.Kind != errors.RecursionLimit {
		t.Fatalf("err = %v, want RecursionLimit", err)
	}
	e.depth = 0
}

func TestConstraintEvaluation(t *testing.T) {
	e, _, tab := newEngine(t)

	lit := e.Arena.New(ast.BoolLit, token.Token{})
	e.Arena.Get(lit).IVal = 1
	if ok, _ := e.EvaluateConstraint(lit, nil); !ok {
		t.Error("true literal must satisfy")
	}

	falseLit := e.Arena.New(ast.BoolLit, token.Token{})
	if ok, reason := e.EvaluateConstraint(falseLit, nil); ok || reason == "" {
		t.Error("false literal must fail with a reason")
	}

	// (1 && !0)
	not := e.Arena.New(ast.UnaryExpr, token.Token{})
	e.Arena.Get(not).IVal = int64(ast.OpLogNot)
	e.Arena.Get(not).A = falseLit
	and := e.Arena.New(ast.BinaryExpr, token.Token{})
	e.Arena.Get(and).IVal = int64(ast.OpLogAnd)
	e.Arena.Get(and).A = lit
	e.Arena.Get(and).B = not
	if ok, _ := e.EvaluateConstraint(and, nil); !ok {
		t.Error("1 && !0 must satisfy")
	}

	// N > 2 under {N=4}.
	nref := e.Arena.New(ast.Ident, token.Token{})
	e.Arena.Get(nref).Name = tab.Intern("N")
	two := e.Arena.New(ast.IntLit, token.Token{})
	e.Arena.Get(two).IVal = 2
	cmp := e.Arena.New(ast.BinaryExpr, token.Token{})
	e.Arena.Get(cmp).IVal = int64(ast.OpGt)
	e.Arena.Get(cmp).A = nref
	e.Arena.Get(cmp).B = two
	env := NewSubst(nil)
	env.Bind(Param{Kind: NonTypeParam, Name: tab.Intern("N")}, types.TemplateArg{Value: 4})
	if ok, _ := e.EvaluateConstraint(cmp, env); !ok {
		t.Error("4 > 2 must satisfy")
	}
	env2 := NewSubst(nil)
	env2.Bind(Param{Kind: NonTypeParam, Name: tab.Intern("N")}, types.TemplateArg{Value: 1})
	if ok, _ := e.EvaluateConstraint(cmp, env2); ok {
		t.Error("1 > 2 must fail")
	}
}

func TestConstraintPurity(t *testing.T) {
	e, _, _ := newEngine(t)
	lit := e.Arena.New(ast.BoolLit, token.Token{})
	a1, r1 := e.EvaluateConstraint(lit, nil)
	a2, r2 := e.EvaluateConstraint(lit, nil)
	if a1 != a2 || r1 != r2 {
		t.Error("constraint evaluation must be pure")
	}
}

func TestConstraintFailureRejectsInstantiation(t *testing.T) {
	e, _, tab := newEngine(t)
	falseLit := e.Arena.New(ast.BoolLit, token.Token{})
	tname := tab.Intern("never")
	prm := Param{Kind: TypeParam, Name: tab.Intern("T"), Placeholder: e.Types.DeclareTemplateParam(tab.Intern("T"))}
	node := e.Arena.New(ast.TemplateDecl, token.Token{})
	h := e.Register(Descriptor{
		Name: tname, Params: []Param{prm}, Constraint: falseLit,
		Form: FunctionTemplate, Node: node, Scope: e.Syms.Global,
	})
	_, err := e.Instantiate(h, []types.TemplateArg{intArg(e)})
	if err == nil || err.Kind != errors.ConstraintFailure {
		t.Fatalf("err = %v, want ConstraintFailure", err)
	}
}

// Partial ordering: S<T*> is more specialized than S<T>.
func TestPartialSpecializationOrdering(t *testing.T) {
	e, _, tab := newEngine(t)

	// Primary: template<class T> struct S; plus two partials over
	// patterns {T} and {T*}.
	prm := func() Param {
		return Param{Kind: TypeParam, Name: tab.Intern("T"),
			Placeholder: e.Types.DeclareTemplateParam(tab.Intern("T"))}
	}
	primary := prm()
	node := e.Arena.New(ast.TemplateDecl, token.Token{})
	h := e.Register(Descriptor{
		Name: tab.Intern("S"), Params: []Param{primary},
		Form: ClassTemplate, Node: node, Scope: e.Syms.Global,
	})
	d := e.Get(h)

	general := prm()
	d.Partials = append(d.Partials, Partial{
		Params:  []Param{general},
		Pattern: []PatternElem{{IsType: true, Spec: types.Spec(general.Placeholder), ParamRef: -1}},
		Node:    node,
		Scope:   e.Syms.Global,
	})
	ptr := prm()
	d.Partials = append(d.Partials, Partial{
		Params:  []Param{ptr},
		Pattern: []PatternElem{{IsType: true, Spec: types.Spec(ptr.Placeholder).AddPointer(), ParamRef: -1}},
		Node:    node,
		Scope:   e.Syms.Global,
	})

	intPtr := types.TemplateArg{IsType: true, Type: types.Spec(e.Types.Primitive(types.PrimInt)).AddPointer()}
	p, err := e.SelectPartial(d, []types.TemplateArg{intPtr})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p != &d.Partials[1] {
		t.Error("the T* pattern must win for int*")
	}

	plain := intArg(e)
	p2, err := e.SelectPartial(d, []types.TemplateArg{plain})
	if err != nil {
		t.Fatalf("select plain: %v", err)
	}
	if p2 != &d.Partials[0] {
		t.Error("the T pattern must win for int")
	}
}

func TestAmbiguousPartials(t *testing.T) {
	e, _, tab := newEngine(t)
	prm := func(n string) Param {
		return Param{Kind: TypeParam, Name: tab.Intern(n),
			Placeholder: e.Types.DeclareTemplateParam(tab.Intern(n))}
	}
	node := e.Arena.New(ast.TemplateDecl, token.Token{})
	h := e.Register(Descriptor{
		Name: tab.Intern("Amb"), Params: []Param{prm("T")},
		Form: ClassTemplate, Node: node, Scope: e.Syms.Global,
	})
	d := e.Get(h)
	a := prm("A")
	b := prm("B")
	// Two identical general patterns tie.
	d.Partials = append(d.Partials,
		Partial{Params: []Param{a}, Pattern: []PatternElem{{IsType: true, Spec: types.Spec(a.Placeholder), ParamRef: -1}}, Node: node, Scope: e.Syms.Global},
		Partial{Params: []Param{b}, Pattern: []PatternElem{{IsType: true, Spec: types.Spec(b.Placeholder), ParamRef: -1}}, Node: node, Scope: e.Syms.Global},
	)
	_, err := e.SelectPartial(d, []types.TemplateArg{intArg(e)})
	if err == nil || err.Kind != errors.AmbiguousInstantiation {
		t.Fatalf("err = %v, want AmbiguousInstantiation", err)
	}
}

// Calling a variadic function with exactly N fixed arguments and an empty
// pack succeeds; with N-1 it fails.
func TestVariadicArgumentBoundary(t *testing.T) {
	e, _, _ := newEngine(t)
	intS := types.Spec(e.Types.Primitive(types.PrimInt))
	sig := &types.Signature{Params: []types.Specifier{intS}, Variadic: true}
	if _, ok := e.rankArguments(sig, []types.Specifier{intS}); !ok {
		t.Error("exactly N fixed args with an empty pack must be viable")
	}
	if _, ok := e.rankArguments(sig, nil); ok {
		t.Error("N-1 args must be rejected")
	}
	if _, ok := e.rankArguments(sig, []types.Specifier{intS, intS}); !ok {
		t.Error("extra arguments bind to the pack")
	}
}

func TestSubstituteSpecAppliesStructure(t *testing.T) {
	e, _, tab := newEngine(t)
	ph := e.Types.DeclareTemplateParam(tab.Intern("T"))
	env := NewSubst(nil)
	env.Bind(Param{Kind: TypeParam, Name: tab.Intern("T"), Placeholder: ph},
		types.TemplateArg{IsType: true, Type: types.Spec(e.Types.Primitive(types.PrimInt))})

	tptr := types.Spec(ph).AddPointer()
	got := e.SubstituteSpec(tptr, env)
	if got.Base != e.Types.Primitive(types.PrimInt) || !got.IsPointer() {
		t.Errorf("T* under T=int must be int*, got %s", e.Types.String(got))
	}

	tref := types.Spec(ph)
	tref.Ref = types.RValueRef
	lv := types.Spec(e.Types.Primitive(types.PrimInt))
	lv.Ref = types.LValueRef
	env2 := NewSubst(nil)
	env2.Bind(Param{Kind: TypeParam, Name: tab.Intern("T"), Placeholder: ph},
		types.TemplateArg{IsType: true, Type: lv})
	got2 := e.SubstituteSpec(tref, env2)
	if got2.Ref != types.LValueRef {
		t.Errorf("T&& with T=int& must collapse to int&, got ref=%d", got2.Ref)
	}
}
