package templates

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Candidate is the outcome of overload selection: a concrete function
// declaration, or a function template plus its deduced arguments.
type Candidate struct {
	Node     ast.NodeRef
	Template Handle
	Args     []types.TemplateArg
	Sig      *types.Signature

	ranks []int
}

// IsTemplate reports a template candidate.
func (c *Candidate) IsTemplate() bool { return c.Template != 0 }

// Conversion ranks, best first.
const (
	rankExact    = 0
	rankStandard = 1
	rankUser     = 2
	rankNone     = -1
)

// SelectOverload resolves name at a call site. Two passes: candidate
// gathering (ordinary lookup plus ADL through the argument types'
// enclosing namespaces, plus function templates), then ranking:
//
//  1. reject on parameter-count mismatch unless variadic/pack;
//  2. reject if any argument cannot convert to its parameter;
//  3. prefer exact conversions over standard over user-defined;
//  4. prefer non-template over template;
//  5. prefer the more specialized template;
//  6. remaining ties fail with AmbiguousCall.
func (e *Engine) SelectOverload(name intern.Handle, argTypes []types.Specifier, explicit []types.TemplateArg, at token.Token) (*Candidate, *errors.CompilerError) {
	var cands []*Candidate
	var softFailures []*errors.CompilerError

	seen := map[ast.NodeRef]bool{}
	addFn := func(ref ast.NodeRef) {
		if seen[ref] {
			return
		}
		seen[ref] = true
		n := e.Arena.Get(ref)
		if n.Kind != ast.FunctionDecl {
			return
		}
		spec, ok := e.Types.ExprType(ref)
		if !ok || spec.Func == nil {
			return
		}
		cands = append(cands, &Candidate{Node: ref, Sig: spec.Func})
	}

	for _, ref := range e.Syms.Lookup(name) {
		addFn(ref)
	}
	// ADL: the namespaces enclosing each class-type argument contribute.
	for _, a := range argTypes {
		base := a.StripRef()
		for base.IsPointer() {
			base = base.Deref()
		}
		info := e.Types.Get(base.Base)
		if info.Struct == nil || info.Name == intern.Invalid {
			continue
		}
		if scope := findScopeDefining(e.Syms.Global, info.Name); scope != nil {
			for _, ref := range scope.Local(name) {
				addFn(ref)
			}
		}
	}

	// Function templates with the same name join the set through deduction.
	if th := e.byName[name]; th != 0 {
		d := e.Get(th)
		if d.Form == FunctionTemplate {
			args, derr := e.Deduce(d, argTypes, explicit)
			if derr == nil && d.Constraint != ast.Nil {
				env := e.bind(d.Params, args)
				if ok, why := e.EvaluateConstraint(d.Constraint, env); !ok {
					derr = errors.New(errors.ConstraintFailure, at,
						"constraint not satisfied for %s", e.InstanceName(th, args)).
						WithDetail("%s", why)
				}
			}
			if derr != nil {
				softFailures = append(softFailures, derr)
			} else {
				env := e.bind(d.Params, args)
				sig := &types.Signature{Variadic: d.Variadic, Return: e.SubstituteSpec(d.FnReturn, env)}
				for _, p := range d.FnParams {
					sig.Params = append(sig.Params, e.SubstituteSpec(p, env))
				}
				cands = append(cands, &Candidate{Template: th, Args: args, Node: d.Node, Sig: sig})
			}
		}
	}

	if len(cands) == 0 {
		err := errors.New(errors.NoMatchingOverload, at,
			"no matching overload for %q", e.Table.Lookup(name))
		if len(softFailures) > 0 {
			err.Detail = softFailures[0].Message
		}
		return nil, err
	}

	// Viability and conversion ranking.
	var viable []*Candidate
	for _, c := range cands {
		ranks, ok := e.rankArguments(c.Sig, argTypes)
		if !ok {
			continue
		}
		c.ranks = ranks
		viable = append(viable, c)
	}
	if len(viable) == 0 {
		return nil, errors.New(errors.NoMatchingOverload, at,
			"no viable overload for %q with %d argument(s)", e.Table.Lookup(name), len(argTypes))
	}
	if len(viable) == 1 {
		return viable[0], nil
	}

	best := viable[0]
	ambiguous := false
	for _, c := range viable[1:] {
		switch e.better(c, best) {
		case 1:
			best, ambiguous = c, false
		case 0:
			ambiguous = true
		}
	}
	if !ambiguous {
		// best must beat all.
		for _, c := range viable {
			if c != best && e.better(best, c) != 1 {
				ambiguous = true
				break
			}
		}
	}
	if ambiguous {
		return nil, errors.New(errors.AmbiguousCall, at,
			"call to %q is ambiguous between %d candidates", e.Table.Lookup(name), len(viable))
	}
	return best, nil
}

// rankArguments computes per-argument conversion ranks, or reports the
// candidate non-viable.
func (e *Engine) rankArguments(sig *types.Signature, argTypes []types.Specifier) ([]int, bool) {
	if len(argTypes) < len(sig.Params) {
		return nil, false
	}
	if len(argTypes) > len(sig.Params) && !sig.Variadic {
		return nil, false
	}
	ranks := make([]int, len(sig.Params))
	for i, p := range sig.Params {
		r := e.conversionRank(argTypes[i], p)
		if r == rankNone {
			return nil, false
		}
		ranks[i] = r
	}
	return ranks, true
}

func (e *Engine) conversionRank(from, to types.Specifier) int {
	if from.Normalize().Equal(to.Normalize()) {
		return rankExact
	}
	// Reference binding to the same type is exact.
	if to.IsReference() && from.StripRef().StripCV().Equal(to.StripRef().StripCV()) {
		return rankExact
	}
	if e.Types.IsConvertible(from, to) {
		// Class-to-class conversions that are not derived-to-base go
		// through a constructor.
		ff, tt := from.StripRef().StripCV(), to.StripRef().StripCV()
		if e.Types.IsClass(tt) && !e.Types.IsBaseOf(tt, ff) && ff.Base != tt.Base {
			return rankUser
		}
		return rankStandard
	}
	if e.Types.IsConstructible(to.StripRef(), []types.Specifier{from}) {
		return rankUser
	}
	return rankNone
}

// better returns 1 if a beats b, -1 if b beats a, 0 for a tie.
func (e *Engine) better(a, b *Candidate) int {
	aNotWorse, bNotWorse := true, true
	aBetterSomewhere, bBetterSomewhere := false, false
	for i := range a.ranks {
		if i >= len(b.ranks) {
			break
		}
		switch {
		case a.ranks[i] < b.ranks[i]:
			aBetterSomewhere = true
			bNotWorse = false
		case a.ranks[i] > b.ranks[i]:
			bBetterSomewhere = true
			aNotWorse = false
		}
	}
	if aNotWorse && aBetterSomewhere {
		return 1
	}
	if bNotWorse && bBetterSomewhere {
		return -1
	}
	if aBetterSomewhere != bBetterSomewhere {
		if aBetterSomewhere {
			return 1
		}
		return -1
	}
	// Conversion tie: non-template beats template.
	if a.IsTemplate() != b.IsTemplate() {
		if !a.IsTemplate() {
			return 1
		}
		return -1
	}
	// Two templates: the more specialized parameter pattern wins.
	if a.IsTemplate() && b.IsTemplate() {
		da, db := e.Get(a.Template), e.Get(b.Template)
		am := e.fnMoreSpecialized(da, db)
		bm := e.fnMoreSpecialized(db, da)
		if am != bm {
			if am {
				return 1
			}
			return -1
		}
	}
	return 0
}

// fnMoreSpecialized orders two function templates: a is more specialized
// when b's parameter pattern deduces from a's.
func (e *Engine) fnMoreSpecialized(a, b *Descriptor) bool {
	if len(a.FnParams) != len(b.FnParams) {
		return false
	}
	binds := make(map[types.TypeIndex]types.TemplateArg, len(b.Params))
	for i := range a.FnParams {
		if !e.deduceSpec(b.FnParams[i], a.FnParams[i], binds, false) {
			return false
		}
	}
	return true
}

func findScopeDefining(root *symtab.Scope, name intern.Handle) *symtab.Scope {
	if len(root.Local(name)) > 0 {
		return root
	}
	if child := root.ResolveChild(name); child != nil {
		return root
	}
	var found *symtab.Scope
	walkChildren(root, func(s *symtab.Scope) {
		if found == nil && len(s.Local(name)) > 0 {
			found = s
		}
	})
	return found
}

func walkChildren(s *symtab.Scope, f func(*symtab.Scope)) {
	for _, c := range s.Children() {
		f(c)
		walkChildren(c, f)
	}
}
