package templates

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Deduction maps template-parameter placeholders to concrete specifiers by
// structural matching of a declared parameter type against an argument
// type, with forwarding-reference collapse.

// Deduce matches each function parameter against its argument and returns
// the deduced argument vector ordered by the descriptor's parameter list.
// Explicit arguments pre-bind leading parameters and are never overridden.
func (e *Engine) Deduce(d *Descriptor, argTypes []types.Specifier, explicit []types.TemplateArg) ([]types.TemplateArg, *errors.CompilerError) {
	binds := make(map[types.TypeIndex]types.TemplateArg, len(d.Params))
	for i, a := range explicit {
		if i >= len(d.Params) {
			break
		}
		binds[d.Params[i].Placeholder] = a
	}

	n := len(d.FnParams)
	if len(argTypes) < e.minArgs(d) || (len(argTypes) > n && !d.Variadic && !e.hasPack(d)) {
		return nil, errors.New(errors.DeductionFailure, e.Arena.Get(d.Node).Tok,
			"argument count %d does not match parameter count %d", len(argTypes), n)
	}
	for i, p := range d.FnParams {
		if i >= len(argTypes) {
			break
		}
		if !e.deduceSpec(p, argTypes[i], binds, true) {
			return nil, errors.New(errors.DeductionFailure, e.Arena.Get(d.Node).Tok,
				"cannot deduce parameter %d from %s", i+1, e.Types.String(argTypes[i]))
		}
	}

	out := make([]types.TemplateArg, 0, len(d.Params))
	for i, p := range d.Params {
		if i < len(explicit) {
			out = append(out, explicit[i])
			continue
		}
		a, ok := binds[p.Placeholder]
		if !ok {
			if p.Default != ast.Nil {
				da, dok := e.evalDefault(p, out)
				if dok {
					out = append(out, da)
					continue
				}
			}
			if p.Pack {
				continue
			}
			return nil, errors.New(errors.DeductionFailure, e.Arena.Get(d.Node).Tok,
				"parameter %q not deduced", e.Table.Lookup(p.Name))
		}
		out = append(out, a)
	}
	return NormalizeArgs(out), nil
}

func (e *Engine) minArgs(d *Descriptor) int {
	n := len(d.FnParams)
	if d.Variadic || e.hasPack(d) {
		// A pack may bind zero elements; the fixed prefix is required.
		fixed := 0
		for _, p := range d.FnParams {
			if e.Types.IsTemplateParam(p.Base) && e.packParam(d, p.Base) {
				break
			}
			fixed++
		}
		return fixed
	}
	return n
}

func (e *Engine) hasPack(d *Descriptor) bool {
	for _, p := range d.Params {
		if p.Pack {
			return true
		}
	}
	return false
}

func (e *Engine) packParam(d *Descriptor, idx types.TypeIndex) bool {
	for _, p := range d.Params {
		if p.Placeholder == idx {
			return p.Pack
		}
	}
	return false
}

// deduceSpec structurally matches param against arg, binding placeholders.
// topLevel enables the call-site adjustments (decay, forwarding collapse).
func (e *Engine) deduceSpec(param, arg types.Specifier, binds map[types.TypeIndex]types.TemplateArg, topLevel bool) bool {
	// Forwarding reference: T&& with T a bare placeholder. An lvalue
	// argument binds T to arg&, collapsing the parameter to an lvalue
	// reference; everything else binds T to the unqualified argument.
	if topLevel && param.Ref == types.RValueRef && e.barePlaceholder(param) {
		t := arg
		if arg.Ref != types.LValueRef {
			t = arg.StripRef()
		}
		return e.bindPlaceholder(param.Base, t, binds)
	}

	if param.Ref != types.NoRef {
		arg = arg.StripRef()
		param = param.StripRef()
		if param.Const {
			// const T& accepts const and non-const alike; the deduced T
			// drops the qualifier.
			param = param.StripCV()
			arg = arg.StripCV()
		}
	} else if topLevel {
		arg = arg.Decay().StripCV().StripRef()
		param = param.StripCV()
	}

	// Pointer levels match outside-in.
	for len(param.Pointers) > 0 {
		if len(arg.Pointers) == 0 {
			return false
		}
		pp := param.Pointers[len(param.Pointers)-1]
		ap := arg.Pointers[len(arg.Pointers)-1]
		if pp.Const && !ap.Const && len(param.Pointers) == 1 {
			// ok: adding const at the innermost level
		}
		param = param.Deref()
		arg = arg.Deref()
	}
	for len(param.Arrays) > 0 {
		if len(arg.Arrays) == 0 {
			return false
		}
		if param.Arrays[0].Count >= 0 && param.Arrays[0].Count != arg.Arrays[0].Count {
			return false
		}
		param.Arrays = param.Arrays[1:]
		arg.Arrays = arg.Arrays[1:]
	}

	if e.Types.IsTemplateParam(param.Base) {
		t := arg
		t.Const = t.Const && !param.Const
		return e.bindPlaceholder(param.Base, t, binds)
	}

	// Nominal match, instantiation-aware: Vec<T> deduces from Vec<int>.
	pi, ai := e.Types.Get(param.Base), e.Types.Get(arg.Base)
	if pi.Kind == types.KindInstantiation && ai.Kind == types.KindInstantiation &&
		pi.BaseTemplate == ai.BaseTemplate && len(pi.Args) == len(ai.Args) {
		for i := range pi.Args {
			pa, aa := pi.Args[i], ai.Args[i]
			if pa.IsType != aa.IsType {
				return false
			}
			if pa.IsType {
				if !e.deduceSpec(pa.Type, aa.Type, binds, false) {
					return false
				}
			} else if pa.Value != aa.Value {
				return false
			}
		}
		return true
	}
	return param.Base == arg.Base
}

func (e *Engine) barePlaceholder(s types.Specifier) bool {
	return e.Types.IsTemplateParam(s.Base) && len(s.Pointers) == 0 &&
		len(s.Arrays) == 0 && !s.Const && s.Func == nil
}

func (e *Engine) bindPlaceholder(idx types.TypeIndex, t types.Specifier, binds map[types.TypeIndex]types.TemplateArg) bool {
	if prev, ok := binds[idx]; ok {
		return prev.IsType && prev.Type.Equal(t)
	}
	binds[idx] = types.TemplateArg{IsType: true, Type: t}
	return true
}

// SubstituteSpec rewrites placeholders in s using env, applying s's own
// pointer/array/reference/cv structure on top of the bound type with
// standard reference collapsing.
func (e *Engine) SubstituteSpec(s types.Specifier, env *Subst) types.Specifier {
	if env == nil {
		return s
	}
	if s.Func != nil {
		sig := &types.Signature{
			Return:   e.SubstituteSpec(s.Func.Return, env),
			Variadic: s.Func.Variadic,
		}
		for _, p := range s.Func.Params {
			sig.Params = append(sig.Params, e.SubstituteSpec(p, env))
		}
		out := s
		out.Func = sig
		return out
	}
	if !e.Types.IsTemplateParam(s.Base) {
		return s
	}
	arg, ok := env.LookupIndex(s.Base)
	if !ok || !arg.IsType {
		return s
	}
	base := arg.Type
	out := base
	out.Const = base.Const || s.Const
	out.Volatile = base.Volatile || s.Volatile
	out.Pointers = append(append([]types.PtrLevel(nil), base.Pointers...), s.Pointers...)
	out.Arrays = append(append([]types.ArrayDim(nil), s.Arrays...), base.Arrays...)
	out.Ref = collapseRef(base.Ref, s.Ref)
	if len(out.Pointers) > 0 && len(s.Pointers) > 0 {
		out.Ref = s.Ref
	}
	return out
}

// collapseRef implements reference collapsing: & beats &&.
func collapseRef(inner, outer types.RefKind) types.RefKind {
	if outer == types.NoRef {
		return inner
	}
	if inner == types.LValueRef || outer == types.LValueRef {
		return types.LValueRef
	}
	return types.RValueRef
}
