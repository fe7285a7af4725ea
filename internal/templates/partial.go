package templates

import (
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Partial-specialization selection follows the C++ partial-ordering rule:
// specialization A is more specialized than B iff B's parameter pattern can
// be deduced from A's but not vice versa. Ties among matching candidates
// are ambiguity errors.

// SelectPartial returns the most specialized partial matching args, nil if
// none matches, or AmbiguousInstantiation when two candidates tie.
func (e *Engine) SelectPartial(d *Descriptor, args []types.TemplateArg) (*Partial, *errors.CompilerError) {
	var matches []*Partial
	for i := range d.Partials {
		p := &d.Partials[i]
		if _, ok := e.deducePartialBinds(p, args); ok {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	}

	best := matches[0]
	for _, cand := range matches[1:] {
		bm := e.moreSpecialized(best, cand)
		cm := e.moreSpecialized(cand, best)
		switch {
		case cm && !bm:
			best = cand
		case bm && !cm:
			// keep best
		default:
			return nil, errors.New(errors.AmbiguousInstantiation, e.Arena.Get(d.Node).Tok,
				"partial specializations of %q are ambiguous", e.Table.Lookup(d.Name)).
				WithDetail("neither pattern is more specialized")
		}
	}
	// best must beat every other match outright.
	for _, cand := range matches {
		if cand == best {
			continue
		}
		if !e.moreSpecialized(best, cand) || e.moreSpecialized(cand, best) {
			return nil, errors.New(errors.AmbiguousInstantiation, e.Arena.Get(d.Node).Tok,
				"partial specializations of %q are ambiguous", e.Table.Lookup(d.Name))
		}
	}
	return best, nil
}

// moreSpecialized reports whether a is more specialized than b: b's
// pattern, used as a parameter list, deduces successfully from a's pattern
// used as arguments. a's placeholders act as opaque concrete types during
// the match.
func (e *Engine) moreSpecialized(a, b *Partial) bool {
	if len(a.Pattern) != len(b.Pattern) {
		return false
	}
	binds := make(map[types.TypeIndex]types.TemplateArg, len(b.Params))
	for i := range a.Pattern {
		pa, pb := a.Pattern[i], b.Pattern[i]
		if pa.IsType != pb.IsType {
			return false
		}
		if pa.IsType {
			if !e.deduceSpec(pb.Spec, pa.Spec, binds, false) {
				return false
			}
		} else {
			// b accepts a's element: a parameter reference accepts any
			// value, a literal only the same literal.
			if pb.ParamRef < 0 && (pa.ParamRef >= 0 || pa.Value != pb.Value) {
				return false
			}
		}
	}
	return true
}

// deducePartialBinds matches the pattern against concrete args and returns
// the placeholder bindings.
func (e *Engine) deducePartialBinds(p *Partial, args []types.TemplateArg) (map[types.TypeIndex]types.TemplateArg, bool) {
	if len(p.Pattern) != len(args) {
		return nil, false
	}
	binds := make(map[types.TypeIndex]types.TemplateArg, len(p.Params))
	values := make(map[int]int64, 2)
	for i, elem := range p.Pattern {
		a := args[i]
		if elem.IsType != a.IsType {
			return nil, false
		}
		if elem.IsType {
			if !e.deduceSpec(elem.Spec, a.Type, binds, false) {
				return nil, false
			}
			continue
		}
		if elem.ParamRef >= 0 {
			if prev, seen := values[elem.ParamRef]; seen && prev != a.Value {
				return nil, false
			}
			values[elem.ParamRef] = a.Value
			continue
		}
		if elem.Value != a.Value {
			return nil, false
		}
	}
	// Fold value bindings in keyed by the param's placeholder-less slot.
	for idx, v := range values {
		if idx < len(p.Params) {
			binds[p.Params[idx].Placeholder] = types.TemplateArg{
				Value: v, ValueType: p.Params[idx].Declared.Base,
			}
		}
	}
	return binds, true
}

// deducePartial produces the partial's argument vector (ordered by its own
// parameter list) for the given concrete args.
func (e *Engine) deducePartial(p *Partial, args []types.TemplateArg) ([]types.TemplateArg, bool) {
	binds, ok := e.deducePartialBinds(p, args)
	if !ok {
		return nil, false
	}
	out := make([]types.TemplateArg, 0, len(p.Params))
	for _, prm := range p.Params {
		a, bound := binds[prm.Placeholder]
		if !bound {
			return nil, false
		}
		out = append(out, a)
	}
	return out, true
}
