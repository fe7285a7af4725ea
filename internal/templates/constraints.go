package templates

import (
	"fmt"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/types"
)

// EvaluateConstraint interprets a requires-clause expression against a
// substitution map and reports whether it is satisfied, with the
// unsatisfied subexpression spelled out when it is not. Evaluation is
// pure: the same expression and environment always produce the same
// result.
func (e *Engine) EvaluateConstraint(expr ast.NodeRef, env *Subst) (bool, string) {
	if expr == ast.Nil {
		return true, ""
	}
	n := e.Arena.Get(expr)
	switch n.Kind {
	case ast.BoolLit:
		if n.IVal != 0 {
			return true, ""
		}
		return false, "constant false"

	case ast.IntLit:
		return n.IVal != 0, "constant zero"

	case ast.BinaryExpr:
		switch ast.Op(n.IVal) {
		case ast.OpLogAnd:
			if ok, why := e.EvaluateConstraint(n.A, env); !ok {
				return false, why
			}
			return e.EvaluateConstraint(n.B, env)
		case ast.OpLogOr:
			if ok, _ := e.EvaluateConstraint(n.A, env); ok {
				return true, ""
			}
			return e.EvaluateConstraint(n.B, env)
		case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			lv, lok := e.constInt(n.A, env)
			rv, rok := e.constInt(n.B, env)
			if !lok || !rok {
				return false, "operand is not an integral constant"
			}
			ok := compareInts(ast.Op(n.IVal), lv, rv)
			if !ok {
				return false, fmt.Sprintf("%d %s %d is false", lv, ast.Op(n.IVal), rv)
			}
			return true, ""
		}
		return false, "unsupported operator in constraint"

	case ast.UnaryExpr:
		if ast.Op(n.IVal) == ast.OpLogNot {
			ok, _ := e.EvaluateConstraint(n.A, env)
			if ok {
				return false, "negated constraint is satisfied"
			}
			return true, ""
		}
		return false, "unsupported operator in constraint"

	case ast.TraitExpr:
		return e.evalTrait(n, env)

	case ast.RequiresExpr:
		for _, clause := range n.Kids {
			c := e.Arena.Get(clause)
			if ok, why := e.evalRequirement(c, env); !ok {
				return false, why
			}
		}
		return true, ""

	case ast.Ident:
		if arg, ok := env.LookupName(n.Name); ok && !arg.IsType {
			return arg.Value != 0, "substituted value is zero"
		}
		return false, fmt.Sprintf("%q is not a constant in this context", e.Table.Lookup(n.Name))
	}
	return false, fmt.Sprintf("unsupported constraint form %s", n.Kind)
}

func compareInts(op ast.Op, l, r int64) bool {
	switch op {
	case ast.OpEq:
		return l == r
	case ast.OpNe:
		return l != r
	case ast.OpLt:
		return l < r
	case ast.OpLe:
		return l <= r
	case ast.OpGt:
		return l > r
	case ast.OpGe:
		return l >= r
	}
	return false
}

func (e *Engine) constInt(expr ast.NodeRef, env *Subst) (int64, bool) {
	n := e.Arena.Get(expr)
	switch n.Kind {
	case ast.IntLit, ast.BoolLit, ast.CharLit:
		return n.IVal, true
	case ast.Ident:
		if env != nil {
			if arg, ok := env.LookupName(n.Name); ok && !arg.IsType {
				return arg.Value, true
			}
		}
	case ast.SizeofExpr:
		if spec, ok := e.specOperand(n.A, env); ok {
			return int64(e.Types.SizeBits(spec) / 8), true
		}
	case ast.BinaryExpr:
		l, lok := e.constInt(n.A, env)
		r, rok := e.constInt(n.B, env)
		if lok && rok {
			switch ast.Op(n.IVal) {
			case ast.OpAdd:
				return l + r, true
			case ast.OpSub:
				return l - r, true
			case ast.OpMul:
				return l * r, true
			case ast.OpDiv:
				if r != 0 {
					return l / r, true
				}
			case ast.OpMod:
				if r != 0 {
					return l % r, true
				}
			}
		}
	}
	return 0, false
}

// evalRequirement checks one clause of a requires { ... } block: a simple
// or compound requirement re-checked under the substitution, or a type
// requirement.
func (e *Engine) evalRequirement(c *ast.Node, env *Subst) (bool, string) {
	switch c.Kind {
	case ast.RequirementClause:
		// A = the requirement expression or type; C = optional return-type
		// constraint of a compound requirement.
		if spec, isType := e.specOperand(c.A, env); isType {
			if spec.Base == types.Invalid {
				return false, "required type does not exist"
			}
			return true, ""
		}
		if e.Reparse == nil || !e.Reparse.CheckExpr(c.A, env) {
			return false, "required expression is ill-formed"
		}
		if c.C != ast.Nil {
			// Return-type requirement: only checked to name a type under
			// the substitution; the expression's type is not compared to it.
			want, ok := e.specOperand(c.C, env)
			if !ok || want.Base == types.Invalid {
				return false, "return-type requirement names no type"
			}
		}
		return true, ""
	}
	return e.EvaluateConstraint(refOf(c), env)
}

// refOf is a placeholder for clauses stored as bare expressions.
func refOf(n *ast.Node) ast.NodeRef { return n.A }

// specOperand resolves a node that may denote a type, under substitution.
// The parser records the resolved specifier of every type-spec node.
func (e *Engine) specOperand(n ast.NodeRef, env *Subst) (types.Specifier, bool) {
	if n == ast.Nil {
		return types.Specifier{}, false
	}
	node := e.Arena.Get(n)
	switch node.Kind {
	case ast.TypeSpec, ast.TemplateIdSpec, ast.PointerSpec, ast.ReferenceSpec,
		ast.ArraySpec, ast.FunctionSpec, ast.DecltypeSpec, ast.AutoSpec:
		if spec, ok := e.Types.ExprType(n); ok {
			return e.SubstituteSpec(spec, env), true
		}
		// Unresolved spelling: it may name a substituted parameter.
		if env != nil && node.Name != 0 {
			if arg, ok := env.LookupName(node.Name); ok && arg.IsType {
				return arg.Type, true
			}
		}
		return types.Specifier{}, true
	}
	return types.Specifier{}, false
}

// evalTrait dispatches an `__is_*` intrinsic. Type operands are resolved
// under the substitution before the registry is queried.
func (e *Engine) evalTrait(n *ast.Node, env *Subst) (bool, string) {
	name := e.Table.Lookup(n.Name)
	operands := make([]types.Specifier, 0, 2)
	for _, k := range n.Kids {
		spec, ok := e.specOperand(k, env)
		if !ok {
			if s, recorded := e.Types.ExprType(k); recorded {
				spec = e.SubstituteSpec(s, env)
			} else {
				return false, fmt.Sprintf("%s: operand is not a type", name)
			}
		}
		operands = append(operands, spec)
	}
	ok, known := e.Types.EvalTrait(name, operands)
	if !known {
		return false, fmt.Sprintf("unknown intrinsic %s", name)
	}
	if !ok {
		return false, fmt.Sprintf("%s(%s) is false", name, e.operandList(operands))
	}
	return true, ""
}

func (e *Engine) operandList(specs []types.Specifier) string {
	out := ""
	for i, s := range specs {
		if i > 0 {
			out += ", "
		}
		out += e.Types.String(s)
	}
	return out
}
