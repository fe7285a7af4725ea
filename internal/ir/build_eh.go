package ir

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Exception lowering. C++ try/catch and Windows __try/__except/__finally
// produce statically nested Begin/End pairs with no cross-function edges;
// the encoder and EH metadata builder consume the markers.

func (b *Builder) buildTry(r ast.NodeRef) {
	n := b.node(r)
	handlerL := b.fn.NewLabel()
	endL := b.fn.NewLabel()

	b.fn.Emit(TryBegin, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, n.Tok)
	b.pushScope()
	b.buildStmt(n.A)
	b.popScope(n.Tok)
	b.fn.Emit(TryEnd, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, n.Tok)
	b.fn.Emit(Branch, &BranchOp{Target: endL}, n.Tok)

	for _, k := range n.Kids {
		c := b.node(k)
		if c.Kind != ast.CatchClause {
			continue
		}
		eh := &EhOp{HandlerLabel: handlerL, EndLabel: endL}
		if c.Is(ast.FlagVariadic) {
			eh.CatchAll = true
		} else if c.A != ast.Nil {
			if s, ok := b.reg.ExprType(c.A); ok {
				eh.ExcType = s
			}
		}
		if c.C != ast.Nil {
			cv := b.node(c.C)
			spec, _ := b.reg.ExprType(c.C)
			b.fn.Emit(StackAlloc, &AllocOp{
				Name: cv.Name, Type: spec, Bits: b.reg.SizeBits(spec.StripRef()),
			}, c.Tok)
			eh.ExcVar = b.fn.NewTemp(TempInfo{Category: LValue, Type: spec, Bits: b.reg.SizeBits(spec.StripRef())})
		}
		b.fn.Emit(CatchBegin, eh, c.Tok)
		b.pushScope()
		b.buildStmt(c.B)
		b.popScope(c.Tok)
		b.fn.Emit(CatchEnd, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, c.Tok)
	}
	b.fn.Emit(Label, &LabelOp{ID: endL}, n.Tok)
}

func (b *Builder) buildSehTry(r ast.NodeRef) {
	n := b.node(r)
	clause := b.node(n.B)
	handlerL := b.fn.NewLabel()
	endL := b.fn.NewLabel()

	switch clause.Kind {
	case ast.SehExceptClause:
		b.fn.Emit(SehTryBegin, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, n.Tok)
		b.sehDepth++
		b.pushScope()
		b.buildStmt(n.A)
		b.popScope(n.Tok)
		b.sehDepth--
		b.fn.Emit(SehTryEnd, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, n.Tok)
		b.fn.Emit(Branch, &BranchOp{Target: endL}, n.Tok)

		// Constant filters embed in the scope table; anything else becomes
		// a filter funclet reading EXCEPTION_POINTERS* from RCX.
		eh := &EhOp{HandlerLabel: handlerL, EndLabel: endL}
		if v, isConst := b.constFilter(clause.A); isConst {
			eh.Filter = IntVal(v)
			eh.FilterConst = true
		} else {
			filterID := b.fn.NewLabel()
			eh.FuncletID = filterID
			b.fn.Emit(SehFilterBegin, &EhOp{FuncletID: filterID}, clause.Tok)
			fv := b.buildExpr(clause.A)
			b.fn.Emit(SehFilterEnd, &EhOp{FuncletID: filterID, Filter: fv}, clause.Tok)
		}
		b.fn.Emit(SehExceptBegin, eh, clause.Tok)
		b.pushScope()
		b.buildStmt(clause.B)
		b.popScope(clause.Tok)
		b.fn.Emit(SehExceptEnd, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, clause.Tok)

	case ast.SehFinallyClause:
		funcletID := b.fn.NewLabel()
		b.fn.Emit(SehTryBegin, &EhOp{HandlerLabel: handlerL, EndLabel: endL, FuncletID: funcletID}, n.Tok)
		b.sehDepth++
		b.finallyStack = append(b.finallyStack, funcletID)
		// Destructor emission inside the guarded block defers to the
		// funclet boundary.
		b.pushScope()
		b.scopes[len(b.scopes)-1].deferred = true
		b.buildStmt(n.A)
		b.popScope(n.Tok)
		b.finallyStack = b.finallyStack[:len(b.finallyStack)-1]
		b.sehDepth--
		b.fn.Emit(SehTryEnd, &EhOp{HandlerLabel: handlerL, EndLabel: endL}, n.Tok)

		// Normal-flow invocation, then a jump around the funclet body so
		// it only ever runs through its call edge.
		b.fn.Emit(SehFinallyCall, &EhOp{FuncletID: funcletID}, clause.Tok)
		b.fn.Emit(Branch, &BranchOp{Target: endL}, clause.Tok)
		b.fn.Emit(SehFinallyBegin, &EhOp{FuncletID: funcletID}, clause.Tok)
		b.pushScope()
		b.buildStmt(clause.B)
		b.popScope(clause.Tok)
		b.fn.Emit(SehFinallyEnd, &EhOp{FuncletID: funcletID}, clause.Tok)
	}
	b.fn.Emit(Label, &LabelOp{ID: endL}, n.Tok)
}

// constFilter recognizes constant __except filter values such as
// EXCEPTION_EXECUTE_HANDLER.
func (b *Builder) constFilter(r ast.NodeRef) (int64, bool) {
	if r == ast.Nil {
		return 0, false
	}
	n := b.node(r)
	switch n.Kind {
	case ast.IntLit, ast.BoolLit:
		return n.IVal, true
	case ast.UnaryExpr:
		if v, ok := b.constFilter(n.A); ok && ast.Op(n.IVal) == ast.OpNeg {
			return -v, true
		}
	}
	return 0, false
}

func (b *Builder) buildThrow(r ast.NodeRef) Value {
	n := b.node(r)
	if n.A == ast.Nil {
		b.fn.Emit(Rethrow, &EhOp{}, n.Tok)
		return Value{}
	}
	v := b.buildExpr(n.A)
	eh := &EhOp{Operand: v}
	if s, ok := b.reg.ExprType(n.A); ok {
		eh.ExcType = s.StripRef()
		if b.target == TargetWindows {
			eh.TypeSym = b.table.Intern(mangle.MSVCThrowInfoName(b.reg, eh.ExcType))
		} else {
			eh.TypeSym = b.table.Intern(mangle.ItaniumTypeDescriptorName(b.reg, eh.ExcType))
		}
		seen := false
		for _, t := range b.mod.ThrownTypes {
			if t.Equal(eh.ExcType) {
				seen = true
				break
			}
		}
		if !seen {
			b.mod.ThrownTypes = append(b.mod.ThrownTypes, eh.ExcType)
		}
	}
	b.fn.Emit(Throw, eh, n.Tok)
	return Value{}
}

// sehIntrinsic lowers GetExceptionCode/GetExceptionInformation and the
// related body-side reads.
func (b *Builder) sehIntrinsic(name string, n *ast.Node) (Value, bool) {
	switch name {
	case "GetExceptionCode", "_exception_code":
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimUInt)), Bits: 32})
		b.fn.Emit(SehGetExceptionCodeBody, &EhOp{Result: t, SaveSlot: b.table.Intern("__exc_code")}, n.Tok)
		return TempVal(t), true
	case "GetExceptionInformation", "_exception_info":
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimVoid)).AddPointer(), Bits: 64})
		b.fn.Emit(SehGetExceptionInfo, &EhOp{Result: t}, n.Tok)
		return TempVal(t), true
	case "AbnormalTermination", "_abnormal_termination":
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimInt)), Bits: 32})
		b.fn.Emit(SehAbnormalTermination, &EhOp{Result: t}, n.Tok)
		return TempVal(t), true
	}
	return Value{}, false
}
