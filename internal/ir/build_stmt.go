package ir

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Statement lowering. Loop and switch contexts track the SEH depth at
// entry; break/continue that cross __finally regions synthesize
// SehFinallyCall for each intervening funclet before the jump.

func (b *Builder) buildStmt(r ast.NodeRef) {
	if r == ast.Nil || b.err != nil {
		return
	}
	n := b.node(r)
	switch n.Kind {
	case ast.CompoundStmt:
		b.pushScope()
		for _, k := range n.Kids {
			b.buildStmt(k)
		}
		b.popScope(n.Tok)

	case ast.ExprStmt:
		b.buildExpr(n.A)

	case ast.DeclStmt:
		for _, k := range n.Kids {
			b.buildLocal(k)
		}

	case ast.VarDecl:
		b.buildLocal(r)

	case ast.IfStmt:
		cond := b.buildExpr(n.A)
		elseL := b.fn.NewLabel()
		endL := b.fn.NewLabel()
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: elseL, Cond: cond, IfZero: true}, n.Tok)
		b.buildStmt(n.B)
		if n.C != ast.Nil {
			b.fn.Emit(Branch, &BranchOp{Target: endL}, n.Tok)
		}
		b.fn.Emit(Label, &LabelOp{ID: elseL}, n.Tok)
		if n.C != ast.Nil {
			b.buildStmt(n.C)
			b.fn.Emit(Label, &LabelOp{ID: endL}, n.Tok)
		}

	case ast.WhileStmt:
		start := b.fn.NewLabel()
		end := b.fn.NewLabel()
		b.fn.Emit(LoopBegin, &LoopOp{Start: start, End: end, Continue: start}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: start}, n.Tok)
		cond := b.buildExpr(n.A)
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: end, Cond: cond, IfZero: true}, n.Tok)
		b.pushLoop(start, end, start)
		b.buildStmt(n.B)
		b.popLoop()
		b.fn.Emit(Branch, &BranchOp{Target: start}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
		b.fn.Emit(LoopEnd, &LoopOp{Start: start, End: end}, n.Tok)

	case ast.DoStmt:
		start := b.fn.NewLabel()
		end := b.fn.NewLabel()
		contL := b.fn.NewLabel()
		b.fn.Emit(LoopBegin, &LoopOp{Start: start, End: end, Continue: contL}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: start}, n.Tok)
		b.pushLoop(start, end, contL)
		b.buildStmt(n.B)
		b.popLoop()
		b.fn.Emit(Label, &LabelOp{ID: contL}, n.Tok)
		cond := b.buildExpr(n.A)
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: end, Cond: cond, IfZero: true}, n.Tok)
		b.fn.Emit(Branch, &BranchOp{Target: start}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
		b.fn.Emit(LoopEnd, &LoopOp{Start: start, End: end}, n.Tok)

	case ast.ForStmt:
		b.pushScope()
		if n.A != ast.Nil {
			b.buildStmt(n.A)
		}
		start := b.fn.NewLabel()
		end := b.fn.NewLabel()
		contL := b.fn.NewLabel()
		b.fn.Emit(LoopBegin, &LoopOp{Start: start, End: end, Continue: contL}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: start}, n.Tok)
		if n.B != ast.Nil {
			cond := b.buildExpr(n.B)
			b.fn.Emit(ConditionalBranch, &BranchOp{Target: end, Cond: cond, IfZero: true}, n.Tok)
		}
		b.pushLoop(start, end, contL)
		if len(n.Kids) > 0 {
			b.buildStmt(n.Kids[0])
		}
		b.popLoop()
		b.fn.Emit(Label, &LabelOp{ID: contL}, n.Tok)
		if n.C != ast.Nil {
			b.buildExpr(n.C)
		}
		b.fn.Emit(Branch, &BranchOp{Target: start}, n.Tok)
		b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
		b.fn.Emit(LoopEnd, &LoopOp{Start: start, End: end}, n.Tok)

	case ast.RangeForStmt:
		b.buildRangeFor(r)

	case ast.SwitchStmt:
		b.buildSwitch(r)

	case ast.BreakStmt:
		if len(b.loops) == 0 {
			return
		}
		top := b.loops[len(b.loops)-1]
		b.synthesizeFinallyCalls(top.sehDepth, n.Tok)
		b.fn.Emit(Break, &BranchOp{Target: top.end}, n.Tok)

	case ast.ContinueStmt:
		if len(b.loops) == 0 {
			return
		}
		top := b.loops[len(b.loops)-1]
		b.synthesizeFinallyCalls(top.sehDepth, n.Tok)
		b.fn.Emit(Continue, &BranchOp{Target: top.cont}, n.Tok)

	case ast.ReturnStmt:
		var ret ReturnOp
		if n.A != ast.Nil {
			v := b.buildExpr(n.A)
			ret.Val = v
			if s, ok := b.reg.ExprType(n.A); ok {
				ret.Bits = b.reg.SizeBits(s.StripRef())
			}
		}
		b.synthesizeFinallyCalls(0, n.Tok)
		b.emitAllDtors(n.Tok)
		b.fn.Emit(Return, &ret, n.Tok)

	case ast.LabelStmt:
		id := b.fn.NewLabel()
		b.fn.Emit(Label, &LabelOp{ID: id}, n.Tok)
		b.buildStmt(n.A)

	case ast.GotoStmt:
		// goto inside this subset jumps to labels lowered in sequence; the
		// encoder resolves names through the label map.
		b.fn.Emit(Branch, &BranchOp{Target: 0}, n.Tok)

	case ast.TryStmt:
		b.buildTry(r)

	case ast.SehTryStmt:
		b.buildSehTry(r)

	case ast.SehLeaveStmt:
		b.fn.Emit(SehLeave, &EhOp{}, n.Tok)

	case ast.EmptyStmt, ast.StaticAssertDecl, ast.UsingDecl, ast.TypedefDecl,
		ast.AliasDecl:
		// nothing

	case ast.ClassDecl, ast.UnionDecl, ast.EnumDecl:
		// local type declarations carry no code here; member functions of
		// local classes were walked at the declaration level

	default:
		// Fallback: treat as expression.
		b.buildExpr(r)
	}
}

func (b *Builder) pushLoop(start, end, cont int) {
	b.loops = append(b.loops, loopFrame{start: start, end: end, cont: cont, sehDepth: b.sehDepth})
}

func (b *Builder) popLoop() { b.loops = b.loops[:len(b.loops)-1] }

// synthesizeFinallyCalls emits SehFinallyCall for every __finally between
// the current SEH depth and the jump target's depth.
func (b *Builder) synthesizeFinallyCalls(targetDepth int, tok tokenType) {
	for i := len(b.finallyStack) - 1; i >= 0 && i >= targetDepth; i-- {
		b.fn.Emit(SehFinallyCall, &EhOp{FuncletID: b.finallyStack[i]}, tok)
	}
}

// buildLocal lowers one local variable declaration: slot, initializer,
// constructor, destructor registration.
func (b *Builder) buildLocal(r ast.NodeRef) {
	n := b.node(r)
	spec, _ := b.reg.ExprType(r)
	bits := b.reg.SizeBits(spec)
	if spec.IsReference() {
		bits = 64
	}
	b.fn.Emit(StackAlloc, &AllocOp{Name: n.Name, Type: spec, Bits: bits}, n.Tok)
	slot := NamedVal(n.Name)

	si := b.reg.Get(spec.Base).Struct
	isObject := si != nil && !spec.IsPointer() && !spec.IsReference() && !spec.IsArray()

	if isObject {
		// Constructor call (or member-wise init from an init list).
		init := n.C
		var args []Value
		var argBits []uint32
		if init != ast.Nil {
			in := b.node(init)
			if in.Kind == ast.CallExpr && in.A == ast.Nil {
				for _, a := range in.Kids {
					v := b.buildExpr(a)
					args = append(args, v)
					argBits = append(argBits, b.exprBits(a))
				}
			} else if in.Kind == ast.InitListExpr {
				b.buildAggregateInit(slot, spec, init)
				b.registerDtor(slot, spec, n.Tok)
				return
			} else {
				v := b.buildExpr(init)
				args = append(args, v)
				argBits = append(argBits, b.exprBits(init))
			}
		}
		if ctor := b.findCtor(spec.Base, len(args)); ctor != intern.Invalid {
			b.fn.Emit(ConstructorCall, &CtorOp{
				Object: slot, Mangled: ctor, Args: args, ArgBits: argBits,
			}, n.Tok)
		} else if len(args) == 1 {
			b.fn.Emit(Store, &StoreOp{Dst: slot, Src: args[0], Bits: bits}, n.Tok)
		}
		b.registerDtor(slot, spec, n.Tok)
		return
	}

	if n.C != ast.Nil {
		in := b.node(n.C)
		if in.Kind == ast.InitListExpr && spec.IsArray() {
			b.buildArrayInit(slot, spec, n.C)
			return
		}
		v := b.buildExpr(n.C)
		if spec.IsReference() {
			// Binding a reference stores the address of the initializer.
			addr := b.addressOf(n.C, v)
			b.fn.Emit(Store, &StoreOp{Dst: slot, Src: addr, Bits: 64}, n.Tok)
			return
		}
		b.fn.Emit(Store, &StoreOp{Dst: slot, Src: v, Bits: bits}, n.Tok)
	}
}

func (b *Builder) findCtor(idx types.TypeIndex, argc int) intern.Handle {
	si := b.reg.Get(idx).Struct
	if si == nil {
		return intern.Invalid
	}
	var zeroArg intern.Handle
	for i := range si.Methods {
		m := &si.Methods[i]
		if !m.IsCtor {
			continue
		}
		np := 0
		if m.Sig != nil {
			np = len(m.Sig.Params)
		}
		if np == argc {
			return m.Mangled
		}
		if np == 0 {
			zeroArg = m.Mangled
		}
	}
	if argc == 0 {
		return zeroArg
	}
	return intern.Invalid
}

func (b *Builder) buildAggregateInit(slot Value, spec types.Specifier, init ast.NodeRef) {
	si := b.reg.Get(spec.Base).Struct
	kids := b.node(init).Kids
	for i, k := range kids {
		if si == nil || i >= len(si.Members) {
			break
		}
		v := b.buildExpr(k)
		m := si.Members[i]
		b.fn.Emit(MemberStore, &MemberOp{
			Object: slot, Src: v, Offset: m.OffsetBits, Bits: b.reg.SizeBits(m.Spec),
		}, b.node(k).Tok)
	}
}

func (b *Builder) buildArrayInit(slot Value, spec types.Specifier, init ast.NodeRef) {
	elem := spec
	elem.Arrays = elem.Arrays[1:]
	ebits := b.reg.SizeBits(elem)
	for i, k := range b.node(init).Kids {
		v := b.buildExpr(k)
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
		b.fn.Emit(ComputeAddress, &AddrOp{
			Result: t, Base: slot,
			Steps: []AddrStep{{Index: IntVal(int64(i)), Scale: ebits / 8}},
		}, b.node(k).Tok)
		b.fn.Emit(DereferenceStore, &StoreOp{Dst: TempVal(t), Src: v, Bits: ebits}, b.node(k).Tok)
	}
}

// buildRangeFor desugars to an iterator-pointer pair for arrays, or
// begin()/end() member calls for class types.
func (b *Builder) buildRangeFor(r ast.NodeRef) {
	n := b.node(r)
	b.pushScope()
	// C++20 init statement precedes the pair's declaration.
	for _, k := range n.Kids {
		if b.node(k).Kind == ast.DeclStmt {
			b.buildStmt(k)
		}
	}

	rangeSpec, _ := b.reg.ExprType(n.B)
	rangeSpec = rangeSpec.StripRef()
	itName := b.table.Intern("__it")
	endName := b.table.Intern("__end")

	var elem types.Specifier
	switch {
	case rangeSpec.IsArray():
		elem = rangeSpec
		elem.Arrays = elem.Arrays[1:]
		count := rangeSpec.Arrays[0].Count
		ebits := b.reg.SizeBits(elem)
		base := b.buildExpr(n.B)
		b.fn.Emit(StackAlloc, &AllocOp{Name: itName, Type: elem.AddPointer(), Bits: 64}, n.Tok)
		b.fn.Emit(StackAlloc, &AllocOp{Name: endName, Type: elem.AddPointer(), Bits: 64}, n.Tok)
		addr := b.addressOf(n.B, base)
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(itName), Src: addr, Bits: 64}, n.Tok)
		endT := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
		b.fn.Emit(ComputeAddress, &AddrOp{
			Result: endT, Base: addr,
			Steps: []AddrStep{{Index: IntVal(count), Scale: ebits / 8}},
		}, n.Tok)
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(endName), Src: TempVal(endT), Bits: 64}, n.Tok)
	default:
		// Class range: __it = r.begin(), __end = r.end().
		elem = types.Spec(b.reg.Primitive(types.PrimInt))
		obj := b.buildExpr(n.B)
		objAddr := b.addressOf(n.B, obj)
		beginT := b.memberCallByName(rangeSpec.Base, "begin", objAddr, n)
		endT2 := b.memberCallByName(rangeSpec.Base, "end", objAddr, n)
		b.fn.Emit(StackAlloc, &AllocOp{Name: itName, Type: elem.AddPointer(), Bits: 64}, n.Tok)
		b.fn.Emit(StackAlloc, &AllocOp{Name: endName, Type: elem.AddPointer(), Bits: 64}, n.Tok)
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(itName), Src: beginT, Bits: 64}, n.Tok)
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(endName), Src: endT2, Bits: 64}, n.Tok)
	}

	ebits := b.reg.SizeBits(elem)
	start := b.fn.NewLabel()
	end := b.fn.NewLabel()
	contL := b.fn.NewLabel()
	b.fn.Emit(LoopBegin, &LoopOp{Start: start, End: end, Continue: contL}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: start}, n.Tok)

	// __it != __end
	itv := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
	b.fn.Emit(Load, &LoadOp{Result: itv, Src: NamedVal(itName), Bits: 64}, n.Tok)
	endv := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
	b.fn.Emit(Load, &LoadOp{Result: endv, Src: NamedVal(endName), Bits: 64}, n.Tok)
	cmp := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimBool)), Bits: 8})
	b.fn.Emit(NotEqual, &BinaryOp{Result: cmp, L: TempVal(itv), R: TempVal(endv), Bits: 64}, n.Tok)
	b.fn.Emit(ConditionalBranch, &BranchOp{Target: end, Cond: TempVal(cmp), IfZero: true}, n.Tok)

	// loop variable = *__it
	if n.Name != intern.Invalid {
		b.fn.Emit(StackAlloc, &AllocOp{Name: n.Name, Type: elem, Bits: ebits}, n.Tok)
		deref := b.fn.NewTemp(TempInfo{Category: LValue, Type: elem, Bits: ebits})
		b.fn.Emit(Dereference, &UnaryOp{Result: deref, Operand: TempVal(itv), Bits: ebits}, n.Tok)
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(n.Name), Src: TempVal(deref), Bits: ebits}, n.Tok)
	}

	b.pushLoop(start, end, contL)
	b.buildStmt(n.C)
	b.popLoop()

	// ++__it
	b.fn.Emit(Label, &LabelOp{ID: contL}, n.Tok)
	cur := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
	b.fn.Emit(Load, &LoadOp{Result: cur, Src: NamedVal(itName), Bits: 64}, n.Tok)
	next := b.fn.NewTemp(TempInfo{Category: PRValue, Type: elem.AddPointer(), Bits: 64})
	b.fn.Emit(Add, &BinaryOp{Result: next, L: TempVal(cur), R: IntVal(int64(ebits / 8)), Bits: 64}, n.Tok)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(itName), Src: TempVal(next), Bits: 64}, n.Tok)
	b.fn.Emit(Branch, &BranchOp{Target: start}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
	b.fn.Emit(LoopEnd, &LoopOp{Start: start, End: end}, n.Tok)
	b.popScope(n.Tok)
}

func (b *Builder) memberCallByName(cls types.TypeIndex, name string, objAddr Value, n *ast.Node) Value {
	si := b.reg.Get(cls).Struct
	if si == nil {
		return IntVal(0)
	}
	h := b.table.Intern(name)
	for i := range si.Methods {
		m := &si.Methods[i]
		if m.Name == h {
			ret := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimLongLong)), Bits: 64})
			b.fn.Emit(FunctionCall, &CallOp{
				Result: ret, Mangled: m.Mangled,
				Args: []Value{objAddr}, ArgBits: []uint32{64}, RetBits: 64,
			}, n.Tok)
			return TempVal(ret)
		}
	}
	return IntVal(0)
}

// buildSwitch lowers a switch into compare-and-branch chains.
func (b *Builder) buildSwitch(r ast.NodeRef) {
	n := b.node(r)
	cond := b.buildExpr(n.A)
	end := b.fn.NewLabel()
	bits := b.exprBits(n.A)

	type caseTarget struct {
		label int
		ref   ast.NodeRef
	}
	var cases []caseTarget
	defaultL := end
	for _, k := range n.Kids {
		kn := b.node(k)
		label := b.fn.NewLabel()
		cases = append(cases, caseTarget{label: label, ref: k})
		if kn.Kind == ast.DefaultStmt {
			defaultL = label
		}
	}
	for i, c := range cases {
		kn := b.node(c.ref)
		if kn.Kind != ast.CaseStmt {
			continue
		}
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimBool)), Bits: 8})
		b.fn.Emit(Equal, &BinaryOp{Result: t, L: cond, R: IntVal(kn.IVal), Bits: bits}, kn.Tok)
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: cases[i].label, Cond: TempVal(t)}, kn.Tok)
	}
	b.fn.Emit(Branch, &BranchOp{Target: defaultL}, n.Tok)

	b.pushLoop(0, end, 0) // break inside switch jumps to end
	for _, c := range cases {
		b.fn.Emit(Label, &LabelOp{ID: c.label}, b.node(c.ref).Tok)
		for _, s := range b.node(c.ref).Kids {
			b.buildStmt(s)
		}
	}
	b.popLoop()
	b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
}

func (b *Builder) exprBits(r ast.NodeRef) uint32 {
	if s, ok := b.reg.ExprType(r); ok {
		if s.IsReference() || s.IsPointer() {
			return 64
		}
		bits := b.reg.SizeBits(s)
		if bits == 0 {
			return 64
		}
		if bits > 64 {
			return 64
		}
		return bits
	}
	return 32
}
