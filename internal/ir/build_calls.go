package ir

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Call lowering. The protocol per argument: reference parameters receive
// an address (AddressOf on lvalues, a materialized temporary for
// prvalues); by-value parameters fed from references dereference first.
// Direct calls whose struct return is past the platform threshold allocate
// an implicit return slot passed as a hidden leading argument; member,
// operator and closure calls pass no such slot.
// Generated call IR is keyed only by the callee's final mangled name.

func (b *Builder) buildCall(r ast.NodeRef) Value {
	n := b.node(r)

	// Functional cast T(x).
	if n.Kind == ast.FunctionalCastExpr {
		if len(n.Kids) == 1 {
			return b.buildExpr(n.Kids[0])
		}
		return IntVal(0)
	}

	// SEH intrinsics look like calls.
	callee := b.node(n.A)
	if callee.Kind == ast.Ident {
		if v, ok := b.sehIntrinsic(b.table.Lookup(callee.Name), n); ok {
			return v
		}
	}

	// Calling a closure: operator() on the object, even when the front
	// end recorded the operator declaration on the call node.
	if s, ok := b.reg.ExprType(n.A); ok && b.reg.IsClass(s.StripRef()) {
		return b.buildClosureCall(r, s.StripRef())
	}

	// Resolved declaration from overload selection.
	if n.C != ast.Nil && b.node(n.C).Kind == ast.FunctionDecl {
		return b.buildDirectCall(r, n.C)
	}

	// Function pointer.
	target := b.buildExpr(n.A)
	var args []Value
	var argBits []uint32
	for _, k := range n.Kids {
		args = append(args, b.buildExpr(k))
		argBits = append(argBits, b.exprBits(k))
	}
	retBits := b.exprBits(r)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r), Bits: retBits})
	b.fn.Emit(IndirectCall, &IndirectCallOp{
		Result: t, Target: target, Args: args, ArgBits: argBits, RetBits: retBits,
	}, n.Tok)
	return TempVal(t)
}

// buildDirectCall lowers a call to a resolved function declaration.
func (b *Builder) buildDirectCall(r ast.NodeRef, decl ast.NodeRef) Value {
	n := b.node(r)
	d := b.node(decl)
	sig := b.sigOf(decl)

	args, argBits, floats := b.lowerArgs(n.Kids, sig, n.Tok)

	retBits := uint32(0)
	var retSpec types.Specifier
	if sig != nil {
		retSpec = sig.Return
		retBits = b.reg.SizeBits(retSpec.StripRef())
		if retSpec.IsReference() {
			retBits = 64
		}
	}

	// Hidden return slot for large struct returns.
	if sig != nil && b.isLargeStruct(retSpec) {
		slotName := b.scratchName()
		b.fn.Emit(StackAlloc, &AllocOp{Name: slotName, Type: retSpec, Bits: b.reg.SizeBits(retSpec)}, n.Tok)
		addr := b.fn.NewTemp(TempInfo{Category: PRValue, Type: retSpec.AddPointer(), Bits: 64})
		b.fn.Emit(AddressOf, &UnaryOp{Result: addr, Operand: NamedVal(slotName)}, n.Tok)
		args = append([]Value{TempVal(addr)}, args...)
		argBits = append([]uint32{64}, argBits...)
		floats = append([]bool{false}, floats...)
		retBits = 64
	}

	cat := PRValue
	if retSpec.IsReference() {
		cat = XValue
	}
	t := b.fn.NewTemp(TempInfo{Category: cat, Type: retSpec, Bits: retBits})
	b.fn.Emit(FunctionCall, &CallOp{
		Result: t, Mangled: d.Mangled, Args: args, ArgBits: argBits,
		FloatArg: floats, RetBits: retBits,
	}, n.Tok)
	return TempVal(t)
}

func (b *Builder) sigOf(decl ast.NodeRef) *types.Signature {
	if s, ok := b.reg.ExprType(decl); ok {
		return s.Func
	}
	return nil
}

// lowerArgs applies the argument protocol against the signature.
func (b *Builder) lowerArgs(kids []ast.NodeRef, sig *types.Signature, tok tokenType) ([]Value, []uint32, []bool) {
	var args []Value
	var bits []uint32
	var floats []bool
	for i, k := range kids {
		v := b.buildExpr(k)
		argSpec := b.typeOf(k)
		var param *types.Specifier
		if sig != nil && i < len(sig.Params) {
			param = &sig.Params[i]
		}
		switch {
		case param != nil && param.IsReference():
			v = b.addressOf(k, v)
			args = append(args, v)
			bits = append(bits, 64)
			floats = append(floats, false)
		case param != nil && !param.IsReference() && argSpec.IsReference():
			// By-value parameter from a reference argument: the loaded
			// referent already carries the value.
			args = append(args, v)
			bits = append(bits, b.reg.SizeBits(param.StripRef()))
			floats = append(floats, b.reg.IsFloating(*param))
		default:
			args = append(args, v)
			bits = append(bits, b.exprBits(k))
			floats = append(floats, b.reg.IsFloating(argSpec.StripRef()))
		}
	}
	return args, bits, floats
}

// buildMemberCall lowers obj.f(args) / ptr->f(args), direct or virtual.
func (b *Builder) buildMemberCall(r ast.NodeRef) Value {
	n := b.node(r)
	objSpec := b.typeOf(n.A).StripRef()

	// Object address: by-value objects have their address taken; pointers
	// pass through; rvalue objects materialize to a named slot first.
	var objAddr Value
	if n.Is(ast.FlagByRef) || objSpec.IsPointer() {
		objAddr = b.buildExpr(n.A)
		objSpec = objSpec.Deref()
	} else {
		v := b.buildExpr(n.A)
		objAddr = b.addressOf(n.A, v)
	}

	decl := n.C
	var sig *types.Signature
	var mangled intern.Handle
	if decl != ast.Nil {
		sig = b.sigOf(decl)
		mangled = b.node(decl).Mangled
	}

	args, argBits, floats := b.lowerArgs(n.Kids, sig, n.Tok)
	args = append([]Value{objAddr}, args...)
	argBits = append([]uint32{64}, argBits...)
	floats = append([]bool{false}, floats...)

	retBits := b.exprBits(r)
	var retSpec types.Specifier
	if sig != nil {
		retSpec = sig.Return
	}
	cat := PRValue
	if retSpec.IsReference() {
		cat = XValue
	}
	t := b.fn.NewTemp(TempInfo{Category: cat, Type: retSpec, Bits: retBits})

	if n.Is(ast.FlagVirtual) {
		slot := b.vtableSlot(objSpec.Base, n.Name)
		b.fn.Emit(VirtualCall, &VirtualCallOp{
			Result: t, Object: objAddr, Slot: slot,
			Args: args, ArgBits: argBits, RetBits: retBits,
		}, n.Tok)
		return TempVal(t)
	}
	b.fn.Emit(FunctionCall, &CallOp{
		Result: t, Mangled: mangled, Args: args, ArgBits: argBits,
		FloatArg: floats, RetBits: retBits,
	}, n.Tok)
	return TempVal(t)
}

func (b *Builder) vtableSlot(cls types.TypeIndex, name intern.Handle) int {
	si := b.reg.Get(cls).Struct
	if si == nil {
		return 0
	}
	for i := range si.VTable {
		if si.VTable[i].Name == name {
			return i
		}
	}
	return 0
}

// buildOperatorCall lowers an overloaded binary operator as a member call
// on the left operand.
func (b *Builder) buildOperatorCall(r ast.NodeRef) Value {
	n := b.node(r)
	decl := n.C
	sig := b.sigOf(decl)

	lv := b.buildExpr(n.A)
	objAddr := b.addressOf(n.A, lv)

	args, argBits, floats := b.lowerArgs([]ast.NodeRef{n.B}, sig, n.Tok)
	args = append([]Value{objAddr}, args...)
	argBits = append([]uint32{64}, argBits...)
	floats = append([]bool{false}, floats...)

	retBits := b.exprBits(r)
	var retSpec types.Specifier
	if sig != nil {
		retSpec = sig.Return
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: retSpec, Bits: retBits})
	b.fn.Emit(FunctionCall, &CallOp{
		Result: t, Mangled: b.node(decl).Mangled, Args: args,
		ArgBits: argBits, FloatArg: floats, RetBits: retBits,
	}, n.Tok)
	return TempVal(t)
}

// buildClosureCall lowers closure(args): a member call on operator().
func (b *Builder) buildClosureCall(r ast.NodeRef, objSpec types.Specifier) Value {
	n := b.node(r)
	si := b.reg.Get(objSpec.Base).Struct
	if si == nil {
		return IntVal(0)
	}
	opName := b.table.Intern("operator()")
	var m *types.Method
	for i := range si.Methods {
		if si.Methods[i].Name == opName {
			m = &si.Methods[i]
			break
		}
	}
	if m == nil {
		return IntVal(0)
	}
	v := b.buildExpr(n.A)
	objAddr := b.addressOf(n.A, v)
	args, argBits, floats := b.lowerArgs(n.Kids, m.Sig, n.Tok)
	args = append([]Value{objAddr}, args...)
	argBits = append([]uint32{64}, argBits...)
	floats = append([]bool{false}, floats...)
	retBits := uint32(32)
	var retSpec types.Specifier
	if m.Sig != nil {
		retSpec = m.Sig.Return
		retBits = b.reg.SizeBits(retSpec.StripRef())
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: retSpec, Bits: retBits})
	b.fn.Emit(FunctionCall, &CallOp{
		Result: t, Mangled: m.Mangled, Args: args, ArgBits: argBits,
		FloatArg: floats, RetBits: retBits,
	}, n.Tok)
	return TempVal(t)
}
