package ir

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Expression lowering. buildExpr returns the value of an expression;
// addressOf materializes an address for reference binding and member
// calls. Value categories drive both: prvalues materialize to temporaries
// before their address is taken, lvalues take AddressOf directly.

func (b *Builder) buildExpr(r ast.NodeRef) Value {
	if r == ast.Nil || b.err != nil {
		return Value{}
	}
	n := b.node(r)
	switch n.Kind {
	case ast.IntLit, ast.BoolLit, ast.CharLit:
		return IntVal(n.IVal)
	case ast.FloatLit:
		return FloatVal(n.FVal)
	case ast.NullptrLit:
		return IntVal(0)

	case ast.StringLit:
		label := b.newString(n.Name)
		t := b.fn.NewTemp(TempInfo{
			Category: PRValue,
			Type:     types.Spec(b.reg.Primitive(types.PrimChar)).AddPointer(),
			Bits:     64,
		})
		b.fn.Emit(StringLiteral, &StringOp{Result: t, Text: n.Name, Label: label}, n.Tok)
		return TempVal(t)

	case ast.Ident, ast.QualifiedIdent:
		return b.buildLoadName(r)

	case ast.ThisExpr:
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r), Bits: 64})
		b.fn.Emit(Load, &LoadOp{Result: t, Src: NamedVal(b.table.Intern("this")), Bits: 64}, n.Tok)
		return TempVal(t)

	case ast.BinaryExpr:
		return b.buildBinary(r)

	case ast.UnaryExpr:
		return b.buildUnary(r)

	case ast.IncDecExpr:
		return b.buildIncDec(r)

	case ast.AssignExpr, ast.CompoundAssignExpr:
		return b.buildAssign(r)

	case ast.ConditionalExpr:
		return b.buildConditional(r)

	case ast.CommaExpr:
		b.buildExpr(n.A)
		return b.buildExpr(n.B)

	case ast.CallExpr, ast.FunctionalCastExpr:
		return b.buildCall(r)

	case ast.MemberCallExpr:
		return b.buildMemberCall(r)

	case ast.MemberExpr, ast.ArrowExpr:
		return b.buildMemberLoad(r)

	case ast.IndexExpr:
		return b.buildIndex(r)

	case ast.StaticCastExpr, ast.CStyleCastExpr, ast.ConstCastExpr,
		ast.ReinterpretCastExpr:
		return b.buildCast(r)

	case ast.DynamicCastExpr:
		return b.buildDynamicCast(r)

	case ast.NewExpr, ast.NewArrayExpr, ast.PlacementNewExpr:
		return b.buildNew(r)

	case ast.DeleteExpr, ast.DeleteArrayExpr:
		return b.buildDelete(r)

	case ast.ThrowExpr:
		return b.buildThrow(r)

	case ast.TypeidExpr:
		return b.buildTypeid(r)

	case ast.SizeofExpr, ast.AlignofExpr, ast.TraitExpr:
		return IntVal(n.IVal)

	case ast.LambdaExpr:
		return b.buildLambda(r)

	case ast.InitListExpr:
		if len(n.Kids) > 0 {
			return b.buildExpr(n.Kids[0])
		}
		return IntVal(0)

	case ast.RequiresExpr:
		return IntVal(n.IVal)
	}
	return Value{}
}

func (b *Builder) typeOf(r ast.NodeRef) types.Specifier {
	if s, ok := b.reg.ExprType(r); ok {
		return s
	}
	return types.Spec(b.reg.Primitive(types.PrimInt))
}

// buildLoadName loads a named local, parameter, or global.
func (b *Builder) buildLoadName(r ast.NodeRef) Value {
	n := b.node(r)
	s := b.typeOf(r)
	bits := b.exprBits(r)

	if b.globals[n.Name] {
		t := b.fn.NewTemp(TempInfo{Category: LValue, Type: s, Bits: bits})
		b.fn.Emit(GlobalLoad, &GlobalOp{Result: t, Name: n.Name, Bits: bits}, n.Tok)
		return TempVal(t)
	}

	if b.reg.IsClass(s.StripRef()) && !s.IsReference() {
		// Class-typed names stay addresses; consumers take members or
		// pass the object by address.
		return NamedVal(n.Name)
	}

	t := b.fn.NewTemp(TempInfo{Category: LValue, Type: s, Bits: bits})
	b.fn.Emit(Load, &LoadOp{Result: t, Src: NamedVal(n.Name), Bits: bits}, n.Tok)
	if s.IsReference() {
		// A reference slot holds an address; reading the referent is a
		// second load.
		v := b.fn.NewTemp(TempInfo{Category: XValue, Type: s.StripRef(), Bits: b.reg.SizeBits(s.StripRef())})
		b.fn.Emit(Dereference, &UnaryOp{Result: v, Operand: TempVal(t), Bits: b.reg.SizeBits(s.StripRef())}, n.Tok)
		return TempVal(v)
	}
	return TempVal(t)
}

func (b *Builder) buildBinary(r ast.NodeRef) Value {
	n := b.node(r)
	// Operator overload resolved by the front end.
	if n.C != ast.Nil && b.node(n.C).Kind == ast.FunctionDecl {
		return b.buildOperatorCall(r)
	}
	op := ast.Op(n.IVal)

	// Short-circuit forms lower to branches.
	if op == ast.OpLogAnd || op == ast.OpLogOr {
		return b.buildShortCircuit(r, op)
	}

	l := b.buildExpr(n.A)
	rr := b.buildExpr(n.B)
	ls := b.typeOf(n.A).StripRef()
	isFloat := b.reg.IsFloating(ls)
	isUnsigned := b.reg.IsUnsigned(ls)
	bits := b.exprBits(n.A)

	opcode, ok := selectBinaryOpcode(op, isFloat, isUnsigned)
	if !ok {
		b.fail(errors.IREncodingError, n.Tok, "no lowering for operator %s", op)
		return Value{}
	}
	resBits := bits
	resType := b.typeOf(r)
	switch op {
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		resBits = 8
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: resType, Bits: resBits})
	b.fn.Emit(opcode, &BinaryOp{Result: t, L: l, R: rr, Bits: bits}, n.Tok)
	return TempVal(t)
}

func selectBinaryOpcode(op ast.Op, isFloat, isUnsigned bool) (Opcode, bool) {
	if isFloat {
		switch op {
		case ast.OpAdd:
			return FloatAdd, true
		case ast.OpSub:
			return FloatSubtract, true
		case ast.OpMul:
			return FloatMultiply, true
		case ast.OpDiv:
			return FloatDivide, true
		case ast.OpEq:
			return FloatEqual, true
		case ast.OpNe:
			return FloatNotEqual, true
		case ast.OpLt:
			return FloatLessThan, true
		case ast.OpLe:
			return FloatLessEqual, true
		case ast.OpGt:
			return FloatGreaterThan, true
		case ast.OpGe:
			return FloatGreaterEqual, true
		}
		return Nop, false
	}
	switch op {
	case ast.OpAdd:
		return Add, true
	case ast.OpSub:
		return Subtract, true
	case ast.OpMul:
		return Multiply, true
	case ast.OpDiv:
		if isUnsigned {
			return UnsignedDivide, true
		}
		return Divide, true
	case ast.OpMod:
		if isUnsigned {
			return UnsignedModulo, true
		}
		return Modulo, true
	case ast.OpShl:
		return ShiftLeft, true
	case ast.OpShr:
		if isUnsigned {
			return UnsignedShiftRight, true
		}
		return ShiftRight, true
	case ast.OpBitAnd:
		return BitwiseAnd, true
	case ast.OpBitOr:
		return BitwiseOr, true
	case ast.OpBitXor:
		return BitwiseXor, true
	case ast.OpEq:
		return Equal, true
	case ast.OpNe:
		return NotEqual, true
	case ast.OpLt:
		if isUnsigned {
			return UnsignedLessThan, true
		}
		return LessThan, true
	case ast.OpLe:
		if isUnsigned {
			return UnsignedLessEqual, true
		}
		return LessEqual, true
	case ast.OpGt:
		if isUnsigned {
			return UnsignedGreaterThan, true
		}
		return GreaterThan, true
	case ast.OpGe:
		if isUnsigned {
			return UnsignedGreaterEqual, true
		}
		return GreaterEqual, true
	case ast.OpSpaceship:
		return Subtract, true
	}
	return Nop, false
}

// buildShortCircuit lowers && and || with branches and a result slot.
func (b *Builder) buildShortCircuit(r ast.NodeRef, op ast.Op) Value {
	n := b.node(r)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: types.Spec(b.reg.Primitive(types.PrimBool)), Bits: 8})
	name := b.scratchName()
	b.fn.Emit(StackAlloc, &AllocOp{Name: name, Type: types.Spec(b.reg.Primitive(types.PrimBool)), Bits: 8}, n.Tok)
	short := b.fn.NewLabel()
	end := b.fn.NewLabel()

	l := b.buildExpr(n.A)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(name), Src: l, Bits: 8}, n.Tok)
	if op == ast.OpLogAnd {
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: short, Cond: l, IfZero: true}, n.Tok)
	} else {
		b.fn.Emit(ConditionalBranch, &BranchOp{Target: short, Cond: l}, n.Tok)
	}
	rr := b.buildExpr(n.B)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(name), Src: rr, Bits: 8}, n.Tok)
	b.fn.Emit(Branch, &BranchOp{Target: end}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: short}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: end}, n.Tok)
	b.fn.Emit(Load, &LoadOp{Result: t, Src: NamedVal(name), Bits: 8}, n.Tok)
	return TempVal(t)
}

func (b *Builder) scratchName() intern.Handle {
	b.tmpSeq++
	return b.table.Intern("__t" + itoa(b.tmpSeq))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (b *Builder) buildUnary(r ast.NodeRef) Value {
	n := b.node(r)
	op := ast.Op(n.IVal)
	switch op {
	case ast.OpAddr:
		v := b.buildExpr(n.A)
		return b.addressOf(n.A, v)
	case ast.OpDeref:
		v := b.buildExpr(n.A)
		s := b.typeOf(r).StripRef()
		bits := b.reg.SizeBits(s)
		if bits == 0 || bits > 64 {
			bits = 64
		}
		t := b.fn.NewTemp(TempInfo{Category: LValue, Type: s, Bits: bits})
		b.fn.Emit(Dereference, &UnaryOp{Result: t, Operand: v, Bits: bits}, n.Tok)
		return TempVal(t)
	}
	v := b.buildExpr(n.A)
	bits := b.exprBits(n.A)
	var opc Opcode
	switch op {
	case ast.OpNeg:
		opc = Negate
	case ast.OpBitNot:
		opc = BitwiseNot
	case ast.OpLogNot:
		opc = LogicalNot
	case ast.OpPlus:
		return v
	default:
		b.fail(errors.IREncodingError, n.Tok, "no lowering for unary %s", op)
		return Value{}
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r), Bits: bits})
	b.fn.Emit(opc, &UnaryOp{Result: t, Operand: v, Bits: bits}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildIncDec(r ast.NodeRef) Value {
	n := b.node(r)
	bits := b.exprBits(n.A)
	old := b.buildExpr(n.A)
	delta := int64(1)
	// Pointer step scales by the pointee size.
	if s := b.typeOf(n.A).StripRef(); s.IsPointer() {
		eb := b.reg.SizeBits(s.Deref())
		if eb >= 8 {
			delta = int64(eb / 8)
		}
	}
	opc := Add
	if ast.Op(n.IVal) == ast.OpDec {
		opc = Subtract
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r).StripRef(), Bits: bits})
	b.fn.Emit(opc, &BinaryOp{Result: t, L: old, R: IntVal(delta), Bits: bits}, n.Tok)
	b.storeBack(n.A, TempVal(t), bits, n.Tok)
	if n.Is(ast.FlagPrefix) {
		return TempVal(t)
	}
	return old
}

// storeBack writes a computed value to the storage behind an lvalue
// expression.
func (b *Builder) storeBack(lhs ast.NodeRef, v Value, bits uint32, tok tokenType) {
	ln := b.node(lhs)
	switch ln.Kind {
	case ast.Ident, ast.QualifiedIdent:
		if b.globals[ln.Name] {
			b.fn.Emit(GlobalStore, &GlobalOp{Name: ln.Name, Src: v, Bits: bits}, tok)
			return
		}
		s := b.typeOf(lhs)
		if s.IsReference() {
			addrT := b.fn.NewTemp(TempInfo{Category: PRValue, Type: s.StripRef().AddPointer(), Bits: 64})
			b.fn.Emit(Load, &LoadOp{Result: addrT, Src: NamedVal(ln.Name), Bits: 64}, tok)
			b.fn.Emit(DereferenceStore, &StoreOp{Dst: TempVal(addrT), Src: v, Bits: bits}, tok)
			return
		}
		b.fn.Emit(Store, &StoreOp{Dst: NamedVal(ln.Name), Src: v, Bits: bits}, tok)
	case ast.MemberExpr, ast.ArrowExpr:
		obj, offset := b.memberBase(lhs)
		b.fn.Emit(MemberStore, &MemberOp{Object: obj, Src: v, Offset: offset, Bits: bits}, tok)
	case ast.IndexExpr:
		addr := b.indexAddress(lhs)
		b.fn.Emit(DereferenceStore, &StoreOp{Dst: addr, Src: v, Bits: bits}, tok)
	case ast.UnaryExpr:
		if ast.Op(ln.IVal) == ast.OpDeref {
			ptr := b.buildExpr(ln.A)
			b.fn.Emit(DereferenceStore, &StoreOp{Dst: ptr, Src: v, Bits: bits}, tok)
		}
	}
}

func (b *Builder) buildAssign(r ast.NodeRef) Value {
	n := b.node(r)
	op := ast.Op(n.IVal)
	bits := b.exprBits(n.A)

	if op == ast.OpAssign {
		v := b.buildExpr(n.B)
		b.storeBack(n.A, v, bits, n.Tok)
		return v
	}
	// Compound assignment reads, operates, writes back.
	cur := b.buildExpr(n.A)
	rhs := b.buildExpr(n.B)
	base := map[ast.Op]ast.Op{
		ast.OpAddAssign: ast.OpAdd, ast.OpSubAssign: ast.OpSub,
		ast.OpMulAssign: ast.OpMul, ast.OpDivAssign: ast.OpDiv,
		ast.OpModAssign: ast.OpMod, ast.OpAndAssign: ast.OpBitAnd,
		ast.OpOrAssign: ast.OpBitOr, ast.OpXorAssign: ast.OpBitXor,
		ast.OpShlAssign: ast.OpShl, ast.OpShrAssign: ast.OpShr,
	}[op]
	ls := b.typeOf(n.A).StripRef()
	opc, ok := selectBinaryOpcode(base, b.reg.IsFloating(ls), b.reg.IsUnsigned(ls))
	if !ok {
		b.fail(errors.IREncodingError, n.Tok, "no lowering for %s", op)
		return Value{}
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: ls, Bits: bits})
	b.fn.Emit(opc, &BinaryOp{Result: t, L: cur, R: rhs, Bits: bits}, n.Tok)
	b.storeBack(n.A, TempVal(t), bits, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildConditional(r ast.NodeRef) Value {
	n := b.node(r)
	bits := b.exprBits(n.B)
	name := b.scratchName()
	b.fn.Emit(StackAlloc, &AllocOp{Name: name, Type: b.typeOf(r), Bits: bits}, n.Tok)
	elseL := b.fn.NewLabel()
	endL := b.fn.NewLabel()
	cond := b.buildExpr(n.A)
	b.fn.Emit(ConditionalBranch, &BranchOp{Target: elseL, Cond: cond, IfZero: true}, n.Tok)
	tv := b.buildExpr(n.B)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(name), Src: tv, Bits: bits}, n.Tok)
	b.fn.Emit(Branch, &BranchOp{Target: endL}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: elseL}, n.Tok)
	ev := b.buildExpr(n.C)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(name), Src: ev, Bits: bits}, n.Tok)
	b.fn.Emit(Label, &LabelOp{ID: endL}, n.Tok)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r), Bits: bits})
	b.fn.Emit(Load, &LoadOp{Result: t, Src: NamedVal(name), Bits: bits}, n.Tok)
	return TempVal(t)
}

// addressOf produces the address of an expression's storage. Lvalues take
// AddressOf on their slot; prvalues materialize into a scratch slot first.
func (b *Builder) addressOf(r ast.NodeRef, v Value) Value {
	n := b.node(r)
	switch n.Kind {
	case ast.Ident, ast.QualifiedIdent:
		s := b.typeOf(r)
		if s.IsReference() {
			t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: s.StripRef().AddPointer(), Bits: 64})
			b.fn.Emit(Load, &LoadOp{Result: t, Src: NamedVal(n.Name), Bits: 64}, n.Tok)
			return TempVal(t)
		}
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: s.StripRef().AddPointer(), Bits: 64})
		b.fn.Emit(AddressOf, &UnaryOp{Result: t, Operand: NamedVal(n.Name)}, n.Tok)
		return TempVal(t)
	case ast.MemberExpr, ast.ArrowExpr:
		obj, offset := b.memberBase(r)
		t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r).StripRef().AddPointer(), Bits: 64})
		b.fn.Emit(ComputeAddress, &AddrOp{
			Result: t, Base: obj, Steps: []AddrStep{{Disp: int32(offset / 8)}},
		}, n.Tok)
		return TempVal(t)
	case ast.IndexExpr:
		return b.indexAddress(r)
	case ast.UnaryExpr:
		if ast.Op(n.IVal) == ast.OpDeref {
			return b.buildExpr(n.A)
		}
	}
	// Materialize a prvalue to a named slot.
	name := b.scratchName()
	bits := b.exprBits(r)
	b.fn.Emit(StackAlloc, &AllocOp{Name: name, Type: b.typeOf(r).StripRef(), Bits: bits}, n.Tok)
	b.fn.Emit(Store, &StoreOp{Dst: NamedVal(name), Src: v, Bits: bits}, n.Tok)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r).StripRef().AddPointer(), Bits: 64})
	b.fn.Emit(AddressOf, &UnaryOp{Result: t, Operand: NamedVal(name)}, n.Tok)
	return TempVal(t)
}

// memberBase resolves the object address and bit offset of a member
// access, walking base-class offsets recorded by the front end.
func (b *Builder) memberBase(r ast.NodeRef) (Value, uint32) {
	n := b.node(r)
	objSpec := b.typeOf(n.A).StripRef()
	var obj Value
	if n.Kind == ast.ArrowExpr {
		obj = b.buildExpr(n.A)
		objSpec = objSpec.Deref()
	} else {
		v := b.buildExpr(n.A)
		obj = b.addressOf(n.A, v)
	}

	cls := objSpec.Base
	owner := types.TypeIndex(n.IVal)
	offset := uint32(0)
	if owner != types.Invalid && owner != cls {
		offset += b.baseOffset(cls, owner)
		cls = owner
	}
	if si := b.reg.Get(cls).Struct; si != nil {
		if m := si.FindMember(n.Name); m != nil {
			offset += m.OffsetBits
		}
	}
	return obj, offset
}

// baseOffset returns the bit offset of base inside derived.
func (b *Builder) baseOffset(derived, base types.TypeIndex) uint32 {
	si := b.reg.Get(derived).Struct
	if si == nil {
		return 0
	}
	for _, bs := range si.Bases {
		if bs.Type == base {
			return bs.OffsetBits
		}
		if inner := b.baseOffset(bs.Type, base); inner != 0 || bs.Type == base {
			return bs.OffsetBits + inner
		}
	}
	return 0
}

func (b *Builder) buildMemberLoad(r ast.NodeRef) Value {
	n := b.node(r)
	obj, offset := b.memberBase(r)
	bits := b.exprBits(r)
	t := b.fn.NewTemp(TempInfo{Category: LValue, Type: b.typeOf(r).StripRef(), Bits: bits})
	b.fn.Emit(MemberAccess, &MemberOp{Result: t, Object: obj, Offset: offset, Bits: bits}, n.Tok)
	return TempVal(t)
}

// indexAddress computes &a[i] with power-of-two scales folded into the
// address step.
func (b *Builder) indexAddress(r ast.NodeRef) Value {
	n := b.node(r)
	baseSpec := b.typeOf(n.A).StripRef()
	var base Value
	elemBits := uint32(32)
	switch {
	case baseSpec.IsArray():
		v := b.buildExpr(n.A)
		base = b.addressOf(n.A, v)
		elem := baseSpec
		elem.Arrays = elem.Arrays[1:]
		elemBits = b.reg.SizeBits(elem)
	case baseSpec.IsPointer():
		base = b.buildExpr(n.A)
		elemBits = b.reg.SizeBits(baseSpec.Deref())
	default:
		v := b.buildExpr(n.A)
		base = b.addressOf(n.A, v)
	}
	idx := b.buildExpr(n.B)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r).StripRef().AddPointer(), Bits: 64})
	b.fn.Emit(ComputeAddress, &AddrOp{
		Result: t, Base: base,
		Steps: []AddrStep{{Index: idx, Scale: elemBits / 8}},
	}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildIndex(r ast.NodeRef) Value {
	n := b.node(r)
	addr := b.indexAddress(r)
	bits := b.exprBits(r)
	t := b.fn.NewTemp(TempInfo{Category: LValue, Type: b.typeOf(r).StripRef(), Bits: bits})
	b.fn.Emit(Dereference, &UnaryOp{Result: t, Operand: addr, Bits: bits}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildCast(r ast.NodeRef) Value {
	n := b.node(r)
	v := b.buildExpr(n.B)
	from := b.typeOf(n.B).StripRef()
	to := b.typeOf(r).StripRef()
	fromBits, toBits := b.reg.SizeBits(from), b.reg.SizeBits(to)
	if from.IsPointer() || from.IsReference() {
		fromBits = 64
	}
	if to.IsPointer() || to.IsReference() {
		toBits = 64
	}

	fFloat, tFloat := b.reg.IsFloating(from), b.reg.IsFloating(to)
	var opc Opcode
	switch {
	case fFloat && tFloat:
		if fromBits == toBits {
			return v
		}
		opc = FloatToFloat
	case fFloat && !tFloat:
		opc = FloatToInt
	case !fFloat && tFloat:
		opc = IntToFloat
	case toBits > fromBits:
		if b.reg.IsUnsigned(from) {
			opc = ZeroExtend
		} else {
			opc = SignExtend
		}
	case toBits < fromBits:
		opc = Truncate
	default:
		return v
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: to, Bits: toBits})
	b.fn.Emit(opc, &UnaryOp{Result: t, Operand: v, Bits: toBits, FromBits: fromBits}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildDynamicCast(r ast.NodeRef) Value {
	n := b.node(r)
	v := b.buildExpr(n.B)
	to := b.typeOf(r)
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: to, Bits: 64})
	sym := b.reg.Get(to.StripRef().Deref().Base).Name
	b.fn.Emit(DynamicCast, &RttiOp{Result: t, Operand: v, TypeSym: sym, TargetType: to}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildTypeid(r ast.NodeRef) Value {
	n := b.node(r)
	var operand Value
	var sym intern.Handle
	if s, ok := b.reg.ExprType(n.A); ok {
		sym = b.reg.Get(s.StripRef().Base).Name
	}
	if b.node(n.A).Kind != ast.TypeSpec && b.node(n.A).Kind != ast.TemplateIdSpec {
		operand = b.buildExpr(n.A)
	}
	t := b.fn.NewTemp(TempInfo{Category: LValue, Type: b.typeOf(r), Bits: 64})
	b.fn.Emit(Typeid, &RttiOp{Result: t, Operand: operand, TypeSym: sym}, n.Tok)
	return TempVal(t)
}

func (b *Builder) buildNew(r ast.NodeRef) Value {
	n := b.node(r)
	spec := b.typeOf(r).Deref() // pointee
	size := b.reg.SizeBits(spec) / 8
	if size == 0 {
		size = 1
	}
	t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: b.typeOf(r), Bits: 64})

	switch n.Kind {
	case ast.NewArrayExpr:
		count := b.buildExpr(n.B)
		b.fn.Emit(HeapAllocArray, &HeapOp{Result: t, Size: IntVal(int64(size)), Count: count, Type: spec}, n.Tok)
	case ast.PlacementNewExpr:
		addr := b.buildExpr(n.C)
		b.fn.Emit(PlacementNew, &HeapOp{Result: t, Size: IntVal(int64(size)), Addr: addr, Type: spec}, n.Tok)
	default:
		b.fn.Emit(HeapAlloc, &HeapOp{Result: t, Size: IntVal(int64(size)), Type: spec}, n.Tok)
	}

	// Constructor on the fresh storage.
	var args []Value
	var argBits []uint32
	for _, k := range n.Kids {
		v := b.buildExpr(k)
		args = append(args, v)
		argBits = append(argBits, b.exprBits(k))
	}
	if ctor := b.findCtor(spec.Base, len(args)); ctor != intern.Invalid {
		b.fn.Emit(ConstructorCall, &CtorOp{Object: TempVal(t), Mangled: ctor, Args: args, ArgBits: argBits}, n.Tok)
	} else if len(args) == 1 {
		b.fn.Emit(DereferenceStore, &StoreOp{Dst: TempVal(t), Src: args[0], Bits: b.reg.SizeBits(spec)}, n.Tok)
	}
	return TempVal(t)
}

func (b *Builder) buildDelete(r ast.NodeRef) Value {
	n := b.node(r)
	v := b.buildExpr(n.A)
	spec := b.typeOf(n.A).StripRef()
	if spec.IsPointer() {
		pointee := spec.Deref()
		if si := b.reg.Get(pointee.Base).Struct; si != nil {
			for i := range si.Methods {
				if si.Methods[i].IsDtor {
					b.fn.Emit(DestructorCall, &DtorOp{Object: v, Mangled: si.Methods[i].Mangled}, n.Tok)
					break
				}
			}
		}
	}
	if n.Kind == ast.DeleteArrayExpr {
		b.fn.Emit(HeapFreeArray, &HeapOp{Addr: v}, n.Tok)
	} else {
		b.fn.Emit(HeapFree, &HeapOp{Addr: v}, n.Tok)
	}
	return Value{}
}

func (b *Builder) buildLambda(r ast.NodeRef) Value {
	n := b.node(r)
	closure := types.TypeIndex(n.IVal)
	spec := types.Spec(closure)
	name := b.scratchName()
	bits := b.reg.SizeBits(spec)
	if bits == 0 {
		bits = 8
	}
	b.fn.Emit(StackAlloc, &AllocOp{Name: name, Type: spec, Bits: bits}, n.Tok)

	// Capture initialization: values copy in, references store pointers.
	si := b.reg.Get(closure).Struct
	if si != nil {
		for _, m := range si.Members {
			src := NamedVal(m.Name)
			if m.Spec.IsPointer() {
				t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: m.Spec, Bits: 64})
				b.fn.Emit(AddressOf, &UnaryOp{Result: t, Operand: src}, n.Tok)
				b.fn.Emit(MemberStore, &MemberOp{Object: NamedVal(name), Src: TempVal(t), Offset: m.OffsetBits, Bits: 64}, n.Tok)
				continue
			}
			mbits := b.reg.SizeBits(m.Spec)
			t := b.fn.NewTemp(TempInfo{Category: PRValue, Type: m.Spec, Bits: mbits})
			b.fn.Emit(Load, &LoadOp{Result: t, Src: src, Bits: mbits}, n.Tok)
			b.fn.Emit(MemberStore, &MemberOp{Object: NamedVal(name), Src: TempVal(t), Offset: m.OffsetBits, Bits: mbits}, n.Tok)
		}
	}
	return NamedVal(name)
}
