package encoder

import (
	"math"

	"github.com/cwbudde/go-cxx/internal/ir"
)

func f64bits(f float64) uint64 { return math.Float64bits(f) }

// Runtime symbol names per target.
func (e *Encoder) runtimeSym(win, elf string) string {
	if e.target == Win64 {
		return win
	}
	return elf
}

// encodeInstr applies the fixed emission recipe of one IR opcode.
func (e *Encoder) encodeInstr(in *ir.Instruction) {
	switch in.Op {
	case ir.FunctionDecl, ir.Nop, ir.StackAlloc, ir.ScopeBegin, ir.ScopeEnd,
		ir.LoopBegin, ir.LoopEnd:
		// No bytes of their own.

	case ir.Label:
		pl := in.Payload.(*ir.LabelOp)
		e.defineLabel(pl.ID)

	case ir.Branch, ir.Break, ir.Continue:
		pl := in.Payload.(*ir.BranchOp)
		e.jumpTo(pl.Target)

	case ir.ConditionalBranch:
		pl := in.Payload.(*ir.BranchOp)
		e.loadValue(pl.Cond, RAX)
		e.testRegReg(RAX, RAX)
		if pl.IfZero {
			e.jccTo(ccE, pl.Target)
		} else {
			e.jccTo(ccNE, pl.Target)
		}

	case ir.Return:
		pl := in.Payload.(*ir.ReturnOp)
		if pl.Val.Kind != ir.ValNone {
			e.loadValue(pl.Val, RAX)
		}
		e.epilogue()

	case ir.Add, ir.Subtract, ir.Multiply, ir.BitwiseAnd, ir.BitwiseOr,
		ir.BitwiseXor:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		switch in.Op {
		case ir.Add:
			e.addRegReg(RAX, RCX)
		case ir.Subtract:
			e.subRegReg(RAX, RCX)
		case ir.Multiply:
			e.imulRegReg(RAX, RCX)
		case ir.BitwiseAnd:
			e.andRegReg(RAX, RCX)
		case ir.BitwiseOr:
			e.orRegReg(RAX, RCX)
		case ir.BitwiseXor:
			e.xorRegReg(RAX, RCX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.Divide, ir.Modulo:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		e.cqo()
		e.idivReg(RCX)
		if in.Op == ir.Modulo {
			e.storeTemp(pl.Result, RDX)
		} else {
			e.storeTemp(pl.Result, RAX)
		}

	case ir.UnsignedDivide, ir.UnsignedModulo:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		e.xorRegReg(RDX, RDX)
		e.divReg(RCX)
		if in.Op == ir.UnsignedModulo {
			e.storeTemp(pl.Result, RDX)
		} else {
			e.storeTemp(pl.Result, RAX)
		}

	case ir.ShiftLeft, ir.ShiftRight, ir.UnsignedShiftRight:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		switch in.Op {
		case ir.ShiftLeft:
			e.shiftCl(4, RAX)
		case ir.UnsignedShiftRight:
			e.shiftCl(5, RAX)
		default:
			e.shiftCl(7, RAX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.Equal, ir.NotEqual, ir.LessThan, ir.LessEqual, ir.GreaterThan,
		ir.GreaterEqual, ir.UnsignedLessThan, ir.UnsignedLessEqual,
		ir.UnsignedGreaterThan, ir.UnsignedGreaterEqual:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		e.cmpRegReg(RAX, RCX)
		e.setcc(ccOf(in.Op), RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.FloatAdd, ir.FloatSubtract, ir.FloatMultiply, ir.FloatDivide:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		e.movqXmmReg(0, RAX)
		e.movqXmmReg(1, RCX)
		switch in.Op {
		case ir.FloatAdd:
			e.addsd()
		case ir.FloatSubtract:
			e.subsd()
		case ir.FloatMultiply:
			e.mulsd()
		default:
			e.divsd()
		}
		e.movqRegXmm(RAX, 0)
		e.storeTemp(pl.Result, RAX)

	case ir.FloatEqual, ir.FloatNotEqual, ir.FloatLessThan, ir.FloatLessEqual,
		ir.FloatGreaterThan, ir.FloatGreaterEqual:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.loadValue(pl.R, RCX)
		e.movqXmmReg(0, RAX)
		e.movqXmmReg(1, RCX)
		e.ucomisd()
		e.setcc(floatCC(in.Op), RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.LogicalAnd, ir.LogicalOr:
		pl := in.Payload.(*ir.BinaryOp)
		e.loadValue(pl.L, RAX)
		e.testRegReg(RAX, RAX)
		e.setcc(ccNE, RAX)
		e.loadValue(pl.R, RCX)
		e.testRegReg(RCX, RCX)
		e.setcc(ccNE, RCX)
		if in.Op == ir.LogicalAnd {
			e.andRegReg(RAX, RCX)
		} else {
			e.orRegReg(RAX, RCX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.LogicalNot:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.testRegReg(RAX, RAX)
		e.setcc(ccE, RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.Negate:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.negReg(RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.BitwiseNot:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.notReg(RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.SignExtend:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		if pl.FromBits == 32 {
			e.movsxdReg(RAX, RAX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.ZeroExtend, ir.Truncate:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		if in.Op == ir.Truncate && pl.Bits < 64 {
			// Mask to the destination width.
			e.movRegImm64(RCX, uint64(1)<<pl.Bits-1)
			e.andRegReg(RAX, RCX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.IntToFloat:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.cvtsi2sd()
		e.movqRegXmm(RAX, 0)
		e.storeTemp(pl.Result, RAX)

	case ir.FloatToInt:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.movqXmmReg(0, RAX)
		e.cvttsd2si()
		e.storeTemp(pl.Result, RAX)

	case ir.FloatToFloat:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RAX)
		e.movqXmmReg(0, RAX)
		if pl.Bits == 32 {
			e.cvtsd2ss()
		} else {
			e.cvtss2sd()
		}
		e.movqRegXmm(RAX, 0)
		e.storeTemp(pl.Result, RAX)

	case ir.Store:
		pl := in.Payload.(*ir.StoreOp)
		e.loadValue(pl.Src, RAX)
		if pl.Dst.Kind == ir.ValNamed {
			e.movFrameReg(e.nameSlot(pl.Dst.Name), RAX, pl.Bits)
		} else {
			e.loadValue(pl.Dst, RCX)
			e.movMemReg(RCX, RAX, pl.Bits)
		}

	case ir.Load:
		pl := in.Payload.(*ir.LoadOp)
		if pl.Src.Kind == ir.ValNamed {
			e.movRegFrame(RAX, e.nameSlot(pl.Src.Name), pl.Bits)
		} else {
			e.loadValue(pl.Src, RCX)
			e.movRegMem(RAX, RCX, pl.Bits)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.Dereference:
		pl := in.Payload.(*ir.UnaryOp)
		e.loadValue(pl.Operand, RCX)
		e.movRegMem(RAX, RCX, pl.Bits)
		e.storeTemp(pl.Result, RAX)

	case ir.DereferenceStore:
		pl := in.Payload.(*ir.StoreOp)
		e.loadValue(pl.Dst, RCX)
		e.loadValue(pl.Src, RAX)
		e.movMemReg(RCX, RAX, pl.Bits)

	case ir.AddressOf:
		pl := in.Payload.(*ir.UnaryOp)
		if pl.Operand.Kind == ir.ValNamed {
			e.leaRegFrame(RAX, e.nameSlot(pl.Operand.Name))
		} else {
			e.loadValue(pl.Operand, RAX)
		}
		e.storeTemp(pl.Result, RAX)

	case ir.ComputeAddress:
		pl := in.Payload.(*ir.AddrOp)
		e.loadValue(pl.Base, RAX)
		for _, step := range pl.Steps {
			if step.Index.Kind != ir.ValNone {
				e.loadValue(step.Index, RCX)
				if step.Scale > 1 {
					if sh := pow2Shift(step.Scale); sh >= 0 {
						e.shlImm(RCX, byte(sh))
					} else {
						e.movRegImm32(RDX, step.Scale)
						e.imulRegReg(RCX, RDX)
					}
				}
				e.addRegReg(RAX, RCX)
			}
			if step.Disp != 0 {
				e.movRegImm32(RCX, uint32(step.Disp))
				e.addRegReg(RAX, RCX)
			}
			if step.PostLoad {
				e.movRegMem(RAX, RAX, 64)
			}
		}
		e.storeTemp(pl.Result, RAX)

	case ir.MemberAccess:
		pl := in.Payload.(*ir.MemberOp)
		e.loadValue(pl.Object, RCX)
		e.addDisp(RCX, int32(pl.Offset/8))
		e.movRegMem(RAX, RCX, pl.Bits)
		e.storeTemp(pl.Result, RAX)

	case ir.MemberStore:
		pl := in.Payload.(*ir.MemberOp)
		e.loadValue(pl.Object, RCX)
		e.addDisp(RCX, int32(pl.Offset/8))
		e.loadValue(pl.Src, RAX)
		e.movMemReg(RCX, RAX, pl.Bits)

	case ir.FunctionCall:
		pl := in.Payload.(*ir.CallOp)
		e.emitArgs(pl.Args)
		e.callSymbol(pl.Mangled)
		e.storeTemp(pl.Result, RAX)

	case ir.IndirectCall:
		pl := in.Payload.(*ir.IndirectCallOp)
		e.loadValue(pl.Target, R10)
		e.emitArgs(pl.Args)
		e.callReg(R10)
		e.storeTemp(pl.Result, RAX)

	case ir.VirtualCall:
		pl := in.Payload.(*ir.VirtualCallOp)
		e.emitArgs(pl.Args)
		// vptr is the object's first qword; the slot is an index into it.
		first := e.argRegs()[0]
		e.movRegMem(R10, first, 64)
		e.addDisp(R10, int32(pl.Slot*8))
		e.movRegMem(R10, R10, 64)
		e.callReg(R10)
		e.storeTemp(pl.Result, RAX)

	case ir.FunctionAddress:
		pl := in.Payload.(*ir.FuncAddrOp)
		site := e.leaRipReg(RAX)
		e.reloc(site, pl.Mangled, RelocDataRel32, -4)
		e.storeTemp(pl.Result, RAX)

	case ir.ConstructorCall:
		pl := in.Payload.(*ir.CtorOp)
		args := append([]ir.Value{pl.Object}, pl.Args...)
		e.emitArgs(args)
		e.callSymbol(pl.Mangled)

	case ir.DestructorCall:
		pl := in.Payload.(*ir.DtorOp)
		e.emitArgs([]ir.Value{pl.Object})
		e.callSymbol(pl.Mangled)

	case ir.HeapAlloc:
		pl := in.Payload.(*ir.HeapOp)
		e.emitArgs([]ir.Value{pl.Size})
		e.callSymbol(e.table.Intern(e.runtimeSym("??2@YAPEAX_K@Z", "_Znwm")))
		e.storeTemp(pl.Result, RAX)

	case ir.HeapAllocArray:
		pl := in.Payload.(*ir.HeapOp)
		e.loadValue(pl.Size, RAX)
		e.loadValue(pl.Count, RCX)
		e.imulRegReg(RAX, RCX)
		e.movRegReg(e.argRegs()[0], RAX)
		e.callSymbol(e.table.Intern(e.runtimeSym("??_U@YAPEAX_K@Z", "_Znam")))
		e.storeTemp(pl.Result, RAX)

	case ir.HeapFree:
		pl := in.Payload.(*ir.HeapOp)
		e.emitArgs([]ir.Value{pl.Addr})
		e.callSymbol(e.table.Intern(e.runtimeSym("??3@YAXPEAX@Z", "_ZdlPv")))

	case ir.HeapFreeArray:
		pl := in.Payload.(*ir.HeapOp)
		e.emitArgs([]ir.Value{pl.Addr})
		e.callSymbol(e.table.Intern(e.runtimeSym("??_V@YAXPEAX@Z", "_ZdaPv")))

	case ir.PlacementNew:
		pl := in.Payload.(*ir.HeapOp)
		e.loadValue(pl.Addr, RAX)
		e.storeTemp(pl.Result, RAX)

	case ir.Typeid:
		pl := in.Payload.(*ir.RttiOp)
		site := e.leaRipReg(RAX)
		e.reloc(site, pl.TypeSym, RelocDataRel32, -4)
		e.storeTemp(pl.Result, RAX)

	case ir.DynamicCast:
		pl := in.Payload.(*ir.RttiOp)
		e.emitArgs([]ir.Value{pl.Operand})
		e.callSymbol(e.table.Intern(e.runtimeSym("__RTDynamicCast", "__dynamic_cast")))
		e.storeTemp(pl.Result, RAX)

	case ir.GlobalVariableDecl:
		// Handled by the object writer from the module's global list.

	case ir.GlobalLoad:
		pl := in.Payload.(*ir.GlobalOp)
		site := e.movRegRipMem(RAX)
		e.reloc(site, pl.Name, RelocDataRel32, -4)
		e.storeTemp(pl.Result, RAX)

	case ir.GlobalStore:
		pl := in.Payload.(*ir.GlobalOp)
		e.loadValue(pl.Src, RAX)
		site := e.leaRipReg(RCX)
		e.reloc(site, pl.Name, RelocDataRel32, -4)
		e.movMemReg(RCX, RAX, pl.Bits)

	case ir.StringLiteral:
		pl := in.Payload.(*ir.StringOp)
		site := e.leaRipReg(RAX)
		e.reloc(site, pl.Label, RelocDataRel32, -4)
		e.storeTemp(pl.Result, RAX)

	default:
		e.encodeEH(in)
	}
}

// addDisp adds a constant displacement to a register.
func (e *Encoder) addDisp(reg int, disp int32) {
	if disp == 0 {
		return
	}
	// add r64, imm32
	e.byteOut(rex(true, 0, reg), 0x81, 0xC0|byte(reg&7))
	e.u32(uint32(disp))
}

// emitArgs places arguments per the calling convention: integer/pointer
// values in the argument registers, the rest on the stack above the
// shadow space.
func (e *Encoder) emitArgs(args []ir.Value) {
	regs := e.argRegs()
	for i, a := range args {
		if i < len(regs) {
			e.loadValue(a, regs[i])
			continue
		}
		e.loadValue(a, RAX)
		// mov [rsp + shadow + 8*(i-len)], rax
		off := e.shadowSpace() + uint32(8*(i-len(regs)))
		e.byteOut(0x48, 0x89, 0x84, 0x24)
		e.u32(off)
	}
}

func ccOf(op ir.Opcode) byte {
	switch op {
	case ir.Equal:
		return ccE
	case ir.NotEqual:
		return ccNE
	case ir.LessThan:
		return ccL
	case ir.LessEqual:
		return ccLE
	case ir.GreaterThan:
		return ccG
	case ir.GreaterEqual:
		return ccGE
	case ir.UnsignedLessThan:
		return ccB
	case ir.UnsignedLessEqual:
		return ccBE
	case ir.UnsignedGreaterThan:
		return ccA
	case ir.UnsignedGreaterEqual:
		return ccAE
	}
	return ccE
}

func floatCC(op ir.Opcode) byte {
	switch op {
	case ir.FloatEqual:
		return ccE
	case ir.FloatNotEqual:
		return ccNE
	case ir.FloatLessThan:
		return ccB
	case ir.FloatLessEqual:
		return ccBE
	case ir.FloatGreaterThan:
		return ccA
	case ir.FloatGreaterEqual:
		return ccAE
	}
	return ccE
}

func pow2Shift(v uint32) int {
	for s := 0; s < 32; s++ {
		if v == 1<<s {
			return s
		}
	}
	return -1
}
