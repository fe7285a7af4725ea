package encoder

import (
	"github.com/cwbudde/go-cxx/internal/ir"
)

// EH opcode lowering: the encoder writes the state-variable updates and
// the call sequences, and records region geometry (code offsets of try
// ranges, handlers, funclets) for the metadata builder.

func (e *Encoder) encodeEH(in *ir.Instruction) {
	switch in.Op {
	case ir.TryBegin:
		pl := in.Payload.(*ir.EhOp)
		region := &TryRegion{
			Kind:     RegionCxxTry,
			BeginOff: uint32(len(e.code)),
			Depth:    len(e.tryStack),
		}
		_ = pl
		e.tryStack = append(e.tryStack, region)
		// The state variable tracks the active try; the metadata builder
		// rewrites the placeholder once states are assigned.
		e.storeState(int32(len(e.out.Tries) + len(e.tryStack)))

	case ir.TryEnd:
		region := e.popTry()
		region.EndOff = uint32(len(e.code))
		e.out.Tries = append(e.out.Tries, *region)
		// Restore the enclosing state.
		if len(e.tryStack) > 0 {
			e.storeState(int32(len(e.tryStack)))
		} else {
			e.storeState(-1)
		}

	case ir.CatchBegin:
		pl := in.Payload.(*ir.EhOp)
		if len(e.out.Tries) == 0 {
			return
		}
		region := &e.out.Tries[len(e.out.Tries)-1]
		ci := CatchInfo{
			TypeSym:  pl.TypeSym,
			CatchAll: pl.CatchAll,
			BeginOff: uint32(len(e.code)),
		}
		if pl.ExcType.Ref == 1 { // LValueRef
			ci.ByRef = true
		}
		if pl.ExcType.Ref == 2 {
			ci.ByRValue = true
		}
		ci.Const = pl.ExcType.Const
		if pl.ExcVar != ir.NoTemp {
			ci.ObjDisp = e.tempSlot(pl.ExcVar)
		}
		region.Catches = append(region.Catches, ci)

	case ir.CatchEnd:
		if len(e.out.Tries) == 0 {
			return
		}
		region := &e.out.Tries[len(e.out.Tries)-1]
		if len(region.Catches) > 0 {
			region.Catches[len(region.Catches)-1].EndOff = uint32(len(e.code))
		}

	case ir.Throw:
		pl := in.Payload.(*ir.EhOp)
		// Materialize the thrown object, then invoke the runtime with its
		// address and the throw-info blob.
		e.loadValue(pl.Operand, RAX)
		e.movFrameReg(e.throwSlot(), RAX, 64)
		regs := e.argRegs()
		e.leaRegFrame(regs[0], e.throwSlot())
		if e.target == Win64 {
			site := e.leaRipReg(regs[1])
			if pl.TypeSym != 0 {
				e.reloc(site, pl.TypeSym, RelocDataRel32, -4)
			}
			e.callSymbol(e.table.Intern("_CxxThrowException"))
		} else {
			site := e.leaRipReg(regs[1])
			if pl.TypeSym != 0 {
				e.reloc(site, pl.TypeSym, RelocDataRel32, -4)
			}
			e.movRegImm32(regs[2], 0)
			e.callSymbol(e.table.Intern("__cxa_throw"))
		}

	case ir.Rethrow:
		if e.target == Win64 {
			e.movRegImm32(e.argRegs()[0], 0)
			e.movRegImm32(e.argRegs()[1], 0)
			e.callSymbol(e.table.Intern("_CxxThrowException"))
		} else {
			e.callSymbol(e.table.Intern("__cxa_rethrow"))
		}

	case ir.SehTryBegin:
		region := &TryRegion{
			Kind:     RegionSehExcept,
			BeginOff: uint32(len(e.code)),
			Depth:    len(e.tryStack),
		}
		e.tryStack = append(e.tryStack, region)

	case ir.SehTryEnd:
		region := e.popTry()
		region.EndOff = uint32(len(e.code))
		e.defineLabel(-(1000 + region.Depth)) // __leave lands here
		e.out.Tries = append(e.out.Tries, *region)

	case ir.SehExceptBegin:
		pl := in.Payload.(*ir.EhOp)
		if len(e.out.Tries) == 0 {
			return
		}
		region := &e.out.Tries[len(e.out.Tries)-1]
		region.Kind = RegionSehExcept
		region.HandlerOff = uint32(len(e.code))
		if pl.FilterConst {
			region.HasConst = true
			region.FilterConst = pl.Filter.Imm
		}

	case ir.SehExceptEnd:
		if len(e.out.Tries) > 0 {
			e.out.Tries[len(e.out.Tries)-1].HandlerEnd = uint32(len(e.code))
		}

	case ir.SehFinallyBegin:
		pl := in.Payload.(*ir.EhOp)
		// The funclet body follows inline; normal flow jumps around it and
		// reaches it only through SehFinallyCall.
		e.defineLabel(pl.FuncletID)
		if len(e.out.Tries) > 0 {
			region := &e.out.Tries[len(e.out.Tries)-1]
			region.Kind = RegionSehFinally
			region.HandlerOff = uint32(len(e.code))
		}

	case ir.SehFinallyEnd:
		e.ret() // funclet returns to its caller (unwinder or normal flow)
		if len(e.out.Tries) > 0 {
			region := &e.out.Tries[len(e.out.Tries)-1]
			region.HandlerEnd = uint32(len(e.code))
			e.out.Funclets = append(e.out.Funclets, *region)
		}

	case ir.SehFinallyCall:
		pl := in.Payload.(*ir.EhOp)
		e.callLabel(pl.FuncletID)

	case ir.SehFilterBegin:
		pl := in.Payload.(*ir.EhOp)
		e.defineLabel(pl.FuncletID)
		if len(e.out.Tries) > 0 {
			e.out.Tries[len(e.out.Tries)-1].FilterOff = uint32(len(e.code))
		}

	case ir.SehFilterEnd:
		pl := in.Payload.(*ir.EhOp)
		// Filter result returns in EAX.
		e.loadValue(pl.Filter, RAX)
		e.ret()

	case ir.SehLeave:
		// Jump to the end of the innermost __try.
		if len(e.tryStack) > 0 {
			// The region's end is not yet defined; leave through a patch
			// against a synthetic label carried in Depth.
			e.jumpToTryEnd()
		}

	case ir.SehGetExceptionCode, ir.SehGetExceptionCodeBody:
		pl := in.Payload.(*ir.EhOp)
		// The filter saved the code in a parent-frame slot.
		e.movRegFrame(RAX, e.excCodeSlot(), 32)
		e.storeTemp(pl.Result, RAX)

	case ir.SehGetExceptionInfo:
		pl := in.Payload.(*ir.EhOp)
		// EXCEPTION_POINTERS* arrives in the filter's RCX; it was spilled
		// to the parent frame on filter entry.
		e.movRegFrame(RAX, e.excInfoSlot(), 64)
		e.storeTemp(pl.Result, RAX)

	case ir.SehSaveExceptionCode:
		// Filter prologue path: RCX holds EXCEPTION_POINTERS*; the record
		// pointer is its first field and ExceptionCode the record's first
		// dword.
		e.movRegMem(RAX, RCX, 64)
		e.movRegMem(RAX, RAX, 32)
		e.movFrameReg(e.excCodeSlot(), RAX, 32)

	case ir.SehAbnormalTermination:
		pl := in.Payload.(*ir.EhOp)
		// Normal-flow funclet invocations pass 0; the unwinder passes 1.
		e.movRegImm32(RAX, 0)
		e.storeTemp(pl.Result, RAX)
	}
}

func (e *Encoder) popTry() *TryRegion {
	r := e.tryStack[len(e.tryStack)-1]
	e.tryStack = e.tryStack[:len(e.tryStack)-1]
	return r
}

// storeState writes the EH state variable at [rbp-8].
func (e *Encoder) storeState(state int32) {
	if !e.fn.Decl.HasEH {
		return
	}
	e.movRegImm32(RAX, uint32(state))
	e.movFrameReg(-8, RAX, 32)
}

// Slots below the state variable hold the saved exception code and info
// pointer for SEH intrinsics.
func (e *Encoder) excCodeSlot() int32 { return -16 }
func (e *Encoder) excInfoSlot() int32 { return -24 }

// throwSlot materializes thrown scalars.
func (e *Encoder) throwSlot() int32 { return -32 }

// jumpToTryEnd targets the innermost open __try's end via a pending label
// recorded on the region.
func (e *Encoder) jumpToTryEnd() {
	region := e.tryStack[len(e.tryStack)-1]
	if region.Depth >= 0 {
		label := -(1000 + region.Depth) // synthetic leave label per depth
		e.jumpTo(label)
	}
}
