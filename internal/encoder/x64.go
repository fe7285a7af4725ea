package encoder

// Raw x86-64 emission helpers. Operands live in frame slots; the working
// registers are RAX/RCX/RDX (and XMM0/XMM1 for floats). REX prefixes are
// computed from register extension bits.

// General-purpose register numbers.
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
)

func (e *Encoder) byteOut(bs ...byte) { e.code = append(e.code, bs...) }

func (e *Encoder) u32(v uint32) {
	e.code = append(e.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (e *Encoder) u64(v uint64) {
	e.u32(uint32(v))
	e.u32(uint32(v >> 32))
}

// rex computes a REX prefix. w: 64-bit operand; r/x/b extend the reg,
// index, and rm fields.
func rex(w bool, reg, rm int) byte {
	b := byte(0x40)
	if w {
		b |= 8
	}
	if reg >= 8 {
		b |= 4
	}
	if rm >= 8 {
		b |= 1
	}
	return b
}

// modRM with rbp-relative disp32 addressing: mod=10, rm=101.
func (e *Encoder) modRMDisp32(reg int, disp int32) {
	e.byteOut(0x80 | byte(reg&7)<<3 | 5)
	e.u32(uint32(disp))
}

// pushReg emits push r64.
func (e *Encoder) pushReg(reg int) {
	if reg >= 8 {
		e.byteOut(0x41)
	}
	e.byteOut(0x50 + byte(reg&7))
}

func (e *Encoder) popReg(reg int) {
	if reg >= 8 {
		e.byteOut(0x41)
	}
	e.byteOut(0x58 + byte(reg&7))
}

// movRegImm64 emits mov r64, imm64.
func (e *Encoder) movRegImm64(reg int, v uint64) {
	e.byteOut(rex(true, 0, reg), 0xB8+byte(reg&7))
	e.u64(v)
}

// movRegImm32 emits mov r32, imm32 (zero-extends).
func (e *Encoder) movRegImm32(reg int, v uint32) {
	if reg >= 8 {
		e.byteOut(0x41)
	}
	e.byteOut(0xB8 + byte(reg&7))
	e.u32(v)
}

// movRegFrame loads [rbp+disp] into reg, width by bits.
func (e *Encoder) movRegFrame(reg int, disp int32, bits uint32) {
	switch {
	case bits == 8:
		e.byteOut(rex(false, reg, RBP), 0x0F, 0xB6) // movzx r32, byte
		e.modRMDisp32(reg, disp)
	case bits == 16:
		e.byteOut(rex(false, reg, RBP), 0x0F, 0xB7) // movzx r32, word
		e.modRMDisp32(reg, disp)
	case bits == 32:
		if reg >= 8 {
			e.byteOut(0x44)
		}
		e.byteOut(0x8B)
		e.modRMDisp32(reg, disp)
	default:
		e.byteOut(rex(true, reg, RBP), 0x8B)
		e.modRMDisp32(reg, disp)
	}
}

// movFrameReg stores reg into [rbp+disp], width by bits.
func (e *Encoder) movFrameReg(disp int32, reg int, bits uint32) {
	switch {
	case bits == 8:
		if reg >= 8 {
			e.byteOut(0x44)
		} else if reg >= 4 {
			e.byteOut(0x40) // spl/bpl/sil/dil need a REX
		}
		e.byteOut(0x88)
		e.modRMDisp32(reg, disp)
	case bits == 16:
		e.byteOut(0x66)
		if reg >= 8 {
			e.byteOut(0x44)
		}
		e.byteOut(0x89)
		e.modRMDisp32(reg, disp)
	case bits == 32:
		if reg >= 8 {
			e.byteOut(0x44)
		}
		e.byteOut(0x89)
		e.modRMDisp32(reg, disp)
	default:
		e.byteOut(rex(true, reg, RBP), 0x89)
		e.modRMDisp32(reg, disp)
	}
}

// leaRegFrame emits lea reg, [rbp+disp].
func (e *Encoder) leaRegFrame(reg int, disp int32) {
	e.byteOut(rex(true, reg, RBP), 0x8D)
	e.modRMDisp32(reg, disp)
}

// aluRegReg emits a classic ALU op r64, r64 (opcode is the /r form).
func (e *Encoder) aluRegReg(opcode byte, dst, src int) {
	e.byteOut(rex(true, src, dst), opcode, 0xC0|byte(src&7)<<3|byte(dst&7))
}

func (e *Encoder) addRegReg(dst, src int)  { e.aluRegReg(0x01, dst, src) }
func (e *Encoder) subRegReg(dst, src int)  { e.aluRegReg(0x29, dst, src) }
func (e *Encoder) andRegReg(dst, src int)  { e.aluRegReg(0x21, dst, src) }
func (e *Encoder) orRegReg(dst, src int)   { e.aluRegReg(0x09, dst, src) }
func (e *Encoder) xorRegReg(dst, src int)  { e.aluRegReg(0x31, dst, src) }
func (e *Encoder) cmpRegReg(a, b int)      { e.aluRegReg(0x39, a, b) }
func (e *Encoder) testRegReg(a, b int)     { e.aluRegReg(0x85, a, b) }
func (e *Encoder) movRegReg(dst, src int)  { e.aluRegReg(0x89, dst, src) }

// imulRegReg emits imul dst, src.
func (e *Encoder) imulRegReg(dst, src int) {
	e.byteOut(rex(true, dst, src), 0x0F, 0xAF, 0xC0|byte(dst&7)<<3|byte(src&7))
}

// negReg emits neg r64.
func (e *Encoder) negReg(reg int) {
	e.byteOut(rex(true, 0, reg), 0xF7, 0xC0|0x18|byte(reg&7))
}

// notReg emits not r64.
func (e *Encoder) notReg(reg int) {
	e.byteOut(rex(true, 0, reg), 0xF7, 0xC0|0x10|byte(reg&7))
}

// cqo sign-extends RAX into RDX:RAX.
func (e *Encoder) cqo() { e.byteOut(0x48, 0x99) }

// idivReg / divReg divide RDX:RAX by reg.
func (e *Encoder) idivReg(reg int) {
	e.byteOut(rex(true, 0, reg), 0xF7, 0xC0|0x38|byte(reg&7))
}

func (e *Encoder) divReg(reg int) {
	e.byteOut(rex(true, 0, reg), 0xF7, 0xC0|0x30|byte(reg&7))
}

// shiftCl emits shl/shr/sar r64, cl. sub: 4=shl, 5=shr, 7=sar.
func (e *Encoder) shiftCl(sub byte, reg int) {
	e.byteOut(rex(true, 0, reg), 0xD3, 0xC0|sub<<3|byte(reg&7))
}

// shlImm emits shl r64, imm8 — the power-of-two scaling path.
func (e *Encoder) shlImm(reg int, imm byte) {
	e.byteOut(rex(true, 0, reg), 0xC1, 0xC0|4<<3|byte(reg&7), imm)
}

// setcc emits setcc al-family into reg's low byte then zero-extends.
func (e *Encoder) setcc(cc byte, reg int) {
	if reg >= 4 {
		e.byteOut(0x40)
	}
	e.byteOut(0x0F, 0x90+cc, 0xC0|byte(reg&7))
	// movzx reg, reg8
	e.byteOut(rex(true, reg, reg), 0x0F, 0xB6, 0xC0|byte(reg&7)<<3|byte(reg&7))
}

// Condition codes (cc nibble of 0F 9x / 0F 8x).
const (
	ccE  = 0x4
	ccNE = 0x5
	ccL  = 0xC
	ccLE = 0xE
	ccG  = 0xF
	ccGE = 0xD
	ccB  = 0x2
	ccBE = 0x6
	ccA  = 0x7
	ccAE = 0x3
	ccP  = 0xA
)

// movRegMem loads [reg2] into reg, width by bits.
func (e *Encoder) movRegMem(reg, addr int, bits uint32) {
	switch bits {
	case 8:
		e.byteOut(rex(false, reg, addr), 0x0F, 0xB6, byte(reg&7)<<3|byte(addr&7))
	case 16:
		e.byteOut(rex(false, reg, addr), 0x0F, 0xB7, byte(reg&7)<<3|byte(addr&7))
	case 32:
		if reg >= 8 || addr >= 8 {
			e.byteOut(rex(false, reg, addr))
		}
		e.byteOut(0x8B, byte(reg&7)<<3|byte(addr&7))
	default:
		e.byteOut(rex(true, reg, addr), 0x8B, byte(reg&7)<<3|byte(addr&7))
	}
}

// movMemReg stores reg into [addr], width by bits.
func (e *Encoder) movMemReg(addr, reg int, bits uint32) {
	switch bits {
	case 8:
		e.byteOut(rex(false, reg, addr), 0x88, byte(reg&7)<<3|byte(addr&7))
	case 16:
		e.byteOut(0x66, rex(false, reg, addr), 0x89, byte(reg&7)<<3|byte(addr&7))
	case 32:
		if reg >= 8 || addr >= 8 {
			e.byteOut(rex(false, reg, addr))
		}
		e.byteOut(0x89, byte(reg&7)<<3|byte(addr&7))
	default:
		e.byteOut(rex(true, reg, addr), 0x89, byte(reg&7)<<3|byte(addr&7))
	}
}

// movsxd sign-extends a 32-bit value in-place.
func (e *Encoder) movsxdReg(dst, src int) {
	e.byteOut(rex(true, dst, src), 0x63, 0xC0|byte(dst&7)<<3|byte(src&7))
}

// SSE2 scalar double ops on xmm0, xmm1.
func (e *Encoder) sseOp(prefix, opcode byte, dst, src int) {
	e.byteOut(prefix, 0x0F, opcode, 0xC0|byte(dst&7)<<3|byte(src&7))
}

func (e *Encoder) addsd() { e.sseOp(0xF2, 0x58, 0, 1) }
func (e *Encoder) subsd() { e.sseOp(0xF2, 0x5C, 0, 1) }
func (e *Encoder) mulsd() { e.sseOp(0xF2, 0x59, 0, 1) }
func (e *Encoder) divsd() { e.sseOp(0xF2, 0x5E, 0, 1) }

// ucomisd compares xmm0, xmm1.
func (e *Encoder) ucomisd() { e.byteOut(0x66, 0x0F, 0x2E, 0xC1) }

// movqXmmReg moves a GP register into an xmm register and back.
func (e *Encoder) movqXmmReg(xmm, reg int) {
	e.byteOut(0x66, rex(true, xmm, reg), 0x0F, 0x6E, 0xC0|byte(xmm&7)<<3|byte(reg&7))
}

func (e *Encoder) movqRegXmm(reg, xmm int) {
	e.byteOut(0x66, rex(true, xmm, reg), 0x0F, 0x7E, 0xC0|byte(xmm&7)<<3|byte(reg&7))
}

// cvtsi2sd converts RAX to xmm0; cvttsd2si converts xmm0 to RAX.
func (e *Encoder) cvtsi2sd() { e.byteOut(0xF2, 0x48, 0x0F, 0x2A, 0xC0) }
func (e *Encoder) cvttsd2si() { e.byteOut(0xF2, 0x48, 0x0F, 0x2C, 0xC0) }

// cvtsd2ss / cvtss2sd change float width in xmm0.
func (e *Encoder) cvtsd2ss() { e.byteOut(0xF2, 0x0F, 0x5A, 0xC0) }
func (e *Encoder) cvtss2sd() { e.byteOut(0xF3, 0x0F, 0x5A, 0xC0) }

// callRel32 emits call rel32 with a zero displacement to be relocated.
func (e *Encoder) callRel32() int {
	e.byteOut(0xE8)
	site := len(e.code)
	e.u32(0)
	return site
}

// callReg emits call r64.
func (e *Encoder) callReg(reg int) {
	if reg >= 8 {
		e.byteOut(0x41)
	}
	e.byteOut(0xFF, 0xC0|0x10|byte(reg&7))
}

// jmpRel32 emits jmp rel32, returning the patch site.
func (e *Encoder) jmpRel32() int {
	e.byteOut(0xE9)
	site := len(e.code)
	e.u32(0)
	return site
}

// jccRel32 emits jcc rel32, returning the patch site.
func (e *Encoder) jccRel32(cc byte) int {
	e.byteOut(0x0F, 0x80+cc)
	site := len(e.code)
	e.u32(0)
	return site
}

// ret emits a near return.
func (e *Encoder) ret() { e.byteOut(0xC3) }

// subRspImm reserves stack space.
func (e *Encoder) subRspImm(n uint32) {
	e.byteOut(0x48, 0x81, 0xEC)
	e.u32(n)
}

func (e *Encoder) addRspImm(n uint32) {
	e.byteOut(0x48, 0x81, 0xC4)
	e.u32(n)
}

// leaRbpRsp emits lea rbp, [rsp+k].
func (e *Encoder) leaRbpRsp(k uint32) {
	e.byteOut(0x48, 0x8D, 0xAC, 0x24)
	e.u32(k)
}

// movRbpRsp emits mov rbp, rsp.
func (e *Encoder) movRbpRsp() { e.byteOut(0x48, 0x89, 0xE5) }

// leaRipReg emits lea reg, [rip+disp32] with the displacement to be
// relocated; returns the patch site.
func (e *Encoder) leaRipReg(reg int) int {
	e.byteOut(rex(true, reg, 0), 0x8D, byte(reg&7)<<3|5)
	site := len(e.code)
	e.u32(0)
	return site
}

// movRegRipMem emits mov reg, [rip+disp32]; returns the patch site.
func (e *Encoder) movRegRipMem(reg int) int {
	e.byteOut(rex(true, reg, 0), 0x8B, byte(reg&7)<<3|5)
	site := len(e.code)
	e.u32(0)
	return site
}
