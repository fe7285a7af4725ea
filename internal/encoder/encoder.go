// Package encoder lowers IR to x86-64 machine code in a single linear
// pass. There is no register allocator: every temporary and named local
// owns a frame slot; values load into RAX/RCX/RDX (or XMM0/XMM1), are
// operated on, and store back. Labels patch forward references when they
// are defined; calls and data references record relocations against
// symbol names.
package encoder

import (
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/cwbudde/go-cxx/internal/token"
)

// Target selects the calling convention and runtime symbol set.
type Target uint8

const (
	Win64 Target = iota
	SysV
)

// RelocKind abstracts over COFF and ELF relocation types; the object
// writer maps them.
type RelocKind uint8

const (
	RelocCallRel32 RelocKind = iota // REL32 / PC32 / PLT32
	RelocDataRel32                  // rip-relative data access
	RelocAddr64                     // 64-bit absolute pointer
	RelocImageRel                   // ADDR32NB (COFF image-relative)
)

// Reloc is one relocation site inside the emitted code.
type Reloc struct {
	Offset uint32
	Symbol intern.Handle
	Kind   RelocKind
	Addend int64
}

// LineEntry maps a code offset to a source location.
type LineEntry struct {
	Offset uint32
	File   uint16
	Line   uint32
}

// RegionKind classifies an EH region.
type RegionKind uint8

const (
	RegionCxxTry RegionKind = iota
	RegionSehExcept
	RegionSehFinally
)

// CatchInfo is one catch handler attached to a C++ try region.
type CatchInfo struct {
	TypeSym  intern.Handle
	CatchAll bool
	Const    bool
	ByRef    bool
	ByRValue bool
	BeginOff uint32
	EndOff   uint32
	ObjDisp  int32 // catch object frame offset from rbp
}

// TryRegion is one guarded range with its handler geometry.
type TryRegion struct {
	Kind        RegionKind
	BeginOff    uint32
	EndOff      uint32
	HandlerOff  uint32
	HandlerEnd  uint32
	FilterOff   uint32
	FilterConst int64
	HasConst    bool
	Depth       int
	Catches     []CatchInfo
}

// Encoded is the per-function output the object writer and EH metadata
// builder consume.
type Encoded struct {
	Name      intern.Handle
	Mangled   intern.Handle
	Code      []byte
	FrameSize uint32
	HasEH     bool
	PrologLen uint8
	Relocs    []Reloc
	Lines     []LineEntry
	Tries     []TryRegion
	// Funclet code ranges (finally bodies and filters) inside Code.
	Funclets []TryRegion
	// Frame slot offsets of named locals and parameters, for debug info.
	Slots map[intern.Handle]int32
}

type patch struct {
	site  int // displacement dword offset in code
	label int
}

// Encoder holds the per-function emission state.
type Encoder struct {
	target Target
	table  *intern.Table

	fn   *ir.Function
	code []byte
	out  *Encoded

	slotTemp  map[ir.Temp]int32
	slotName  map[intern.Handle]int32
	frameSize uint32

	labels  map[int]int
	pending []patch

	tryStack []*TryRegion
	lastLine uint32

	err *errors.CompilerError
}

// New creates an encoder for the given target.
func New(target Target, table *intern.Table) *Encoder {
	return &Encoder{target: target, table: table}
}

func (e *Encoder) fail(tok token.Token, kind errors.Kind, format string, args ...any) {
	if e.err == nil {
		e.err = errors.New(kind, tok, format, args...)
	}
}

// argRegs returns the integer argument registers of the target.
func (e *Encoder) argRegs() []int {
	if e.target == Win64 {
		return []int{RCX, RDX, R8, R9}
	}
	return []int{RDI, RSI, RDX, RCX, R8, R9}
}

func (e *Encoder) shadowSpace() uint32 {
	if e.target == Win64 {
		return 32
	}
	return 0
}

// Encode lowers one function.
func (e *Encoder) Encode(f *ir.Function) (*Encoded, *errors.CompilerError) {
	e.fn = f
	e.code = nil
	e.out = &Encoded{Name: f.Name, Mangled: f.Mangled, HasEH: f.Decl.HasEH}
	e.slotTemp = map[ir.Temp]int32{}
	e.slotName = map[intern.Handle]int32{}
	e.labels = map[int]int{}
	e.pending = nil
	e.tryStack = nil
	e.lastLine = 0
	e.err = nil

	e.layoutFrame()
	e.prologue()

	for i := range f.Instrs {
		in := &f.Instrs[i]
		e.lineNote(in.Tok)
		e.encodeInstr(in)
		if e.err != nil {
			return nil, e.err
		}
	}

	if len(e.pending) > 0 {
		e.fail(token.Token{}, errors.UnresolvedLabel,
			"%d unresolved label reference(s) at end of %s",
			len(e.pending), e.table.Lookup(f.Name))
		return nil, e.err
	}

	e.out.Code = e.code
	e.out.FrameSize = e.frameSize
	e.out.Slots = e.slotName
	return e.out, nil
}

// layoutFrame assigns every named local, spilled parameter, and temp a
// fixed [rbp+offset] slot. Assignment is by first use; every temp has a
// slot so spilling is trivial.
func (e *Encoder) layoutFrame() {
	offset := int32(0)
	if e.fn.Decl.HasEH {
		offset = -8 // state variable lives at [rbp-8]
	}
	alloc := func(bits uint32) int32 {
		size := int32((bits + 63) / 64 * 8)
		if size == 0 {
			size = 8
		}
		offset -= size
		return offset
	}
	for _, p := range e.fn.Decl.Params {
		e.slotName[p.Name] = alloc(64)
	}
	for i := range e.fn.Instrs {
		if a, ok := e.fn.Instrs[i].Payload.(*ir.AllocOp); ok {
			if _, seen := e.slotName[a.Name]; !seen {
				e.slotName[a.Name] = alloc(a.Bits)
			}
		}
	}
	for t := 1; t <= e.fn.TempCount(); t++ {
		e.slotTemp[ir.Temp(t)] = alloc(64)
	}
	raw := uint32(-offset) + e.shadowSpace() + 32 // scratch for call args
	e.frameSize = (raw + 15) / 16 * 16
}

func (e *Encoder) tempSlot(t ir.Temp) int32 {
	s, ok := e.slotTemp[t]
	if !ok {
		e.fail(token.Token{}, errors.IREncodingError, "undefined temp t%d", t)
	}
	return s
}

// prologue emits the frame establishment. C++ EH functions use the
// lea-rbp form so the unwinder can re-establish the frame from a funclet.
func (e *Encoder) prologue() {
	e.pushReg(RBP)
	if e.fn.Decl.HasEH {
		e.subRspImm(e.frameSize)
		e.leaRbpRsp(e.frameSize)
		e.out.PrologLen = 16
		// state = -2: no try entered yet.
		e.movRegImm64(RAX, 0xFFFFFFFFFFFFFFFE)
		e.movFrameReg(-8, RAX, 64)
	} else {
		e.movRbpRsp()
		e.subRspImm(e.frameSize)
		e.out.PrologLen = 11
	}
	e.spillParams()
}

func (e *Encoder) spillParams() {
	regs := e.argRegs()
	for i, p := range e.fn.Decl.Params {
		if i < len(regs) {
			e.movFrameReg(e.slotName[p.Name], regs[i], 64)
		}
	}
}

func (e *Encoder) epilogue() {
	if e.fn.Decl.HasEH {
		e.addRspImm(e.frameSize)
	} else {
		// mov rsp, rbp
		e.byteOut(0x48, 0x89, 0xEC)
	}
	e.popReg(RBP)
	e.ret()
}

// loadValue brings a value into reg.
func (e *Encoder) loadValue(v ir.Value, reg int) {
	switch v.Kind {
	case ir.ValImmInt:
		if v.Imm >= 0 && v.Imm <= 0x7FFFFFFF {
			e.movRegImm32(reg, uint32(v.Imm))
		} else {
			e.movRegImm64(reg, uint64(v.Imm))
		}
	case ir.ValImmFloat:
		e.movRegImm64(reg, floatBits(v.FImm))
	case ir.ValTemp:
		e.movRegFrame(reg, e.tempSlot(v.Temp), 64)
	case ir.ValNamed:
		// A named operand denotes the slot's address.
		e.leaRegFrame(reg, e.nameSlot(v.Name))
	case ir.ValGlobal:
		site := e.movRegRipMem(reg)
		e.reloc(site, v.Global, RelocDataRel32, -4)
	default:
		e.movRegImm32(reg, 0)
	}
}

func (e *Encoder) nameSlot(h intern.Handle) int32 {
	if s, ok := e.slotName[h]; ok {
		return s
	}
	// Late-bound scratch slot.
	s := int32(-(int32(e.frameSize)))
	e.slotName[h] = s
	return s
}

func (e *Encoder) storeTemp(t ir.Temp, reg int) {
	if t == ir.NoTemp {
		return
	}
	e.movFrameReg(e.tempSlot(t), reg, 64)
}

func floatBits(f float64) uint64 {
	// math.Float64bits without the import dance elsewhere.
	return f64bits(f)
}

func (e *Encoder) reloc(site int, sym intern.Handle, kind RelocKind, addend int64) {
	e.out.Relocs = append(e.out.Relocs, Reloc{
		Offset: uint32(site), Symbol: sym, Kind: kind, Addend: addend,
	})
}

func (e *Encoder) lineNote(tok token.Token) {
	if tok.Line == 0 || tok.Line == e.lastLine {
		return
	}
	e.lastLine = tok.Line
	e.out.Lines = append(e.out.Lines, LineEntry{
		Offset: uint32(len(e.code)), File: tok.File, Line: tok.Line,
	})
}

// --- labels ---

// defineLabel records the label position and writes all pending patches
// with the correct relative displacement.
func (e *Encoder) defineLabel(id int) {
	e.labels[id] = len(e.code)
	rest := e.pending[:0]
	for _, p := range e.pending {
		if p.label != id {
			rest = append(rest, p)
			continue
		}
		disp := int32(len(e.code) - (p.site + 4))
		e.code[p.site] = byte(disp)
		e.code[p.site+1] = byte(disp >> 8)
		e.code[p.site+2] = byte(disp >> 16)
		e.code[p.site+3] = byte(disp >> 24)
	}
	e.pending = rest
}

// jumpTo emits a jump to a label. Backward targets in range use the short
// disp8 form; forward targets use rel32 with a patch entry.
func (e *Encoder) jumpTo(id int) {
	if off, ok := e.labels[id]; ok {
		disp := off - (len(e.code) + 2)
		if disp >= -128 && disp < 0 {
			e.byteOut(0xEB, byte(disp))
			return
		}
		site := e.jmpRel32()
		d := int32(off - (site + 4))
		e.code[site] = byte(d)
		e.code[site+1] = byte(d >> 8)
		e.code[site+2] = byte(d >> 16)
		e.code[site+3] = byte(d >> 24)
		return
	}
	site := e.jmpRel32()
	e.pending = append(e.pending, patch{site: site, label: id})
}

func (e *Encoder) jccTo(cc byte, id int) {
	if off, ok := e.labels[id]; ok {
		disp := off - (len(e.code) + 2)
		if disp >= -128 && disp < 0 {
			e.byteOut(0x70+cc, byte(disp))
			return
		}
		site := e.jccRel32(cc)
		d := int32(off - (site + 4))
		e.code[site] = byte(d)
		e.code[site+1] = byte(d >> 8)
		e.code[site+2] = byte(d >> 16)
		e.code[site+3] = byte(d >> 24)
		return
	}
	site := e.jccRel32(cc)
	e.pending = append(e.pending, patch{site: site, label: id})
}

// callLabel emits call rel32 to a local label (funclet invocation).
func (e *Encoder) callLabel(id int) {
	site := e.callRel32()
	if off, ok := e.labels[id]; ok {
		d := int32(off - (site + 4))
		e.code[site] = byte(d)
		e.code[site+1] = byte(d >> 8)
		e.code[site+2] = byte(d >> 16)
		e.code[site+3] = byte(d >> 24)
		return
	}
	e.pending = append(e.pending, patch{site: site, label: id})
}

// callSymbol emits call rel32 against an external or local symbol.
func (e *Encoder) callSymbol(sym intern.Handle) {
	site := e.callRel32()
	e.reloc(site, sym, RelocCallRel32, -4)
}
