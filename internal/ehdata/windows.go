package ehdata

import (
	"sort"

	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/intern"
)

// Windows x64 C++ EH (__CxxFrameHandler3) metadata.

// Unwind opcodes.
const (
	uwopPushNonvol = 0
	uwopAllocLarge = 1
	uwopAllocSmall = 2
	uwopSetFPReg   = 3
)

// UNWIND_INFO flags.
const (
	unwFlagEHandler = 1
	unwFlagUHandler = 2
)

// funcInfoLayouts maps each known FuncInfo magic to its field count; the
// magic is looked up, never order-compared.
var funcInfoLayouts = map[uint32]int{
	0x19930520: 7,
	0x19930521: 9,
	0x19930522: 10,
}

// FuncInfoMagic is the layout this builder emits.
const FuncInfoMagic = 0x19930522

// Windows builds the .xdata and .pdata contribution of one function.
type Windows struct {
	Table    *intern.Table
	TextSym  intern.Handle // .text section symbol
	XDataSym intern.Handle // .xdata section symbol
}

// FuncEH is the built metadata of one function.
type FuncEH struct {
	XData Blob
	// PData entries: {begin, end, unwind-info offset} triples, relocated
	// by the writer against .text and .xdata.
	PData []PDataEntry
}

// PDataEntry is one RUNTIME_FUNCTION record.
type PDataEntry struct {
	Begin     uint32 // code offset
	End       uint32
	UnwindOff uint32 // offset of UNWIND_INFO inside this function's xdata
}

// stateRange is a try region with its assigned states.
type stateRange struct {
	region   *encoder.TryRegion
	tryLow   int32
	tryHigh  int32
	catchHigh int32
	parent   int
}

// effectiveFrame returns the frame size all displacements use: the
// FrameOffset field saturates at 15, so frames above 240 bytes round down
// to FrameOffset*16.
func effectiveFrame(frameSize uint32) uint32 {
	fo := frameSize / 16
	if fo > 15 {
		fo = 15
	}
	return fo * 16
}

// Build assembles the unwind info, FuncInfo, and PDATA of one encoded
// function. Non-EH functions get plain unwind info and a single PDATA
// entry.
func (w *Windows) Build(enc *encoder.Encoded) *FuncEH {
	out := &FuncEH{}
	if !enc.HasEH {
		uw := w.unwindInfoNonEH(enc)
		off := uint32(len(out.XData.Data))
		out.XData.Data = append(out.XData.Data, uw.Data...)
		out.PData = append(out.PData, PDataEntry{Begin: 0, End: uint32(len(enc.Code)), UnwindOff: off})
		return out
	}

	// FuncInfo body (maps first so their offsets are known when the
	// UNWIND_INFO's language-specific data slot is written).
	ranges := w.assignStates(enc)
	maxState := int32(0)
	for _, r := range ranges {
		if r.catchHigh+1 > maxState {
			maxState = r.catchHigh + 1
		}
	}

	funcInfo := w.buildFuncInfo(enc, ranges, maxState)

	// Layout: UNWIND_INFO (+EH handler + FuncInfo RVA), then FuncInfo and
	// its maps, then funclet unwind infos.
	uw := w.unwindInfoEH(enc)
	uwOff := uint32(0)
	out.XData.Data = append(out.XData.Data, uw.Data...)
	for _, r := range uw.Relocs {
		r.Offset += uwOff
		out.XData.Relocs = append(out.XData.Relocs, r)
	}
	fiOff := uint32(len(out.XData.Data))
	// Patch the language-specific-data slot (last dword of uw) with the
	// FuncInfo offset.
	out.XData.Data = appendU32Patch(out.XData.Data, int(uwOff)+lsdaSlot(uw), fiOff)
	for _, r := range funcInfo.Relocs {
		r.Offset += fiOff
		out.XData.Relocs = append(out.XData.Relocs, r)
	}
	out.XData.Relocs = append(out.XData.Relocs, Reloc{
		Offset: uint32(int(uwOff) + lsdaSlot(uw)), Symbol: w.XDataSym,
		Kind: RelocImageRel, Addend: int64(fiOff),
	})
	out.XData.Data = append(out.XData.Data, funcInfo.Data...)

	// PDATA: the parent range carved around catch funclets, each funclet
	// with its own UNWIND_INFO whose LSDA points back at the FuncInfo.
	out.PData = w.carvePData(enc, ranges, &out.XData, uwOff, fiOff)
	return out
}

func lsdaSlot(b Blob) int { return len(b.Data) - 4 }

func putU32(dst []byte, v uint32) {
	if len(dst) >= 4 {
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
		dst[3] = byte(v >> 24)
	}
}

func appendU32Patch(data []byte, off int, v uint32) []byte {
	putU32(data[off:], v)
	return data
}

// unwindInfoNonEH describes `push rbp; mov rbp,rsp; sub rsp,N`.
func (w *Windows) unwindInfoNonEH(enc *encoder.Encoded) Blob {
	var b Blob
	codes := w.unwindCodes(enc.FrameSize, false)
	b.u8(1)                  // version 1, no flags
	b.u8(enc.PrologLen)      // SizeOfProlog
	b.u8(uint8(len(codes) / 2))
	fo := enc.FrameSize / 16
	if fo > 15 {
		fo = 15
	}
	b.u8(uint8(5 | fo<<4)) // FrameRegister=RBP, FrameOffset
	for _, c := range codes {
		b.u8(c)
	}
	b.align(4)
	return b
}

// unwindInfoEH describes `push rbp; sub rsp,N; lea rbp,[rsp+k]` and
// carries the EHANDLER flag, the handler RVA, and a trailing
// language-specific-data slot the caller patches.
func (w *Windows) unwindInfoEH(enc *encoder.Encoded) Blob {
	var b Blob
	codes := w.unwindCodes(enc.FrameSize, true)
	b.u8(1 | unwFlagEHandler<<3 | unwFlagUHandler<<3)
	b.u8(enc.PrologLen)
	b.u8(uint8(len(codes) / 2))
	fo := enc.FrameSize / 16
	if fo > 15 {
		fo = 15
	}
	b.u8(uint8(5 | fo<<4))
	for _, c := range codes {
		b.u8(c)
	}
	b.align(4)
	b.rva(w.Table.Intern("__CxxFrameHandler3"), 0)
	b.u32(0) // language-specific data: FuncInfo RVA, patched by Build
	return b
}

// unwindCodes returns the two-byte code sequence in reverse prologue
// order.
func (w *Windows) unwindCodes(frameSize uint32, eh bool) []byte {
	var codes []byte
	if eh {
		// UWOP_SET_FPREG @16, alloc @8, UWOP_PUSH_NONVOL(RBP) @1
		codes = append(codes, 16, uwopSetFPReg<<0|0<<4)
		codes = append(codes, allocCodes(8, frameSize)...)
		codes = append(codes, 1, uwopPushNonvol|5<<4)
		return codes
	}
	// alloc @11, UWOP_SET_FPREG @4, push @1
	codes = append(codes, allocCodes(11, frameSize)...)
	codes = append(codes, 4, uwopSetFPReg)
	codes = append(codes, 1, uwopPushNonvol|5<<4)
	return codes
}

// allocCodes picks UWOP_ALLOC_SMALL for frames ≤128 bytes and the 16-bit
// UWOP_ALLOC_LARGE form up to 512K-8.
func allocCodes(offset byte, frameSize uint32) []byte {
	if frameSize <= 128 {
		return []byte{offset, uwopAllocSmall | byte((frameSize-8)/8)<<4}
	}
	scaled := uint16(frameSize / 8)
	return []byte{offset, uwopAllocLarge, byte(scaled), byte(scaled >> 8)}
}

// assignStates numbers try blocks outer-first: regions sort by descending
// code range size, so enclosing (larger) blocks take the lower state
// numbers; catch handlers follow their try's low state.
func (w *Windows) assignStates(enc *encoder.Encoded) []stateRange {
	var cxx []*encoder.TryRegion
	for i := range enc.Tries {
		if enc.Tries[i].Kind == encoder.RegionCxxTry {
			cxx = append(cxx, &enc.Tries[i])
		}
	}
	// Outer-first by descending range size for numbering.
	sort.SliceStable(cxx, func(i, j int) bool {
		si := cxx[i].EndOff - cxx[i].BeginOff
		sj := cxx[j].EndOff - cxx[j].BeginOff
		return si > sj
	})

	ranges := make([]stateRange, len(cxx))
	state := int32(0)
	for i, r := range cxx {
		ranges[i] = stateRange{region: r, parent: -1, tryLow: state}
		state++
		// Catch handlers get states immediately after try_low.
		ranges[i].tryHigh = ranges[i].tryLow
		catchHigh := ranges[i].tryLow
		for range r.Catches {
			catchHigh = state
			state++
		}
		ranges[i].catchHigh = catchHigh
	}
	// Parent linking and try_high widening for nested ranges.
	for i := range ranges {
		for j := range ranges {
			if i == j {
				continue
			}
			ri, rj := ranges[i].region, ranges[j].region
			if rj.BeginOff <= ri.BeginOff && ri.EndOff <= rj.EndOff {
				if ranges[i].parent == -1 || nested(ranges[ranges[i].parent].region, rj) {
					ranges[i].parent = j
				}
				if ranges[i].catchHigh > ranges[j].tryHigh {
					ranges[j].tryHigh = ranges[i].catchHigh
				}
				if ranges[i].catchHigh > ranges[j].catchHigh {
					ranges[j].catchHigh = ranges[i].catchHigh
				}
			}
		}
	}
	return ranges
}

func nested(inner, outer *encoder.TryRegion) bool {
	return outer.BeginOff <= inner.BeginOff && inner.EndOff <= outer.EndOff
}

// buildFuncInfo emits the ten-DWORD FuncInfo and its maps.
func (w *Windows) buildFuncInfo(enc *encoder.Encoded, ranges []stateRange, maxState int32) Blob {
	var b Blob
	eff := effectiveFrame(enc.FrameSize)

	// Maps are appended after the header; offsets are computed from the
	// fixed header size.
	const headerSize = 10 * 4
	unwindMapOff := uint32(headerSize)
	unwindMapSize := uint32(maxState) * 8
	tryMapOff := unwindMapOff + unwindMapSize
	tryMapSize := uint32(len(ranges)) * 20
	handlerOff := tryMapOff + tryMapSize
	handlerBytes := uint32(0)
	for _, r := range ranges {
		handlerBytes += uint32(len(r.region.Catches)) * 20
	}
	ipMap := w.ipToStateEvents(enc, ranges)
	ipMapOff := handlerOff + handlerBytes

	b.u32(FuncInfoMagic)
	b.u32(uint32(maxState))
	b.rva(w.XDataSym, int64(unwindMapOff)) // resolved via xdata base by writer
	b.u32(uint32(len(ranges)))
	b.rva(w.XDataSym, int64(tryMapOff))
	b.u32(uint32(len(ipMap)))
	b.rva(w.XDataSym, int64(ipMapOff))
	b.u32(eff - 8) // dispUnwindHelp: state variable at [rbp-8]
	b.u32(0)       // exception-spec type list
	b.u32(1)       // EH flags: /EHs semantics

	// Unwind map: one {toState, action} pair per state.
	toState := make([]int32, maxState)
	for i := range toState {
		toState[i] = -1
	}
	for _, r := range ranges {
		if r.parent >= 0 {
			toState[r.tryLow] = ranges[r.parent].tryLow
		}
		// Catch states unwind to the same target as their owning try.
		s := r.tryLow + 1
		for range r.region.Catches {
			if s < maxState {
				toState[s] = toState[r.tryLow]
			}
			s++
		}
	}
	for s := int32(0); s < maxState; s++ {
		b.i32(toState[s])
		b.u32(0) // no unwind action funclet in this subset
	}

	// Try-block map.
	hOff := handlerOff
	for _, r := range ranges {
		b.i32(r.tryLow)
		b.i32(r.tryHigh)
		b.i32(r.catchHigh)
		b.u32(uint32(len(r.region.Catches)))
		b.rva(w.XDataSym, int64(hOff))
		hOff += uint32(len(r.region.Catches)) * 20
	}

	// Handler entries.
	for _, r := range ranges {
		for _, c := range r.region.Catches {
			adjectives := uint32(0)
			if c.Const {
				adjectives |= 0x01
			}
			if c.ByRef {
				adjectives |= 0x08
			}
			if c.ByRValue {
				adjectives |= 0x10
			}
			if c.CatchAll {
				adjectives |= 0x40
			}
			b.u32(adjectives)
			if c.CatchAll || c.TypeSym == intern.Invalid {
				b.u32(0)
			} else {
				b.rva(w.Table.Intern("??_R0?AV"+w.Table.Lookup(c.TypeSym)+"@@@8"), 0)
			}
			// Catch-object displacement rebased so that
			// EstablisherFrame + disp == rbp + frame offset.
			if c.ObjDisp != 0 {
				b.i32(c.ObjDisp + int32(effectiveFrame(enc.FrameSize)))
			} else {
				b.u32(0)
			}
			b.rva(w.TextSym, int64(c.BeginOff))
			// dispFrame: the funclet's post-prologue frame sits a fixed
			// distance below the parent establisher; derived from the
			// standard funclet prologue, not hard-coded.
			b.u32(funcletFrameDisp())
		}
	}

	// IP-to-state map.
	for _, ev := range ipMap {
		b.rva(w.TextSym, int64(ev.ip))
		b.i32(ev.state)
	}
	return b
}

type ipEvent struct {
	ip    uint32
	state int32
}

// ipToStateEvents produces the sorted, duplicate-collapsed event list:
// entry (-1), try entries/exits, catch funclet entry/exit, end (-1).
func (w *Windows) ipToStateEvents(enc *encoder.Encoded, ranges []stateRange) []ipEvent {
	events := []ipEvent{{ip: 0, state: -1}}
	for _, r := range ranges {
		parentState := int32(-1)
		if r.parent >= 0 {
			parentState = ranges[r.parent].tryLow
		}
		events = append(events, ipEvent{ip: r.region.BeginOff, state: r.tryLow})
		events = append(events, ipEvent{ip: r.region.EndOff, state: parentState})
		s := r.tryLow + 1
		for _, c := range r.region.Catches {
			events = append(events, ipEvent{ip: c.BeginOff, state: s})
			events = append(events, ipEvent{ip: c.EndOff, state: -1})
			s++
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].ip < events[j].ip })
	// Duplicates at the same RVA collapse to the last.
	var out []ipEvent
	for _, ev := range events {
		if len(out) > 0 && out[len(out)-1].ip == ev.ip {
			out[len(out)-1] = ev
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 || out[len(out)-1].state != -1 {
		out = append(out, ipEvent{ip: uint32(len(enc.Code)), state: -1})
	}
	return out
}

// funcletFrameDisp derives dispFrame from the standard catch funclet
// prologue `mov [rsp+0x10],rdx; push rbp; sub rsp,0x20; lea rbp,[rdx+N]`:
// the saved RDX sits 0x10 above entry RSP, the push and alloc move RSP
// down 0x28, so the funclet frame is 0x38 below the parent save slot.
func funcletFrameDisp() uint32 {
	const rdxHomeOffset = 0x10
	const pushSize = 8
	const funcletAlloc = 0x20
	return rdxHomeOffset + pushSize + funcletAlloc
}

// carvePData splits the parent IP range around catch funclets so no two
// entries overlap. Ranges after the last funclet reference a zero-prolog
// UNWIND_INFO so post-catch code is never read as mid-prologue.
func (w *Windows) carvePData(enc *encoder.Encoded, ranges []stateRange, xdata *Blob, uwOff, fiOff uint32) []PDataEntry {
	type hole struct{ begin, end uint32 }
	var holes []hole
	for _, r := range ranges {
		for _, c := range r.region.Catches {
			if c.EndOff > c.BeginOff {
				holes = append(holes, hole{c.BeginOff, c.EndOff})
			}
		}
	}
	for _, f := range enc.Funclets {
		if f.HandlerEnd > f.HandlerOff {
			holes = append(holes, hole{f.HandlerOff, f.HandlerEnd})
		}
	}
	sort.Slice(holes, func(i, j int) bool { return holes[i].begin < holes[j].begin })

	// Funclet UNWIND_INFO: two codes (alloc 0x20, push rbp), EHANDLER|
	// UHANDLER, LSDA pointing at the parent's FuncInfo.
	funcletUW := uint32(len(xdata.Data))
	var fb Blob
	fb.u8(1 | unwFlagEHandler<<3 | unwFlagUHandler<<3)
	fb.u8(10) // funclet prologue size
	fb.u8(2)
	fb.u8(0)
	fb.u8(10)
	fb.u8(uwopAllocSmall | byte((0x20-8)/8)<<4)
	fb.u8(5)
	fb.u8(uwopPushNonvol | 5<<4)
	fb.align(4)
	fb.rva(w.Table.Intern("__CxxFrameHandler3"), 0)
	fb.Relocs = append(fb.Relocs, Reloc{
		Offset: uint32(len(fb.Data)), Symbol: w.XDataSym,
		Kind: RelocImageRel, Addend: int64(fiOff),
	})
	fb.u32(fiOff)
	for _, r := range fb.Relocs {
		r.Offset += funcletUW
		xdata.Relocs = append(xdata.Relocs, r)
	}
	xdata.Data = append(xdata.Data, fb.Data...)

	// Zero-prolog UNWIND_INFO for post-funclet parent ranges.
	zeroUW := uint32(len(xdata.Data))
	var zb Blob
	zb.u8(1 | unwFlagEHandler<<3 | unwFlagUHandler<<3)
	zb.u8(0) // SizeOfProlog = 0
	zb.u8(0)
	fo := enc.FrameSize / 16
	if fo > 15 {
		fo = 15
	}
	zb.u8(uint8(5 | fo<<4))
	zb.align(4)
	zb.rva(w.Table.Intern("__CxxFrameHandler3"), 0)
	zb.Relocs = append(zb.Relocs, Reloc{
		Offset: uint32(len(zb.Data)), Symbol: w.XDataSym,
		Kind: RelocImageRel, Addend: int64(fiOff),
	})
	zb.u32(fiOff)
	for _, r := range zb.Relocs {
		r.Offset += zeroUW
		xdata.Relocs = append(xdata.Relocs, r)
	}
	xdata.Data = append(xdata.Data, zb.Data...)

	var out []PDataEntry
	cursor := uint32(0)
	seenHole := false
	size := uint32(len(enc.Code))
	for _, h := range holes {
		if h.begin > cursor {
			uo := uwOff
			if seenHole {
				uo = zeroUW
			}
			out = append(out, PDataEntry{Begin: cursor, End: h.begin, UnwindOff: uo})
		}
		out = append(out, PDataEntry{Begin: h.begin, End: h.end, UnwindOff: funcletUW})
		cursor = h.end
		seenHole = true
	}
	if cursor < size {
		uo := uwOff
		if seenHole {
			uo = zeroUW
		}
		out = append(out, PDataEntry{Begin: cursor, End: size, UnwindOff: uo})
	}
	return out
}
