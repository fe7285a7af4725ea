package ehdata

import (
	"encoding/binary"
	"testing"

	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/intern"
)

func newWindows() (*Windows, *intern.Table) {
	tab := intern.NewTable()
	return &Windows{
		Table:    tab,
		TextSym:  tab.Intern(".text"),
		XDataSym: tab.Intern(".xdata"),
	}, tab
}

func TestAllocSmallBoundary(t *testing.T) {
	if got := allocCodes(8, 128); got[1]&0xF != uwopAllocSmall {
		t.Error("frame of 128 bytes must use UWOP_ALLOC_SMALL")
	}
	if got := allocCodes(8, 129); got[1] != uwopAllocLarge {
		t.Error("frame of 129 bytes must use UWOP_ALLOC_LARGE")
	}
	large := allocCodes(8, 504)
	if large[1] != uwopAllocLarge {
		t.Error("504-byte frame must use the 16-bit large form")
	}
	scaled := uint16(large[2]) | uint16(large[3])<<8
	if uint32(scaled)*8 != 504 {
		t.Errorf("large alloc scaled size = %d, want 504", scaled*8)
	}
}

func TestFrameOffsetSaturates(t *testing.T) {
	if effectiveFrame(240) != 240 {
		t.Errorf("effective frame of 240 = %d", effectiveFrame(240))
	}
	if effectiveFrame(256) != 240 {
		t.Errorf("FrameOffset must saturate at 15: %d", effectiveFrame(256))
	}
	if effectiveFrame(1024) != 240 {
		t.Errorf("large frames clamp to 240: %d", effectiveFrame(1024))
	}
}

func TestNonEHPData(t *testing.T) {
	w, _ := newWindows()
	enc := &encoder.Encoded{Code: make([]byte, 32), FrameSize: 64, PrologLen: 11}
	out := w.Build(enc)
	if len(out.PData) != 1 {
		t.Fatalf("non-EH function must have one PDATA entry, got %d", len(out.PData))
	}
	if out.PData[0].Begin != 0 || out.PData[0].End != 32 {
		t.Errorf("PDATA range [%d,%d), want [0,32)", out.PData[0].Begin, out.PData[0].End)
	}
}

func ehFixture() *encoder.Encoded {
	return &encoder.Encoded{
		Code:      make([]byte, 0x100),
		FrameSize: 96,
		PrologLen: 16,
		HasEH:     true,
		Tries: []encoder.TryRegion{{
			Kind:     encoder.RegionCxxTry,
			BeginOff: 0x20,
			EndOff:   0x60,
			Catches: []encoder.CatchInfo{{
				BeginOff: 0x70, EndOff: 0x90, Const: true, ByRef: true, ObjDisp: -24,
			}},
		}},
	}
}

func TestFuncInfoHeader(t *testing.T) {
	w, _ := newWindows()
	enc := ehFixture()
	out := w.Build(enc)

	// Locate the FuncInfo by its magic.
	magicAt := -1
	for i := 0; i+4 <= len(out.XData.Data); i += 4 {
		if binary.LittleEndian.Uint32(out.XData.Data[i:]) == FuncInfoMagic {
			magicAt = i
			break
		}
	}
	if magicAt < 0 {
		t.Fatal("FuncInfo magic not found in xdata")
	}
	fi := out.XData.Data[magicAt:]
	maxState := int32(binary.LittleEndian.Uint32(fi[4:]))
	if maxState != 2 {
		t.Errorf("maxState = %d, want 2 (one try + one catch)", maxState)
	}
	nTry := binary.LittleEndian.Uint32(fi[12:])
	if nTry != 1 {
		t.Errorf("try count = %d, want 1", nTry)
	}
	dispUnwindHelp := binary.LittleEndian.Uint32(fi[28:])
	if dispUnwindHelp != effectiveFrame(enc.FrameSize)-8 {
		t.Errorf("dispUnwindHelp = %d, want effFrame-8 = %d",
			dispUnwindHelp, effectiveFrame(enc.FrameSize)-8)
	}
	if binary.LittleEndian.Uint32(fi[32:]) != 0 {
		t.Error("exception-spec list must be 0")
	}
	if binary.LittleEndian.Uint32(fi[36:]) != 1 {
		t.Error("EH flags bit 0 must be set")
	}
}

func TestFuncInfoMagicIsTableEntry(t *testing.T) {
	// The magic selects a layout from a table, never an ordered compare.
	if funcInfoLayouts[FuncInfoMagic] != 10 {
		t.Errorf("0x19930522 must map to the ten-field layout")
	}
	if funcInfoLayouts[0x19930521] != 9 || funcInfoLayouts[0x19930520] != 7 {
		t.Error("sibling magics must map to their field counts")
	}
}

func TestStateInvariants(t *testing.T) {
	w, _ := newWindows()
	enc := ehFixture()
	// Add a nested inner try with its own catch.
	enc.Tries = append(enc.Tries, encoder.TryRegion{
		Kind:     encoder.RegionCxxTry,
		BeginOff: 0x30,
		EndOff:   0x40,
		Catches: []encoder.CatchInfo{{
			BeginOff: 0x92, EndOff: 0xA0, CatchAll: true,
		}},
	})
	ranges := w.assignStates(enc)

	maxState := int32(0)
	for _, r := range ranges {
		if r.catchHigh+1 > maxState {
			maxState = r.catchHigh + 1
		}
	}
	for _, r := range ranges {
		if !(r.tryLow <= r.tryHigh && r.tryHigh <= r.catchHigh && r.catchHigh < maxState) {
			t.Errorf("state invariant violated: low=%d high=%d catchHigh=%d max=%d",
				r.tryLow, r.tryHigh, r.catchHigh, maxState)
		}
	}
	// Outer block gets the lower state number.
	var outer, inner *stateRange
	for i := range ranges {
		if ranges[i].region.BeginOff == 0x20 {
			outer = &ranges[i]
		} else {
			inner = &ranges[i]
		}
	}
	if outer.tryLow >= inner.tryLow {
		t.Errorf("outer state %d must be below inner %d", outer.tryLow, inner.tryLow)
	}
	if inner.parent < 0 || ranges[inner.parent].region != outer.region {
		t.Error("inner try must link to the outer as parent")
	}
}

func TestIPToStateSortedAndTerminated(t *testing.T) {
	w, _ := newWindows()
	enc := ehFixture()
	ranges := w.assignStates(enc)
	events := w.ipToStateEvents(enc, ranges)
	for i := 1; i < len(events); i++ {
		if events[i-1].ip > events[i].ip {
			t.Fatalf("ip-to-state map not sorted at %d", i)
		}
	}
	if events[len(events)-1].state != -1 {
		t.Error("final ip-to-state entry must be -1")
	}
	if events[0].ip != 0 || events[0].state != -1 {
		t.Error("function entry must map to state -1")
	}
}

func TestAdjectivesExclusive(t *testing.T) {
	w, _ := newWindows()
	enc := ehFixture()
	out := w.Build(enc)
	// The handler array starts after the FuncInfo header (40 bytes), the
	// unwind map (2 states x 8), and the try map (1 entry x 20).
	magicAt := -1
	for i := 0; i+4 <= len(out.XData.Data); i += 4 {
		if binary.LittleEndian.Uint32(out.XData.Data[i:]) == FuncInfoMagic {
			magicAt = i
			break
		}
	}
	if magicAt < 0 {
		t.Fatal("FuncInfo not found")
	}
	handlerAt := magicAt + 40 + 2*8 + 20
	adjectives := binary.LittleEndian.Uint32(out.XData.Data[handlerAt:])
	if adjectives != 0x09 {
		t.Errorf("adjectives = %#x, want 0x09 (const | lvalue-ref)", adjectives)
	}
	if adjectives&0x18 == 0x18 {
		t.Error("at most one of the reference-kind bits may be set")
	}
	// dispFrame is the final field of the 20-byte entry.
	dispFrame := binary.LittleEndian.Uint32(out.XData.Data[handlerAt+16:])
	if dispFrame != 0x38 {
		t.Errorf("dispFrame = %#x, want 0x38", dispFrame)
	}
}

func TestPDataCarvedAroundFunclets(t *testing.T) {
	w, _ := newWindows()
	enc := ehFixture()
	out := w.Build(enc)
	if len(out.PData) < 3 {
		t.Fatalf("expected parent ranges carved around the funclet, got %d entries", len(out.PData))
	}
	for i := range out.PData {
		e := out.PData[i]
		if e.Begin >= e.End {
			t.Errorf("entry %d: begin %d >= end %d", i, e.Begin, e.End)
		}
		if e.End > uint32(len(enc.Code)) {
			t.Errorf("entry %d overruns the function", i)
		}
		for j := i + 1; j < len(out.PData); j++ {
			o := out.PData[j]
			if e.Begin < o.End && o.Begin < e.End {
				t.Errorf("entries %d and %d overlap", i, j)
			}
		}
	}
}

func TestScopeTableConstFilter(t *testing.T) {
	w, _ := newWindows()
	enc := &encoder.Encoded{
		Code: make([]byte, 0x80),
		Tries: []encoder.TryRegion{{
			Kind:        encoder.RegionSehExcept,
			BeginOff:    0x10,
			EndOff:      0x30,
			HandlerOff:  0x40,
			HasConst:    true,
			FilterConst: 1, // EXCEPTION_EXECUTE_HANDLER
		}},
	}
	b := w.BuildScopeTable(enc)
	if binary.LittleEndian.Uint32(b.Data[0:]) != 1 {
		t.Fatal("scope table must have one entry")
	}
	// Entry: begin, end, handler(=constant), jumpTarget.
	if int32(binary.LittleEndian.Uint32(b.Data[12:])) != 1 {
		t.Error("constant filter must embed in HandlerAddress")
	}
	if binary.LittleEndian.Uint32(b.Data[16:]) != 0x40 {
		t.Error("JumpTarget must hold the handler RVA")
	}
}

func TestScopeTableFinally(t *testing.T) {
	w, _ := newWindows()
	enc := &encoder.Encoded{
		Code: make([]byte, 0x80),
		Tries: []encoder.TryRegion{{
			Kind:       encoder.RegionSehFinally,
			BeginOff:   0x10,
			EndOff:     0x30,
			HandlerOff: 0x50,
		}},
	}
	b := w.BuildScopeTable(enc)
	if binary.LittleEndian.Uint32(b.Data[16:]) != 0 {
		t.Error("__finally entries must carry JumpTarget 0")
	}
}

func TestFuncletDispFrameDerived(t *testing.T) {
	if funcletFrameDisp() != 0x38 {
		t.Errorf("standard funclet prologue must yield dispFrame 0x38, got %#x", funcletFrameDisp())
	}
}

func TestDeterministicBuild(t *testing.T) {
	w1, _ := newWindows()
	w2, _ := newWindows()
	b1 := w1.Build(ehFixture())
	b2 := w2.Build(ehFixture())
	if string(b1.XData.Data) != string(b2.XData.Data) {
		t.Error("identical input must produce identical xdata bytes")
	}
}
