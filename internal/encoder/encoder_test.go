package encoder

import (
	"bytes"
	"testing"

	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/cwbudde/go-cxx/internal/token"
)

func smallFn(tab *intern.Table, hasEH bool) *ir.Function {
	f := &ir.Function{
		Name:    tab.Intern("f"),
		Mangled: tab.Intern("_Z1fv"),
	}
	f.Decl = ir.FuncDeclOp{Name: f.Name, Mangled: f.Mangled, HasEH: hasEH}
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	f.Emit(ir.Return, &ir.ReturnOp{Val: ir.IntVal(7)}, token.Token{})
	return f
}

func TestPrologueNonEH(t *testing.T) {
	tab := intern.NewTable()
	e := New(SysV, tab)
	enc, err := e.Encode(smallFn(tab, false))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// push rbp; mov rbp, rsp; sub rsp, imm32
	want := []byte{0x55, 0x48, 0x89, 0xE5, 0x48, 0x81, 0xEC}
	if !bytes.HasPrefix(enc.Code, want) {
		t.Errorf("prologue = % x, want prefix % x", enc.Code[:8], want)
	}
	if enc.PrologLen != 11 {
		t.Errorf("PrologLen = %d, want 11", enc.PrologLen)
	}
}

func TestPrologueEH(t *testing.T) {
	tab := intern.NewTable()
	e := New(Win64, tab)
	enc, err := e.Encode(smallFn(tab, true))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// push rbp; sub rsp, imm32; lea rbp, [rsp+k]
	if enc.Code[0] != 0x55 {
		t.Error("EH prologue must start with push rbp")
	}
	if !bytes.Equal(enc.Code[1:4], []byte{0x48, 0x81, 0xEC}) {
		t.Errorf("EH prologue must sub rsp next, got % x", enc.Code[1:4])
	}
	if !bytes.Equal(enc.Code[8:12], []byte{0x48, 0x8D, 0xAC, 0x24}) {
		t.Errorf("EH prologue must lea rbp,[rsp+k], got % x", enc.Code[8:12])
	}
	if enc.PrologLen != 16 {
		t.Errorf("PrologLen = %d, want 16", enc.PrologLen)
	}
}

func TestFrameAligned16(t *testing.T) {
	tab := intern.NewTable()
	f := smallFn(tab, false)
	f.Emit(ir.StackAlloc, &ir.AllocOp{Name: tab.Intern("x"), Bits: 32}, token.Token{})
	e := New(SysV, tab)
	enc, err := e.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if enc.FrameSize%16 != 0 {
		t.Errorf("frame size %d is not 16-byte aligned", enc.FrameSize)
	}
}

func TestForwardBranchPatched(t *testing.T) {
	tab := intern.NewTable()
	f := &ir.Function{Name: tab.Intern("g"), Mangled: tab.Intern("_Z1gv")}
	f.Decl = ir.FuncDeclOp{Name: f.Name}
	label := f.NewLabel()
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	f.Emit(ir.Branch, &ir.BranchOp{Target: label}, token.Token{})
	f.Emit(ir.Label, &ir.LabelOp{ID: label}, token.Token{})
	f.Emit(ir.Return, &ir.ReturnOp{}, token.Token{})
	e := New(SysV, tab)
	enc, err := e.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// The jmp rel32 must land exactly on the label (displacement 0).
	idx := bytes.IndexByte(enc.Code, 0xE9)
	if idx < 0 {
		t.Fatal("no jmp rel32 emitted")
	}
	disp := int32(uint32(enc.Code[idx+1]) | uint32(enc.Code[idx+2])<<8 |
		uint32(enc.Code[idx+3])<<16 | uint32(enc.Code[idx+4])<<24)
	if disp != 0 {
		t.Errorf("forward branch displacement = %d, want 0", disp)
	}
}

func TestBackwardBranchShortForm(t *testing.T) {
	tab := intern.NewTable()
	f := &ir.Function{Name: tab.Intern("h"), Mangled: tab.Intern("_Z1hv")}
	f.Decl = ir.FuncDeclOp{Name: f.Name}
	label := f.NewLabel()
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	f.Emit(ir.Label, &ir.LabelOp{ID: label}, token.Token{})
	f.Emit(ir.Branch, &ir.BranchOp{Target: label}, token.Token{})
	f.Emit(ir.Return, &ir.ReturnOp{}, token.Token{})
	e := New(SysV, tab)
	enc, err := e.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Contains(enc.Code, []byte{0xEB, 0xFE}) {
		t.Error("short backward branch must use the disp8 form")
	}
}

func TestUnresolvedLabel(t *testing.T) {
	tab := intern.NewTable()
	f := &ir.Function{Name: tab.Intern("bad"), Mangled: tab.Intern("_Z3badv")}
	f.Decl = ir.FuncDeclOp{Name: f.Name}
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	f.Emit(ir.Branch, &ir.BranchOp{Target: 99}, token.Token{})
	e := New(SysV, tab)
	_, err := e.Encode(f)
	if err == nil || err.Kind != errors.UnresolvedLabel {
		t.Fatalf("err = %v, want UnresolvedLabel", err)
	}
}

func TestUndefinedTemp(t *testing.T) {
	tab := intern.NewTable()
	f := &ir.Function{Name: tab.Intern("u"), Mangled: tab.Intern("_Z1uv")}
	f.Decl = ir.FuncDeclOp{Name: f.Name}
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	// Temp 5 was never allocated through NewTemp.
	f.Emit(ir.Store, &ir.StoreOp{Dst: ir.NamedVal(tab.Intern("x")), Src: ir.TempVal(5), Bits: 32}, token.Token{})
	f.Emit(ir.Return, &ir.ReturnOp{}, token.Token{})
	e := New(SysV, tab)
	_, err := e.Encode(f)
	if err == nil || err.Kind != errors.IREncodingError {
		t.Fatalf("err = %v, want IREncodingError", err)
	}
}

func TestCallEmitsReloc(t *testing.T) {
	tab := intern.NewTable()
	callee := tab.Intern("_Z6targetv")
	f := &ir.Function{Name: tab.Intern("c"), Mangled: tab.Intern("_Z1cv")}
	f.Decl = ir.FuncDeclOp{Name: f.Name}
	res := f.NewTemp(ir.TempInfo{Category: ir.PRValue, Bits: 32})
	f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
	f.Emit(ir.FunctionCall, &ir.CallOp{Result: res, Mangled: callee, RetBits: 32}, token.Token{})
	f.Emit(ir.Return, &ir.ReturnOp{Val: ir.TempVal(res)}, token.Token{})
	e := New(Win64, tab)
	enc, err := e.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	found := false
	for _, r := range enc.Relocs {
		if r.Symbol == callee && r.Kind == RelocCallRel32 {
			found = true
		}
	}
	if !found {
		t.Error("call must record a REL32 relocation against the callee")
	}
}

func TestArgumentRegistersByTarget(t *testing.T) {
	tab := intern.NewTable()
	win := New(Win64, tab)
	sysv := New(SysV, tab)
	if win.argRegs()[0] != RCX || sysv.argRegs()[0] != RDI {
		t.Error("first argument register must follow the target convention")
	}
	if win.shadowSpace() != 32 || sysv.shadowSpace() != 0 {
		t.Error("shadow space is Windows-only")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	tab := intern.NewTable()
	mk := func() *ir.Function {
		f := &ir.Function{Name: tab.Intern("d"), Mangled: tab.Intern("_Z1dv")}
		f.Decl = ir.FuncDeclOp{Name: f.Name}
		a := f.NewTemp(ir.TempInfo{Category: ir.PRValue, Bits: 32})
		f.Emit(ir.FunctionDecl, &f.Decl, token.Token{})
		f.Emit(ir.Add, &ir.BinaryOp{Result: a, L: ir.IntVal(2), R: ir.IntVal(3), Bits: 32}, token.Token{})
		f.Emit(ir.Return, &ir.ReturnOp{Val: ir.TempVal(a)}, token.Token{})
		return f
	}
	e1, err1 := New(SysV, tab).Encode(mk())
	e2, err2 := New(SysV, tab).Encode(mk())
	if err1 != nil || err2 != nil {
		t.Fatalf("encode: %v %v", err1, err2)
	}
	if !bytes.Equal(e1.Code, e2.Code) {
		t.Error("identical input must produce identical bytes")
	}
}
