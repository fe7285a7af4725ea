package ir

import (
	"strings"
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/cpplex"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/parser"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/templates"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

func buildModule(t *testing.T, src string, target Target) (*Module, *intern.Table) {
	t.Helper()
	table := intern.NewTable()
	arena := ast.NewArena()
	reg := types.NewRegistry(table, arena)
	syms := symtab.New()
	engine := templates.NewEngine(arena, reg, syms, table)
	toks := cpplex.Lex(table, src, 0)
	p := parser.New(token.NewStream(table, toks), arena, reg, syms, engine)
	root := p.ParseTranslationUnit()
	if p.Errors().HasErrors() {
		t.Fatalf("parse errors:\n%s", p.Errors().Format(false))
	}
	b := NewBuilder(arena, reg, table, target)
	roots := append([]ast.NodeRef{root}, engine.Instantiated()...)
	mod, err := b.Build(roots...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return mod, table
}

func findFn(t *testing.T, mod *Module, table *intern.Table, name string) *Function {
	t.Helper()
	for _, f := range mod.Functions {
		if table.Lookup(f.Name) == name {
			return f
		}
	}
	t.Fatalf("function %q not in module", name)
	return nil
}

// operandTemps extracts every temp an instruction reads, and its defined
// temp if any.
func instrTemps(in *Instruction) (reads []Temp, def Temp) {
	val := func(v Value) {
		if v.Kind == ValTemp && v.Temp != NoTemp {
			reads = append(reads, v.Temp)
		}
	}
	switch pl := in.Payload.(type) {
	case *BinaryOp:
		val(pl.L)
		val(pl.R)
		def = pl.Result
	case *UnaryOp:
		val(pl.Operand)
		def = pl.Result
	case *StoreOp:
		val(pl.Dst)
		val(pl.Src)
	case *LoadOp:
		val(pl.Src)
		def = pl.Result
	case *AddrOp:
		val(pl.Base)
		for _, s := range pl.Steps {
			val(s.Index)
		}
		def = pl.Result
	case *BranchOp:
		val(pl.Cond)
	case *ReturnOp:
		val(pl.Val)
	case *CallOp:
		for _, a := range pl.Args {
			val(a)
		}
		def = pl.Result
	case *IndirectCallOp:
		val(pl.Target)
		for _, a := range pl.Args {
			val(a)
		}
		def = pl.Result
	case *VirtualCallOp:
		val(pl.Object)
		for _, a := range pl.Args {
			val(a)
		}
		def = pl.Result
	case *MemberOp:
		val(pl.Object)
		val(pl.Src)
		def = pl.Result
	case *CtorOp:
		val(pl.Object)
		for _, a := range pl.Args {
			val(a)
		}
	case *DtorOp:
		val(pl.Object)
	case *HeapOp:
		val(pl.Size)
		val(pl.Count)
		val(pl.Addr)
		def = pl.Result
	case *RttiOp:
		val(pl.Operand)
		def = pl.Result
	case *GlobalOp:
		val(pl.Src)
		def = pl.Result
	case *StringOp:
		def = pl.Result
	case *EhOp:
		val(pl.Operand)
		val(pl.Filter)
		def = pl.Result
	}
	return reads, def
}

// Every temp referenced in a payload has been defined earlier in the same
// function's IR.
func checkTempDominance(t *testing.T, f *Function, table *intern.Table) {
	t.Helper()
	defined := map[Temp]bool{}
	for i := range f.Instrs {
		reads, def := instrTemps(&f.Instrs[i])
		for _, r := range reads {
			if !defined[r] {
				t.Errorf("%s: instr %d (%s) reads undefined t%d",
					table.Lookup(f.Name), i, f.Instrs[i].Op, r)
			}
		}
		if def != NoTemp {
			defined[def] = true
		}
	}
}

func TestTempsDefinedBeforeUse(t *testing.T) {
	mod, table := buildModule(t, `
int helper(int v) { return v * 3; }
int main() {
    int a = 4;
    int b = helper(a) + 2;
    if (b > 10) {
        b = b - 1;
    }
    return b;
}
`, TargetLinux)
	for _, f := range mod.Functions {
		checkTempDominance(t, f, table)
	}
}

func TestTempNumberingDense(t *testing.T) {
	mod, table := buildModule(t, `int f(int x) { return x + 1; }`, TargetLinux)
	f := findFn(t, mod, table, "f")
	if f.TempCount() == 0 {
		t.Fatal("expression lowering must allocate temps")
	}
	for i := 1; i <= f.TempCount(); i++ {
		info := f.TempInfoOf(Temp(i))
		if info.Bits == 0 && info.Type.Base == types.Invalid {
			t.Errorf("temp %d has no metadata", i)
		}
	}
}

func TestFunctionEmittedOnce(t *testing.T) {
	mod, table := buildModule(t, `
int used(int v) { return v; }
int a() { return used(1); }
int b() { return used(2); }
`, TargetLinux)
	count := 0
	for _, f := range mod.Functions {
		if table.Lookup(f.Name) == "used" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("used emitted %d times, want exactly once", count)
	}
}

func TestCallKeyedByMangledName(t *testing.T) {
	mod, table := buildModule(t, `
int target(int v) { return v; }
int main() { return target(7); }
`, TargetLinux)
	main := findFn(t, mod, table, "main")
	var call *CallOp
	for i := range main.Instrs {
		if main.Instrs[i].Op == FunctionCall {
			call = main.Instrs[i].Payload.(*CallOp)
		}
	}
	if call == nil {
		t.Fatal("no call lowered")
	}
	if table.Lookup(call.Mangled) != "_Z6targeti" {
		t.Errorf("call keyed by %q, want the final mangled name", table.Lookup(call.Mangled))
	}
}

func TestDestructorsReverseOrder(t *testing.T) {
	mod, table := buildModule(t, `
class R {
public:
    R() { }
    ~R() { }
};
void f() {
    R a;
    R b;
}
`, TargetLinux)
	f := findFn(t, mod, table, "f")
	var dtorObjs []string
	for i := range f.Instrs {
		if f.Instrs[i].Op == DestructorCall {
			d := f.Instrs[i].Payload.(*DtorOp)
			dtorObjs = append(dtorObjs, table.Lookup(d.Object.Name))
		}
	}
	if len(dtorObjs) != 2 {
		t.Fatalf("destructor calls = %v, want 2", dtorObjs)
	}
	if dtorObjs[0] != "b" || dtorObjs[1] != "a" {
		t.Errorf("destruction order = %v, want [b a] (reverse construction)", dtorObjs)
	}
}

func TestSehMarkersNested(t *testing.T) {
	mod, table := buildModule(t, `
int guarded(int x) {
    __try {
        x = x + 1;
    } __finally {
        x = 0;
    }
    return x;
}
`, TargetWindows)
	f := findFn(t, mod, table, "guarded")
	depth := 0
	sawTry, sawFinally := false, false
	for i := range f.Instrs {
		switch f.Instrs[i].Op {
		case SehTryBegin:
			depth++
			sawTry = true
		case SehTryEnd:
			depth--
			if depth < 0 {
				t.Fatal("SehTryEnd without matching begin")
			}
		case SehFinallyBegin:
			sawFinally = true
		}
	}
	if depth != 0 {
		t.Errorf("unbalanced SEH markers, depth %d at end", depth)
	}
	if !sawTry || !sawFinally {
		t.Error("__try/__finally must lower to Seh opcodes")
	}
	if !f.Decl.HasEH {
		t.Error("SEH body must mark the function as EH")
	}
}

func TestTryCatchMarkers(t *testing.T) {
	mod, table := buildModule(t, `
class Err {
public:
    int code;
};
int risky(int x) {
    try {
        if (x > 0) {
            throw Err();
        }
        return 1;
    } catch (const Err& e) {
        return 2;
    }
    return 3;
}
`, TargetWindows)
	f := findFn(t, mod, table, "risky")
	var ops []Opcode
	for i := range f.Instrs {
		switch f.Instrs[i].Op {
		case TryBegin, TryEnd, CatchBegin, CatchEnd, Throw:
			ops = append(ops, f.Instrs[i].Op)
		}
	}
	want := []Opcode{TryBegin, Throw, TryEnd, CatchBegin, CatchEnd}
	if len(ops) != len(want) {
		t.Fatalf("eh opcodes = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("eh opcode %d = %v, want %v", i, ops[i], want[i])
		}
	}
	if len(mod.ThrownTypes) != 1 {
		t.Errorf("thrown types = %d, want 1", len(mod.ThrownTypes))
	}
}

func TestSmallStructThreshold(t *testing.T) {
	src := `
struct Small { long long a; };
struct Big { long long a; long long b; long long c; };
Small makeSmall() { Small s; return s; }
Big makeBig() { Big b; return b; }
int main() {
    Big x = makeBig();
    return 0;
}
`
	mod, table := buildModule(t, src, TargetWindows)
	small := findFn(t, mod, table, "makeSmall")
	big := findFn(t, mod, table, "makeBig")
	if small.Decl.RetHidden {
		t.Error("8-byte struct returns in registers on Windows")
	}
	if !big.Decl.RetHidden {
		t.Error("24-byte struct must use the hidden return slot")
	}

	// On SysV the threshold is 16 bytes.
	mod2, table2 := buildModule(t, src, TargetLinux)
	small2 := findFn(t, mod2, table2, "makeSmall")
	if small2.Decl.RetHidden {
		t.Error("8-byte struct returns in registers on SysV too")
	}
}

func TestRangeForDesugarsToIteratorPair(t *testing.T) {
	mod, table := buildModule(t, `
int sum() {
    int arr[3] = {1, 2, 3};
    int total = 0;
    for (int v : arr) {
        total = total + v;
    }
    return total;
}
`, TargetLinux)
	f := findFn(t, mod, table, "sum")
	itSeen, endSeen := false, false
	for i := range f.Instrs {
		if a, ok := f.Instrs[i].Payload.(*AllocOp); ok {
			switch table.Lookup(a.Name) {
			case "__it":
				itSeen = true
			case "__end":
				endSeen = true
			}
		}
	}
	if !itSeen || !endSeen {
		t.Error("range-for must desugar to the __it/__end pointer pair")
	}
}

func TestDisassembleStable(t *testing.T) {
	src := `int f(int a) { return a * 2; }`
	mod1, t1 := buildModule(t, src, TargetLinux)
	mod2, t2 := buildModule(t, src, TargetLinux)
	d1 := Disassemble(t1, mod1.Functions[0])
	d2 := Disassemble(t2, mod2.Functions[0])
	if d1 != d2 {
		t.Error("disassembly must be deterministic")
	}
	if !strings.Contains(d1, "func f") || !strings.Contains(d1, "Multiply") {
		t.Errorf("disassembly missing expected content:\n%s", d1)
	}
}

func TestVirtualCallLowering(t *testing.T) {
	mod, table := buildModule(t, `
class Shape {
public:
    virtual int area() { return 0; }
};
int measure(Shape* s) {
    return s->area();
}
`, TargetLinux)
	f := findFn(t, mod, table, "measure")
	found := false
	for i := range f.Instrs {
		if f.Instrs[i].Op == VirtualCall {
			vc := f.Instrs[i].Payload.(*VirtualCallOp)
			if vc.Slot != 0 {
				t.Errorf("area occupies slot %d, want 0", vc.Slot)
			}
			found = true
		}
	}
	if !found {
		t.Error("virtual member call must lower to VirtualCall")
	}
}
