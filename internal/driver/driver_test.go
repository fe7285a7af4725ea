package driver

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/gkampitakis/go-snaps/snaps"
)

const calcSrc = `
int add(int a, int b) {
    return a + b;
}

int main() {
    int x = add(20, 22);
    return x;
}
`

const classSrc = `
class Counter {
public:
    Counter(int start) { value = start; }
    int get() const { return value; }
private:
    int value;
};

int main() {
    Counter c(5);
    return c.get();
}
`

const ehSrc = `
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
`

func compile(t *testing.T, src, target string) ([]byte, *Session) {
	t.Helper()
	sess := NewSession(Options{Target: target})
	obj, err := sess.CompileSource(src, "test.cpp")
	if err != nil {
		t.Fatalf("compile for %s failed: %v", target, err)
	}
	return obj, sess
}

func TestCompileELF(t *testing.T) {
	obj, sess := compile(t, calcSrc, "x86_64-linux-gnu")
	if !bytes.HasPrefix(obj, []byte{0x7F, 'E', 'L', 'F'}) {
		t.Fatal("linux target must produce ELF")
	}
	if len(sess.Funcs) != 2 {
		t.Errorf("encoded %d functions, want 2", len(sess.Funcs))
	}
	if !bytes.Contains(obj, []byte("_Z3addii")) {
		t.Error("object must carry the itanium-mangled symbol")
	}
	if !bytes.Contains(obj, []byte("main")) {
		t.Error("object must carry main")
	}
}

func TestCompileCOFF(t *testing.T) {
	obj, _ := compile(t, calcSrc, "x86_64-pc-windows-msvc")
	if binary.LittleEndian.Uint16(obj[0:]) != 0x8664 {
		t.Fatal("windows target must produce AMD64 COFF")
	}
	if !bytes.Contains(obj, []byte("?add@@YAHHH@Z")) {
		t.Error("object must carry the msvc-mangled symbol")
	}
	if !bytes.Contains(obj, []byte(".pdata")) || !bytes.Contains(obj, []byte(".xdata")) {
		t.Error("COFF objects carry .pdata/.xdata")
	}
}

// Identical input produces bit-identical output.
func TestDeterministicOutput(t *testing.T) {
	for _, target := range []string{"x86_64-linux-gnu", "x86_64-pc-windows-msvc"} {
		a, _ := compile(t, classSrc, target)
		b, _ := compile(t, classSrc, target)
		if !bytes.Equal(a, b) {
			t.Errorf("%s: two runs produced different bytes", target)
		}
	}
}

func TestClassCompiles(t *testing.T) {
	obj, sess := compile(t, classSrc, "x86_64-pc-windows-msvc")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
	// Ctor, get, main.
	if len(sess.Funcs) != 3 {
		t.Errorf("encoded %d functions, want 3", len(sess.Funcs))
	}
	if !bytes.Contains(obj, []byte("?get@Counter@@QEBAHXZ")) {
		t.Error("member function symbol missing")
	}
}

func TestExceptionMetadata(t *testing.T) {
	obj, sess := compile(t, ehSrc, "x86_64-pc-windows-msvc")
	var risky *ir.Function
	for _, f := range sess.Module.Functions {
		if sess.Table.Lookup(f.Name) == "risky" {
			risky = f
		}
	}
	if risky == nil || !risky.Decl.HasEH {
		t.Fatal("risky must be an EH function")
	}
	// FuncInfo magic in .xdata.
	magic := []byte{0x22, 0x05, 0x93, 0x19}
	if !bytes.Contains(obj, magic) {
		t.Error("FuncInfo magic 0x19930522 missing from the object")
	}
	if !bytes.Contains(obj, []byte("__CxxFrameHandler3")) {
		t.Error("EH objects reference __CxxFrameHandler3")
	}
	if !bytes.Contains(obj, []byte("_CxxThrowException")) {
		t.Error("throw must reference _CxxThrowException")
	}
}

func TestItaniumEH(t *testing.T) {
	obj, _ := compile(t, ehSrc, "x86_64-linux-gnu")
	if !bytes.Contains(obj, []byte("__gxx_personality_v0")) {
		t.Error("ELF EH must reference the Itanium personality")
	}
	if !bytes.Contains(obj, []byte("__cxa_throw")) {
		t.Error("throw must reference __cxa_throw")
	}
	if !bytes.Contains(obj, []byte(".eh_frame")) {
		t.Error(".eh_frame section missing")
	}
}

func TestHardErrorProducesNoObject(t *testing.T) {
	sess := NewSession(Options{Target: "x86_64-linux-gnu"})
	obj, err := sess.CompileSource(`
class Sealed {
    int secret;
};
int peek(Sealed s) { return s.secret; }
`, "bad.cpp")
	if err == nil {
		t.Fatal("access violation must fail the unit")
	}
	if obj != nil {
		t.Error("no partial object may be written on a hard error")
	}
	if !strings.Contains(err.Error(), "access violation") {
		t.Errorf("diagnostic %q must name the violation", err.Error())
	}
}

func TestVirtualDispatchEmitsVTable(t *testing.T) {
	src := `
class Shape {
public:
    virtual int area() { return 0; }
};
class Circle : public Shape {
public:
    int area() override { return 3; }
};
int measure(Shape* s) { return s->area(); }
`
	obj, _ := compile(t, src, "x86_64-pc-windows-msvc")
	if !bytes.Contains(obj, []byte("??_7Shape@@6B@")) {
		t.Error("Shape vftable symbol missing")
	}
	if !bytes.Contains(obj, []byte("??_7Circle@@6B@")) {
		t.Error("Circle vftable symbol missing")
	}
	if !bytes.Contains(obj, []byte("??_R0")) {
		t.Error("type descriptors missing for polymorphic classes")
	}
}

func TestTemplateEndToEnd(t *testing.T) {
	src := `
template <typename T> T biggest(T a, T b) {
    return a > b ? a : b;
}
int main() {
    return biggest(3, 4);
}
`
	obj, sess := compile(t, src, "x86_64-linux-gnu")
	if len(sess.Funcs) != 2 {
		t.Fatalf("encoded %d functions, want main + one instantiation", len(sess.Funcs))
	}
	found := false
	for _, f := range sess.Funcs {
		name := sess.Table.Lookup(f.Mangled)
		if strings.HasPrefix(name, "_Z7biggestIiE") {
			found = true
		}
	}
	if !found {
		t.Error("instantiated template symbol missing")
	}
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
}

// IR of a fixed program, pinned as a snapshot in the teacher's fixture
// style.
func TestIRSnapshot(t *testing.T) {
	_, sess := compile(t, calcSrc, "x86_64-linux-gnu")
	var dump strings.Builder
	for _, f := range sess.Module.Functions {
		dump.WriteString(ir.Disassemble(sess.Table, f))
		dump.WriteString("\n")
	}
	snaps.MatchSnapshot(t, dump.String())
}

func TestSehScopeTable(t *testing.T) {
	src := `
int guarded(int x) {
    __try {
        x = x + 1;
    } __finally {
        x = 0;
    }
    return x;
}
`
	obj, _ := compile(t, src, "x86_64-pc-windows-msvc")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
}

func TestDllExportDirective(t *testing.T) {
	src := `
__declspec(dllexport) int api(int v) { return v; }
`
	obj, _ := compile(t, src, "x86_64-pc-windows-msvc")
	if !bytes.Contains(obj, []byte("/EXPORT:")) {
		t.Error("dllexport must surface as a linker directive")
	}
}

func TestGlobalsPlacement(t *testing.T) {
	src := `
int initialized = 7;
int zeroed;
int main() { return initialized; }
`
	obj, sess := compile(t, src, "x86_64-linux-gnu")
	if len(sess.Module.Globals) != 2 {
		t.Fatalf("globals = %d, want 2", len(sess.Module.Globals))
	}
	if !bytes.Contains(obj, []byte("initialized")) || !bytes.Contains(obj, []byte("zeroed")) {
		t.Error("global symbols missing")
	}
}
