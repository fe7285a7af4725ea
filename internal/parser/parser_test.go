package parser

import (
	"strings"
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/cpplex"
	"github.com/cwbudde/go-cxx/internal/errors"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/symtab"
	"github.com/cwbudde/go-cxx/internal/templates"
	"github.com/cwbudde/go-cxx/internal/token"
	"github.com/cwbudde/go-cxx/internal/types"
)

type fixture struct {
	table  *intern.Table
	arena  *ast.Arena
	reg    *types.Registry
	syms   *symtab.Table
	engine *templates.Engine
	parser *Parser
	root   ast.NodeRef
}

func parseSource(t *testing.T, src string) *fixture {
	t.Helper()
	table := intern.NewTable()
	arena := ast.NewArena()
	reg := types.NewRegistry(table, arena)
	syms := symtab.New()
	engine := templates.NewEngine(arena, reg, syms, table)
	toks := cpplex.Lex(table, src, 0)
	stream := token.NewStream(table, toks)
	p := New(stream, arena, reg, syms, engine)
	p.SetSource(0, src)
	root := p.ParseTranslationUnit()
	return &fixture{table: table, arena: arena, reg: reg, syms: syms,
		engine: engine, parser: p, root: root}
}

func mustParse(t *testing.T, src string) *fixture {
	t.Helper()
	f := parseSource(t, src)
	if f.parser.Errors().HasErrors() {
		t.Fatalf("unexpected errors:\n%s", f.parser.Errors().Format(false))
	}
	return f
}

func (f *fixture) findFunc(name string) ast.NodeRef {
	h := f.table.Intern(name)
	var find func(r ast.NodeRef) ast.NodeRef
	find = func(r ast.NodeRef) ast.NodeRef {
		n := f.arena.Get(r)
		if n.Kind == ast.FunctionDecl && n.Name == h {
			return r
		}
		for _, k := range []ast.NodeRef{n.A, n.B, n.C} {
			_ = k
		}
		for _, k := range n.Kids {
			if got := find(k); got != ast.Nil {
				return got
			}
		}
		return ast.Nil
	}
	return find(f.root)
}

func TestSimpleFunction(t *testing.T) {
	f := mustParse(t, `
int add(int a, int b) {
    return a + b;
}
`)
	fn := f.findFunc("add")
	if fn == ast.Nil {
		t.Fatal("add not found")
	}
	n := f.arena.Get(fn)
	if !n.Is(ast.FlagDefinition) {
		t.Error("definition flag missing")
	}
	if n.Mangled == intern.Invalid {
		t.Error("mangled name must attach at declaration")
	}
	spec, ok := f.reg.ExprType(fn)
	if !ok || spec.Func == nil || len(spec.Func.Params) != 2 {
		t.Error("function signature not recorded")
	}
}

func TestMainKeepsPlainName(t *testing.T) {
	f := mustParse(t, `int main() { return 0; }`)
	fn := f.findFunc("main")
	if f.table.Lookup(f.arena.Get(fn).Mangled) != "main" {
		t.Error("main must not be mangled")
	}
}

func TestClassWithMembers(t *testing.T) {
	f := mustParse(t, `
class Counter {
public:
    Counter(int start) { value = start; }
    int get() const { return value; }
    void bump() { value = value + 1; }
private:
    int value;
};
`)
	idx := f.reg.ByName(f.table.Intern("Counter"))
	if idx == types.Invalid {
		t.Fatal("Counter not registered")
	}
	si := f.reg.Get(idx).Struct
	if si == nil || si.Phase != types.PhaseFull {
		t.Fatal("class must reach the Full phase at scope close")
	}
	if len(si.Members) != 1 || f.table.Lookup(si.Members[0].Name) != "value" {
		t.Errorf("members = %d", len(si.Members))
	}
	if si.Members[0].Access != ast.Private {
		t.Error("value must be private")
	}
	if len(si.Methods) != 3 {
		t.Fatalf("methods = %d, want ctor+get+bump", len(si.Methods))
	}
	if !si.Methods[0].IsCtor {
		t.Error("first method must be the constructor")
	}
	if f.reg.Get(idx).SizeBits != 32 {
		t.Errorf("Counter size = %d bits, want 32", f.reg.Get(idx).SizeBits)
	}
}

func TestAccessViolation(t *testing.T) {
	f := parseSource(t, `
class Sealed {
    int secret;
};
int peek(Sealed s) { return s.secret; }
`)
	if !f.parser.Errors().HasErrors() {
		t.Fatal("reading a private member must fail")
	}
	if f.parser.Errors().First().Kind != errors.AccessViolation {
		t.Errorf("kind = %v, want AccessViolation", f.parser.Errors().First().Kind)
	}
}

func TestPublicInheritanceAccess(t *testing.T) {
	mustParse(t, `
class Base {
public:
    int visible;
};
class Derived : public Base {
};
int peek(Derived d) { return d.visible; }
`)
}

func TestVirtualDispatchInfo(t *testing.T) {
	f := mustParse(t, `
class Shape {
public:
    virtual int area() { return 0; }
    virtual int name() { return 1; }
};
class Circle : public Shape {
public:
    int area() override { return 10; }
};
`)
	shape := f.reg.ByName(f.table.Intern("Shape"))
	circle := f.reg.ByName(f.table.Intern("Circle"))
	ssi := f.reg.Get(shape).Struct
	csi := f.reg.Get(circle).Struct
	if !ssi.Polymorphic || !csi.Polymorphic {
		t.Fatal("virtual classes must be polymorphic")
	}
	if len(ssi.VTable) != 2 {
		t.Fatalf("Shape vtable = %d slots", len(ssi.VTable))
	}
	if len(csi.VTable) != 2 {
		t.Fatalf("Circle vtable = %d slots (override replaces in place)", len(csi.VTable))
	}
	if csi.Methods[0].Slot != 0 {
		t.Errorf("override slot = %d, want 0", csi.Methods[0].Slot)
	}
}

func TestEnumValues(t *testing.T) {
	f := mustParse(t, `
enum Color { Red, Green = 5, Blue };
int pick() { return Blue; }
`)
	idx := f.reg.ByName(f.table.Intern("Color"))
	info := f.reg.Get(idx)
	if info.Kind != types.KindEnum {
		t.Fatal("Color must be an enum")
	}
	if len(info.Enum.Values) != 3 || info.Enum.Values[1] != 5 || info.Enum.Values[2] != 6 {
		t.Errorf("enum values = %v", info.Enum.Values)
	}
}

func TestTraitFolding(t *testing.T) {
	f := mustParse(t, `
struct Pt { int x; int y; };
int probe() { return __is_class(Pt); }
`)
	// The trait folds at parse time into the node's IVal.
	h := f.table.Intern("__is_class")
	var found *ast.Node
	for i := 1; i < f.arena.Len(); i++ {
		n := f.arena.Get(ast.NodeRef(i))
		if n.Kind == ast.TraitExpr && n.Name == h {
			found = n
		}
	}
	if found == nil {
		t.Fatal("trait expression not parsed")
	}
	if found.IVal != 1 {
		t.Errorf("__is_class(Pt) folded to %d, want 1", found.IVal)
	}
}

func TestSizeofFolding(t *testing.T) {
	f := mustParse(t, `
struct Wide { long long a; long long b; };
int probe() { return sizeof(Wide); }
`)
	var found *ast.Node
	for i := 1; i < f.arena.Len(); i++ {
		n := f.arena.Get(ast.NodeRef(i))
		if n.Kind == ast.SizeofExpr {
			found = n
		}
	}
	if found == nil || found.IVal != 16 {
		t.Fatalf("sizeof(Wide) = %v, want 16", found)
	}
}

func TestStaticAssertFailure(t *testing.T) {
	f := parseSource(t, `static_assert(1 == 2, "impossible");`)
	if !f.parser.Errors().HasErrors() {
		t.Fatal("failed static_assert must error")
	}
}

func TestFunctionTemplateRegistered(t *testing.T) {
	f := mustParse(t, `
template <typename T> T biggest(T a, T b) {
    return a > b ? a : b;
}
`)
	if f.engine.ByName(f.table.Intern("biggest")) == 0 {
		t.Fatal("function template must register with the engine")
	}
	d := f.engine.Get(f.engine.ByName(f.table.Intern("biggest")))
	if d.Form != templates.FunctionTemplate || len(d.Params) != 1 {
		t.Error("descriptor shape wrong")
	}
	if len(d.FnParams) != 2 {
		t.Errorf("deduction pattern has %d params, want 2", len(d.FnParams))
	}
}

func TestTemplateInstantiationThroughCall(t *testing.T) {
	f := mustParse(t, `
template <typename T> T identity(T v) { return v; }
int main() { return identity(41); }
`)
	if len(f.engine.Instantiated()) != 1 {
		t.Fatalf("instantiations = %d, want 1", len(f.engine.Instantiated()))
	}
	inst := f.engine.Instantiated()[0]
	n := f.arena.Get(inst)
	if n.Kind != ast.FunctionDecl || !n.Is(ast.FlagDefinition) {
		t.Error("instantiation must be a defined function")
	}
	mangled := f.table.Lookup(n.Mangled)
	if !strings.Contains(mangled, "identity") && !strings.Contains(mangled, "Ii") {
		t.Errorf("instance mangled name %q must encode the arguments", mangled)
	}
}

func TestInstantiationCachedAcrossCalls(t *testing.T) {
	f := mustParse(t, `
template <typename T> T pass(T v) { return v; }
int a() { return pass(1); }
int b() { return pass(2); }
int c() { return pass(3.5); }
`)
	// int twice -> one instance; double -> a second.
	if got := len(f.engine.Instantiated()); got != 2 {
		t.Fatalf("instantiations = %d, want 2 (int, double)", got)
	}
}

func TestClassTemplate(t *testing.T) {
	f := mustParse(t, `
template <typename T> class Box {
public:
    T item;
};
int main() {
    Box<int> b;
    b.item = 3;
    return b.item;
}
`)
	idx := f.reg.ByNameString("Box<int>")
	if idx == types.Invalid {
		t.Fatal("Box<int> must exist after use")
	}
	info := f.reg.Get(idx)
	if info.Struct == nil || info.Struct.Phase < types.PhaseLayout {
		t.Fatal("instantiation must be laid out")
	}
	if info.SizeBits != 32 {
		t.Errorf("Box<int> size = %d bits, want 32", info.SizeBits)
	}
	if len(info.Args) != 1 || !info.Args[0].IsType {
		t.Error("instantiation must record its argument vector")
	}
}

func TestTryCatchParses(t *testing.T) {
	f := mustParse(t, `
class Err {};
int risky(int x) {
    try {
        if (x > 0) {
            throw Err();
        }
        return 1;
    } catch (const Err& e) {
        return 2;
    }
}
`)
	var tryNode *ast.Node
	for i := 1; i < f.arena.Len(); i++ {
		n := f.arena.Get(ast.NodeRef(i))
		if n.Kind == ast.TryStmt {
			tryNode = n
		}
	}
	if tryNode == nil {
		t.Fatal("try statement not parsed")
	}
	if len(tryNode.Kids) != 1 || f.arena.Get(tryNode.Kids[0]).Kind != ast.CatchClause {
		t.Error("catch clause must attach to the try")
	}
}

func TestSehParses(t *testing.T) {
	f := mustParse(t, `
int guarded() {
    __try {
        return 1;
    } __finally {
        int cleanup = 0;
    }
}
`)
	var seh *ast.Node
	for i := 1; i < f.arena.Len(); i++ {
		n := f.arena.Get(ast.NodeRef(i))
		if n.Kind == ast.SehTryStmt {
			seh = n
		}
	}
	if seh == nil {
		t.Fatal("__try not parsed")
	}
	if f.arena.Get(seh.B).Kind != ast.SehFinallyClause {
		t.Error("__finally clause missing")
	}
}

func TestLambdaClosureType(t *testing.T) {
	f := mustParse(t, `
int apply() {
    int base = 10;
    auto f = [base](int x) -> int { return base + x; };
    return 0;
}
`)
	var lam *ast.Node
	for i := 1; i < f.arena.Len(); i++ {
		n := f.arena.Get(ast.NodeRef(i))
		if n.Kind == ast.LambdaExpr {
			lam = n
		}
	}
	if lam == nil {
		t.Fatal("lambda not parsed")
	}
	closure := types.TypeIndex(lam.IVal)
	si := f.reg.Get(closure).Struct
	if si == nil {
		t.Fatal("closure struct missing")
	}
	if len(si.Members) != 1 || f.table.Lookup(si.Members[0].Name) != "base" {
		t.Error("capture must become a closure member")
	}
	found := false
	for _, m := range si.Methods {
		if f.table.Lookup(m.Name) == "operator()" {
			found = true
		}
	}
	if !found {
		t.Error("call operator must register on the closure")
	}
}

func TestNestedClasses(t *testing.T) {
	f := mustParse(t, `
class Outer {
public:
    class Inner {
    public:
        int v;
    };
    int x;
};
`)
	if f.reg.ByName(f.table.Intern("Inner")) == types.Invalid {
		t.Error("nested class must register a type")
	}
}

func TestNamespaceQualifiedCall(t *testing.T) {
	mustParse(t, `
namespace util {
    int twice(int v) { return v * 2; }
}
int main() { return util::twice(21); }
`)
}

func TestRecursionLimitOnDeepExpr(t *testing.T) {
	depth := MaxDepth + 8
	src := "int x = " + strings.Repeat("(", depth) + "1" + strings.Repeat(")", depth) + ";"
	f := parseSource(t, src)
	if !f.parser.Errors().HasErrors() {
		t.Fatal("pathological nesting must hit the recursion limit")
	}
	if f.parser.Errors().First().Kind != errors.RecursionLimit {
		t.Errorf("kind = %v, want RecursionLimit", f.parser.Errors().First().Kind)
	}
}
