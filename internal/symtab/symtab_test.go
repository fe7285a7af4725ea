package symtab

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
)

func TestLookupWalksOutward(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	name := tab.Intern("x")
	st.Define(name, 1)
	st.Push(BlockScope, intern.Invalid, ast.Nil)
	if got := st.Lookup(name); len(got) != 1 || got[0] != 1 {
		t.Fatal("inner scope must see outer definitions")
	}
	inner := tab.Intern("y")
	st.Define(inner, 2)
	st.Pop()
	if st.Lookup(inner) != nil {
		t.Error("popped scope's names must not leak")
	}
}

func TestOverloadOrderStable(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	f := tab.Intern("f")
	st.Define(f, 10)
	st.Define(f, 20)
	st.Define(f, 30)
	got := st.Lookup(f)
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("overload set order = %v, want insertion order", got)
	}
}

func TestQualifiedLookup(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	ns := tab.Intern("math")
	fn := tab.Intern("abs")
	st.Push(NamespaceScope, ns, ast.Nil)
	st.Define(fn, 5)
	st.Pop()
	got := st.LookupQualified([]intern.Handle{ns}, fn)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("qualified lookup = %v", got)
	}
}

func TestNamespaceReopen(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	ns := tab.Intern("a")
	s1 := st.Push(NamespaceScope, ns, ast.Nil)
	st.Pop()
	s2 := st.Push(NamespaceScope, ns, ast.Nil)
	st.Pop()
	if s1 != s2 {
		t.Error("re-opening a namespace must reuse its scope")
	}
}

func TestSaveRestore(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	mark := st.Save()
	st.Push(FunctionScope, tab.Intern("f"), ast.Nil)
	st.Push(BlockScope, intern.Invalid, ast.Nil)
	if st.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", st.Depth())
	}
	st.Restore(mark)
	if st.Depth() != 0 || st.Current() != st.Global {
		t.Error("restore must return to the saved scope and depth")
	}
}

func TestPathSkipsUnnamed(t *testing.T) {
	tab := intern.NewTable()
	st := New()
	a := tab.Intern("outer")
	st.Push(NamespaceScope, a, ast.Nil)
	st.Push(BlockScope, intern.Invalid, ast.Nil)
	path := st.Current().Path()
	if len(path) != 1 || path[0] != a {
		t.Errorf("path = %v, want [outer]", path)
	}
}
