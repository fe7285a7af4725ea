package ast

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/token"
)

func TestArenaRefZeroIsInvalid(t *testing.T) {
	a := NewArena()
	if a.Kind(Nil) != Invalid {
		t.Fatal("slot 0 must stay the invalid node")
	}
}

func TestArenaPointerStability(t *testing.T) {
	a := NewArena()
	first := a.New(IntLit, token.Token{})
	p := a.Get(first)
	p.IVal = 42
	// Force several chunk growths.
	for i := 0; i < 5000; i++ {
		a.New(Ident, token.Token{})
	}
	if a.Get(first) != p {
		t.Fatal("node pointer moved after arena growth")
	}
	if a.Get(first).IVal != 42 {
		t.Fatal("node content lost after growth")
	}
}

func TestAttachBodyOnce(t *testing.T) {
	a := NewArena()
	fn := a.New(FunctionDecl, token.Token{})
	body := a.New(CompoundStmt, token.Token{})
	a.AttachBody(fn, body)
	if a.Get(fn).B != body || !a.Get(fn).Is(FlagDefinition) {
		t.Fatal("body not attached")
	}
	defer func() {
		if recover() == nil {
			t.Error("second AttachBody must panic")
		}
	}()
	a.AttachBody(fn, body)
}

func TestMangledNameAttachedOnce(t *testing.T) {
	a := NewArena()
	fn := a.New(FunctionDecl, token.Token{})
	a.AttachMangledName(fn, 7)
	a.AttachMangledName(fn, 9)
	if a.Get(fn).Mangled != 7 {
		t.Error("mangled name must never be recomputed")
	}
}

func TestMemberFunctionAppend(t *testing.T) {
	a := NewArena()
	cls := a.New(ClassDecl, token.Token{})
	m1 := a.New(FunctionDecl, token.Token{})
	m2 := a.New(FunctionDecl, token.Token{})
	a.AppendMemberFunction(cls, m1)
	a.AppendMemberFunction(cls, m2)
	kids := a.Get(cls).Kids
	if len(kids) != 2 || kids[0] != m1 || kids[1] != m2 {
		t.Error("member functions must keep insertion order")
	}
}
