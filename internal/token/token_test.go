package token

import (
	"testing"

	"github.com/cwbudde/go-cxx/internal/intern"
)

func stream(t *testing.T, words ...string) *Stream {
	t.Helper()
	tab := intern.NewTable()
	toks := make([]Token, 0, len(words))
	for i, w := range words {
		toks = append(toks, Token{
			Kind: Identifier, Lexeme: tab.Intern(w),
			Line: 1, Column: uint32(i + 1),
		})
	}
	return NewStream(tab, toks)
}

func TestStreamAppendsEOF(t *testing.T) {
	s := stream(t, "a", "b")
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (two tokens + EOF)", s.Len())
	}
}

func TestSaveRestore(t *testing.T) {
	s := stream(t, "a", "b", "c")
	s.Next()
	save := s.Save()
	s.Next()
	s.Next()
	if s.Cur().Kind != EOF {
		t.Fatal("expected EOF after consuming all tokens")
	}
	s.Restore(save)
	if s.Text(s.Cur()) != "b" {
		t.Errorf("after restore, cur = %q, want b", s.Text(s.Cur()))
	}
}

func TestPeekPastEnd(t *testing.T) {
	s := stream(t, "a")
	if s.Peek(10).Kind != EOF {
		t.Error("peek past the end must return EOF")
	}
}

func TestNextStopsAtEOF(t *testing.T) {
	s := stream(t, "a")
	s.Next()
	s.Next()
	s.Next()
	if s.Cur().Kind != EOF {
		t.Error("cursor must pin at EOF")
	}
}
