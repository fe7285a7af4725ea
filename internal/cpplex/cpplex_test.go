package cpplex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
)

func lex(src string) (*intern.Table, []token.Token) {
	tab := intern.NewTable()
	return tab, Lex(tab, src, 0)
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestBasicTokens(t *testing.T) {
	tab, toks := lex("int main() { return 42; }")
	want := []struct {
		kind token.Kind
		text string
	}{
		{token.Keyword, "int"},
		{token.Identifier, "main"},
		{token.Punctuator, "("},
		{token.Punctuator, ")"},
		{token.Punctuator, "{"},
		{token.Keyword, "return"},
		{token.Literal, "42"},
		{token.Punctuator, ";"},
		{token.Punctuator, "}"},
	}
	if len(toks) != len(want)+1 {
		t.Fatalf("token count = %d, want %d + EOF", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || tab.Lookup(toks[i].Lexeme) != w.text {
			t.Errorf("token %d = %v %q, want %v %q",
				i, toks[i].Kind, tab.Lookup(toks[i].Lexeme), w.kind, w.text)
		}
	}
}

func TestCommentsSkipped(t *testing.T) {
	_, toks := lex("a // line\n/* block */ b")
	if len(toks) != 3 { // a, b, EOF
		t.Fatalf("token count = %d, want 3", len(toks))
	}
}

func TestPreprocessorLinesSkipped(t *testing.T) {
	_, toks := lex("#include <x>\nint v;")
	if toks[0].Kind != token.Keyword {
		t.Errorf("first token kind = %v, want keyword int", toks[0].Kind)
	}
}

func TestMultiCharOperators(t *testing.T) {
	tab, toks := lex("a == b && c <=> d :: e ... f")
	wantOps := []string{"==", "&&", "<=>", "::", "..."}
	got := []string{}
	for _, tk := range toks {
		if tk.Kind == token.Operator || tk.Kind == token.Punctuator {
			got = append(got, tab.Lookup(tk.Lexeme))
		}
	}
	for i, op := range wantOps {
		if i >= len(got) || got[i] != op {
			t.Errorf("operator %d = %v, want %q", i, got, op)
		}
	}
}

func TestStringAndCharLiterals(t *testing.T) {
	tab, toks := lex(`"hi\n" 'x'`)
	if toks[0].Kind != token.Literal || tab.Lookup(toks[0].Lexeme) != `"hi\n"` {
		t.Errorf("string literal = %q", tab.Lookup(toks[0].Lexeme))
	}
	if toks[1].Kind != token.Literal || tab.Lookup(toks[1].Lexeme) != "'x'" {
		t.Errorf("char literal = %q", tab.Lookup(toks[1].Lexeme))
	}
}

func TestLineNumbers(t *testing.T) {
	_, toks := lex("a\nb\n  c")
	if toks[0].Line != 1 || toks[1].Line != 2 || toks[2].Line != 3 {
		t.Errorf("lines = %d %d %d, want 1 2 3", toks[0].Line, toks[1].Line, toks[2].Line)
	}
	if toks[2].Column != 3 {
		t.Errorf("column of c = %d, want 3", toks[2].Column)
	}
}

// The shipped end-to-end fixtures all tokenize cleanly.
func TestFixtureCorpus(t *testing.T) {
	files, err := filepath.Glob("../../testdata/*.cpp")
	if err != nil || len(files) == 0 {
		t.Fatalf("no fixtures found: %v", err)
	}
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		_, toks := lex(string(src))
		// The feature-macro fixture is nearly all preprocessor lines, so
		// the floor is low; the rest of the corpus is far above it.
		if len(toks) < 10 {
			t.Errorf("%s produced only %d tokens", f, len(toks))
		}
		if toks[len(toks)-1].Kind != token.EOF {
			t.Errorf("%s does not end in EOF", f)
		}
	}
}

func TestKindsHelperCompiles(t *testing.T) {
	_, toks := lex("x")
	if len(kinds(toks)) != len(toks) {
		t.Fatal("helper mismatch")
	}
}
