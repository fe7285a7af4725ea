package driver

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// The end-to-end fixture corpus from testdata/ drives the whole pipeline:
// lex, parse, instantiate, lower, encode, and write the object file.
// The feature-macro fixture relies on the stand-in tokenizer predefining
// the language feature-test macros, exactly as the spec assigns to the
// preprocessor collaborator.

func readFixture(t *testing.T, name string) string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(src)
}

func compileFixture(t *testing.T, name, target string) ([]byte, *Session) {
	t.Helper()
	src := readFixture(t, name)
	sess := NewSession(Options{Target: target})
	obj, err := sess.CompileSource(src, name)
	if err != nil {
		t.Fatalf("%s on %s: %v", name, target, err)
	}
	return obj, sess
}

// Scenario: access control on inheritance. The fixture compiles to an
// object with a function symbol for every test_* function; a variant that
// reads a private base member directly from a derived class fails with
// AccessViolation.
func TestFixtureAccessControl(t *testing.T) {
	obj, sess := compileFixture(t, "test_access_control.cpp", "x86_64-linux-gnu")
	wantFns := []string{
		"test_public_inheritance",
		"test_protected_access",
		"test_private_not_accessible",
		"test_protected_inheritance",
		"test_private_inheritance",
		"test_mixed_access",
		"test_multilevel_access",
	}
	for _, fn := range wantFns {
		found := false
		for _, f := range sess.Module.Functions {
			if sess.Table.Lookup(f.Name) == fn {
				found = true
			}
		}
		if !found {
			t.Errorf("function %s not emitted", fn)
		}
	}
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
}

func TestFixtureAccessControlViolation(t *testing.T) {
	src := readFixture(t, "test_access_control.cpp") + `
int read_private_directly(PrivateDerived d) {
    return d.private_member;
}
`
	sess := NewSession(Options{Target: "x86_64-linux-gnu"})
	obj, err := sess.CompileSource(src, "test_access_control_violation.cpp")
	if err == nil {
		t.Fatal("reading a private base member from outside must fail")
	}
	if obj != nil {
		t.Error("no partial object on a hard error")
	}
	if !strings.Contains(err.Error(), "access violation") {
		t.Errorf("diagnostic %q must report the access violation", err.Error())
	}
}

// Scenario: C++20 lambdas. The fixture compiles; the generic-lambda
// sub-tests produce exactly one operator() instantiation per distinct
// argument-type vector observed (the two-auto adder called with
// (int,int), the template lambda called with (int), and the recursive
// factorial called with (closure,int)).
func TestFixtureLambdaComprehensive(t *testing.T) {
	obj, sess := compileFixture(t, "test_lambda_cpp20_comprehensive.cpp", "x86_64-linux-gnu")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
	mainSeen := false
	for _, f := range sess.Module.Functions {
		if sess.Table.Lookup(f.Name) == "main" {
			mainSeen = true
		}
	}
	if !mainSeen {
		t.Error("main not emitted")
	}
	if got := sess.Parser.GenericInstantiationCount(); got != 3 {
		t.Errorf("generic operator() instantiations = %d, want 3 (one per distinct vector)", got)
	}
}

// Scenario: language feature-test macros. The stand-in tokenizer supplies
// the macro values the preprocessor collaborator is specified to define;
// the translation unit compiles clean and main is emitted.
func TestFixtureFeatureMacros(t *testing.T) {
	_, sess := compileFixture(t, "test_language_feature_macros_ret42.cpp", "x86_64-linux-gnu")
	if len(sess.Module.Functions) != 1 || sess.Table.Lookup(sess.Module.Functions[0].Name) != "main" {
		t.Error("the macro fixture reduces to a single clean main")
	}
}

// Scenario: type-trait intrinsics evaluate at compile time across the
// whole fixture.
func TestFixtureTypeTraits(t *testing.T) {
	obj, sess := compileFixture(t, "test_type_traits_intrinsics.cpp", "x86_64-pc-windows-msvc")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
	count := 0
	for _, f := range sess.Module.Functions {
		if strings.HasPrefix(sess.Table.Lookup(f.Name), "test_") {
			count++
		}
	}
	if count < 15 {
		t.Errorf("emitted %d trait test functions, want the full suite", count)
	}
}

// Scenario: the newer classification intrinsics, including pointer,
// bounded/unbounded array, volatile, and reference forms.
func TestFixtureNewIntrinsics(t *testing.T) {
	obj, sess := compileFixture(t, "test_new_intrinsics.cpp", "x86_64-linux-gnu")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
	count := 0
	for _, f := range sess.Module.Functions {
		if strings.HasPrefix(sess.Table.Lookup(f.Name), "test_is_") {
			count++
		}
	}
	if count != 13 {
		t.Errorf("emitted %d intrinsic test functions, want 13", count)
	}
}

// Scenario: nested classes, each test function emitted as its own symbol.
func TestFixtureNestedClasses(t *testing.T) {
	obj, sess := compileFixture(t, "test_nested_classes.cpp", "x86_64-pc-windows-msvc")
	if len(obj) == 0 {
		t.Fatal("empty object")
	}
	found := false
	tests := 0
	for _, f := range sess.Module.Functions {
		name := sess.Table.Lookup(f.Name)
		if name == "test_basic_nested_class" {
			found = true
		}
		if strings.HasPrefix(name, "test_") {
			tests++
		}
	}
	if !found {
		t.Error("test_basic_nested_class not emitted")
	}
	if tests < 12 {
		t.Errorf("emitted %d test_* symbols, want one per fixture scenario", tests)
	}
}

// The whole corpus is deterministic: compiling a fixture twice produces
// identical bytes.
func TestFixturesDeterministic(t *testing.T) {
	fixtures := []string{
		"test_access_control.cpp",
		"test_lambda_cpp20_comprehensive.cpp",
		"test_language_feature_macros_ret42.cpp",
		"test_type_traits_intrinsics.cpp",
		"test_new_intrinsics.cpp",
		"test_nested_classes.cpp",
	}
	for _, name := range fixtures {
		a, _ := compileFixture(t, name, "x86_64-linux-gnu")
		b, _ := compileFixture(t, name, "x86_64-linux-gnu")
		if !bytes.Equal(a, b) {
			t.Errorf("%s: two runs differ", name)
		}
	}
}

// Distilled memoization check: the same generic lambda called with a
// repeated vector reuses its instantiation; a new vector adds one.
func TestGenericLambdaMemoization(t *testing.T) {
	src := `
int main() {
    auto id = [](auto v) { return v; };
    int a = id(1);
    int b = id(2);
    double c = id(1.5);
    return a + b;
}
`
	sess := NewSession(Options{Target: "x86_64-linux-gnu"})
	if _, err := sess.CompileSource(src, "generic.cpp"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := sess.Parser.GenericInstantiationCount(); got != 2 {
		t.Errorf("instantiations = %d, want 2 (int reused, double fresh)", got)
	}
}
