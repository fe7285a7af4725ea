// Package mangle builds the ABI-visible linker names of functions and
// types. Two schemas are implemented: Itanium for ELF targets and the
// MSVC scheme for COFF targets. Both are deterministic; a function's
// mangled name is computed once and attached to its declaration.
//
// A demangler for the compiler's own output alphabet lives in
// demangle.go; mangle-demangle-mangle is the identity on it.
package mangle

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Target selects the schema.
type Target int

const (
	ELF Target = iota // Itanium
	COFF              // MSVC
)

// Entity describes a function to be mangled: its scope path, name,
// signature, and qualifiers. Scope components are outermost first; Class
// is the immediate enclosing class ("" for free functions).
type Entity struct {
	Namespace []string
	Class     string
	Name      string

	Params   []types.Specifier
	Return   types.Specifier
	Variadic bool

	Const    bool
	Volatile bool
	Ref      types.RefKind

	TemplateArgs []types.TemplateArg

	Access ast.Access
	Static bool

	// Constructor/destructor selectors.
	IsCtor bool
	IsDtor bool
}

// For mangles e for the given target.
func For(target Target, reg *types.Registry, e *Entity) string {
	if target == COFF {
		return MSVC(reg, e)
	}
	return Itanium(reg, e)
}
