// Package symtab implements the scope tree the front end resolves names
// against. Scopes form a tree of namespace, class, function, and block
// scopes; each maps a name handle to an insertion-ordered list of AST
// references so function overloads keep their declaration order, and
// lookup is stable under re-instantiation.
package symtab

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
)

// ScopeKind classifies a scope.
type ScopeKind uint8

const (
	NamespaceScope ScopeKind = iota
	ClassScope
	FunctionScope
	BlockScope
)

func (k ScopeKind) String() string {
	switch k {
	case NamespaceScope:
		return "namespace"
	case ClassScope:
		return "class"
	case FunctionScope:
		return "function"
	}
	return "block"
}

// Scope is one node of the scope tree.
type Scope struct {
	Kind   ScopeKind
	Name   intern.Handle // empty for blocks and the global namespace
	Parent *Scope
	Decl   ast.NodeRef // owning declaration (class/function), if any

	names map[intern.Handle][]ast.NodeRef

	// Named children, so qualified lookup can follow a namespace path and
	// ADL can find a type's enclosing namespace again. childOrder keeps
	// traversal deterministic.
	children   map[intern.Handle]*Scope
	childOrder []*Scope
}

func newScope(kind ScopeKind, name intern.Handle, parent *Scope) *Scope {
	return &Scope{
		Kind:     kind,
		Name:     name,
		Parent:   parent,
		names:    make(map[intern.Handle][]ast.NodeRef, 8),
		children: make(map[intern.Handle]*Scope, 2),
	}
}

// Define appends decl to the overload list of name in this scope.
func (s *Scope) Define(name intern.Handle, decl ast.NodeRef) {
	s.names[name] = append(s.names[name], decl)
}

// Local returns the declarations of name in this scope only.
func (s *Scope) Local(name intern.Handle) []ast.NodeRef {
	return s.names[name]
}

// Path returns the scope names from the global namespace down to s,
// skipping unnamed scopes. This is the mangling context of the scope.
func (s *Scope) Path() []intern.Handle {
	var rev []intern.Handle
	for sc := s; sc != nil; sc = sc.Parent {
		if sc.Name != intern.Invalid {
			rev = append(rev, sc.Name)
		}
	}
	out := make([]intern.Handle, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

// Table owns the scope tree and the cursor the parser moves through it.
type Table struct {
	Global *Scope
	cur    *Scope
	depth  int
}

// New creates a table with an empty global namespace as the current scope.
func New() *Table {
	g := newScope(NamespaceScope, intern.Invalid, nil)
	return &Table{Global: g, cur: g}
}

// Current returns the scope the cursor is in.
func (t *Table) Current() *Scope { return t.cur }

// Depth returns the cursor depth (global scope is 0).
func (t *Table) Depth() int { return t.depth }

// Push enters a new child scope. Named namespace scopes are reopened if a
// sibling of the same name already exists, so `namespace a { } namespace a
// { }` accumulates into one scope.
func (t *Table) Push(kind ScopeKind, name intern.Handle, decl ast.NodeRef) *Scope {
	if kind == NamespaceScope && name != intern.Invalid {
		if prev, ok := t.cur.children[name]; ok && prev.Kind == NamespaceScope {
			t.cur = prev
			t.depth++
			return prev
		}
	}
	s := newScope(kind, name, t.cur)
	s.Decl = decl
	if name != intern.Invalid {
		if _, taken := t.cur.children[name]; !taken {
			t.cur.children[name] = s
			t.cur.childOrder = append(t.cur.childOrder, s)
		}
	}
	t.cur = s
	t.depth++
	return s
}

// Pop leaves the current scope.
func (t *Table) Pop() {
	if t.cur.Parent != nil {
		t.cur = t.cur.Parent
		t.depth--
	}
}

// Mark captures the cursor so re-entrant parsing can restore it. The
// returned handle is the depth plus the scope pointer.
type Mark struct {
	scope *Scope
	depth int
}

// Save captures the cursor position.
func (t *Table) Save() Mark { return Mark{scope: t.cur, depth: t.depth} }

// Restore moves the cursor back to a previously saved position.
func (t *Table) Restore(m Mark) {
	t.cur = m.scope
	t.depth = m.depth
}

// SetCurrent moves the cursor to an arbitrary scope (template re-entry
// parses a body in the scope it was declared in, not the call site's).
func (t *Table) SetCurrent(s *Scope) {
	t.cur = s
	t.depth = 0
	for p := s; p.Parent != nil; p = p.Parent {
		t.depth++
	}
}

// Define records decl under name in the current scope.
func (t *Table) Define(name intern.Handle, decl ast.NodeRef) {
	t.cur.Define(name, decl)
}

// Lookup resolves name by walking outward from the current scope. The
// returned list aliases the scope's overload list; callers must not
// mutate it.
func (t *Table) Lookup(name intern.Handle) []ast.NodeRef {
	for s := t.cur; s != nil; s = s.Parent {
		if refs := s.names[name]; len(refs) > 0 {
			return refs
		}
	}
	return nil
}

// LookupScope resolves name to the scope that declares it.
func (t *Table) LookupScope(name intern.Handle) *Scope {
	for s := t.cur; s != nil; s = s.Parent {
		if len(s.names[name]) > 0 {
			return s
		}
	}
	return nil
}

// LookupQualified follows an explicit namespace/class path from the global
// scope (or the current scope if the head matches an enclosing child) and
// resolves the final name inside it.
func (t *Table) LookupQualified(path []intern.Handle, name intern.Handle) []ast.NodeRef {
	scope := t.resolvePath(path)
	if scope == nil {
		return nil
	}
	return scope.names[name]
}

// Children returns the named child scopes of s in creation order.
func (s *Scope) Children() []*Scope { return s.childOrder }

// ResolveChild returns the named child scope of s, or nil.
func (s *Scope) ResolveChild(name intern.Handle) *Scope {
	return s.children[name]
}

func (t *Table) resolvePath(path []intern.Handle) *Scope {
	if len(path) == 0 {
		return t.Global
	}
	// Try relative first, teacher-style outward walk, then absolute.
	for start := t.cur; start != nil; start = start.Parent {
		if s := followPath(start, path); s != nil {
			return s
		}
	}
	return followPath(t.Global, path)
}

func followPath(from *Scope, path []intern.Handle) *Scope {
	s := from
	for _, h := range path {
		next := s.children[h]
		if next == nil {
			return nil
		}
		s = next
	}
	return s
}

// EnclosingClass returns the nearest class scope at or above the cursor.
func (t *Table) EnclosingClass() *Scope {
	for s := t.cur; s != nil; s = s.Parent {
		if s.Kind == ClassScope {
			return s
		}
	}
	return nil
}

// EnclosingNamespace returns the nearest namespace scope at or above the
// cursor (always at least the global scope).
func (t *Table) EnclosingNamespace() *Scope {
	for s := t.cur; s != nil; s = s.Parent {
		if s.Kind == NamespaceScope {
			return s
		}
	}
	return t.Global
}
