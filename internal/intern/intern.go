// Package intern implements the string-intern table used throughout the
// compiler. Every identifier, mangled name, and file path becomes a stable
// Handle valid for the lifetime of the process; equal handles imply equal
// content.
package intern

// Handle is a dense identifier for an interned string. Handle 0 is the
// reserved invalid value and never names a string.
type Handle uint32

// Invalid is the zero handle.
const Invalid Handle = 0

// Table interns strings. It is append-only: once a string has a handle the
// mapping is never rewritten.
type Table struct {
	strings []string
	index   map[string]Handle
}

// NewTable creates an empty intern table. Slot 0 is occupied by the empty
// string so that Invalid never aliases real content.
func NewTable() *Table {
	t := &Table{
		strings: make([]string, 1, 256),
		index:   make(map[string]Handle, 256),
	}
	return t
}

// Intern returns the handle for s, allocating one on first sight.
// The empty string interns to Invalid.
func (t *Table) Intern(s string) Handle {
	if s == "" {
		return Invalid
	}
	if h, ok := t.index[s]; ok {
		return h
	}
	h := Handle(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = h
	return h
}

// Lookup returns the string for h in O(1). The invalid handle yields "".
func (t *Table) Lookup(h Handle) string {
	if h == Invalid || int(h) >= len(t.strings) {
		return ""
	}
	return t.strings[h]
}

// Has reports whether s has already been interned.
func (t *Table) Has(s string) bool {
	_, ok := t.index[s]
	return ok
}

// Len returns the number of live handles, the invalid slot excluded.
func (t *Table) Len() int {
	return len(t.strings) - 1
}
