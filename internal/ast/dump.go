package ast

import (
	"fmt"
	"strings"

	"github.com/cwbudde/go-cxx/internal/intern"
)

// Dump renders a subtree as an indented listing for debugging and snapshot
// tests. The intern table resolves names; pass nil to print raw handles.
func Dump(a *Arena, table *intern.Table, root NodeRef) string {
	var sb strings.Builder
	dump(&sb, a, table, root, 0)
	return sb.String()
}

func dump(sb *strings.Builder, a *Arena, table *intern.Table, r NodeRef, depth int) {
	if r == Nil {
		return
	}
	n := a.Get(r)
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Kind.String())
	if n.Name != intern.Invalid {
		if table != nil {
			fmt.Fprintf(sb, " %q", table.Lookup(n.Name))
		} else {
			fmt.Fprintf(sb, " #%d", n.Name)
		}
	}
	switch n.Kind {
	case IntLit, BoolLit, CharLit:
		fmt.Fprintf(sb, " %d", n.IVal)
	case FloatLit:
		fmt.Fprintf(sb, " %g", n.FVal)
	}
	if n.Flags != 0 {
		fmt.Fprintf(sb, " flags=%#x", uint32(n.Flags))
	}
	sb.WriteByte('\n')
	for _, c := range []NodeRef{n.A, n.B, n.C} {
		dump(sb, a, table, c, depth+1)
	}
	for _, c := range n.Kids {
		dump(sb, a, table, c, depth+1)
	}
}
