package ehdata

import (
	"github.com/cwbudde/go-cxx/internal/encoder"
)

// SEH (__try/__except/__finally) scope tables, dispatched through
// __C_specific_handler. Entries are {BeginAddress, EndAddress,
// HandlerAddress, JumpTarget}: a constant filter embeds sign-extended in
// HandlerAddress with the handler code as JumpTarget; a filter funclet
// puts its RVA in HandlerAddress; __finally sets JumpTarget to 0.

// BuildScopeTable emits the SCOPE_TABLE for one function's SEH regions,
// or an empty blob when the function has none.
func (w *Windows) BuildScopeTable(enc *encoder.Encoded) Blob {
	var entries []*encoder.TryRegion
	for i := range enc.Tries {
		r := &enc.Tries[i]
		if r.Kind == encoder.RegionSehExcept || r.Kind == encoder.RegionSehFinally {
			entries = append(entries, r)
		}
	}
	var b Blob
	if len(entries) == 0 {
		return b
	}
	b.u32(uint32(len(entries)))
	for _, r := range entries {
		b.rva(w.TextSym, int64(r.BeginOff))
		b.rva(w.TextSym, int64(r.EndOff))
		switch {
		case r.Kind == encoder.RegionSehFinally:
			b.rva(w.TextSym, int64(r.HandlerOff))
			b.u32(0) // termination handler
		case r.HasConst:
			b.i32(int32(r.FilterConst)) // constant filter, sign-extended
			b.rva(w.TextSym, int64(r.HandlerOff))
		default:
			b.rva(w.TextSym, int64(r.FilterOff)) // filter funclet
			b.rva(w.TextSym, int64(r.HandlerOff))
		}
	}
	return b
}
