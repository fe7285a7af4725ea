package driver

import (
	"github.com/cwbudde/go-cxx/internal/debuginfo"
	"github.com/cwbudde/go-cxx/internal/ehdata"
	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/cwbudde/go-cxx/internal/objfile"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Object assembly: function code concatenates into .text with per-function
// symbols; strings, vtables, and RTTI images land in .rdata/.rodata;
// unwind metadata lands in .pdata/.xdata or .eh_frame; globals split
// between .data and .bss.

func mapEncReloc(k encoder.RelocKind, windows bool) objfile.RelocType {
	switch k {
	case encoder.RelocAddr64:
		return objfile.RelAddr64
	case encoder.RelocImageRel:
		return objfile.RelAddr32NB
	case encoder.RelocCallRel32:
		if windows {
			return objfile.RelRel32
		}
		return objfile.RelPlt32
	default:
		return objfile.RelRel32
	}
}

func mapEhReloc(k ehdata.RelocKind) objfile.RelocType {
	switch k {
	case ehdata.RelocAddr64:
		return objfile.RelAddr64
	case ehdata.RelocSecRel32:
		return objfile.RelSecRel
	default:
		return objfile.RelAddr32NB
	}
}

// layoutText concatenates function code 16-byte aligned and returns the
// per-function base offsets.
func (s *Session) layoutText(encoded []*encoder.Encoded) ([]byte, []uint32) {
	var text []byte
	bases := make([]uint32, len(encoded))
	for i, e := range encoded {
		for len(text)%16 != 0 {
			text = append(text, 0xCC)
		}
		bases[i] = uint32(len(text))
		text = append(text, e.Code...)
	}
	return text, bases
}

func (s *Session) lk(h intern.Handle) string { return s.Table.Lookup(h) }

func (s *Session) writeCOFF(encoded []*encoder.Encoded, mod *ir.Module, path string) ([]byte, error) {
	obj := &objfile.Object{}
	text, bases := s.layoutText(encoded)

	textSym := s.Table.Intern(".text")
	xdataSym := s.Table.Intern(".xdata")
	w := &ehdata.Windows{Table: s.Table, TextSym: textSym, XDataSym: xdataSym}
	rtti := ehdata.NewRTTIBuilder(s.Table, s.Reg)

	var textRelocs []objfile.Reloc
	var xdata ehdata.Blob
	var pdata ehdata.Blob
	cv := &debuginfo.CodeView{Table: s.Table}
	cv.Begin()

	for i, e := range encoded {
		base := bases[i]
		for _, r := range e.Relocs {
			textRelocs = append(textRelocs, objfile.Reloc{
				Offset: base + r.Offset,
				Symbol: s.lk(r.Symbol),
				Type:   mapEncReloc(r.Kind, true),
				Addend: r.Addend,
			})
		}
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: s.symName(e), Section: ".text", Value: base, Global: true, Func: true,
		})

		eh := w.Build(e)
		xbase := uint32(len(xdata.Data))
		for _, r := range eh.XData.Relocs {
			sym := s.lk(r.Symbol)
			add := r.Addend
			if r.Symbol == textSym {
				add += int64(base)
			}
			if r.Symbol == xdataSym {
				add += int64(xbase)
			}
			xdata.Relocs = append(xdata.Relocs, ehdata.Reloc{
				Offset: xbase + r.Offset, Symbol: s.Table.Intern(sym),
				Kind: r.Kind, Addend: add,
			})
		}
		xdata.Data = append(xdata.Data, eh.XData.Data...)
		for _, pe := range eh.PData {
			pdata.Relocs = append(pdata.Relocs, ehdata.Reloc{
				Offset: uint32(len(pdata.Data)), Symbol: textSym,
				Kind: ehdata.RelocImageRel, Addend: int64(base + pe.Begin),
			})
			pdata.Data = append(pdata.Data, b32(base+pe.Begin)...)
			pdata.Relocs = append(pdata.Relocs, ehdata.Reloc{
				Offset: uint32(len(pdata.Data)), Symbol: textSym,
				Kind: ehdata.RelocImageRel, Addend: int64(base + pe.End),
			})
			pdata.Data = append(pdata.Data, b32(base+pe.End)...)
			pdata.Relocs = append(pdata.Relocs, ehdata.Reloc{
				Offset: uint32(len(pdata.Data)), Symbol: xdataSym,
				Kind: ehdata.RelocImageRel, Addend: int64(xbase + pe.UnwindOff),
			})
			pdata.Data = append(pdata.Data, b32(xbase+pe.UnwindOff)...)
		}

		// SEH scope tables join .xdata.
		st := w.BuildScopeTable(e)
		if len(st.Data) > 0 {
			stBase := uint32(len(xdata.Data))
			for _, r := range st.Relocs {
				add := r.Addend
				if r.Symbol == textSym {
					add += int64(base)
				}
				xdata.Relocs = append(xdata.Relocs, ehdata.Reloc{
					Offset: stBase + r.Offset, Symbol: r.Symbol, Kind: r.Kind, Addend: add,
				})
			}
			xdata.Data = append(xdata.Data, st.Data...)
		}

		if s.Opts.Debug {
			cv.Function(e, e.Slots, e.Lines)
		}

	}

	// Throw-info for every thrown type in the unit.
	s.buildThrowInfos(rtti)

	// Vtables and type descriptors for polymorphic classes.
	s.buildVTables(rtti)

	// .rdata: string literals then RTTI images.
	var rdata []byte
	var rdataRelocs []objfile.Reloc
	for _, sd := range mod.Strings {
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: s.lk(sd.Label), Section: ".rdata", Value: uint32(len(rdata)), Global: false,
		})
		rdata = append(rdata, unquote(s.lk(sd.Text))...)
		rdata = append(rdata, 0)
	}
	for len(rdata)%8 != 0 {
		rdata = append(rdata, 0)
	}
	rttiBase := uint32(len(rdata))
	for _, sym := range rtti.Order {
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: s.lk(sym), Section: ".rdata", Value: rttiBase + rtti.Symbols[sym], Global: true,
		})
	}
	for _, r := range rtti.Blob.Relocs {
		rdataRelocs = append(rdataRelocs, objfile.Reloc{
			Offset: rttiBase + r.Offset, Symbol: s.lk(r.Symbol),
			Type: mapEhReloc(r.Kind), Addend: r.Addend,
		})
	}
	rdata = append(rdata, rtti.Blob.Data...)

	// Globals.
	var data []byte
	bssSize := uint32(0)
	for _, g := range mod.Globals {
		size := (g.Bits + 7) / 8
		if size == 0 {
			size = 8
		}
		if g.Initialized {
			obj.Symbols = append(obj.Symbols, objfile.Symbol{
				Name: s.lk(g.Name), Section: ".data", Value: uint32(len(data)), Global: true,
			})
			data = append(data, bytesOf(g.Init, size)...)
		} else {
			obj.Symbols = append(obj.Symbols, objfile.Symbol{
				Name: s.lk(g.Name), Section: ".bss", Value: bssSize, Global: true,
			})
			bssSize += (size + 7) &^ 7
		}
	}

	obj.Sections = append(obj.Sections,
		objfile.Section{Name: ".text", Data: text, Relocs: textRelocs},
		objfile.Section{Name: ".data", Data: data},
		objfile.Section{Name: ".bss", Bss: true, Size: bssSize},
		objfile.Section{Name: ".rdata", Data: rdata, Relocs: rdataRelocs},
		objfile.Section{Name: ".pdata", Data: pdata.Data, Relocs: s.ehRelocs(pdata.Relocs)},
		objfile.Section{Name: ".xdata", Data: xdata.Data, Relocs: s.ehRelocs(xdata.Relocs)},
	)
	if s.Opts.Debug {
		obj.Sections = append(obj.Sections,
			objfile.Section{Name: ".debug$S", Data: cv.Bytes()},
			objfile.Section{Name: ".debug$T", Data: debugTHeader()},
		)
	}
	if d := s.drectve(); len(d) > 0 {
		obj.Sections = append(obj.Sections, objfile.Section{Name: ".drectve", Data: d})
	}
	return objfile.WriteCOFF(obj), nil
}

func (s *Session) ehRelocs(in []ehdata.Reloc) []objfile.Reloc {
	out := make([]objfile.Reloc, 0, len(in))
	for _, r := range in {
		out = append(out, objfile.Reloc{
			Offset: r.Offset, Symbol: s.lk(r.Symbol),
			Type: mapEhReloc(r.Kind), Addend: r.Addend,
		})
	}
	return out
}

// symName prefers the mangled name; `main` and extern-C functions carry
// their plain spelling.
func (s *Session) symName(e *encoder.Encoded) string {
	if e.Mangled != intern.Invalid {
		return s.lk(e.Mangled)
	}
	return s.lk(e.Name)
}

// buildThrowInfos materializes throw-info images for every thrown type
// the module recorded, once per type.
func (s *Session) buildThrowInfos(rtti *ehdata.RTTIBuilder) {
	for _, spec := range s.Module.ThrownTypes {
		rtti.ThrowInfo(spec)
	}
}

// buildVTables emits vftables and type descriptors for every polymorphic
// class in the registry, in TypeIndex order.
func (s *Session) buildVTables(rtti *ehdata.RTTIBuilder) {
	for i := 1; i < s.Reg.Len(); i++ {
		idx := types.TypeIndex(i)
		info := s.Reg.Get(idx)
		if info.Struct == nil || !info.Struct.Polymorphic {
			continue
		}
		rtti.VTable(idx)
		rtti.TypeDescriptor(types.Spec(idx))
	}
}

// drectve collects /EXPORT: directives for dllexport functions.
func (s *Session) drectve() []byte {
	var out []byte
	for _, m := range s.Module.Exported {
		if m == intern.Invalid {
			continue
		}
		out = append(out, " /EXPORT:"...)
		out = append(out, s.lk(m)...)
	}
	return out
}

func b32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func bytesOf(v int64, size uint32) []byte {
	out := make([]byte, size)
	for i := uint32(0); i < size && i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// debugTHeader is the minimal CodeView type-record section: signature
// only; full type records are not modeled.
func debugTHeader() []byte { return []byte{4, 0, 0, 0} }

func (s *Session) writeELF(encoded []*encoder.Encoded, mod *ir.Module, path string) ([]byte, error) {
	obj := &objfile.Object{}
	text, bases := s.layoutText(encoded)

	it := &ehdata.Itanium{Table: s.Table, Reg: s.Reg}
	var textRelocs []objfile.Reloc
	var ehFrame ehdata.Blob
	var lsdaBlob ehdata.Blob
	dw := &debuginfo.DwarfLine{Files: []string{path}}

	cie := it.CIE()
	ehFrame.Data = append(ehFrame.Data, cie.Data...)
	ehFrame.Relocs = append(ehFrame.Relocs, cie.Relocs...)

	for i, e := range encoded {
		base := bases[i]
		for _, r := range e.Relocs {
			textRelocs = append(textRelocs, objfile.Reloc{
				Offset: base + r.Offset,
				Symbol: s.lk(r.Symbol),
				Type:   mapEncReloc(r.Kind, false),
				Addend: r.Addend,
			})
		}
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: s.symName(e), Section: ".text", Value: base, Global: true, Func: true,
		})
		lsdaOff := uint32(len(lsdaBlob.Data))
		lsda := it.LSDA(e)
		for _, r := range lsda.Relocs {
			r.Offset += lsdaOff
			lsdaBlob.Relocs = append(lsdaBlob.Relocs, r)
		}
		lsdaBlob.Data = append(lsdaBlob.Data, lsda.Data...)

		fdeOff := uint32(len(ehFrame.Data))
		fde := it.FDE(e, 0, lsdaOff)
		for _, r := range fde.Relocs {
			r.Offset += fdeOff
			ehFrame.Relocs = append(ehFrame.Relocs, r)
		}
		ehFrame.Data = append(ehFrame.Data, fde.Data...)

		if s.Opts.Debug {
			for _, ln := range e.Lines {
				dw.Row(base+ln.Offset, ln.File, ln.Line)
			}
		}
	}

	// Class typeinfo descriptors.
	var rodata ehdata.Blob
	var names ehdata.Blob
	for i := 1; i < s.Reg.Len(); i++ {
		idx := types.TypeIndex(i)
		info := s.Reg.Get(idx)
		if info.Struct == nil || !info.Struct.Polymorphic {
			continue
		}
		desc := it.ClassDescriptor(idx, &names)
		symName := "_ZTI" + s.lk(info.Name)
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: symName, Section: ".rodata", Value: uint32(len(rodata.Data)), Global: true,
		})
		for _, r := range desc.Relocs {
			r.Offset += uint32(len(rodata.Data))
			rodata.Relocs = append(rodata.Relocs, r)
		}
		rodata.Data = append(rodata.Data, desc.Data...)
	}
	for _, sd := range mod.Strings {
		obj.Symbols = append(obj.Symbols, objfile.Symbol{
			Name: s.lk(sd.Label), Section: ".rodata", Value: uint32(len(rodata.Data)),
		})
		rodata.Data = append(rodata.Data, unquote(s.lk(sd.Text))...)
		rodata.Data = append(rodata.Data, 0)
	}
	rodata.Data = append(rodata.Data, names.Data...)

	var data []byte
	bssSize := uint32(0)
	for _, g := range mod.Globals {
		size := (g.Bits + 7) / 8
		if size == 0 {
			size = 8
		}
		if g.Initialized {
			obj.Symbols = append(obj.Symbols, objfile.Symbol{
				Name: s.lk(g.Name), Section: ".data", Value: uint32(len(data)), Global: true,
			})
			data = append(data, bytesOf(g.Init, size)...)
		} else {
			obj.Symbols = append(obj.Symbols, objfile.Symbol{
				Name: s.lk(g.Name), Section: ".bss", Value: bssSize, Global: true,
			})
			bssSize += (size + 7) &^ 7
		}
	}

	obj.Sections = append(obj.Sections,
		objfile.Section{Name: ".text", Data: text, Relocs: textRelocs},
		objfile.Section{Name: ".data", Data: data},
		objfile.Section{Name: ".bss", Bss: true, Size: bssSize},
		objfile.Section{Name: ".rodata", Data: rodata.Data, Relocs: s.ehRelocs(rodata.Relocs)},
		objfile.Section{Name: ".eh_frame", Data: ehFrame.Data, Relocs: s.ehRelocs(ehFrame.Relocs)},
		objfile.Section{Name: ".eh_frame_hdr", Data: []byte{1, 0x1B, 3, 0x3B, 0, 0, 0, 0, 0, 0, 0, 0}},
		objfile.Section{Name: ".gcc_except_table", Data: lsdaBlob.Data, Relocs: s.ehRelocs(lsdaBlob.Relocs)},
	)
	if s.Opts.Debug {
		obj.Sections = append(obj.Sections,
			objfile.Section{Name: ".debug_line", Data: dw.Bytes()},
			objfile.Section{Name: ".debug_abbrev", Data: []byte{0}},
			objfile.Section{Name: ".debug_info", Data: minimalDebugInfo()},
		)
	}
	return objfile.WriteELF(obj), nil
}

// minimalDebugInfo is an empty compile-unit shell.
func minimalDebugInfo() []byte {
	return []byte{7, 0, 0, 0, 4, 0, 0, 0, 0, 0, 8}
}
