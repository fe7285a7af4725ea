package objfile

import (
	"encoding/binary"
	"sort"
)

// ELF (x86-64, relocatable) writer. Layout: ELF header, section data,
// .symtab, .strtab, RELA sections, .shstrtab, section header table.

const (
	elfShtProgbits = 1
	elfShtSymtab   = 2
	elfShtStrtab   = 3
	elfShtRela     = 4
	elfShtNobits   = 8

	elfShfWrite     = 0x1
	elfShfAlloc     = 0x2
	elfShfExecinstr = 0x4

	rX8664_64    = 1
	rX8664Pc32   = 2
	rX8664Plt32  = 4
	rX8664_32S   = 12
)

func elfRelocType(t RelocType) uint32 {
	switch t {
	case RelAddr64:
		return rX8664_64
	case RelPlt32:
		return rX8664Plt32
	case RelAddr32NB, RelSecRel:
		return rX8664_32S
	default:
		return rX8664Pc32
	}
}

func elfSectionFlags(name string) uint64 {
	switch name {
	case ".text":
		return elfShfAlloc | elfShfExecinstr
	case ".data", ".bss":
		return elfShfAlloc | elfShfWrite
	case ".rodata", ".eh_frame", ".eh_frame_hdr", ".gcc_except_table":
		return elfShfAlloc
	}
	return 0
}

// WriteELF produces the relocatable object bytes.
func WriteELF(obj *Object) []byte {
	// Build the symbol table: null, section symbols, locals, globals then
	// undefined externals (globals must follow locals).
	type symEntry struct {
		name    string
		value   uint64
		size    uint64
		section int // 0 undefined
		global  bool
		isFunc  bool
		isSec   bool
	}

	secIndex := map[string]int{}
	for i, s := range obj.Sections {
		secIndex[s.Name] = i + 1
	}

	var syms []symEntry
	syms = append(syms, symEntry{}) // null
	for i, s := range obj.Sections {
		syms = append(syms, symEntry{name: s.Name, section: i + 1, isSec: true})
	}
	defined := map[string]bool{}
	for _, s := range obj.Symbols {
		if s.Section == "" {
			continue
		}
		defined[s.Name] = true
		syms = append(syms, symEntry{
			name: s.Name, value: uint64(s.Value), section: secIndex[s.Section],
			global: s.Global, isFunc: s.Func,
		})
	}
	extern := map[string]bool{}
	for _, sec := range obj.Sections {
		for _, r := range sec.Relocs {
			if !defined[r.Symbol] && secIndex[r.Symbol] == 0 {
				extern[r.Symbol] = true
			}
		}
	}
	for _, s := range obj.Symbols {
		if s.Section == "" && !defined[s.Name] {
			extern[s.Name] = true
		}
	}
	var externNames []string
	for n := range extern {
		externNames = append(externNames, n)
	}
	sort.Strings(externNames)
	for _, n := range externNames {
		syms = append(syms, symEntry{name: n, global: true})
	}
	// Locals first.
	sort.SliceStable(syms, func(i, j int) bool {
		li := syms[i].global
		lj := syms[j].global
		return !li && lj
	})
	firstGlobal := len(syms)
	for i, s := range syms {
		if s.global {
			firstGlobal = i
			break
		}
	}
	symOf := map[string]uint32{}
	for i, s := range syms {
		key := s.name
		if key == "" {
			continue
		}
		if _, taken := symOf[key]; !taken {
			symOf[key] = uint32(i)
		}
	}

	// String tables.
	strtab := []byte{0}
	strOff := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}
	symNameOff := make([]uint32, len(syms))
	for i, s := range syms {
		if s.isSec {
			continue // section symbols use shndx names
		}
		symNameOff[i] = strOff(s.name)
	}

	// .symtab raw bytes.
	var symtab []byte
	for i, s := range syms {
		var ent [24]byte
		binary.LittleEndian.PutUint32(ent[0:], symNameOff[i])
		info := byte(0)
		if s.global {
			info |= 1 << 4
		}
		if s.isFunc {
			info |= 2
		} else if s.isSec {
			info = 3 // STT_SECTION, local
		}
		ent[4] = info
		binary.LittleEndian.PutUint16(ent[6:], uint16(s.section))
		binary.LittleEndian.PutUint64(ent[8:], s.value)
		binary.LittleEndian.PutUint64(ent[16:], s.size)
		symtab = append(symtab, ent[:]...)
	}

	// RELA payloads.
	relaFor := map[int][]byte{}
	for i := range obj.Sections {
		var rela []byte
		for _, r := range obj.Sections[i].Relocs {
			var ent [24]byte
			binary.LittleEndian.PutUint64(ent[0:], uint64(r.Offset))
			binary.LittleEndian.PutUint64(ent[8:], uint64(symOf[r.Symbol])<<32|uint64(elfRelocType(r.Type)))
			binary.LittleEndian.PutUint64(ent[16:], uint64(r.Addend))
			rela = append(rela, ent[:]...)
		}
		if len(rela) > 0 {
			relaFor[i] = rela
		}
	}

	// Section header string table and final section list.
	type shdr struct {
		name      string
		typ       uint32
		flags     uint64
		off, size uint64
		link      uint32
		info      uint32
		align     uint64
		entsize   uint64
		data      []byte
		bss       bool
	}
	var headers []shdr
	headers = append(headers, shdr{}) // null
	for _, s := range obj.Sections {
		h := shdr{
			name: s.Name, typ: elfShtProgbits, flags: elfSectionFlags(s.Name),
			align: 8, data: s.Data, size: uint64(len(s.Data)),
		}
		if s.Bss {
			h.typ = elfShtNobits
			h.size = uint64(s.Size)
			h.bss = true
		}
		headers = append(headers, h)
	}
	symtabIdx := len(headers)
	headers = append(headers, shdr{
		name: ".symtab", typ: elfShtSymtab, data: symtab,
		size: uint64(len(symtab)), align: 8, entsize: 24,
		info: uint32(firstGlobal),
	})
	strtabIdx := len(headers)
	headers = append(headers, shdr{
		name: ".strtab", typ: elfShtStrtab, data: strtab,
		size: uint64(len(strtab)), align: 1,
	})
	headers[symtabIdx].link = uint32(strtabIdx)
	for i := range obj.Sections {
		rela, ok := relaFor[i]
		if !ok {
			continue
		}
		headers = append(headers, shdr{
			name: ".rela" + obj.Sections[i].Name, typ: elfShtRela,
			data: rela, size: uint64(len(rela)), align: 8, entsize: 24,
			link: uint32(symtabIdx), info: uint32(i + 1),
		})
	}
	shstr := []byte{0}
	shOff := make([]uint32, len(headers))
	for i := range headers {
		if headers[i].name == "" {
			continue
		}
		shOff[i] = uint32(len(shstr))
		shstr = append(shstr, headers[i].name...)
		shstr = append(shstr, 0)
	}
	shstrIdx := len(headers)
	shOff = append(shOff, uint32(len(shstr)))
	shstr = append(shstr, ".shstrtab"...)
	shstr = append(shstr, 0)
	headers = append(headers, shdr{
		name: ".shstrtab", typ: elfShtStrtab, data: shstr,
		size: uint64(len(shstr)), align: 1,
	})

	// Lay out data after the 64-byte ELF header.
	offset := uint64(64)
	for i := range headers {
		if headers[i].typ == 0 || headers[i].bss {
			headers[i].off = offset
			continue
		}
		offset = align8(offset)
		headers[i].off = offset
		offset += uint64(len(headers[i].data))
	}
	shoff := align8(offset)

	var out []byte
	// ELF header.
	out = append(out, 0x7F, 'E', 'L', 'F', 2, 1, 1, 0)
	out = append(out, make([]byte, 8)...)
	u16 := func(v uint16) { out = binary.LittleEndian.AppendUint16(out, v) }
	u32 := func(v uint32) { out = binary.LittleEndian.AppendUint32(out, v) }
	u64 := func(v uint64) { out = binary.LittleEndian.AppendUint64(out, v) }
	u16(1)      // ET_REL
	u16(0x3E)   // EM_X86_64
	u32(1)      // version
	u64(0)      // entry
	u64(0)      // phoff
	u64(shoff)  // shoff
	u32(0)      // flags
	u16(64)     // ehsize
	u16(0)      // phentsize
	u16(0)      // phnum
	u16(64)     // shentsize
	u16(uint16(len(headers)))
	u16(uint16(shstrIdx))

	// Section data.
	for i := range headers {
		if headers[i].typ == 0 || headers[i].bss {
			continue
		}
		for uint64(len(out)) < headers[i].off {
			out = append(out, 0)
		}
		out = append(out, headers[i].data...)
	}
	for uint64(len(out)) < shoff {
		out = append(out, 0)
	}

	// Section header table.
	for i := range headers {
		h := &headers[i]
		u32(shOff[i])
		u32(h.typ)
		u64(h.flags)
		u64(0) // addr
		u64(h.off)
		u64(h.size)
		u32(h.link)
		u32(h.info)
		u64(h.align)
		u64(h.entsize)
	}
	return out
}

func align8(v uint64) uint64 { return (v + 7) &^ 7 }
