package objfile

import (
	"encoding/binary"
	"sort"
)

// COFF (x86-64) writer. Layout: file header, section headers, raw data,
// relocations, symbol table, string table.

const (
	imageFileMachineAmd64 = 0x8664

	imageScnCntCode            = 0x00000020
	imageScnCntInitializedData = 0x00000040
	imageScnCntUninitData      = 0x00000080
	imageScnLnkInfo            = 0x00000200
	imageScnMemExecute         = 0x20000000
	imageScnMemRead            = 0x40000000
	imageScnMemWrite           = 0x80000000
	imageScnAlign4             = 0x00300000
	imageScnAlign8             = 0x00400000
	imageScnAlign16            = 0x00500000

	imageRelAmd64Addr64   = 0x0001
	imageRelAmd64Addr32   = 0x0002
	imageRelAmd64Addr32NB = 0x0003
	imageRelAmd64Rel32    = 0x0004
	imageRelAmd64SecRel   = 0x000B

	imageSymClassExternal = 2
	imageSymClassStatic   = 3
)

func coffSectionFlags(name string) uint32 {
	switch name {
	case ".text":
		return imageScnCntCode | imageScnMemExecute | imageScnMemRead | imageScnAlign16
	case ".data":
		return imageScnCntInitializedData | imageScnMemRead | imageScnMemWrite | imageScnAlign8
	case ".bss":
		return imageScnCntUninitData | imageScnMemRead | imageScnMemWrite | imageScnAlign8
	case ".rdata", ".xdata":
		return imageScnCntInitializedData | imageScnMemRead | imageScnAlign8
	case ".pdata":
		return imageScnCntInitializedData | imageScnMemRead | imageScnAlign4
	case ".drectve":
		return imageScnLnkInfo | imageScnAlign4
	default: // .debug$S, .debug$T
		return imageScnCntInitializedData | imageScnMemRead | imageScnAlign4
	}
}

func coffRelocType(t RelocType) uint16 {
	switch t {
	case RelAddr64:
		return imageRelAmd64Addr64
	case RelAddr32NB:
		return imageRelAmd64Addr32NB
	case RelSecRel:
		return imageRelAmd64SecRel
	default:
		return imageRelAmd64Rel32
	}
}

// WriteCOFF produces the object file bytes.
func WriteCOFF(obj *Object) []byte {
	// Symbol table: section symbols first (deterministic section order),
	// then defined symbols, then undefined externals sorted by name.
	type symEntry struct {
		name     string
		value    uint32
		section  int16 // 1-based, 0 undefined
		class    uint8
		isFunc   bool
	}
	var syms []symEntry
	secIndex := map[string]int16{}
	for i, s := range obj.Sections {
		secIndex[s.Name] = int16(i + 1)
		syms = append(syms, symEntry{name: s.Name, section: int16(i + 1), class: imageSymClassStatic})
	}
	defined := map[string]bool{}
	for _, s := range obj.Symbols {
		if s.Section == "" {
			continue
		}
		defined[s.Name] = true
		syms = append(syms, symEntry{
			name: s.Name, value: s.Value, section: secIndex[s.Section],
			class: imageSymClassExternal, isFunc: s.Func,
		})
	}
	// Externals referenced by relocations.
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
	for name := range extern {
		externNames = append(externNames, name)
	}
	sort.Strings(externNames)
	for _, name := range externNames {
		syms = append(syms, symEntry{name: name, class: imageSymClassExternal})
	}

	symOf := map[string]uint32{}
	for i, s := range syms {
		if _, taken := symOf[s.name]; !taken {
			symOf[s.name] = uint32(i)
		}
	}

	// String table for long names.
	strTab := []byte{0, 0, 0, 0}
	strOff := map[string]uint32{}
	longName := func(name string) uint32 {
		if off, ok := strOff[name]; ok {
			return off
		}
		off := uint32(len(strTab))
		strTab = append(strTab, name...)
		strTab = append(strTab, 0)
		strOff[name] = off
		return off
	}

	const headerSize = 20
	const sectionHeaderSize = 40
	const symbolSize = 18

	// Compute raw data and relocation offsets.
	offset := uint32(headerSize + sectionHeaderSize*len(obj.Sections))
	type secLayout struct {
		dataOff  uint32
		relocOff uint32
	}
	layouts := make([]secLayout, len(obj.Sections))
	for i := range obj.Sections {
		s := &obj.Sections[i]
		if s.Bss {
			continue
		}
		layouts[i].dataOff = offset
		offset += uint32(len(s.Data))
	}
	for i := range obj.Sections {
		s := &obj.Sections[i]
		if len(s.Relocs) == 0 {
			continue
		}
		layouts[i].relocOff = offset
		offset += uint32(len(s.Relocs)) * 10
	}
	symTabOff := offset

	var out []byte
	u16 := func(v uint16) { out = binary.LittleEndian.AppendUint16(out, v) }
	u32 := func(v uint32) { out = binary.LittleEndian.AppendUint32(out, v) }

	// File header.
	u16(imageFileMachineAmd64)
	u16(uint16(len(obj.Sections)))
	u32(0) // timestamp: fixed for deterministic output
	u32(symTabOff)
	u32(uint32(len(syms)))
	u16(0)
	u16(0)

	// Section headers.
	for i := range obj.Sections {
		s := &obj.Sections[i]
		var name [8]byte
		if len(s.Name) <= 8 {
			copy(name[:], s.Name)
		} else {
			off := longName(s.Name)
			name[0] = '/'
			digits := itoaBytes(off)
			copy(name[1:], digits)
		}
		out = append(out, name[:]...)
		u32(0) // VirtualSize
		u32(0) // VirtualAddress
		if s.Bss {
			u32(s.Size)
			u32(0)
		} else {
			u32(uint32(len(s.Data)))
			u32(layouts[i].dataOff)
		}
		u32(layouts[i].relocOff)
		u32(0) // line numbers
		u16(uint16(len(s.Relocs)))
		u16(0)
		u32(coffSectionFlags(s.Name))
	}

	// Raw data.
	for i := range obj.Sections {
		if !obj.Sections[i].Bss {
			out = append(out, obj.Sections[i].Data...)
		}
	}

	// Relocations.
	for i := range obj.Sections {
		for _, r := range obj.Sections[i].Relocs {
			u32(r.Offset)
			u32(symOf[r.Symbol])
			u16(coffRelocType(r.Type))
		}
	}

	// Symbol table.
	for _, s := range syms {
		var name [8]byte
		if len(s.name) <= 8 {
			copy(name[:], s.name)
			out = append(out, name[:]...)
		} else {
			u32(0)
			u32(longName(s.name))
		}
		u32(s.value)
		u16(uint16(s.section))
		if s.isFunc {
			u16(0x20)
		} else {
			u16(0)
		}
		out = append(out, s.class, 0)
	}

	// String table (length prefix includes itself).
	binary.LittleEndian.PutUint32(strTab[0:4], uint32(len(strTab)))
	out = append(out, strTab...)
	return out
}

func itoaBytes(v uint32) []byte {
	if v == 0 {
		return []byte{'0'}
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return buf[i:]
}
