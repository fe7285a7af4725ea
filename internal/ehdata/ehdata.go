// Package ehdata builds exception-handling metadata: Windows PDATA/XDATA
// with FuncInfo, try-block, unwind and IP-to-state maps plus MSVC RTTI
// images for COFF targets, and DWARF CFI with an Itanium LSDA for ELF
// targets.
package ehdata

import (
	"encoding/binary"

	"github.com/cwbudde/go-cxx/internal/intern"
)

// RelocKind classifies a relocation inside a metadata blob.
type RelocKind uint8

const (
	RelocImageRel RelocKind = iota // RVA against a section symbol (ADDR32NB)
	RelocAddr64                    // absolute 64-bit pointer
	RelocSecRel32                  // 32-bit section-relative
)

// Reloc is one fixup inside a Blob, with the RVA pre-stored as addend.
type Reloc struct {
	Offset uint32
	Symbol intern.Handle
	Kind   RelocKind
	Addend int64
}

// Blob is an emitted metadata fragment plus its relocations.
type Blob struct {
	Data   []byte
	Relocs []Reloc
}

func (b *Blob) u8(v uint8)  { b.Data = append(b.Data, v) }
func (b *Blob) u16(v uint16) {
	b.Data = binary.LittleEndian.AppendUint16(b.Data, v)
}
func (b *Blob) u32(v uint32) {
	b.Data = binary.LittleEndian.AppendUint32(b.Data, v)
}
func (b *Blob) u64(v uint64) {
	b.Data = binary.LittleEndian.AppendUint64(b.Data, v)
}
func (b *Blob) i32(v int32) { b.u32(uint32(v)) }

// rva emits a 4-byte slot relocated against sym with the given addend.
func (b *Blob) rva(sym intern.Handle, addend int64) {
	b.Relocs = append(b.Relocs, Reloc{
		Offset: uint32(len(b.Data)), Symbol: sym, Kind: RelocImageRel, Addend: addend,
	})
	b.u32(uint32(addend))
}

// ptr64 emits an 8-byte absolute pointer slot.
func (b *Blob) ptr64(sym intern.Handle, addend int64) {
	b.Relocs = append(b.Relocs, Reloc{
		Offset: uint32(len(b.Data)), Symbol: sym, Kind: RelocAddr64, Addend: addend,
	})
	b.u64(uint64(addend))
}

func (b *Blob) align(n int) {
	for len(b.Data)%n != 0 {
		b.u8(0)
	}
}
