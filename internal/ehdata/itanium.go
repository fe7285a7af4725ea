package ehdata

import (
	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Itanium (ELF) EH: DWARF call-frame information in .eh_frame plus an
// LSDA describing call sites, landing pads, and typeinfo entries keyed by
// action-table indices.

// Itanium builds the .eh_frame and LSDA contributions.
type Itanium struct {
	Table *intern.Table
	Reg   *types.Registry
}

// DWARF CFI opcodes used by the fixed prologue description.
const (
	dwCFADefCFAOffset = 0x0E
	dwCFAOffset       = 0x80
	dwCFADefCFARegister = 0x0D
	dwCFAAdvanceLoc1  = 0x02
)

// CIE emits the common information entry shared by every FDE: return
// address in RA(16), personality __gxx_personality_v0.
func (it *Itanium) CIE() Blob {
	var b Blob
	start := len(b.Data)
	b.u32(0) // length, patched below
	b.u32(0) // CIE id
	b.u8(1)  // version
	b.Data = append(b.Data, "zPLR"...)
	b.u8(0)
	b.u8(1)    // code alignment
	b.u8(0x78) // data alignment -8 (SLEB)
	b.u8(16)   // RA register
	// Augmentation: personality (absptr), LSDA encoding, FDE encoding.
	b.u8(11)
	b.u8(0x00) // personality encoding: absptr
	b.ptr64(it.Table.Intern("__gxx_personality_v0"), 0)
	b.u8(0x1B) // LSDA encoding: pcrel sdata4
	b.u8(0x1B) // FDE encoding: pcrel sdata4
	// Initial instructions: CFA = rsp+8, RA at cfa-8.
	b.u8(0x0C) // def_cfa
	b.u8(7)    // rsp
	b.u8(8)
	b.u8(dwCFAOffset | 16)
	b.u8(1)
	b.align(8)
	putU32(b.Data[start:], uint32(len(b.Data)-start-4))
	return b
}

// FDE emits a frame description entry for one function: the prologue's
// push rbp / mov rbp,rsp (or lea) CFA transitions plus the LSDA pointer.
func (it *Itanium) FDE(enc *encoder.Encoded, cieOffset, lsdaOffset uint32) Blob {
	var b Blob
	start := len(b.Data)
	b.u32(0)               // length, patched
	b.u32(cieOffset + 4)   // CIE back-pointer (distance)
	// PC begin: relocated against the function symbol, pcrel.
	b.Relocs = append(b.Relocs, Reloc{
		Offset: uint32(len(b.Data)), Symbol: enc.Mangled, Kind: RelocSecRel32,
	})
	b.u32(0)
	b.u32(uint32(len(enc.Code))) // PC range
	b.u8(4)                      // augmentation length: LSDA sdata4
	b.Relocs = append(b.Relocs, Reloc{
		Offset: uint32(len(b.Data)), Symbol: it.Table.Intern(".gcc_except_table"),
		Kind: RelocSecRel32, Addend: int64(lsdaOffset),
	})
	b.u32(lsdaOffset)
	// CFI program for the standard prologue.
	b.u8(dwCFAAdvanceLoc1)
	b.u8(1) // after push rbp
	b.u8(dwCFADefCFAOffset)
	b.u8(16)
	b.u8(dwCFAOffset | 6) // rbp saved
	b.u8(2)
	b.u8(dwCFAAdvanceLoc1)
	b.u8(enc.PrologLen - 1)
	b.u8(dwCFADefCFARegister)
	b.u8(6) // rbp
	b.align(8)
	putU32(b.Data[start:], uint32(len(b.Data)-start-4))
	return b
}

// LSDA builds the language-specific data area of one function: call-site
// table (offset/length/landing-pad/action), action table, and typeinfo
// pointers in reverse index order.
func (it *Itanium) LSDA(enc *encoder.Encoded) Blob {
	var b Blob
	var cxx []*encoder.TryRegion
	for i := range enc.Tries {
		if enc.Tries[i].Kind == encoder.RegionCxxTry {
			cxx = append(cxx, &enc.Tries[i])
		}
	}

	b.u8(0xFF) // landing pad start encoding: omit (function start)
	if len(cxx) == 0 {
		b.u8(0xFF) // no typeinfo table
		b.u8(1)    // call-site encoding: uleb128
		b.u8(1)
		b.u8(0) // empty call-site table terminator payload
		return b
	}
	b.u8(0x00) // typeinfo encoding: absptr

	// Typeinfo table: one entry per distinct catch type, reverse order.
	var typeSyms []intern.Handle
	for _, r := range cxx {
		for _, c := range r.Catches {
			if c.CatchAll {
				typeSyms = append(typeSyms, intern.Invalid)
				continue
			}
			name := it.Table.Lookup(c.TypeSym)
			idx := it.Reg.ByNameString(name)
			sym := it.Table.Intern("_ZTI" + name)
			if idx != types.Invalid {
				sym = it.Table.Intern(mangle.ItaniumTypeDescriptorName(it.Reg, types.Spec(idx)))
			}
			typeSyms = append(typeSyms, sym)
		}
	}

	// Call-site and action tables build into scratch blobs first so the
	// header lengths are exact.
	var cs, act Blob
	actionIdx := 1
	for _, r := range cxx {
		lp := uint32(0)
		if len(r.Catches) > 0 {
			lp = r.Catches[0].BeginOff
		}
		uleb(&cs, uint64(r.BeginOff))
		uleb(&cs, uint64(r.EndOff-r.BeginOff))
		uleb(&cs, uint64(lp))
		uleb(&cs, uint64(actionIdx))
		for range r.Catches {
			sleb(&act, int64(actionIdx))
			sleb(&act, 0) // end of chain
			actionIdx++
		}
	}

	uleb(&b, uint64(len(typeSyms)*8+len(cs.Data)+len(act.Data)+2)) // ttype offset
	b.u8(1)                                                        // call-site encoding uleb128
	uleb(&b, uint64(len(cs.Data)))
	csBase := uint32(len(b.Data))
	for _, r := range cs.Relocs {
		r.Offset += csBase
		b.Relocs = append(b.Relocs, r)
	}
	b.Data = append(b.Data, cs.Data...)
	b.Data = append(b.Data, act.Data...)
	b.align(8)
	// Typeinfo pointers, reverse index order.
	for i := len(typeSyms) - 1; i >= 0; i-- {
		if typeSyms[i] == intern.Invalid {
			b.u64(0)
		} else {
			b.ptr64(typeSyms[i], 0)
		}
	}
	return b
}

// ClassDescriptor emits the Itanium class type-info object of a class:
// __class_type_info for no bases, __si_class_type_info for one, and
// __vmi_class_type_info for multiple.
func (it *Itanium) ClassDescriptor(idx types.TypeIndex, nameBlob *Blob) Blob {
	var b Blob
	spec := types.Spec(idx)
	si := it.Reg.Get(idx).Struct
	nameSym := it.Table.Intern("_ZTS" + mangle.ItaniumTypeName(it.Reg, spec))

	switch {
	case si == nil || len(si.Bases) == 0:
		b.ptr64(it.Table.Intern("_ZTVN10__cxxabiv117__class_type_infoE"), 16)
		b.ptr64(nameSym, 0)
	case len(si.Bases) == 1 && !si.Bases[0].Virtual:
		b.ptr64(it.Table.Intern("_ZTVN10__cxxabiv120__si_class_type_infoE"), 16)
		b.ptr64(nameSym, 0)
		b.ptr64(it.Table.Intern(mangle.ItaniumTypeDescriptorName(it.Reg, types.Spec(si.Bases[0].Type))), 0)
	default:
		b.ptr64(it.Table.Intern("_ZTVN10__cxxabiv121__vmi_class_type_infoE"), 16)
		b.ptr64(nameSym, 0)
		b.u32(0) // flags
		b.u32(uint32(len(si.Bases)))
		for _, base := range si.Bases {
			b.ptr64(it.Table.Intern(mangle.ItaniumTypeDescriptorName(it.Reg, types.Spec(base.Type))), 0)
			flags := int64(base.OffsetBits/8) << 8
			if base.Virtual {
				flags |= 1
			}
			if base.Access == 0 { // public
				flags |= 2
			}
			b.u64(uint64(flags))
		}
	}

	// Type name string.
	name := mangle.ItaniumTypeName(it.Reg, spec)
	nameBlob.Data = append(nameBlob.Data, name...)
	nameBlob.u8(0)
	return b
}

func uleb(b *Blob, v uint64) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.u8(c)
		if v == 0 {
			return
		}
	}
}

func sleb(b *Blob, v int64) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b.u8(c)
		if done {
			return
		}
	}
}
