package ehdata

import (
	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/mangle"
	"github.com/cwbudde/go-cxx/internal/types"
)

// MSVC RTTI and throw-info images for .rdata, built once per exception
// type and cached by mangled descriptor name.

// RTTIBuilder accumulates the .rdata contribution of all RTTI objects.
type RTTIBuilder struct {
	Table *intern.Table
	Reg   *types.Registry

	// Symbol name -> offset within Data; Order preserves definition
	// order for deterministic emission.
	Symbols map[intern.Handle]uint32
	Order   []intern.Handle
	Blob    Blob

	built map[intern.Handle]bool
}

// NewRTTIBuilder creates an empty builder.
func NewRTTIBuilder(table *intern.Table, reg *types.Registry) *RTTIBuilder {
	return &RTTIBuilder{
		Table:   table,
		Reg:     reg,
		Symbols: map[intern.Handle]uint32{},
		built:   map[intern.Handle]bool{},
	}
}

func (rb *RTTIBuilder) define(name intern.Handle) {
	rb.Symbols[name] = uint32(len(rb.Blob.Data))
	rb.Order = append(rb.Order, name)
}

// TypeDescriptor builds the `??_R0...@8` image for spec and returns its
// symbol: {type_info vftable pointer, spare, mangled-name string, NUL}.
func (rb *RTTIBuilder) TypeDescriptor(spec types.Specifier) intern.Handle {
	sym := rb.Table.Intern(mangle.MSVCTypeDescriptorName(rb.Reg, spec))
	if rb.built[sym] {
		return sym
	}
	rb.built[sym] = true
	rb.Blob.align(8)
	rb.define(sym)
	rb.Blob.ptr64(rb.Table.Intern("??_7type_info@@6B@"), 0)
	rb.Blob.u64(0) // spare
	raw := mangle.MSVCRawTypeName(rb.Reg, spec)
	rb.Blob.Data = append(rb.Blob.Data, raw...)
	rb.Blob.u8(0)
	rb.Blob.align(8)
	return sym
}

// ThrowInfo builds the catchable-type chain and throw-info for a thrown
// type, cached per type. Returns the throw-info symbol.
func (rb *RTTIBuilder) ThrowInfo(spec types.Specifier) intern.Handle {
	tiSym := rb.Table.Intern(mangle.MSVCThrowInfoName(rb.Reg, spec))
	if rb.built[tiSym] {
		return tiSym
	}
	rb.built[tiSym] = true

	tdSym := rb.TypeDescriptor(spec)
	size := rb.Reg.SizeBits(spec) / 8
	if size == 0 {
		size = 1
	}

	// Catchable type: {properties, type-descriptor RVA, mdisp=0,
	// pdisp=-1, vdisp=0, size, copy-function=0}.
	ctSym := rb.Table.Intern(mangle.MSVCCatchableTypeName(rb.Reg, spec))
	rb.Blob.align(4)
	rb.define(ctSym)
	rb.Blob.u32(0)
	rb.Blob.rva(tdSym, 0)
	rb.Blob.u32(0)
	rb.Blob.i32(-1)
	rb.Blob.u32(0)
	rb.Blob.u32(size)
	rb.Blob.u32(0)

	// Catchable-type array: {count=1, catchable-type RVA}.
	ctaSym := rb.Table.Intern(mangle.MSVCCatchableArrayName(rb.Reg, spec))
	rb.Blob.align(4)
	rb.define(ctaSym)
	rb.Blob.u32(1)
	rb.Blob.rva(ctSym, 0)

	// Throw info: {attributes=0, unwind=0, forward-compat=0,
	// catchable-type-array RVA}, padded to 0x1C.
	rb.Blob.align(4)
	rb.define(tiSym)
	start := len(rb.Blob.Data)
	rb.Blob.u32(0)
	rb.Blob.u32(0)
	rb.Blob.u32(0)
	rb.Blob.rva(ctaSym, 0)
	for len(rb.Blob.Data)-start < 0x1C {
		rb.Blob.u8(0)
	}
	return tiSym
}

// VTable builds the vftable image of a class: one 8-byte slot per virtual
// function, relocated against the method symbols.
func (rb *RTTIBuilder) VTable(idx types.TypeIndex) intern.Handle {
	spec := types.Spec(idx)
	sym := rb.Table.Intern(mangle.MSVCVTableName(rb.Reg, spec))
	if rb.built[sym] {
		return sym
	}
	rb.built[sym] = true
	si := rb.Reg.Get(idx).Struct
	rb.Blob.align(8)
	rb.define(sym)
	if si != nil {
		for _, slot := range si.VTable {
			rb.Blob.ptr64(slot.Mangled, 0)
		}
	}
	return sym
}
