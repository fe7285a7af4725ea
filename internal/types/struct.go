package types

import (
	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/intern"
)

// Member is one non-static data member after layout.
type Member struct {
	Name       intern.Handle
	Spec       Specifier
	OffsetBits uint32
	Access     ast.Access
	BitWidth   uint16
	Node       ast.NodeRef
}

// Base is one base-class entry with its access and layout offset.
type Base struct {
	Type       TypeIndex
	Access     ast.Access
	OffsetBits uint32
	Virtual    bool
}

// Method is a member function recorded on its class.
type Method struct {
	Name    intern.Handle
	Node    ast.NodeRef
	Mangled intern.Handle
	Access  ast.Access
	Virtual bool
	Pure    bool
	Static  bool
	Slot    int // vtable slot, -1 for non-virtual
	Sig     *Signature
	IsCtor  bool
	IsDtor  bool
}

// LazyMember is an on-demand instantiation descriptor for a member template
// or static data member of a class template.
type LazyMember struct {
	Name         intern.Handle
	Node         ast.NodeRef
	Instantiated bool
	Result       ast.NodeRef
}

// VTableSlot is one entry of a class's virtual table.
type VTableSlot struct {
	Name    intern.Handle
	Mangled intern.Handle
	Node    ast.NodeRef
}

// StructInfo is the aggregate part of a struct/class TypeInfo.
type StructInfo struct {
	Phase   Phase
	IsUnion bool

	Members []Member
	Methods []Method
	Bases   []Base
	VTable  []VTableSlot

	// Lazy member-template and static-data instantiation descriptors,
	// keyed by member name.
	Lazy map[intern.Handle]*LazyMember

	Polymorphic bool
	Abstract    bool
	Final       bool

	// Substitution context for instantiated class templates, consumed when
	// lazy members are instantiated. Opaque to this package.
	SubstEnv any
}

// AddLazy registers an on-demand member entry.
func (si *StructInfo) AddLazy(name intern.Handle, node ast.NodeRef) {
	if si.Lazy == nil {
		si.Lazy = make(map[intern.Handle]*LazyMember, 4)
	}
	si.Lazy[name] = &LazyMember{Name: name, Node: node}
}

// FindMethod returns the insertion-ordered methods named name.
func (si *StructInfo) FindMethod(name intern.Handle) []*Method {
	var out []*Method
	for i := range si.Methods {
		if si.Methods[i].Name == name {
			out = append(out, &si.Methods[i])
		}
	}
	return out
}

// FindMember returns the member named name, or nil.
func (si *StructInfo) FindMember(name intern.Handle) *Member {
	for i := range si.Members {
		if si.Members[i].Name == name {
			return &si.Members[i]
		}
	}
	return nil
}

// Layout fixes the size, alignment, and member offsets of idx. Bases are
// laid out first in declaration order, then a vtable pointer if the class
// is dynamic and no base carries one, then the members. Running Layout on
// an already laid-out type is a no-op.
func (r *Registry) Layout(idx TypeIndex) {
	info := r.Get(idx)
	si := info.Struct
	if si == nil || si.Phase >= PhaseLayout {
		return
	}

	var offset, align uint32
	align = 8

	needVPtr := si.Polymorphic
	for i := range si.Bases {
		b := &si.Bases[i]
		bi := r.Get(b.Type)
		if bi.Struct != nil {
			r.Layout(b.Type)
			bi = r.Get(b.Type)
			if bi.Struct.Polymorphic {
				needVPtr = false // reuse the primary base's slot
			}
		}
		offset = alignUp(offset, bi.AlignBits)
		b.OffsetBits = offset
		offset += bi.SizeBits
		if bi.AlignBits > align {
			align = bi.AlignBits
		}
	}
	if needVPtr && len(si.Bases) == 0 {
		offset = alignUp(offset, 64)
		offset += 64
		if align < 64 {
			align = 64
		}
	}

	for i := range si.Members {
		m := &si.Members[i]
		ma := r.AlignBits(m.Spec)
		ms := r.SizeBits(m.Spec)
		if m.BitWidth != 0 {
			ms = uint32(m.BitWidth)
		}
		if si.IsUnion {
			m.OffsetBits = 0
			if ms > offset {
				offset = ms
			}
		} else {
			offset = alignUp(offset, ma)
			m.OffsetBits = offset
			offset += ms
		}
		if ma > align {
			align = ma
		}
	}

	size := alignUp(offset, align)
	if size == 0 {
		size = 8 // empty class occupies one byte
	}
	info.SizeBits = size
	info.AlignBits = align
	si.Phase = PhaseLayout
}

// AssignVTableSlots builds the vtable: inherited slots first (primary base
// order preserved, overrides replace in place), then new virtual functions
// in declaration order.
func (r *Registry) AssignVTableSlots(idx TypeIndex) {
	info := r.Get(idx)
	si := info.Struct
	if si == nil {
		return
	}
	var slots []VTableSlot
	if len(si.Bases) > 0 {
		base := r.Get(si.Bases[0].Type)
		if base.Struct != nil {
			slots = append(slots, base.Struct.VTable...)
		}
	}
	for i := range si.Methods {
		m := &si.Methods[i]
		if !m.Virtual {
			m.Slot = -1
			continue
		}
		replaced := false
		for s := range slots {
			if slots[s].Name == m.Name {
				slots[s] = VTableSlot{Name: m.Name, Mangled: m.Mangled, Node: m.Node}
				m.Slot = s
				replaced = true
				break
			}
		}
		if !replaced {
			m.Slot = len(slots)
			slots = append(slots, VTableSlot{Name: m.Name, Mangled: m.Mangled, Node: m.Node})
		}
		si.Polymorphic = true
		if m.Pure {
			si.Abstract = true
		}
	}
	si.VTable = slots
	if len(slots) > 0 {
		si.Polymorphic = true
	}
}

// MarkFull advances a struct entry to the Full phase.
func (r *Registry) MarkFull(idx TypeIndex) {
	if si := r.Get(idx).Struct; si != nil {
		if si.Phase < PhaseLayout {
			r.Layout(idx)
		}
		si.Phase = PhaseFull
	}
}

func alignUp(v, a uint32) uint32 {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}
