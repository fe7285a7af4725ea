package objfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func sampleObject() *Object {
	return &Object{
		Sections: []Section{
			{Name: ".text", Data: []byte{0x55, 0xC3}, Relocs: []Reloc{
				{Offset: 1, Symbol: "puts", Type: RelRel32},
			}},
			{Name: ".data", Data: []byte{1, 2, 3, 4}},
			{Name: ".bss", Bss: true, Size: 16},
			{Name: ".rdata", Data: []byte("hi\x00")},
		},
		Symbols: []Symbol{
			{Name: "main", Section: ".text", Value: 0, Global: true, Func: true},
			{Name: "g_count", Section: ".data", Value: 0, Global: true},
		},
	}
}

func TestCOFFHeader(t *testing.T) {
	out := WriteCOFF(sampleObject())
	if binary.LittleEndian.Uint16(out[0:]) != 0x8664 {
		t.Fatal("machine must be AMD64")
	}
	if binary.LittleEndian.Uint16(out[2:]) != 4 {
		t.Errorf("section count = %d, want 4", binary.LittleEndian.Uint16(out[2:]))
	}
	if binary.LittleEndian.Uint32(out[4:]) != 0 {
		t.Error("timestamp must be fixed at 0 for deterministic output")
	}
}

func TestCOFFSectionNames(t *testing.T) {
	out := WriteCOFF(sampleObject())
	if !bytes.Contains(out[:20+4*40], []byte(".text")) {
		t.Error(".text header missing")
	}
	if !bytes.Contains(out[:20+4*40], []byte(".bss")) {
		t.Error(".bss header missing")
	}
}

func TestCOFFDeterministic(t *testing.T) {
	a := WriteCOFF(sampleObject())
	b := WriteCOFF(sampleObject())
	if !bytes.Equal(a, b) {
		t.Fatal("identical input must produce identical bytes")
	}
}

func TestCOFFUndefinedExternal(t *testing.T) {
	out := WriteCOFF(sampleObject())
	if !bytes.Contains(out, []byte("puts")) {
		t.Error("relocation target must appear in the symbol table")
	}
}

func TestELFIdent(t *testing.T) {
	out := WriteELF(sampleObject())
	if !bytes.HasPrefix(out, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1}) {
		t.Fatal("bad ELF ident")
	}
	if binary.LittleEndian.Uint16(out[16:]) != 1 {
		t.Error("type must be ET_REL")
	}
	if binary.LittleEndian.Uint16(out[18:]) != 0x3E {
		t.Error("machine must be EM_X86_64")
	}
}

func TestELFDeterministic(t *testing.T) {
	a := WriteELF(sampleObject())
	b := WriteELF(sampleObject())
	if !bytes.Equal(a, b) {
		t.Fatal("identical input must produce identical bytes")
	}
}

func TestELFHasRelaSection(t *testing.T) {
	out := WriteELF(sampleObject())
	if !bytes.Contains(out, []byte(".rela.text")) {
		t.Error("relocated section must emit .rela.text")
	}
	if !bytes.Contains(out, []byte(".symtab")) {
		t.Error(".symtab missing")
	}
}
