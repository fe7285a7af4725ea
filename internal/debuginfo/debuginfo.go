// Package debuginfo emits per-function debug records: CodeView symbol and
// line fragments for COFF `.debug$S`, and a DWARF line-number program for
// ELF `.debug_line`.
package debuginfo

import (
	"encoding/binary"
	"sort"

	"github.com/cwbudde/go-cxx/internal/encoder"
	"github.com/cwbudde/go-cxx/internal/intern"
)

// CodeView subsection kinds.
const (
	cvSignature      = 4
	cvSubsectSymbols = 0xF1
	cvSubsectLines   = 0xF2
	cvSymGProc32     = 0x1110
	cvSymRegRel32    = 0x1111
	cvSymProcEnd     = 0x0006
)

// CodeView builds the `.debug$S` contribution of one translation unit.
type CodeView struct {
	Table *intern.Table
	buf   []byte
}

func (c *CodeView) u16(v uint16) { c.buf = binary.LittleEndian.AppendUint16(c.buf, v) }
func (c *CodeView) u32(v uint32) { c.buf = binary.LittleEndian.AppendUint32(c.buf, v) }

// Begin writes the CodeView signature.
func (c *CodeView) Begin() {
	c.u32(cvSignature)
}

// Function appends an S_GPROC32 range, REGREL32 records for each named
// frame slot, and the line fragment of one encoded function.
func (c *CodeView) Function(enc *encoder.Encoded, slots map[intern.Handle]int32, lines []encoder.LineEntry) {
	name := c.Table.Lookup(enc.Mangled)
	if name == "" {
		name = c.Table.Lookup(enc.Name)
	}

	var sub []byte
	put16 := func(v uint16) { sub = binary.LittleEndian.AppendUint16(sub, v) }
	put32 := func(v uint32) { sub = binary.LittleEndian.AppendUint32(sub, v) }

	// S_GPROC32: {reclen, kind, parent, end, next, len, dbgstart, dbgend,
	// typeindex, offset, section, flags, name}.
	rec := 2 + 4*7 + 4 + 2 + 1 + len(name) + 1
	put16(uint16(rec))
	put16(cvSymGProc32)
	put32(0)
	put32(0)
	put32(0)
	put32(uint32(len(enc.Code)))
	put32(0)
	put32(uint32(len(enc.Code)))
	put32(0) // type index
	put32(0) // offset, relocated by the writer
	put16(0) // section, relocated
	sub = append(sub, 0)
	sub = append(sub, name...)
	sub = append(sub, 0)

	// S_REGREL32 per frame slot (parameters and locals), name-sorted so
	// output bytes stay deterministic.
	handles := make([]intern.Handle, 0, len(slots))
	for h := range slots {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		return c.Table.Lookup(handles[i]) < c.Table.Lookup(handles[j])
	})
	for _, h := range handles {
		off := slots[h]
		n := c.Table.Lookup(h)
		if n == "" {
			continue
		}
		l := 2 + 4 + 4 + 2 + len(n) + 1
		put16(uint16(l))
		put16(cvSymRegRel32)
		put32(uint32(off))
		put32(0)   // type index
		put16(334) // CV_AMD64_RBP
		sub = append(sub, n...)
		sub = append(sub, 0)
	}
	put16(2)
	put16(cvSymProcEnd)

	c.u32(cvSubsectSymbols)
	c.u32(uint32(len(sub)))
	c.buf = append(c.buf, sub...)
	c.align4()

	// Line fragment: {offset, section, flags, code size} then one file
	// block mapping code offsets to lines.
	var lf []byte
	putl32 := func(v uint32) { lf = binary.LittleEndian.AppendUint32(lf, v) }
	putl32(0)
	lf = append(lf, 0, 0, 0, 0) // section+flags
	putl32(uint32(len(enc.Code)))
	putl32(0) // file id
	putl32(uint32(len(lines)))
	putl32(uint32(12 + len(lines)*8))
	for _, ln := range lines {
		putl32(ln.Offset)
		putl32(ln.Line | 1<<31) // statement bit
	}
	c.u32(cvSubsectLines)
	c.u32(uint32(len(lf)))
	c.buf = append(c.buf, lf...)
	c.align4()
}

func (c *CodeView) align4() {
	for len(c.buf)%4 != 0 {
		c.buf = append(c.buf, 0)
	}
}

// Bytes returns the accumulated `.debug$S` payload.
func (c *CodeView) Bytes() []byte { return c.buf }

// DwarfLine builds a minimal `.debug_line` program: one file table entry
// per file plus special-opcode-free advance/copy rows.
type DwarfLine struct {
	Files []string
	rows  []dwRow
}

type dwRow struct {
	offset uint32
	file   uint16
	line   uint32
}

// Row records one code-offset/line pair.
func (d *DwarfLine) Row(offset uint32, file uint16, line uint32) {
	d.rows = append(d.rows, dwRow{offset: offset, file: file, line: line})
}

// Bytes assembles the line-number program (DWARF v3, minimal header).
func (d *DwarfLine) Bytes() []byte {
	var body []byte
	u8 := func(v byte) { body = append(body, v) }

	// Opcodes: DW_LNS_advance_pc=2, advance_line=3, set_file=4, copy=1,
	// extended end_sequence.
	var prevOff uint32
	prevLine := uint32(1)
	for _, r := range d.rows {
		u8(4)
		uleb(&body, uint64(r.file)+1)
		u8(2)
		uleb(&body, uint64(r.offset-prevOff))
		u8(3)
		sleb(&body, int64(r.line)-int64(prevLine))
		u8(1)
		prevOff = r.offset
		prevLine = r.line
	}
	u8(0)
	u8(1)
	u8(1) // DW_LNE_end_sequence

	var header []byte
	h16 := func(v uint16) { header = binary.LittleEndian.AppendUint16(header, v) }

	h16(3) // version
	var proto []byte
	proto = append(proto, 1, 1, 1, 0xFB, 14, 0) // min_inst, default_is_stmt, line_base, line_range... trimmed
	// Standard opcode lengths for opcodes 1..12.
	proto = append(proto, 0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1)
	proto = append(proto, 0) // include directories
	for _, f := range d.Files {
		proto = append(proto, f...)
		proto = append(proto, 0, 0, 0, 0)
	}
	proto = append(proto, 0)

	var out []byte
	total := uint32(len(header) + 4 + len(proto) + len(body))
	out = binary.LittleEndian.AppendUint32(out, total)
	out = append(out, header...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(proto)))
	out = append(out, proto...)
	out = append(out, body...)
	return out
}

func uleb(b *[]byte, v uint64) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		*b = append(*b, c)
		if v == 0 {
			return
		}
	}
}

func sleb(b *[]byte, v int64) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		*b = append(*b, c)
		if done {
			return
		}
	}
}
