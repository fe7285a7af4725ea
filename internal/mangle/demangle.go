package mangle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cwbudde/go-cxx/internal/ast"
	"github.com/cwbudde/go-cxx/internal/types"
)

// Demangle parses a name produced by this package back into an Entity.
// It covers exactly the compiler's own output alphabet; feeding it
// arbitrary platform symbols is out of scope.
func Demangle(target Target, reg *types.Registry, name string) (*Entity, error) {
	if target == COFF {
		return DemangleMSVC(reg, name)
	}
	return DemangleItanium(reg, name)
}

// --- Itanium ---

type itaniumParser struct {
	reg  *types.Registry
	s    string
	pos  int
	subs []string // rendered spellings, same granularity as the mangler
}

// DemangleItanium parses an Itanium-mangled function symbol.
func DemangleItanium(reg *types.Registry, name string) (*Entity, error) {
	if !strings.HasPrefix(name, "_Z") {
		return nil, fmt.Errorf("demangle: %q is not an itanium name", name)
	}
	p := &itaniumParser{reg: reg, s: name, pos: 2}
	e := &Entity{}
	if err := p.name(e); err != nil {
		return nil, err
	}
	if err := p.params(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *itaniumParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *itaniumParser) take() byte {
	c := p.peek()
	p.pos++
	return c
}

func (p *itaniumParser) name(e *Entity) error {
	if p.peek() != 'N' {
		return p.terminalName(e)
	}
	p.take()
	if p.peek() == 'K' {
		p.take()
		e.Const = true
	}
	if p.peek() == 'V' {
		p.take()
		e.Volatile = true
	}
	switch p.peek() {
	case 'R':
		p.take()
		e.Ref = types.LValueRef
	case 'O':
		p.take()
		e.Ref = types.RValueRef
	}
	var comps []string
	for p.peek() != 'E' && p.pos < len(p.s) {
		if p.peek() == 'C' || p.peek() == 'D' {
			p.take()
			kind := p.s[p.pos-1]
			p.take() // variant digit
			if kind == 'C' {
				e.IsCtor = true
			} else {
				e.IsDtor = true
			}
			continue
		}
		if p.peek() == 'I' {
			if err := p.templateArgs(e); err != nil {
				return err
			}
			continue
		}
		comp, err := p.sourceName()
		if err != nil {
			return err
		}
		comps = append(comps, comp)
	}
	if p.take() != 'E' {
		return fmt.Errorf("demangle: missing E in %q", p.s)
	}
	if len(comps) > 0 && !e.IsCtor && !e.IsDtor {
		e.Name = comps[len(comps)-1]
		comps = comps[:len(comps)-1]
	}
	// Components naming types are class context; the rest are namespaces.
	for i, c := range comps {
		if i == len(comps)-1 && p.reg.ByNameString(c) != types.Invalid {
			e.Class = c
		} else {
			e.Namespace = append(e.Namespace, c)
		}
	}
	return nil
}

func (p *itaniumParser) terminalName(e *Entity) error {
	n, err := p.sourceName()
	if err != nil {
		return err
	}
	e.Name = n
	if p.peek() == 'I' {
		return p.templateArgs(e)
	}
	return nil
}

func (p *itaniumParser) templateArgs(e *Entity) error {
	p.take() // I
	for p.peek() != 'E' && p.pos < len(p.s) {
		if p.peek() == 'L' {
			p.take()
			spec, _, err := p.parseType()
			if err != nil {
				return err
			}
			neg := false
			if p.peek() == 'n' {
				p.take()
				neg = true
			}
			start := p.pos
			for p.peek() >= '0' && p.peek() <= '9' {
				p.take()
			}
			v, _ := strconv.ParseInt(p.s[start:p.pos], 10, 64)
			if neg {
				v = -v
			}
			if p.take() != 'E' {
				return fmt.Errorf("demangle: bad expr-primary in %q", p.s)
			}
			e.TemplateArgs = append(e.TemplateArgs, types.TemplateArg{
				Value: v, ValueType: spec.Base,
			})
			continue
		}
		spec, text, err := p.parseType()
		if err != nil {
			return err
		}
		if len(text) > 1 && !strings.HasPrefix(text, "S") {
			p.subs = append(p.subs, text)
		}
		e.TemplateArgs = append(e.TemplateArgs, types.TemplateArg{IsType: true, Type: spec})
	}
	p.take() // E
	return nil
}

func (p *itaniumParser) sourceName() (string, error) {
	start := p.pos
	for p.peek() >= '0' && p.peek() <= '9' {
		p.take()
	}
	if start == p.pos {
		return "", fmt.Errorf("demangle: expected length at %d in %q", p.pos, p.s)
	}
	n, _ := strconv.Atoi(p.s[start:p.pos])
	if p.pos+n > len(p.s) {
		return "", fmt.Errorf("demangle: name overruns %q", p.s)
	}
	out := p.s[p.pos : p.pos+n]
	p.pos += n
	return out, nil
}

func (p *itaniumParser) params(e *Entity) error {
	if p.peek() == 'v' && p.pos == len(p.s)-1 {
		p.take()
		return nil
	}
	for p.pos < len(p.s) {
		if p.peek() == 'z' {
			p.take()
			e.Variadic = true
			continue
		}
		spec, text, err := p.parseType()
		if err != nil {
			return err
		}
		if len(text) > 1 && !strings.HasPrefix(text, "S") {
			p.subs = append(p.subs, text)
		}
		e.Params = append(e.Params, spec)
	}
	return nil
}

var itaniumPrimRev = func() map[string]types.Prim {
	m := make(map[string]types.Prim, len(itaniumPrim))
	for k, v := range itaniumPrim {
		m[v] = k
	}
	return m
}()

// parseType parses one type, returning the specifier and its rendered
// spelling (for the substitution table).
func (p *itaniumParser) parseType() (types.Specifier, string, error) {
	start := p.pos
	spec, err := p.parseTypeInner()
	return spec, p.s[start:p.pos], err
}

func (p *itaniumParser) parseTypeInner() (types.Specifier, error) {
	var spec types.Specifier

	// Substitution reference.
	if p.peek() == 'S' {
		p.take()
		idx := 0
		if p.peek() != '_' {
			d := p.take()
			idx = int(d-'0') + 1
		}
		if p.take() != '_' {
			return spec, fmt.Errorf("demangle: bad substitution in %q", p.s)
		}
		if idx >= len(p.subs) {
			return spec, fmt.Errorf("demangle: substitution %d out of range", idx)
		}
		sub := &itaniumParser{reg: p.reg, s: p.subs[idx]}
		return sub.parseTypeInner()
	}

	switch p.peek() {
	case 'R':
		p.take()
		inner, err := p.parseTypeInner()
		inner.Ref = types.LValueRef
		return inner, err
	case 'O':
		p.take()
		inner, err := p.parseTypeInner()
		inner.Ref = types.RValueRef
		return inner, err
	case 'P':
		p.take()
		lvl := types.PtrLevel{}
		for {
			if p.peek() == 'K' {
				p.take()
				lvl.Const = true
				continue
			}
			if p.peek() == 'V' {
				p.take()
				lvl.Volatile = true
				continue
			}
			break
		}
		inner, err := p.parseTypeInner()
		inner.Pointers = append(inner.Pointers, lvl)
		return inner, err
	case 'A':
		p.take()
		count := int64(-1)
		if p.peek() >= '0' && p.peek() <= '9' {
			s := p.pos
			for p.peek() >= '0' && p.peek() <= '9' {
				p.take()
			}
			count, _ = strconv.ParseInt(p.s[s:p.pos], 10, 64)
		}
		if p.take() != '_' {
			return spec, fmt.Errorf("demangle: bad array in %q", p.s)
		}
		inner, err := p.parseTypeInner()
		inner.Arrays = append([]types.ArrayDim{{Count: count}}, inner.Arrays...)
		return inner, err
	case 'K':
		p.take()
		inner, err := p.parseTypeInner()
		inner.Const = true
		return inner, err
	case 'V':
		p.take()
		inner, err := p.parseTypeInner()
		inner.Volatile = true
		return inner, err
	case 'F':
		p.take()
		ret, err := p.parseTypeInner()
		if err != nil {
			return spec, err
		}
		sig := &types.Signature{Return: ret}
		for p.peek() != 'E' && p.pos < len(p.s) {
			param, err := p.parseTypeInner()
			if err != nil {
				return spec, err
			}
			if p.reg.IsVoid(param) && len(sig.Params) == 0 && p.peek() == 'E' {
				break
			}
			sig.Params = append(sig.Params, param)
		}
		p.take() // E
		spec.Func = sig
		spec.Base = p.reg.Primitive(types.PrimVoid)
		return spec, nil
	}

	// Two-char D-codes, then single-char primitives, then named types.
	if p.peek() == 'D' {
		two := p.s[p.pos : p.pos+2]
		if prim, ok := itaniumPrimRev[two]; ok {
			p.pos += 2
			spec.Base = p.reg.Primitive(prim)
			return spec, nil
		}
	}
	if prim, ok := itaniumPrimRev[string(p.peek())]; ok {
		p.take()
		spec.Base = p.reg.Primitive(prim)
		return spec, nil
	}
	name, err := p.sourceName()
	if err != nil {
		return spec, err
	}
	idx := p.reg.ByNameString(name)
	if idx == types.Invalid {
		return spec, fmt.Errorf("demangle: unknown type %q", name)
	}
	spec.Base = idx
	return spec, nil
}

// --- MSVC ---

var msvcPrimRev = func() map[string]types.Prim {
	m := make(map[string]types.Prim, len(msvcPrim))
	for k, v := range msvcPrim {
		m[v] = k
	}
	return m
}()

type msvcParser struct {
	reg *types.Registry
	s   string
	pos int
}

// DemangleMSVC parses an MSVC-mangled function symbol.
func DemangleMSVC(reg *types.Registry, name string) (*Entity, error) {
	if !strings.HasPrefix(name, "?") {
		return nil, fmt.Errorf("demangle: %q is not an msvc name", name)
	}
	p := &msvcParser{reg: reg, s: name, pos: 1}
	e := &Entity{}

	switch {
	case strings.HasPrefix(p.s[p.pos:], "?0"):
		e.IsCtor = true
		p.pos += 2
	case strings.HasPrefix(p.s[p.pos:], "?1"):
		e.IsDtor = true
		p.pos += 2
	default:
		at := strings.IndexByte(p.s[p.pos:], '@')
		if at < 0 {
			return nil, fmt.Errorf("demangle: missing name terminator in %q", name)
		}
		e.Name = p.s[p.pos : p.pos+at]
		p.pos += at + 1
	}

	// Scope parts until the '@@' terminator.
	var parts []string
	for {
		if strings.HasPrefix(p.s[p.pos:], "@") {
			p.pos++
			break
		}
		at := strings.IndexByte(p.s[p.pos:], '@')
		if at < 0 {
			return nil, fmt.Errorf("demangle: missing scope terminator in %q", name)
		}
		parts = append(parts, p.s[p.pos:p.pos+at])
		p.pos += at + 1
	}
	// Innermost first in the mangled form.
	if len(parts) > 0 && p.reg.ByNameString(parts[0]) != types.Invalid {
		e.Class = parts[0]
		parts = parts[1:]
	}
	for i := len(parts) - 1; i >= 0; i-- {
		e.Namespace = append(e.Namespace, parts[i])
	}

	// Kind and calling convention.
	c := p.take()
	switch c {
	case 'Y':
		p.expect('A')
	case 'Q', 'I', 'A':
		switch c {
		case 'A':
			e.Access = ast.Private
		case 'I':
			e.Access = ast.Protected
		default:
			e.Access = ast.Public
		}
		p.expect('E')
		q := p.take() // A or B
		if q == 'B' {
			e.Const = true
		}
		p.expect('A')
	case 'S', 'K', 'C':
		e.Static = true
		switch c {
		case 'C':
			e.Access = ast.Private
		case 'K':
			e.Access = ast.Protected
		default:
			e.Access = ast.Public
		}
		p.expect('A')
	default:
		return nil, fmt.Errorf("demangle: unknown kind %c in %q", c, name)
	}

	if e.IsCtor || e.IsDtor {
		p.expect('@')
	} else {
		ret, err := p.parseType()
		if err != nil {
			return nil, err
		}
		e.Return = ret
	}

	if p.peek() == 'X' && strings.HasPrefix(p.s[p.pos:], "XZ") {
		p.pos++ // no parameters
	} else {
		for {
			if p.peek() == '@' {
				p.pos++
				break
			}
			if p.peek() == 'Z' && p.pos == len(p.s)-2 {
				e.Variadic = true
				p.pos++
				break
			}
			param, err := p.parseType()
			if err != nil {
				return nil, err
			}
			e.Params = append(e.Params, param)
		}
	}
	p.expect('Z')
	return e, nil
}

func (p *msvcParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *msvcParser) take() byte {
	c := p.peek()
	p.pos++
	return c
}

func (p *msvcParser) expect(c byte) {
	if p.peek() == c {
		p.pos++
	}
}

func (p *msvcParser) parseType() (types.Specifier, error) {
	var spec types.Specifier

	switch {
	case strings.HasPrefix(p.s[p.pos:], "AEA"):
		p.pos += 3
		inner, err := p.parseType()
		inner.Ref = types.LValueRef
		return inner, err
	case strings.HasPrefix(p.s[p.pos:], "$$QEA"):
		p.pos += 5
		inner, err := p.parseType()
		inner.Ref = types.RValueRef
		return inner, err
	case strings.HasPrefix(p.s[p.pos:], "PE"):
		p.pos += 2
		lvl := types.PtrLevel{}
		switch p.take() {
		case 'B':
			lvl.Const = true
		case 'C':
			lvl.Volatile = true
		case 'D':
			lvl.Const = true
			lvl.Volatile = true
		}
		inner, err := p.parseType()
		inner.Pointers = append(inner.Pointers, lvl)
		return inner, err
	case strings.HasPrefix(p.s[p.pos:], "$$CB"):
		p.pos += 4
		inner, err := p.parseType()
		inner.Const = true
		return inner, err
	case strings.HasPrefix(p.s[p.pos:], "W4"):
		p.pos += 2
		name, err := p.scopedName()
		if err != nil {
			return spec, err
		}
		idx := p.reg.ByNameString(name)
		if idx == types.Invalid {
			return spec, fmt.Errorf("demangle: unknown enum %q", name)
		}
		spec.Base = idx
		return spec, nil
	case p.peek() == 'V' || p.peek() == 'U' || p.peek() == 'T':
		p.pos++
		name, err := p.scopedName()
		if err != nil {
			return spec, err
		}
		idx := p.reg.ByNameString(name)
		if idx == types.Invalid {
			return spec, fmt.Errorf("demangle: unknown class %q", name)
		}
		spec.Base = idx
		return spec, nil
	}

	// Underscore-prefixed and plain primitive codes.
	if p.peek() == '_' || p.peek() == '$' {
		for n := 3; n >= 2; n-- {
			if p.pos+n <= len(p.s) {
				if prim, ok := msvcPrimRev[p.s[p.pos:p.pos+n]]; ok {
					p.pos += n
					spec.Base = p.reg.Primitive(prim)
					return spec, nil
				}
			}
		}
	}
	if prim, ok := msvcPrimRev[string(p.peek())]; ok {
		p.pos++
		spec.Base = p.reg.Primitive(prim)
		return spec, nil
	}
	return spec, fmt.Errorf("demangle: unknown type code at %d in %q", p.pos, p.s)
}

func (p *msvcParser) scopedName() (string, error) {
	end := strings.Index(p.s[p.pos:], "@@")
	if end < 0 {
		return "", fmt.Errorf("demangle: unterminated name in %q", p.s)
	}
	out := p.s[p.pos : p.pos+end]
	p.pos += end + 2
	return out, nil
}
