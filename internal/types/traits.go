package types

import "github.com/cwbudde/go-cxx/internal/ast"

// Trait queries. These back the `__is_*` / `__has_*` intrinsics the
// template engine evaluates at compile time. All queries are pure reads of
// the registry.

// IsClass reports a non-union class type (no pointers, no reference).
func (r *Registry) IsClass(s Specifier) bool {
	if s.IsPointer() || s.IsReference() || s.IsArray() || s.Func != nil {
		return false
	}
	info := r.Get(s.Base)
	return (info.Kind == KindStruct || info.Kind == KindInstantiation) &&
		info.Struct != nil && !info.Struct.IsUnion
}

// IsUnion reports a union type.
func (r *Registry) IsUnion(s Specifier) bool {
	if s.IsPointer() || s.IsReference() || s.IsArray() {
		return false
	}
	info := r.Get(s.Base)
	return info.Struct != nil && info.Struct.IsUnion
}

// IsEnum reports an enumeration type.
func (r *Registry) IsEnum(s Specifier) bool {
	return !s.IsPointer() && !s.IsReference() && !s.IsArray() &&
		r.Get(s.Base).Kind == KindEnum
}

// IsReference reports a reference type.
func (r *Registry) IsReference(s Specifier) bool { return s.IsReference() }

// IsPointerType reports a pointer type.
func (r *Registry) IsPointerType(s Specifier) bool { return !s.IsReference() && s.IsPointer() }

// IsArithmetic reports an integral or floating-point type.
func (r *Registry) IsArithmetic(s Specifier) bool {
	return r.IsIntegral(s) || r.IsFloating(s)
}

// IsIntegral reports an integral type (bool and character types included).
func (r *Registry) IsIntegral(s Specifier) bool {
	if s.IsPointer() || s.IsReference() || s.IsArray() {
		return false
	}
	switch r.Get(s.Base).Prim {
	case PrimBool, PrimChar, PrimSChar, PrimUChar, PrimChar8, PrimChar16,
		PrimChar32, PrimWChar, PrimShort, PrimUShort, PrimInt, PrimUInt,
		PrimLong, PrimULong, PrimLongLong, PrimULongLong:
		return true
	}
	return false
}

// IsFloating reports a floating-point type.
func (r *Registry) IsFloating(s Specifier) bool {
	if s.IsPointer() || s.IsReference() || s.IsArray() {
		return false
	}
	switch r.Get(s.Base).Prim {
	case PrimFloat, PrimDouble, PrimLongDouble:
		return true
	}
	return false
}

// IsVoid reports the void type.
func (r *Registry) IsVoid(s Specifier) bool {
	return !s.IsPointer() && !s.IsReference() && !s.IsArray() &&
		r.Get(s.Base).Prim == PrimVoid
}

// IsNullPointer reports std::nullptr_t.
func (r *Registry) IsNullPointer(s Specifier) bool {
	return !s.IsPointer() && !s.IsReference() && !s.IsArray() &&
		r.Get(s.Base).Prim == PrimNullptr
}

// IsFundamental reports arithmetic, void, or nullptr_t.
func (r *Registry) IsFundamental(s Specifier) bool {
	return r.IsArithmetic(s) || r.IsVoid(s) || r.IsNullPointer(s)
}

// IsScalar reports arithmetic, enum, pointer, member pointer, or nullptr_t.
func (r *Registry) IsScalar(s Specifier) bool {
	if s.IsReference() || s.IsArray() {
		return false
	}
	if s.IsPointer() || s.Func != nil || r.Get(s.Base).Kind == KindFunctionPtr {
		return true
	}
	return r.IsArithmetic(s) || r.IsEnum(s) || r.IsNullPointer(s)
}

// IsObject reports any type that is not a function, reference, or void.
func (r *Registry) IsObject(s Specifier) bool {
	if s.IsReference() {
		return false
	}
	if s.Func != nil && !s.IsPointer() {
		return false
	}
	return !r.IsVoid(s)
}

// IsCompound reports everything that is not fundamental.
func (r *Registry) IsCompound(s Specifier) bool { return !r.IsFundamental(s) }

// IsConst reports top-level const.
func (r *Registry) IsConst(s Specifier) bool {
	if s.IsReference() {
		return false
	}
	if n := len(s.Pointers); n > 0 {
		return s.Pointers[n-1].Const
	}
	return s.Const
}

// IsVolatile reports top-level volatile.
func (r *Registry) IsVolatile(s Specifier) bool {
	if s.IsReference() {
		return false
	}
	if n := len(s.Pointers); n > 0 {
		return s.Pointers[n-1].Volatile
	}
	return s.Volatile
}

// IsSigned reports a signed arithmetic type.
func (r *Registry) IsSigned(s Specifier) bool {
	if r.IsFloating(s) {
		return true
	}
	if !r.IsIntegral(s) {
		return false
	}
	switch r.Get(s.Base).Prim {
	case PrimChar, PrimSChar, PrimShort, PrimInt, PrimLong, PrimLongLong:
		return true
	}
	return false
}

// IsUnsigned reports an unsigned arithmetic type (bool included).
func (r *Registry) IsUnsigned(s Specifier) bool {
	if !r.IsIntegral(s) {
		return false
	}
	return !r.IsSigned(s)
}

// IsBoundedArray reports an array of known bound.
func (r *Registry) IsBoundedArray(s Specifier) bool {
	return !s.IsReference() && s.IsBoundedArray()
}

// IsUnboundedArray reports an array of unknown bound.
func (r *Registry) IsUnboundedArray(s Specifier) bool {
	return !s.IsReference() && s.IsUnboundedArray()
}

// IsPolymorphic reports a class with at least one virtual function.
func (r *Registry) IsPolymorphic(s Specifier) bool {
	return r.classInfo(s) != nil && r.classInfo(s).Polymorphic
}

// IsAbstract reports a class with at least one pure virtual function.
func (r *Registry) IsAbstract(s Specifier) bool {
	return r.classInfo(s) != nil && r.classInfo(s).Abstract
}

// IsFinal reports a class marked final.
func (r *Registry) IsFinal(s Specifier) bool {
	return r.classInfo(s) != nil && r.classInfo(s).Final
}

// IsEmpty reports a non-union class with no non-static data members, no
// virtual functions, and no non-empty bases.
func (r *Registry) IsEmpty(s Specifier) bool {
	si := r.classInfo(s)
	if si == nil || si.IsUnion || si.Polymorphic || len(si.Members) > 0 {
		return false
	}
	for _, b := range si.Bases {
		bs := Spec(b.Type)
		if !r.IsEmpty(bs) || b.Virtual {
			return false
		}
	}
	return true
}

// IsBaseOf reports whether base is a (possibly indirect) base of derived,
// or the same class.
func (r *Registry) IsBaseOf(base, derived Specifier) bool {
	if !r.IsClass(base) && !r.IsUnion(base) {
		return false
	}
	if base.Base == derived.Base {
		return r.IsClass(base)
	}
	si := r.classInfo(derived)
	if si == nil {
		return false
	}
	for _, b := range si.Bases {
		if b.Type == base.Base || r.IsBaseOf(base, Spec(b.Type)) {
			return true
		}
	}
	return false
}

// IsTrivial reports a trivially default-constructible and trivially
// copyable type.
func (r *Registry) IsTrivial(s Specifier) bool {
	if r.IsScalar(s) {
		return true
	}
	if s.IsArray() {
		elem := s
		elem.Arrays = nil
		return r.IsTrivial(elem)
	}
	si := r.classInfo(s)
	if si == nil {
		return false
	}
	return r.IsTriviallyCopyable(s) && !r.hasUserDefault(si)
}

// IsTriviallyCopyable reports that copying the object is memcpy.
func (r *Registry) IsTriviallyCopyable(s Specifier) bool {
	if r.IsScalar(s) {
		return true
	}
	if s.IsArray() {
		elem := s
		elem.Arrays = nil
		return r.IsTriviallyCopyable(elem)
	}
	si := r.classInfo(s)
	if si == nil {
		return false
	}
	if si.Polymorphic {
		return false
	}
	for i := range si.Methods {
		m := &si.Methods[i]
		if (m.IsCtor || m.IsDtor) && r.isUserProvided(m) && !m.IsDefaultCtorOnly() {
			return false
		}
	}
	for _, b := range si.Bases {
		if b.Virtual || !r.IsTriviallyCopyable(Spec(b.Type)) {
			return false
		}
	}
	for _, m := range si.Members {
		if !r.IsTriviallyCopyable(m.Spec) && !m.Spec.IsPointer() && !m.Spec.IsReference() {
			return false
		}
	}
	return true
}

// IsDefaultCtorOnly reports a constructor taking no parameters.
func (m *Method) IsDefaultCtorOnly() bool {
	return m.IsCtor && (m.Sig == nil || len(m.Sig.Params) == 0)
}

// IsStandardLayout reports standard-layout classes: no virtuals, no
// reference members, uniform access control, at most one class with data in
// the inheritance chain.
func (r *Registry) IsStandardLayout(s Specifier) bool {
	if r.IsScalar(s) {
		return true
	}
	if s.IsArray() {
		elem := s
		elem.Arrays = nil
		return r.IsStandardLayout(elem)
	}
	si := r.classInfo(s)
	if si == nil {
		return false
	}
	if si.Polymorphic {
		return false
	}
	access := -1
	for _, m := range si.Members {
		if m.Spec.IsReference() {
			return false
		}
		if access < 0 {
			access = int(m.Access)
		} else if access != int(m.Access) {
			return false
		}
	}
	for _, b := range si.Bases {
		if b.Virtual || !r.IsStandardLayout(Spec(b.Type)) {
			return false
		}
		bi := r.Get(b.Type)
		if bi.Struct != nil && len(bi.Struct.Members) > 0 && len(si.Members) > 0 {
			return false
		}
	}
	return true
}

// IsPOD reports trivial and standard-layout.
func (r *Registry) IsPOD(s Specifier) bool {
	return r.IsTrivial(s) && r.IsStandardLayout(s)
}

// IsDestructible reports a type whose destructor is not deleted. Scalars
// and references are destructible; void and unbounded arrays are not.
func (r *Registry) IsDestructible(s Specifier) bool {
	if s.IsReference() {
		return true
	}
	if r.IsVoid(s) || s.IsUnboundedArray() {
		return false
	}
	if r.IsScalar(s) {
		return true
	}
	si := r.classInfo(s)
	if si == nil {
		return s.IsArray()
	}
	for i := range si.Methods {
		m := &si.Methods[i]
		if m.IsDtor {
			return m.Access == ast.Public && !r.isDeleted(m)
		}
	}
	return true
}

// IsConstructible reports whether a T can be constructed from the given
// argument types. With no arguments this is default-constructibility.
func (r *Registry) IsConstructible(target Specifier, args []Specifier) bool {
	if r.IsVoid(target) || target.IsUnboundedArray() {
		return false
	}
	if target.IsReference() {
		return len(args) == 1 && r.IsConvertible(args[0], target)
	}
	if r.IsScalar(target) {
		switch len(args) {
		case 0:
			return true
		case 1:
			return r.IsConvertible(args[0], target)
		}
		return false
	}
	si := r.classInfo(target)
	if si == nil {
		return len(args) == 0 && target.IsArray()
	}
	hasCtor := false
	for i := range si.Methods {
		m := &si.Methods[i]
		if !m.IsCtor {
			continue
		}
		hasCtor = true
		if r.isDeleted(m) {
			continue
		}
		np := 0
		if m.Sig != nil {
			np = len(m.Sig.Params)
		}
		if np != len(args) {
			continue
		}
		ok := true
		for j, a := range args {
			if !r.IsConvertible(a, m.Sig.Params[j]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	if !hasCtor {
		// Implicit default and copy/move constructors.
		if len(args) == 0 {
			return true
		}
		if len(args) == 1 && args[0].Base == target.Base {
			return true
		}
	}
	return false
}

// IsAssignable reports whether `to = from` is well-formed.
func (r *Registry) IsAssignable(to, from Specifier) bool {
	if r.IsConst(to.StripRef()) {
		return false
	}
	if r.IsScalar(to.StripRef()) {
		return r.IsConvertible(from, to.StripRef())
	}
	si := r.classInfo(to.StripRef())
	if si == nil {
		return false
	}
	// Implicit copy assignment from the same class, or a conversion;
	// user-declared assignment operators are not consulted.
	return from.StripRef().Base == to.StripRef().Base || r.IsConvertible(from, to.StripRef())
}

// IsConvertible reports whether from converts to to by standard or derived
// to base conversions.
func (r *Registry) IsConvertible(from, to Specifier) bool {
	f := from.StripRef().StripCV()
	t := to.StripRef().StripCV()
	if f.Equal(t) {
		return true
	}
	if r.IsVoid(t) {
		return true
	}
	if r.IsArithmetic(f) && r.IsArithmetic(t) {
		return true
	}
	if r.IsEnum(f) && !r.Get(f.Base).Enum.Scoped && r.IsIntegral(t) {
		return true
	}
	if r.IsArithmetic(f) && r.IsIntegral(t) {
		return true
	}
	if f.IsPointer() && t.IsPointer() {
		fe, te := f.Deref(), t.Deref()
		if fe.Base == te.Base || r.IsVoid(te) {
			return true
		}
		return r.IsBaseOf(Spec(te.Base), Spec(fe.Base))
	}
	if r.IsNullPointer(f) && t.IsPointer() {
		return true
	}
	if f.IsArray() && t.IsPointer() {
		return r.IsConvertible(f.Decay(), t)
	}
	if (r.IsClass(f) || r.IsUnion(f)) && r.IsClass(t) {
		return r.IsBaseOf(t, f)
	}
	if r.IsArithmetic(f) && r.Get(t.Base).Prim == PrimBool {
		return true
	}
	if f.IsPointer() && r.Get(t.Base).Prim == PrimBool {
		return true
	}
	return false
}

// HasUniqueObjectRepresentations reports integral scalars and padding-free
// trivially copyable aggregates. Floats are excluded.
func (r *Registry) HasUniqueObjectRepresentations(s Specifier) bool {
	if s.IsPointer() {
		return true
	}
	if r.IsIntegral(s) || r.IsEnum(s) {
		return true
	}
	if r.IsFloating(s) {
		return false
	}
	if s.IsArray() {
		elem := s
		elem.Arrays = nil
		return s.IsBoundedArray() && r.HasUniqueObjectRepresentations(elem)
	}
	si := r.classInfo(s)
	if si == nil || !r.IsTriviallyCopyable(s) {
		return false
	}
	r.Layout(s.Base)
	var sum uint32
	for _, m := range si.Members {
		if !r.HasUniqueObjectRepresentations(m.Spec) {
			return false
		}
		sum += r.SizeBits(m.Spec)
	}
	return sum == r.Get(s.Base).SizeBits
}

// IsLayoutCompatible reports layout compatibility: same type, or
// standard-layout classes with a common initial sequence covering all
// members.
func (r *Registry) IsLayoutCompatible(a, b Specifier) bool {
	if a.StripCV().Equal(b.StripCV()) {
		return true
	}
	sa, sb := r.classInfo(a), r.classInfo(b)
	if sa == nil || sb == nil {
		if r.IsEnum(a) && r.IsEnum(b) {
			return r.Get(a.Base).Enum.Underlying == r.Get(b.Base).Enum.Underlying
		}
		return false
	}
	if !r.IsStandardLayout(a) || !r.IsStandardLayout(b) || len(sa.Members) != len(sb.Members) {
		return false
	}
	for i := range sa.Members {
		if !sa.Members[i].Spec.StripCV().Equal(sb.Members[i].Spec.StripCV()) {
			return false
		}
	}
	return true
}

func (r *Registry) classInfo(s Specifier) *StructInfo {
	if s.IsPointer() || s.IsReference() || s.IsArray() {
		return nil
	}
	return r.Get(s.Base).Struct
}

func (r *Registry) isUserProvided(m *Method) bool {
	f := r.nodeFlags(m.Node)
	return f&(ast.FlagDefaulted|ast.FlagDeleted) == 0
}

func (r *Registry) isDeleted(m *Method) bool {
	return r.nodeFlags(m.Node)&ast.FlagDeleted != 0
}

func (r *Registry) hasUserDefault(si *StructInfo) bool {
	for i := range si.Methods {
		m := &si.Methods[i]
		if m.IsDefaultCtorOnly() && r.isUserProvided(m) {
			return true
		}
	}
	return false
}

// NodeFlags returns the AST flags of a declaration node, or 0 when the
// node is absent.
func (r *Registry) NodeFlags(n ast.NodeRef) ast.Flags {
	if r.arena == nil || n == ast.Nil {
		return 0
	}
	return r.arena.Get(n).Flags
}

func (r *Registry) nodeFlags(n ast.NodeRef) ast.Flags { return r.NodeFlags(n) }
