package types

// EvalTrait evaluates a named `__is_*` / `__has_*` intrinsic over resolved
// operands. The second result is false for names this compiler does not
// implement.
func (r *Registry) EvalTrait(name string, args []Specifier) (value, known bool) {
	one := func(f func(Specifier) bool) (bool, bool) {
		if len(args) != 1 {
			return false, true
		}
		return f(args[0]), true
	}
	two := func(f func(a, b Specifier) bool) (bool, bool) {
		if len(args) != 2 {
			return false, true
		}
		return f(args[0], args[1]), true
	}

	switch name {
	case "__is_class":
		return one(r.IsClass)
	case "__is_enum":
		return one(r.IsEnum)
	case "__is_union":
		return one(r.IsUnion)
	case "__is_base_of":
		return two(r.IsBaseOf)
	case "__is_polymorphic":
		return one(r.IsPolymorphic)
	case "__is_abstract":
		return one(r.IsAbstract)
	case "__is_final":
		return one(r.IsFinal)
	case "__is_empty":
		return one(r.IsEmpty)
	case "__is_standard_layout":
		return one(r.IsStandardLayout)
	case "__is_trivial":
		return one(r.IsTrivial)
	case "__is_trivially_copyable":
		return one(r.IsTriviallyCopyable)
	case "__is_pod":
		return one(r.IsPOD)
	case "__is_reference":
		return one(r.IsReference)
	case "__is_lvalue_reference":
		if len(args) != 1 {
			return false, true
		}
		return args[0].Ref == LValueRef, true
	case "__is_rvalue_reference":
		if len(args) != 1 {
			return false, true
		}
		return args[0].Ref == RValueRef, true
	case "__is_pointer":
		return one(r.IsPointerType)
	case "__is_arithmetic":
		return one(r.IsArithmetic)
	case "__is_integral":
		return one(r.IsIntegral)
	case "__is_floating_point":
		return one(r.IsFloating)
	case "__is_fundamental":
		return one(r.IsFundamental)
	case "__is_object":
		return one(r.IsObject)
	case "__is_scalar":
		return one(r.IsScalar)
	case "__is_compound":
		return one(r.IsCompound)
	case "__is_const":
		return one(r.IsConst)
	case "__is_volatile":
		return one(r.IsVolatile)
	case "__is_signed":
		return one(r.IsSigned)
	case "__is_unsigned":
		return one(r.IsUnsigned)
	case "__is_void":
		return one(r.IsVoid)
	case "__is_array":
		if len(args) != 1 {
			return false, true
		}
		return args[0].IsArray(), true
	case "__is_bounded_array":
		return one(r.IsBoundedArray)
	case "__is_unbounded_array":
		return one(r.IsUnboundedArray)
	case "__is_convertible", "__is_convertible_to":
		return two(r.IsConvertible)
	case "__is_constructible":
		if len(args) == 0 {
			return false, true
		}
		return r.IsConstructible(args[0], args[1:]), true
	case "__is_default_constructible":
		if len(args) != 1 {
			return false, true
		}
		return r.IsConstructible(args[0], nil), true
	case "__is_assignable":
		return two(r.IsAssignable)
	case "__is_destructible":
		return one(r.IsDestructible)
	case "__is_trivially_destructible":
		if len(args) != 1 {
			return false, true
		}
		if !r.IsDestructible(args[0]) {
			return false, true
		}
		si := r.classInfo(args[0])
		if si == nil {
			return true, true
		}
		for i := range si.Methods {
			m := &si.Methods[i]
			if m.IsDtor && r.isUserProvided(m) {
				return false, true
			}
		}
		return true, true
	case "__has_unique_object_representations":
		return one(r.HasUniqueObjectRepresentations)
	case "__is_layout_compatible":
		return two(r.IsLayoutCompatible)
	case "__has_virtual_destructor":
		if len(args) != 1 {
			return false, true
		}
		si := r.classInfo(args[0])
		if si == nil {
			return false, true
		}
		for i := range si.Methods {
			if si.Methods[i].IsDtor && si.Methods[i].Virtual {
				return true, true
			}
		}
		return false, true
	case "__is_function":
		if len(args) != 1 {
			return false, true
		}
		return args[0].Func != nil && !args[0].IsPointer(), true
	case "__is_member_pointer", "__is_member_function_pointer", "__is_member_object_pointer":
		// Member pointers are outside this subset; the intrinsics exist
		// and classify everything as false.
		return false, true
	case "__is_null_pointer":
		return one(r.IsNullPointer)
	case "__is_same", "__is_same_as":
		if len(args) != 2 {
			return false, true
		}
		return args[0].Equal(args[1]), true
	case "__is_aggregate":
		if len(args) != 1 {
			return false, true
		}
		si := r.classInfo(args[0])
		if si == nil {
			return args[0].IsArray(), true
		}
		for i := range si.Methods {
			if si.Methods[i].IsCtor && r.isUserProvided(&si.Methods[i]) {
				return false, true
			}
		}
		return !si.Polymorphic, true
	}
	return false, false
}
