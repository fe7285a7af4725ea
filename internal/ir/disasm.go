package ir

import (
	"fmt"
	"strings"

	"github.com/cwbudde/go-cxx/internal/intern"
)

var opcodeNames = map[Opcode]string{
	Nop: "Nop", Add: "Add", Subtract: "Subtract", Multiply: "Multiply",
	Divide: "Divide", UnsignedDivide: "UnsignedDivide", Modulo: "Modulo",
	UnsignedModulo: "UnsignedModulo", FloatAdd: "FloatAdd",
	FloatSubtract: "FloatSubtract", FloatMultiply: "FloatMultiply",
	FloatDivide: "FloatDivide", ShiftLeft: "ShiftLeft",
	ShiftRight: "ShiftRight", UnsignedShiftRight: "UnsignedShiftRight",
	BitwiseAnd: "BitwiseAnd", BitwiseOr: "BitwiseOr",
	BitwiseXor: "BitwiseXor", BitwiseNot: "BitwiseNot", Negate: "Negate",
	Equal: "Equal", NotEqual: "NotEqual", LessThan: "LessThan",
	LessEqual: "LessEqual", GreaterThan: "GreaterThan",
	GreaterEqual: "GreaterEqual", UnsignedLessThan: "UnsignedLessThan",
	UnsignedLessEqual: "UnsignedLessEqual",
	UnsignedGreaterThan: "UnsignedGreaterThan",
	UnsignedGreaterEqual: "UnsignedGreaterEqual", FloatEqual: "FloatEqual",
	FloatNotEqual: "FloatNotEqual", FloatLessThan: "FloatLessThan",
	FloatLessEqual: "FloatLessEqual", FloatGreaterThan: "FloatGreaterThan",
	FloatGreaterEqual: "FloatGreaterEqual", LogicalAnd: "LogicalAnd",
	LogicalOr: "LogicalOr", LogicalNot: "LogicalNot",
	SignExtend: "SignExtend", ZeroExtend: "ZeroExtend", Truncate: "Truncate",
	IntToFloat: "IntToFloat", FloatToInt: "FloatToInt",
	FloatToFloat: "FloatToFloat", StackAlloc: "StackAlloc", Store: "Store",
	Load: "Load", Dereference: "Dereference",
	DereferenceStore: "DereferenceStore", AddressOf: "AddressOf",
	ComputeAddress: "ComputeAddress", Branch: "Branch",
	ConditionalBranch: "ConditionalBranch", Label: "Label",
	LoopBegin: "LoopBegin", LoopEnd: "LoopEnd", Break: "Break",
	Continue: "Continue", Return: "Return", ScopeBegin: "ScopeBegin",
	ScopeEnd: "ScopeEnd", FunctionDecl: "FunctionDecl",
	FunctionCall: "FunctionCall", IndirectCall: "IndirectCall",
	VirtualCall: "VirtualCall", FunctionAddress: "FunctionAddress",
	MemberAccess: "MemberAccess", MemberStore: "MemberStore",
	ConstructorCall: "ConstructorCall", DestructorCall: "DestructorCall",
	HeapAlloc: "HeapAlloc", HeapAllocArray: "HeapAllocArray",
	HeapFree: "HeapFree", HeapFreeArray: "HeapFreeArray",
	PlacementNew: "PlacementNew", Typeid: "Typeid",
	DynamicCast: "DynamicCast", GlobalVariableDecl: "GlobalVariableDecl",
	GlobalLoad: "GlobalLoad", GlobalStore: "GlobalStore",
	StringLiteral: "StringLiteral", TryBegin: "TryBegin", TryEnd: "TryEnd",
	CatchBegin: "CatchBegin", CatchEnd: "CatchEnd", Throw: "Throw",
	Rethrow: "Rethrow", SehTryBegin: "SehTryBegin", SehTryEnd: "SehTryEnd",
	SehExceptBegin: "SehExceptBegin", SehExceptEnd: "SehExceptEnd",
	SehFinallyBegin: "SehFinallyBegin", SehFinallyEnd: "SehFinallyEnd",
	SehFinallyCall: "SehFinallyCall", SehFilterBegin: "SehFilterBegin",
	SehFilterEnd: "SehFilterEnd", SehLeave: "SehLeave",
	SehGetExceptionCode: "SehGetExceptionCode",
	SehGetExceptionInfo: "SehGetExceptionInfo",
	SehSaveExceptionCode: "SehSaveExceptionCode",
	SehGetExceptionCodeBody: "SehGetExceptionCodeBody",
	SehAbnormalTermination: "SehAbnormalTermination",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", uint16(o))
}

func fmtValue(table *intern.Table, v Value) string {
	switch v.Kind {
	case ValTemp:
		return fmt.Sprintf("t%d", v.Temp)
	case ValImmInt:
		return fmt.Sprintf("%d", v.Imm)
	case ValImmFloat:
		return fmt.Sprintf("%g", v.FImm)
	case ValNamed:
		return "%" + table.Lookup(v.Name)
	case ValGlobal:
		return "@" + table.Lookup(v.Global)
	}
	return "_"
}

// Disassemble renders a function's IR as text, one instruction per line,
// for inspection and snapshot tests.
func Disassemble(table *intern.Table, f *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s", table.Lookup(f.Name))
	if f.Mangled != intern.Invalid {
		fmt.Fprintf(&sb, " ; %s", table.Lookup(f.Mangled))
	}
	sb.WriteByte('\n')
	indent := 1
	for _, in := range f.Instrs {
		switch in.Op {
		case ScopeEnd, LoopEnd, TryEnd, CatchEnd, SehTryEnd, SehExceptEnd,
			SehFinallyEnd, SehFilterEnd:
			if indent > 1 {
				indent--
			}
		}
		sb.WriteString(strings.Repeat("  ", indent))
		sb.WriteString(in.Op.String())
		writePayload(&sb, table, in)
		sb.WriteByte('\n')
		switch in.Op {
		case ScopeBegin, LoopBegin, TryBegin, CatchBegin, SehTryBegin,
			SehExceptBegin, SehFinallyBegin, SehFilterBegin:
			indent++
		}
	}
	return sb.String()
}

func writePayload(sb *strings.Builder, table *intern.Table, in Instruction) {
	switch pl := in.Payload.(type) {
	case *BinaryOp:
		fmt.Fprintf(sb, " t%d, %s, %s", pl.Result, fmtValue(table, pl.L), fmtValue(table, pl.R))
	case *UnaryOp:
		fmt.Fprintf(sb, " t%d, %s", pl.Result, fmtValue(table, pl.Operand))
	case *AllocOp:
		fmt.Fprintf(sb, " %%%s, %d bits", table.Lookup(pl.Name), pl.Bits)
	case *StoreOp:
		fmt.Fprintf(sb, " %s <- %s", fmtValue(table, pl.Dst), fmtValue(table, pl.Src))
	case *LoadOp:
		fmt.Fprintf(sb, " t%d <- %s", pl.Result, fmtValue(table, pl.Src))
	case *AddrOp:
		fmt.Fprintf(sb, " t%d, base=%s, %d steps", pl.Result, fmtValue(table, pl.Base), len(pl.Steps))
	case *LabelOp:
		fmt.Fprintf(sb, " L%d", pl.ID)
	case *BranchOp:
		if pl.Cond.Kind == ValNone {
			fmt.Fprintf(sb, " L%d", pl.Target)
		} else {
			fmt.Fprintf(sb, " %s, L%d", fmtValue(table, pl.Cond), pl.Target)
		}
	case *ReturnOp:
		if pl.Val.Kind != ValNone {
			fmt.Fprintf(sb, " %s", fmtValue(table, pl.Val))
		}
	case *CallOp:
		fmt.Fprintf(sb, " t%d, %s(", pl.Result, table.Lookup(pl.Mangled))
		for i, a := range pl.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmtValue(table, a))
		}
		sb.WriteString(")")
	case *IndirectCallOp:
		fmt.Fprintf(sb, " t%d, (*%s)(", pl.Result, fmtValue(table, pl.Target))
		for i, a := range pl.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmtValue(table, a))
		}
		sb.WriteString(")")
	case *VirtualCallOp:
		fmt.Fprintf(sb, " t%d, %s.vtbl[%d]", pl.Result, fmtValue(table, pl.Object), pl.Slot)
	case *FuncAddrOp:
		fmt.Fprintf(sb, " t%d, &%s", pl.Result, table.Lookup(pl.Mangled))
	case *MemberOp:
		if in.Op == MemberStore {
			fmt.Fprintf(sb, " %s+%d <- %s", fmtValue(table, pl.Object), pl.Offset/8, fmtValue(table, pl.Src))
		} else {
			fmt.Fprintf(sb, " t%d, %s+%d", pl.Result, fmtValue(table, pl.Object), pl.Offset/8)
		}
	case *CtorOp:
		fmt.Fprintf(sb, " %s %s", table.Lookup(pl.Mangled), fmtValue(table, pl.Object))
	case *DtorOp:
		fmt.Fprintf(sb, " %s %s", table.Lookup(pl.Mangled), fmtValue(table, pl.Object))
	case *HeapOp:
		fmt.Fprintf(sb, " t%d, size=%s", pl.Result, fmtValue(table, pl.Size))
	case *RttiOp:
		fmt.Fprintf(sb, " t%d, %s", pl.Result, table.Lookup(pl.TypeSym))
	case *GlobalOp:
		fmt.Fprintf(sb, " @%s", table.Lookup(pl.Name))
		if pl.Result != NoTemp {
			fmt.Fprintf(sb, ", t%d", pl.Result)
		}
	case *StringOp:
		fmt.Fprintf(sb, " t%d, %s", pl.Result, table.Lookup(pl.Label))
	case *EhOp:
		if pl.HandlerLabel != 0 {
			fmt.Fprintf(sb, " L%d", pl.HandlerLabel)
		}
		if pl.CatchAll {
			sb.WriteString(" ...")
		} else if pl.TypeSym != intern.Invalid {
			fmt.Fprintf(sb, " %s", table.Lookup(pl.TypeSym))
		}
	case *FuncDeclOp:
		fmt.Fprintf(sb, " %s/%d", table.Lookup(pl.Name), len(pl.Params))
	case *LoopOp:
		fmt.Fprintf(sb, " L%d..L%d", pl.Start, pl.End)
	case *ScopeOp:
		fmt.Fprintf(sb, " depth=%d", pl.Depth)
	}
}
