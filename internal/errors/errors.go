// Package errors provides error values and formatting for the compiler.
// Errors are classified by Kind so phase boundaries can distinguish soft
// failures (overload-set pruning during deduction) from hard ones, and are
// formatted with source context and a caret pointing at the offending token.
package errors

import (
	"fmt"
	"strings"

	"github.com/cwbudde/go-cxx/internal/token"
)

// Kind identifies where in the pipeline an error arose and how it
// propagates.
type Kind int

const (
	ParseError Kind = iota
	SymbolError
	DeductionFailure
	ConstraintFailure
	AccessViolation
	AmbiguousCall
	AmbiguousInstantiation
	RecursionLimit
	ParseErrorInBody
	NoMatchingOverload
	IREncodingError
	UnresolvedLabel
)

var kindNames = [...]string{
	ParseError:             "parse error",
	SymbolError:            "symbol error",
	DeductionFailure:       "deduction failure",
	ConstraintFailure:      "constraint failure",
	AccessViolation:        "access violation",
	AmbiguousCall:          "ambiguous call",
	AmbiguousInstantiation: "ambiguous instantiation",
	RecursionLimit:         "recursion limit",
	ParseErrorInBody:       "parse error in template body",
	NoMatchingOverload:     "no matching overload",
	IREncodingError:        "ir encoding error",
	UnresolvedLabel:        "unresolved label",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown error"
}

// Soft reports whether the kind is survivable during overload probing.
// Soft failures prune a candidate; they only harden when the name is
// uniquely determined or the candidate set empties.
func (k Kind) Soft() bool {
	return k == DeductionFailure || k == ConstraintFailure
}

// CompilerError represents a single compilation error with position and
// context. Detail carries probe context for soft failures (the candidate
// signature, the unsatisfied constraint subexpression) so the hard-failure
// path can build a diagnostic from it.
type CompilerError struct {
	Kind    Kind
	Message string
	Detail  string
	Source  string
	File    string
	Tok     token.Token
}

// New creates a compiler error positioned at tok.
func New(kind Kind, tok token.Token, format string, args ...any) *CompilerError {
	return &CompilerError{
		Kind:    kind,
		Tok:     tok,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetail attaches probe context and returns e.
func (e *CompilerError) WithDetail(format string, args ...any) *CompilerError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *CompilerError) Error() string {
	return e.Format(false)
}

// Format formats the error with source context. If color is true, ANSI
// color codes are used for terminal output.
func (e *CompilerError) Format(color bool) string {
	var sb strings.Builder

	if e.File != "" {
		sb.WriteString(fmt.Sprintf("Error in %s:%d:%d\n", e.File, e.Tok.Line, e.Tok.Column))
	} else {
		sb.WriteString(fmt.Sprintf("Error at line %d:%d\n", e.Tok.Line, e.Tok.Column))
	}

	sourceLine := e.getSourceLine(int(e.Tok.Line))
	if sourceLine != "" {
		lineNumStr := fmt.Sprintf("%4d | ", e.Tok.Line)
		sb.WriteString(lineNumStr)
		sb.WriteString(sourceLine)
		sb.WriteString("\n")

		col := int(e.Tok.Column)
		if col < 1 {
			col = 1
		}
		sb.WriteString(strings.Repeat(" ", len(lineNumStr)+col-1))
		if color {
			sb.WriteString("\033[1;31m")
		}
		sb.WriteString("^")
		if color {
			sb.WriteString("\033[0m")
		}
		sb.WriteString("\n")
	}

	if color {
		sb.WriteString("\033[1m")
	}
	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString("\n  note: ")
		sb.WriteString(e.Detail)
	}
	if color {
		sb.WriteString("\033[0m")
	}

	return sb.String()
}

// getSourceLine extracts a specific line from the source code.
// Lines are 1-indexed.
func (e *CompilerError) getSourceLine(lineNum int) string {
	if e.Source == "" {
		return ""
	}
	lines := strings.Split(e.Source, "\n")
	if lineNum < 1 || lineNum > len(lines) {
		return ""
	}
	return lines[lineNum-1]
}

// ErrorList accumulates errors during a phase.
type ErrorList struct {
	Errors []*CompilerError
}

// Add appends an error.
func (l *ErrorList) Add(e *CompilerError) { l.Errors = append(l.Errors, e) }

// HasErrors reports whether any error was recorded.
func (l *ErrorList) HasErrors() bool { return len(l.Errors) > 0 }

// First returns the first recorded error, or nil.
func (l *ErrorList) First() *CompilerError {
	if len(l.Errors) == 0 {
		return nil
	}
	return l.Errors[0]
}

// Format renders all errors separated by blank lines.
func (l *ErrorList) Format(color bool) string {
	parts := make([]string, len(l.Errors))
	for i, e := range l.Errors {
		parts[i] = e.Format(color)
	}
	return strings.Join(parts, "\n\n")
}
