// Package cpplex is a minimal C++ tokenizer standing in for the external
// preprocessor/tokenizer collaborator: it turns source text into the
// token stream the core consumes. It strips comments and preprocessor
// lines; it performs no macro expansion.
package cpplex

import (
	"strings"

	"github.com/cwbudde/go-cxx/internal/intern"
	"github.com/cwbudde/go-cxx/internal/token"
)

var keywords = map[string]bool{
	"alignas": true, "alignof": true, "auto": true, "bool": true,
	"break": true, "case": true, "catch": true, "char": true,
	"char8_t": true, "char16_t": true, "char32_t": true, "class": true,
	"const": true, "consteval": true, "constexpr": true, "const_cast": true,
	"continue": true, "decltype": true, "default": true, "delete": true,
	"do": true, "double": true, "dynamic_cast": true, "else": true,
	"enum": true, "explicit": true, "extern": true, "false": true,
	"final": true, "float": true, "for": true, "friend": true,
	"goto": true, "if": true, "inline": true, "int": true, "long": true,
	"mutable": true, "namespace": true, "new": true, "noexcept": true,
	"nullptr": true, "operator": true, "override": true, "private": true,
	"protected": true, "public": true, "reinterpret_cast": true,
	"requires": true, "return": true, "short": true, "signed": true,
	"sizeof": true, "static": true, "static_assert": true,
	"static_cast": true, "struct": true, "switch": true, "template": true,
	"this": true, "throw": true, "true": true, "try": true,
	"typedef": true, "typeid": true, "typename": true, "union": true,
	"unsigned": true, "using": true, "virtual": true, "void": true,
	"volatile": true, "wchar_t": true, "while": true, "concept": true,
	"__try": true, "__except": true, "__finally": true, "__leave": true,
	"__declspec": true,
}

// Multi-character operators, longest first.
var operators = []string{
	"<<=", ">>=", "<=>", "...", "->*", "::", "->", "++", "--", "<<", ">>",
	"<=", ">=", "==", "!=", "&&", "||", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=",
	"+", "-", "*", "/", "%", "<", ">", "=", "!", "&", "|", "^", "~",
	"?", ".",
}

const punctuators = "(){}[];:,"

// featureMacros are the language feature-test macros the preprocessor
// collaborator is specified to predefine; this stand-in substitutes their
// values so feature-gated sources survive without macro expansion.
var featureMacros = map[string]string{
	"__cpp_concepts":                  "201907",
	"__cpp_consteval":                 "201811",
	"__cpp_constexpr":                 "202002",
	"__cpp_aggregate_bases":           "201603",
	"__cpp_alias_templates":           "200704",
	"__cpp_aligned_new":               "201606",
	"__cpp_attributes":                "200809",
	"__cpp_binary_literals":           "201304",
	"__cpp_capture_star_this":         "201603",
	"__cpp_char8_t":                   "201811",
	"__cpp_decltype":                  "200707",
	"__cpp_decltype_auto":             "201304",
	"__cpp_delegating_constructors":   "200604",
	"__cpp_enumerator_attributes":     "201411",
	"__cpp_fold_expressions":          "201603",
	"__cpp_generic_lambdas":           "201707",
	"__cpp_if_constexpr":              "201606",
	"__cpp_inheriting_constructors":   "201511",
	"__cpp_init_captures":             "201803",
	"__cpp_initializer_lists":         "200806",
	"__cpp_inline_variables":          "201606",
	"__cpp_lambdas":                   "200907",
	"__cpp_namespace_attributes":      "201411",
	"__cpp_noexcept_function_type":    "201510",
	"__cpp_nontype_template_args":     "201911",
	"__cpp_range_based_for":           "201603",
	"__cpp_raw_strings":               "200710",
	"__cpp_ref_qualifiers":            "200710",
	"__cpp_return_type_deduction":     "201304",
	"__cpp_rvalue_references":         "200610",
	"__cpp_sized_deallocation":        "201309",
	"__cpp_static_assert":             "201411",
	"__cpp_structured_bindings":       "201606",
	"__cpp_template_template_args":    "201611",
	"__cpp_threadsafe_static_init":    "200806",
	"__cpp_unicode_characters":        "200704",
	"__cpp_unicode_literals":          "200710",
	"__cpp_user_defined_literals":     "200809",
	"__cpp_variable_templates":        "201304",
	"__cpp_variadic_templates":        "200704",
	"__cpp_variadic_using":            "201611",
}

// Lex tokenizes src, interning lexemes into table. file is the source's
// file index for location metadata.
func Lex(table *intern.Table, src string, file uint16) []token.Token {
	var toks []token.Token
	line, col := uint32(1), uint32(1)
	i := 0
	n := len(src)

	adv := func(k int) {
		for j := 0; j < k && i < n; j++ {
			if src[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}
	emit := func(kind token.Kind, lex string, l, c uint32) {
		toks = append(toks, token.Token{
			Kind: kind, Lexeme: table.Intern(lex), Line: l, Column: c, File: file,
		})
	}

	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			adv(1)
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				adv(1)
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			adv(2)
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				adv(1)
			}
			adv(2)
		case c == '#':
			// Preprocessor line: skipped, continuation honored.
			for i < n {
				if src[i] == '\n' && (i == 0 || src[i-1] != '\\') {
					break
				}
				adv(1)
			}
		case isIdentStart(c):
			l, cl := line, col
			start := i
			for i < n && isIdentPart(src[i]) {
				adv(1)
			}
			word := src[start:i]
			if value, ok := featureMacros[word]; ok {
				emit(token.Literal, value, l, cl)
				continue
			}
			kind := token.Identifier
			if keywords[word] {
				kind = token.Keyword
			}
			emit(kind, word, l, cl)
		case c >= '0' && c <= '9' || c == '.' && i+1 < n && src[i+1] >= '0' && src[i+1] <= '9':
			l, cl := line, col
			start := i
			for i < n && isNumberPart(src[i], start, i, src) {
				adv(1)
			}
			emit(token.Literal, src[start:i], l, cl)
		case c == '"':
			l, cl := line, col
			start := i
			adv(1)
			for i < n && src[i] != '"' {
				if src[i] == '\\' {
					adv(1)
				}
				adv(1)
			}
			adv(1)
			emit(token.Literal, src[start:i], l, cl)
		case c == '\'':
			l, cl := line, col
			start := i
			adv(1)
			for i < n && src[i] != '\'' {
				if src[i] == '\\' {
					adv(1)
				}
				adv(1)
			}
			adv(1)
			emit(token.Literal, src[start:i], l, cl)
		case strings.IndexByte(punctuators, c) >= 0 && !(c == ':' && i+1 < n && src[i+1] == ':'):
			emit(token.Punctuator, string(c), line, col)
			adv(1)
		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					// `::` is a punctuator for the parser's purposes.
					kind := token.Operator
					if op == "::" {
						kind = token.Punctuator
					}
					emit(kind, op, line, col)
					adv(len(op))
					matched = true
					break
				}
			}
			if !matched {
				adv(1)
			}
		}
	}
	toks = append(toks, token.Token{Kind: token.EOF, Line: line, Column: col, File: file})
	return toks
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func isNumberPart(c byte, start, pos int, src string) bool {
	if c >= '0' && c <= '9' || c == '.' || c == '\'' {
		return true
	}
	if c == 'x' || c == 'X' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
		return true
	}
	if c == 'u' || c == 'U' || c == 'l' || c == 'L' {
		return true
	}
	if (c == '+' || c == '-') && pos > start && (src[pos-1] == 'e' || src[pos-1] == 'E') {
		return true
	}
	return false
}
