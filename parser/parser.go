// Package parser extracts handler inputs and import references from
// playground script source text. It is a line scanner, not a full
// TypeScript front end: it understands exactly the constructs the
// editor session needs (the default-export handler signature and
// import specifiers) and reports everything else untouched. Import
// specifiers are recognized one line at a time; a declaration whose
// from keyword and specifier end up on different lines is not seen.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Input is one declared handler input parameter.
type Input struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// LocalImport is a relative import specifier with its 1-based source span.
type LocalImport struct {
	Specifier   string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Result is the outcome of a parse pass. Exactly one of the two arms is
// meaningful: when Ok is false only Message is set, when Ok is true the
// remaining fields are populated.
type Result struct {
	Ok      bool
	Message string

	Inputs          []Input
	LocalImports    []LocalImport
	ExternalImports []string
}

var (
	// import defaultExport, { a, b } from "spec" / import "spec"
	importFromPattern = regexp.MustCompile(`\bfrom\s*(['"])([^'"]+)(['"])`)
	bareImportPattern = regexp.MustCompile(`^\s*import\s*(['"])([^'"]+)(['"])`)

	defaultExportPattern = regexp.MustCompile(`export\s+default\s+(?:async\s+)?(?:function\s*[A-Za-z0-9_$]*\s*)?\(`)
)

// Parse scans code and returns a tagged result. A malformed default
// handler signature yields an error result; missing imports or a
// missing default export do not.
func Parse(code string) Result {
	inputs, err := parseHandlerInputs(code)
	if err != nil {
		return Result{Ok: false, Message: err.Error()}
	}

	locals, externals := parseImports(code)
	return Result{
		Ok:              true,
		Inputs:          inputs,
		LocalImports:    locals,
		ExternalImports: externals,
	}
}

// IsRelative reports whether a specifier addresses a sibling script.
func IsRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

// IsExternal reports whether a specifier is an externally-fetched module URL.
func IsExternal(specifier string) bool {
	return strings.HasPrefix(specifier, "http://") || strings.HasPrefix(specifier, "https://")
}

func parseImports(code string) ([]LocalImport, []string) {
	var locals []LocalImport
	var externals []string
	seenExternal := map[string]bool{}

	for lineIdx, line := range strings.Split(code, "\n") {
		loc := importFromPattern.FindStringSubmatchIndex(line)
		if loc == nil {
			loc = bareImportPattern.FindStringSubmatchIndex(line)
		}
		if loc == nil {
			continue
		}
		// Submatch 2 is the specifier; the span covers the quotes too.
		specifier := line[loc[4]:loc[5]]
		switch {
		case IsRelative(specifier):
			locals = append(locals, LocalImport{
				Specifier:   specifier,
				StartLine:   lineIdx + 1,
				StartColumn: loc[2] + 1,
				EndLine:     lineIdx + 1,
				EndColumn:   loc[7] + 1,
			})
		case IsExternal(specifier):
			if !seenExternal[specifier] {
				seenExternal[specifier] = true
				externals = append(externals, specifier)
			}
		}
	}
	return locals, externals
}

func parseHandlerInputs(code string) ([]Input, error) {
	loc := defaultExportPattern.FindStringIndex(code)
	if loc == nil {
		// No default export: the script is a plain module, nothing to run.
		return nil, nil
	}

	// loc[1] sits just past the opening paren of the parameter list.
	rest := code[loc[1]:]
	closeParen := matchingDelimiter(rest, '(', ')')
	if closeParen < 0 {
		return nil, fmt.Errorf("malformed handler signature: unterminated parameter list")
	}
	params := strings.TrimSpace(rest[:closeParen])
	if params == "" {
		return nil, nil
	}

	colon := strings.Index(params, ":")
	if colon < 0 {
		// Untyped input parameter: accepted, no declared inputs.
		return nil, nil
	}

	typeText := strings.TrimSpace(params[colon+1:])
	if !strings.HasPrefix(typeText, "{") {
		return nil, fmt.Errorf("malformed handler signature: input type must be an object literal, got %q", typeText)
	}
	closeBrace := matchingDelimiter(typeText[1:], '{', '}')
	if closeBrace < 0 {
		return nil, fmt.Errorf("malformed handler signature: unterminated input type")
	}

	return parseObjectType(typeText[1 : closeBrace+1])
}

// matchingDelimiter returns the offset of the close delimiter balancing
// an already-consumed open delimiter, or -1.
func matchingDelimiter(s string, open, close byte) int {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseObjectType(body string) ([]Input, error) {
	var inputs []Input
	for _, field := range splitTopLevel(body) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		colon := strings.Index(field, ":")
		if colon < 0 {
			return nil, fmt.Errorf("malformed handler signature: input field %q has no type", field)
		}
		name := strings.TrimSpace(field[:colon])
		typ := strings.TrimSpace(field[colon+1:])
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")
		if name == "" || typ == "" {
			return nil, fmt.Errorf("malformed handler signature: incomplete input field %q", field)
		}
		inputs = append(inputs, Input{Name: name, Type: typ, Optional: optional})
	}
	return inputs, nil
}

// splitTopLevel splits on commas and semicolons that are not nested
// inside braces, brackets or parens, so object-typed fields survive.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[', '(', '<':
			depth++
		case '}', ']', ')':
			depth--
		case '>':
			// Skip the arrow in function types; only close a generic.
			if depth > 0 && (i == 0 || s[i-1] != '=') {
				depth--
			}
		case ',', ';':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}
