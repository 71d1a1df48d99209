package compiler

import (
	"fmt"
	"strings"
)

// Resolver loads the text of an included source file by path.
type Resolver func(path string) (string, error)

// Expand splices `#include "path"` directives into the source text.
// Each path is included at most once per unit; a cycle is a LexError.
// Directives must start in column one and are the only preprocessor
// form the language has.
func Expand(src string, resolve Resolver) (string, error) {
	seen := make(map[string]bool)
	return expand(src, resolve, seen, nil)
}

func expand(src string, resolve Resolver, seen map[string]bool, stack []string) (string, error) {
	var sb strings.Builder

	lineNo := 0
	for _, line := range strings.Split(src, "\n") {
		lineNo++
		if !strings.HasPrefix(line, "#") {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}

		pos := Position{Line: lineNo, Column: 1}
		path, err := parseIncludeLine(line, pos)
		if err != nil {
			return "", err
		}

		for _, open := range stack {
			if open == path {
				return "", &LexError{Pos: pos, Reason: fmt.Sprintf("include cycle through %q", path)}
			}
		}
		if seen[path] {
			sb.WriteByte('\n')
			continue
		}
		seen[path] = true

		if resolve == nil {
			return "", &LexError{Pos: pos, Reason: "includes are not supported here"}
		}
		text, err := resolve(path)
		if err != nil {
			return "", &LexError{Pos: pos, Reason: fmt.Sprintf("cannot include %q: %v", path, err)}
		}
		expanded, err := expand(text, resolve, seen, append(stack, path))
		if err != nil {
			return "", err
		}
		sb.WriteString(expanded)
	}

	out := sb.String()
	// Split adds one trailing newline beyond the original text.
	return strings.TrimSuffix(out, "\n"), nil
}

// parseIncludeLine validates `#include "path"` and extracts the path.
func parseIncludeLine(line string, pos Position) (string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	if !strings.HasPrefix(rest, "include") {
		return "", &LexError{Pos: pos, Reason: "unknown preprocessor directive"}
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "include"))
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", &LexError{Pos: pos, Reason: `include expects a quoted path`}
	}
	path := rest[1 : len(rest)-1]
	if path == "" {
		return "", &LexError{Pos: pos, Reason: "empty include path"}
	}
	return path, nil
}
