// Package doctest extracts executable scenarios from Markdown documents
// and runs them against the compiler and VM. Scenarios live under
// "Test: " headings as fenced code blocks: a `prim` fence holds guest
// source, optional `input`/`output` fences hold the stdin bytes and the
// expected stdout bytes, and optional `exit`/`fault` fences hold the
// expected terminal state.
package doctest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Fence languages recognized inside a scenario.
const (
	FenceSource = "prim"   // guest source text
	FenceInput  = "input"  // bytes queued as stdin before execution
	FenceOutput = "output" // expected stdout bytes
	FenceExit   = "exit"   // expected halt code, decimal
	FenceFault  = "fault"  // expected fault kind name
	FenceGas    = "gas"    // gas budget for the run, decimal
)

// Scenario is one executable test case extracted from Markdown.
type Scenario struct {
	Name   string
	Source string
	Input  string
	Output string
	Exit   string // empty means "expect halt code 0" unless Fault is set
	Fault  string // empty means "expect a normal halt"
	Gas    string // empty means the default budget
	Line   int
}

// Extract parses a Markdown document and collects its scenarios.
func Extract(markdownContent string) ([]Scenario, error) {
	md := goldmark.New()
	source := []byte(markdownContent)
	doc := md.Parser().Parse(text.NewReader(source))

	var scenarios []Scenario
	var current *Scenario

	flush := func() error {
		if current == nil {
			return nil
		}
		if current.Source == "" {
			return fmt.Errorf("scenario %q has no prim fence", current.Name)
		}
		if current.Exit != "" && current.Fault != "" {
			return fmt.Errorf("scenario %q expects both a halt code and a fault", current.Name)
		}
		scenarios = append(scenarios, *current)
		current = nil
		return nil
	}

	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n := node.(type) {
		case *ast.Heading:
			headingText := extractTextFromNode(n, source)
			if !strings.HasPrefix(headingText, "Test: ") {
				return ast.WalkContinue, nil
			}
			if err := flush(); err != nil {
				return ast.WalkStop, err
			}
			current = &Scenario{
				Name: strings.TrimPrefix(headingText, "Test: "),
				Line: lineNumber(n, source),
			}

		case *ast.FencedCodeBlock:
			language := string(n.Language(source))
			if language == "" {
				return ast.WalkContinue, nil
			}
			if current == nil {
				return ast.WalkStop, fmt.Errorf("line %d: %s fence outside of a scenario", lineNumber(n, source), language)
			}
			content := extractCodeBlockContent(n, source)

			switch language {
			case FenceSource:
				if current.Source != "" {
					return ast.WalkStop, fmt.Errorf("scenario %q has multiple prim fences", current.Name)
				}
				current.Source = content
			case FenceInput:
				current.Input = content
			case FenceOutput:
				current.Output = content
			case FenceExit:
				current.Exit = strings.TrimSpace(content)
			case FenceFault:
				current.Fault = strings.TrimSpace(content)
			case FenceGas:
				current.Gas = strings.TrimSpace(content)
			default:
				return ast.WalkStop, fmt.Errorf("scenario %q: unknown fence language %q", current.Name, language)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// extractTextFromNode collects the plain text of a node's children.
func extractTextFromNode(node ast.Node, source []byte) string {
	var buf bytes.Buffer

	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if text, ok := n.(*ast.Text); ok {
				buf.Write(text.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})

	return buf.String()
}

// extractCodeBlockContent extracts the content from a fenced code block.
func extractCodeBlockContent(codeBlock *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer

	for i := 0; i < codeBlock.Lines().Len(); i++ {
		line := codeBlock.Lines().At(i)
		buf.Write(line.Value(source))
	}

	return buf.String()
}

// lineNumber computes the 1-based source line of a node, best effort.
func lineNumber(node ast.Node, source []byte) int {
	lines := node.Lines()
	if lines == nil || lines.Len() == 0 {
		return 0
	}
	start := lines.At(0).Start
	line := 1
	for i := 0; i < start && i < len(source); i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}
