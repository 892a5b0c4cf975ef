// Package transpile strips TypeScript type annotations from submitted
// scripts and surfaces syntax errors before execution.
package transpile

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Func transforms source code into plain JavaScript. Implementations must
// not execute the code; they only rewrite it and report syntax errors.
type Func func(source string) (string, error)

// SyntaxError describes a transpile failure at a specific location.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("script syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("script syntax error: %s", e.Message)
}

// TypeScript returns the default transform: esbuild with the TypeScript
// loader, which erases type annotations and rejects malformed input.
func TypeScript() Func {
	return func(source string) (string, error) {
		result := api.Transform(source, api.TransformOptions{
			Loader: api.LoaderTS,
			Target: api.ES2022,
		})

		if len(result.Errors) > 0 {
			first := result.Errors[0]
			serr := &SyntaxError{Message: first.Text}
			if first.Location != nil {
				serr.Line = first.Location.Line
				serr.Column = first.Location.Column
			}
			return "", serr
		}

		return strings.TrimRight(string(result.Code), "\n"), nil
	}
}
