// Package toolpath parses and validates dotted tool paths such as
// "calc.math.add_numbers".
package toolpath

import (
	"fmt"
	"strings"
)

// MaxDepth is the maximum number of segments a tool path may have.
const MaxDepth = 8

// Parse splits a dotted tool path into its segments, validating each one.
func Parse(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty tool path")
	}

	segments := strings.Split(path, ".")
	if len(segments) > MaxDepth {
		return nil, fmt.Errorf("tool path %q exceeds %d segments", path, MaxDepth)
	}

	for _, seg := range segments {
		if !validSegment(seg) {
			return nil, fmt.Errorf("invalid tool path segment %q in %q", seg, path)
		}
	}

	return segments, nil
}

// Join assembles segments into a dotted path without validation.
func Join(segments []string) string {
	return strings.Join(segments, ".")
}

// Valid reports whether path is a well-formed dotted tool path.
func Valid(path string) bool {
	_, err := Parse(path)
	return err == nil
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
