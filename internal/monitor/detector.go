package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EscapeDetector analyzes scripts and run output for isolate escape
// attempts. This is an additional detection layer on top of the VM's
// hardened globals; matching code still runs (and fails) inside the
// isolate, but the attempt gets logged and counted.
type EscapeDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewEscapeDetector creates a detector with default patterns.
func NewEscapeDetector() *EscapeDetector {
	return &EscapeDetector{
		patterns: defaultPatterns(),
	}
}

// AnalyzeCode checks a submitted script for suspicious patterns before
// execution.
func (d *EscapeDetector) AnalyzeCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				det := Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				}
				detections = append(detections, det)

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("escape attempt detected in script")
			}
		}
	}

	return detections
}

// AnalyzeOutput checks run output for signs of a successful escape.
func (d *EscapeDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"env_leak", "SCRIPTBOX_", SeverityHigh},
		{"passwd_leak", "root:x:0:0", SeverityCritical},
		{"goja_internals", "goja.Runtime", SeverityHigh},
		{"go_stack_leak", "goroutine ", SeverityMedium},
		{"private_key_leak", "-----BEGIN", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "dynamic_code",
			Description: "Generating code at runtime via eval or Function",
			Regex:       regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(|\bFunction\s*\(\s*["'` + "`" + `]`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "constructor_chain",
			Description: "Reaching the function constructor through a constructor chain",
			Regex:       regexp.MustCompile(`\.constructor\s*(\.\s*constructor|\(|\[)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "prototype_pollution",
			Description: "Mutating shared prototypes",
			Regex:       regexp.MustCompile(`__proto__|setPrototypeOf|Object\.prototype\s*\[|Object\.prototype\.\w+\s*=`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "host_runtime_probe",
			Description: "Probing for a Node-style host runtime",
			Regex:       regexp.MustCompile(`\bprocess\.(env|binding|mainModule|argv)|\brequire\s*\(|\bimport\s*\(|globalThis\.process`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "network_probe",
			Description: "Attempting network access from the isolate",
			Regex:       regexp.MustCompile(`\bfetch\s*\(|XMLHttpRequest|WebSocket\s*\(`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "metadata_service",
			Description: "Attempting to reach cloud metadata service",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reflection_probe",
			Description: "Using reflection to enumerate host bindings",
			Regex:       regexp.MustCompile(`Reflect\.(ownKeys|getPrototypeOf)\s*\(\s*globalThis|Object\.getOwnPropertyNames\s*\(\s*globalThis`),
			Severity:    SeverityLow,
		},
		{
			Name:        "busy_loop_bomb",
			Description: "Unbounded busy loop likely intended to burn the run budget",
			Regex:       regexp.MustCompile(`while\s*\(\s*(true|1)\s*\)\s*[;{]?\s*$`),
			Severity:    SeverityLow,
		},
	}
}
