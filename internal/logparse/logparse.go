// logparse.go defines the structured error records produced by the run log
// parser, plus the severity ranking and tail-truncation helpers shared with
// the remediation pipeline.
package logparse

import (
	"strings"
	"unicode/utf8"
)

// ErrorType is the coarse classification of an extracted error block.
type ErrorType string

const (
	LintError       ErrorType = "lint_error"
	TypeError       ErrorType = "type_error"
	BuildFailure    ErrorType = "build_failure"
	TestFailure     ErrorType = "test_failure"
	DependencyError ErrorType = "dependency_error"
	ConfigError     ErrorType = "config_error"
	UnknownError    ErrorType = "unknown"
)

// Severity grades how urgent an error block is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities for candidate selection: critical > high > medium > low.
// Unrecognized values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ErrorBlock is one extracted failure signal from a run log. File and Line are
// zero-valued when the log did not reveal a location. Message holds the first
// full message line plus a bounded number of continuation lines.
type ErrorBlock struct {
	Step      string    `json:"step,omitempty"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// HasLine reports whether the block carries a usable line number.
func (b ErrorBlock) HasLine() bool {
	return b.Line > 0
}

const truncationMarker = "... [truncated]"

// TruncateTail caps s at limit bytes, keeping the head and appending a
// truncation marker. The result never splits a UTF-8 sequence and never
// exceeds limit. A limit of zero or less disables truncation.
func TruncateTail(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= len(truncationMarker) {
		return safeCut(s, limit)
	}
	return safeCut(s, limit-len(truncationMarker)) + truncationMarker
}

// safeCut shortens s to at most n bytes on a rune boundary.
func safeCut(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n < 0 {
		n = 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimRight(s[:n], " \t")
}
