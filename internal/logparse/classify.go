// classify.go maps extracted error text onto the coarse error types and the
// conservative severity grades used for remediation candidate ranking.
package logparse

import (
	"path"
	"regexp"
	"strings"
)

var (
	reClassDependency = regexp.MustCompile(`(?i)module not found|cannot find module|no module named|could not resolve|unable to resolve|eresolve|npm err! 404|missing go\.sum entry|no required module provides|cannot find package|could not find a version|is not in goroot|unresolved dependenc`)
	reClassType       = regexp.MustCompile(`(?i)is not assignable|typeerror|type error|\bts\d{4}\b|incompatible type|mismatched types|cannot use .+ as .+ value|has no attribute|undefined method|cannot convert|undefined: |is not a type`)
	reClassConfig     = regexp.MustCompile(`(?i)invalid config|error parsing (?:config|yaml|toml|json)|yaml: |unmarshal error|missing required (?:key|field|option|env)|environment variable .+ not set|bad configuration|unknown (?:key|option|flag)`)
	reClassTest       = regexp.MustCompile(`(?i)assertionerror|assertion failed|--- fail|^fail(?:ed)?\b|tests? failed|failing tests?|panic: test timed out|expected .+ (?:but|got|to be|to equal)|\bgot\b.+\bwant\b|\bwant\b.+\bgot\b`)
	reClassBuild      = regexp.MustCompile(`(?i)fatal error|compilation (?:terminated|failed|error)|compile error|build failed|syntax ?error|undefined reference|undefined symbol|\bundeclared\b|linker command failed|segmentation fault|exit status [1-9]|exit code [1-9]|cannot find symbol|failed to execute goal|panic: `)
	reClassLint       = regexp.MustCompile(`(?i)\blint\b|eslint|golangci|staticcheck|ineffassign|gocyclo|\bgovet\b|flake8|pylint|rubocop|prettier|stylelint|\b[EWF]\d{3}\b|\bSA\d{4}\b|\bST\d{4}\b|no-unused-vars|no-console|trailing whitespace|line too long`)
	reClassCritical   = regexp.MustCompile(`(?i)\bfatal\b|panic: |segmentation fault|out of memory|oom[- ]?killed|stack overflow`)
)

var configExtensions = []string{".yml", ".yaml", ".toml", ".ini", ".conf", ".cfg", ".json"}

// classify derives the error type and severity for a finished block. The level
// is "warning" when the producing tool flagged the line as a warning, empty or
// "error" otherwise.
func classify(file, message, level string) (ErrorType, Severity) {
	t := classifyType(file, message, level)
	return t, severityFor(t, level, message)
}

func classifyType(file, message, level string) ErrorType {
	switch {
	case reClassDependency.MatchString(message):
		return DependencyError
	case reClassType.MatchString(message):
		return TypeError
	case isConfigFile(file) || reClassConfig.MatchString(message):
		return ConfigError
	case reClassTest.MatchString(message) || isTestFile(file):
		return TestFailure
	case reClassBuild.MatchString(message):
		return BuildFailure
	case reClassLint.MatchString(message) || level == levelWarning:
		return LintError
	default:
		return UnknownError
	}
}

// severityFor maps conservatively: warnings are always low, anything smelling
// fatal is critical, build and dependency breakage is high, the rest medium
// except lint findings.
func severityFor(t ErrorType, level, message string) Severity {
	if level == levelWarning {
		return SeverityLow
	}
	if reClassCritical.MatchString(message) {
		return SeverityCritical
	}
	switch t {
	case BuildFailure, DependencyError:
		return SeverityHigh
	case LintError:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func isConfigFile(file string) bool {
	if file == "" {
		return false
	}
	for _, ext := range configExtensions {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}

func isTestFile(file string) bool {
	if file == "" {
		return false
	}
	base := path.Base(file)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_spec.rb"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return strings.Contains(file, "/test/") || strings.Contains(file, "/tests/")
}
