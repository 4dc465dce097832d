package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/devflowfix/devflowfix/internal/logparse"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(FixRequest{
		Provider:     "gitlab",
		RepoFullName: "acme/payments",
		WorkflowName: "backend-ci",
		FilePath:     "src/ledger.py",
		FileContent:  "import decimal\n\ntotal = amount + fee\n",
		ErrorBlocks: []logparse.ErrorBlock{
			{
				Step:      "pytest",
				File:      "src/ledger.py",
				Line:      3,
				ErrorType: logparse.TypeError,
				Message:   "TypeError: unsupported operand type(s) for +: 'Decimal' and 'float'",
				Severity:  logparse.SeverityMedium,
			},
			{
				ErrorType: logparse.TestFailure,
				Message:   "FAILED tests/test_ledger.py::test_total",
				Severity:  logparse.SeverityMedium,
			},
		},
	})

	for _, fragment := range []string{
		"Repository: acme/payments (gitlab)",
		"Failing workflow: backend-ci",
		"1. [type_error/medium] step \"pytest\" src/ledger.py:3",
		"   TypeError: unsupported operand type(s)",
		"2. [test_failure/medium]",
		"## File: src/ledger.py",
		"   1 | import decimal",
		"   2 | ",
		"   3 | total = amount + fee",
		"```json",
		`"line_number"`,
		`"fixed_line"`,
	} {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("prompt missing %q", fragment)
		}
	}
	if strings.Contains(prompt, "   4 | ") {
		t.Error("prompt numbered a phantom line after the trailing newline")
	}
}

func TestBuildPromptOmitsEmptyWorkflow(t *testing.T) {
	prompt := BuildPrompt(FixRequest{Provider: "github", RepoFullName: "a/b", FilePath: "x.go", FileContent: "x\n"})
	if strings.Contains(prompt, "Failing workflow:") {
		t.Error("prompt mentions a workflow when none was set")
	}
}

func TestNumberLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "trailing newline is not a line",
			content: "a\nb\n",
			want:    "   1 | a\n   2 | b\n",
		},
		{
			name:    "no trailing newline",
			content: "a\nb",
			want:    "   1 | a\n   2 | b\n",
		},
		{
			name:    "carriage returns stripped for display",
			content: "a\r\nb\r\n",
			want:    "   1 | a\n   2 | b\n",
		},
		{
			name:    "empty content",
			content: "",
			want:    "",
		},
		{
			name:    "single blank line",
			content: "\n",
			want:    "   1 | \n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := numberLines(tt.content); got != tt.want {
				t.Errorf("numberLines(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestResponseSchemaJSON(t *testing.T) {
	raw := responseSchemaJSON()

	var schema map[string]any
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties object: %s", raw)
	}
	for _, name := range []string{"summary", "changes"} {
		if _, ok := props[name]; !ok {
			t.Errorf("schema missing property %q", name)
		}
	}
	for _, field := range []string{`"line_number"`, `"fixed_line"`, `"explanation"`} {
		if !strings.Contains(raw, field) {
			t.Errorf("schema missing change field %s", field)
		}
	}
}
