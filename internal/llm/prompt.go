// prompt.go renders the failure context into the messages sent to the model.
// The response contract is enforced by embedding a JSON Schema reflected from
// FileFix, so the prompt and the decoder can never drift apart.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

const systemPrompt = `You are an automated CI/CD remediation engineer. You receive failure
signals extracted from a failed pipeline run together with the content of one
affected file, and you propose the smallest fix that makes the pipeline pass.

Rules:
- Reply with exactly one JSON object inside a single ` + "```json" + ` fence and nothing else.
- Each change replaces one line of the numbered listing. Embed \n in fixed_line
  only when new lines must be inserted at that position.
- Never reference a line number outside the listing.
- Preserve the file's existing indentation and style.
- If the failure cannot be fixed by editing this file, return an empty changes array.`

var (
	schemaOnce sync.Once
	schemaText string
)

// responseSchemaJSON returns the JSON Schema for FileFix. Reflection happens
// once; the result is embedded verbatim in every prompt.
func responseSchemaJSON() string {
	schemaOnce.Do(func() {
		r := jsonschema.Reflector{
			ExpandedStruct: true,
			DoNotReference: true,
		}
		b, err := json.MarshalIndent(r.Reflect(&FileFix{}), "", "  ")
		if err != nil {
			schemaText = "{}"
			return
		}
		schemaText = string(b)
	})
	return schemaText
}

// BuildPrompt renders the user message for a fix request.
func BuildPrompt(req FixRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s (%s)\n", req.RepoFullName, req.Provider)
	if req.WorkflowName != "" {
		fmt.Fprintf(&sb, "Failing workflow: %s\n", req.WorkflowName)
	}

	sb.WriteString("\n## Failure signals\n\n")
	for i, blk := range req.ErrorBlocks {
		fmt.Fprintf(&sb, "%d. [%s/%s]", i+1, blk.ErrorType, blk.Severity)
		if blk.Step != "" {
			fmt.Fprintf(&sb, " step %q", blk.Step)
		}
		if blk.File != "" {
			fmt.Fprintf(&sb, " %s", blk.File)
			if blk.Line > 0 {
				fmt.Fprintf(&sb, ":%d", blk.Line)
			}
		}
		sb.WriteString("\n")
		sb.WriteString(indent(blk.Message, "   "))
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n## File: %s\n\n", req.FilePath)
	sb.WriteString(numberLines(req.FileContent))

	sb.WriteString("\n## Required response\n\n")
	sb.WriteString("Reply with exactly one ```json code block matching this schema. ")
	sb.WriteString("line_number refers to the numbered listing above.\n\nSchema:\n")
	sb.WriteString(responseSchemaJSON())
	sb.WriteString("\n")
	return sb.String()
}

// numberLines renders content with 1-based line numbers matching the line
// addressing used when the patch is applied: a trailing newline does not
// produce a phantom final line.
func numberLines(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var sb strings.Builder
	for i, ln := range lines {
		fmt.Fprintf(&sb, "%4d | %s\n", i+1, strings.TrimSuffix(ln, "\r"))
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = prefix + ln
	}
	return strings.Join(lines, "\n")
}
