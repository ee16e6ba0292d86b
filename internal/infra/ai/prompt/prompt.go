package prompt

import (
	"fmt"
	"strings"

	"github.com/hybridsec/hybridscan/internal/domain/scans"
)

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior application security analyst reviewing source code. You must produce one valid JSON object only (no markdown, no commentary). Do not include code fences.

Requirements:
- Output must be a single JSON object with a "findings" array.
- Use lowercase severity values: critical, high, medium, low, info.
- "line" must reference the 1-based line numbers shown in the input; report the line where the issue occurs, not where it is exploited.
- "cwe" is an array of CWE identifiers like "CWE-120"; leave it empty if unsure.
- "confidence" is a number in [0,1].
- Report only real, concrete issues in the code shown. Do not pad the list.

Schema (example with empty values):
{
  "findings": [
    {
      "type": "<short category, e.g. Buffer Overflow>",
      "severity": "<critical|high|medium|low|info>",
      "line": 0,
      "column": 0,
      "cwe": ["<CWE-id>"],
      "confidence": 0.0,
      "message": "<what is wrong>",
      "remediation": "<how to fix it>"
    }
  ]
}`
}

// GetUserPrompt renders the source with explicit line numbers so the model
// reports against the same numbering the regex matcher uses.
func GetUserPrompt(src scans.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following source")
	if src.Filename != "" {
		fmt.Fprintf(&b, " (%s", src.Filename)
		if src.Language != "" {
			fmt.Fprintf(&b, ", %s", src.Language)
		}
		b.WriteString(")")
	} else if src.Language != "" {
		fmt.Fprintf(&b, " (%s)", src.Language)
	}
	b.WriteString(" and respond with the JSON per schema.\n\n")
	for i, line := range strings.Split(src.Content, "\n") {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, line)
	}
	return b.String()
}
