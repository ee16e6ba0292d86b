package prompt

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
)

// rawFinding is the JSON shape models return per the system prompt.
type rawFinding struct {
	Type        string   `json:"type"`
	Severity    string   `json:"severity"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	CWE         []string `json:"cwe"`
	Confidence  float64  `json:"confidence"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation"`
}

type rawResponse struct {
	Findings []rawFinding `json:"findings"`
}

// ParseFindings decodes an LLM response into validated findings. Models
// occasionally wrap JSON in markdown fences or emit a bare array instead of
// the schema object; both are tolerated. Individual malformed entries are
// dropped rather than failing the whole response.
func ParseFindings(content string) ([]findings.Finding, error) {
	content = stripFences(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var raw []rawFinding
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
	} else {
		var resp rawResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		raw = resp.Findings
	}

	out := make([]findings.Finding, 0, len(raw))
	for _, r := range raw {
		sev, ok := findings.ParseSeverity(r.Severity)
		if !ok {
			sev = findings.SeverityInfo
		}
		conf := r.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		f := findings.Finding{
			Type:          strings.TrimSpace(r.Type),
			Severity:      sev,
			SeverityScore: sev.Score(),
			Line:          r.Line,
			Column:        r.Column,
			CWE:           r.CWE,
			Confidence:    conf,
			Source:        findings.SourceLLM,
			Message:       r.Message,
			Remediation:   r.Remediation,
		}
		f.ID = llmFindingID(f)
		if err := f.Validate(); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func llmFindingID(f findings.Finding) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("llm:%s:%d:%s", f.Type, f.Line, f.Message)))
	return fmt.Sprintf("%x", h[:8])
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return content
	}
	start := 1
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
