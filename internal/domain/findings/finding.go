package findings

import (
	"fmt"
	"strings"
)

// Severity enum, ordinal with Critical highest
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// Source enum, provenance of a finding
type Source string

const (
	SourceRegex Source = "regex"
	SourceLLM   Source = "llm"
)

// Score maps severity to 1..5 (5 = Critical). Unknown severities map to 0.
func (s Severity) Score() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// SeverityFromScore is the inverse of Score. Out-of-range scores map to Info.
func SeverityFromScore(score int) Severity {
	switch score {
	case 5:
		return SeverityCritical
	case 4:
		return SeverityHigh
	case 3:
		return SeverityMedium
	case 2:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// ParseSeverity accepts the lowercase severity strings LLMs tend to emit.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "info", "informational":
		return SeverityInfo, true
	default:
		return "", false
	}
}

// Finding is one detected issue in a piece of source text.
// Findings are immutable once produced; Reconcile only filters and ranks.
type Finding struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Severity      Severity `json:"severity"`
	SeverityScore int      `json:"severity_score"`
	Line          int      `json:"line"`
	Column        int      `json:"column,omitempty"`
	CWE           []string `json:"cwe,omitempty"`
	Confidence    float64  `json:"confidence"`
	Source        Source   `json:"source"`
	Message       string   `json:"message,omitempty"`
	Remediation   string   `json:"remediation,omitempty"`
	CodeSnippet   string   `json:"code_snippet,omitempty"`
	PriorityRank  int      `json:"priority_rank,omitempty"`
}

// Validate rejects malformed findings before they reach the reconciler.
// Callers validate at the boundary; Reconcile assumes well-formed input.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.Type) == "" {
		return fmt.Errorf("finding %s: type is required", f.ID)
	}
	if f.Line < 1 {
		return fmt.Errorf("finding %s: line must be >= 1, got %d", f.ID, f.Line)
	}
	if f.SeverityScore < 1 || f.SeverityScore > 5 {
		return fmt.Errorf("finding %s: severity_score must be 1..5, got %d", f.ID, f.SeverityScore)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("finding %s: confidence must be in [0,1], got %g", f.ID, f.Confidence)
	}
	return nil
}

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// CountBySeverity tallies findings into the counts shape stored with a scan.
// Info findings count toward Total only.
func CountBySeverity(list []Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range list {
		switch f.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		}
		c.Total++
	}
	return c
}
