package scans

import (
	"fmt"
	"time"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
)

// ID type for Scan
type ScanID string

// Status enum. Scans walk an explicit state machine owned by the
// application service: queued -> running -> completed | failed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Transition validates and returns the next status.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid scan status transition: %s -> %s", s, next)
	}
	return next, nil
}

// Aggregate Root: Scan
type Scan struct {
	ID          ScanID                  `json:"id"`
	TenantID    string                  `json:"tenant_id"`
	TriggeredAt time.Time               `json:"triggered_at"`
	Filename    string                  `json:"filename,omitempty"`
	Language    string                  `json:"language,omitempty"`
	Status      Status                  `json:"status"`
	Counts      findings.SeverityCounts `json:"counts"`
	LLMUsed     bool                    `json:"llm_used"`
	ArtifactURL string                  `json:"artifact_url,omitempty"`
	DurationMS  int64                   `json:"duration_ms"`
	// Findings carries the reconciled, ranked list in scan responses.
	// Only the counts summary is persisted; the full list lives in the
	// uploaded artifact.
	Findings []findings.Finding `json:"findings,omitempty"`
}
