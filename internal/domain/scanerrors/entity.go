package scanerrors

import "time"

// Phase names the pipeline stage that produced the error
const (
	PhaseScan = "scan"
	PhaseLLM  = "llm"
)

// ScanError represents a persisted scan error entry. LLM fallbacks are
// recorded here too so degraded scans stay auditable.
type ScanError struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ScanID    string    `json:"scan_id"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
