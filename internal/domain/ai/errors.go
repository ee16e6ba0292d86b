package ai

import "errors"

// ErrQuotaExceeded indicates the LLM provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrUnavailable indicates the LLM provider could not be reached or timed
// out. Callers treat this as the documented degraded mode and fall back to
// regex-only findings.
var ErrUnavailable = errors.New("ai detector unavailable")
