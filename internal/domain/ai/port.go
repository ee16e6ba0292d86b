package ai

import (
	"context"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
	"github.com/hybridsec/hybridscan/internal/domain/scans"
)

// Detector is the LLM analyzer port. Implementations send the source to a
// model and return parsed, validated findings with the same line numbering
// as the input.
type Detector interface {
	Detect(ctx context.Context, src scans.Source) ([]findings.Finding, error)
	Name() string
}
