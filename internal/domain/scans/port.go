package scans

import (
	"context"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
)

// Repository port (persistence interface)
type Repository interface {
	Save(ctx context.Context, s *Scan) error
	Get(ctx context.Context, tenant string, id ScanID) (*Scan, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Scan, error)
	Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error)
	UpdateStatus(ctx context.Context, tenant string, id ScanID, status Status) error
	Paginate(ctx context.Context, tenant string, page, pageSize int) (PaginatedResult, error)
}

// Source is the text handed to the detectors. Both detectors see the same
// content and share its line numbering.
type Source struct {
	Filename string
	Language string
	Content  string
}

// PatternMatcher port for the regex detector.
type PatternMatcher interface {
	Match(src Source) []findings.Finding
}

// ArtifactStore port for report storage.
type ArtifactStore interface {
	UploadReport(ctx context.Context, key string, data []byte) (string, error)
}
