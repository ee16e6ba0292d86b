package scans

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	domainai "github.com/hybridsec/hybridscan/internal/domain/ai"
	"github.com/hybridsec/hybridscan/internal/domain/findings"
	domain "github.com/hybridsec/hybridscan/internal/domain/scans"
	"github.com/hybridsec/hybridscan/internal/domain/scanerrors"
)

// Service implements the hybrid-scan use cases.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Repo      domain.Repository
	Artifacts domain.ArtifactStore
	Matcher   domain.PatternMatcher
	LLM       domainai.Detector       // nil disables the LLM pass entirely
	Errors    scanerrors.Repository // optional; nil skips error persistence
	Clock     Clock

	// LLMTimeout bounds the LLM call; on expiry the scan degrades to
	// regex-only findings instead of failing.
	LLMTimeout time.Duration
	Recon      findings.Options

	// OnLLMFallback is invoked once per scan that degrades to regex-only
	// output; nil means no observer. Keeps metrics wiring out of this layer.
	OnLLMFallback func()
}

// Clock abstraction so time is controllable in tests
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

//
// ==== USE CASES ====
//

// Command to trigger a hybrid scan
type HybridScanCommand struct {
	TenantID string
	Filename string
	Language string
	Code     string
	UseLLM   bool
}

// llmResult carries the LLM detector outcome across the goroutine boundary.
type llmResult struct {
	findings []findings.Finding
	err      error
}

// HybridScan runs the regex matcher and the LLM detector over the same
// source, reconciles their findings, uploads the report artifact, and
// persists the scan summary. The two detectors run concurrently and results
// are merged only after both have finished; an LLM failure or timeout is the
// documented degraded mode, never a scan error.
func (s *Service) HybridScan(ctx context.Context, cmd HybridScanCommand) (*domain.Scan, error) {
	now := s.Clock.Now()
	id := domain.ScanID(fmt.Sprintf("%s-hybrid", uuid.New().String()))

	scan := &domain.Scan{
		ID:          id,
		TenantID:    cmd.TenantID,
		TriggeredAt: now,
		Filename:    cmd.Filename,
		Language:    cmd.Language,
		Status:      domain.StatusQueued,
		LLMUsed:     cmd.UseLLM && s.LLM != nil,
	}
	if err := s.Repo.Save(ctx, scan); err != nil {
		return nil, fmt.Errorf("saving initial scan row: %w", err)
	}
	if err := s.transition(ctx, scan, domain.StatusRunning); err != nil {
		return scan, err
	}

	src := domain.Source{Filename: cmd.Filename, Language: cmd.Language, Content: cmd.Code}

	// Kick off the LLM pass first so it overlaps the regex pass.
	llmCh := make(chan llmResult, 1)
	if scan.LLMUsed {
		go func() {
			llmCtx, cancel := context.WithTimeout(ctx, s.llmTimeout())
			defer cancel()
			list, err := s.LLM.Detect(llmCtx, src)
			llmCh <- llmResult{findings: list, err: err}
		}()
	} else {
		llmCh <- llmResult{}
	}

	regexFindings := s.Matcher.Match(src)

	res := <-llmCh
	llmFindings := res.findings
	if res.err != nil {
		// Degraded mode: keep going with regex-only findings.
		log.Printf("llm detector unavailable, falling back to regex-only: tenant=%s scan=%s err=%v",
			cmd.TenantID, id, res.err)
		s.recordError(ctx, cmd.TenantID, string(id), scanerrors.PhaseLLM, res.err.Error())
		if s.OnLLMFallback != nil {
			s.OnLLMFallback()
		}
		llmFindings = nil
	}

	merged := findings.Reconcile(regexFindings, llmFindings, s.Recon)

	scan.Findings = merged
	scan.Counts = findings.CountBySeverity(merged)
	scan.DurationMS = time.Since(now).Milliseconds()

	if url, err := s.uploadReport(ctx, scan, merged); err != nil {
		log.Printf("report upload failed: tenant=%s scan=%s err=%v", cmd.TenantID, id, err)
	} else {
		scan.ArtifactURL = url
	}

	if err := s.transition(ctx, scan, domain.StatusCompleted); err != nil {
		return scan, err
	}
	if err := s.Repo.Save(ctx, scan); err != nil {
		return scan, fmt.Errorf("saving scan result: %w", err)
	}
	return scan, nil
}

// HybridScanUntilDone runs the scan with context.Background(); meant for
// background goroutines spawned by the router so the scan survives the
// request context.
func (s *Service) HybridScanUntilDone(cmd HybridScanCommand) (*domain.Scan, error) {
	return s.HybridScan(context.Background(), cmd)
}

// MarkFailed moves a scan to failed after a background error and records it.
func (s *Service) MarkFailed(tenant string, id domain.ScanID, cause error) error {
	if cause != nil {
		s.recordError(context.Background(), tenant, string(id), scanerrors.PhaseScan, cause.Error())
	}
	return s.Repo.UpdateStatus(context.Background(), tenant, id, domain.StatusFailed)
}

// ListErrors returns persisted error entries for one scan.
func (s *Service) ListErrors(ctx context.Context, tenant string, id domain.ScanID, limit int) ([]*scanerrors.ScanError, error) {
	if s.Errors == nil {
		return nil, nil
	}
	return s.Errors.ListByScan(ctx, tenant, string(id), limit)
}

// recordError persists a scan error entry; persistence problems only log.
func (s *Service) recordError(ctx context.Context, tenant, scanID, phase, msg string) {
	if s.Errors == nil {
		return
	}
	e := &scanerrors.ScanError{TenantID: tenant, ScanID: scanID, Phase: phase, Message: msg}
	if err := s.Errors.Save(ctx, e); err != nil {
		log.Printf("saving scan error failed: tenant=%s scan=%s err=%v", tenant, scanID, err)
	}
}

// Latest returns the last N scans.
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// Get returns one scan by id.
func (s *Service) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Paginate returns one page of scan history.
func (s *Service) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	return s.Repo.Paginate(ctx, tenant, page, pageSize)
}

// Summary aggregates scan results over the last N days.
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (map[string]any, error) {
	total, critical, high, medium, err := s.Repo.Summary(ctx, tenant, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_scans": total,
		"critical":    critical,
		"high":        high,
		"medium":      medium,
	}, nil
}

// transition enforces the scan status state machine before persisting.
func (s *Service) transition(ctx context.Context, scan *domain.Scan, next domain.Status) error {
	st, err := scan.Status.Transition(next)
	if err != nil {
		return err
	}
	scan.Status = st
	return s.Repo.UpdateStatus(ctx, scan.TenantID, scan.ID, st)
}

func (s *Service) uploadReport(ctx context.Context, scan *domain.Scan, merged []findings.Finding) (string, error) {
	if s.Artifacts == nil {
		return "", nil
	}
	report := map[string]any{
		"scan_id":  scan.ID,
		"filename": scan.Filename,
		"counts":   scan.Counts,
		"findings": merged,
	}
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	key := fmt.Sprintf("%s/hybrid/%s.json", scan.TenantID, scan.ID)
	return s.Artifacts.UploadReport(ctx, key, data)
}

func (s *Service) llmTimeout() time.Duration {
	if s.LLMTimeout <= 0 {
		return 60 * time.Second
	}
	return s.LLMTimeout
}
