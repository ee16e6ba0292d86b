package scans

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
	domain "github.com/hybridsec/hybridscan/internal/domain/scans"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRepo struct {
	mu       sync.Mutex
	scans    map[domain.ScanID]*domain.Scan
	statuses []domain.Status
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{scans: make(map[domain.ScanID]*domain.Scan)}
}

func (r *fakeRepo) Save(ctx context.Context, s *domain.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans[id], nil
}

func (r *fakeRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	return nil, nil
}

func (r *fakeRepo) Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error) {
	return 3, 1, 1, 1, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, tenant string, id domain.ScanID, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeRepo) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	return domain.PaginatedResult{Page: page, PageSize: pageSize}, nil
}

type fakeMatcher struct{ out []findings.Finding }

func (m fakeMatcher) Match(src domain.Source) []findings.Finding { return m.out }

type fakeDetector struct {
	out   []findings.Finding
	err   error
	block bool
}

func (d fakeDetector) Name() string { return "fake" }

func (d fakeDetector) Detect(ctx context.Context, src domain.Source) ([]findings.Finding, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.out, d.err
}

type fakeStore struct{ keys []string }

func (s *fakeStore) UploadReport(ctx context.Context, key string, data []byte) (string, error) {
	s.keys = append(s.keys, key)
	return "http://artifacts.local/" + key, nil
}

func newService(repo *fakeRepo, matcher domain.PatternMatcher, det *fakeDetector) *Service {
	svc := &Service{
		Repo:       repo,
		Artifacts:  &fakeStore{},
		Matcher:    matcher,
		Clock:      fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		LLMTimeout: time.Second,
		Recon:      findings.DefaultOptions(),
	}
	if det != nil {
		svc.LLM = *det
	}
	return svc
}

func TestHybridScan_MergesAndDeduplicates(t *testing.T) {
	regexOut := []findings.Finding{
		{ID: "r1", Type: "Buffer Overflow", Severity: findings.SeverityCritical, SeverityScore: 5, Line: 10, CWE: []string{"CWE-120"}, Confidence: 0.95},
	}
	llmOut := []findings.Finding{
		{ID: "l1", Type: "buffer overflow", Severity: findings.SeverityHigh, SeverityScore: 4, Line: 11, CWE: []string{"CWE-120"}, Confidence: 0.6},
		{ID: "l2", Type: "Race Condition", Severity: findings.SeverityMedium, SeverityScore: 3, Line: 70, CWE: []string{"CWE-362"}, Confidence: 0.5},
	}
	repo := newFakeRepo()
	svc := newService(repo, fakeMatcher{out: regexOut}, &fakeDetector{out: llmOut})

	scan, err := svc.HybridScan(context.Background(), HybridScanCommand{
		TenantID: "acme", Filename: "main.c", Code: "gets(buf);", UseLLM: true,
	})
	if err != nil {
		t.Fatalf("HybridScan error: %v", err)
	}

	if scan.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", scan.Status)
	}
	if len(scan.Findings) != 2 {
		t.Fatalf("len(Findings) = %d, want 2 (llm duplicate dropped)", len(scan.Findings))
	}
	if scan.Findings[0].ID != "r1" || scan.Findings[1].ID != "l2" {
		t.Errorf("findings order = %s, %s", scan.Findings[0].ID, scan.Findings[1].ID)
	}
	if scan.Counts.Critical != 1 || scan.Counts.Medium != 1 || scan.Counts.Total != 2 {
		t.Errorf("Counts = %+v", scan.Counts)
	}
	if !scan.LLMUsed {
		t.Error("LLMUsed should be true")
	}
	if scan.ArtifactURL == "" {
		t.Error("ArtifactURL not set")
	}
	wantStatuses := []domain.Status{domain.StatusRunning, domain.StatusCompleted}
	if len(repo.statuses) != 2 || repo.statuses[0] != wantStatuses[0] || repo.statuses[1] != wantStatuses[1] {
		t.Errorf("status transitions = %v, want %v", repo.statuses, wantStatuses)
	}
}

func TestHybridScan_LLMErrorDegradesToRegexOnly(t *testing.T) {
	regexOut := []findings.Finding{
		{ID: "r1", Type: "SQL Injection", Severity: findings.SeverityCritical, SeverityScore: 5, Line: 3, Confidence: 0.9},
	}
	repo := newFakeRepo()
	svc := newService(repo, fakeMatcher{out: regexOut}, &fakeDetector{err: errors.New("connection refused")})
	fallbacks := 0
	svc.OnLLMFallback = func() { fallbacks++ }

	scan, err := svc.HybridScan(context.Background(), HybridScanCommand{TenantID: "acme", Code: "x", UseLLM: true})
	if err != nil {
		t.Fatalf("llm failure must not fail the scan: %v", err)
	}
	if scan.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", scan.Status)
	}
	if len(scan.Findings) != 1 || scan.Findings[0].Source != findings.SourceRegex {
		t.Errorf("Findings = %+v, want regex-only", scan.Findings)
	}
	if fallbacks != 1 {
		t.Errorf("fallback observer called %d times, want 1", fallbacks)
	}
}

func TestHybridScan_LLMTimeoutDegrades(t *testing.T) {
	regexOut := []findings.Finding{
		{ID: "r1", Type: "Weak Hashing", Severity: findings.SeverityMedium, SeverityScore: 3, Line: 8, Confidence: 0.7},
	}
	repo := newFakeRepo()
	svc := newService(repo, fakeMatcher{out: regexOut}, &fakeDetector{block: true})
	svc.LLMTimeout = 20 * time.Millisecond

	start := time.Now()
	scan, err := svc.HybridScan(context.Background(), HybridScanCommand{TenantID: "acme", Code: "x", UseLLM: true})
	if err != nil {
		t.Fatalf("timeout must not fail the scan: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("scan blocked for %s, timeout not applied", elapsed)
	}
	if len(scan.Findings) != 1 {
		t.Errorf("len(Findings) = %d, want 1", len(scan.Findings))
	}
}

func TestHybridScan_LLMDisabled(t *testing.T) {
	regexOut := []findings.Finding{
		{ID: "r1", Type: "Format String", Severity: findings.SeverityHigh, SeverityScore: 4, Line: 2, Confidence: 0.8},
	}
	repo := newFakeRepo()
	svc := newService(repo, fakeMatcher{out: regexOut}, nil)

	scan, err := svc.HybridScan(context.Background(), HybridScanCommand{TenantID: "acme", Code: "x", UseLLM: true})
	if err != nil {
		t.Fatalf("HybridScan error: %v", err)
	}
	if scan.LLMUsed {
		t.Error("LLMUsed should be false with no detector wired")
	}
	if len(scan.Findings) != 1 {
		t.Errorf("len(Findings) = %d, want 1", len(scan.Findings))
	}
}

func TestHybridScan_InitialSaveFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("db down")
	svc := newService(repo, fakeMatcher{}, nil)

	if _, err := svc.HybridScan(context.Background(), HybridScanCommand{TenantID: "acme", Code: "x"}); err == nil {
		t.Error("expected error when initial save fails")
	}
}

func TestSummary(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, fakeMatcher{}, nil)

	got, err := svc.Summary(context.Background(), "acme", 7)
	if err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if got["total_scans"] != 3 || got["critical"] != 1 {
		t.Errorf("Summary = %v", got)
	}
}
