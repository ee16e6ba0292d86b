package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appscans "github.com/hybridsec/hybridscan/internal/application/scans"
	"github.com/hybridsec/hybridscan/internal/domain/findings"
	domain "github.com/hybridsec/hybridscan/internal/domain/scans"
	"github.com/hybridsec/hybridscan/internal/infra/patterns"
	"github.com/hybridsec/hybridscan/internal/middleware"
)

type memRepo struct {
	scans map[domain.ScanID]*domain.Scan
}

func newMemRepo() *memRepo { return &memRepo{scans: make(map[domain.ScanID]*domain.Scan)} }

func (r *memRepo) Save(ctx context.Context, s *domain.Scan) error {
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	s, ok := r.scans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (r *memRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	var out []*domain.Scan
	for _, s := range r.scans {
		out = append(out, s)
	}
	return out, nil
}

func (r *memRepo) Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error) {
	return len(r.scans), 0, 0, 0, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, tenant string, id domain.ScanID, status domain.Status) error {
	if s, ok := r.scans[id]; ok {
		s.Status = status
	}
	return nil
}

func (r *memRepo) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	list, _ := r.Latest(ctx, tenant, pageSize)
	return domain.PaginatedResult{Data: list, Page: page, PageSize: pageSize, Total: int64(len(list)), TotalPages: 1}, nil
}

func testServer() (*httptest.Server, *memRepo) {
	repo := newMemRepo()
	svc := &appscans.Service{
		Repo:       repo,
		Matcher:    patterns.NewMatcher(),
		Clock:      appscans.SystemClock{},
		LLMTimeout: time.Second,
		Recon:      findings.DefaultOptions(),
	}
	return httptest.NewServer(NewRouter(svc, nil)), repo
}

func TestHandleScan_Success(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	body := `{"code":"int main() {\n  char buf[8];\n  gets(buf);\n}","filename":"main.c","language":"c"}`
	resp, err := http.Post(server.URL+"/api/v1/hybrid-scan/acme/scan", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var scan domain.Scan
	if err := json.NewDecoder(resp.Body).Decode(&scan); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if scan.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", scan.Status)
	}
	if len(scan.Findings) != 1 || scan.Findings[0].Type != "Buffer Overflow" {
		t.Errorf("Findings = %+v", scan.Findings)
	}
	if scan.Findings[0].PriorityRank != 1 {
		t.Errorf("PriorityRank = %d, want 1", scan.Findings[0].PriorityRank)
	}
}

func TestHandleScan_ValidationErrors(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	tests := []struct {
		name string
		url  string
		body string
	}{
		{"empty code", "/api/v1/hybrid-scan/acme/scan", `{"code":""}`},
		{"bad language", "/api/v1/hybrid-scan/acme/scan", `{"code":"x","language":"cobol"}`},
		{"bad tenant", "/api/v1/hybrid-scan/bad%20tenant/scan", `{"code":"x"}`},
		{"bad json", "/api/v1/hybrid-scan/acme/scan", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+tt.url, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/hybrid-scan/acme/scans/0ed015e1-9a72-4c1e-8d1f-0123456789ab-hybrid")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleGet_InvalidID(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/hybrid-scan/acme/scans/not-a-scan-id")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleScanAsync_Queues(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	body := `{"code":"strcpy(a, b);","filename":"x.c"}`
	resp, err := http.Post(server.URL+"/api/v1/hybrid-scan/acme/scan/async", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["status"] != "queued" {
		t.Errorf("status field = %v, want queued", out["status"])
	}
}

func TestTenantAuthorization(t *testing.T) {
	repo := newMemRepo()
	svc := &appscans.Service{
		Repo:       repo,
		Matcher:    patterns.NewMatcher(),
		Clock:      appscans.SystemClock{},
		LLMTimeout: time.Second,
		Recon:      findings.DefaultOptions(),
	}
	// Same chain main builds: auth in front of the mounted API
	mux := chi.NewRouter()
	mux.Use(middleware.APIKeyAuth(map[string]string{"tenant-a": "key-a"}))
	mux.Mount("/", NewRouter(svc, nil))
	server := httptest.NewServer(mux)
	defer server.Close()

	do := func(method, path string) int {
		t.Helper()
		var req *http.Request
		var err error
		if method == http.MethodPost {
			req, err = http.NewRequest(method, server.URL+path, strings.NewReader(`{"code":"gets(buf);"}`))
		} else {
			req, err = http.NewRequest(method, server.URL+path, nil)
		}
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer key-a")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// A key issued to one tenant must not reach another tenant's data
	crossTenant := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/hybrid-scan/tenant-b/scan"},
		{http.MethodPost, "/api/v1/hybrid-scan/tenant-b/scan/async"},
		{http.MethodGet, "/api/v1/hybrid-scan/tenant-b/scans"},
		{http.MethodGet, "/api/v1/hybrid-scan/tenant-b/scans/latest"},
		{http.MethodGet, "/api/v1/hybrid-scan/tenant-b/scans/0ed015e1-9a72-4c1e-8d1f-0123456789ab-hybrid"},
		{http.MethodGet, "/api/v1/hybrid-scan/tenant-b/scans/0ed015e1-9a72-4c1e-8d1f-0123456789ab-hybrid/errors"},
		{http.MethodGet, "/api/v1/hybrid-scan/tenant-b/summary"},
	}
	for _, tt := range crossTenant {
		if code := do(tt.method, tt.path); code != http.StatusForbidden {
			t.Errorf("%s %s status = %d, want 403", tt.method, tt.path, code)
		}
	}

	// The key's own tenant still works
	if code := do(http.MethodGet, "/api/v1/hybrid-scan/tenant-a/scans/latest"); code != http.StatusOK {
		t.Errorf("own tenant status = %d, want 200", code)
	}
	if code := do(http.MethodPost, "/api/v1/hybrid-scan/tenant-a/scan"); code != http.StatusOK {
		t.Errorf("own tenant scan status = %d, want 200", code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := testServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if _, ok := m["scans_total"]; !ok {
		t.Error("metrics missing scans_total")
	}
}
