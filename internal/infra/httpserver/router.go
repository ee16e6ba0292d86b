package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appscans "github.com/hybridsec/hybridscan/internal/application/scans"
	domainai "github.com/hybridsec/hybridscan/internal/domain/ai"
	domain "github.com/hybridsec/hybridscan/internal/domain/scans"
	"github.com/hybridsec/hybridscan/internal/middleware"
)

type Router struct {
	scansSvc *appscans.Service
}

// NewRouter mounts the hybrid-scan API. checkers feed the /health endpoint.
func NewRouter(scansSvc *appscans.Service, checkers map[string]middleware.HealthChecker) http.Handler {
	r := &Router{scansSvc: scansSvc}
	mux := chi.NewRouter()

	// Browser dashboards are the primary client
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)

	mux.Get("/health", middleware.HealthHandler(checkers))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/api/v1/hybrid-scan/{tenant}", func(rt chi.Router) {
		rt.Post("/scan", r.wrap(r.handleScan))
		rt.Post("/scan/async", r.wrap(r.handleScanAsync))
		rt.Get("/scans", r.wrap(r.handleList))
		rt.Get("/scans/latest", r.wrap(r.handleLatest))
		rt.Get("/scans/{id}", r.wrap(r.handleGet))
		rt.Get("/scans/{id}/errors", r.wrap(r.handleScanErrors))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequestError marks caller-side validation failures for the wrapper.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }

func badRequest(err error) error { return &badRequestError{err: err} }

// forbiddenError marks authorization failures for the wrapper.
type forbiddenError struct{ err error }

func (e *forbiddenError) Error() string { return e.err.Error() }

func forbidden(err error) error { return &forbiddenError{err: err} }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br *badRequestError
			var fb *forbiddenError
			switch {
			case errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domainai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			case errors.As(err, &fb):
				http.Error(w, fb.Error(), http.StatusForbidden)
			case errors.As(err, &br):
				http.Error(w, br.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

type scanRequest struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
	Language string `json:"language"`
	UseLLM   bool   `json:"use_llm"`
}

// tenantParam validates the tenant URL segment and, when a tenant was
// authenticated via API key, rejects requests addressing a different tenant.
func tenantParam(req *http.Request) (string, error) {
	tenant := chi.URLParam(req, "tenant")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return "", badRequest(err)
	}
	if authed := middleware.GetTenantFromContext(req.Context()); authed != "" && authed != tenant {
		return "", forbidden(fmt.Errorf("api key not valid for tenant %s", tenant))
	}
	return tenant, nil
}

func (r *Router) parseScanRequest(req *http.Request) (appscans.HybridScanCommand, error) {
	tenant, err := tenantParam(req)
	if err != nil {
		return appscans.HybridScanCommand{}, err
	}

	var body scanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return appscans.HybridScanCommand{}, badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	if err := middleware.ValidateSource(body.Code); err != nil {
		return appscans.HybridScanCommand{}, badRequest(err)
	}
	if err := middleware.ValidateLanguage(body.Language); err != nil {
		return appscans.HybridScanCommand{}, badRequest(err)
	}

	return appscans.HybridScanCommand{
		TenantID: tenant,
		Filename: middleware.SanitizeFilename(body.Filename),
		Language: body.Language,
		Code:     body.Code,
		UseLLM:   body.UseLLM,
	}, nil
}

// POST /api/v1/hybrid-scan/{tenant}/scan
// Runs the hybrid scan synchronously and returns the ranked findings.
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.parseScanRequest(req)
	if err != nil {
		return err
	}

	middleware.IncrementScans()
	scan, err := r.scansSvc.HybridScan(req.Context(), cmd)
	if err != nil {
		middleware.IncrementScansFailed()
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(scan)
}

// POST /api/v1/hybrid-scan/{tenant}/scan/async
// Queues the scan and returns immediately; the scan runs to completion in
// the background.
func (r *Router) handleScanAsync(w http.ResponseWriter, req *http.Request) error {
	cmd, err := r.parseScanRequest(req)
	if err != nil {
		return err
	}

	middleware.IncrementScans()
	go func() {
		scan, err := r.scansSvc.HybridScanUntilDone(cmd)
		if err != nil {
			middleware.IncrementScansFailed()
			log.Printf("background scan error: tenant=%s file=%s err=%v", cmd.TenantID, cmd.Filename, err)
			if scan != nil {
				_ = r.scansSvc.MarkFailed(cmd.TenantID, scan.ID, err)
			}
			return
		}
		log.Printf("scan finished: tenant=%s scan=%s findings=%d", cmd.TenantID, scan.ID, scan.Counts.Total)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"status":   "queued",
		"tenant":   cmd.TenantID,
		"filename": cmd.Filename,
		"message":  "scan started in background",
		"queuedAt": time.Now(),
	})
}

// GET /api/v1/hybrid-scan/{tenant}/scans/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateScanID(id); err != nil {
		return badRequest(err)
	}

	scan, err := r.scansSvc.Get(req.Context(), tenant, domain.ScanID(id))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(scan)
}

// GET /api/v1/hybrid-scan/{tenant}/scans/{id}/errors?limit=20
func (r *Router) handleScanErrors(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateScanID(id); err != nil {
		return badRequest(err)
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.scansSvc.ListErrors(req.Context(), tenant, domain.ScanID(id), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /api/v1/hybrid-scan/{tenant}/scans/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.scansSvc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /api/v1/hybrid-scan/{tenant}/scans?page=&page_size=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	result, err := r.scansSvc.Paginate(req.Context(), tenant, page, middleware.ValidateLimit(size))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(result)
}

// GET /api/v1/hybrid-scan/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.scansSvc.Summary(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(summary)
}
