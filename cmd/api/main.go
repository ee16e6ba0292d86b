package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	appscans "github.com/hybridsec/hybridscan/internal/application/scans"
	"github.com/hybridsec/hybridscan/internal/config"
	domainai "github.com/hybridsec/hybridscan/internal/domain/ai"
	"github.com/hybridsec/hybridscan/internal/domain/findings"
	"github.com/hybridsec/hybridscan/internal/domain/scanerrors"
	"github.com/hybridsec/hybridscan/internal/domain/scans"
	aiollama "github.com/hybridsec/hybridscan/internal/infra/ai/ollama"
	aiopenai "github.com/hybridsec/hybridscan/internal/infra/ai/openai"
	mysqlp "github.com/hybridsec/hybridscan/internal/infra/db/mysql"
	postgresp "github.com/hybridsec/hybridscan/internal/infra/db/postgres"
	"github.com/hybridsec/hybridscan/internal/infra/httpserver"
	"github.com/hybridsec/hybridscan/internal/infra/patterns"
	minioStore "github.com/hybridsec/hybridscan/internal/infra/storage"
	"github.com/hybridsec/hybridscan/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect database per configured driver
	db, repo, errRepo, err := connectDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("database connect error: %v", err)
	}
	defer db.Close()

	// init minio report store when configured
	var store scans.ArtifactStore
	if cfg.Minio.Endpoint != "" {
		s, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		store = s
	}

	// init LLM detector per configured provider
	detector := buildDetector(cfg)
	if detector != nil {
		log.Printf("llm detector=%s enabled", detector.Name())
	} else {
		log.Printf("llm disabled provider=%s scans run regex-only", cfg.AI.Provider)
	}

	// init service
	svc := &appscans.Service{
		Repo:       repo,
		Artifacts:  store,
		Matcher:    patterns.NewMatcher(),
		LLM:        detector,
		Errors:     errRepo,
		Clock:      appscans.SystemClock{},
		LLMTimeout: cfg.LLMTimeout(),
		Recon: findings.Options{
			LineTolerance: cfg.Scanner.LineTolerance,
			TypeOverlap:   cfg.Scanner.TypeOverlap,
		},
		OnLLMFallback: middleware.IncrementLLMFallbacks,
	}

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	// init router with auth and rate limiting around the API surface
	mux := chi.NewRouter()
	refillPerSec := cfg.RateLimit.RequestsPerMinute / 60
	if refillPerSec < 1 {
		refillPerSec = 1
	}
	mux.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Burst, refillPerSec))
	mux.Mount("/", httpserver.NewRouter(svc, checkers))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s driver=%s", addr, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, scans.Repository, scanerrors.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		return db, postgresp.NewScanRepository(db), postgresp.NewScanErrorRepository(db), nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		return db, mysqlp.NewScanRepository(db), mysqlp.NewScanErrorRepository(db), nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func buildDetector(cfg *config.Config) domainai.Detector {
	switch cfg.AI.Provider {
	case "openai":
		return aiopenai.NewClient(cfg.AI.APIKey, cfg.AI.Model)
	case "ollama":
		return aiollama.NewClient(cfg.AI.Host, cfg.AI.Model, cfg.LLMTimeout())
	default:
		return nil
	}
}
