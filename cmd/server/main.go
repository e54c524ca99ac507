package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/feedbacktome/feedbacktome/internal/api"
	"github.com/feedbacktome/feedbacktome/internal/config"
	"github.com/feedbacktome/feedbacktome/internal/db"
	"github.com/feedbacktome/feedbacktome/internal/email"
	"github.com/feedbacktome/feedbacktome/internal/llm"
	"github.com/feedbacktome/feedbacktome/internal/middleware"
	"github.com/feedbacktome/feedbacktome/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.FromEnv()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	llmClient := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})
	mailer := email.New(email.Config{
		APIKey:   cfg.Email.APIKey,
		Endpoint: cfg.Email.Endpoint,
		Sender:   cfg.Email.Sender,
	})

	authSvc := services.NewAuthService(store, mailer, middleware.SignToken, cfg.BaseURL, cfg.StartingCredits, cfg.DevMode)
	aggSvc := services.NewAggregationService(store)
	themeSvc := services.NewThemeExtractionService(llmClient, cfg.LLM.FastModel, cfg.LLM.FastFallback)
	reportSvc := services.NewReportSynthesisService(llmClient, cfg.LLM.ReasoningModel, cfg.LLM.ReasoningFallback)
	issuer := services.NewRequestIssuer(cfg.MagicLinkTTL)
	processSvc := services.NewProcessService(store, issuer, aggSvc, reportSvc, mailer, services.ProcessServiceConfig{
		BaseURL:               cfg.BaseURL,
		DefaultMinSubmissions: cfg.MinimumSubmissionsRequired,
		PresetQualities:       cfg.PresetQualities,
		RatingMin:             cfg.RatingMin,
		RatingMax:             cfg.RatingMax,
	})
	submissionSvc := services.NewSubmissionService(store, themeSvc, cfg.RatingMin, cfg.RatingMax)

	mux := http.NewServeMux()
	api.NewRouter(store, authSvc, processSvc, submissionSvc).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "Feedback to Me API"})
	})

	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))

	log.Printf("feedbacktome server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func openStore(cfg config.Config) (api.Store, error) {
	if cfg.DBPath == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("FTM_DB_PATH is required outside dev mode")
		}
		log.Printf("no database path configured, using in-memory store")
		return api.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(cfg.DBPath))
	sqliteDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.RunMigrations(sqliteDB, cfg.MigrationsDir); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db.NewSQLiteStore(sqliteDB)
}
