package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beanhealth/redflag/cliniccatalog"
	"github.com/beanhealth/redflag/internal/logger"
	"github.com/beanhealth/redflag/internal/metrics"
	"github.com/beanhealth/redflag/nutrition"
	"github.com/beanhealth/redflag/rules"
)

type Server struct {
	db      *sql.DB
	manager *cliniccatalog.Manager
	catalog rules.FieldCatalog
	recipes *nutrition.Catalog
	log     *slog.Logger
	router  *chi.Mux
}

// NewServer wires the full service: database, per-clinic engines, and the
// optional recipe dataset.
func NewServer(cfg Config, log *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := cliniccatalog.NewManager(db)
	log.Info("loading clinic catalogs")
	if err := manager.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load clinics: %w", err)
	}
	log.Info("clinic catalogs loaded", "clinics", len(manager.List()))

	var recipes *nutrition.Catalog
	if cfg.RecipesPath != "" {
		recipes, err = nutrition.LoadFile(cfg.RecipesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load recipe catalog: %w", err)
		}
		log.Info("recipe catalog loaded", "recipes", recipes.Len())
	}

	s := &Server{
		db:      db,
		manager: manager,
		catalog: rules.DefaultFieldCatalog(),
		recipes: recipes,
		log:     log,
	}
	s.setupRoutes()
	return s, nil
}

// NewServerWithManager builds a server over a pre-built manager and no
// database handle. Used by tests; clinic registration endpoints that need
// the database are unavailable.
func NewServerWithManager(manager *cliniccatalog.Manager, recipes *nutrition.Catalog, log *slog.Logger) *Server {
	s := &Server{
		manager: manager,
		catalog: rules.DefaultFieldCatalog(),
		recipes: recipes,
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/clinics", func(r chi.Router) {
		r.Get("/", s.handleListClinics)
		r.Post("/", s.handleCreateClinic)

		r.Route("/{clinicID}", func(r chi.Router) {
			r.Post("/evaluate", s.handleEvaluate)

			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Post("/rules/preview", s.handlePreviewRule)
			r.Get("/rules/{ruleID}", s.handleGetRule)
			r.Put("/rules/{ruleID}", s.handleUpdateRule)
			r.Delete("/rules/{ruleID}", s.handleDeleteRule)
		})
	})

	r.Get("/api/v1/nutrition/recipes", s.handleListRecipes)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondError(w, http.StatusServiceUnavailable, "database unreachable", err)
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		ClinicsLoaded: len(s.manager.List()),
	})
}

func (s *Server) handleListClinics(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusNotImplemented, "clinic registry requires a database", nil)
		return
	}

	rows, err := s.db.Query(`SELECT id, name, created_at FROM clinics ORDER BY created_at`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clinics", err)
		return
	}
	defer rows.Close()

	resp := ClinicsListResponse{Clinics: []ClinicResponse{}}
	for rows.Next() {
		var c ClinicResponse
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan clinic", err)
			return
		}
		resp.Clinics = append(resp.Clinics, c)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateClinic(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusNotImplemented, "clinic registry requires a database", nil)
		return
	}

	var req CreateClinicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	var clinicID string
	var createdAt time.Time
	err := s.db.QueryRow(`
		INSERT INTO clinics (name, created_at)
		VALUES ($1, NOW())
		RETURNING id, created_at
	`, req.Name).Scan(&clinicID, &createdAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create clinic", err)
		return
	}

	if err := s.manager.Register(clinicID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to initialize clinic engine", err)
		return
	}

	s.log.Info("clinic registered", "clinic", clinicID, "name", req.Name)
	respondJSON(w, http.StatusCreated, ClinicResponse{ID: clinicID, Name: req.Name, CreatedAt: createdAt})
}

func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*rules.Engine, string, bool) {
	clinicID := chi.URLParam(r, "clinicID")
	engine, err := s.manager.Get(clinicID)
	if err != nil {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return nil, "", false
	}
	return engine, clinicID, true
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	engine, clinicID, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || len(req.Rule) == 0 {
		respondError(w, http.StatusBadRequest, "name and rule are required", nil)
		return
	}

	node, err := rules.ParseRule(req.Rule)
	if err != nil {
		metrics.RuleValidationFailures.Inc()
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	now := time.Now()
	def := &rules.RuleDefinition{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Node:      node,
		Severity:  rules.Severity(req.Severity),
		Hard:      req.Hard,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := engine.AddRule(def); err != nil {
		metrics.RuleValidationFailures.Inc()
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	s.log.Info("rule created", "clinic", clinicID, "rule", def.ID, "severity", def.Severity)
	resp, err := toRuleResponse(def)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	defs, err := engine.ActiveRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: []RuleResponse{}}
	for _, def := range defs {
		rr, err := toRuleResponse(def)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
			return
		}
		resp.Rules = append(resp.Rules, rr)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	engine, _, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	def, err := engine.GetRule(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, ruleErrStatus(err), "rule not found", err)
		return
	}

	resp, err := toRuleResponse(def)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	engine, clinicID, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	ruleID := chi.URLParam(r, "ruleID")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || len(req.Rule) == 0 {
		respondError(w, http.StatusBadRequest, "name and rule are required", nil)
		return
	}

	node, err := rules.ParseRule(req.Rule)
	if err != nil {
		metrics.RuleValidationFailures.Inc()
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	def := &rules.RuleDefinition{
		ID:       ruleID,
		Name:     req.Name,
		Node:     node,
		Severity: rules.Severity(req.Severity),
		Hard:     req.Hard,
		Active:   req.Active,
	}

	if err := engine.UpdateRule(def); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		metrics.RuleValidationFailures.Inc()
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	s.log.Info("rule updated", "clinic", clinicID, "rule", ruleID)
	resp, err := toRuleResponse(def)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	engine, clinicID, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	ruleID := chi.URLParam(r, "ruleID")

	if err := engine.DeleteRule(ruleID); err != nil {
		respondError(w, ruleErrStatus(err), "failed to delete rule", err)
		return
	}

	s.log.Info("rule deleted", "clinic", clinicID, "rule", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	engine, clinicID, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	pc, err := req.Patient.toContext()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid patient snapshot", err)
		return
	}

	// Targeted evaluation: named catalog rules, all results returned.
	if len(req.Rules) > 0 {
		results := make([]RuleResultResponse, 0, len(req.Rules))
		for _, ruleID := range req.Rules {
			result, err := engine.Preview(ruleID, pc)
			if err != nil {
				respondError(w, ruleErrStatus(err), "rule not found", err)
				return
			}
			results = append(results, RuleResultResponse{RuleID: ruleID, Result: result})
		}
		respondJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	start := time.Now()
	alerts, err := engine.Alerts(pc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}
	elapsed := time.Since(start)

	metrics.EvaluationsTotal.WithLabelValues(clinicID).Inc()
	metrics.EvaluationDuration.Observe(elapsed.Seconds())
	for _, alert := range alerts {
		metrics.AlertsMatchedTotal.WithLabelValues(string(alert.Severity)).Inc()
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Alerts:         alerts,
		EvaluationTime: elapsed.String(),
	})
}

func (s *Server) handlePreviewRule(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.engineFor(w, r); !ok {
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Rule) == 0 {
		respondError(w, http.StatusBadRequest, "rule is required", nil)
		return
	}

	node, err := rules.ParseRule(req.Rule)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.catalog.ValidateNode(node); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	pc, err := req.Patient.toContext()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid patient snapshot", err)
		return
	}

	respondJSON(w, http.StatusOK, rules.EvaluateRule(node, pc))
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	if s.recipes == nil {
		respondError(w, http.StatusNotFound, "recipe catalog not loaded", nil)
		return
	}

	limits := nutrition.DefaultRenalLimits()
	var recipes []nutrition.Recipe
	if flag := r.URL.Query().Get("flag"); flag != "" {
		recipes = s.recipes.Flagged(nutrition.Flag(flag), limits)
	} else {
		recipes = s.recipes.Search(r.URL.Query().Get("q"))
	}

	resp := RecipesResponse{Recipes: []FlaggedRecipe{}}
	for _, rec := range recipes {
		resp.Recipes = append(resp.Recipes, FlaggedRecipe{Recipe: rec, Flags: rec.Flags(limits)})
	}
	respondJSON(w, http.StatusOK, resp)
}

func ruleErrStatus(err error) int {
	if errors.Is(err, rules.ErrRuleNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Setup(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
