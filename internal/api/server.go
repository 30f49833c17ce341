// Package api serves the admin HTTP surface: check history, catalog
// management, forced checks and operational status.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/crawl"
	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Checker triggers an immediate forced check on a catalog resource.
type Checker interface {
	CheckResource(ctx context.Context, res models.Resource, force bool) (*models.Check, error)
}

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Settings
	store     *storage.Store
	checker   Checker
	monitor   *crawl.Monitor
	startedAt time.Time
}

// New builds the admin API server. checker and monitor may be nil when the
// process runs API-only.
func New(cfg *config.Settings, store *storage.Store, checker Checker, monitor *crawl.Monitor) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		checker:   checker,
		monitor:   monitor,
		startedAt: time.Now(),
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/status/crawler", s.handleCrawlerStatus)
	mux.HandleFunc("/api/status/worker", s.handleWorkerStatus)

	mux.HandleFunc("/api/checks/latest", s.handleLatestCheck)
	mux.HandleFunc("/api/checks/all", s.handleAllChecks)
	mux.HandleFunc("/api/checks/aggregate", s.handleAggregateChecks)
	mux.HandleFunc("/api/checks", s.requireAuth(s.handleForceCheck))

	mux.HandleFunc("/api/resources", s.handleResources)
	mux.HandleFunc("/api/resources/", s.handleResource)
	mux.HandleFunc("/api/exceptions", s.requireAuth(s.handleCreateException))

	mux.Handle("/metrics", promhttp.Handler())

	// Routes answer with and without a trailing slash.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 {
			r.URL.Path = strings.TrimRight(r.URL.Path, "/")
		}
		mux.ServeHTTP(w, r)
	})
}

// requireAuth guards mutating routes with the configured bearer token. An
// empty token leaves the route open, for dev setups.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
