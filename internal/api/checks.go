package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/rs/zerolog/log"
)

// handleLatestCheck serves GET /api/checks/latest?url=|resource_id=.
// A check whose catalog resource was soft-deleted answers 410: the resource
// existed but is gone.
func (s *Server) handleLatestCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rawURL, resourceID := r.URL.Query().Get("url"), r.URL.Query().Get("resource_id")
	if rawURL == "" && resourceID == "" {
		writeError(w, http.StatusBadRequest, "url or resource_id is required")
		return
	}
	check, err := s.store.LatestCheck(r.Context(), rawURL, resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no check found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res, err := s.store.GetResource(r.Context(), check.ResourceID); err == nil && res.Deleted {
		writeError(w, http.StatusGone, "resource deleted")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// handleAllChecks serves GET /api/checks/all?url=|resource_id=, most recent
// first.
func (s *Server) handleAllChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rawURL, resourceID := r.URL.Query().Get("url"), r.URL.Query().Get("resource_id")
	if rawURL == "" && resourceID == "" {
		writeError(w, http.StatusBadRequest, "url or resource_id is required")
		return
	}
	checks, err := s.store.AllChecks(r.Context(), rawURL, resourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(checks) == 0 {
		writeError(w, http.StatusNotFound, "no checks found")
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

// handleAggregateChecks serves GET /api/checks/aggregate?group_by=&created_at=.
// created_at accepts "today" or a YYYY-MM-DD day.
func (s *Server) handleAggregateChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	groupBy, createdAt := r.URL.Query().Get("group_by"), r.URL.Query().Get("created_at")
	if groupBy == "" || createdAt == "" {
		writeError(w, http.StatusBadRequest, "group_by and created_at are required")
		return
	}
	var day time.Time
	if createdAt == "today" {
		day = time.Now().UTC()
	} else {
		var err error
		day, err = time.Parse("2006-01-02", createdAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "created_at must be 'today' or YYYY-MM-DD")
			return
		}
	}
	aggregates, err := s.store.AggregateChecksForDate(r.Context(), groupBy, day)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(aggregates) == 0 {
		writeError(w, http.StatusNotFound, "no checks for this day")
		return
	}
	writeJSON(w, http.StatusOK, aggregates)
}

// handleForceCheck serves POST /api/checks: runs an immediate check on a
// catalog resource, bypassing the freshness rule. The URL always comes from
// the catalog record, never from the request.
func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler not running")
		return
	}
	var body struct {
		ResourceID string `json:"resource_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}
	res, err := s.store.GetResource(r.Context(), body.ResourceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Deleted {
		writeError(w, http.StatusGone, "resource deleted")
		return
	}
	check, err := s.checker.CheckResource(r.Context(), *res, true)
	if err != nil {
		log.Error().Err(err).Str("resource_id", res.ResourceID).Msg("Forced check failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, check)
}
