package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleCrawlerStatus serves GET /api/status/crawler: the scheduler counters
// and its most recent activity.
func (s *Server) handleCrawlerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

// handleWorkerStatus serves GET /api/status/worker. Checks run in-process
// rather than on a queue, so this reports the pipeline counters under the
// upstream route name.
func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false})
		return
	}
	snap := s.monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  snap.Running,
		"analyses": snap.Analyses,
		"parsings": snap.Parsings,
	})
}

// handleStats serves GET /api/stats: check volume and error rate over the
// last 24 hours.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	total, errored, err := s.store.CountChecksSince(r.Context(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var rate float64
	if total > 0 {
		rate = float64(errored) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checks_24h": total,
		"errors_24h": errored,
		"error_rate": rate,
	})
}
