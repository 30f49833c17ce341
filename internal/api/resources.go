package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/storage"
)

// resourcePayload is the canonical catalog mutation body, mirroring the
// upstream event shape: identifiers at the top level, the resource document
// nested under "document".
type resourcePayload struct {
	DatasetID  string `json:"dataset_id"`
	ResourceID string `json:"resource_id"`
	Document   *struct {
		URL     string `json:"url"`
		Harvest *struct {
			ModifiedAt *time.Time `json:"modified_at"`
		} `json:"harvest"`
	} `json:"document"`
}

func (p *resourcePayload) validate() error {
	if p.DatasetID == "" || p.ResourceID == "" {
		return errors.New("dataset_id and resource_id are required")
	}
	if p.Document == nil || p.Document.URL == "" {
		return errors.New("document.url is required")
	}
	if u, err := url.Parse(p.Document.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", p.Document.URL)
	}
	return nil
}

func (p *resourcePayload) harvestModifiedAt() *time.Time {
	if p.Document == nil || p.Document.Harvest == nil {
		return nil
	}
	return p.Document.Harvest.ModifiedAt
}

// handleResources serves POST /api/resources: register a new resource (or
// resurrect a deleted one) with priority for the next cycle.
func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.requireAuth(s.upsertResource(http.StatusCreated, ""))(w, r)
}

// handleResource serves /api/resources/{resource_id} and its /status
// subroute.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/resources/"), "/")
	resourceID, sub, _ := strings.Cut(rest, "/")
	if resourceID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case sub == "status" && r.Method == http.MethodGet:
		s.getResourceStatus(w, r, resourceID)
	case sub != "":
		writeError(w, http.StatusNotFound, "not found")
	case r.Method == http.MethodGet:
		s.getResource(w, r, resourceID)
	case r.Method == http.MethodPut:
		s.requireAuth(s.upsertResource(http.StatusOK, resourceID))(w, r)
	case r.Method == http.MethodDelete:
		s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
			s.deleteResource(w, r, resourceID)
		})(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request, resourceID string) {
	res, err := s.store.GetResource(r.Context(), resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// upsertResource handles both POST (pathResourceID empty) and PUT (payload
// must match the path).
func (s *Server) upsertResource(successStatus int, pathResourceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload resourcePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if pathResourceID != "" {
			if payload.ResourceID == "" {
				payload.ResourceID = pathResourceID
			} else if payload.ResourceID != pathResourceID {
				writeError(w, http.StatusBadRequest, "resource_id mismatch between path and body")
				return
			}
		}
		if err := payload.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err := s.store.UpsertResource(r.Context(), payload.DatasetID, payload.ResourceID, payload.Document.URL, payload.harvestModifiedAt())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		res, err := s.store.GetResource(r.Context(), payload.ResourceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, successStatus, res)
	}
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request, resourceID string) {
	err := s.store.SoftDeleteResource(r.Context(), resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getResourceStatus serves GET /api/resources/{id}/status with the verbose
// state and a pointer to the latest check.
func (s *Server) getResourceStatus(w http.ResponseWriter, r *http.Request, resourceID string) {
	res, err := s.store.GetResource(r.Context(), resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":      res.ResourceID,
		"status":           res.Status,
		"status_verbose":   models.StatusVerbose(res.Status),
		"latest_check_url": "/api/checks/latest?resource_id=" + url.QueryEscape(res.ResourceID),
	})
}

// handleCreateException serves POST /api/exceptions: allow an oversized
// resource through the download size cap, with optional table indexes.
func (s *Server) handleCreateException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		ResourceID   string            `json:"resource_id"`
		TableIndexes map[string]string `json:"table_indexes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}
	exc, err := s.store.InsertResourceException(r.Context(), body.ResourceID, body.TableIndexes)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, exc)
}
