package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

type refreshRequest struct {
	PIDs  []string `json:"pids"`
	Reset bool     `json:"reset"`
}

// submitRefresh queues a refresh and answers 202 without waiting for it.
func (s *Server) submitRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	kind := catalog.JobRefresh
	if req.Reset {
		if len(req.PIDs) > 0 {
			s.writeError(w, http.StatusBadRequest, "reset applies to the whole catalog; omit pids")
			return
		}
		kind = catalog.JobReset
	}
	for _, pid := range req.PIDs {
		if _, err := s.store.FindProvider(r.Context(), pid); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	jobID, err := s.submitter.Submit(ctx, kind, req.PIDs, "admin")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getRefresh(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}
