package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

// providerIdentity is always kept by the fields projection.
var providerIdentity = []string{"id", "pid", "name"}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ProviderFilter{ThirdPartyName: q.Get("third_party")}
	if raw := q.Get("from_third_party"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "from_third_party must be a boolean")
			return
		}
		filter.FromThirdParty = &v
	}
	providers, err := s.store.FindProviders(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	fields := parseFields(q.Get("fields"))
	out := make([]map[string]json.RawMessage, 0, len(providers))
	for _, p := range providers {
		doc, err := project(p, fields, providerIdentity)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		out = append(out, doc)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.FindProvider(r.Context(), chi.URLParam(r, "pid"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	doc, err := project(p, parseFields(r.URL.Query().Get("fields")), providerIdentity)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) createProvider(w http.ResponseWriter, r *http.Request) {
	var p catalog.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid provider: %v", err))
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.FromThirdParty && p.ThirdParty == nil {
		s.writeError(w, http.StatusBadRequest, "third_party is required for third-party providers")
		return
	}
	if p.PID == "" {
		p.PID = catalog.NativePID(p.Name)
		if p.FromThirdParty {
			p.PID = catalog.ThirdPartyPID(p.ThirdParty.Name, p.Name)
		}
	}
	p.ID = ""
	p.BackendIDs = []string{}
	p.LastChecked = nil
	now := s.clock.Now()
	p.UpdatedAt = &now

	if _, err := s.store.InsertProviders(r.Context(), []catalog.Provider{p}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	created, err := s.store.FindProvider(r.Context(), p.PID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

type providerPatch struct {
	Name        *string              `json:"name"`
	Website     *string              `json:"website"`
	Description *catalog.Description `json:"description"`
}

func (s *Server) patchProvider(w http.ResponseWriter, r *http.Request) {
	var patch providerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := s.store.FindProvider(r.Context(), chi.URLParam(r, "pid"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			s.writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Website != nil {
		p.Website = *patch.Website
	}
	if patch.Description != nil {
		p.Description = patch.Description
	}
	now := s.clock.Now()
	p.UpdatedAt = &now
	if err := s.store.UpdateProvider(r.Context(), p); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// deleteProvider removes the provider together with the backends it lists.
func (s *Server) deleteProvider(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	p, err := s.store.FindProvider(r.Context(), pid)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if len(p.BackendIDs) > 0 {
		if err := s.store.PullBackendIDs(r.Context(), p.BackendIDs); err != nil {
			s.writeStoreError(w, err)
			return
		}
		if _, err := s.store.DeleteBackends(r.Context(), p.BackendIDs); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}
	if _, err := s.store.DeleteProviders(r.Context(), catalog.ProviderFilter{PIDs: []string{pid}}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// project marshals v and keeps only fields plus the keep keys. No fields
// returns the whole document.
func project(v any, fields, keep []string) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	if len(fields) == 0 {
		return all, nil
	}
	out := make(map[string]json.RawMessage, len(fields)+len(keep))
	for _, key := range slices.Concat(keep, fields) {
		if v, ok := all[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}
