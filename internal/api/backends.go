package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

func (s *Server) listBackends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.BackendFilter{ClassType: catalog.ClassType(q.Get("class_type"))}
	if pid := q.Get("provider"); pid != "" {
		p, err := s.store.FindProvider(r.Context(), pid)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		filter.ProviderIDs = []string{p.ID}
	}
	backends, err := s.store.FindBackends(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	fields := parseFields(q.Get("fields"))
	out := make([]map[string]json.RawMessage, 0, len(backends))
	for _, b := range backends {
		doc, err := catalog.Project(b, fields)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		out = append(out, doc)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// getBackend resolves {id} as a storage id first and as a bid second.
func (s *Server) getBackend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.store.FindBackend(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		var found []catalog.Backend
		found, err = s.store.FindBackends(r.Context(), catalog.BackendFilter{BIDs: []string{id}})
		switch {
		case err != nil:
		case len(found) == 0:
			err = catalog.ErrNotFound
		default:
			b = found[0]
		}
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	doc, err := catalog.Project(b, parseFields(r.URL.Query().Get("fields")))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}
