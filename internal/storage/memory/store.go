package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

// Store implements catalog.Store over maps. Documents are copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	ids       catalog.IDGenerator
	providers map[string]catalog.Provider // by pid
	backends  map[string]catalog.Backend  // by id
	users     map[string]catalog.User     // by email
}

var _ catalog.Store = (*Store)(nil)

// NewStore returns an empty store that assigns ids with ids.
func NewStore(ids catalog.IDGenerator) *Store {
	return &Store{
		ids:       ids,
		providers: make(map[string]catalog.Provider),
		backends:  make(map[string]catalog.Backend),
		users:     make(map[string]catalog.User),
	}
}

// Close implements catalog.Store.
func (s *Store) Close() error { return nil }

func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("copy document: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("copy document: %w", err)
	}
	return out, nil
}

// InsertProviders implements catalog.ProviderStore. Either every provider is
// inserted or none is.
func (s *Store) InsertProviders(_ context.Context, providers []catalog.Provider) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, p := range providers {
		if _, exists := s.providers[p.PID]; exists || seen[p.PID] {
			return nil, fmt.Errorf("provider %s: %w", p.PID, catalog.ErrConflict)
		}
		seen[p.PID] = true
	}
	staged := make([]catalog.Provider, 0, len(providers))
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		doc, err := clone(p)
		if err != nil {
			return nil, err
		}
		if doc.ID == "" {
			if doc.ID, err = s.ids.NewID(); err != nil {
				return nil, err
			}
		}
		staged = append(staged, doc)
		ids = append(ids, doc.ID)
	}
	for _, p := range staged {
		s.providers[p.PID] = p
	}
	return ids, nil
}

// FindProvider implements catalog.ProviderStore.
func (s *Store) FindProvider(_ context.Context, pid string) (catalog.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[pid]
	if !ok {
		return catalog.Provider{}, fmt.Errorf("provider %s: %w", pid, catalog.ErrNotFound)
	}
	return clone(p)
}

// FindProviders implements catalog.ProviderStore, ordered by pid.
func (s *Store) FindProviders(_ context.Context, filter catalog.ProviderFilter) ([]catalog.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Provider{}
	for _, p := range s.providers {
		if !filter.Match(p) {
			continue
		}
		doc, err := clone(p)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// UpdateProvider implements catalog.ProviderStore.
func (s *Store) UpdateProvider(_ context.Context, provider catalog.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.providers[provider.PID]
	if !ok {
		return fmt.Errorf("provider %s: %w", provider.PID, catalog.ErrNotFound)
	}
	doc, err := clone(provider)
	if err != nil {
		return err
	}
	doc.ID = current.ID
	doc.BackendIDs = current.BackendIDs
	doc.LastChecked = current.LastChecked
	s.providers[provider.PID] = doc
	return nil
}

// SetBackendIDs implements catalog.ProviderStore.
func (s *Store) SetBackendIDs(_ context.Context, pid string, ids []string, checked time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[pid]
	if !ok {
		return fmt.Errorf("provider %s: %w", pid, catalog.ErrNotFound)
	}
	p.BackendIDs = append([]string{}, ids...)
	p.LastChecked = &checked
	s.providers[pid] = p
	return nil
}

// PullBackendIDs implements catalog.ProviderStore.
func (s *Store) PullBackendIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, p := range s.providers {
		kept := slices.DeleteFunc(append([]string{}, p.BackendIDs...), func(id string) bool {
			return slices.Contains(ids, id)
		})
		if len(kept) != len(p.BackendIDs) {
			p.BackendIDs = kept
			s.providers[pid] = p
		}
	}
	return nil
}

// DeleteProviders implements catalog.ProviderStore.
func (s *Store) DeleteProviders(_ context.Context, filter catalog.ProviderFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for pid, p := range s.providers {
		if filter.Match(p) {
			delete(s.providers, pid)
			n++
		}
	}
	return n, nil
}

// CountProviders implements catalog.ProviderStore.
func (s *Store) CountProviders(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.providers), nil
}

// InsertBackends implements catalog.BackendStore.
func (s *Store) InsertBackends(_ context.Context, backends []catalog.Backend) ([]string, error) {
	staged := make([]catalog.Backend, 0, len(backends))
	ids := make([]string, 0, len(backends))
	for _, b := range backends {
		doc, err := clone(b)
		if err != nil {
			return nil, err
		}
		if doc.ID, err = s.ids.NewID(); err != nil {
			return nil, err
		}
		staged = append(staged, doc)
		ids = append(ids, doc.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range staged {
		s.backends[b.ID] = b
	}
	return ids, nil
}

// FindBackend implements catalog.BackendStore.
func (s *Store) FindBackend(_ context.Context, id string) (catalog.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[id]
	if !ok {
		return catalog.Backend{}, fmt.Errorf("backend %s: %w", id, catalog.ErrNotFound)
	}
	return clone(b)
}

// FindBackends implements catalog.BackendStore, ordered by id.
func (s *Store) FindBackends(_ context.Context, filter catalog.BackendFilter) ([]catalog.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Backend{}
	for _, b := range s.backends {
		if !filter.Match(b) {
			continue
		}
		doc, err := clone(b)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteBackends implements catalog.BackendStore.
func (s *Store) DeleteBackends(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.backends[id]; ok {
			delete(s.backends, id)
			n++
		}
	}
	return n, nil
}

// UpdatePricing implements catalog.BackendStore.
func (s *Store) UpdatePricing(_ context.Context, id string, pricing catalog.Pricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backends[id]
	if !ok {
		return fmt.Errorf("backend %s: %w", id, catalog.ErrNotFound)
	}
	b.Pricing = &pricing
	s.backends[id] = b
	return nil
}

// CountBackends implements catalog.BackendStore.
func (s *Store) CountBackends(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.backends), nil
}

// FindUserByEmail implements catalog.UserStore.
func (s *Store) FindUserByEmail(_ context.Context, email string) (catalog.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return catalog.User{}, fmt.Errorf("user %s: %w", email, catalog.ErrNotFound)
	}
	return clone(u)
}

// UpsertUser implements catalog.UserStore.
func (s *Store) UpsertUser(_ context.Context, user catalog.User) (catalog.User, error) {
	doc, err := clone(user)
	if err != nil {
		return catalog.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.users[doc.Email]; ok {
		doc.ID = current.ID
	} else if doc.ID == "" {
		if doc.ID, err = s.ids.NewID(); err != nil {
			return catalog.User{}, err
		}
	}
	s.users[doc.Email] = doc
	return clone(doc)
}

// CountUsers implements catalog.UserStore.
func (s *Store) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
