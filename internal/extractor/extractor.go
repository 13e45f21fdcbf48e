// Package extractor holds the static registry of provider extraction routines.
//
// Providers name their extractor by reference ({module, func}); the registry
// resolves that reference and checks the extractor accepts the provider's
// fetch method before a strategy runs it.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/quantum-catalog/internal/browser"
	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

var (
	// ErrNotFound is returned when no extractor is registered under a name.
	ErrNotFound = errors.New("extractor not found")
	// ErrInvalidExtractor is returned when an extractor does not accept the
	// provider's fetch method.
	ErrInvalidExtractor = errors.New("invalid extractor")
	// ErrInvalidInput is returned by an extractor handed the wrong input kind.
	ErrInvalidInput = errors.New("invalid extractor input")
)

// Input is the strategy-specific argument passed to Extract. It is one of
// APIInput, SDKInput or ScrapeInput.
type Input interface {
	method() catalog.FetchMethod
}

// APIInput is a resolved request descriptor: credentials already substituted.
type APIInput struct {
	Provider catalog.ProviderRef
	BaseURL  string
	Headers  map[string]string
}

// SDKInput carries the resolved credentials named by the provider's env vars.
type SDKInput struct {
	Provider    catalog.ProviderRef
	Credentials map[string]string
}

// ScrapeInput carries a live browser session already on the provider's page.
type ScrapeInput struct {
	Provider catalog.ProviderRef
	Session  browser.Session
}

func (APIInput) method() catalog.FetchMethod    { return catalog.FetchAPI }
func (SDKInput) method() catalog.FetchMethod    { return catalog.FetchSDK }
func (ScrapeInput) method() catalog.FetchMethod { return catalog.FetchScraping }

// Extractor turns a provider's external source into raw records.
type Extractor interface {
	Method() catalog.FetchMethod
	Extract(ctx context.Context, in Input) ([]catalog.RawRecord, error)
}

// Func adapts a function to Extractor.
type Func struct {
	FetchMethod catalog.FetchMethod
	Fn          func(ctx context.Context, in Input) ([]catalog.RawRecord, error)
}

// Method implements Extractor.
func (f Func) Method() catalog.FetchMethod { return f.FetchMethod }

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, in Input) ([]catalog.RawRecord, error) {
	if in == nil || in.method() != f.FetchMethod {
		return nil, fmt.Errorf("%w: %T for %s extractor", ErrInvalidInput, in, f.FetchMethod)
	}
	return f.Fn(ctx, in)
}

// Registry maps extractor names to implementations. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Extractor)}
}

// Register adds e under name ("module.func"). Names are unique.
func (r *Registry) Register(name string, e Extractor) error {
	if name == "" || e == nil {
		return fmt.Errorf("register extractor: name and extractor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("register extractor %q: already registered", name)
	}
	r.items[name] = e
	return nil
}

// Load resolves ref and validates it against the provider's fetch method.
func (r *Registry) Load(ref catalog.ExtractorRef, method catalog.FetchMethod) (Extractor, error) {
	name := ref.Key()
	r.mu.RLock()
	e, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.Method() != method {
		return nil, fmt.Errorf("%w: %q handles %s, provider uses %s", ErrInvalidExtractor, name, e.Method(), method)
	}
	return e, nil
}

// Names lists the registered extractor names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
