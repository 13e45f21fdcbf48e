// Package reconcile keeps the stored catalog consistent with what the gateway
// fetches from each provider.
//
// A refresh is staged: the new backends are inserted first, provider links are
// swapped to them, and only then is the previous set deleted. Readers therefore
// always see either the old or the new set behind a provider.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/gateway"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	"github.com/JakeFAU/quantum-catalog/internal/pricing"
	"github.com/JakeFAU/quantum-catalog/internal/strategy"
	"github.com/JakeFAU/quantum-catalog/internal/telemetry"
)

// EventRefreshed is the payload published after every provider refresh.
type EventRefreshed struct {
	PID       string                `json:"pid"`
	Status    catalog.OutcomeStatus `json:"status"`
	Backends  int                   `json:"backends"`
	Refreshed time.Time             `json:"refreshed_at"`
}

// Fetcher returns the normalized backends of a provider. *gateway.Gateway implements it.
type Fetcher interface {
	FetchData(ctx context.Context, p catalog.Provider) ([]catalog.Backend, error)
}

// PriceList supplies Braket prices. *pricing.Cache implements it.
type PriceList interface {
	Entries(ctx context.Context) ([]pricing.Entry, error)
	Invalidate()
}

// DiscoverFunc lists the hardware vendors currently reachable through platform.
type DiscoverFunc func(ctx context.Context, platform string) ([]string, error)

// Config tunes the reconciler.
type Config struct {
	// Limit bounds concurrent provider refreshes in RefreshAll; <= 0 means 4.
	Limit int
	// Topic receives an EventRefreshed per refresh when a publisher is set.
	Topic string
}

// Reconciler refreshes providers against the store.
type Reconciler struct {
	store     catalog.Store
	fetcher   Fetcher
	prices    PriceList
	publisher catalog.Publisher
	discover  DiscoverFunc
	clock     catalog.Clock
	logger    *zap.Logger
	cfg       Config

	group singleflight.Group
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// wipe is held shared by refreshes and exclusively by Reset.
	wipe sync.RWMutex
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithPrices enables pricing enrichment of Braket backends.
func WithPrices(p PriceList) Option {
	return func(r *Reconciler) { r.prices = p }
}

// WithPublisher publishes an EventRefreshed after every refresh.
func WithPublisher(p catalog.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithDiscovery sets how Bootstrap finds pass-through vendors.
func WithDiscovery(fn DiscoverFunc) Option {
	return func(r *Reconciler) { r.discover = fn }
}

// New builds a Reconciler.
func New(
	cfg Config,
	store catalog.Store,
	fetcher Fetcher,
	clock catalog.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Reconciler {
	if cfg.Limit <= 0 {
		cfg.Limit = 4
	}
	r := &Reconciler{
		store:   store,
		fetcher: fetcher,
		clock:   clock,
		logger:  logger.Named("reconcile"),
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type result struct {
	outcome catalog.Outcome
}

// Refresh fetches pid and swaps its backends. Concurrent calls for the same pid
// share one run. Degraded fetches are reported in the outcome, not as errors;
// the returned error is reserved for configuration and storage failures.
func (r *Reconciler) Refresh(ctx context.Context, pid string) (catalog.Outcome, error) {
	v, err, _ := r.group.Do(pid, func() (any, error) {
		r.wipe.RLock()
		defer r.wipe.RUnlock()
		lock := r.lockFor(pid)
		lock.Lock()
		defer lock.Unlock()
		out, err := r.refresh(ctx, pid)
		return result{outcome: out}, err
	})
	res, _ := v.(result)
	return res.outcome, err
}

func (r *Reconciler) lockFor(pid string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[pid]
	if !ok {
		l = &sync.Mutex{}
		r.locks[pid] = l
	}
	return l
}

func (r *Reconciler) refresh(ctx context.Context, pid string) (out catalog.Outcome, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reconcile.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("pid", pid))

	start := r.clock.Now()
	out = catalog.Outcome{PID: pid}
	defer func() {
		if err != nil {
			out.Status = catalog.OutcomeFailed
			out.Error = err.Error()
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("outcome", string(out.Status)))
		metrics.ObserveRefresh(pid, string(out.Status), r.clock.Now().Sub(start))
		r.publish(ctx, out)
	}()

	p, err := r.store.FindProvider(ctx, pid)
	if err != nil {
		return out, fmt.Errorf("load provider %s: %w", pid, err)
	}
	if p.Request == nil {
		out.Status = catalog.OutcomeSkipped
		return out, nil
	}
	platform, isPlatform := catalog.PlatformOf(pid)

	stale, err := r.currentSet(ctx, p, platform, isPlatform)
	if err != nil {
		return out, err
	}

	backends, fetchErr := r.fetcher.FetchData(ctx, p)
	if fetchErr != nil && !errors.Is(fetchErr, gateway.ErrDegraded) {
		return out, fetchErr
	}
	if fetchErr != nil {
		out.Error = fetchErr.Error()
		r.logger.Warn("degraded fetch", zap.String("pid", pid), zap.Int("backends", len(backends)), zap.Error(fetchErr))
	}

	if len(backends) == 0 {
		if fetchErr != nil {
			out.Status = catalog.OutcomeDegraded
			if errors.Is(fetchErr, strategy.ErrSkipped) {
				out.Status = catalog.OutcomeSkipped
			}
			out.Backends = len(stale)
			return out, nil
		}
		if err := r.relink(ctx, p, platform, isPlatform, nil); err != nil {
			return out, err
		}
		if err := r.purge(ctx, stale); err != nil {
			return out, err
		}
		metrics.SetBackends(pid, 0)
		out.Status = catalog.OutcomeEmpty
		return out, nil
	}

	ids, err := r.store.InsertBackends(ctx, backends)
	if err != nil {
		return out, fmt.Errorf("insert backends of %s: %w", pid, err)
	}
	for i := range backends {
		backends[i].ID = ids[i]
	}
	if err := r.relink(ctx, p, platform, isPlatform, backends); err != nil {
		return out, err
	}
	if err := r.purge(ctx, stale); err != nil {
		return out, err
	}
	r.enrichPricing(ctx, backends)

	metrics.SetBackends(pid, len(backends))
	out.Backends = len(backends)
	out.Status = catalog.OutcomeRefreshed
	if fetchErr != nil {
		out.Status = catalog.OutcomeDegraded
	}
	r.logger.Info("provider refreshed",
		zap.String("pid", pid),
		zap.Int("backends", len(backends)),
		zap.Int("replaced", len(stale)),
	)
	return out, nil
}

// currentSet returns the backend ids a refresh of p replaces. For a platform
// these are the lists of every provider reached through it.
func (r *Reconciler) currentSet(ctx context.Context, p catalog.Provider, platform string, isPlatform bool) ([]string, error) {
	if !isPlatform {
		return slices.Clone(p.BackendIDs), nil
	}
	linked, err := r.store.FindProviders(ctx, catalog.ProviderFilter{ThirdPartyName: platform})
	if err != nil {
		return nil, fmt.Errorf("load providers of %s: %w", platform, err)
	}
	ids := slices.Clone(p.BackendIDs)
	for _, lp := range linked {
		ids = append(ids, lp.BackendIDs...)
	}
	return ids, nil
}

func (r *Reconciler) relink(
	ctx context.Context,
	p catalog.Provider,
	platform string,
	isPlatform bool,
	backends []catalog.Backend,
) error {
	now := r.clock.Now()
	if !isPlatform {
		ids := make([]string, 0, len(backends))
		for _, b := range backends {
			ids = append(ids, b.ID)
		}
		if err := r.store.SetBackendIDs(ctx, p.PID, ids, now); err != nil {
			return fmt.Errorf("link backends of %s: %w", p.PID, err)
		}
		return nil
	}

	linked, err := r.store.FindProviders(ctx, catalog.ProviderFilter{ThirdPartyName: platform})
	if err != nil {
		return fmt.Errorf("load providers of %s: %w", platform, err)
	}
	claimed := make(map[string]bool, len(backends))
	for _, lp := range linked {
		ids := []string{}
		for _, b := range backends {
			if strings.EqualFold(b.Provider.Name, lp.Name) {
				ids = append(ids, b.ID)
				claimed[b.ID] = true
			}
		}
		if err := r.store.SetBackendIDs(ctx, lp.PID, ids, now); err != nil {
			return fmt.Errorf("link backends of %s: %w", lp.PID, err)
		}
	}
	for _, b := range backends {
		if !claimed[b.ID] {
			r.logger.Warn("backend has no pass-through provider",
				zap.String("platform", platform),
				zap.String("bid", b.BID),
				zap.String("provider_name", b.Provider.Name),
			)
		}
	}
	// The platform keeps no backends of its own; only its check time moves.
	if err := r.store.SetBackendIDs(ctx, p.PID, []string{}, now); err != nil {
		return fmt.Errorf("stamp %s: %w", p.PID, err)
	}
	return nil
}

func (r *Reconciler) purge(ctx context.Context, stale []string) error {
	if len(stale) == 0 {
		return nil
	}
	if _, err := r.store.DeleteBackends(ctx, stale); err != nil {
		return fmt.Errorf("delete stale backends: %w", err)
	}
	if err := r.store.PullBackendIDs(ctx, stale); err != nil {
		return fmt.Errorf("unlink stale backends: %w", err)
	}
	return nil
}

func (r *Reconciler) enrichPricing(ctx context.Context, backends []catalog.Backend) {
	if r.prices == nil || !slices.ContainsFunc(backends, isBraket) {
		return
	}
	entries, err := r.prices.Entries(ctx)
	if err != nil {
		r.logger.Warn("pricing unavailable", zap.Int("stale_entries", len(entries)), zap.Error(err))
	}
	for i, b := range backends {
		if !isBraket(b) {
			continue
		}
		price, ok := pricing.Match(entries, b)
		if !ok {
			continue
		}
		if err := r.store.UpdatePricing(ctx, b.ID, price); err != nil {
			r.logger.Warn("store pricing", zap.String("bid", b.BID), zap.Error(err))
			continue
		}
		backends[i].Pricing = &price
	}
}

func isBraket(b catalog.Backend) bool {
	return b.ClassType == catalog.ClassBraket
}

func (r *Reconciler) publish(ctx context.Context, out catalog.Outcome) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := EventRefreshed{PID: out.PID, Status: out.Status, Backends: out.Backends, Refreshed: r.clock.Now()}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish refresh event", zap.String("pid", out.PID), zap.Error(err))
	}
}

// RefreshAll refreshes every provider matching filter that has a backend
// request. One provider failing never stops the others; their errors are
// joined in the returned error.
func (r *Reconciler) RefreshAll(ctx context.Context, filter catalog.ProviderFilter) ([]catalog.Outcome, error) {
	providers, err := r.store.FindProviders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	providers = slices.DeleteFunc(providers, func(p catalog.Provider) bool { return p.Request == nil })

	outcomes := make([]catalog.Outcome, len(providers))
	errs := make([]error, len(providers))
	var g errgroup.Group
	g.SetLimit(r.cfg.Limit)
	for i, p := range providers {
		g.Go(func() error {
			outcomes[i], errs[i] = r.Refresh(ctx, p.PID)
			if errs[i] != nil {
				r.logger.Error("refresh failed", zap.String("pid", p.PID), zap.Error(errs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}
