package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/seed"
)

// Bootstrap seeds an empty catalog: the native providers, the pass-through
// providers of every platform, their third-party ids and descriptive text.
// A catalog that already holds providers is left untouched.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	n, err := r.store.CountProviders(ctx)
	if err != nil {
		return fmt.Errorf("count providers: %w", err)
	}
	if n > 0 {
		r.logger.Debug("catalog already seeded", zap.Int("providers", n))
		return nil
	}

	providers, err := seed.Providers()
	if err != nil {
		return err
	}
	for _, platform := range catalog.Platforms {
		names, err := r.vendors(ctx, platform)
		if err != nil {
			return err
		}
		for _, name := range names {
			providers = append(providers, seed.PassThrough(platform, name))
		}
	}
	now := r.clock.Now()
	for i := range providers {
		providers[i].UpdatedAt = &now
	}
	if _, err := r.store.InsertProviders(ctx, providers); err != nil {
		return fmt.Errorf("insert seed providers: %w", err)
	}
	if err := r.backfillThirdPartyIDs(ctx); err != nil {
		return err
	}
	if err := r.backfillDescriptions(ctx); err != nil {
		return err
	}
	r.logger.Info("catalog bootstrapped", zap.Int("providers", len(providers)))
	return nil
}

// vendors discovers the vendors of platform, falling back to the seeded list
// when discovery is unavailable or finds nothing.
func (r *Reconciler) vendors(ctx context.Context, platform string) ([]string, error) {
	if r.discover != nil {
		names, err := r.discover(ctx, platform)
		if err == nil && len(names) > 0 {
			return dedupe(names), nil
		}
		r.logger.Warn("vendor discovery failed, using seed list", zap.String("platform", platform), zap.Error(err))
	}
	names, err := seed.PassThroughNames(platform)
	if err != nil {
		return nil, err
	}
	return dedupe(names), nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := catalog.Norm(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

func (r *Reconciler) backfillThirdPartyIDs(ctx context.Context) error {
	for _, platform := range catalog.Platforms {
		owner, err := r.store.FindProvider(ctx, catalog.NativePID(platform))
		if err != nil {
			return fmt.Errorf("load platform %s: %w", platform, err)
		}
		linked, err := r.store.FindProviders(ctx, catalog.ProviderFilter{ThirdPartyName: platform})
		if err != nil {
			return fmt.Errorf("load providers of %s: %w", platform, err)
		}
		for _, p := range linked {
			if p.ThirdParty.ID == owner.ID {
				continue
			}
			p.ThirdParty.ID = owner.ID
			if err := r.store.UpdateProvider(ctx, p); err != nil {
				return fmt.Errorf("backfill third party of %s: %w", p.PID, err)
			}
		}
	}
	return nil
}

func (r *Reconciler) backfillDescriptions(ctx context.Context) error {
	texts, err := seed.Descriptions()
	if err != nil {
		return err
	}
	providers, err := r.store.FindProviders(ctx, catalog.ProviderFilter{})
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	for _, p := range providers {
		extra, ok := texts[p.Name]
		if !ok || p.Description != nil {
			continue
		}
		desc := extra.Description
		p.Description = &desc
		if p.Website == "" {
			p.Website = extra.Website
		}
		if err := r.store.UpdateProvider(ctx, p); err != nil {
			return fmt.Errorf("backfill description of %s: %w", p.PID, err)
		}
	}
	return nil
}

// Reset deletes every backend and provider, drops cached prices and seeds the
// catalog again. It waits for in-flight refreshes and holds new ones off until
// the catalog is seeded.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.wipe.Lock()
	defer r.wipe.Unlock()
	backends, err := r.store.FindBackends(ctx, catalog.BackendFilter{})
	if err != nil {
		return fmt.Errorf("list backends: %w", err)
	}
	ids := make([]string, 0, len(backends))
	for _, b := range backends {
		ids = append(ids, b.ID)
	}
	if len(ids) > 0 {
		if _, err := r.store.DeleteBackends(ctx, ids); err != nil {
			return fmt.Errorf("delete backends: %w", err)
		}
	}
	n, err := r.store.DeleteProviders(ctx, catalog.ProviderFilter{})
	if err != nil {
		return fmt.Errorf("delete providers: %w", err)
	}
	if r.prices != nil {
		r.prices.Invalidate()
	}
	r.logger.Info("catalog reset", zap.Int("backends", len(ids)), zap.Int("providers", n))
	return r.Bootstrap(ctx)
}
