package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/browser"
	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// Scraping drives a browser session on the provider's page. Failures are sent
// to the notifier as well as logged.
type Scraping struct {
	runner
	launcher browser.Launcher
	notifier catalog.Notifier
}

// NewScraping returns the scraping strategy.
func NewScraping(
	loader Loader,
	launcher browser.Launcher,
	notifier catalog.Notifier,
	timeout time.Duration,
	logger *zap.Logger,
) *Scraping {
	return &Scraping{
		runner:   runner{method: catalog.FetchScraping, loader: loader, timeout: timeout, logger: logger.Named("strategy.scraping")},
		launcher: launcher,
		notifier: notifier,
	}
}

// Fetch implements Strategy.
func (s *Scraping) Fetch(ctx context.Context, p catalog.Provider) ([]catalog.RawRecord, error) {
	records, err := s.fetch(ctx, p, s.prepare)
	if err != nil && !errors.Is(err, ErrSkipped) && s.notifier != nil {
		s.notifier.Notify(ctx, err, map[string]string{"pid": p.PID, "method": string(catalog.FetchScraping)})
	}
	return records, err
}

func (s *Scraping) prepare(ctx context.Context, p catalog.Provider) (extractor.Input, func(), error) {
	req, ok := p.Request.(catalog.ScrapeRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrMethodMismatch, p.Request)
	}
	session, err := s.launcher.Open(ctx, req.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", req.BaseURL, err)
	}
	release := func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("close browser session", zap.String("pid", p.PID), zap.Error(err))
		}
	}
	return extractor.ScrapeInput{Provider: p.Ref(), Session: session}, release, nil
}
