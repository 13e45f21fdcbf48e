// Package chromedp opens browser sessions on headless Chrome via chromedp.
package chromedp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/quantum-catalog/internal/browser"
)

// Config controls the behavior of the chromedp launcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Launcher implements browser.Launcher with one exec allocator shared by all tabs.
type Launcher struct {
	cfg         Config
	slots       *browser.Slots
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ browser.Launcher = (*Launcher)(nil)

// New creates a launcher backed by a lazily started headless Chrome.
func New(cfg Config) (*Launcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Launcher{
		cfg:         cfg,
		slots:       browser.NewSlots(cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, stopping Chrome.
func (l *Launcher) Close() error {
	l.allocCancel()
	return nil
}

// Open takes a slot, opens a tab and navigates it to url.
func (l *Launcher) Open(ctx context.Context, url string) (browser.Session, error) {
	if err := l.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(l.allocator)
	s := &session{
		url:     url,
		tab:     tabCtx,
		cancel:  tabCancel,
		slots:   l.slots,
		timeout: l.cfg.NavigationTimeout,
	}
	err := s.run(ctx,
		l.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	return s, nil
}

func (l *Launcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type session struct {
	url     string
	tab     context.Context
	cancel  context.CancelFunc
	slots   *browser.Slots
	timeout time.Duration
	closer  browser.Closer
}

func (s *session) URL() string { return s.url }

func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (s *session) Close() error {
	return s.closer.Close(func() error {
		s.cancel()
		s.slots.Release()
		return nil
	})
}

// run executes actions on the tab, bounded by the navigation timeout and by ctx.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closer.Closed() {
		return browser.ErrClosed
	}
	runCtx, cancel := context.WithTimeout(s.tab, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}
