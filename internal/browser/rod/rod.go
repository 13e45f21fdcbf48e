// Package rod opens browser sessions on headless Chrome via go-rod.
package rod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JakeFAU/quantum-catalog/internal/browser"
)

// Config controls the behavior of the rod launcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Launcher implements browser.Launcher. Chrome is started on the first Open.
type Launcher struct {
	cfg   Config
	slots *browser.Slots

	mu      sync.Mutex
	browser *rod.Browser
}

var _ browser.Launcher = (*Launcher)(nil)

// New creates a launcher.
func New(cfg Config) (*Launcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Launcher{cfg: cfg, slots: browser.NewSlots(cfg.MaxParallel)}, nil
}

func (l *Launcher) connect() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		return l.browser, nil
	}
	u, err := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	l.browser = b
	return b, nil
}

// Open takes a slot, creates a page on url and waits for it to settle.
func (l *Launcher) Open(ctx context.Context, url string) (browser.Session, error) {
	if err := l.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	b, err := l.connect()
	if err != nil {
		l.slots.Release()
		return nil, err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		l.slots.Release()
		return nil, fmt.Errorf("create page: %w", err)
	}
	s := &session{url: url, page: page, slots: l.slots, timeout: l.cfg.NavigationTimeout}

	p := s.bound(ctx)
	if l.cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.cfg.UserAgent}); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	if err := p.Navigate(url); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	if err := p.WaitStable(time.Second); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("wait for %s: %w", url, err)
	}
	return s, nil
}

// Close stops Chrome if it was started.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser == nil {
		return nil
	}
	err := l.browser.Close()
	l.browser = nil
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type session struct {
	url     string
	page    *rod.Page
	slots   *browser.Slots
	timeout time.Duration
	closer  browser.Closer
}

// bound returns the page scoped to ctx and the navigation timeout.
func (s *session) bound(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.timeout)
}

func (s *session) URL() string { return s.url }

func (s *session) HTML(ctx context.Context) (string, error) {
	if s.closer.Closed() {
		return "", browser.ErrClosed
	}
	html, err := s.bound(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	if s.closer.Closed() {
		return browser.ErrClosed
	}
	el, err := s.bound(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *session) WaitVisible(ctx context.Context, selector string) error {
	if s.closer.Closed() {
		return browser.ErrClosed
	}
	el, err := s.bound(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (s *session) Close() error {
	return s.closer.Close(func() error {
		defer s.slots.Release()
		if err := s.page.Close(); err != nil {
			return fmt.Errorf("close page: %w", err)
		}
		return nil
	})
}
