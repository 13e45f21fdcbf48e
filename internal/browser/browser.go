// Package browser defines the live page sessions handed to scraping extractors.
//
// A Launcher opens one Session per scrape. Callers must Close every Session
// they open; Close is idempotent and returns the browser slot to the pool.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("browser session closed")

// Session is a single browser tab navigated to a page.
type Session interface {
	// URL returns the address the session was opened on.
	URL() string
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	// Click clicks the first element matching the CSS selector.
	Click(ctx context.Context, selector string) error
	// WaitVisible blocks until an element matching the CSS selector is visible.
	WaitVisible(ctx context.Context, selector string) error
	Close() error
}

// Launcher opens sessions against a shared browser process.
type Launcher interface {
	Open(ctx context.Context, url string) (Session, error)
	Close() error
}

// Slots bounds the number of concurrently open sessions.
type Slots struct {
	ch chan struct{}
}

// NewSlots returns a pool of n slots; n <= 0 means unbounded.
func NewSlots(n int) *Slots {
	if n <= 0 {
		return &Slots{}
	}
	return &Slots{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Slots) Acquire(ctx context.Context) error {
	if s == nil || s.ch == nil {
		return nil
	}
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

// Release frees a slot taken by Acquire.
func (s *Slots) Release() {
	if s == nil || s.ch == nil {
		return
	}
	select {
	case <-s.ch:
	default:
	}
}

// Cap returns the slot capacity, 0 when unbounded.
func (s *Slots) Cap() int {
	if s == nil {
		return 0
	}
	return cap(s.ch)
}

// Closer runs fn at most once and reports its result to every caller.
type Closer struct {
	once sync.Once
	err  error
	done bool
	mu   sync.Mutex
}

// Close runs fn on the first call.
func (c *Closer) Close(fn func() error) error {
	c.once.Do(func() {
		c.err = fn()
		c.mu.Lock()
		c.done = true
		c.mu.Unlock()
	})
	return c.err
}

// Closed reports whether Close has completed.
func (c *Closer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
