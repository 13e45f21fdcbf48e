// Package strategy implements the three ways a provider's raw records are
// fetched: REST APIs, vendor SDKs and browser scraping.
//
// Every strategy runs its extractor under its own timeout, recovers panics
// raised by extractor code and attaches the provider back-reference to each
// record. Records are always returned, possibly partial or empty; a non-nil
// error means the fetch was degraded or skipped.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
)

var (
	// ErrSkipped marks fetches that never reached the source: no usable
	// extractor or missing credentials.
	ErrSkipped = errors.New("fetch skipped")
	// ErrPanic wraps a panic recovered from extractor code.
	ErrPanic = errors.New("extractor panicked")
	// ErrMethodMismatch is returned when a provider is routed to the wrong strategy.
	ErrMethodMismatch = errors.New("fetch method mismatch")
)

// Strategy fetches the raw records of one provider.
type Strategy interface {
	Method() catalog.FetchMethod
	Fetch(ctx context.Context, provider catalog.Provider) ([]catalog.RawRecord, error)
}

// Loader resolves an extractor reference. *extractor.Registry implements it.
type Loader interface {
	Load(ref catalog.ExtractorRef, method catalog.FetchMethod) (extractor.Extractor, error)
}

// SecretSource resolves the operator's stored secrets for a platform.
type SecretSource interface {
	Secrets(ctx context.Context, platform string, names ...string) (map[string]string, error)
}

// prepareFunc builds the extractor input. The returned release func, when not
// nil, runs after the extractor returns or panics.
type prepareFunc func(ctx context.Context, p catalog.Provider) (extractor.Input, func(), error)

type runner struct {
	method  catalog.FetchMethod
	loader  Loader
	timeout time.Duration
	logger  *zap.Logger
}

func (r runner) Method() catalog.FetchMethod { return r.method }

func (r runner) fetch(ctx context.Context, p catalog.Provider, prepare prepareFunc) (records []catalog.RawRecord, err error) {
	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Join(err, fmt.Errorf("%w: %v", ErrPanic, rec))
		}
		records = attachRef(records, p.Ref())
		r.observe(p, len(records), err, time.Since(start))
	}()

	if p.Request == nil || p.Request.Method() != r.method {
		return nil, fmt.Errorf("%w: %s strategy got provider %s", ErrMethodMismatch, r.method, p.PID)
	}
	ex, err := r.loader.Load(p.Request.Extractor(), r.method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSkipped, err)
	}
	in, release, err := prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	return ex.Extract(ctx, in)
}

func (r runner) observe(p catalog.Provider, n int, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("pid", p.PID),
		zap.String("method", string(r.method)),
		zap.Int("records", n),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err == nil:
		metrics.ObserveFetch(string(r.method), "ok", elapsed)
		r.logger.Debug("fetch complete", fields...)
	case errors.Is(err, ErrSkipped):
		metrics.ObserveFetch(string(r.method), "skipped", elapsed)
		r.logger.Warn("fetch skipped", append(fields, zap.Error(err))...)
	default:
		metrics.ObserveFetch(string(r.method), "degraded", elapsed)
		r.logger.Error("fetch degraded", append(fields, zap.Error(err))...)
	}
}

// attachRef sets ref on every record that has no back-reference yet.
func attachRef(records []catalog.RawRecord, ref catalog.ProviderRef) []catalog.RawRecord {
	for i := range records {
		if records[i].Provider.ID == "" && records[i].Provider.Name == "" {
			records[i].Provider = ref
		}
	}
	return records
}
