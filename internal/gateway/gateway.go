// Package gateway routes a provider to the strategy for its fetch method and
// normalizes what the strategy returns.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	"github.com/JakeFAU/quantum-catalog/internal/normalize"
	"github.com/JakeFAU/quantum-catalog/internal/strategy"
	"github.com/JakeFAU/quantum-catalog/internal/telemetry"
)

var (
	// ErrDegraded wraps strategy failures and dropped records; partial backends
	// may accompany it.
	ErrDegraded = errors.New("fetch degraded")
	// ErrUnknownMethod is returned when no strategy serves a fetch method.
	ErrUnknownMethod = errors.New("no strategy for fetch method")
)

// FetchError ties a gateway failure to the provider it happened on.
type FetchError struct {
	PID string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.PID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Normalizer maps raw records to backends.
type Normalizer interface {
	Normalize(raw catalog.RawRecord) (catalog.Backend, error)
}

// Hasher digests archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config holds the optional raw payload archive. With a Hasher, a payload
// identical to the last one archived for the same provider is not written again.
type Config struct {
	Archive       catalog.BlobStore
	ArchivePrefix string
	Hasher        Hasher
}

// Gateway dispatches providers to strategies.
type Gateway struct {
	strategies map[catalog.FetchMethod]strategy.Strategy
	normalizer Normalizer
	archive    catalog.BlobStore
	prefix     string
	hasher     Hasher
	clock      catalog.Clock
	logger     *zap.Logger
	records    metric.Int64Counter

	mu   sync.Mutex
	last map[string]string // pid -> digest of the last archived payload
}

// New builds a Gateway over the given strategies, keyed by their method.
func New(
	cfg Config,
	normalizer Normalizer,
	clock catalog.Clock,
	logger *zap.Logger,
	strategies ...strategy.Strategy,
) (*Gateway, error) {
	byMethod := make(map[catalog.FetchMethod]strategy.Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byMethod[s.Method()]; dup {
			return nil, fmt.Errorf("gateway: duplicate strategy for %s", s.Method())
		}
		byMethod[s.Method()] = s
	}
	counter, err := telemetry.Meter().Int64Counter(
		"qcatalog.gateway.records",
		metric.WithDescription("Raw records returned by strategies, by provider."),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway: records counter: %w", err)
	}
	return &Gateway{
		strategies: byMethod,
		normalizer: normalizer,
		archive:    cfg.Archive,
		prefix:     cfg.ArchivePrefix,
		hasher:     cfg.Hasher,
		clock:      clock,
		logger:     logger.Named("gateway"),
		records:    counter,
		last:       make(map[string]string),
	}, nil
}

// FetchData fetches and normalizes the backends of p. A provider without a
// request yields nothing. Strategy failures and records dropped as invalid come
// back wrapped in ErrDegraded next to whatever backends were recovered; a
// record of an unsupported provider fails the whole fetch.
func (g *Gateway) FetchData(ctx context.Context, p catalog.Provider) ([]catalog.Backend, error) {
	if p.Request == nil {
		return nil, nil
	}
	method := p.Request.Method()
	ctx, span := telemetry.Tracer().Start(ctx, "gateway.FetchData")
	defer span.End()
	span.SetAttributes(attribute.String("pid", p.PID), attribute.String("fetch_method", string(method)))

	s, ok := g.strategies[method]
	if !ok {
		err := &FetchError{PID: p.PID, Err: fmt.Errorf("%w: %s", ErrUnknownMethod, method)}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	records, fetchErr := s.Fetch(ctx, p)
	if fetchErr != nil {
		span.RecordError(fetchErr)
	}
	g.records.Add(ctx, int64(len(records)), metric.WithAttributes(attribute.String("pid", p.PID)))
	span.SetAttributes(attribute.Int("records", len(records)))
	if len(records) == 0 {
		return nil, degradedError(p.PID, fetchErr)
	}
	g.archiveRecords(ctx, p.PID, records)

	problems := []error{fetchErr}
	backends := make([]catalog.Backend, 0, len(records))
	for _, raw := range records {
		b, err := g.normalizer.Normalize(raw)
		if err != nil {
			metrics.ObserveNormalizeError(raw.Provider.Name)
			if !errors.Is(err, normalize.ErrInvalidRecord) {
				span.SetStatus(codes.Error, err.Error())
				return nil, &FetchError{PID: p.PID, Err: err}
			}
			g.logger.Warn("dropping invalid record",
				zap.String("pid", p.PID),
				zap.String("provider", raw.Provider.Name),
				zap.Error(err),
			)
			problems = append(problems, err)
			continue
		}
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		backends = nil
	}
	return backends, degradedError(p.PID, problems...)
}

// degradedError wraps the non-nil errs in ErrDegraded, or returns nil.
func degradedError(pid string, errs ...error) error {
	err := errors.Join(errs...)
	if err == nil {
		return nil
	}
	return &FetchError{PID: pid, Err: fmt.Errorf("%w: %w", ErrDegraded, err)}
}

func (g *Gateway) archiveRecords(ctx context.Context, pid string, records []catalog.RawRecord) {
	if g.archive == nil {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		g.logger.Warn("encode raw records", zap.String("pid", pid), zap.Error(err))
		return
	}
	stamp := g.clock.Now().UTC().Format(time.RFC3339)
	var digest string
	if g.hasher != nil {
		if digest, err = g.hasher.Hash(data); err != nil {
			g.logger.Warn("hash raw records", zap.String("pid", pid), zap.Error(err))
			return
		}
		g.mu.Lock()
		unchanged := g.last[pid] == digest
		g.mu.Unlock()
		if unchanged {
			g.logger.Debug("raw records unchanged, not archived", zap.String("pid", pid), zap.String("digest", digest))
			return
		}
		stamp += "-" + shortDigest(digest)
	}
	name := path.Join(g.prefix, pid, stamp+".json")
	uri, err := g.archive.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		g.logger.Warn("archive raw records", zap.String("pid", pid), zap.Error(err))
		return
	}
	if digest != "" {
		g.mu.Lock()
		g.last[pid] = digest
		g.mu.Unlock()
	}
	g.logger.Debug("archived raw records", zap.String("pid", pid), zap.String("uri", uri))
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
