package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/config"
)

func TestInitWithoutProjectUsesLocalProviders(t *testing.T) {
	ctx := context.Background()
	stop, err := Init(ctx, config.TelemetryConfig{ServiceName: "qcatalog-test"})
	require.NoError(t, err)
	require.NotNil(t, stop)

	_, span := Tracer().Start(ctx, "unit")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	counter, err := Meter().Int64Counter("qcatalog.test.events")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	require.NoError(t, stop(ctx))
}
