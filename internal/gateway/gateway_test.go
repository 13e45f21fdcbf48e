package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/hash/sha256"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	"github.com/JakeFAU/quantum-catalog/internal/normalize"
	"github.com/JakeFAU/quantum-catalog/internal/storage/memory"
	"github.com/JakeFAU/quantum-catalog/internal/strategy"
)

func init() {
	metrics.Init()
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }

type stubStrategy struct {
	method  catalog.FetchMethod
	records []catalog.RawRecord
	err     error
	calls   int
}

func (s *stubStrategy) Method() catalog.FetchMethod { return s.method }

func (s *stubStrategy) Fetch(context.Context, catalog.Provider) ([]catalog.RawRecord, error) {
	s.calls++
	return s.records, s.err
}

var ionqRef = catalog.ProviderRef{ID: "p-ionq", Name: normalize.ProviderIonQ}

func simulatorRecord() catalog.RawRecord {
	return catalog.RawRecord{
		Provider: ionqRef,
		Payload: json.RawMessage(`{"backend":"simulator","status":"available","qubits":29,"average_queue_time":0,
			"last_updated":1700000000,"degraded":false,"has_access":true,"noise_models":["ideal"]}`),
	}
}

func ionqProvider() catalog.Provider {
	return catalog.Provider{
		ID: "p-ionq", PID: "native.ionq", Name: "IonQ",
		Request: catalog.APIRequest{BaseURL: "https://api.ionq.co/v0.3", Function: catalog.ExtractorRef{Module: "ionq", Func: "backends"}},
	}
}

func newGateway(t *testing.T, cfg Config, strategies ...strategy.Strategy) *Gateway {
	t.Helper()
	g, err := New(cfg, normalize.New(fixedClock{}), fixedClock{}, zap.NewNop(), strategies...)
	require.NoError(t, err)
	return g
}

func TestFetchDataNormalizesAndArchives(t *testing.T) {
	t.Parallel()

	archive := memory.NewBlobStore()
	api := &stubStrategy{method: catalog.FetchAPI, records: []catalog.RawRecord{simulatorRecord()}}
	g := newGateway(t, Config{Archive: archive, ArchivePrefix: "raw"}, api)

	backends, err := g.FetchData(context.Background(), ionqProvider())
	require.NoError(t, err)
	require.Len(t, backends, 1)
	require.Equal(t, "simulator", backends[0].BID)
	require.Equal(t, fixedClock{}.Now(), backends[0].LastChecked)

	paths := archive.List("raw/native.ionq/")
	require.Equal(t, []string{"raw/native.ionq/2024-06-01T08:00:00Z.json"}, paths)
	data, contentType, ok := archive.Object(paths[0])
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	require.Contains(t, string(data), `"simulator"`)
}

func TestFetchDataSkipsUnchangedArchive(t *testing.T) {
	t.Parallel()

	archive := memory.NewBlobStore()
	api := &stubStrategy{method: catalog.FetchAPI, records: []catalog.RawRecord{simulatorRecord()}}
	g := newGateway(t, Config{Archive: archive, ArchivePrefix: "raw", Hasher: sha256.New()}, api)

	for range 2 {
		_, err := g.FetchData(context.Background(), ionqProvider())
		require.NoError(t, err)
	}
	paths := archive.List("raw/native.ionq/")
	require.Len(t, paths, 1)
	require.Regexp(t, `^raw/native\.ionq/2024-06-01T08:00:00Z-[0-9a-f]{12}\.json$`, paths[0])
}

func TestFetchDataWithoutRequest(t *testing.T) {
	t.Parallel()

	api := &stubStrategy{method: catalog.FetchAPI}
	g := newGateway(t, Config{}, api)

	backends, err := g.FetchData(context.Background(), catalog.Provider{PID: "native.quera"})
	require.NoError(t, err)
	require.Nil(t, backends)
	require.Zero(t, api.calls)
}

func TestFetchDataEmptyResult(t *testing.T) {
	t.Parallel()

	g := newGateway(t, Config{}, &stubStrategy{method: catalog.FetchAPI})
	backends, err := g.FetchData(context.Background(), ionqProvider())
	require.NoError(t, err)
	require.Nil(t, backends)

	skipped := &stubStrategy{method: catalog.FetchAPI, err: strategy.ErrSkipped}
	g = newGateway(t, Config{}, skipped)
	backends, err = g.FetchData(context.Background(), ionqProvider())
	require.Nil(t, backends)
	require.ErrorIs(t, err, ErrDegraded)
	require.ErrorIs(t, err, strategy.ErrSkipped)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "native.ionq", fe.PID)
}

func TestFetchDataPartialIsDegraded(t *testing.T) {
	t.Parallel()

	api := &stubStrategy{
		method:  catalog.FetchAPI,
		records: []catalog.RawRecord{simulatorRecord()},
		err:     errors.New("characterization of qpu.forte-1: 503"),
	}
	g := newGateway(t, Config{}, api)

	backends, err := g.FetchData(context.Background(), ionqProvider())
	require.ErrorIs(t, err, ErrDegraded)
	require.Len(t, backends, 1)
}

func TestFetchDataNormalizeFailureIsConfigError(t *testing.T) {
	t.Parallel()

	api := &stubStrategy{method: catalog.FetchAPI, records: []catalog.RawRecord{{
		Provider: catalog.ProviderRef{ID: "p-dwave", Name: "D-Wave"},
		Payload:  json.RawMessage(`{}`),
	}}}
	g := newGateway(t, Config{}, api)

	backends, err := g.FetchData(context.Background(), ionqProvider())
	require.Nil(t, backends)
	require.ErrorIs(t, err, normalize.ErrUnsupportedProvider)
	require.NotErrorIs(t, err, ErrDegraded)
}

func TestFetchDataDropsInvalidRecord(t *testing.T) {
	t.Parallel()

	broken := catalog.RawRecord{Provider: ionqRef, Payload: json.RawMessage(`{"backend":"qpu.aria-1"}`)}
	api := &stubStrategy{method: catalog.FetchAPI, records: []catalog.RawRecord{broken, simulatorRecord()}}
	g := newGateway(t, Config{}, api)

	backends, err := g.FetchData(context.Background(), ionqProvider())
	require.ErrorIs(t, err, ErrDegraded)
	require.ErrorIs(t, err, normalize.ErrInvalidRecord)
	require.Len(t, backends, 1)
	require.Equal(t, "simulator", backends[0].BID)

	api.records = []catalog.RawRecord{broken}
	backends, err = g.FetchData(context.Background(), ionqProvider())
	require.ErrorIs(t, err, ErrDegraded)
	require.Nil(t, backends)
}

func TestFetchDataUnknownMethod(t *testing.T) {
	t.Parallel()

	g := newGateway(t, Config{}, &stubStrategy{method: catalog.FetchSDK})
	_, err := g.FetchData(context.Background(), ionqProvider())
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestNewRejectsDuplicateStrategies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, normalize.New(fixedClock{}), fixedClock{}, zap.NewNop(),
		&stubStrategy{method: catalog.FetchAPI}, &stubStrategy{method: catalog.FetchAPI})
	require.Error(t, err)
}
