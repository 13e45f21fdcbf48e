package extractor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

func stubExtractor(method catalog.FetchMethod) Func {
	return Func{
		FetchMethod: method,
		Fn: func(context.Context, Input) ([]catalog.RawRecord, error) {
			return []catalog.RawRecord{{Payload: json.RawMessage(`{}`)}}, nil
		},
	}
}

func TestRegistryLoad(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register("ionq.backends", stubExtractor(catalog.FetchAPI)))
	require.Error(t, reg.Register("ionq.backends", stubExtractor(catalog.FetchAPI)))
	require.Error(t, reg.Register("", stubExtractor(catalog.FetchAPI)))

	e, err := reg.Load(catalog.ExtractorRef{Module: "ionq", Func: "backends"}, catalog.FetchAPI)
	require.NoError(t, err)
	require.Equal(t, catalog.FetchAPI, e.Method())

	_, err = reg.Load(catalog.ExtractorRef{Module: "ionq", Func: "missing"}, catalog.FetchAPI)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Load(catalog.ExtractorRef{Module: "ionq", Func: "backends"}, catalog.FetchScraping)
	require.ErrorIs(t, err, ErrInvalidExtractor)

	require.Equal(t, []string{"ionq.backends"}, reg.Names())
}

func TestRegistryConcurrentLoads(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register("rigetti.backends", stubExtractor(catalog.FetchScraping)))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Load(catalog.ExtractorRef{Module: "rigetti", Func: "backends"}, catalog.FetchScraping)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestFuncRejectsMismatchedInput(t *testing.T) {
	t.Parallel()

	e := stubExtractor(catalog.FetchSDK)
	_, err := e.Extract(context.Background(), APIInput{BaseURL: "https://example.com"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Extract(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	records, err := e.Extract(context.Background(), SDKInput{Credentials: map[string]string{}})
	require.NoError(t, err)
	require.Len(t, records, 1)
}
