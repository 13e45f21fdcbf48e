package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/config"
	"github.com/JakeFAU/quantum-catalog/internal/dispatcher"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	queueMemory "github.com/JakeFAU/quantum-catalog/internal/queue/memory"
	"github.com/JakeFAU/quantum-catalog/internal/storage/memory"
)

type testEnv struct {
	server *Server
	store  *memory.Store
	jobs   *memory.JobStore
	queue  *queueMemory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config) testEnv {
	t.Helper()
	metrics.Init()
	ctx := context.Background()
	store := memory.NewStore(&fakeIDGen{prefix: "doc"})
	jobs := memory.NewJobStore()
	q := queueMemory.NewQueue(10)
	clock := &fakeClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	dispatch := dispatcher.New(q, jobs, &fakeIDGen{prefix: "job"}, clock, nil, zap.NewNop())

	_, err := store.InsertProviders(ctx, []catalog.Provider{
		{PID: "native.ionq", Name: "IonQ", Request: catalog.APIRequest{
			BaseURL:  "http://api.ionq.co/v0.3",
			Auth:     map[string]string{"Authorization": "apiKey TOKEN"},
			Function: catalog.ExtractorRef{Module: "ionq", Func: "backends"},
		}},
		{PID: "amazon_braket.quera", Name: "QuEra", FromThirdParty: true,
			ThirdParty: &catalog.ThirdParty{Name: catalog.PlatformAmazonBraket}},
	})
	require.NoError(t, err)
	ionq, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	ids, err := store.InsertBackends(ctx, []catalog.Backend{{
		BID:       "harmony",
		ClassType: catalog.ClassIonQ,
		Provider:  ionq.Ref(),
		Name:      "Harmony",
		Details: catalog.IonQDetails{
			Status: "available",
			Qubits: 11,
			Queue:  catalog.Queue{Type: catalog.QueueAvgTime, Value: "2min"},
		},
	}})
	require.NoError(t, err)
	require.NoError(t, store.SetBackendIDs(ctx, "native.ionq", ids, clock.now))

	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	return testEnv{
		server: NewServer(store, jobs, dispatch, clock, cfg, zap.NewNop()),
		store:  store,
		jobs:   jobs,
		queue:  q,
	}
}

func (e testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestServer_ListProviders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/providers?from_third_party=false&fields=website", "")
	require.Equal(t, http.StatusOK, rec.Code)
	providers := decode[[]map[string]any](t, rec)
	require.Len(t, providers, 1)
	require.Equal(t, "native.ionq", providers[0]["pid"])
	require.NotContains(t, providers[0], "backends_ids")

	rec = env.do(t, http.MethodGet, "/v1/providers?third_party=Amazon%20Braket", "")
	providers = decode[[]map[string]any](t, rec)
	require.Len(t, providers, 1)
	require.Equal(t, "QuEra", providers[0]["name"])

	rec = env.do(t, http.MethodGet, "/v1/providers?from_third_party=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodGet, "/v1/providers/native.ionq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[map[string]any](t, rec)
	request, ok := doc["backend_request"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "API", request["fetch_method"])

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/providers/native.dwave", "").Code)
}

func TestServer_CreateProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	body := `{"name":"D-Wave","website":"https://dwavesys.com","backend_request":{"fetch_method":"API",` +
		`"base_url":"https://cloud.dwavesys.com/sapi","auth":{"X-Auth-Token":"TOKEN"},"extractor":{"module":"dwave","func":"backends"}}}`

	rec := env.do(t, http.MethodPost, "/v1/providers", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	require.Equal(t, "native.d-wave", created["pid"])
	require.NotEmpty(t, created["id"])

	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/providers", body).Code)

	bad := `{"name":"X","backend_request":{"fetch_method":"SDK","base_url":"https://x","extractor":{"module":"x","func":"y"}}}`
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/providers", bad).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/providers", `{"website":"x"}`).Code)
}

func TestServer_PatchAndDeleteProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPatch, "/v1/providers/native.ionq",
		`{"website":"https://ionq.com","description":{"short_description":"Trapped ions"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := env.store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, "https://ionq.com", p.Website)
	require.Equal(t, "Trapped ions", p.Description.Short)
	require.NotNil(t, p.UpdatedAt)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/v1/providers/native.ionq", `{"name":" "}`).Code)

	rec = env.do(t, http.MethodDelete, "/v1/providers/native.ionq", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	n, err := env.store.CountBackends(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/providers/native.ionq", "").Code)
}

func TestServer_Backends(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodGet, "/v1/backends?provider=native.ionq&class_type=IonQ&fields=queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	backends := decode[[]map[string]any](t, rec)
	require.Len(t, backends, 1)
	require.Equal(t, map[string]any{"type": "avg_time", "value": "2min"}, backends[0]["queue"])
	require.Equal(t, "harmony", backends[0]["bid"])
	require.NotContains(t, backends[0], "qubits")

	rec = env.do(t, http.MethodGet, "/v1/backends?class_type=IBM", "")
	require.Empty(t, decode[[]map[string]any](t, rec))

	rec = env.do(t, http.MethodGet, "/v1/backends/harmony", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[map[string]any](t, rec)
	require.EqualValues(t, 11, doc["qubits"])
	require.Contains(t, doc, "extra")

	byID := env.do(t, http.MethodGet, fmt.Sprintf("/v1/backends/%s", doc["id"]), "")
	require.Equal(t, http.StatusOK, byID.Code)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/backends/nope", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/backends?provider=native.dwave", "").Code)
}

func TestServer_Count(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodGet, "/v1/helpers/count/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, decode[map[string]any](t, rec)["count"])

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/helpers/count/jobs", "").Code)
}

func TestServer_SubmitRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, config.Config{})

	rec := env.do(t, http.MethodPost, "/v1/admin/refresh", `{"pids":["native.ionq"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)

	item, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.QueueItem{JobID: jobID, Kind: catalog.JobRefresh, PIDs: []string{"native.ionq"}, Submitted: item.Submitted}, item)

	rec = env.do(t, http.MethodGet, "/v1/admin/refresh/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[map[string]catalog.RefreshJob](t, rec)["job"]
	require.Equal(t, catalog.JobStatusQueued, job.Status)
	require.Equal(t, "admin", job.Trigger)

	rec = env.do(t, http.MethodPost, "/v1/admin/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/admin/refresh", `{"reset":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/admin/refresh", `{"pids":["native.dwave"]}`).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/admin/refresh", `{"reset":true,"pids":["native.ionq"]}`).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/admin/refresh", `{bad`).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/admin/refresh/missing", "").Code)
}

func TestServer_APIKeyGuardsWrites(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/providers", "").Code)
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/admin/refresh", "").Code)
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/v1/providers/native.ionq", "").Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/admin/refresh", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/admin/refresh?api_key=secret", "").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"https://ui.example.com"}}})
	rec := env.do(t, http.MethodOptions, "/v1/providers", "",
		"Origin", "https://ui.example.com",
		"Access-Control-Request-Method", http.MethodGet,
	)
	require.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t, config.Config{}).do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("%s-%d", f.prefix, f.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
