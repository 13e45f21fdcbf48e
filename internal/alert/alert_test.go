package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/quantum-catalog/internal/metrics"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

func TestWebhookPostsJSON(t *testing.T) {
	metrics.Init()

	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.ErrorLevel)
	w := NewWebhook(srv.URL, time.Second, fixedClock{}, zap.New(core))
	w.Notify(context.Background(), errors.New("rigetti scrape failed"), map[string]string{"pid": "native.rigetti"})

	require.Equal(t, "rigetti scrape failed", got.Message)
	require.Equal(t, "native.rigetti", got.Fields["pid"])
	require.Equal(t, fixedClock{}.Now(), got.Timestamp)
	require.Zero(t, logs.Len())
}

func TestWebhookFailureIsLogged(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.ErrorLevel)
	w := NewWebhook(srv.URL, time.Second, fixedClock{}, zap.New(core))
	w.Notify(context.Background(), errors.New("boom"), nil)

	require.Equal(t, 1, logs.FilterMessage("failed to send alert").Len())
}

func TestNilErrorIsIgnored(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	NewWebhook(srv.URL, time.Second, fixedClock{}, zap.NewNop()).Notify(context.Background(), nil, nil)
	require.Zero(t, calls.Load())
}

func TestMultiFansOut(t *testing.T) {
	metrics.Init()

	core, logs := observer.New(zap.ErrorLevel)
	m := Multi{NewLog(zap.New(core)), NewLog(zap.New(core))}
	m.Notify(context.Background(), errors.New("pricing scrape failed"), map[string]string{"url": "https://aws.amazon.com"})

	require.Equal(t, 2, logs.FilterMessage("alert").Len())
	require.Equal(t, "https://aws.amazon.com", logs.All()[0].ContextMap()["url"])
}
