package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"FuseGate/internal/biz"
	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFallbackRepo is an in-memory biz.FallbackRepo for service tests.
type fakeFallbackRepo struct {
	mu    sync.Mutex
	store map[string]*model.CachedResponse
	saves int
}

func newFakeFallbackRepo() *fakeFallbackRepo {
	return &fakeFallbackRepo{store: make(map[string]*model.CachedResponse)}
}

func (f *fakeFallbackRepo) SaveResponse(_ context.Context, dependency, key string, resp *model.CachedResponse, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[dependency+":"+key] = resp
	f.saves++
}

func (f *fakeFallbackRepo) LoadResponse(_ context.Context, dependency, key string) (*model.CachedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.store[dependency+":"+key]
	if !ok {
		return nil, errors.New("no cached response")
	}
	return resp, nil
}

func (f *fakeFallbackRepo) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func paymentsDependency(upstream string) *conf.Dependency {
	return &conf.Dependency{
		Name:     "payments",
		Upstream: upstream,
		Timeout:  time.Second,
		Breaker: &conf.Breaker{
			WindowType:             "count",
			WindowSize:             10,
			MinCalls:               1,
			FailureRateThreshold:   50,
			SlowCallRateThreshold:  100,
			OpenStateWait:          30 * time.Second,
			HalfOpenPermittedCalls: 1,
		},
		Bulkhead:  &conf.Bulkhead{MaxConcurrent: 10},
		RateLimit: &conf.RateLimit{Capacity: 1000, RefillPerPeriod: 1000, Period: time.Second},
		Retry:     &conf.Retry{MaxAttempts: 1, Multiplier: 2},
		Fallback:  &conf.Fallback{CacheTTL: 5 * time.Minute},
	}
}

func newTestGateway(t *testing.T, deps ...*conf.Dependency) (*GatewayService, *fakeFallbackRepo, *biz.DependencyRegistry) {
	t.Helper()
	logger := log.NewStdLogger(io.Discard)
	cfg := &conf.Gateway{Dependencies: deps}

	registry, err := biz.NewDependencyRegistry(cfg, biz.NewSystemClock(), nil, logger)
	require.NoError(t, err)
	invoker := biz.NewResilientInvoker(registry, biz.NewSystemClock(), nil, logger)

	repo := newFakeFallbackRepo()
	svc, err := NewGatewayService(cfg, invoker, registry, repo, logger)
	require.NoError(t, err)
	return svc, repo, registry
}

func decodeErrorPayload(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var payload errorPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	return payload
}

func TestHandleProxy_ForwardsGet(t *testing.T) {
	var gotPath, gotForwardedHost string
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "payments")
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte(`{"id":"ch_1"}`))
	}))
	defer upstream.Close()

	svc, repo, _ := newTestGateway(t, paymentsDependency(upstream.URL))

	req := httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges?limit=10", nil)
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, req)

	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"ch_1"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "payments", rec.Header().Get("X-Upstream"))
	assert.Equal(t, "/v1/charges?limit=10", gotPath)
	assert.Equal(t, req.Host, gotForwardedHost)

	// Successful GETs are stored as fallback material.
	assert.Equal(t, 1, repo.saveCount())
	cached, err := repo.LoadResponse(context.Background(), "payments", "/v1/charges?limit=10")
	require.NoError(t, err)
	assert.Equal(t, stdhttp.StatusOK, cached.Status)
}

func TestHandleProxy_ForwardsPostBodyWithoutCaching(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(stdhttp.StatusCreated)
	}))
	defer upstream.Close()

	svc, repo, _ := newTestGateway(t, paymentsDependency(upstream.URL))

	req := httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges",
		bytes.NewReader([]byte(`{"amount":100}`)))
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, req)

	assert.Equal(t, stdhttp.StatusCreated, rec.Code)
	assert.Equal(t, `{"amount":100}`, string(gotBody))
	assert.Equal(t, 0, repo.saveCount(), "non-GET responses must not be cached")
}

func TestHandleProxy_ClientErrorPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid amount"}`))
	}))
	defer upstream.Close()

	svc, repo, registry := newTestGateway(t, paymentsDependency(upstream.URL))

	req := httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges", nil)
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, req)

	assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, repo.saveCount(), "error responses must not be cached")

	// 4xx is the caller's problem, not a dependency failure.
	d, _ := registry.Get("payments")
	assert.Equal(t, "CLOSED", d.Metrics().State)
}

func TestHandleProxy_ServerErrorBecomesBadGateway(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc, _, registry := newTestGateway(t, paymentsDependency(upstream.URL))

	req := httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil)
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, req)

	assert.Equal(t, stdhttp.StatusBadGateway, rec.Code)
	payload := decodeErrorPayload(t, rec)
	assert.Equal(t, "UPSTREAM_ERROR", payload.Reason)
	assert.Equal(t, "payments", payload.Dependency)

	// The 5xx counts as a failure and, with min_calls 1, opens the circuit.
	d, _ := registry.Get("payments")
	assert.Equal(t, "OPEN", d.Metrics().State)
}

func TestHandleProxy_OpenCircuitServesCachedFallback(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc, repo, registry := newTestGateway(t, paymentsDependency(upstream.URL))

	repo.SaveResponse(context.Background(), "payments", "/v1/charges", &model.CachedResponse{
		Status:      stdhttp.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{"id":"ch_cached"}`),
		StoredAt:    time.Now().Add(-time.Minute),
	}, 5*time.Minute)

	// First request fails downstream and opens the circuit; the GET still
	// gets the cached response as its fallback.
	req := httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges", nil)
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, req)

	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"ch_cached"}`, rec.Body.String())

	d, _ := registry.Get("payments")
	require.Equal(t, "OPEN", d.Metrics().State)

	// With the circuit open the upstream is never touched; the cached
	// response keeps being served.
	rec = httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges", nil))
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"ch_cached"}`, rec.Body.String())
}

func TestHandleProxy_OpenCircuitWithoutCacheRejects(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc, _, registry := newTestGateway(t, paymentsDependency(upstream.URL))

	// Open the circuit with a POST so no fallback interferes.
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))
	d, _ := registry.Get("payments")
	require.Equal(t, "OPEN", d.Metrics().State)

	rec = httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))

	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	payload := decodeErrorPayload(t, rec)
	assert.Equal(t, "CIRCUIT_OPEN", payload.Reason)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleProxy_RateLimited(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
	}))
	defer upstream.Close()

	dep := paymentsDependency(upstream.URL)
	dep.RateLimit = &conf.RateLimit{Capacity: 1, RefillPerPeriod: 1, Period: time.Hour}
	svc, _, _ := newTestGateway(t, dep)

	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))

	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	payload := decodeErrorPayload(t, rec)
	assert.Equal(t, "RATE_LIMITED", payload.Reason)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleProxy_UpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
		w.WriteHeader(stdhttp.StatusOK)
	}))
	defer upstream.Close()

	dep := paymentsDependency(upstream.URL)
	dep.Timeout = 20 * time.Millisecond
	svc, _, _ := newTestGateway(t, dep)

	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))

	assert.Equal(t, stdhttp.StatusGatewayTimeout, rec.Code)
	payload := decodeErrorPayload(t, rec)
	assert.Equal(t, "UPSTREAM_TIMEOUT", payload.Reason)
}

func TestHandleProxy_UnknownDependency(t *testing.T) {
	svc, _, _ := newTestGateway(t, paymentsDependency("http://payments.internal"))

	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodGet, "/proxy/nope/v1/things", nil))

	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	payload := decodeErrorPayload(t, rec)
	assert.Equal(t, "UNKNOWN_DEPENDENCY", payload.Reason)
	assert.Equal(t, "nope", payload.Dependency)
}

func TestHandleProxy_RequestBodyTooLarge(t *testing.T) {
	svc, _, _ := newTestGateway(t, paymentsDependency("http://payments.internal"))

	body := bytes.NewReader(make([]byte, maxBodyBytes+1))
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", body))

	assert.Equal(t, stdhttp.StatusRequestEntityTooLarge, rec.Code)
}

func TestSplitProxyPath(t *testing.T) {
	cases := []struct {
		path       string
		dependency string
		rest       string
		ok         bool
	}{
		{"/proxy/payments/v1/charges", "payments", "/v1/charges", true},
		{"/proxy/payments/", "payments", "/", true},
		{"/proxy/payments", "payments", "/", true},
		{"/proxy/", "", "", false},
		{"/admin/dependencies", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		dependency, rest, ok := splitProxyPath(c.path)
		assert.Equal(t, c.ok, ok, c.path)
		assert.Equal(t, c.dependency, dependency, c.path)
		assert.Equal(t, c.rest, rest, c.path)
	}
}

func TestIsHopHeader(t *testing.T) {
	assert.True(t, isHopHeader("Connection"))
	assert.True(t, isHopHeader("transfer-encoding"))
	assert.False(t, isHopHeader("Content-Type"))
	assert.False(t, isHopHeader("Authorization"))
}

func TestAdminRoutes(t *testing.T) {
	upstream := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc, _, registry := newTestGateway(t, paymentsDependency(upstream.URL))

	srv := http.NewServer()
	svc.RegisterAdminRoutes(srv)

	// Open the circuit first so reset has something to do.
	rec := httptest.NewRecorder()
	svc.HandleProxy(rec, httptest.NewRequest(stdhttp.MethodPost, "/proxy/payments/v1/charges", nil))
	d, _ := registry.Get("payments")
	require.Equal(t, "OPEN", d.Metrics().State)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/admin/dependencies", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	var listing struct {
		Dependencies []model.DependencyMetrics `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	require.Len(t, listing.Dependencies, 1)
	assert.Equal(t, "payments", listing.Dependencies[0].Name)
	assert.Equal(t, "OPEN", listing.Dependencies[0].State)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodPost, "/admin/dependencies/payments/reset", nil))
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "CLOSED", d.Metrics().State)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodPost, "/admin/dependencies/nope/reset", nil))
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}
