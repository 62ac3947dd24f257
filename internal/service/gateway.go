package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"

	"FuseGate/internal/biz"
	"FuseGate/internal/conf"
	"FuseGate/internal/model"
	"FuseGate/pkg/httpclient"
	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// maxBodyBytes caps buffered request and response bodies. Bodies are
// buffered so retried attempts can resend them.
const maxBodyBytes = 8 << 20 // 8 MiB

// hopHeaders are never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// upstreamTarget is the prepared forwarding state for one dependency.
type upstreamTarget struct {
	base     *url.URL
	client   *stdhttp.Client
	cacheTTL time.Duration
}

// GatewayService forwards proxied requests through the resilient
// invoker and serves the admin API.
type GatewayService struct {
	invoker  *biz.ResilientInvoker
	registry *biz.DependencyRegistry
	fallback biz.FallbackRepo
	targets  map[string]*upstreamTarget
	logger   *pkglog.LogHelper
}

// NewGatewayService builds the per-dependency upstream clients from
// configuration.
func NewGatewayService(c *conf.Gateway, invoker *biz.ResilientInvoker, registry *biz.DependencyRegistry, fallback biz.FallbackRepo, logger log.Logger) (*GatewayService, error) {
	targets := make(map[string]*upstreamTarget, len(c.Dependencies))
	for _, d := range c.Dependencies {
		base, err := url.Parse(d.Upstream)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: invalid upstream %q: %w", d.Name, d.Upstream, err)
		}
		client, err := httpclient.New(d.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
		targets[d.Name] = &upstreamTarget{
			base:     base,
			client:   client,
			cacheTTL: d.Fallback.CacheTTL,
		}
	}

	return &GatewayService{
		invoker:  invoker,
		registry: registry,
		fallback: fallback,
		targets:  targets,
		logger:   pkglog.NewLogHelper(logger),
	}, nil
}

// HandleProxy serves /proxy/{dependency}/{rest...}. The downstream call
// runs under the dependency's full guard set; stale cached responses are
// served as fallback when the primary path is rejected or exhausted.
func (s *GatewayService) HandleProxy(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	dependency, rest, ok := splitProxyPath(r.URL.Path)
	if !ok {
		s.writeError(w, r, &biz.UnknownDependencyError{Dependency: ""})
		return
	}

	target, exists := s.targets[dependency]
	if !exists {
		s.writeError(w, r, &biz.UnknownDependencyError{Dependency: dependency})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		stdhttp.Error(w, "failed to read request body", stdhttp.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxBodyBytes {
		stdhttp.Error(w, "request body too large", stdhttp.StatusRequestEntityTooLarge)
		return
	}

	cacheKey := rest
	if r.URL.RawQuery != "" {
		cacheKey += "?" + r.URL.RawQuery
	}
	cacheable := r.Method == stdhttp.MethodGet

	call := func(ctx context.Context) (interface{}, error) {
		return s.forward(ctx, target, r, rest, body)
	}

	var fallback biz.Fallback
	if cacheable {
		fallback = func(ctx context.Context, cause error) (interface{}, error) {
			resp, err := s.fallback.LoadResponse(ctx, dependency, cacheKey)
			if err != nil {
				return nil, err
			}
			s.logger.Fallback("served cached response",
				"dependency", dependency,
				"key", cacheKey,
				"age_seconds", int64(time.Since(resp.StoredAt).Seconds()),
				"cause", cause.Error())
			return resp, nil
		}
	}

	result, err := s.invoker.Execute(r.Context(), dependency, call, fallback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := result.(*model.CachedResponse)
	if cacheable && resp.Status < 400 {
		s.fallback.SaveResponse(r.Context(), dependency, cacheKey, resp, target.cacheTTL)
	}

	writeCachedResponse(w, resp)
}

// forward performs one upstream round trip and captures the response.
// 5xx statuses become errors so the breaker counts them as failures;
// 4xx statuses are the caller's problem and pass through as success.
func (s *GatewayService) forward(ctx context.Context, target *upstreamTarget, r *stdhttp.Request, rest string, body []byte) (interface{}, error) {
	u := *target.base
	u.Path = strings.TrimSuffix(u.Path, "/") + rest
	u.RawQuery = r.URL.RawQuery

	req, err := stdhttp.NewRequestWithContext(ctx, r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := target.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	header := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		header[name] = resp.Header.Get(name)
	}

	return &model.CachedResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      header,
		Body:        respBody,
		StoredAt:    time.Now(),
	}, nil
}

// splitProxyPath extracts the dependency name and downstream path from
// /proxy/{dependency}/{rest...}.
func splitProxyPath(path string) (dependency, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/proxy/")
	if trimmed == path || trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	dependency = parts[0]
	if dependency == "" {
		return "", "", false
	}
	rest = "/"
	if len(parts) == 2 {
		rest = "/" + parts[1]
	}
	return dependency, rest, true
}

func copyHeaders(dst, src stdhttp.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func writeCachedResponse(w stdhttp.ResponseWriter, resp *model.CachedResponse) {
	for name, value := range resp.Header {
		w.Header().Set(name, value)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// errorPayload is the JSON body for gateway-generated errors.
type errorPayload struct {
	Code       int    `json:"code"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	Dependency string `json:"dependency,omitempty"`
}

// writeError maps invoker errors onto gateway status codes:
// 429 rate limited, 503 bulkhead full / circuit open, 504 timeout,
// 404 unknown dependency, 502 downstream or fallback failure.
func (s *GatewayService) writeError(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	var (
		rateLimited  *biz.RateLimitedError
		bulkheadFull *biz.BulkheadFullError
		circuitOpen  *biz.CircuitOpenError
		timeout      *biz.TimeoutError
		unknown      *biz.UnknownDependencyError
		fallbackErr  *biz.FallbackFailedError
		downstream   *biz.DownstreamError
	)

	payload := errorPayload{Code: stdhttp.StatusBadGateway, Reason: "UPSTREAM_ERROR", Message: err.Error()}

	switch {
	case errors.As(err, &rateLimited):
		payload.Code = stdhttp.StatusTooManyRequests
		payload.Reason = "RATE_LIMITED"
		payload.Dependency = rateLimited.Dependency
		setRetryAfter(w, rateLimited.RetryAfter)
	case errors.As(err, &bulkheadFull):
		payload.Code = stdhttp.StatusServiceUnavailable
		payload.Reason = "BULKHEAD_FULL"
		payload.Dependency = bulkheadFull.Dependency
	case errors.As(err, &circuitOpen):
		payload.Code = stdhttp.StatusServiceUnavailable
		payload.Reason = "CIRCUIT_OPEN"
		payload.Dependency = circuitOpen.Dependency
		setRetryAfter(w, circuitOpen.RetryAfter)
	case errors.As(err, &timeout):
		payload.Code = stdhttp.StatusGatewayTimeout
		payload.Reason = "UPSTREAM_TIMEOUT"
		payload.Dependency = timeout.Dependency
	case errors.As(err, &unknown):
		payload.Code = stdhttp.StatusNotFound
		payload.Reason = "UNKNOWN_DEPENDENCY"
		payload.Dependency = unknown.Dependency
	case errors.As(err, &fallbackErr):
		payload.Code = stdhttp.StatusBadGateway
		payload.Reason = "FALLBACK_FAILED"
		payload.Dependency = fallbackErr.Dependency
	case errors.As(err, &downstream):
		payload.Code = stdhttp.StatusBadGateway
		payload.Reason = "UPSTREAM_ERROR"
		payload.Dependency = downstream.Dependency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; 499 in nginx parlance, 504 is the closest
		// standard status.
		payload.Code = stdhttp.StatusGatewayTimeout
		payload.Reason = "REQUEST_CANCELLED"
	}

	switch payload.Reason {
	case "RATE_LIMITED":
		s.logger.RateLimit("request rejected", "dependency", payload.Dependency)
	case "BULKHEAD_FULL":
		s.logger.Bulkhead("request rejected, bulkhead full", "dependency", payload.Dependency)
	case "CIRCUIT_OPEN":
		s.logger.Breaker("request rejected, circuit open", "dependency", payload.Dependency)
	default:
		s.logger.Warnw("msg", "proxy request failed",
			"dependency", payload.Dependency,
			"reason", payload.Reason,
			"error", err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(payload.Code)
	_ = json.NewEncoder(w).Encode(payload)
}

func setRetryAfter(w stdhttp.ResponseWriter, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	seconds := int64(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
}

// RegisterAdminRoutes mounts the admin API on the Kratos HTTP server.
func (s *GatewayService) RegisterAdminRoutes(srv *http.Server) {
	route := srv.Route("/admin")
	route.GET("/dependencies", s.listDependencies)
	route.POST("/dependencies/{name}/reset", s.resetDependency)
}

// listDependencies returns the metrics snapshot of every dependency.
func (s *GatewayService) listDependencies(ctx http.Context) error {
	return ctx.Result(stdhttp.StatusOK, map[string]interface{}{
		"dependencies": s.registry.Snapshot(),
	})
}

// resetDependency forces one breaker back to CLOSED.
func (s *GatewayService) resetDependency(ctx http.Context) error {
	name := ctx.Vars().Get("name")
	if err := s.registry.Reset(name); err != nil {
		return ctx.Result(stdhttp.StatusNotFound, errorPayload{
			Code:       stdhttp.StatusNotFound,
			Reason:     "UNKNOWN_DEPENDENCY",
			Message:    err.Error(),
			Dependency: name,
		})
	}

	s.logger.Breaker("breaker manually reset", "dependency", name)
	return ctx.Result(stdhttp.StatusOK, map[string]string{
		"dependency": name,
		"state":      model.StateClosed.String(),
	})
}
