// Package middleware holds HTTP middleware for the gateway server.
package middleware

import (
	stdhttp "net/http"
	"strings"
	"time"

	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging returns a server filter that logs every request with a
// generated request ID, the target dependency and the elapsed time. A
// filter (not a Kratos middleware) so raw prefix-mounted handlers such
// as the proxy entry point are covered too. Slow requests are flagged
// separately.
//
// Example output:
//
//	🟢 GET /proxy/payments/v1/charges - 200 (42ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | GET /proxy/payments/v1/charges | 1340ms
func Logging(logger *pkglog.LogHelper) http.FilterFunc {
	return func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			startTime := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = path + "?" + r.URL.RawQuery
			}

			ctx := pkglog.WithRequestContext(r.Context(), requestID, extractDependency(r.URL.Path))
			recorder := &statusRecorder{ResponseWriter: w, status: stdhttp.StatusOK}

			next.ServeHTTP(recorder, r.WithContext(ctx))

			logger.RequestWithContext(ctx, r.Method, path, recorder.status, time.Since(startTime).Milliseconds(),
				"ip", extractClientIP(r),
			)
		})
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	stdhttp.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// extractClientIP picks the client IP from X-Real-IP, the first
// X-Forwarded-For entry, or RemoteAddr.
func extractClientIP(req *stdhttp.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractDependency pulls the dependency name out of a /proxy/{name}/
// path; empty for admin and other routes.
func extractDependency(path string) string {
	trimmed := strings.TrimPrefix(path, "/proxy/")
	if trimmed == path {
		return ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
