package middleware

import (
	"bytes"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedLogger() (*pkglog.LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return pkglog.NewLogHelper(log.NewStdLogger(buf)), buf
}

func TestLogging_LogsRequestWithStatusAndDependency(t *testing.T) {
	logger, buf := newCapturedLogger()

	handler := Logging(logger)(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusTeapot)
	}))

	req := httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, stdhttp.StatusTeapot, rec.Code)

	logged := buf.String()
	assert.Contains(t, logged, "GET /proxy/payments/v1/charges?limit=10")
	assert.Contains(t, logged, "418")
	assert.Contains(t, logged, "payments")
}

func TestLogging_PropagatesIncomingRequestID(t *testing.T) {
	logger, buf := newCapturedLogger()

	var seenID string
	handler := Logging(logger)(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		seenID = pkglog.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1/charges", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-abc-123", seenID)
	assert.Contains(t, buf.String(), "req-abc-123")
}

func TestLogging_GeneratesRequestIDWhenMissing(t *testing.T) {
	logger, _ := newCapturedLogger()

	var seenID string
	handler := Logging(logger)(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		seenID = pkglog.GetRequestID(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(stdhttp.MethodGet, "/proxy/payments/v1", nil))

	require.NotEmpty(t, seenID)
	assert.Len(t, seenID, 10)
}

func TestLogging_DefaultsToOKWhenHandlerNeverWritesHeader(t *testing.T) {
	logger, buf := newCapturedLogger()

	handler := Logging(logger)(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(stdhttp.MethodGet, "/admin/dependencies", nil))

	assert.Contains(t, buf.String(), "200")
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(stdhttp.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:42000"
	assert.Equal(t, "10.0.0.1:42000", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", extractClientIP(req))

	// X-Real-IP has the highest priority.
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}

func TestExtractDependency(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/proxy/payments/v1/charges", "payments"},
		{"/proxy/catalog", "catalog"},
		{"/proxy/", ""},
		{"/admin/dependencies", ""},
		{"/", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, extractDependency(c.path), c.path)
	}
}
