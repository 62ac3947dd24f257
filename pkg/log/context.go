package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type for RequestContext storage.
type contextKey string

const requestContextKey contextKey = "fusegate_request_context"

// RequestContext carries per-request tracing information across
// handler, invoker and data layers.
type RequestContext struct {
	RequestID  string    // short random ID, e.g. mgrn0zfqda
	Dependency string    // downstream dependency being proxied
	StartTime  time.Time // when the gateway accepted the request
	Metadata   map[string]interface{}
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 alphabet (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID returns a 10-character base36 request ID. Cheaper
// than a UUID and short enough to read in console logs.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext. Called by the logging
// middleware at the start of every proxied request.
func WithRequestContext(ctx context.Context, requestID, dependency string) context.Context {
	reqCtx := &RequestContext{
		RequestID:  requestID,
		Dependency: dependency,
		StartTime:  time.Now(),
		Metadata:   make(map[string]interface{}),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext, returning a stub when
// none is present so callers never need a nil check.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{
			RequestID: "unknown",
			Metadata:  make(map[string]interface{}),
		}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{
		RequestID: "unknown",
		Metadata:  make(map[string]interface{}),
	}
}

// GetRequestID extracts just the request ID.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetDependency extracts the dependency name from the request context.
func GetDependency(ctx context.Context) string {
	return GetRequestContext(ctx).Dependency
}

// SetMetadata attaches extra tracing data to the request context.
func SetMetadata(ctx context.Context, key string, value interface{}) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		reqCtx.Metadata = make(map[string]interface{})
	}
	reqCtx.Metadata[key] = value
}

// GetMetadata reads extra tracing data from the request context.
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		return nil, false
	}
	value, ok := reqCtx.Metadata[key]
	return value, ok
}

// GetElapsedTime returns milliseconds since the request was accepted.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
