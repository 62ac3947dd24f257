// Package server wires the HTTP transport.
package server

import (
	stdhttp "net/http"

	"FuseGate/internal/conf"
	"FuseGate/internal/server/middleware"
	"FuseGate/internal/service"
	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, gateway *service.GatewayService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		// A filter rather than a middleware so the raw proxy handler
		// mounted via HandlePrefix is logged too.
		http.Filter(middleware.Logging(logHelper)),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	// The proxy entry point is a raw handler: it streams arbitrary
	// methods and paths to downstream dependencies.
	srv.HandlePrefix("/proxy/", stdhttp.HandlerFunc(gateway.HandleProxy))

	gateway.RegisterAdminRoutes(srv)

	return srv
}
