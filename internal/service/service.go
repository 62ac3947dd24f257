// Package service exposes the gateway's HTTP surface: the proxy entry
// point and the admin API.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewGatewayService)
