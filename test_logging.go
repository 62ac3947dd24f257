//go:build ignore
// +build ignore

package main

import (
	"FuseGate/internal/conf"
	pkglog "FuseGate/pkg/log"
)

// Manual smoke test for the console log output. Run with:
//
//	go run test_logging.go
func main() {
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console", // console format enables the emoji encoder
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	kratosLogger := pkglog.NewKratosAdapter(zapLogger)
	helper := pkglog.NewLogHelper(kratosLogger)

	println("=== log output format check ===\n")

	helper.Startup("FuseGate gateway starting", "version", "1.0.0", "port", 8080)
	helper.Request("GET", "/proxy/payments/v1/charges", 200, 42, "ip", "192.168.1.100")
	helper.Breaker("state changed", "dependency", "payments", "from", "CLOSED", "to", "OPEN", "reason", "failure rate 60.0% >= 50.0%")
	helper.Bulkhead("request rejected, bulkhead full", "dependency", "inventory", "max_concurrent", 25)
	helper.RateLimit("request rejected", "dependency", "catalog", "tokens", 0)
	helper.Fallback("served cached response", "dependency", "payments", "age_seconds", 42)
	helper.Probe("health probe completed", "dependency", "payments", "serving", true)
	helper.Database("audit record written", "table", "breaker_transitions", "duration_ms", 5)
	helper.Redis("fallback cache hit", "key", "fallback:payments:/v1/charges", "ttl", 300)
	helper.Scheduler("dependency snapshot", "dependency", "payments", "state", "HALF_OPEN")
	helper.Gateway("request routed", "upstream", "https://payments.internal:8443", "duration_ms", 120)
	helper.Audit("breaker manually reset", "dependency", "payments", "operator", "admin")
	helper.Success("request completed", "request_id", "mgrn0zfqda")

	println("\n=== done ===")
}
