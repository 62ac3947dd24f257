// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment
// variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the FuseGate process.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Gateway *Gateway
	Log     *Log
}

// Server holds transport configuration.
type Server struct {
	Http *ServerHTTP
}

// ServerHTTP configures the HTTP listener.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database configures the MySQL connection used by the audit log.
// An empty source disables audit persistence (graceful degradation).
type Database struct {
	Driver string
	Source string
}

// Redis configures the fallback cache backend.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Gateway holds the per-dependency resilience configuration.
type Gateway struct {
	Dependencies []*Dependency `mapstructure:"dependencies"`
}

// Dependency configures the guard set of one downstream dependency.
type Dependency struct {
	Name     string        `mapstructure:"name"`
	Upstream string        `mapstructure:"upstream"`
	ProxyURL string        `mapstructure:"proxy_url"`
	Timeout  time.Duration `mapstructure:"timeout"`

	Breaker     *Breaker     `mapstructure:"breaker"`
	Bulkhead    *Bulkhead    `mapstructure:"bulkhead"`
	RateLimit   *RateLimit   `mapstructure:"rate_limit"`
	Retry       *Retry       `mapstructure:"retry"`
	HealthProbe *HealthProbe `mapstructure:"health_probe"`
	Fallback    *Fallback    `mapstructure:"fallback"`
}

// Breaker configures the circuit breaker.
type Breaker struct {
	WindowType             string        `mapstructure:"window_type"` // count | time
	WindowSize             int32         `mapstructure:"window_size"`
	WindowAge              time.Duration `mapstructure:"window_age"`
	MinCalls               int32         `mapstructure:"min_calls"`
	FailureRateThreshold   float64       `mapstructure:"failure_rate_threshold"`
	SlowCallDuration       time.Duration `mapstructure:"slow_call_duration"`
	SlowCallRateThreshold  float64       `mapstructure:"slow_call_rate_threshold"`
	OpenStateWait          time.Duration `mapstructure:"open_state_wait"`
	HalfOpenPermittedCalls int32         `mapstructure:"half_open_permitted_calls"`
}

// Bulkhead configures the concurrency limiter.
type Bulkhead struct {
	MaxConcurrent int32         `mapstructure:"max_concurrent"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
}

// RateLimit configures the token bucket.
type RateLimit struct {
	Capacity        int64         `mapstructure:"capacity"`
	RefillPerPeriod int64         `mapstructure:"refill_per_period"`
	Period          time.Duration `mapstructure:"period"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
}

// Retry configures the retry policy.
type Retry struct {
	MaxAttempts  int32         `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// HealthProbe configures the optional active gRPC health probe.
// An empty GrpcAddr disables probing for the dependency.
type HealthProbe struct {
	GrpcAddr string        `mapstructure:"grpc_addr"`
	Service  string        `mapstructure:"service"`
	Interval time.Duration `mapstructure:"interval"`
}

// Fallback configures the last-good response cache.
type Fallback struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed
// with FUSEGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with FUSEGATE_ prefix
	v.SetEnvPrefix("FUSEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for deployment secrets
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "FUSEGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "FUSEGATE_DATA_REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var gw Gateway
	if err := v.UnmarshalKey("gateway", &gw); err != nil {
		return nil, fmt.Errorf("failed to parse gateway configuration: %w", err)
	}
	applyDependencyDefaults(&gw)

	bc := &Bootstrap{
		Server: &Server{
			Http: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Gateway: &gw,
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 2*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; audit
	// persistence degrades gracefully without it.

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// applyDependencyDefaults fills zero-valued sections of each configured
// dependency so partial YAML blocks behave sensibly.
func applyDependencyDefaults(gw *Gateway) {
	for _, d := range gw.Dependencies {
		if d.Timeout <= 0 {
			d.Timeout = 5 * time.Second
		}
		if d.Breaker == nil {
			d.Breaker = &Breaker{}
		}
		b := d.Breaker
		if b.WindowType == "" {
			b.WindowType = "count"
		}
		if b.WindowSize <= 0 {
			b.WindowSize = 100
		}
		if b.WindowAge <= 0 {
			b.WindowAge = time.Minute
		}
		if b.MinCalls <= 0 {
			b.MinCalls = 10
		}
		if b.FailureRateThreshold <= 0 {
			b.FailureRateThreshold = 50
		}
		if b.SlowCallRateThreshold <= 0 {
			b.SlowCallRateThreshold = 100
		}
		if b.OpenStateWait <= 0 {
			b.OpenStateWait = 30 * time.Second
		}
		if b.HalfOpenPermittedCalls <= 0 {
			b.HalfOpenPermittedCalls = 3
		}
		if d.Bulkhead == nil {
			d.Bulkhead = &Bulkhead{}
		}
		if d.Bulkhead.MaxConcurrent <= 0 {
			d.Bulkhead.MaxConcurrent = 25
		}
		if d.RateLimit == nil {
			d.RateLimit = &RateLimit{}
		}
		rl := d.RateLimit
		if rl.Capacity <= 0 {
			rl.Capacity = 100
		}
		if rl.RefillPerPeriod <= 0 {
			rl.RefillPerPeriod = rl.Capacity
		}
		if rl.Period <= 0 {
			rl.Period = time.Second
		}
		if d.Retry == nil {
			d.Retry = &Retry{}
		}
		r := d.Retry
		if r.MaxAttempts <= 0 {
			r.MaxAttempts = 3
		}
		if r.BaseDelay <= 0 {
			r.BaseDelay = 100 * time.Millisecond
		}
		if r.Multiplier <= 0 {
			r.Multiplier = 2.0
		}
		if r.MaxDelay <= 0 {
			r.MaxDelay = 5 * time.Second
		}
		if d.HealthProbe == nil {
			d.HealthProbe = &HealthProbe{}
		}
		if d.HealthProbe.Interval <= 0 {
			d.HealthProbe.Interval = 30 * time.Second
		}
		if d.Fallback == nil {
			d.Fallback = &Fallback{}
		}
		if d.Fallback.CacheTTL <= 0 {
			d.Fallback.CacheTTL = 5 * time.Minute
		}
	}
}

// Validate checks that all required configuration fields are present and
// valid. It returns an error listing all problems found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Gateway == nil || len(bc.Gateway.Dependencies) == 0 {
		problems = append(problems, "gateway.dependencies must list at least one dependency")
	} else {
		seen := make(map[string]bool)
		for i, d := range bc.Gateway.Dependencies {
			prefix := fmt.Sprintf("gateway.dependencies[%d]", i)
			if d.Name == "" {
				problems = append(problems, prefix+".name is required")
			}
			if seen[d.Name] {
				problems = append(problems, prefix+".name duplicates "+d.Name)
			}
			seen[d.Name] = true
			if d.Upstream == "" {
				problems = append(problems, prefix+".upstream is required")
			} else if u, err := url.Parse(d.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
				problems = append(problems, prefix+".upstream must be an absolute URL")
			}
			if d.Breaker.FailureRateThreshold > 100 || d.Breaker.SlowCallRateThreshold > 100 {
				problems = append(problems, prefix+".breaker thresholds must be in [0,100]")
			}
			if d.Breaker.WindowType != "count" && d.Breaker.WindowType != "time" {
				problems = append(problems, prefix+".breaker.window_type must be count or time")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
