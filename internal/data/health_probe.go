package data

import (
	"context"
	"sync"
	"time"

	"FuseGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// probeTimeout bounds a single health check round-trip.
const probeTimeout = 5 * time.Second

// HealthSink receives probe results. Satisfied by
// *biz.DependencyRegistry; declared here so the data layer does not
// import biz.
type HealthSink interface {
	SetHealth(name string, serving bool)
}

// probeTarget is one dependency with an active gRPC health endpoint.
type probeTarget struct {
	dependency string
	addr       string
	service    string
}

// HealthProber checks the gRPC health endpoint of every dependency that
// configures one and reports the result to the registry. Probing is
// observational only: it never opens or closes a breaker.
type HealthProber struct {
	sink    HealthSink
	targets []probeTarget
	logger  *log.Helper

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewHealthProber builds the prober from the gateway configuration.
// Dependencies without a grpc_addr are skipped. The cleanup closes the
// cached probe connections.
func NewHealthProber(c *conf.Gateway, sink HealthSink, logger log.Logger) (*HealthProber, func()) {
	p := &HealthProber{
		sink:   sink,
		logger: log.NewHelper(logger),
		conns:  make(map[string]*grpc.ClientConn),
	}

	if c == nil {
		return p, p.Close
	}
	for _, d := range c.Dependencies {
		if d.HealthProbe == nil || d.HealthProbe.GrpcAddr == "" {
			continue
		}
		p.targets = append(p.targets, probeTarget{
			dependency: d.Name,
			addr:       d.HealthProbe.GrpcAddr,
			service:    d.HealthProbe.Service,
		})
	}

	return p, p.Close
}

// ProbeAll checks every target once and feeds the results to the sink.
// Called from the maintenance scheduler.
func (p *HealthProber) ProbeAll(ctx context.Context) {
	for _, target := range p.targets {
		serving := p.probe(ctx, target)
		p.sink.SetHealth(target.dependency, serving)
		p.logger.Debugw("msg", "health probe completed",
			"dependency", target.dependency,
			"serving", serving,
			"type", "probe")
	}
}

func (p *HealthProber) probe(ctx context.Context, target probeTarget) bool {
	conn, err := p.conn(target)
	if err != nil {
		p.logger.Warnw("msg", "health probe connection failed",
			"dependency", target.dependency,
			"addr", target.addr,
			"error", err)
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(checkCtx, &grpc_health_v1.HealthCheckRequest{
		Service: target.service,
	})
	if err != nil {
		p.logger.Warnw("msg", "health probe failed",
			"dependency", target.dependency,
			"addr", target.addr,
			"error", err)
		return false
	}

	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
}

// conn returns the cached client connection for a target, dialing
// lazily on first use.
func (p *HealthProber) conn(target probeTarget) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[target.dependency]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(target.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.conns[target.dependency] = conn
	return conn, nil
}

// Close releases all probe connections.
func (p *HealthProber) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, name)
	}
}
