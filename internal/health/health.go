// Package health reports liveness and readiness over HTTP and the standard gRPC health protocol.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC service name the readiness status is published under,
// next to the empty overall name.
const ServiceName = "tablebook"

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Pinger is anything with a context-aware ping, like the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// RedisCheck pings a redis client.
func RedisCheck(rdb *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

type namedCheck struct {
	name  string
	check CheckFunc
}

// Report is the outcome of one readiness check.
type Report struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Checker runs named checks and mirrors the result into a gRPC health server.
type Checker struct {
	timeout time.Duration
	logger  *zerolog.Logger
	grpc    *health.Server

	mu     sync.RWMutex
	checks []namedCheck
}

func NewChecker(timeout time.Duration, logger *zerolog.Logger) *Checker {
	if timeout <= 0 {
		timeout = time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "health").Logger()
	c := &Checker{
		timeout: timeout,
		logger:  &l,
		grpc:    health.NewServer(),
	}
	c.setServing(false)
	return c
}

// Add registers a check. Checks added later run after earlier ones.
func (c *Checker) Add(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Check runs every check with the checker timeout and updates the gRPC status.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{Ready: true, Checks: make(map[string]string, len(checks))}
	for _, p := range checks {
		if err := p.check(ctx); err != nil {
			report.Ready = false
			report.Checks[p.name] = err.Error()
			c.logger.Warn().Err(err).Str("check", p.name).Msg("readiness check failed")
			continue
		}
		report.Checks[p.name] = "ok"
	}

	c.setServing(report.Ready)
	return report
}

// Failing returns the names of failed checks in a report, sorted.
func (r Report) Failing() []string {
	var out []string
	for name, status := range r.Checks {
		if status != "ok" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Checker) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	c.grpc.SetServingStatus("", status)
	c.grpc.SetServingStatus(ServiceName, status)
}

// Watch re-runs the checks every interval until ctx is done, so gRPC clients see
// the current status without polling readyz.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Shutdown marks every service not serving and rejects later updates.
func (c *Checker) Shutdown() {
	c.grpc.Shutdown()
}

// GRPC returns the health server to register on a grpc.Server.
func (c *Checker) GRPC() healthpb.HealthServer {
	return c.grpc
}

// Handler serves /healthz (process is up) and /readyz (all checks pass).
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !report.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}
