package chisel

import (
	"context"
	"net"
	"strconv"
	"time"
)

const (
	// healthCheckInterval is how often the health check probes the
	// tunneled agent's endpoint.
	healthCheckInterval = 15 * time.Second

	// healthDialTimeout is the TCP dial timeout used when probing the
	// agent's tunnel endpoint.
	healthDialTimeout = 2 * time.Second

	// healthFailThreshold is the number of consecutive probe failures
	// required before the agent is automatically deregistered.
	healthFailThreshold = 3
)

// HealthCheckListener wraps the Service's health check loop as a
// transport.Listener so that it participates in the same errgroup
// lifecycle as the HTTP and tunnel servers. This ensures panics are
// caught and graceful shutdown is coordinated.
type HealthCheckListener struct {
	service *Service
}

// NewHealthCheckListener returns a listener that runs periodic health
// checks against the tunneled agent's endpoint.
func NewHealthCheckListener(service *Service) *HealthCheckListener {
	return &HealthCheckListener{service: service}
}

// Start runs the health check loop, blocking until ctx is cancelled.
func (h *HealthCheckListener) Start(ctx context.Context) error {
	h.service.runHealthCheck(ctx)
	return nil
}

// Stop is a no-op; the health check loop exits when its context is
// cancelled.
func (h *HealthCheckListener) Stop(_ context.Context) error {
	return nil
}

// runHealthCheck periodically probes the tunneled agent's endpoint via
// TCP dial. The agent is automatically deregistered after
// healthFailThreshold consecutive probe failures.
//
// The method blocks until ctx is cancelled.
func (s *Service) runHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	dialer := net.Dialer{Timeout: healthDialTimeout}
	fails := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fails = s.checkAgent(ctx, dialer, fails)
		}
	}
}

// checkAgent performs a single probe round, returning the updated
// consecutive-failure count.
func (s *Service) checkAgent(ctx context.Context, dialer net.Dialer, fails int) int {
	if !s.connectedSnapshot() {
		return 0
	}

	addr := net.JoinHostPort(tunnelHost, strconv.Itoa(tunnelPort))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		if fails > 0 {
			s.log.Debug("tunnel agent recovered")
		}
		return 0
	}

	if ctx.Err() != nil {
		return fails
	}

	fails++
	s.log.Debug("tunnel agent probe failed", "address", addr, "consecutive_failures", fails, "error", err)

	if fails >= healthFailThreshold {
		s.log.Info("deregistering disconnected tunnel agent", "consecutive_failures", fails)
		s.Deregister()
		return 0
	}
	return fails
}
