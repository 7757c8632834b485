package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/pki"
	"github.com/nitecon/director/internal/transport"
	"github.com/nitecon/director/internal/transport/http"
	"github.com/nitecon/director/internal/transport/pipe"
	"github.com/nitecon/director/internal/transport/tunnel"
)

// Config holds the runtime parameters for an Agent.
type Config struct {
	ServerURL       string
	TunnelServerURL string
}

// Agent binds a local HTTP reverse-proxy to a dynamically allocated
// port and exposes it to the director via a chisel tunnel.
type Agent struct {
	handler *Handler
	consume core.TunnelConsumer
}

// NewAgent returns an Agent wired to the given handler and tunnel
// consumer.
func NewAgent(handler *Handler, consume core.TunnelConsumer) *Agent {
	return &Agent{handler: handler, consume: consume}
}

// Run creates an in-memory pipe listener for the reverse-proxy HTTP
// server, a TCP bridge for chisel to forward to, and a tunnel client,
// then blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context, cfg Config) error {
	pl := pipe.NewListener()

	bridge, err := tunnel.NewBridge(pl)
	if err != nil {
		return fmt.Errorf("failed to create tunnel bridge: %w", err)
	}

	httpSrv, err := http.NewServer(
		http.WithListener(pl),
		http.WithMount(a.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	tunnelClt, err := tunnel.NewClient(
		tunnel.WithServerURL(cfg.ServerURL),
		tunnel.WithTunnelServerURL(cfg.TunnelServerURL),
		tunnel.WithLocalPort(bridge.Port()),
		tunnel.WithKeepAlive(30*time.Second),
		tunnel.WithMaxRetryCount(6),
		tunnel.WithMaxRetryInterval(10*time.Second),
		tunnel.WithRegister(a.register()),
	)
	if err != nil {
		return fmt.Errorf("failed to create tunnel client: %w", err)
	}
	return transport.Serve(ctx, httpSrv, bridge, tunnelClt)
}

// register wraps the TunnelConsumer so that it returns a
// RegisterResult containing mTLS credentials derived from the signed
// certificate.
func (a *Agent) register() tunnel.RegisterFunc {
	return func(ctx context.Context, serverURL string) (*tunnel.RegisterResult, error) {
		reg, err := a.consume.Register(ctx, serverURL)
		if err != nil {
			return nil, err
		}

		// Derive the chisel auth string from the signed certificate.
		// This must match the password the director computed when it
		// signed the same certificate (see pki.DeriveAuth).
		auth, err := pki.DeriveAuth(reg.AgentID, reg.Certificate)
		if err != nil {
			return nil, fmt.Errorf("derive auth: %w", err)
		}

		return &tunnel.RegisterResult{
			Endpoint:  reg.Endpoint,
			Auth:      auth,
			CACertPEM: reg.CACertificate,
			CertPEM:   reg.Certificate,
			KeyPEM:    reg.PrivateKeyPEM,
		}, nil
	}
}
