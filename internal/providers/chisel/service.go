// Package chisel implements core.TunnelProvider using jpillora/chisel:
// a single in-cluster agent dials out over a reverse tunnel, mutually
// authenticated by an internal CA, and this process resolves the
// loopback address that routes to the agent's local Kubernetes API
// access.
package chisel

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	chserver "github.com/jpillora/chisel/server"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/pki"
	"github.com/nitecon/director/internal/transport"
	"github.com/nitecon/director/internal/transport/tunnel"
)

// tunnelHost and tunnelPort are fixed since exactly one agent ever
// tunnels to this process: the director manages a single cluster, so
// there is no need for a per-cluster loopback allocation scheme.
const (
	tunnelHost = "127.0.0.1"
	tunnelPort = 16598
)

// Service signs the tunneled agent's certificate, provisions its
// chisel user, and resolves the local tunnel endpoint once connected.
// It implements core.TunnelProvider and additionally exposes the
// underlying chisel server via ServerRef() for transport-layer init.
type Service struct {
	server atomic.Pointer[chserver.Server]
	ca     *pki.CA
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
	agentUser string
}

// NewService returns a new Service backed by chisel. The CA is
// required for signing the agent's CSR and must be provided at
// construction time (dependency injection). The underlying chisel
// server is lazily initialized by the tunnel transport layer; see
// tunnel.NewServer.
func NewService(ca *pki.CA) *Service {
	return &Service{
		ca:  ca,
		log: slog.Default().With("component", "tunnel-provider"),
	}
}

var _ core.TunnelProvider = (*Service)(nil)

// ServerRef returns a pointer to the atomic chisel server reference.
// The tunnel transport stores the fully initialized server into this
// reference at startup so that both sides share the same instance.
// This method is intentionally NOT part of core.TunnelProvider to keep
// the domain layer free of chisel dependencies.
func (s *Service) ServerRef() *atomic.Pointer[chserver.Server] {
	return &s.server
}

// Server returns the underlying chisel server, or nil if the tunnel
// transport has not started yet.
func (s *Service) Server() *chserver.Server {
	return s.server.Load()
}

// CA returns the CA used to sign the agent's CSR and generate server
// certificates. Provided at construction time via DI.
func (s *Service) CA() *pki.CA {
	return s.ca
}

// CACertPEM returns the PEM-encoded CA certificate so the agent can
// verify the tunnel server's identity via mTLS.
func (s *Service) CACertPEM() []byte {
	return s.ca.CertPEM()
}

// RegisterAgent validates and signs the agent's CSR, derives a chisel
// password from the signed certificate, and creates a chisel user
// restricted to reverse-tunnelling the fixed loopback host:port. If an
// agent was previously registered, its user is replaced so stale
// credentials do not accumulate.
func (s *Service) RegisterAgent(agentID string, csrPEM []byte) ([]byte, error) {
	certPEM, err := s.ca.SignCSR(csrPEM)
	if err != nil {
		return nil, fmt.Errorf("sign CSR: %w", err)
	}

	auth, err := pki.DeriveAuth(agentID, certPEM)
	if err != nil {
		return nil, fmt.Errorf("derive auth: %w", err)
	}
	_, pass, ok := parseAuth(auth)
	if !ok {
		return nil, fmt.Errorf("invalid auth format: expected user:pass, got %q", auth)
	}

	srv := s.server.Load()
	if srv == nil {
		return nil, &core.ErrNotReady{Subsystem: "chisel server"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		srv.DeleteUser(s.agentUser)
	}

	allowed := fmt.Sprintf("^R:%s:%d(:.*)?$", tunnelHost, tunnelPort)
	if err := srv.AddUser(agentID, pass, allowed); err != nil {
		return nil, err
	}

	s.connected = true
	s.agentUser = agentID
	return certPEM, nil
}

// AgentEndpoint returns the fixed tunnel host:port the agent's
// registration response advertises as its Remotes target. Unlike
// ResolveAddress, this is available before the agent ever connects.
func (s *Service) AgentEndpoint() string {
	return fmt.Sprintf("%s:%d", tunnelHost, tunnelPort)
}

// Deregister removes the tunneled agent's chisel user. No-op if no
// agent is currently registered.
func (s *Service) Deregister() {
	srv := s.server.Load()
	if srv == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return
	}
	srv.DeleteUser(s.agentUser)
	s.connected = false
	s.agentUser = ""
}

// ResolveAddress returns the local address that reaches the tunneled
// agent's in-cluster API access, or ErrNotReady if the agent has not
// connected yet.
func (s *Service) ResolveAddress() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return "", &core.ErrNotReady{Subsystem: "tunnel agent"}
	}
	return fmt.Sprintf("%s:%d", tunnelHost, tunnelPort), nil
}

// connectedSnapshot reports whether an agent is currently registered,
// for the health checker's own polling loop.
func (s *Service) connectedSnapshot() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// BuildTunnelListener generates a server TLS certificate for host,
// writes the mTLS materials to a temporary directory, and returns a
// fully configured tunnel transport.Listener. The caller is
// responsible for starting the listener via transport.Serve.
func (s *Service) BuildTunnelListener(address, host string) (transport.Listener, error) {
	serverCert, serverKey, err := s.ca.GenerateServerCert(host)
	if err != nil {
		return nil, fmt.Errorf("generate server cert: %w", err)
	}

	certDir, err := certTempDir()
	if err != nil {
		return nil, err
	}

	caFile, certFile, keyFile, err := writeCertMaterials(certDir, s.ca.CertPEM(), serverCert, serverKey)
	if err != nil {
		return nil, err
	}

	tunnelSrv, err := tunnel.NewServer(
		tunnel.WithAddress(address),
		tunnel.WithTLSCert(certFile),
		tunnel.WithTLSKey(keyFile),
		tunnel.WithTLSCA(caFile),
		tunnel.WithServer(s.ServerRef()),
	)
	if err != nil {
		removeCertDir(certDir)
		return nil, fmt.Errorf("create tunnel server: %w", err)
	}

	return &tunnelListenerWithCleanup{Listener: tunnelSrv, certDir: certDir}, nil
}

// BuildHealthListener returns a transport.Listener that periodically
// probes the tunneled agent's endpoint and deregisters it on
// disconnect.
func (s *Service) BuildHealthListener() transport.Listener {
	return NewHealthCheckListener(s)
}

// parseAuth splits a "user:pass" string into its components.
func parseAuth(auth string) (user, pass string, ok bool) {
	return strings.Cut(auth, ":")
}
