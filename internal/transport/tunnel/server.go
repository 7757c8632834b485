package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	chserver "github.com/jpillora/chisel/server"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server manages the director's chisel reverse-tunnel listener. Every
// agent connection is authenticated by mTLS against the director's
// own CA (internal/pki) and by the chisel user the chisel provider
// adds for the registered agent. A sentinel user nobody can
// authenticate as is provisioned at init so that chisel never accepts
// anonymous connections.
type Server struct {
	serverRef *atomic.Pointer[chserver.Server] // shared with the chisel provider
	address   string
	tlsCert   string // file path to the director's tunnel server certificate
	tlsKey    string // file path to the matching private key
	tlsCA     string // file path to the director's CA certificate
	log       *slog.Logger
}

// ErrTLSRequired is returned by NewServer when the CA-issued TLS
// material required for mTLS was not configured.
var ErrTLSRequired = fmt.Errorf("tunnel: TLS certificate, key, and CA are required")

// WithAddress configures the listen address (e.g. ":8300").
func WithAddress(address string) ServerOption {
	return func(s *Server) { s.address = address }
}

// WithTLSCert configures the file path to the server's mTLS certificate,
// issued by the director's CA (pki.CA.GenerateServerCert).
func WithTLSCert(path string) ServerOption {
	return func(s *Server) { s.tlsCert = path }
}

// WithTLSKey configures the file path to the server's mTLS private key.
func WithTLSKey(path string) ServerOption {
	return func(s *Server) { s.tlsKey = path }
}

// WithTLSCA configures the file path to the director's CA certificate,
// used to verify the mTLS client certificate every connecting agent
// presents.
func WithTLSCA(path string) ServerOption {
	return func(s *Server) { s.tlsCA = path }
}

// WithServer injects a shared atomic server reference. The reference
// is typically owned by the chisel provider; init will store the
// fully initialized server into it so that both sides share the same
// running instance.
func WithServer(ref *atomic.Pointer[chserver.Server]) ServerOption {
	return func(s *Server) { s.serverRef = ref }
}

// WithServerLogger configures a structured logger. Defaults to
// slog.Default with a "component" attribute.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer creates the director's tunnel server. The underlying
// chisel server is fully initialized so that AddUser (via the chisel
// provider) works immediately, even before Start is called. mTLS
// material is mandatory: a director never accepts an agent connection
// it cannot authenticate.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		serverRef: &atomic.Pointer[chserver.Server]{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.address == "" {
		return nil, fmt.Errorf("tunnel: listen address is required")
	}
	if s.tlsCert == "" || s.tlsKey == "" || s.tlsCA == "" {
		return nil, ErrTLSRequired
	}
	if s.log == nil {
		s.log = slog.Default().With("component", "tunnel-server")
	}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("tunnel server init: %w", err)
	}
	return s, nil
}

// Start begins accepting connections and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	host, port, err := net.SplitHostPort(s.address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", s.address, err)
	}

	s.log.Info("starting", "address", s.address)

	srv := s.serverRef.Load()
	if err := srv.StartContext(ctx, host, port); err != nil {
		return fmt.Errorf("tunnel server start: %w", err)
	}

	return srv.Wait()
}

// Stop gracefully shuts down the tunnel server.
func (s *Server) Stop(_ context.Context) error {
	srv := s.serverRef.Load()
	if srv == nil {
		return nil
	}
	s.log.Info("shutting down")
	return srv.Close()
}

// init creates the real chisel server and stores it into the shared
// atomic reference so that the chisel provider holding the same
// reference sees the fully initialized instance.
func (s *Server) init() error {
	cfg := &chserver.Config{
		Reverse: true,
		TLS: chserver.TLSConfig{
			Cert: s.tlsCert,
			Key:  s.tlsKey,
			CA:   s.tlsCA,
		},
	}

	ch, err := chserver.NewServer(cfg)
	if err != nil {
		return err
	}

	// Chisel allows anonymous connections when no users exist. Agent
	// users are only added once an agent registers, so add a sentinel
	// user nobody can authenticate as, purely to disable chisel's own
	// anonymous-connection fallback.
	if err := ch.AddUser(uuid.NewString(), uuid.NewString(), "127.0.0.1"); err != nil {
		return err
	}

	// Store the pointer into the shared atomic reference so the
	// chisel provider sees the initialized server.
	s.serverRef.Store(ch)
	return nil
}
