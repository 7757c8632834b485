package core

import (
	"context"

	chserver "github.com/jpillora/chisel/server"
)

// TunnelProvider abstracts the reverse-tunnel transport used when the
// target cluster's API server is not directly reachable: a single
// agent process inside the cluster dials out to this process, which
// then resolves a local loopback address that routes to the agent's
// in-cluster API access.
//
// Unlike a multi-tenant fleet registrar, this director tunnels to
// exactly one cluster per process (see Open Question decisions in
// DESIGN.md), so there is no cluster name parameter.
type TunnelProvider interface {
	Server() *chserver.Server
	// ResolveAddress returns the local address (host:port) that
	// reaches the tunneled cluster's API server, or an error if the
	// agent has not yet connected.
	ResolveAddress() (string, error)
}

// TunnelConsumer is the agent-side counterpart to TunnelProvider: it
// submits this agent's CSR to a director and returns the mTLS
// materials needed to dial the reverse tunnel.
type TunnelConsumer interface {
	Register(ctx context.Context, serverURL string) (Registration, error)
}

// Registration holds the result of a successful agent registration:
// the signed client certificate, the CA certificate for verifying the
// director, the corresponding private key, and the tunnel endpoint
// the director allocated for this agent.
type Registration struct {
	AgentID       string
	Endpoint      string
	Certificate   []byte
	CACertificate []byte
	PrivateKeyPEM []byte
}
