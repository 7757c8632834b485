package main

import (
	"context"

	"github.com/nitecon/director/internal/transport"
)

// Director is the fully wired control-plane process: the Query
// Server, one data plane per configured port, the background janitor
// sweeps, and — in tunneled mode — the chisel tunnel, its health
// check, and the agent registration endpoint.
type Director struct {
	listeners []transport.Listener
}

// Run starts every listener and blocks until ctx is cancelled or one
// of them fails.
func (d *Director) Run(ctx context.Context) error {
	return transport.Serve(ctx, d.listeners...)
}
