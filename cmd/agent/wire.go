//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/nitecon/director/internal/agent"
	"github.com/nitecon/director/internal/providers/registrar"
)

// wireAgent assembles the agent runtime via Wire: a reverse-proxy
// Handler and a TunnelConsumer that registers with the director. See
// wire_gen.go for the hand-maintained implementation (this module is
// built without running `wire`).
func wireAgent() (*agent.Agent, func(), error) {
	panic(wire.Build(
		agent.NewAgent,
		agent.NewHandler,
		registrar.New,
	))
}
