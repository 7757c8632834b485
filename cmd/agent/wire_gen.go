// Code generated by hand to mirror wire.go; see that file for the
// intended provider graph. Kept in sync manually since this module
// does not run the wire binary.

package main

import (
	"github.com/nitecon/director/internal/agent"
	"github.com/nitecon/director/internal/providers/registrar"
)

// wireAgent assembles the agent runtime by hand. See wire.go for the
// documented provider graph this mirrors.
func wireAgent() (*agent.Agent, func(), error) {
	consumer, err := registrar.New()
	if err != nil {
		return nil, nil, err
	}

	a := agent.NewAgent(agent.NewHandler(), consumer)
	return a, func() {}, nil
}
