//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/nitecon/director/internal/config"
)

// wireDirector assembles every director-side component via Wire: the
// Kubernetes access mode (direct or tunneled, selecting providePKI and
// the chisel Service along the way), the Query Server, one data plane
// per configured port, and the background janitor sweeps. See
// wire_gen.go for the hand-maintained implementation (this module is
// built without running `wire`); the listener set it builds varies
// with tunnel_mode, which does not fit wire.Build's static graph, so
// that branch is written out by hand there rather than generated.
func wireDirector(conf *config.Config) (*Director, func(), error) {
	panic(wire.Build(
		providePKI,
		provideKubernetes,
	))
}
