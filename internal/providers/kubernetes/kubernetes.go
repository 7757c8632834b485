// Package kubernetes provides read-only Kubernetes API access for the
// Resource Adapter. It implements core.DiscoveryClient and
// core.ResourceRepo against a single cluster, reached either directly
// (in-cluster config or KUBECONFIG) or through the reverse tunnel
// exposed by internal/providers/chisel.
package kubernetes

import (
	"net/http"
	"sync"
	"time"

	"k8s.io/client-go/rest"

	"github.com/nitecon/director/internal/core"
)

// clientTimeout bounds every request against the target cluster,
// including the discovery client which does not accept a
// context.Context.
const clientTimeout = 30 * time.Second

// Kubernetes is the shared foundation for discoveryClient and
// resourceRepo. It resolves the configured cluster to a *rest.Config,
// either a static one supplied at startup (direct mode) or one built
// from the tunnel's current address (tunneled mode). The HTTP
// transport is cached and rebuilt only when the tunnel address
// changes.
type Kubernetes struct {
	direct *rest.Config // nil in tunneled mode
	tunnel core.TunnelProvider // nil in direct mode

	mu      sync.Mutex
	address string
	rt      http.RoundTripper
}

// NewDirect returns a Kubernetes helper bound to a fixed *rest.Config,
// for directors running with direct network access to the cluster.
func NewDirect(cfg *rest.Config) *Kubernetes {
	return &Kubernetes{direct: cfg}
}

// NewTunneled returns a Kubernetes helper that resolves the cluster's
// address through tunnel on every request.
func NewTunneled(tunnel core.TunnelProvider) *Kubernetes {
	return &Kubernetes{tunnel: tunnel}
}

// config builds the *rest.Config to use for the next request.
func (k *Kubernetes) config() (*rest.Config, error) {
	if k.direct != nil {
		cfg := rest.CopyConfig(k.direct)
		if cfg.Timeout == 0 {
			cfg.Timeout = clientTimeout
		}
		return cfg, nil
	}

	address, err := k.tunnel.ResolveAddress()
	if err != nil {
		return nil, &core.ErrResourceLookupFailed{Cause: err}
	}

	rt, err := k.roundTripper(address)
	if err != nil {
		return nil, &core.ErrResourceLookupFailed{Cause: err}
	}

	return &rest.Config{
		Host:      address,
		Transport: rt,
		Timeout:   clientTimeout,
	}, nil
}

// roundTripper returns a cached HTTP transport for address, rebuilding
// it (and closing the old one's idle connections) whenever the tunnel
// address changes.
func (k *Kubernetes) roundTripper(address string) (http.RoundTripper, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.rt != nil && k.address == address {
		return k.rt, nil
	}

	if k.rt != nil {
		closeTransport(k.rt)
	}

	rt, err := rest.TransportFor(&rest.Config{Host: address})
	if err != nil {
		return nil, err
	}

	k.address = address
	k.rt = rt
	return rt, nil
}

func closeTransport(rt http.RoundTripper) {
	type idleCloser interface {
		CloseIdleConnections()
	}
	if ic, ok := rt.(idleCloser); ok {
		ic.CloseIdleConnections()
	}
}
