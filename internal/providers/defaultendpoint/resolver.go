// Package defaultendpoint implements core.DefaultResolver: re-running
// the Selector against the static defaultEndpoint configuration
// whenever a data-plane source has no Session and no token was ever
// presented for it.
package defaultendpoint

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/k8slabel"
	"github.com/nitecon/director/internal/queryserver"
	"github.com/nitecon/director/internal/selector"
)

// Resolver implements core.DefaultResolver. A nil request means no
// default endpoint is configured.
type Resolver struct {
	request *core.SelectRequest
	spec    core.KindSpec
	lister  queryserver.CandidateLister
	lb      core.LBConfig
	counter core.HostCounter
}

// New returns a Resolver for the given configuration. kindMap is
// consulted once here, not per-request, since the default endpoint's
// resourceType is fixed at startup.
func New(request *core.SelectRequest, kindMap map[string]core.KindSpec, lister queryserver.CandidateLister, lb core.LBConfig, counter core.HostCounter) (*Resolver, error) {
	if request == nil {
		return &Resolver{}, nil
	}
	spec, ok := kindMap[request.ResourceType]
	if !ok {
		return nil, &core.ErrUnknownResourceType{ResourceType: request.ResourceType}
	}
	return &Resolver{request: request, spec: spec, lister: lister, lb: lb, counter: counter}, nil
}

var _ core.DefaultResolver = (*Resolver)(nil)

// Resolve runs the Selector against the configured default endpoint.
func (r *Resolver) Resolve(ctx context.Context) (core.Binding, bool, error) {
	if r.request == nil {
		return core.Binding{}, false, nil
	}

	candidates, err := r.lister.List(ctx, schema.GroupVersionResource{
		Group: r.spec.Group, Version: r.spec.Version, Resource: r.spec.Resource,
	}, r.request.Namespace, k8slabel.String(r.request.LabelSelector))
	if err != nil {
		return core.Binding{}, true, err
	}

	binding, err := selector.Select(candidates, r.spec, *r.request, r.lb, r.counter)
	if err != nil {
		return core.Binding{}, true, err
	}
	return binding, true, nil
}
