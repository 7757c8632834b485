package kubernetes

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/apiserver/pkg/cel/openapi/resolver"
	"k8s.io/client-go/discovery"
	"k8s.io/kube-openapi/pkg/validation/spec"

	"github.com/nitecon/director/internal/core"
)

// discoveryClient implements core.DiscoveryClient by delegating to the
// target cluster's discovery API.
type discoveryClient struct {
	kubernetes *Kubernetes
}

// NewDiscoveryClient returns a core.DiscoveryClient backed by the
// Kubernetes discovery API.
func NewDiscoveryClient(kubernetes *Kubernetes) core.DiscoveryClient {
	return &discoveryClient{kubernetes: kubernetes}
}

var _ core.DiscoveryClient = (*discoveryClient)(nil)

// LookupResource verifies that the given group/version/resource triple
// exists on the cluster. Used once at startup to validate the
// configured kind map before the process starts serving.
func (d *discoveryClient) LookupResource(ctx context.Context, group, version, resource string) (schema.GroupVersionResource, error) {
	client, err := d.client()
	if err != nil {
		return schema.GroupVersionResource{}, err
	}

	gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: resource}

	resources, err := client.ServerResourcesForGroupVersion(gvr.GroupVersion().String())
	if err != nil {
		return schema.GroupVersionResource{}, wrapK8sError(err)
	}

	for i := range resources.APIResources {
		if resources.APIResources[i].Name == gvr.Resource {
			return gvr, nil
		}
	}
	return schema.GroupVersionResource{}, wrapK8sError(apierrors.NewBadRequest(fmt.Sprintf("unable to recognize resource %s", gvr)))
}

// ServerResources returns the full list of API resources available on
// the cluster.
func (d *discoveryClient) ServerResources(ctx context.Context) ([]*metav1.APIResourceList, error) {
	client, err := d.client()
	if err != nil {
		return nil, err
	}
	_, resources, err := client.ServerGroupsAndResources()
	return resources, wrapK8sError(err)
}

// ResolveSchema fetches the OpenAPI schema for the given GVK, used to
// sanity-check configured address/port JSONPath expressions at
// startup.
func (d *discoveryClient) ResolveSchema(ctx context.Context, group, version, kind string) (*spec.Schema, error) {
	client, err := d.client()
	if err != nil {
		return nil, err
	}

	schemaResolver := &resolver.ClientDiscoveryResolver{Discovery: client}
	gvk := schema.GroupVersionKind{Group: group, Version: version, Kind: kind}
	resolved, err := schemaResolver.ResolveSchema(gvk)
	return resolved, wrapK8sError(err)
}

// ServerVersion returns the cluster's Kubernetes version, used to gate
// kind-map entries with a MinServerVersion.
func (d *discoveryClient) ServerVersion(ctx context.Context) (*version.Info, error) {
	client, err := d.client()
	if err != nil {
		return nil, err
	}
	info, err := client.ServerVersion()
	return info, wrapK8sError(err)
}

// client builds a discovery client from the current *rest.Config.
func (d *discoveryClient) client() (*discovery.DiscoveryClient, error) {
	cfg, err := d.kubernetes.config()
	if err != nil {
		return nil, err
	}
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, wrapK8sError(err)
	}
	return dc, nil
}
