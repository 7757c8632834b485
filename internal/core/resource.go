package core

// ADR: Kubernetes types in the domain layer
//
// This file imports k8s.io/apimachinery and kube-openapi directly into
// the core (domain) layer. In a strict DDD interpretation, domain
// types should be infrastructure-agnostic. But this director's domain
// *is* Kubernetes resource selection: GroupVersionResource, OpenAPI
// Schema, and cluster version are part of its ubiquitous language, not
// incidental infrastructure. Wrapping them in bespoke DTOs would add a
// translation layer with no material benefit.

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/kube-openapi/pkg/validation/spec"
)

// DiscoveryClient abstracts the cluster discovery API used once at
// startup to validate the configured kind-map: every
// resourceQueryMapping entry must name a group/version/resource the
// cluster actually serves.
type DiscoveryClient interface {
	// LookupResource validates that group/version/resource exists on
	// the cluster and returns the normalized GVR.
	LookupResource(ctx context.Context, group, version, resource string) (schema.GroupVersionResource, error)
	// ResolveSchema fetches the OpenAPI schema for a GVK. Startup
	// validation only logs when it fails.
	ResolveSchema(ctx context.Context, group, version, kind string) (*spec.Schema, error)
	// ServerVersion returns the cluster's Kubernetes version, used to
	// gate kind-map entries that require a minimum server version.
	ServerVersion(ctx context.Context) (*version.Info, error)
	// ServerResources returns the full discovery document.
	ServerResources(ctx context.Context) ([]*metav1.APIResourceList, error)
}
