package core

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Candidate is a cluster resource surviving a Resource Adapter query,
// before final selection. It carries the full decoded document so the
// Selector can run JSONPath against arbitrary status fields.
type Candidate struct {
	Object *unstructured.Unstructured
}

// Labels returns the candidate's metadata labels, or nil if unset.
func (c Candidate) Labels() map[string]string {
	return c.Object.GetLabels()
}

// Annotations returns the candidate's metadata annotations, or nil if
// unset.
func (c Candidate) Annotations() map[string]string {
	return c.Object.GetAnnotations()
}

// ResourceRepo abstracts the single operation the control plane needs
// from the cluster resource API: listing candidates of a configured
// kind. The director is read-only against the cluster; no
// create/apply/delete/watch surface is exposed.
type ResourceRepo interface {
	// List returns every resource of gvr in namespace matching
	// labelSelector (server-side equality match). An empty result is
	// not an error.
	List(ctx context.Context, gvr schema.GroupVersionResource, namespace, labelSelector string) ([]Candidate, error)
}
