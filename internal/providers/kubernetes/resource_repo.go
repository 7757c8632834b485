package kubernetes

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/nitecon/director/internal/core"
)

// resourceRepo implements core.ResourceRepo by delegating List calls
// to the Kubernetes dynamic client. This is the only operation the
// Resource Adapter needs: the director is read-only against the
// cluster API.
type resourceRepo struct {
	kubernetes *Kubernetes
}

// NewResourceRepo returns a core.ResourceRepo backed by the Kubernetes
// dynamic API.
func NewResourceRepo(kubernetes *Kubernetes) core.ResourceRepo {
	return &resourceRepo{kubernetes: kubernetes}
}

var _ core.ResourceRepo = (*resourceRepo)(nil)

// List returns every candidate matching gvr/namespace/labelSelector.
// An empty result is not an error.
func (r *resourceRepo) List(ctx context.Context, gvr schema.GroupVersionResource, namespace, labelSelector string) ([]core.Candidate, error) {
	client, err := r.client()
	if err != nil {
		return nil, err
	}

	result, err := client.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, wrapK8sError(err)
	}

	candidates := make([]core.Candidate, 0, len(result.Items))
	for i := range result.Items {
		candidates = append(candidates, core.Candidate{Object: &result.Items[i]})
	}
	return candidates, nil
}

// client builds a dynamic client from the current *rest.Config.
func (r *resourceRepo) client() (*dynamic.DynamicClient, error) {
	cfg, err := r.kubernetes.config()
	if err != nil {
		return nil, err
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, wrapK8sError(err)
	}
	return client, nil
}
