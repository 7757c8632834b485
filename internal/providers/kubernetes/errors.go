package kubernetes

import (
	"github.com/nitecon/director/internal/core"
)

// wrapK8sError converts a Kubernetes API error into the domain
// ResourceLookupFailed error. A List that matches zero objects is not
// an error at the client-go level either — it returns an empty list,
// not NotFound — so no special-casing is needed here to uphold the
// rule that an empty candidate list is never itself an error.
func wrapK8sError(err error) error {
	if err == nil {
		return nil
	}
	return &core.ErrResourceLookupFailed{Cause: err}
}
