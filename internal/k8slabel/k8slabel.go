// Package k8slabel renders a label-selector map into the equality-only
// comma-joined string form the Kubernetes API expects
// (metav1.ListOptions.LabelSelector).
package k8slabel

// String renders m as "k1=v1,k2=v2,...". The pairs appear in map
// iteration order, which Go randomizes, so the same map with more than
// one pair can render differently between calls. The API server's
// equality matching does not depend on the order; the CandidateCache,
// which keys on this string, may hold the same selector under several
// keys.
func String(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var b []byte
	first := true
	for k, v := range m {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, v...)
	}
	return string(b)
}
