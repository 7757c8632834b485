// Package selector implements the Backend Selector: a pure function
// over an in-memory candidate list plus request/policy configuration.
// It performs no I/O and depends on no cluster client, so it is
// unit-testable without a cluster.
package selector

import (
	"fmt"
	"sort"
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/jsonpath"
)

// Select filters candidates per req, reduces the survivors by policy,
// and extracts the winner's address/port Binding per spec.
func Select(
	candidates []core.Candidate,
	spec core.KindSpec,
	req core.SelectRequest,
	policy core.LBConfig,
	counter core.HostCounter,
) (core.Binding, error) {
	survivors := filterByStatus(candidates, req.StatusQuery)
	survivors = filterByAnnotations(survivors, req.AnnotationSelector)

	if len(survivors) == 0 {
		return core.Binding{}, &core.ErrNoMatch{}
	}

	winner, err := reduce(survivors, spec, policy, counter)
	if err != nil {
		return core.Binding{}, err
	}

	return extractBinding(winner, spec)
}

// filterByStatus keeps candidates whose value at StatusQuery.JSONPath
// equals one of ExpectedValues. A candidate missing the value is
// rejected. A nil query passes every candidate through.
func filterByStatus(candidates []core.Candidate, q *core.StatusQuery) []core.Candidate {
	if q == nil {
		return candidates
	}
	var out []core.Candidate
	for _, c := range candidates {
		value, err := jsonpath.LookupOne(c.Object.Object, q.JSONPath)
		if err != nil {
			continue
		}
		for _, want := range q.ExpectedValues {
			if value == want {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// filterByAnnotations keeps candidates whose metadata annotations
// contain every requested (k, v) pair exactly.
func filterByAnnotations(candidates []core.Candidate, want map[string]string) []core.Candidate {
	if len(want) == 0 {
		return candidates
	}
	var out []core.Candidate
	for _, c := range candidates {
		have := c.Annotations()
		match := true
		for k, v := range want {
			if have[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, c)
		}
	}
	return out
}

// candidateHost pairs a candidate with its extracted host, computed
// once up front so load-balancing policies can compare hosts without
// re-running JSONPath per comparison. A candidate whose address
// cannot be extracted is dropped from load-balancing consideration —
// it cannot be counted or compared.
type candidateHost struct {
	candidate core.Candidate
	host      string
}

func withHosts(candidates []core.Candidate, spec core.KindSpec) []candidateHost {
	var out []candidateHost
	for _, c := range candidates {
		host, err := extractAddress(c, spec)
		if err != nil {
			continue
		}
		out = append(out, candidateHost{candidate: c, host: host})
	}
	return out
}

// reduce applies the configured load-balancing policy to survivors
// and returns the winning candidate.
func reduce(survivors []core.Candidate, spec core.KindSpec, policy core.LBConfig, counter core.HostCounter) (core.Candidate, error) {
	withHost := withHosts(survivors, spec)
	if len(withHost) == 0 {
		return core.Candidate{}, &core.ErrAddressExtractionFailed{Reason: "no surviving candidate has an extractable address"}
	}

	switch policy.Type {
	case core.LabelArithmetic:
		return reduceLabelArithmetic(withHost, policy, counter)
	default:
		return reduceLeastSessions(withHost, counter)
	}
}

// reduceLeastSessions picks the candidate whose host has the fewest
// live sessions. Ties keep the first candidate in input order.
func reduceLeastSessions(candidates []candidateHost, counter core.HostCounter) (core.Candidate, error) {
	best := candidates[0]
	bestCount := counter.CountByHost(best.host)
	for _, c := range candidates[1:] {
		count := counter.CountByHost(c.host)
		if count < bestCount {
			best, bestCount = c, count
		}
	}
	return best.candidate, nil
}

// reduceLabelArithmetic picks the candidate with maximum headroom =
// max - current - active_sessions_to_host - overlap, rejecting any
// candidate whose headroom is not positive. Ties are broken by the
// lowest current.
func reduceLabelArithmetic(candidates []candidateHost, policy core.LBConfig, counter core.HostCounter) (core.Candidate, error) {
	type scored struct {
		candidateHost
		current  int
		headroom int
	}

	var eligible []scored
	for _, c := range candidates {
		labels := c.candidate.Labels()

		maxStr, ok := labels[policy.MaxLabel]
		if !ok {
			continue
		}
		max, err := strconv.Atoi(maxStr)
		if err != nil {
			continue
		}

		current := 0
		if curStr, ok := labels[policy.CurrentLabel]; ok {
			if v, err := strconv.Atoi(curStr); err == nil {
				current = v
			}
		}

		headroom := max - current - counter.CountByHost(c.host) - policy.Overlap
		if headroom <= 0 {
			continue
		}

		eligible = append(eligible, scored{candidateHost: c, current: current, headroom: headroom})
	}

	if len(eligible) == 0 {
		return core.Candidate{}, &core.ErrOvercapacity{}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].headroom != eligible[j].headroom {
			return eligible[i].headroom > eligible[j].headroom
		}
		return eligible[i].current < eligible[j].current
	})

	return eligible[0].candidate, nil
}

// extractBinding builds the winning candidate's Binding: host plus
// every configured named port.
func extractBinding(c core.Candidate, spec core.KindSpec) (core.Binding, error) {
	host, err := extractAddress(c, spec)
	if err != nil {
		return core.Binding{}, err
	}

	ports := make(map[string]int32, len(spec.Ports))
	for _, p := range spec.Ports {
		port, err := extractPort(c, p)
		if err != nil {
			return core.Binding{}, err
		}
		ports[p.Name] = port
	}

	return core.Binding{Host: host, Ports: ports}, nil
}

// extractAddress implements invariant 4: a scalar string at
// AddressPath, or — when AddressType is set — the "address" field of
// the first entry of an address array whose "type" matches.
func extractAddress(c core.Candidate, spec core.KindSpec) (string, error) {
	if spec.AddressType == "" {
		value, err := jsonpath.LookupOne(c.Object.Object, spec.AddressPath)
		if err != nil {
			return "", &core.ErrAddressExtractionFailed{Reason: err.Error()}
		}
		return value, nil
	}

	raw, found, err := unstructured.NestedSlice(c.Object.Object, splitPath(spec.AddressPath)...)
	if err != nil || !found {
		return "", &core.ErrAddressExtractionFailed{Reason: fmt.Sprintf("address path %q: not a list", spec.AddressPath)}
	}
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", m["type"]) == spec.AddressType {
			addr, ok := m["address"].(string)
			if !ok {
				return "", &core.ErrAddressExtractionFailed{Reason: fmt.Sprintf("address entry of type %q missing address field", spec.AddressType)}
			}
			return addr, nil
		}
	}
	return "", &core.ErrAddressExtractionFailed{Reason: fmt.Sprintf("no address entry of type %q", spec.AddressType)}
}

// extractPort implements invariant 5: a named port searched across
// all containers/ports, or a JSONPath-indexed port number.
func extractPort(c core.Candidate, p core.PortSpec) (int32, error) {
	if p.PortPath != "" {
		value, err := jsonpath.LookupOne(c.Object.Object, p.PortPath)
		if err != nil {
			return 0, &core.ErrAddressExtractionFailed{Reason: err.Error()}
		}
		port, err := strconv.Atoi(value)
		if err != nil {
			return 0, &core.ErrAddressExtractionFailed{Reason: fmt.Sprintf("port path %q did not resolve to an integer: %s", p.PortPath, value)}
		}
		return int32(port), nil
	}

	containers, found, err := unstructured.NestedSlice(c.Object.Object, "spec", "containers")
	if err != nil || !found {
		return 0, &core.ErrAddressExtractionFailed{Reason: "spec.containers not found"}
	}
	for _, raw := range containers {
		container, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		containerPorts, _, _ := unstructured.NestedSlice(container, "ports")
		for _, rawPort := range containerPorts {
			portEntry, ok := rawPort.(map[string]any)
			if !ok {
				continue
			}
			if fmt.Sprintf("%v", portEntry["name"]) == p.PortName {
				switch v := portEntry["containerPort"].(type) {
				case int64:
					return int32(v), nil
				case float64:
					return int32(v), nil
				}
			}
		}
	}
	return 0, &core.ErrAddressExtractionFailed{Reason: fmt.Sprintf("named port %q not found", p.PortName)}
}

// splitPath converts a dotted JSONPath-ish field path like
// "status.addresses" into the segment slice NestedSlice expects. It
// only supports plain dotted paths (no array indices), which is all
// AddressType-mode addressPath configurations need since the array
// itself is what's being selected.
func splitPath(path string) []string {
	var segs []string
	cur := ""
	for _, r := range path {
		if r == '.' {
			if cur != "" {
				segs = append(segs, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		segs = append(segs, cur)
	}
	return segs
}
