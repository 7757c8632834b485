package core

// StatusQuery is the client-side status predicate from a query
// request: the value at JSONPath must equal one of ExpectedValues.
type StatusQuery struct {
	JSONPath       string
	ExpectedValues []string
}

// SelectRequest carries everything the Backend Selector needs beyond
// the already-fetched candidate list: the client-side filters and
// (for logging/extraction) the kind being selected.
type SelectRequest struct {
	ResourceType       string
	Namespace          string
	LabelSelector      map[string]string
	AnnotationSelector map[string]string
	StatusQuery        *StatusQuery
}

// LoadBalancing names the policy the Selector reduces the surviving
// candidate set with.
type LoadBalancing int

const (
	LeastSessions LoadBalancing = iota
	LabelArithmetic
)

// LBConfig configures the load-balancing policy.
type LBConfig struct {
	Type LoadBalancing
	// CurrentLabel and MaxLabel name the metadata labels
	// label-arithmetic reads "current" and "max" capacity from.
	CurrentLabel string
	MaxLabel string
	// Overlap is the non-negative capacity buffer that guards
	// against races between concurrent director instances.
	Overlap int
}

// PortSpec names one entry of a kind's port-map: either a named
// container/service port (PortName) or a JSONPath-indexed port
// number (PortPath). Exactly one of the two is set.
type PortSpec struct {
	Name     string
	PortName string
	PortPath string
}

// KindSpec is one entry of the static resourceQueryMapping: how to
// query a kind and how to extract its address and ports.
type KindSpec struct {
	Group       string
	Version     string
	Resource    string
	AddressPath string
	// AddressType selects the entry of an address array whose "type"
	// field matches, instead of treating AddressPath as a scalar.
	AddressType string
	Ports       []PortSpec
	// MinServerVersion, if set, is the minimum cluster version
	// (semver) required for this kind to be queried.
	MinServerVersion string
}
